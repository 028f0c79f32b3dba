// Package trigger fires the dispatcher and watchdog on cron schedules and
// records each firing in a heartbeat row.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/joshu-sajeev/backfill/internal/metrics"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// releaseTimeout bounds the heartbeat release after a run.
const releaseTimeout = 10 * time.Second

type HeartbeatStore interface {
	Ensure(ctx context.Context, name string, interval time.Duration, now time.Time) error
	Claim(ctx context.Context, name string, now time.Time) (bool, error)
	Release(ctx context.Context, name string, now, next time.Time, lastError string) error
}

type Task func(ctx context.Context) error

type Runner struct {
	cron   *cron.Cron
	parser cron.Parser
	store  HeartbeatStore
	now    func() time.Time
}

func NewRunner(store HeartbeatStore) *Runner {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	logger := cronLogger{}
	return &Runner{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		parser: parser,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register schedules task under name. ctx is handed to every run.
func (r *Runner) Register(ctx context.Context, name, spec string, interval time.Duration, task Task) error {
	sched, err := r.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse schedule %q for %s: %w", spec, name, err)
	}

	if err := r.store.Ensure(ctx, name, interval, r.now()); err != nil {
		return err
	}

	r.cron.Schedule(sched, cron.FuncJob(func() {
		if _, err := r.Fire(ctx, name, sched, task); err != nil {
			log.Error().Err(err).Str("trigger", name).Msg("Trigger run failed")
		}
	}))

	log.Info().Str("trigger", name).Str("schedule", spec).Msg("Trigger registered")
	return nil
}

// Fire runs task if the heartbeat for name is due and idle. It reports
// whether the task ran; the task's error is returned and recorded.
func (r *Runner) Fire(ctx context.Context, name string, sched cron.Schedule, task Task) (bool, error) {
	started := r.now()

	ok, err := r.store.Claim(ctx, name, started)
	if err != nil {
		metrics.TriggerRuns.WithLabelValues(name, "error").Inc()
		return false, err
	}
	if !ok {
		metrics.TriggerRuns.WithLabelValues(name, "skipped").Inc()
		log.Debug().Str("trigger", name).Msg("Trigger not due or already running")
		return false, nil
	}

	runErr := task(ctx)

	lastError := ""
	result := "ok"
	if runErr != nil {
		lastError = runErr.Error()
		result = "error"
	}
	metrics.TriggerRuns.WithLabelValues(name, result).Inc()

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := r.store.Release(rctx, name, r.now(), sched.Next(started), lastError); err != nil {
		log.Error().Err(err).Str("trigger", name).Msg("Failed to release trigger heartbeat")
	}

	return true, runErr
}

func (r *Runner) Start() {
	r.cron.Start()
}

// Stop stops scheduling and returns a context that is done once running
// tasks have finished.
func (r *Runner) Stop() context.Context {
	return r.cron.Stop()
}

// cronLogger routes robfig/cron's logging to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

// Package watchdog repairs state left behind by crashed or timed-out
// invocations. Plan decides what to fix from a snapshot; Watchdog applies it.
package watchdog

import (
	"fmt"
	"sort"
	"time"

	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/models"
)

type Thresholds struct {
	StuckChunk     time.Duration
	StuckJob       time.Duration
	StaleHeartbeat time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		StuckChunk:     30 * time.Minute,
		StuckJob:       60 * time.Minute,
		StaleHeartbeat: 15 * time.Minute,
	}
}

// Snapshot is the state a watchdog pass reasons about.
type Snapshot struct {
	// ProcessingChunks may include chunks that are not yet stuck.
	ProcessingChunks []models.Chunk
	// RunningJobChunks holds every chunk of every running job.
	RunningJobChunks []models.Chunk
	// ChunklessJobs are running jobs that own no chunk rows at all.
	ChunklessJobs []models.Job
	// Heartbeat is the dispatcher trigger's heartbeat, nil if never recorded.
	Heartbeat *models.TriggerHeartbeat
	// ClaimableChunks counts pending and retrying chunks.
	ClaimableChunks int64
}

type ActionKind string

const (
	ActionRequeueChunk   ActionKind = "requeue_chunk"
	ActionFailChunk      ActionKind = "fail_chunk"
	ActionRefreshJob     ActionKind = "refresh_job"
	ActionResetHeartbeat ActionKind = "reset_heartbeat"
)

// Action is one corrective write. Chunk actions carry the attempt they
// observed so they only apply to the claim that got stuck.
type Action struct {
	Kind    ActionKind
	ChunkID uint
	JobID   uint
	Attempt int
	Updates map[string]any

	Heartbeat       string
	ObservedNextRun time.Time

	Reason string
}

// Plan is free of side effects. Chunk actions come first, then job refreshes,
// then the heartbeat reset.
func Plan(s Snapshot, now time.Time, th Thresholds) []Action {
	var actions []Action
	refresh := make(map[uint]string)

	for _, c := range s.ProcessingChunks {
		if c.Status != config.ChunkStatusProcessing || c.StartedAt == nil {
			continue
		}
		age := now.Sub(*c.StartedAt)
		if age <= th.StuckChunk {
			continue
		}

		if c.AttemptsExhausted() {
			actions = append(actions, Action{
				Kind:    ActionFailChunk,
				ChunkID: c.ID,
				JobID:   c.JobID,
				Attempt: c.AttemptCount,
				Updates: map[string]any{
					"status":        config.ChunkStatusFailed,
					"completed_at":  now,
					"next_retry_at": nil,
					"error_message": "timed out, max retries exceeded",
				},
				Reason: fmt.Sprintf("processing for %s", age.Round(time.Second)),
			})
			refresh[c.JobID] = "chunk failed by watchdog"
			continue
		}

		msg := fmt.Sprintf("recovered by watchdog after processing for %s (attempt %d of %d)",
			age.Round(time.Second), c.AttemptCount, c.MaxAttempts)
		if c.ErrorMessage != "" {
			msg += "; previous error: " + c.ErrorMessage
		}
		actions = append(actions, Action{
			Kind:    ActionRequeueChunk,
			ChunkID: c.ID,
			JobID:   c.JobID,
			Attempt: c.AttemptCount,
			Updates: map[string]any{
				"status":        config.ChunkStatusPending,
				"next_retry_at": now,
				"error_message": msg,
			},
			Reason: fmt.Sprintf("processing for %s", age.Round(time.Second)),
		})
	}

	for jobID, reason := range stuckJobs(s.RunningJobChunks, now, th.StuckJob) {
		if _, ok := refresh[jobID]; !ok {
			refresh[jobID] = reason
		}
	}
	for _, j := range s.ChunklessJobs {
		idle := now.Sub(j.UpdatedAt)
		if _, ok := refresh[j.ID]; !ok && idle > th.StuckJob {
			refresh[j.ID] = fmt.Sprintf("no chunks, idle for %s", idle.Round(time.Second))
		}
	}

	jobIDs := make([]uint, 0, len(refresh))
	for id := range refresh {
		jobIDs = append(jobIDs, id)
	}
	sort.Slice(jobIDs, func(i, j int) bool { return jobIDs[i] < jobIDs[j] })
	for _, id := range jobIDs {
		actions = append(actions, Action{Kind: ActionRefreshJob, JobID: id, Reason: refresh[id]})
	}

	if hb := s.Heartbeat; hb != nil && s.ClaimableChunks > 0 && hb.NextRunAt.Before(now.Add(-th.StaleHeartbeat)) {
		actions = append(actions, Action{
			Kind:            ActionResetHeartbeat,
			Heartbeat:       hb.Name,
			ObservedNextRun: hb.NextRunAt,
			Reason:          fmt.Sprintf("next run overdue by %s", now.Sub(hb.NextRunAt).Round(time.Second)),
		})
	}

	return actions
}

// stuckJobs returns running jobs whose chunks are all terminal and quiet for
// longer than threshold.
func stuckJobs(chunks []models.Chunk, now time.Time, threshold time.Duration) map[uint]string {
	type state struct {
		allTerminal  bool
		lastActivity time.Time
	}
	jobs := make(map[uint]*state)

	for _, c := range chunks {
		st, ok := jobs[c.JobID]
		if !ok {
			st = &state{allTerminal: true}
			jobs[c.JobID] = st
		}
		if !c.Status.IsTerminal() {
			st.allTerminal = false
		}
		for _, t := range []*time.Time{c.StartedAt, c.CompletedAt, &c.UpdatedAt} {
			if t != nil && t.After(st.lastActivity) {
				st.lastActivity = *t
			}
		}
	}

	out := make(map[uint]string)
	for jobID, st := range jobs {
		if st.allTerminal && now.Sub(st.lastActivity) > threshold {
			out[jobID] = fmt.Sprintf("all chunks terminal, idle for %s", now.Sub(st.lastActivity).Round(time.Second))
		}
	}
	return out
}

// Package pool bounds how many chunk pipelines run at once inside one
// invocation.
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Go blocks until a slot is free and then runs task on its own goroutine.
// It returns ctx's error if ctx ends first; task is not run in that case.
// A panicking task is logged and its slot released.
func (p *Pool) Go(ctx context.Context, name string, task func(ctx context.Context)) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire slot for %s: %w", name, err)
	}
	p.wg.Add(1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("task", name).Interface("panic", r).Msg("Task panicked")
			}
			p.sem.Release(1)
			p.wg.Done()
		}()
		task(ctx)
	}()
	return nil
}

// Wait blocks until every started task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

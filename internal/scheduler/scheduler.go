// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package scheduler triggers recurring sync work. The interface is platform
// shaped: a desktop build uses the ticker implementation, a mobile build can
// substitute an OS job scheduler without touching the engine.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTaskNotFound is returned by Cancel for an unknown or finished task.
var ErrTaskNotFound = errors.New("scheduled task not found")

// TaskID names a scheduled task for cancellation.
type TaskID string

// Constraints describe when a task should run. RequiresNetwork is advisory
// for implementations that cannot observe connectivity; the ticker runs the
// task regardless and relies on the task's own retry handling.
type Constraints struct {
	Interval        time.Duration
	RequiresNetwork bool
}

// Task is the unit of scheduled work. Errors are the task's own concern;
// the scheduler keeps firing regardless.
type Task func(ctx context.Context)

// Scheduler runs tasks on a recurring trigger.
type Scheduler interface {
	Schedule(ctx context.Context, task Task, c Constraints) (TaskID, error)
	Cancel(id TaskID) error
}

// TickerScheduler fires each task on its own time.Ticker. Stop cancels all
// tasks and waits for in-flight runs to return.
type TickerScheduler struct {
	mu    sync.Mutex
	tasks map[TaskID]context.CancelFunc
	wg    sync.WaitGroup
}

// NewTicker returns an empty ticker scheduler.
func NewTicker() *TickerScheduler {
	return &TickerScheduler{tasks: make(map[TaskID]context.CancelFunc)}
}

// Schedule implements Scheduler. A non-positive interval defaults to
// 5 minutes. The task stops when ctx is cancelled, Cancel is called with
// its ID, or Stop is called.
func (s *TickerScheduler) Schedule(ctx context.Context, task Task, c Constraints) (TaskID, error) {
	if task == nil {
		return "", errors.New("nil task")
	}
	interval := c.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	id := TaskID(uuid.NewString())
	taskCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.tasks[id] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.remove(id)

		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-taskCtx.Done():
				return
			case <-t.C:
				task(taskCtx)
			}
		}
	}()

	return id, nil
}

// Cancel implements Scheduler.
func (s *TickerScheduler) Cancel(id TaskID) error {
	s.mu.Lock()
	cancel, ok := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()

	if !ok {
		return ErrTaskNotFound
	}
	cancel()
	return nil
}

// Stop cancels every task and blocks until all task goroutines have exited.
// Safe to call with nothing scheduled.
func (s *TickerScheduler) Stop() {
	s.mu.Lock()
	for id, cancel := range s.tasks {
		cancel()
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *TickerScheduler) remove(id TaskID) {
	s.mu.Lock()
	if cancel, ok := s.tasks[id]; ok {
		cancel()
		delete(s.tasks, id)
	}
	s.mu.Unlock()
}

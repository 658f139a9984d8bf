// Package scheduler runs at most one periodic task per conversation.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is how often a conversation ticks.
const DefaultInterval = time.Second

// TickFunc is invoked on every tick. ctx is cancelled once the task is stopped.
type TickFunc func(ctx context.Context)

type entry struct {
	cancel context.CancelFunc
}

// Scheduler owns the periodic tasks of all conversations. The zero value isn't
// usable, create it with New.
type Scheduler struct {
	interval time.Duration
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
	started int64 // number of tasks ever started

	wg sync.WaitGroup
}

func New(interval time.Duration, l *zap.SugaredLogger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Scheduler{
		interval: interval,
		logger:   l,
		entries:  make(map[string]*entry),
	}
}

// EnsureStarted starts a task calling fn every interval unless a task for key
// is already running. It reports whether a new task was started.
func (s *Scheduler) EnsureStarted(key string, fn TickFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	if _, ok := s.entries[key]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.entries[key] = &entry{cancel: cancel}
	s.started++

	s.wg.Add(1)
	go s.run(ctx, key, fn)

	s.logger.Debugw("ticking started", "key", key)
	return true
}

// Stop cancels the task of key. It's a no-op if there's no task. Stop doesn't
// wait for the task to exit, so it's safe to call from fn.
func (s *Scheduler) Stop(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}

	delete(s.entries, key)
	e.cancel()

	s.logger.Debugw("ticking stopped", "key", key)
	return true
}

// Active reports whether key has a running task.
func (s *Scheduler) Active(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[key]
	return ok
}

// Len returns the number of running tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Shutdown stops all tasks and waits until they exit. The scheduler doesn't
// start new tasks afterwards.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	n := len(s.entries)
	for key, e := range s.entries {
		e.cancel()
		delete(s.entries, key)
	}
	s.mu.Unlock()

	s.logger.Infof("stopping %d conversation(s)", n)
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, key string, fn TickFunc) {
	defer s.wg.Done()

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			// both channels may be ready at once
			if ctx.Err() != nil {
				return
			}
			fn(ctx)
		}
	}
}

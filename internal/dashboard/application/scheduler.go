package application

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// DefaultInterval is the pause between refresh cycles.
const DefaultInterval = 300 * time.Second

// SchedulerState is the scheduler's lifecycle state.
type SchedulerState int32

const (
	StateIdle SchedulerState = iota
	StateRunning
)

func (s SchedulerState) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// CycleRunner executes one refresh cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) CycleReport
}

// Scheduler drives refresh cycles until its context ends.
type Scheduler struct {
	runner    CycleRunner
	interval  time.Duration
	after     func(time.Duration) <-chan time.Time
	maxCycles int
	logger    *log.Logger

	state  atomic.Int32
	cycles atomic.Int64
}

// NewScheduler constructs a Scheduler.
func NewScheduler(runner CycleRunner, interval time.Duration, logger *log.Logger, opts ...SchedulerOption) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Scheduler{
		runner:   runner,
		interval: interval,
		after:    time.After,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs a cycle immediately, then one per interval. It returns when ctx
// is cancelled or the cycle limit is reached.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.runner == nil {
		return
	}
	if s.logger != nil {
		s.logger.Printf("refresh scheduler started: interval=%s", s.interval)
	}
	for {
		if ctx.Err() != nil {
			return
		}
		s.state.Store(int32(StateRunning))
		s.runner.RunCycle(ctx)
		s.state.Store(int32(StateIdle))

		done := s.cycles.Add(1)
		if s.maxCycles > 0 && done >= int64(s.maxCycles) {
			return
		}

		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.Printf("refresh scheduler stopped: cycles=%d", done)
			}
			return
		case <-s.after(s.interval):
		}
	}
}

// State reports whether a cycle is in progress.
func (s *Scheduler) State() SchedulerState {
	return SchedulerState(s.state.Load())
}

// Cycles returns the number of completed cycles.
func (s *Scheduler) Cycles() int64 {
	return s.cycles.Load()
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTimer replaces time.After, letting tests step the loop.
func WithTimer(after func(time.Duration) <-chan time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if after != nil {
			s.after = after
		}
	}
}

// WithMaxCycles stops the scheduler after n cycles; zero means no limit.
func WithMaxCycles(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxCycles = n
		}
	}
}

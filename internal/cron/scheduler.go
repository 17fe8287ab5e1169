// Package cron runs configured prompts on a schedule. Each job is a cron
// expression plus a prompt; firing a job hands the prompt to the injected
// runner, which owns session resolution and the actual agent turn.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Job is one scheduled prompt.
type Job struct {
	Name     string
	Schedule string
	Prompt   string
	Session  string
}

// Runner executes a fired job. Errors are logged, not fatal to the
// scheduler.
type Runner func(ctx context.Context, job Job) error

// Scheduler fires jobs at their cron times. One goroutine per job; a job
// never overlaps itself because the next tick is computed only after the
// previous run returns.
type Scheduler struct {
	jobs   []Job
	runner Runner
	log    *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

func New(jobs []Job, runner Runner, log *slog.Logger) (*Scheduler, error) {
	g := gronx.New()
	for _, j := range jobs {
		if j.Name == "" {
			return nil, fmt.Errorf("cron job without name")
		}
		if !g.IsValid(j.Schedule) {
			return nil, fmt.Errorf("cron job %s: invalid schedule %q", j.Name, j.Schedule)
		}
		if j.Prompt == "" {
			return nil, fmt.Errorf("cron job %s: empty prompt", j.Name)
		}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		jobs:    jobs,
		runner:  runner,
		log:     log,
		running: make(map[string]bool),
	}, nil
}

// Start blocks until ctx is cancelled, firing jobs as they come due.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			s.runLoop(ctx, j)
		}(job)
	}
	wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, job Job) {
	for {
		next, err := gronx.NextTickAfter(job.Schedule, time.Now(), false)
		if err != nil {
			s.log.Error("cron next tick failed", "job", job.Name, "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.fire(ctx, job)
	}
}

// Fire runs a job immediately, outside its schedule. Used by hosts that
// expose a manual trigger. Returns false if the job is already running.
func (s *Scheduler) Fire(ctx context.Context, name string) (bool, error) {
	for _, j := range s.jobs {
		if j.Name == name {
			return s.fire(ctx, j), nil
		}
	}
	return false, fmt.Errorf("unknown cron job %q", name)
}

func (s *Scheduler) fire(ctx context.Context, job Job) bool {
	s.mu.Lock()
	if s.running[job.Name] {
		s.mu.Unlock()
		s.log.Warn("cron job still running, skipping tick", "job", job.Name)
		return false
	}
	s.running[job.Name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, job.Name)
		s.mu.Unlock()
	}()

	start := time.Now()
	s.log.Info("cron job firing", "job", job.Name)
	if err := s.runner(ctx, job); err != nil {
		s.log.Error("cron job failed", "job", job.Name, "error", err, "elapsed", time.Since(start))
		return true
	}
	s.log.Info("cron job done", "job", job.Name, "elapsed", time.Since(start))
	return true
}

// Jobs returns the configured jobs.
func (s *Scheduler) Jobs() []Job { return s.jobs }

// Package scheduler publishes telemetry and action requests to the fleet on
// interval, cron or daily schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// Scheduler manages all scheduled jobs
type Scheduler struct {
	jobs    map[string]*Job
	runners map[string]*JobRunner
	sender  Sender
	logger  *slog.Logger
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// Stats summarizes scheduler activity.
type Stats struct {
	TotalJobs   int   `json:"total_jobs"`
	ActiveJobs  int   `json:"active_jobs"`
	RunningJobs int   `json:"running_jobs"`
	TotalRuns   int64 `json:"total_runs"`
	TotalErrors int64 `json:"total_errors"`
}

// NewScheduler creates a new scheduler
func NewScheduler(sender Sender, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		jobs:    make(map[string]*Job),
		runners: make(map[string]*JobRunner),
		sender:  sender,
		logger:  logger.With("component", "scheduler"),
	}
}

// Start starts a runner for every enabled job
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("starting scheduler", "jobs", len(s.jobs))

	for id, job := range s.jobs {
		if !job.Enabled {
			s.logger.Debug("skipping disabled job", "job", id)
			continue
		}
		s.startRunner(job)
	}

	s.logger.Info("scheduler started", "active_jobs", len(s.runners))
	return nil
}

// startRunner must be called with s.mu held.
func (s *Scheduler) startRunner(job *Job) {
	runner := NewJobRunner(job, s.sender, s.logger)
	s.runners[job.ID] = runner
	go runner.Start(s.ctx)
}

// Stop stops all job runners
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("stopping scheduler")

	if s.cancel != nil {
		s.cancel()
	}
	for id, runner := range s.runners {
		runner.Stop()
		s.logger.Debug("stopped job runner", "job", id)
	}

	s.runners = make(map[string]*JobRunner)
	s.ctx = nil
	s.logger.Info("scheduler stopped")
}

// AddJob adds a new job to the scheduler
func (s *Scheduler) AddJob(job *Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job with ID %s already exists", job.ID)
	}
	s.jobs[job.ID] = job

	if s.ctx != nil && job.Enabled {
		s.startRunner(job)
		s.logger.Info("job added and started", "job", job.ID)
	} else {
		s.logger.Info("job added", "job", job.ID, "enabled", job.Enabled)
	}
	return nil
}

// RemoveJob removes a job from the scheduler
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	if runner, exists := s.runners[id]; exists {
		runner.Stop()
		delete(s.runners, id)
	}

	delete(s.jobs, id)
	s.logger.Info("job removed", "job", id)
	return nil
}

// GetJob retrieves a copy of a job by ID
func (s *Scheduler) GetJob(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.Clone(), nil
}

// ListJobs returns copies of all jobs ordered by ID
func (s *Scheduler) ListJobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
	return jobs
}

// RunJobNow publishes a job's request immediately, bypassing its schedule,
// and returns the error of that run.
func (s *Scheduler) RunJobNow(ctx context.Context, id string) error {
	s.mu.RLock()
	job, exists := s.jobs[id]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	runner := NewJobRunner(job, s.sender, s.logger)
	runner.executeJob(ctx)

	if msg := job.Snapshot().LastError; msg != "" {
		return errors.New(msg)
	}
	return nil
}

// LoadJobs loads copies of jobs from configuration, skipping invalid ones.
// The caller's jobs are never mutated by runs.
func (s *Scheduler) LoadJobs(jobs []*Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range jobs {
		if job == nil {
			continue
		}
		if err := job.Validate(); err != nil {
			s.logger.Warn("invalid job in config, skipping",
				"job", job.ID,
				"error", err)
			continue
		}

		s.jobs[job.ID] = job.Clone()
		s.logger.Debug("loaded job from config", "job", job.ID)
	}

	s.logger.Info("jobs loaded", "count", len(s.jobs))
	return nil
}

// ReplaceJobs swaps the job set for copies of jobs, used on config reload. Runners of
// the old set are stopped; if the scheduler is running the new enabled jobs
// start immediately.
func (s *Scheduler) ReplaceJobs(jobs []*Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, runner := range s.runners {
		runner.Stop()
		delete(s.runners, id)
	}
	s.jobs = make(map[string]*Job, len(jobs))

	for _, job := range jobs {
		if job == nil {
			continue
		}
		if err := job.Validate(); err != nil {
			s.logger.Warn("invalid job in config, skipping", "job", job.ID, "error", err)
			continue
		}
		own := job.Clone()
		s.jobs[own.ID] = own
		if s.ctx != nil && own.Enabled {
			s.startRunner(own)
		}
	}

	s.logger.Info("jobs replaced", "count", len(s.jobs), "running", len(s.runners))
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{TotalJobs: len(s.jobs), RunningJobs: len(s.runners)}
	for _, job := range s.jobs {
		state := job.Snapshot()
		st.TotalRuns += state.RunCount
		st.TotalErrors += state.ErrorCount
		if job.Enabled {
			st.ActiveJobs++
		}
	}
	return st
}

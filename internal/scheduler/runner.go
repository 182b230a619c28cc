package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clawinfra/pilink/internal/gateway"
	"github.com/clawinfra/pilink/internal/types"
)

// Sender publishes requests to the fleet. *gateway.Gateway satisfies it.
type Sender interface {
	SendAction(ctx context.Context, req types.ActionRequest) (*gateway.PublishResult, error)
	SendTelemetry(ctx context.Context, req types.TelemetryRequest) (*gateway.PublishResult, error)
}

// JobRunner executes a single job on schedule
type JobRunner struct {
	job    *Job
	sender Sender
	logger *slog.Logger
	// checkEvery is how often cron and at schedules are re-evaluated.
	checkEvery time.Duration
	now        func() time.Time
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewJobRunner creates a new job runner
func NewJobRunner(job *Job, sender Sender, log *slog.Logger) *JobRunner {
	if log == nil {
		log = slog.Default()
	}
	return &JobRunner{
		job:        job,
		sender:     sender,
		logger:     log.With("job", job.ID),
		checkEvery: time.Minute,
		now:        time.Now,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins executing the job on schedule
func (r *JobRunner) Start(ctx context.Context) {
	defer close(r.doneCh)

	if !r.job.Enabled {
		r.logger.Debug("job disabled, not starting")
		return
	}

	nextRun, err := r.job.NextRun(r.now())
	if err != nil {
		r.logger.Error("failed to calculate next run", "error", err)
		return
	}
	r.job.updateState(func(s *JobState) { s.NextRunAt = nextRun })

	r.logger.Info("job runner started", "next_run", nextRun.Format(time.RFC3339))

	tick := r.checkEvery
	if r.job.Schedule.Kind == "interval" {
		tick = time.Duration(r.job.Schedule.IntervalMs) * time.Millisecond
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopped (context cancelled)")
			return
		case <-r.stopCh:
			r.logger.Info("job runner stopped")
			return
		case <-ticker.C:
			now := r.now()
			if r.job.Schedule.Kind != "interval" && now.Before(r.job.Snapshot().NextRunAt) {
				continue
			}

			r.executeJob(ctx)

			nextRun, err := r.job.NextRun(r.now())
			if err != nil {
				r.logger.Error("failed to calculate next run", "error", err)
				continue
			}
			r.job.updateState(func(s *JobState) { s.NextRunAt = nextRun })
			r.logger.Debug("next run scheduled", "next_run", nextRun.Format(time.RFC3339))
		}
	}
}

// Stop stops the job runner
func (r *JobRunner) Stop() {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	<-r.doneCh
}

// executeJob publishes the job's request once
func (r *JobRunner) executeJob(ctx context.Context) {
	start := time.Now()
	r.logger.Info("executing job", "request", r.job.Request.Kind)

	res, err := r.publish(ctx)
	duration := time.Since(start)

	r.job.updateState(func(s *JobState) {
		s.LastRunAt = r.now()
		s.LastDuration = duration
		s.RunCount++
		if err != nil {
			s.ErrorCount++
			s.LastError = err.Error()
			return
		}
		s.LastError = ""
		s.LastMessageID = res.MessageID
	})

	state := r.job.Snapshot()
	if err != nil {
		r.logger.Error("job failed",
			"error", err,
			"kind", types.KindOf(err),
			"duration", duration,
			"run_count", state.RunCount,
			"error_count", state.ErrorCount)
		return
	}
	r.logger.Info("job completed",
		"message_id", res.MessageID,
		"duration", duration,
		"run_count", state.RunCount)
}

func (r *JobRunner) publish(ctx context.Context) (*gateway.PublishResult, error) {
	if r.sender == nil {
		return nil, fmt.Errorf("sender not set (cannot publish %s request)", r.job.Request.Kind)
	}

	req := r.job.Request
	switch req.Kind {
	case RequestTelemetry:
		window, err := req.window()
		if err != nil {
			return nil, err
		}
		end := r.now().UTC()
		return r.sender.SendTelemetry(ctx, types.TelemetryRequest{
			SensorKey: req.SensorKey,
			StartDate: end.Add(-window).Format(time.RFC3339),
			EndDate:   end.Format(time.RFC3339),
		})
	case RequestAction:
		return r.sender.SendAction(ctx, types.ActionRequest{
			ActionType: req.ActionType,
			ActionSpec: req.ActionSpec,
		})
	default:
		return nil, fmt.Errorf("unknown request kind: %s", req.Kind)
	}
}

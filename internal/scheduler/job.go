package scheduler

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Request kinds a job can publish.
const (
	RequestTelemetry = "telemetry"
	RequestAction    = "action"
)

// DefaultWindow is the telemetry look-back used when a job sets none.
const DefaultWindow = time.Hour

// Job is a request published to the fleet on a schedule.
type Job struct {
	ID       string         `json:"id" yaml:"id"`
	Name     string         `json:"name" yaml:"name"`
	Schedule ScheduleConfig `json:"schedule" yaml:"schedule"`
	Request  RequestConfig  `json:"request" yaml:"request"`
	Enabled  bool           `json:"enabled" yaml:"enabled"`
	State    JobState       `json:"state" yaml:"-"`

	mu sync.Mutex
}

// ScheduleConfig defines when a job runs
type ScheduleConfig struct {
	Kind       string `json:"kind" yaml:"kind"` // "interval", "cron", "at"
	IntervalMs int64  `json:"intervalMs,omitempty" yaml:"intervalMs,omitempty"`
	Expr       string `json:"expr,omitempty" yaml:"expr,omitempty"` // cron expression
	Time       string `json:"time,omitempty" yaml:"time,omitempty"` // "HH:MM" for daily
	Timezone   string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// RequestConfig defines what a job publishes.
type RequestConfig struct {
	Kind string `json:"kind" yaml:"kind"` // "telemetry", "action"

	SensorKey string `json:"sensorKey,omitempty" yaml:"sensorKey,omitempty"`
	// Window is the telemetry look-back as a Go duration, e.g. "15m".
	Window string `json:"window,omitempty" yaml:"window,omitempty"`

	ActionType string `json:"actionType,omitempty" yaml:"actionType,omitempty"`
	ActionSpec string `json:"actionSpec,omitempty" yaml:"actionSpec,omitempty"`
}

// JobState tracks job execution state
type JobState struct {
	LastRunAt     time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt     time.Time     `json:"nextRunAt,omitempty"`
	RunCount      int64         `json:"runCount"`
	ErrorCount    int64         `json:"errorCount"`
	LastError     string        `json:"lastError,omitempty"`
	LastMessageID string        `json:"lastMessageId,omitempty"`
	LastDuration  time.Duration `json:"lastDuration,omitempty"`
}

// Validate checks if job configuration is valid
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID required")
	}
	if j.Name == "" {
		return fmt.Errorf("job name required")
	}

	switch j.Schedule.Kind {
	case "interval":
		if j.Schedule.IntervalMs <= 0 {
			return fmt.Errorf("intervalMs must be positive")
		}
	case "cron":
		if j.Schedule.Expr == "" {
			return fmt.Errorf("cron expression required")
		}
		if _, err := cron.ParseStandard(j.Schedule.Expr); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	case "at":
		if j.Schedule.Time == "" {
			return fmt.Errorf("time required for 'at' schedule")
		}
		if _, err := time.Parse("15:04", j.Schedule.Time); err != nil {
			return fmt.Errorf("invalid time format (use HH:MM): %w", err)
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s (use interval, cron, or at)", j.Schedule.Kind)
	}

	switch j.Request.Kind {
	case RequestTelemetry:
		if strings.TrimSpace(j.Request.SensorKey) == "" {
			return fmt.Errorf("sensorKey required for telemetry request")
		}
		if _, err := j.Request.window(); err != nil {
			return err
		}
	case RequestAction:
		if strings.TrimSpace(j.Request.ActionType) == "" {
			return fmt.Errorf("actionType required for action request")
		}
		if strings.TrimSpace(j.Request.ActionSpec) == "" {
			return fmt.Errorf("actionSpec required for action request")
		}
	default:
		return fmt.Errorf("unknown request kind: %s (use telemetry or action)", j.Request.Kind)
	}

	return nil
}

func (r RequestConfig) window() (time.Duration, error) {
	if r.Window == "" {
		return DefaultWindow, nil
	}
	d, err := time.ParseDuration(r.Window)
	if err != nil {
		return 0, fmt.Errorf("invalid window: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("window must be positive")
	}
	return d, nil
}

// NextRun calculates the next run time based on schedule
func (j *Job) NextRun(from time.Time) (time.Time, error) {
	switch j.Schedule.Kind {
	case "interval":
		interval := time.Duration(j.Schedule.IntervalMs) * time.Millisecond
		return from.Add(interval), nil

	case "cron":
		schedule, err := cron.ParseStandard(j.Schedule.Expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron: %w", err)
		}
		return schedule.Next(from), nil

	case "at":
		t, err := time.Parse("15:04", j.Schedule.Time)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse time: %w", err)
		}

		loc := time.Local
		if j.Schedule.Timezone != "" {
			loc, err = time.LoadLocation(j.Schedule.Timezone)
			if err != nil {
				return time.Time{}, fmt.Errorf("load timezone: %w", err)
			}
		}

		local := from.In(loc)
		next := time.Date(local.Year(), local.Month(), local.Day(),
			t.Hour(), t.Minute(), 0, 0, loc)

		// already passed today
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", j.Schedule.Kind)
	}
}

// Snapshot returns the current state.
func (j *Job) Snapshot() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.State
}

func (j *Job) updateState(fn func(*JobState)) {
	j.mu.Lock()
	fn(&j.State)
	j.mu.Unlock()
}

// Clone creates a deep copy of the job
func (j *Job) Clone() *Job {
	j.mu.Lock()
	data, _ := json.Marshal(j)
	j.mu.Unlock()

	var clone Job
	_ = json.Unmarshal(data, &clone)
	return &clone
}

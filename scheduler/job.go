package scheduler

import (
	"context"
	"encoding/json"
	"time"
)

// JobState is the lifecycle state of a Job
type JobState int

const (
	// StateScheduled jobs have an armed trigger
	StateScheduled JobState = iota
	// StateDestroyed jobs are disarmed and discarded
	StateDestroyed
)

func (s JobState) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Definition names one trigger of the canonical job set
type Definition struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"` // 5-field cron expression
}

// DefaultDefinitions returns the canonical morning/afternoon pair.
func DefaultDefinitions(morning, afternoon string) []Definition {
	return []Definition{
		{Name: TriggerMorning, Schedule: morning},
		{Name: TriggerAfternoon, Schedule: afternoon},
	}
}

// Job is one armed trigger bound to the refresh action. Jobs are only ever
// built already armed and are never reused once destroyed.
type Job struct {
	ID       int
	Name     string
	Schedule string

	state      JobState
	handle     Handle
	generation uint64
	ctx        context.Context
}

// State returns the job's lifecycle state
func (j *Job) State() JobState {
	return j.state
}

// JobStatus is the read-only view of a Job
type JobStatus struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Running   bool       `json:"running"`
	Destroyed bool       `json:"destroyed"`
	NextRun   *time.Time `json:"nextRun,omitempty"`
}

// StatusReport lists the current job set
type StatusReport struct {
	Jobs      []JobStatus `json:"jobs"`
	TotalJobs int         `json:"totalJobs"`
}

// StartResult describes what a Start armed
type StartResult struct {
	Schedules []Definition `json:"schedules"`
	Timezone  string       `json:"timezone"`
}

// Outcome is what the refresh action reports on success or failure
type Outcome struct {
	StatusCode int             `json:"statusCode,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Action is the refresh callback. A non-nil error means the refresh failed.
type Action func(ctx context.Context) (*Outcome, error)

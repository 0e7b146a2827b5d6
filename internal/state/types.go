// Package state holds the deployment history model: the append-only
// deployment record, its status state machine, and the store that
// persists it.
package state

import (
	"fmt"
	"time"

	"github.com/caravel-sh/caravel/pkg/config"
)

// Status is the lifecycle state of a deployment record. It only advances
// forward; no record is mutated after reaching a terminal status except to
// add a rollback back-reference.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailure    Status = "failure"
	StatusCancelled  Status = "cancelled"
	StatusRolledBack Status = "rolled_back"
)

// Terminal reports whether the status ends the deployment's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusCancelled, StatusRolledBack:
		return true
	case StatusPending, StatusInProgress:
		return false
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from s
// to next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress || next == StatusCancelled
	case StatusInProgress:
		return next == StatusSuccess || next == StatusFailure || next == StatusCancelled
	case StatusFailure:
		// A failed deployment is marked rolled back once its rollback
		// deployment completes.
		return next == StatusRolledBack
	case StatusSuccess, StatusCancelled, StatusRolledBack:
		return false
	}
	return false
}

// LogEntry is one timestamped log line of a deployment.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Deployment is one attempt to move one environment to one image tag.
// Records are append-only history: they are never deleted, and their log
// list only grows.
type Deployment struct {
	ID     string                  `json:"id"`
	Config config.DeploymentConfig `json:"config"`
	Status Status                  `json:"status"`

	StartTime time.Time     `json:"startTime"`
	EndTime   *time.Time    `json:"endTime,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`

	Version    string `json:"version"`
	CommitHash string `json:"commitHash,omitempty"`
	BuildID    string `json:"buildId,omitempty"`

	Logs  []LogEntry `json:"logs"`
	Error string     `json:"error,omitempty"`

	// RollbackDeploymentID references (not owns) the deployment created in
	// response to this one's failure.
	RollbackDeploymentID string `json:"rollbackDeploymentId,omitempty"`
}

// AppendLog adds a timestamped line to the deployment's log.
func (d *Deployment) AppendLog(message string) LogEntry {
	entry := LogEntry{Time: time.Now(), Message: message}
	d.Logs = append(d.Logs, entry)
	return entry
}

// Finish stamps the end time and derives the duration.
func (d *Deployment) Finish(at time.Time) {
	d.EndTime = &at
	d.Duration = at.Sub(d.StartTime)
}

// HistoryOptions filters deployment history queries.
type HistoryOptions struct {
	Environment config.Environment
	Status      Status
	Limit       int
}

// FormatID shortens a deployment ID for display.
func FormatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// FormatDuration renders a duration for display.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

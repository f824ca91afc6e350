package domain

import (
	"fmt"
	"time"
)

// =============================================================================
// Publish History
// =============================================================================

// RunStatus is the outcome of a publish run or of one of its stages.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSkipped   RunStatus = "skipped"
)

// IsTerminal reports whether the status ends a run.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// PublishRun is one orchestration call as recorded in the history.
type PublishRun struct {
	ID         string
	Target     string // Instance name or tenant/environment
	TargetKind TargetKind
	Transport  TransportKind
	Packages   int
	Status     RunStatus
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// NewPublishRun creates a running history record.
func NewPublishRun(id string, target Target, packages int, now time.Time) *PublishRun {
	return &PublishRun{
		ID:         id,
		Target:     TargetLabel(target),
		TargetKind: target.Kind(),
		Packages:   packages,
		Status:     RunStatusRunning,
		StartedAt:  now,
	}
}

// Finish marks the run as finished. A nil err means success.
func (r *PublishRun) Finish(err error, now time.Time) {
	r.FinishedAt = &now
	if err != nil {
		r.Status = RunStatusFailed
		r.Error = err.Error()
		return
	}
	r.Status = RunStatusSucceeded
}

// StageRecord is the outcome of one stage of one package within a run.
type StageRecord struct {
	ID         int64
	RunID      string
	Package    string
	Stage      Stage
	Status     RunStatus
	Message    string
	RecordedAt time.Time
}

// TargetLabel names a target for logs and history.
func TargetLabel(t Target) string {
	switch {
	case t.Cloud != nil:
		if t.Cloud.TenantID != "" {
			return fmt.Sprintf("%s/%s", t.Cloud.TenantID, t.Cloud.Environment)
		}
		return t.Cloud.Environment
	case t.Local != nil:
		return t.Local.InstanceName
	}
	return ""
}

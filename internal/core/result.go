package core

import (
	"encoding/json"
	"time"
)

// Status is the state of a build or of one of its steps.
type Status string

const (
	StatusQueued        Status = "QUEUED"
	StatusPending       Status = "PENDING"
	StatusWorking       Status = "WORKING"
	StatusSuccess       Status = "SUCCESS"
	StatusFailure       Status = "FAILURE"
	StatusTimeout       Status = "TIMEOUT"
	StatusCancelled     Status = "CANCELLED"
	StatusInternalError Status = "INTERNAL_ERROR"
)

// Done reports whether s is terminal.
func (s Status) Done() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusTimeout, StatusCancelled, StatusInternalError:
		return true
	}
	return false
}

// StepResult tracks one step of a run.
type StepResult struct {
	Index      int        `json:"index"`
	StepID     string     `json:"step_id"`
	Name       string     `json:"name"`
	Status     Status     `json:"status"`
	ExitCode   int        `json:"exit_code"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	LogPath    string     `json:"log_path,omitempty"`
	LogDigest  string     `json:"log_digest,omitempty"`
}

// Result is the progress and outcome of a build.
type Result struct {
	BuildID     string       `json:"id"`
	Status      Status       `json:"status"`
	CurrentStep int          `json:"current_step"`
	Steps       []StepResult `json:"steps"`
	Images      []string     `json:"images,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Failure     *StepFailure `json:"failure,omitempty"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
}

// NewResult returns the initial result of plan with every step pending.
func NewResult(plan *Plan, status Status) *Result {
	res := &Result{
		BuildID: plan.BuildID,
		Status:  status,
		Steps:   make([]StepResult, len(plan.Steps)),
		Tags:    append([]string(nil), plan.Tags...),
	}
	for i, ps := range plan.Steps {
		res.Steps[i] = StepResult{Index: i, StepID: ps.Ref, Name: ps.Step.Name, Status: StatusPending}
	}
	return res
}

// Clone returns a copy that shares nothing mutable with r.
func (r *Result) Clone() Result {
	c := *r
	c.Steps = append([]StepResult(nil), r.Steps...)
	c.Images = append([]string(nil), r.Images...)
	c.Tags = append([]string(nil), r.Tags...)
	if r.Failure != nil {
		f := *r.Failure
		c.Failure = &f
	}
	return c
}

// MarshalJSON renders the failure cause as text.
func (e *StepFailure) MarshalJSON() ([]byte, error) {
	view := struct {
		StepID   string `json:"step_id"`
		Index    int    `json:"index"`
		ExitCode int    `json:"exit_code"`
		Status   Status `json:"status"`
		Cause    string `json:"cause,omitempty"`
	}{
		StepID:   e.StepID,
		Index:    e.Index,
		ExitCode: e.ExitCode,
		Status:   e.Status,
	}
	if e.Err != nil {
		view.Cause = e.Err.Error()
	}
	return json.Marshal(view)
}

package model

import "time"

// JobState is the lifecycle state of a download job.
type JobState string

const (
	StatePending        JobState = "pending"
	StateDownloading    JobState = "downloading"
	StatePostProcessing JobState = "postprocessing"
	StateCompleted      JobState = "completed"
	StateFailed         JobState = "failed"
	StateCancelled      JobState = "cancelled"
)

func (s JobState) String() string {
	return string(s)
}

// IsActive reports whether the job occupies a concurrency slot.
func (s JobState) IsActive() bool {
	return s == StatePending || s == StateDownloading || s == StatePostProcessing
}

// IsTerminal reports whether no further transitions can happen.
func (s JobState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Cancellable reports whether a cancel request is honoured in this state.
func (s JobState) Cancellable() bool {
	return s == StatePending || s == StateDownloading
}

// DownloadRequest is what a caller submits to the engine.
type DownloadRequest struct {
	ResourceID     string `json:"resourceId" validate:"required,max=2048"`
	DestinationDir string `json:"destinationDir,omitempty"`
	AudioOnly      bool   `json:"audioOnly"`
}

// Job is a snapshot of one download and its state. Values handed out by the
// engine are copies; mutating them has no effect on the engine.
type Job struct {
	ID              string    `json:"id"`
	ResourceID      string    `json:"resourceId"`
	Title           string    `json:"title,omitempty"`
	DestinationDir  string    `json:"destinationDir"`
	DestinationPath string    `json:"destinationPath,omitempty"`
	AudioOnly       bool      `json:"audioOnly"`
	Progress        float64   `json:"progress"` // 0..1, non-decreasing
	State           JobState  `json:"state"`
	Err             error     `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ErrorMessage returns the human-readable failure, or "" when none.
func (j Job) ErrorMessage() string {
	if j.Err == nil {
		return ""
	}
	return j.Err.Error()
}

// DisplayName prefers the title and falls back to the resource id.
func (j Job) DisplayName() string {
	if j.Title != "" {
		return j.Title
	}
	return j.ResourceID
}

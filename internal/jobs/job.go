package jobs

import "time"

// Status of an extraction job. Jobs move from pending to exactly one of the
// terminal states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is one unit of deferred extraction work. Terminal jobs carry either the
// extracted text and metadata or an error description.
type Job struct {
	ID          string         `json:"id"`
	Status      Status         `json:"status"`
	InputPath   string         `json:"input_path"`
	DisplayName string         `json:"display_name"`
	Text        string         `json:"text,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
}

// Terminal reports whether the job has finished.
func (j *Job) Terminal() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

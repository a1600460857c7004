package job

import "encoding/json"

// Job is the status record kept in redis for async ingestion runs.
type Job struct {
	JobID     string          `json:"job_id"`
	Type      Type            `json:"type"`
	Username  string          `json:"username"`
	Status    Status          `json:"status"`
	Attempt   int             `json:"attempt,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	UpdatedAt int64           `json:"updated_at"`
}

type Type string

const (
	TypeProfile Type = "profile"
	TypeRatings Type = "ratings"
	TypeFilms   Type = "films"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

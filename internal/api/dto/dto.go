package dto

import "time"

// Response is the success envelope shared by every JSON endpoint
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse is the error envelope
type ErrorResponse struct {
	Status  string         `json:"status"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// QueuedData is returned by the submit endpoints
type QueuedData struct {
	TaskID string `json:"task_id"`
}

// TaskErrorDTO is the stored failure of a task
type TaskErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TaskStatusDTO is returned by GET /api/v1/tasks/:task_id
type TaskStatusDTO struct {
	TaskID      string        `json:"task_id"`
	Kind        string        `json:"kind"`
	Status      string        `json:"status"`
	State       string        `json:"state"`
	Error       *TaskErrorDTO `json:"error,omitempty"`
	SubmittedAt string        `json:"submitted_at"`
	CompletedAt string        `json:"completed_at,omitempty"`
}

// QueueDTO is returned by GET /api/v1/queue
type QueueDTO struct {
	Queued    int    `json:"queued"`
	Consumers int    `json:"consumers"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// FormatTime renders timestamps the way every DTO does
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

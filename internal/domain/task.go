package domain

import "time"

// TaskKind identifies what kind of media a task carries
type TaskKind string

const (
	TaskKindImageBatch TaskKind = "image-batch"
	TaskKindVideo      TaskKind = "video"
)

// TaskState is the lifecycle state of a task
type TaskState string

// Task state constants
const (
	TaskStateQueued    TaskState = "QUEUED"
	TaskStateClaimed   TaskState = "CLAIMED"
	TaskStateRunning   TaskState = "RUNNING"
	TaskStateSucceeded TaskState = "SUCCEEDED"
	TaskStateFailed    TaskState = "FAILED"
)

// IsTerminal reports whether no further transition can leave the state
func (s TaskState) IsTerminal() bool {
	return s == TaskStateSucceeded || s == TaskStateFailed
}

// IsPending reports whether the task has not reached a terminal state yet
func (s TaskState) IsPending() bool {
	return s == TaskStateQueued || s == TaskStateClaimed || s == TaskStateRunning
}

// InputRef points at one staged upload belonging to a task
type InputRef struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`

	// DurationSeconds is the probed length of a video input
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// TaskOptions carries per-task processing parameters resolved at submission
type TaskOptions struct {
	DetectEveryN  int     `json:"detect_every_n,omitempty"`
	MaxFPS        int     `json:"max_fps,omitempty"`
	DetectScale   float64 `json:"detect_scale,omitempty"`
	PreserveAudio bool    `json:"preserve_audio,omitempty"`
}

// Task is one submitted blur job
type Task struct {
	ID             string
	Kind           TaskKind
	State          TaskState
	Inputs         []InputRef
	Options        TaskOptions
	OutputRef      string
	Error          *TaskError
	ClaimedBy      string
	LeaseExpiresAt *time.Time
	SubmittedAt    time.Time
	ClaimedAt      *time.Time
	CompletedAt    *time.Time
}

// Clone returns a deep copy so callers never share mutable state with a repository
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Inputs = append([]InputRef(nil), t.Inputs...)
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	c.LeaseExpiresAt = cloneTime(t.LeaseExpiresAt)
	c.ClaimedAt = cloneTime(t.ClaimedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TaskMessage is the broker payload that wakes a worker up for a task
type TaskMessage struct {
	TaskID      string `json:"task_id"`
	DeliveryTag uint64 `json:"-"`
}

// QueueSnapshot is a read-only view of the broker counters
type QueueSnapshot struct {
	QueuedCount       int    `json:"queued"`
	ActiveWorkerCount int    `json:"consumers"`
	Available         bool   `json:"available"`
	Reason            string `json:"error,omitempty"`
}

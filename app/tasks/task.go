package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskTypePublishScheduled TaskType = "publish_scheduled"
	TaskTypePurgeUploads     TaskType = "purge_uploads"
)

const (
	DefaultMaxRetries = 3
	maxRetryDelay     = 30 * time.Second
)

type TaskInterface interface {
	Execute(ctx context.Context) error
	Base() *Task
}

// Task carries identity and retry state for a scheduled job.
type Task struct {
	ID         string
	Type       TaskType
	Subject    string
	Retries    int
	MaxRetries int
}

func NewTask(taskType TaskType, subject string) Task {
	return Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		Subject:    subject,
		MaxRetries: DefaultMaxRetries,
	}
}

func (t *Task) Base() *Task {
	return t
}

// Retry records a failed attempt and returns the delay before the next one.
// ok is false once MaxRetries attempts have been spent.
func (t *Task) Retry() (delay time.Duration, ok bool) {
	if t.Retries >= t.MaxRetries {
		return 0, false
	}
	t.Retries++
	delay = time.Duration(1<<uint(t.Retries-1)) * time.Second
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay, true
}

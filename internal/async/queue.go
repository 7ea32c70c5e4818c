package async

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task is one admitted job. Run is invoked on a worker goroutine with a
// context bounded by the queue's process timeout.
type Task struct {
	JobID       uuid.UUID
	SubmittedAt time.Time
	Run         func(ctx context.Context)
}

type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Shutdown(ctx context.Context)
}

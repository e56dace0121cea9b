package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LocalQueue is the in-process fallback used when no broker is reachable.
// A single goroutine drains a buffered channel, preserving submission order
// exactly like the broker's list does. Tasks do not survive a restart; the
// job state machine makes interrupted work visible as stuck queued jobs.
type LocalQueue struct {
	tasks  chan Task
	logger zerolog.Logger

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewLocalQueue creates an in-process queue with the given buffer size.
func NewLocalQueue(size int, logger zerolog.Logger) *LocalQueue {
	if size <= 0 {
		size = 128
	}

	return &LocalQueue{
		tasks:  make(chan Task, size),
		logger: logger.With().Str("component", "local_queue").Logger(),
		done:   make(chan struct{}),
	}
}

// Start launches the single worker goroutine. Calling Start more than once
// is a no-op so ordering guarantees cannot be broken by accident.
func (q *LocalQueue) Start(ctx context.Context, executor Executor) {
	q.startOnce.Do(func() {
		go q.drain(ctx, executor)
	})
}

// Submit enqueues a task. A full buffer is an error rather than a block, so
// the HTTP handler path can report backpressure instead of hanging.
func (q *LocalQueue) Submit(_ context.Context, task Task) (string, error) {
	if task.MessageID == "" {
		task.MessageID = uuid.NewString()
	}

	select {
	case q.tasks <- task:
	default:
		return "", fmt.Errorf("local queue is full (%d tasks buffered)", cap(q.tasks))
	}

	tasksSubmitted.WithLabelValues(string(task.Kind), "local").Inc()
	q.logger.Debug().
		Str("kind", string(task.Kind)).
		Uint("id", task.ID).
		Str("message_id", task.MessageID).
		Msg("task enqueued in process")

	return task.MessageID, nil
}

// Close stops accepting tasks and lets the worker finish the buffer.
func (q *LocalQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.tasks)
	})
	<-q.done

	return nil
}

func (q *LocalQueue) drain(ctx context.Context, executor Executor) {
	defer close(q.done)

	for {
		select {
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			if err := executor.Execute(ctx, task); err != nil {
				tasksFailed.Inc()
				q.logger.Error().
					Err(err).
					Str("kind", string(task.Kind)).
					Uint("id", task.ID).
					Msg("task execution failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

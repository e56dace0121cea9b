package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// TaskKind identifies the work a queued task carries.
type TaskKind string

const (
	// TaskGrade runs a grading job.
	TaskGrade TaskKind = "grade"
	// TaskGuide generates an LLM guide draft.
	TaskGuide TaskKind = "guide"
	// TaskAssignment generates an LLM assignment draft.
	TaskAssignment TaskKind = "assignment"
)

// Task is one unit of asynchronous work. The payload is deliberately tiny:
// an identifier plus a kind, with all state living in the database, so a
// redelivered or replayed message can always be resolved against current
// truth.
type Task struct {
	Kind      TaskKind `json:"kind"`
	ID        uint     `json:"id"`
	MessageID string   `json:"message_id"`
}

// Encode serializes a task for the wire.
func (t Task) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// DecodeTask parses a task from its wire form.
func DecodeTask(data []byte) (Task, error) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	if task.Kind == "" || task.ID == 0 {
		return Task{}, fmt.Errorf("task missing kind or id")
	}

	return task, nil
}

// Executor processes one task to completion. Both queue backends deliver
// into the same executor, so behavior never depends on the backend.
type Executor interface {
	Execute(ctx context.Context, task Task) error
}

// Queue accepts tasks for asynchronous execution.
type Queue interface {
	Submit(ctx context.Context, task Task) (messageID string, err error)
	Close() error
}

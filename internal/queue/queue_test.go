package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	mu    sync.Mutex
	tasks []Task
	done  chan struct{}
	want  int
}

func newRecordingExecutor(want int) *recordingExecutor {
	return &recordingExecutor{done: make(chan struct{}), want: want}
}

func (e *recordingExecutor) Execute(_ context.Context, task Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, task)
	if len(e.tasks) == e.want {
		close(e.done)
	}
	return nil
}

func (e *recordingExecutor) seen() []Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Task, len(e.tasks))
	copy(out, e.tasks)
	return out
}

func TestLocalQueuePreservesSubmissionOrder(t *testing.T) {
	executor := newRecordingExecutor(3)
	q := NewLocalQueue(8, zerolog.Nop())
	q.Start(context.Background(), executor)

	for _, id := range []uint{1, 2, 3} {
		_, err := q.Submit(context.Background(), Task{Kind: TaskGrade, ID: id})
		require.NoError(t, err)
	}

	select {
	case <-executor.done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks were not executed")
	}

	seen := executor.seen()
	require.Len(t, seen, 3)
	for i, task := range seen {
		require.Equal(t, uint(i+1), task.ID)
		require.NotEmpty(t, task.MessageID)
	}
}

func TestLocalQueueRejectsWhenFull(t *testing.T) {
	// Never started, so the buffer cannot drain.
	q := NewLocalQueue(1, zerolog.Nop())

	_, err := q.Submit(context.Background(), Task{Kind: TaskGrade, ID: 1})
	require.NoError(t, err)

	_, err = q.Submit(context.Background(), Task{Kind: TaskGrade, ID: 2})
	require.Error(t, err)
}

func TestRedisQueueRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewRedisQueue(client, "gradeflow:test:queue", zerolog.Nop())

	id1, err := q.Submit(context.Background(), Task{Kind: TaskGrade, ID: 7})
	require.NoError(t, err)
	require.NotEmpty(t, id1)
	id2, err := q.Submit(context.Background(), Task{Kind: TaskGuide, ID: 9})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	executor := newRecordingExecutor(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Consume(ctx, executor) }()

	select {
	case <-executor.done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks were not consumed")
	}

	seen := executor.seen()
	require.Equal(t, TaskGrade, seen[0].Kind)
	require.Equal(t, uint(7), seen[0].ID)
	require.Equal(t, id1, seen[0].MessageID)
	require.Equal(t, TaskGuide, seen[1].Kind)
	require.Equal(t, uint(9), seen[1].ID)
}

func TestDecodeTaskRejectsGarbage(t *testing.T) {
	_, err := DecodeTask([]byte("not json"))
	require.Error(t, err)

	_, err = DecodeTask([]byte(`{"kind": "", "id": 0}`))
	require.Error(t, err)
}

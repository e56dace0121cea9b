package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	tasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gradeflow_queue_tasks_submitted_total",
		Help: "Tasks submitted to the queue, labeled by kind and backend.",
	}, []string{"kind", "backend"})
	tasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gradeflow_queue_task_failures_total",
		Help: "Tasks whose executor returned an error.",
	})
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gradeflow_queue_depth",
		Help: "Approximate number of tasks waiting in the broker list.",
	})
)

// RedisQueue is the broker-backed queue. Producers LPUSH task envelopes onto
// a list; workers BRPOP them off. Tasks survive API restarts because the
// list lives in Redis, and execution is idempotent because the task carries
// only an identifier.
type RedisQueue struct {
	client *redis.Client
	key    string
	logger zerolog.Logger
}

// NewRedisQueue creates a broker-backed queue on the given list key.
func NewRedisQueue(client *redis.Client, key string, logger zerolog.Logger) *RedisQueue {
	return &RedisQueue{
		client: client,
		key:    key,
		logger: logger.With().Str("component", "redis_queue").Logger(),
	}
}

// Submit pushes a task onto the broker list and returns its message id.
func (q *RedisQueue) Submit(ctx context.Context, task Task) (string, error) {
	if task.MessageID == "" {
		task.MessageID = uuid.NewString()
	}

	payload, err := task.Encode()
	if err != nil {
		return "", err
	}

	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}

	if depth, err := q.client.LLen(ctx, q.key).Result(); err == nil {
		queueDepth.Set(float64(depth))
	}
	tasksSubmitted.WithLabelValues(string(task.Kind), "redis").Inc()

	q.logger.Debug().
		Str("kind", string(task.Kind)).
		Uint("id", task.ID).
		Str("message_id", task.MessageID).
		Msg("task enqueued")

	return task.MessageID, nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (q *RedisQueue) Close() error { return nil }

// Consume blocks on the broker list and feeds tasks to the executor until
// the context is cancelled. Executor errors are logged and counted, never
// fatal: the task's own state machine records what went wrong.
func (q *RedisQueue) Consume(ctx context.Context, executor Executor) error {
	q.logger.Info().Str("key", q.key).Msg("worker consuming queue")

	for {
		values, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Warn().Err(err).Msg("broker pop failed, backing off")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		// BRPOP returns [key, value].
		if len(values) != 2 {
			continue
		}

		task, err := DecodeTask([]byte(values[1]))
		if err != nil {
			q.logger.Error().Err(err).Str("payload", values[1]).Msg("dropping undecodable task")
			continue
		}

		if err := executor.Execute(ctx, task); err != nil {
			tasksFailed.Inc()
			q.logger.Error().
				Err(err).
				Str("kind", string(task.Kind)).
				Uint("id", task.ID).
				Msg("task execution failed")
		}
	}
}

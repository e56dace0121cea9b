package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Event types published on the job lifecycle channel.
const (
	TypeJobQueued    = "job.queued"
	TypeJobStarted   = "job.started"
	TypeJobRetrying  = "job.retrying"
	TypeJobCompleted = "job.completed"
	TypeJobFailed    = "job.failed"
	TypeJobCancelled = "job.cancelled"

	TypeGuideDrafted   = "guide.drafted"
	TypeGuideActivated = "guide.activated"

	TypeAssignmentDrafted = "assignment.drafted"
)

const channel = "gradeflow:events"

// Event is the payload broadcast for every lifecycle transition.
type Event struct {
	Type         string    `json:"type"`
	JobID        uint      `json:"job_id,omitempty"`
	AssignmentID uint      `json:"assignment_id,omitempty"`
	SubmissionID uint      `json:"submission_id,omitempty"`
	GuideID      uint      `json:"guide_id,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Attempt      int       `json:"attempt,omitempty"`
	At           time.Time `json:"at"`
}

// Publisher broadcasts lifecycle events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type publisher struct {
	redis  *redis.Client
	nats   *nats.Conn
	logger zerolog.Logger
}

// NewPublisher creates a fan-out publisher. Either backend may be nil; a
// publisher with no backends is a no-op, so callers never have to nil-check.
func NewPublisher(redisClient *redis.Client, natsConn *nats.Conn, logger zerolog.Logger) Publisher {
	return &publisher{
		redis:  redisClient,
		nats:   natsConn,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// Publish is fire-and-forget: delivery failures are logged, never returned,
// so the grading pipeline is never blocked by a slow consumer.
func (p *publisher) Publish(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("type", event.Type).Msg("failed to encode event")
		return
	}

	if p.redis != nil {
		if err := p.redis.Publish(ctx, channel, payload).Err(); err != nil {
			p.logger.Warn().Err(err).Str("type", event.Type).Msg("redis publish failed")
		}
	}

	if p.nats != nil {
		if err := p.nats.Publish(channel, payload); err != nil {
			p.logger.Warn().Err(err).Str("type", event.Type).Msg("nats publish failed")
		}
	}
}

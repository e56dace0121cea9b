package render

import (
	"context"
	"fmt"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

// PayloadKind discriminates rendered payload variants.
type PayloadKind string

const (
	// PayloadText is normalized plain text extracted from an artifact.
	PayloadText PayloadKind = "text"
	// PayloadImage is a raster image suitable for a vision model input.
	PayloadImage PayloadKind = "image"
)

// Payload is one normalized representation of a submission artifact.
type Payload struct {
	Kind PayloadKind
	Text string
	MIME string
	Data []byte
}

// Error reports a failed render of a specific artifact. Render failures are
// content problems, not transient ones, so the pipeline never retries them.
type Error struct {
	Artifact string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render %s: %v", e.Artifact, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Renderer converts a raw artifact into normalized payloads. Implementations
// must be deterministic and idempotent so payloads can be cached safely.
type Renderer interface {
	Render(ctx context.Context, artifact models.SubmissionArtifact) ([]Payload, error)
}

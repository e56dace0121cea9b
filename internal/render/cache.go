package render

import (
	"context"
	"sync"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

type cacheEntry struct {
	fingerprint string
	payloads    []Payload
}

// Cache memoizes rendered payloads per submission. Entries are keyed by the
// submission's artifact fingerprint, so re-grading reuses payloads until the
// artifacts change. Safe for concurrent use; payload slices must be treated
// as read-only by callers.
type Cache struct {
	renderer Renderer

	mu      sync.Mutex
	entries map[uint]cacheEntry
}

// NewCache wraps the renderer with per-submission memoization.
func NewCache(renderer Renderer) *Cache {
	return &Cache{
		renderer: renderer,
		entries:  make(map[uint]cacheEntry),
	}
}

// Payloads returns the rendered payloads for every renderable artifact of
// the submission, computing and caching them on first use.
func (c *Cache) Payloads(ctx context.Context, submission models.Submission) ([]Payload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[submission.ID]; ok && entry.fingerprint == submission.Fingerprint {
		return entry.payloads, nil
	}

	var payloads []Payload
	for _, artifact := range submission.Artifacts {
		rendered, err := c.renderer.Render(ctx, artifact)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, rendered...)
	}

	c.entries[submission.ID] = cacheEntry{fingerprint: submission.Fingerprint, payloads: payloads}
	return payloads, nil
}

// Invalidate drops the cached payloads for a submission.
func (c *Cache) Invalidate(submissionID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, submissionID)
}

// Package embedding defines the embedding provider contract and the two
// implementations the engine ships: an OpenAI-compatible HTTP client for
// production and a deterministic local provider for development and tests.
package embedding

import (
	"context"
	"errors"
)

// Provider turns text into fixed-dimension vectors. Implementations must be
// pure functions of (model, text): the same input always yields the same
// vector.
type Provider interface {
	// Embed embeds a batch of texts, preserving order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single retrieval query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension reports the vector size this provider produces.
	Dimension() int
}

// ErrDimensionMismatch is returned when a provider yields vectors of a size
// other than the configured dimension. Writes are aborted before touching
// the store when this happens.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

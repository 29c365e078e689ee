package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Deterministic is a local, dependency-free provider that hashes token
// features into a fixed-size vector. It is not semantically meaningful like a
// learned model, but overlapping vocabulary yields overlapping vectors, which
// is enough for development and for exercising the retrieval pipeline in
// tests. Same text in, same vector out, always.
type Deterministic struct {
	dim int
}

// NewDeterministic creates a provider producing vectors of the given size.
func NewDeterministic(dim int) *Deterministic {
	if dim < 1 {
		dim = 384
	}
	return &Deterministic{dim: dim}
}

// Embed hashes each text independently.
func (d *Deterministic) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = d.vectorize(t)
	}
	return vectors, nil
}

// EmbedQuery hashes a single query.
func (d *Deterministic) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return d.vectorize(text), nil
}

// Dimension reports the vector size.
func (d *Deterministic) Dimension() int {
	return d.dim
}

func (d *Deterministic) vectorize(text string) []float32 {
	v := make([]float32, d.dim)
	tokens := strings.Fields(strings.ToLower(text))
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(d.dim))
		if (sum>>32)&1 == 0 {
			v[idx] += 1
		} else {
			v[idx] -= 1
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

package cluster

import (
	"context"
	"fmt"
	"math"

	"github.com/your-org/facegroups/internal/models"
)

// Matcher resolves an embedding to the best-matching person group, if any
// representative exceeds the similarity threshold.
type Matcher struct {
	store     Store
	threshold float64
}

func NewMatcher(store Store, threshold float64) *Matcher {
	return &Matcher{store: store, threshold: threshold}
}

// Threshold returns the configured similarity cutoff.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// FindMatch returns the group with the most similar representative embedding,
// or nil when no group strictly exceeds the threshold. A similarity exactly
// equal to the threshold is not a match. The query vector is re-normalized
// before the lookup; a zero-norm vector is rejected with ErrInvalidEmbedding.
func (m *Matcher) FindMatch(ctx context.Context, embedding []float32) (*models.GroupMatch, error) {
	query, err := Normalize(embedding)
	if err != nil {
		return nil, err
	}

	match, err := m.store.NearestGroup(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("nearest group: %w", err)
	}
	if match == nil || match.Similarity <= m.threshold {
		return nil, nil
	}
	return match, nil
}

// Normalize returns a unit-length copy of v. Empty and zero-norm vectors are
// rejected with ErrInvalidEmbedding.
func Normalize(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrInvalidEmbedding)
	}

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return nil, fmt.Errorf("%w: zero norm", ErrInvalidEmbedding)
	}

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// CosineSimilarity computes the cosine similarity between two vectors,
// clamped to [-1, 1]. Mismatched or zero-norm inputs score -1.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -1
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim
}

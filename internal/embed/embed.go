// Package embed produces dense vectors for chunk and query text.
// The pipeline depends only on the Embedder interface; the HTTP
// (Ollama-compatible) client and a deterministic static fallback
// implement it.
package embed

import (
	"context"
	"log/slog"
	"math"
)

// DefaultBatchSize caps texts per embedding call.
const DefaultBatchSize = 32

// Embedder generates dense embeddings.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// Normalize scales v to unit L2 norm in place and returns it.
// Zero vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// BatchWithFallback embeds texts in batches of at most batchSize. A
// failed batch degrades to zero vectors with a warning so the pipeline
// keeps moving; the second return value is the count of substituted
// vectors.
func BatchWithFallback(ctx context.Context, e Embedder, texts []string, batchSize int) ([][]float32, int) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	out := make([][]float32, 0, len(texts))
	failed := 0

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vecs, err := e.EmbedBatch(ctx, batch)
		if err != nil || len(vecs) != len(batch) {
			if err != nil {
				slog.Warn("embed_batch_failed",
					slog.Int("batch_start", start),
					slog.Int("batch_size", len(batch)),
					slog.String("error", err.Error()))
			} else {
				slog.Warn("embed_batch_short",
					slog.Int("want", len(batch)),
					slog.Int("got", len(vecs)))
			}
			for range batch {
				out = append(out, make([]float32, e.Dimensions()))
				failed++
			}
			continue
		}
		out = append(out, vecs...)
	}

	return out, failed
}

package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
)

// StaticEmbedder is a deterministic, hash-based embedder. It needs no
// model or network and keeps semantic search degraded-but-working when
// the neural embedder is unavailable; it is also the test embedder.
type StaticEmbedder struct {
	dims   int
	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

var staticTokenRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

const (
	staticTokenWeight = 0.7
	staticNgramWeight = 0.3
	staticNgramSize   = 3
)

// NewStaticEmbedder creates a static embedder with the given dimension.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = 768
	}
	return &StaticEmbedder{dims: dims}
}

// Embed generates a unit-norm hash-based vector for text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}

	vec := make([]float32, e.dims)

	for _, token := range staticTokenRe.FindAllString(strings.ToLower(trimmed), -1) {
		vec[hashToIndex(token, e.dims)] += staticTokenWeight
	}

	runes := []rune(strings.ToLower(trimmed))
	for i := 0; i+staticNgramSize <= len(runes); i++ {
		vec[hashToIndex(string(runes[i:i+staticNgramSize]), e.dims)] += staticNgramWeight
	}

	return Normalize(vec), nil
}

// EmbedBatch generates embeddings for texts, in order.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return fmt.Sprintf("static-%d", e.dims)
}

// Available reports true until the embedder is closed.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func hashToIndex(s string, dims int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}

package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/findexd/findex/internal/embed"
)

// sidecarVersion is the on-disk version of the vector sidecar layout.
const sidecarVersion = 1

// HNSWIndex implements VectorIndex on a coder/hnsw graph with a gob
// sidecar carrying vector IDs, side metadata, and the raw vectors. The
// raw vectors make the index compactable and rebuildable when the graph
// file is lost or corrupt.
type HNSWIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]

	dim      int
	strategy string
	path     string // base path of the vector file (sidecar is path + ".meta")

	entries       map[uint64]*vectorEntry
	chunkToVector map[int64][]uint64
	nextID        uint64
	lastUpdated   time.Time

	closed bool
}

type vectorEntry struct {
	Meta   *VectorSideMeta
	Vector []float32
}

type vectorSidecar struct {
	Version     int
	Dim         int
	Strategy    string
	NextID      uint64
	LastUpdated time.Time
	Entries     map[uint64]*vectorEntry
}

// HNSWOptions tunes the graph.
type HNSWOptions struct {
	// M is max connections per layer (default: 16).
	M int

	// EfSearch is the query-time search width (default: 64).
	EfSearch int
}

var _ VectorIndex = (*HNSWIndex)(nil)

// OpenHNSW opens or creates the vector index at path with the given
// dimension. A corrupt graph file is rebuilt from the sidecar; a missing
// sidecar means a fresh index.
func OpenHNSW(path string, dim int, opts HNSWOptions) (*HNSWIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dim)
	}
	if opts.M <= 0 {
		opts.M = 16
	}
	if opts.EfSearch <= 0 {
		opts.EfSearch = 64
	}

	idx := &HNSWIndex{
		graph:         newGraph(opts),
		dim:           dim,
		strategy:      "hnsw",
		path:          path,
		entries:       make(map[uint64]*vectorEntry),
		chunkToVector: make(map[int64][]uint64),
	}

	if path == "" {
		return idx, nil // in-memory, for tests
	}

	if err := idx.load(opts); err != nil {
		return nil, err
	}
	if idx.dim != dim {
		return nil, ErrDimensionMismatch{Expected: dim, Got: idx.dim}
	}
	return idx, nil
}

func newGraph(opts HNSWOptions) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = opts.M
	g.EfSearch = opts.EfSearch
	g.Ml = 0.25
	return g
}

// Add inserts unit vectors with their side metadata, assigning
// monotonically increasing vector IDs.
func (x *HNSWIndex) Add(ctx context.Context, vectors [][]float32, metas []*VectorSideMeta) ([]uint64, error) {
	if len(vectors) != len(metas) {
		return nil, fmt.Errorf("vectors and metas length mismatch: %d vs %d", len(vectors), len(metas))
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil, fmt.Errorf("vector index is closed")
	}

	for _, v := range vectors {
		if len(v) != x.dim {
			return nil, ErrDimensionMismatch{Expected: x.dim, Got: len(v)}
		}
	}

	ids := make([]uint64, 0, len(vectors))
	for i, v := range vectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := x.nextID
		x.nextID++

		vec := make([]float32, len(v))
		copy(vec, v)
		embed.Normalize(vec)

		x.graph.Add(hnsw.MakeNode(id, vec))
		x.entries[id] = &vectorEntry{Meta: metas[i], Vector: vec}
		x.chunkToVector[metas[i].ChunkID] = append(x.chunkToVector[metas[i].ChunkID], id)
		ids = append(ids, id)
	}

	x.lastUpdated = time.Now().UTC()
	return ids, nil
}

// Search returns up to k nearest neighbors sorted by similarity
// descending. Tombstoned vectors never appear; an empty index returns
// an empty slice.
func (x *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorHit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(query) != x.dim {
		return nil, ErrDimensionMismatch{Expected: x.dim, Got: len(query)}
	}
	if x.graph.Len() == 0 {
		return []*VectorHit{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	embed.Normalize(q)

	// Oversample to survive tombstoned nodes still present in the graph.
	fetch := k + (x.graph.Len() - len(x.entries))
	if fetch < k {
		fetch = k
	}
	nodes := x.graph.Search(q, fetch)

	hits := make([]*VectorHit, 0, k)
	for _, node := range nodes {
		entry, live := x.entries[node.Key]
		if !live {
			continue
		}
		distance := x.graph.Distance(q, node.Value)
		hits = append(hits, &VectorHit{
			VectorID:   node.Key,
			Similarity: 1.0 - distance, // cosine distance on unit vectors
			Meta:       entry.Meta,
		})
		if len(hits) == k {
			break
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	return hits, nil
}

// DeleteByChunkIDs tombstones every vector belonging to the chunks.
// Nodes stay in the graph until Compact runs; live results keep their
// ordering.
func (x *HNSWIndex) DeleteByChunkIDs(ids []int64) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	deleted := 0
	for _, chunkID := range ids {
		for _, vid := range x.chunkToVector[chunkID] {
			if _, ok := x.entries[vid]; ok {
				delete(x.entries, vid)
				deleted++
			}
		}
		delete(x.chunkToVector, chunkID)
	}
	if deleted > 0 {
		x.lastUpdated = time.Now().UTC()
	}
	return deleted
}

// DeleteByFileID tombstones every vector belonging to a file.
func (x *HNSWIndex) DeleteByFileID(fileID int64) int {
	x.mu.Lock()
	var chunkIDs []int64
	for chunkID, vids := range x.chunkToVector {
		for _, vid := range vids {
			if e, ok := x.entries[vid]; ok && e.Meta.FileID == fileID {
				chunkIDs = append(chunkIDs, chunkID)
				break
			}
		}
	}
	x.mu.Unlock()
	return x.DeleteByChunkIDs(chunkIDs)
}

// ChunkIDs returns the chunk IDs of all live vectors.
func (x *HNSWIndex) ChunkIDs() []int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ids := make([]int64, 0, len(x.chunkToVector))
	for id := range x.chunkToVector {
		ids = append(ids, id)
	}
	return ids
}

// Orphans returns the number of tombstoned nodes still in the graph.
func (x *HNSWIndex) Orphans() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.graph.Len() - len(x.entries)
}

// Compact rebuilds the graph from live entries, dropping tombstones.
func (x *HNSWIndex) Compact(opts HNSWOptions) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if opts.M <= 0 {
		opts.M = x.graph.M
	}
	if opts.EfSearch <= 0 {
		opts.EfSearch = x.graph.EfSearch
	}

	g := newGraph(opts)
	for id, entry := range x.entries {
		g.Add(hnsw.MakeNode(id, entry.Vector))
	}
	x.graph = g
	x.lastUpdated = time.Now().UTC()
}

// Persist atomically writes the graph and its sidecar (temp + rename).
func (x *HNSWIndex) Persist() error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return fmt.Errorf("vector index is closed")
	}
	if x.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(x.path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	// Graph file.
	tmpBin := x.path + ".tmp"
	f, err := os.Create(tmpBin)
	if err != nil {
		return fmt.Errorf("create vector file: %w", err)
	}
	if err := x.graph.Export(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpBin)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpBin)
		return err
	}
	if err := os.Rename(tmpBin, x.path); err != nil {
		_ = os.Remove(tmpBin)
		return fmt.Errorf("rename vector file: %w", err)
	}

	// Sidecar.
	metaPath := x.path + ".meta"
	tmpMeta := metaPath + ".tmp"
	mf, err := os.Create(tmpMeta)
	if err != nil {
		return fmt.Errorf("create sidecar: %w", err)
	}
	enc := gob.NewEncoder(mf)
	err = enc.Encode(&vectorSidecar{
		Version:     sidecarVersion,
		Dim:         x.dim,
		Strategy:    x.strategy,
		NextID:      x.nextID,
		LastUpdated: x.lastUpdated,
		Entries:     x.entries,
	})
	if err != nil {
		_ = mf.Close()
		_ = os.Remove(tmpMeta)
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if err := mf.Close(); err != nil {
		_ = os.Remove(tmpMeta)
		return err
	}
	return os.Rename(tmpMeta, metaPath)
}

// load reads the sidecar and graph from disk. The sidecar is
// authoritative: when the graph file is missing or unreadable, the
// graph is rebuilt from the sidecar's vectors.
func (x *HNSWIndex) load(opts HNSWOptions) error {
	metaPath := x.path + ".meta"
	mf, err := os.Open(metaPath)
	if os.IsNotExist(err) {
		return nil // fresh index
	}
	if err != nil {
		return fmt.Errorf("open sidecar: %w", err)
	}
	defer mf.Close()

	var sc vectorSidecar
	if err := gob.NewDecoder(mf).Decode(&sc); err != nil {
		return fmt.Errorf("decode sidecar: %w", err)
	}
	if sc.Version != sidecarVersion {
		return fmt.Errorf("unsupported sidecar version %d", sc.Version)
	}

	x.dim = sc.Dim
	x.strategy = sc.Strategy
	x.nextID = sc.NextID
	x.lastUpdated = sc.LastUpdated
	x.entries = sc.Entries
	if x.entries == nil {
		x.entries = make(map[uint64]*vectorEntry)
	}
	x.chunkToVector = make(map[int64][]uint64, len(x.entries))
	for id, entry := range x.entries {
		x.chunkToVector[entry.Meta.ChunkID] = append(x.chunkToVector[entry.Meta.ChunkID], id)
	}

	bf, err := os.Open(x.path)
	if err == nil {
		defer bf.Close()
		if importErr := x.graph.Import(bufio.NewReader(bf)); importErr == nil {
			return nil
		}
		slog.Warn("vector_graph_corrupt_rebuilding", slog.String("path", x.path))
		x.graph = newGraph(opts)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("open vector file: %w", err)
	}

	// Rebuild graph from sidecar vectors.
	for id, entry := range x.entries {
		x.graph.Add(hnsw.MakeNode(id, entry.Vector))
	}
	return nil
}

// Dim returns the vector dimension.
func (x *HNSWIndex) Dim() int {
	return x.dim
}

// Count returns the number of live vectors.
func (x *HNSWIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// LastUpdated returns the time of the last mutation.
func (x *HNSWIndex) LastUpdated() time.Time {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.lastUpdated
}

// Close releases resources without persisting.
func (x *HNSWIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	x.graph = nil
	return nil
}

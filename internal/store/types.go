// Package store is the persistence layer: the SQLite system of record
// for files, chunks, and jobs, plus the two secondary indexes — the
// HNSW vector index and the Bleve full-text index. The relational store
// owns identity; both indexes hold denormalized copies keyed by it and
// are rebuildable from the store.
package store

import (
	"context"
	"fmt"
	"time"
)

// IndexStatus tracks per-file and per-chunk indexing state.
type IndexStatus string

const (
	IndexStatusPending    IndexStatus = "pending"
	IndexStatusProcessing IndexStatus = "processing"
	IndexStatusCompleted  IndexStatus = "completed"
	IndexStatusFailed     IndexStatus = "failed"
)

// JobType distinguishes full builds from incremental updates.
type JobType string

const (
	JobTypeCreate JobType = "create"
	JobTypeUpdate JobType = "update"
)

// JobStatus tracks index job lifecycle. Transitions are monotone:
// pending -> processing -> {completed|failed}.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// FileRecord is a row in the files table.
type FileRecord struct {
	ID              int64
	Path            string
	Name            string
	Ext             string
	Type            string // document, text, pdf, image, audio, video, other
	Size            int64
	ModTime         time.Time
	CTime           time.Time
	IndexedAt       time.Time
	ContentHash     string
	Mime            string
	Title           string
	Author          string
	Keywords        string
	ContentLength   int
	WordCount       int
	ParseConfidence float64
	IndexStatus     IndexStatus
	IsIndexed       bool
	NeedsReindex    bool
	RetryCount      int
	LastError       string
	IsChunked       bool
	TotalChunks     int
	ChunkStrategy   string
	AvgChunkSize    int
}

// ChunkRecord is a row in the file_chunks table.
// (FileID, ChunkIndex) is unique.
type ChunkRecord struct {
	ID            int64
	FileID        int64
	ChunkIndex    int
	Content       string
	ContentLength int
	StartPosition int
	EndPosition   int
	IsIndexed     bool
	IndexStatus   IndexStatus
	IndexedAt     time.Time
}

// JobRecord is a row in the index_jobs table.
type JobRecord struct {
	ID             int64
	FolderPath     string
	JobType        JobType
	Status         JobStatus
	TotalFiles     int
	ProcessedFiles int
	ErrorCount     int
	StartedAt      time.Time
	CompletedAt    time.Time
	ErrorMessage   string
	CreatedAt      time.Time
}

// SearchHistoryRecord is an append-only observation of one search.
type SearchHistoryRecord struct {
	ID             int64
	Query          string
	InputType      string
	SearchType     string
	ModelsUsed     string
	ResultCount    int
	ResponseTimeMs int64
	CreatedAt      time.Time
}

// VectorSideMeta identifies which chunk and file a vector belongs to,
// plus the denormalized file fields search results need.
type VectorSideMeta struct {
	ChunkID      int64
	FileID       int64
	FileName     string
	FilePath     string
	FileType     string
	FileSize     int64
	ModifiedTime time.Time
	CreatedAt    time.Time
}

// VectorHit is a single nearest-neighbor result.
type VectorHit struct {
	VectorID   uint64
	Similarity float32 // inner product on unit vectors, in [-1, 1]
	Meta       *VectorSideMeta
}

// VectorIndex is a persistent nearest-neighbor index over fixed-dim
// vectors with integer IDs and side-table metadata.
type VectorIndex interface {
	// Add inserts vectors with their side metadata and returns assigned
	// monotonically increasing vector IDs.
	Add(ctx context.Context, vectors [][]float32, metas []*VectorSideMeta) ([]uint64, error)

	// Search returns up to k nearest neighbors sorted by similarity descending.
	// An empty index returns an empty slice without error.
	Search(ctx context.Context, query []float32, k int) ([]*VectorHit, error)

	// DeleteByChunkIDs tombstones all vectors belonging to the chunks.
	DeleteByChunkIDs(ids []int64) int

	// DeleteByFileID tombstones all vectors belonging to a file.
	DeleteByFileID(fileID int64) int

	// ChunkIDs returns the chunk IDs of all live vectors.
	ChunkIDs() []int64

	// Persist atomically writes the vector file and its sidecar.
	Persist() error

	// Dim returns the vector dimension.
	Dim() int

	// Count returns the number of live vectors.
	Count() int

	// Close releases resources without persisting.
	Close() error
}

// FullTextDoc is one per-chunk document in the full-text index.
type FullTextDoc struct {
	ID            string // "{file_id}_chunk_{chunk_index}"
	ChunkID       int64
	FileID        int64
	FileName      string
	FilePath      string
	FileType      string
	Title         string
	Content       string
	ChunkIndex    int
	StartPosition int
	EndPosition   int
	ContentLength int
	ModifiedTime  time.Time
	CreatedAt     time.Time
}

// DocID builds the canonical full-text document ID for a chunk.
func DocID(fileID int64, chunkIndex int) string {
	return fmt.Sprintf("%d_chunk_%d", fileID, chunkIndex)
}

// FullTextQuery configures one full-text search.
type FullTextQuery struct {
	Query   string
	Fields  []string            // searched fields; default content, file_name, title
	Limit   int
	Offset  int
	Filters map[string][]string // field -> accepted values (exact)
	Boosts  map[string]float64  // field -> boost
	Phrase  bool                // exact phrase only
}

// FullTextHit is one BM25-ranked result.
type FullTextHit struct {
	ID           string
	ChunkID      int64
	FileID       int64
	Score        float64
	Rank         int // 1-based
	Fields       map[string]any
	MatchedTerms []string
	Fragments    map[string][]string // field -> highlight spans
}

// FullTextIndex is a persistent inverted index over per-chunk documents.
type FullTextIndex interface {
	AddDocuments(ctx context.Context, docs []*FullTextDoc) error
	UpdateDocument(ctx context.Context, doc *FullTextDoc) error
	DeleteByID(ctx context.Context, id string) error
	DeleteByField(ctx context.Context, field, value string) (int, error)
	DeleteByFileID(ctx context.Context, fileID int64) (int, error)
	Search(ctx context.Context, q *FullTextQuery) ([]*FullTextHit, error)
	Suggest(ctx context.Context, prefix, field string, limit int) ([]string, error)

	// Rebuild atomically replaces the whole index with docs.
	Rebuild(ctx context.Context, docs []*FullTextDoc) error

	// Optimize merges segments where the backend supports it.
	Optimize() error

	Count() (uint64, error)
	Close() error
}

// ErrDimensionMismatch indicates a vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

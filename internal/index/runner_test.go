package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/findexd/findex/internal/chunk"
	"github.com/findexd/findex/internal/embed"
	"github.com/findexd/findex/internal/parser"
	"github.com/findexd/findex/internal/progress"
	"github.com/findexd/findex/internal/scanner"
	"github.com/findexd/findex/internal/store"
)

type fixture struct {
	runner   *Runner
	store    *store.SQLiteStore
	vector   store.VectorIndex
	fulltext store.FullTextIndex
	embedder embed.Embedder
	scanner  *scanner.Scanner
	parser   *parser.Dispatcher
	meta     *parser.MetadataExtractor
	chunker  *chunk.Chunker
	hub      *progress.Hub
	config   Config
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	st, err := store.OpenSQLite(filepath.Join(dir, "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	vec, err := store.OpenHNSW("", 64, store.HNSWOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vec.Close() })

	ft, err := store.OpenBleve("", store.BleveConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ft.Close() })

	emb := embed.NewStaticEmbedder(64)
	sc := scanner.New([]string{".txt", ".md", ".mp3"}, 0, 2)
	pd := parser.New(parser.Config{}, nil, nil, nil)
	me := parser.NewMetadataExtractor()
	ch := chunk.New(500, 50, 600)
	hub := progress.NewHub()

	cfg := Config{
		Workers:        2,
		ChunkThreshold: 600,
		ChunkableTypes: []string{"document", "text", "pdf"},
		ScanOptions:    scanner.ScanOptions{Recursive: true},
	}
	r := NewRunner(st, vec, ft, emb, sc, pd, me, ch, hub, cfg)

	return &fixture{
		runner: r, store: st, vector: vec, fulltext: ft,
		embedder: emb, scanner: sc, parser: pd, meta: me, chunker: ch,
		hub: hub, config: cfg, dir: filepath.Join(dir, "corpus"),
	}
}

// runnerWith rebuilds the fixture's runner with substituted index stores.
func (f *fixture) runnerWith(vec store.VectorIndex, ft store.FullTextIndex) *Runner {
	return NewRunner(f.store, vec, ft, f.embedder, f.scanner, f.parser, f.meta, f.chunker, f.hub, f.config)
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *fixture) runFull(t *testing.T) *store.JobRecord {
	t.Helper()
	ctx := context.Background()
	job, err := f.store.CreateJob(ctx, f.dir, store.JobTypeCreate)
	require.NoError(t, err)
	err = f.runner.RunFull(ctx, job.ID, []string{f.dir}, nil)
	require.NoError(t, err)
	done, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	return done
}

func (f *fixture) runIncremental(t *testing.T) *store.JobRecord {
	t.Helper()
	ctx := context.Background()
	job, err := f.store.CreateJob(ctx, f.dir, store.JobTypeUpdate)
	require.NoError(t, err)
	err = f.runner.RunIncremental(ctx, job.ID, []string{f.dir}, nil)
	require.NoError(t, err)
	done, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	return done
}

func TestRunFullHappyPath(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "machine learning is a branch of artificial intelligence. deep learning is a branch of machine learning.")

	job := f.runFull(t)
	assert.Equal(t, store.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.TotalFiles)
	assert.Equal(t, 1, job.ProcessedFiles)
	assert.Equal(t, 0, job.ErrorCount)
	assert.False(t, job.CompletedAt.IsZero())

	ctx := context.Background()
	rec, err := f.store.GetFileByPath(ctx, filepath.Join(f.dir, "a.txt"))
	require.NoError(t, err)
	assert.True(t, rec.IsIndexed)
	assert.Equal(t, store.IndexStatusCompleted, rec.IndexStatus)
	assert.False(t, rec.IsChunked, "short text stays one chunk")
	assert.Equal(t, 1, rec.TotalChunks)

	assert.Equal(t, 1, f.vector.Count())
	n, err := f.fulltext.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

// Dual-index consistency: N chunks in the store means exactly N vector
// entries and N full-text docs for the file, chunk indexes 0..N-1.
func TestRunFullChunkedConsistency(t *testing.T) {
	f := newFixture(t)
	para := strings.Repeat("Indexing pipelines transform documents into searchable structures every day. ", 8)
	f.write(t, "long.md", para+"\n\n"+para+"\n\n"+para+"\n\n"+para)

	job := f.runFull(t)
	require.Equal(t, store.JobStatusCompleted, job.Status)

	ctx := context.Background()
	rec, err := f.store.GetFileByPath(ctx, filepath.Join(f.dir, "long.md"))
	require.NoError(t, err)
	assert.True(t, rec.IsChunked)
	require.Greater(t, rec.TotalChunks, 1)

	chunks, err := f.store.GetChunksByFile(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, chunks, rec.TotalChunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex, "chunk indexes are 0..N-1 with no gaps")
		assert.LessOrEqual(t, c.StartPosition, c.EndPosition)
	}

	assert.Equal(t, rec.TotalChunks, f.vector.Count())
	n, err := f.fulltext.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(rec.TotalChunks), n)
}

func TestRunFullIsolatesParseFailures(t *testing.T) {
	f := newFixture(t)
	f.write(t, "good.txt", "perfectly fine text")
	// No speech predictor is wired, so audio parses fail per-file.
	bad := f.write(t, "bad.mp3", "ID3 not really audio")

	job := f.runFull(t)
	assert.Equal(t, store.JobStatusCompleted, job.Status, "per-file failures do not fail the job")
	assert.Equal(t, 1, job.ErrorCount)

	ctx := context.Background()
	failed, err := f.store.GetFileByPath(ctx, bad)
	require.NoError(t, err)
	assert.Equal(t, store.IndexStatusFailed, failed.IndexStatus)
	assert.NotEmpty(t, failed.LastError)
}

func TestIncrementalNoChangesIsEmptyJob(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "alpha content")
	f.runFull(t)

	job := f.runIncremental(t)
	assert.Equal(t, store.JobStatusCompleted, job.Status)
	assert.Equal(t, 0, job.TotalFiles, "diff round-trip yields no work")
}

func TestIncrementalDeletionRemovesEverywhere(t *testing.T) {
	f := newFixture(t)
	aPath := f.write(t, "a.txt", "alpha content about machine learning")
	f.write(t, "b.txt", "beta content")
	f.write(t, "c.txt", "gamma content")
	f.runFull(t)

	ctx := context.Background()
	rec, err := f.store.GetFileByPath(ctx, aPath)
	require.NoError(t, err)

	require.NoError(t, os.Remove(aPath))
	job := f.runIncremental(t)

	assert.Equal(t, store.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.TotalFiles)
	assert.Equal(t, 1, job.ProcessedFiles)

	_, err = f.store.GetFileByPath(ctx, aPath)
	assert.Error(t, err)

	hits, err := f.fulltext.Search(ctx, &store.FullTextQuery{Query: "machine learning", Limit: 50})
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, rec.ID, h.FileID)
	}
	assert.Equal(t, 2, f.vector.Count())
}

func TestIncrementalChangeReplacesChunks(t *testing.T) {
	f := newFixture(t)
	aPath := f.write(t, "a.txt", "original words about gardening")
	f.runFull(t)

	// mtime granularity can hide rapid rewrites; nudge it.
	require.NoError(t, os.WriteFile(aPath, []byte("revised words about astronomy and telescopes"), 0o644))
	require.NoError(t, os.Chtimes(aPath, time.Now(), time.Now().Add(2*time.Second)))

	job := f.runIncremental(t)
	assert.Equal(t, store.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.TotalFiles)

	ctx := context.Background()
	hits, err := f.fulltext.Search(ctx, &store.FullTextQuery{Query: "astronomy", Limit: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, hits)

	hits, err = f.fulltext.Search(ctx, &store.FullTextQuery{Query: "gardening", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, hits, "stale content must be gone")
	assert.Equal(t, 1, f.vector.Count(), "old vectors replaced, not accumulated")
}

func TestStopJobMidway(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 200; i++ {
		f.write(t, fmt.Sprintf("f%03d.txt", i), fmt.Sprintf("document number %d with some words", i))
	}

	ctx := context.Background()
	job, err := f.store.CreateJob(ctx, f.dir, store.JobTypeCreate)
	require.NoError(t, err)

	f.runner.Start(ctx, job, []string{f.dir}, nil)
	time.Sleep(30 * time.Millisecond)
	stopped := f.runner.Stop(job.ID)
	f.runner.Wait()

	final, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)

	if stopped && final.Status == store.JobStatusFailed {
		assert.Equal(t, "stopped", final.ErrorMessage)
		assert.LessOrEqual(t, final.ProcessedFiles, 200)
		// Whatever committed stays searchable; the remainder is picked up
		// incrementally.
		inc := f.runIncremental(t)
		assert.Equal(t, store.JobStatusCompleted, inc.Status)
	} else {
		// The job may have completed before the stop landed.
		assert.Equal(t, store.JobStatusCompleted, final.Status)
	}

	known, err := f.store.KnownFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, known, 200)
}

func TestProgressSnapshotsEmitted(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "one file of content")

	ctx := context.Background()
	job, err := f.store.CreateJob(ctx, f.dir, store.JobTypeCreate)
	require.NoError(t, err)

	ch, cancel := f.hub.Subscribe(job.ID)
	defer cancel()

	require.NoError(t, f.runner.RunFull(ctx, job.ID, []string{f.dir}, nil))

	var last progress.Snapshot
	var got bool
	for snap := range ch {
		last = snap
		got = true
	}
	require.True(t, got, "at least one snapshot must be delivered")
	assert.Equal(t, store.JobStatusCompleted, last.Status, "final snapshot is terminal")
	assert.Equal(t, 1, last.ProcessedFiles)
}

// failingVector rejects every Add, simulating a broken vector index.
type failingVector struct {
	store.VectorIndex
}

func (f *failingVector) Add(ctx context.Context, vectors [][]float32, metas []*store.VectorSideMeta) ([]uint64, error) {
	return nil, fmt.Errorf("vector index on fire")
}

// failingFulltext rejects every AddDocuments, simulating a broken
// full-text index.
type failingFulltext struct {
	store.FullTextIndex
}

func (f *failingFulltext) AddDocuments(ctx context.Context, docs []*store.FullTextDoc) error {
	return fmt.Errorf("fulltext index on fire")
}

// A secondary-index write failure after the DB commit must not leave
// the file claiming is_indexed: it rolls back to pending+needs_reindex
// so a retry rebuilds it.
func TestVectorWriteFailureClearsIsIndexed(t *testing.T) {
	f := newFixture(t)
	broken := f.runnerWith(&failingVector{f.vector}, f.fulltext)
	aPath := f.write(t, "a.txt", "content that must not surface as indexed")

	ctx := context.Background()
	job, err := f.store.CreateJob(ctx, f.dir, store.JobTypeCreate)
	require.NoError(t, err)
	require.NoError(t, broken.RunFull(ctx, job.ID, []string{f.dir}, nil))

	done, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusCompleted, done.Status, "per-file index failures do not fail the job")
	assert.Equal(t, 1, done.ErrorCount)

	rec, err := f.store.GetFileByPath(ctx, aPath)
	require.NoError(t, err)
	assert.False(t, rec.IsIndexed, "is_indexed must be cleared when secondary indexes are incomplete")
	assert.Equal(t, store.IndexStatusPending, rec.IndexStatus, "file is left pending for retry")
	assert.True(t, rec.NeedsReindex)
	assert.NotEmpty(t, rec.LastError)
	assert.Positive(t, rec.RetryCount)

	assert.Equal(t, 0, f.vector.Count())
	n, err := f.fulltext.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	// A healthy incremental run picks the file back up.
	inc := f.runIncremental(t)
	assert.Equal(t, store.JobStatusCompleted, inc.Status)
	rec, err = f.store.GetFileByPath(ctx, aPath)
	require.NoError(t, err)
	assert.True(t, rec.IsIndexed)
	assert.False(t, rec.NeedsReindex)
	assert.Equal(t, 1, f.vector.Count())
}

func TestFulltextWriteFailureClearsIsIndexed(t *testing.T) {
	f := newFixture(t)
	broken := f.runnerWith(f.vector, &failingFulltext{f.fulltext})
	aPath := f.write(t, "a.txt", "more content that must not surface as indexed")

	ctx := context.Background()
	job, err := f.store.CreateJob(ctx, f.dir, store.JobTypeCreate)
	require.NoError(t, err)
	require.NoError(t, broken.RunFull(ctx, job.ID, []string{f.dir}, nil))

	done, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, done.ErrorCount)

	rec, err := f.store.GetFileByPath(ctx, aPath)
	require.NoError(t, err)
	assert.False(t, rec.IsIndexed)
	assert.Equal(t, store.IndexStatusPending, rec.IndexStatus)
	assert.True(t, rec.NeedsReindex)
}

func TestCheckConsistency(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "first file content")
	f.write(t, "b.txt", "second file content")
	f.runFull(t)

	ctx := context.Background()
	report, err := f.runner.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 2, report.StoreChunks)
	assert.Equal(t, 2, report.VectorChunks)
	assert.Equal(t, uint64(2), report.FulltextDocs)

	// Knock a vector out from under the store.
	rec, err := f.store.GetFileByPath(ctx, filepath.Join(f.dir, "a.txt"))
	require.NoError(t, err)
	chunkIDs, err := f.store.ChunkIDsByFile(ctx, rec.ID)
	require.NoError(t, err)
	f.vector.DeleteByChunkIDs(chunkIDs)

	report, err = f.runner.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	assert.Len(t, report.MissingVectors, 1)
	assert.Empty(t, report.OrphanVectors)
}

func TestRemoveFile(t *testing.T) {
	f := newFixture(t)
	aPath := f.write(t, "a.txt", "content to remove completely")
	f.runFull(t)

	ctx := context.Background()
	rec, err := f.store.GetFileByPath(ctx, aPath)
	require.NoError(t, err)

	require.NoError(t, f.runner.RemoveFile(ctx, rec.ID))

	assert.Equal(t, 0, f.vector.Count())
	n, err := f.fulltext.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
	_, err = f.store.GetFile(ctx, rec.ID)
	assert.Error(t, err)
}

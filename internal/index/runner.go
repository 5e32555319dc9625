// Package index executes full and incremental index jobs: it drives
// scan -> parse -> chunk -> embed -> dual-index writes with bounded
// parallelism, progress emission, cancellation at file boundaries, and
// per-file error isolation.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/findexd/findex/internal/chunk"
	"github.com/findexd/findex/internal/embed"
	findexerr "github.com/findexd/findex/internal/errors"
	"github.com/findexd/findex/internal/parser"
	"github.com/findexd/findex/internal/progress"
	"github.com/findexd/findex/internal/scanner"
	"github.com/findexd/findex/internal/store"
)

// stoppedMessage is the terminal error message for cancelled jobs.
const stoppedMessage = "stopped"

// fatalRatioMinFiles is the minimum attempts before the failure ratio
// can fail a whole job.
const fatalRatioMinFiles = 10

// Config tunes the runner.
type Config struct {
	// Workers bounds per-file build parallelism.
	Workers int

	// BatchSize caps texts per embedding call.
	BatchSize int

	// ChunkThreshold is the minimum text length to chunk.
	ChunkThreshold int

	// ChunkableTypes lists file types eligible for chunking.
	ChunkableTypes []string

	// ScanOptions configures directory walks.
	ScanOptions scanner.ScanOptions
}

// Runner owns index job execution. At most one job runs per folder;
// the store enforces that at job creation.
type Runner struct {
	store    *store.SQLiteStore
	vector   store.VectorIndex
	fulltext store.FullTextIndex
	embedder embed.Embedder
	scanner  *scanner.Scanner
	parser   *parser.Dispatcher
	metadata *parser.MetadataExtractor
	chunker  *chunk.Chunker
	hub      *progress.Hub
	config   Config

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner wires the pipeline stages together.
func NewRunner(
	st *store.SQLiteStore,
	vector store.VectorIndex,
	fulltext store.FullTextIndex,
	embedder embed.Embedder,
	sc *scanner.Scanner,
	pd *parser.Dispatcher,
	me *parser.MetadataExtractor,
	ch *chunk.Chunker,
	hub *progress.Hub,
	cfg Config,
) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embed.DefaultBatchSize
	}
	if cfg.ChunkThreshold <= 0 {
		cfg.ChunkThreshold = 600
	}
	if len(cfg.ChunkableTypes) == 0 {
		cfg.ChunkableTypes = []string{"document", "text", "pdf"}
	}
	return &Runner{
		store:    st,
		vector:   vector,
		fulltext: fulltext,
		embedder: embedder,
		scanner:  sc,
		parser:   pd,
		metadata: me,
		chunker:  ch,
		hub:      hub,
		config:   cfg,
		cancels:  make(map[int64]context.CancelFunc),
	}
}

// Start launches a job asynchronously; job type selects full or
// incremental execution.
func (r *Runner) Start(ctx context.Context, job *store.JobRecord, roots []string, fileTypes []string) {
	jobCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.cancels[job.ID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.cancels, job.ID)
			r.mu.Unlock()
		}()

		var err error
		if job.JobType == store.JobTypeUpdate {
			err = r.RunIncremental(jobCtx, job.ID, roots, fileTypes)
		} else {
			err = r.RunFull(jobCtx, job.ID, roots, fileTypes)
		}
		if err != nil && !findexerr.IsCancelled(err) {
			slog.Error("index_job_failed",
				slog.Int64("job_id", job.ID),
				slog.String("error", err.Error()))
		}
	}()
}

// Stop flips a job's cancellation flag. In-flight per-file work may
// finish; no new file starts.
func (r *Runner) Stop(jobID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.cancels[jobID]; ok {
		cancel()
		return true
	}
	return false
}

// Wait blocks until all running jobs have exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// RunFull executes a full index build over roots.
func (r *Runner) RunFull(ctx context.Context, jobID int64, roots []string, fileTypes []string) error {
	if err := r.store.StartJob(ctx, jobID); err != nil {
		return err
	}
	r.publish(ctx, jobID, "scanning")

	scanOpts := r.config.ScanOptions
	scanOpts.Extensions = fileTypes

	var descriptors []*scanner.FileDescriptor
	scanErrors := 0
	for _, root := range roots {
		results, err := r.scanner.Scan(ctx, root, scanOpts)
		if err != nil {
			return r.fail(ctx, jobID, findexerr.Fatal(fmt.Sprintf("scan %s", root), err))
		}
		files, errs := scanner.Collect(results)
		descriptors = append(descriptors, files...)
		scanErrors += len(errs)
	}
	if ctx.Err() != nil {
		return r.stopJob(ctx, jobID)
	}

	if err := r.store.SetJobTotal(ctx, jobID, len(descriptors)); err != nil {
		return err
	}
	r.publish(ctx, jobID, "indexing")

	var processed int64
	errCount := int64(scanErrors)
	if err := r.buildFiles(ctx, jobID, descriptors, &processed, &errCount); err != nil {
		return err
	}
	return r.finish(ctx, jobID)
}

// RunIncremental diffs roots against the store's view and applies only
// the changes: deleted paths are removed from all three stores, changed
// paths get a per-file full build.
func (r *Runner) RunIncremental(ctx context.Context, jobID int64, roots []string, fileTypes []string) error {
	if err := r.store.StartJob(ctx, jobID); err != nil {
		return err
	}
	r.publish(ctx, jobID, "diffing")

	scanOpts := r.config.ScanOptions
	scanOpts.Extensions = fileTypes

	known, err := r.store.KnownFiles(ctx)
	if err != nil {
		return r.fail(ctx, jobID, findexerr.Fatal("load known files", err))
	}

	var changed []*scanner.FileDescriptor
	var deleted []string
	for _, root := range roots {
		rootKnown := make(map[string]*scanner.KnownFile)
		for path, f := range known {
			if pathUnder(path, root) {
				rootKnown[path] = &scanner.KnownFile{
					Path: f.Path, Size: f.Size, ModTime: f.ModTime, ContentHash: f.ContentHash,
				}
			}
		}
		diff, err := r.scanner.Diff(ctx, root, scanOpts, rootKnown)
		if err != nil {
			if ctx.Err() != nil {
				return r.stopJob(ctx, jobID)
			}
			return r.fail(ctx, jobID, findexerr.Fatal(fmt.Sprintf("diff %s", root), err))
		}
		changed = append(changed, diff.Changed...)
		deleted = append(deleted, diff.Deleted...)
	}

	if err := r.store.SetJobTotal(ctx, jobID, len(changed)+len(deleted)); err != nil {
		return err
	}
	r.publish(ctx, jobID, "indexing")

	var processed, errCount int64
	for _, path := range deleted {
		if ctx.Err() != nil {
			return r.stopJob(ctx, jobID)
		}
		if err := r.removePath(ctx, path, known); err != nil {
			slog.Warn("incremental_delete_failed", slog.String("path", path), slog.String("error", err.Error()))
			atomic.AddInt64(&errCount, 1)
		}
		atomic.AddInt64(&processed, 1)
		r.progressTick(ctx, jobID, &processed, &errCount)
	}

	if err := r.buildFiles(ctx, jobID, changed, &processed, &errCount); err != nil {
		return err
	}
	return r.finish(ctx, jobID)
}

// buildFiles runs the per-file pipeline over descriptors with bounded
// parallelism.
func (r *Runner) buildFiles(ctx context.Context, jobID int64, descriptors []*scanner.FileDescriptor, processed, errCount *int64) error {
	g := new(errgroup.Group)
	g.SetLimit(r.config.Workers)

	for _, fd := range descriptors {
		// Cancellation is observed at file boundaries: in-flight files
		// finish, no new file starts.
		if ctx.Err() != nil {
			break
		}
		fd := fd
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := r.processFile(ctx, fd); err != nil {
				if findexerr.IsCancelled(err) {
					return nil
				}
				atomic.AddInt64(errCount, 1)
			}
			atomic.AddInt64(processed, 1)
			r.progressTick(ctx, jobID, processed, errCount)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return r.stopJob(ctx, jobID)
	}

	attempted := atomic.LoadInt64(processed)
	failures := atomic.LoadInt64(errCount)
	if attempted >= fatalRatioMinFiles && failures*2 > attempted {
		return r.fail(ctx, jobID, findexerr.Newf(findexerr.ErrCodeFatal,
			"aborting: %d of %d files failed", failures, attempted))
	}
	return nil
}

// processFile runs the strictly ordered per-file pipeline:
// metadata -> parse -> chunk -> embed -> transactional dual-index write.
// Failures are isolated to the file.
func (r *Runner) processFile(ctx context.Context, fd *scanner.FileDescriptor) error {
	if err := ctx.Err(); err != nil {
		return findexerr.Cancelled("job stopped")
	}

	meta := r.metadata.Extract(fd.Path)
	content := r.parser.Parse(ctx, fd.Path)
	if content.Failed() {
		r.recordFileFailure(ctx, fd, meta, content.Metadata["error"])
		return findexerr.New(findexerr.ErrCodeParseFailed, content.Metadata["error"], nil)
	}

	chunks, isChunked := r.chunkContent(fd, content)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, embedFailures := embed.BatchWithFallback(ctx, r.embedder, texts, r.config.BatchSize)
	if err := ctx.Err(); err != nil {
		return findexerr.Cancelled("job stopped")
	}

	confidence := content.Confidence
	if embedFailures > 0 {
		confidence = confidence / 2
	}

	now := time.Now().UTC()
	fileRec := r.buildFileRecord(fd, meta, content, chunks, isChunked, confidence, now)
	chunkRecs := make([]*store.ChunkRecord, len(chunks))
	for i, c := range chunks {
		chunkRecs[i] = &store.ChunkRecord{
			ChunkIndex:    c.Index,
			Content:       c.Text,
			ContentLength: c.Len(),
			StartPosition: c.StartPos,
			EndPosition:   c.EndPos,
			IsIndexed:     true,
			IndexStatus:   store.IndexStatusCompleted,
			IndexedAt:     now,
		}
	}

	// Previous chunk IDs, for secondary-index cleanup after the swap.
	var oldChunkIDs []int64
	if prev, err := r.store.GetFileByPath(ctx, fd.Path); err == nil {
		oldChunkIDs, _ = r.store.ChunkIDsByFile(ctx, prev.ID)
	}

	fileID, chunkIDs, err := r.store.SaveFileWithChunks(ctx, fileRec, chunkRecs)
	if err != nil {
		r.recordFileFailure(ctx, fd, meta, err.Error())
		return findexerr.Wrap(findexerr.ErrCodeIndexWrite, err)
	}

	if len(oldChunkIDs) > 0 {
		r.vector.DeleteByChunkIDs(oldChunkIDs)
	}
	if _, err := r.fulltext.DeleteByFileID(ctx, fileID); err != nil {
		return r.indexWriteFailed(ctx, fileID, err)
	}

	metas := make([]*store.VectorSideMeta, len(chunkRecs))
	docs := make([]*store.FullTextDoc, len(chunkRecs))
	for i, c := range chunkRecs {
		metas[i] = &store.VectorSideMeta{
			ChunkID:      chunkIDs[i],
			FileID:       fileID,
			FileName:     fd.Name,
			FilePath:     fd.Path,
			FileType:     string(fd.Type),
			FileSize:     fd.Size,
			ModifiedTime: fd.ModTime,
			CreatedAt:    now,
		}
		docs[i] = &store.FullTextDoc{
			ID:            store.DocID(fileID, c.ChunkIndex),
			ChunkID:       chunkIDs[i],
			FileID:        fileID,
			FileName:      fd.Name,
			FilePath:      fd.Path,
			FileType:      string(fd.Type),
			Title:         fileRec.Title,
			Content:       c.Content,
			ChunkIndex:    c.ChunkIndex,
			StartPosition: c.StartPosition,
			EndPosition:   c.EndPosition,
			ContentLength: c.ContentLength,
			ModifiedTime:  fd.ModTime,
			CreatedAt:     now,
		}
	}

	if _, err := r.vector.Add(ctx, vectors, metas); err != nil {
		return r.indexWriteFailed(ctx, fileID, err)
	}
	if err := r.fulltext.AddDocuments(ctx, docs); err != nil {
		return r.indexWriteFailed(ctx, fileID, err)
	}

	slog.Debug("file_indexed",
		slog.String("path", fd.Path),
		slog.Int("chunks", len(chunkRecs)),
		slog.Bool("chunked", isChunked))
	return nil
}

// indexWriteFailed undoes file visibility after a secondary-index write
// failure. The committed row must not keep claiming is_indexed while
// the vector/fulltext entries are missing: the failure is recorded
// (clearing is_indexed, bumping retry_count), then the file goes back
// to pending so a retry rebuilds it.
func (r *Runner) indexWriteFailed(ctx context.Context, fileID int64, cause error) error {
	bg := context.WithoutCancel(ctx)
	if err := r.store.SetFileStatus(bg, fileID, store.IndexStatusFailed, cause.Error()); err != nil {
		slog.Warn("index_rollback_failed", slog.Int64("file_id", fileID), slog.String("error", err.Error()))
	}
	if err := r.store.MarkReindex(bg, fileID); err != nil {
		slog.Warn("index_rollback_failed", slog.Int64("file_id", fileID), slog.String("error", err.Error()))
	}
	return findexerr.Wrap(findexerr.ErrCodeIndexWrite, cause)
}

// chunkContent applies the chunkability rule: eligible type, length over
// threshold, and paragraph-like structure. Ineligible content is wrapped
// as a single chunk.
func (r *Runner) chunkContent(fd *scanner.FileDescriptor, content *parser.ParsedContent) ([]*chunk.Chunk, bool) {
	text := content.Text
	eligible := false
	for _, t := range r.config.ChunkableTypes {
		if t == string(fd.Type) {
			eligible = true
			break
		}
	}
	if eligible && len([]rune(text)) > r.config.ChunkThreshold && chunk.HasParagraphMarkers(text) {
		return r.chunker.Chunk(text), true
	}
	return []*chunk.Chunk{{Index: 0, StartPos: 0, EndPos: len([]rune(text)), Text: text}}, false
}

func (r *Runner) buildFileRecord(fd *scanner.FileDescriptor, meta *parser.Metadata, content *parser.ParsedContent, chunks []*chunk.Chunk, isChunked bool, confidence float64, now time.Time) *store.FileRecord {
	avg := 0
	if len(chunks) > 0 {
		total := 0
		for _, c := range chunks {
			total += c.Len()
		}
		avg = total / len(chunks)
	}
	title := content.Title
	if title == "" {
		title = meta.Title
	}
	return &store.FileRecord{
		Path:            fd.Path,
		Name:            fd.Name,
		Ext:             fd.Ext,
		Type:            string(fd.Type),
		Size:            fd.Size,
		ModTime:         fd.ModTime,
		CTime:           now,
		IndexedAt:       now,
		ContentHash:     fd.ContentHash,
		Mime:            fd.Mime,
		Title:           title,
		Author:          meta.Author,
		Keywords:        meta.Keywords,
		ContentLength:   len([]rune(content.Text)),
		WordCount:       content.WordCount(),
		ParseConfidence: confidence,
		IndexStatus:     store.IndexStatusCompleted,
		IsIndexed:       true,
		NeedsReindex:    false,
		IsChunked:       isChunked,
		TotalChunks:     len(chunks),
		ChunkStrategy:   r.chunker.Strategy(),
		AvgChunkSize:    avg,
	}
}

// recordFileFailure upserts a failed file row so retries and operators
// can see what happened. The job keeps going.
func (r *Runner) recordFileFailure(ctx context.Context, fd *scanner.FileDescriptor, meta *parser.Metadata, parseErr string) {
	bg := context.WithoutCancel(ctx)
	rec := &store.FileRecord{
		Path:        fd.Path,
		Name:        fd.Name,
		Ext:         fd.Ext,
		Type:        string(fd.Type),
		Size:        fd.Size,
		ModTime:     fd.ModTime,
		ContentHash: fd.ContentHash,
		Mime:        fd.Mime,
		Title:       meta.Title,
		IndexStatus: store.IndexStatusFailed,
		LastError:   parseErr,
	}
	if prev, err := r.store.GetFileByPath(bg, fd.Path); err == nil {
		rec.RetryCount = prev.RetryCount + 1
	}
	if _, _, err := r.store.SaveFileWithChunks(bg, rec, nil); err != nil {
		slog.Warn("record_failure_failed", slog.String("path", fd.Path), slog.String("error", err.Error()))
	}
}

// removePath deletes a vanished file from all three stores.
func (r *Runner) removePath(ctx context.Context, path string, known map[string]*store.FileRecord) error {
	rec, ok := known[path]
	if !ok {
		var err error
		rec, err = r.store.GetFileByPath(ctx, path)
		if err != nil {
			return err
		}
	}
	return r.RemoveFile(ctx, rec.ID)
}

// RemoveFile deletes a file and its chunks from the relational store
// and both secondary indexes.
func (r *Runner) RemoveFile(ctx context.Context, fileID int64) error {
	chunkIDs, err := r.store.ChunkIDsByFile(ctx, fileID)
	if err != nil {
		return err
	}
	if err := r.store.DeleteFile(ctx, fileID); err != nil {
		return err
	}
	r.vector.DeleteByChunkIDs(chunkIDs)
	if _, err := r.fulltext.DeleteByFileID(ctx, fileID); err != nil {
		return findexerr.Wrap(findexerr.ErrCodeIndexWrite, err)
	}
	return nil
}

// --- job bookkeeping ---

func (r *Runner) progressTick(ctx context.Context, jobID int64, processed, errCount *int64) {
	bg := context.WithoutCancel(ctx)
	p := int(atomic.LoadInt64(processed))
	e := int(atomic.LoadInt64(errCount))
	if err := r.store.UpdateJobProgress(bg, jobID, p, e); err != nil {
		slog.Warn("progress_update_failed", slog.Int64("job_id", jobID), slog.String("error", err.Error()))
	}
	r.publish(bg, jobID, "")
}

func (r *Runner) publish(ctx context.Context, jobID int64, message string) {
	job, err := r.store.GetJob(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return
	}
	p := 0.0
	if job.TotalFiles > 0 {
		p = float64(job.ProcessedFiles) / float64(job.TotalFiles)
	}
	r.hub.Publish(progress.Snapshot{
		JobID:          jobID,
		Status:         job.Status,
		Progress:       p,
		ProcessedFiles: job.ProcessedFiles,
		TotalFiles:     job.TotalFiles,
		ErrorCount:     job.ErrorCount,
		Message:        message,
	})
}

// finish persists both indexes and marks the job completed.
func (r *Runner) finish(ctx context.Context, jobID int64) error {
	if err := r.vector.Persist(); err != nil {
		return r.fail(ctx, jobID, findexerr.Wrap(findexerr.ErrCodeIndexWrite, err))
	}
	if err := r.store.FinishJob(context.WithoutCancel(ctx), jobID, store.JobStatusCompleted, ""); err != nil {
		return err
	}
	r.publish(ctx, jobID, "")
	return nil
}

// stopJob flushes partial state and records the cancelled terminal state.
func (r *Runner) stopJob(ctx context.Context, jobID int64) error {
	if err := r.vector.Persist(); err != nil {
		slog.Warn("persist_on_stop_failed", slog.Int64("job_id", jobID), slog.String("error", err.Error()))
	}
	bg := context.WithoutCancel(ctx)
	if err := r.store.FinishJob(bg, jobID, store.JobStatusFailed, stoppedMessage); err != nil {
		return err
	}
	r.publish(bg, jobID, stoppedMessage)
	return findexerr.Cancelled(stoppedMessage)
}

// fail records a job-level failure.
func (r *Runner) fail(ctx context.Context, jobID int64, cause error) error {
	bg := context.WithoutCancel(ctx)
	if err := r.store.FinishJob(bg, jobID, store.JobStatusFailed, cause.Error()); err != nil {
		slog.Warn("finish_failed_job_failed", slog.Int64("job_id", jobID), slog.String("error", err.Error()))
	}
	r.publish(bg, jobID, cause.Error())
	return cause
}

func pathUnder(path, root string) bool {
	if path == root {
		return true
	}
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return strings.HasPrefix(path, root)
}

// Package engine assembles the findex subsystems from configuration and
// exposes the consumer API: index builds, job control, progress
// subscriptions, search, and multimodal search. It is the explicit
// services aggregate; Close tears subsystems down in reverse dependency
// order.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/findexd/findex/internal/ai"
	"github.com/findexd/findex/internal/chunk"
	"github.com/findexd/findex/internal/config"
	"github.com/findexd/findex/internal/embed"
	findexerr "github.com/findexd/findex/internal/errors"
	"github.com/findexd/findex/internal/index"
	"github.com/findexd/findex/internal/parser"
	"github.com/findexd/findex/internal/progress"
	"github.com/findexd/findex/internal/scanner"
	"github.com/findexd/findex/internal/search"
	"github.com/findexd/findex/internal/store"
	"github.com/findexd/findex/internal/watcher"
)

// Service owns every subsystem of a findex process.
type Service struct {
	cfg *config.Config

	lock     *flock.Flock
	store    *store.SQLiteStore
	vector   store.VectorIndex
	fulltext store.FullTextIndex
	embedder embed.Embedder
	speech   ai.SpeechPredictor
	image    ai.ImagePredictor
	parser   *parser.Dispatcher
	scanner  *scanner.Scanner
	chunker  *chunk.Chunker
	hub      *progress.Hub
	runner   *index.Runner
	engine   *search.Engine
	watch    *watcher.Watcher

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New builds a Service from configuration. The data root is locked
// against concurrent processes.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, findexerr.New(findexerr.ErrCodeConfigInvalid, err.Error(), err)
	}
	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		return nil, findexerr.Fatal("data root unreachable", err)
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, findexerr.Fatal("acquire data root lock", err)
	}
	if !locked {
		return nil, findexerr.New(findexerr.ErrCodeDataRootLocked,
			fmt.Sprintf("another findex process owns %s", cfg.DataRoot), nil)
	}

	s := &Service{cfg: cfg, lock: lock}
	if err := s.build(ctx); err != nil {
		_ = lock.Unlock()
		s.closePartial()
		return nil, err
	}
	return s, nil
}

func (s *Service) build(ctx context.Context) error {
	cfg := s.cfg
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	st, err := store.OpenSQLite(cfg.DBPath())
	if err != nil {
		return findexerr.Fatal("open relational store", err)
	}
	s.store = st

	vec, err := store.OpenHNSW(cfg.VectorIndexPath(), cfg.Embedding.Dim, store.HNSWOptions{
		M:        cfg.Vector.M,
		EfSearch: cfg.Vector.EfSearch,
	})
	if err != nil {
		return findexerr.Fatal("open vector index", err)
	}
	s.vector = vec

	ft, err := store.OpenBleve(cfg.FulltextIndexPath(), store.BleveConfig{
		UseCJKAnalyzer: cfg.Fulltext.UseCJKAnalyzer,
	})
	if err != nil {
		return findexerr.Fatal("open fulltext index", err)
	}
	s.fulltext = ft

	s.embedder = newEmbedder(ctx, cfg)

	if cfg.AI.SpeechEndpoint != "" {
		s.speech = ai.NewHTTPSpeech(ai.SpeechConfig{
			Endpoint:    cfg.AI.SpeechEndpoint,
			Timeout:     cfg.AI.SpeechTimeout,
			MaxDuration: cfg.AI.SpeechMaxDuration,
		})
	}
	if cfg.AI.ImageEndpoint != "" {
		s.image = ai.NewHTTPImage(ai.ImageConfig{
			Endpoint:      cfg.AI.ImageEndpoint,
			Timeout:       cfg.AI.ImageTimeout,
			MinConfidence: cfg.AI.OCRMinConfidence,
		})
	}

	s.parser = parser.New(parser.Config{
		MaxContentLength:  cfg.Parser.MaxContentLength,
		StripGarbage:      cfg.Parser.StripGarbage,
		OCRMinConfidence:  cfg.AI.OCRMinConfidence,
		SpeechMaxDuration: cfg.AI.SpeechMaxDuration,
	}, s.speech, s.image, ai.NewFFmpegExtractor())

	s.scanner = scanner.New(cfg.Scanner.SupportedExtensions, cfg.Scanner.MaxFileSize, cfg.Scanner.MaxWorkers)
	s.chunker = chunk.New(cfg.Chunk.DefaultSize, cfg.Chunk.Overlap, cfg.Chunk.Threshold)
	s.hub = progress.NewHub()

	s.runner = index.NewRunner(st, vec, ft, s.embedder, s.scanner, s.parser,
		parser.NewMetadataExtractor(), s.chunker, s.hub, index.Config{
			Workers:        cfg.Job.MaxConcurrentFiles,
			BatchSize:      cfg.Embedding.BatchSize,
			ChunkThreshold: cfg.Chunk.Threshold,
			ChunkableTypes: cfg.Chunk.AutoTypes,
			ScanOptions:    scanner.ScanOptions{Recursive: true},
		})

	eng, err := search.NewEngine(st, vec, ft, s.embedder, s.speech, s.image, search.EngineConfig{
		HybridBoost:  cfg.Search.HybridBoost,
		RRF:          cfg.Search.RRF,
		RRFConstant:  cfg.Search.RRFConstant,
		DefaultLimit: cfg.Search.DefaultLimit,
		Boosts:       cfg.Fulltext.Boosts,
	})
	if err != nil {
		return err
	}
	s.engine = eng
	return nil
}

// newEmbedder prefers the configured neural endpoint and degrades to
// the deterministic static embedder when it is unreachable.
func newEmbedder(ctx context.Context, cfg *config.Config) embed.Embedder {
	if strings.EqualFold(os.Getenv("FINDEX_EMBEDDER"), "static") {
		return embed.NewCachedEmbedder(embed.NewStaticEmbedder(cfg.Embedding.Dim), cfg.Embedding.CacheSize)
	}

	ollama, err := embed.NewOllamaEmbedder(ctx, embed.OllamaConfig{
		Host:       cfg.Embedding.OllamaHost,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dim,
		BatchSize:  cfg.Embedding.BatchSize,
		Timeout:    cfg.Embedding.Timeout,
	})
	if err != nil {
		slog.Warn("embedder_fallback_static",
			slog.String("host", cfg.Embedding.OllamaHost),
			slog.String("error", err.Error()))
		return embed.NewCachedEmbedder(embed.NewStaticEmbedder(cfg.Embedding.Dim), cfg.Embedding.CacheSize)
	}
	return embed.NewCachedEmbedder(ollama, cfg.Embedding.CacheSize)
}

// --- consumer API ---

// BuildFullIndex creates and starts a full index job over roots.
// Returns Conflict when a job for the same roots is already running.
func (s *Service) BuildFullIndex(ctx context.Context, roots []string, fileTypes []string) (int64, error) {
	return s.startJob(ctx, roots, fileTypes, store.JobTypeCreate)
}

// BuildIncrementalIndex creates and starts an incremental job over roots.
func (s *Service) BuildIncrementalIndex(ctx context.Context, roots []string, fileTypes []string) (int64, error) {
	return s.startJob(ctx, roots, fileTypes, store.JobTypeUpdate)
}

func (s *Service) startJob(ctx context.Context, roots []string, fileTypes []string, jobType store.JobType) (int64, error) {
	if len(roots) == 0 {
		return 0, findexerr.Invalid("at least one root path is required")
	}
	abs := make([]string, 0, len(roots))
	for _, root := range roots {
		if strings.TrimSpace(root) == "" {
			return 0, findexerr.Invalid("empty root path")
		}
		a, err := filepath.Abs(root)
		if err != nil {
			return 0, findexerr.Invalid("bad root path %q: %v", root, err)
		}
		if info, err := os.Stat(a); err != nil || !info.IsDir() {
			return 0, findexerr.Invalid("root path %q is not a directory", root)
		}
		abs = append(abs, a)
	}

	job, err := s.store.CreateJob(ctx, strings.Join(abs, ";"), jobType)
	if err != nil {
		if findexerr.IsConflict(err) && job != nil {
			return job.ID, err
		}
		return 0, err
	}

	// Jobs outlive the calling request; they stop via StopJob or Close.
	s.runner.Start(s.baseCtx, job, abs, fileTypes)
	return job.ID, nil
}

// GetJob returns the job snapshot.
func (s *Service) GetJob(ctx context.Context, jobID int64) (*store.JobRecord, error) {
	return s.store.GetJob(ctx, jobID)
}

// ListJobs returns recent jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, limit int) ([]*store.JobRecord, error) {
	return s.store.ListJobs(ctx, limit)
}

// StopJob cancels a running job. The job terminates as
// failed("stopped") once the runner observes the flag.
func (s *Service) StopJob(ctx context.Context, jobID int64) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	if !s.runner.Stop(jobID) {
		// Not running here (e.g. created but never started): close it out.
		return s.store.FinishJob(ctx, jobID, store.JobStatusFailed, "stopped")
	}
	return nil
}

// SubscribeJob streams job snapshots. For terminal jobs the stream
// carries one final snapshot and closes.
func (s *Service) SubscribeJob(ctx context.Context, jobID int64) (<-chan progress.Snapshot, func(), error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status.Terminal() {
		ch := make(chan progress.Snapshot, 1)
		p := 0.0
		if job.TotalFiles > 0 {
			p = float64(job.ProcessedFiles) / float64(job.TotalFiles)
		}
		ch <- progress.Snapshot{
			JobID:          jobID,
			Status:         job.Status,
			Progress:       p,
			ProcessedFiles: job.ProcessedFiles,
			TotalFiles:     job.TotalFiles,
			ErrorCount:     job.ErrorCount,
			Message:        job.ErrorMessage,
			Timestamp:      time.Now().UTC(),
		}
		close(ch)
		return ch, func() {}, nil
	}
	ch, cancel := s.hub.Subscribe(jobID)
	return ch, cancel, nil
}

// Search answers a text query.
func (s *Service) Search(ctx context.Context, query string, searchType string, opts search.Options) (*search.Response, error) {
	typ, err := search.ParseType(searchType)
	if err != nil {
		return nil, err
	}
	return s.engine.Search(ctx, query, typ, opts)
}

// MultimodalSearch answers a voice or image query.
func (s *Service) MultimodalSearch(ctx context.Context, inputType string, payload []byte, searchType string, opts search.Options) (*search.Response, error) {
	it, err := search.ParseInputType(inputType)
	if err != nil {
		return nil, err
	}
	typ, err := search.ParseType(searchType)
	if err != nil {
		return nil, err
	}
	return s.engine.MultimodalSearch(ctx, it, payload, typ, opts)
}

// Suggest returns term completions for a prefix.
func (s *Service) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	return s.engine.Suggest(ctx, prefix, limit)
}

// DeleteFile removes a file from the relational store and both indexes.
func (s *Service) DeleteFile(ctx context.Context, fileID int64) error {
	return s.runner.RemoveFile(ctx, fileID)
}

// Reindex marks a file for reindexing and enqueues an incremental job
// over its folder. Calling it twice converges to the same state.
func (s *Service) Reindex(ctx context.Context, fileID int64) error {
	rec, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	// MarkReindex also invalidates the stored stat, so the next diff
	// flags the path as changed.
	if err := s.store.MarkReindex(ctx, fileID); err != nil {
		return err
	}
	_, err = s.BuildIncrementalIndex(ctx, []string{filepath.Dir(rec.Path)}, nil)
	if findexerr.IsConflict(err) {
		return nil // the running job will pick the file up
	}
	return err
}

// Stats summarizes the engine state.
type Stats struct {
	Files          *store.StoreStats
	VectorCount    int
	VectorDim      int
	FulltextDocs   uint64
	EmbedderModel  string
	RecentSearches []*store.SearchHistoryRecord
}

// Stats collects counters from all three stores.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	fs, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := s.fulltext.Count()
	if err != nil {
		return nil, err
	}
	recent, err := s.store.RecentSearches(ctx, 10)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Files:          fs,
		VectorCount:    s.vector.Count(),
		VectorDim:      s.vector.Dim(),
		FulltextDocs:   docs,
		EmbedderModel:  s.embedder.ModelName(),
		RecentSearches: recent,
	}, nil
}

// CheckConsistency cross-checks the relational store against both
// secondary indexes.
func (s *Service) CheckConsistency(ctx context.Context) (*index.ConsistencyReport, error) {
	return s.runner.CheckConsistency(ctx)
}

// Watch runs the directory watcher until ctx is done, triggering
// incremental jobs after changes settle.
func (s *Service) Watch(ctx context.Context, roots []string) error {
	w, err := watcher.New(s.cfg.Watcher.Debounce, func(trigCtx context.Context) {
		if _, err := s.BuildIncrementalIndex(trigCtx, roots, nil); err != nil && !findexerr.IsConflict(err) {
			slog.Warn("watch_incremental_failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return err
	}
	s.watch = w
	for _, root := range roots {
		if err := w.Add(root); err != nil {
			_ = w.Close()
			return err
		}
	}
	w.Run(ctx)
	return w.Close()
}

// Close tears down in reverse dependency order: watcher, runner (waited
// on), vector persist, indexes, store, embedder, lock.
func (s *Service) Close() error {
	if s.cancelBase != nil {
		s.cancelBase()
	}
	if s.watch != nil {
		_ = s.watch.Close()
	}
	if s.runner != nil {
		s.runner.Wait()
	}
	if s.vector != nil {
		if err := s.vector.Persist(); err != nil {
			slog.Warn("vector_persist_on_close_failed", slog.String("error", err.Error()))
		}
	}
	s.closePartial()
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	return nil
}

func (s *Service) closePartial() {
	if s.fulltext != nil {
		_ = s.fulltext.Close()
	}
	if s.vector != nil {
		_ = s.vector.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.embedder != nil {
		_ = s.embedder.Close()
	}
}

package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/findexd/findex/internal/ai"
	"github.com/findexd/findex/internal/embed"
	findexerr "github.com/findexd/findex/internal/errors"
	"github.com/findexd/findex/internal/scanner"
	"github.com/findexd/findex/internal/store"
)

// overFetchFactor is how many chunk hits each retriever returns per
// requested file result, before grouping collapses chunks to files.
const overFetchFactor = 3

// EngineConfig tunes query behavior.
type EngineConfig struct {
	// HybridBoost multiplies scores of chunks found by both retrievers.
	HybridBoost float64

	// RRF switches hybrid fusion to weighted reciprocal rank fusion.
	RRF bool

	// RRFConstant is the RRF smoothing parameter k.
	RRFConstant int

	// DefaultLimit applies when the caller passes no limit.
	DefaultLimit int

	// Boosts are full-text field boosts.
	Boosts map[string]float64
}

// Engine is the unified query entry point.
type Engine struct {
	store    *store.SQLiteStore
	vector   store.VectorIndex
	fulltext store.FullTextIndex
	embedder embed.Embedder
	speech   ai.SpeechPredictor
	image    ai.ImagePredictor
	config   EngineConfig
}

// NewEngine creates the engine. speech and image may be nil; the
// multimodal entries then surface service-unavailable.
func NewEngine(
	st *store.SQLiteStore,
	vector store.VectorIndex,
	fulltext store.FullTextIndex,
	embedder embed.Embedder,
	speech ai.SpeechPredictor,
	image ai.ImagePredictor,
	cfg EngineConfig,
) (*Engine, error) {
	if st == nil || vector == nil || fulltext == nil || embedder == nil {
		return nil, findexerr.Invalid("engine requires store, vector index, fulltext index, and embedder")
	}
	if cfg.HybridBoost <= 0 {
		cfg.HybridBoost = 1.2
	}
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = DefaultRRFConstant
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	return &Engine{
		store:    st,
		vector:   vector,
		fulltext: fulltext,
		embedder: embedder,
		speech:   speech,
		image:    image,
		config:   cfg,
	}, nil
}

// Search answers a text query. Hybrid runs both retrievers in parallel
// and degrades to the surviving one when a path fails.
func (e *Engine) Search(ctx context.Context, query string, typ Type, opts Options) (*Response, error) {
	return e.search(ctx, query, typ, opts, InputTypeText)
}

func (e *Engine) search(ctx context.Context, query string, typ Type, opts Options, input InputType) (*Response, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, findexerr.Invalid("query must not be empty")
	}
	if typ == "" {
		typ = TypeHybrid
	}
	if opts.Limit <= 0 {
		opts.Limit = e.config.DefaultLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	fetch := opts.Limit * overFetchFactor

	var semantic, lexical []*chunkHit
	var semErr, lexErr error

	g, gctx := errgroup.WithContext(ctx)
	if typ == TypeSemantic || typ == TypeHybrid {
		g.Go(func() error {
			semantic, semErr = e.semanticSearch(gctx, query, fetch, opts.Threshold)
			return nil
		})
	}
	if typ == TypeFulltext || typ == TypeHybrid {
		g.Go(func() error {
			lexical, lexErr = e.lexicalSearch(gctx, query, fetch)
			return nil
		})
	}
	_ = g.Wait()

	resp := &Response{Type: typ}
	switch {
	case typ == TypeSemantic && semErr != nil:
		return nil, semErr
	case typ == TypeFulltext && lexErr != nil:
		return nil, lexErr
	case typ == TypeHybrid && semErr != nil && lexErr != nil:
		resp.Degraded = "both retrieval paths failed: " + semErr.Error()
		resp.Results = []*Result{}
		resp.ElapsedMs = time.Since(start).Milliseconds()
		return resp, nil
	case typ == TypeHybrid && semErr != nil:
		resp.Degraded = "semantic path failed, lexical only: " + semErr.Error()
		semantic = nil
	case typ == TypeHybrid && lexErr != nil:
		resp.Degraded = "lexical path failed, semantic only: " + lexErr.Error()
		lexical = nil
	}

	var fused []*chunkHit
	switch {
	case typ == TypeSemantic:
		fused = sortHits(semantic)
	case typ == TypeFulltext:
		fused = sortHits(lexical)
	case e.config.RRF:
		fused = fuseRRF(semantic, lexical, e.config.RRFConstant, DefaultWeights())
	default:
		fused = fuseBoost(semantic, lexical, e.config.HybridBoost)
	}

	fused = e.filterFileTypes(fused, opts.FileTypes)
	grouped := groupByFile(fused)

	// Page at the file level.
	if opts.Offset >= len(grouped) {
		grouped = nil
	} else {
		grouped = grouped[opts.Offset:]
	}
	if len(grouped) > opts.Limit {
		grouped = grouped[:opts.Limit]
	}

	results := make([]*Result, 0, len(grouped))
	for _, h := range grouped {
		results = append(results, e.enrich(ctx, h, query))
	}

	resp.Results = results
	resp.Total = len(results)
	resp.ElapsedMs = time.Since(start).Milliseconds()

	e.recordHistory(ctx, query, input, typ, len(results), resp.ElapsedMs)
	return resp, nil
}

// MultimodalSearch converts a voice or image payload to text, then runs
// the text search. Predictor unavailability surfaces as an error, never
// as a silent empty result.
func (e *Engine) MultimodalSearch(ctx context.Context, inputType InputType, payload []byte, typ Type, opts Options) (*Response, error) {
	if len(payload) == 0 {
		return nil, findexerr.Invalid("empty %s payload", inputType)
	}

	var converted string
	var confidence float64

	switch inputType {
	case InputTypeVoice:
		if e.speech == nil {
			return nil, findexerr.New(findexerr.ErrCodePredictorUnavailable, "speech predictor not configured", nil)
		}
		tr, err := e.speech.Transcribe(ctx, payload)
		if err != nil {
			return nil, err
		}
		converted, confidence = tr.Text, tr.Confidence
	case InputTypeImage:
		if e.image == nil {
			return nil, findexerr.New(findexerr.ErrCodePredictorUnavailable, "image predictor not configured", nil)
		}
		desc, err := e.image.Describe(ctx, payload)
		if err != nil {
			return nil, err
		}
		converted, confidence = desc.Text, desc.Confidence
	default:
		return nil, findexerr.Invalid("unknown input type %q", inputType)
	}

	converted = strings.TrimSpace(converted)
	if converted == "" {
		return nil, findexerr.Newf(findexerr.ErrCodeParseFailed, "no text recognized in %s input", inputType)
	}

	resp, err := e.search(ctx, converted, typ, opts, inputType)
	if err != nil {
		return nil, err
	}
	resp.ConvertedText = converted
	resp.Confidence = confidence
	return resp, nil
}

// Suggest returns term completions from the full-text index.
func (e *Engine) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	return e.fulltext.Suggest(ctx, prefix, "content", limit)
}

// semanticSearch embeds the query and resolves nearest chunks.
func (e *Engine) semanticSearch(ctx context.Context, query string, k int, threshold float64) ([]*chunkHit, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := e.vector.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}

	out := make([]*chunkHit, 0, len(hits))
	for i, h := range hits {
		sim := float64(h.Similarity)
		if sim < threshold {
			continue
		}
		out = append(out, &chunkHit{
			chunkID:   h.Meta.ChunkID,
			fileID:    h.Meta.FileID,
			score:     sim,
			semRank:   i + 1,
			matchType: MatchSemantic,
			fileName:  h.Meta.FileName,
			filePath:  h.Meta.FilePath,
			fileType:  h.Meta.FileType,
		})
	}
	return out, nil
}

// lexicalSearch runs the boosted multi-field full-text query.
func (e *Engine) lexicalSearch(ctx context.Context, query string, k int) ([]*chunkHit, error) {
	hits, err := e.fulltext.Search(ctx, &store.FullTextQuery{
		Query:  query,
		Fields: []string{"content", "file_name", "title"},
		Limit:  k,
		Boosts: e.config.Boosts,
	})
	if err != nil {
		return nil, err
	}

	out := make([]*chunkHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, &chunkHit{
			chunkID:    h.ChunkID,
			fileID:     h.FileID,
			chunkIndex: int(fieldFloat(h.Fields, "chunk_index")),
			score:      h.Score,
			lexRank:    h.Rank,
			matchType:  MatchFulltext,
			fileName:   store.FieldString(h.Fields, "file_name"),
			filePath:   store.FieldString(h.Fields, "file_path"),
			fileType:   store.FieldString(h.Fields, "file_type"),
			content:    store.FieldString(h.Fields, "content"),
		})
	}
	return out, nil
}

// filterFileTypes applies the mapped-type filter, canonicalizing
// extension values like ".pdf".
func (e *Engine) filterFileTypes(hits []*chunkHit, types []string) []*chunkHit {
	if len(types) == 0 {
		return hits
	}
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[canonicalType(t)] = struct{}{}
	}
	out := hits[:0]
	for _, h := range hits {
		if _, ok := allowed[canonicalType(h.fileType)]; ok {
			out = append(out, h)
		}
	}
	return out
}

// canonicalType maps an extension or stored value to a file type.
func canonicalType(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if strings.HasPrefix(v, ".") {
		return string(scanner.DetectType("x" + v))
	}
	return v
}

// enrich resolves DB records and builds the preview and highlight.
func (e *Engine) enrich(ctx context.Context, h *chunkHit, query string) *Result {
	r := &Result{
		FileID:         h.fileID,
		FileName:       h.fileName,
		FilePath:       h.filePath,
		FileType:       h.fileType,
		RelevanceScore: h.score,
		MatchType:      h.matchType,
		ChunkID:        h.chunkID,
		ChunkIndex:     h.chunkIndex,
	}

	content := h.content
	if chunkRec, err := e.store.GetChunk(ctx, h.chunkID); err == nil {
		content = chunkRec.Content
		r.ChunkIndex = chunkRec.ChunkIndex
	}
	if fileRec, err := e.store.GetFile(ctx, h.fileID); err == nil {
		r.FileName = fileRec.Name
		r.FilePath = fileRec.Path
		r.FileType = fileRec.Type
		r.FileSize = fileRec.Size
		r.CreatedAt = fileRec.CTime
		r.ModifiedAt = fileRec.ModTime
	}

	r.PreviewText = Preview(content, 200)
	r.Highlight = HighlightWindow(content, query, 100)
	return r
}

func (e *Engine) recordHistory(ctx context.Context, query string, input InputType, typ Type, results int, elapsedMs int64) {
	err := e.store.AddSearchHistory(context.WithoutCancel(ctx), &store.SearchHistoryRecord{
		Query:          query,
		InputType:      string(input),
		SearchType:     string(typ),
		ModelsUsed:     e.embedder.ModelName(),
		ResultCount:    results,
		ResponseTimeMs: elapsedMs,
	})
	if err != nil {
		slog.Warn("search_history_failed", slog.String("error", err.Error()))
	}
}

func fieldFloat(fields map[string]any, name string) float64 {
	if v, ok := fields[name].(float64); ok {
		return v
	}
	return 0
}

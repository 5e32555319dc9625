package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	// Register the unicode tokenizer and CJK token filters.
	_ "github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	_ "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"

	findexerr "github.com/findexd/findex/internal/errors"
)

const (
	// findexAnalyzerName is the custom analyzer for content fields.
	findexAnalyzerName = "findex_text"

	// deleteBatchSize bounds per-iteration deletes in DeleteByFileID.
	deleteBatchSize = 1000
)

// defaultSearchFields are consulted when a query names no fields.
var defaultSearchFields = []string{"content", "file_name", "title"}

// DefaultFieldBoosts are the standard relevance boosts.
var DefaultFieldBoosts = map[string]float64{
	"title":     1.5,
	"file_name": 1.3,
	"content":   1.0,
}

// BleveConfig configures the full-text index.
type BleveConfig struct {
	// UseCJKAnalyzer adds width normalization and CJK bigram filtering.
	UseCJKAnalyzer bool
}

// BleveIndex implements FullTextIndex on Bleve v2.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	config BleveConfig
	closed bool
}

var _ FullTextIndex = (*BleveIndex)(nil)

// OpenBleve opens or creates the full-text index directory at path.
// An empty path creates an in-memory index for tests.
func OpenBleve(path string, cfg BleveConfig) (*BleveIndex, error) {
	idx, err := openBleveIndex(path, cfg)
	if err != nil {
		return nil, err
	}
	return &BleveIndex{index: idx, path: path, config: cfg}, nil
}

func openBleveIndex(path string, cfg BleveConfig) (bleve.Index, error) {
	im, err := buildIndexMapping(cfg)
	if err != nil {
		return nil, err
	}

	if path == "" {
		return bleve.NewMemOnly(im)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, findexerr.New(findexerr.ErrCodeCorruptIndex,
			fmt.Sprintf("open fulltext index at %s", path), err)
	}
	return idx, nil
}

func buildIndexMapping(cfg BleveConfig) (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	filters := []string{lowercase.Name}
	if cfg.UseCJKAnalyzer {
		filters = append(filters, "cjk_width", "cjk_bigram")
	}
	err := im.AddCustomAnalyzer(findexAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     "unicode",
		"token_filters": filters,
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}
	im.DefaultAnalyzer = findexAnalyzerName
	im.ScoringModel = "bm25"

	doc := bleve.NewDocumentMapping()

	text := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = findexAnalyzerName
		fm.Store = true
		fm.IncludeTermVectors = true
		return fm
	}
	kw := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
		fm.Store = true
		return fm
	}
	num := func() *mapping.FieldMapping {
		fm := bleve.NewNumericFieldMapping()
		fm.Store = true
		return fm
	}

	doc.AddFieldMappingsAt("content", text())
	doc.AddFieldMappingsAt("title", text())
	doc.AddFieldMappingsAt("file_name", text())
	doc.AddFieldMappingsAt("file_path", kw())
	doc.AddFieldMappingsAt("file_type", kw())
	doc.AddFieldMappingsAt("chunk_id", num())
	doc.AddFieldMappingsAt("file_id", num())
	doc.AddFieldMappingsAt("chunk_index", num())
	doc.AddFieldMappingsAt("start_position", num())
	doc.AddFieldMappingsAt("end_position", num())
	doc.AddFieldMappingsAt("content_length", num())

	dt := bleve.NewDateTimeFieldMapping()
	dt.Store = true
	doc.AddFieldMappingsAt("modified_time", dt)
	doc.AddFieldMappingsAt("created_at", dt)

	im.DefaultMapping = doc
	return im, nil
}

func (d *FullTextDoc) bleveDoc() map[string]interface{} {
	return map[string]interface{}{
		"chunk_id":       d.ChunkID,
		"file_id":        d.FileID,
		"file_name":      d.FileName,
		"file_path":      d.FilePath,
		"file_type":      d.FileType,
		"title":          d.Title,
		"content":        d.Content,
		"chunk_index":    d.ChunkIndex,
		"start_position": d.StartPosition,
		"end_position":   d.EndPosition,
		"content_length": d.ContentLength,
		"modified_time":  d.ModifiedTime,
		"created_at":     d.CreatedAt,
	}
}

// AddDocuments indexes docs in one batch.
func (b *BleveIndex) AddDocuments(ctx context.Context, docs []*FullTextDoc) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("fulltext index is closed")
	}

	batch := b.index.NewBatch()
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.ID == "" {
			d.ID = DocID(d.FileID, d.ChunkIndex)
		}
		if err := batch.Index(d.ID, d.bleveDoc()); err != nil {
			return fmt.Errorf("index document %s: %w", d.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return findexerr.New(findexerr.ErrCodeIndexWrite, "fulltext batch failed", err)
	}
	return nil
}

// UpdateDocument replaces one document.
func (b *BleveIndex) UpdateDocument(ctx context.Context, doc *FullTextDoc) error {
	return b.AddDocuments(ctx, []*FullTextDoc{doc})
}

// DeleteByID removes one document.
func (b *BleveIndex) DeleteByID(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("fulltext index is closed")
	}
	return b.index.Delete(id)
}

// DeleteByFileID removes every document belonging to a file and returns
// the count removed.
func (b *BleveIndex) DeleteByFileID(ctx context.Context, fileID int64) (int, error) {
	val := float64(fileID)
	truthy := true
	q := bleve.NewNumericRangeInclusiveQuery(&val, &val, &truthy, &truthy)
	q.SetField("file_id")
	return b.deleteMatching(ctx, q)
}

// DeleteByField removes every document whose keyword field equals value.
func (b *BleveIndex) DeleteByField(ctx context.Context, field, value string) (int, error) {
	q := bleve.NewTermQuery(value)
	q.SetField(field)
	return b.deleteMatching(ctx, q)
}

func (b *BleveIndex) deleteMatching(ctx context.Context, q query.Query) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, fmt.Errorf("fulltext index is closed")
	}

	total := 0
	for {
		req := bleve.NewSearchRequestOptions(q, deleteBatchSize, 0, false)
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return total, err
		}
		if len(res.Hits) == 0 {
			return total, nil
		}

		batch := b.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return total, findexerr.New(findexerr.ErrCodeIndexWrite, "fulltext delete failed", err)
		}
		total += len(res.Hits)
	}
}

// Search runs a BM25-ranked query with field boosts, filters,
// highlights, and matched terms.
func (b *BleveIndex) Search(ctx context.Context, q *FullTextQuery) ([]*FullTextHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("fulltext index is closed")
	}

	trimmed := strings.TrimSpace(q.Query)
	if trimmed == "" {
		return []*FullTextHit{}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	mainQuery := buildTextQuery(trimmed, q)
	full := applyFilters(mainQuery, q.Filters)

	req := bleve.NewSearchRequestOptions(full, limit, q.Offset, false)
	req.Fields = []string{"*"}
	req.IncludeLocations = true
	req.Highlight = bleve.NewHighlight()

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}

	hits := make([]*FullTextHit, 0, len(res.Hits))
	for i, hit := range res.Hits {
		h := &FullTextHit{
			ID:        hit.ID,
			ChunkID:   fieldInt64(hit.Fields, "chunk_id"),
			FileID:    fieldInt64(hit.Fields, "file_id"),
			Score:     hit.Score,
			Rank:      q.Offset + i + 1,
			Fields:    hit.Fields,
			Fragments: hit.Fragments,
		}
		seen := make(map[string]struct{})
		for _, termLocs := range hit.Locations {
			for term := range termLocs {
				if _, dup := seen[term]; dup {
					continue
				}
				seen[term] = struct{}{}
				h.MatchedTerms = append(h.MatchedTerms, term)
			}
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// buildTextQuery composes the query per policy: single-character
// queries become a wildcard; longer queries are an OR of exact phrase,
// per-field terms, and wildcard forms, with field boosts applied.
func buildTextQuery(text string, q *FullTextQuery) query.Query {
	fields := q.Fields
	if len(fields) == 0 {
		fields = defaultSearchFields
	}
	boosts := q.Boosts
	if len(boosts) == 0 {
		boosts = DefaultFieldBoosts
	}
	boostFor := func(field string) float64 {
		if b, ok := boosts[field]; ok && b > 0 {
			return b
		}
		return 1.0
	}

	lower := strings.ToLower(text)

	if q.Phrase {
		var phrases []query.Query
		for _, f := range fields {
			mq := bleve.NewMatchPhraseQuery(text)
			mq.SetField(f)
			mq.SetBoost(boostFor(f))
			phrases = append(phrases, mq)
		}
		return bleve.NewDisjunctionQuery(phrases...)
	}

	if len([]rune(text)) == 1 {
		var wilds []query.Query
		for _, f := range fields {
			wq := bleve.NewWildcardQuery("*" + lower + "*")
			wq.SetField(f)
			wq.SetBoost(boostFor(f))
			wilds = append(wilds, wq)
		}
		return bleve.NewDisjunctionQuery(wilds...)
	}

	var parts []query.Query
	for _, f := range fields {
		pq := bleve.NewMatchPhraseQuery(text)
		pq.SetField(f)
		pq.SetBoost(boostFor(f) * 2.0)
		parts = append(parts, pq)

		mq := bleve.NewMatchQuery(text)
		mq.SetField(f)
		mq.SetBoost(boostFor(f))
		parts = append(parts, mq)

		wq := bleve.NewWildcardQuery("*" + lower + "*")
		wq.SetField(f)
		wq.SetBoost(boostFor(f) * 0.5)
		parts = append(parts, wq)
	}
	return bleve.NewDisjunctionQuery(parts...)
}

// applyFilters conjoins exact-value filters with the main query.
func applyFilters(main query.Query, filters map[string][]string) query.Query {
	if len(filters) == 0 {
		return main
	}
	parts := []query.Query{main}
	for field, values := range filters {
		if len(values) == 0 {
			continue
		}
		var alts []query.Query
		for _, v := range values {
			tq := bleve.NewTermQuery(v)
			tq.SetField(field)
			alts = append(alts, tq)
		}
		parts = append(parts, bleve.NewDisjunctionQuery(alts...))
	}
	return bleve.NewConjunctionQuery(parts...)
}

// Suggest returns indexed terms with the given prefix from one field.
func (b *BleveIndex) Suggest(ctx context.Context, prefix, field string, limit int) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("fulltext index is closed")
	}
	if prefix == "" {
		return nil, nil
	}
	if field == "" {
		field = "content"
	}
	if limit <= 0 {
		limit = 10
	}

	dict, err := b.index.FieldDictPrefix(field, []byte(strings.ToLower(prefix)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = dict.Close() }()

	var out []string
	for len(out) < limit {
		entry, err := dict.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		out = append(out, entry.Term)
	}
	return out, nil
}

// Rebuild atomically replaces the index contents: a fresh index is
// built beside the live one, then swapped in.
func (b *BleveIndex) Rebuild(ctx context.Context, docs []*FullTextDoc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("fulltext index is closed")
	}

	if b.path == "" {
		// In-memory: just recreate.
		fresh, err := openBleveIndex("", b.config)
		if err != nil {
			return err
		}
		if err := indexAll(ctx, fresh, docs); err != nil {
			_ = fresh.Close()
			return err
		}
		_ = b.index.Close()
		b.index = fresh
		return nil
	}

	buildPath := b.path + ".rebuild"
	_ = os.RemoveAll(buildPath)

	fresh, err := openBleveIndex(buildPath, b.config)
	if err != nil {
		return err
	}
	if err := indexAll(ctx, fresh, docs); err != nil {
		_ = fresh.Close()
		_ = os.RemoveAll(buildPath)
		return err
	}
	if err := fresh.Close(); err != nil {
		return err
	}

	if err := b.index.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(b.path); err != nil {
		return fmt.Errorf("remove old index: %w", err)
	}
	if err := os.Rename(buildPath, b.path); err != nil {
		return fmt.Errorf("swap index: %w", err)
	}

	reopened, err := bleve.Open(b.path)
	if err != nil {
		return findexerr.New(findexerr.ErrCodeCorruptIndex, "reopen rebuilt index", err)
	}
	b.index = reopened
	return nil
}

func indexAll(ctx context.Context, idx bleve.Index, docs []*FullTextDoc) error {
	batch := idx.NewBatch()
	n := 0
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.ID == "" {
			d.ID = DocID(d.FileID, d.ChunkIndex)
		}
		if err := batch.Index(d.ID, d.bleveDoc()); err != nil {
			return err
		}
		n++
		if n%deleteBatchSize == 0 {
			if err := idx.Batch(batch); err != nil {
				return err
			}
			batch = idx.NewBatch()
		}
	}
	return idx.Batch(batch)
}

// Optimize is a no-op: the scorch backend merges segments in the background.
func (b *BleveIndex) Optimize() error {
	return nil
}

// Count returns the number of indexed documents.
func (b *BleveIndex) Count() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, fmt.Errorf("fulltext index is closed")
	}
	return b.index.DocCount()
}

// Close closes the index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

// fieldInt64 reads a numeric stored field (Bleve returns float64).
func fieldInt64(fields map[string]any, name string) int64 {
	switch v := fields[name].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

// FieldString reads a stored string field from a hit.
func FieldString(fields map[string]any, name string) string {
	if s, ok := fields[name].(string); ok {
		return s
	}
	return ""
}

// FieldTime reads a stored datetime field from a hit.
func FieldTime(fields map[string]any, name string) time.Time {
	if s, ok := fields[name].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

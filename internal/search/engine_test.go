package search

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/findexd/findex/internal/ai"
	"github.com/findexd/findex/internal/embed"
	findexerr "github.com/findexd/findex/internal/errors"
	"github.com/findexd/findex/internal/store"
)

type fixture struct {
	engine   *Engine
	store    *store.SQLiteStore
	vector   store.VectorIndex
	fulltext store.FullTextIndex
	embedder embed.Embedder
	speech   *ai.MockSpeech
	image    *ai.MockImage
}

func newFixture(t *testing.T, cfg EngineConfig) *fixture {
	t.Helper()

	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	vec, err := store.OpenHNSW("", 64, store.HNSWOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vec.Close() })

	ft, err := store.OpenBleve("", store.BleveConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ft.Close() })

	emb := embed.NewStaticEmbedder(64)
	speech := &ai.MockSpeech{Text: "machine learning", Confidence: 0.9}
	image := &ai.MockImage{Caption: "machine learning diagram"}

	eng, err := NewEngine(st, vec, ft, emb, speech, image, cfg)
	require.NoError(t, err)

	return &fixture{engine: eng, store: st, vector: vec, fulltext: ft, embedder: emb, speech: speech, image: image}
}

// index puts one file with the given chunks into all three stores.
func (f *fixture) index(t *testing.T, path, fileType string, chunkTexts ...string) int64 {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	chunks := make([]*store.ChunkRecord, len(chunkTexts))
	pos := 0
	for i, text := range chunkTexts {
		chunks[i] = &store.ChunkRecord{
			ChunkIndex:    i,
			Content:       text,
			ContentLength: len([]rune(text)),
			StartPosition: pos,
			EndPosition:   pos + len([]rune(text)),
			IsIndexed:     true,
			IndexStatus:   store.IndexStatusCompleted,
			IndexedAt:     now,
		}
		pos += len([]rune(text))
	}

	rec := &store.FileRecord{
		Path: path, Name: filepath.Base(path), Ext: filepath.Ext(path),
		Type: fileType, Size: int64(pos), ModTime: now, CTime: now,
		IndexStatus: store.IndexStatusCompleted, IsIndexed: true,
		IsChunked: len(chunks) > 1, TotalChunks: len(chunks),
	}
	fileID, chunkIDs, err := f.store.SaveFileWithChunks(ctx, rec, chunks)
	require.NoError(t, err)

	vectors, failed := embed.BatchWithFallback(ctx, f.embedder, chunkTexts, 32)
	require.Zero(t, failed)
	metas := make([]*store.VectorSideMeta, len(chunks))
	docs := make([]*store.FullTextDoc, len(chunks))
	for i, c := range chunks {
		metas[i] = &store.VectorSideMeta{
			ChunkID: chunkIDs[i], FileID: fileID, FileName: rec.Name,
			FilePath: path, FileType: fileType, FileSize: rec.Size,
			ModifiedTime: now, CreatedAt: now,
		}
		docs[i] = &store.FullTextDoc{
			ID: store.DocID(fileID, c.ChunkIndex), ChunkID: chunkIDs[i], FileID: fileID,
			FileName: rec.Name, FilePath: path, FileType: fileType,
			Content: c.Content, ChunkIndex: c.ChunkIndex,
			ContentLength: c.ContentLength, ModifiedTime: now, CreatedAt: now,
		}
	}
	_, err = f.vector.Add(ctx, vectors, metas)
	require.NoError(t, err)
	require.NoError(t, f.fulltext.AddDocuments(ctx, docs))
	return fileID
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("semantic")
	require.NoError(t, err)
	assert.Equal(t, TypeSemantic, typ)

	typ, err = ParseType("")
	require.NoError(t, err)
	assert.Equal(t, TypeHybrid, typ)

	_, err = ParseType("psychic")
	assert.Equal(t, findexerr.ErrCodeInvalidInput, findexerr.CodeOf(err))
}

func TestSearchEmptyQueryRejected(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	_, err := f.engine.Search(context.Background(), "   ", TypeHybrid, Options{})
	assert.Equal(t, findexerr.ErrCodeInvalidInput, findexerr.CodeOf(err))
}

func TestSearchEmptyCorpus(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	for _, typ := range []Type{TypeSemantic, TypeFulltext, TypeHybrid} {
		resp, err := f.engine.Search(context.Background(), "anything at all", typ, Options{Limit: 5})
		require.NoError(t, err, typ)
		assert.Empty(t, resp.Results, typ)
	}
}

func TestSemanticHappyPath(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	f.index(t, "/docs/a.txt", "document",
		"machine learning is a branch of artificial intelligence. deep learning is a branch of machine learning.")

	resp, err := f.engine.Search(context.Background(), "machine learning", TypeSemantic, Options{Limit: 5, Threshold: 0.0})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	r := resp.Results[0]
	assert.Equal(t, "a.txt", r.FileName)
	assert.Equal(t, "document", r.FileType)
	assert.Equal(t, MatchSemantic, r.MatchType)
	assert.Contains(t, strings.ToLower(r.PreviewText), "machine learning")
	assert.Contains(t, strings.ToLower(r.Highlight), "machine learning")
	assert.Greater(t, r.RelevanceScore, 0.0)
}

func TestHybridMarksBothSourcesAndBoosts(t *testing.T) {
	f := newFixture(t, EngineConfig{HybridBoost: 1.2})
	f.index(t, "/docs/c.txt", "text", strings.Repeat("python tutorial ", 40))
	f.index(t, "/docs/d.txt", "text", "guide to snake scripting language")

	resp, err := f.engine.Search(context.Background(), "python tutorial", TypeHybrid, Options{Limit: 5, Threshold: -1})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	first := resp.Results[0]
	assert.Equal(t, "c.txt", first.FileName, "lexically dominant file ranks first")
	assert.Contains(t, []MatchType{MatchHybrid, MatchFulltext}, first.MatchType)

	names := make(map[string]MatchType)
	for _, r := range resp.Results {
		names[r.FileName] = r.MatchType
	}
	if mt, ok := names["d.txt"]; ok {
		assert.Equal(t, MatchSemantic, mt, "paraphrase file arrives via the semantic path")
	}
}

func TestThresholdOneFiltersEverything(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	f.index(t, "/docs/a.txt", "text", "some ordinary content about databases")

	resp, err := f.engine.Search(context.Background(), "entirely different words", TypeSemantic, Options{Limit: 5, Threshold: 1.0})
	require.NoError(t, err)
	assert.Empty(t, resp.Results, "threshold 1.0 admits only identical vectors")
}

func TestGroupingKeepsBestChunkPerFile(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	f.index(t, "/docs/multi.txt", "text",
		"nothing relevant in this opening chunk at all",
		"machine learning machine learning machine learning",
		"closing chunk with machine keyword only")

	resp, err := f.engine.Search(context.Background(), "machine learning", TypeHybrid, Options{Limit: 5, Threshold: -1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1, "chunks collapse to one file-level result")
	assert.Equal(t, 1, resp.Results[0].ChunkIndex, "best-scoring chunk wins")
}

func TestFileTypeFilterCanonicalizesExtensions(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	f.index(t, "/docs/a.pdf", "pdf", "quarterly report with revenue tables")
	f.index(t, "/docs/b.txt", "text", "quarterly report meeting notes")

	resp, err := f.engine.Search(context.Background(), "quarterly report", TypeFulltext,
		Options{Limit: 10, FileTypes: []string{".pdf"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a.pdf", resp.Results[0].FileName)
}

func TestPaginationOffset(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	f.index(t, "/docs/one.txt", "text", "shared keyword alpha one")
	f.index(t, "/docs/two.txt", "text", "shared keyword alpha two")
	f.index(t, "/docs/three.txt", "text", "shared keyword alpha three")

	page1, err := f.engine.Search(context.Background(), "shared keyword", TypeFulltext, Options{Limit: 2})
	require.NoError(t, err)
	page2, err := f.engine.Search(context.Background(), "shared keyword", TypeFulltext, Options{Limit: 2, Offset: 2})
	require.NoError(t, err)

	assert.Len(t, page1.Results, 2)
	assert.Len(t, page2.Results, 1)
	seen := map[int64]bool{}
	for _, r := range append(page1.Results, page2.Results...) {
		assert.False(t, seen[r.FileID], "pages must not overlap")
		seen[r.FileID] = true
	}
}

func TestHybridDegradesWhenLexicalPathFails(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	f.index(t, "/docs/a.txt", "text", "machine learning content here")

	// Closing the full-text index fails the lexical path.
	require.NoError(t, f.fulltext.Close())

	resp, err := f.engine.Search(context.Background(), "machine learning", TypeHybrid, Options{Limit: 5, Threshold: -1})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Degraded)
	require.NotEmpty(t, resp.Results, "semantic path still serves results")
	assert.Equal(t, MatchSemantic, resp.Results[0].MatchType)
}

func TestSearchDeterministic(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	f.index(t, "/docs/a.txt", "text", "machine learning notes part one")
	f.index(t, "/docs/b.txt", "text", "machine learning notes part two")
	f.index(t, "/docs/c.txt", "text", "unrelated cooking recipes")

	first, err := f.engine.Search(context.Background(), "machine learning notes", TypeSemantic, Options{Limit: 5, Threshold: -1})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := f.engine.Search(context.Background(), "machine learning notes", TypeSemantic, Options{Limit: 5, Threshold: -1})
		require.NoError(t, err)
		require.Len(t, again.Results, len(first.Results))
		for j := range first.Results {
			assert.Equal(t, first.Results[j].FileID, again.Results[j].FileID, "identical inputs return identical ordering")
		}
	}
}

func TestMultimodalVoice(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	f.index(t, "/docs/a.txt", "document",
		"machine learning is a branch of artificial intelligence.")

	resp, err := f.engine.MultimodalSearch(context.Background(), InputTypeVoice, []byte("RIFFwav"), TypeHybrid, Options{Limit: 5, Threshold: 0.0})
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(resp.ConvertedText), "machine learning")
	assert.Greater(t, resp.Confidence, 0.3)

	found := false
	for _, r := range resp.Results {
		if r.FileName == "a.txt" {
			found = true
		}
	}
	assert.True(t, found, "voice query should reach the indexed file")
}

func TestMultimodalUnavailableSurfacesError(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	f.speech.Down = true

	_, err := f.engine.MultimodalSearch(context.Background(), InputTypeVoice, []byte("RIFFwav"), TypeHybrid, Options{})
	assert.Equal(t, findexerr.ErrCodePredictorUnavailable, findexerr.CodeOf(err))

	_, err = f.engine.MultimodalSearch(context.Background(), InputTypeImage, nil, TypeHybrid, Options{})
	assert.Equal(t, findexerr.ErrCodeInvalidInput, findexerr.CodeOf(err), "empty payload is a validation error")
}

func TestSearchHistoryRecorded(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	f.index(t, "/docs/a.txt", "text", "machine learning content")

	_, err := f.engine.Search(context.Background(), "machine learning", TypeHybrid, Options{Limit: 5})
	require.NoError(t, err)

	recent, err := f.store.RecentSearches(context.Background(), 5)
	require.NoError(t, err)
	require.NotEmpty(t, recent)
	assert.Equal(t, "machine learning", recent[0].Query)
	assert.Equal(t, "hybrid", recent[0].SearchType)
	assert.Equal(t, "static-64", recent[0].ModelsUsed)
}

func TestRRFFusionMode(t *testing.T) {
	f := newFixture(t, EngineConfig{RRF: true})
	f.index(t, "/docs/a.txt", "text", "machine learning fundamentals explained")
	f.index(t, "/docs/b.txt", "text", "cooking fundamentals explained")

	resp, err := f.engine.Search(context.Background(), "machine learning", TypeHybrid, Options{Limit: 5, Threshold: -1})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "a.txt", resp.Results[0].FileName)
	for _, r := range resp.Results {
		assert.LessOrEqual(t, r.RelevanceScore, 1.0, "RRF scores are normalized")
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short text", Preview("short   text", 200))
	long := strings.Repeat("word ", 100)
	p := Preview(long, 20)
	assert.Len(t, []rune(p), 23)
	assert.True(t, strings.HasSuffix(p, "..."))
}

func TestHighlightWindowCentersOnMatch(t *testing.T) {
	text := strings.Repeat("filler ", 30) + "the machine learning part" + strings.Repeat(" trailing", 30)
	h := HighlightWindow(text, "machine learning", 60)
	assert.Contains(t, h, "machine learning")
	assert.LessOrEqual(t, len([]rune(h)), 70)

	// No match: falls back to the head.
	h = HighlightWindow(text, "zzz-not-there", 60)
	assert.True(t, strings.HasPrefix(h, "filler"))
}

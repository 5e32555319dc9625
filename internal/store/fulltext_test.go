package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := OpenBleve("", BleveConfig{UseCJKAnalyzer: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func doc(fileID int64, chunkIdx int, name, content string) *FullTextDoc {
	return &FullTextDoc{
		ID:            DocID(fileID, chunkIdx),
		ChunkID:       fileID*100 + int64(chunkIdx),
		FileID:        fileID,
		FileName:      name,
		FilePath:      "/docs/" + name,
		FileType:      "text",
		Title:         name,
		Content:       content,
		ChunkIndex:    chunkIdx,
		ContentLength: len(content),
		ModifiedTime:  time.Now().UTC(),
		CreatedAt:     time.Now().UTC(),
	}
}

func TestFullTextSearchBasic(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.AddDocuments(ctx, []*FullTextDoc{
		doc(1, 0, "ml.txt", "machine learning is a branch of artificial intelligence"),
		doc(2, 0, "recipes.txt", "grilled cheese sandwich with tomato soup"),
	}))

	hits, err := idx.Search(ctx, &FullTextQuery{Query: "machine learning", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, int64(1), hits[0].FileID)
	assert.Equal(t, 1, hits[0].Rank)
	assert.Greater(t, hits[0].Score, 0.0)
	assert.NotEmpty(t, hits[0].MatchedTerms)
}

func TestFullTextEmptyQueryAndEmptyIndex(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	hits, err := idx.Search(ctx, &FullTextQuery{Query: "   "})
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.Search(ctx, &FullTextQuery{Query: "anything", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFullTextFieldBoostTitleWins(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	inTitle := doc(1, 0, "kubernetes-guide.txt", "orchestration notes and other words")
	inTitle.Title = "kubernetes"
	inBody := doc(2, 0, "notes.txt", "kubernetes mentioned once in passing here")

	require.NoError(t, idx.AddDocuments(ctx, []*FullTextDoc{inTitle, inBody}))

	hits, err := idx.Search(ctx, &FullTextQuery{Query: "kubernetes", Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, int64(1), hits[0].FileID, "title match should outrank body match")
}

func TestFullTextFilters(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	pdf := doc(1, 0, "a.pdf", "quarterly report revenue numbers")
	pdf.FileType = "pdf"
	txt := doc(2, 0, "b.txt", "quarterly report meeting notes")

	require.NoError(t, idx.AddDocuments(ctx, []*FullTextDoc{pdf, txt}))

	hits, err := idx.Search(ctx, &FullTextQuery{
		Query:   "quarterly report",
		Limit:   10,
		Filters: map[string][]string{"file_type": {"pdf"}},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].FileID)
}

func TestFullTextCJKBigram(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.AddDocuments(ctx, []*FullTextDoc{
		doc(1, 0, "cn.txt", "机器学习是人工智能的一个分支"),
		doc(2, 0, "en.txt", "nothing related at all"),
	}))

	hits, err := idx.Search(ctx, &FullTextQuery{Query: "机器学习", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, int64(1), hits[0].FileID)
}

func TestFullTextSingleCharWildcard(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.AddDocuments(ctx, []*FullTextDoc{
		doc(1, 0, "x.txt", "xylophone practice schedule"),
	}))

	hits, err := idx.Search(ctx, &FullTextQuery{Query: "y", Limit: 5})
	require.NoError(t, err)
	assert.NotEmpty(t, hits, "single-char query falls back to wildcard")
}

func TestFullTextDeleteByFileID(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.AddDocuments(ctx, []*FullTextDoc{
		doc(1, 0, "a.txt", "machine learning alpha"),
		doc(1, 1, "a.txt", "machine learning beta"),
		doc(2, 0, "b.txt", "machine learning gamma"),
	}))

	n, err := idx.DeleteByFileID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := idx.Search(ctx, &FullTextQuery{Query: "machine learning", Limit: 10})
	require.NoError(t, err)
	for _, h := range hits {
		assert.Equal(t, int64(2), h.FileID)
	}

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestFullTextDeleteByField(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	pdf := doc(1, 0, "a.pdf", "alpha content")
	pdf.FileType = "pdf"
	txt := doc(2, 0, "b.txt", "beta content")
	require.NoError(t, idx.AddDocuments(ctx, []*FullTextDoc{pdf, txt}))

	n, err := idx.DeleteByField(ctx, "file_type", "pdf")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestFullTextUpdateDocument(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	d := doc(1, 0, "a.txt", "original content about databases")
	require.NoError(t, idx.AddDocuments(ctx, []*FullTextDoc{d}))

	d.Content = "revised content about compilers"
	require.NoError(t, idx.UpdateDocument(ctx, d))

	hits, err := idx.Search(ctx, &FullTextQuery{Query: "compilers", Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = idx.Search(ctx, &FullTextQuery{Query: "databases", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFullTextSuggest(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.AddDocuments(ctx, []*FullTextDoc{
		doc(1, 0, "a.txt", "machine machinery machinist workshop"),
	}))

	terms, err := idx.Suggest(ctx, "machin", "content", 10)
	require.NoError(t, err)
	assert.Contains(t, terms, "machine")
	assert.Contains(t, terms, "machinery")
}

func TestFullTextHighlightFragments(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.AddDocuments(ctx, []*FullTextDoc{
		doc(1, 0, "a.txt", "a long passage where machine learning appears somewhere in the middle of the text"),
	}))

	hits, err := idx.Search(ctx, &FullTextQuery{Query: "machine learning", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.NotEmpty(t, hits[0].Fragments["content"], "content highlights expected")
}

func TestFullTextRebuildOnDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fulltext")

	idx, err := OpenBleve(path, BleveConfig{})
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.AddDocuments(ctx, []*FullTextDoc{
		doc(1, 0, "old.txt", "stale content to discard"),
	}))

	fresh := make([]*FullTextDoc, 0, 5)
	for i := 0; i < 5; i++ {
		fresh = append(fresh, doc(int64(10+i), 0, fmt.Sprintf("f%d.txt", i), fmt.Sprintf("fresh content number %d", i)))
	}
	require.NoError(t, idx.Rebuild(ctx, fresh))

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), count)

	hits, err := idx.Search(ctx, &FullTextQuery{Query: "stale", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, hits, "old content gone after rebuild")

	hits, err = idx.Search(ctx, &FullTextQuery{Query: "fresh content", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, hits, 5)
}

func TestFullTextPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fulltext")
	ctx := context.Background()

	idx, err := OpenBleve(path, BleveConfig{})
	require.NoError(t, err)
	require.NoError(t, idx.AddDocuments(ctx, []*FullTextDoc{
		doc(1, 0, "a.txt", "durable content survives reopen"),
	}))
	require.NoError(t, idx.Close())

	reopened, err := OpenBleve(path, BleveConfig{})
	require.NoError(t, err)
	defer reopened.Close()

	hits, err := reopened.Search(ctx, &FullTextQuery{Query: "durable", Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a.txt", FieldString(hits[0].Fields, "file_name"))
}

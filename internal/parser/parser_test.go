package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/findexd/findex/internal/ai"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func newTextDispatcher() *Dispatcher {
	return New(Config{}, nil, nil, nil)
}

func TestParsePlainText(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", []byte("Machine Learning Notes\n\ndeep learning is a branch of machine learning."))

	content := newTextDispatcher().Parse(context.Background(), path)
	require.False(t, content.Failed())
	assert.Equal(t, "Machine Learning Notes", content.Title)
	assert.Contains(t, content.Text, "deep learning")
	assert.InDelta(t, 0.9, content.Confidence, 1e-9)
	assert.Equal(t, "en", content.Language)
}

func TestParseMarkdownHeadingTitle(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "b.md", []byte("# Findex Design\n\nbody text here."))

	content := newTextDispatcher().Parse(context.Background(), path)
	assert.Equal(t, "Findex Design", content.Title)
}

func TestParseHTMLStripsMarkup(t *testing.T) {
	dir := t.TempDir()
	html := `<html><head><title>Doc Title</title><style>p{color:red}</style></head>
<body><script>alert(1)</script><p>visible &amp; text</p></body></html>`
	path := writeFile(t, dir, "c.html", []byte(html))

	content := newTextDispatcher().Parse(context.Background(), path)
	assert.Equal(t, "Doc Title", content.Title)
	assert.Contains(t, content.Text, "visible & text")
	assert.NotContains(t, content.Text, "alert")
	assert.NotContains(t, content.Text, "color:red")
	assert.NotContains(t, content.Text, "<p>")
}

func TestParseTruncation(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "big.txt", []byte(strings.Repeat("a", 500)))

	d := New(Config{MaxContentLength: 100}, nil, nil, nil)
	content := d.Parse(context.Background(), path)
	assert.True(t, strings.HasSuffix(content.Text, TruncationMarker))
	assert.Equal(t, "true", content.Metadata["truncated"])
	assert.Len(t, []rune(strings.TrimSuffix(content.Text, TruncationMarker)), 100)
}

func TestParseMissingFileFailsSoftly(t *testing.T) {
	content := newTextDispatcher().Parse(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	assert.True(t, content.Failed())
	assert.NotEmpty(t, content.Metadata["error"])
}

func TestParseGBKFallback(t *testing.T) {
	dir := t.TempDir()
	// "机器学习" encoded as GBK.
	gbk := []byte{0xbb, 0xfa, 0xc6, 0xf7, 0xd1, 0xa7, 0xcf, 0xb0}
	path := writeFile(t, dir, "cn.txt", gbk)

	content := newTextDispatcher().Parse(context.Background(), path)
	require.False(t, content.Failed())
	assert.Contains(t, content.Text, "机器学习")
	assert.Equal(t, "gbk", content.Metadata["encoding"])
	assert.Equal(t, "zh", content.Language)
}

func TestParseAudioUsesSpeechPredictor(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "talk.wav", []byte("RIFFxxxxWAVE"))

	speech := &ai.MockSpeech{Text: "machine learning", Confidence: 0.85}
	d := New(Config{}, speech, nil, nil)

	content := d.Parse(context.Background(), path)
	require.False(t, content.Failed())
	assert.Equal(t, "machine learning", content.Text)
	assert.InDelta(t, 0.85, content.Confidence, 1e-9)
	assert.Equal(t, "talk", content.Title)
}

func TestParseAudioWithoutPredictorFails(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "talk.mp3", []byte("ID3fake"))

	content := newTextDispatcher().Parse(context.Background(), path)
	assert.True(t, content.Failed())
}

func TestParseImageFiltersLowConfidenceLines(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "scan.png", []byte("fakepng"))

	img := &ai.MockImage{Lines: []ai.OCRLine{
		{Text: "total: 42 dollars", Confidence: 0.9},
		{Text: "~~~noise~~~", Confidence: 0.1},
	}}
	d := New(Config{OCRMinConfidence: 0.3}, nil, img, nil)

	content := d.Parse(context.Background(), path)
	require.False(t, content.Failed())
	assert.Equal(t, "total: 42 dollars", content.Text)
	assert.InDelta(t, 0.9, content.Confidence, 1e-9)
}

func TestParsePluginTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "r.pdf", []byte("%PDF"))

	d := newTextDispatcher()
	d.Register(".pdf", ParserFunc(func(ctx context.Context, p string) (*ParsedContent, error) {
		return &ParsedContent{Text: "page one text", Title: "Report", Confidence: 0.8}, nil
	}))

	content := d.Parse(context.Background(), path)
	assert.Equal(t, "page one text", content.Text)
	assert.Equal(t, "Report", content.Title)
}

func TestParsePDFWithoutPluginFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.pdf", []byte("%PDF"))

	content := newTextDispatcher().Parse(context.Background(), path)
	require.False(t, content.Failed())
	assert.LessOrEqual(t, content.Confidence, 0.6)
	assert.Equal(t, "doc", content.Title)
}

func TestPluginErrorBecomesSoftFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.pdf", []byte("%PDF"))

	d := newTextDispatcher()
	d.Register(".pdf", ParserFunc(func(ctx context.Context, p string) (*ParsedContent, error) {
		return nil, fmt.Errorf("encrypted document")
	}))

	content := d.Parse(context.Background(), path)
	assert.True(t, content.Failed())
	assert.Contains(t, content.Metadata["error"], "encrypted")
}

func TestCleanExtracted(t *testing.T) {
	in := "good line of text here\n@@@@@@@@\npage 1 content. more words\n####title####"
	out := CleanExtracted(in)
	assert.Contains(t, out, "good line of text here")
	assert.Contains(t, out, "page 1 content")
	assert.NotContains(t, out, "@@@@")
	assert.NotContains(t, out, "####")
	assert.Contains(t, out, "title")
}

func TestWordCount(t *testing.T) {
	p := &ParsedContent{Text: "one two  three\nfour"}
	assert.Equal(t, 4, p.WordCount())
	assert.Equal(t, 0, (&ParsedContent{}).WordCount())
}

func TestMetadataExtractorText(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", []byte("Quarterly Report\nbody"))

	meta := NewMetadataExtractor().Extract(path)
	assert.Equal(t, "text", meta.FileType)
	assert.Equal(t, "Quarterly Report", meta.Title)
}

func TestMetadataExtractorUnknownNeverFatal(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "blob.zzz", []byte{0x00, 0x01})

	meta := NewMetadataExtractor().Extract(path)
	assert.Equal(t, "other", meta.FileType)
	assert.Equal(t, "blob", meta.Title)
}

func TestMetadataExtractorWAVDuration(t *testing.T) {
	dir := t.TempDir()
	// Minimal WAV header: 16kHz mono 16-bit -> byte rate 32000, 1 second of data.
	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	header[28] = 0x00
	header[29] = 0x7D // 32000 little-endian
	data := append(header, make([]byte, 32000)...)
	path := writeFile(t, dir, "tone.wav", data)

	meta := NewMetadataExtractor().Extract(path)
	assert.InDelta(t, 1.0, meta.Duration, 0.01)
}

package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func scanAll(t *testing.T, s *Scanner, root string, opts ScanOptions) []*FileDescriptor {
	t.Helper()
	ch, err := s.Scan(context.Background(), root, opts)
	require.NoError(t, err)
	files, errs := Collect(ch)
	require.Empty(t, errs)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

func TestScanFiltersByExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "hello")
	writeFile(t, dir, "b.exe", "binary")
	writeFile(t, dir, "sub/c.md", "# doc")

	s := New([]string{".txt", ".md"}, 0, 2)
	files := scanAll(t, s, dir, ScanOptions{Recursive: true})

	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, "c.md", files[1].Name)
}

func TestScanNonRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "hello")
	writeFile(t, dir, "sub/b.txt", "nested")

	s := New([]string{".txt"}, 0, 2)
	files := scanAll(t, s, dir, ScanOptions{Recursive: false})

	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].Name)
}

func TestScanSkipsHidden(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".hidden.txt", "secret")
	writeFile(t, dir, ".git/config.txt", "ignored")
	writeFile(t, dir, "visible.txt", "hello")

	s := New([]string{".txt"}, 0, 2)

	files := scanAll(t, s, dir, ScanOptions{Recursive: true})
	require.Len(t, files, 1)
	assert.Equal(t, "visible.txt", files[0].Name)

	files = scanAll(t, s, dir, ScanOptions{Recursive: true, IncludeHidden: true})
	assert.Len(t, files, 3)
}

func TestScanDropsOversizedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "big.txt", strings.Repeat("x", 2048))
	writeFile(t, dir, "small.txt", "ok")

	s := New([]string{".txt"}, 1024, 2)
	files := scanAll(t, s, dir, ScanOptions{Recursive: true})

	require.Len(t, files, 1)
	assert.Equal(t, "small.txt", files[0].Name)
}

func TestScanBadRootFails(t *testing.T) {
	s := New([]string{".txt"}, 0, 2)
	_, err := s.Scan(context.Background(), filepath.Join(t.TempDir(), "missing"), ScanOptions{})
	assert.Error(t, err)
}

func TestDescriptorFields(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.pdf", "%PDF-1.4 fake")

	s := New([]string{".pdf"}, 0, 1)
	files := scanAll(t, s, dir, ScanOptions{Recursive: true})

	require.Len(t, files, 1)
	fd := files[0]
	assert.Equal(t, ".pdf", fd.Ext)
	assert.Equal(t, FileTypePDF, fd.Type)
	assert.Equal(t, "application/pdf", fd.Mime)
	assert.Len(t, fd.ContentHash, 64)
}

func TestHashPrefixStableAndChangeSensitive(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "machine learning")

	h1, err := HashPrefix(path)
	require.NoError(t, err)
	h2, err := HashPrefix(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	require.NoError(t, os.WriteFile(path, []byte("deep learning"), 0o644))
	h3, err := HashPrefix(path)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestDiffRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")
	writeFile(t, dir, "b.txt", "beta")

	s := New([]string{".txt"}, 0, 2)
	files := scanAll(t, s, dir, ScanOptions{Recursive: true})

	known := make(map[string]*KnownFile)
	for _, f := range files {
		known[f.Path] = &KnownFile{Path: f.Path, Size: f.Size, ModTime: f.ModTime, ContentHash: f.ContentHash}
	}

	diff, err := s.Diff(context.Background(), dir, ScanOptions{Recursive: true}, known)
	require.NoError(t, err)
	assert.Empty(t, diff.Changed, "unchanged corpus yields no changes")
	assert.Empty(t, diff.Deleted)
}

func TestDiffDetectsChangesAndDeletes(t *testing.T) {
	dir := t.TempDir()
	aPath := writeFile(t, dir, "a.txt", "alpha")
	bPath := writeFile(t, dir, "b.txt", "beta")

	s := New([]string{".txt"}, 0, 2)
	files := scanAll(t, s, dir, ScanOptions{Recursive: true})
	known := make(map[string]*KnownFile)
	for _, f := range files {
		known[f.Path] = &KnownFile{Path: f.Path, Size: f.Size, ModTime: f.ModTime, ContentHash: f.ContentHash}
	}

	// Modify a, delete b, add c.
	require.NoError(t, os.WriteFile(aPath, []byte("alpha updated"), 0o644))
	require.NoError(t, os.Chtimes(aPath, time.Now(), time.Now().Add(time.Second)))
	require.NoError(t, os.Remove(bPath))
	writeFile(t, dir, "c.txt", "gamma")

	diff, err := s.Diff(context.Background(), dir, ScanOptions{Recursive: true}, known)
	require.NoError(t, err)

	changedNames := make([]string, 0, len(diff.Changed))
	for _, f := range diff.Changed {
		changedNames = append(changedNames, f.Name)
	}
	sort.Strings(changedNames)
	assert.Equal(t, []string{"a.txt", "c.txt"}, changedNames)
	require.Len(t, diff.Deleted, 1)
	assert.Equal(t, bPath, diff.Deleted[0])
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		path string
		want FileType
	}{
		{"x.txt", FileTypeText},
		{"x.docx", FileTypeDocument},
		{"x.PDF", FileTypePDF},
		{"x.png", FileTypeImage},
		{"x.wav", FileTypeAudio},
		{"x.mp4", FileTypeVideo},
		{"x.zzz", FileTypeOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectType(tt.path), tt.path)
	}
}

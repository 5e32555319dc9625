package parser

import (
	"encoding/binary"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/findexd/findex/internal/scanner"
)

// MetadataExtractor surfaces format-specific properties without reading
// full content. Extraction is best-effort and never fatal: unknown
// formats come back as FileType "other", and a file of a known type that
// cannot be read keeps its type with the unread fields left empty.
type MetadataExtractor struct{}

// NewMetadataExtractor creates a MetadataExtractor.
func NewMetadataExtractor() *MetadataExtractor {
	return &MetadataExtractor{}
}

// Extract reads metadata for path.
func (m *MetadataExtractor) Extract(path string) *Metadata {
	ftype := scanner.DetectType(path)
	meta := &Metadata{FileType: string(ftype)}

	switch ftype {
	case scanner.FileTypeImage:
		m.extractImage(path, meta)
	case scanner.FileTypeAudio:
		m.extractAudio(path, meta)
	case scanner.FileTypeText:
		m.extractText(path, meta)
	case scanner.FileTypeOther:
		meta.FileType = "other"
	}

	if meta.Title == "" {
		meta.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return meta
}

func (m *MetadataExtractor) extractImage(path string, meta *Metadata) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return
	}
	meta.Width = cfg.Width
	meta.Height = cfg.Height
}

// extractAudio reads the duration from a WAV header. Other audio
// containers are left without a duration.
func (m *MetadataExtractor) extractAudio(path string, meta *Metadata) {
	if scanner.Ext(path) != ".wav" {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	// RIFF header: "RIFF" size "WAVE" "fmt " ...; byte rate at offset 28.
	header := make([]byte, 44)
	if _, err := io.ReadFull(f, header); err != nil {
		return
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return
	}
	byteRate := binary.LittleEndian.Uint32(header[28:32])
	if byteRate == 0 {
		return
	}
	info, err := f.Stat()
	if err != nil {
		return
	}
	dataSize := info.Size() - 44
	if dataSize > 0 {
		meta.Duration = float64(dataSize) / float64(byteRate)
	}
}

// extractText reads a small prefix for a title and language guess.
func (m *MetadataExtractor) extractText(path string, meta *Metadata) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	prefix := make([]byte, 8192)
	n, _ := io.ReadFull(f, prefix)
	if n == 0 {
		return
	}
	text, _ := DecodeText(prefix[:n])
	meta.Title = titleFromText(text)
	meta.Language = guessLanguage(text)
}

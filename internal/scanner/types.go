// Package scanner discovers indexable files beneath root paths.
// It filters by an extension allow-list and a maximum file size, and
// computes a cheap content hash for change detection.
package scanner

import (
	"path/filepath"
	"strings"
	"time"
)

// FileType classifies a file for indexing purposes.
type FileType string

const (
	FileTypeDocument FileType = "document"
	FileTypeText     FileType = "text"
	FileTypePDF      FileType = "pdf"
	FileTypeImage    FileType = "image"
	FileTypeAudio    FileType = "audio"
	FileTypeVideo    FileType = "video"
	FileTypeOther    FileType = "other"
)

// FileDescriptor describes a discovered file.
type FileDescriptor struct {
	Path        string    // Absolute path
	Name        string    // Base name
	Ext         string    // Lowercase extension with dot
	Size        int64     // File size in bytes
	ModTime     time.Time // Last modification time
	Mime        string    // Best-effort MIME type
	Type        FileType  // Classified file type
	ContentHash string    // SHA-256 hex of up to the first 1MiB
}

// ScanOptions configures a scan.
type ScanOptions struct {
	// Recursive descends into subdirectories (default: true at the API boundary).
	Recursive bool

	// IncludeHidden includes dot-files and dot-directories.
	IncludeHidden bool

	// Extensions, when non-empty, narrows the scanner's allow-list for
	// this scan (values keep their leading dot).
	Extensions []string
}

// Result is streamed from the scanner channel.
type Result struct {
	File *FileDescriptor
	Err  error
}

// KnownFile is the store's view of an indexed file, used by Diff.
type KnownFile struct {
	Path        string
	Size        int64
	ModTime     time.Time
	ContentHash string
}

// DiffResult lists paths that changed (or are new) and paths that disappeared.
type DiffResult struct {
	Changed []*FileDescriptor
	Deleted []string
}

// extTypeMap maps extensions to file types.
var extTypeMap = map[string]FileType{
	".txt": FileTypeText, ".csv": FileTypeText,
	".md": FileTypeText, ".markdown": FileTypeText, ".rst": FileTypeText,
	".html": FileTypeText, ".htm": FileTypeText,
	".go": FileTypeText, ".py": FileTypeText, ".js": FileTypeText,
	".ts": FileTypeText, ".java": FileTypeText, ".c": FileTypeText,
	".cpp": FileTypeText, ".rs": FileTypeText, ".rb": FileTypeText,
	".sh": FileTypeText, ".json": FileTypeText, ".yaml": FileTypeText,
	".yml": FileTypeText, ".toml": FileTypeText, ".xml": FileTypeText,

	".pdf": FileTypePDF,

	".doc": FileTypeDocument, ".docx": FileTypeDocument,
	".xls": FileTypeDocument, ".xlsx": FileTypeDocument,
	".ppt": FileTypeDocument, ".pptx": FileTypeDocument,

	".png": FileTypeImage, ".jpg": FileTypeImage, ".jpeg": FileTypeImage,
	".gif": FileTypeImage, ".bmp": FileTypeImage, ".webp": FileTypeImage,

	".mp3": FileTypeAudio, ".wav": FileTypeAudio, ".m4a": FileTypeAudio,
	".flac": FileTypeAudio, ".ogg": FileTypeAudio,

	".mp4": FileTypeVideo, ".mkv": FileTypeVideo, ".avi": FileTypeVideo,
	".mov": FileTypeVideo, ".webm": FileTypeVideo,
}

// mimeMap maps extensions to MIME types for the common formats.
var mimeMap = map[string]string{
	".txt": "text/plain", ".md": "text/markdown", ".html": "text/html",
	".htm": "text/html", ".csv": "text/csv", ".json": "application/json",
	".xml": "application/xml", ".pdf": "application/pdf",
	".doc": "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".png": "image/png", ".jpg": "image/jpeg", ".jpeg": "image/jpeg",
	".gif": "image/gif", ".bmp": "image/bmp", ".webp": "image/webp",
	".mp3": "audio/mpeg", ".wav": "audio/wav", ".m4a": "audio/mp4",
	".flac": "audio/flac", ".ogg": "audio/ogg",
	".mp4": "video/mp4", ".mkv": "video/x-matroska", ".avi": "video/x-msvideo",
	".mov": "video/quicktime", ".webm": "video/webm",
}

// DetectType classifies a path by extension.
func DetectType(path string) FileType {
	if t, ok := extTypeMap[Ext(path)]; ok {
		return t
	}
	return FileTypeOther
}

// DetectMime returns a best-effort MIME type for a path.
func DetectMime(path string) string {
	if m, ok := mimeMap[Ext(path)]; ok {
		return m
	}
	return "application/octet-stream"
}

// Ext returns the lowercase extension of path, including the dot.
func Ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

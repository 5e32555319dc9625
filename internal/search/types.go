// Package search answers queries over the per-chunk indexes: semantic,
// lexical, and hybrid retrieval with chunk-level fusion and transparent
// chunk-to-file aggregation.
package search

import (
	"time"

	findexerr "github.com/findexd/findex/internal/errors"
)

// Type selects the retrieval strategy.
type Type string

const (
	TypeSemantic Type = "semantic"
	TypeFulltext Type = "fulltext"
	TypeHybrid   Type = "hybrid"
)

// ParseType validates a search type string at the API boundary.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeSemantic, TypeFulltext, TypeHybrid:
		return Type(s), nil
	case "":
		return TypeHybrid, nil
	default:
		return "", findexerr.Invalid("unknown search type %q", s)
	}
}

// InputType selects the multimodal entry point.
type InputType string

const (
	InputTypeText  InputType = "text"
	InputTypeVoice InputType = "voice"
	InputTypeImage InputType = "image"
)

// ParseInputType validates an input type string at the API boundary.
func ParseInputType(s string) (InputType, error) {
	switch InputType(s) {
	case InputTypeVoice, InputTypeImage:
		return InputType(s), nil
	default:
		return "", findexerr.Invalid("unknown input type %q", s)
	}
}

// MatchType records which retriever(s) surfaced a result.
type MatchType string

const (
	MatchSemantic MatchType = "semantic"
	MatchFulltext MatchType = "fulltext"
	MatchHybrid   MatchType = "hybrid"
)

// Options configures a search.
type Options struct {
	// Limit is the maximum file-level results (default from config).
	Limit int

	// Offset skips file-level results for pagination.
	Offset int

	// Threshold drops semantic hits below this similarity.
	Threshold float64

	// FileTypes restricts results to these mapped types; extension
	// values (".pdf") are canonicalized.
	FileTypes []string
}

// Result is one file-level search result.
type Result struct {
	FileID         int64     `json:"file_id"`
	FileName       string    `json:"file_name"`
	FilePath       string    `json:"file_path"`
	FileType       string    `json:"file_type"`
	RelevanceScore float64   `json:"relevance_score"`
	PreviewText    string    `json:"preview_text"`
	Highlight      string    `json:"highlight"`
	MatchType      MatchType `json:"match_type"`
	FileSize       int64     `json:"file_size"`
	CreatedAt      time.Time `json:"created_at"`
	ModifiedAt     time.Time `json:"modified_at"`

	// ChunkID and ChunkIndex identify the best-scoring chunk backing
	// this result.
	ChunkID    int64 `json:"chunk_id"`
	ChunkIndex int   `json:"chunk_index"`
}

// Response is the search envelope.
type Response struct {
	Results []*Result `json:"results"`
	Total   int       `json:"total"`
	Type    Type      `json:"search_type"`

	// ConvertedText and Confidence are set by multimodal entries.
	ConvertedText string  `json:"converted_text,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`

	// Degraded explains a partial failure (one retrieval path down).
	Degraded string `json:"degraded,omitempty"`

	ElapsedMs int64 `json:"elapsed_ms"`
}

// chunkHit is the engine's internal per-chunk merge unit.
type chunkHit struct {
	chunkID    int64
	fileID     int64
	chunkIndex int
	score      float64
	semRank    int // 1-based rank in the semantic list, 0 if absent
	lexRank    int // 1-based rank in the lexical list, 0 if absent
	matchType  MatchType

	fileName string
	filePath string
	fileType string
	content  string // chunk text when already known (full-text hits)
}

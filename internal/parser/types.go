// Package parser turns supported files into searchable text plus
// format-specific metadata. Parse failures never escape as errors: they
// produce an empty ParsedContent carrying the error in its metadata.
package parser

import (
	"context"
)

// ParsedContent is the result of text extraction.
type ParsedContent struct {
	// Text is the extracted text, truncated to the configured maximum.
	Text string

	// Title is the best-effort document title.
	Title string

	// Language is a coarse language guess ("en", "zh", "" when unknown).
	Language string

	// Confidence reflects extraction quality in [0,1].
	Confidence float64

	// Metadata carries extractor-specific details; on failure it holds
	// an "error" key and Confidence is zero.
	Metadata map[string]string
}

// Failed reports whether this content represents a parse failure.
func (p *ParsedContent) Failed() bool {
	return p.Confidence == 0 && p.Text == ""
}

// WordCount returns the number of whitespace-separated tokens in Text.
func (p *ParsedContent) WordCount() int {
	n := 0
	inWord := false
	for _, r := range p.Text {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

// Metadata describes format-specific file properties, readable without
// full content extraction.
type Metadata struct {
	Title     string
	Author    string
	Keywords  string
	Language  string
	PageCount int
	Duration  float64 // seconds, audio/video
	Width     int     // pixels, images
	Height    int     // pixels, images
	FileType  string
}

// Parser extracts text from one file format. Registered plugins (PDF,
// Office readers) implement this; so do the built-in variants.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParsedContent, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(ctx context.Context, path string) (*ParsedContent, error)

// Parse implements Parser.
func (f ParserFunc) Parse(ctx context.Context, path string) (*ParsedContent, error) {
	return f(ctx, path)
}

// failure builds the non-throwing error surface all variants share.
func failure(err error) *ParsedContent {
	return &ParsedContent{
		Text:       "",
		Confidence: 0,
		Metadata:   map[string]string{"error": err.Error()},
	}
}

// Package ai provides the narrow predictor interfaces the pipeline
// depends on (speech-to-text, image OCR and captioning) and their HTTP
// client implementations. Predictors are opaque: the engine only sees
// text and confidence.
package ai

import (
	"context"
	"time"
)

// Transcript is the result of a speech-to-text call.
type Transcript struct {
	Text       string
	Confidence float64
	Language   string
	Duration   time.Duration
}

// SpeechPredictor converts audio into text.
type SpeechPredictor interface {
	// TranscribeFile transcribes an audio file on disk.
	TranscribeFile(ctx context.Context, path string) (*Transcript, error)

	// Transcribe transcribes raw audio bytes (WAV or compressed).
	Transcribe(ctx context.Context, audio []byte) (*Transcript, error)

	// Available reports whether the predictor can serve calls.
	Available(ctx context.Context) bool
}

// OCRLine is a single recognized text line with its confidence.
type OCRLine struct {
	Text       string
	Confidence float64
}

// ImageDescription is the result of an image-to-text call.
type ImageDescription struct {
	Text       string
	Confidence float64
}

// ImagePredictor extracts text from images.
type ImagePredictor interface {
	// RecognizeFile runs OCR over an image file and returns its lines.
	RecognizeFile(ctx context.Context, path string) ([]OCRLine, error)

	// Describe converts raw image bytes into search text (OCR plus caption).
	Describe(ctx context.Context, image []byte) (*ImageDescription, error)

	// Available reports whether the predictor can serve calls.
	Available(ctx context.Context) bool
}

// AudioExtractor produces a mono 16kHz WAV from a media file, capped at
// maxDuration. Used for video files before transcription.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, src, dst string, maxDuration time.Duration) error
}

package ai

import (
	"context"
	"os"
	"time"

	findexerr "github.com/findexd/findex/internal/errors"
)

// MockSpeech is a deterministic speech predictor for tests.
type MockSpeech struct {
	// Text is returned for every transcription.
	Text string
	// Confidence is returned for every transcription.
	Confidence float64
	// Down makes every call fail as unavailable.
	Down bool
}

var _ SpeechPredictor = (*MockSpeech)(nil)

func (m *MockSpeech) TranscribeFile(ctx context.Context, path string) (*Transcript, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, findexerr.Wrap(findexerr.ErrCodeFileNotFound, err)
	}
	return m.Transcribe(ctx, []byte{0})
}

func (m *MockSpeech) Transcribe(ctx context.Context, audio []byte) (*Transcript, error) {
	if m.Down {
		return nil, findexerr.New(findexerr.ErrCodePredictorUnavailable, "mock speech down", nil)
	}
	if len(audio) == 0 {
		return nil, findexerr.Invalid("empty audio payload")
	}
	return &Transcript{Text: m.Text, Confidence: m.Confidence, Language: "en", Duration: 2 * time.Second}, nil
}

func (m *MockSpeech) Available(ctx context.Context) bool {
	return !m.Down
}

// MockImage is a deterministic image predictor for tests.
type MockImage struct {
	// Lines are returned from RecognizeFile.
	Lines []OCRLine
	// Caption is appended by Describe.
	Caption string
	// Down makes every call fail as unavailable.
	Down bool
	// MinConfidence mirrors the HTTP predictor's line filter in Describe.
	MinConfidence float64
}

var _ ImagePredictor = (*MockImage)(nil)

func (m *MockImage) RecognizeFile(ctx context.Context, path string) ([]OCRLine, error) {
	if m.Down {
		return nil, findexerr.New(findexerr.ErrCodePredictorUnavailable, "mock image down", nil)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, findexerr.Wrap(findexerr.ErrCodeFileNotFound, err)
	}
	return m.Lines, nil
}

func (m *MockImage) Describe(ctx context.Context, image []byte) (*ImageDescription, error) {
	if m.Down {
		return nil, findexerr.New(findexerr.ErrCodePredictorUnavailable, "mock image down", nil)
	}
	min := m.MinConfidence
	if min <= 0 {
		min = 0.3
	}
	text := ""
	var confSum float64
	var confN int
	for _, l := range m.Lines {
		if l.Confidence >= min {
			if text != "" {
				text += " "
			}
			text += l.Text
			confSum += l.Confidence
			confN++
		}
	}
	if m.Caption != "" {
		if text != "" {
			text += " "
		}
		text += m.Caption
		confSum += 0.9
		confN++
	}
	conf := 0.0
	if confN > 0 {
		conf = confSum / float64(confN)
	}
	return &ImageDescription{Text: text, Confidence: conf}, nil
}

func (m *MockImage) Available(ctx context.Context) bool {
	return !m.Down
}

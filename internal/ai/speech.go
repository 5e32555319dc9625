package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	findexerr "github.com/findexd/findex/internal/errors"
)

// SpeechConfig configures the HTTP speech predictor.
type SpeechConfig struct {
	// Endpoint is the sidecar base URL (empty disables the predictor).
	Endpoint string

	// Model is the transcription model name.
	Model string

	// Timeout is the per-call deadline (default: 60s).
	Timeout time.Duration

	// MaxDuration caps audio length fed to the predictor (default: 15m).
	MaxDuration time.Duration
}

// HTTPSpeech calls an HTTP transcription sidecar (whisper-style).
type HTTPSpeech struct {
	client *http.Client
	config SpeechConfig
}

var _ SpeechPredictor = (*HTTPSpeech)(nil)

// NewHTTPSpeech creates a speech predictor against cfg.Endpoint.
func NewHTTPSpeech(cfg SpeechConfig) *HTTPSpeech {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 15 * time.Minute
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-base"
	}
	// Per-request deadlines come from context, not a static client timeout.
	return &HTTPSpeech{
		client: &http.Client{},
		config: cfg,
	}
}

type transcribeRequest struct {
	Model       string  `json:"model"`
	Audio       string  `json:"audio"` // base64
	MaxSeconds  float64 `json:"max_seconds,omitempty"`
}

type transcribeResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
	Duration   float64 `json:"duration"`
}

// TranscribeFile transcribes an audio file on disk.
func (s *HTTPSpeech) TranscribeFile(ctx context.Context, path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, findexerr.Wrap(findexerr.ErrCodeFileNotFound, err)
	}
	return s.Transcribe(ctx, data)
}

// Transcribe transcribes raw audio bytes.
func (s *HTTPSpeech) Transcribe(ctx context.Context, audio []byte) (*Transcript, error) {
	if s.config.Endpoint == "" {
		return nil, findexerr.New(findexerr.ErrCodePredictorUnavailable, "speech predictor not configured", nil)
	}
	if len(audio) == 0 {
		return nil, findexerr.Invalid("empty audio payload")
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	reqBody := transcribeRequest{
		Model:      s.config.Model,
		Audio:      base64.StdEncoding.EncodeToString(audio),
		MaxSeconds: s.config.MaxDuration.Seconds(),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal transcribe request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint+"/v1/audio/transcriptions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, findexerr.New(findexerr.ErrCodePredictorTimeout, "speech call timed out", err)
		}
		return nil, findexerr.New(findexerr.ErrCodePredictorUnavailable, "speech predictor unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, findexerr.Newf(findexerr.ErrCodePredictorUnavailable,
			"speech predictor returned %d: %s", resp.StatusCode, string(body))
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode transcribe response: %w", err)
	}

	slog.Debug("speech_transcribed",
		slog.Int("audio_bytes", len(audio)),
		slog.Float64("confidence", out.Confidence))

	return &Transcript{
		Text:       out.Text,
		Confidence: out.Confidence,
		Language:   out.Language,
		Duration:   time.Duration(out.Duration * float64(time.Second)),
	}, nil
}

// Available probes the sidecar health endpoint.
func (s *HTTPSpeech) Available(ctx context.Context) bool {
	if s.config.Endpoint == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

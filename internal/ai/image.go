package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	findexerr "github.com/findexd/findex/internal/errors"
)

// ImageConfig configures the HTTP image predictor.
type ImageConfig struct {
	// Endpoint is the sidecar base URL (empty disables the predictor).
	Endpoint string

	// Model is the OCR/caption model name.
	Model string

	// Timeout is the per-call deadline (default: 30s).
	Timeout time.Duration

	// MinConfidence filters OCR lines below this confidence (default: 0.3).
	MinConfidence float64
}

// HTTPImage calls an HTTP OCR/caption sidecar.
type HTTPImage struct {
	client *http.Client
	config ImageConfig
}

var _ ImagePredictor = (*HTTPImage)(nil)

// NewHTTPImage creates an image predictor against cfg.Endpoint.
func NewHTTPImage(cfg ImageConfig) *HTTPImage {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.3
	}
	if cfg.Model == "" {
		cfg.Model = "ocr-base"
	}
	return &HTTPImage{
		client: &http.Client{},
		config: cfg,
	}
}

type imageRequest struct {
	Model string `json:"model"`
	Image string `json:"image"` // base64
}

type imageResponse struct {
	Lines []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"lines"`
	Caption           string  `json:"caption"`
	CaptionConfidence float64 `json:"caption_confidence"`
}

// RecognizeFile runs OCR over an image file and returns all lines.
// Confidence filtering is left to the caller so thresholds stay configurable.
func (p *HTTPImage) RecognizeFile(ctx context.Context, path string) ([]OCRLine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, findexerr.Wrap(findexerr.ErrCodeFileNotFound, err)
	}
	out, err := p.call(ctx, data)
	if err != nil {
		return nil, err
	}

	lines := make([]OCRLine, 0, len(out.Lines))
	for _, l := range out.Lines {
		lines = append(lines, OCRLine{Text: l.Text, Confidence: l.Confidence})
	}
	return lines, nil
}

// Describe converts image bytes to search text: confident OCR lines
// joined with the caption.
func (p *HTTPImage) Describe(ctx context.Context, image []byte) (*ImageDescription, error) {
	out, err := p.call(ctx, image)
	if err != nil {
		return nil, err
	}

	var parts []string
	var confSum float64
	var confN int
	for _, l := range out.Lines {
		if l.Confidence >= p.config.MinConfidence {
			parts = append(parts, l.Text)
			confSum += l.Confidence
			confN++
		}
	}
	if out.Caption != "" {
		parts = append(parts, out.Caption)
		confSum += out.CaptionConfidence
		confN++
	}

	conf := 0.0
	if confN > 0 {
		conf = confSum / float64(confN)
	}
	return &ImageDescription{
		Text:       strings.Join(parts, " "),
		Confidence: conf,
	}, nil
}

func (p *HTTPImage) call(ctx context.Context, image []byte) (*imageResponse, error) {
	if p.config.Endpoint == "" {
		return nil, findexerr.New(findexerr.ErrCodePredictorUnavailable, "image predictor not configured", nil)
	}
	if len(image) == 0 {
		return nil, findexerr.Invalid("empty image payload")
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	payload, err := json.Marshal(imageRequest{
		Model: p.config.Model,
		Image: base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal image request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/v1/images/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, findexerr.New(findexerr.ErrCodePredictorTimeout, "image call timed out", err)
		}
		return nil, findexerr.New(findexerr.ErrCodePredictorUnavailable, "image predictor unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, findexerr.Newf(findexerr.ErrCodePredictorUnavailable,
			"image predictor returned %d: %s", resp.StatusCode, string(body))
	}

	var out imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode image response: %w", err)
	}
	return &out, nil
}

// Available probes the sidecar health endpoint.
func (p *HTTPImage) Available(ctx context.Context) bool {
	if p.config.Endpoint == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

package ai

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	findexerr "github.com/findexd/findex/internal/errors"
)

// FFmpegExtractor shells out to ffmpeg to pull a mono 16kHz WAV track
// out of a media container.
type FFmpegExtractor struct {
	// Binary is the ffmpeg executable (default: "ffmpeg" on PATH).
	Binary string
}

var _ AudioExtractor = (*FFmpegExtractor)(nil)

// NewFFmpegExtractor creates an extractor using ffmpeg from PATH.
func NewFFmpegExtractor() *FFmpegExtractor {
	return &FFmpegExtractor{Binary: "ffmpeg"}
}

// ExtractAudio decodes at most maxDuration of src into dst as mono 16kHz WAV.
func (f *FFmpegExtractor) ExtractAudio(ctx context.Context, src, dst string, maxDuration time.Duration) error {
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return findexerr.New(findexerr.ErrCodePredictorUnavailable, "ffmpeg not found on PATH", err)
	}

	args := []string{
		"-y",
		"-i", src,
		"-t", fmt.Sprintf("%.0f", maxDuration.Seconds()),
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		dst,
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return findexerr.New(findexerr.ErrCodeParseFailed,
			fmt.Sprintf("ffmpeg failed: %s", truncate(string(out), 512)), err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package parser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	xunicode "golang.org/x/text/encoding/unicode"

	"github.com/findexd/findex/internal/ai"
	findexerr "github.com/findexd/findex/internal/errors"
	"github.com/findexd/findex/internal/scanner"
)

// TruncationMarker is appended when parsed text is cut at the length cap.
const TruncationMarker = "\n\n[content truncated]"

// Confidence levels for native extraction paths.
const (
	confidencePlainText    = 0.9
	confidenceOffice       = 0.9
	confidencePDF          = 0.8
	confidenceMetadataOnly = 0.5
)

// Config configures the dispatcher.
type Config struct {
	// MaxContentLength truncates parsed text to this many runes.
	MaxContentLength int

	// StripGarbage removes repeated-garbage runs from plugin (PDF/Office) text.
	StripGarbage bool

	// OCRMinConfidence filters OCR lines below this confidence.
	OCRMinConfidence float64

	// SpeechMaxDuration caps audio fed to the speech predictor.
	SpeechMaxDuration time.Duration
}

// Dispatcher routes files to the right extraction variant by type.
type Dispatcher struct {
	config  Config
	speech  ai.SpeechPredictor
	image   ai.ImagePredictor
	audioEx ai.AudioExtractor
	plugins map[string]Parser // ext -> registered format parser
}

// New creates a Dispatcher. speech, image, and audioEx may be nil; the
// corresponding formats then fail per-file instead of at construction.
func New(cfg Config, speech ai.SpeechPredictor, image ai.ImagePredictor, audioEx ai.AudioExtractor) *Dispatcher {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 1024 * 1024
	}
	if cfg.OCRMinConfidence <= 0 {
		cfg.OCRMinConfidence = 0.3
	}
	if cfg.SpeechMaxDuration <= 0 {
		cfg.SpeechMaxDuration = 15 * time.Minute
	}
	return &Dispatcher{
		config:  cfg,
		speech:  speech,
		image:   image,
		audioEx: audioEx,
		plugins: make(map[string]Parser),
	}
}

// Register installs a format parser for an extension (e.g. ".pdf").
// Registered parsers take precedence over the built-in fallbacks.
func (d *Dispatcher) Register(ext string, p Parser) {
	d.plugins[strings.ToLower(ext)] = p
}

// Parse extracts text from path. The returned content is never nil and
// never panics through: failures come back with Confidence 0 and an
// "error" metadata key.
func (d *Dispatcher) Parse(ctx context.Context, path string) (content *ParsedContent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("parse_panic", slog.String("path", path), slog.Any("panic", r))
			content = failure(fmt.Errorf("parser panic: %v", r))
		}
	}()

	ext := scanner.Ext(path)

	if plugin, ok := d.plugins[ext]; ok {
		return d.parseWithPlugin(ctx, plugin, path, ext)
	}

	switch scanner.DetectType(path) {
	case scanner.FileTypeText:
		content = d.parseTextLike(path, ext)
	case scanner.FileTypeAudio:
		content = d.parseAudio(ctx, path)
	case scanner.FileTypeVideo:
		content = d.parseVideo(ctx, path)
	case scanner.FileTypeImage:
		content = d.parseImage(ctx, path)
	case scanner.FileTypePDF, scanner.FileTypeDocument:
		// No plugin registered: metadata-only fallback.
		content = d.metadataOnly(path)
	default:
		content = d.metadataOnly(path)
	}

	d.finish(content)
	return content
}

// parseWithPlugin runs a registered format parser, then applies the
// shared cleanup and truncation policy.
func (d *Dispatcher) parseWithPlugin(ctx context.Context, p Parser, path, ext string) *ParsedContent {
	content, err := p.Parse(ctx, path)
	if err != nil {
		slog.Warn("parse_plugin_failed", slog.String("path", path), slog.String("error", err.Error()))
		return failure(err)
	}
	if content == nil {
		return failure(fmt.Errorf("parser for %s returned no content", ext))
	}
	if d.config.StripGarbage {
		content.Text = CleanExtracted(content.Text)
	}
	d.finish(content)
	return content
}

// parseTextLike reads plain text, markdown, HTML, and code files with
// encoding autodetection.
func (d *Dispatcher) parseTextLike(path, ext string) *ParsedContent {
	raw, err := os.ReadFile(path)
	if err != nil {
		return failure(err)
	}

	text, encName := DecodeText(raw)

	isHTML := ext == ".html" || ext == ".htm"
	title := ""
	if isHTML {
		title = htmlTitle(text)
		text = StripHTML(text)
	}
	if title == "" {
		title = titleFromText(text)
	}

	return &ParsedContent{
		Text:       text,
		Title:      title,
		Language:   guessLanguage(text),
		Confidence: confidencePlainText,
		Metadata:   map[string]string{"encoding": encName},
	}
}

func (d *Dispatcher) parseAudio(ctx context.Context, path string) *ParsedContent {
	if d.speech == nil {
		return failure(findexerr.New(findexerr.ErrCodePredictorUnavailable, "speech predictor not configured", nil))
	}
	tr, err := d.speech.TranscribeFile(ctx, path)
	if err != nil {
		return failure(err)
	}
	return &ParsedContent{
		Text:       tr.Text,
		Title:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Language:   tr.Language,
		Confidence: tr.Confidence,
		Metadata:   map[string]string{"duration": fmt.Sprintf("%.1fs", tr.Duration.Seconds())},
	}
}

func (d *Dispatcher) parseVideo(ctx context.Context, path string) *ParsedContent {
	if d.speech == nil || d.audioEx == nil {
		return failure(findexerr.New(findexerr.ErrCodePredictorUnavailable, "video transcription not configured", nil))
	}

	wav, err := os.CreateTemp("", "findex-audio-*.wav")
	if err != nil {
		return failure(err)
	}
	wavPath := wav.Name()
	_ = wav.Close()
	defer os.Remove(wavPath)

	if err := d.audioEx.ExtractAudio(ctx, path, wavPath, d.config.SpeechMaxDuration); err != nil {
		return failure(err)
	}

	tr, err := d.speech.TranscribeFile(ctx, wavPath)
	if err != nil {
		return failure(err)
	}
	return &ParsedContent{
		Text:       tr.Text,
		Title:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Language:   tr.Language,
		Confidence: tr.Confidence,
		Metadata:   map[string]string{"duration": fmt.Sprintf("%.1fs", tr.Duration.Seconds())},
	}
}

func (d *Dispatcher) parseImage(ctx context.Context, path string) *ParsedContent {
	if d.image == nil {
		return failure(findexerr.New(findexerr.ErrCodePredictorUnavailable, "image predictor not configured", nil))
	}
	lines, err := d.image.RecognizeFile(ctx, path)
	if err != nil {
		return failure(err)
	}

	var kept []string
	var confSum float64
	for _, l := range lines {
		if l.Confidence >= d.config.OCRMinConfidence {
			kept = append(kept, l.Text)
			confSum += l.Confidence
		}
	}
	conf := 0.0
	if len(kept) > 0 {
		conf = confSum / float64(len(kept))
	}
	return &ParsedContent{
		Text:       strings.Join(kept, "\n"),
		Title:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Confidence: conf,
		Metadata:   map[string]string{"ocr_lines": fmt.Sprintf("%d", len(kept))},
	}
}

// metadataOnly is the fallback for formats without a registered parser.
func (d *Dispatcher) metadataOnly(path string) *ParsedContent {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &ParsedContent{
		Text:       name,
		Title:      name,
		Confidence: confidenceMetadataOnly,
		Metadata:   map[string]string{"fallback": "metadata-only"},
	}
}

// finish applies the shared truncation policy in place.
func (d *Dispatcher) finish(content *ParsedContent) {
	if content.Metadata == nil {
		content.Metadata = make(map[string]string)
	}
	runes := []rune(content.Text)
	if len(runes) > d.config.MaxContentLength {
		content.Text = string(runes[:d.config.MaxContentLength]) + TruncationMarker
		content.Metadata["truncated"] = "true"
	}
}

// DecodeText decodes raw bytes to a string, trying UTF-8, then UTF-16
// BOMs, then GBK, then Latin-1. Returns the text and the encoding used.
func DecodeText(raw []byte) (string, string) {
	if utf8.Valid(raw) {
		return string(raw), "utf-8"
	}

	if len(raw) >= 2 {
		var dec *encoding.Decoder
		switch {
		case raw[0] == 0xFF && raw[1] == 0xFE:
			dec = xunicode.UTF16(xunicode.LittleEndian, xunicode.UseBOM).NewDecoder()
		case raw[0] == 0xFE && raw[1] == 0xFF:
			dec = xunicode.UTF16(xunicode.BigEndian, xunicode.UseBOM).NewDecoder()
		}
		if dec != nil {
			if out, err := dec.Bytes(raw); err == nil {
				return string(out), "utf-16"
			}
		}
	}

	if out, err := simplifiedchinese.GBK.NewDecoder().Bytes(raw); err == nil && utf8.Valid(out) {
		return string(out), "gbk"
	}

	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		// Latin-1 decoding cannot actually fail; guard anyway.
		return string(raw), "binary"
	}
	return string(out), "latin-1"
}

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]*>`)
	htmlTitleRe   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
)

// StripHTML removes markup, scripts, and styles, collapsing blank runs.
func StripHTML(html string) string {
	text := scriptStyleRe.ReplaceAllString(html, " ")
	text = tagRe.ReplaceAllString(text, " ")
	text = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'").Replace(text)

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	text = strings.Join(lines, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func htmlTitle(html string) string {
	if m := htmlTitleRe.FindStringSubmatch(html); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// titleFromText picks the first non-empty line, preferring a markdown
// heading, capped at 200 runes.
func titleFromText(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimSpace(strings.TrimLeft(line, "#"))
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > 200 {
			return string(runes[:200])
		}
		return line
	}
	return ""
}

// guessLanguage returns "zh" when at least a quarter of letters are Han,
// "en" for mostly-Latin text, "" otherwise.
func guessLanguage(text string) string {
	var han, latin, total int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		total++
		switch {
		case unicode.Is(unicode.Han, r):
			han++
		case r < 128:
			latin++
		}
		if total >= 2000 {
			break
		}
	}
	if total == 0 {
		return ""
	}
	if han*4 >= total {
		return "zh"
	}
	if latin*2 >= total {
		return "en"
	}
	return ""
}

// CleanExtracted drops repeated-garbage runs (a character repeated four
// or more times) and lines with under 60% meaningful characters. Used
// for PDF/Office plugin output when strip_garbage is enabled.
func CleanExtracted(text string) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		cleaned := dropLongRuns(line, 4)
		if cleaned == "" {
			out = append(out, "")
			continue
		}
		if meaningfulRatio(cleaned) < 0.6 {
			continue
		}
		out = append(out, cleaned)
	}
	return strings.Join(out, "\n")
}

// dropLongRuns removes runs of the same rune repeated maxRun or more times.
func dropLongRuns(s string, maxRun int) string {
	runes := []rune(s)
	var b strings.Builder
	for i := 0; i < len(runes); {
		j := i
		for j < len(runes) && runes[j] == runes[i] {
			j++
		}
		r := runes[i]
		garbage := !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r)
		if j-i < maxRun || !garbage {
			b.WriteString(string(runes[i:j]))
		}
		i = j
	}
	return b.String()
}

func meaningfulRatio(s string) float64 {
	var meaningful, total int
	for _, r := range s {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) ||
			strings.ContainsRune(".,;:!?()[]{}'\"-_/", r) {
			meaningful++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(meaningful) / float64(total)
}

// Package extract turns uploaded bytes into plain text and measures it.
//
// An Extractor holds a registry of Decoders keyed by MIME type. PDF, Word and
// plain text decoders are registered by default; images are handled only
// when an OCR engine is supplied with WithOCR.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/poiesic/doctier/core"
)

// MIME types with built-in decoders.
const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeDOC  = "application/msword"
	MimeText = "text/plain"
	MimeJPEG = "image/jpeg"
	MimeJPG  = "image/jpg"
	MimePNG  = "image/png"
)

// DefaultTimeout bounds a single extraction unless WithTimeout overrides it.
const DefaultTimeout = 30 * time.Second

// Decoder converts the raw bytes of one format into text.
type Decoder interface {
	Decode(ctx context.Context, content []byte) (string, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(ctx context.Context, content []byte) (string, error)

// Decode calls f.
func (f DecoderFunc) Decode(ctx context.Context, content []byte) (string, error) {
	return f(ctx, content)
}

// Extractor dispatches extraction to the decoder registered for a MIME type.
// It is safe for concurrent use.
type Extractor struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
	counter  TokenCounter
	ocr      OCR
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor) error

// WithTimeout bounds each extraction. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) error {
		if d < 0 {
			return fmt.Errorf("extract: negative timeout %s", d)
		}
		e.timeout = d
		return nil
	}
}

// WithOCR enables image extraction through the given engine.
func WithOCR(ocr OCR) Option {
	return func(e *Extractor) error {
		e.ocr = ocr
		return nil
	}
}

// WithTokenCounter replaces the default tiktoken counter.
func WithTokenCounter(counter TokenCounter) Option {
	return func(e *Extractor) error {
		if counter == nil {
			return fmt.Errorf("extract: token counter is nil")
		}
		e.counter = counter
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// New creates an Extractor with the built-in decoders registered.
func New(opts ...Option) (*Extractor, error) {
	e := &Extractor{
		decoders: make(map[string]Decoder),
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.counter == nil {
		e.counter = NewTiktokenCounter(e.logger)
	}
	e.logger = e.logger.With("component", "extractor")

	e.Register(MimePDF, DecoderFunc(decodePDF))
	e.Register(MimeDOCX, DecoderFunc(decodeDOCX))
	e.Register(MimeDOC, DecoderFunc(decodeDOCX))
	e.Register(MimeText, DecoderFunc(decodeText))
	if e.ocr != nil {
		images := imageDecoder{ocr: e.ocr}
		e.Register(MimeJPEG, images)
		e.Register(MimeJPG, images)
		e.Register(MimePNG, images)
	}
	return e, nil
}

// Register installs or replaces the decoder for a MIME type.
func (e *Extractor) Register(mimeType string, d Decoder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decoders[normalizeMIME(mimeType)] = d
}

// Supports reports whether a decoder is registered for mimeType.
func (e *Extractor) Supports(mimeType string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.decoders[normalizeMIME(mimeType)]
	return ok
}

// SupportedTypes lists the registered MIME types in sorted order.
func (e *Extractor) SupportedTypes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	types := make([]string, 0, len(e.decoders))
	for t := range e.decoders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Counter returns the token counter used by Process.
func (e *Extractor) Counter() TokenCounter {
	return e.counter
}

// Extract decodes content of the given MIME type into text.
// Whitespace-only results fail with core.ErrEmptyContent.
func (e *Extractor) Extract(ctx context.Context, content []byte, mimeType string) (string, error) {
	e.mu.RLock()
	decoder, ok := e.decoders[normalizeMIME(mimeType)]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", core.ErrUnsupportedFormat, mimeType)
	}
	if len(content) == 0 {
		return "", core.ErrEmptyContent
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: decoder panic: %v", core.ErrCorruptContent, r)}
			}
		}()
		text, err := decoder.Decode(ctx, content)
		done <- result{text: text, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", core.ErrExtractionFailed, ctx.Err())
	case res = <-done:
	}

	if res.err != nil {
		e.logger.Warn("extraction failed", "mime_type", mimeType, "err", res.err)
		return "", fmt.Errorf("%w: %w", core.ErrExtractionFailed, res.err)
	}
	if strings.TrimSpace(res.text) == "" {
		return "", core.ErrEmptyContent
	}
	return res.text, nil
}

// Processed is the measured result of extracting one upload.
type Processed struct {
	Text           string
	TokenCount     int
	ContentHash    string
	CharacterCount int
	WordCount      int
}

// Process extracts text and computes its token count and content hash.
func (e *Extractor) Process(ctx context.Context, content []byte, filename, mimeType string) (*Processed, error) {
	text, err := e.Extract(ctx, content, mimeType)
	if err != nil {
		return nil, err
	}

	p := &Processed{
		Text:           text,
		TokenCount:     e.counter.Count(text),
		ContentHash:    ContentHash(text),
		CharacterCount: len([]rune(text)),
		WordCount:      len(strings.Fields(text)),
	}
	e.logger.Info("processed document", "filename", filename, "tokens", p.TokenCount, "chars", p.CharacterCount)
	return p, nil
}

// ContentHash returns the hex blake2b-256 digest used for duplicate detection.
func ContentHash(text string) string {
	return core.HashContent(text)
}

// normalizeMIME lowercases and strips parameters such as "; charset=utf-8".
func normalizeMIME(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		return parsed
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

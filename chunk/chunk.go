// Package chunk splits extracted text into overlapping, sentence-aligned
// segments sized in tokens for indexing.
package chunk

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

const (
	// DefaultSize is the target chunk size in tokens.
	DefaultSize = 1000
	// DefaultOverlap is the overlap budget in tokens. One sentence is carried
	// forward for every ten tokens of overlap.
	DefaultOverlap = 100

	sentenceSeparator = ". "
	tokensPerWord     = 1.3
)

// Counter measures text in tokens. extract.TokenCounter satisfies it.
type Counter interface {
	Count(text string) int
}

// Chunker splits text on sentence boundaries. It is safe for concurrent use.
type Chunker struct {
	size    int
	overlap int
	counter Counter
	logger  *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker) error

// WithSize sets the default target size in tokens.
func WithSize(size int) Option {
	return func(c *Chunker) error {
		if size < 1 {
			return fmt.Errorf("chunk: size must be positive, got %d", size)
		}
		c.size = size
		return nil
	}
}

// WithOverlap sets the overlap budget in tokens.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) error {
		if overlap < 0 {
			return fmt.Errorf("chunk: overlap must not be negative, got %d", overlap)
		}
		c.overlap = overlap
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chunker) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// New creates a Chunker that measures sentences with counter.
func New(counter Counter, opts ...Option) (*Chunker, error) {
	if counter == nil {
		return nil, fmt.Errorf("chunk: counter is required")
	}
	c := &Chunker{
		size:    DefaultSize,
		overlap: DefaultOverlap,
		counter: counter,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "chunker")
	return c, nil
}

// Size returns the default target size.
func (c *Chunker) Size() int {
	return c.size
}

// Split divides text into chunks of at most size tokens where sentence
// lengths allow. A size of zero or less uses the configured default.
// Non-empty input always yields at least one non-empty chunk.
func (c *Chunker) Split(text string, size int) (chunks []string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = c.size
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("sentence chunking failed, falling back to word slicing", "err", r)
			chunks = splitWords(text, size)
		}
	}()

	chunks = c.splitSentences(text, size)
	if len(chunks) == 0 {
		chunks = splitWords(text, size)
	}
	return chunks
}

func (c *Chunker) splitSentences(text string, size int) []string {
	sentences := strings.Split(text, sentenceSeparator)
	carry := c.overlap / 10

	var (
		chunks  []string
		current []string
		tokens  int
	)
	emit := func() {
		if joined := strings.Join(current, sentenceSeparator); strings.TrimSpace(joined) != "" {
			chunks = append(chunks, joined)
		}
	}

	for _, sentence := range sentences {
		sentenceTokens := c.counter.Count(sentence)
		if tokens+sentenceTokens <= size || len(current) == 0 {
			current = append(current, sentence)
			tokens += sentenceTokens
			continue
		}

		emit()

		// Keep at least one sentence out of the carry so consecutive chunks differ.
		keep := min(carry, len(current)-1)
		current = append(slices.Clone(current[len(current)-keep:]), sentence)
		tokens = 0
		for _, s := range current {
			tokens += c.counter.Count(s)
		}
	}
	if len(current) > 0 {
		emit()
	}

	return chunks
}

// splitWords slices text into runs of size/1.3 words.
func splitWords(text string, size int) []string {
	words := strings.Fields(text)
	width := max(1, int(float64(size)/tokensPerWord))

	chunks := make([]string, 0, len(words)/width+1)
	for start := 0; start < len(words); start += width {
		end := min(start+width, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}

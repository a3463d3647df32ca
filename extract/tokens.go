package extract

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE used for all token counts, so tier thresholds
// mean the same thing for every document.
const DefaultEncoding = "cl100k_base"

// wordsPerToken approximates tokens from whitespace-separated words.
const wordsPerToken = 1.3

// TokenCounter measures text in model tokens.
// Implementations must be thread-safe for concurrent use.
type TokenCounter interface {
	Count(text string) int
}

// WordCounter approximates token counts as words x 1.3.
type WordCounter struct{}

// Count returns int(words * 1.3).
func (WordCounter) Count(text string) int {
	return int(float64(len(strings.Fields(text))) * wordsPerToken)
}

// TiktokenCounter counts tokens with a tiktoken BPE. The encoding is loaded
// on first use; if it cannot be loaded every count falls back to WordCounter.
type TiktokenCounter struct {
	encoding string
	logger   *slog.Logger

	once sync.Once
	tke  *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a counter using DefaultEncoding.
func NewTiktokenCounter(logger *slog.Logger) *TiktokenCounter {
	return NewTiktokenCounterWithEncoding(DefaultEncoding, logger)
}

// NewTiktokenCounterWithEncoding creates a counter for a named encoding such as "o200k_base".
func NewTiktokenCounterWithEncoding(encoding string, logger *slog.Logger) *TiktokenCounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TiktokenCounter{
		encoding: encoding,
		logger:   logger.With("component", "tokenizer"),
	}
}

// Count returns the number of BPE tokens in text.
func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(c.load)
	if c.tke == nil {
		return WordCounter{}.Count(text)
	}
	return len(c.tke.Encode(text, nil, nil))
}

func (c *TiktokenCounter) load() {
	tke, err := tiktoken.GetEncoding(c.encoding)
	if err != nil {
		c.logger.Warn("token encoding unavailable, approximating from word count", "encoding", c.encoding, "err", err)
		return
	}
	c.tke = tke
}

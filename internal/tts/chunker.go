package tts

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// DefaultChunkThreshold is the buffered length (in characters) that forces a chunk out
const DefaultChunkThreshold = 100

// TextChunker accumulates streamed text and decides when it is worth sending for synthesis.
// A chunk is released when forced, when the trimmed buffer is longer than the threshold, or
// when it ends a sentence.
type TextChunker struct {
	mu        sync.Mutex
	buf       strings.Builder
	threshold int
}

func NewTextChunker(threshold int) *TextChunker {
	if threshold <= 0 {
		threshold = DefaultChunkThreshold
	}
	return &TextChunker{threshold: threshold}
}

// Submit appends text and returns the trimmed buffer contents if a trigger fired. The buffer
// is cleared in the same critical section, so every character is released at most once.
func (c *TextChunker) Submit(text string, isFinal bool) (string, bool) {
	if text == "" && !isFinal {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf.WriteString(text)
	trimmed := strings.TrimSpace(c.buf.String())
	if trimmed == "" {
		return "", false
	}

	if isFinal || utf8.RuneCountInString(trimmed) > c.threshold || endsSentence(trimmed) {
		c.buf.Reset()
		return trimmed, true
	}
	return "", false
}

// Flush forces out whatever is buffered
func (c *TextChunker) Flush() (string, bool) {
	return c.Submit("", true)
}

// Reset discards buffered text
func (c *TextChunker) Reset() {
	c.mu.Lock()
	c.buf.Reset()
	c.mu.Unlock()
}

// Pending returns the number of buffered characters
func (c *TextChunker) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return utf8.RuneCountInString(c.buf.String())
}

func endsSentence(trimmed string) bool {
	switch trimmed[len(trimmed)-1] {
	case '.', '?', '!':
		return true
	}
	return false
}

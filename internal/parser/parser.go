// Package parser turns raw upstream response-body fragments into normalized chunks.
//
// Every parser is stateful: bytes that do not yet form a complete unit of the
// backend's wire format stay buffered until a later Consume call completes them.
// A parser instance is not safe for concurrent use; each stream owns its own.
package parser

import (
	"bytes"
	"fmt"
	"log/slog"

	"llmrelay/internal/models"
)

// ChunkParser extracts normalized chunks from response-body fragments
type ChunkParser interface {
	// Consume appends fragment to the internal buffer and returns every chunk
	// that became complete. Empty fragments return nil.
	Consume(fragment []byte) []models.Chunk
	// Flush is called at transport EOF. It parses a trailing unit that was never
	// newline-terminated, if it is complete, and clears the buffer.
	Flush() []models.Chunk
	// Reset drops all buffered data so the instance can start a new stream.
	Reset()
}

// ErrorHandler receives unit-level failures. Parsing continues after it returns.
type ErrorHandler func(err *models.ProviderError)

// LogErrors returns an ErrorHandler that reports failures to logger
func LogErrors(logger *slog.Logger) ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(err *models.ProviderError) {
		logger.Warn("skipping malformed stream unit",
			"backend", err.Backend,
			"kind", string(err.Kind),
			"error", err.Message,
			"cause", err.Cause,
		)
	}
}

// ForBackend returns a fresh parser for the given backend's wire format
func ForBackend(kind models.BackendKind, onError ErrorHandler) (ChunkParser, error) {
	switch kind {
	case models.BackendClaude:
		return NewSSEParser(string(kind), onError), nil
	case models.BackendGemini:
		return NewArrayParser(string(kind), onError), nil
	case models.BackendOllama:
		return NewNDJSONParser(string(kind), onError), nil
	default:
		return nil, models.NewError(models.KindConfiguration, string(kind),
			fmt.Sprintf("no chunk parser for backend %q", kind))
	}
}

// lineBuffer splits a byte stream on '\n' and keeps the unterminated tail
type lineBuffer struct {
	buf []byte
}

// push appends fragment and returns copies of all complete lines, without
// their terminator and with a trailing '\r' removed.
func (l *lineBuffer) push(fragment []byte) [][]byte {
	l.buf = append(l.buf, fragment...)

	var lines [][]byte
	start := 0
	for {
		idx := bytes.IndexByte(l.buf[start:], '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(l.buf[start:start+idx], []byte{'\r'})
		lines = append(lines, bytes.Clone(line))
		start += idx + 1
	}

	if start > 0 {
		n := copy(l.buf, l.buf[start:])
		l.buf = l.buf[:n]
	}
	return lines
}

// take returns the unterminated tail and clears the buffer
func (l *lineBuffer) take() []byte {
	rest := bytes.TrimSuffix(l.buf, []byte{'\r'})
	out := bytes.Clone(rest)
	l.buf = l.buf[:0]
	return out
}

func (l *lineBuffer) reset() {
	l.buf = nil
}

func parseFailure(backend, what string, unit []byte, cause error) *models.ProviderError {
	return models.WrapError(models.KindParsing, backend,
		fmt.Sprintf("%s: %q", what, truncate(unit, 200)), cause)
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}

func report(onError ErrorHandler, err *models.ProviderError) {
	if onError != nil {
		onError(err)
	}
}

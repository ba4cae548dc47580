package parser

import (
	"bytes"
	"encoding/json"

	"llmrelay/internal/models"
)

type ollamaLine struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// NDJSONParser handles newline-delimited JSON; every line is an independent record
type NDJSONParser struct {
	backend string
	onError ErrorHandler
	lines   lineBuffer
}

// NewNDJSONParser creates a parser for the ollama /api/generate stream
func NewNDJSONParser(backend string, onError ErrorHandler) *NDJSONParser {
	return &NDJSONParser{backend: backend, onError: onError}
}

func (p *NDJSONParser) Consume(fragment []byte) []models.Chunk {
	if len(fragment) == 0 {
		return nil
	}
	var out []models.Chunk
	for _, line := range p.lines.push(fragment) {
		out = p.handleLine(line, out)
	}
	return out
}

func (p *NDJSONParser) Flush() []models.Chunk {
	return p.handleLine(p.lines.take(), nil)
}

func (p *NDJSONParser) Reset() {
	p.lines.reset()
}

func (p *NDJSONParser) handleLine(line []byte, out []models.Chunk) []models.Chunk {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return out
	}

	var rec ollamaLine
	if err := json.Unmarshal(line, &rec); err != nil {
		report(p.onError, parseFailure(p.backend, "invalid JSON line", line, err))
		return out
	}

	if rec.Error != "" {
		report(p.onError, models.NewError(models.KindUpstream, p.backend, rec.Error))
		return out
	}
	if rec.Response != "" {
		out = append(out, models.Chunk{Text: rec.Response})
	}
	if rec.Done {
		out = append(out, models.Chunk{IsFinal: true})
	}
	return out
}

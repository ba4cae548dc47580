package parser

import (
	"bytes"
	"encoding/json"

	"llmrelay/internal/models"
)

var (
	sseDataPrefix  = []byte("data:")
	sseEventPrefix = []byte("event:")
	sseDoneMarker  = []byte("[DONE]")
)

// claudeEvent is the subset of an Anthropic streaming event we care about
type claudeEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// SSEParser handles the event-stream form: newline-delimited event:/data: records
type SSEParser struct {
	backend string
	onError ErrorHandler
	lines   lineBuffer
}

// NewSSEParser creates a parser for the claude event stream
func NewSSEParser(backend string, onError ErrorHandler) *SSEParser {
	return &SSEParser{backend: backend, onError: onError}
}

func (p *SSEParser) Consume(fragment []byte) []models.Chunk {
	if len(fragment) == 0 {
		return nil
	}
	var out []models.Chunk
	for _, line := range p.lines.push(fragment) {
		out = p.handleLine(line, out)
	}
	return out
}

func (p *SSEParser) Flush() []models.Chunk {
	rest := p.lines.take()
	if len(bytes.TrimSpace(rest)) == 0 {
		return nil
	}
	return p.handleLine(rest, nil)
}

func (p *SSEParser) Reset() {
	p.lines.reset()
}

func (p *SSEParser) handleLine(line []byte, out []models.Chunk) []models.Chunk {
	if len(bytes.TrimSpace(line)) == 0 || line[0] == ':' {
		return out
	}
	if bytes.HasPrefix(line, sseEventPrefix) {
		return out
	}
	if !bytes.HasPrefix(line, sseDataPrefix) {
		// id:, retry: and unknown fields carry nothing for us
		return out
	}

	payload := bytes.TrimSpace(line[len(sseDataPrefix):])
	if bytes.Equal(payload, sseDoneMarker) {
		return append(out, models.Chunk{IsFinal: true})
	}

	var ev claudeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		report(p.onError, parseFailure(p.backend, "invalid JSON in data line", payload, err))
		return out
	}

	switch ev.Type {
	case "content_block_delta":
		if ev.Delta != nil && ev.Delta.Text != "" {
			out = append(out, models.Chunk{Text: ev.Delta.Text})
		}
	case "message_stop":
		out = append(out, models.Chunk{IsFinal: true})
	case "error":
		msg := "upstream reported an error mid-stream"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Type + ": " + ev.Error.Message
		}
		report(p.onError, models.NewError(models.KindUpstream, p.backend, msg))
	}
	return out
}

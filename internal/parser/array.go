package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"llmrelay/internal/models"
)

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// ArrayParser handles the bracketed-array form: one JSON array of response
// objects delivered in arbitrary byte fragments. Objects are located by brace
// matching that ignores braces inside string literals.
type ArrayParser struct {
	backend string
	onError ErrorHandler
	stats   *TokenStats

	buf      []byte
	pos      int // next byte to scan
	objStart int // start of the object being matched, -1 between objects
	depth    int
	inString bool
	escaped  bool
}

// NewArrayParser creates a parser for the gemini streamGenerateContent response
func NewArrayParser(backend string, onError ErrorHandler) *ArrayParser {
	return &ArrayParser{
		backend:  backend,
		onError:  onError,
		stats:    NewTokenStats(),
		objStart: -1,
	}
}

func (p *ArrayParser) Consume(fragment []byte) []models.Chunk {
	if len(fragment) == 0 {
		return nil
	}
	p.buf = append(p.buf, fragment...)

	var out []models.Chunk
	for {
		if p.objStart < 0 {
			for p.pos < len(p.buf) && isArrayPunct(p.buf[p.pos]) {
				p.pos++
			}
			if p.pos == len(p.buf) {
				break
			}
			if p.buf[p.pos] != '{' {
				end := len(p.buf)
				if next := bytes.IndexByte(p.buf[p.pos:], '{'); next >= 0 {
					end = p.pos + next
				}
				report(p.onError, parseFailure(p.backend, "unexpected bytes between array elements", p.buf[p.pos:end], nil))
				p.pos = end
				continue
			}
			p.objStart = p.pos
			p.depth = 0
		}

		end, ok := p.scan()
		if !ok {
			break
		}
		out = p.decode(p.buf[p.objStart:end], out)
		p.objStart = -1
	}

	p.compact()
	return out
}

func (p *ArrayParser) Flush() []models.Chunk {
	if p.objStart >= 0 && p.objStart < len(p.buf) {
		report(p.onError, parseFailure(p.backend, "stream ended inside a JSON object", p.buf[p.objStart:], nil))
	}
	p.Reset()
	return nil
}

func (p *ArrayParser) Reset() {
	p.buf = nil
	p.pos = 0
	p.objStart = -1
	p.depth = 0
	p.inString = false
	p.escaped = false
	p.stats.Reset()
}

// scan advances through the current object; it returns the end offset once the
// matching closing brace is found. State survives across Consume calls.
func (p *ArrayParser) scan() (int, bool) {
	for i := p.pos; i < len(p.buf); i++ {
		c := p.buf[i]
		if p.inString {
			switch {
			case p.escaped:
				p.escaped = false
			case c == '\\':
				p.escaped = true
			case c == '"':
				p.inString = false
			}
			continue
		}

		switch c {
		case '"':
			p.inString = true
		case '{':
			p.depth++
		case '}':
			p.depth--
			if p.depth == 0 {
				p.pos = i + 1
				return i + 1, true
			}
		}
	}
	p.pos = len(p.buf)
	return 0, false
}

// compact drops the consumed prefix of the buffer
func (p *ArrayParser) compact() {
	cut := p.pos
	if p.objStart >= 0 {
		cut = p.objStart
	}
	if cut == 0 {
		return
	}
	n := copy(p.buf, p.buf[cut:])
	p.buf = p.buf[:n]
	p.pos -= cut
	if p.objStart >= 0 {
		p.objStart -= cut
	}
}

func (p *ArrayParser) decode(obj []byte, out []models.Chunk) []models.Chunk {
	var resp geminiResponse
	if err := json.Unmarshal(obj, &resp); err != nil {
		report(p.onError, parseFailure(p.backend, "invalid JSON object", obj, err))
		return out
	}

	if resp.Error != nil {
		report(p.onError, models.NewError(models.KindUpstream, p.backend,
			fmt.Sprintf("%s (%d): %s", resp.Error.Status, resp.Error.Code, resp.Error.Message)))
		return out
	}

	if resp.UsageMetadata != nil {
		p.stats.Update(resp.UsageMetadata.CandidatesTokenCount)
	}

	if len(resp.Candidates) == 0 {
		return out
	}
	cand := resp.Candidates[0]
	if len(cand.Content.Parts) > 0 && cand.Content.Parts[0].Text != "" {
		out = append(out, models.Chunk{Text: cand.Content.Parts[0].Text})
		slog.Debug("gemini chunk decoded",
			"backend", p.backend,
			"tokens_per_sec", p.stats.TokensPerSecond(),
		)
	}
	if cand.FinishReason != "" {
		out = append(out, models.Chunk{IsFinal: true})
	}
	return out
}

func isArrayPunct(c byte) bool {
	switch c {
	case '[', ']', ',', ' ', '\n', '\r', '\t':
		return true
	}
	return false
}

package parser

import (
	"reflect"
	"strings"
	"testing"

	"llmrelay/internal/models"
)

const claudePayload = "event: message_start\n" +
	"data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\"}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hello\"}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\" {wor}ld\\\"\"}}\n\n" +
	"event: message_stop\n" +
	"data: {\"type\":\"message_stop\"}\n\n"

const geminiPayload = "[{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hi {there}\"}],\"role\":\"model\"}}]}\n" +
	",\r\n{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\" \\\"quoted } brace\\\"\"}],\"role\":\"model\"}}]}\n" +
	",\r\n{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"!\"}],\"role\":\"model\"},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"candidatesTokenCount\":7}}\n]"

const ollamaPayload = "{\"model\":\"llama3\",\"response\":\"Hel\",\"done\":false}\n" +
	"{\"model\":\"llama3\",\"response\":\"lo\",\"done\":false}\n" +
	"{\"model\":\"llama3\",\"response\":\"\",\"done\":true}\n"

func newTestParser(t *testing.T, kind models.BackendKind, errs *[]*models.ProviderError) ChunkParser {
	t.Helper()
	p, err := ForBackend(kind, func(err *models.ProviderError) {
		if errs != nil {
			*errs = append(*errs, err)
		}
	})
	if err != nil {
		t.Fatalf("ForBackend(%s) failed: %v", kind, err)
	}
	return p
}

func feed(p ChunkParser, fragments ...string) []models.Chunk {
	var out []models.Chunk
	for _, f := range fragments {
		out = append(out, p.Consume([]byte(f))...)
	}
	return append(out, p.Flush()...)
}

func TestParsers_FragmentationInvariance(t *testing.T) {
	tests := []struct {
		kind    models.BackendKind
		payload string
	}{
		{models.BackendClaude, claudePayload},
		{models.BackendGemini, geminiPayload},
		{models.BackendOllama, ollamaPayload},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			var errs []*models.ProviderError
			whole := feed(newTestParser(t, tt.kind, &errs), tt.payload)
			if len(whole) == 0 {
				t.Fatal("Expected chunks from the whole payload, got none")
			}
			if len(errs) != 0 {
				t.Fatalf("Expected no parse errors, got %v", errs)
			}

			for offset := 1; offset < len(tt.payload); offset++ {
				got := feed(newTestParser(t, tt.kind, nil), tt.payload[:offset], tt.payload[offset:])
				if !reflect.DeepEqual(got, whole) {
					t.Fatalf("Split at %d: expected %+v, got %+v", offset, whole, got)
				}
			}

			// byte at a time
			p := newTestParser(t, tt.kind, nil)
			var got []models.Chunk
			for i := 0; i < len(tt.payload); i++ {
				got = append(got, p.Consume([]byte{tt.payload[i]})...)
			}
			got = append(got, p.Flush()...)
			if !reflect.DeepEqual(got, whole) {
				t.Fatalf("Byte-at-a-time: expected %+v, got %+v", whole, got)
			}
		})
	}
}

func TestNDJSONParser_Scenario(t *testing.T) {
	p := NewNDJSONParser("ollama", nil)
	got := p.Consume([]byte("{\"response\":\"Hel\"}\n{\"response\":\"lo\"}\n{\"done\":true}\n"))

	expected := []models.Chunk{
		{Text: "Hel"},
		{Text: "lo"},
		{Text: "", IsFinal: true},
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %+v, got %+v", expected, got)
	}
}

func TestNDJSONParser_HoldsPartialLine(t *testing.T) {
	p := NewNDJSONParser("ollama", nil)

	if got := p.Consume([]byte("{\"response\":\"par")); len(got) != 0 {
		t.Fatalf("Expected no chunks for a partial line, got %+v", got)
	}
	got := p.Consume([]byte("tial\"}\n"))
	if len(got) != 1 || got[0].Text != "partial" {
		t.Errorf("Expected one chunk %q, got %+v", "partial", got)
	}
}

func TestNDJSONParser_FlushUnterminatedLine(t *testing.T) {
	p := NewNDJSONParser("ollama", nil)
	p.Consume([]byte("{\"response\":\"tail\",\"done\":true}"))

	got := p.Flush()
	expected := []models.Chunk{{Text: "tail"}, {IsFinal: true}}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %+v, got %+v", expected, got)
	}
}

func TestArrayParser_Scenario(t *testing.T) {
	p := NewArrayParser("gemini", nil)

	first := p.Consume([]byte(`[{"candidates":[{"content":{"parts":[{"te`))
	if len(first) != 0 {
		t.Fatalf("Expected zero chunks after the first fragment, got %+v", first)
	}

	second := p.Consume([]byte(`xt":"hi"}]}}]}]`))
	expected := []models.Chunk{{Text: "hi"}}
	if !reflect.DeepEqual(second, expected) {
		t.Errorf("Expected %+v, got %+v", expected, second)
	}
}

func TestArrayParser_BracesInsideStrings(t *testing.T) {
	p := NewArrayParser("gemini", nil)
	got := p.Consume([]byte(`[{"candidates":[{"content":{"parts":[{"text":"a } \" { b"}]}}]}`))

	if len(got) != 1 || got[0].Text != `a } " { b` {
		t.Errorf("Expected brace-laden text to survive, got %+v", got)
	}
}

func TestArrayParser_NoTextIsNotAnError(t *testing.T) {
	var errs []*models.ProviderError
	p := NewArrayParser("gemini", func(err *models.ProviderError) { errs = append(errs, err) })

	got := p.Consume([]byte(`[{"usageMetadata":{"candidatesTokenCount":3}}]`))
	if len(got) != 0 {
		t.Errorf("Expected zero chunks, got %+v", got)
	}
	if len(errs) != 0 {
		t.Errorf("Expected no errors, got %v", errs)
	}
}

func TestArrayParser_UpstreamErrorObject(t *testing.T) {
	var errs []*models.ProviderError
	p := NewArrayParser("gemini", func(err *models.ProviderError) { errs = append(errs, err) })

	p.Consume([]byte(`[{"error":{"code":429,"message":"Resource exhausted","status":"RESOURCE_EXHAUSTED"}}]`))
	if len(errs) != 1 || errs[0].Kind != models.KindUpstream {
		t.Fatalf("Expected one Upstream error, got %v", errs)
	}
	if !strings.Contains(errs[0].Message, "Resource exhausted") {
		t.Errorf("Expected upstream message to be preserved, got %q", errs[0].Message)
	}
}

func TestArrayParser_FlushReportsIncompleteObject(t *testing.T) {
	var errs []*models.ProviderError
	p := NewArrayParser("gemini", func(err *models.ProviderError) { errs = append(errs, err) })

	p.Consume([]byte(`[{"candidates":[`))
	p.Flush()
	if len(errs) != 1 || errs[0].Kind != models.KindParsing {
		t.Errorf("Expected the truncated object to be reported, got %v", errs)
	}
}

func TestSSEParser_DoneMarker(t *testing.T) {
	p := NewSSEParser("claude", nil)
	got := p.Consume([]byte("data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"x\"}}\r\ndata: [DONE]\r\n"))

	expected := []models.Chunk{{Text: "x"}, {IsFinal: true}}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %+v, got %+v", expected, got)
	}
}

func TestSSEParser_MalformedJSONIsSkipped(t *testing.T) {
	var errs []*models.ProviderError
	p := NewSSEParser("claude", func(err *models.ProviderError) { errs = append(errs, err) })

	got := p.Consume([]byte("data: {not json\n" +
		"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"ok\"}}\n"))

	if len(got) != 1 || got[0].Text != "ok" {
		t.Errorf("Expected the stream to continue after a bad line, got %+v", got)
	}
	if len(errs) != 1 || errs[0].Kind != models.KindParsing {
		t.Errorf("Expected one Parsing error, got %v", errs)
	}
}

func TestSSEParser_ErrorEvent(t *testing.T) {
	var errs []*models.ProviderError
	p := NewSSEParser("claude", func(err *models.ProviderError) { errs = append(errs, err) })

	p.Consume([]byte("event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n"))
	if len(errs) != 1 || errs[0].Kind != models.KindUpstream {
		t.Fatalf("Expected one Upstream error, got %v", errs)
	}
}

func TestParsers_IgnoreEmptyFragments(t *testing.T) {
	for _, kind := range models.KnownBackends {
		p := newTestParser(t, kind, nil)
		if got := p.Consume(nil); got != nil {
			t.Errorf("%s: expected nil for an empty fragment, got %+v", kind, got)
		}
	}
}

func TestParsers_ResetDropsBufferedData(t *testing.T) {
	p := NewNDJSONParser("ollama", nil)
	p.Consume([]byte("{\"response\":\"stale"))
	p.Reset()

	got := p.Consume([]byte("{\"response\":\"fresh\"}\n"))
	if len(got) != 1 || got[0].Text != "fresh" {
		t.Errorf("Expected only the fresh chunk after Reset, got %+v", got)
	}
}

func TestForBackend_Unknown(t *testing.T) {
	_, err := ForBackend("openai", nil)
	if models.KindOf(err) != models.KindConfiguration {
		t.Errorf("Expected Configuration error, got %v", err)
	}
}

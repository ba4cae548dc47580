package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"

	"llmrelay/internal/logging"
	"llmrelay/internal/models"
	"llmrelay/internal/providers"
	"llmrelay/internal/services"
)

var errCallerGone = errors.New("client disconnected")

// ChatHandler relays prompts to upstream backends as server-sent events
type ChatHandler struct {
	relay *services.StreamRelay
}

// NewChatHandler creates a new chat handler
func NewChatHandler(relay *services.StreamRelay) *ChatHandler {
	return &ChatHandler{relay: relay}
}

// ChatOptions are per-request overrides of the backend's configured parameters
type ChatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Model       string   `json:"model,omitempty"`
}

// ChatRequest is the body of POST /api/chat
type ChatRequest struct {
	Prompt    string       `json:"prompt"`
	Provider  string       `json:"provider"`
	RequestID string       `json:"request_id,omitempty"`
	Options   *ChatOptions `json:"options,omitempty"`
}

type textFrame struct {
	Text string `json:"text"`
}

type multiFrame struct {
	Provider string           `json:"provider"`
	Text     string           `json:"text,omitempty"`
	Error    string           `json:"error,omitempty"`
	Code     models.ErrorKind `json:"code,omitempty"`
}

func (o *ChatOptions) callOptions() []providers.CallOption {
	if o == nil {
		return nil
	}
	var opts []providers.CallOption
	if o.Temperature != nil {
		opts = append(opts, providers.WithTemperature(*o.Temperature))
	}
	if o.MaxTokens > 0 {
		opts = append(opts, providers.WithMaxTokens(o.MaxTokens))
	}
	if o.Model != "" {
		opts = append(opts, providers.WithModel(o.Model))
	}
	return opts
}

// Chat handles POST /api/chat
func (h *ChatHandler) Chat(c *fiber.Ctx) error {
	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, models.WrapError(models.KindValidation, "", "invalid request body", err))
	}
	return h.stream(c, req)
}

// Stream handles GET /api/chat/stream for EventSource clients
func (h *ChatHandler) Stream(c *fiber.Ctx) error {
	return h.stream(c, ChatRequest{
		Prompt:    c.Query("prompt"),
		Provider:  c.Query("provider"),
		RequestID: c.Query("request_id"),
	})
}

func (h *ChatHandler) stream(c *fiber.Ctx, req ChatRequest) error {
	session, err := h.relay.Open(c.UserContext(), services.RelayRequest{
		Backend:   strings.ToLower(strings.TrimSpace(req.Provider)),
		Prompt:    req.Prompt,
		RequestID: req.RequestID,
		Options:   req.Options.callOptions(),
	})
	if err != nil {
		return errorResponse(c, err)
	}

	setSSEHeaders(c)
	c.Set("X-Request-ID", session.RequestID)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		logger := logging.WithRequest(session.Backend, session.RequestID)

		err := session.Forward(func(chunk models.Chunk) error {
			return writeEvent(w, textFrame{Text: chunk.Text})
		})
		if err != nil {
			// no [DONE]: the caller sees the stream end early
			logger.Warn("stream ended early", "error", err, "chunks", session.Chunks())
			return
		}
		if err := writeDone(w); err != nil {
			logger.Debug("client gone before [DONE]", "error", err)
		}
	})
	return nil
}

// Multi handles GET /api/chat/multi, fanning one prompt out to several backends.
// Frames from different backends interleave in arrival order.
func (h *ChatHandler) Multi(c *fiber.Ctx) error {
	prompt := c.Query("prompt")
	names := splitList(c.Query("llms"))
	if len(names) == 0 {
		return errorResponse(c, models.NewError(models.KindValidation, "", "llms is required"))
	}

	sessions := make([]*services.Session, 0, len(names))
	for _, name := range names {
		session, err := h.relay.Open(c.UserContext(), services.RelayRequest{Backend: name, Prompt: prompt})
		if err != nil {
			for _, s := range sessions {
				s.Close()
			}
			return errorResponse(c, err)
		}
		sessions = append(sessions, session)
	}

	setSSEHeaders(c)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		fanOut(w, sessions)
	})
	return nil
}

func fanOut(w *bufio.Writer, sessions []*services.Session) {
	frames := make(chan multiFrame)
	stop := make(chan struct{})

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *services.Session) {
			defer wg.Done()
			emit := func(f multiFrame) error {
				select {
				case frames <- f:
					return nil
				case <-stop:
					return errCallerGone
				}
			}

			err := s.Forward(func(chunk models.Chunk) error {
				return emit(multiFrame{Provider: s.Backend, Text: chunk.Text})
			})
			if err != nil {
				pe := models.EnsureProviderError(err, models.KindStream, s.Backend)
				logging.WithRequest(s.Backend, s.RequestID).Warn("multi stream ended early", "error", pe)
				_ = emit(multiFrame{Provider: s.Backend, Error: pe.Message, Code: pe.Kind})
			}
		}(s)
	}
	go func() {
		wg.Wait()
		close(frames)
	}()

	gone := false
	for f := range frames {
		if gone {
			continue
		}
		if err := writeEvent(w, f); err != nil {
			gone = true
			close(stop)
			for _, s := range sessions {
				s.Close()
			}
		}
	}
	if !gone {
		_ = writeDone(w)
	}
}

func setSSEHeaders(c *fiber.Ctx) {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")
}

func writeEvent(w *bufio.Writer, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

func writeDone(w *bufio.Writer) error {
	if _, err := w.WriteString("data: [DONE]\n\n"); err != nil {
		return err
	}
	return w.Flush()
}

// errorResponse maps a pre-stream failure onto {"error","code"}
func errorResponse(c *fiber.Ctx, err error) error {
	pe := models.EnsureProviderError(err, models.KindStream, "")
	body := fiber.Map{
		"error": pe.Message,
		"code":  pe.Kind,
	}
	if pe.Backend != "" {
		body["provider"] = pe.Backend
	}
	if pe.RequestID != "" {
		body["request_id"] = pe.RequestID
	}
	return c.Status(pe.Kind.HTTPStatus()).JSON(body)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if name := strings.ToLower(strings.TrimSpace(part)); name != "" {
			out = append(out, name)
		}
	}
	return out
}

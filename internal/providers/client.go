// Package providers holds the per-backend streaming clients and the registry that owns them.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"llmrelay/internal/health"
	"llmrelay/internal/logging"
	"llmrelay/internal/models"
	"llmrelay/internal/parser"
)

const (
	DefaultChunkTimeout = 60 * time.Second
	DefaultMaxTokens    = 1024

	readBufferSize  = 4096
	maxErrorExcerpt = 2048
)

// Client streams completions from one backend
type Client interface {
	Name() string
	Kind() models.BackendKind
	// Config returns the immutable configuration the client was built with
	Config() models.ProviderConfig
	// StreamChat issues the upstream call. Request-level failures are returned
	// directly; once the channel is returned, a mid-stream failure arrives as a
	// single event with Err set, after which the channel is closed.
	StreamChat(ctx context.Context, prompt string, opts ...CallOption) (<-chan models.StreamEvent, error)
	Health() health.Snapshot
	Probe(ctx context.Context) error
}

// CallOptions are per-call overrides of the configured sampling parameters
type CallOptions struct {
	Temperature *float64
	MaxTokens   int
	Model       string
}

// CallOption modifies CallOptions
type CallOption func(*CallOptions)

func WithTemperature(t float64) CallOption {
	return func(o *CallOptions) { o.Temperature = &t }
}

func WithMaxTokens(n int) CallOption {
	return func(o *CallOptions) { o.MaxTokens = n }
}

func WithModel(model string) CallOption {
	return func(o *CallOptions) { o.Model = model }
}

// ClientOption configures behaviour shared by every client a registry builds
type ClientOption func(*clientOptions)

type clientOptions struct {
	onParseError func(backend string)
}

// WithParseErrorObserver is notified for every malformed stream unit, skipped or not
func WithParseErrorObserver(fn func(backend string)) ClientOption {
	return func(o *clientOptions) { o.onParseError = fn }
}

// wireFormat is the backend-specific half of a client
type wireFormat interface {
	streamRequest(ctx context.Context, cfg models.ProviderConfig, prompt string, call CallOptions) (*http.Request, error)
	probeRequest(ctx context.Context, cfg models.ProviderConfig) (*http.Request, error)
}

type httpClient struct {
	cfg     models.ProviderConfig
	kind    models.BackendKind
	http    *http.Client
	wire    wireFormat
	tracker *health.Tracker
	opts    clientOptions
	logger  *slog.Logger
}

// NewClient validates cfg and builds the client for its backend
func NewClient(cfg models.ProviderConfig, hc *http.Client, opts ...ClientOption) (Client, error) {
	if cfg.Backend == nil {
		return nil, models.NewError(models.KindConfiguration, cfg.Name, "no backend settings")
	}
	kind := cfg.Backend.Kind()
	name := string(kind)

	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, models.NewError(models.KindConfiguration, name, "base URL is not set")
	}
	if cfg.Model == "" {
		return nil, models.NewError(models.KindConfiguration, name, "model is not set")
	}
	if !cfg.HasCredential() {
		return nil, models.NewError(models.KindConfiguration, name, "API key is not set")
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Name == "" {
		cfg.Name = name
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = DefaultChunkTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	var wire wireFormat
	switch b := cfg.Backend.(type) {
	case models.ClaudeSettings:
		wire = claudeWire{settings: b}
	case models.GeminiSettings:
		wire = geminiWire{settings: b}
	case models.OllamaSettings:
		wire = ollamaWire{}
	default:
		return nil, models.NewError(models.KindConfiguration, name, fmt.Sprintf("unsupported backend settings %T", b))
	}

	if hc == nil {
		hc = defaultHTTPClient()
	}

	c := &httpClient{
		cfg:     cfg,
		kind:    kind,
		http:    hc,
		wire:    wire,
		tracker: health.NewTracker(cfg.Name),
		logger:  logging.WithBackend(cfg.Name),
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	return c, nil
}

// defaultHTTPClient has no overall timeout; long streams are bounded by the
// per-chunk inactivity timeout instead.
func defaultHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = DefaultChunkTimeout
	return &http.Client{Transport: transport}
}

func (c *httpClient) Name() string                  { return c.cfg.Name }
func (c *httpClient) Kind() models.BackendKind      { return c.kind }
func (c *httpClient) Config() models.ProviderConfig { return c.cfg }
func (c *httpClient) Health() health.Snapshot       { return c.tracker.Snapshot() }

func (c *httpClient) StreamChat(ctx context.Context, prompt string, opts ...CallOption) (<-chan models.StreamEvent, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, models.NewError(models.KindValidation, c.cfg.Name, "prompt is empty")
	}

	var call CallOptions
	for _, opt := range opts {
		opt(&call)
	}

	fault := &streamFault{}
	p, err := parser.ForBackend(c.kind, c.parseErrorHandler(fault))
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithCancel(ctx)
	req, err := c.wire.streamRequest(reqCtx, c.cfg, prompt, call)
	if err != nil {
		cancel()
		return nil, models.WrapError(models.KindConfiguration, c.cfg.Name, "failed to build request", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		perr := models.WrapError(models.KindStream, c.cfg.Name, "request failed", err)
		c.tracker.Record(time.Since(start), perr)
		return nil, perr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := upstreamError(c.cfg.Name, resp)
		resp.Body.Close()
		cancel()
		c.tracker.Record(time.Since(start), perr)
		c.logger.Warn("upstream rejected request", "status", resp.StatusCode, "error", perr.Message)
		return nil, perr
	}

	events := make(chan models.StreamEvent)
	go c.pump(ctx, cancel, resp.Body, p, fault, events, start)
	return events, nil
}

// pump reads the body in fragments and forwards parsed chunks until the
// final chunk, EOF, a fatal error, or cancellation.
func (c *httpClient) pump(
	ctx context.Context,
	cancel context.CancelFunc,
	body io.ReadCloser,
	p parser.ChunkParser,
	fault *streamFault,
	events chan<- models.StreamEvent,
	start time.Time,
) {
	var timedOut atomic.Bool
	timer := time.AfterFunc(c.cfg.ChunkTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	timer.Stop()

	var streamErr error
	defer func() {
		timer.Stop()
		// Closing without draining is what tells the upstream to stop generating.
		body.Close()
		cancel()

		if streamErr != nil && ctx.Err() == nil {
			c.send(ctx, events, models.StreamEvent{Err: streamErr})
		}
		close(events)

		recorded := streamErr
		if ctx.Err() != nil {
			recorded = nil
		}
		c.tracker.Record(time.Since(start), recorded)
	}()

	// The timer only runs while waiting on the upstream; time spent blocked
	// on a slow consumer in forward does not count as inactivity.
	buf := make([]byte, readBufferSize)
	for {
		timer.Reset(c.cfg.ChunkTimeout)
		n, readErr := body.Read(buf)
		timer.Stop()
		if n > 0 {
			chunks := p.Consume(buf[:n])
			done, ok := c.forward(ctx, events, chunks)
			if err := fault.take(); err != nil {
				streamErr = err
				return
			}
			if done || !ok {
				return
			}
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			c.forward(ctx, events, p.Flush())
			if err := fault.take(); err != nil {
				streamErr = err
			}
			return
		}
		if timedOut.Load() {
			streamErr = models.WrapError(models.KindStream, c.cfg.Name,
				fmt.Sprintf("no data received for %s", c.cfg.ChunkTimeout), readErr)
		} else {
			streamErr = models.WrapError(models.KindStream, c.cfg.Name, "stream read failed", readErr)
		}
		return
	}
}

// forward sends chunks in order. done is true once a final chunk went out;
// ok is false when the consumer went away.
func (c *httpClient) forward(ctx context.Context, events chan<- models.StreamEvent, chunks []models.Chunk) (done, ok bool) {
	for _, ch := range chunks {
		if !c.send(ctx, events, models.StreamEvent{Chunk: ch}) {
			return false, false
		}
		if ch.IsFinal {
			return true, true
		}
	}
	return false, true
}

func (c *httpClient) send(ctx context.Context, events chan<- models.StreamEvent, ev models.StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// parseErrorHandler decides, per unit, whether a parse failure ends the stream.
// In-band upstream errors always do; malformed units only under StrictParsing.
func (c *httpClient) parseErrorHandler(fault *streamFault) parser.ErrorHandler {
	logErr := parser.LogErrors(c.logger)
	return func(err *models.ProviderError) {
		if err.Kind == models.KindParsing && c.opts.onParseError != nil {
			c.opts.onParseError(c.cfg.Name)
		}
		if err.Kind == models.KindUpstream || c.cfg.StrictParsing {
			fault.set(err)
			return
		}
		logErr(err)
	}
}

func (c *httpClient) Probe(ctx context.Context) error {
	req, err := c.wire.probeRequest(ctx, c.cfg)
	if err != nil {
		return models.WrapError(models.KindConfiguration, c.cfg.Name, "failed to build probe request", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		perr := models.WrapError(models.KindStream, c.cfg.Name, "probe failed", err)
		c.tracker.Record(time.Since(start), perr)
		return perr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := upstreamError(c.cfg.Name, resp)
		c.tracker.Record(time.Since(start), perr)
		return perr
	}
	c.tracker.Record(time.Since(start), nil)
	return nil
}

func upstreamError(backend string, resp *http.Response) *models.ProviderError {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerpt))
	msg := strings.TrimSpace(string(excerpt))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &models.ProviderError{
		Kind:       models.KindUpstream,
		Backend:    backend,
		StatusCode: resp.StatusCode,
		Message:    msg,
	}
}

// streamFault carries the first fatal parser report out of the parse callback
type streamFault struct {
	mu  sync.Mutex
	err *models.ProviderError
}

func (f *streamFault) set(err *models.ProviderError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

func (f *streamFault) take() *models.ProviderError {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.err
	f.err = nil
	return err
}

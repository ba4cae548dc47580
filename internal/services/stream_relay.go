package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"llmrelay/internal/models"
	"llmrelay/internal/providers"
)

// ClientResolver looks up a configured backend client by name
type ClientResolver interface {
	Get(name string) (providers.Client, error)
}

// RelayRequest is one caller request for one backend
type RelayRequest struct {
	Backend   string
	Prompt    string
	RequestID string // optional; generated when empty
	Options   []providers.CallOption
}

// StreamRelay drives a request through tracking, admission and streaming.
// Every admitted request releases its rate-limiter slot exactly once.
type StreamRelay struct {
	resolver    ClientResolver
	limiter     *RateLimiter
	tracker     *RequestTracker
	metrics     *Metrics
	acquireWait time.Duration
	now         func() time.Time
}

// RelayOption configures a StreamRelay
type RelayOption func(*StreamRelay)

// WithMetrics records relay metrics
func WithMetrics(m *Metrics) RelayOption {
	return func(r *StreamRelay) { r.metrics = m }
}

// WithAcquireWait makes admission wait up to d for a slot instead of rejecting immediately
func WithAcquireWait(d time.Duration) RelayOption {
	return func(r *StreamRelay) { r.acquireWait = d }
}

// NewStreamRelay creates a relay
func NewStreamRelay(resolver ClientResolver, limiter *RateLimiter, tracker *RequestTracker, opts ...RelayOption) *StreamRelay {
	r := &StreamRelay{
		resolver: resolver,
		limiter:  limiter,
		tracker:  tracker,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open validates, tracks and admits req, then starts the upstream call.
// Any error is returned before a Session exists, so nothing needs releasing.
func (r *StreamRelay) Open(ctx context.Context, req RelayRequest) (*Session, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, models.NewError(models.KindValidation, req.Backend, "prompt is required")
	}

	// Resolve first: an unknown backend must not touch the tracker or limiter.
	client, err := r.resolver.Get(req.Backend)
	if err != nil {
		return nil, models.EnsureProviderError(err, models.KindConfiguration, req.Backend)
	}
	backend := client.Name()
	started := r.now()

	// Tracking
	requestID, err := r.tracker.Track(ctx, backend, req.RequestID)
	if err != nil {
		if models.KindOf(err) == models.KindRateLimited {
			r.metrics.RecordRejection(backend, "duplicate")
		}
		return nil, err
	}

	// RateChecking
	if !r.admit(ctx, backend) {
		status := r.limiter.Status(backend)
		perr := &models.ProviderError{
			Kind:      models.KindRateLimited,
			Backend:   backend,
			RequestID: requestID,
			Message: fmt.Sprintf("rate limit exceeded (%d/%d requests per minute, %d/%d concurrent)",
				status.RequestsInWindow, status.RequestsPerMinute, status.InFlight, status.MaxConcurrent),
		}
		r.metrics.RecordRejection(backend, "rate_limited")
		r.tracker.Release(context.WithoutCancel(ctx), backend, requestID)
		r.tracker.Complete(backend, requestID, OutcomeFailed, r.now().Sub(started), perr)
		return nil, perr
	}

	// Streaming. From here every exit path must release the slot.
	streamCtx, cancel := context.WithCancel(ctx)
	events, err := client.StreamChat(streamCtx, req.Prompt, req.Options...)
	if err != nil {
		cancel()
		r.limiter.Release(backend)
		perr := models.EnsureProviderError(err, models.KindStream, backend).WithContext(backend, requestID)
		elapsed := r.now().Sub(started)
		r.tracker.Complete(backend, requestID, OutcomeFailed, elapsed, perr)
		r.metrics.RecordRequest(backend, OutcomeFailed, elapsed.Seconds())
		return nil, perr
	}

	return &Session{
		relay:     r,
		Backend:   backend,
		RequestID: requestID,
		ctx:       streamCtx,
		cancel:    cancel,
		events:    events,
		started:   started,
		outcome:   OutcomeCancelled,
	}, nil
}

func (r *StreamRelay) admit(ctx context.Context, backend string) bool {
	if r.acquireWait > 0 {
		return r.limiter.AcquireWait(ctx, backend, r.acquireWait)
	}
	return r.limiter.Acquire(backend)
}

// Relay opens a session and forwards it to sink
func (r *StreamRelay) Relay(ctx context.Context, req RelayRequest, sink func(models.Chunk) error) error {
	session, err := r.Open(ctx, req)
	if err != nil {
		return err
	}
	return session.Forward(sink)
}

// Session is one admitted request whose upstream stream is open
type Session struct {
	relay     *StreamRelay
	Backend   string
	RequestID string

	ctx     context.Context
	cancel  context.CancelFunc
	events  <-chan models.StreamEvent
	started time.Time

	mu      sync.Mutex
	outcome RequestOutcome
	err     error
	chunks  int

	closeOnce sync.Once
}

// Forward passes text chunks to sink in arrival order until the stream ends.
// A sink error means the caller went away; the upstream call is cancelled.
// The session is always closed on return.
func (s *Session) Forward(sink func(models.Chunk) error) error {
	defer s.Close()

	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				s.finish(OutcomeCompleted, nil)
				return nil
			}
			if ev.Err != nil {
				perr := models.EnsureProviderError(ev.Err, models.KindStream, s.Backend).WithContext(s.Backend, s.RequestID)
				s.finish(OutcomeFailed, perr)
				return perr
			}
			if ev.Chunk.Text != "" {
				if err := sink(ev.Chunk); err != nil {
					perr := &models.ProviderError{
						Kind:      models.KindStream,
						Backend:   s.Backend,
						RequestID: s.RequestID,
						Message:   "caller stopped receiving",
						Cause:     err,
					}
					s.finish(OutcomeCancelled, perr)
					return perr
				}
				s.countChunk()
			}
			if ev.Chunk.IsFinal {
				s.finish(OutcomeCompleted, nil)
				return nil
			}
		case <-s.ctx.Done():
			perr := models.WrapError(models.KindStream, s.Backend, "request cancelled", s.ctx.Err()).
				WithContext(s.Backend, s.RequestID)
			s.finish(OutcomeCancelled, perr)
			return perr
		}
	}
}

// Close cancels the upstream call and releases the rate-limiter slot.
// It is safe to call more than once; only the first call has an effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.relay.limiter.Release(s.Backend)

		s.mu.Lock()
		outcome, err := s.outcome, s.err
		s.mu.Unlock()

		elapsed := s.relay.now().Sub(s.started)
		s.relay.tracker.Complete(s.Backend, s.RequestID, outcome, elapsed, err)
		s.relay.metrics.RecordRequest(s.Backend, outcome, elapsed.Seconds())
	})
}

// Chunks returns how many text chunks were forwarded so far
func (s *Session) Chunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}

func (s *Session) finish(outcome RequestOutcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcome = outcome
	s.err = err
}

func (s *Session) countChunk() {
	s.mu.Lock()
	s.chunks++
	s.mu.Unlock()
	s.relay.metrics.RecordChunk(s.Backend)
}

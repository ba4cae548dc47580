package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"llmrelay/internal/logging"
	"llmrelay/internal/models"
)

// RequestOutcome is the terminal state of a relayed request
type RequestOutcome string

const (
	OutcomeCompleted RequestOutcome = "completed"
	OutcomeFailed    RequestOutcome = "failed"
	OutcomeCancelled RequestOutcome = "cancelled"
)

// RequestTracker assigns request ids and suppresses duplicate submissions
type RequestTracker struct {
	store DedupStore
	now   func() time.Time
}

// NewRequestTracker creates a tracker on top of store
func NewRequestTracker(store DedupStore) *RequestTracker {
	return &RequestTracker{store: store, now: time.Now}
}

// GenerateRequestID builds "<backend>_<unix-ms>_<32 hex chars>"
func GenerateRequestID(backend string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s_%d_%s", backend, now.UnixMilli(), suffix)
}

// Track admits (backend, requestID) once. An empty requestID is generated.
// A pair already tracked fails with a RateLimited error.
func (t *RequestTracker) Track(ctx context.Context, backend, requestID string) (string, error) {
	now := t.now()
	if requestID == "" {
		requestID = GenerateRequestID(backend, now)
	}

	added, err := t.store.Add(ctx, backend, requestID, now)
	if err != nil {
		return "", &models.ProviderError{
			Kind:      models.KindInitialization,
			Backend:   backend,
			RequestID: requestID,
			Message:   fmt.Sprintf("%s dedup store unavailable", t.store.Name()),
			Cause:     err,
		}
	}
	if !added {
		return "", &models.ProviderError{
			Kind:      models.KindRateLimited,
			Backend:   backend,
			RequestID: requestID,
			Message:   fmt.Sprintf("duplicate request %s", requestID),
		}
	}

	logging.WithRequest(backend, requestID).Debug("request tracked", "store", t.store.Name())
	return requestID, nil
}

// Complete logs the terminal state of a tracked request
func (t *RequestTracker) Complete(backend, requestID string, outcome RequestOutcome, elapsed time.Duration, err error) {
	logger := logging.WithRequest(backend, requestID)
	attrs := []any{"outcome", string(outcome), "elapsed_ms", elapsed.Milliseconds()}

	if err != nil {
		attrs = append(attrs, "error", err.Error(), "kind", string(models.KindOf(err)))
		logger.Warn("request finished", attrs...)
		return
	}
	logger.Info("request finished", attrs...)
}

// Release forgets a tracked id that never reached the upstream, so the caller
// can retry with the same id. A store failure is logged, not returned: the
// entry still expires with its TTL.
func (t *RequestTracker) Release(ctx context.Context, backend, requestID string) {
	if err := t.store.Forget(ctx, backend, requestID); err != nil {
		logging.WithRequest(backend, requestID).Warn("failed to release request id", "store", t.store.Name(), "error", err.Error())
	}
}

// Pending counts live dedup entries for a backend
func (t *RequestTracker) Pending(ctx context.Context, backend string) (int, error) {
	return t.store.Len(ctx, backend)
}

// Cleanup prunes expired entries from the store
func (t *RequestTracker) Cleanup() int {
	return t.store.Cleanup()
}

// StoreName reports which dedup store backs the tracker
func (t *RequestTracker) StoreName() string {
	return t.store.Name()
}

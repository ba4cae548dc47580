package jobs

import (
	"context"
	"log"
	"time"

	"llmrelay/internal/services"
)

// TrackerCleanupJob drops expired request ids from the in-memory dedup store.
// The Redis store expires keys itself, so the job is a no-op there.
type TrackerCleanupJob struct {
	tracker  *services.RequestTracker
	interval time.Duration
}

// NewTrackerCleanupJob creates a new tracker cleanup job
func NewTrackerCleanupJob(tracker *services.RequestTracker, interval time.Duration) *TrackerCleanupJob {
	return &TrackerCleanupJob{
		tracker:  tracker,
		interval: interval,
	}
}

// Run removes expired entries
func (j *TrackerCleanupJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	removed := j.tracker.Cleanup()
	if removed > 0 {
		log.Printf("🧹 [TRACKER-CLEANUP] Removed %d expired request ids (%s store)", removed, j.tracker.StoreName())
	}
	return nil
}

func (j *TrackerCleanupJob) Interval() time.Duration {
	return j.interval
}

package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Job interface that all scheduled jobs must implement
type Job interface {
	Run(ctx context.Context) error
	Interval() time.Duration
}

// JobScheduler runs registered jobs on fixed intervals.
// A job never overlaps with itself; a run that is still going when the next
// one is due pushes the next run back.
type JobScheduler struct {
	scheduler gocron.Scheduler
	jobs      map[string]Job
	handles   map[string]gocron.Job
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	running   bool
	stopOnce  sync.Once
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler() (*JobScheduler, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobScheduler{
		scheduler: scheduler,
		jobs:      make(map[string]Job),
		handles:   make(map[string]gocron.Job),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Register adds a job to the scheduler
func (s *JobScheduler) Register(name string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	if job.Interval() <= 0 {
		return fmt.Errorf("job %q has no interval", name)
	}

	handle, err := s.scheduler.NewJob(
		gocron.DurationJob(job.Interval()),
		gocron.NewTask(func() {
			s.runJob(name, job)
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule job %q: %w", name, err)
	}

	s.jobs[name] = job
	s.handles[name] = handle
	log.Printf("✅ [SCHEDULER] Registered job: %s (every %v)", name, job.Interval())
	return nil
}

// Start begins running all registered jobs
func (s *JobScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.running = true
	log.Printf("🚀 [SCHEDULER] Starting job scheduler with %d jobs", len(s.jobs))
	s.scheduler.Start()
}

// runJob executes a job with the scheduler's context
func (s *JobScheduler) runJob(name string, job Job) {
	log.Printf("▶️  [SCHEDULER] Running job: %s", name)
	startTime := time.Now()

	if err := job.Run(s.ctx); err != nil {
		log.Printf("❌ [SCHEDULER] Job '%s' failed: %v", name, err)
		return
	}

	log.Printf("✅ [SCHEDULER] Job '%s' completed in %v", name, time.Since(startTime))
}

// Stop cancels running jobs and waits for them to return. Only the first call has an effect.
func (s *JobScheduler) Stop() {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	if wasRunning {
		log.Println("🛑 [SCHEDULER] Stopping job scheduler...")
	}

	s.stopOnce.Do(func() {
		s.cancel()
		if err := s.scheduler.Shutdown(); err != nil {
			log.Printf("⚠️  [SCHEDULER] Shutdown error: %v", err)
		}
	})

	if wasRunning {
		log.Println("✅ [SCHEDULER] Job scheduler stopped")
	}
}

// RunNow immediately runs a specific job outside its schedule
func (s *JobScheduler) RunNow(name string) error {
	s.mu.Lock()
	job, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("job %q not found", name)
	}

	log.Printf("🚀 [SCHEDULER] Running job '%s' immediately", name)
	return job.Run(s.ctx)
}

// GetStatus returns the status of all jobs
func (s *JobScheduler) GetStatus() map[string]JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := make(map[string]JobStatus, len(s.jobs))
	for name, job := range s.jobs {
		st := JobStatus{
			Name:       name,
			Interval:   job.Interval().String(),
			Registered: true,
		}
		if handle, ok := s.handles[name]; ok {
			if next, err := handle.NextRun(); err == nil {
				st.NextRunTime = next
			}
			if last, err := handle.LastRun(); err == nil {
				st.LastRunTime = last
			}
		}
		status[name] = st
	}

	return status
}

// JobStatus represents the status of a job
type JobStatus struct {
	Name        string    `json:"name"`
	Interval    string    `json:"interval"`
	NextRunTime time.Time `json:"next_run_time"`
	LastRunTime time.Time `json:"last_run_time"`
	Registered  bool      `json:"registered"`
}

package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Job is one daily job with a UTC wall-clock run time.
type Job struct {
	Name   string
	Hour   int
	Minute int
	Run    func(ctx context.Context) error
}

// Scheduler runs daily jobs, each at most once per calendar date. A job
// whose window has already opened when the process starts runs on the
// next tick rather than waiting a day.
type Scheduler struct {
	jobs    []Job
	log     *slog.Logger
	now     func() time.Time
	lastRun map[string]string
}

// New creates a scheduler.
func New(log *slog.Logger) *Scheduler {
	return &Scheduler{
		log:     log,
		now:     time.Now,
		lastRun: make(map[string]string),
	}
}

// Add registers a job. Not safe to call once Run has started.
func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// Tick checks every job once and runs those due. Job failures are
// logged and still consume the day's run: a crashing job must not be
// hammered every minute for the rest of the day.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().UTC()
	today := now.Format("2006-01-02")

	for _, job := range s.jobs {
		if s.lastRun[job.Name] == today {
			continue
		}
		if !windowOpen(now, job) {
			continue
		}

		s.log.Info("running scheduled job", "job", job.Name)
		s.lastRun[job.Name] = today
		if err := job.Run(ctx); err != nil {
			s.log.Error("scheduled job failed", "job", job.Name, "error", err)
			continue
		}
		s.log.Info("scheduled job done", "job", job.Name)
	}
}

// Run ticks on the given interval until the context is canceled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func windowOpen(now time.Time, job Job) bool {
	if now.Hour() != job.Hour {
		return now.Hour() > job.Hour
	}
	return now.Minute() >= job.Minute
}

// Package scheduler runs the platform's periodic background jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/mbd888/krishiconnect/internal/metrics"
)

// Job is one periodic task.
type Job interface {
	Name() string
	Definition() gocron.JobDefinition
	Run(ctx context.Context) error
}

// Scheduler owns a gocron scheduler and the context its jobs run under.
type Scheduler struct {
	cron    gocron.Scheduler
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a stopped scheduler. Each run is bounded by timeout.
func New(logger *slog.Logger, timeout time.Duration) (*Scheduler, error) {
	cron, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cron: cron, ctx: ctx, cancel: cancel, timeout: timeout, logger: logger}, nil
}

// Register adds a job. Overlapping runs of one job are skipped.
func (s *Scheduler) Register(job Job) error {
	_, err := s.cron.NewJob(
		job.Definition(),
		gocron.NewTask(func() { _ = s.Execute(s.ctx, job) }),
		gocron.WithName(job.Name()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("register job %s: %w", job.Name(), err)
	}
	s.logger.Info("job registered", "job", job.Name())
	return nil
}

// Execute runs job once with logging and metrics.
func (s *Scheduler) Execute(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := job.Run(ctx)
	result := "ok"
	if err != nil {
		result = "error"
		s.logger.Error("job failed", "job", job.Name(), "duration", time.Since(start), "error", err)
	} else {
		s.logger.Debug("job finished", "job", job.Name(), "duration", time.Since(start))
	}
	metrics.JobRunsTotal.WithLabelValues(job.Name(), result).Inc()
	return err
}

// Jobs lists registered job names with their next run time.
func (s *Scheduler) Jobs() map[string]time.Time {
	out := make(map[string]time.Time)
	for _, j := range s.cron.Jobs() {
		next, _ := j.NextRun()
		out[j.Name()] = next
	}
	return out
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Jobs()))
}

// Stop cancels running jobs and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	s.cancel()
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}

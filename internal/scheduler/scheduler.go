// Package scheduler runs the server's periodic maintenance on cron
// schedules: limiter sweeps, transcript pruning and upstream health probes.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// defaultJobTimeout bounds a single job run.
const defaultJobTimeout = 30 * time.Second

// Job is one periodic task.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler fires jobs on their cron schedules. A job still running when
// its next tick arrives is skipped for that tick.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	jobs   []string
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors such as
// "@every 5m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler. Jobs are added with Add and fire after Start.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a job. An empty schedule disables the job.
func (s *Scheduler) Add(job Job) error {
	if job.Schedule == "" {
		s.logger.Debug("job disabled", "job", job.Name)
		return nil
	}
	if job.Run == nil {
		return fmt.Errorf("add job %s: nil run function", job.Name)
	}
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	_, err := s.cron.AddFunc(job.Schedule, func() {
		s.runJob(job.Name, timeout, job.Run)
	})
	if err != nil {
		return fmt.Errorf("add job %s: invalid schedule %q: %w", job.Name, job.Schedule, err)
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, job.Name)
	s.mu.Unlock()
	s.logger.Info("scheduled job", "job", job.Name, "schedule", job.Schedule)
	return nil
}

// Jobs returns the names of the registered jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.jobs...)
}

func (s *Scheduler) runJob(name string, timeout time.Duration, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	start := time.Now()
	if err := fn(ctx); err != nil {
		s.logger.Warn("job failed", "job", name, "elapsed", time.Since(start), "error", err)
		return
	}
	s.logger.Debug("job finished", "job", name, "elapsed", time.Since(start))
}

// Start starts the cron ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the ticker, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

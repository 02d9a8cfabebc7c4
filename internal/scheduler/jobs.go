package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/metatron/internal/observability"
)

// Target is an upstream service probed for health.
type Target struct {
	Name string
	URL  string
}

// Prober checks that a URL answers.
type Prober interface {
	Probe(ctx context.Context, url string, timeout time.Duration) error
}

// Pruner removes stored data older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// SweepJob runs each sweep function and logs how many entries were
// released.
func SweepJob(schedule string, logger *slog.Logger, sweeps map[string]func() int) Job {
	return Job{
		Name:     "sweep",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			for name, sweep := range sweeps {
				if n := sweep(); n > 0 {
					logger.Debug("swept idle entries", "target", name, "removed", n)
				}
			}
			return nil
		},
	}
}

// PruneJob deletes transcripts older than retention.
func PruneJob(schedule string, logger *slog.Logger, pruner Pruner, retention time.Duration) Job {
	return Job{
		Name:     "prune",
		Schedule: schedule,
		Timeout:  5 * time.Minute,
		Run: func(ctx context.Context) error {
			if retention <= 0 {
				return nil
			}
			n, err := pruner.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				return fmt.Errorf("prune transcripts: %w", err)
			}
			if n > 0 {
				logger.Info("pruned transcripts", "sessions", n, "retention", retention)
			}
			return nil
		},
	}
}

// HealthJob probes every target and publishes the result as the upstream
// health gauge. It fails when any target is down.
func HealthJob(schedule string, logger *slog.Logger, prober Prober, metrics *observability.Metrics, targets []Target) Job {
	const probeTimeout = 5 * time.Second
	return Job{
		Name:     "health",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			var errs []error
			for _, t := range targets {
				err := prober.Probe(ctx, t.URL, probeTimeout)
				metrics.SetUpstreamHealth(t.Name, err == nil)
				if err != nil {
					logger.Debug("upstream unhealthy", "upstream", t.Name, "error", err)
					errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
				}
			}
			return errors.Join(errs...)
		},
	}
}

package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/user/metatron/internal/observability"
)

func TestSchedulerFiresJob(t *testing.T) {
	var fires atomic.Int32
	sched := New(nil)
	err := sched.Add(Job{
		Name:     "every-second",
		Schedule: "* * * * * *",
		Run: func(ctx context.Context) error {
			fires.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	sched.Start()
	defer sched.Stop()

	// Wait up to 2.5 seconds for at least one fire
	deadline := time.After(2500 * time.Millisecond)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("job did not fire within 2.5s, fires=%d", fires.Load())
		case <-ticker.C:
			if fires.Load() > 0 {
				return
			}
		}
	}
}

func TestSchedulerAdd(t *testing.T) {
	sched := New(nil)
	noop := func(context.Context) error { return nil }

	if err := sched.Add(Job{Name: "off", Run: noop}); err != nil {
		t.Errorf("empty schedule should disable, got %v", err)
	}
	if err := sched.Add(Job{Name: "bad", Schedule: "not a cron", Run: noop}); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if err := sched.Add(Job{Name: "nil", Schedule: "@every 1m"}); err == nil {
		t.Error("expected error for nil run")
	}
	if err := sched.Add(Job{Name: "ok", Schedule: "@every 1m", Run: noop}); err != nil {
		t.Fatal(err)
	}
	if jobs := sched.Jobs(); len(jobs) != 1 || jobs[0] != "ok" {
		t.Errorf("expected only ok registered, got %v", jobs)
	}
}

func TestSchedulerStopCancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool
	sched := New(nil)
	sched.Add(Job{
		Name:     "slow",
		Schedule: "* * * * * *",
		Timeout:  time.Minute,
		Run: func(ctx context.Context) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			cancelled.Store(true)
			return ctx.Err()
		},
	})
	sched.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		sched.Stop()
		t.Fatal("job never started")
	}
	sched.Stop()
	if !cancelled.Load() {
		t.Error("Stop returned before the running job observed cancellation")
	}
}

type proberFunc func(ctx context.Context, url string, timeout time.Duration) error

func (f proberFunc) Probe(ctx context.Context, url string, timeout time.Duration) error {
	return f(ctx, url, timeout)
}

func TestHealthJob(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	prober := proberFunc(func(_ context.Context, url string, _ time.Duration) error {
		if strings.Contains(url, "down") {
			return errors.New("connection refused")
		}
		return nil
	})
	job := HealthJob("@every 1m", slog.Default(), prober, m, []Target{
		{Name: "wikipedia", URL: "https://up.example"},
		{Name: "reddit", URL: "https://down.example"},
	})

	err := job.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "reddit") {
		t.Errorf("expected reddit failure, got %v", err)
	}
	if got := testutil.ToFloat64(m.UpstreamHealth.WithLabelValues("wikipedia")); got != 1 {
		t.Errorf("expected wikipedia up, got %v", got)
	}
	if got := testutil.ToFloat64(m.UpstreamHealth.WithLabelValues("reddit")); got != 0 {
		t.Errorf("expected reddit down, got %v", got)
	}
}

type prunerFunc func(ctx context.Context, cutoff time.Time) (int, error)

func (f prunerFunc) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	return f(ctx, cutoff)
}

func TestPruneJob(t *testing.T) {
	var got time.Time
	pruner := prunerFunc(func(_ context.Context, cutoff time.Time) (int, error) {
		got = cutoff
		return 2, nil
	})
	job := PruneJob("@daily", slog.Default(), pruner, 24*time.Hour)
	if err := job.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if age := time.Since(got); age < 24*time.Hour || age > 25*time.Hour {
		t.Errorf("cutoff should be a day ago, got %v", age)
	}

	disabled := PruneJob("@daily", slog.Default(), prunerFunc(func(context.Context, time.Time) (int, error) {
		t.Error("pruner called with zero retention")
		return 0, nil
	}), 0)
	disabled.Run(context.Background())
}

func TestSweepJob(t *testing.T) {
	var calls int
	job := SweepJob("@every 1m", slog.Default(), map[string]func() int{
		"limiter":  func() int { calls++; return 3 },
		"throttle": func() int { calls++; return 0 },
	})
	if err := job.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("expected both sweeps, got %d", calls)
	}
}

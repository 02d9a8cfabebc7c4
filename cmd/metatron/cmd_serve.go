package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/user/metatron/internal/api"
	"github.com/user/metatron/internal/gateway"
	"github.com/user/metatron/internal/scheduler"
	"github.com/user/metatron/internal/telegram"
)

const (
	throttleIdle    = 10 * time.Minute
	shutdownTimeout = 15 * time.Second
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, Telegram adapter and maintenance jobs",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logger := setupLogging(cfg)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	pid := pidFileIn(cfg.DataDir)
	if proc, err := pid.process(); err == nil {
		return fmt.Errorf("server already running (pid %d)", proc.Pid)
	}
	if err := pid.write(); err != nil {
		return err
	}
	defer pid.remove()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch, err := a.orchestrator(ctx)
	if err != nil {
		return err
	}

	gw := gateway.New(orch, int64(cfg.MaxConcurrent), logger)
	gw.Start(ctx)
	defer gw.Stop()

	throttle := api.NewThrottle(cfg.HTTP.IngressRPS, cfg.HTTP.IngressBurst)
	srv := api.NewServer(gw, orch, api.Options{
		Provider:   cfg.LLM.Provider,
		Configured: a.configured(),
		Metrics:    promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}),
		Events:     a.events,
		Sessions:   a.events,
		Throttle:   throttle,
		Logger:     logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", "listen", cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sched := scheduler.New(logger)
	jobs := []scheduler.Job{
		scheduler.SweepJob(cfg.Schedule.Sweep, logger, map[string]func() int{
			"limiter":  a.limiter.Sweep,
			"throttle": func() int { return throttle.Sweep(throttleIdle) },
		}),
		scheduler.PruneJob(cfg.Schedule.Prune, logger, a.events, cfg.TranscriptRetention.Duration),
		scheduler.HealthJob(cfg.Schedule.Health, logger, a.client, a.metrics, a.healthTargets()),
	}
	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return err
		}
	}
	sched.Start()
	defer sched.Stop()

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, gw, logger)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		logger.Info("telegram adapter started")
	} else {
		logger.Info("telegram adapter disabled (no token)")
	}

	logger.Info("metatron started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"max_tool_rounds", cfg.MaxToolRounds,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"tools", len(a.registry.Names()),
		"pid_file", string(pid),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case err := <-serveErr:
			return fmt.Errorf("http server: %w", err)
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				restart(logger, pid)
				continue
			}
			logger.Info("shutting down", "signal", sig)
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown incomplete", "error", err)
			}
			return nil
		}
	}
}

// restart re-executes the binary in place. On failure the current process
// keeps serving.
func restart(logger *slog.Logger, pid pidFile) {
	logger.Info("received SIGHUP, restarting")
	execPath, err := os.Executable()
	if err != nil {
		logger.Error("failed to get executable path", "error", err)
		return
	}
	pid.remove()
	if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
		logger.Error("failed to re-exec", "error", err)
		if err := pid.write(); err != nil {
			logger.Error("failed to re-write PID file", "error", err)
		}
	}
}

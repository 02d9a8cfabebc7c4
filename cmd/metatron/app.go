package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/user/metatron/internal/config"
	ctxengine "github.com/user/metatron/internal/context"
	"github.com/user/metatron/internal/observability"
	"github.com/user/metatron/internal/resilience"
	"github.com/user/metatron/internal/runtime"
	"github.com/user/metatron/internal/runtime/tools"
	"github.com/user/metatron/internal/scheduler"
	"github.com/user/metatron/internal/state"
	"github.com/user/metatron/internal/types"
	"github.com/user/metatron/internal/upstream"
	"github.com/user/metatron/pkg/llm"
	"github.com/user/metatron/pkg/llm/gemini"
	"github.com/user/metatron/pkg/llm/openai"
)

// app holds the components shared by the commands. Everything is built
// here and injected; nothing is package-global.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	promReg   *prometheus.Registry
	metrics   *observability.Metrics
	limiter   *resilience.SlidingWindow
	client    *upstream.Client
	registry  *runtime.Registry
	events    *state.EventStore
	artifacts *state.ArtifactStore
	memory    *state.FileMemory
}

// newApp builds the tool stack. The model provider is only created by
// orchestrator, so offline commands work without credentials.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(promReg)

	exec := resilience.NewExecutor(resilience.WithLogger(logger), resilience.WithMetrics(metrics))
	limiter := resilience.NewSlidingWindow(cfg.Jina.MaxRequests, cfg.Jina.Window.Duration, resilience.WithLimiterMetrics(metrics))
	client := upstream.New(exec, limiter, resilience.NewBreakerSet(resilience.DefaultBreakerConfig()))
	client.SetDefaultPolicy(cfg.RetryPolicy())

	b := runtime.NewBuilder()
	toolset := tools.Default(client, tools.Config{
		JinaAPIKey:  cfg.Jina.APIKey,
		BraveAPIKey: cfg.Brave.APIKey,
	})
	if err := tools.Register(b, toolset...); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		promReg:   promReg,
		metrics:   metrics,
		limiter:   limiter,
		client:    client,
		registry:  b.Build(),
		events:    state.NewEventStore(cfg.DataDir),
		artifacts: state.NewArtifactStore(cfg.DataDir),
		memory:    state.NewFileMemory(cfg.DataDir),
	}, nil
}

func newProvider(ctx context.Context, cfg *config.Config) (llm.Provider, error) {
	lc := &llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout.Duration,
	}
	switch cfg.LLM.Provider {
	case "gemini":
		if lc.APIKey == "" {
			return nil, fmt.Errorf("gemini provider needs llm.api_key or GEMINI_API_KEY")
		}
		c, err := gemini.New(ctx, lc)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "openai":
		return openai.New(lc), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// orchestrator creates the model provider and the orchestrator over the
// app's tools and stores.
func (a *app) orchestrator(ctx context.Context) (*runtime.Orchestrator, error) {
	provider, err := newProvider(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("create llm provider: %w", err)
	}
	engine, err := ctxengine.New(a.cfg.LLM.Model, a.cfg.LLM.MaxContextTokens, a.cfg.LLM.OutputReserve, "")
	if err != nil {
		return nil, fmt.Errorf("create context engine: %w", err)
	}
	settings, err := config.ListValues(a.cfg, true)
	if err != nil {
		return nil, err
	}
	return runtime.New(provider, engine, a.registry, a.events, a.artifacts,
		runtime.WithServices(types.Services{Memory: a.memory}),
		runtime.WithMetrics(a.metrics),
		runtime.WithLogger(a.logger),
		runtime.WithProviderName(a.cfg.LLM.Provider),
		runtime.WithLimits(a.cfg.MaxToolRounds, a.cfg.MaxParallelTools),
		runtime.WithConfig(settings),
	), nil
}

// configured reports which integrations have credentials.
func (a *app) configured() map[string]bool {
	return map[string]bool{
		"llm":      a.cfg.LLM.APIKey != "" || (a.cfg.LLM.Provider == "openai" && a.cfg.LLM.BaseURL != ""),
		"jina":     a.cfg.Jina.APIKey != "",
		"brave":    a.cfg.Brave.APIKey != "",
		"telegram": a.cfg.Telegram.Token != "",
		"memory":   true,
	}
}

// healthTargets lists the upstreams probed by the health job.
func (a *app) healthTargets() []scheduler.Target {
	targets := []scheduler.Target{
		{Name: "wikipedia", URL: "https://en.wikipedia.org/w/api.php"},
		{Name: "reddit", URL: "https://www.reddit.com/"},
		{Name: "news", URL: "https://news.google.com/rss"},
	}
	if a.cfg.Jina.APIKey != "" {
		targets = append(targets, scheduler.Target{Name: tools.JinaService, URL: "https://r.jina.ai/"})
	}
	if a.cfg.Brave.APIKey != "" {
		targets = append(targets, scheduler.Target{Name: "brave", URL: "https://api.search.brave.com/"})
	}
	return targets
}

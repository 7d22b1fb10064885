// Package app wires the configuration to the stores, providers, clients and
// services of the research assistant.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"github.com/dshills/research-assistant/capability"
	"github.com/dshills/research-assistant/config"
	"github.com/dshills/research-assistant/graph"
	"github.com/dshills/research-assistant/graph/emit"
	"github.com/dshills/research-assistant/graph/model"
	"github.com/dshills/research-assistant/graph/model/anthropic"
	"github.com/dshills/research-assistant/graph/model/google"
	"github.com/dshills/research-assistant/graph/model/openai"
	"github.com/dshills/research-assistant/graph/store"
	"github.com/dshills/research-assistant/graph/tool"
	"github.com/dshills/research-assistant/internal/logging"
	"github.com/dshills/research-assistant/research"
	"github.com/dshills/research-assistant/session"
)

// App is a fully wired research assistant.
type App struct {
	Config   config.Config
	Registry *prometheus.Registry
	Metrics  *graph.PrometheusMetrics
	Usage    *capability.UsageTracker
	Store    store.Store[research.ResearchState]
	Service  *research.Service
	Sessions *session.Manager

	// Tracer is set when tracing is enabled.
	Tracer *sdktrace.TracerProvider

	closers []func() error
}

// Overrides replace configured components, mainly for tests.
type Overrides struct {
	Planner model.ChatModel
	Worker  model.ChatModel
	Web     tool.Retriever
	Wiki    tool.Retriever
}

// New validates cfg and builds the application.
func New(cfg config.Config, ov Overrides) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		Usage:    capability.NewUsageTracker(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = graph.NewPrometheusMetrics(a.Registry)

	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	emitters := emit.MultiEmitter{emit.NewLogEmitter(logging.New("engine"))}
	if cfg.Server.EnableTracing {
		a.Tracer = newTracerProvider(logging.New("trace"))
		a.closers = append(a.closers, func() error { return a.Tracer.Shutdown(context.Background()) })
		emitters = append(emitters, emit.NewOTelEmitter(a.Tracer.Tracer("research-assistant")))
	}

	planner := ov.Planner
	if planner == nil {
		planner = newChatModel(cfg.Planner)
	}
	worker := ov.Worker
	if worker == nil {
		worker = newChatModel(cfg.Worker)
	}

	web, wiki := ov.Web, ov.Wiki
	if web == nil {
		var opts []tool.TavilyOption
		if cfg.Search.TavilyEndpoint != "" {
			opts = append(opts, tool.WithTavilyEndpoint(cfg.Search.TavilyEndpoint))
		}
		web = tool.NewTavilySearch(cfg.Search.TavilyAPIKey, cfg.Search.MaxResults, opts...)
	}
	if wiki == nil {
		var opts []tool.WikipediaOption
		if cfg.Search.WikipediaEndpoint != "" {
			opts = append(opts, tool.WithWikipediaEndpoint(cfg.Search.WikipediaEndpoint))
		}
		wiki = tool.NewWikipedia(cfg.Search.MaxResults, opts...)
	}

	capLogger := logging.New("capability")
	searchOpts := []capability.Option{
		capability.WithPolicy(policyFor(cfg.Search.MaxAttempts)),
		capability.WithMetrics(a.Metrics),
		capability.WithLogger(capLogger),
	}

	svc, err := research.NewService(research.Deps{
		Planner:  a.client("planner", planner, cfg.Planner, capLogger),
		Worker:   a.client("worker", worker, cfg.Worker, capLogger),
		Web:      capability.NewRetriever("web", web, searchOpts...),
		Wiki:     capability.NewRetriever("wikipedia", wiki, searchOpts...),
		Store:    st,
		Emitter:  emitters,
		MaxTurns: cfg.Research.MaxTurns,
		EngineOptions: []graph.Option{
			graph.WithMaxConcurrent(cfg.Research.MaxConcurrent),
			graph.WithDefaultNodeTimeout(cfg.Research.NodeTimeout),
			graph.WithMetrics(a.Metrics),
		},
		Logger: logging.New("research"),
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Service = svc
	a.Sessions = session.NewManager(svc,
		session.WithMaxAnalysts(cfg.Research.MaxAnalysts),
		session.WithMaxSessions(cfg.Server.MaxSessions),
		session.WithLogger(logging.New("session")))

	return a, nil
}

// Close releases the store and flushes traces.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openStore() (store.Store[research.ResearchState], error) {
	cfg := a.Config.Store
	switch cfg.Driver {
	case config.StoreMemory:
		return store.NewMemStore[research.ResearchState](), nil
	case config.StoreSQLite:
		return store.NewSQLiteStore[research.ResearchState](cfg.DSN)
	case config.StoreMySQL:
		return store.NewMySQLStore[research.ResearchState](cfg.DSN)
	case config.StoreRedis:
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		a.closers = append(a.closers, client.Close)
		return store.NewRedisStore[research.ResearchState](client,
			store.WithRedisLogger(logging.New("store"))), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func (a *App) client(tier string, m model.ChatModel, cfg config.ModelConfig, logger *slog.Logger) *capability.Client {
	opts := []capability.Option{
		capability.WithPolicy(policyFor(cfg.MaxAttempts)),
		capability.WithAttemptTimeout(cfg.AttemptTimeout),
		capability.WithMetrics(a.Metrics),
		capability.WithLogger(logger),
		capability.WithUsage(a.Usage, cfg.Model),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, capability.WithLimiter(rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)))
	}
	return capability.NewClient(tier, m, opts...)
}

// policyFor returns the retrying policy bounded to maxAttempts, or the
// single-attempt policy.
func policyFor(maxAttempts int) graph.RetryPolicy {
	if maxAttempts <= 1 {
		return capability.SingleAttempt()
	}
	p := capability.RetryingPolicy()
	p.MaxAttempts = maxAttempts
	return p
}

func newChatModel(cfg config.ModelConfig) model.ChatModel {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithTemperature(cfg.Temperature)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.NewChatModel(cfg.APIKey, cfg.Model, opts...)
	case config.ProviderGoogle:
		return google.NewChatModel(cfg.APIKey, cfg.Model, google.WithTemperature(cfg.Temperature))
	case config.ProviderGroq:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = openai.GroqBaseURL
		}
		return openai.NewChatModel(cfg.APIKey, cfg.Model,
			openai.WithBaseURL(baseURL), openai.WithTemperature(cfg.Temperature))
	default:
		opts := []openai.Option{openai.WithTemperature(cfg.Temperature)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.NewChatModel(cfg.APIKey, cfg.Model, opts...)
	}
}

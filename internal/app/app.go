// Package app wires all CityDNA subsystems into a running service.
//
// New builds the provider chain, the snapshot store, and the HTTP server from
// configuration; Run serves until the context is cancelled; Shutdown drains
// everything in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/lokalos/citydna/internal/config"
	"github.com/lokalos/citydna/internal/dna"
	"github.com/lokalos/citydna/internal/health"
	"github.com/lokalos/citydna/internal/lastgood"
	"github.com/lokalos/citydna/internal/observe"
	"github.com/lokalos/citydna/internal/resilience"
	"github.com/lokalos/citydna/internal/server"
	"github.com/lokalos/citydna/pkg/intel"
	"github.com/lokalos/citydna/pkg/intel/anyllm"
	geminiintel "github.com/lokalos/citydna/pkg/intel/gemini"
	openaiintel "github.com/lokalos/citydna/pkg/intel/openai"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg   *config.Config
	srv   *server.Server
	chain *resilience.Chain[intel.Provider]

	// closers run in order during Shutdown.
	closers  []func(context.Context) error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProviderChain injects a prebuilt provider chain instead of constructing
// one from the config.
func WithProviderChain(chain *resilience.Chain[intel.Provider]) Option {
	return func(a *App) { a.chain = chain }
}

// New wires the application together from cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// Telemetry first so every later subsystem records into the real provider.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "citydna"})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.closers = append(a.closers, otelShutdown)

	if a.chain == nil {
		chain, err := buildChain(cfg)
		if err != nil {
			return nil, fmt.Errorf("app: build providers: %w", err)
		}
		a.chain = chain
	}

	store, err := a.initSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: init snapshots: %w", err)
	}

	svc := dna.New(a.chain,
		dna.WithStore(store),
		dna.WithRetryOptions(resilience.Options{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay.Std(),
			MaxJitter:  cfg.Retry.MaxJitter.Std(),
		}),
	)

	healthHandler := health.New(
		health.SnapshotStore(store),
		health.Providers(a.chain.Len()),
	)
	a.srv = server.New(svc, healthHandler)

	return a, nil
}

// buildChain constructs the ordered provider chain: the primary Gemini REST
// provider followed by each configured fallback tier, each behind its own
// circuit breaker.
func buildChain(cfg *config.Config) (*resilience.Chain[intel.Provider], error) {
	chain := resilience.NewChain[intel.Provider](resilience.ChainConfig{
		Breaker: resilience.BreakerConfig{
			MaxFailures: cfg.Breaker.MaxFailures,
			Cooldown:    cfg.Breaker.Cooldown.Std(),
		},
		Metrics: observe.DefaultMetrics(),
	})

	g := cfg.Providers.Gemini
	var gopts []geminiintel.Option
	if g.Model != "" {
		gopts = append(gopts, geminiintel.WithModel(g.Model))
	}
	if g.ImageModel != "" {
		gopts = append(gopts, geminiintel.WithImageModel(g.ImageModel))
	}
	if g.BaseURL != "" {
		gopts = append(gopts, geminiintel.WithBaseURL(g.BaseURL))
	}
	primary := geminiintel.New(g.APIKey, gopts...)
	chain.Add("gemini", primary)
	logProvider("primary", "gemini", g.Model, primary)

	for _, fb := range cfg.Providers.Fallbacks {
		p, err := buildFallback(fb)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", fb.Name, err)
		}
		chain.Add(fb.Name, p)
		logProvider("fallback", fb.Name, fb.Model, p)
	}

	return chain, nil
}

// logProvider records one registered tier with its capability surface, which
// determines how far media calls fall through the chain.
func logProvider(tier, name, model string, p intel.Provider) {
	caps := p.Capabilities()
	slog.Info("provider created",
		"tier", tier,
		"name", name,
		"model", model,
		"vision", caps.SupportsVision,
		"audio", caps.SupportsAudio,
		"image_gen", caps.SupportsImageGen,
		"search", caps.SupportsSearch,
	)
}

// buildFallback constructs one fallback tier. "openai" uses the native SDK
// adapter (vision-capable); everything else goes through any-llm (text only).
func buildFallback(entry config.ProviderEntry) (intel.Provider, error) {
	if entry.Provider == "openai" {
		var opts []openaiintel.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaiintel.WithBaseURL(entry.BaseURL))
		}
		return openaiintel.New(entry.APIKey, entry.Model, opts...)
	}

	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Provider, entry.Model, opts...)
}

// initSnapshots creates the last-known-good store: Postgres when a DSN is
// configured, in-process memory otherwise.
func (a *App) initSnapshots(ctx context.Context) (lastgood.Store, error) {
	dsn := a.cfg.Snapshots.PostgresDSN
	if dsn == "" {
		slog.Info("snapshot store", "backend", "memory")
		return lastgood.NewMemoryStore(), nil
	}

	store, err := lastgood.NewPostgresStore(ctx, dsn)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error {
		store.Close()
		return nil
	})
	slog.Info("snapshot store", "backend", "postgres")
	return store, nil
}

// Run serves HTTP until ctx is cancelled, then returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var certFile, keyFile string
		if tls := a.cfg.Server.TLS; tls != nil {
			certFile, keyFile = tls.CertFile, tls.KeyFile
		}
		errCh <- a.srv.ListenAndServe(a.cfg.Server.ListenAddr, certFile, keyFile)
	}()

	slog.Info("serving", "addr", a.cfg.Server.ListenAddr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown drains the HTTP server, then tears subsystems down in order. It
// respects the context deadline: if ctx expires, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.srv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "error", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

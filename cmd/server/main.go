// Support desk chat server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/support-desk/internal/api"
	"github.com/ashureev/support-desk/internal/chat"
	"github.com/ashureev/support-desk/internal/config"
	"github.com/ashureev/support-desk/internal/counters"
	"github.com/ashureev/support-desk/internal/domain"
	"github.com/ashureev/support-desk/internal/health"
	"github.com/ashureev/support-desk/internal/identity"
	"github.com/ashureev/support-desk/internal/live"
	"github.com/ashureev/support-desk/internal/llm"
	"github.com/ashureev/support-desk/internal/middleware"
	"github.com/ashureev/support-desk/internal/puzzle"
	"github.com/ashureev/support-desk/internal/session"
	"github.com/ashureev/support-desk/internal/stream"
	"github.com/ashureev/support-desk/internal/transcript"
	"github.com/ashureev/support-desk/web"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"llm_provider", cfg.LLM.Provider,
		"counters_backend", cfg.Counters.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	store, err := openCounters(cfg.Counters)
	if err != nil {
		return fmt.Errorf("initialize counters: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close counter store", "error", closeErr)
		}
	}()
	counterSvc := counters.NewService(store)
	if err := counterSvc.Ping(ctx); err != nil {
		slog.Warn("Counter store unreachable, serving fallback values", "error", err)
	}

	provider, err := newProvider(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("initialize llm provider: %w", err)
	}
	slog.Info("LLM provider ready", "provider", provider.Name())

	tlog, err := transcript.New(transcript.Config{
		Enabled:    cfg.Transcript.Enabled,
		Path:       cfg.Transcript.Path,
		MaxSizeMB:  cfg.Transcript.MaxSizeMB,
		MaxBackups: cfg.Transcript.MaxBackups,
		MaxAgeDays: cfg.Transcript.MaxAgeDays,
		Compress:   true,
		QueueSize:  cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize transcript log: %w", err)
	}
	defer func() {
		if closeErr := tlog.Close(); closeErr != nil {
			slog.Error("Failed to close transcript log", "error", closeErr)
		}
	}()

	manifest, err := puzzle.DefaultManifest()
	if err != nil {
		return fmt.Errorf("load puzzle manifest: %w", err)
	}

	sessions := session.NewMemory(cfg.SessionTTL)
	svc, err := chat.New(chat.Options{
		Sessions:      sessions,
		Engine:        puzzle.NewEngine(manifest, nil),
		Provider:      provider,
		Counters:      counterSvc,
		Transcript:    tlog,
		Pacing:        stream.Pacing{CharDelay: cfg.Pacing.CharDelay, MessageGap: cfg.Pacing.MessageGap},
		HistoryWindow: cfg.LLM.HistoryWindow,
	})
	if err != nil {
		return fmt.Errorf("initialize chat service: %w", err)
	}

	// Initialize handlers.
	limiter := api.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	apiHandler := api.NewHandler(svc, limiter, cfg.MaxRequestBodySize)
	liveHandler := live.NewHandler(live.Options{
		Backend:       svc,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/conversation", liveHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// SSE responses stream for as long as generation runs, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		liveHandler.Registry().CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if cfg.GRPCHealthPort != "" {
		hs := health.NewServer(counterSvc, health.DefaultConfig())
		g.Go(func() error {
			return hs.Serve(gctx, ":"+cfg.GRPCHealthPort)
		})
	}

	g.Go(func() error {
		<-session.StartSweeper(gctx, sessions, cfg.SweepInterval, func(s domain.Session) {
			svc.Abandoned(context.WithoutCancel(gctx), s)
		})
		return nil
	})

	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})

	return g.Wait()
}

func openCounters(cfg config.CountersConfig) (counters.Store, error) {
	switch cfg.Backend {
	case config.CountersSQLite:
		return counters.NewSQLite(cfg.DBPath)
	case config.CountersKV:
		return counters.NewKV(cfg.KVURL, cfg.KVToken)
	default:
		return counters.NewMemory(), nil
	}
}

func newProvider(ctx context.Context, cfg config.LLMConfig) (llm.Provider, error) {
	var (
		p   llm.Provider
		err error
	)
	switch cfg.Provider {
	case config.ProviderOpenRouter:
		p, err = llm.NewOpenAIProvider(cfg.OpenRouterKey, cfg.BaseURL, cfg.Model)
	case config.ProviderGemini:
		p, err = llm.NewGeminiProvider(ctx, cfg.GoogleKey, cfg.Model)
	default:
		p = llm.NewScripted(llm.DefaultScript)
	}
	if err != nil {
		return nil, err
	}
	return llm.NewResilient(p, cfg.Timeout, cfg.MaxRetries), nil
}

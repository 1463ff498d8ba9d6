package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-homework/internal/ai"
	"github.com/p-n-ai/pai-homework/internal/api"
	"github.com/p-n-ai/pai-homework/internal/app"
	"github.com/p-n-ai/pai-homework/internal/classifier"
	"github.com/p-n-ai/pai-homework/internal/grading"
	"github.com/p-n-ai/pai-homework/internal/mastery"
	"github.com/p-n-ai/pai-homework/internal/platform/config"
	"github.com/p-n-ai/pai-homework/internal/practice"
	"github.com/p-n-ai/pai-homework/internal/realtime"
	"github.com/p-n-ai/pai-homework/internal/recommend"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Log, os.Stdout))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	srv, err := newServer(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}

	go func() {
		slog.Info("server starting", "addr", srv.http.Addr)
		if err := srv.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.shutdown(shutdownCtx)
}

// newLogger builds the process logger from TUTOR_LOG_LEVEL and TUTOR_LOG_FORMAT.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

type server struct {
	http   *http.Server
	queue  *grading.Queue
	stores *app.Stores
}

// newServer opens the stores, seeds the taxonomy and wires the grading
// pipeline behind the HTTP API.
func newServer(ctx context.Context, cfg *config.Config) (*server, error) {
	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := stores.Seed(ctx, cfg.TaxonomyPath); err != nil {
		stores.Close()
		return nil, fmt.Errorf("seed taxonomy: %w", err)
	}

	scorer := practice.NewScorer(practice.ScorerConfig{Store: stores.Practice})
	tracker := mastery.NewTracker(mastery.TrackerConfig{
		Store:    stores.Mastery,
		Students: stores.Practice,
		Taxonomy: stores.Taxonomy,
	})
	hub := realtime.NewHub(0)

	queue := grading.NewQueue(grading.QueueConfig{
		Analyzer:     grading.NewGrader(grading.GraderConfig{Provider: newVLMRouter(cfg.VLM), Timeout: cfg.VLM.Timeout}),
		Scorer:       scorer,
		Mastery:      tracker,
		Events:       stores.Events,
		Publisher:    hub,
		Workers:      cfg.Grading.Workers,
		Size:         cfg.Grading.QueueSize,
		MaxRetries:   cfg.Grading.MaxRetries,
		RetryBackoff: cfg.Grading.RetryBackoff,
	})

	checks := make(map[string]api.HealthChecker, len(stores.Checks))
	for name, c := range stores.Checks {
		checks[name] = c
	}
	handler := api.NewHandler(api.Config{
		Taxonomy: stores.Taxonomy,
		Classifier: classifier.New(classifier.Config{
			Store:          stores.Taxonomy,
			DefaultSubject: cfg.Classifier.DefaultSubject,
			ResultLimit:    cfg.Classifier.ResultLimit,
		}),
		Mastery:   tracker,
		Scorer:    scorer,
		Recommend: recommend.New(stores.Practice, tracker),
		Queue:     queue,
		Hub:       hub,
		Checks:    checks,
	})

	return &server{
		http: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           handler.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
			// No WriteTimeout: session event streams are long-lived.
			IdleTimeout: 60 * time.Second,
		},
		queue:  queue,
		stores: stores,
	}, nil
}

// newVLMRouter registers the primary endpoint and the optional fallback.
func newVLMRouter(cfg config.VLMConfig) *ai.Router {
	client := &http.Client{Timeout: cfg.Timeout}
	router := ai.NewRouter()
	router.Register("primary", ai.NewOpenAICompatProvider(cfg.APIKey,
		ai.WithBaseURL(cfg.BaseURL),
		ai.WithModel(cfg.Model),
		ai.WithHTTPClient(client),
		ai.WithProviderName("primary"),
	))
	if cfg.FallbackBaseURL != "" && cfg.FallbackModel != "" {
		router.Register("fallback", ai.NewOpenAICompatProvider(cfg.FallbackAPIKey,
			ai.WithBaseURL(cfg.FallbackBaseURL),
			ai.WithModel(cfg.FallbackModel),
			ai.WithHTTPClient(client),
			ai.WithProviderName("fallback"),
		))
		slog.Info("fallback VLM configured", "base_url", cfg.FallbackBaseURL, "model", cfg.FallbackModel)
	}
	return router
}

// shutdown stops accepting requests, drains the grading queue and closes
// the stores.
func (s *server) shutdown(ctx context.Context) {
	if err := s.http.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if err := s.queue.Close(ctx); err != nil {
		slog.Error("grading queue shutdown error", "error", err)
	}
	s.stores.Close()
}

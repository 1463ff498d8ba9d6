// Package app wires the configured storage backends for the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/p-n-ai/pai-homework/internal/grading"
	"github.com/p-n-ai/pai-homework/internal/mastery"
	"github.com/p-n-ai/pai-homework/internal/platform/cache"
	"github.com/p-n-ai/pai-homework/internal/platform/config"
	"github.com/p-n-ai/pai-homework/internal/platform/database"
	"github.com/p-n-ai/pai-homework/internal/practice"
	"github.com/p-n-ai/pai-homework/internal/taxonomy"
)

// HealthChecker is a backend that can be pinged.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Stores bundles the storage backends selected by configuration.
type Stores struct {
	Taxonomy taxonomy.Store
	Practice practice.Store
	Mastery  mastery.Store
	Events   grading.EventLogger
	// Checks holds the backends probed for readiness, keyed by name.
	Checks map[string]HealthChecker

	closers []func()
}

// OpenStores connects the backends named by cfg.Store ("postgres" or
// "memory"), runs migrations and wraps the taxonomy in the Redis cache when
// enabled.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	s := &Stores{Checks: make(map[string]HealthChecker)}

	switch cfg.Store {
	case "memory":
		s.Taxonomy = taxonomy.NewMemoryStore()
		s.Practice = practice.NewMemoryStore()
		s.Mastery = mastery.NewMemoryStore()
		s.Events = grading.NopEventLogger{}
	case "postgres":
		if err := s.openPostgres(ctx, cfg.Database); err != nil {
			s.Close()
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connect cache: %w", err)
		}
		s.closers = append(s.closers, func() { _ = c.Close() })
		s.Checks["cache"] = c
		s.Taxonomy = taxonomy.NewCachedStore(s.Taxonomy, c, cfg.Cache.TTL)
		slog.Info("taxonomy cache enabled", "ttl", cfg.Cache.TTL)
	}

	slog.Info("stores ready", "store", cfg.Store, "cache", cfg.Cache.Enabled)
	return s, nil
}

func (s *Stores) openPostgres(ctx context.Context, cfg config.DatabaseConfig) error {
	db, err := database.New(ctx, cfg.URL, cfg.MaxConns, cfg.MinConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.closers = append(s.closers, db.Close)
	s.Checks["database"] = db

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	if s.Taxonomy, err = taxonomy.NewPostgresStore(db.Pool); err != nil {
		return err
	}
	if s.Practice, err = practice.NewPostgresStore(db.Pool); err != nil {
		return err
	}
	if s.Mastery, err = mastery.NewPostgresStore(db.Pool); err != nil {
		return err
	}
	s.Events = grading.NewPostgresEventLogger(db.Pool)
	return nil
}

// Seed loads taxonomy seed files from dir, or the built-in seeds when dir is
// empty, into the taxonomy store.
func (s *Stores) Seed(ctx context.Context, dir string) (taxonomy.SeedStats, error) {
	var (
		loader *taxonomy.Loader
		err    error
	)
	if dir != "" {
		loader, err = taxonomy.NewLoader(dir)
	} else {
		loader, err = taxonomy.BuiltinLoader()
	}
	if err != nil {
		return taxonomy.SeedStats{}, err
	}

	stats, err := loader.Seed(ctx, s.Taxonomy)
	if err != nil {
		return stats, err
	}
	slog.Info("taxonomy seeded",
		"source", dir,
		"subjects", stats.Subjects,
		"created", stats.Created,
		"existing", stats.Existing,
		"exam_points", stats.ExamPoints,
		"skipped", stats.SkippedEntries,
	)
	return stats, nil
}

// Close releases every backend in reverse order of opening.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

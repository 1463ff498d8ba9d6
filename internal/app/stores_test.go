package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/p-n-ai/pai-homework/internal/app"
	"github.com/p-n-ai/pai-homework/internal/platform/config"
)

func TestOpenStores_Memory(t *testing.T) {
	ctx := context.Background()
	s, err := app.OpenStores(ctx, &config.Config{Store: "memory"})
	if err != nil {
		t.Fatalf("OpenStores() error = %v", err)
	}
	defer s.Close()

	if len(s.Checks) != 0 {
		t.Errorf("checks = %v, want none for memory stores", s.Checks)
	}

	stats, err := s.Seed(ctx, "")
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if stats.Subjects == 0 || stats.Created == 0 {
		t.Errorf("builtin seed stats = %+v", stats)
	}
	if _, err := s.Taxonomy.SubjectByName(ctx, "数学"); err != nil {
		t.Errorf("SubjectByName(数学) error = %v", err)
	}

	again, err := s.Seed(ctx, "")
	if err != nil {
		t.Fatalf("second Seed() error = %v", err)
	}
	if again.Created != 0 || again.Existing != stats.Created+stats.Existing {
		t.Errorf("reseed stats = %+v, want everything existing", again)
	}
}

func TestOpenStores_SeedDir(t *testing.T) {
	dir := t.TempDir()
	seed := `subject: 物理
description: 初中物理
knowledge_points:
  - name: 力学-牛顿第一定律
    grade: 初二
`
	if err := os.WriteFile(filepath.Join(dir, "physics.yaml"), []byte(seed), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	ctx := context.Background()
	s, err := app.OpenStores(ctx, &config.Config{Store: "memory"})
	if err != nil {
		t.Fatalf("OpenStores() error = %v", err)
	}
	defer s.Close()

	stats, err := s.Seed(ctx, dir)
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if stats.Subjects != 1 || stats.Created != 1 {
		t.Errorf("stats = %+v, want 1 subject and 1 knowledge point", stats)
	}
	if _, err := s.Seed(ctx, filepath.Join(dir, "missing")); err == nil {
		t.Error("Seed(missing dir) should fail")
	}
}

func TestOpenStores_UnknownBackend(t *testing.T) {
	if _, err := app.OpenStores(context.Background(), &config.Config{Store: "sqlite"}); err == nil {
		t.Error("OpenStores(sqlite) should fail")
	}
}

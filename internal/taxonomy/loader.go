package taxonomy

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed seeds/*.yaml
var builtinSeeds embed.FS

// SeedFile is one subject's taxonomy as written in YAML.
type SeedFile struct {
	Subject         string               `yaml:"subject"`
	Description     string               `yaml:"description"`
	KnowledgePoints []SeedKnowledgePoint `yaml:"knowledge_points"`
}

// SeedKnowledgePoint is a knowledge point entry in a seed file.
type SeedKnowledgePoint struct {
	Name        string          `yaml:"name"`
	Grade       GradeLevel      `yaml:"grade"`
	Description string          `yaml:"description"`
	ExamPoints  []SeedExamPoint `yaml:"exam_points"`
}

// SeedExamPoint is an exam point entry. Grade defaults to the parent's grade.
type SeedExamPoint struct {
	Name        string     `yaml:"name"`
	Grade       GradeLevel `yaml:"grade"`
	Weight      float64    `yaml:"weight"`
	Description string     `yaml:"description"`
}

// SeedStats summarises a Seed run.
type SeedStats struct {
	Subjects       int
	Created        int
	Existing       int
	ExamPoints     int
	SkippedEntries int
}

// Loader reads taxonomy seed files.
type Loader struct {
	files []SeedFile
}

// NewLoader loads every *.yaml / *.yml seed file under rootDir.
func NewLoader(rootDir string) (*Loader, error) {
	if _, err := os.Stat(rootDir); err != nil {
		return nil, fmt.Errorf("loading taxonomy: %w", err)
	}
	return newLoaderFS(os.DirFS(rootDir))
}

// BuiltinLoader returns the seed data compiled into the binary.
func BuiltinLoader() (*Loader, error) {
	return newLoaderFS(builtinSeeds)
}

func newLoaderFS(fsys fs.FS) (*Loader, error) {
	l := &Loader{}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		switch path.Ext(p) {
		case ".yaml", ".yml":
			return l.loadFile(fsys, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading taxonomy: %w", err)
	}

	slog.Info("taxonomy seeds loaded", "files", len(l.files))
	return l, nil
}

func (l *Loader) loadFile(fsys fs.FS, p string) error {
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		return err
	}

	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		slog.Warn("skipping invalid seed YAML", "path", p, "error", err)
		return nil
	}
	if strings.TrimSpace(f.Subject) == "" {
		return nil // Not a seed file
	}

	l.files = append(l.files, f)
	return nil
}

// Files returns the loaded seed files in path order.
func (l *Loader) Files() []SeedFile {
	return l.files
}

// Seed get-or-creates every subject, knowledge point and exam point in store.
// Running it twice is a no-op the second time.
func (l *Loader) Seed(ctx context.Context, store Store) (SeedStats, error) {
	var stats SeedStats
	for _, f := range l.files {
		subj, err := store.EnsureSubject(ctx, Subject{Name: f.Subject, Description: f.Description})
		if err != nil {
			return stats, fmt.Errorf("seed subject %q: %w", f.Subject, err)
		}
		stats.Subjects++

		for _, entry := range f.KnowledgePoints {
			if strings.TrimSpace(entry.Name) == "" {
				stats.SkippedEntries++
				continue
			}
			if !entry.Grade.Valid() {
				slog.Warn("seed knowledge point has unknown grade", "name", entry.Name, "grade", entry.Grade)
			}
			kp, created, err := store.EnsureKnowledgePoint(ctx, KnowledgePoint{
				Name:        entry.Name,
				Description: entry.Description,
				SubjectID:   subj.ID,
				GradeLevel:  entry.Grade,
			})
			if err != nil {
				return stats, fmt.Errorf("seed knowledge point %q: %w", entry.Name, err)
			}
			if created {
				stats.Created++
			} else {
				stats.Existing++
			}

			for _, ep := range entry.ExamPoints {
				grade := ep.Grade
				if grade == "" {
					grade = kp.GradeLevel
				}
				if _, _, err := store.EnsureExamPoint(ctx, ExamPoint{
					Name:             ep.Name,
					KnowledgePointID: kp.ID,
					GradeLevel:       grade,
					Description:      ep.Description,
					DifficultyWeight: ep.Weight,
				}); err != nil {
					return stats, fmt.Errorf("seed exam point %q: %w", ep.Name, err)
				}
				stats.ExamPoints++
			}
		}
	}

	slog.Info("taxonomy seeded",
		"subjects", stats.Subjects,
		"created", stats.Created,
		"existing", stats.Existing,
		"exam_points", stats.ExamPoints,
	)
	return stats, nil
}

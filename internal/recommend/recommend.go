// Package recommend ranks practice exercises for a student from their
// mistakes and weak knowledge points.
package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/p-n-ai/pai-homework/internal/mastery"
	"github.com/p-n-ai/pai-homework/internal/practice"
)

// Mode selects the recommendation strategy.
type Mode string

const (
	ModeWeakness Mode = "weakness"
	ModeMistakes Mode = "mistakes"
	ModeMixed    Mode = "mixed"
)

// ParseMode maps a request value to a Mode. Empty and unknown values fall
// back to ModeWeakness.
func ParseMode(s string) Mode {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeMistakes, ModeMixed:
		return m
	}
	return ModeWeakness
}

const defaultCount = 10

var difficultyWeights = []struct {
	Difficulty practice.Difficulty
	Weight     float64
}{
	{practice.DifficultyEasy, 1},
	{practice.DifficultyMedium, 2},
	{practice.DifficultyHard, 3},
}

// Recommendation is one ranked exercise.
type Recommendation struct {
	Exercise practice.Exercise `json:"exercise"`
	Weight   float64           `json:"weight"`
	Reason   string            `json:"reason"`
}

// Exercises is the part of the practice store the engine reads.
type Exercises interface {
	ListExercises(ctx context.Context, f practice.ExerciseFilter) ([]practice.Exercise, error)
	ListStudentAttempts(ctx context.Context, studentID int64) ([]practice.Attempt, error)
}

// Mastery reports a student's weak knowledge points.
type Mastery interface {
	WeakKnowledgePoints(ctx context.Context, studentID int64, threshold float64) ([]mastery.Entry, error)
}

// Engine ranks exercises for students.
type Engine struct {
	exercises Exercises
	mastery   Mastery
}

// New creates a recommendation engine.
func New(exercises Exercises, m Mastery) *Engine {
	return &Engine{exercises: exercises, mastery: m}
}

// profile is what the engine knows about one student.
type profile struct {
	mistakes map[int64]bool
	weak     map[int64]float64
}

func (p profile) touchesWeak(e practice.Exercise) bool {
	return slices.ContainsFunc(e.KnowledgePointIDs, func(id int64) bool {
		_, ok := p.weak[id]
		return ok
	})
}

// Recommend returns up to count exercises matching f, highest weight first.
// Ties keep exercise id order. In ModeMistakes only exercises the student has
// answered wrong are eligible. In ModeWeakness eligibility is mistakes plus
// exercises on weak knowledge points, or mistakes plus hard exercises when
// nothing is weak.
func (e *Engine) Recommend(ctx context.Context, studentID int64, f practice.ExerciseFilter, mode Mode, count int) ([]Recommendation, error) {
	if count <= 0 {
		count = defaultCount
	}
	if mode == "" {
		mode = ModeWeakness
	}

	p, err := e.profile(ctx, studentID)
	if err != nil {
		return nil, err
	}
	candidates, err := e.exercises.ListExercises(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list exercises: %w", err)
	}

	out := make([]Recommendation, 0, len(candidates))
	for _, ex := range candidates {
		if !eligible(ex, p, mode) {
			continue
		}
		out = append(out, Recommendation{
			Exercise: ex,
			Weight:   weight(ex, p, mode),
			Reason:   reason(ex, p, mode),
		})
	}

	slices.SortStableFunc(out, func(a, b Recommendation) int {
		switch {
		case a.Weight > b.Weight:
			return -1
		case a.Weight < b.Weight:
			return 1
		}
		return 0
	})
	if len(out) > count {
		out = out[:count]
	}

	slog.Debug("exercises recommended",
		"student_id", studentID,
		"mode", string(mode),
		"candidates", len(candidates),
		"returned", len(out),
	)
	return out, nil
}

func (e *Engine) profile(ctx context.Context, studentID int64) (profile, error) {
	weak, err := e.mastery.WeakKnowledgePoints(ctx, studentID, mastery.WeakThreshold)
	if err != nil {
		return profile{}, fmt.Errorf("weak knowledge points: %w", err)
	}
	attempts, err := e.exercises.ListStudentAttempts(ctx, studentID)
	if err != nil {
		return profile{}, fmt.Errorf("list student attempts: %w", err)
	}

	p := profile{mistakes: make(map[int64]bool), weak: make(map[int64]float64, len(weak))}
	for _, w := range weak {
		p.weak[w.KnowledgePointID] = w.MasteryLevel
	}
	for _, a := range attempts {
		if a.Status == practice.AttemptWrong {
			p.mistakes[a.ExerciseID] = true
		}
	}
	return p, nil
}

func eligible(ex practice.Exercise, p profile, mode Mode) bool {
	mistake := p.mistakes[ex.ID]
	switch mode {
	case ModeMistakes:
		return mistake
	case ModeWeakness:
		if len(p.weak) > 0 {
			return mistake || p.touchesWeak(ex)
		}
		return mistake || ex.Difficulty == practice.DifficultyHard
	}
	return true
}

func weight(ex practice.Exercise, p profile, mode Mode) float64 {
	w := 1.0
	mistake := p.mistakes[ex.ID]

	switch mode {
	case ModeMistakes:
		if mistake {
			w += 10
		} else {
			w += 0.1
		}
	case ModeWeakness:
		if mistake {
			w += 5
		}
		for _, id := range ex.KnowledgePointIDs {
			if level, ok := p.weak[id]; ok {
				w += (100 - level) / 20
			}
		}
	default:
		if mistake {
			w += 3
		}
		for _, id := range ex.KnowledgePointIDs {
			if _, ok := p.weak[id]; ok {
				w += 2
			}
		}
	}

	for _, dw := range difficultyWeights {
		if dw.Difficulty == ex.Difficulty {
			w += dw.Weight
			break
		}
	}
	if ex.TotalAttempts > 0 {
		w += (1 - ex.Accuracy()) * 3
	}
	return w
}

func reason(ex practice.Exercise, p profile, mode Mode) string {
	mistake := p.mistakes[ex.ID]
	switch mode {
	case ModeMistakes:
		if mistake {
			return "错题重练 - 专门复习您的错题"
		}
		return "错题重练 - 相关错题"
	case ModeWeakness:
		var reasons []string
		if mistake {
			reasons = append(reasons, "薄弱强化 - 错题优先")
		}
		if p.touchesWeak(ex) {
			reasons = append(reasons, "薄弱强化 - 针对薄弱知识点")
		} else {
			reasons = append(reasons, "薄弱强化 - 智能推荐")
		}
		return strings.Join(reasons, "; ")
	}
	switch {
	case mistake:
		return "综合练习 - 错题复习"
	case p.touchesWeak(ex):
		return "综合练习 - 薄弱知识点"
	}
	return "综合练习 - 新题练习"
}

package mastery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/p-n-ai/pai-homework/internal/taxonomy"
)

// StudentLookup reports whether a student exists.
type StudentLookup interface {
	StudentExists(ctx context.Context, studentID int64) (bool, error)
}

// Entry pairs a record with its knowledge point.
type Entry struct {
	Record
	KnowledgePoint taxonomy.KnowledgePoint `json:"knowledge_point"`
}

// Filter narrows ForStudent. Zero values mean "any".
type Filter struct {
	SubjectID int64
	// MaxLevel keeps records strictly below this mastery level when positive.
	MaxLevel float64
}

// TrackerConfig holds dependencies for the tracker.
type TrackerConfig struct {
	Store    Store
	Students StudentLookup
	Taxonomy taxonomy.Store
	Now      func() time.Time
}

// Tracker records attempts and answers mastery queries.
type Tracker struct {
	store    Store
	students StudentLookup
	taxonomy taxonomy.Store
	now      func() time.Time
}

// NewTracker creates a mastery tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: store, students: cfg.Students, taxonomy: cfg.Taxonomy, now: now}
}

// RecordAttempt folds one attempt into the student's mastery of the
// knowledge point. It is not idempotent: every call counts as an attempt.
func (t *Tracker) RecordAttempt(ctx context.Context, studentID, knowledgePointID int64, correct bool) (Record, error) {
	if err := t.checkStudent(ctx, studentID); err != nil {
		return Record{}, err
	}
	if err := t.checkKnowledgePoint(ctx, knowledgePointID); err != nil {
		return Record{}, err
	}
	return t.apply(ctx, studentID, knowledgePointID, correct)
}

// RecordExerciseAttempt records one attempt against every knowledge point of
// an exercise. All references are validated before anything is written.
func (t *Tracker) RecordExerciseAttempt(ctx context.Context, studentID int64, knowledgePointIDs []int64, correct bool) ([]Record, error) {
	if err := t.checkStudent(ctx, studentID); err != nil {
		return nil, err
	}
	for _, id := range knowledgePointIDs {
		if err := t.checkKnowledgePoint(ctx, id); err != nil {
			return nil, err
		}
	}

	out := make([]Record, 0, len(knowledgePointIDs))
	for _, id := range knowledgePointIDs {
		r, err := t.apply(ctx, studentID, id, correct)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (t *Tracker) apply(ctx context.Context, studentID, knowledgePointID int64, correct bool) (Record, error) {
	now := t.now()
	r, err := t.store.Update(ctx, studentID, knowledgePointID, func(current Record, exists bool) Record {
		return Apply(current, exists, correct, now)
	})
	if err != nil {
		return Record{}, fmt.Errorf("record attempt: %w", err)
	}

	slog.Debug("mastery updated",
		"student_id", studentID,
		"knowledge_point_id", knowledgePointID,
		"correct", correct,
		"mastery_level", r.MasteryLevel,
		"attempts", r.TotalAttempts,
	)
	return r, nil
}

func (t *Tracker) checkStudent(ctx context.Context, studentID int64) error {
	if t.students == nil {
		return nil
	}
	ok, err := t.students.StudentExists(ctx, studentID)
	if err != nil {
		return fmt.Errorf("lookup student: %w", err)
	}
	if !ok {
		return fmt.Errorf("student %d: %w", studentID, ErrUnknownStudent)
	}
	return nil
}

func (t *Tracker) checkKnowledgePoint(ctx context.Context, id int64) error {
	if t.taxonomy == nil {
		return nil
	}
	_, err := t.taxonomy.GetKnowledgePoint(ctx, id)
	if errors.Is(err, taxonomy.ErrNotFound) {
		return fmt.Errorf("knowledge point %d: %w", id, ErrUnknownKnowledgePoint)
	}
	if err != nil {
		return fmt.Errorf("lookup knowledge point: %w", err)
	}
	return nil
}

// Get returns the student's record for one knowledge point.
func (t *Tracker) Get(ctx context.Context, studentID, knowledgePointID int64) (Record, bool, error) {
	return t.store.Get(ctx, studentID, knowledgePointID)
}

// ForStudent lists the student's mastery records with their knowledge points,
// ordered by mastery level ascending then knowledge point id.
func (t *Tracker) ForStudent(ctx context.Context, studentID int64, f Filter) ([]Entry, error) {
	if err := t.checkStudent(ctx, studentID); err != nil {
		return nil, err
	}
	records, err := t.store.ListForStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list mastery: %w", err)
	}

	var out []Entry
	for _, r := range records {
		if f.MaxLevel > 0 && r.MasteryLevel >= f.MaxLevel {
			continue
		}
		e := Entry{Record: r}
		if t.taxonomy != nil {
			kp, err := t.taxonomy.GetKnowledgePoint(ctx, r.KnowledgePointID)
			if err != nil {
				return nil, fmt.Errorf("lookup knowledge point %d: %w", r.KnowledgePointID, err)
			}
			if f.SubjectID != 0 && kp.SubjectID != f.SubjectID {
				continue
			}
			e.KnowledgePoint = kp
		}
		out = append(out, e)
	}

	slices.SortStableFunc(out, func(a, b Entry) int {
		switch {
		case a.MasteryLevel < b.MasteryLevel:
			return -1
		case a.MasteryLevel > b.MasteryLevel:
			return 1
		}
		return 0
	})
	return out, nil
}

// WeakKnowledgePoints returns the student's knowledge points with mastery
// below threshold (WeakThreshold when threshold is not positive), weakest first.
func (t *Tracker) WeakKnowledgePoints(ctx context.Context, studentID int64, threshold float64) ([]Entry, error) {
	if threshold <= 0 {
		threshold = WeakThreshold
	}
	return t.ForStudent(ctx, studentID, Filter{MaxLevel: threshold})
}

package taxonomy

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Store persists the taxonomy.
type Store interface {
	// EnsureSubject returns the subject with s.Name, creating it if needed.
	EnsureSubject(ctx context.Context, s Subject) (Subject, error)
	GetSubject(ctx context.Context, id int64) (Subject, error)
	SubjectByName(ctx context.Context, name string) (Subject, error)
	ListSubjects(ctx context.Context) ([]Subject, error)

	// EnsureKnowledgePoint is get-or-create on (name, subject, grade). created
	// reports whether a new row was inserted.
	EnsureKnowledgePoint(ctx context.Context, kp KnowledgePoint) (KnowledgePoint, bool, error)
	GetKnowledgePoint(ctx context.Context, id int64) (KnowledgePoint, error)
	// ListKnowledgePoints returns matches ordered by grade, then name.
	ListKnowledgePoints(ctx context.Context, f KnowledgePointFilter) ([]KnowledgePoint, error)
	// KnowledgePointsByName returns points whose name is in names, ordered by id.
	KnowledgePointsByName(ctx context.Context, names []string, limit int) ([]KnowledgePoint, error)

	EnsureExamPoint(ctx context.Context, ep ExamPoint) (ExamPoint, bool, error)
	ListExamPoints(ctx context.Context, knowledgePointID int64) ([]ExamPoint, error)
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu              sync.RWMutex
	nextID          int64
	subjects        []Subject
	knowledgePoints []KnowledgePoint
	examPoints      []ExamPoint
}

// NewMemoryStore creates an empty in-memory taxonomy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) EnsureSubject(_ context.Context, subj Subject) (Subject, error) {
	name := strings.TrimSpace(subj.Name)
	if name == "" {
		return Subject{}, fmt.Errorf("subject name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subjects {
		if existing.Name == name {
			return existing, nil
		}
	}
	subj.ID = s.id()
	subj.Name = name
	subj.CreatedAt = time.Now()
	s.subjects = append(s.subjects, subj)
	return subj, nil
}

func (s *MemoryStore) GetSubject(_ context.Context, id int64) (Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, subj := range s.subjects {
		if subj.ID == id {
			return subj, nil
		}
	}
	return Subject{}, fmt.Errorf("subject %d: %w", id, ErrNotFound)
}

func (s *MemoryStore) SubjectByName(_ context.Context, name string) (Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, subj := range s.subjects {
		if subj.Name == name {
			return subj, nil
		}
	}
	return Subject{}, fmt.Errorf("subject %q: %w", name, ErrNotFound)
}

func (s *MemoryStore) ListSubjects(_ context.Context) ([]Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.subjects), nil
}

func (s *MemoryStore) EnsureKnowledgePoint(_ context.Context, kp KnowledgePoint) (KnowledgePoint, bool, error) {
	kp.Name = strings.TrimSpace(kp.Name)
	if kp.Name == "" {
		return KnowledgePoint{}, false, fmt.Errorf("knowledge point name is required")
	}
	kp.GradeLevel = kp.GradeLevel.Canonical()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasSubject(kp.SubjectID) {
		return KnowledgePoint{}, false, fmt.Errorf("subject %d: %w", kp.SubjectID, ErrNotFound)
	}
	for _, existing := range s.knowledgePoints {
		if existing.Name == kp.Name && existing.SubjectID == kp.SubjectID && existing.GradeLevel == kp.GradeLevel {
			return existing, false, nil
		}
	}
	kp.ID = s.id()
	kp.CreatedAt = time.Now()
	s.knowledgePoints = append(s.knowledgePoints, kp)
	return kp, true, nil
}

func (s *MemoryStore) GetKnowledgePoint(_ context.Context, id int64) (KnowledgePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, kp := range s.knowledgePoints {
		if kp.ID == id {
			return kp, nil
		}
	}
	return KnowledgePoint{}, fmt.Errorf("knowledge point %d: %w", id, ErrNotFound)
}

func (s *MemoryStore) ListKnowledgePoints(_ context.Context, f KnowledgePointFilter) ([]KnowledgePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grade := f.GradeLevel.Canonical()
	var out []KnowledgePoint
	for _, kp := range s.knowledgePoints {
		if f.SubjectID != 0 && kp.SubjectID != f.SubjectID {
			continue
		}
		if grade != "" && kp.GradeLevel != grade {
			continue
		}
		out = append(out, kp)
	}
	SortByGradeAndName(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) KnowledgePointsByName(_ context.Context, names []string, limit int) ([]KnowledgePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []KnowledgePoint
	for _, kp := range s.knowledgePoints {
		if slices.Contains(names, kp.Name) {
			out = append(out, kp)
		}
	}
	slices.SortStableFunc(out, func(a, b KnowledgePoint) int { return compareInt64(a.ID, b.ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) EnsureExamPoint(_ context.Context, ep ExamPoint) (ExamPoint, bool, error) {
	ep.Name = strings.TrimSpace(ep.Name)
	if ep.Name == "" {
		return ExamPoint{}, false, fmt.Errorf("exam point name is required")
	}
	ep.GradeLevel = ep.GradeLevel.Canonical()
	ep.DifficultyWeight = clampWeight(ep.DifficultyWeight)

	s.mu.Lock()
	defer s.mu.Unlock()

	var parent *KnowledgePoint
	for i := range s.knowledgePoints {
		if s.knowledgePoints[i].ID == ep.KnowledgePointID {
			parent = &s.knowledgePoints[i]
			break
		}
	}
	if parent == nil {
		return ExamPoint{}, false, fmt.Errorf("knowledge point %d: %w", ep.KnowledgePointID, ErrNotFound)
	}
	ep.SubjectID = parent.SubjectID

	for _, existing := range s.examPoints {
		if existing.Name == ep.Name && existing.KnowledgePointID == ep.KnowledgePointID && existing.GradeLevel == ep.GradeLevel {
			return existing, false, nil
		}
	}
	ep.ID = s.id()
	ep.CreatedAt = time.Now()
	s.examPoints = append(s.examPoints, ep)
	return ep, true, nil
}

func (s *MemoryStore) ListExamPoints(_ context.Context, knowledgePointID int64) ([]ExamPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ExamPoint
	for _, ep := range s.examPoints {
		if ep.KnowledgePointID == knowledgePointID {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (s *MemoryStore) hasSubject(id int64) bool {
	for _, subj := range s.subjects {
		if subj.ID == id {
			return true
		}
	}
	return false
}

// SortByGradeAndName orders knowledge points by grade ordinal, then name, then id.
func SortByGradeAndName(kps []KnowledgePoint) {
	slices.SortStableFunc(kps, func(a, b KnowledgePoint) int {
		if c := a.GradeLevel.rank() - b.GradeLevel.rank(); c != 0 {
			return c
		}
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return compareInt64(a.ID, b.ID)
	})
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

package practice

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// ScoreUpdateFunc computes the next per-knowledge-point aggregate. exists is
// false on the first answer for the pair.
type ScoreUpdateFunc func(current KnowledgePointScore, exists bool) KnowledgePointScore

// Store persists students, exercises, sessions and attempts.
type Store interface {
	CreateStudent(ctx context.Context, s Student) (Student, error)
	GetStudent(ctx context.Context, id int64) (Student, error)
	StudentExists(ctx context.Context, id int64) (bool, error)

	CreateExercise(ctx context.Context, e Exercise) (Exercise, error)
	GetExercise(ctx context.Context, id int64) (Exercise, error)
	// ListExercises returns matches ordered by id.
	ListExercises(ctx context.Context, f ExerciseFilter) ([]Exercise, error)
	// RecordExerciseResult bumps the exercise's attempt counters.
	RecordExerciseResult(ctx context.Context, exerciseID int64, correct bool) error

	CreateSession(ctx context.Context, studentID int64) (Session, error)
	GetSession(ctx context.Context, id int64) (Session, error)
	// ListStudentSessions returns a student's sessions, newest first. A
	// non-positive limit returns all of them.
	ListStudentSessions(ctx context.Context, studentID int64, limit int) ([]Session, error)
	// UpdateSessionScore stores a running score without touching status or totals.
	UpdateSessionScore(ctx context.Context, id int64, score float64) error

	// AddAttempt appends an attempt, numbering it after the session's last question.
	AddAttempt(ctx context.Context, a Attempt) (Attempt, error)
	GetAttempt(ctx context.Context, id int64) (Attempt, error)
	// GradeAttempt moves a pending attempt to its graded state. It fails with
	// ErrAttemptAlreadyGraded when the attempt is no longer pending.
	GradeAttempt(ctx context.Context, a Attempt) (Attempt, error)
	// ListAttempts returns a session's attempts by question number.
	ListAttempts(ctx context.Context, sessionID int64) ([]Attempt, error)
	// ListStudentAttempts returns every attempt of a student, oldest first.
	ListStudentAttempts(ctx context.Context, studentID int64) ([]Attempt, error)

	// UpsertSessionScore applies fn atomically to the (session, kp) aggregate.
	UpsertSessionScore(ctx context.Context, sessionID, knowledgePointID int64, fn ScoreUpdateFunc) (KnowledgePointScore, error)
	// ListSessionScores returns a session's aggregates ordered by knowledge point id.
	ListSessionScores(ctx context.Context, sessionID int64) ([]KnowledgePointScore, error)
	// ReplaceSessionScores deletes every aggregate of the session, stores the
	// given ones and saves the session, all in one step.
	ReplaceSessionScores(ctx context.Context, s Session, scores []KnowledgePointScore) error
}

type scoreKey struct {
	session, knowledgePoint int64
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu        sync.Mutex
	nextID    int64
	students  map[int64]Student
	exercises map[int64]Exercise
	sessions  map[int64]Session
	attempts  []Attempt
	scores    map[scoreKey]KnowledgePointScore
}

// NewMemoryStore creates an empty in-memory practice store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		students:  make(map[int64]Student),
		exercises: make(map[int64]Exercise),
		sessions:  make(map[int64]Session),
		scores:    make(map[scoreKey]KnowledgePointScore),
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) CreateStudent(_ context.Context, st Student) (Student, error) {
	if strings.TrimSpace(st.Nickname) == "" {
		return Student{}, fmt.Errorf("student nickname is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st.ID = s.id()
	st.GradeLevel = st.GradeLevel.Canonical()
	st.CreatedAt = time.Now()
	s.students[st.ID] = st
	return st, nil
}

func (s *MemoryStore) GetStudent(_ context.Context, id int64) (Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[id]
	if !ok {
		return Student{}, fmt.Errorf("student %d: %w", id, ErrStudentNotFound)
	}
	return st, nil
}

func (s *MemoryStore) StudentExists(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.students[id]
	return ok, nil
}

func (s *MemoryStore) CreateExercise(_ context.Context, e Exercise) (Exercise, error) {
	if strings.TrimSpace(e.QuestionText) == "" {
		return Exercise{}, fmt.Errorf("exercise question text is required")
	}
	if e.Difficulty == "" {
		e.Difficulty = DifficultyMedium
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.id()
	e.GradeLevel = e.GradeLevel.Canonical()
	e.KnowledgePointIDs = slices.Clone(e.KnowledgePointIDs)
	e.CreatedAt = time.Now()
	s.exercises[e.ID] = e
	return e, nil
}

func (s *MemoryStore) GetExercise(_ context.Context, id int64) (Exercise, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exercises[id]
	if !ok {
		return Exercise{}, fmt.Errorf("exercise %d: %w", id, ErrExerciseNotFound)
	}
	e.KnowledgePointIDs = slices.Clone(e.KnowledgePointIDs)
	return e, nil
}

func (s *MemoryStore) ListExercises(_ context.Context, f ExerciseFilter) ([]Exercise, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Exercise
	for _, e := range s.exercises {
		if f.SubjectID != 0 && e.SubjectID != f.SubjectID {
			continue
		}
		if f.Difficulty != "" && e.Difficulty != f.Difficulty {
			continue
		}
		if len(f.KnowledgePointIDs) > 0 && !slices.ContainsFunc(e.KnowledgePointIDs, func(id int64) bool {
			return slices.Contains(f.KnowledgePointIDs, id)
		}) {
			continue
		}
		e.KnowledgePointIDs = slices.Clone(e.KnowledgePointIDs)
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Exercise) int { return compareID(a.ID, b.ID) })
	return out, nil
}

func (s *MemoryStore) RecordExerciseResult(_ context.Context, exerciseID int64, correct bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exercises[exerciseID]
	if !ok {
		return fmt.Errorf("exercise %d: %w", exerciseID, ErrExerciseNotFound)
	}
	e.TotalAttempts++
	if correct {
		e.CorrectAttempts++
	}
	s.exercises[exerciseID] = e
	return nil
}

func (s *MemoryStore) CreateSession(_ context.Context, studentID int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.students[studentID]; !ok {
		return Session{}, fmt.Errorf("student %d: %w", studentID, ErrStudentNotFound)
	}
	sess := Session{ID: s.id(), StudentID: studentID, Status: SessionActive, StartTime: time.Now()}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *MemoryStore) GetSession(_ context.Context, id int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
	}
	return sess, nil
}

func (s *MemoryStore) ListStudentSessions(_ context.Context, studentID int64, limit int) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Session
	for _, sess := range s.sessions {
		if sess.StudentID == studentID {
			out = append(out, sess)
		}
	}
	slices.SortFunc(out, func(a, b Session) int { return cmp.Compare(b.ID, a.ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateSessionScore(_ context.Context, id int64, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
	}
	sess.Score = score
	s.sessions[id] = sess
	return nil
}

func (s *MemoryStore) AddAttempt(_ context.Context, a Attempt) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[a.SessionID]; !ok {
		return Attempt{}, fmt.Errorf("session %d: %w", a.SessionID, ErrSessionNotFound)
	}
	if _, ok := s.exercises[a.ExerciseID]; !ok {
		return Attempt{}, fmt.Errorf("exercise %d: %w", a.ExerciseID, ErrExerciseNotFound)
	}

	last := 0
	for _, existing := range s.attempts {
		if existing.SessionID == a.SessionID && existing.QuestionNumber > last {
			last = existing.QuestionNumber
		}
	}
	a.ID = s.id()
	a.QuestionNumber = last + 1
	if a.Status == "" {
		a.Status = AttemptPending
	}
	a.CreatedAt = time.Now()
	s.attempts = append(s.attempts, a)
	return a, nil
}

func (s *MemoryStore) GetAttempt(_ context.Context, id int64) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.ID == id {
			return a, nil
		}
	}
	return Attempt{}, fmt.Errorf("attempt %d: %w", id, ErrAttemptNotFound)
}

func (s *MemoryStore) GradeAttempt(_ context.Context, a Attempt) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.attempts {
		if existing.ID != a.ID {
			continue
		}
		if existing.Status != AttemptPending {
			return Attempt{}, fmt.Errorf("attempt %d: %w", a.ID, ErrAttemptAlreadyGraded)
		}
		existing.Status = a.Status
		existing.PointsEarned = a.PointsEarned
		existing.Analysis = a.Analysis
		s.attempts[i] = existing
		return existing, nil
	}
	return Attempt{}, fmt.Errorf("attempt %d: %w", a.ID, ErrAttemptNotFound)
}

func (s *MemoryStore) ListAttempts(_ context.Context, sessionID int64) ([]Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Attempt
	for _, a := range s.attempts {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	slices.SortStableFunc(out, func(a, b Attempt) int { return a.QuestionNumber - b.QuestionNumber })
	return out, nil
}

func (s *MemoryStore) ListStudentAttempts(_ context.Context, studentID int64) ([]Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Attempt
	for _, a := range s.attempts {
		if s.sessions[a.SessionID].StudentID == studentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertSessionScore(_ context.Context, sessionID, knowledgePointID int64, fn ScoreUpdateFunc) (KnowledgePointScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return KnowledgePointScore{}, fmt.Errorf("session %d: %w", sessionID, ErrSessionNotFound)
	}

	key := scoreKey{sessionID, knowledgePointID}
	current, exists := s.scores[key]
	next := fn(current, exists)
	next.SessionID = sessionID
	next.KnowledgePointID = knowledgePointID
	s.scores[key] = next
	return next, nil
}

func (s *MemoryStore) ListSessionScores(_ context.Context, sessionID int64) ([]KnowledgePointScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionScores(sessionID), nil
}

func (s *MemoryStore) sessionScores(sessionID int64) []KnowledgePointScore {
	var out []KnowledgePointScore
	for key, sc := range s.scores {
		if key.session == sessionID {
			out = append(out, sc)
		}
	}
	slices.SortFunc(out, func(a, b KnowledgePointScore) int { return compareID(a.KnowledgePointID, b.KnowledgePointID) })
	return out
}

func (s *MemoryStore) ReplaceSessionScores(_ context.Context, sess Session, scores []KnowledgePointScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return fmt.Errorf("session %d: %w", sess.ID, ErrSessionNotFound)
	}

	for key := range s.scores {
		if key.session == sess.ID {
			delete(s.scores, key)
		}
	}
	for _, sc := range scores {
		sc.SessionID = sess.ID
		s.scores[scoreKey{sess.ID, sc.KnowledgePointID}] = sc
	}
	s.sessions[sess.ID] = sess
	return nil
}

func compareID(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

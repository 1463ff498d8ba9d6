package practice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

const defaultWeight = 1.0

// ScorerConfig holds dependencies for the session scorer.
type ScorerConfig struct {
	Store Store
	// Weights overrides the weight of specific knowledge points (default 1.0).
	Weights map[int64]float64
	Now     func() time.Time
}

// Scorer runs practice sessions and aggregates their scores per knowledge point.
type Scorer struct {
	store   Store
	weights map[int64]float64
	now     func() time.Time
}

// NewScorer creates a session scorer.
func NewScorer(cfg ScorerConfig) *Scorer {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scorer{store: store, weights: cfg.Weights, now: now}
}

// Store returns the underlying practice store.
func (s *Scorer) Store() Store {
	return s.store
}

func (s *Scorer) weight(knowledgePointID int64) float64 {
	if w, ok := s.weights[knowledgePointID]; ok && w > 0 {
		return w
	}
	return defaultWeight
}

// StartSession opens an active session for the student.
func (s *Scorer) StartSession(ctx context.Context, studentID int64) (Session, error) {
	sess, err := s.store.CreateSession(ctx, studentID)
	if err != nil {
		return Session{}, fmt.Errorf("start session: %w", err)
	}
	slog.Info("practice session started", "session_id", sess.ID, "student_id", studentID)
	return sess, nil
}

// StudentSessions lists a student's sessions, newest first.
func (s *Scorer) StudentSessions(ctx context.Context, studentID int64, limit int) ([]Session, error) {
	ok, err := s.store.StudentExists(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("student %d: %w", studentID, ErrStudentNotFound)
	}
	return s.store.ListStudentSessions(ctx, studentID, limit)
}

// activeSession loads a session that still accepts answers.
func (s *Scorer) activeSession(ctx context.Context, sessionID int64) (Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.Status == SessionCompleted {
		return Session{}, fmt.Errorf("session %d: %w", sessionID, ErrSessionCompleted)
	}
	return sess, nil
}

// SubmitAttempt logs a pending answer to the next question of an active session.
func (s *Scorer) SubmitAttempt(ctx context.Context, sessionID, exerciseID int64, answerText string, responseTimeMs int) (Attempt, error) {
	if _, err := s.activeSession(ctx, sessionID); err != nil {
		return Attempt{}, err
	}

	a, err := s.store.AddAttempt(ctx, Attempt{
		SessionID:      sessionID,
		ExerciseID:     exerciseID,
		Status:         AttemptPending,
		AnswerText:     answerText,
		ResponseTimeMs: responseTimeMs,
	})
	if err != nil {
		return Attempt{}, fmt.Errorf("submit attempt: %w", err)
	}
	return a, nil
}

// CompleteAttempt applies a grading outcome to a pending attempt: its status,
// the points earned and the analysis. It also bumps the exercise's counters.
// Attempts of a completed session are left as they are.
func (s *Scorer) CompleteAttempt(ctx context.Context, attemptID int64, correct bool, analysis json.RawMessage) (Attempt, Exercise, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, Exercise{}, err
	}
	if _, err := s.activeSession(ctx, a.SessionID); err != nil {
		return Attempt{}, Exercise{}, err
	}
	ex, err := s.store.GetExercise(ctx, a.ExerciseID)
	if err != nil {
		return Attempt{}, Exercise{}, err
	}

	a.Status = AttemptWrong
	if correct {
		a.Status = AttemptCorrect
	}
	a.PointsEarned = Points(ex.Difficulty, correct)
	a.Analysis = analysis

	graded, err := s.store.GradeAttempt(ctx, a)
	if err != nil {
		return Attempt{}, Exercise{}, err
	}
	if err := s.store.RecordExerciseResult(ctx, ex.ID, correct); err != nil {
		return Attempt{}, Exercise{}, err
	}
	ex.TotalAttempts++
	if correct {
		ex.CorrectAttempts++
	}
	return graded, ex, nil
}

// FailAttempt closes a pending attempt that could not be graded. It counts
// as wrong with no points; the exercise counters are left untouched.
func (s *Scorer) FailAttempt(ctx context.Context, attemptID int64, analysis json.RawMessage) (Attempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if _, err := s.activeSession(ctx, a.SessionID); err != nil {
		return Attempt{}, err
	}
	a.Status = AttemptWrong
	a.PointsEarned = 0
	a.Analysis = analysis
	return s.store.GradeAttempt(ctx, a)
}

// RecordSessionAnswer folds one answer into the running per-knowledge-point
// aggregates of the session and refreshes the session's running score.
// A completed session is rejected with ErrSessionCompleted.
func (s *Scorer) RecordSessionAnswer(ctx context.Context, sessionID int64, ex Exercise, correct bool, earned float64) ([]KnowledgePointScore, error) {
	if _, err := s.activeSession(ctx, sessionID); err != nil {
		return nil, err
	}
	out := make([]KnowledgePointScore, 0, len(ex.KnowledgePointIDs))
	for _, kpID := range ex.KnowledgePointIDs {
		w := s.weight(kpID)
		sc, err := s.store.UpsertSessionScore(ctx, sessionID, kpID, func(cur KnowledgePointScore, exists bool) KnowledgePointScore {
			if !exists {
				cur = KnowledgePointScore{Weight: w}
			}
			cur.TotalQuestions++
			if correct {
				cur.CorrectAnswers++
			}
			cur.Score += earned
			return cur
		})
		if err != nil {
			return nil, fmt.Errorf("record session answer: %w", err)
		}
		out = append(out, sc)
	}

	scores, err := s.store.ListSessionScores(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session scores: %w", err)
	}
	// Session totals are only stored at finalize, so count graded answers here.
	attempts, err := s.store.ListAttempts(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	var total, right int
	for _, a := range attempts {
		if a.Status.Graded() {
			total++
			if a.Status == AttemptCorrect {
				right++
			}
		}
	}
	if err := s.store.UpdateSessionScore(ctx, sessionID, SessionScore(scores, right, total)); err != nil {
		return nil, err
	}
	return out, nil
}

// SessionScore is the weighted mean of the knowledge-point scores. Without
// any weight it falls back to the percentage of correct answers, and to 0
// for an empty session.
func SessionScore(scores []KnowledgePointScore, correct, total int) float64 {
	var sum, weights float64
	for _, sc := range scores {
		sum += sc.Score * sc.Weight
		weights += sc.Weight
	}
	switch {
	case weights > 0:
		return sum / weights
	case total > 0:
		return float64(correct) / float64(total) * 100
	}
	return 0
}

// FinalizeSession recomputes the session from its attempt log: totals, the
// per-knowledge-point breakdown (replacing any previous aggregates) and the
// overall score. The session is marked completed. Running it again yields
// the same result.
func (s *Scorer) FinalizeSession(ctx context.Context, sessionID int64) (Result, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	attempts, err := s.store.ListAttempts(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("list attempts: %w", err)
	}

	exercises := make(map[int64]Exercise)
	byKP := make(map[int64]*KnowledgePointScore)
	var order []int64

	sess.TotalQuestions, sess.CorrectAnswers = 0, 0
	for _, a := range attempts {
		if !a.Status.Graded() {
			continue
		}
		correct := a.Status == AttemptCorrect
		sess.TotalQuestions++
		if correct {
			sess.CorrectAnswers++
		}

		ex, ok := exercises[a.ExerciseID]
		if !ok {
			ex, err = s.store.GetExercise(ctx, a.ExerciseID)
			if err != nil {
				return Result{}, err
			}
			exercises[a.ExerciseID] = ex
		}
		for _, kpID := range ex.KnowledgePointIDs {
			sc, ok := byKP[kpID]
			if !ok {
				sc = &KnowledgePointScore{SessionID: sessionID, KnowledgePointID: kpID, Weight: s.weight(kpID)}
				byKP[kpID] = sc
				order = append(order, kpID)
			}
			sc.TotalQuestions++
			if correct {
				sc.CorrectAnswers++
			}
			sc.Score += a.PointsEarned
		}
	}

	slices.Sort(order)
	breakdown := make([]KnowledgePointScore, 0, len(order))
	for _, id := range order {
		breakdown = append(breakdown, *byKP[id])
	}

	sess.Score = SessionScore(breakdown, sess.CorrectAnswers, sess.TotalQuestions)
	sess.Status = SessionCompleted
	if sess.EndTime == nil {
		end := s.now()
		sess.EndTime = &end
	}

	if err := s.store.ReplaceSessionScores(ctx, sess, breakdown); err != nil {
		return Result{}, fmt.Errorf("finalize session: %w", err)
	}

	slog.Info("practice session finalized",
		"session_id", sess.ID,
		"total_questions", sess.TotalQuestions,
		"correct_answers", sess.CorrectAnswers,
		"score", sess.Score,
	)
	return Result{Session: sess, Breakdown: breakdown}, nil
}

// SessionReport gathers a session with its attempts and current aggregates.
type SessionReport struct {
	Session   Session               `json:"session"`
	Attempts  []Attempt             `json:"attempts"`
	Breakdown []KnowledgePointScore `json:"breakdown"`
}

// Report loads everything known about a session.
func (s *Scorer) Report(ctx context.Context, sessionID int64) (SessionReport, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return SessionReport{}, err
	}
	attempts, err := s.store.ListAttempts(ctx, sessionID)
	if err != nil {
		return SessionReport{}, fmt.Errorf("list attempts: %w", err)
	}
	scores, err := s.store.ListSessionScores(ctx, sessionID)
	if err != nil {
		return SessionReport{}, fmt.Errorf("list session scores: %w", err)
	}
	return SessionReport{Session: sess, Attempts: attempts, Breakdown: scores}, nil
}

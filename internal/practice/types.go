// Package practice holds students, exercises, practice sessions and their
// per-question attempt log, and scores sessions per knowledge point.
package practice

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/p-n-ai/pai-homework/internal/taxonomy"
)

var (
	ErrStudentNotFound      = errors.New("student not found")
	ErrExerciseNotFound     = errors.New("exercise not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrSessionCompleted     = errors.New("session already completed")
	ErrAttemptAlreadyGraded = errors.New("attempt already graded")
)

// Difficulty is an exercise's difficulty tier.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

var difficultyPoints = []struct {
	Difficulty Difficulty
	Points     float64
}{
	{DifficultyEasy, 10},
	{DifficultyMedium, 20},
	{DifficultyHard, 30},
}

const defaultPoints = 20

// Valid reports whether d is one of the known tiers.
func (d Difficulty) Valid() bool {
	for _, dp := range difficultyPoints {
		if dp.Difficulty == d {
			return true
		}
	}
	return false
}

// Points is the score awarded for answering an exercise of difficulty d.
// Unknown tiers are worth as much as medium; wrong answers earn nothing.
func Points(d Difficulty, correct bool) float64 {
	if !correct {
		return 0
	}
	for _, dp := range difficultyPoints {
		if dp.Difficulty == d {
			return dp.Points
		}
	}
	return defaultPoints
}

// Student is a learner.
type Student struct {
	ID         int64               `json:"id"`
	Nickname   string              `json:"nickname"`
	GradeLevel taxonomy.GradeLevel `json:"grade_level,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// Exercise is a question with its reference answer.
type Exercise struct {
	ID                int64               `json:"id"`
	Title             string              `json:"title,omitempty"`
	SubjectID         int64               `json:"subject_id"`
	GradeLevel        taxonomy.GradeLevel `json:"grade_level,omitempty"`
	Difficulty        Difficulty          `json:"difficulty"`
	QuestionText      string              `json:"question_text"`
	AnswerText        string              `json:"answer_text,omitempty"`
	AnswerSteps       string              `json:"answer_steps,omitempty"`
	KnowledgePointIDs []int64             `json:"knowledge_point_ids"`
	TotalAttempts     int                 `json:"total_attempts"`
	CorrectAttempts   int                 `json:"correct_attempts"`
	CreatedAt         time.Time           `json:"created_at"`
}

// Accuracy returns the exercise's correct ratio across all students.
func (e Exercise) Accuracy() float64 {
	if e.TotalAttempts == 0 {
		return 0
	}
	return float64(e.CorrectAttempts) / float64(e.TotalAttempts)
}

// ExerciseFilter narrows ListExercises. Zero values mean "any"; an exercise
// matches KnowledgePointIDs when it shares at least one.
type ExerciseFilter struct {
	SubjectID         int64
	Difficulty        Difficulty
	KnowledgePointIDs []int64
}

// SessionStatus is the lifecycle state of a practice session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session is one sitting of practice questions.
type Session struct {
	ID             int64         `json:"id"`
	StudentID      int64         `json:"student_id"`
	Status         SessionStatus `json:"status"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        *time.Time    `json:"end_time,omitempty"`
	TotalQuestions int           `json:"total_questions"`
	CorrectAnswers int           `json:"correct_answers"`
	Score          float64       `json:"score"`
}

// AttemptStatus is the grading state of one answered question.
type AttemptStatus string

const (
	AttemptPending AttemptStatus = "pending"
	AttemptCorrect AttemptStatus = "correct"
	AttemptWrong   AttemptStatus = "wrong"
	AttemptSkipped AttemptStatus = "skipped"
)

// Graded reports whether the attempt counts toward session totals.
func (s AttemptStatus) Graded() bool {
	return s == AttemptCorrect || s == AttemptWrong || s == AttemptSkipped
}

// Attempt is one entry of a session's per-question log.
type Attempt struct {
	ID             int64           `json:"id"`
	SessionID      int64           `json:"session_id"`
	ExerciseID     int64           `json:"exercise_id"`
	QuestionNumber int             `json:"question_number"`
	Status         AttemptStatus   `json:"status"`
	AnswerText     string          `json:"answer_text,omitempty"`
	PointsEarned   float64         `json:"points_earned"`
	ResponseTimeMs int             `json:"response_time_ms"`
	Analysis       json.RawMessage `json:"analysis,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// KnowledgePointScore aggregates one knowledge point within one session.
// Score is the raw sum of points earned, not an average.
type KnowledgePointScore struct {
	SessionID        int64   `json:"session_id"`
	KnowledgePointID int64   `json:"knowledge_point_id"`
	TotalQuestions   int     `json:"total_questions"`
	CorrectAnswers   int     `json:"correct_answers"`
	Score            float64 `json:"score"`
	Weight           float64 `json:"weight"`
}

// Result is the outcome of finalizing a session.
type Result struct {
	Session   Session               `json:"session"`
	Breakdown []KnowledgePointScore `json:"breakdown"`
}

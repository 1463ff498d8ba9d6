// Package taxonomy holds the three-level curriculum taxonomy: subjects,
// knowledge points and exam points.
package taxonomy

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a subject, knowledge point or exam point does not exist.
var ErrNotFound = errors.New("not found")

// Subject is the root of the taxonomy (e.g. 数学).
type Subject struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// KnowledgePoint is a second-level concept scoped to a subject and grade.
type KnowledgePoint struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	SubjectID   int64      `json:"subject_id"`
	GradeLevel  GradeLevel `json:"grade_level"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ExamPoint refines a knowledge point. DifficultyWeight ranges from 1.0 to 3.0.
type ExamPoint struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	KnowledgePointID int64      `json:"knowledge_point_id"`
	SubjectID        int64      `json:"subject_id"`
	GradeLevel       GradeLevel `json:"grade_level"`
	Description      string     `json:"description,omitempty"`
	DifficultyWeight float64    `json:"difficulty_weight"`
	CreatedAt        time.Time  `json:"created_at"`
}

const (
	MinDifficultyWeight = 1.0
	MaxDifficultyWeight = 3.0
)

// FullPath renders "subject - knowledge point - exam point".
func FullPath(s Subject, kp KnowledgePoint, ep ExamPoint) string {
	return fmt.Sprintf("%s - %s - %s", s.Name, kp.Name, ep.Name)
}

// KnowledgePointFilter narrows ListKnowledgePoints. Zero values mean "any".
type KnowledgePointFilter struct {
	SubjectID  int64
	GradeLevel GradeLevel
	Limit      int
}

func clampWeight(w float64) float64 {
	switch {
	case w == 0:
		return MinDifficultyWeight
	case w < MinDifficultyWeight:
		return MinDifficultyWeight
	case w > MaxDifficultyWeight:
		return MaxDifficultyWeight
	}
	return w
}

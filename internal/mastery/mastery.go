// Package mastery tracks a smoothed estimate of each student's command of each
// knowledge point across all of their attempts.
package mastery

import (
	"errors"
	"math"
	"time"
)

const (
	// Alpha is the weight of the latest accuracy ratio in each update.
	Alpha = 0.3

	// WeakThreshold is the mastery level below which a knowledge point counts as weak.
	WeakThreshold = 70.0
)

var (
	ErrUnknownStudent        = errors.New("unknown student")
	ErrUnknownKnowledgePoint = errors.New("unknown knowledge point")
)

// Record is a student's mastery of one knowledge point.
type Record struct {
	StudentID        int64     `json:"student_id"`
	KnowledgePointID int64     `json:"knowledge_point_id"`
	MasteryLevel     float64   `json:"mastery_level"`
	TotalAttempts    int       `json:"total_attempts"`
	CorrectAttempts  int       `json:"correct_attempts"`
	LastPracticed    time.Time `json:"last_practiced"`
}

// Accuracy returns correct/total, or 0 before any attempt.
func (r Record) Accuracy() float64 {
	if r.TotalAttempts == 0 {
		return 0
	}
	return float64(r.CorrectAttempts) / float64(r.TotalAttempts)
}

// Apply folds one attempt into r. When exists is false r is ignored and a new
// record is seeded at 100 or 0.
func Apply(r Record, exists, correct bool, now time.Time) Record {
	if !exists {
		r.TotalAttempts = 1
		r.CorrectAttempts = 0
		r.MasteryLevel = 0
		if correct {
			r.CorrectAttempts = 1
			r.MasteryLevel = 100
		}
		r.LastPracticed = now
		return r
	}

	r.TotalAttempts++
	if correct {
		r.CorrectAttempts++
	}
	level := r.MasteryLevel*(1-Alpha) + r.Accuracy()*100*Alpha
	r.MasteryLevel = math.Max(0, math.Min(100, level))
	r.LastPracticed = now
	return r
}

// Package report renders practice sessions as xlsx workbooks.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-homework/internal/practice"
	"github.com/p-n-ai/pai-homework/internal/taxonomy"
)

// Sheet names, in workbook order.
const (
	SheetSummary         = "Summary"
	SheetKnowledgePoints = "Knowledge Points"
	SheetAttempts        = "Attempts"
)

const timeLayout = "2006-01-02 15:04:05"

// KnowledgePoints resolves knowledge point names.
type KnowledgePoints interface {
	GetKnowledgePoint(ctx context.Context, id int64) (taxonomy.KnowledgePoint, error)
}

// Exercises resolves the exercises referenced by attempts.
type Exercises interface {
	GetExercise(ctx context.Context, id int64) (practice.Exercise, error)
}

// Builder writes session workbooks.
type Builder struct {
	knowledgePoints KnowledgePoints
	exercises       Exercises
}

// NewBuilder creates a report builder. Either lookup may be nil, in which
// case the affected columns fall back to ids.
func NewBuilder(kps KnowledgePoints, exercises Exercises) *Builder {
	return &Builder{knowledgePoints: kps, exercises: exercises}
}

// Write renders the session report as an xlsx workbook to w.
func (b *Builder) Write(ctx context.Context, w io.Writer, rep practice.SessionReport) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("close workbook failed", "error", err)
		}
	}()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetKnowledgePoints, SheetAttempts} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	if err := b.writeSummary(f, header, rep.Session); err != nil {
		return err
	}
	if err := b.writeKnowledgePoints(ctx, f, header, rep.Breakdown); err != nil {
		return err
	}
	if err := b.writeAttempts(ctx, f, header, rep.Attempts); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	slog.Debug("session report written",
		"session_id", rep.Session.ID,
		"attempts", len(rep.Attempts),
		"knowledge_points", len(rep.Breakdown),
	)
	return nil
}

func (b *Builder) writeSummary(f *excelize.File, header int, s practice.Session) error {
	end := ""
	if s.EndTime != nil {
		end = s.EndTime.Format(timeLayout)
	}
	accuracy := 0.0
	if s.TotalQuestions > 0 {
		accuracy = round2(float64(s.CorrectAnswers) / float64(s.TotalQuestions) * 100)
	}

	rows := [][]any{
		{"Field", "Value"},
		{"Session", s.ID},
		{"Student", s.StudentID},
		{"Status", string(s.Status)},
		{"Start", s.StartTime.Format(timeLayout)},
		{"End", end},
		{"Total questions", s.TotalQuestions},
		{"Correct answers", s.CorrectAnswers},
		{"Accuracy (%)", accuracy},
		{"Score", round2(s.Score)},
	}
	return writeTable(f, SheetSummary, header, rows, []float64{20, 24})
}

func (b *Builder) writeKnowledgePoints(ctx context.Context, f *excelize.File, header int, scores []practice.KnowledgePointScore) error {
	rows := [][]any{{"Knowledge point ID", "Name", "Questions", "Correct", "Score", "Weight"}}
	for _, sc := range scores {
		name, err := b.knowledgePointName(ctx, sc.KnowledgePointID)
		if err != nil {
			return err
		}
		rows = append(rows, []any{sc.KnowledgePointID, name, sc.TotalQuestions, sc.CorrectAnswers, round2(sc.Score), sc.Weight})
	}
	return writeTable(f, SheetKnowledgePoints, header, rows, []float64{18, 32, 12, 12, 12, 10})
}

func (b *Builder) writeAttempts(ctx context.Context, f *excelize.File, header int, attempts []practice.Attempt) error {
	rows := [][]any{{"#", "Exercise ID", "Question", "Difficulty", "Answer", "Status", "Points", "Response (ms)", "Feedback", "Submitted"}}
	exercises := make(map[int64]practice.Exercise)
	for _, a := range attempts {
		ex, ok := exercises[a.ExerciseID]
		if !ok && b.exercises != nil {
			var err error
			ex, err = b.exercises.GetExercise(ctx, a.ExerciseID)
			if err != nil && !errors.Is(err, practice.ErrExerciseNotFound) {
				return fmt.Errorf("load exercise %d: %w", a.ExerciseID, err)
			}
			exercises[a.ExerciseID] = ex
		}
		rows = append(rows, []any{
			a.QuestionNumber,
			a.ExerciseID,
			ex.QuestionText,
			string(ex.Difficulty),
			a.AnswerText,
			string(a.Status),
			round2(a.PointsEarned),
			a.ResponseTimeMs,
			feedback(a.Analysis),
			formatTime(a.CreatedAt),
		})
	}
	return writeTable(f, SheetAttempts, header, rows, []float64{6, 12, 40, 10, 24, 10, 8, 14, 40, 20})
}

func (b *Builder) knowledgePointName(ctx context.Context, id int64) (string, error) {
	if b.knowledgePoints == nil {
		return "#" + strconv.FormatInt(id, 10), nil
	}
	kp, err := b.knowledgePoints.GetKnowledgePoint(ctx, id)
	if errors.Is(err, taxonomy.ErrNotFound) {
		return "#" + strconv.FormatInt(id, 10), nil
	}
	if err != nil {
		return "", fmt.Errorf("load knowledge point %d: %w", id, err)
	}
	return kp.Name, nil
}

func writeTable(f *excelize.File, sheet string, header int, rows [][]any, widths []float64) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}

	last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, header); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, col, col, w); err != nil {
			return fmt.Errorf("set %s column width: %w", sheet, err)
		}
	}
	return nil
}

// feedback pulls the reviewer's comment out of a stored analysis.
func feedback(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var a struct {
		Feedback      *string `json:"feedback"`
		ErrorAnalysis *string `json:"error_analysis"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return ""
	}
	switch {
	case a.Feedback != nil && *a.Feedback != "":
		return *a.Feedback
	case a.ErrorAnalysis != nil:
		return *a.ErrorAnalysis
	}
	return ""
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

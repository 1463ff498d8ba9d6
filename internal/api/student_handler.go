package api

import (
	"net/http"
	"strings"

	"github.com/p-n-ai/pai-homework/internal/mastery"
	"github.com/p-n-ai/pai-homework/internal/practice"
	"github.com/p-n-ai/pai-homework/internal/recommend"
	"github.com/p-n-ai/pai-homework/internal/taxonomy"
)

type CreateStudentRequest struct {
	Nickname   string              `json:"nickname"`
	GradeLevel taxonomy.GradeLevel `json:"grade_level,omitempty"`
}

type RecordAttemptRequest struct {
	StudentID        int64 `json:"student_id"`
	KnowledgePointID int64 `json:"knowledge_point_id"`
	IsCorrect        *bool `json:"is_correct"`
}

type RecordAttemptResponse struct {
	MasteryLevel    float64 `json:"mastery_level"`
	TotalAttempts   int     `json:"total_attempts"`
	CorrectAttempts int     `json:"correct_attempts"`
}

// POST /v1/students
func (h *Handler) createStudent(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Nickname) == "" {
		respondError(w, http.StatusBadRequest, "nickname is required")
		return
	}

	st, err := h.scorer.Store().CreateStudent(r.Context(), practice.Student{
		Nickname:   strings.TrimSpace(req.Nickname),
		GradeLevel: req.GradeLevel.Canonical(),
	})
	if err != nil {
		h.handleError(w, err, "create student")
		return
	}
	respondJSON(w, http.StatusCreated, st)
}

// POST /v1/mastery/attempts
func (h *Handler) recordAttempt(w http.ResponseWriter, r *http.Request) {
	var req RecordAttemptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StudentID <= 0 || req.KnowledgePointID <= 0 || req.IsCorrect == nil {
		respondError(w, http.StatusBadRequest, "student_id, knowledge_point_id and is_correct are required")
		return
	}

	rec, err := h.mastery.RecordAttempt(r.Context(), req.StudentID, req.KnowledgePointID, *req.IsCorrect)
	if err != nil {
		h.handleError(w, err, "record attempt")
		return
	}
	respondJSON(w, http.StatusOK, RecordAttemptResponse{
		MasteryLevel:    rec.MasteryLevel,
		TotalAttempts:   rec.TotalAttempts,
		CorrectAttempts: rec.CorrectAttempts,
	})
}

// GET /v1/students/{id}/mastery?subject_id=1&weak=true
func (h *Handler) studentMastery(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	f := mastery.Filter{SubjectID: int64(queryInt(r, "subject_id", 0))}
	if r.URL.Query().Get("weak") == "true" {
		f.MaxLevel = mastery.WeakThreshold
	}
	entries, err := h.mastery.ForStudent(r.Context(), id, f)
	if err != nil {
		h.handleError(w, err, "student mastery")
		return
	}
	if entries == nil {
		entries = []mastery.Entry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// GET /v1/students/{id}/recommendations?mode=weakness&count=10&subject_id=1&difficulty=hard
func (h *Handler) recommendations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	q := r.URL.Query()

	f := practice.ExerciseFilter{
		SubjectID:  int64(queryInt(r, "subject_id", 0)),
		Difficulty: practice.Difficulty(q.Get("difficulty")),
	}
	if f.Difficulty != "" && !f.Difficulty.Valid() {
		respondError(w, http.StatusBadRequest, "invalid difficulty")
		return
	}

	recs, err := h.recommend.Recommend(r.Context(), id, f, recommend.ParseMode(q.Get("mode")), queryInt(r, "count", 0))
	if err != nil {
		h.handleError(w, err, "recommend")
		return
	}
	if recs == nil {
		recs = []recommend.Recommendation{}
	}
	respondJSON(w, http.StatusOK, recs)
}

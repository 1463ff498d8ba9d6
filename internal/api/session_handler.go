package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/p-n-ai/pai-homework/internal/classifier"
	"github.com/p-n-ai/pai-homework/internal/grading"
	"github.com/p-n-ai/pai-homework/internal/practice"
	"github.com/p-n-ai/pai-homework/internal/realtime"
	"github.com/p-n-ai/pai-homework/internal/taxonomy"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ── Request / Response types ────────────────────────────────────────────────

type CreateExerciseRequest struct {
	Title        string              `json:"title,omitempty"`
	SubjectID    int64               `json:"subject_id"`
	GradeLevel   taxonomy.GradeLevel `json:"grade_level,omitempty"`
	Difficulty   practice.Difficulty `json:"difficulty,omitempty"`
	QuestionText string              `json:"question_text"`
	AnswerText   string              `json:"answer_text,omitempty"`
	AnswerSteps  string              `json:"answer_steps,omitempty"`
	// KnowledgePointIDs are classified from the question text when empty.
	KnowledgePointIDs []int64 `json:"knowledge_point_ids,omitempty"`
}

type StartSessionRequest struct {
	StudentID int64 `json:"student_id"`
}

type SubmitAnswerRequest struct {
	ExerciseID  int64  `json:"exercise_id"`
	AnswerText  string `json:"answer_text,omitempty"`
	AnswerImage []byte `json:"answer_image,omitempty"` // base64 in JSON
	ImageType   string `json:"image_type,omitempty"`
	// ResponseTimeMs is how long the student took to answer.
	ResponseTimeMs int `json:"response_time_ms,omitempty"`
}

type SubmitAnswerResponse struct {
	TaskID    string         `json:"task_id"`
	Status    grading.Status `json:"status"`
	StatusURL string         `json:"status_url"`
}

type FinalizeResponse struct {
	SessionID      int64                          `json:"session_id"`
	Score          float64                        `json:"score"`
	TotalQuestions int                            `json:"total_questions"`
	CorrectAnswers int                            `json:"correct_answers"`
	Breakdown      []practice.KnowledgePointScore `json:"breakdown"`
}

// ── Handlers ────────────────────────────────────────────────────────────────

// POST /v1/exercises
func (h *Handler) createExercise(w http.ResponseWriter, r *http.Request) {
	var req CreateExerciseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.QuestionText) == "" {
		respondError(w, http.StatusBadRequest, "question_text is required")
		return
	}
	if req.Difficulty != "" && !req.Difficulty.Valid() {
		respondError(w, http.StatusBadRequest, "difficulty must be easy, medium or hard")
		return
	}
	ctx := r.Context()
	grade := req.GradeLevel.Canonical()

	if req.SubjectID != 0 {
		if _, err := h.taxonomy.GetSubject(ctx, req.SubjectID); err != nil {
			h.handleError(w, err, "get subject")
			return
		}
	}

	kpIDs := req.KnowledgePointIDs
	if len(kpIDs) == 0 {
		kps, err := h.classifier.BestKnowledgePoints(ctx, classifier.Query{
			Text:       req.QuestionText,
			GradeLevel: grade,
			SubjectID:  req.SubjectID,
		})
		if err != nil {
			h.handleError(w, err, "classify exercise")
			return
		}
		for _, kp := range kps {
			kpIDs = append(kpIDs, kp.ID)
		}
	} else {
		for _, id := range kpIDs {
			if _, err := h.taxonomy.GetKnowledgePoint(ctx, id); err != nil {
				h.handleError(w, err, "get knowledge point")
				return
			}
		}
	}

	ex, err := h.scorer.Store().CreateExercise(ctx, practice.Exercise{
		Title:             req.Title,
		SubjectID:         req.SubjectID,
		GradeLevel:        grade,
		Difficulty:        req.Difficulty,
		QuestionText:      req.QuestionText,
		AnswerText:        req.AnswerText,
		AnswerSteps:       req.AnswerSteps,
		KnowledgePointIDs: kpIDs,
	})
	if err != nil {
		h.handleError(w, err, "create exercise")
		return
	}
	respondJSON(w, http.StatusCreated, ex)
}

// GET /v1/exercises/{id}
func (h *Handler) getExercise(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ex, err := h.scorer.Store().GetExercise(r.Context(), id)
	if err != nil {
		h.handleError(w, err, "get exercise")
		return
	}
	respondJSON(w, http.StatusOK, ex)
}

// POST /v1/sessions
func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StudentID <= 0 {
		respondError(w, http.StatusBadRequest, "student_id is required")
		return
	}
	ctx := r.Context()
	if _, err := h.scorer.Store().GetStudent(ctx, req.StudentID); err != nil {
		h.handleError(w, err, "get student")
		return
	}

	sess, err := h.scorer.StartSession(ctx, req.StudentID)
	if err != nil {
		h.handleError(w, err, "start session")
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

// GET /v1/sessions/{id}
func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rep, err := h.scorer.Report(r.Context(), id)
	if err != nil {
		h.handleError(w, err, "session report")
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

// GET /v1/students/{id}/sessions?status=completed&limit=20
func (h *Handler) studentSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	status := practice.SessionStatus(r.URL.Query().Get("status"))
	if status != "" && status != practice.SessionActive && status != practice.SessionCompleted {
		respondError(w, http.StatusBadRequest, "invalid status")
		return
	}

	limit := queryInt(r, "limit", 0)
	fetch := limit
	if status != "" {
		fetch = 0
	}
	sessions, err := h.scorer.StudentSessions(r.Context(), id, fetch)
	if err != nil {
		h.handleError(w, err, "student sessions")
		return
	}

	out := make([]practice.Session, 0, len(sessions))
	for _, sess := range sessions {
		if status != "" && sess.Status != status {
			continue
		}
		out = append(out, sess)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	respondJSON(w, http.StatusOK, out)
}

// POST /v1/sessions/{id}/answers
//
// Accepts JSON or multipart/form-data with fields exercise_id, answer_text,
// response_time_ms and an optional image file. Grading runs in the
// background; the response carries the task to poll.
func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req SubmitAnswerRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		var err error
		if req, err = parseAnswerForm(w, r); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else if !decodeJSONLimit(w, r, &req, maxUploadBytes) {
		return
	}
	if req.ExerciseID <= 0 {
		respondError(w, http.StatusBadRequest, "exercise_id is required")
		return
	}

	taskID, err := h.queue.Submit(r.Context(), grading.Submission{
		SessionID:      id,
		ExerciseID:     req.ExerciseID,
		AnswerText:     req.AnswerText,
		AnswerImage:    req.AnswerImage,
		ImageType:      req.ImageType,
		ResponseTimeMs: req.ResponseTimeMs,
	})
	if err != nil {
		h.handleError(w, err, "submit answer")
		return
	}

	status := grading.StatusQueued
	if task, err := h.queue.Task(taskID); err == nil {
		status = task.Status
	}
	respondJSON(w, http.StatusAccepted, SubmitAnswerResponse{
		TaskID:    taskID,
		Status:    status,
		StatusURL: "/v1/tasks/" + taskID,
	})
}

func parseAnswerForm(w http.ResponseWriter, r *http.Request) (SubmitAnswerRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return SubmitAnswerRequest{}, fmt.Errorf("invalid multipart form: %w", err)
	}

	var req SubmitAnswerRequest
	exerciseID, err := strconv.ParseInt(r.FormValue("exercise_id"), 10, 64)
	if err != nil {
		return SubmitAnswerRequest{}, fmt.Errorf("exercise_id is required")
	}
	req.ExerciseID = exerciseID
	req.AnswerText = r.FormValue("answer_text")
	if v := r.FormValue("response_time_ms"); v != "" {
		if req.ResponseTimeMs, err = strconv.Atoi(v); err != nil {
			return SubmitAnswerRequest{}, fmt.Errorf("invalid response_time_ms")
		}
	}

	file, header, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return req, nil
	case err != nil:
		return SubmitAnswerRequest{}, fmt.Errorf("read image: %w", err)
	}
	defer file.Close()

	if req.AnswerImage, err = io.ReadAll(file); err != nil {
		return SubmitAnswerRequest{}, fmt.Errorf("read image: %w", err)
	}
	req.ImageType = header.Header.Get("Content-Type")
	return req, nil
}

// GET /v1/tasks/{id}
func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.queue.Task(r.PathValue("id"))
	if err != nil {
		h.handleError(w, err, "get task")
		return
	}
	respondJSON(w, http.StatusOK, task)
}

// POST /v1/sessions/{id}/finalize
//
// Waits for the session's queued answers to be graded, then recomputes
// and completes the session.
func (h *Handler) finalizeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	waitCtx, cancel := context.WithTimeout(r.Context(), h.finalizeWait)
	release, err := h.queue.FreezeSession(waitCtx, id)
	cancel()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "answers are still being graded, retry later")
		return
	}
	defer release()

	res, err := h.scorer.FinalizeSession(r.Context(), id)
	if err != nil {
		h.handleError(w, err, "finalize session")
		return
	}
	breakdown := res.Breakdown
	if breakdown == nil {
		breakdown = []practice.KnowledgePointScore{}
	}
	resp := FinalizeResponse{
		SessionID:      res.Session.ID,
		Score:          res.Session.Score,
		TotalQuestions: res.Session.TotalQuestions,
		CorrectAnswers: res.Session.CorrectAnswers,
		Breakdown:      breakdown,
	}
	h.hub.Publish(realtime.Event{Type: realtime.EventSessionDone, SessionID: id, Data: resp})
	respondJSON(w, http.StatusOK, resp)
}

// GET /v1/sessions/{id}/report.xlsx
func (h *Handler) sessionReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	rep, err := h.scorer.Report(ctx, id)
	if err != nil {
		h.handleError(w, err, "session report")
		return
	}

	var buf bytes.Buffer
	if err := h.reports.Write(ctx, &buf, rep); err != nil {
		h.handleError(w, err, "render report")
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="session-%d.xlsx"`, id))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// GET /v1/sessions/{id}/events (websocket)
func (h *Handler) sessionEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.scorer.Store().GetSession(r.Context(), id); err != nil {
		h.handleError(w, err, "get session")
		return
	}
	h.hub.ServeSession(w, r, id)
}

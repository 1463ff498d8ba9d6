// Package api exposes the tutoring services as a JSON HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/p-n-ai/pai-homework/internal/classifier"
	"github.com/p-n-ai/pai-homework/internal/grading"
	"github.com/p-n-ai/pai-homework/internal/mastery"
	"github.com/p-n-ai/pai-homework/internal/practice"
	"github.com/p-n-ai/pai-homework/internal/realtime"
	"github.com/p-n-ai/pai-homework/internal/recommend"
	"github.com/p-n-ai/pai-homework/internal/report"
	"github.com/p-n-ai/pai-homework/internal/taxonomy"
)

const (
	defaultFinalizeWait = 30 * time.Second
	maxBodyBytes        = 1 << 20
	maxUploadBytes      = 10 << 20
)

// HealthChecker is a dependency probed by /readyz.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config holds the handler's dependencies.
type Config struct {
	Taxonomy   taxonomy.Store
	Classifier *classifier.Classifier
	Mastery    *mastery.Tracker
	Scorer     *practice.Scorer
	Recommend  *recommend.Engine
	Queue      *grading.Queue
	Hub        *realtime.Hub
	Reports    *report.Builder
	// Checks are probed by /readyz, keyed by name.
	Checks map[string]HealthChecker
	// FinalizeWait bounds how long finalize waits for queued grading.
	FinalizeWait time.Duration
	Logger       *slog.Logger
}

// Handler holds all dependencies needed by HTTP handlers.
type Handler struct {
	taxonomy     taxonomy.Store
	classifier   *classifier.Classifier
	mastery      *mastery.Tracker
	scorer       *practice.Scorer
	recommend    *recommend.Engine
	queue        *grading.Queue
	hub          *realtime.Hub
	reports      *report.Builder
	checks       map[string]HealthChecker
	finalizeWait time.Duration
	logger       *slog.Logger
}

// NewHandler creates a Handler with the given dependencies.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wait := cfg.FinalizeWait
	if wait <= 0 {
		wait = defaultFinalizeWait
	}
	reports := cfg.Reports
	if reports == nil {
		var exercises report.Exercises
		if cfg.Scorer != nil {
			exercises = cfg.Scorer.Store()
		}
		reports = report.NewBuilder(cfg.Taxonomy, exercises)
	}
	return &Handler{
		taxonomy:     cfg.Taxonomy,
		classifier:   cfg.Classifier,
		mastery:      cfg.Mastery,
		scorer:       cfg.Scorer,
		recommend:    cfg.Recommend,
		queue:        cfg.Queue,
		hub:          cfg.Hub,
		reports:      reports,
		checks:       cfg.Checks,
		finalizeWait: wait,
		logger:       logger,
	}
}

// Routes returns a ServeMux with every endpoint registered.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes registers every endpoint on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /readyz", h.readyz)

	mux.HandleFunc("POST /v1/classify", h.classify)
	mux.HandleFunc("POST /v1/classify/suggestions", h.suggest)

	mux.HandleFunc("GET /v1/subjects", h.listSubjects)
	mux.HandleFunc("GET /v1/subjects/{id}/knowledge-points", h.listKnowledgePoints)
	mux.HandleFunc("GET /v1/knowledge-points/{id}/exam-points", h.listExamPoints)

	mux.HandleFunc("POST /v1/students", h.createStudent)
	mux.HandleFunc("GET /v1/students/{id}/mastery", h.studentMastery)
	mux.HandleFunc("GET /v1/students/{id}/recommendations", h.recommendations)
	mux.HandleFunc("GET /v1/students/{id}/sessions", h.studentSessions)
	mux.HandleFunc("POST /v1/mastery/attempts", h.recordAttempt)

	mux.HandleFunc("POST /v1/exercises", h.createExercise)
	mux.HandleFunc("GET /v1/exercises/{id}", h.getExercise)

	mux.HandleFunc("POST /v1/sessions", h.startSession)
	mux.HandleFunc("GET /v1/sessions/{id}", h.getSession)
	mux.HandleFunc("POST /v1/sessions/{id}/answers", h.submitAnswer)
	mux.HandleFunc("POST /v1/sessions/{id}/finalize", h.finalizeSession)
	mux.HandleFunc("GET /v1/sessions/{id}/report.xlsx", h.sessionReport)
	mux.HandleFunc("GET /v1/sessions/{id}/events", h.sessionEvents)
	mux.HandleFunc("GET /v1/tasks/{id}", h.getTask)
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads the request body into v. On failure it writes a 400 and
// returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeJSONLimit(w, r, v, maxBodyBytes)
}

func decodeJSONLimit(w http.ResponseWriter, r *http.Request, v any, limit int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// pathID parses a positive integer path value. On failure it writes a 400.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// handleError maps domain errors to HTTP statuses. Unexpected errors are
// logged and reported as 500.
func (h *Handler) handleError(w http.ResponseWriter, err error, op string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, taxonomy.ErrNotFound),
		errors.Is(err, practice.ErrStudentNotFound),
		errors.Is(err, practice.ErrExerciseNotFound),
		errors.Is(err, practice.ErrSessionNotFound),
		errors.Is(err, practice.ErrAttemptNotFound),
		errors.Is(err, mastery.ErrUnknownStudent),
		errors.Is(err, mastery.ErrUnknownKnowledgePoint),
		errors.Is(err, grading.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, grading.ErrEmptyAnswer):
		status = http.StatusBadRequest
	case errors.Is(err, practice.ErrSessionCompleted),
		errors.Is(err, practice.ErrAttemptAlreadyGraded),
		errors.Is(err, grading.ErrSessionFrozen):
		status = http.StatusConflict
	case errors.Is(err, grading.ErrQueueFull),
		errors.Is(err, grading.ErrQueueClosed):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "op", op, "error", err)
		respondError(w, status, "internal error")
		return
	}
	respondError(w, status, err.Error())
}

package api

import (
	"net/http"
	"strings"

	"github.com/p-n-ai/pai-homework/internal/classifier"
	"github.com/p-n-ai/pai-homework/internal/taxonomy"
)

type ClassifyRequest struct {
	QuestionText string              `json:"question_text"`
	GradeLevel   taxonomy.GradeLevel `json:"grade_level,omitempty"`
	SubjectID    int64               `json:"subject_id,omitempty"`
	Limit        int                 `json:"limit,omitempty"`
}

type ClassifyMatch struct {
	KnowledgePointID int64               `json:"knowledge_point_id"`
	Name             string              `json:"name"`
	GradeLevel       taxonomy.GradeLevel `json:"grade_level"`
	Score            int                 `json:"score"`
	MatchReasons     []string            `json:"match_reasons"`
}

type SuggestRequest struct {
	QuestionText string `json:"question_text"`
	Subject      string `json:"subject,omitempty"`
	// Create get-or-creates the suggested knowledge points.
	Create bool `json:"create,omitempty"`
}

type SuggestResponse struct {
	Suggestions []classifier.Suggestion   `json:"suggestions"`
	Created     []taxonomy.KnowledgePoint `json:"created,omitempty"`
}

// POST /v1/classify
func (h *Handler) classify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	matches, err := h.classifier.Classify(r.Context(), classifier.Query{
		Text:       req.QuestionText,
		GradeLevel: req.GradeLevel.Canonical(),
		SubjectID:  req.SubjectID,
		Limit:      req.Limit,
	})
	if err != nil {
		h.handleError(w, err, "classify")
		return
	}

	out := make([]ClassifyMatch, 0, len(matches))
	for _, m := range matches {
		out = append(out, ClassifyMatch{
			KnowledgePointID: m.KnowledgePoint.ID,
			Name:             m.KnowledgePoint.Name,
			GradeLevel:       m.KnowledgePoint.GradeLevel,
			Score:            m.Score,
			MatchReasons:     m.MatchReasons,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// POST /v1/classify/suggestions
func (h *Handler) suggest(w http.ResponseWriter, r *http.Request) {
	var req SuggestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.QuestionText) == "" {
		respondError(w, http.StatusBadRequest, "question_text is required")
		return
	}

	resp := SuggestResponse{Suggestions: classifier.SuggestNewKnowledgePoints(req.QuestionText)}
	if resp.Suggestions == nil {
		resp.Suggestions = []classifier.Suggestion{}
	}

	if req.Create {
		for _, s := range resp.Suggestions {
			kps, err := h.classifier.ResolveKnowledgePoints(r.Context(), req.Subject, s.GradeLevel, []string{s.Name})
			if err != nil {
				h.handleError(w, err, "resolve suggestions")
				return
			}
			resp.Created = append(resp.Created, kps...)
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// GET /v1/subjects
func (h *Handler) listSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.taxonomy.ListSubjects(r.Context())
	if err != nil {
		h.handleError(w, err, "list subjects")
		return
	}
	if subjects == nil {
		subjects = []taxonomy.Subject{}
	}
	respondJSON(w, http.StatusOK, subjects)
}

// GET /v1/subjects/{id}/knowledge-points?grade=初一&limit=50
func (h *Handler) listKnowledgePoints(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	if _, err := h.taxonomy.GetSubject(ctx, id); err != nil {
		h.handleError(w, err, "get subject")
		return
	}

	kps, err := h.taxonomy.ListKnowledgePoints(ctx, taxonomy.KnowledgePointFilter{
		SubjectID:  id,
		GradeLevel: taxonomy.GradeLevel(r.URL.Query().Get("grade")).Canonical(),
		Limit:      queryInt(r, "limit", 0),
	})
	if err != nil {
		h.handleError(w, err, "list knowledge points")
		return
	}
	if kps == nil {
		kps = []taxonomy.KnowledgePoint{}
	}
	respondJSON(w, http.StatusOK, kps)
}

// ExamPointResponse is an exam point with its place in the taxonomy.
type ExamPointResponse struct {
	taxonomy.ExamPoint
	FullPath string `json:"full_path"`
}

// GET /v1/knowledge-points/{id}/exam-points
func (h *Handler) listExamPoints(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	kp, err := h.taxonomy.GetKnowledgePoint(ctx, id)
	if err != nil {
		h.handleError(w, err, "get knowledge point")
		return
	}
	subj, err := h.taxonomy.GetSubject(ctx, kp.SubjectID)
	if err != nil {
		h.handleError(w, err, "get subject")
		return
	}

	eps, err := h.taxonomy.ListExamPoints(ctx, kp.ID)
	if err != nil {
		h.handleError(w, err, "list exam points")
		return
	}
	out := make([]ExamPointResponse, 0, len(eps))
	for _, ep := range eps {
		out = append(out, ExamPointResponse{ExamPoint: ep, FullPath: taxonomy.FullPath(subj, kp, ep)})
	}
	respondJSON(w, http.StatusOK, out)
}

package grading

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/p-n-ai/pai-homework/internal/ai"
	"github.com/p-n-ai/pai-homework/internal/practice"
)

// ErrEmptyAnswer is returned when a request has neither text nor image.
var ErrEmptyAnswer = errors.New("answer text or image is required")

const (
	textMaxTokens  = 1000
	imageMaxTokens = 2000
)

// Request is one answer to grade.
type Request struct {
	Exercise   practice.Exercise
	AnswerText string
	// AnswerImage holds raw image bytes; ImageType is sniffed when empty.
	AnswerImage      []byte
	ImageType        string
	QuestionImageURL string
}

func (r Request) empty() bool {
	return strings.TrimSpace(r.AnswerText) == "" && len(r.AnswerImage) == 0
}

// GraderConfig configures a Grader.
type GraderConfig struct {
	Provider ai.Provider
	Model    string
	// Timeout bounds each model call. Zero means no extra bound.
	Timeout time.Duration
}

// Grader judges answers with a vision-language model.
type Grader struct {
	provider ai.Provider
	model    string
	timeout  time.Duration
}

// NewGrader creates a Grader.
func NewGrader(cfg GraderConfig) *Grader {
	return &Grader{provider: cfg.Provider, model: cfg.Model, timeout: cfg.Timeout}
}

// Grade asks the model for a verdict. Image answers fall back to the typed
// text when the image call fails and text is present. An unparseable reply
// yields DefaultAnalysis, not an error; errors mean the model was unreachable.
func (g *Grader) Grade(ctx context.Context, req Request) (Analysis, error) {
	if req.empty() {
		return Analysis{}, ErrEmptyAnswer
	}
	ex := req.Exercise

	if len(req.AnswerImage) > 0 {
		a, err := g.gradeImage(ctx, req)
		if err == nil || strings.TrimSpace(req.AnswerText) == "" {
			return a, err
		}
		slog.Warn("image analysis failed, falling back to text",
			"exercise_id", ex.ID,
			"error", err,
		)
	}

	return g.complete(ctx, ai.CompletionRequest{
		Messages:  []ai.Message{{Role: "user", Content: TextAnswerPrompt(ex.QuestionText, ex.AnswerText, ex.AnswerSteps, req.AnswerText)}},
		MaxTokens: textMaxTokens,
		Task:      ai.TaskAnswerAnalysis,
	}, ex.ID)
}

func (g *Grader) gradeImage(ctx context.Context, req Request) (Analysis, error) {
	ex := req.Exercise
	var images []string
	if req.QuestionImageURL != "" {
		images = append(images, req.QuestionImageURL)
	}
	images = append(images, DataURL(req.AnswerImage, req.ImageType))

	return g.complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{{
			Role:      "user",
			Content:   ImageAnswerPrompt(ex.QuestionText, ex.AnswerText, ex.AnswerSteps),
			ImageURLs: images,
		}},
		MaxTokens: imageMaxTokens,
		Task:      ai.TaskImageAnalysis,
	}, ex.ID)
}

func (g *Grader) complete(ctx context.Context, req ai.CompletionRequest, exerciseID int64) (Analysis, error) {
	if g.provider == nil {
		return Analysis{}, ai.ErrNoProvider
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	req.Model = g.model

	resp, err := g.provider.Complete(ctx, req)
	if err != nil {
		return Analysis{}, fmt.Errorf("%s: %w", req.Task, err)
	}

	a, ok := ParseAnalysis(resp.Content)
	if !ok {
		slog.Warn("model reply had no usable analysis",
			"exercise_id", exerciseID,
			"task", req.Task.String(),
			"reply_length", len(resp.Content),
		)
	}
	return a, nil
}

// DataURL encodes an image as a base64 data URL. A missing or non-image
// mime type is sniffed from the bytes.
func DataURL(image []byte, mimeType string) string {
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(image)
		if !strings.HasPrefix(mimeType, "image/") {
			mimeType = "image/jpeg"
		}
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
}

// Package grading grades practice answers with a vision-language model and
// runs the background queue that feeds results into scoring and mastery.
package grading

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Analysis is the model's verdict on one student answer.
type Analysis struct {
	StudentAnswer   string `json:"student_answer"`
	IsCorrect       bool   `json:"is_correct"`
	ErrorAnalysis   string `json:"error_analysis"`
	Feedback        string `json:"feedback"`
	SolutionQuality string `json:"solution_quality"`
	// Set when no verdict could be obtained from the model.
	AnalysisFailed bool   `json:"analysis_failed,omitempty"`
	Error          string `json:"error,omitempty"`
}

// JSON encodes the analysis for storage on the attempt.
func (a Analysis) JSON() json.RawMessage {
	b, err := json.Marshal(a)
	if err != nil {
		return nil
	}
	return b
}

// DefaultAnalysis is used when the model reply holds no usable verdict.
func DefaultAnalysis() Analysis {
	return Analysis{
		StudentAnswer:   "无法识别答案",
		IsCorrect:       false,
		ErrorAnalysis:   "AI无法解析答案内容",
		Feedback:        "请确保答案清晰可读，建议重新上传或输入文字答案",
		SolutionQuality: "无法评估",
	}
}

// FailedAnalysis records a grading attempt that never got a model reply.
func FailedAnalysis(err error) Analysis {
	a := DefaultAnalysis()
	a.StudentAnswer = "答案分析失败"
	a.ErrorAnalysis = "AI分析服务暂时不可用"
	a.AnalysisFailed = true
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

const analysisSchema = `{
  "type": "object",
  "required": ["is_correct"],
  "properties": {
    "student_answer":   {"type": ["string", "null"]},
    "is_correct":       {"type": "boolean"},
    "error_analysis":   {"type": ["string", "null"]},
    "feedback":         {"type": ["string", "null"]},
    "solution_quality": {"type": ["string", "null"]}
  }
}`

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(analysisSchema))
})

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(\\{.*?\\})\\s*```")

// ParseAnalysis extracts the verdict from a model reply. It tries every
// balanced JSON object in order, then fenced code blocks, and accepts the
// first one matching the analysis schema. ok is false when it fell back to
// DefaultAnalysis.
func ParseAnalysis(content string) (a Analysis, ok bool) {
	candidates := balancedObjects(content)
	for _, m := range fencedBlock.FindAllStringSubmatch(content, -1) {
		candidates = append(candidates, m[1])
	}

	for _, c := range candidates {
		if !validAnalysis(c) {
			continue
		}
		var parsed Analysis
		if err := json.Unmarshal([]byte(c), &parsed); err != nil {
			continue
		}
		return parsed, true
	}
	return DefaultAnalysis(), false
}

func validAnalysis(doc string) bool {
	schema, err := compiledSchema()
	if err != nil {
		slog.Error("answer analysis schema invalid", "error", err)
		return false
	}
	res, err := schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return false
	}
	if !res.Valid() {
		slog.Debug("model reply failed schema validation", "errors", len(res.Errors()))
		return false
	}
	return true
}

// balancedObjects returns each top-level {...} span of s, honouring JSON
// string quoting and escapes.
func balancedObjects(s string) []string {
	var out []string
	for i := 0; i < len(s); {
		start := strings.IndexByte(s[i:], '{')
		if start < 0 {
			break
		}
		start += i
		end := matchBrace(s, start)
		if end < 0 {
			i = start + 1
			continue
		}
		out = append(out, s[start:end+1])
		i = end + 1
	}
	return out
}

func matchBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

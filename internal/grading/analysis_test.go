package grading_test

import (
	"encoding/json"
	"testing"

	"github.com/p-n-ai/pai-homework/internal/grading"
)

func TestParseAnalysis(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantOK      bool
		wantCorrect bool
		wantAnswer  string
	}{
		{
			name:        "plain json",
			content:     `{"student_answer": "x = 2", "is_correct": true, "error_analysis": "", "feedback": "很好", "solution_quality": "完整"}`,
			wantOK:      true,
			wantCorrect: true,
			wantAnswer:  "x = 2",
		},
		{
			name:        "prose around json",
			content:     "分析如下：\n{\"student_answer\": \"3\", \"is_correct\": false, \"feedback\": \"再检查一下\"}\n以上。",
			wantOK:      true,
			wantCorrect: false,
			wantAnswer:  "3",
		},
		{
			name:        "fenced block",
			content:     "```json\n{\"student_answer\": \"$\\\\frac{1}{2}$\", \"is_correct\": true}\n```",
			wantOK:      true,
			wantCorrect: true,
			wantAnswer:  `$\frac{1}{2}$`,
		},
		{
			name:        "braces inside strings",
			content:     `{"student_answer": "集合 {1, 2}", "is_correct": true, "feedback": "用 \"}\" 结尾"}`,
			wantOK:      true,
			wantCorrect: true,
			wantAnswer:  "集合 {1, 2}",
		},
		{
			name:        "first object fails schema",
			content:     `示例 {"a": 1} 结果 {"student_answer": "5", "is_correct": true}`,
			wantOK:      true,
			wantCorrect: true,
			wantAnswer:  "5",
		},
		{
			name:        "unbalanced prefix",
			content:     `前言 { 未闭合 ... {"student_answer": "7", "is_correct": false}`,
			wantOK:      true,
			wantCorrect: false,
			wantAnswer:  "7",
		},
		{
			name:       "string boolean rejected",
			content:    `{"student_answer": "x", "is_correct": "true"}`,
			wantOK:     false,
			wantAnswer: "无法识别答案",
		},
		{
			name:       "missing is_correct",
			content:    `{"student_answer": "x"}`,
			wantOK:     false,
			wantAnswer: "无法识别答案",
		},
		{
			name:       "no json",
			content:    "抱歉，我看不清图片。",
			wantOK:     false,
			wantAnswer: "无法识别答案",
		},
		{
			name:       "empty",
			content:    "",
			wantOK:     false,
			wantAnswer: "无法识别答案",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := grading.ParseAnalysis(tt.content)
			if ok != tt.wantOK {
				t.Errorf("ParseAnalysis() ok = %v, want %v", ok, tt.wantOK)
			}
			if got.IsCorrect != tt.wantCorrect {
				t.Errorf("IsCorrect = %v, want %v", got.IsCorrect, tt.wantCorrect)
			}
			if got.StudentAnswer != tt.wantAnswer {
				t.Errorf("StudentAnswer = %q, want %q", got.StudentAnswer, tt.wantAnswer)
			}
		})
	}
}

func TestFailedAnalysis(t *testing.T) {
	a := grading.FailedAnalysis(nil)
	if a.IsCorrect || !a.AnalysisFailed {
		t.Errorf("FailedAnalysis() = %+v, want incorrect and failed", a)
	}

	var decoded map[string]any
	if err := json.Unmarshal(a.JSON(), &decoded); err != nil {
		t.Fatalf("JSON() not valid: %v", err)
	}
	if decoded["is_correct"] != false || decoded["analysis_failed"] != true {
		t.Errorf("JSON() = %v", decoded)
	}
}

package classifier_test

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/p-n-ai/pai-homework/internal/classifier"
	"github.com/p-n-ai/pai-homework/internal/taxonomy"
)

// seededStore returns a memory store loaded with the built-in math taxonomy.
func seededStore(t *testing.T) (*taxonomy.MemoryStore, taxonomy.Subject) {
	t.Helper()
	loader, err := taxonomy.BuiltinLoader()
	if err != nil {
		t.Fatalf("BuiltinLoader() error = %v", err)
	}
	store := taxonomy.NewMemoryStore()
	if _, err := loader.Seed(context.Background(), store); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	math, err := store.SubjectByName(context.Background(), "数学")
	if err != nil {
		t.Fatalf("SubjectByName() error = %v", err)
	}
	return store, math
}

func TestClassify_LinearEquation(t *testing.T) {
	store, math := seededStore(t)
	c := classifier.New(classifier.Config{Store: store})

	matches, err := c.Classify(context.Background(), classifier.Query{
		Text:       "求解方程 2x + 3 = 7",
		GradeLevel: taxonomy.GradeJunior1,
		SubjectID:  math.ID,
	})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("Classify() returned no matches")
	}
	if len(matches) > 3 {
		t.Errorf("Classify() returned %d matches, want at most 3", len(matches))
	}

	top := matches[0]
	if top.KnowledgePoint.Name != "一元一次方程-解法" {
		t.Errorf("top match = %q, want 一元一次方程-解法", top.KnowledgePoint.Name)
	}
	if top.Score < 70 {
		t.Errorf("top score = %d, want >= 70", top.Score)
	}
	if !slices.ContainsFunc(top.MatchReasons, func(r string) bool { return strings.HasPrefix(r, "年级匹配") }) {
		t.Errorf("MatchReasons = %v, want a grade match", top.MatchReasons)
	}
}

func TestClassify_MinimalPool(t *testing.T) {
	store := taxonomy.NewMemoryStore()
	ctx := context.Background()
	math, _ := store.EnsureSubject(ctx, taxonomy.Subject{Name: "数学"})
	_, _, _ = store.EnsureKnowledgePoint(ctx, taxonomy.KnowledgePoint{
		Name: "一元一次方程-解法", Description: "一元一次方程的解法", SubjectID: math.ID, GradeLevel: taxonomy.GradeJunior1,
	})

	c := classifier.New(classifier.Config{Store: store})
	matches, err := c.Classify(ctx, classifier.Query{Text: "求解方程 2x + 3 = 7", GradeLevel: "初一", SubjectID: math.ID})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Classify() returned %d matches, want 1", len(matches))
	}
	// grade 50 + 方程 concept (方程, 解) 30 + 解法 concept (求解, 解方程) 30 + symbol 10
	if matches[0].Score != 120 {
		t.Errorf("score = %d, want 120 (reasons %v)", matches[0].Score, matches[0].MatchReasons)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	store, _ := seededStore(t)
	c := classifier.New(classifier.Config{Store: store})
	q := classifier.Query{Text: "已知等差数列{an}的前n项和为Sn，求通项公式"}

	first, err := c.Classify(context.Background(), q)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	for range 5 {
		again, err := c.Classify(context.Background(), q)
		if err != nil {
			t.Fatalf("Classify() error = %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("Classify() not deterministic:\n%v\n%v", first, again)
		}
	}
}

func TestClassify_NoNonPositiveScores(t *testing.T) {
	store, _ := seededStore(t)
	c := classifier.New(classifier.Config{Store: store})

	texts := []string{
		"求解方程 2x + 3 = 7",
		"计算 ∫x²dx",
		"在△ABC中，∠A=60°，求BC",
		"今天天气很好",
		"abc",
	}
	for _, text := range texts {
		for _, grade := range []taxonomy.GradeLevel{"", taxonomy.GradeJunior2, taxonomy.GradeSenior3} {
			matches, err := c.Classify(context.Background(), classifier.Query{Text: text, GradeLevel: grade, Limit: 50})
			if err != nil {
				t.Fatalf("Classify(%q) error = %v", text, err)
			}
			for i, m := range matches {
				if m.Score <= 0 {
					t.Errorf("Classify(%q, %q) returned score %d", text, grade, m.Score)
				}
				if i > 0 && matches[i-1].Score < m.Score {
					t.Errorf("Classify(%q, %q) not sorted descending at %d", text, grade, i)
				}
			}
		}
	}
}

func TestScore_GradeMonotonic(t *testing.T) {
	base := taxonomy.KnowledgePoint{Name: "函数-一次函数", Description: "一次函数的概念、图像和性质"}
	texts := []string{"已知一次函数 y = 2x + 1", "今天天气很好", "求二次函数的顶点"}

	for _, text := range texts {
		var scores []int
		for _, g := range []taxonomy.GradeLevel{taxonomy.GradeJunior2, taxonomy.GradeJunior3, taxonomy.GradeSenior1, taxonomy.GradeSenior2} {
			kp := base
			kp.GradeLevel = g
			scores = append(scores, classifier.Score(text, taxonomy.GradeJunior2, kp).Score)
		}
		for i := 1; i < len(scores); i++ {
			if scores[i] > scores[i-1] {
				t.Errorf("Score(%q) grew with grade distance: %v", text, scores)
			}
		}
		if scores[0]-scores[3] != 50 {
			t.Errorf("Score(%q) exact vs distance-3 delta = %d, want 50", text, scores[0]-scores[3])
		}
	}
}

func TestScore_KeyPhraseShortCircuits(t *testing.T) {
	kp := taxonomy.KnowledgePoint{Name: "二次函数", Description: "二次函数的概念、图像和性质", GradeLevel: taxonomy.GradeJunior3}
	m := classifier.Score("求二次函数 y = x² 的顶点和对称轴", taxonomy.GradeJunior3, kp)
	if m.Score != 150 {
		t.Errorf("Score = %d, want 150 (50 grade + 100 key phrase)", m.Score)
	}
	if len(m.MatchReasons) != 2 || m.MatchReasons[1] != "关键短语: 二次函数" {
		t.Errorf("MatchReasons = %v", m.MatchReasons)
	}
}

func TestScore_UnknownGradeSkipsProximity(t *testing.T) {
	kp := taxonomy.KnowledgePoint{Name: "函数-一次函数", Description: "一次函数的概念", GradeLevel: taxonomy.GradeJunior2}
	withGrade := classifier.Score("一次函数", taxonomy.GradeJunior2, kp).Score
	unknown := classifier.Score("一次函数", "大学", kp).Score
	if withGrade-unknown != 50 {
		t.Errorf("unknown grade score = %d, grade score = %d, want a 50 point gap", unknown, withGrade)
	}
}

func TestScore_FullWidthInput(t *testing.T) {
	kp := taxonomy.KnowledgePoint{Name: "一元一次方程-解法", Description: "一元一次方程的解法", GradeLevel: taxonomy.GradeJunior1}
	half := classifier.Score("求解方程 2x + 3 = 7", taxonomy.GradeJunior1, kp)
	full := classifier.Score("求解方程　２ｘ＋３＝７", taxonomy.GradeJunior1, kp)
	if half.Score != full.Score {
		t.Errorf("full-width score = %d, half-width = %d", full.Score, half.Score)
	}
}

func TestScore_SymbolRules(t *testing.T) {
	tests := []struct {
		name string
		text string
		kp   taxonomy.KnowledgePoint
		want int
	}{
		{"geometry with angle", "在△abc中 ∠a = 60°", taxonomy.KnowledgePoint{Name: "几何图形-角的认识"}, 10},
		{"geometry without symbols", "三角形内角和", taxonomy.KnowledgePoint{Name: "几何图形-角的认识"}, 0},
		{"sequence with n", "a(n+1) = 2a(n)", taxonomy.KnowledgePoint{Name: "数列-递推"}, 10},
		{"function", "f(x) = x + 1", taxonomy.KnowledgePoint{Name: "函数-概念"}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := classifier.Score(tt.text, "", tt.kp)
			var symbolBonus int
			for _, r := range m.MatchReasons {
				if strings.HasPrefix(r, "数学符号") {
					symbolBonus += 10
				}
			}
			if symbolBonus != tt.want {
				t.Errorf("symbol bonus = %d, want %d (reasons %v)", symbolBonus, tt.want, m.MatchReasons)
			}
		})
	}
}

func TestClassify_EmptyText(t *testing.T) {
	store, _ := seededStore(t)
	c := classifier.New(classifier.Config{Store: store})
	for _, text := range []string{"", "   "} {
		matches, err := c.Classify(context.Background(), classifier.Query{Text: text})
		if err != nil {
			t.Errorf("Classify(%q) error = %v", text, err)
		}
		if len(matches) != 0 {
			t.Errorf("Classify(%q) = %v, want empty", text, matches)
		}
	}
}

func TestClassify_RespectsLimit(t *testing.T) {
	store, _ := seededStore(t)
	c := classifier.New(classifier.Config{Store: store, ResultLimit: 5})

	matches, err := c.Classify(context.Background(), classifier.Query{Text: "求解方程 2x + 3 = 7", GradeLevel: taxonomy.GradeJunior1})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if len(matches) != 5 {
		t.Errorf("default limit: got %d matches, want 5", len(matches))
	}

	matches, _ = c.Classify(context.Background(), classifier.Query{Text: "求解方程 2x + 3 = 7", GradeLevel: taxonomy.GradeJunior1, Limit: 1})
	if len(matches) != 1 {
		t.Errorf("query limit: got %d matches, want 1", len(matches))
	}
}

func TestBestKnowledgePoints_GenericFallback(t *testing.T) {
	store, _ := seededStore(t)
	c := classifier.New(classifier.Config{Store: store})

	kps, err := c.BestKnowledgePoints(context.Background(), classifier.Query{Text: "今天天气很好"})
	if err != nil {
		t.Fatalf("BestKnowledgePoints() error = %v", err)
	}
	want := []string{"数学思想-分类讨论", "数学思想-数形结合", "数学思想-转化与化归"}
	if len(kps) != len(want) {
		t.Fatalf("BestKnowledgePoints() = %d results, want %d", len(kps), len(want))
	}
	for i, name := range want {
		if kps[i].Name != name {
			t.Errorf("kps[%d] = %q, want %q", i, kps[i].Name, name)
		}
	}
}

func TestBestKnowledgePoints_SubjectFallback(t *testing.T) {
	store := taxonomy.NewMemoryStore()
	ctx := context.Background()
	math, _ := store.EnsureSubject(ctx, taxonomy.Subject{Name: "数学"})
	for _, kp := range []taxonomy.KnowledgePoint{
		{Name: "导数-导数概念", GradeLevel: taxonomy.GradeSenior3},
		{Name: "有理数-正负数", GradeLevel: taxonomy.GradeJunior1},
		{Name: "代数式-整式", GradeLevel: taxonomy.GradeJunior1},
	} {
		kp.SubjectID = math.ID
		if _, _, err := store.EnsureKnowledgePoint(ctx, kp); err != nil {
			t.Fatalf("EnsureKnowledgePoint() error = %v", err)
		}
	}

	c := classifier.New(classifier.Config{Store: store, ResultLimit: 2})
	kps, err := c.BestKnowledgePoints(ctx, classifier.Query{Text: "今天天气很好"})
	if err != nil {
		t.Fatalf("BestKnowledgePoints() error = %v", err)
	}
	if len(kps) != 2 || kps[0].Name != "代数式-整式" || kps[1].Name != "有理数-正负数" {
		t.Errorf("BestKnowledgePoints() = %+v, want grade/name order truncated to 2", kps)
	}
}

func TestBestKnowledgePoints_EmptyStore(t *testing.T) {
	c := classifier.New(classifier.Config{Store: taxonomy.NewMemoryStore()})
	kps, err := c.BestKnowledgePoints(context.Background(), classifier.Query{Text: "x"})
	if err != nil {
		t.Fatalf("BestKnowledgePoints() error = %v", err)
	}
	if len(kps) != 0 {
		t.Errorf("BestKnowledgePoints() = %v, want empty", kps)
	}
}

func TestBestKnowledgePoints_Matches(t *testing.T) {
	store, math := seededStore(t)
	c := classifier.New(classifier.Config{Store: store})
	kps, err := c.BestKnowledgePoints(context.Background(), classifier.Query{
		Text: "求解方程 2x + 3 = 7", GradeLevel: taxonomy.GradeJunior1, SubjectID: math.ID,
	})
	if err != nil {
		t.Fatalf("BestKnowledgePoints() error = %v", err)
	}
	if len(kps) == 0 || kps[0].Name != "一元一次方程-解法" {
		t.Errorf("BestKnowledgePoints() = %+v", kps)
	}
}

func TestSuggestNewKnowledgePoints(t *testing.T) {
	got := classifier.SuggestNewKnowledgePoints("求椭圆的离心率，并讨论数列的极限")
	want := []classifier.Suggestion{
		{Name: "解析几何-椭圆", GradeLevel: taxonomy.GradeSenior1},
		{Name: "微积分-极限", GradeLevel: taxonomy.GradeSenior3},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SuggestNewKnowledgePoints() = %v, want %v", got, want)
	}
	if got := classifier.SuggestNewKnowledgePoints("1 + 1 = ?"); len(got) != 0 {
		t.Errorf("SuggestNewKnowledgePoints(plain) = %v, want empty", got)
	}
}

func TestResolveKnowledgePoints(t *testing.T) {
	store := taxonomy.NewMemoryStore()
	c := classifier.New(classifier.Config{Store: store})
	ctx := context.Background()

	kps, err := c.ResolveKnowledgePoints(ctx, "", "8", []string{"勾股定理", " ", "勾股定理", "全等三角形"})
	if err != nil {
		t.Fatalf("ResolveKnowledgePoints() error = %v", err)
	}
	if len(kps) != 2 {
		t.Fatalf("ResolveKnowledgePoints() = %d, want 2", len(kps))
	}
	if kps[0].GradeLevel != taxonomy.GradeJunior2 || kps[0].Description != "数学 - 勾股定理" {
		t.Errorf("kps[0] = %+v", kps[0])
	}

	again, err := c.ResolveKnowledgePoints(ctx, "数学", taxonomy.GradeJunior2, []string{"勾股定理"})
	if err != nil {
		t.Fatalf("ResolveKnowledgePoints() error = %v", err)
	}
	if again[0].ID != kps[0].ID {
		t.Errorf("second resolve id = %d, want %d", again[0].ID, kps[0].ID)
	}
}

type failingStore struct {
	taxonomy.Store
}

var errStoreDown = errors.New("store down")

func (failingStore) SubjectByName(context.Context, string) (taxonomy.Subject, error) {
	return taxonomy.Subject{}, errStoreDown
}

func (failingStore) ListKnowledgePoints(context.Context, taxonomy.KnowledgePointFilter) ([]taxonomy.KnowledgePoint, error) {
	return nil, errStoreDown
}

func TestClassify_StoreFailurePropagates(t *testing.T) {
	c := classifier.New(classifier.Config{Store: failingStore{}})

	_, err := c.Classify(context.Background(), classifier.Query{Text: "x + 1 = 2"})
	if !errors.Is(err, errStoreDown) {
		t.Errorf("Classify() error = %v, want errStoreDown", err)
	}
	_, err = c.Classify(context.Background(), classifier.Query{Text: "x + 1 = 2", GradeLevel: taxonomy.GradeJunior1})
	if !errors.Is(err, errStoreDown) {
		t.Errorf("Classify(grade) error = %v, want errStoreDown", err)
	}
}

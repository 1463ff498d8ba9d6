// Package classifier ranks knowledge points against free-form question text
// using additive keyword, concept and grade heuristics.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/p-n-ai/pai-homework/internal/taxonomy"
)

const (
	defaultSubject = "数学"
	defaultLimit   = 3
)

// Query is the input to Classify and BestKnowledgePoints.
type Query struct {
	Text       string
	GradeLevel taxonomy.GradeLevel
	SubjectID  int64
	Limit      int
}

// Match is a scored candidate.
type Match struct {
	KnowledgePoint taxonomy.KnowledgePoint `json:"knowledge_point"`
	Score          int                     `json:"score"`
	MatchReasons   []string                `json:"match_reasons"`
}

// Suggestion is a knowledge point worth creating for an unrecognised topic.
type Suggestion struct {
	Name       string              `json:"name"`
	GradeLevel taxonomy.GradeLevel `json:"grade_level"`
}

// Config holds dependencies for the classifier.
type Config struct {
	Store          taxonomy.Store
	DefaultSubject string // subject used when a query names neither grade nor subject (default 数学)
	ResultLimit    int    // matches returned when Query.Limit is zero (default 3)
}

// Classifier scores knowledge points from a taxonomy store.
type Classifier struct {
	store          taxonomy.Store
	defaultSubject string
	limit          int
}

// New creates a classifier.
func New(cfg Config) *Classifier {
	subject := cfg.DefaultSubject
	if subject == "" {
		subject = defaultSubject
	}
	limit := cfg.ResultLimit
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Classifier{store: cfg.Store, defaultSubject: subject, limit: limit}
}

func (c *Classifier) limitFor(q Query) int {
	if q.Limit > 0 {
		return q.Limit
	}
	return c.limit
}

// Classify returns the best-scoring knowledge points for q, highest first.
// Empty text yields an empty result.
func (c *Classifier) Classify(ctx context.Context, q Query) ([]Match, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}

	pool, err := c.candidates(ctx, q)
	if err != nil {
		return nil, err
	}

	text := normalize(q.Text)
	var matches []Match
	for _, kp := range pool {
		m := score(text, q.GradeLevel, kp)
		if m.Score > 0 {
			matches = append(matches, m)
		}
	}
	slices.SortStableFunc(matches, func(a, b Match) int { return b.Score - a.Score })

	if limit := c.limitFor(q); len(matches) > limit {
		matches = matches[:limit]
	}

	slog.Debug("classified question",
		"text_len", len(q.Text),
		"grade", q.GradeLevel,
		"candidates", len(pool),
		"matches", len(matches),
	)
	return matches, nil
}

// Score computes the match of a single knowledge point against text. It is
// the pure scoring step of Classify.
func Score(text string, grade taxonomy.GradeLevel, kp taxonomy.KnowledgePoint) Match {
	return score(normalize(text), grade, kp)
}

// score expects text to be normalized already.
func score(text string, grade taxonomy.GradeLevel, kp taxonomy.KnowledgePoint) Match {
	m := Match{KnowledgePoint: kp}

	if grade != "" {
		if d, ok := taxonomy.GradeDistance(grade, kp.GradeLevel); ok {
			for _, gb := range gradeBonuses {
				if d <= gb.Distance {
					m.Score += gb.Bonus
					if d == 0 {
						m.MatchReasons = append(m.MatchReasons, fmt.Sprintf("年级匹配: %s", kp.GradeLevel))
					} else {
						m.MatchReasons = append(m.MatchReasons, fmt.Sprintf("年级相近: 相差%d", d))
					}
					break
				}
			}
		}
	}

	kpText := normalize(kp.Name + " " + kp.Description)

	for _, phrase := range keyPhrases {
		if strings.Contains(text, phrase) && strings.Contains(kpText, phrase) {
			m.Score += keyPhraseBonus
			m.MatchReasons = append(m.MatchReasons, "关键短语: "+phrase)
			return m
		}
	}

	var matched []string
	for _, kw := range keywords(kpText) {
		if strings.Contains(text, kw) {
			matched = append(matched, kw)
			m.Score += keywordBonus
		}
	}
	if len(matched) > 0 {
		m.MatchReasons = append(m.MatchReasons, "关键词匹配: "+strings.Join(matched, ", "))
	}

	for _, rule := range conceptRules {
		if !strings.Contains(kpText, rule.Concept) {
			continue
		}
		var hits []string
		for _, term := range rule.Terms {
			if strings.Contains(text, term) {
				hits = append(hits, term)
				m.Score += conceptBonus
			}
		}
		if len(hits) > 0 {
			m.MatchReasons = append(m.MatchReasons, fmt.Sprintf("概念匹配: %s - %s", rule.Concept, strings.Join(hits, ", ")))
		}
	}

	if containsAny(text, mathSymbols) {
		for _, rule := range symbolRules {
			if !containsAny(kpText, rule.Candidate) {
				continue
			}
			if len(rule.Text) > 0 && !containsAny(text, rule.Text) {
				continue
			}
			m.Score += rule.Bonus
			m.MatchReasons = append(m.MatchReasons, rule.Reason)
		}
	}

	return m
}

// candidates builds the pool ordered by grade then name. With neither grade
// nor subject the default subject is used, or every knowledge point when that
// subject does not exist.
func (c *Classifier) candidates(ctx context.Context, q Query) ([]taxonomy.KnowledgePoint, error) {
	f := taxonomy.KnowledgePointFilter{SubjectID: q.SubjectID, GradeLevel: q.GradeLevel}
	if q.GradeLevel == "" && q.SubjectID == 0 {
		id, err := c.defaultSubjectID(ctx)
		if err != nil {
			return nil, err
		}
		f.SubjectID = id
	}

	pool, err := c.store.ListKnowledgePoints(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return pool, nil
}

// defaultSubjectID returns 0 when the default subject does not exist.
func (c *Classifier) defaultSubjectID(ctx context.Context) (int64, error) {
	subj, err := c.store.SubjectByName(ctx, c.defaultSubject)
	if errors.Is(err, taxonomy.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lookup default subject: %w", err)
	}
	return subj.ID, nil
}

// BestKnowledgePoints is Classify without scores. When nothing matches it
// falls back to the generic thinking-method points, then to the first points
// of the query's subject (or the default subject) by grade and name.
func (c *Classifier) BestKnowledgePoints(ctx context.Context, q Query) ([]taxonomy.KnowledgePoint, error) {
	matches, err := c.Classify(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		out := make([]taxonomy.KnowledgePoint, len(matches))
		for i, m := range matches {
			out[i] = m.KnowledgePoint
		}
		return out, nil
	}

	limit := c.limitFor(q)
	generic, err := c.store.KnowledgePointsByName(ctx, genericNames, limit)
	if err != nil {
		return nil, fmt.Errorf("lookup generic knowledge points: %w", err)
	}
	if len(generic) > 0 {
		return generic, nil
	}

	subjectID := q.SubjectID
	if subjectID == 0 {
		subjectID, err = c.defaultSubjectID(ctx)
		if err != nil {
			return nil, err
		}
	}
	if subjectID == 0 {
		return nil, nil
	}

	kps, err := c.store.ListKnowledgePoints(ctx, taxonomy.KnowledgePointFilter{SubjectID: subjectID, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list subject knowledge points: %w", err)
	}
	return kps, nil
}

// SuggestNewKnowledgePoints scans text for advanced topics that usually have
// no knowledge point yet.
func SuggestNewKnowledgePoints(text string) []Suggestion {
	text = normalize(text)
	var out []Suggestion
	for _, st := range specialTerms {
		if strings.Contains(text, st.Term) {
			out = append(out, Suggestion{Name: st.Name, GradeLevel: st.Grade})
		}
	}
	return out
}

// ResolveKnowledgePoints get-or-creates subjectName (the default subject when
// empty) and a knowledge point for each name at grade. Blank and repeated
// names are skipped.
func (c *Classifier) ResolveKnowledgePoints(ctx context.Context, subjectName string, grade taxonomy.GradeLevel, names []string) ([]taxonomy.KnowledgePoint, error) {
	subjectName = strings.TrimSpace(subjectName)
	if subjectName == "" {
		subjectName = c.defaultSubject
	}
	subj, err := c.store.EnsureSubject(ctx, taxonomy.Subject{Name: subjectName})
	if err != nil {
		return nil, fmt.Errorf("resolve subject: %w", err)
	}

	seen := make(map[string]bool, len(names))
	var out []taxonomy.KnowledgePoint
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		kp, created, err := c.store.EnsureKnowledgePoint(ctx, taxonomy.KnowledgePoint{
			Name:        name,
			Description: subj.Name + " - " + name,
			SubjectID:   subj.ID,
			GradeLevel:  grade,
		})
		if err != nil {
			return nil, fmt.Errorf("resolve knowledge point %q: %w", name, err)
		}
		if created {
			slog.Info("knowledge point created", "id", kp.ID, "name", kp.Name, "subject", subj.Name, "grade", kp.GradeLevel)
		}
		out = append(out, kp)
	}
	return out, nil
}

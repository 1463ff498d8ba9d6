package mastery_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/p-n-ai/pai-homework/internal/mastery"
	"github.com/p-n-ai/pai-homework/internal/taxonomy"
)

type fakeStudents map[int64]bool

func (f fakeStudents) StudentExists(_ context.Context, id int64) (bool, error) {
	return f[id], nil
}

type fixture struct {
	tracker *mastery.Tracker
	math    taxonomy.Subject
	kps     []taxonomy.KnowledgePoint
}

func newFixture(t *testing.T, store mastery.Store) fixture {
	t.Helper()
	ctx := context.Background()
	tax := taxonomy.NewMemoryStore()
	math, _ := tax.EnsureSubject(ctx, taxonomy.Subject{Name: "数学"})
	physics, _ := tax.EnsureSubject(ctx, taxonomy.Subject{Name: "物理"})

	var kps []taxonomy.KnowledgePoint
	for _, kp := range []taxonomy.KnowledgePoint{
		{Name: "一元一次方程-解法", SubjectID: math.ID, GradeLevel: taxonomy.GradeJunior1},
		{Name: "二次函数", SubjectID: math.ID, GradeLevel: taxonomy.GradeJunior3},
		{Name: "力学-牛顿定律", SubjectID: physics.ID, GradeLevel: taxonomy.GradeJunior2},
	} {
		out, _, err := tax.EnsureKnowledgePoint(ctx, kp)
		if err != nil {
			t.Fatalf("EnsureKnowledgePoint() error = %v", err)
		}
		kps = append(kps, out)
	}

	tracker := mastery.NewTracker(mastery.TrackerConfig{
		Store:    store,
		Students: fakeStudents{1: true, 2: true},
		Taxonomy: tax,
	})
	return fixture{tracker: tracker, math: math, kps: kps}
}

func TestTracker_RecordAttempt(t *testing.T) {
	f := newFixture(t, mastery.NewMemoryStore())
	ctx := context.Background()
	kp := f.kps[0].ID

	r, err := f.tracker.RecordAttempt(ctx, 1, kp, true)
	if err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}
	if r.MasteryLevel != 100 || r.TotalAttempts != 1 {
		t.Errorf("first RecordAttempt() = %+v, want level 100, total 1", r)
	}

	r, err = f.tracker.RecordAttempt(ctx, 1, kp, false)
	if err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}
	if math.Abs(r.MasteryLevel-85) > epsilon || r.TotalAttempts != 2 || r.CorrectAttempts != 1 {
		t.Errorf("second RecordAttempt() = %+v, want level 85, 1/2", r)
	}

	stored, ok, err := f.tracker.Get(ctx, 1, kp)
	if err != nil || !ok {
		t.Fatalf("Get() = (%v, %v)", ok, err)
	}
	if stored.MasteryLevel != r.MasteryLevel {
		t.Errorf("stored level = %v, want %v", stored.MasteryLevel, r.MasteryLevel)
	}
}

func TestTracker_RejectsUnknownReferences(t *testing.T) {
	f := newFixture(t, mastery.NewMemoryStore())
	ctx := context.Background()

	if _, err := f.tracker.RecordAttempt(ctx, 99, f.kps[0].ID, true); !errors.Is(err, mastery.ErrUnknownStudent) {
		t.Errorf("RecordAttempt(unknown student) error = %v, want ErrUnknownStudent", err)
	}
	if _, err := f.tracker.RecordAttempt(ctx, 1, 9999, true); !errors.Is(err, mastery.ErrUnknownKnowledgePoint) {
		t.Errorf("RecordAttempt(unknown kp) error = %v, want ErrUnknownKnowledgePoint", err)
	}

	// Nothing is written when any knowledge point of an exercise is unknown.
	_, err := f.tracker.RecordExerciseAttempt(ctx, 1, []int64{f.kps[0].ID, 9999}, true)
	if !errors.Is(err, mastery.ErrUnknownKnowledgePoint) {
		t.Errorf("RecordExerciseAttempt() error = %v, want ErrUnknownKnowledgePoint", err)
	}
	if _, ok, _ := f.tracker.Get(ctx, 1, f.kps[0].ID); ok {
		t.Error("RecordExerciseAttempt() wrote a record despite failing validation")
	}
}

func TestTracker_RecordExerciseAttempt(t *testing.T) {
	f := newFixture(t, mastery.NewMemoryStore())
	ctx := context.Background()

	records, err := f.tracker.RecordExerciseAttempt(ctx, 1, []int64{f.kps[0].ID, f.kps[1].ID}, false)
	if err != nil {
		t.Fatalf("RecordExerciseAttempt() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("RecordExerciseAttempt() = %d records, want 2", len(records))
	}
	for _, r := range records {
		if r.MasteryLevel != 0 || r.TotalAttempts != 1 {
			t.Errorf("record = %+v, want level 0, total 1", r)
		}
	}
}

func TestTracker_ForStudentAndWeak(t *testing.T) {
	f := newFixture(t, mastery.NewMemoryStore())
	ctx := context.Background()

	_, _ = f.tracker.RecordAttempt(ctx, 1, f.kps[0].ID, true)  // 100
	_, _ = f.tracker.RecordAttempt(ctx, 1, f.kps[1].ID, false) // 0
	_, _ = f.tracker.RecordAttempt(ctx, 1, f.kps[2].ID, true)
	_, _ = f.tracker.RecordAttempt(ctx, 1, f.kps[2].ID, false) // 85
	_, _ = f.tracker.RecordAttempt(ctx, 2, f.kps[1].ID, true)

	all, err := f.tracker.ForStudent(ctx, 1, mastery.Filter{})
	if err != nil {
		t.Fatalf("ForStudent() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ForStudent() = %d entries, want 3", len(all))
	}
	if all[0].KnowledgePoint.Name != "二次函数" || all[2].KnowledgePoint.Name != "一元一次方程-解法" {
		t.Errorf("ForStudent() order = %s, %s, %s", all[0].KnowledgePoint.Name, all[1].KnowledgePoint.Name, all[2].KnowledgePoint.Name)
	}

	mathOnly, err := f.tracker.ForStudent(ctx, 1, mastery.Filter{SubjectID: f.math.ID})
	if err != nil || len(mathOnly) != 2 {
		t.Errorf("ForStudent(math) = (%d, %v), want 2", len(mathOnly), err)
	}

	weak, err := f.tracker.WeakKnowledgePoints(ctx, 1, 0)
	if err != nil {
		t.Fatalf("WeakKnowledgePoints() error = %v", err)
	}
	if len(weak) != 1 || weak[0].KnowledgePointID != f.kps[1].ID {
		t.Errorf("WeakKnowledgePoints() = %+v, want only 二次函数", weak)
	}

	weak, _ = f.tracker.WeakKnowledgePoints(ctx, 1, 90)
	if len(weak) != 2 {
		t.Errorf("WeakKnowledgePoints(90) = %d entries, want 2", len(weak))
	}

	if _, err := f.tracker.ForStudent(ctx, 42, mastery.Filter{}); !errors.Is(err, mastery.ErrUnknownStudent) {
		t.Errorf("ForStudent(unknown) error = %v, want ErrUnknownStudent", err)
	}
}

func testConcurrentAttempts(t *testing.T, tracker *mastery.Tracker, studentID, kpID int64) {
	t.Helper()
	const n = 40
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tracker.RecordAttempt(ctx, studentID, kpID, i%2 == 0); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("RecordAttempt() error = %v", err)
	}

	r, ok, err := tracker.Get(ctx, studentID, kpID)
	if err != nil || !ok {
		t.Fatalf("Get() = (%v, %v)", ok, err)
	}
	if r.TotalAttempts != n || r.CorrectAttempts != n/2 {
		t.Errorf("attempts = %d/%d, want %d/%d (lost update)", r.CorrectAttempts, r.TotalAttempts, n/2, n)
	}
}

func TestTracker_ConcurrentAttemptsAreNotLost(t *testing.T) {
	f := newFixture(t, mastery.NewMemoryStore())
	testConcurrentAttempts(t, f.tracker, 1, f.kps[0].ID)
}

package grading

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/p-n-ai/pai-homework/internal/ai"
	"github.com/p-n-ai/pai-homework/internal/mastery"
	"github.com/p-n-ai/pai-homework/internal/practice"
	"github.com/p-n-ai/pai-homework/internal/realtime"
)

var (
	ErrQueueFull    = errors.New("grading queue is full")
	ErrQueueClosed  = errors.New("grading queue is closed")
	ErrTaskNotFound = errors.New("grading task not found")
	// ErrSessionFrozen rejects answers to a session that is being finalized.
	ErrSessionFrozen = errors.New("session is being finalized")
)

// Status is the lifecycle state of a grading task.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

func (s Status) finished() bool {
	return s == StatusDone || s == StatusFailed
}

const (
	defaultWorkers   = 4
	defaultQueueSize = 64
	defaultBackoff   = 2 * time.Second
	defaultRetention = time.Hour
	persistTimeout   = 15 * time.Second
)

// Submission is an answer handed to the queue.
type Submission struct {
	SessionID      int64
	ExerciseID     int64
	AnswerText     string
	AnswerImage    []byte
	ImageType      string
	ResponseTimeMs int
}

// Task is the externally visible state of one submission.
type Task struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	SessionID    int64     `json:"session_id"`
	StudentID    int64     `json:"student_id"`
	ExerciseID   int64     `json:"exercise_id"`
	AttemptID    int64     `json:"attempt_id"`
	Tries        int       `json:"tries"`
	Analysis     *Analysis `json:"analysis,omitempty"`
	PointsEarned float64   `json:"points_earned"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Analyzer produces a verdict for an answer.
type Analyzer interface {
	Grade(ctx context.Context, req Request) (Analysis, error)
}

// MasteryRecorder folds a graded answer into the student's mastery.
type MasteryRecorder interface {
	RecordExerciseAttempt(ctx context.Context, studentID int64, knowledgePointIDs []int64, correct bool) ([]mastery.Record, error)
}

// Publisher receives live session events.
type Publisher interface {
	Publish(ev realtime.Event)
}

// QueueConfig holds dependencies and sizing for the grading queue.
type QueueConfig struct {
	Analyzer  Analyzer
	Scorer    *practice.Scorer
	Mastery   MasteryRecorder
	Events    EventLogger
	Publisher Publisher

	Workers      int
	Size         int
	MaxRetries   int
	RetryBackoff time.Duration
	// Retention is how long finished tasks stay queryable.
	Retention time.Duration
	Now       func() time.Time
}

type job struct {
	taskID      string
	fingerprint [32]byte
	sub         Submission
	studentID   int64
	attemptID   int64
}

type sessionWait struct {
	n    int
	done chan struct{}
}

// Queue grades submissions on a fixed set of workers. Each accepted
// submission becomes one pending attempt that is graded exactly once.
type Queue struct {
	analyzer   Analyzer
	scorer     *practice.Scorer
	mastery    MasteryRecorder
	events     EventLogger
	publisher  Publisher
	maxRetries int
	backoff    time.Duration
	retention  time.Duration
	now        func() time.Time

	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool

	mu       sync.Mutex
	reserved int
	tasks    map[string]*Task
	inflight map[[32]byte]string
	waits    map[int64]*sessionWait
	frozen   map[int64]int
}

// NewQueue creates the queue and starts its workers.
func NewQueue(cfg QueueConfig) *Queue {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	size := cfg.Size
	if size <= 0 {
		size = defaultQueueSize
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		analyzer:   cfg.Analyzer,
		scorer:     cfg.Scorer,
		mastery:    cfg.Mastery,
		events:     events,
		publisher:  cfg.Publisher,
		maxRetries: max(cfg.MaxRetries, 0),
		backoff:    backoff,
		retention:  retention,
		now:        now,
		jobs:       make(chan job, size),
		ctx:        ctx,
		cancel:     cancel,
		tasks:      make(map[string]*Task),
		inflight:   make(map[[32]byte]string),
		waits:      make(map[int64]*sessionWait),
		frozen:     make(map[int64]int),
	}

	q.wg.Add(workers)
	for range workers {
		go q.worker()
	}
	slog.Info("grading queue started", "workers", workers, "size", size, "max_retries", q.maxRetries)
	return q
}

// Submit records a pending attempt and queues it for grading. A duplicate of
// a submission that is still queued or running returns the existing task id.
func (q *Queue) Submit(ctx context.Context, sub Submission) (string, error) {
	if strings.TrimSpace(sub.AnswerText) == "" && len(sub.AnswerImage) == 0 {
		return "", ErrEmptyAnswer
	}

	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return "", ErrQueueClosed
	}

	sess, err := q.scorer.Store().GetSession(ctx, sub.SessionID)
	if err != nil {
		return "", err
	}
	if sess.Status == practice.SessionCompleted {
		return "", fmt.Errorf("session %d: %w", sub.SessionID, practice.ErrSessionCompleted)
	}

	fp := fingerprint(sub)
	now := q.now()

	q.mu.Lock()
	q.pruneLocked(now)
	if q.frozen[sub.SessionID] > 0 {
		q.mu.Unlock()
		return "", fmt.Errorf("session %d: %w", sub.SessionID, ErrSessionFrozen)
	}
	if id, ok := q.inflight[fp]; ok {
		q.mu.Unlock()
		slog.Debug("duplicate grading submission", "task_id", id, "session_id", sub.SessionID)
		return id, nil
	}
	if q.reserved >= cap(q.jobs) {
		q.mu.Unlock()
		return "", ErrQueueFull
	}
	q.reserved++
	task := &Task{
		ID:         uuid.NewString(),
		Status:     StatusQueued,
		SessionID:  sub.SessionID,
		StudentID:  sess.StudentID,
		ExerciseID: sub.ExerciseID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	q.tasks[task.ID] = task
	q.inflight[fp] = task.ID
	q.addWaitLocked(sub.SessionID)
	q.mu.Unlock()

	attempt, err := q.scorer.SubmitAttempt(ctx, sub.SessionID, sub.ExerciseID, sub.AnswerText, sub.ResponseTimeMs)
	if err != nil {
		q.mu.Lock()
		q.reserved--
		delete(q.tasks, task.ID)
		delete(q.inflight, fp)
		q.doneWaitLocked(sub.SessionID)
		q.mu.Unlock()
		return "", err
	}

	q.mu.Lock()
	task.AttemptID = attempt.ID
	q.mu.Unlock()

	// The reservation guarantees buffer space.
	q.jobs <- job{taskID: task.ID, fingerprint: fp, sub: sub, studentID: sess.StudentID, attemptID: attempt.ID}

	slog.Info("answer queued for grading",
		"task_id", task.ID,
		"session_id", sub.SessionID,
		"exercise_id", sub.ExerciseID,
		"attempt_id", attempt.ID,
	)
	return task.ID, nil
}

// Task returns a snapshot of the task's state.
func (q *Queue) Task(id string) (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	return *t, nil
}

// WaitForSession blocks until every task of the session has finished.
func (q *Queue) WaitForSession(ctx context.Context, sessionID int64) error {
	q.mu.Lock()
	w := q.waits[sessionID]
	q.mu.Unlock()
	if w == nil {
		return nil
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FreezeSession stops the queue from accepting answers for the session, then
// waits for the session's queued and running tasks to finish. The caller
// must call release once it is done with the session. On error the freeze
// is already lifted.
func (q *Queue) FreezeSession(ctx context.Context, sessionID int64) (release func(), err error) {
	q.mu.Lock()
	q.frozen[sessionID]++
	w := q.waits[sessionID]
	q.mu.Unlock()

	var once sync.Once
	release = func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			if q.frozen[sessionID]--; q.frozen[sessionID] <= 0 {
				delete(q.frozen, sessionID)
			}
		})
	}

	if w != nil {
		select {
		case <-w.done:
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

// Close stops accepting submissions and waits for queued work to drain. If
// ctx ends first, in-flight model calls are cancelled and ctx's error is
// returned once the workers exit.
func (q *Queue) Close(ctx context.Context) error {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		slog.Info("grading queue drained")
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		slog.Warn("grading queue closed before draining", "error", ctx.Err())
		return ctx.Err()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.mu.Lock()
		q.reserved--
		if t, ok := q.tasks[j.taskID]; ok {
			t.Status = StatusRunning
			t.UpdatedAt = q.now()
		}
		q.mu.Unlock()

		q.process(j)
	}
}

func (q *Queue) process(j job) {
	logger := slog.With("task_id", j.taskID, "session_id", j.sub.SessionID, "attempt_id", j.attemptID)

	// Results are persisted even when shutdown cancels the model call.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(q.ctx), persistTimeout)
	defer cancel()

	ex, err := q.scorer.Store().GetExercise(persistCtx, j.sub.ExerciseID)
	if err != nil {
		q.fail(persistCtx, j, 0, err)
		return
	}

	analysis, tries, err := q.grade(q.ctx, Request{
		Exercise:    ex,
		AnswerText:  j.sub.AnswerText,
		AnswerImage: j.sub.AnswerImage,
		ImageType:   j.sub.ImageType,
	})
	if err != nil {
		q.fail(persistCtx, j, tries, err)
		return
	}
	correct := analysis.IsCorrect

	attempt, gradedEx, err := q.scorer.CompleteAttempt(persistCtx, j.attemptID, correct, analysis.JSON())
	if err != nil {
		q.fail(persistCtx, j, tries, fmt.Errorf("complete attempt: %w", err))
		return
	}
	scores, err := q.scorer.RecordSessionAnswer(persistCtx, j.sub.SessionID, gradedEx, correct, attempt.PointsEarned)
	if err != nil {
		q.finish(j, StatusFailed, tries, &analysis, attempt.PointsEarned, err)
		logger.Error("record session answer failed", "error", err)
		return
	}
	var records []mastery.Record
	if q.mastery != nil {
		records, err = q.mastery.RecordExerciseAttempt(persistCtx, j.studentID, gradedEx.KnowledgePointIDs, correct)
		if err != nil {
			q.finish(j, StatusFailed, tries, &analysis, attempt.PointsEarned, err)
			logger.Error("update mastery failed", "error", err)
			return
		}
	}

	data := map[string]any{
		"task_id":                j.taskID,
		"attempt_id":             attempt.ID,
		"exercise_id":            gradedEx.ID,
		"question_number":        attempt.QuestionNumber,
		"is_correct":             correct,
		"points_earned":          attempt.PointsEarned,
		"analysis":               analysis,
		"knowledge_point_scores": scores,
		"mastery":                records,
	}
	// Events go out before the task finishes so session waiters see them first.
	q.logEvent(persistCtx, EventAnswerGraded, j, data)
	q.publish(realtime.EventAttemptGraded, j.sub.SessionID, data)
	q.finish(j, StatusDone, tries, &analysis, attempt.PointsEarned, nil)

	logger.Info("answer graded",
		"is_correct", correct,
		"points_earned", attempt.PointsEarned,
		"tries", tries,
	)
}

// fail closes the attempt as wrong so it never stays pending.
func (q *Queue) fail(ctx context.Context, j job, tries int, cause error) {
	analysis := FailedAnalysis(cause)
	if _, err := q.scorer.FailAttempt(ctx, j.attemptID, analysis.JSON()); err != nil {
		cause = errors.Join(cause, err)
	}
	data := map[string]any{
		"task_id":    j.taskID,
		"attempt_id": j.attemptID,
		"error":      cause.Error(),
	}
	q.logEvent(ctx, EventGradingFailed, j, data)
	q.publish(realtime.EventGradingFailed, j.sub.SessionID, data)
	q.finish(j, StatusFailed, tries, &analysis, 0, cause)

	slog.Error("grading failed",
		"task_id", j.taskID,
		"session_id", j.sub.SessionID,
		"attempt_id", j.attemptID,
		"tries", tries,
		"error", cause,
	)
}

func (q *Queue) grade(ctx context.Context, req Request) (Analysis, int, error) {
	if q.analyzer == nil {
		return Analysis{}, 0, ai.ErrNoProvider
	}
	for try := 1; ; try++ {
		a, err := q.analyzer.Grade(ctx, req)
		if err == nil {
			return a, try, nil
		}
		if try > q.maxRetries || !retryable(err) || ctx.Err() != nil {
			return Analysis{}, try, err
		}

		delay := q.backoff << (try - 1)
		slog.Warn("grading attempt failed, retrying",
			"exercise_id", req.Exercise.ID,
			"try", try,
			"delay", delay,
			"error", err,
		)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Analysis{}, try, ctx.Err()
		}
	}
}

func retryable(err error) bool {
	if errors.Is(err, ErrEmptyAnswer) || errors.Is(err, ai.ErrNoProvider) {
		return false
	}
	var apiErr *ai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

func (q *Queue) finish(j job, status Status, tries int, analysis *Analysis, points float64, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.tasks[j.taskID]; ok {
		t.Status = status
		t.Tries = tries
		t.Analysis = analysis
		t.PointsEarned = points
		if err != nil {
			t.Error = err.Error()
		}
		t.UpdatedAt = q.now()
	}
	delete(q.inflight, j.fingerprint)
	q.doneWaitLocked(j.sub.SessionID)
}

func (q *Queue) logEvent(ctx context.Context, eventType string, j job, data map[string]any) {
	err := q.events.LogEvent(ctx, Event{
		SessionID: j.sub.SessionID,
		StudentID: j.studentID,
		EventType: eventType,
		Data:      data,
	})
	if err != nil {
		slog.Warn("log grading event failed", "type", eventType, "task_id", j.taskID, "error", err)
	}
}

func (q *Queue) publish(eventType string, sessionID int64, data map[string]any) {
	if q.publisher == nil {
		return
	}
	q.publisher.Publish(realtime.Event{Type: eventType, SessionID: sessionID, Data: data, Time: q.now()})
}

func (q *Queue) addWaitLocked(sessionID int64) {
	w, ok := q.waits[sessionID]
	if !ok {
		w = &sessionWait{done: make(chan struct{})}
		q.waits[sessionID] = w
	}
	w.n++
}

func (q *Queue) doneWaitLocked(sessionID int64) {
	w, ok := q.waits[sessionID]
	if !ok {
		return
	}
	w.n--
	if w.n == 0 {
		close(w.done)
		delete(q.waits, sessionID)
	}
}

func (q *Queue) pruneLocked(now time.Time) {
	cutoff := now.Add(-q.retention)
	for id, t := range q.tasks {
		if t.Status.finished() && t.UpdatedAt.Before(cutoff) {
			delete(q.tasks, id)
		}
	}
}

// fingerprint identifies a submission's content for duplicate detection.
func fingerprint(sub Submission) [32]byte {
	h, _ := blake2b.New256(nil)
	var ids [16]byte
	binary.BigEndian.PutUint64(ids[:8], uint64(sub.SessionID))
	binary.BigEndian.PutUint64(ids[8:], uint64(sub.ExerciseID))
	h.Write(ids[:])
	h.Write([]byte(strings.TrimSpace(sub.AnswerText)))
	h.Write([]byte{0})
	h.Write(sub.AnswerImage)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

package practice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresStore is a PostgreSQL-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed practice store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (s *PostgresStore) CreateStudent(ctx context.Context, st Student) (Student, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if strings.TrimSpace(st.Nickname) == "" {
		return Student{}, fmt.Errorf("student nickname is required")
	}
	st.GradeLevel = st.GradeLevel.Canonical()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO students (nickname, grade_level) VALUES ($1, $2) RETURNING id, created_at`,
		st.Nickname, string(st.GradeLevel),
	).Scan(&st.ID, &st.CreatedAt)
	if err != nil {
		return Student{}, fmt.Errorf("insert student: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) GetStudent(ctx context.Context, id int64) (Student, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var st Student
	err := s.pool.QueryRow(ctx,
		`SELECT id, nickname, grade_level, created_at FROM students WHERE id = $1`, id,
	).Scan(&st.ID, &st.Nickname, &st.GradeLevel, &st.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Student{}, fmt.Errorf("student %d: %w", id, ErrStudentNotFound)
	}
	if err != nil {
		return Student{}, fmt.Errorf("get student: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) StudentExists(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM students WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check student: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) CreateExercise(ctx context.Context, e Exercise) (Exercise, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if strings.TrimSpace(e.QuestionText) == "" {
		return Exercise{}, fmt.Errorf("exercise question text is required")
	}
	if e.Difficulty == "" {
		e.Difficulty = DifficultyMedium
	}
	e.GradeLevel = e.GradeLevel.Canonical()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO exercises (title, subject_id, grade_level, difficulty, question_text, answer_text, answer_steps)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id, created_at`,
			e.Title, e.SubjectID, string(e.GradeLevel), string(e.Difficulty), e.QuestionText, e.AnswerText, e.AnswerSteps,
		).Scan(&e.ID, &e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert exercise: %w", err)
		}
		for i, kpID := range e.KnowledgePointIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO exercise_knowledge_points (exercise_id, knowledge_point_id, position)
				 VALUES ($1, $2, $3)
				 ON CONFLICT DO NOTHING`,
				e.ID, kpID, i,
			); err != nil {
				return fmt.Errorf("link knowledge point %d: %w", kpID, err)
			}
		}
		return nil
	})
	if err != nil {
		return Exercise{}, err
	}
	return e, nil
}

const exerciseSelect = `SELECT e.id, e.title, e.subject_id, e.grade_level, e.difficulty, e.question_text,
	e.answer_text, e.answer_steps, e.total_attempts, e.correct_attempts, e.created_at,
	ARRAY(SELECT ek.knowledge_point_id FROM exercise_knowledge_points ek
	      WHERE ek.exercise_id = e.id ORDER BY ek.position)
	FROM exercises e`

func scanExercise(row pgx.Row) (Exercise, error) {
	var e Exercise
	err := row.Scan(&e.ID, &e.Title, &e.SubjectID, &e.GradeLevel, &e.Difficulty, &e.QuestionText,
		&e.AnswerText, &e.AnswerSteps, &e.TotalAttempts, &e.CorrectAttempts, &e.CreatedAt, &e.KnowledgePointIDs)
	return e, err
}

func (s *PostgresStore) GetExercise(ctx context.Context, id int64) (Exercise, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	e, err := scanExercise(s.pool.QueryRow(ctx, exerciseSelect+` WHERE e.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Exercise{}, fmt.Errorf("exercise %d: %w", id, ErrExerciseNotFound)
	}
	if err != nil {
		return Exercise{}, fmt.Errorf("get exercise: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListExercises(ctx context.Context, f ExerciseFilter) ([]Exercise, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	kpIDs := f.KnowledgePointIDs
	if kpIDs == nil {
		kpIDs = []int64{}
	}
	rows, err := s.pool.Query(ctx, exerciseSelect+`
		WHERE ($1::bigint = 0 OR e.subject_id = $1::bigint)
		  AND ($2::text = '' OR e.difficulty = $2::text)
		  AND (cardinality($3::bigint[]) = 0 OR EXISTS (
		       SELECT 1 FROM exercise_knowledge_points ek
		       WHERE ek.exercise_id = e.id AND ek.knowledge_point_id = ANY($3::bigint[])))
		ORDER BY e.id`,
		f.SubjectID, string(f.Difficulty), kpIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("query exercises: %w", err)
	}
	defer rows.Close()

	var out []Exercise
	for rows.Next() {
		e, err := scanExercise(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exercise: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exercises: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) RecordExerciseResult(ctx context.Context, exerciseID int64, correct bool) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`UPDATE exercises
		 SET total_attempts = total_attempts + 1,
		     correct_attempts = correct_attempts + CASE WHEN $2 THEN 1 ELSE 0 END
		 WHERE id = $1`,
		exerciseID, correct,
	)
	if err != nil {
		return fmt.Errorf("update exercise counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("exercise %d: %w", exerciseID, ErrExerciseNotFound)
	}
	return nil
}

const sessionColumns = `id, student_id, status, start_time, end_time, total_questions, correct_answers, score`

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.StudentID, &sess.Status, &sess.StartTime, &sess.EndTime,
		&sess.TotalQuestions, &sess.CorrectAnswers, &sess.Score)
	return sess, err
}

func (s *PostgresStore) CreateSession(ctx context.Context, studentID int64) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	sess, err := scanSession(s.pool.QueryRow(ctx,
		`INSERT INTO practice_sessions (student_id, status) VALUES ($1, $2) RETURNING `+sessionColumns,
		studentID, string(SessionActive),
	))
	if isForeignKeyViolation(err) {
		return Session{}, fmt.Errorf("student %d: %w", studentID, ErrStudentNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id int64) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	sess, err := scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM practice_sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) ListStudentSessions(ctx context.Context, studentID int64, limit int) ([]Session, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM practice_sessions
		 WHERE student_id = $1
		 ORDER BY id DESC
		 LIMIT NULLIF($2::int, 0)`,
		studentID, max(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("list student sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateSessionScore(ctx context.Context, id int64, score float64) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `UPDATE practice_sessions SET score = $2 WHERE id = $1`, id, score)
	if err != nil {
		return fmt.Errorf("update session score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
	}
	return nil
}

const attemptColumns = `id, session_id, exercise_id, question_number, status, answer_text, points_earned, response_time_ms, analysis, created_at`

func scanAttempt(row pgx.Row) (Attempt, error) {
	var (
		a        Attempt
		analysis []byte
	)
	err := row.Scan(&a.ID, &a.SessionID, &a.ExerciseID, &a.QuestionNumber, &a.Status, &a.AnswerText,
		&a.PointsEarned, &a.ResponseTimeMs, &analysis, &a.CreatedAt)
	a.Analysis = analysis
	return a, err
}

func (s *PostgresStore) AddAttempt(ctx context.Context, a Attempt) (Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if a.Status == "" {
		a.Status = AttemptPending
	}

	var out Attempt
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// The session row lock serializes question numbering.
		var sessionID int64
		err := tx.QueryRow(ctx, `SELECT id FROM practice_sessions WHERE id = $1 FOR UPDATE`, a.SessionID).Scan(&sessionID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("session %d: %w", a.SessionID, ErrSessionNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}

		out, err = scanAttempt(tx.QueryRow(ctx,
			`INSERT INTO practice_attempts (session_id, exercise_id, question_number, status, answer_text, points_earned, response_time_ms, analysis)
			 SELECT $1::bigint, $2::bigint, COALESCE(MAX(question_number), 0) + 1, $3::text, $4::text, $5::double precision, $6::int, $7::jsonb
			 FROM practice_attempts WHERE session_id = $1::bigint
			 RETURNING `+attemptColumns,
			a.SessionID, a.ExerciseID, string(a.Status), a.AnswerText, a.PointsEarned, a.ResponseTimeMs, nullableJSON(a.Analysis),
		))
		if isForeignKeyViolation(err) {
			return fmt.Errorf("exercise %d: %w", a.ExerciseID, ErrExerciseNotFound)
		}
		if err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}
		return nil
	})
	if err != nil {
		return Attempt{}, err
	}
	return out, nil
}

func (s *PostgresStore) GetAttempt(ctx context.Context, id int64) (Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	a, err := scanAttempt(s.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM practice_attempts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Attempt{}, fmt.Errorf("attempt %d: %w", id, ErrAttemptNotFound)
	}
	if err != nil {
		return Attempt{}, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GradeAttempt(ctx context.Context, a Attempt) (Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	out, err := scanAttempt(s.pool.QueryRow(ctx,
		`UPDATE practice_attempts
		 SET status = $2, points_earned = $3, analysis = $4::jsonb
		 WHERE id = $1 AND status = $5
		 RETURNING `+attemptColumns,
		a.ID, string(a.Status), a.PointsEarned, nullableJSON(a.Analysis), string(AttemptPending),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetAttempt(ctx, a.ID); getErr != nil {
			return Attempt{}, getErr
		}
		return Attempt{}, fmt.Errorf("attempt %d: %w", a.ID, ErrAttemptAlreadyGraded)
	}
	if err != nil {
		return Attempt{}, fmt.Errorf("grade attempt: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) queryAttempts(ctx context.Context, query string, arg int64) ([]Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListAttempts(ctx context.Context, sessionID int64) ([]Attempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM practice_attempts WHERE session_id = $1 ORDER BY question_number, id`,
		sessionID)
}

func (s *PostgresStore) ListStudentAttempts(ctx context.Context, studentID int64) ([]Attempt, error) {
	return s.queryAttempts(ctx,
		`SELECT a.id, a.session_id, a.exercise_id, a.question_number, a.status, a.answer_text,
		        a.points_earned, a.response_time_ms, a.analysis, a.created_at
		 FROM practice_attempts a
		 JOIN practice_sessions s ON s.id = a.session_id
		 WHERE s.student_id = $1
		 ORDER BY a.id`,
		studentID)
}

const scoreColumns = `session_id, knowledge_point_id, total_questions, correct_answers, score, weight`

func scanScore(row pgx.Row) (KnowledgePointScore, error) {
	var sc KnowledgePointScore
	err := row.Scan(&sc.SessionID, &sc.KnowledgePointID, &sc.TotalQuestions, &sc.CorrectAnswers, &sc.Score, &sc.Weight)
	return sc, err
}

func (s *PostgresStore) UpsertSessionScore(ctx context.Context, sessionID, knowledgePointID int64, fn ScoreUpdateFunc) (KnowledgePointScore, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var out KnowledgePointScore
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Locking the session serializes every aggregate update within it.
		var id int64
		err := tx.QueryRow(ctx, `SELECT id FROM practice_sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("session %d: %w", sessionID, ErrSessionNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}

		current, err := scanScore(tx.QueryRow(ctx,
			`SELECT `+scoreColumns+` FROM session_knowledge_point_scores
			 WHERE session_id = $1 AND knowledge_point_id = $2`,
			sessionID, knowledgePointID,
		))
		exists := err == nil
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("get session score: %w", err)
		}

		out = fn(current, exists)
		out.SessionID, out.KnowledgePointID = sessionID, knowledgePointID
		_, err = tx.Exec(ctx,
			`INSERT INTO session_knowledge_point_scores (`+scoreColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (session_id, knowledge_point_id) DO UPDATE
			 SET total_questions = EXCLUDED.total_questions,
			     correct_answers = EXCLUDED.correct_answers,
			     score = EXCLUDED.score,
			     weight = EXCLUDED.weight`,
			sessionID, knowledgePointID, out.TotalQuestions, out.CorrectAnswers, out.Score, out.Weight,
		)
		if err != nil {
			return fmt.Errorf("upsert session score: %w", err)
		}
		return nil
	})
	if err != nil {
		return KnowledgePointScore{}, err
	}
	return out, nil
}

func (s *PostgresStore) ListSessionScores(ctx context.Context, sessionID int64) ([]KnowledgePointScore, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+scoreColumns+` FROM session_knowledge_point_scores
		 WHERE session_id = $1 ORDER BY knowledge_point_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query session scores: %w", err)
	}
	defer rows.Close()

	var out []KnowledgePointScore
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session score: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session scores: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ReplaceSessionScores(ctx context.Context, sess Session, scores []KnowledgePointScore) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE practice_sessions
			 SET status = $2, end_time = $3, total_questions = $4, correct_answers = $5, score = $6
			 WHERE id = $1`,
			sess.ID, string(sess.Status), sess.EndTime, sess.TotalQuestions, sess.CorrectAnswers, sess.Score,
		)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("session %d: %w", sess.ID, ErrSessionNotFound)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM session_knowledge_point_scores WHERE session_id = $1`, sess.ID); err != nil {
			return fmt.Errorf("clear session scores: %w", err)
		}

		batch := &pgx.Batch{}
		for _, sc := range scores {
			batch.Queue(
				`INSERT INTO session_knowledge_point_scores (`+scoreColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
				sess.ID, sc.KnowledgePointID, sc.TotalQuestions, sc.CorrectAnswers, sc.Score, sc.Weight,
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert session scores: %w", err)
		}
		return nil
	})
}

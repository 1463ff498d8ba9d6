package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresStore is a PostgreSQL-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed taxonomy store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) EnsureSubject(ctx context.Context, subj Subject) (Subject, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	name := strings.TrimSpace(subj.Name)
	if name == "" {
		return Subject{}, fmt.Errorf("subject name is required")
	}

	// ON CONFLICT DO UPDATE so RETURNING yields the existing row too.
	out := Subject{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO subjects (name, description)
		 VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, name, description, created_at`,
		name, subj.Description,
	).Scan(&out.ID, &out.Name, &out.Description, &out.CreatedAt)
	if err != nil {
		return Subject{}, fmt.Errorf("ensure subject: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetSubject(ctx context.Context, id int64) (Subject, error) {
	return s.subjectByQuery(ctx, `SELECT id, name, description, created_at FROM subjects WHERE id = $1`, id)
}

func (s *PostgresStore) SubjectByName(ctx context.Context, name string) (Subject, error) {
	return s.subjectByQuery(ctx, `SELECT id, name, description, created_at FROM subjects WHERE name = $1`, name)
}

func (s *PostgresStore) subjectByQuery(ctx context.Context, query string, arg any) (Subject, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var out Subject
	err := s.pool.QueryRow(ctx, query, arg).Scan(&out.ID, &out.Name, &out.Description, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subject{}, fmt.Errorf("subject %v: %w", arg, ErrNotFound)
		}
		return Subject{}, fmt.Errorf("get subject: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListSubjects(ctx context.Context) ([]Subject, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT id, name, description, created_at FROM subjects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	var out []Subject
	for rows.Next() {
		var subj Subject
		if err := rows.Scan(&subj.ID, &subj.Name, &subj.Description, &subj.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, subj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) EnsureKnowledgePoint(ctx context.Context, kp KnowledgePoint) (KnowledgePoint, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	kp.Name = strings.TrimSpace(kp.Name)
	if kp.Name == "" {
		return KnowledgePoint{}, false, fmt.Errorf("knowledge point name is required")
	}
	kp.GradeLevel = kp.GradeLevel.Canonical()

	out := KnowledgePoint{}
	var created bool
	err := s.pool.QueryRow(ctx,
		`INSERT INTO knowledge_points (name, description, subject_id, grade_level, grade_rank)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name, subject_id, grade_level) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, name, description, subject_id, grade_level, created_at, (xmax = 0)`,
		kp.Name, kp.Description, kp.SubjectID, string(kp.GradeLevel), kp.GradeLevel.rank(),
	).Scan(&out.ID, &out.Name, &out.Description, &out.SubjectID, &out.GradeLevel, &out.CreatedAt, &created)
	if err != nil {
		if isForeignKeyViolation(err) {
			return KnowledgePoint{}, false, fmt.Errorf("subject %d: %w", kp.SubjectID, ErrNotFound)
		}
		return KnowledgePoint{}, false, fmt.Errorf("ensure knowledge point: %w", err)
	}
	return out, created, nil
}

const knowledgePointColumns = `id, name, description, subject_id, grade_level, created_at`

func scanKnowledgePoint(row pgx.Row) (KnowledgePoint, error) {
	var kp KnowledgePoint
	err := row.Scan(&kp.ID, &kp.Name, &kp.Description, &kp.SubjectID, &kp.GradeLevel, &kp.CreatedAt)
	return kp, err
}

func (s *PostgresStore) GetKnowledgePoint(ctx context.Context, id int64) (KnowledgePoint, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	kp, err := scanKnowledgePoint(s.pool.QueryRow(ctx,
		`SELECT `+knowledgePointColumns+` FROM knowledge_points WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return KnowledgePoint{}, fmt.Errorf("knowledge point %d: %w", id, ErrNotFound)
		}
		return KnowledgePoint{}, fmt.Errorf("get knowledge point: %w", err)
	}
	return kp, nil
}

func (s *PostgresStore) ListKnowledgePoints(ctx context.Context, f KnowledgePointFilter) ([]KnowledgePoint, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var limit any
	if f.Limit > 0 {
		limit = f.Limit
	}
	return s.queryKnowledgePoints(ctx,
		`SELECT `+knowledgePointColumns+`
		 FROM knowledge_points
		 WHERE ($1::bigint = 0 OR subject_id = $1::bigint)
		   AND ($2::text = '' OR grade_level = $2::text)
		 ORDER BY grade_rank, name COLLATE "C", id
		 LIMIT $3`,
		f.SubjectID, string(f.GradeLevel.Canonical()), limit,
	)
}

func (s *PostgresStore) KnowledgePointsByName(ctx context.Context, names []string, limit int) ([]KnowledgePoint, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var lim any
	if limit > 0 {
		lim = limit
	}
	return s.queryKnowledgePoints(ctx,
		`SELECT `+knowledgePointColumns+`
		 FROM knowledge_points
		 WHERE name = ANY($1)
		 ORDER BY id
		 LIMIT $2`,
		names, lim,
	)
}

func (s *PostgresStore) queryKnowledgePoints(ctx context.Context, query string, args ...any) ([]KnowledgePoint, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query knowledge points: %w", err)
	}
	defer rows.Close()

	var out []KnowledgePoint
	for rows.Next() {
		kp, err := scanKnowledgePoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan knowledge point: %w", err)
		}
		out = append(out, kp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge points: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) EnsureExamPoint(ctx context.Context, ep ExamPoint) (ExamPoint, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	ep.Name = strings.TrimSpace(ep.Name)
	if ep.Name == "" {
		return ExamPoint{}, false, fmt.Errorf("exam point name is required")
	}
	ep.GradeLevel = ep.GradeLevel.Canonical()
	ep.DifficultyWeight = clampWeight(ep.DifficultyWeight)

	out := ExamPoint{}
	var created bool
	err := s.pool.QueryRow(ctx,
		`INSERT INTO exam_points (name, knowledge_point_id, subject_id, grade_level, description, difficulty_weight)
		 SELECT $1::text, kp.id, kp.subject_id, $3::text, $4::text, $5::double precision
		 FROM knowledge_points kp
		 WHERE kp.id = $2::bigint
		 ON CONFLICT (name, knowledge_point_id, grade_level) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, name, knowledge_point_id, subject_id, grade_level, description, difficulty_weight, created_at, (xmax = 0)`,
		ep.Name, ep.KnowledgePointID, string(ep.GradeLevel), ep.Description, ep.DifficultyWeight,
	).Scan(&out.ID, &out.Name, &out.KnowledgePointID, &out.SubjectID, &out.GradeLevel,
		&out.Description, &out.DifficultyWeight, &out.CreatedAt, &created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ExamPoint{}, false, fmt.Errorf("knowledge point %d: %w", ep.KnowledgePointID, ErrNotFound)
		}
		return ExamPoint{}, false, fmt.Errorf("ensure exam point: %w", err)
	}
	return out, created, nil
}

func (s *PostgresStore) ListExamPoints(ctx context.Context, knowledgePointID int64) ([]ExamPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, knowledge_point_id, subject_id, grade_level, description, difficulty_weight, created_at
		 FROM exam_points
		 WHERE knowledge_point_id = $1
		 ORDER BY id`,
		knowledgePointID,
	)
	if err != nil {
		return nil, fmt.Errorf("query exam points: %w", err)
	}
	defer rows.Close()

	var out []ExamPoint
	for rows.Next() {
		var ep ExamPoint
		if err := rows.Scan(&ep.ID, &ep.Name, &ep.KnowledgePointID, &ep.SubjectID, &ep.GradeLevel,
			&ep.Description, &ep.DifficultyWeight, &ep.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exam point: %w", err)
		}
		out = append(out, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exam points: %w", err)
	}
	return out, nil
}

package mastery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresStore is a PostgreSQL-backed Store. Update locks the row with
// SELECT ... FOR UPDATE so concurrent attempts on one pair serialize.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed mastery store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

const recordColumns = `student_id, knowledge_point_id, mastery_level, total_attempts, correct_attempts, last_practiced`

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	err := row.Scan(&r.StudentID, &r.KnowledgePointID, &r.MasteryLevel, &r.TotalAttempts, &r.CorrectAttempts, &r.LastPracticed)
	return r, err
}

func (s *PostgresStore) Update(ctx context.Context, studentID, knowledgePointID int64, fn UpdateFunc) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var out Record
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Two passes: a concurrent first attempt can win the insert, in which
		// case the second pass locks and updates the row it created.
		for range 2 {
			current, err := scanRecord(tx.QueryRow(ctx,
				`SELECT `+recordColumns+`
				 FROM knowledge_point_mastery
				 WHERE student_id = $1 AND knowledge_point_id = $2
				 FOR UPDATE`,
				studentID, knowledgePointID,
			))
			switch {
			case err == nil:
				next := fn(current, true)
				_, err := tx.Exec(ctx,
					`UPDATE knowledge_point_mastery
					 SET mastery_level = $3, total_attempts = $4, correct_attempts = $5, last_practiced = $6
					 WHERE student_id = $1 AND knowledge_point_id = $2`,
					studentID, knowledgePointID, next.MasteryLevel, next.TotalAttempts, next.CorrectAttempts, next.LastPracticed,
				)
				if err != nil {
					return fmt.Errorf("update mastery: %w", err)
				}
				out = next
				out.StudentID, out.KnowledgePointID = studentID, knowledgePointID
				return nil

			case errors.Is(err, pgx.ErrNoRows):
				next := fn(Record{StudentID: studentID, KnowledgePointID: knowledgePointID}, false)
				tag, err := tx.Exec(ctx,
					`INSERT INTO knowledge_point_mastery (`+recordColumns+`)
					 VALUES ($1, $2, $3, $4, $5, $6)
					 ON CONFLICT (student_id, knowledge_point_id) DO NOTHING`,
					studentID, knowledgePointID, next.MasteryLevel, next.TotalAttempts, next.CorrectAttempts, next.LastPracticed,
				)
				if err != nil {
					return fmt.Errorf("insert mastery: %w", err)
				}
				if tag.RowsAffected() == 1 {
					out = next
					out.StudentID, out.KnowledgePointID = studentID, knowledgePointID
					return nil
				}

			default:
				return fmt.Errorf("lock mastery: %w", err)
			}
		}
		return fmt.Errorf("update mastery (%d, %d): lost insert race twice", studentID, knowledgePointID)
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, studentID, knowledgePointID int64) (Record, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+`
		 FROM knowledge_point_mastery
		 WHERE student_id = $1 AND knowledge_point_id = $2`,
		studentID, knowledgePointID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get mastery: %w", err)
	}
	return r, true, nil
}

func (s *PostgresStore) ListForStudent(ctx context.Context, studentID int64) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+`
		 FROM knowledge_point_mastery
		 WHERE student_id = $1
		 ORDER BY knowledge_point_id`,
		studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query mastery: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mastery: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mastery: %w", err)
	}
	return out, nil
}

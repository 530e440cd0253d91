package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ujianku/ujianku-backend/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `id, title, token, start_time, end_time, duration_minutes, total_questions, status, created_at, updated_at`

func scanExam(row interface{ Scan(...any) error }) (*model.Exam, error) {
	e := &model.Exam{}
	err := row.Scan(&e.ID, &e.Title, &e.Token, &e.StartTime, &e.EndTime,
		&e.DurationMinutes, &e.TotalQuestions, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return scanExam(r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
}

// GetByToken retrieves an exam by its entry token. Tokens are stored
// uppercase; the lookup normalizes the input the same way.
func (r *ExamRepository) GetByToken(ctx context.Context, token string) (*model.Exam, error) {
	return scanExam(r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE token = $1`,
		strings.ToUpper(strings.TrimSpace(token))))
}

// List retrieves all exams ordered by creation time, newest first.
func (r *ExamRepository) List(ctx context.Context, limit, offset int) ([]model.Exam, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM exams`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, 0, err
		}
		exams = append(exams, *e)
	}
	return exams, total, rows.Err()
}

// Create inserts a new exam. The token is normalized to uppercase on write so
// case-insensitive student input resolves to one canonical value.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	e.Token = strings.ToUpper(strings.TrimSpace(e.Token))
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, token, start_time, end_time, duration_minutes, total_questions, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Token, e.StartTime, e.EndTime, e.DurationMinutes, e.TotalQuestions, e.Status,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// Update rewrites the mutable fields of an exam.
func (r *ExamRepository) Update(ctx context.Context, e *model.Exam) error {
	e.Token = strings.ToUpper(strings.TrimSpace(e.Token))
	_, err := r.pool.Exec(ctx,
		`UPDATE exams
		 SET title = $1, token = $2, start_time = $3, end_time = $4,
		     duration_minutes = $5, total_questions = $6, updated_at = NOW()
		 WHERE id = $7`,
		e.Title, e.Token, e.StartTime, e.EndTime, e.DurationMinutes, e.TotalQuestions, e.ID)
	return err
}

// UpdateStatus updates an exam's lifecycle status.
func (r *ExamRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exams SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}

// Delete removes an exam. Fails on FK violation if attempts exist.
func (r *ExamRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM exams WHERE id = $1`, id)
	return err
}

package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ujianku/ujianku-backend/internal/model"
)

// AnswerRepository is the answer ledger: one row per (attempt, question),
// written through an idempotent upsert so duplicate client retries and
// change-of-mind resubmissions overwrite in place.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Upsert writes the latest selection for (attempt, question). Last write
// wins; the composite primary key guarantees at most one row.
func (r *AnswerRepository) Upsert(ctx context.Context, ans *model.Answer) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_answers (attempt_id, question_id, selected_option, is_correct, answered_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET selected_option = EXCLUDED.selected_option,
		     is_correct = EXCLUDED.is_correct,
		     updated_at = EXCLUDED.updated_at`,
		ans.AttemptID, ans.QuestionID, ans.SelectedOption, ans.IsCorrect, ans.AnsweredAt)
	return err
}

// ListByAttempt returns every answer row of an attempt.
func (r *AnswerRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, question_id, selected_option, is_correct, answered_at, updated_at
		 FROM exam_answers WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.AttemptID, &a.QuestionID, &a.SelectedOption, &a.IsCorrect,
			&a.AnsweredAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

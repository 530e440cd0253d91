package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ujianku/ujianku-backend/internal/model"
)

// QuestionRepository handles question data access. The student-facing path
// only ever reaches questions through the orchestrator, which strips the
// correct option before rendering.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

const questionColumns = `id, exam_id, question_number, content, image_url, question_type,
	option_a, option_b, option_c, option_d, correct_option, shuffle_options`

func scanQuestion(row interface{ Scan(...any) error }) (*model.Question, error) {
	q := &model.Question{}
	err := row.Scan(&q.ID, &q.ExamID, &q.QuestionNumber, &q.Content, &q.ImageURL, &q.Type,
		&q.OptionA, &q.OptionB, &q.OptionC, &q.OptionD, &q.CorrectOption, &q.ShuffleOptions)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// GetByID retrieves a single question with its correct option. Server-side
// use only.
func (r *QuestionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	return scanQuestion(r.pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1`, id))
}

// ListByExam retrieves all questions for a given exam, ordered by question_number.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE exam_id = $1 ORDER BY question_number`,
		examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *q)
	}
	return questions, rows.Err()
}

// ListIDsByExam retrieves only the question ids of an exam, the input to the
// per-attempt selection shuffle.
func (r *QuestionRepository) ListIDsByExam(ctx context.Context, examID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM questions WHERE exam_id = $1 ORDER BY question_number`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Create inserts a new question.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (exam_id, question_number, content, image_url, question_type,
		                        option_a, option_b, option_c, option_d, correct_option, shuffle_options)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		q.ExamID, q.QuestionNumber, q.Content, q.ImageURL, q.Type,
		q.OptionA, q.OptionB, q.OptionC, q.OptionD, q.CorrectOption, q.ShuffleOptions,
	).Scan(&q.ID)
}

// ReplaceByExam atomically swaps an exam's full question set within one
// transaction.
func (r *QuestionRepository) ReplaceByExam(ctx context.Context, examID uuid.UUID, questions []model.Question) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE exam_id = $1`, examID); err != nil {
			return fmt.Errorf("delete old questions: %w", err)
		}
		for i := range questions {
			q := &questions[i]
			err := tx.QueryRow(ctx,
				`INSERT INTO questions (exam_id, question_number, content, image_url, question_type,
				                        option_a, option_b, option_c, option_d, correct_option, shuffle_options)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				 RETURNING id`,
				examID, q.QuestionNumber, q.Content, q.ImageURL, q.Type,
				q.OptionA, q.OptionB, q.OptionC, q.OptionD, q.CorrectOption, q.ShuffleOptions,
			).Scan(&q.ID)
			if err != nil {
				return fmt.Errorf("insert question %d: %w", i, err)
			}
		}
		return nil
	})
}

// CountByExam returns the number of questions in the exam's bank.
func (r *QuestionRepository) CountByExam(ctx context.Context, examID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM questions WHERE exam_id = $1`, examID).Scan(&n)
	return n, err
}

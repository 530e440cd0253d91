package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ujianku/ujianku-backend/internal/model"
)

// AttemptRepository is the durable attempt store. It exposes exactly the two
// primitives the orchestrator's race safety rests on: a unique-constrained
// insert for exactly-once creation and a conditional (CAS) update for
// terminal transitions.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, exam_id, student_id, start_time, expires_at, finish_time, status,
	question_order, total_answered, total_correct, score, ip_address, user_agent`

func scanAttempt(row interface{ Scan(...any) error }) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.StartTime, &a.ExpiresAt, &a.FinishTime,
		&a.Status, &a.QuestionOrder, &a.TotalAnswered, &a.TotalCorrect, &a.Score,
		&a.IPAddress, &a.UserAgent)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByID retrieves an attempt by UUID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts WHERE id = $1`, id))
}

// GetByExamAndStudent retrieves the single attempt for an (exam, student)
// pair, if any.
func (r *AttemptRepository) GetByExamAndStudent(ctx context.Context, examID, studentID uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID))
}

// Create inserts a new attempt. The UNIQUE (exam_id, student_id) constraint
// makes concurrent double-starts resolve to one row; the loser gets
// pgx.ErrNoRows from the RETURNING clause and must fall back to
// GetByExamAndStudent.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_attempts
		     (exam_id, student_id, start_time, expires_at, status, question_order, ip_address, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING id`,
		a.ExamID, a.StudentID, a.StartTime, a.ExpiresAt, a.Status, a.QuestionOrder,
		a.IPAddress, a.UserAgent,
	).Scan(&a.ID)
}

// UpdateTotals persists the denormalized answer counters onto the attempt row.
func (r *AttemptRepository) UpdateTotals(ctx context.Context, id uuid.UUID, answered, correct int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts SET total_answered = $1, total_correct = $2 WHERE id = $3`,
		answered, correct, id)
	return err
}

// FinalizeInProgress performs the terminal transition as a compare-and-swap:
// the write only lands if the row is still in_progress. Returns false when a
// concurrent finalization won, in which case the caller re-reads the row.
func (r *AttemptRepository) FinalizeInProgress(ctx context.Context, id uuid.UUID, status model.AttemptStatus, finishTime time.Time, score float64, correct, answered int) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET status = $2, finish_time = $3, score = $4, total_correct = $5, total_answered = $6
		 WHERE id = $1 AND status = $7`,
		id, status, finishTime, score, correct, answered, model.AttemptStatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListOverdue returns in-progress attempts whose deadline has passed, oldest
// first, bounded by limit. Input to the expiry sweep.
func (r *AttemptRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM exam_attempts
		 WHERE status = $1 AND expires_at < $2
		 ORDER BY expires_at
		 LIMIT $3`,
		model.AttemptStatusInProgress, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// CountByExamAndStatus returns how many attempts for an exam are in the given
// status. Used by the ranking stats.
func (r *AttemptRepository) CountByExamAndStatus(ctx context.Context, examID uuid.UUID, status model.AttemptStatus) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_attempts WHERE exam_id = $1 AND status = $2`,
		examID, status).Scan(&n)
	return n, err
}

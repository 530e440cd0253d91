package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ujianku/ujianku-backend/internal/model"
)

// The orchestrator depends on narrow store contracts rather than concrete
// repositories. Beyond plain reads, only two primitives are required of the
// storage engine: a unique-constrained create and a conditional update (CAS
// on status). Absent rows are signaled with pgx.ErrNoRows by every
// implementation, including in-memory test fakes.

// ExamStore resolves exams for the student-facing path.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	GetByToken(ctx context.Context, token string) (*model.Exam, error)
}

// StudentStore resolves student identities.
type StudentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Student, error)
}

// QuestionBank is the read-only question lookup. Callers on the
// student-facing path must strip the correct option before rendering.
type QuestionBank interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error)
	ListIDsByExam(ctx context.Context, examID uuid.UUID) ([]uuid.UUID, error)
}

// AttemptStore is the single source of truth for session state.
type AttemptStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetByExamAndStudent(ctx context.Context, examID, studentID uuid.UUID) (*model.Attempt, error)
	// Create inserts a new attempt; on a (exam, student) uniqueness conflict
	// it returns pgx.ErrNoRows and writes nothing.
	Create(ctx context.Context, a *model.Attempt) error
	UpdateTotals(ctx context.Context, id uuid.UUID, answered, correct int) error
	// FinalizeInProgress applies a terminal transition only if the row is
	// still in_progress, reporting whether the write landed.
	FinalizeInProgress(ctx context.Context, id uuid.UUID, status model.AttemptStatus, finishTime time.Time, score float64, correct, answered int) (bool, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]model.Attempt, error)
}

// AnswerLedger records the latest selection per (attempt, question).
type AnswerLedger interface {
	Upsert(ctx context.Context, ans *model.Answer) error
	ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/ujianku/ujianku-backend/internal/model"
	"github.com/ujianku/ujianku-backend/internal/repository"
	"github.com/ujianku/ujianku-backend/internal/response"
)

// Domain errors for exam administration.
var (
	ErrExamNotFound      = errors.New("exam not found")
	ErrDuplicateToken    = errors.New("exam token already in use")
	ErrExamNotDraft      = errors.New("exam status is not draft")
	ErrNotEnoughInBank   = errors.New("question bank has fewer questions than the exam requires")
	ErrInvalidTimeWindow = errors.New("exam end time must be after start time")
)

// ExamService handles exam administration: CRUD plus the draft/active/closed
// lifecycle.
type ExamService struct {
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.examRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, err
	}
	return exam, nil
}

// List retrieves exams, newest first, paginated.
func (s *ExamService) List(ctx context.Context, page, perPage int) ([]model.Exam, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	exams, total, err := s.examRepo.List(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	if exams == nil {
		exams = []model.Exam{}
	}

	return exams, &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	}, nil
}

// Create inserts a new exam as draft.
func (s *ExamService) Create(ctx context.Context, req *model.CreateExamRequest) (*model.Exam, error) {
	if !req.EndTime.After(req.StartTime) {
		return nil, ErrInvalidTimeWindow
	}

	exam := &model.Exam{
		Title:           req.Title,
		Token:           req.Token,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		DurationMinutes: req.DurationMinutes,
		TotalQuestions:  req.TotalQuestions,
		Status:          model.ExamStatusDraft,
	}
	if err := s.examRepo.Create(ctx, exam); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateToken
		}
		return nil, fmt.Errorf("create exam: %w", err)
	}
	return exam, nil
}

// Update modifies a draft exam. Active and closed exams are immutable so that
// in-flight attempts keep a stable deadline and question count.
func (s *ExamService) Update(ctx context.Context, id uuid.UUID, req *model.UpdateExamRequest) (*model.Exam, error) {
	exam, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if exam.Status != model.ExamStatusDraft {
		return nil, ErrExamNotDraft
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, ErrInvalidTimeWindow
	}

	exam.Title = req.Title
	exam.Token = req.Token
	exam.StartTime = req.StartTime
	exam.EndTime = req.EndTime
	exam.DurationMinutes = req.DurationMinutes
	exam.TotalQuestions = req.TotalQuestions

	if err := s.examRepo.Update(ctx, exam); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateToken
		}
		return nil, fmt.Errorf("update exam: %w", err)
	}
	return exam, nil
}

// Activate transitions a draft exam to active after verifying the question
// bank can cover the configured question count.
func (s *ExamService) Activate(ctx context.Context, id uuid.UUID) error {
	exam, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if exam.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}
	if time.Now().After(exam.EndTime) {
		return ErrExamWindowClosed
	}

	count, err := s.questionRepo.CountByExam(ctx, id)
	if err != nil {
		return fmt.Errorf("count questions: %w", err)
	}
	if count < exam.TotalQuestions {
		return ErrNotEnoughInBank
	}

	if err := s.examRepo.UpdateStatus(ctx, id, model.ExamStatusActive); err != nil {
		return fmt.Errorf("activate exam: %w", err)
	}
	s.log.Info().Str("exam_id", id.String()).Msg("exam activated")
	return nil
}

// Close transitions an exam to closed. New attempt starts are rejected; the
// expiry sweeper finalizes whatever is still running.
func (s *ExamService) Close(ctx context.Context, id uuid.UUID) error {
	exam, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if exam.Status == model.ExamStatusClosed {
		return nil
	}
	if err := s.examRepo.UpdateStatus(ctx, id, model.ExamStatusClosed); err != nil {
		return fmt.Errorf("close exam: %w", err)
	}
	s.log.Info().Str("exam_id", id.String()).Msg("exam closed")
	return nil
}

// Delete removes a draft exam and its questions.
func (s *ExamService) Delete(ctx context.Context, id uuid.UUID) error {
	exam, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if exam.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}
	return s.examRepo.Delete(ctx, id)
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/ujianku/ujianku-backend/internal/model"
	"github.com/ujianku/ujianku-backend/internal/repository"
)

// ErrQuestionNotFound is returned when a question id does not exist.
var ErrQuestionNotFound = errors.New("question not found")

// QuestionService handles question bank administration. Correct options are
// only ever visible through this service, never through attempt-facing paths.
type QuestionService struct {
	questionRepo *repository.QuestionRepository
	examRepo     *repository.ExamRepository
	log          zerolog.Logger
}

// NewQuestionService creates a new QuestionService.
func NewQuestionService(
	questionRepo *repository.QuestionRepository,
	examRepo *repository.ExamRepository,
	log zerolog.Logger,
) *QuestionService {
	return &QuestionService{
		questionRepo: questionRepo,
		examRepo:     examRepo,
		log:          log.With().Str("component", "question_service").Logger(),
	}
}

// ListByExam returns the full question bank of an exam, correct options
// included. Admin-only.
func (s *QuestionService) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	if _, err := s.examRepo.GetByID(ctx, examID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, err
	}

	questions, err := s.questionRepo.ListByExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if questions == nil {
		questions = []model.Question{}
	}
	return questions, nil
}

// Add appends one question to a draft exam's bank.
func (s *QuestionService) Add(ctx context.Context, examID uuid.UUID, req *model.AddQuestionRequest) (*model.Question, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, err
	}
	if exam.Status != model.ExamStatusDraft {
		return nil, ErrExamNotDraft
	}

	count, err := s.questionRepo.CountByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("count questions: %w", err)
	}

	question := &model.Question{
		ExamID:         examID,
		QuestionNumber: count + 1,
		Content:        req.Content,
		ImageURL:       req.ImageURL,
		Type:           model.QuestionTypeMultipleChoice,
		OptionA:        req.OptionA,
		OptionB:        req.OptionB,
		OptionC:        req.OptionC,
		OptionD:        req.OptionD,
		CorrectOption:  model.OptionKey(req.CorrectOption),
		ShuffleOptions: req.ShuffleOptions,
	}
	if err := s.questionRepo.Create(ctx, question); err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}
	return question, nil
}

// Replace swaps a draft exam's entire question bank in one transaction.
func (s *QuestionService) Replace(ctx context.Context, examID uuid.UUID, req *model.ReplaceQuestionsRequest) error {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrExamNotFound
		}
		return err
	}
	if exam.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}

	questions := make([]model.Question, len(req.Questions))
	for i, q := range req.Questions {
		questions[i] = model.Question{
			ExamID:         examID,
			QuestionNumber: i + 1,
			Content:        q.Content,
			ImageURL:       q.ImageURL,
			Type:           model.QuestionTypeMultipleChoice,
			OptionA:        q.OptionA,
			OptionB:        q.OptionB,
			OptionC:        q.OptionC,
			OptionD:        q.OptionD,
			CorrectOption:  model.OptionKey(q.CorrectOption),
			ShuffleOptions: q.ShuffleOptions,
		}
	}

	if err := s.questionRepo.ReplaceByExam(ctx, examID, questions); err != nil {
		return fmt.Errorf("replace questions: %w", err)
	}
	s.log.Info().
		Str("exam_id", examID.String()).
		Int("count", len(questions)).
		Msg("question bank replaced")
	return nil
}

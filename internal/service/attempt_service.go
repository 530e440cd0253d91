package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ujianku/ujianku-backend/internal/model"
	"github.com/ujianku/ujianku-backend/internal/random"
)

// Domain errors surfaced by the attempt lifecycle. Handlers map these to
// response codes; anything else is an internal failure.
var (
	ErrInvalidToken          = errors.New("exam token is not valid")
	ErrExamNotActive         = errors.New("exam is not active")
	ErrExamNotStarted        = errors.New("exam has not started yet")
	ErrExamWindowClosed      = errors.New("exam window has closed")
	ErrStudentNotFound       = errors.New("student not found")
	ErrStudentInactive       = errors.New("student account is inactive")
	ErrAlreadyCompleted      = errors.New("exam already completed")
	ErrTimeExpired           = errors.New("attempt time has expired")
	ErrInsufficientQuestions = errors.New("question bank is smaller than the exam requires")
	ErrAttemptNotFound       = errors.New("attempt not found")
	ErrSessionClosed         = errors.New("attempt is no longer in progress")
	ErrQuestionNotInSession  = errors.New("question is not part of this attempt")
	ErrInvalidOption         = errors.New("selected option is not valid")
	ErrInvalidIndex          = errors.New("question index out of range")
	ErrInvalidState          = errors.New("attempt is in an unexpected state")
)

// RequestMeta carries request provenance recorded on attempt creation.
type RequestMeta struct {
	IPAddress *string
	UserAgent *string
}

// StartResult is the response of StartOrResumeAttempt.
type StartResult struct {
	AttemptID      uuid.UUID           `json:"attempt_id"`
	Question       *model.QuestionView `json:"question"`
	CurrentIndex   int                 `json:"current_index"`
	TotalQuestions int                 `json:"total_questions"`
	RemainingMS    int64               `json:"remaining_ms"`
	Resumed        bool                `json:"resumed"`
}

// SubmitResult is the response of SubmitAnswer. It never carries the
// correctness of the submission.
type SubmitResult struct {
	NextQuestion   *model.QuestionView    `json:"next_question"`
	NextIndex      *int                   `json:"next_index"`
	TotalAnswered  int                    `json:"total_answered"`
	TotalQuestions int                    `json:"total_questions"`
	AnswerGrid     []model.AnswerGridItem `json:"answer_grid"`
	RemainingMS    int64                  `json:"remaining_ms"`
}

// QuestionResult is the response of GetQuestionByIndex.
type QuestionResult struct {
	Question       *model.QuestionView    `json:"question"`
	CurrentAnswer  *model.OptionKey       `json:"current_answer"`
	CurrentIndex   int                    `json:"current_index"`
	AnswerGrid     []model.AnswerGridItem `json:"answer_grid"`
	TotalAnswered  int                    `json:"total_answered"`
	TotalQuestions int                    `json:"total_questions"`
	RemainingMS    int64                  `json:"remaining_ms"`
}

// FinishResult is the response of FinishAttempt. Only the aggregate score is
// ever disclosed, and only after finalization.
type FinishResult struct {
	Score            float64    `json:"score"`
	TotalCorrect     int        `json:"total_correct"`
	TotalAnswered    int        `json:"total_answered"`
	TotalQuestions   int        `json:"total_questions"`
	FinishTime       *time.Time `json:"finish_time,omitempty"`
	AlreadySubmitted bool       `json:"already_submitted,omitempty"`
}

// AttemptService is the session orchestrator: the server-authoritative state
// machine over attempts and answers. It is stateless between calls; all state
// lives in the attempt store and answer ledger, so every operation is safely
// retryable and resumable after a crash or reconnect.
type AttemptService struct {
	attempts  AttemptStore
	answers   AnswerLedger
	questions QuestionBank
	exams     ExamStore
	students  StudentStore
	rdb       *redis.Client
	log       zerolog.Logger
}

// NewAttemptService creates a new AttemptService. rdb may be nil; monitor
// events are then dropped.
func NewAttemptService(
	attempts AttemptStore,
	answers AnswerLedger,
	questions QuestionBank,
	exams ExamStore,
	students StudentStore,
	rdb *redis.Client,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attempts:  attempts,
		answers:   answers,
		questions: questions,
		exams:     exams,
		students:  students,
		rdb:       rdb,
		log:       log.With().Str("component", "attempt_service").Logger(),
	}
}

// StartOrResumeAttempt validates the exam window and the student, then either
// creates a fresh attempt with a frozen randomized question order or resumes
// the student's existing in-progress attempt. Exactly one attempt ever exists
// per (exam, student): a concurrent double-start loses the insert race and
// falls into the resume path.
func (s *AttemptService) StartOrResumeAttempt(ctx context.Context, studentID uuid.UUID, token string, meta RequestMeta) (*StartResult, error) {
	now := time.Now()

	exam, err := s.exams.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("get exam by token: %w", err)
	}

	if exam.Status != model.ExamStatusActive {
		return nil, ErrExamNotActive
	}
	if now.Before(exam.StartTime) {
		return nil, ErrExamNotStarted
	}
	if now.After(exam.EndTime) {
		return nil, ErrExamWindowClosed
	}

	student, err := s.students.GetByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	if !student.IsActive {
		return nil, ErrStudentInactive
	}

	existing, err := s.attempts.GetByExamAndStudent(ctx, exam.ID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if existing != nil {
		return s.resumeAttempt(ctx, exam, existing, now)
	}

	// Fresh start: select and permute the question ids for this student.
	ids, err := s.questions.ListIDsByExam(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list question ids: %w", err)
	}
	if len(ids) < exam.TotalQuestions {
		// Never silently truncate the exam.
		return nil, ErrInsufficientQuestions
	}
	order := random.Pick(ids, exam.TotalQuestions)

	attempt := &model.Attempt{
		ExamID:        exam.ID,
		StudentID:     studentID,
		StartTime:     now,
		ExpiresAt:     now.Add(time.Duration(exam.DurationMinutes) * time.Minute),
		Status:        model.AttemptStatusInProgress,
		QuestionOrder: order,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
	}

	if err := s.attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost a concurrent double-start; the winner's row is the attempt.
			winner, fetchErr := s.attempts.GetByExamAndStudent(ctx, exam.ID, studentID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, fetch failed: %w", fetchErr)
			}
			return s.resumeAttempt(ctx, exam, winner, now)
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	first, err := s.renderQuestion(ctx, order[0])
	if err != nil {
		return nil, err
	}

	publishMonitorEvent(ctx, s.rdb, s.log, MonitorEvent{
		Type: MonitorEventStarted, ExamID: exam.ID, StudentID: studentID,
		AttemptID: attempt.ID, Timestamp: now,
	})

	return &StartResult{
		AttemptID:      attempt.ID,
		Question:       first,
		CurrentIndex:   0,
		TotalQuestions: exam.TotalQuestions,
		RemainingMS:    remainingMS(attempt.ExpiresAt, now),
		Resumed:        false,
	}, nil
}

// resumeAttempt resolves an existing attempt found during start. Terminal
// states are final; an overdue in-progress attempt is expired on the spot.
func (s *AttemptService) resumeAttempt(ctx context.Context, exam *model.Exam, attempt *model.Attempt, now time.Time) (*StartResult, error) {
	switch attempt.Status {
	case model.AttemptStatusSubmitted:
		return nil, ErrAlreadyCompleted
	case model.AttemptStatusExpired:
		return nil, ErrTimeExpired
	case model.AttemptStatusInProgress:
		// Fall through.
	default:
		return nil, ErrInvalidState
	}

	if now.After(attempt.ExpiresAt) {
		if _, _, err := s.finalize(ctx, attempt, model.AttemptStatusExpired, now); err != nil {
			return nil, err
		}
		return nil, ErrTimeExpired
	}

	answers, err := s.answers.ListByAttempt(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	index := resumeIndex(attempt.QuestionOrder, answers)
	view, err := s.renderQuestion(ctx, attempt.QuestionOrder[index])
	if err != nil {
		return nil, err
	}

	return &StartResult{
		AttemptID:      attempt.ID,
		Question:       view,
		CurrentIndex:   index,
		TotalQuestions: exam.TotalQuestions,
		RemainingMS:    remainingMS(attempt.ExpiresAt, now),
		Resumed:        true,
	}, nil
}

// SubmitAnswer records the student's latest selection for one question of
// their in-progress attempt. The upsert is idempotent: navigation
// back-and-forth, change of mind, and at-least-once client retries all
// converge on one row per question. The correctness of the submission is
// never part of the response.
func (s *AttemptService) SubmitAnswer(ctx context.Context, attemptID, studentID uuid.UUID, questionID uuid.UUID, selected *model.OptionKey) (*SubmitResult, error) {
	if selected != nil && !model.ValidOptionKey(*selected) {
		return nil, ErrInvalidOption
	}

	now := time.Now()
	attempt, err := s.loadOwnedInProgress(ctx, attemptID, studentID, now)
	if err != nil {
		return nil, err
	}

	pos := indexOf(attempt.QuestionOrder, questionID)
	if pos < 0 {
		// Tampered client asking for out-of-session content.
		return nil, ErrQuestionNotInSession
	}

	question, err := s.questions.GetByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuestionNotInSession
		}
		return nil, fmt.Errorf("get question: %w", err)
	}

	// Correctness is resolved against the immutable correct option, never
	// against display position. A nil selection is wrong, not null.
	isCorrect := selected != nil && *selected == question.CorrectOption

	if err := s.answers.Upsert(ctx, &model.Answer{
		AttemptID:      attempt.ID,
		QuestionID:     questionID,
		SelectedOption: selected,
		IsCorrect:      isCorrect,
		AnsweredAt:     now,
		UpdatedAt:      now,
	}); err != nil {
		return nil, fmt.Errorf("upsert answer: %w", err)
	}

	answers, err := s.answers.ListByAttempt(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	totalAnswered, totalCorrect := countTotals(answers)

	if err := s.attempts.UpdateTotals(ctx, attempt.ID, totalAnswered, totalCorrect); err != nil {
		return nil, fmt.Errorf("update totals: %w", err)
	}

	var nextQuestion *model.QuestionView
	var nextIndex *int
	if next := pos + 1; next < len(attempt.QuestionOrder) {
		nextQuestion, err = s.renderQuestion(ctx, attempt.QuestionOrder[next])
		if err != nil {
			return nil, err
		}
		nextIndex = &next
	}

	publishMonitorEvent(ctx, s.rdb, s.log, MonitorEvent{
		Type: MonitorEventAnswered, ExamID: attempt.ExamID, StudentID: studentID,
		AttemptID: attempt.ID, TotalAnswered: totalAnswered, Timestamp: now,
	})

	return &SubmitResult{
		NextQuestion:   nextQuestion,
		NextIndex:      nextIndex,
		TotalAnswered:  totalAnswered,
		TotalQuestions: len(attempt.QuestionOrder),
		AnswerGrid:     buildAnswerGrid(attempt.QuestionOrder, answers),
		RemainingMS:    remainingMS(attempt.ExpiresAt, now),
	}, nil
}

// GetQuestionByIndex serves random-access navigation within the frozen
// question order. Same session validation as SubmitAnswer.
func (s *AttemptService) GetQuestionByIndex(ctx context.Context, attemptID, studentID uuid.UUID, index int) (*QuestionResult, error) {
	now := time.Now()
	attempt, err := s.loadOwnedInProgress(ctx, attemptID, studentID, now)
	if err != nil {
		return nil, err
	}

	if index < 0 || index >= len(attempt.QuestionOrder) {
		return nil, ErrInvalidIndex
	}
	questionID := attempt.QuestionOrder[index]

	view, err := s.renderQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}

	answers, err := s.answers.ListByAttempt(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	totalAnswered, _ := countTotals(answers)

	var current *model.OptionKey
	for i := range answers {
		if answers[i].QuestionID == questionID {
			current = answers[i].SelectedOption
			break
		}
	}

	return &QuestionResult{
		Question:       view,
		CurrentAnswer:  current,
		CurrentIndex:   index,
		AnswerGrid:     buildAnswerGrid(attempt.QuestionOrder, answers),
		TotalAnswered:  totalAnswered,
		TotalQuestions: len(attempt.QuestionOrder),
		RemainingMS:    remainingMS(attempt.ExpiresAt, now),
	}, nil
}

// FinishAttempt finalizes the attempt as submitted. Replays are idempotent: a
// second finish returns the stored score unchanged, and losing the CAS race
// against a concurrent expiry resolves by re-reading the winner's result.
func (s *AttemptService) FinishAttempt(ctx context.Context, attemptID, studentID uuid.UUID) (*FinishResult, error) {
	now := time.Now()

	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return nil, ErrAttemptNotFound
	}

	switch attempt.Status {
	case model.AttemptStatusSubmitted:
		res := s.storedResult(ctx, attempt)
		res.AlreadySubmitted = true
		return res, nil
	case model.AttemptStatusExpired:
		// Terminal with the already-recorded score attached for display.
		return s.storedResult(ctx, attempt), ErrTimeExpired
	case model.AttemptStatusInProgress:
		// Fall through to finalization.
	default:
		return nil, ErrInvalidState
	}

	res, finalStatus, err := s.finalize(ctx, attempt, model.AttemptStatusSubmitted, now)
	if err != nil {
		return nil, err
	}
	// Losing the race to a concurrent expiry surfaces the same way as an
	// up-front expired read: the winning score attached to ErrTimeExpired.
	if finalStatus == model.AttemptStatusExpired {
		return res, ErrTimeExpired
	}
	return res, nil
}

// ExpireOverdue finds in-progress attempts past their deadline and finalizes
// each as expired. Called by the periodic sweeper and before ranking reads;
// individual failures are logged and skipped so one bad row cannot wedge the
// sweep.
func (s *AttemptService) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	now := time.Now()
	overdue, err := s.attempts.ListOverdue(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list overdue: %w", err)
	}

	expired := 0
	for i := range overdue {
		if _, _, err := s.finalize(ctx, &overdue[i], model.AttemptStatusExpired, now); err != nil {
			s.log.Error().Err(err).
				Str("attempt_id", overdue[i].ID.String()).
				Msg("expire attempt failed")
			continue
		}
		expired++
	}
	return expired, nil
}

// finalize computes the score from the answer ledger and applies the terminal
// transition with a CAS write. When the CAS is lost to a concurrent
// finalization, the winner's persisted result is re-read and returned. The
// second return value is the status that actually stuck.
func (s *AttemptService) finalize(ctx context.Context, attempt *model.Attempt, status model.AttemptStatus, now time.Time) (*FinishResult, model.AttemptStatus, error) {
	exam, err := s.exams.GetByID(ctx, attempt.ExamID)
	if err != nil {
		return nil, "", fmt.Errorf("get exam: %w", err)
	}

	answers, err := s.answers.ListByAttempt(ctx, attempt.ID)
	if err != nil {
		return nil, "", fmt.Errorf("list answers: %w", err)
	}
	totalAnswered, totalCorrect := countTotals(answers)

	// Denominator is the exam's configured question count on every path, so
	// unanswered questions count against the score.
	score := computeScore(totalCorrect, exam.TotalQuestions)

	ok, err := s.attempts.FinalizeInProgress(ctx, attempt.ID, status, now, score, totalCorrect, totalAnswered)
	if err != nil {
		return nil, "", fmt.Errorf("finalize attempt: %w", err)
	}
	if !ok {
		// Lost the race; the other finalization's result stands.
		winner, err := s.attempts.GetByID(ctx, attempt.ID)
		if err != nil {
			return nil, "", fmt.Errorf("reread after lost finalize: %w", err)
		}
		res := &FinishResult{
			TotalCorrect:   winner.TotalCorrect,
			TotalAnswered:  winner.TotalAnswered,
			TotalQuestions: exam.TotalQuestions,
			FinishTime:     winner.FinishTime,
		}
		if winner.Score != nil {
			res.Score = *winner.Score
		}
		if winner.Status == model.AttemptStatusSubmitted {
			res.AlreadySubmitted = true
		}
		return res, winner.Status, nil
	}

	evtType := MonitorEventFinished
	if status == model.AttemptStatusExpired {
		evtType = MonitorEventExpired
	}
	publishMonitorEvent(ctx, s.rdb, s.log, MonitorEvent{
		Type: evtType, ExamID: attempt.ExamID, StudentID: attempt.StudentID,
		AttemptID: attempt.ID, TotalAnswered: totalAnswered, Timestamp: now,
	})

	return &FinishResult{
		Score:          score,
		TotalCorrect:   totalCorrect,
		TotalAnswered:  totalAnswered,
		TotalQuestions: exam.TotalQuestions,
		FinishTime:     &now,
	}, status, nil
}

// loadOwnedInProgress performs the shared session validation of submit and
// navigation: the attempt must exist, belong to the caller, and still be in
// progress; an overdue attempt is expired as a side effect before the
// time-expired failure is returned.
func (s *AttemptService) loadOwnedInProgress(ctx context.Context, attemptID, studentID uuid.UUID, now time.Time) (*model.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return nil, ErrAttemptNotFound
	}
	if attempt.Status != model.AttemptStatusInProgress {
		return nil, ErrSessionClosed
	}
	if now.After(attempt.ExpiresAt) {
		if _, _, err := s.finalize(ctx, attempt, model.AttemptStatusExpired, now); err != nil {
			return nil, err
		}
		return nil, ErrTimeExpired
	}
	return attempt, nil
}

// storedResult builds a FinishResult from an already-finalized row.
func (s *AttemptService) storedResult(ctx context.Context, attempt *model.Attempt) *FinishResult {
	res := &FinishResult{
		TotalCorrect:   attempt.TotalCorrect,
		TotalAnswered:  attempt.TotalAnswered,
		TotalQuestions: len(attempt.QuestionOrder),
		FinishTime:     attempt.FinishTime,
	}
	if attempt.Score != nil {
		res.Score = *attempt.Score
	}
	if exam, err := s.exams.GetByID(ctx, attempt.ExamID); err == nil {
		res.TotalQuestions = exam.TotalQuestions
	}
	return res
}

// renderQuestion fetches a question and assembles its student-facing view.
// When the question opts into option shuffling, presentation order is
// re-randomized per request; correctness always resolves server-side against
// the stored correct option, so display order carries no information.
func (s *AttemptService) renderQuestion(ctx context.Context, questionID uuid.UUID) (*model.QuestionView, error) {
	q, err := s.questions.GetByID(ctx, questionID)
	if err != nil {
		return nil, fmt.Errorf("get question %s: %w", questionID, err)
	}

	options := []model.QuestionOption{
		{Key: model.OptionA, Value: q.OptionA},
		{Key: model.OptionB, Value: q.OptionB},
		{Key: model.OptionC, Value: q.OptionC},
		{Key: model.OptionD, Value: q.OptionD},
	}
	if q.ShuffleOptions {
		random.Shuffle(options)
	}

	return &model.QuestionView{
		ID:             q.ID,
		QuestionNumber: q.QuestionNumber,
		Content:        q.Content,
		ImageURL:       q.ImageURL,
		Type:           q.Type,
		Options:        options,
	}, nil
}

// resumeIndex picks where a resumed student continues: the first slot of the
// frozen order without a selection (cleared answers count as unanswered, same
// as the grid), or, when every slot is answered, the answered count clamped to
// the last valid index.
func resumeIndex(order []uuid.UUID, answers []model.Answer) int {
	seen := make(map[uuid.UUID]bool, len(answers))
	for i := range answers {
		if answers[i].Selected() {
			seen[answers[i].QuestionID] = true
		}
	}
	for i, id := range order {
		if !seen[id] {
			return i
		}
	}
	answered, _ := countTotals(answers)
	if answered > len(order)-1 {
		return len(order) - 1
	}
	return answered
}

// countTotals derives the denormalized counters from the full answer set:
// rows with an actual selection, and rows marked correct.
func countTotals(answers []model.Answer) (answered, correct int) {
	for i := range answers {
		if answers[i].Selected() {
			answered++
		}
		if answers[i].IsCorrect {
			correct++
		}
	}
	return answered, correct
}

// buildAnswerGrid derives the per-slot navigation view. A slot counts as
// answered only when its row carries a selection.
func buildAnswerGrid(order []uuid.UUID, answers []model.Answer) []model.AnswerGridItem {
	selected := make(map[uuid.UUID]bool, len(answers))
	for i := range answers {
		if answers[i].Selected() {
			selected[answers[i].QuestionID] = true
		}
	}

	grid := make([]model.AnswerGridItem, len(order))
	for i, id := range order {
		grid[i] = model.AnswerGridItem{Index: i, QuestionID: id, Answered: selected[id]}
	}
	return grid
}

// computeScore is the single scoring formula: correct over the exam's
// configured question count, as a percentage rounded to two decimals.
func computeScore(correct, totalQuestions int) float64 {
	if totalQuestions <= 0 {
		return 0
	}
	return math.Round(float64(correct)/float64(totalQuestions)*100*100) / 100
}

func indexOf(order []uuid.UUID, id uuid.UUID) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

// remainingMS reports milliseconds until the deadline, floored at zero.
func remainingMS(deadline, now time.Time) int64 {
	ms := deadline.Sub(now).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

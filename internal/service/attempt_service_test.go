package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/ujianku/ujianku-backend/internal/model"
)

// In-memory fakes implementing the store contracts. They honor the same
// conventions as the pgx repositories: pgx.ErrNoRows for absent rows, a
// conflict-aware Create and a CAS FinalizeInProgress.

type fakeExamStore struct {
	mu    sync.Mutex
	exams map[uuid.UUID]*model.Exam
}

func newFakeExamStore() *fakeExamStore {
	return &fakeExamStore{exams: make(map[uuid.UUID]*model.Exam)}
}

func (f *fakeExamStore) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.exams[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeExamStore) GetByToken(_ context.Context, token string) (*model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.exams {
		if e.Token == strings.ToUpper(token) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type fakeStudentStore struct {
	students map[uuid.UUID]*model.Student
}

func (f *fakeStudentStore) GetByID(_ context.Context, id uuid.UUID) (*model.Student, error) {
	if s, ok := f.students[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

type fakeQuestionBank struct {
	questions map[uuid.UUID]*model.Question
	byExam    map[uuid.UUID][]uuid.UUID
}

func newFakeQuestionBank() *fakeQuestionBank {
	return &fakeQuestionBank{
		questions: make(map[uuid.UUID]*model.Question),
		byExam:    make(map[uuid.UUID][]uuid.UUID),
	}
}

func (f *fakeQuestionBank) GetByID(_ context.Context, id uuid.UUID) (*model.Question, error) {
	if q, ok := f.questions[id]; ok {
		cp := *q
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeQuestionBank) ListIDsByExam(_ context.Context, examID uuid.UUID) ([]uuid.UUID, error) {
	return append([]uuid.UUID(nil), f.byExam[examID]...), nil
}

type fakeAttemptStore struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*model.Attempt
	byKey    map[[2]uuid.UUID]uuid.UUID

	// beforeFinalize, when set, runs inside FinalizeInProgress before the
	// status check, to interleave a competing finalization.
	beforeFinalize func()

	// suppressLookups makes the next N GetByExamAndStudent calls miss, to
	// interleave a competing insert between existence check and Create.
	suppressLookups int
}

func newFakeAttemptStore() *fakeAttemptStore {
	return &fakeAttemptStore{
		attempts: make(map[uuid.UUID]*model.Attempt),
		byKey:    make(map[[2]uuid.UUID]uuid.UUID),
	}
}

func (f *fakeAttemptStore) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.attempts[id]; ok {
		cp := *a
		cp.QuestionOrder = append([]uuid.UUID(nil), a.QuestionOrder...)
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeAttemptStore) GetByExamAndStudent(ctx context.Context, examID, studentID uuid.UUID) (*model.Attempt, error) {
	f.mu.Lock()
	if f.suppressLookups > 0 {
		f.suppressLookups--
		f.mu.Unlock()
		return nil, pgx.ErrNoRows
	}
	id, ok := f.byKey[[2]uuid.UUID{examID, studentID}]
	f.mu.Unlock()
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return f.GetByID(ctx, id)
}

func (f *fakeAttemptStore) Create(_ context.Context, a *model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]uuid.UUID{a.ExamID, a.StudentID}
	if _, exists := f.byKey[key]; exists {
		return pgx.ErrNoRows
	}
	a.ID = uuid.New()
	cp := *a
	cp.QuestionOrder = append([]uuid.UUID(nil), a.QuestionOrder...)
	f.attempts[a.ID] = &cp
	f.byKey[key] = a.ID
	return nil
}

func (f *fakeAttemptStore) UpdateTotals(_ context.Context, id uuid.UUID, answered, correct int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return pgx.ErrNoRows
	}
	a.TotalAnswered = answered
	a.TotalCorrect = correct
	return nil
}

func (f *fakeAttemptStore) FinalizeInProgress(_ context.Context, id uuid.UUID, status model.AttemptStatus, finishTime time.Time, score float64, correct, answered int) (bool, error) {
	if f.beforeFinalize != nil {
		hook := f.beforeFinalize
		f.beforeFinalize = nil
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return false, nil
	}
	a.Status = status
	a.FinishTime = &finishTime
	a.Score = &score
	a.TotalCorrect = correct
	a.TotalAnswered = answered
	return true, nil
}

func (f *fakeAttemptStore) ListOverdue(_ context.Context, now time.Time, limit int) ([]model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Attempt
	for _, a := range f.attempts {
		if a.Status == model.AttemptStatusInProgress && now.After(a.ExpiresAt) {
			cp := *a
			cp.QuestionOrder = append([]uuid.UUID(nil), a.QuestionOrder...)
			out = append(out, cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type fakeAnswerLedger struct {
	mu   sync.Mutex
	rows map[uuid.UUID]map[uuid.UUID]model.Answer
}

func newFakeAnswerLedger() *fakeAnswerLedger {
	return &fakeAnswerLedger{rows: make(map[uuid.UUID]map[uuid.UUID]model.Answer)}
}

func (f *fakeAnswerLedger) Upsert(_ context.Context, ans *model.Answer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	byQuestion, ok := f.rows[ans.AttemptID]
	if !ok {
		byQuestion = make(map[uuid.UUID]model.Answer)
		f.rows[ans.AttemptID] = byQuestion
	}
	if prev, exists := byQuestion[ans.QuestionID]; exists {
		ans.AnsweredAt = prev.AnsweredAt
	}
	byQuestion[ans.QuestionID] = *ans
	return nil
}

func (f *fakeAnswerLedger) ListByAttempt(_ context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Answer
	for _, a := range f.rows[attemptID] {
		out = append(out, a)
	}
	return out, nil
}

// env bundles the fakes and a wired service for one test scenario.
type env struct {
	svc       *AttemptService
	exams     *fakeExamStore
	students  *fakeStudentStore
	questions *fakeQuestionBank
	attempts  *fakeAttemptStore
	answers   *fakeAnswerLedger

	exam       *model.Exam
	student    *model.Student
	questions4 []uuid.UUID
}

// newEnv builds an active exam with a 4-question bank where option "a" is
// always correct, plus one active student.
func newEnv(t *testing.T) *env {
	t.Helper()
	now := time.Now()

	e := &env{
		exams:     newFakeExamStore(),
		students:  &fakeStudentStore{students: make(map[uuid.UUID]*model.Student)},
		questions: newFakeQuestionBank(),
		attempts:  newFakeAttemptStore(),
		answers:   newFakeAnswerLedger(),
	}

	e.exam = &model.Exam{
		ID:              uuid.New(),
		Title:           "Matematika Kelas XII",
		Token:           "MTK12A",
		StartTime:       now.Add(-time.Hour),
		EndTime:         now.Add(time.Hour),
		DurationMinutes: 60,
		TotalQuestions:  4,
		Status:          model.ExamStatusActive,
	}
	e.exams.exams[e.exam.ID] = e.exam

	for i := 0; i < 4; i++ {
		q := &model.Question{
			ID:             uuid.New(),
			ExamID:         e.exam.ID,
			QuestionNumber: i + 1,
			Content:        "2 + 2 = ?",
			Type:           model.QuestionTypeMultipleChoice,
			OptionA:        "4",
			OptionB:        "5",
			OptionC:        "6",
			OptionD:        "7",
			CorrectOption:  model.OptionA,
		}
		e.questions.questions[q.ID] = q
		e.questions.byExam[e.exam.ID] = append(e.questions.byExam[e.exam.ID], q.ID)
		e.questions4 = append(e.questions4, q.ID)
	}

	e.student = &model.Student{
		ID:        uuid.New(),
		NISN:      "0061234567",
		Name:      "Budi Santoso",
		ClassName: "XII IPA 1",
		IsActive:  true,
	}
	e.students.students[e.student.ID] = e.student

	e.svc = NewAttemptService(e.attempts, e.answers, e.questions, e.exams, e.students, nil, zerolog.Nop())
	return e
}

func (e *env) start(t *testing.T) *StartResult {
	t.Helper()
	res, err := e.svc.StartOrResumeAttempt(context.Background(), e.student.ID, e.exam.Token, RequestMeta{})
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	return res
}

func (e *env) attempt(t *testing.T, id uuid.UUID) *model.Attempt {
	t.Helper()
	a, err := e.attempts.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	return a
}

func optionPtr(k model.OptionKey) *model.OptionKey { return &k }

func TestStartCreatesAttempt(t *testing.T) {
	e := newEnv(t)

	res := e.start(t)

	if res.Resumed {
		t.Error("fresh start reported as resumed")
	}
	if res.CurrentIndex != 0 {
		t.Errorf("current index = %d, want 0", res.CurrentIndex)
	}
	if res.TotalQuestions != 4 {
		t.Errorf("total questions = %d, want 4", res.TotalQuestions)
	}
	if res.RemainingMS <= 0 {
		t.Errorf("remaining ms = %d, want > 0", res.RemainingMS)
	}
	if res.Question == nil || len(res.Question.Options) != 4 {
		t.Fatalf("first question missing or malformed: %+v", res.Question)
	}

	a := e.attempt(t, res.AttemptID)
	if a.Status != model.AttemptStatusInProgress {
		t.Errorf("status = %s, want in_progress", a.Status)
	}
	if len(a.QuestionOrder) != 4 {
		t.Errorf("question order len = %d, want 4", len(a.QuestionOrder))
	}
}

func TestStartTokenNormalization(t *testing.T) {
	e := newEnv(t)

	res, err := e.svc.StartOrResumeAttempt(context.Background(), e.student.ID, "mtk12a", RequestMeta{})
	if err != nil {
		t.Fatalf("lowercase token rejected: %v", err)
	}
	if res.AttemptID == uuid.Nil {
		t.Error("no attempt id returned")
	}
}

func TestStartValidationOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.svc.StartOrResumeAttempt(ctx, e.student.ID, "WRONG", RequestMeta{}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("unknown token: got %v, want ErrInvalidToken", err)
	}

	e.exam.Status = model.ExamStatusDraft
	if _, err := e.svc.StartOrResumeAttempt(ctx, e.student.ID, e.exam.Token, RequestMeta{}); !errors.Is(err, ErrExamNotActive) {
		t.Errorf("draft exam: got %v, want ErrExamNotActive", err)
	}
	e.exam.Status = model.ExamStatusActive

	e.exam.StartTime = time.Now().Add(time.Hour)
	if _, err := e.svc.StartOrResumeAttempt(ctx, e.student.ID, e.exam.Token, RequestMeta{}); !errors.Is(err, ErrExamNotStarted) {
		t.Errorf("before window: got %v, want ErrExamNotStarted", err)
	}
	e.exam.StartTime = time.Now().Add(-time.Hour)

	e.exam.EndTime = time.Now().Add(-time.Minute)
	if _, err := e.svc.StartOrResumeAttempt(ctx, e.student.ID, e.exam.Token, RequestMeta{}); !errors.Is(err, ErrExamWindowClosed) {
		t.Errorf("after window: got %v, want ErrExamWindowClosed", err)
	}
	e.exam.EndTime = time.Now().Add(time.Hour)

	e.student.IsActive = false
	if _, err := e.svc.StartOrResumeAttempt(ctx, e.student.ID, e.exam.Token, RequestMeta{}); !errors.Is(err, ErrStudentInactive) {
		t.Errorf("inactive student: got %v, want ErrStudentInactive", err)
	}
}

func TestStartInsufficientQuestions(t *testing.T) {
	e := newEnv(t)
	e.exam.TotalQuestions = 10

	_, err := e.svc.StartOrResumeAttempt(context.Background(), e.student.ID, e.exam.Token, RequestMeta{})
	if !errors.Is(err, ErrInsufficientQuestions) {
		t.Errorf("got %v, want ErrInsufficientQuestions", err)
	}
}

func TestStartExactlyOncePerStudent(t *testing.T) {
	e := newEnv(t)

	first := e.start(t)
	second := e.start(t)

	if !second.Resumed {
		t.Error("second start did not resume")
	}
	if second.AttemptID != first.AttemptID {
		t.Errorf("second start created a new attempt: %s != %s", second.AttemptID, first.AttemptID)
	}
	if len(e.attempts.attempts) != 1 {
		t.Errorf("attempt rows = %d, want 1", len(e.attempts.attempts))
	}
}

func TestStartConcurrentLoserResumesWinner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// The winner's row lands between the loser's existence check and insert:
	// plant the winner, then make the loser's existence check miss so its
	// Create hits the uniqueness conflict.
	winner := &model.Attempt{
		ExamID:        e.exam.ID,
		StudentID:     e.student.ID,
		StartTime:     time.Now(),
		ExpiresAt:     time.Now().Add(time.Hour),
		Status:        model.AttemptStatusInProgress,
		QuestionOrder: e.questions4,
	}
	if err := e.attempts.Create(ctx, winner); err != nil {
		t.Fatalf("plant winner: %v", err)
	}
	e.attempts.suppressLookups = 1

	res, err := e.svc.StartOrResumeAttempt(ctx, e.student.ID, e.exam.Token, RequestMeta{})
	if err != nil {
		t.Fatalf("loser start: %v", err)
	}
	if res.AttemptID != winner.ID {
		t.Errorf("loser got attempt %s, want winner %s", res.AttemptID, winner.ID)
	}
	if len(e.attempts.attempts) != 1 {
		t.Errorf("attempt rows = %d, want 1", len(e.attempts.attempts))
	}
}

func TestResumeContinuesAtFirstUnanswered(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := e.start(t)
	order := e.attempt(t, first.AttemptID).QuestionOrder

	for _, qid := range order[:2] {
		if _, err := e.svc.SubmitAnswer(ctx, first.AttemptID, e.student.ID, qid, optionPtr(model.OptionB)); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	res := e.start(t)
	if !res.Resumed {
		t.Fatal("expected resume")
	}
	if res.CurrentIndex != 2 {
		t.Errorf("resume index = %d, want 2", res.CurrentIndex)
	}
	if res.Question.ID != order[2] {
		t.Errorf("resume question = %s, want %s", res.Question.ID, order[2])
	}

	// Question order never changes across resumes.
	after := e.attempt(t, first.AttemptID).QuestionOrder
	for i := range order {
		if order[i] != after[i] {
			t.Fatalf("question order changed at slot %d", i)
		}
	}
}

func TestResumeAllAnsweredClampsToLast(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := e.start(t)
	order := e.attempt(t, first.AttemptID).QuestionOrder
	for _, qid := range order {
		if _, err := e.svc.SubmitAnswer(ctx, first.AttemptID, e.student.ID, qid, optionPtr(model.OptionA)); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	res := e.start(t)
	if res.CurrentIndex != len(order)-1 {
		t.Errorf("resume index = %d, want %d", res.CurrentIndex, len(order)-1)
	}
}

func TestSubmitAnswerUpsertIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res := e.start(t)
	qid := e.attempt(t, res.AttemptID).QuestionOrder[0]

	if _, err := e.svc.SubmitAnswer(ctx, res.AttemptID, e.student.ID, qid, optionPtr(model.OptionB)); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	sub, err := e.svc.SubmitAnswer(ctx, res.AttemptID, e.student.ID, qid, optionPtr(model.OptionA))
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}

	rows, _ := e.answers.ListByAttempt(ctx, res.AttemptID)
	if len(rows) != 1 {
		t.Fatalf("answer rows = %d, want 1", len(rows))
	}
	if rows[0].SelectedOption == nil || *rows[0].SelectedOption != model.OptionA {
		t.Errorf("stored option = %v, want a", rows[0].SelectedOption)
	}
	if !rows[0].IsCorrect {
		t.Error("latest submission is correct but row says otherwise")
	}
	if sub.TotalAnswered != 1 {
		t.Errorf("total answered = %d, want 1", sub.TotalAnswered)
	}
}

func TestSubmitReturnsNextQuestionAndGrid(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res := e.start(t)
	order := e.attempt(t, res.AttemptID).QuestionOrder

	sub, err := e.svc.SubmitAnswer(ctx, res.AttemptID, e.student.ID, order[0], optionPtr(model.OptionC))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.NextIndex == nil || *sub.NextIndex != 1 {
		t.Errorf("next index = %v, want 1", sub.NextIndex)
	}
	if sub.NextQuestion == nil || sub.NextQuestion.ID != order[1] {
		t.Error("next question does not follow the frozen order")
	}
	if len(sub.AnswerGrid) != 4 {
		t.Fatalf("grid len = %d, want 4", len(sub.AnswerGrid))
	}
	if !sub.AnswerGrid[0].Answered || sub.AnswerGrid[1].Answered {
		t.Errorf("grid answered flags wrong: %+v", sub.AnswerGrid)
	}

	// Last question has no successor.
	last, err := e.svc.SubmitAnswer(ctx, res.AttemptID, e.student.ID, order[3], optionPtr(model.OptionC))
	if err != nil {
		t.Fatalf("submit last: %v", err)
	}
	if last.NextQuestion != nil || last.NextIndex != nil {
		t.Error("last question returned a successor")
	}
}

func TestSubmitRejectsForeignQuestion(t *testing.T) {
	e := newEnv(t)

	res := e.start(t)
	_, err := e.svc.SubmitAnswer(context.Background(), res.AttemptID, e.student.ID, uuid.New(), optionPtr(model.OptionA))
	if !errors.Is(err, ErrQuestionNotInSession) {
		t.Errorf("got %v, want ErrQuestionNotInSession", err)
	}

	rows, _ := e.answers.ListByAttempt(context.Background(), res.AttemptID)
	if len(rows) != 0 {
		t.Errorf("rejected submit wrote %d rows", len(rows))
	}
}

func TestSubmitRejectsForeignStudent(t *testing.T) {
	e := newEnv(t)

	res := e.start(t)
	qid := e.attempt(t, res.AttemptID).QuestionOrder[0]

	_, err := e.svc.SubmitAnswer(context.Background(), res.AttemptID, uuid.New(), qid, optionPtr(model.OptionA))
	if !errors.Is(err, ErrAttemptNotFound) {
		t.Errorf("got %v, want ErrAttemptNotFound", err)
	}
}

func TestSubmitAfterDeadlineExpiresAttempt(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res := e.start(t)
	qid := e.attempt(t, res.AttemptID).QuestionOrder[0]

	// Answer one correctly while time remains.
	if _, err := e.svc.SubmitAnswer(ctx, res.AttemptID, e.student.ID, qid, optionPtr(model.OptionA)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	e.attempts.mu.Lock()
	e.attempts.attempts[res.AttemptID].ExpiresAt = time.Now().Add(-time.Second)
	e.attempts.mu.Unlock()

	qid2 := e.attempt(t, res.AttemptID).QuestionOrder[1]
	_, err := e.svc.SubmitAnswer(ctx, res.AttemptID, e.student.ID, qid2, optionPtr(model.OptionA))
	if !errors.Is(err, ErrTimeExpired) {
		t.Fatalf("got %v, want ErrTimeExpired", err)
	}

	// The late submission was not recorded.
	rows, _ := e.answers.ListByAttempt(ctx, res.AttemptID)
	if len(rows) != 1 {
		t.Errorf("answer rows = %d, want 1", len(rows))
	}

	// The attempt was finalized with the real question count as denominator:
	// 1 correct of 4 is 25.00.
	a := e.attempt(t, res.AttemptID)
	if a.Status != model.AttemptStatusExpired {
		t.Errorf("status = %s, want expired", a.Status)
	}
	if a.Score == nil || *a.Score != 25.0 {
		t.Errorf("score = %v, want 25.00", a.Score)
	}
}

func TestGetQuestionByIndexNavigation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res := e.start(t)
	order := e.attempt(t, res.AttemptID).QuestionOrder

	if _, err := e.svc.SubmitAnswer(ctx, res.AttemptID, e.student.ID, order[2], optionPtr(model.OptionD)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	q, err := e.svc.GetQuestionByIndex(ctx, res.AttemptID, e.student.ID, 2)
	if err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if q.Question.ID != order[2] {
		t.Errorf("question = %s, want %s", q.Question.ID, order[2])
	}
	if q.CurrentAnswer == nil || *q.CurrentAnswer != model.OptionD {
		t.Errorf("current answer = %v, want d", q.CurrentAnswer)
	}

	if _, err := e.svc.GetQuestionByIndex(ctx, res.AttemptID, e.student.ID, 4); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("out of range: got %v, want ErrInvalidIndex", err)
	}
	if _, err := e.svc.GetQuestionByIndex(ctx, res.AttemptID, e.student.ID, -1); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("negative: got %v, want ErrInvalidIndex", err)
	}
}

func TestFinishComputesScore(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res := e.start(t)
	order := e.attempt(t, res.AttemptID).QuestionOrder

	// 2 correct, 1 wrong, 1 unanswered: 2/4 = 50.00.
	for _, qid := range order[:2] {
		if _, err := e.svc.SubmitAnswer(ctx, res.AttemptID, e.student.ID, qid, optionPtr(model.OptionA)); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if _, err := e.svc.SubmitAnswer(ctx, res.AttemptID, e.student.ID, order[2], optionPtr(model.OptionB)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	fin, err := e.svc.FinishAttempt(ctx, res.AttemptID, e.student.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if fin.Score != 50.0 {
		t.Errorf("score = %v, want 50.00", fin.Score)
	}
	if fin.TotalCorrect != 2 || fin.TotalAnswered != 3 || fin.TotalQuestions != 4 {
		t.Errorf("totals = %d/%d/%d, want 2/3/4", fin.TotalCorrect, fin.TotalAnswered, fin.TotalQuestions)
	}
	if fin.AlreadySubmitted {
		t.Error("first finish flagged as already submitted")
	}

	a := e.attempt(t, res.AttemptID)
	if a.Status != model.AttemptStatusSubmitted {
		t.Errorf("status = %s, want submitted", a.Status)
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res := e.start(t)
	qid := e.attempt(t, res.AttemptID).QuestionOrder[0]
	if _, err := e.svc.SubmitAnswer(ctx, res.AttemptID, e.student.ID, qid, optionPtr(model.OptionA)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	first, err := e.svc.FinishAttempt(ctx, res.AttemptID, e.student.ID)
	if err != nil {
		t.Fatalf("first finish: %v", err)
	}
	second, err := e.svc.FinishAttempt(ctx, res.AttemptID, e.student.ID)
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if !second.AlreadySubmitted {
		t.Error("replayed finish not flagged")
	}
	if second.Score != first.Score {
		t.Errorf("replayed score = %v, want %v", second.Score, first.Score)
	}
}

func TestFinishLosesRaceToExpiry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res := e.start(t)
	qid := e.attempt(t, res.AttemptID).QuestionOrder[0]
	if _, err := e.svc.SubmitAnswer(ctx, res.AttemptID, e.student.ID, qid, optionPtr(model.OptionA)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// A competing expiry lands between the finish read and its CAS write.
	e.attempts.beforeFinalize = func() {
		e.attempts.mu.Lock()
		defer e.attempts.mu.Unlock()
		a := e.attempts.attempts[res.AttemptID]
		a.Status = model.AttemptStatusExpired
		now := time.Now()
		score := 25.0
		a.FinishTime = &now
		a.Score = &score
	}

	fin, err := e.svc.FinishAttempt(ctx, res.AttemptID, e.student.ID)
	if !errors.Is(err, ErrTimeExpired) {
		t.Fatalf("got %v, want ErrTimeExpired", err)
	}
	if fin == nil || fin.Score != 25.0 {
		t.Errorf("loser result = %+v, want winner's 25.00", fin)
	}

	a := e.attempt(t, res.AttemptID)
	if a.Status != model.AttemptStatusExpired {
		t.Errorf("status = %s, want expired (winner's write stands)", a.Status)
	}
}

func TestExpireOverdueSweep(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res := e.start(t)
	qid := e.attempt(t, res.AttemptID).QuestionOrder[0]
	if _, err := e.svc.SubmitAnswer(ctx, res.AttemptID, e.student.ID, qid, optionPtr(model.OptionA)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	e.attempts.mu.Lock()
	e.attempts.attempts[res.AttemptID].ExpiresAt = time.Now().Add(-time.Minute)
	e.attempts.mu.Unlock()

	n, err := e.svc.ExpireOverdue(ctx, 100)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}

	a := e.attempt(t, res.AttemptID)
	if a.Status != model.AttemptStatusExpired {
		t.Errorf("status = %s, want expired", a.Status)
	}
	if a.Score == nil || *a.Score != 25.0 {
		t.Errorf("score = %v, want 25.00", a.Score)
	}

	// Second sweep finds nothing.
	n, err = e.svc.ExpireOverdue(ctx, 100)
	if err != nil || n != 0 {
		t.Errorf("second sweep = %d, %v, want 0, nil", n, err)
	}
}

func TestStudentPayloadsNeverLeakCorrectness(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res := e.start(t)
	order := e.attempt(t, res.AttemptID).QuestionOrder

	sub, err := e.svc.SubmitAnswer(ctx, res.AttemptID, e.student.ID, order[0], optionPtr(model.OptionB))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	nav, err := e.svc.GetQuestionByIndex(ctx, res.AttemptID, e.student.ID, 1)
	if err != nil {
		t.Fatalf("navigate: %v", err)
	}

	for name, payload := range map[string]any{
		"start":  res,
		"submit": sub,
		"nav":    nav,
	} {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal %s: %v", name, err)
		}
		for _, forbidden := range []string{"correct_option", "is_correct"} {
			if strings.Contains(string(raw), forbidden) {
				t.Errorf("%s payload leaks %q: %s", name, forbidden, raw)
			}
		}
	}
}

func TestComputeScoreRounding(t *testing.T) {
	cases := []struct {
		correct, total int
		want           float64
	}{
		{20, 50, 40},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{0, 50, 0},
		{50, 50, 100},
		{1, 0, 0},
	}
	for _, tc := range cases {
		if got := computeScore(tc.correct, tc.total); got != tc.want {
			t.Errorf("computeScore(%d, %d) = %v, want %v", tc.correct, tc.total, got, tc.want)
		}
	}
}

func TestClearAnswerCountsAsUnanswered(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res := e.start(t)
	qid := e.attempt(t, res.AttemptID).QuestionOrder[0]

	if _, err := e.svc.SubmitAnswer(ctx, res.AttemptID, e.student.ID, qid, optionPtr(model.OptionA)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	sub, err := e.svc.SubmitAnswer(ctx, res.AttemptID, e.student.ID, qid, nil)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if sub.TotalAnswered != 0 {
		t.Errorf("total answered after clear = %d, want 0", sub.TotalAnswered)
	}
	if sub.AnswerGrid[0].Answered {
		t.Error("cleared slot still flagged answered")
	}

	fin, err := e.svc.FinishAttempt(ctx, res.AttemptID, e.student.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if fin.Score != 0 {
		t.Errorf("score = %v, want 0 (cleared answer is wrong)", fin.Score)
	}
}

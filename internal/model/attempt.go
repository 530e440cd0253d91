package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates exam attempt states. The only legal transitions
// are in_progress → submitted and in_progress → expired; both targets are
// terminal and must be reached through a conditional (CAS) write.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusSubmitted  AttemptStatus = "submitted"
	AttemptStatusExpired    AttemptStatus = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusSubmitted || s == AttemptStatusExpired
}

// Attempt is one student's timed instance of taking one exam. QuestionOrder
// is frozen at creation and is the only per-student view of which questions
// appear, in what order. ExpiresAt is computed once and never moves.
type Attempt struct {
	ID            uuid.UUID     `json:"id"`
	ExamID        uuid.UUID     `json:"exam_id"`
	StudentID     uuid.UUID     `json:"student_id"`
	StartTime     time.Time     `json:"start_time"`
	ExpiresAt     time.Time     `json:"expires_at"`
	FinishTime    *time.Time    `json:"finish_time,omitempty"`
	Status        AttemptStatus `json:"status"`
	QuestionOrder []uuid.UUID   `json:"question_order"`
	TotalAnswered int           `json:"total_answered"`
	TotalCorrect  int           `json:"total_correct"`
	Score         *float64      `json:"score,omitempty"`
	IPAddress     *string       `json:"ip_address,omitempty"`
	UserAgent     *string       `json:"user_agent,omitempty"`
}

// AnswerGridItem is the derived per-slot view used by the client's
// navigation grid. It is computed on demand, never persisted.
type AnswerGridItem struct {
	Index      int       `json:"index"`
	QuestionID uuid.UUID `json:"question_id"`
	Answered   bool      `json:"answered"`
}

// StartAttemptRequest is the payload for starting or resuming an attempt.
type StartAttemptRequest struct {
	Token string `json:"token" binding:"required,min=4,max=20"`
}

// SubmitAnswerRequest is the payload for answering one question. A nil
// SelectedOption clears the student's previous selection.
type SubmitAnswerRequest struct {
	QuestionID     uuid.UUID `json:"question_id" binding:"required"`
	SelectedOption *string   `json:"selected_option" binding:"omitempty,oneof=a b c d"`
}

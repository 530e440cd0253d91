package model

import (
	"time"

	"github.com/google/uuid"
)

// Answer is the durable record of a student's latest selection for one
// question within one attempt. There is at most one row per
// (attempt, question); resubmissions overwrite in place. IsCorrect is
// computed server-side and never disclosed to the student.
type Answer struct {
	AttemptID      uuid.UUID  `json:"attempt_id"`
	QuestionID     uuid.UUID  `json:"question_id"`
	SelectedOption *OptionKey `json:"selected_option"`
	IsCorrect      bool       `json:"is_correct"`
	AnsweredAt     time.Time  `json:"answered_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Selected reports whether the row carries an actual selection. A row with a
// nil SelectedOption exists but counts as unanswered.
func (a *Answer) Selected() bool {
	return a.SelectedOption != nil
}

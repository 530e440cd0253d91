package model

import (
	"github.com/google/uuid"
)

// OptionKey identifies one of the four answer choices of a question.
type OptionKey string

const (
	OptionA OptionKey = "a"
	OptionB OptionKey = "b"
	OptionC OptionKey = "c"
	OptionD OptionKey = "d"
)

// ValidOptionKey reports whether k is one of the four symbolic choices.
func ValidOptionKey(k OptionKey) bool {
	switch k {
	case OptionA, OptionB, OptionC, OptionD:
		return true
	}
	return false
}

// QuestionType enumerates supported question kinds.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
)

// Question represents a single exam question. CorrectOption must never be
// serialized into any student-facing response; it has no JSON tag exposure
// outside admin payloads and is stripped by QuestionView.
type Question struct {
	ID             uuid.UUID    `json:"id"`
	ExamID         uuid.UUID    `json:"exam_id"`
	QuestionNumber int          `json:"question_number"`
	Content        string       `json:"content"`
	ImageURL       *string      `json:"image_url,omitempty"`
	Type           QuestionType `json:"type"`
	OptionA        string       `json:"option_a"`
	OptionB        string       `json:"option_b"`
	OptionC        string       `json:"option_c"`
	OptionD        string       `json:"option_d"`
	CorrectOption  OptionKey    `json:"correct_option"`
	ShuffleOptions bool         `json:"shuffle_options"`
}

// QuestionOption is one (key, text) pair as presented to a student.
type QuestionOption struct {
	Key   OptionKey `json:"key"`
	Value string    `json:"value"`
}

// QuestionView is the student-facing rendering of a question. It carries the
// four options in presentation order and never the correct option.
type QuestionView struct {
	ID             uuid.UUID        `json:"id"`
	QuestionNumber int              `json:"question_number"`
	Content        string           `json:"content"`
	ImageURL       *string          `json:"image_url"`
	Type           QuestionType     `json:"type"`
	Options        []QuestionOption `json:"options"`
}

// AddQuestionRequest is the payload for adding a question to an exam.
type AddQuestionRequest struct {
	QuestionNumber int     `json:"question_number" binding:"min=0"`
	Content        string  `json:"content" binding:"required,min=1,max=4000"`
	ImageURL       *string `json:"image_url" binding:"omitempty,url"`
	OptionA        string  `json:"option_a" binding:"required,max=2000"`
	OptionB        string  `json:"option_b" binding:"required,max=2000"`
	OptionC        string  `json:"option_c" binding:"required,max=2000"`
	OptionD        string  `json:"option_d" binding:"required,max=2000"`
	CorrectOption  string  `json:"correct_option" binding:"required,oneof=a b c d"`
	ShuffleOptions bool    `json:"shuffle_options"`
}

// ReplaceQuestionsRequest is the payload for bulk replacing an exam's questions.
type ReplaceQuestionsRequest struct {
	Questions []AddQuestionRequest `json:"questions" binding:"required,dive"`
}

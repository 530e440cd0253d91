package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the lifecycle states of an exam.
type ExamStatus string

const (
	ExamStatusDraft  ExamStatus = "draft"
	ExamStatusActive ExamStatus = "active"
	ExamStatusClosed ExamStatus = "closed"
)

// Exam represents an exam entity. Once attempts exist the exam is treated as
// immutable except for status transitions performed by an administrator.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Token           string     `json:"token,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	DurationMinutes int        `json:"duration_minutes"`
	TotalQuestions  int        `json:"total_questions"`
	Status          ExamStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title           string    `json:"title" binding:"required,min=3,max=255"`
	Token           string    `json:"token" binding:"required,min=4,max=20"`
	StartTime       time.Time `json:"start_time" binding:"required"`
	EndTime         time.Time `json:"end_time" binding:"required,gtfield=StartTime"`
	DurationMinutes int       `json:"duration_minutes" binding:"required,min=1,max=480"`
	TotalQuestions  int       `json:"total_questions" binding:"required,min=1,max=200"`
}

// UpdateExamRequest is the payload for updating a draft exam. Updates replace
// the full definition; partial edits are not supported because active exams
// are immutable anyway.
type UpdateExamRequest struct {
	Title           string    `json:"title" binding:"required,min=3,max=255"`
	Token           string    `json:"token" binding:"required,min=4,max=20"`
	StartTime       time.Time `json:"start_time" binding:"required"`
	EndTime         time.Time `json:"end_time" binding:"required,gtfield=StartTime"`
	DurationMinutes int       `json:"duration_minutes" binding:"required,min=1,max=480"`
	TotalQuestions  int       `json:"total_questions" binding:"required,min=1,max=200"`
}

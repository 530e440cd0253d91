package model

import (
	"time"

	"github.com/google/uuid"
)

// Student represents a student user.
type Student struct {
	ID           uuid.UUID `json:"id"`
	NISN         string    `json:"nisn"`
	Name         string    `json:"name"`
	ClassName    string    `json:"class_name"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StudentLoginRequest is the payload for student authentication.
type StudentLoginRequest struct {
	NISN     string `json:"nisn" binding:"required,min=4,max=20"`
	Password string `json:"password" binding:"required,min=4,max=128"`
}

// StudentLoginResponse is returned after successful student login.
type StudentLoginResponse struct {
	Token   string  `json:"token"`
	Student Student `json:"student"`
}

// CreateStudentRequest is the payload for creating a new student account.
type CreateStudentRequest struct {
	NISN      string `json:"nisn" binding:"required,min=4,max=20"`
	Name      string `json:"name" binding:"required,min=2,max=100"`
	ClassName string `json:"class_name" binding:"required,min=1,max=50"`
	Password  string `json:"password" binding:"required,min=6,max=128"`
	IsActive  *bool  `json:"is_active" binding:"omitempty"`
}

// UpdateStudentRequest is the payload for updating an existing student.
type UpdateStudentRequest struct {
	NISN      string `json:"nisn" binding:"required,min=4,max=20"`
	Name      string `json:"name" binding:"required,min=2,max=100"`
	ClassName string `json:"class_name" binding:"required,min=1,max=50"`
	Password  string `json:"password" binding:"omitempty,min=6,max=128"`
	IsActive  *bool  `json:"is_active" binding:"omitempty"`
}

package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ujianku/ujianku-backend/internal/middleware"
	"github.com/ujianku/ujianku-backend/internal/model"
	"github.com/ujianku/ujianku-backend/internal/response"
	"github.com/ujianku/ujianku-backend/internal/service"
	"github.com/ujianku/ujianku-backend/internal/validator"
)

// AttemptHandler handles the student-facing attempt lifecycle.
type AttemptHandler struct {
	attemptService *service.AttemptService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService) *AttemptHandler {
	return &AttemptHandler{attemptService: attemptService}
}

// Start godoc
// POST /api/v1/student/attempts/start
// Validates the exam token and starts a new attempt, or resumes the
// student's existing one.
func (h *AttemptHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	meta := service.RequestMeta{}
	if ip := c.ClientIP(); ip != "" {
		meta.IPAddress = &ip
	}
	if ua := c.Request.UserAgent(); ua != "" {
		meta.UserAgent = &ua
	}

	res, err := h.attemptService.StartOrResumeAttempt(c.Request.Context(), claims.UserID, req.Token, meta)
	if err != nil {
		failAttemptError(c, err, nil)
		return
	}

	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, res)
}

// SubmitAnswer godoc
// POST /api/v1/student/attempts/:attempt_id/answers
// Records the student's latest selection for one question.
func (h *AttemptHandler) SubmitAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	var selected *model.OptionKey
	if req.SelectedOption != nil {
		k := model.OptionKey(*req.SelectedOption)
		selected = &k
	}

	res, err := h.attemptService.SubmitAnswer(c.Request.Context(), attemptID, claims.UserID, req.QuestionID, selected)
	if err != nil {
		failAttemptError(c, err, nil)
		return
	}

	response.Success(c, http.StatusOK, res)
}

// GetQuestion godoc
// GET /api/v1/student/attempts/:attempt_id/questions/:index
// Random-access navigation within the attempt's frozen question order.
func (h *AttemptHandler) GetQuestion(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidIndex)
		return
	}

	res, err := h.attemptService.GetQuestionByIndex(c.Request.Context(), attemptID, claims.UserID, index)
	if err != nil {
		failAttemptError(c, err, nil)
		return
	}

	response.Success(c, http.StatusOK, res)
}

// Finish godoc
// POST /api/v1/student/attempts/:attempt_id/finish
// Finalizes the attempt and returns the score. Safe to replay.
func (h *AttemptHandler) Finish(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	res, err := h.attemptService.FinishAttempt(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		// An expired attempt still reports its recorded score.
		var data interface{}
		if res != nil {
			data = res
		}
		failAttemptError(c, err, data)
		return
	}

	response.Success(c, http.StatusOK, res)
}

// failAttemptError maps attempt lifecycle errors onto HTTP statuses and
// response codes. data, when non-nil, rides along with the error body.
func failAttemptError(c *gin.Context, err error, data interface{}) {
	status, code := http.StatusInternalServerError, response.ErrInternal

	switch {
	case errors.Is(err, service.ErrInvalidToken):
		status, code = http.StatusBadRequest, response.ErrInvalidEntryToken
	case errors.Is(err, service.ErrExamNotActive):
		status, code = http.StatusConflict, response.ErrExamNotActive
	case errors.Is(err, service.ErrExamNotStarted):
		status, code = http.StatusConflict, response.ErrExamNotStarted
	case errors.Is(err, service.ErrExamWindowClosed):
		status, code = http.StatusConflict, response.ErrExamEnded
	case errors.Is(err, service.ErrStudentNotFound):
		status, code = http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrStudentInactive):
		status, code = http.StatusForbidden, response.ErrStudentInactive
	case errors.Is(err, service.ErrAlreadyCompleted):
		status, code = http.StatusConflict, response.ErrAlreadyCompleted
	case errors.Is(err, service.ErrTimeExpired):
		status, code = http.StatusConflict, response.ErrTimeExpired
	case errors.Is(err, service.ErrInsufficientQuestions):
		status, code = http.StatusConflict, response.ErrNoQuestions
	case errors.Is(err, service.ErrAttemptNotFound):
		status, code = http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrSessionClosed):
		status, code = http.StatusConflict, response.ErrSessionClosed
	case errors.Is(err, service.ErrQuestionNotInSession):
		status, code = http.StatusBadRequest, response.ErrQuestionNotInSession
	case errors.Is(err, service.ErrInvalidOption):
		status, code = http.StatusBadRequest, response.ErrInvalidOption
	case errors.Is(err, service.ErrInvalidIndex):
		status, code = http.StatusBadRequest, response.ErrInvalidIndex
	}

	if data != nil {
		response.FailWithData(c, status, code, data)
		return
	}
	response.Fail(c, status, code)
}

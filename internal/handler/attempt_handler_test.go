package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ujianku/ujianku-backend/internal/response"
	"github.com/ujianku/ujianku-backend/internal/service"
)

func testContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var env response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestFailAttemptErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   response.ErrCode
	}{
		{"invalid token", service.ErrInvalidToken, http.StatusBadRequest, response.ErrInvalidEntryToken},
		{"exam not active", service.ErrExamNotActive, http.StatusConflict, response.ErrExamNotActive},
		{"exam not started", service.ErrExamNotStarted, http.StatusConflict, response.ErrExamNotStarted},
		{"window closed", service.ErrExamWindowClosed, http.StatusConflict, response.ErrExamEnded},
		{"student not found", service.ErrStudentNotFound, http.StatusNotFound, response.ErrNotFound},
		{"student inactive", service.ErrStudentInactive, http.StatusForbidden, response.ErrStudentInactive},
		{"already completed", service.ErrAlreadyCompleted, http.StatusConflict, response.ErrAlreadyCompleted},
		{"time expired", service.ErrTimeExpired, http.StatusConflict, response.ErrTimeExpired},
		{"not enough questions", service.ErrInsufficientQuestions, http.StatusConflict, response.ErrNoQuestions},
		{"attempt not found", service.ErrAttemptNotFound, http.StatusNotFound, response.ErrNotFound},
		{"session closed", service.ErrSessionClosed, http.StatusConflict, response.ErrSessionClosed},
		{"foreign question", service.ErrQuestionNotInSession, http.StatusBadRequest, response.ErrQuestionNotInSession},
		{"bad option", service.ErrInvalidOption, http.StatusBadRequest, response.ErrInvalidOption},
		{"bad index", service.ErrInvalidIndex, http.StatusBadRequest, response.ErrInvalidIndex},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, w := testContext(t)
			failAttemptError(c, tc.err, nil)

			if w.Code != tc.status {
				t.Errorf("status = %d, want %d", w.Code, tc.status)
			}
			env := decodeEnvelope(t, w)
			if env.Success {
				t.Error("success flag set on error response")
			}
			if env.Error == nil {
				t.Fatal("error body missing")
			}
			if env.Error.Code != tc.code {
				t.Errorf("code = %q, want %q", env.Error.Code, tc.code)
			}
			if env.Error.Message == "" {
				t.Error("error message empty")
			}
		})
	}
}

func TestFailAttemptErrorSurvivesWrapping(t *testing.T) {
	c, w := testContext(t)
	failAttemptError(c, fmt.Errorf("finish attempt: %w", service.ErrTimeExpired), nil)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	env := decodeEnvelope(t, w)
	if env.Error == nil || env.Error.Code != response.ErrTimeExpired {
		t.Errorf("wrapped sentinel not mapped: %+v", env.Error)
	}
}

func TestFailAttemptErrorCarriesScorePayload(t *testing.T) {
	c, w := testContext(t)
	res := &service.FinishResult{Score: 40, TotalCorrect: 20, TotalAnswered: 35, TotalQuestions: 50}
	failAttemptError(c, service.ErrTimeExpired, res)

	env := decodeEnvelope(t, w)
	if env.Error == nil || env.Error.Code != response.ErrTimeExpired {
		t.Fatalf("unexpected error body: %+v", env.Error)
	}

	data, ok := env.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data = %T, want object", env.Data)
	}
	if got := data["score"]; got != float64(40) {
		t.Errorf("data.score = %v, want 40", got)
	}
	if got := data["total_correct"]; got != float64(20) {
		t.Errorf("data.total_correct = %v, want 20", got)
	}
}

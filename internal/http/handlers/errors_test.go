package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/conceptmesh/backend/internal/http/response"
	"github.com/conceptmesh/backend/internal/jobs"
	"github.com/conceptmesh/backend/internal/orchestrator"
	"github.com/conceptmesh/backend/internal/platform/apierr"
	"github.com/conceptmesh/backend/internal/prompts"
)

func respond(t *testing.T, err error) (int, response.ErrorEnvelope) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	respondDomainError(c, err)

	var env response.ErrorEnvelope
	if uErr := json.Unmarshal(rec.Body.Bytes(), &env); uErr != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), uErr)
	}
	return rec.Code, env
}

func TestRespondDomainErrorStatuses(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"budget", &orchestrator.Error{Code: orchestrator.CodeBudgetExceeded, Message: "limit reached"}, http.StatusPaymentRequired, orchestrator.CodeBudgetExceeded},
		{"validation", &orchestrator.Error{Code: orchestrator.CodeValidationFailed, Message: "low quality"}, http.StatusUnprocessableEntity, orchestrator.CodeValidationFailed},
		{"rate limit", &orchestrator.Error{Code: orchestrator.CodeRateLimited, Message: "slow down"}, http.StatusTooManyRequests, orchestrator.CodeRateLimited},
		{"timeout", &orchestrator.Error{Code: orchestrator.CodeTimeout, Message: "timed out"}, http.StatusGatewayTimeout, orchestrator.CodeTimeout},
		{"unavailable", &orchestrator.Error{Code: orchestrator.CodeModelUnavailable, Message: "no models"}, http.StatusServiceUnavailable, orchestrator.CodeModelUnavailable},
		{"parse", &orchestrator.Error{Code: orchestrator.CodeParseError, Message: "bad output"}, http.StatusInternalServerError, orchestrator.CodeParseError},
		{"template", &prompts.TemplateError{Type: prompts.TypeQuizGeneration, Version: prompts.VersionStaging, Reason: "no such version"}, http.StatusBadRequest, prompts.CodeTemplateError},
		{"queue full", jobs.ErrQueueFull, http.StatusServiceUnavailable, jobs.CodeQueueFull},
		{"api error", apierr.New(http.StatusBadRequest, "invalid_window", errors.New("window must be day or month")), http.StatusBadRequest, "invalid_window"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, env := respond(t, tc.err)
			if status != tc.wantStatus {
				t.Fatalf("status = %d, want %d", status, tc.wantStatus)
			}
			if env.Error.Code != tc.wantCode {
				t.Fatalf("code = %q, want %q", env.Error.Code, tc.wantCode)
			}
		})
	}
}

func TestRespondDomainErrorMessageIsUserSafe(t *testing.T) {
	err := &orchestrator.Error{
		Code:    orchestrator.CodeBudgetExceeded,
		Message: "Daily spending limit reached",
		Err:     errors.New("counter usage:u1 at 10.01"),
	}
	_, env := respond(t, err)
	if env.Error.Message != "Daily spending limit reached" {
		t.Fatalf("message = %q, internal detail must not leak", env.Error.Message)
	}
}

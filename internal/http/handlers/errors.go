package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/conceptmesh/backend/internal/costtracking"
	"github.com/conceptmesh/backend/internal/http/response"
	"github.com/conceptmesh/backend/internal/jobs"
	"github.com/conceptmesh/backend/internal/orchestrator"
	"github.com/conceptmesh/backend/internal/platform/apierr"
	"github.com/conceptmesh/backend/internal/prompts"
)

// respondDomainError translates the core error taxonomy into HTTP statuses.
// Everything not recognized becomes a 500 with a generic code.
func respondDomainError(c *gin.Context, err error) {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		response.RespondError(c, ae.Status, ae.Code, ae)
		return
	}
	if oe, ok := orchestrator.AsError(err); ok {
		status := http.StatusInternalServerError
		switch oe.Code {
		case orchestrator.CodeBudgetExceeded:
			status = http.StatusPaymentRequired
		case orchestrator.CodeValidationFailed:
			status = http.StatusUnprocessableEntity
		case orchestrator.CodeRateLimited:
			status = http.StatusTooManyRequests
		case orchestrator.CodeTimeout:
			status = http.StatusGatewayTimeout
		case orchestrator.CodeModelUnavailable:
			status = http.StatusServiceUnavailable
		}
		response.RespondError(c, status, oe.Code, errors.New(oe.Message))
		return
	}

	var tmplErr *prompts.TemplateError
	if errors.As(err, &tmplErr) {
		response.RespondError(c, http.StatusBadRequest, prompts.CodeTemplateError, err)
		return
	}
	var trackErr *costtracking.TrackingError
	if errors.As(err, &trackErr) {
		response.RespondError(c, http.StatusServiceUnavailable, costtracking.CodeCostTracking, errors.New("usage accounting is unavailable, request was not executed"))
		return
	}
	if errors.Is(err, jobs.ErrQueueFull) {
		response.RespondError(c, http.StatusServiceUnavailable, jobs.CodeQueueFull, errors.New("too many jobs in flight, retry shortly"))
		return
	}
	response.RespondError(c, http.StatusInternalServerError, "internal_error", err)
}

// requestUserID reads the opaque caller identity. Authentication is out of
// scope; the gateway in front of this service owns it.
func requestUserID(c *gin.Context) string {
	return c.GetHeader("X-User-ID")
}

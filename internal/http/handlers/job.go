package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/conceptmesh/backend/internal/http/response"
	"github.com/conceptmesh/backend/internal/jobs"
	"github.com/conceptmesh/backend/internal/platform/apierr"
)

type JobHandler struct {
	jobs jobs.Manager
}

func NewJobHandler(jm jobs.Manager) *JobHandler {
	return &JobHandler{jobs: jm}
}

// GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondDomainError(c, apierr.New(http.StatusBadRequest, "invalid_job_id", err))
		return
	}
	st, err := h.jobs.Status(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		respondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": st})
}

// POST /api/jobs/:id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondDomainError(c, apierr.New(http.StatusBadRequest, "invalid_job_id", err))
		return
	}
	ok, err := h.jobs.Cancel(c.Request.Context(), jobID)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, jobs.ErrNotCancellable) {
			status = http.StatusConflict
		}
		response.RespondError(c, status, "cancel_job_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"cancelled": ok})
}

// POST /api/jobs/:id/retry
func (h *JobHandler) RetryJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondDomainError(c, apierr.New(http.StatusBadRequest, "invalid_job_id", err))
		return
	}
	newID, err := h.jobs.Retry(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotRetryable) {
			response.RespondError(c, http.StatusConflict, "retry_job_failed", err)
			return
		}
		respondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job_id": newID})
}

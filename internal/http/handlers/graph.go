package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/conceptmesh/backend/internal/http/response"
	"github.com/conceptmesh/backend/internal/jobs"
	"github.com/conceptmesh/backend/internal/platform/apierr"
	"github.com/conceptmesh/backend/internal/platform/logger"
	"github.com/conceptmesh/backend/internal/repos"
)

// GraphJobType is the job-queue type for asynchronous graph assembly.
const GraphJobType = "graph-generation"

// GraphJobPayload is the durable job payload for graph assembly.
type GraphJobPayload struct {
	UserID        string     `json:"user_id,omitempty"`
	DocumentID    *uuid.UUID `json:"document_id,omitempty"`
	DocumentTitle string     `json:"document_title"`
	DocumentText  string     `json:"document_text"`
	MinNodes      int        `json:"min_nodes,omitempty"`
	MaxNodes      int        `json:"max_nodes,omitempty"`
	PromptVersion string     `json:"prompt_version,omitempty"`
	PreferredModel string    `json:"preferred_model,omitempty"`
}

type GraphHandler struct {
	log    *logger.Logger
	jobs   jobs.Manager
	graphs repos.GraphRepo
}

func NewGraphHandler(log *logger.Logger, jm jobs.Manager, graphs repos.GraphRepo) *GraphHandler {
	return &GraphHandler{log: log, jobs: jm, graphs: graphs}
}

// POST /api/graphs
// Submits graph assembly as a background job and returns the job id.
func (h *GraphHandler) SubmitGeneration(c *gin.Context) {
	var payload GraphJobPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondDomainError(c, apierr.New(http.StatusBadRequest, "invalid_request", err))
		return
	}
	if payload.DocumentText == "" {
		respondDomainError(c, apierr.New(http.StatusBadRequest, "invalid_request", errors.New("document_text is required")))
		return
	}
	if payload.UserID == "" {
		payload.UserID = requestUserID(c)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		respondDomainError(c, apierr.New(http.StatusBadRequest, "invalid_request", err))
		return
	}
	jobID, err := h.jobs.Submit(c.Request.Context(), jobs.Spec{
		OwnerUserID: payload.UserID,
		JobType:     GraphJobType,
		Payload:     raw,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"job_id": jobID})
}

// GET /api/graphs/:id
func (h *GraphHandler) GetGraph(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondDomainError(c, apierr.New(http.StatusBadRequest, "invalid_graph_id", err))
		return
	}
	g, err := h.graphs.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.RespondError(c, http.StatusNotFound, "graph_not_found", err)
			return
		}
		respondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"graph": g})
}

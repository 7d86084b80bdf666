package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/conceptmesh/backend/internal/http/response"
	"github.com/conceptmesh/backend/internal/orchestrator"
	"github.com/conceptmesh/backend/internal/platform/apierr"
	"github.com/conceptmesh/backend/internal/platform/logger"
	"github.com/conceptmesh/backend/internal/prompts"
)

// AIHandler serves the synchronous orchestrated operations: connection
// explanations and quiz generation. Graph assembly is asynchronous and goes
// through the job queue instead.
type AIHandler struct {
	log  *logger.Logger
	orch orchestrator.Orchestrator
}

func NewAIHandler(log *logger.Logger, orch orchestrator.Orchestrator) *AIHandler {
	return &AIHandler{log: log, orch: orch}
}

type explainConnectionRequest struct {
	UserID       string         `json:"user_id,omitempty"`
	NodeA        map[string]any `json:"node_a"`
	NodeB        map[string]any `json:"node_b"`
	DocumentText string         `json:"document_text,omitempty"`
}

// POST /api/connections/explain
func (h *AIHandler) ExplainConnection(c *gin.Context) {
	var req explainConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondDomainError(c, apierr.New(http.StatusBadRequest, "invalid_request", err))
		return
	}
	if len(req.NodeA) == 0 || len(req.NodeB) == 0 {
		respondDomainError(c, apierr.New(http.StatusBadRequest, "invalid_request", errors.New("node_a and node_b are required")))
		return
	}
	if req.UserID == "" {
		req.UserID = requestUserID(c)
	}

	promptCtx := prompts.Context{"nodeA": req.NodeA, "nodeB": req.NodeB}
	if req.DocumentText != "" {
		promptCtx["documentText"] = req.DocumentText
	}
	resp, err := h.orch.Execute(c.Request.Context(), orchestrator.Request{
		PromptType: prompts.TypeConnectionExplanation,
		Context:    promptCtx,
		UserID:     req.UserID,
		Operation:  "connection-explanation",
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"result": resp})
}

type generateQuizRequest struct {
	UserID        string `json:"user_id,omitempty"`
	DocumentText  string `json:"document_text"`
	QuestionCount int    `json:"question_count"`
	Difficulty    string `json:"difficulty,omitempty"`
}

// POST /api/quizzes
func (h *AIHandler) GenerateQuiz(c *gin.Context) {
	var req generateQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondDomainError(c, apierr.New(http.StatusBadRequest, "invalid_request", err))
		return
	}
	if req.DocumentText == "" {
		respondDomainError(c, apierr.New(http.StatusBadRequest, "invalid_request", errors.New("document_text is required")))
		return
	}
	if req.QuestionCount <= 0 {
		req.QuestionCount = 5
	}
	if req.UserID == "" {
		req.UserID = requestUserID(c)
	}

	promptCtx := prompts.Context{
		"documentText":  req.DocumentText,
		"questionCount": req.QuestionCount,
	}
	if req.Difficulty != "" {
		promptCtx["difficulty"] = req.Difficulty
	}
	resp, err := h.orch.Execute(c.Request.Context(), orchestrator.Request{
		PromptType: prompts.TypeQuizGeneration,
		Context:    promptCtx,
		UserID:     req.UserID,
		Operation:  "quiz-generation",
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"result": resp})
}

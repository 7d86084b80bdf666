package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/conceptmesh/backend/internal/costtracking"
	"github.com/conceptmesh/backend/internal/http/response"
	"github.com/conceptmesh/backend/internal/platform/apierr"
)

type UsageHandler struct {
	tracker costtracking.Tracker
}

func NewUsageHandler(tracker costtracking.Tracker) *UsageHandler {
	return &UsageHandler{tracker: tracker}
}

func windowParam(c *gin.Context) (costtracking.Window, error) {
	switch c.DefaultQuery("window", "day") {
	case "day":
		return costtracking.WindowDay, nil
	case "month":
		return costtracking.WindowMonth, nil
	default:
		return "", errors.New("window must be day or month")
	}
}

// GET /api/usage/:userId/summary?window=day|month
func (h *UsageHandler) GetSummary(c *gin.Context) {
	window, err := windowParam(c)
	if err != nil {
		respondDomainError(c, apierr.New(http.StatusBadRequest, "invalid_window", err))
		return
	}
	summary, err := h.tracker.GetUserSummary(c.Request.Context(), c.Param("userId"), window)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"summary": summary})
}

// GET /api/usage/:userId/breakdown?window=day|month
func (h *UsageHandler) GetBreakdown(c *gin.Context) {
	window, err := windowParam(c)
	if err != nil {
		respondDomainError(c, apierr.New(http.StatusBadRequest, "invalid_window", err))
		return
	}
	breakdown, err := h.tracker.GetCostBreakdown(c.Request.Context(), c.Param("userId"), window)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"breakdown": breakdown})
}

// GET /api/usage/:userId/budget
// Dry-run budget check so the client can warn before submitting work.
func (h *UsageHandler) CheckBudget(c *gin.Context) {
	decision, err := h.tracker.CheckBudget(c.Request.Context(), costtracking.CheckBudgetRequest{
		UserID:    c.Param("userId"),
		Operation: c.DefaultQuery("operation", "graph-generation"),
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"budget": decision})
}

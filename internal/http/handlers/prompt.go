package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/conceptmesh/backend/internal/http/response"
	"github.com/conceptmesh/backend/internal/prompts"
)

type PromptHandler struct {
	prompts prompts.Manager
}

func NewPromptHandler(pm prompts.Manager) *PromptHandler {
	return &PromptHandler{prompts: pm}
}

// GET /api/prompts/:type/stats?version=production
func (h *PromptHandler) GetStats(c *gin.Context) {
	pt := prompts.PromptType(c.Param("type"))
	version := prompts.PromptVersion(c.DefaultQuery("version", string(prompts.VersionProduction)))
	stats := h.prompts.GetStats(c.Request.Context(), pt, version)
	response.RespondOK(c, gin.H{"stats": stats})
}

// GET /api/prompts/:type/compare
func (h *PromptHandler) CompareVersions(c *gin.Context) {
	pt := prompts.PromptType(c.Param("type"))
	result, err := h.prompts.CompareVersions(c.Request.Context(), pt)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"comparison": result})
}

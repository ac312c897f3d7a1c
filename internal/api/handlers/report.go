package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type reportRequest struct {
	FileKey     string  `json:"fileKey" binding:"required,max=64"`
	Reason      string  `json:"reason" binding:"required,oneof=copyright illegal inappropriate other"`
	Description *string `json:"description"`
}

// ReportFile files an abuse report against a shared file.
func (h *FileHandler) ReportFile(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dados inválidos"})
		return
	}

	rep, err := h.Lifecycle.ReportFile(c.Request.Context(), req.FileKey, req.Reason, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, rep)
}

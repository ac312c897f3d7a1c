package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetFileInfo returns the record projection plus isOnceDownloaded, so the
// share and download pages can render an unavailable state without
// consuming a one-time download.
func (h *FileHandler) GetFileInfo(c *gin.Context) {
	keyFile := c.Param("keyFile")

	info, err := h.Lifecycle.GetFileInfo(c.Request.Context(), keyFile)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anondrop/file-service/internal/models"
)

// DownloadFile authorizes and logs a download, returning a presigned GET
// URL the client follows directly to the bucket. Failure statuses: 404
// unknown key, 403 disabled or one-time already consumed, 410 expired,
// 409 lost the exclusivity race (retryable), 500 everything else.
func (h *FileHandler) DownloadFile(c *gin.Context) {
	keyFile := c.Param("keyFile")

	requester := models.Requester{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}

	url, err := h.Lifecycle.AuthorizeDownload(c.Request.Context(), keyFile, requester)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

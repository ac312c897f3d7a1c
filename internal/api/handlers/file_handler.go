package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anondrop/file-service/internal/services"
	"github.com/anondrop/file-service/pkg/apperrors"
)

// Pinger is anything the health check can probe.
type Pinger interface {
	CheckConnection(ctx context.Context) error
}

// FileHandler wires the HTTP surface to the lifecycle manager. Scanner is
// nil when ClamAV is not configured. MaxFileSize caps registered uploads in
// bytes; zero disables the cap.
type FileHandler struct {
	Lifecycle   *services.Lifecycle
	Signer      services.ObjectSigner
	Scanner     *services.Scanner
	Store       Pinger
	Storage     Pinger
	MaxFileSize int64
}

func (h *FileHandler) HealthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	if h.Store != nil {
		if err := h.Store.CheckConnection(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
	}
	if h.Storage != nil {
		if err := h.Storage.CheckConnection(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "storage": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps a lifecycle outcome to its status and message. Anything
// that is not an AppError was already logged; the client only sees the
// generic internal message.
func respondError(c *gin.Context, err error) {
	if appErr := apperrors.As(err); appErr != nil {
		c.JSON(appErr.Status, gin.H{"error": appErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": services.MsgInternalError})
}

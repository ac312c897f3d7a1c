package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anondrop/file-service/internal/models"
	"github.com/anondrop/file-service/internal/services"
)

const msgFileTooLarge = "Arquivo excede o tamanho máximo permitido"

// validKeyFile rejects keys that could escape the object namespace. Keys are
// used verbatim as object names and in scan paths, so path separators are
// never legal.
func validKeyFile(keyFile string) bool {
	return !strings.ContainsAny(keyFile, `/\`) && !strings.Contains(keyFile, "..")
}

type registerRequest struct {
	KeyFile         string     `json:"keyFile" binding:"required,max=64"`
	FileName        string     `json:"fileName" binding:"required,max=255"`
	MimeType        string     `json:"mimeType" binding:"required,max=255"`
	Size            int64      `json:"size" binding:"required,gt=0"`
	Description     *string    `json:"description"`
	ExpirationDate  *time.Time `json:"expirationDate"`
	OneTimeDownload bool       `json:"oneTimeDownload"`
}

// RegisterFile records the metadata for an object the client already put
// into the bucket, and hands back the shareable link. The object itself is
// never touched here.
func (h *FileHandler) RegisterFile(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validKeyFile(req.KeyFile) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dados inválidos"})
		return
	}
	if h.MaxFileSize > 0 && req.Size > h.MaxFileSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgFileTooLarge})
		return
	}

	rec := models.FileRecord{
		KeyFile:         req.KeyFile,
		FileName:        req.FileName,
		MimeType:        req.MimeType,
		Size:            req.Size,
		Description:     req.Description,
		ExpirationDate:  req.ExpirationDate,
		OneTimeDownload: req.OneTimeDownload,
	}

	link, err := h.Lifecycle.RegisterFile(c.Request.Context(), rec)
	if err != nil {
		respondError(c, err)
		return
	}

	if h.Scanner != nil {
		go h.Scanner.ScanObject(context.Background(), req.KeyFile)
	}

	c.JSON(http.StatusCreated, gin.H{"link": link})
}

type presignRequest struct {
	KeyFile     string `json:"keyFile" binding:"required,max=64"`
	ContentType string `json:"contentType" binding:"required,max=255"`
}

// PresignUpload reserves a key and returns the presigned PUT URL the client
// uploads through. Uniqueness of the key is only enforced later, at
// registration.
func (h *FileHandler) PresignUpload(c *gin.Context) {
	var req presignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": `Os campos "keyFile" e "contentType" são obrigatórios.`})
		return
	}
	if !validKeyFile(req.KeyFile) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dados inválidos"})
		return
	}

	url, err := h.Signer.PresignedUpload(c.Request.Context(), req.KeyFile, req.ContentType, services.SignedURLTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": services.MsgInternalError})
		return
	}

	c.JSON(http.StatusOK, gin.H{"presignedUrl": url, "keyFile": req.KeyFile, "maxFileSize": h.MaxFileSize})
}

package api

import (
	"github.com/gin-gonic/gin"

	"github.com/anondrop/file-service/internal/api/handlers"
)

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	}
}

// RegisterRoutes mounts the API. rateLimiter may be nil (tests).
func RegisterRoutes(r *gin.Engine, h *handlers.FileHandler, rateLimiter gin.HandlerFunc) {
	r.Use(corsMiddleware())

	api := r.Group("/api")
	if rateLimiter != nil {
		api.Use(rateLimiter)
	}
	{
		api.GET("/health", h.HealthCheck)

		api.GET("/file/:keyFile", h.GetFileInfo)      // file info + isOnceDownloaded
		api.GET("/download/:keyFile", h.DownloadFile) // authorize + presigned GET
		api.POST("/upload", h.RegisterFile)           // register after direct upload
		api.POST("/upload/presign", h.PresignUpload)  // presigned PUT
		api.POST("/report", h.ReportFile)             // abuse report
	}
}

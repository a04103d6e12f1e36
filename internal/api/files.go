package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"odprt-chatbot/gateway/internal/files"
	apperrors "odprt-chatbot/gateway/pkg/errors"
	"odprt-chatbot/gateway/pkg/logger"
)

// FilesHandler manages the knowledge bucket behind the admin file scene.
type FilesHandler struct {
	files *files.Service
	log   *logger.Logger
}

// NewFilesHandler creates a files handler.
func NewFilesHandler(svc *files.Service, log *logger.Logger) *FilesHandler {
	return &FilesHandler{files: svc, log: log}
}

// RegisterRoutes mounts the file routes on the given group.
func (h *FilesHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/files")
	{
		group.GET("", h.List)
		group.POST("", h.Upload)
		group.DELETE("", h.Delete)
		group.GET("/download", h.Download)
	}
}

// Upload pushes multipart "files" through ingestion and into the bucket.
func (h *FilesHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.Error(apperrors.NewBadRequestError("INVALID_FORM", "request must be multipart form data"))
		return
	}

	uploads := form.File["files"]
	if len(uploads) == 0 {
		c.Error(apperrors.NewBadRequestError("NO_FILES", "at least one file is required"))
		return
	}

	contents := make(map[string][]byte, len(uploads))
	for _, header := range uploads {
		f, err := header.Open()
		if err != nil {
			c.Error(apperrors.NewBadRequestError("UNREADABLE_FILE", "could not read "+header.Filename))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			c.Error(apperrors.NewBadRequestError("UNREADABLE_FILE", "could not read "+header.Filename))
			return
		}
		contents[header.Filename] = data
	}

	if err := h.files.Upload(c.Request.Context(), contents); err != nil {
		c.Error(toAppError(err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"uploaded": len(contents)})
}

// List returns the bucket contents.
func (h *FilesHandler) List(c *gin.Context) {
	stored, err := h.files.List(c.Request.Context())
	if err != nil {
		c.Error(toAppError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": stored})
}

type deleteFilesRequest struct {
	FileNames []string `json:"file_names" binding:"required"`
}

// Delete removes the named files from the bucket.
func (h *FilesHandler) Delete(c *gin.Context) {
	var req deleteFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewBadRequestError("INVALID_BODY", "file_names is required"))
		return
	}
	if err := h.files.Delete(c.Request.Context(), req.FileNames); err != nil {
		c.Error(toAppError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// Download streams one bucket file through the gateway.
func (h *FilesHandler) Download(c *gin.Context) {
	filePath := c.Query("file_path")
	if filePath == "" {
		c.Error(apperrors.NewBadRequestError("MISSING_PATH", "file_path is required"))
		return
	}

	body, contentType, err := h.files.Download(c.Request.Context(), filePath)
	if err != nil {
		c.Error(toAppError(err))
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		h.log.LogError(err, "file download stream failed", "file_path", filePath)
	}
}

package file

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abduss/dedupdrive/internal/apperror"
	"github.com/abduss/dedupdrive/internal/auth"
	"github.com/abduss/dedupdrive/internal/catalog"
	"github.com/abduss/dedupdrive/internal/filter"
	"github.com/abduss/dedupdrive/internal/logger"
	"github.com/abduss/dedupdrive/internal/metrics"
)

// multipartOverhead leaves room for boundaries and part headers on top of
// the file itself.
const multipartOverhead = 1 << 20

// RegisterRoutes mounts the owner-facing operations under an authenticated
// router group.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.POST("/files", handler.uploadFile)
	group.GET("/files", handler.listFiles)
	group.POST("/files/search", handler.searchFiles)
	group.GET("/files/:entryID", handler.getFile)
	group.PATCH("/files/:entryID", handler.renameFile)
	group.DELETE("/files/:entryID", handler.deleteFile)
	group.PUT("/files/:entryID/visibility", handler.setVisibility)
	group.POST("/files/:entryID/link/rotate", handler.rotateLink)
	group.GET("/files/:entryID/download", handler.downloadFile)
	group.GET("/storage/stats", handler.storageStats)
}

// RegisterPublicRoutes mounts the anonymous public-link operations.
func RegisterPublicRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.GET("/files", handler.listPublicFiles)
	group.GET("/files/:token", handler.downloadPublicFile)
}

type httpHandler struct {
	service *Service
}

type renameRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
}

type visibilityRequest struct {
	IsPublic *bool `json:"is_public" binding:"required"`
}

func (h *httpHandler) uploadFile(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.service.MaxFileSize()+multipartOverhead)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		WriteError(c, apperror.Unavailable("open upload file", err))
		return
	}
	defer file.Close()

	entry, err := h.service.Upload(c.Request.Context(), userID, UploadInput{
		Name:     fileHeader.Filename,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Size:     fileHeader.Size,
		Body:     file,
	})
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

func (h *httpHandler) listFiles(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	spec, err := filter.ParseQuery(c.Request.URL.Query())
	if err != nil {
		WriteError(c, err)
		return
	}
	h.list(c, catalog.OwnerScope(userID), spec)
}

func (h *httpHandler) searchFiles(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	spec, err := filter.DecodeJSON(c.Request.Body)
	if err != nil {
		WriteError(c, err)
		return
	}
	h.list(c, catalog.OwnerScope(userID), spec)
}

func (h *httpHandler) listPublicFiles(c *gin.Context) {
	spec, err := filter.ParseQuery(c.Request.URL.Query())
	if err != nil {
		WriteError(c, err)
		return
	}

	listing, err := h.service.List(c.Request.Context(), catalog.PublicScope(), spec)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPublicListing(listing))
}

func (h *httpHandler) list(c *gin.Context, scope catalog.Scope, spec filter.Spec) {
	listing, err := h.service.List(c.Request.Context(), scope, spec)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *httpHandler) getFile(c *gin.Context) {
	userID, entryID, ok := h.ownerAndEntry(c)
	if !ok {
		return
	}

	entry, err := h.service.Get(c.Request.Context(), userID, entryID)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *httpHandler) renameFile(c *gin.Context) {
	userID, entryID, ok := h.ownerAndEntry(c)
	if !ok {
		return
	}

	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "display_name is required", "kind": apperror.KindInvalidInput})
		return
	}

	entry, err := h.service.Rename(c.Request.Context(), userID, entryID, req.DisplayName)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *httpHandler) deleteFile(c *gin.Context) {
	userID, entryID, ok := h.ownerAndEntry(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), userID, entryID); err != nil {
		WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) setVisibility(c *gin.Context) {
	userID, entryID, ok := h.ownerAndEntry(c)
	if !ok {
		return
	}

	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "is_public is required", "kind": apperror.KindInvalidInput})
		return
	}

	entry, err := h.service.SetVisibility(c.Request.Context(), userID, entryID, *req.IsPublic)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *httpHandler) rotateLink(c *gin.Context) {
	userID, entryID, ok := h.ownerAndEntry(c)
	if !ok {
		return
	}

	entry, err := h.service.RotateLink(c.Request.Context(), userID, entryID)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *httpHandler) downloadFile(c *gin.Context) {
	userID, entryID, ok := h.ownerAndEntry(c)
	if !ok {
		return
	}

	entry, reader, err := h.service.Open(c.Request.Context(), userID, entryID)
	if err != nil {
		WriteError(c, err)
		return
	}
	defer reader.Close()

	h.stream(c, entry, reader, "owner")
}

func (h *httpHandler) downloadPublicFile(c *gin.Context) {
	entry, reader, err := h.service.OpenPublic(c.Request.Context(), c.Param("token"))
	if err != nil {
		WriteError(c, err)
		return
	}
	defer reader.Close()

	h.stream(c, entry, reader, "public")
}

// stream copies the bytes to the client and counts the download only once
// the whole body went out.
func (h *httpHandler) stream(c *gin.Context, entry catalog.Entry, reader io.Reader, access string) {
	c.Header("Content-Type", entry.MimeType)
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": entry.DisplayName}))
	c.Header("Content-Length", fmt.Sprintf("%d", entry.OriginalSize))
	c.Status(http.StatusOK)

	if _, err := io.Copy(c.Writer, reader); err != nil {
		logger.FromContext(c).Warn("download interrupted", zap.String("entry_id", entry.ID.String()), zap.Error(err))
		return
	}

	if _, err := h.service.RecordDownload(c.Request.Context(), entry.ID); err != nil {
		logger.FromContext(c).Warn("record download", zap.String("entry_id", entry.ID.String()), zap.Error(err))
		return
	}
	metrics.RecordDownload(access)
}

func (h *httpHandler) storageStats(c *gin.Context) {
	userID, user, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var scope catalog.Scope
	switch c.Query("scope") {
	case "", "owner":
		scope = catalog.OwnerScope(userID)
	case "public":
		scope = catalog.PublicScope()
	case "global":
		if !user.IsAdmin {
			WriteError(c, &apperror.Error{Kind: apperror.KindForbidden, Message: "global statistics require an admin"})
			return
		}
		scope = catalog.Scope{}
	default:
		WriteError(c, apperror.InvalidInput("scope", "scope must be owner, public or global"))
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), scope)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scope": scope.Key(), "stats": stats})
}

func (h *httpHandler) ownerAndEntry(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return uuid.Nil, uuid.Nil, false
	}

	entryID, err := uuid.Parse(c.Param("entryID"))
	if err != nil {
		// an id that cannot exist is simply not found
		WriteError(c, apperror.NotFound("entry", c.Param("entryID")))
		return uuid.Nil, uuid.Nil, false
	}
	return userID, entryID, true
}

// WriteError renders err as a JSON error body with the matching status code.
func WriteError(c *gin.Context, err error) {
	status := statusFor(err)

	body := gin.H{"error": err.Error()}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		body["kind"] = appErr.Kind
		body["error"] = appErr.Message
		if appErr.Field != "" {
			body["field"] = appErr.Field
		}
		if appErr.ID != "" {
			body["id"] = appErr.ID
		}
	}

	if status >= http.StatusInternalServerError {
		logger.FromContext(c).Error("request failed", zap.Int("status", status), zap.Error(err))
		body["error"] = "storage backend unavailable"
	}

	c.JSON(status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrInvalidFilter), errors.Is(err, apperror.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperror.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperror.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

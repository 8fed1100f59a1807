package presigned

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/abduss/dedupdrive/internal/apperror"
	"github.com/abduss/dedupdrive/internal/auth"
	"github.com/abduss/dedupdrive/internal/catalog"
	"github.com/abduss/dedupdrive/internal/file"
)

// entryLookup returns an entry only when ownerID owns it.
type entryLookup interface {
	Get(ctx context.Context, ownerID, entryID uuid.UUID) (catalog.Entry, error)
}

// RegisterRoutes mounts the presigned URL endpoint under an authenticated
// router group.
func RegisterRoutes(group *gin.RouterGroup, entries entryLookup, service *Service) {
	handler := &httpHandler{entries: entries, service: service}
	group.POST("/files/:entryID/presigned-url", handler.generate)
}

type httpHandler struct {
	entries entryLookup
	service *Service
}

func (h *httpHandler) generate(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	entryID, err := uuid.Parse(c.Param("entryID"))
	if err != nil {
		file.WriteError(c, apperror.NotFound("entry", c.Param("entryID")))
		return
	}

	var ttl time.Duration
	if raw := c.Query("ttl"); raw != "" {
		ttl, err = time.ParseDuration(raw)
		if err != nil {
			file.WriteError(c, apperror.InvalidInput("ttl", "invalid ttl"))
			return
		}
	}

	entry, err := h.entries.Get(c.Request.Context(), userID, entryID)
	if err != nil {
		file.WriteError(c, err)
		return
	}

	link, err := h.service.DownloadURL(c.Request.Context(), entry, ttl)
	if err != nil {
		file.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, link)
}

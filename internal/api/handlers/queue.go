package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/sura/internal/auth"
	"github.com/your-org/sura/internal/models"
	"github.com/your-org/sura/internal/storage"
	"github.com/your-org/sura/pkg/dto"
)

// QueueHandler exposes read-only queue monitoring. The queue spans every
// case, so access requires all-case visibility.
type QueueHandler struct {
	db storage.Store
}

func NewQueueHandler(db storage.Store) *QueueHandler {
	return &QueueHandler{db: db}
}

func (h *QueueHandler) guard(c *gin.Context) bool {
	if !auth.CapsFrom(c).CanAccessAllCases {
		c.JSON(http.StatusForbidden, gin.H{"error": "role cannot inspect the queue"})
		return false
	}
	return true
}

func (h *QueueHandler) Stats(c *gin.Context) {
	if !h.guard(c) {
		return
	}
	stats, err := h.db.QueueStats(c.Request.Context())
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *QueueHandler) List(c *gin.Context) {
	if !h.guard(c) {
		return
	}
	var status *models.EntryStatus
	if raw := c.Query("status"); raw != "" {
		s := models.EntryStatus(raw)
		switch s {
		case models.EntryStatusQueued, models.EntryStatusProcessing,
			models.EntryStatusCompleted, models.EntryStatusFailed:
			status = &s
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	entries, err := h.db.ListEntries(c.Request.Context(), status, limit)
	if err != nil {
		storeError(c, err)
		return
	}
	if entries == nil {
		entries = []models.QueueEntry{}
	}
	c.JSON(http.StatusOK, dto.QueueEntryListResponse{Entries: entries, Total: len(entries)})
}

func (h *QueueHandler) Get(c *gin.Context) {
	if !h.guard(c) {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry id"})
		return
	}
	entry, err := h.db.GetEntry(c.Request.Context(), id)
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

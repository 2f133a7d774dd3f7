package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/sura/internal/auth"
	"github.com/your-org/sura/internal/match"
	"github.com/your-org/sura/internal/models"
	"github.com/your-org/sura/internal/observability"
	"github.com/your-org/sura/internal/storage"
	"github.com/your-org/sura/pkg/dto"
)

type MatchHandler struct {
	db       storage.Store
	reviewer *match.Reviewer
}

func NewMatchHandler(db storage.Store, reviewer *match.Reviewer) *MatchHandler {
	return &MatchHandler{db: db, reviewer: reviewer}
}

func (h *MatchHandler) List(c *gin.Context) {
	var personID *uuid.UUID
	if raw := c.Query("person_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person_id"})
			return
		}
		personID = &id
	}
	var status *models.MatchStatus
	if raw := c.Query("status"); raw != "" {
		s := models.MatchStatus(raw)
		switch s {
		case models.MatchStatusPendingReview, models.MatchStatusVerified, models.MatchStatusFalsePositive:
			status = &s
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
	}
	limit, offset := pagination(c)

	matches, total, err := h.db.ListMatches(c.Request.Context(), auth.ScopeFrom(c), personID, status, limit, offset)
	if err != nil {
		storeError(c, err)
		return
	}
	if matches == nil {
		matches = []models.Match{}
	}
	c.JSON(http.StatusOK, dto.MatchListResponse{Matches: matches, Total: total})
}

func (h *MatchHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid match id"})
		return
	}

	m, err := h.db.GetMatch(c.Request.Context(), auth.ScopeFrom(c), id)
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Verify confirms the match as a true identification.
func (h *MatchHandler) Verify(c *gin.Context) {
	h.review(c, models.MatchStatusVerified)
}

// Reject marks the match as a false positive.
func (h *MatchHandler) Reject(c *gin.Context) {
	h.review(c, models.MatchStatusFalsePositive)
}

func (h *MatchHandler) review(c *gin.Context, status models.MatchStatus) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid match id"})
		return
	}

	var req dto.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor := auth.ActorFrom(c)
	var m *models.Match
	if status == models.MatchStatusVerified {
		m, err = h.reviewer.Verify(c.Request.Context(), actor, id, req.Notes)
	} else {
		m, err = h.reviewer.Reject(c.Request.Context(), actor, id, req.Notes)
	}
	if err != nil {
		if errors.Is(err, match.ErrUnauthorized) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		storeError(c, err)
		return
	}

	observability.MatchesFinalized.WithLabelValues(string(m.Status)).Inc()
	c.JSON(http.StatusOK, m)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/sura/internal/auth"
	"github.com/your-org/sura/internal/config"
	"github.com/your-org/sura/internal/match"
	"github.com/your-org/sura/internal/models"
	"github.com/your-org/sura/internal/storage"
	"github.com/your-org/sura/pkg/dto"
)

type CaseHandler struct {
	db       storage.Store
	matching config.MatchingConfig
}

func NewCaseHandler(db storage.Store, matching config.MatchingConfig) *CaseHandler {
	return &CaseHandler{db: db, matching: matching}
}

func (h *CaseHandler) Create(c *gin.Context) {
	if !auth.CapsFrom(c).CanReportCases {
		c.JSON(http.StatusForbidden, gin.H{"error": "role cannot report cases"})
		return
	}

	var req dto.CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	person := &models.Person{
		FullName:         req.FullName,
		Age:              req.Age,
		Gender:           req.Gender,
		LastSeenLocation: req.LastSeenLocation,
		Description:      req.Description,
		Status:           models.CaseStatusReported,
		ReportedBy:       auth.ActorFrom(c).ID,
	}
	if err := h.db.CreatePerson(c.Request.Context(), person); err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, person)
}

func (h *CaseHandler) List(c *gin.Context) {
	var status *models.CaseStatus
	if raw := c.Query("status"); raw != "" {
		s := models.CaseStatus(raw)
		if !models.ValidCaseStatus(s) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		status = &s
	}
	limit, offset := pagination(c)

	cases, total, err := h.db.ListPersons(c.Request.Context(), auth.ScopeFrom(c), status, limit, offset)
	if err != nil {
		storeError(c, err)
		return
	}
	if cases == nil {
		cases = []models.Person{}
	}
	c.JSON(http.StatusOK, dto.CaseListResponse{Cases: cases, Total: total})
}

func (h *CaseHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
		return
	}

	person, err := h.db.GetPerson(c.Request.Context(), auth.ScopeFrom(c), id)
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, person)
}

// UpdateStatus moves a case forward through its lifecycle. The case must be
// visible to the actor; transitions only ever move toward closure.
func (h *CaseHandler) UpdateStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
		return
	}

	var req dto.UpdateCaseStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := models.CaseStatus(req.Status)
	if !models.ValidCaseStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	scope := auth.ScopeFrom(c)
	if _, err := h.db.GetPerson(c.Request.Context(), scope, id); err != nil {
		storeError(c, err)
		return
	}
	if err := h.db.UpdatePersonStatus(c.Request.Context(), id, status); err != nil {
		storeError(c, err)
		return
	}

	person, err := h.db.GetPerson(c.Request.Context(), scope, id)
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, person)
}

func (h *CaseHandler) ListImages(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
		return
	}

	images, err := h.db.ListImagesByPerson(c.Request.Context(), auth.ScopeFrom(c), id)
	if err != nil {
		storeError(c, err)
		return
	}
	if images == nil {
		images = []models.ProbeImage{}
	}
	c.JSON(http.StatusOK, dto.ImageListResponse{Images: images, Total: len(images)})
}

// Search ranks other open cases against this case's reported attributes.
// This is the on-demand path for cases with no usable image; nothing is
// persisted, and the same demographic threshold applies as in the worker's
// no-face fallback. The case itself must be visible to the actor.
func (h *CaseHandler) Search(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
		return
	}

	person, err := h.db.GetPerson(c.Request.Context(), auth.ScopeFrom(c), id)
	if err != nil {
		storeError(c, err)
		return
	}
	open, err := h.db.ListOpenPersons(c.Request.Context(), person.ID)
	if err != nil {
		storeError(c, err)
		return
	}

	candidates := match.SearchByAttributes(*person, open, h.matching.AttributeThreshold, h.matching.TopK)
	c.JSON(http.StatusOK, dto.AttributeSearchResponse{Candidates: candidates, Total: len(candidates)})
}

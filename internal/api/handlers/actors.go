package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/sura/internal/auth"
	"github.com/your-org/sura/internal/models"
	"github.com/your-org/sura/internal/storage"
	"github.com/your-org/sura/pkg/dto"
)

// ActorHandler manages the actor registry mirrored from the auth gateway.
// Admin only.
type ActorHandler struct {
	db storage.Store
}

func NewActorHandler(db storage.Store) *ActorHandler {
	return &ActorHandler{db: db}
}

func (h *ActorHandler) guard(c *gin.Context) bool {
	if auth.ActorFrom(c).Role != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return false
	}
	return true
}

func (h *ActorHandler) Create(c *gin.Context) {
	if !h.guard(c) {
		return
	}

	var req dto.CreateActorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role, ok := models.ParseRole(req.Role)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}

	actor := &models.Actor{
		Role:         role,
		Verification: models.VerificationVerified,
		Organization: req.Organization,
		BadgeNumber:  req.BadgeNumber,
	}
	if req.ID != nil {
		actor.ID = *req.ID
	}
	if err := h.db.CreateActor(c.Request.Context(), actor); err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, actor)
}

func (h *ActorHandler) Get(c *gin.Context) {
	if !h.guard(c) {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid actor id"})
		return
	}
	actor, err := h.db.GetActor(c.Request.Context(), id)
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, actor)
}

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/sura/internal/auth"
	"github.com/your-org/sura/internal/models"
	"github.com/your-org/sura/internal/storage"
	"github.com/your-org/sura/pkg/dto"
)

const maxImageBytes = 16 << 20

type ImageHandler struct {
	db         storage.Store
	objects    storage.ObjectStore
	maxRetries int
}

func NewImageHandler(db storage.Store, objects storage.ObjectStore, maxRetries int) *ImageHandler {
	return &ImageHandler{db: db, objects: objects, maxRetries: maxRetries}
}

// Upload accepts a probe image for a case, stores the bytes, and enqueues
// comparison work. Duplicate uploads are detected by content hash before any
// object is written.
func (h *ImageHandler) Upload(c *gin.Context) {
	if !auth.CapsFrom(c).CanUploadImages {
		c.JSON(http.StatusForbidden, gin.H{"error": "role cannot upload images"})
		return
	}

	personID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
		return
	}

	// Visibility check doubles as the ownership check for family members.
	person, err := h.db.GetPerson(c.Request.Context(), auth.ScopeFrom(c), personID)
	if err != nil {
		storeError(c, err)
		return
	}
	if person.Status == models.CaseStatusClosed {
		c.JSON(http.StatusConflict, gin.H{"error": "case is closed"})
		return
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing image file"})
		return
	}
	if fileHeader.Size > maxImageBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash := sha256.Sum256(data)

	priority := models.PriorityNormal
	if raw := c.PostForm("priority"); raw != "" {
		p, ok := models.ParsePriority(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid priority"})
			return
		}
		priority = p
	}

	img := &models.ProbeImage{
		ID:           uuid.New(),
		PersonID:     personID,
		ImageHash:    hex.EncodeToString(hash[:]),
		Status:       models.ImageStatusUploaded,
		IsPrimary:    c.PostForm("is_primary") == "true",
		PriorityHint: priority,
	}
	img.StorageKey = storage.ProbeKey(personID, img.ID)

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	if err := h.objects.Put(c.Request.Context(), img.StorageKey, data, contentType); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "store image: " + err.Error()})
		return
	}

	if err := h.db.CreateImage(c.Request.Context(), img); err != nil {
		// Best effort cleanup of the orphaned object.
		_ = h.objects.Remove(c.Request.Context(), []string{img.StorageKey})
		storeError(c, err)
		return
	}

	entry, err := h.db.Enqueue(c.Request.Context(), img.ID, priority, h.maxRetries)
	if err != nil && !errors.Is(err, storage.ErrDuplicateEnqueue) {
		storeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.UploadImageResponse{Image: *img, Entry: entry})
}

func (h *ImageHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
		return
	}

	img, err := h.db.GetImage(c.Request.Context(), id)
	if err != nil {
		storeError(c, err)
		return
	}
	// Image rows carry no reporter column; visibility rides on the case.
	if _, err := h.db.GetPerson(c.Request.Context(), auth.ScopeFrom(c), img.PersonID); err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, img)
}

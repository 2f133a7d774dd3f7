package models

import (
	"time"

	"github.com/google/uuid"
)

type ImageStatus string

const (
	ImageStatusUploaded   ImageStatus = "uploaded"
	ImageStatusQueued     ImageStatus = "queued"
	ImageStatusProcessing ImageStatus = "processing"
	ImageStatusCompleted  ImageStatus = "completed"
	ImageStatusFailed     ImageStatus = "failed"
	ImageStatusPurged     ImageStatus = "purged"
)

// ProbeImage is one uploaded image tied to a missing-person case. The raw
// bytes live in object storage under StorageKey; the row itself survives a
// retention purge with the feature vector and storage key cleared.
type ProbeImage struct {
	ID       uuid.UUID `json:"id" db:"id"`
	PersonID uuid.UUID `json:"person_id" db:"person_id"`
	// StorageKey is the opaque object-store reference. Empty after purge.
	StorageKey string `json:"storage_key,omitempty" db:"storage_key"`
	// ImageHash is the SHA-256 of the uploaded bytes, used for deduplication.
	ImageHash string `json:"image_hash" db:"image_hash"`
	// Features is the extracted face embedding. Nil until extraction has run
	// and nil again after purge.
	Features     []float32   `json:"-" db:"features"`
	Status       ImageStatus `json:"status" db:"status"`
	IsPrimary    bool        `json:"is_primary" db:"is_primary"`
	PriorityHint Priority    `json:"priority_hint" db:"priority_hint"`
	ProcessedAt  *time.Time  `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// HasFeatures reports whether the image can serve as a comparison candidate.
func (p ProbeImage) HasFeatures() bool {
	return len(p.Features) > 0 && p.Status != ImageStatusPurged
}

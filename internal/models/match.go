package models

import (
	"time"

	"github.com/google/uuid"
)

type MatchStatus string

const (
	MatchStatusPendingReview MatchStatus = "pending_review"
	MatchStatusVerified      MatchStatus = "verified"
	MatchStatusFalsePositive MatchStatus = "false_positive"
)

// MatchSource tags the provenance of the candidate record. Informational
// only; it is never used for authorization.
type MatchSource string

const (
	MatchSourceInternal MatchSource = "internal"
	MatchSourceMorgue   MatchSource = "morgue"
	MatchSourceJail     MatchSource = "jail"
	MatchSourcePolice   MatchSource = "police"
)

// Match is one candidate pairing between a probe image and a candidate case.
// Confidence and Distance are set once at creation; after that only the
// review fields change, and once verified or false_positive the record is
// terminal.
type Match struct {
	ID                uuid.UUID   `json:"id" db:"id"`
	ProbeImageID      uuid.UUID   `json:"probe_image_id" db:"probe_image_id"`
	CandidatePersonID uuid.UUID   `json:"candidate_person_id" db:"candidate_person_id"`
	Confidence        float64     `json:"confidence" db:"confidence"`
	Distance          float64     `json:"distance" db:"distance"`
	Source            MatchSource `json:"source" db:"source"`
	Status            MatchStatus `json:"status" db:"status"`
	RequiresReview    bool        `json:"requires_human_review" db:"requires_human_review"`
	ReviewedBy        *uuid.UUID  `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt        *time.Time  `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ReviewNotes       string      `json:"review_notes,omitempty" db:"review_notes"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
}

// IsFinalized reports whether the match has reached a terminal disposition.
func (m Match) IsFinalized() bool {
	return m.Status == MatchStatusVerified || m.Status == MatchStatusFalsePositive
}

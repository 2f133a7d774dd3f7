package notify

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventMatchCreated  EventType = "match_created"
	EventMatchVerified EventType = "match_verified"
	EventMatchRejected EventType = "match_rejected"
	EventCaseFinalized EventType = "case_finalized"
)

// Event is a lifecycle notification published after the owning transaction
// has committed. Delivery is best effort; the database remains the source of
// truth and a lost event never rolls back a transition.
type Event struct {
	Type EventType `json:"type"`
	// PersonID is the case the event concerns: the candidate case for match
	// events, the finalized case for case events.
	PersonID     uuid.UUID  `json:"person_id"`
	MatchID      *uuid.UUID `json:"match_id,omitempty"`
	ProbeImageID *uuid.UUID `json:"probe_image_id,omitempty"`
	Confidence   float64    `json:"confidence,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

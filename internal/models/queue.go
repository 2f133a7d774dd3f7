package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// priorityRank maps priority to dequeue precedence; lower dequeues first.
var priorityRank = map[Priority]int{
	PriorityUrgent: 0,
	PriorityHigh:   1,
	PriorityNormal: 2,
	PriorityLow:    3,
}

// ParsePriority converts a string into a known Priority.
func ParsePriority(value string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(value)))
	_, ok := priorityRank[p]
	return p, ok
}

// Rank returns the dequeue precedence; urgent is 0, low is 3.
func (p Priority) Rank() int {
	r, ok := priorityRank[p]
	if !ok {
		return priorityRank[PriorityNormal]
	}
	return r
}

type EntryStatus string

const (
	EntryStatusQueued     EntryStatus = "queued"
	EntryStatusProcessing EntryStatus = "processing"
	EntryStatusCompleted  EntryStatus = "completed"
	EntryStatusFailed     EntryStatus = "failed"
)

// QueueEntry is one unit of pending comparison work, one-to-one with a probe
// image during its active life. Completed and terminally failed entries are
// immutable.
type QueueEntry struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	ImageID     uuid.UUID   `json:"image_id" db:"image_id"`
	Priority    Priority    `json:"priority" db:"priority"`
	Status      EntryStatus `json:"status" db:"status"`
	Retries     int         `json:"retries" db:"retries"`
	MaxRetries  int         `json:"max_retries" db:"max_retries"`
	StartedAt   *time.Time  `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
	LastError   string      `json:"last_error,omitempty" db:"last_error"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}

// IsTerminal reports whether the entry can no longer change state.
func (e QueueEntry) IsTerminal() bool {
	return e.Status == EntryStatusCompleted || e.Status == EntryStatusFailed
}

// QueueStats aggregates entry counts per lifecycle state for monitoring.
type QueueStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

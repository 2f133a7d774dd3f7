package models

import (
	"time"

	"github.com/google/uuid"
)

type CaseStatus string

const (
	CaseStatusReported  CaseStatus = "reported"
	CaseStatusSearching CaseStatus = "searching"
	CaseStatusFound     CaseStatus = "found"
	CaseStatusClosed    CaseStatus = "closed"
)

// caseStatusRank orders the lifecycle for forward-only transitions.
var caseStatusRank = map[CaseStatus]int{
	CaseStatusReported:  0,
	CaseStatusSearching: 1,
	CaseStatusFound:     2,
	CaseStatusClosed:    3,
}

// ValidCaseStatus reports whether s is a known case status.
func ValidCaseStatus(s CaseStatus) bool {
	_, ok := caseStatusRank[s]
	return ok
}

// CanTransitionCase reports whether a case may move from one status to
// another. Transitions are monotonic forward; reopening a case is a separate
// administrative action outside this core.
func CanTransitionCase(from, to CaseStatus) bool {
	fr, ok := caseStatusRank[from]
	if !ok {
		return false
	}
	tr, ok := caseStatusRank[to]
	if !ok {
		return false
	}
	return tr > fr
}

// Person is one missing-person case. Cases are soft-stated and never
// hard-deleted; closure keeps the record for audit.
type Person struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	FullName         string     `json:"full_name" db:"full_name"`
	Age              int        `json:"age" db:"age"`
	Gender           string     `json:"gender" db:"gender"`
	LastSeenLocation string     `json:"last_seen_location" db:"last_seen_location"`
	Description      string     `json:"description" db:"description"`
	Status           CaseStatus `json:"status" db:"status"`
	ReportedBy       uuid.UUID  `json:"reported_by" db:"reported_by"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

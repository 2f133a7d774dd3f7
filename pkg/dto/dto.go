// Package dto holds the request and response shapes of the HTTP API.
package dto

import (
	"github.com/google/uuid"

	"github.com/your-org/sura/internal/match"
	"github.com/your-org/sura/internal/models"
)

type CreateCaseRequest struct {
	FullName         string `json:"full_name" binding:"required"`
	Age              int    `json:"age"`
	Gender           string `json:"gender"`
	LastSeenLocation string `json:"last_seen_location"`
	Description      string `json:"description"`
}

type UpdateCaseStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type CaseListResponse struct {
	Cases []models.Person `json:"cases"`
	Total int             `json:"total"`
}

type UploadImageResponse struct {
	Image models.ProbeImage  `json:"image"`
	Entry *models.QueueEntry `json:"queue_entry,omitempty"`
}

type ImageListResponse struct {
	Images []models.ProbeImage `json:"images"`
	Total  int                 `json:"total"`
}

type MatchListResponse struct {
	Matches []models.Match `json:"matches"`
	Total   int            `json:"total"`
}

type AttributeSearchResponse struct {
	Candidates []match.AttributeCandidate `json:"candidates"`
	Total      int                        `json:"total"`
}

type ReviewRequest struct {
	Notes string `json:"notes"`
}

type CreateActorRequest struct {
	ID           *uuid.UUID `json:"id,omitempty"`
	Role         string     `json:"role" binding:"required"`
	Organization string     `json:"organization"`
	BadgeNumber  string     `json:"badge_number"`
}

type QueueEntryListResponse struct {
	Entries []models.QueueEntry `json:"entries"`
	Total   int                 `json:"total"`
}

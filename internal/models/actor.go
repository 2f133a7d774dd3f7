package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleFamilyMember       Role = "family_member"
	RolePoliceOfficer      Role = "police_officer"
	RoleGovernmentOfficial Role = "government_official"
	RoleMorgueStaff        Role = "morgue_staff"
	RoleAdmin              Role = "admin"
)

var knownRoles = map[Role]struct{}{
	RoleFamilyMember:       {},
	RolePoliceOfficer:      {},
	RoleGovernmentOfficial: {},
	RoleMorgueStaff:        {},
	RoleAdmin:              {},
}

// ParseRole converts a string into a known Role.
func ParseRole(value string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(value)))
	_, ok := knownRoles[r]
	return r, ok
}

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// Actor is any authenticated user. Identity and token issuance live in the
// external auth gateway; the core only needs the role and verification state.
type Actor struct {
	ID           uuid.UUID          `json:"id" db:"id"`
	Role         Role               `json:"role" db:"role"`
	Verification VerificationStatus `json:"verification_status" db:"verification_status"`
	Organization string             `json:"organization,omitempty" db:"organization"`
	BadgeNumber  string             `json:"badge_number,omitempty" db:"badge_number"`
	CreatedAt    time.Time          `json:"created_at" db:"created_at"`
}

// Package policy implements the role-scoped visibility layer. Every read and
// write on cases, images, matches, and queue entries flows through a Scope
// computed here, and every review action through a capability check. The rule
// table lives in this one place; call sites never compare role strings.
package policy

import (
	"github.com/google/uuid"

	"github.com/your-org/sura/internal/models"
)

// Capabilities is the actor's capability set, computed once from the role and
// passed through instead of re-deriving role logic at every boundary.
type Capabilities struct {
	CanVerifyMatches  bool
	CanAccessAllCases bool
	CanReportCases    bool
	CanUploadImages   bool
}

// Scope describes which records a query may return. Storage implementations
// compile it into the query itself (a WHERE clause), never a post-filter, so
// counts and pagination metadata cannot leak another actor's case set.
type Scope struct {
	// All grants unrestricted visibility.
	All bool
	// ReporterID restricts visibility to cases reported by this actor when
	// All is false.
	ReporterID uuid.UUID
}

// Policy maps roles to capabilities. It is an explicitly constructed object
// so test suites can hold a strict and a relaxed policy side by side; there
// is no process-global bypass toggle.
type Policy struct {
	rules map[models.Role]Capabilities
}

// NewPolicy returns the production rule table.
func NewPolicy() *Policy {
	return &Policy{rules: map[models.Role]Capabilities{
		models.RoleFamilyMember: {
			CanReportCases:  true,
			CanUploadImages: true,
		},
		models.RolePoliceOfficer: {
			CanVerifyMatches:  true,
			CanAccessAllCases: true,
			CanReportCases:    true,
			CanUploadImages:   true,
		},
		models.RoleGovernmentOfficial: {
			CanVerifyMatches:  true,
			CanAccessAllCases: true,
		},
		// Morgue staff have read access to all records. The role is
		// reserved as a verifier but not enforced as one here.
		models.RoleMorgueStaff: {
			CanAccessAllCases: true,
		},
		models.RoleAdmin: {
			CanVerifyMatches:  true,
			CanAccessAllCases: true,
			CanReportCases:    true,
			CanUploadImages:   true,
		},
	}}
}

// NewRelaxedPolicy grants every role full access. Intended for development
// environments and tests that need an unrestricted counterpart.
func NewRelaxedPolicy() *Policy {
	all := Capabilities{
		CanVerifyMatches:  true,
		CanAccessAllCases: true,
		CanReportCases:    true,
		CanUploadImages:   true,
	}
	rules := make(map[models.Role]Capabilities)
	for role := range map[models.Role]struct{}{
		models.RoleFamilyMember:       {},
		models.RolePoliceOfficer:      {},
		models.RoleGovernmentOfficial: {},
		models.RoleMorgueStaff:        {},
		models.RoleAdmin:              {},
	} {
		rules[role] = all
	}
	return &Policy{rules: rules}
}

// CapabilitiesFor returns the capability set for the actor's role. Unknown
// roles get the empty set.
func (p *Policy) CapabilitiesFor(actor models.Actor) Capabilities {
	return p.rules[actor.Role]
}

// ScopeFor returns the visibility scope applied at the query boundary.
func (p *Policy) ScopeFor(actor models.Actor) Scope {
	if p.rules[actor.Role].CanAccessAllCases {
		return Scope{All: true}
	}
	return Scope{ReporterID: actor.ID}
}

// CanVerify reports whether the actor's role carries the verify/reject
// capability for matches.
func (p *Policy) CanVerify(actor models.Actor) bool {
	return p.rules[actor.Role].CanVerifyMatches
}

// CanAccessAllCases reports whether the actor sees every case.
func (p *Policy) CanAccessAllCases(actor models.Actor) bool {
	return p.rules[actor.Role].CanAccessAllCases
}

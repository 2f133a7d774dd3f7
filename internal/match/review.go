package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/sura/internal/models"
	"github.com/your-org/sura/internal/notify"
	"github.com/your-org/sura/internal/policy"
	"github.com/your-org/sura/internal/storage"
)

// ErrUnauthorized is returned when the acting role lacks the verification
// capability.
var ErrUnauthorized = errors.New("actor is not authorized to review matches")

// unrestricted is the scope used for internal reads that are not made on
// behalf of an actor.
func unrestricted() policy.Scope {
	return policy.Scope{All: true}
}

// Reviewer applies verification decisions to pending matches. Every
// decision is a compare-and-set in storage; a match that has already been
// finalized cannot be re-decided from here.
type Reviewer struct {
	store   storage.Store
	policy  *policy.Policy
	emitter notify.Emitter
}

func NewReviewer(store storage.Store, pol *policy.Policy, emitter notify.Emitter) *Reviewer {
	return &Reviewer{store: store, policy: pol, emitter: emitter}
}

// Verify confirms the match as a true identification. On success the
// candidate case moves to found and verified/finalized events are emitted.
func (r *Reviewer) Verify(ctx context.Context, actor models.Actor, matchID uuid.UUID, notes string) (*models.Match, error) {
	m, err := r.finalize(ctx, actor, matchID, models.MatchStatusVerified, notes)
	if err != nil {
		return nil, err
	}

	r.emitter.Emit(ctx, notify.Event{
		Type:         notify.EventMatchVerified,
		PersonID:     m.CandidatePersonID,
		MatchID:      &m.ID,
		ProbeImageID: &m.ProbeImageID,
		Confidence:   m.Confidence,
	})

	// A verified match means the candidate has been located.
	if err := r.store.UpdatePersonStatus(ctx, m.CandidatePersonID, models.CaseStatusFound); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Case is already found or further along.
			slog.Info("case already past found", "person_id", m.CandidatePersonID)
		} else {
			return m, fmt.Errorf("mark case found: %w", err)
		}
	} else {
		r.emitter.Emit(ctx, notify.Event{
			Type:     notify.EventCaseFinalized,
			PersonID: m.CandidatePersonID,
			MatchID:  &m.ID,
		})
	}
	return m, nil
}

// Reject marks the match as a false positive.
func (r *Reviewer) Reject(ctx context.Context, actor models.Actor, matchID uuid.UUID, notes string) (*models.Match, error) {
	m, err := r.finalize(ctx, actor, matchID, models.MatchStatusFalsePositive, notes)
	if err != nil {
		return nil, err
	}
	r.emitter.Emit(ctx, notify.Event{
		Type:         notify.EventMatchRejected,
		PersonID:     m.CandidatePersonID,
		MatchID:      &m.ID,
		ProbeImageID: &m.ProbeImageID,
		Confidence:   m.Confidence,
	})
	return m, nil
}

func (r *Reviewer) finalize(ctx context.Context, actor models.Actor, matchID uuid.UUID, status models.MatchStatus, notes string) (*models.Match, error) {
	if !r.policy.CanVerify(actor) {
		return nil, fmt.Errorf("%w: role %s", ErrUnauthorized, actor.Role)
	}
	m, err := r.store.FinalizeMatch(ctx, matchID, status, actor.ID, notes)
	if err != nil {
		return nil, err
	}
	slog.Info("match finalized",
		"match_id", m.ID, "status", m.Status, "reviewed_by", actor.ID)
	return m, nil
}

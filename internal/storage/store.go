package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sura/internal/models"
	"github.com/your-org/sura/internal/policy"
)

// PersonStore persists missing-person cases. Scoped reads compile the
// visibility scope into the query itself.
type PersonStore interface {
	CreatePerson(ctx context.Context, p *models.Person) error
	GetPerson(ctx context.Context, scope policy.Scope, id uuid.UUID) (*models.Person, error)
	ListPersons(ctx context.Context, scope policy.Scope, status *models.CaseStatus, limit, offset int) ([]models.Person, int, error)
	// UpdatePersonStatus moves a case forward; backward transitions return
	// ErrConflict.
	UpdatePersonStatus(ctx context.Context, id uuid.UUID, status models.CaseStatus) error
	// ListOpenPersons returns non-closed cases for attribute matching,
	// excluding the probe's own case.
	ListOpenPersons(ctx context.Context, excludePersonID uuid.UUID) ([]models.Person, error)
}

// ImageStore persists probe images and their extracted feature vectors.
type ImageStore interface {
	CreateImage(ctx context.Context, img *models.ProbeImage) error
	GetImage(ctx context.Context, id uuid.UUID) (*models.ProbeImage, error)
	ListImagesByPerson(ctx context.Context, scope policy.Scope, personID uuid.UUID) ([]models.ProbeImage, error)
	SetImageFeatures(ctx context.Context, id uuid.UUID, features []float32) error
	SetImageStatus(ctx context.Context, id uuid.UUID, status models.ImageStatus) error
	// ListCandidateImages returns comparison candidates: images with
	// features, not purged, belonging to a different case than the probe.
	// When probeFeatures is non-nil the result is bounded to the limit
	// nearest vectors.
	ListCandidateImages(ctx context.Context, excludePersonID uuid.UUID, probeFeatures []float32, limit int) ([]models.ProbeImage, error)
}

// QueueStore is the durable comparison work queue. DequeueNext atomically
// claims the single highest-priority entry (FIFO within a band) so no two
// workers ever process the same entry.
type QueueStore interface {
	Enqueue(ctx context.Context, imageID uuid.UUID, priority models.Priority, maxRetries int) (*models.QueueEntry, error)
	DequeueNext(ctx context.Context) (*models.QueueEntry, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	// MarkFailed retries the entry when retries remain, otherwise finalizes
	// it as failed and fails the owning image.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	// ReapStale requeues (or terminally fails) entries stuck in processing
	// since before cutoff. Returns the number of entries touched.
	ReapStale(ctx context.Context, cutoff time.Time) (int, error)
	ListEntries(ctx context.Context, status *models.EntryStatus, limit int) ([]models.QueueEntry, error)
	QueueStats(ctx context.Context) (models.QueueStats, error)
}

// MatchStore persists comparison results. Matches are append-only per probe;
// after creation only the review fields may change, via FinalizeMatch.
type MatchStore interface {
	CreateMatch(ctx context.Context, m *models.Match) error
	GetMatch(ctx context.Context, scope policy.Scope, id uuid.UUID) (*models.Match, error)
	ListMatches(ctx context.Context, scope policy.Scope, personID *uuid.UUID, status *models.MatchStatus, limit, offset int) ([]models.Match, int, error)
	// FinalizeMatch is the single compare-and-set transition out of
	// pending_review. Finalizing an already-finalized match returns
	// ErrConflict with no mutation.
	FinalizeMatch(ctx context.Context, id uuid.UUID, status models.MatchStatus, reviewerID uuid.UUID, notes string) (*models.Match, error)
}

// PurgeStore implements the retention boundary: feature vectors and storage
// references are cleared while match rows stay intact for audit.
type PurgeStore interface {
	// PurgeClosedCases purges images of cases closed before cutoff and
	// returns the storage keys to delete from the object store.
	PurgeClosedCases(ctx context.Context, cutoff time.Time) ([]string, error)
	// PurgeCase purges a single case's images regardless of age.
	PurgeCase(ctx context.Context, personID uuid.UUID) ([]string, error)
}

// ActorStore resolves authenticated actor IDs handed over by the gateway.
type ActorStore interface {
	GetActor(ctx context.Context, id uuid.UUID) (*models.Actor, error)
	CreateActor(ctx context.Context, a *models.Actor) error
}

// Store is the full persistence surface used by the binaries.
type Store interface {
	PersonStore
	ImageStore
	QueueStore
	MatchStore
	PurgeStore
	ActorStore
}

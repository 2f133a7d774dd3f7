package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sura/internal/models"
	"github.com/your-org/sura/internal/policy"
	"github.com/your-org/sura/internal/storage"
)

func newFixture(t *testing.T) (*Store, *models.Actor, *models.Person) {
	t.Helper()
	s := NewStore()
	ctx := context.Background()

	actor := &models.Actor{Role: models.RoleFamilyMember, Verification: models.VerificationVerified}
	if err := s.CreateActor(ctx, actor); err != nil {
		t.Fatalf("create actor: %v", err)
	}
	person := &models.Person{FullName: "Amina Yusupova", Age: 34, Gender: "female", ReportedBy: actor.ID}
	if err := s.CreatePerson(ctx, person); err != nil {
		t.Fatalf("create person: %v", err)
	}
	return s, actor, person
}

func addImage(t *testing.T, s *Store, personID uuid.UUID, hash string) *models.ProbeImage {
	t.Helper()
	img := &models.ProbeImage{PersonID: personID, ImageHash: hash, StorageKey: "probes/" + hash}
	if err := s.CreateImage(context.Background(), img); err != nil {
		t.Fatalf("create image %s: %v", hash, err)
	}
	return img
}

func TestEnqueueRejectsActiveDuplicate(t *testing.T) {
	s, _, person := newFixture(t)
	ctx := context.Background()
	img := addImage(t, s, person.ID, "h1")

	if _, err := s.Enqueue(ctx, img.ID, models.PriorityNormal, 3); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := s.Enqueue(ctx, img.ID, models.PriorityHigh, 3); !errors.Is(err, storage.ErrDuplicateEnqueue) {
		t.Fatalf("second enqueue err = %v, want ErrDuplicateEnqueue", err)
	}

	// After the first entry completes, re-enqueueing is allowed again.
	entry, err := s.DequeueNext(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := s.MarkCompleted(ctx, entry.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := s.Enqueue(ctx, img.ID, models.PriorityNormal, 3); err != nil {
		t.Fatalf("re-enqueue after completion: %v", err)
	}
}

func TestDequeueOrderPriorityThenFIFO(t *testing.T) {
	s, _, person := newFixture(t)
	ctx := context.Background()

	low := addImage(t, s, person.ID, "low")
	normalA := addImage(t, s, person.ID, "normalA")
	normalB := addImage(t, s, person.ID, "normalB")
	urgent := addImage(t, s, person.ID, "urgent")

	for _, tc := range []struct {
		img *models.ProbeImage
		pri models.Priority
	}{
		{low, models.PriorityLow},
		{normalA, models.PriorityNormal},
		{normalB, models.PriorityNormal},
		{urgent, models.PriorityUrgent},
	} {
		if _, err := s.Enqueue(ctx, tc.img.ID, tc.pri, 3); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	want := []uuid.UUID{urgent.ID, normalA.ID, normalB.ID, low.ID}
	for i, wantImage := range want {
		entry, err := s.DequeueNext(ctx)
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if entry.ImageID != wantImage {
			t.Errorf("dequeue %d: got image %s, want %s", i, entry.ImageID, wantImage)
		}
		if entry.Status != models.EntryStatusProcessing || entry.StartedAt == nil {
			t.Errorf("dequeue %d: entry not claimed: %+v", i, entry)
		}
	}
	if _, err := s.DequeueNext(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("drained queue err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentDequeueNeverDoubleClaims(t *testing.T) {
	s, _, person := newFixture(t)
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		img := addImage(t, s, person.ID, "img"+string(rune('a'+i)))
		if _, err := s.Enqueue(ctx, img.ID, models.PriorityNormal, 3); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var mu sync.Mutex
	claimed := make(map[uuid.UUID]int)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				entry, err := s.DequeueNext(ctx)
				if errors.Is(err, storage.ErrNotFound) {
					return
				}
				if err != nil {
					t.Errorf("dequeue: %v", err)
					return
				}
				mu.Lock()
				claimed[entry.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != n {
		t.Fatalf("claimed %d entries, want %d", len(claimed), n)
	}
	for id, count := range claimed {
		if count != 1 {
			t.Errorf("entry %s claimed %d times", id, count)
		}
	}
}

func TestMarkFailedRetriesThenFailsTerminally(t *testing.T) {
	s, _, person := newFixture(t)
	ctx := context.Background()
	img := addImage(t, s, person.ID, "flaky")

	if _, err := s.Enqueue(ctx, img.ID, models.PriorityNormal, 2); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Two retries pass through queued again.
	for attempt := 0; attempt < 2; attempt++ {
		entry, err := s.DequeueNext(ctx)
		if err != nil {
			t.Fatalf("dequeue attempt %d: %v", attempt, err)
		}
		if err := s.MarkFailed(ctx, entry.ID, "scorer crashed"); err != nil {
			t.Fatalf("fail attempt %d: %v", attempt, err)
		}
		got, err := s.GetEntry(ctx, entry.ID)
		if err != nil {
			t.Fatalf("get entry: %v", err)
		}
		if got.Status != models.EntryStatusQueued {
			t.Fatalf("attempt %d: status = %s, want queued", attempt, got.Status)
		}
		if got.Retries != attempt+1 {
			t.Fatalf("attempt %d: retries = %d, want %d", attempt, got.Retries, attempt+1)
		}
	}

	// Third failure exhausts the budget.
	entry, err := s.DequeueNext(ctx)
	if err != nil {
		t.Fatalf("final dequeue: %v", err)
	}
	if err := s.MarkFailed(ctx, entry.ID, "scorer crashed"); err != nil {
		t.Fatalf("final fail: %v", err)
	}
	got, _ := s.GetEntry(ctx, entry.ID)
	if got.Status != models.EntryStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Retries != got.MaxRetries {
		t.Errorf("retries = %d, want exactly max_retries %d", got.Retries, got.MaxRetries)
	}
	if got.LastError != "scorer crashed" {
		t.Errorf("last_error = %q", got.LastError)
	}
	image, _ := s.GetImage(ctx, img.ID)
	if image.Status != models.ImageStatusFailed {
		t.Errorf("image status = %s, want failed", image.Status)
	}
	if _, err := s.DequeueNext(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Error("terminally failed entry must not be dequeued again")
	}
}

func TestTerminalEntriesRejectTransitions(t *testing.T) {
	s, _, person := newFixture(t)
	ctx := context.Background()
	img := addImage(t, s, person.ID, "done")

	if _, err := s.Enqueue(ctx, img.ID, models.PriorityNormal, 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	entry, _ := s.DequeueNext(ctx)
	if err := s.MarkCompleted(ctx, entry.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := s.MarkCompleted(ctx, entry.ID); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("double complete err = %v, want ErrConflict", err)
	}
	if err := s.MarkFailed(ctx, entry.ID, "late"); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("fail after complete err = %v, want ErrConflict", err)
	}
	if err := s.MarkCompleted(ctx, uuid.New()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("complete unknown err = %v, want ErrNotFound", err)
	}
}

func TestReapStaleRequeuesStuckEntries(t *testing.T) {
	s, _, person := newFixture(t)
	ctx := context.Background()
	img := addImage(t, s, person.ID, "stuck")

	if _, err := s.Enqueue(ctx, img.ID, models.PriorityNormal, 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	entry, _ := s.DequeueNext(ctx)

	// Entry just claimed, cutoff in the past: nothing to reap.
	n, err := s.ReapStale(ctx, time.Now().Add(-time.Minute))
	if err != nil || n != 0 {
		t.Fatalf("ReapStale = (%d, %v), want (0, nil)", n, err)
	}

	// Cutoff after the claim: entry is stale.
	n, err = s.ReapStale(ctx, time.Now().Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("ReapStale = (%d, %v), want (1, nil)", n, err)
	}
	got, _ := s.GetEntry(ctx, entry.ID)
	if got.Status != models.EntryStatusQueued {
		t.Errorf("reaped entry status = %s, want queued", got.Status)
	}
	if got.Retries != 1 {
		t.Errorf("reaped entry retries = %d, want 1", got.Retries)
	}
}

func TestScopedReadsHideOtherReporters(t *testing.T) {
	s, actor, person := newFixture(t)
	ctx := context.Background()

	other := &models.Actor{Role: models.RoleFamilyMember, Verification: models.VerificationVerified}
	if err := s.CreateActor(ctx, other); err != nil {
		t.Fatalf("create actor: %v", err)
	}
	otherCase := &models.Person{FullName: "Bakhtiyor Karimov", ReportedBy: other.ID}
	if err := s.CreatePerson(ctx, otherCase); err != nil {
		t.Fatalf("create person: %v", err)
	}

	own := policy.Scope{ReporterID: actor.ID}
	if _, err := s.GetPerson(ctx, own, otherCase.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("scoped get of foreign case err = %v, want ErrNotFound", err)
	}

	cases, total, err := s.ListPersons(ctx, own, nil, 50, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(cases) != 1 || cases[0].ID != person.ID {
		t.Errorf("scoped list = %d cases (total %d), want only own case", len(cases), total)
	}

	all, total, err := s.ListPersons(ctx, policy.Scope{All: true}, nil, 50, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if total != 2 || len(all) != 2 {
		t.Errorf("unrestricted list = %d (total %d), want 2", len(all), total)
	}
}

func TestCaseStatusForwardOnly(t *testing.T) {
	s, _, person := newFixture(t)
	ctx := context.Background()

	if err := s.UpdatePersonStatus(ctx, person.ID, models.CaseStatusFound); err != nil {
		t.Fatalf("reported -> found: %v", err)
	}
	if err := s.UpdatePersonStatus(ctx, person.ID, models.CaseStatusSearching); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("backward transition err = %v, want ErrConflict", err)
	}
	if err := s.UpdatePersonStatus(ctx, person.ID, models.CaseStatusClosed); err != nil {
		t.Fatalf("found -> closed: %v", err)
	}
	got, err := s.GetPerson(ctx, policy.Scope{All: true}, person.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ResolvedAt == nil {
		t.Error("closing a case must set resolved_at")
	}
}

func TestFinalizeMatchIsCompareAndSet(t *testing.T) {
	s, actor, person := newFixture(t)
	ctx := context.Background()

	candidate := &models.Person{FullName: "Candidate", ReportedBy: actor.ID}
	if err := s.CreatePerson(ctx, candidate); err != nil {
		t.Fatalf("create candidate: %v", err)
	}
	img := addImage(t, s, person.ID, "probe")
	m := &models.Match{ProbeImageID: img.ID, CandidatePersonID: candidate.ID, Confidence: 0.93, Distance: 0.07, RequiresReview: true}
	if err := s.CreateMatch(ctx, m); err != nil {
		t.Fatalf("create match: %v", err)
	}

	reviewer := uuid.New()
	got, err := s.FinalizeMatch(ctx, m.ID, models.MatchStatusVerified, reviewer, "confirmed in person")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if got.Status != models.MatchStatusVerified || got.ReviewedBy == nil || *got.ReviewedBy != reviewer {
		t.Errorf("finalized match = %+v", got)
	}
	if got.RequiresReview {
		t.Error("finalization must clear requires_human_review")
	}

	if _, err := s.FinalizeMatch(ctx, m.ID, models.MatchStatusFalsePositive, reviewer, ""); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("second finalize err = %v, want ErrConflict", err)
	}
	// The losing transition must not have mutated anything.
	check, _ := s.GetMatch(ctx, policy.Scope{All: true}, m.ID)
	if check.Status != models.MatchStatusVerified {
		t.Errorf("match status changed to %s after rejected transition", check.Status)
	}

	if _, err := s.FinalizeMatch(ctx, m.ID, models.MatchStatusPendingReview, reviewer, ""); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("finalize to pending err = %v, want ErrConflict", err)
	}
	if _, err := s.FinalizeMatch(ctx, uuid.New(), models.MatchStatusVerified, reviewer, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("finalize unknown err = %v, want ErrNotFound", err)
	}
}

func TestDuplicateImageHashRejected(t *testing.T) {
	s, _, person := newFixture(t)
	ctx := context.Background()
	addImage(t, s, person.ID, "same-bytes")

	dup := &models.ProbeImage{PersonID: person.ID, ImageHash: "same-bytes"}
	if err := s.CreateImage(ctx, dup); !errors.Is(err, storage.ErrDuplicateImage) {
		t.Fatalf("duplicate hash err = %v, want ErrDuplicateImage", err)
	}
}

func TestPurgeClearsBiometricsKeepsRows(t *testing.T) {
	s, actor, person := newFixture(t)
	ctx := context.Background()

	candidate := &models.Person{FullName: "Candidate", ReportedBy: actor.ID}
	if err := s.CreatePerson(ctx, candidate); err != nil {
		t.Fatalf("create candidate: %v", err)
	}
	img := addImage(t, s, person.ID, "purgeme")
	if err := s.SetImageFeatures(ctx, img.ID, []float32{0.1, 0.2}); err != nil {
		t.Fatalf("set features: %v", err)
	}
	m := &models.Match{ProbeImageID: img.ID, CandidatePersonID: candidate.ID, Confidence: 0.9, Distance: 0.1}
	if err := s.CreateMatch(ctx, m); err != nil {
		t.Fatalf("create match: %v", err)
	}

	keys, err := s.PurgeCase(ctx, person.ID)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if len(keys) != 1 || keys[0] != "probes/purgeme" {
		t.Fatalf("purge keys = %v", keys)
	}

	got, err := s.GetImage(ctx, img.ID)
	if err != nil {
		t.Fatal("image row must survive purge")
	}
	if got.Status != models.ImageStatusPurged || got.StorageKey != "" || len(got.Features) != 0 {
		t.Errorf("purged image = %+v", got)
	}
	if _, err := s.GetMatch(ctx, policy.Scope{All: true}, m.ID); err != nil {
		t.Error("match rows must survive purge")
	}

	// Purging again is a no-op.
	keys, err = s.PurgeCase(ctx, person.ID)
	if err != nil || len(keys) != 0 {
		t.Errorf("second purge = (%v, %v), want no keys", keys, err)
	}
}

func TestPurgeClosedCasesHonorsCutoff(t *testing.T) {
	s, _, person := newFixture(t)
	ctx := context.Background()
	addImage(t, s, person.ID, "old-case")

	if err := s.UpdatePersonStatus(ctx, person.ID, models.CaseStatusClosed); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Closed just now, cutoff in the past: retained.
	keys, err := s.PurgeClosedCases(ctx, time.Now().Add(-time.Hour))
	if err != nil || len(keys) != 0 {
		t.Fatalf("premature purge = (%v, %v)", keys, err)
	}

	keys, err = s.PurgeClosedCases(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("purge keys = %v, want one", keys)
	}
}

func TestCandidateImagesExcludeOwnCaseAndPurged(t *testing.T) {
	s, actor, person := newFixture(t)
	ctx := context.Background()

	other := &models.Person{FullName: "Other", ReportedBy: actor.ID}
	if err := s.CreatePerson(ctx, other); err != nil {
		t.Fatalf("create person: %v", err)
	}

	own := addImage(t, s, person.ID, "own")
	_ = s.SetImageFeatures(ctx, own.ID, []float32{1, 0})
	foreign := addImage(t, s, other.ID, "foreign")
	_ = s.SetImageFeatures(ctx, foreign.ID, []float32{0.9, 0.1})
	bare := addImage(t, s, other.ID, "featureless")
	_ = bare

	got, err := s.ListCandidateImages(ctx, person.ID, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	if len(got) != 1 || got[0].ID != foreign.ID {
		t.Fatalf("candidates = %v, want only the foreign image with features", got)
	}
}

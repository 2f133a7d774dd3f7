package match

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/your-org/sura/internal/config"
	"github.com/your-org/sura/internal/models"
	"github.com/your-org/sura/internal/scorer"
	"github.com/your-org/sura/internal/storage"
	"github.com/your-org/sura/internal/storage/memory"
)

// cosineScorer scores with plain cosine similarity and never extracts.
type cosineScorer struct{}

func (cosineScorer) ExtractFeatures(context.Context, []byte) ([]float32, error) {
	return nil, scorer.ErrNoFaceDetected
}

func (cosineScorer) Similarity(a, b []float32) (float64, error) {
	return scorer.CosineSimilarity(a, b), nil
}

// downScorer simulates a scorer outage.
type downScorer struct{ cosineScorer }

func (downScorer) Similarity([]float32, []float32) (float64, error) {
	return 0, scorer.ErrUnavailable
}

func testConfig() config.MatchingConfig {
	return config.MatchingConfig{
		TopK:               10,
		MinConfidence:      0.5,
		DistanceThreshold:  1.0,
		ReviewBandLow:      0.90,
		ReviewBandHigh:     0.98,
		AttributeThreshold: 2.0,
		CandidateLimit:     200,
	}
}

type genFixture struct {
	store *memory.Store
	probe *models.ProbeImage
	owner *models.Person
}

func newGenFixture(t *testing.T) *genFixture {
	t.Helper()
	s := memory.NewStore()
	ctx := context.Background()

	reporter := &models.Actor{Role: models.RolePoliceOfficer, Verification: models.VerificationVerified}
	if err := s.CreateActor(ctx, reporter); err != nil {
		t.Fatalf("create actor: %v", err)
	}
	owner := &models.Person{FullName: "Dilnoza Rashidova", Age: 28, Gender: "female", LastSeenLocation: "Tashkent", ReportedBy: reporter.ID}
	if err := s.CreatePerson(ctx, owner); err != nil {
		t.Fatalf("create person: %v", err)
	}
	probe := &models.ProbeImage{PersonID: owner.ID, ImageHash: "probe"}
	if err := s.CreateImage(ctx, probe); err != nil {
		t.Fatalf("create probe: %v", err)
	}
	if err := s.SetImageFeatures(ctx, probe.ID, []float32{1, 0}); err != nil {
		t.Fatalf("set features: %v", err)
	}
	probe.Features = []float32{1, 0}
	return &genFixture{store: s, probe: probe, owner: owner}
}

// addCandidate creates a case with one image whose cosine similarity to the
// probe vector (1,0) equals sim.
func (f *genFixture) addCandidate(t *testing.T, name string, sim float32) *models.Person {
	t.Helper()
	ctx := context.Background()
	p := &models.Person{FullName: name, ReportedBy: f.owner.ReportedBy}
	if err := f.store.CreatePerson(ctx, p); err != nil {
		t.Fatalf("create candidate %s: %v", name, err)
	}
	img := &models.ProbeImage{PersonID: p.ID, ImageHash: name}
	if err := f.store.CreateImage(ctx, img); err != nil {
		t.Fatalf("create candidate image: %v", err)
	}
	// For a unit vector (x, y), cosine against (1,0) is x.
	vec := []float32{sim, sqrt32(1 - sim*sim)}
	if err := f.store.SetImageFeatures(ctx, img.ID, vec); err != nil {
		t.Fatalf("set candidate features: %v", err)
	}
	return p
}

func sqrt32(v float32) float32 {
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 20; i++ {
		x = (x + v/x) / 2
	}
	return x
}

func TestGenerateForImageRanksAndFilters(t *testing.T) {
	f := newGenFixture(t)
	gen := NewGenerator(f.store, cosineScorer{}, testConfig())

	strong := f.addCandidate(t, "strong", 0.99)
	banded := f.addCandidate(t, "banded", 0.95)
	weak := f.addCandidate(t, "weak", 0.6)
	f.addCandidate(t, "noise", 0.2) // below MinConfidence

	matches, err := gen.GenerateForImage(context.Background(), f.probe)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(matches))
	}
	if matches[0].CandidatePersonID != strong.ID ||
		matches[1].CandidatePersonID != banded.ID ||
		matches[2].CandidatePersonID != weak.ID {
		t.Errorf("matches not ranked by confidence: %+v", matches)
	}
	for _, m := range matches {
		if m.Status != models.MatchStatusPendingReview {
			t.Errorf("new match status = %s, want pending_review", m.Status)
		}
		if m.Source != models.MatchSourceInternal {
			t.Errorf("match source = %s", m.Source)
		}
	}

	// 0.99 is above the review band, 0.95 inside it, 0.6 below it.
	if matches[0].RequiresReview {
		t.Error("confidence above band must not require review")
	}
	if !matches[1].RequiresReview {
		t.Error("confidence inside band must require review")
	}
	if matches[2].RequiresReview {
		t.Error("confidence below band must not require review")
	}
}

func TestGenerateForImageHonorsTopK(t *testing.T) {
	f := newGenFixture(t)
	cfg := testConfig()
	cfg.TopK = 2
	gen := NewGenerator(f.store, cosineScorer{}, cfg)

	f.addCandidate(t, "a", 0.95)
	f.addCandidate(t, "b", 0.90)
	f.addCandidate(t, "c", 0.85)

	matches, err := gen.GenerateForImage(context.Background(), f.probe)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want top 2", len(matches))
	}
	if matches[0].Confidence < matches[1].Confidence {
		t.Error("matches out of order")
	}
}

func TestGenerateForImageOneMatchPerCandidateCase(t *testing.T) {
	f := newGenFixture(t)
	gen := NewGenerator(f.store, cosineScorer{}, testConfig())
	ctx := context.Background()

	cand := f.addCandidate(t, "multi", 0.8)
	// A second, closer image of the same case.
	img := &models.ProbeImage{PersonID: cand.ID, ImageHash: "multi-2"}
	if err := f.store.CreateImage(ctx, img); err != nil {
		t.Fatalf("create image: %v", err)
	}
	if err := f.store.SetImageFeatures(ctx, img.ID, []float32{0.95, sqrt32(1 - 0.95*0.95)}); err != nil {
		t.Fatalf("set features: %v", err)
	}

	matches, err := gen.GenerateForImage(ctx, f.probe)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want one per candidate case", len(matches))
	}
	if matches[0].Confidence < 0.94 {
		t.Errorf("kept confidence %f, want the better image's score", matches[0].Confidence)
	}
}

func TestGenerateForImageScorerOutageYieldsNoMatches(t *testing.T) {
	f := newGenFixture(t)
	gen := NewGenerator(f.store, downScorer{}, testConfig())
	f.addCandidate(t, "unreachable", 0.99)

	matches, err := gen.GenerateForImage(context.Background(), f.probe)
	if !errors.Is(err, ErrScoringUnavailable) {
		t.Fatalf("outage err = %v, want ErrScoringUnavailable", err)
	}
	if len(matches) != 0 {
		t.Fatalf("got %d matches during outage, want 0", len(matches))
	}
}

// purgingScorer clears the probe's case partway through scoring, the way
// the retention job can while a long comparison loop is running.
type purgingScorer struct {
	cosineScorer
	store    *memory.Store
	personID uuid.UUID
}

func (p purgingScorer) Similarity(a, b []float32) (float64, error) {
	if _, err := p.store.PurgeCase(context.Background(), p.personID); err != nil {
		return 0, err
	}
	return scorer.CosineSimilarity(a, b), nil
}

func TestGenerateForImageDiscardsResultsWhenProbePurgedMidScoring(t *testing.T) {
	f := newGenFixture(t)
	gen := NewGenerator(f.store, purgingScorer{store: f.store, personID: f.probe.PersonID}, testConfig())
	cand := f.addCandidate(t, "racer", 0.99)

	matches, err := gen.GenerateForImage(context.Background(), f.probe)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("got %d matches for a purged probe, want 0", len(matches))
	}

	_, total, err := f.store.ListMatches(context.Background(), unrestricted(), &cand.ID, nil, 10, 0)
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	if total != 0 {
		t.Errorf("purged probe left %d match rows behind, want 0", total)
	}
}

func TestAttributeScore(t *testing.T) {
	base := models.Person{FullName: "Jasur Toshmatov", Age: 40, Gender: "male", LastSeenLocation: "Samarkand, Registan square"}

	tests := []struct {
		name string
		cand models.Person
		want float64
	}{
		{"full overlap", models.Person{FullName: "jasur toshmatov", Age: 43, Gender: "MALE", LastSeenLocation: "Samarkand"}, 3.5},
		{"name and age only", models.Person{FullName: "Jasur Toshmatov", Age: 36}, 2.0},
		{"age beyond tolerance", models.Person{FullName: "Jasur Toshmatov", Age: 46}, 1.0},
		{"gender and location", models.Person{FullName: "Someone Else", Age: 70, Gender: "male", LastSeenLocation: "registan"}, 1.5},
		{"nothing shared", models.Person{FullName: "Nobody", Age: 9, Gender: "female", LastSeenLocation: "Nukus"}, 0},
		{"empty fields never score", models.Person{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AttributeScore(base, tt.cand); got != tt.want {
				t.Errorf("AttributeScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateForAttributes(t *testing.T) {
	f := newGenFixture(t)
	gen := NewGenerator(f.store, cosineScorer{}, testConfig())
	ctx := context.Background()

	// Same name and age as the probe's case: score 3.0.
	hit := &models.Person{FullName: "Dilnoza Rashidova", Age: 30, Gender: "female", ReportedBy: f.owner.ReportedBy}
	if err := f.store.CreatePerson(ctx, hit); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Only gender shared: score 1.0, below threshold.
	miss := &models.Person{FullName: "Unrelated", Age: 60, Gender: "female", ReportedBy: f.owner.ReportedBy}
	if err := f.store.CreatePerson(ctx, miss); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Would match, but the case is closed.
	closed := &models.Person{FullName: "Dilnoza Rashidova", Age: 28, Gender: "female", ReportedBy: f.owner.ReportedBy}
	if err := f.store.CreatePerson(ctx, closed); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.store.UpdatePersonStatus(ctx, closed.ID, models.CaseStatusClosed); err != nil {
		t.Fatalf("close: %v", err)
	}

	matches, err := gen.GenerateForAttributes(ctx, f.probe)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	m := matches[0]
	if m.CandidatePersonID != hit.ID {
		t.Errorf("matched %s, want %s", m.CandidatePersonID, hit.ID)
	}
	if !m.RequiresReview {
		t.Error("attribute matches must always require human review")
	}
	if m.Confidence <= 0 || m.Confidence > 1 {
		t.Errorf("confidence %f out of range", m.Confidence)
	}
}

func TestGenerateForImageNeverMatchesOwnCase(t *testing.T) {
	f := newGenFixture(t)
	gen := NewGenerator(f.store, cosineScorer{}, testConfig())
	ctx := context.Background()

	// A second image on the probe's own case, identical features.
	sibling := &models.ProbeImage{PersonID: f.owner.ID, ImageHash: "sibling"}
	if err := f.store.CreateImage(ctx, sibling); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.store.SetImageFeatures(ctx, sibling.ID, []float32{1, 0}); err != nil {
		t.Fatalf("set features: %v", err)
	}

	matches, err := gen.GenerateForImage(ctx, f.probe)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, m := range matches {
		if m.CandidatePersonID == f.owner.ID {
			t.Fatal("probe matched its own case")
		}
	}
}

func TestCreateMatchRejectsMissingReferences(t *testing.T) {
	s := memory.NewStore()
	m := &models.Match{ProbeImageID: uuid.New(), CandidatePersonID: uuid.New()}
	if err := s.CreateMatch(context.Background(), m); !errors.Is(err, storage.ErrIntegrity) {
		t.Fatalf("err = %v, want ErrIntegrity", err)
	}
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/your-org/sura/internal/auth"
	"github.com/your-org/sura/internal/config"
	"github.com/your-org/sura/internal/match"
	"github.com/your-org/sura/internal/models"
	"github.com/your-org/sura/internal/notify"
	"github.com/your-org/sura/internal/policy"
	"github.com/your-org/sura/internal/storage/memory"
	"github.com/your-org/sura/pkg/dto"
)

type apiFixture struct {
	store  *memory.Store
	router *gin.Engine
	family models.Actor
	police models.Actor
	morgue models.Actor
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := memory.NewStore()
	ctx := context.Background()
	family := &models.Actor{Role: models.RoleFamilyMember, Verification: models.VerificationVerified}
	police := &models.Actor{Role: models.RolePoliceOfficer, Verification: models.VerificationVerified}
	morgue := &models.Actor{Role: models.RoleMorgueStaff, Verification: models.VerificationVerified}
	for _, a := range []*models.Actor{family, police, morgue} {
		if err := s.CreateActor(ctx, a); err != nil {
			t.Fatalf("create actor: %v", err)
		}
	}

	pol := policy.NewPolicy()
	reviewer := match.NewReviewer(s, pol, notify.NopEmitter{})

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(auth.ActorMiddleware(s, pol))

	matching := config.MatchingConfig{TopK: 10, AttributeThreshold: 2.0}
	caseH := NewCaseHandler(s, matching)
	v1.POST("/cases", caseH.Create)
	v1.GET("/cases", caseH.List)
	v1.GET("/cases/:id", caseH.Get)
	v1.GET("/cases/:id/search", caseH.Search)

	matchH := NewMatchHandler(s, reviewer)
	v1.GET("/matches", matchH.List)
	v1.POST("/matches/:id/verify", matchH.Verify)
	v1.POST("/matches/:id/reject", matchH.Reject)

	return &apiFixture{store: s, router: r, family: *family, police: *police, morgue: *morgue}
}

func (f *apiFixture) do(t *testing.T, method, path string, actor *models.Actor, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("X-Actor-ID", actor.ID.String())
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestCreateCaseRequiresReportCapability(t *testing.T) {
	f := newAPIFixture(t)
	body := dto.CreateCaseRequest{FullName: "Shahnoza Mirzaeva", Age: 19}

	if w := f.do(t, http.MethodPost, "/v1/cases", &f.family, body); w.Code != http.StatusCreated {
		t.Errorf("family create = %d, want 201: %s", w.Code, w.Body)
	}
	if w := f.do(t, http.MethodPost, "/v1/cases", &f.morgue, body); w.Code != http.StatusForbidden {
		t.Errorf("morgue create = %d, want 403", w.Code)
	}
}

func TestActorResolution(t *testing.T) {
	f := newAPIFixture(t)

	if w := f.do(t, http.MethodGet, "/v1/cases", nil, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("missing actor header = %d, want 401", w.Code)
	}

	ghost := models.Actor{ID: f.family.ID}
	ghost.ID[0] ^= 0xff
	if w := f.do(t, http.MethodGet, "/v1/cases", &ghost, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unknown actor = %d, want 401", w.Code)
	}

	pending := &models.Actor{Role: models.RolePoliceOfficer, Verification: models.VerificationPending}
	if err := f.store.CreateActor(context.Background(), pending); err != nil {
		t.Fatalf("create actor: %v", err)
	}
	if w := f.do(t, http.MethodGet, "/v1/cases", pending, nil); w.Code != http.StatusForbidden {
		t.Errorf("unverified actor = %d, want 403", w.Code)
	}
}

func TestCaseListingIsScoped(t *testing.T) {
	f := newAPIFixture(t)

	// Family reports a case; police report another.
	if w := f.do(t, http.MethodPost, "/v1/cases", &f.family, dto.CreateCaseRequest{FullName: "Own Case"}); w.Code != http.StatusCreated {
		t.Fatalf("create = %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/cases", &f.police, dto.CreateCaseRequest{FullName: "Police Case"}); w.Code != http.StatusCreated {
		t.Fatalf("create = %d", w.Code)
	}

	var familyView dto.CaseListResponse
	w := f.do(t, http.MethodGet, "/v1/cases", &f.family, nil)
	if err := json.Unmarshal(w.Body.Bytes(), &familyView); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if familyView.Total != 1 || len(familyView.Cases) != 1 || familyView.Cases[0].FullName != "Own Case" {
		t.Errorf("family sees %d cases (total %d), want only their own", len(familyView.Cases), familyView.Total)
	}

	var policeView dto.CaseListResponse
	w = f.do(t, http.MethodGet, "/v1/cases", &f.police, nil)
	if err := json.Unmarshal(w.Body.Bytes(), &policeView); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if policeView.Total != 2 {
		t.Errorf("police see total %d, want 2", policeView.Total)
	}

	// Direct fetch of a foreign case 404s rather than 403s: restricted
	// actors cannot probe for existence.
	foreignID := policeView.Cases[0].ID
	if policeView.Cases[0].FullName == "Own Case" {
		foreignID = policeView.Cases[1].ID
	}
	if w := f.do(t, http.MethodGet, "/v1/cases/"+foreignID.String(), &f.family, nil); w.Code != http.StatusNotFound {
		t.Errorf("foreign case fetch = %d, want 404", w.Code)
	}
}

func TestAttributeSearchEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	probe := &models.Person{FullName: "Nigora Karimova", Age: 30, Gender: "female", ReportedBy: f.family.ID}
	hit := &models.Person{FullName: "Nigora Karimova", Age: 33, Gender: "female", ReportedBy: f.police.ID}
	miss := &models.Person{FullName: "Someone Else", Age: 31, ReportedBy: f.police.ID}
	for _, p := range []*models.Person{probe, hit, miss} {
		if err := f.store.CreatePerson(ctx, p); err != nil {
			t.Fatalf("create person: %v", err)
		}
	}

	w := f.do(t, http.MethodGet, "/v1/cases/"+probe.ID.String()+"/search", &f.family, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d: %s", w.Code, w.Body)
	}
	var resp dto.AttributeSearchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.Candidates) != 1 {
		t.Fatalf("got %d candidates, want the single profile hit", resp.Total)
	}
	if resp.Candidates[0].PersonID != hit.ID {
		t.Errorf("candidate = %s, want %s", resp.Candidates[0].PersonID, hit.ID)
	}
	if resp.Candidates[0].Score < 2.0 {
		t.Errorf("score = %f, want >= threshold", resp.Candidates[0].Score)
	}

	// The searched case itself must be visible to the actor.
	w = f.do(t, http.MethodGet, "/v1/cases/"+hit.ID.String()+"/search", &f.family, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign case search = %d, want 404", w.Code)
	}
}

func TestMatchReviewEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	probeCase := &models.Person{FullName: "Probe", ReportedBy: f.family.ID}
	candCase := &models.Person{FullName: "Candidate", ReportedBy: f.family.ID}
	for _, p := range []*models.Person{probeCase, candCase} {
		if err := f.store.CreatePerson(ctx, p); err != nil {
			t.Fatalf("create person: %v", err)
		}
	}
	img := &models.ProbeImage{PersonID: probeCase.ID, ImageHash: "h"}
	if err := f.store.CreateImage(ctx, img); err != nil {
		t.Fatalf("create image: %v", err)
	}
	m := &models.Match{ProbeImageID: img.ID, CandidatePersonID: candCase.ID, Confidence: 0.95, Distance: 0.05}
	if err := f.store.CreateMatch(ctx, m); err != nil {
		t.Fatalf("create match: %v", err)
	}

	verifyPath := "/v1/matches/" + m.ID.String() + "/verify"

	if w := f.do(t, http.MethodPost, verifyPath, &f.family, dto.ReviewRequest{}); w.Code != http.StatusForbidden {
		t.Errorf("family verify = %d, want 403", w.Code)
	}

	w := f.do(t, http.MethodPost, verifyPath, &f.police, dto.ReviewRequest{Notes: "confirmed"})
	if w.Code != http.StatusOK {
		t.Fatalf("police verify = %d: %s", w.Code, w.Body)
	}
	var verified models.Match
	if err := json.Unmarshal(w.Body.Bytes(), &verified); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if verified.Status != models.MatchStatusVerified {
		t.Errorf("status = %s, want verified", verified.Status)
	}

	if w := f.do(t, http.MethodPost, verifyPath, &f.police, dto.ReviewRequest{}); w.Code != http.StatusConflict {
		t.Errorf("second verify = %d, want 409", w.Code)
	}
	rejectPath := "/v1/matches/" + m.ID.String() + "/reject"
	if w := f.do(t, http.MethodPost, rejectPath, &f.police, dto.ReviewRequest{}); w.Code != http.StatusConflict {
		t.Errorf("reject after verify = %d, want 409", w.Code)
	}
}

// Package memory provides an in-memory Store for tests and local
// development. Semantics mirror the Postgres implementation, including
// duplicate detection, compare-and-set transitions, and scoped reads.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sura/internal/models"
	"github.com/your-org/sura/internal/policy"
	"github.com/your-org/sura/internal/scorer"
	"github.com/your-org/sura/internal/storage"
)

type Store struct {
	mu sync.Mutex

	actors  map[uuid.UUID]*models.Actor
	persons map[uuid.UUID]*models.Person
	images  map[uuid.UUID]*models.ProbeImage
	entries map[uuid.UUID]*models.QueueEntry
	matches map[uuid.UUID]*models.Match

	// seq breaks created_at ties so FIFO order is stable even when the
	// clock does not advance between inserts.
	seq      int64
	entrySeq map[uuid.UUID]int64
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		actors:   make(map[uuid.UUID]*models.Actor),
		persons:  make(map[uuid.UUID]*models.Person),
		images:   make(map[uuid.UUID]*models.ProbeImage),
		entries:  make(map[uuid.UUID]*models.QueueEntry),
		matches:  make(map[uuid.UUID]*models.Match),
		entrySeq: make(map[uuid.UUID]int64),
	}
}

func (s *Store) next() int64 {
	s.seq++
	return s.seq
}

// --- actors ---

func (s *Store) CreateActor(_ context.Context, a *models.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	cp := *a
	s.actors[a.ID] = &cp
	return nil
}

func (s *Store) GetActor(_ context.Context, id uuid.UUID) (*models.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// --- persons ---

func (s *Store) CreatePerson(_ context.Context, p *models.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = models.CaseStatusReported
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	s.persons[p.ID] = &cp
	return nil
}

func personVisible(p *models.Person, scope policy.Scope) bool {
	return scope.All || p.ReportedBy == scope.ReporterID
}

func (s *Store) GetPerson(_ context.Context, scope policy.Scope, id uuid.UUID) (*models.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.persons[id]
	if !ok || !personVisible(p, scope) {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListPersons(_ context.Context, scope policy.Scope, status *models.CaseStatus, limit, offset int) ([]models.Person, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}

	var all []models.Person
	for _, p := range s.persons {
		if !personVisible(p, scope) {
			continue
		}
		if status != nil && p.Status != *status {
			continue
		}
		all = append(all, *p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *Store) UpdatePersonStatus(_ context.Context, id uuid.UUID, status models.CaseStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.persons[id]
	if !ok {
		return storage.ErrNotFound
	}
	if !models.CanTransitionCase(p.Status, status) {
		return fmt.Errorf("%w: case is %s, cannot move to %s", storage.ErrConflict, p.Status, status)
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	if status == models.CaseStatusClosed {
		now := time.Now()
		p.ResolvedAt = &now
	}
	return nil
}

func (s *Store) ListOpenPersons(_ context.Context, excludePersonID uuid.UUID) ([]models.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Person
	for _, p := range s.persons {
		if p.ID == excludePersonID || p.Status == models.CaseStatusClosed {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- images ---

func (s *Store) CreateImage(_ context.Context, img *models.ProbeImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if img.ImageHash != "" {
		for _, existing := range s.images {
			if existing.ImageHash == img.ImageHash {
				return storage.ErrDuplicateImage
			}
		}
	}
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	if img.Status == "" {
		img.Status = models.ImageStatusUploaded
	}
	if img.PriorityHint == "" {
		img.PriorityHint = models.PriorityNormal
	}
	now := time.Now()
	img.CreatedAt = now
	img.UpdatedAt = now
	cp := *img
	cp.Features = append([]float32(nil), img.Features...)
	s.images[img.ID] = &cp
	return nil
}

func copyImage(img *models.ProbeImage) *models.ProbeImage {
	cp := *img
	cp.Features = append([]float32(nil), img.Features...)
	return &cp
}

func (s *Store) GetImage(_ context.Context, id uuid.UUID) (*models.ProbeImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyImage(img), nil
}

func (s *Store) ListImagesByPerson(_ context.Context, scope policy.Scope, personID uuid.UUID) ([]models.ProbeImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.persons[personID]
	if !ok || !personVisible(p, scope) {
		return nil, storage.ErrNotFound
	}
	var out []models.ProbeImage
	for _, img := range s.images {
		if img.PersonID == personID {
			out = append(out, *copyImage(img))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SetImageFeatures(_ context.Context, id uuid.UUID, features []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return storage.ErrNotFound
	}
	if img.Status == models.ImageStatusPurged {
		return fmt.Errorf("%w: image is purged", storage.ErrConflict)
	}
	img.Features = append([]float32(nil), features...)
	now := time.Now()
	img.ProcessedAt = &now
	img.UpdatedAt = now
	return nil
}

func (s *Store) SetImageStatus(_ context.Context, id uuid.UUID, status models.ImageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return storage.ErrNotFound
	}
	if img.Status == models.ImageStatusPurged {
		return fmt.Errorf("%w: image is purged", storage.ErrConflict)
	}
	img.Status = status
	img.UpdatedAt = time.Now()
	return nil
}

func (s *Store) ListCandidateImages(_ context.Context, excludePersonID uuid.UUID, probeFeatures []float32, limit int) ([]models.ProbeImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 200
	}

	var out []models.ProbeImage
	for _, img := range s.images {
		if img.PersonID == excludePersonID || !img.HasFeatures() {
			continue
		}
		out = append(out, *copyImage(img))
	}
	if probeFeatures != nil {
		sort.Slice(out, func(i, j int) bool {
			return scorer.CosineDistance(probeFeatures, out[i].Features) <
				scorer.CosineDistance(probeFeatures, out[j].Features)
		})
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- queue ---

func (s *Store) Enqueue(_ context.Context, imageID uuid.UUID, priority models.Priority, maxRetries int) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := models.ParsePriority(string(priority)); !ok {
		priority = models.PriorityNormal
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	for _, e := range s.entries {
		if e.ImageID == imageID && !e.IsTerminal() {
			return nil, storage.ErrDuplicateEnqueue
		}
	}

	entry := &models.QueueEntry{
		ID:         uuid.New(),
		ImageID:    imageID,
		Priority:   priority,
		Status:     models.EntryStatusQueued,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now(),
	}
	s.entries[entry.ID] = entry
	s.entrySeq[entry.ID] = s.next()
	if img, ok := s.images[imageID]; ok && img.Status != models.ImageStatusPurged {
		img.Status = models.ImageStatusQueued
	}
	cp := *entry
	return &cp, nil
}

func (s *Store) DequeueNext(_ context.Context) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.QueueEntry
	for _, e := range s.entries {
		if e.Status != models.EntryStatusQueued {
			continue
		}
		if best == nil {
			best = e
			continue
		}
		er, br := e.Priority.Rank(), best.Priority.Rank()
		if er < br || (er == br && s.entrySeq[e.ID] < s.entrySeq[best.ID]) {
			best = e
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}

	now := time.Now()
	best.Status = models.EntryStatusProcessing
	best.StartedAt = &now
	if img, ok := s.images[best.ImageID]; ok && img.Status != models.ImageStatusPurged {
		img.Status = models.ImageStatusProcessing
	}
	cp := *best
	return &cp, nil
}

func (s *Store) GetEntry(_ context.Context, id uuid.UUID) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *Store) MarkCompleted(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	if e.Status != models.EntryStatusProcessing {
		return fmt.Errorf("%w: entry is %s", storage.ErrConflict, e.Status)
	}
	now := time.Now()
	e.Status = models.EntryStatusCompleted
	e.CompletedAt = &now
	if img, ok := s.images[e.ImageID]; ok && img.Status != models.ImageStatusPurged {
		img.Status = models.ImageStatusCompleted
	}
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	if e.Status != models.EntryStatusProcessing {
		return fmt.Errorf("%w: entry is %s", storage.ErrConflict, e.Status)
	}
	s.failLocked(e, reason)
	return nil
}

func (s *Store) failLocked(e *models.QueueEntry, reason string) {
	e.LastError = reason
	e.StartedAt = nil
	if e.Retries < e.MaxRetries {
		e.Retries++
		e.Status = models.EntryStatusQueued
		if img, ok := s.images[e.ImageID]; ok && img.Status != models.ImageStatusPurged {
			img.Status = models.ImageStatusQueued
		}
		return
	}
	now := time.Now()
	e.Status = models.EntryStatusFailed
	e.CompletedAt = &now
	if img, ok := s.images[e.ImageID]; ok && img.Status != models.ImageStatusPurged {
		img.Status = models.ImageStatusFailed
	}
}

func (s *Store) ReapStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reaped := 0
	for _, e := range s.entries {
		if e.Status == models.EntryStatusProcessing && e.StartedAt != nil && e.StartedAt.Before(cutoff) {
			s.failLocked(e, "processing timed out")
			reaped++
		}
	}
	return reaped, nil
}

func (s *Store) ListEntries(_ context.Context, status *models.EntryStatus, limit int) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []models.QueueEntry
	for _, e := range s.entries {
		if status != nil && e.Status != *status {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		ir, jr := out[i].Priority.Rank(), out[j].Priority.Rank()
		if ir != jr {
			return ir < jr
		}
		return s.entrySeq[out[i].ID] < s.entrySeq[out[j].ID]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) QueueStats(_ context.Context) (models.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats models.QueueStats
	for _, e := range s.entries {
		switch e.Status {
		case models.EntryStatusQueued:
			stats.Queued++
		case models.EntryStatusProcessing:
			stats.Processing++
		case models.EntryStatusCompleted:
			stats.Completed++
		case models.EntryStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// --- matches ---

func (s *Store) CreateMatch(_ context.Context, m *models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.images[m.ProbeImageID]; !ok {
		return fmt.Errorf("%w: unknown probe image %s", storage.ErrIntegrity, m.ProbeImageID)
	}
	if _, ok := s.persons[m.CandidatePersonID]; !ok {
		return fmt.Errorf("%w: unknown candidate person %s", storage.ErrIntegrity, m.CandidatePersonID)
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = models.MatchStatusPendingReview
	}
	if m.Source == "" {
		m.Source = models.MatchSourceInternal
	}
	m.CreatedAt = time.Now()
	cp := *m
	s.matches[m.ID] = &cp
	return nil
}

func (s *Store) matchVisibleLocked(m *models.Match, scope policy.Scope) bool {
	if scope.All {
		return true
	}
	if p, ok := s.persons[m.CandidatePersonID]; ok && p.ReportedBy == scope.ReporterID {
		return true
	}
	if img, ok := s.images[m.ProbeImageID]; ok {
		if p, ok := s.persons[img.PersonID]; ok && p.ReportedBy == scope.ReporterID {
			return true
		}
	}
	return false
}

func (s *Store) GetMatch(_ context.Context, scope policy.Scope, id uuid.UUID) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok || !s.matchVisibleLocked(m, scope) {
		return nil, storage.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) ListMatches(_ context.Context, scope policy.Scope, personID *uuid.UUID, status *models.MatchStatus, limit, offset int) ([]models.Match, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}

	var all []models.Match
	for _, m := range s.matches {
		if !s.matchVisibleLocked(m, scope) {
			continue
		}
		if personID != nil && m.CandidatePersonID != *personID {
			continue
		}
		if status != nil && m.Status != *status {
			continue
		}
		all = append(all, *m)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Confidence != all[j].Confidence {
			return all[i].Confidence > all[j].Confidence
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *Store) FinalizeMatch(_ context.Context, id uuid.UUID, status models.MatchStatus, reviewerID uuid.UUID, notes string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status != models.MatchStatusVerified && status != models.MatchStatusFalsePositive {
		return nil, fmt.Errorf("%w: %q is not a terminal match status", storage.ErrConflict, status)
	}
	m, ok := s.matches[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if m.Status != models.MatchStatusPendingReview {
		return nil, fmt.Errorf("%w: match already %s", storage.ErrConflict, m.Status)
	}
	now := time.Now()
	m.Status = status
	m.ReviewedBy = &reviewerID
	m.ReviewedAt = &now
	m.ReviewNotes = notes
	m.RequiresReview = false
	cp := *m
	return &cp, nil
}

// --- retention ---

func (s *Store) PurgeClosedCases(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for _, p := range s.persons {
		if p.Status != models.CaseStatusClosed || p.ResolvedAt == nil || !p.ResolvedAt.Before(cutoff) {
			continue
		}
		keys = append(keys, s.purgePersonLocked(p.ID)...)
	}
	return keys, nil
}

func (s *Store) PurgeCase(_ context.Context, personID uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgePersonLocked(personID), nil
}

func (s *Store) purgePersonLocked(personID uuid.UUID) []string {
	var keys []string
	for _, img := range s.images {
		if img.PersonID != personID || img.Status == models.ImageStatusPurged {
			continue
		}
		if img.StorageKey != "" {
			keys = append(keys, img.StorageKey)
		}
		img.Features = nil
		img.StorageKey = ""
		img.Status = models.ImageStatusPurged
		img.UpdatedAt = time.Now()
	}
	return keys
}

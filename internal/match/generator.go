// Package match implements candidate generation and review for the
// missing-person comparison pipeline. The generator turns a processed probe
// image into ranked match records; review drives each record through its
// single terminal transition.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/your-org/sura/internal/config"
	"github.com/your-org/sura/internal/models"
	"github.com/your-org/sura/internal/scorer"
	"github.com/your-org/sura/internal/storage"
)

// ErrScoringUnavailable reports that the scoring backend was unreachable
// while comparing candidates. No matches were produced; callers decide
// whether the probe completes empty or is retried.
var ErrScoringUnavailable = errors.New("scoring unavailable")

// Attribute weights for profile-based candidate scoring. A candidate
// surfaces only when the weighted sum clears the configured threshold, so a
// single coincidental field can never produce a match on its own.
const (
	weightName     = 1.0
	weightAge      = 1.0
	weightGender   = 1.0
	weightLocation = 0.5

	// ageTolerance is the reported-age slack in years.
	ageTolerance = 5

	// maxAttributeScore normalizes the weighted sum into a confidence.
	maxAttributeScore = weightName + weightAge + weightGender + weightLocation
)

// Generator produces candidate matches for a probe image, via face
// similarity when features are available and via case attributes otherwise.
type Generator struct {
	store  storage.Store
	scorer scorer.Scorer
	cfg    config.MatchingConfig
}

func NewGenerator(store storage.Store, sc scorer.Scorer, cfg config.MatchingConfig) *Generator {
	return &Generator{store: store, scorer: sc, cfg: cfg}
}

// scored pairs a candidate with its comparison outcome before ranking.
type scored struct {
	candidate  models.ProbeImage
	confidence float64
	distance   float64
}

// GenerateForImage compares the probe's feature vector against candidate
// images from other cases and persists the top matches. Candidates are
// ranked by confidence, most recent upload first on ties, capped at the
// configured top-K, and only scores at or above the confidence floor become
// match records. A scorer outage produces no matches and is signalled as
// ErrScoringUnavailable; callers decide whether the probe completes empty
// or is retried.
func (g *Generator) GenerateForImage(ctx context.Context, probe *models.ProbeImage) ([]models.Match, error) {
	if !probe.HasFeatures() {
		return nil, fmt.Errorf("probe image %s has no features", probe.ID)
	}

	candidates, err := g.store.ListCandidateImages(ctx, probe.PersonID, probe.Features, g.cfg.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("list candidate images: %w", err)
	}

	var ranked []scored
	for _, cand := range candidates {
		sim, err := g.scorer.Similarity(probe.Features, cand.Features)
		if err != nil {
			if errors.Is(err, scorer.ErrUnavailable) {
				slog.Warn("scorer unavailable, no matches produced",
					"probe_image_id", probe.ID)
				return nil, ErrScoringUnavailable
			}
			slog.Warn("score candidate", "candidate_image_id", cand.ID, "error", err)
			continue
		}
		distance := 1 - sim
		confidence := g.calibrate(distance)
		if confidence < g.cfg.MinConfidence {
			continue
		}
		ranked = append(ranked, scored{candidate: cand, confidence: confidence, distance: distance})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].confidence != ranked[j].confidence {
			return ranked[i].confidence > ranked[j].confidence
		}
		return ranked[i].candidate.CreatedAt.After(ranked[j].candidate.CreatedAt)
	})

	// The case may have been purged while scoring ran; results for a purged
	// probe are discarded, never written.
	if purged, err := g.probePurged(ctx, probe.ID); err != nil {
		return nil, err
	} else if purged {
		slog.Info("probe purged during scoring, discarding results", "probe_image_id", probe.ID)
		return nil, nil
	}

	// One match per candidate case, best image wins.
	seen := make(map[string]bool)
	var matches []models.Match
	for _, r := range ranked {
		if len(matches) >= g.cfg.TopK {
			break
		}
		key := r.candidate.PersonID.String()
		if seen[key] {
			continue
		}
		seen[key] = true

		m := models.Match{
			ProbeImageID:      probe.ID,
			CandidatePersonID: r.candidate.PersonID,
			Confidence:        r.confidence,
			Distance:          r.distance,
			Source:            models.MatchSourceInternal,
			Status:            models.MatchStatusPendingReview,
			RequiresReview:    g.inReviewBand(r.confidence),
		}
		if err := g.store.CreateMatch(ctx, &m); err != nil {
			if errors.Is(err, storage.ErrIntegrity) {
				// Candidate case vanished between ranking and insert.
				slog.Warn("drop match on missing candidate", "candidate_person_id", r.candidate.PersonID)
				continue
			}
			return matches, fmt.Errorf("create match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// GenerateForAttributes scores the probe's case profile against every open
// case and persists candidates whose weighted attribute score clears the
// threshold. Attribute matches always require human review; profile overlap
// is corroboration, not identification.
func (g *Generator) GenerateForAttributes(ctx context.Context, probe *models.ProbeImage) ([]models.Match, error) {
	person, err := g.store.GetPerson(ctx, unrestricted(), probe.PersonID)
	if err != nil {
		return nil, fmt.Errorf("load probe case: %w", err)
	}

	open, err := g.store.ListOpenPersons(ctx, person.ID)
	if err != nil {
		return nil, fmt.Errorf("list open cases: %w", err)
	}

	ranked := SearchByAttributes(*person, open, g.cfg.AttributeThreshold, g.cfg.TopK)

	if purged, err := g.probePurged(ctx, probe.ID); err != nil {
		return nil, err
	} else if purged {
		slog.Info("probe purged during scoring, discarding results", "probe_image_id", probe.ID)
		return nil, nil
	}

	var matches []models.Match
	for _, r := range ranked {
		m := models.Match{
			ProbeImageID:      probe.ID,
			CandidatePersonID: r.PersonID,
			Confidence:        r.Confidence,
			Distance:          1 - r.Confidence,
			Source:            models.MatchSourceInternal,
			Status:            models.MatchStatusPendingReview,
			RequiresReview:    true,
		}
		if err := g.store.CreateMatch(ctx, &m); err != nil {
			if errors.Is(err, storage.ErrIntegrity) {
				continue
			}
			return matches, fmt.Errorf("create attribute match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// AttributeCandidate is one profile-search hit: a candidate case whose
// reported attributes overlap the probe's above the threshold.
type AttributeCandidate struct {
	PersonID   uuid.UUID `json:"person_id"`
	FullName   string    `json:"full_name"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
}

// SearchByAttributes ranks candidate cases against the probe profile
// without persisting anything. It backs both the on-demand search endpoint
// for image-less cases and the worker's no-face fallback. Ties break toward
// the most recently reported case.
func SearchByAttributes(probe models.Person, candidates []models.Person, threshold float64, topK int) []AttributeCandidate {
	type attrScored struct {
		person models.Person
		score  float64
	}
	var ranked []attrScored
	for _, cand := range candidates {
		score := AttributeScore(probe, cand)
		if score < threshold {
			continue
		}
		ranked = append(ranked, attrScored{person: cand, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].person.CreatedAt.After(ranked[j].person.CreatedAt)
	})
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}

	out := make([]AttributeCandidate, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, AttributeCandidate{
			PersonID:   r.person.ID,
			FullName:   r.person.FullName,
			Score:      r.score,
			Confidence: r.score / maxAttributeScore,
		})
	}
	return out
}

// probePurged re-reads the probe image's current status. Storage rows
// survive a purge, so a missing row is a real integrity problem and is
// surfaced rather than treated as purged.
func (g *Generator) probePurged(ctx context.Context, imageID uuid.UUID) (bool, error) {
	img, err := g.store.GetImage(ctx, imageID)
	if err != nil {
		return false, fmt.Errorf("recheck probe image: %w", err)
	}
	return img.Status == models.ImageStatusPurged, nil
}

// calibrate maps a raw scorer distance into [0,1] confidence against the
// configured distance threshold. Distance zero is confidence one; at or
// beyond the threshold confidence is zero.
func (g *Generator) calibrate(distance float64) float64 {
	threshold := g.cfg.DistanceThreshold
	if threshold <= 0 {
		threshold = 1.0
	}
	c := 1 - distance/threshold
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// inReviewBand reports whether the confidence falls in the band that forces
// a human reviewer before the match can be acted on.
func (g *Generator) inReviewBand(confidence float64) bool {
	return confidence >= g.cfg.ReviewBandLow && confidence < g.cfg.ReviewBandHigh
}

// AttributeScore computes the weighted profile overlap between two cases.
// Name carries weight 1.0 on a case-insensitive exact match, age 1.0 within
// the tolerance, gender 1.0, and last-seen location 0.5 on a substring
// match either way.
func AttributeScore(a, b models.Person) float64 {
	score := 0.0
	if a.FullName != "" && strings.EqualFold(strings.TrimSpace(a.FullName), strings.TrimSpace(b.FullName)) {
		score += weightName
	}
	if a.Age > 0 && b.Age > 0 {
		diff := a.Age - b.Age
		if diff < 0 {
			diff = -diff
		}
		if diff <= ageTolerance {
			score += weightAge
		}
	}
	if a.Gender != "" && strings.EqualFold(a.Gender, b.Gender) {
		score += weightGender
	}
	la := strings.ToLower(strings.TrimSpace(a.LastSeenLocation))
	lb := strings.ToLower(strings.TrimSpace(b.LastSeenLocation))
	if la != "" && lb != "" && (strings.Contains(la, lb) || strings.Contains(lb, la)) {
		score += weightLocation
	}
	return score
}

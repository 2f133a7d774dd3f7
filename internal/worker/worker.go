// Package worker drives the comparison queue: a pool of claim loops pulls
// entries off the durable queue, scores the probe image against the case
// base, and records candidate matches. A reaper requeues entries abandoned
// by crashed workers.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/your-org/sura/internal/config"
	"github.com/your-org/sura/internal/match"
	"github.com/your-org/sura/internal/models"
	"github.com/your-org/sura/internal/notify"
	"github.com/your-org/sura/internal/observability"
	"github.com/your-org/sura/internal/scorer"
	"github.com/your-org/sura/internal/storage"
)

type Worker struct {
	store   storage.Store
	objects storage.ObjectStore
	scorer  scorer.Scorer
	gen     *match.Generator
	emitter notify.Emitter
	cfg     config.QueueConfig
}

func New(store storage.Store, objects storage.ObjectStore, sc scorer.Scorer, gen *match.Generator, emitter notify.Emitter, cfg config.QueueConfig) *Worker {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 5 * time.Minute
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Minute
	}
	return &Worker{store: store, objects: objects, scorer: sc, gen: gen, emitter: emitter, cfg: cfg}
}

// Run starts the claim loops, the reaper, and the queue depth reporter, and
// blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for i := 0; i < w.cfg.WorkerCount; i++ {
		go w.claimLoop(ctx, i)
	}
	go w.reapLoop(ctx)
	go w.statsLoop(ctx)

	slog.Info("worker pool started", "workers", w.cfg.WorkerCount)
	<-ctx.Done()
}

func (w *Worker) claimLoop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entry, err := w.store.DequeueNext(ctx)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				slog.Error("dequeue", "worker", id, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}

		w.ProcessEntry(ctx, entry)
	}
}

// ProcessEntry runs one claimed entry to a terminal outcome. Transient
// failures go back through the retry path; a probe whose case was purged
// mid-flight completes with no matches.
func (w *Worker) ProcessEntry(ctx context.Context, entry *models.QueueEntry) {
	img, err := w.store.GetImage(ctx, entry.ImageID)
	if err != nil {
		w.fail(ctx, entry, "load probe image: "+err.Error())
		return
	}
	if img.Status == models.ImageStatusPurged {
		// Retention won the race; nothing left to compare.
		w.complete(ctx, entry, nil)
		return
	}

	features := img.Features
	if len(features) == 0 {
		features, err = w.extract(ctx, img)
		if err != nil {
			if errors.Is(err, scorer.ErrNoFaceDetected) {
				// No usable face; fall back to profile attributes.
				w.generateAttributes(ctx, entry, img)
				return
			}
			w.fail(ctx, entry, err.Error())
			return
		}
		if err := w.store.SetImageFeatures(ctx, img.ID, features); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				// Purged between extraction and write.
				w.complete(ctx, entry, nil)
				return
			}
			w.fail(ctx, entry, "persist features: "+err.Error())
			return
		}
		img.Features = features
	}

	matches, err := w.gen.GenerateForImage(ctx, img)
	if err != nil {
		if errors.Is(err, match.ErrScoringUnavailable) {
			// The image keeps its features, so a later re-enqueue re-scores
			// it once the backend is back. Burning retries on an outage
			// would fail entries for a condition that is not theirs.
			slog.Warn("scoring unavailable, completing with no matches", "entry_id", entry.ID)
			w.complete(ctx, entry, nil)
			return
		}
		w.fail(ctx, entry, "generate matches: "+err.Error())
		return
	}
	observability.MatchesCreated.WithLabelValues("image").Add(float64(len(matches)))
	w.complete(ctx, entry, matches)
}

func (w *Worker) generateAttributes(ctx context.Context, entry *models.QueueEntry, img *models.ProbeImage) {
	matches, err := w.gen.GenerateForAttributes(ctx, img)
	if err != nil {
		w.fail(ctx, entry, "generate attribute matches: "+err.Error())
		return
	}
	observability.MatchesCreated.WithLabelValues("attribute").Add(float64(len(matches)))
	w.complete(ctx, entry, matches)
}

func (w *Worker) extract(ctx context.Context, img *models.ProbeImage) ([]float32, error) {
	if img.StorageKey == "" {
		return nil, errors.New("probe image has no stored bytes")
	}
	data, err := w.objects.Get(ctx, img.StorageKey)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	features, err := w.scorer.ExtractFeatures(ctx, data)
	observability.ScoringDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	return features, err
}

func (w *Worker) complete(ctx context.Context, entry *models.QueueEntry, matches []models.Match) {
	if err := w.store.MarkCompleted(ctx, entry.ID); err != nil {
		slog.Error("mark completed", "entry_id", entry.ID, "error", err)
		observability.EntriesProcessed.WithLabelValues("conflict").Inc()
		return
	}
	observability.EntriesProcessed.WithLabelValues("completed").Inc()

	for i := range matches {
		m := &matches[i]
		w.emitter.Emit(ctx, notify.Event{
			Type:         notify.EventMatchCreated,
			PersonID:     m.CandidatePersonID,
			MatchID:      &m.ID,
			ProbeImageID: &m.ProbeImageID,
			Confidence:   m.Confidence,
		})
	}
	slog.Info("entry completed", "entry_id", entry.ID, "image_id", entry.ImageID, "matches", len(matches))
}

func (w *Worker) fail(ctx context.Context, entry *models.QueueEntry, reason string) {
	if err := w.store.MarkFailed(ctx, entry.ID, reason); err != nil {
		slog.Error("mark failed", "entry_id", entry.ID, "error", err)
		observability.EntriesProcessed.WithLabelValues("conflict").Inc()
		return
	}
	observability.EntriesProcessed.WithLabelValues("failed").Inc()
	slog.Warn("entry failed", "entry_id", entry.ID, "image_id", entry.ImageID, "reason", reason)
}

// reapLoop periodically requeues entries stuck in processing longer than
// the processing timeout.
func (w *Worker) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-w.cfg.ProcessingTimeout)
			n, err := w.store.ReapStale(ctx, cutoff)
			if err != nil {
				slog.Error("reap stale entries", "error", err)
				continue
			}
			if n > 0 {
				observability.EntriesReaped.Add(float64(n))
				slog.Warn("reaped stale entries", "count", n)
			}
		}
	}
}

func (w *Worker) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := w.store.QueueStats(ctx)
			if err != nil {
				continue
			}
			observability.QueueDepth.WithLabelValues("queued").Set(float64(stats.Queued))
			observability.QueueDepth.WithLabelValues("processing").Set(float64(stats.Processing))
		}
	}
}

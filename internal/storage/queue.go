package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/your-org/sura/internal/models"
)

// priorityOrder ranks queue priorities for dequeue; urgent first, FIFO
// within a band. This ordering is load-bearing: urgent cases must never be
// starved by a backlog of normal-priority uploads.
const priorityOrder = `CASE priority
	WHEN 'urgent' THEN 0
	WHEN 'high'   THEN 1
	WHEN 'normal' THEN 2
	ELSE 3
END`

const entryColumns = `id, image_id, priority, status, retries, max_retries, started_at, completed_at, last_error, created_at`

func scanEntry(row pgx.Row) (*models.QueueEntry, error) {
	e := &models.QueueEntry{}
	err := row.Scan(&e.ID, &e.ImageID, &e.Priority, &e.Status, &e.Retries, &e.MaxRetries,
		&e.StartedAt, &e.CompletedAt, &e.LastError, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *PostgresStore) Enqueue(ctx context.Context, imageID uuid.UUID, priority models.Priority, maxRetries int) (*models.QueueEntry, error) {
	if _, ok := models.ParsePriority(string(priority)); !ok {
		priority = models.PriorityNormal
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := scanEntry(tx.QueryRow(ctx,
		`INSERT INTO queue_entries (id, image_id, priority, status, max_retries)
		 VALUES ($1, $2, $3, 'queued', $4) RETURNING `+entryColumns,
		uuid.New(), imageID, priority, maxRetries))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// Partial unique index on active entries: the image already
			// has a non-terminal entry.
			return nil, ErrDuplicateEnqueue
		}
		return nil, fmt.Errorf("enqueue image %s: %w", imageID, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE probe_images SET status = 'queued', updated_at = now() WHERE id = $1 AND status != 'purged'`, imageID); err != nil {
		return nil, fmt.Errorf("mark image queued: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit enqueue: %w", err)
	}
	return entry, nil
}

// DequeueNext atomically claims the highest-priority queued entry. The
// claim (queued -> processing) and the selection are one statement, with
// SKIP LOCKED so concurrent workers never block on or double-claim the same
// row. Returns ErrNotFound when the queue is drained.
func (s *PostgresStore) DequeueNext(ctx context.Context) (*models.QueueEntry, error) {
	entry, err := scanEntry(s.pool.QueryRow(ctx,
		`UPDATE queue_entries SET status = 'processing', started_at = now()
		 WHERE id = (
		     SELECT id FROM queue_entries
		     WHERE status = 'queued'
		     ORDER BY `+priorityOrder+`, created_at
		     FOR UPDATE SKIP LOCKED
		     LIMIT 1
		 )
		 RETURNING `+entryColumns))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("dequeue next: %w", err)
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE probe_images SET status = 'processing', updated_at = now() WHERE id = $1 AND status != 'purged'`,
		entry.ImageID); err != nil {
		return nil, fmt.Errorf("mark image processing: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error) {
	entry, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete: %w", err)
	}
	defer tx.Rollback(ctx)

	var imageID uuid.UUID
	err = tx.QueryRow(ctx,
		`UPDATE queue_entries SET status = 'completed', completed_at = now()
		 WHERE id = $1 AND status = 'processing' RETURNING image_id`, id).Scan(&imageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.entryConflict(ctx, id)
		}
		return fmt.Errorf("complete entry: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE probe_images SET status = 'completed', updated_at = now() WHERE id = $1 AND status != 'purged'`,
		imageID); err != nil {
		return fmt.Errorf("mark image completed: %w", err)
	}
	return tx.Commit(ctx)
}

// MarkFailed returns the entry to queued with an incremented retry count
// while retries remain; otherwise it finalizes the entry as failed and fails
// the owning image. Retries never exceed max_retries.
func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin fail: %w", err)
	}
	defer tx.Rollback(ctx)

	var imageID uuid.UUID
	var status models.EntryStatus
	err = tx.QueryRow(ctx,
		`UPDATE queue_entries SET
		     status = CASE WHEN retries < max_retries THEN 'queued' ELSE 'failed' END,
		     retries = LEAST(retries + 1, max_retries),
		     completed_at = CASE WHEN retries < max_retries THEN NULL ELSE now() END,
		     started_at = NULL,
		     last_error = $2
		 WHERE id = $1 AND status = 'processing'
		 RETURNING image_id, status`, id, reason).Scan(&imageID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.entryConflict(ctx, id)
		}
		return fmt.Errorf("fail entry: %w", err)
	}

	imageStatus := models.ImageStatusQueued
	if status == models.EntryStatusFailed {
		imageStatus = models.ImageStatusFailed
	}
	if _, err := tx.Exec(ctx,
		`UPDATE probe_images SET status = $1, updated_at = now() WHERE id = $2 AND status != 'purged'`,
		imageStatus, imageID); err != nil {
		return fmt.Errorf("mark image %s: %w", imageStatus, err)
	}
	return tx.Commit(ctx)
}

// entryConflict classifies a zero-row transition: missing entry vs terminal
// entry.
func (s *PostgresStore) entryConflict(ctx context.Context, id uuid.UUID) error {
	var status models.EntryStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM queue_entries WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("check entry: %w", err)
	}
	return fmt.Errorf("%w: entry is %s", ErrConflict, status)
}

// ReapStale requeues entries stuck in processing since before cutoff so a
// crashed worker cannot stall a case indefinitely. Entries out of retries
// are finalized as failed.
func (s *PostgresStore) ReapStale(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE queue_entries SET
		     status = CASE WHEN retries < max_retries THEN 'queued' ELSE 'failed' END,
		     retries = LEAST(retries + 1, max_retries),
		     completed_at = CASE WHEN retries < max_retries THEN NULL ELSE now() END,
		     started_at = NULL,
		     last_error = 'processing timed out'
		 WHERE status = 'processing' AND started_at < $1
		 RETURNING image_id, status`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap stale entries: %w", err)
	}
	defer rows.Close()

	type reaped struct {
		imageID uuid.UUID
		status  models.EntryStatus
	}
	var touched []reaped
	for rows.Next() {
		var r reaped
		if err := rows.Scan(&r.imageID, &r.status); err != nil {
			return 0, fmt.Errorf("scan reaped entry: %w", err)
		}
		touched = append(touched, r)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, r := range touched {
		imageStatus := models.ImageStatusQueued
		if r.status == models.EntryStatusFailed {
			imageStatus = models.ImageStatusFailed
		}
		if _, err := s.pool.Exec(ctx,
			`UPDATE probe_images SET status = $1, updated_at = now() WHERE id = $2 AND status != 'purged'`,
			imageStatus, r.imageID); err != nil {
			return len(touched), fmt.Errorf("mark reaped image: %w", err)
		}
	}
	return len(touched), nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, status *models.EntryStatus, limit int) ([]models.QueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + entryColumns + ` FROM queue_entries`
	args := []interface{}{}
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, *status)
	}
	query += fmt.Sprintf(` ORDER BY %s, created_at LIMIT %d`, priorityOrder, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

func (s *PostgresStore) QueueStats(ctx context.Context) (models.QueueStats, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM queue_entries GROUP BY status`)
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats models.QueueStats
	for rows.Next() {
		var status models.EntryStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return models.QueueStats{}, fmt.Errorf("scan queue stats: %w", err)
		}
		switch status {
		case models.EntryStatusQueued:
			stats.Queued = count
		case models.EntryStatusProcessing:
			stats.Processing = count
		case models.EntryStatusCompleted:
			stats.Completed = count
		case models.EntryStatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

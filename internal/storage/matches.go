package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/your-org/sura/internal/models"
	"github.com/your-org/sura/internal/policy"
)

const matchColumns = `id, probe_image_id, candidate_person_id, confidence, distance, source, status, requires_human_review, reviewed_by, reviewed_at, review_notes, created_at`

func scanMatch(row pgx.Row) (*models.Match, error) {
	m := &models.Match{}
	err := row.Scan(&m.ID, &m.ProbeImageID, &m.CandidatePersonID, &m.Confidence, &m.Distance,
		&m.Source, &m.Status, &m.RequiresReview, &m.ReviewedBy, &m.ReviewedAt, &m.ReviewNotes, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) CreateMatch(ctx context.Context, m *models.Match) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = models.MatchStatusPendingReview
	}
	if m.Source == "" {
		m.Source = models.MatchSourceInternal
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO matches (id, probe_image_id, candidate_person_id, confidence, distance, source, status, requires_human_review)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`,
		m.ID, m.ProbeImageID, m.CandidatePersonID, m.Confidence, m.Distance, m.Source, m.Status, m.RequiresReview,
	).Scan(&m.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("%w: match references missing probe or person: %v", ErrIntegrity, pgErr.Detail)
		}
		return fmt.Errorf("create match: %w", err)
	}
	return nil
}

// matchScope restricts matches to those on cases the actor reported. The
// join happens in the query; restricted actors never see other actors'
// matches, counts included.
func matchScope(scope policy.Scope, argIdx int) (string, []interface{}) {
	if scope.All {
		return "", nil
	}
	clause := fmt.Sprintf(
		` AND (p.reported_by = $%d OR EXISTS (
		     SELECT 1 FROM probe_images pi JOIN persons pp ON pp.id = pi.person_id
		     WHERE pi.id = m.probe_image_id AND pp.reported_by = $%d))`, argIdx, argIdx)
	return clause, []interface{}{scope.ReporterID}
}

func (s *PostgresStore) GetMatch(ctx context.Context, scope policy.Scope, id uuid.UUID) (*models.Match, error) {
	query := `SELECT m.id, m.probe_image_id, m.candidate_person_id, m.confidence, m.distance, m.source, m.status,
	                 m.requires_human_review, m.reviewed_by, m.reviewed_at, m.review_notes, m.created_at
	          FROM matches m JOIN persons p ON p.id = m.candidate_person_id
	          WHERE m.id = $1`
	args := []interface{}{id}
	clause, extra := matchScope(scope, 2)
	query += clause
	args = append(args, extra...)

	m, err := scanMatch(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get match: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListMatches(ctx context.Context, scope policy.Scope, personID *uuid.UUID, status *models.MatchStatus, limit, offset int) ([]models.Match, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	where := `WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	clause, extra := matchScope(scope, argIdx)
	where += clause
	args = append(args, extra...)
	argIdx += len(extra)

	if personID != nil {
		where += fmt.Sprintf(" AND m.candidate_person_id = $%d", argIdx)
		args = append(args, *personID)
		argIdx++
	}
	if status != nil {
		where += fmt.Sprintf(" AND m.status = $%d", argIdx)
		args = append(args, *status)
		argIdx++
	}

	base := `FROM matches m JOIN persons p ON p.id = m.candidate_person_id ` + where

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) "+base, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count matches: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT m.id, m.probe_image_id, m.candidate_person_id, m.confidence, m.distance, m.source, m.status,
		        m.requires_human_review, m.reviewed_by, m.reviewed_at, m.review_notes, m.created_at
		 %s ORDER BY m.confidence DESC, m.created_at DESC LIMIT $%d OFFSET $%d`, base, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, *m)
	}
	return matches, total, nil
}

// FinalizeMatch performs the single permitted transition out of
// pending_review as a compare-and-set. A second finalization attempt finds
// zero rows and reports the conflict with no mutation.
func (s *PostgresStore) FinalizeMatch(ctx context.Context, id uuid.UUID, status models.MatchStatus, reviewerID uuid.UUID, notes string) (*models.Match, error) {
	if status != models.MatchStatusVerified && status != models.MatchStatusFalsePositive {
		return nil, fmt.Errorf("%w: %q is not a terminal match status", ErrConflict, status)
	}

	m, err := scanMatch(s.pool.QueryRow(ctx,
		`UPDATE matches SET status = $2, reviewed_by = $3, reviewed_at = now(), review_notes = $4,
		        requires_human_review = false
		 WHERE id = $1 AND status = 'pending_review'
		 RETURNING `+matchColumns, id, status, reviewerID, notes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var current models.MatchStatus
			err := s.pool.QueryRow(ctx, `SELECT status FROM matches WHERE id = $1`, id).Scan(&current)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return nil, ErrNotFound
				}
				return nil, fmt.Errorf("check match: %w", err)
			}
			return nil, fmt.Errorf("%w: match already %s", ErrConflict, current)
		}
		return nil, fmt.Errorf("finalize match: %w", err)
	}
	return m, nil
}

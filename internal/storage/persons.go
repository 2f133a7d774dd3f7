package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/sura/internal/models"
	"github.com/your-org/sura/internal/policy"
)

func (s *PostgresStore) CreatePerson(ctx context.Context, p *models.Person) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = models.CaseStatusReported
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO persons (id, full_name, age, gender, last_seen_location, description, status, reported_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at, updated_at`,
		p.ID, p.FullName, p.Age, p.Gender, p.LastSeenLocation, p.Description, p.Status, p.ReportedBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create person: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPerson(ctx context.Context, scope policy.Scope, id uuid.UUID) (*models.Person, error) {
	query := `SELECT id, full_name, age, gender, last_seen_location, description, status, reported_by, resolved_at, created_at, updated_at
		 FROM persons WHERE id = $1`
	args := []interface{}{id}
	clause, extra := scopeClause(scope, "reported_by", 2)
	query += clause
	args = append(args, extra...)

	p := &models.Person{}
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&p.ID, &p.FullName, &p.Age, &p.Gender, &p.LastSeenLocation, &p.Description,
		&p.Status, &p.ReportedBy, &p.ResolvedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPersons(ctx context.Context, scope policy.Scope, status *models.CaseStatus, limit, offset int) ([]models.Person, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	where := "WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	clause, extra := scopeClause(scope, "reported_by", argIdx)
	where += clause
	args = append(args, extra...)
	argIdx += len(extra)

	if status != nil {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *status)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM persons "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count persons: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, full_name, age, gender, last_seen_location, description, status, reported_by, resolved_at, created_at, updated_at
		 FROM persons %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		var p models.Person
		if err := rows.Scan(&p.ID, &p.FullName, &p.Age, &p.Gender, &p.LastSeenLocation, &p.Description,
			&p.Status, &p.ReportedBy, &p.ResolvedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, p)
	}
	return persons, total, nil
}

// UpdatePersonStatus advances the case lifecycle. The forward-only rule is
// enforced in the update itself so a racing writer cannot move a case
// backward.
func (s *PostgresStore) UpdatePersonStatus(ctx context.Context, id uuid.UUID, status models.CaseStatus) error {
	if !models.ValidCaseStatus(status) {
		return fmt.Errorf("%w: unknown case status %q", ErrConflict, status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE persons SET status = $1,
		        resolved_at = CASE WHEN $1 = 'closed' THEN now() ELSE resolved_at END,
		        updated_at = now()
		 WHERE id = $2
		   AND array_position(ARRAY['reported','searching','found','closed'], $1)
		     > array_position(ARRAY['reported','searching','found','closed'], status)`,
		status, id)
	if err != nil {
		return fmt.Errorf("update person status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing record from an invalid transition.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM persons WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check person: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return fmt.Errorf("%w: case status cannot move backward to %q", ErrConflict, status)
	}
	return nil
}

func (s *PostgresStore) ListOpenPersons(ctx context.Context, excludePersonID uuid.UUID) ([]models.Person, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, full_name, age, gender, last_seen_location, description, status, reported_by, resolved_at, created_at, updated_at
		 FROM persons WHERE status != 'closed' AND id != $1 ORDER BY created_at DESC`,
		excludePersonID)
	if err != nil {
		return nil, fmt.Errorf("list open persons: %w", err)
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		var p models.Person
		if err := rows.Scan(&p.ID, &p.FullName, &p.Age, &p.Gender, &p.LastSeenLocation, &p.Description,
			&p.Status, &p.ReportedBy, &p.ResolvedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, p)
	}
	return persons, nil
}

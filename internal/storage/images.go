package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/sura/internal/models"
	"github.com/your-org/sura/internal/policy"
)

const uniqueViolation = "23505"

func (s *PostgresStore) CreateImage(ctx context.Context, img *models.ProbeImage) error {
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	if img.Status == "" {
		img.Status = models.ImageStatusUploaded
	}
	if img.PriorityHint == "" {
		img.PriorityHint = models.PriorityNormal
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO probe_images (id, person_id, storage_key, image_hash, status, is_primary, priority_hint)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at, updated_at`,
		img.ID, img.PersonID, img.StorageKey, img.ImageHash, img.Status, img.IsPrimary, img.PriorityHint,
	).Scan(&img.CreatedAt, &img.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateImage
		}
		return fmt.Errorf("create image: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetImage(ctx context.Context, id uuid.UUID) (*models.ProbeImage, error) {
	img := &models.ProbeImage{}
	var vec *pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT id, person_id, storage_key, image_hash, features, status, is_primary, priority_hint, processed_at, created_at, updated_at
		 FROM probe_images WHERE id = $1`, id,
	).Scan(&img.ID, &img.PersonID, &img.StorageKey, &img.ImageHash, &vec,
		&img.Status, &img.IsPrimary, &img.PriorityHint, &img.ProcessedAt, &img.CreatedAt, &img.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get image: %w", err)
	}
	if vec != nil {
		img.Features = vec.Slice()
	}
	return img, nil
}

func (s *PostgresStore) ListImagesByPerson(ctx context.Context, scope policy.Scope, personID uuid.UUID) ([]models.ProbeImage, error) {
	query := `SELECT i.id, i.person_id, i.storage_key, i.image_hash, i.status, i.is_primary, i.priority_hint, i.processed_at, i.created_at, i.updated_at
		 FROM probe_images i JOIN persons p ON p.id = i.person_id
		 WHERE i.person_id = $1`
	args := []interface{}{personID}
	clause, extra := scopeClause(scope, "p.reported_by", 2)
	query += clause + " ORDER BY i.created_at DESC"
	args = append(args, extra...)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []models.ProbeImage
	for rows.Next() {
		var img models.ProbeImage
		if err := rows.Scan(&img.ID, &img.PersonID, &img.StorageKey, &img.ImageHash,
			&img.Status, &img.IsPrimary, &img.PriorityHint, &img.ProcessedAt, &img.CreatedAt, &img.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, nil
}

func (s *PostgresStore) SetImageFeatures(ctx context.Context, id uuid.UUID, features []float32) error {
	vec := pgvector.NewVector(features)
	tag, err := s.pool.Exec(ctx,
		`UPDATE probe_images SET features = $1, processed_at = now(), updated_at = now() WHERE id = $2 AND status != 'purged'`,
		vec, id)
	if err != nil {
		return fmt.Errorf("set image features: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetImageStatus(ctx context.Context, id uuid.UUID, status models.ImageStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE probe_images SET status = $1, updated_at = now() WHERE id = $2 AND status != 'purged'`,
		status, id)
	if err != nil {
		return fmt.Errorf("set image status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCandidateImages returns comparison candidates for a probe: images with
// extracted features, not purged, on someone else's case. With probe
// features present the vector index bounds the set to the nearest `limit`
// before exact scoring; without them the newest `limit` images are used.
func (s *PostgresStore) ListCandidateImages(ctx context.Context, excludePersonID uuid.UUID, probeFeatures []float32, limit int) ([]models.ProbeImage, error) {
	if limit <= 0 {
		limit = 200
	}

	var rows pgx.Rows
	var err error
	if len(probeFeatures) > 0 {
		vec := pgvector.NewVector(probeFeatures)
		rows, err = s.pool.Query(ctx,
			`SELECT id, person_id, storage_key, image_hash, features, status, is_primary, priority_hint, processed_at, created_at, updated_at
			 FROM probe_images
			 WHERE features IS NOT NULL AND status != 'purged' AND person_id != $1
			 ORDER BY features <=> $2
			 LIMIT $3`,
			excludePersonID, vec, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, person_id, storage_key, image_hash, features, status, is_primary, priority_hint, processed_at, created_at, updated_at
			 FROM probe_images
			 WHERE features IS NOT NULL AND status != 'purged' AND person_id != $1
			 ORDER BY created_at DESC
			 LIMIT $2`,
			excludePersonID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list candidate images: %w", err)
	}
	defer rows.Close()

	var images []models.ProbeImage
	for rows.Next() {
		var img models.ProbeImage
		var vec *pgvector.Vector
		if err := rows.Scan(&img.ID, &img.PersonID, &img.StorageKey, &img.ImageHash, &vec,
			&img.Status, &img.IsPrimary, &img.PriorityHint, &img.ProcessedAt, &img.CreatedAt, &img.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan candidate image: %w", err)
		}
		if vec != nil {
			img.Features = vec.Slice()
		}
		images = append(images, img)
	}
	return images, nil
}

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PurgeClosedCases clears feature vectors and storage references on images
// of cases closed before cutoff and marks the images purged. The rows stay
// for audit and match rows keep resolving. Returns the object-store keys the
// caller must delete.
func (s *PostgresStore) PurgeClosedCases(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.purgeWhere(ctx,
		`person_id IN (SELECT id FROM persons WHERE status = 'closed' AND resolved_at < $1)`,
		cutoff)
}

// CountPurgeable reports how many closed cases and unpurged images fall
// inside the retention cutoff, for dry runs.
func (s *PostgresStore) CountPurgeable(ctx context.Context, cutoff time.Time) (cases, images int, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT p.id),
		        COUNT(pi.id) FILTER (WHERE pi.status != 'purged')
		 FROM persons p
		 LEFT JOIN probe_images pi ON pi.person_id = p.id
		 WHERE p.status = 'closed' AND p.resolved_at < $1`, cutoff).Scan(&cases, &images)
	if err != nil {
		return 0, 0, fmt.Errorf("count purgeable: %w", err)
	}
	return cases, images, nil
}

// PurgeCase purges one case's images regardless of age.
func (s *PostgresStore) PurgeCase(ctx context.Context, personID uuid.UUID) ([]string, error) {
	return s.purgeWhere(ctx, `person_id = $1`, personID)
}

// purgeWhere collects storage keys then clears the rows in one transaction.
// Keys are read before the update: RETURNING on the UPDATE would only see
// the already-cleared column.
func (s *PostgresStore) purgeWhere(ctx context.Context, cond string, arg interface{}) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT storage_key FROM probe_images
		 WHERE status != 'purged' AND storage_key != '' AND `+cond+`
		 FOR UPDATE`, arg)
	if err != nil {
		return nil, fmt.Errorf("select purge keys: %w", err)
	}
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan purge key: %w", err)
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE probe_images SET features = NULL, storage_key = '', status = 'purged', updated_at = now()
		 WHERE status != 'purged' AND `+cond, arg); err != nil {
		return nil, fmt.Errorf("purge images: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit purge: %w", err)
	}
	return keys, nil
}

package storage

import (
	"context"
	"fmt"
)

// schema is applied at startup. Statements are idempotent; there is no
// separate migrations tool for this service yet.
const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS actors (
    id                  UUID PRIMARY KEY,
    role                TEXT NOT NULL,
    verification_status TEXT NOT NULL DEFAULT 'pending',
    organization        TEXT NOT NULL DEFAULT '',
    badge_number        TEXT NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS persons (
    id                 UUID PRIMARY KEY,
    full_name          TEXT NOT NULL,
    age                INT NOT NULL DEFAULT 0,
    gender             TEXT NOT NULL DEFAULT '',
    last_seen_location TEXT NOT NULL DEFAULT '',
    description        TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'reported',
    reported_by        UUID NOT NULL REFERENCES actors(id),
    resolved_at        TIMESTAMPTZ,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_persons_reported_by ON persons (reported_by);
CREATE INDEX IF NOT EXISTS idx_persons_status ON persons (status);

CREATE TABLE IF NOT EXISTS probe_images (
    id            UUID PRIMARY KEY,
    person_id     UUID NOT NULL REFERENCES persons(id),
    storage_key   TEXT NOT NULL DEFAULT '',
    image_hash    TEXT NOT NULL UNIQUE,
    features      vector(512),
    status        TEXT NOT NULL DEFAULT 'uploaded',
    is_primary    BOOLEAN NOT NULL DEFAULT false,
    priority_hint TEXT NOT NULL DEFAULT 'normal',
    processed_at  TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_probe_images_person ON probe_images (person_id);
CREATE INDEX IF NOT EXISTS idx_probe_images_status ON probe_images (status);

CREATE TABLE IF NOT EXISTS queue_entries (
    id           UUID PRIMARY KEY,
    image_id     UUID NOT NULL REFERENCES probe_images(id),
    priority     TEXT NOT NULL DEFAULT 'normal',
    status       TEXT NOT NULL DEFAULT 'queued',
    retries      INT NOT NULL DEFAULT 0,
    max_retries  INT NOT NULL DEFAULT 3,
    started_at   TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    last_error   TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_active_image
    ON queue_entries (image_id) WHERE status IN ('queued', 'processing');
CREATE INDEX IF NOT EXISTS idx_queue_status_priority ON queue_entries (status, priority, created_at);

CREATE TABLE IF NOT EXISTS matches (
    id                    UUID PRIMARY KEY,
    probe_image_id        UUID NOT NULL REFERENCES probe_images(id),
    candidate_person_id   UUID NOT NULL REFERENCES persons(id),
    confidence            DOUBLE PRECISION NOT NULL,
    distance              DOUBLE PRECISION NOT NULL,
    source                TEXT NOT NULL DEFAULT 'internal',
    status                TEXT NOT NULL DEFAULT 'pending_review',
    requires_human_review BOOLEAN NOT NULL DEFAULT false,
    reviewed_by           UUID REFERENCES actors(id),
    reviewed_at           TIMESTAMPTZ,
    review_notes          TEXT NOT NULL DEFAULT '',
    created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_matches_probe ON matches (probe_image_id);
CREATE INDEX IF NOT EXISTS idx_matches_candidate_status ON matches (candidate_person_id, status);
`

// EnsureSchema creates tables and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

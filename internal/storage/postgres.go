package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/sura/internal/config"
	"github.com/your-org/sura/internal/models"
	"github.com/your-org/sura/internal/policy"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// scopeClause compiles a visibility scope into a WHERE fragment against the
// given reporter column. Scoping happens in the query itself so restricted
// actors cannot learn counts of records they may not see.
func scopeClause(scope policy.Scope, column string, argIdx int) (string, []interface{}) {
	if scope.All {
		return "", nil
	}
	return fmt.Sprintf(" AND %s = $%d", column, argIdx), []interface{}{scope.ReporterID}
}

// --- Actors ---

func (s *PostgresStore) CreateActor(ctx context.Context, a *models.Actor) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO actors (id, role, verification_status, organization, badge_number)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		a.ID, a.Role, a.Verification, a.Organization, a.BadgeNumber,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create actor: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetActor(ctx context.Context, id uuid.UUID) (*models.Actor, error) {
	a := &models.Actor{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, role, verification_status, organization, badge_number, created_at
		 FROM actors WHERE id = $1`, id,
	).Scan(&a.ID, &a.Role, &a.Verification, &a.Organization, &a.BadgeNumber, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get actor: %w", err)
	}
	return a, nil
}

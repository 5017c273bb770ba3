package actors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/streampay/internal/model"
)

// ErrNotFound is returned when no actor matches the id.
var ErrNotFound = errors.New("actor not found")

// Repository persists actors and their policy.
type Repository interface {
	Create(ctx context.Context, actor model.Actor) error
	Get(ctx context.Context, id string) (model.Actor, error)
	ListByAccount(ctx context.Context, accountID string) ([]model.Actor, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed actor repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new actor.
func (r *PostgresRepository) Create(ctx context.Context, actor model.Actor) error {
	limits, err := json.Marshal(actor.Limits)
	if err != nil {
		return fmt.Errorf("encode limits: %w", err)
	}
	vendors := actor.ApprovedVendors
	if vendors == nil {
		vendors = []string{}
	}
	_, err = r.db.Exec(ctx, `INSERT INTO actors
        (id, tenant_id, kind, account_id, name, kya_tier, limits, approved_vendors, can_manage_streams, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		actor.ID, actor.TenantID, actor.Kind, actor.AccountID, actor.Name, actor.KYATier,
		limits, vendors, actor.CanManageStreams, actor.CreatedAt.UTC())
	return err
}

const actorColumns = `id, tenant_id, kind, account_id, name, kya_tier, limits, approved_vendors, can_manage_streams, created_at`

// Get fetches an actor by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (model.Actor, error) {
	actor, err := scanActor(r.db.QueryRow(ctx, `SELECT `+actorColumns+` FROM actors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Actor{}, ErrNotFound
	}
	return actor, err
}

// ListByAccount returns the actors bound to an account, oldest first.
func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string) ([]model.Actor, error) {
	rows, err := r.db.Query(ctx, `SELECT `+actorColumns+` FROM actors WHERE account_id = $1 ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Actor
	for rows.Next() {
		actor, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, actor)
	}
	return out, rows.Err()
}

func scanActor(row pgx.Row) (model.Actor, error) {
	var (
		actor  model.Actor
		limits []byte
	)
	if err := row.Scan(&actor.ID, &actor.TenantID, &actor.Kind, &actor.AccountID, &actor.Name, &actor.KYATier,
		&limits, &actor.ApprovedVendors, &actor.CanManageStreams, &actor.CreatedAt); err != nil {
		return model.Actor{}, err
	}
	if err := json.Unmarshal(limits, &actor.Limits); err != nil {
		return model.Actor{}, fmt.Errorf("decode limits: %w", err)
	}
	actor.CreatedAt = actor.CreatedAt.UTC()
	return actor, nil
}

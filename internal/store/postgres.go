package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/streampay/internal/model"
)

const uniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists the ledger in PostgreSQL. Account rows are locked
// with SELECT ... FOR UPDATE in canonical order for the lifetime of Atomic.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed store.
func NewPostgres(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// CreateAccount inserts a new account row.
func (s *PostgresStore) CreateAccount(ctx context.Context, a model.Account) error {
	_, err := s.db.Exec(ctx, `INSERT INTO accounts
        (id, tenant_id, owner_id, tier, currency, status, frozen, total, available, in_streams_total, in_streams_buffer, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.TenantID, a.OwnerID, a.Tier, a.Currency, a.Status, a.Frozen,
		a.Total, a.Available, a.InStreamsTotal, a.InStreamsBuffer, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return ErrAccountExists
	}
	return err
}

func (s *PostgresStore) Account(ctx context.Context, id string) (model.Account, error) {
	return queryAccount(ctx, s.db, id, false)
}

func (s *PostgresStore) Stream(ctx context.Context, id string) (model.Stream, error) {
	return queryStream(ctx, s.db, id)
}

func (s *PostgresStore) LastEntry(ctx context.Context, accountID string) (model.LedgerEntry, bool, error) {
	return queryLastEntry(ctx, s.db, accountID)
}

func (s *PostgresStore) TransferByClientTxID(ctx context.Context, kind, clientTxID string) (model.Transfer, error) {
	return queryTransferByClientTxID(ctx, s.db, kind, clientTxID)
}

// Entries returns every ledger entry for the account in sequence order.
func (s *PostgresStore) Entries(ctx context.Context, accountID string) ([]model.LedgerEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE account_id = $1 ORDER BY sequence`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StreamEvents returns the audit trail of a stream in creation order.
func (s *PostgresStore) StreamEvents(ctx context.Context, streamID string) ([]model.StreamEvent, error) {
	rows, err := s.db.Query(ctx, `SELECT id, stream_id, tenant_id, type, actor_id, actor_type, snapshot, created_at
        FROM stream_events WHERE stream_id = $1 ORDER BY created_at, id`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.StreamEvent
	for rows.Next() {
		var (
			ev       model.StreamEvent
			evType   string
			snapshot []byte
		)
		if err := rows.Scan(&ev.ID, &ev.StreamID, &ev.TenantID, &evType, &ev.ActorID, &ev.ActorType, &snapshot, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Type = model.StreamEventType(evType)
		if err := json.Unmarshal(snapshot, &ev.Snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		ev.CreatedAt = ev.CreatedAt.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListStreams returns streams matching the filter ordered by start time.
func (s *PostgresStore) ListStreams(ctx context.Context, filter StreamFilter) ([]model.Stream, error) {
	return queryStreams(ctx, s.db, filter)
}

// SenderOutflow counts the sender's open streams and sums their monthly flow.
func (s *PostgresStore) SenderOutflow(ctx context.Context, senderID string) (Outflow, error) {
	var out Outflow
	err := s.db.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(flow_rate_per_month), 0)
        FROM streams WHERE sender_id = $1 AND status <> $2`, senderID, string(model.StreamCancelled)).
		Scan(&out.ActiveStreams, &out.TotalPerMonth)
	return out, err
}

// Atomic opens a transaction, locks the account rows in canonical order and
// commits when fn succeeds.
func (s *PostgresStore) Atomic(ctx context.Context, accountIDs []string, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	ordered := LockOrder(accountIDs)
	locked := make(map[string]struct{}, len(ordered))
	for _, id := range ordered {
		if _, err := queryAccount(ctx, tx, id, true); err != nil {
			return fmt.Errorf("account %s: %w", id, err)
		}
		locked[id] = struct{}{}
	}

	if err := fn(&postgresTx{tx: tx, locked: locked}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTransaction
		}
		return err
	}
	return nil
}

type postgresTx struct {
	tx     pgx.Tx
	locked map[string]struct{}
}

func (t *postgresTx) isLocked(id string) bool {
	_, ok := t.locked[id]
	return ok
}

func (t *postgresTx) Account(ctx context.Context, id string) (model.Account, error) {
	return queryAccount(ctx, t.tx, id, false)
}

func (t *postgresTx) Stream(ctx context.Context, id string) (model.Stream, error) {
	return queryStream(ctx, t.tx, id)
}

func (t *postgresTx) LastEntry(ctx context.Context, accountID string) (model.LedgerEntry, bool, error) {
	return queryLastEntry(ctx, t.tx, accountID)
}

func (t *postgresTx) TransferByClientTxID(ctx context.Context, kind, clientTxID string) (model.Transfer, error) {
	return queryTransferByClientTxID(ctx, t.tx, kind, clientTxID)
}

// ListStreams sees rows written earlier in the same transaction.
func (t *postgresTx) ListStreams(ctx context.Context, filter StreamFilter) ([]model.Stream, error) {
	return queryStreams(ctx, t.tx, filter)
}

func (t *postgresTx) PutAccount(ctx context.Context, a model.Account) error {
	if !t.isLocked(a.ID) {
		return ErrNotLocked
	}
	_, err := t.tx.Exec(ctx, `UPDATE accounts SET status = $2, frozen = $3, total = $4, available = $5,
        in_streams_total = $6, in_streams_buffer = $7, updated_at = $8 WHERE id = $1`,
		a.ID, a.Status, a.Frozen, a.Total, a.Available, a.InStreamsTotal, a.InStreamsBuffer, a.UpdatedAt.UTC())
	return err
}

func (t *postgresTx) AppendEntry(ctx context.Context, e model.LedgerEntry) error {
	if !t.isLocked(e.AccountID) {
		return ErrNotLocked
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO ledger_entries
        (id, account_id, sequence, type, amount, held_delta, buffer_delta, balance_after, available_after, reference, description, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.AccountID, e.Sequence, string(e.Type), e.Amount, e.HeldDelta, e.BufferDelta,
		e.BalanceAfter, e.AvailableAfter, e.Reference, e.Description, e.CreatedAt.UTC())
	return err
}

func (t *postgresTx) PutStream(ctx context.Context, st model.Stream) error {
	if !t.isLocked(st.SenderID) || !t.isLocked(st.ReceiverID) {
		return ErrNotLocked
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO streams (`+streamColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
        ON CONFLICT (id) DO UPDATE SET
            funding_wrapped = EXCLUDED.funding_wrapped,
            funding_buffer = EXCLUDED.funding_buffer,
            total_streamed = EXCLUDED.total_streamed,
            total_withdrawn = EXCLUDED.total_withdrawn,
            total_paused_seconds = EXCLUDED.total_paused_seconds,
            status = EXCLUDED.status,
            paused_at = EXCLUDED.paused_at,
            resumed_at = EXCLUDED.resumed_at,
            cancelled_at = EXCLUDED.cancelled_at,
            health = EXCLUDED.health,
            runway_seconds = EXCLUDED.runway_seconds,
            health_checked_at = EXCLUDED.health_checked_at,
            updated_at = EXCLUDED.updated_at`,
		st.ID, st.TenantID, st.SenderID, st.ReceiverID, st.ManagedBy, st.Description,
		st.FlowRatePerMonth, st.FlowRatePerSecond, st.Funding.Wrapped, st.Funding.Buffer,
		st.TotalStreamed, st.TotalWithdrawn, st.TotalPausedSeconds, string(st.Status),
		st.StartedAt.UTC(), utcPtr(st.PausedAt), utcPtr(st.ResumedAt), utcPtr(st.CancelledAt),
		string(st.Health), st.RunwaySeconds, st.HealthCheckedAt.UTC(), st.CreatedBy, st.UpdatedAt.UTC())
	return err
}

func (t *postgresTx) AppendStreamEvent(ctx context.Context, ev model.StreamEvent) error {
	snapshot, err := json.Marshal(ev.Snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO stream_events (id, stream_id, tenant_id, type, actor_id, actor_type, snapshot, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.StreamID, ev.TenantID, string(ev.Type), ev.ActorID, ev.ActorType, snapshot, ev.CreatedAt.UTC())
	return err
}

func (t *postgresTx) InsertTransfer(ctx context.Context, tr model.Transfer) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO transfers (id, kind, from_id, to_id, amount, reference, client_tx_id, actor_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tr.ID, tr.Kind, tr.FromID, tr.ToID, tr.Amount, tr.Reference, tr.ClientTxID, tr.ActorID, tr.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return ErrDuplicateTransaction
	}
	return err
}

const accountColumns = `id, tenant_id, owner_id, tier, currency, status, frozen, total, available,
    in_streams_total, in_streams_buffer, created_at, updated_at`

func queryAccount(ctx context.Context, q querier, id string, forUpdate bool) (model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var a model.Account
	err := q.QueryRow(ctx, query, id).Scan(&a.ID, &a.TenantID, &a.OwnerID, &a.Tier, &a.Currency, &a.Status,
		&a.Frozen, &a.Total, &a.Available, &a.InStreamsTotal, &a.InStreamsBuffer, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, ErrNotFound
		}
		return model.Account{}, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

const streamColumns = `id, tenant_id, sender_id, receiver_id, managed_by, description,
    flow_rate_per_month, flow_rate_per_second, funding_wrapped, funding_buffer,
    total_streamed, total_withdrawn, total_paused_seconds, status,
    started_at, paused_at, resumed_at, cancelled_at,
    health, runway_seconds, health_checked_at, created_by, updated_at`

func queryStreams(ctx context.Context, q querier, filter StreamFilter) ([]model.Stream, error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}
	rows, err := q.Query(ctx, `SELECT `+streamColumns+` FROM streams
        WHERE ($1 = '' OR tenant_id = $1)
          AND ($2 = '' OR sender_id = $2)
          AND ($3 = '' OR receiver_id = $3)
          AND (cardinality($4::text[]) = 0 OR status = ANY($4::text[]))
        ORDER BY started_at, id`, filter.TenantID, filter.SenderID, filter.ReceiverID, statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func queryStream(ctx context.Context, q querier, id string) (model.Stream, error) {
	st, err := scanStream(q.QueryRow(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Stream{}, ErrNotFound
	}
	return st, err
}

func scanStream(row pgx.Row) (model.Stream, error) {
	var (
		st     model.Stream
		status string
		health string
	)
	err := row.Scan(&st.ID, &st.TenantID, &st.SenderID, &st.ReceiverID, &st.ManagedBy, &st.Description,
		&st.FlowRatePerMonth, &st.FlowRatePerSecond, &st.Funding.Wrapped, &st.Funding.Buffer,
		&st.TotalStreamed, &st.TotalWithdrawn, &st.TotalPausedSeconds, &status,
		&st.StartedAt, &st.PausedAt, &st.ResumedAt, &st.CancelledAt,
		&health, &st.RunwaySeconds, &st.HealthCheckedAt, &st.CreatedBy, &st.UpdatedAt)
	if err != nil {
		return model.Stream{}, err
	}
	st.Status = model.StreamStatus(status)
	st.Health = model.Health(health)
	st.StartedAt = st.StartedAt.UTC()
	st.HealthCheckedAt = st.HealthCheckedAt.UTC()
	st.UpdatedAt = st.UpdatedAt.UTC()
	st.PausedAt = utcPtr(st.PausedAt)
	st.ResumedAt = utcPtr(st.ResumedAt)
	st.CancelledAt = utcPtr(st.CancelledAt)
	return st, nil
}

const entryColumns = `id, account_id, sequence, type, amount, held_delta, buffer_delta,
    balance_after, available_after, reference, description, created_at`

func scanEntry(row pgx.Row) (model.LedgerEntry, error) {
	var (
		e       model.LedgerEntry
		entType string
	)
	if err := row.Scan(&e.ID, &e.AccountID, &e.Sequence, &entType, &e.Amount, &e.HeldDelta, &e.BufferDelta,
		&e.BalanceAfter, &e.AvailableAfter, &e.Reference, &e.Description, &e.CreatedAt); err != nil {
		return model.LedgerEntry{}, err
	}
	e.Type = model.EntryType(entType)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func queryLastEntry(ctx context.Context, q querier, accountID string) (model.LedgerEntry, bool, error) {
	e, err := scanEntry(q.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE account_id = $1 ORDER BY sequence DESC LIMIT 1`, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.LedgerEntry{}, false, nil
		}
		return model.LedgerEntry{}, false, err
	}
	return e, true, nil
}

func queryTransferByClientTxID(ctx context.Context, q querier, kind, clientTxID string) (model.Transfer, error) {
	var tr model.Transfer
	err := q.QueryRow(ctx, `SELECT id, kind, from_id, to_id, amount, reference, client_tx_id, actor_id, created_at
        FROM transfers WHERE kind = $1 AND client_tx_id = $2`, kind, clientTxID).
		Scan(&tr.ID, &tr.Kind, &tr.FromID, &tr.ToID, &tr.Amount, &tr.Reference, &tr.ClientTxID, &tr.ActorID, &tr.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Transfer{}, ErrNotFound
		}
		return model.Transfer{}, err
	}
	tr.CreatedAt = tr.CreatedAt.UTC()
	return tr, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}


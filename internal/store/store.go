// Package store persists accounts, ledger entries, streams, stream events and
// transfers. All mutations happen inside Atomic, which serializes work per
// account and commits every staged write or none of them.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateTransaction indicates the provided client transaction
	// identifier was already used for the same transfer kind.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrAccountExists is returned when creating an account twice.
	ErrAccountExists = errors.New("account exists")

	// ErrNotLocked is returned when a transaction writes an account it did not lock.
	ErrNotLocked = errors.New("account not locked by transaction")
)

// StreamFilter narrows ListStreams.
type StreamFilter struct {
	TenantID   string
	SenderID   string
	ReceiverID string
	Statuses   []model.StreamStatus
}

// Outflow aggregates a sender's open streams for limit checks.
type Outflow struct {
	ActiveStreams int
	TotalPerMonth decimal.Decimal
}

// Reader is the lock-free read side shared by Store and Tx.
type Reader interface {
	Account(ctx context.Context, id string) (model.Account, error)
	Stream(ctx context.Context, id string) (model.Stream, error)
	LastEntry(ctx context.Context, accountID string) (model.LedgerEntry, bool, error)
	TransferByClientTxID(ctx context.Context, kind, clientTxID string) (model.Transfer, error)
	ListStreams(ctx context.Context, filter StreamFilter) ([]model.Stream, error)
}

// Tx is the write side of a unit of work. Account writes are only allowed for
// accounts locked when the transaction was opened.
type Tx interface {
	Reader
	PutAccount(ctx context.Context, account model.Account) error
	AppendEntry(ctx context.Context, entry model.LedgerEntry) error
	PutStream(ctx context.Context, stream model.Stream) error
	AppendStreamEvent(ctx context.Context, event model.StreamEvent) error
	InsertTransfer(ctx context.Context, transfer model.Transfer) error
}

// Store is implemented by the in-memory and Postgres backends.
type Store interface {
	Reader
	CreateAccount(ctx context.Context, account model.Account) error
	Atomic(ctx context.Context, accountIDs []string, fn func(tx Tx) error) error
	SenderOutflow(ctx context.Context, senderID string) (Outflow, error)
	Entries(ctx context.Context, accountID string) ([]model.LedgerEntry, error)
	StreamEvents(ctx context.Context, streamID string) ([]model.StreamEvent, error)
	Ping(ctx context.Context) error
}

// LockOrder returns the deduplicated account ids in the canonical order in
// which locks must be taken.
func LockOrder(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/model"
)

type memoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]model.Account
	entries      map[string][]model.LedgerEntry
	streams      map[string]model.Stream
	events       map[string][]model.StreamEvent
	transfers    map[string]model.Transfer
	transferKeys map[string]string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewMemory creates a concurrency-safe in-memory store useful for unit tests
// and local development.
func NewMemory() Store {
	return &memoryStore{
		accounts:     make(map[string]model.Account),
		entries:      make(map[string][]model.LedgerEntry),
		streams:      make(map[string]model.Stream),
		events:       make(map[string][]model.StreamEvent),
		transfers:    make(map[string]model.Transfer),
		transferKeys: make(map[string]string),
		locks:        make(map[string]*sync.Mutex),
	}
}

func (s *memoryStore) Ping(_ context.Context) error { return nil }

func (s *memoryStore) CreateAccount(_ context.Context, account model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[account.ID]; exists {
		return ErrAccountExists
	}
	s.accounts[account.ID] = account
	return nil
}

func (s *memoryStore) Account(_ context.Context, id string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return account, nil
}

func (s *memoryStore) Stream(_ context.Context, id string) (model.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream, ok := s.streams[id]
	if !ok {
		return model.Stream{}, ErrNotFound
	}
	return stream, nil
}

func (s *memoryStore) LastEntry(_ context.Context, accountID string) (model.LedgerEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entries[accountID]
	if len(entries) == 0 {
		return model.LedgerEntry{}, false, nil
	}
	return entries[len(entries)-1], true, nil
}

func (s *memoryStore) TransferByClientTxID(_ context.Context, kind, clientTxID string) (model.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.transferKeys[kind+":"+clientTxID]
	if !ok {
		return model.Transfer{}, ErrNotFound
	}
	return s.transfers[id], nil
}

func (s *memoryStore) Entries(_ context.Context, accountID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.LedgerEntry, len(s.entries[accountID]))
	copy(out, s.entries[accountID])
	return out, nil
}

func (s *memoryStore) StreamEvents(_ context.Context, streamID string) ([]model.StreamEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StreamEvent, len(s.events[streamID]))
	copy(out, s.events[streamID])
	return out, nil
}

func (s *memoryStore) ListStreams(_ context.Context, filter StreamFilter) ([]model.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Stream
	for _, stream := range s.streams {
		if filter.matches(stream) {
			out = append(out, stream)
		}
	}
	sortStreams(out)
	return out, nil
}

func (f StreamFilter) matches(stream model.Stream) bool {
	switch {
	case f.TenantID != "" && stream.TenantID != f.TenantID:
		return false
	case f.SenderID != "" && stream.SenderID != f.SenderID:
		return false
	case f.ReceiverID != "" && stream.ReceiverID != f.ReceiverID:
		return false
	case len(f.Statuses) > 0 && !hasStatus(f.Statuses, stream.Status):
		return false
	}
	return true
}

func sortStreams(out []model.Stream) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
}

func (s *memoryStore) SenderOutflow(_ context.Context, senderID string) (Outflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Outflow{TotalPerMonth: decimal.Zero}
	for _, stream := range s.streams {
		if stream.SenderID != senderID || stream.Status == model.StreamCancelled {
			continue
		}
		out.ActiveStreams++
		out.TotalPerMonth = out.TotalPerMonth.Add(stream.FlowRatePerMonth)
	}
	return out, nil
}

func (s *memoryStore) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *memoryStore) Atomic(ctx context.Context, accountIDs []string, fn func(tx Tx) error) error {
	ordered := LockOrder(accountIDs)
	held := make([]*sync.Mutex, 0, len(ordered))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}()
	for _, id := range ordered {
		l := s.lockFor(id)
		l.Lock()
		held = append(held, l)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, id := range ordered {
		if _, err := s.Account(ctx, id); err != nil {
			return fmt.Errorf("account %s: %w", id, err)
		}
	}

	tx := &memoryTx{
		store:    s,
		locked:   make(map[string]struct{}, len(ordered)),
		accounts: make(map[string]model.Account),
		entries:  make(map[string][]model.LedgerEntry),
		streams:  make(map[string]model.Stream),
	}
	for _, id := range ordered {
		tx.locked[id] = struct{}{}
	}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *memoryStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tx.transfers {
		if t.ClientTxID == "" {
			continue
		}
		if _, exists := s.transferKeys[t.Kind+":"+t.ClientTxID]; exists {
			return ErrDuplicateTransaction
		}
	}

	for id, account := range tx.accounts {
		s.accounts[id] = account
	}
	for id, entries := range tx.entries {
		s.entries[id] = append(s.entries[id], entries...)
	}
	for id, stream := range tx.streams {
		s.streams[id] = stream
	}
	for _, event := range tx.events {
		s.events[event.StreamID] = append(s.events[event.StreamID], event)
	}
	for _, t := range tx.transfers {
		s.transfers[t.ID] = t
		if t.ClientTxID != "" {
			s.transferKeys[t.Kind+":"+t.ClientTxID] = t.ID
		}
	}
	return nil
}

// memoryTx stages writes until commit; reads see staged values first.
type memoryTx struct {
	store     *memoryStore
	locked    map[string]struct{}
	accounts  map[string]model.Account
	entries   map[string][]model.LedgerEntry
	streams   map[string]model.Stream
	events    []model.StreamEvent
	transfers []model.Transfer
}

func (t *memoryTx) isLocked(id string) bool {
	_, ok := t.locked[id]
	return ok
}

func (t *memoryTx) Account(ctx context.Context, id string) (model.Account, error) {
	if account, ok := t.accounts[id]; ok {
		return account, nil
	}
	return t.store.Account(ctx, id)
}

func (t *memoryTx) Stream(ctx context.Context, id string) (model.Stream, error) {
	if stream, ok := t.streams[id]; ok {
		return stream, nil
	}
	return t.store.Stream(ctx, id)
}

func (t *memoryTx) LastEntry(ctx context.Context, accountID string) (model.LedgerEntry, bool, error) {
	if staged := t.entries[accountID]; len(staged) > 0 {
		return staged[len(staged)-1], true, nil
	}
	return t.store.LastEntry(ctx, accountID)
}

func (t *memoryTx) TransferByClientTxID(ctx context.Context, kind, clientTxID string) (model.Transfer, error) {
	for _, staged := range t.transfers {
		if staged.Kind == kind && staged.ClientTxID == clientTxID {
			return staged, nil
		}
	}
	return t.store.TransferByClientTxID(ctx, kind, clientTxID)
}

// ListStreams returns committed streams overlaid with the ones staged in this
// transaction.
func (t *memoryTx) ListStreams(ctx context.Context, filter StreamFilter) ([]model.Stream, error) {
	committed, err := t.store.ListStreams(ctx, StreamFilter{})
	if err != nil {
		return nil, err
	}
	merged := make(map[string]model.Stream, len(committed)+len(t.streams))
	for _, stream := range committed {
		merged[stream.ID] = stream
	}
	for id, staged := range t.streams {
		merged[id] = staged
	}
	var out []model.Stream
	for _, stream := range merged {
		if filter.matches(stream) {
			out = append(out, stream)
		}
	}
	sortStreams(out)
	return out, nil
}

func (t *memoryTx) PutAccount(_ context.Context, account model.Account) error {
	if !t.isLocked(account.ID) {
		return ErrNotLocked
	}
	t.accounts[account.ID] = account
	return nil
}

func (t *memoryTx) AppendEntry(_ context.Context, entry model.LedgerEntry) error {
	if !t.isLocked(entry.AccountID) {
		return ErrNotLocked
	}
	t.entries[entry.AccountID] = append(t.entries[entry.AccountID], entry)
	return nil
}

func (t *memoryTx) PutStream(_ context.Context, stream model.Stream) error {
	if !t.isLocked(stream.SenderID) || !t.isLocked(stream.ReceiverID) {
		return ErrNotLocked
	}
	t.streams[stream.ID] = stream
	return nil
}

func (t *memoryTx) AppendStreamEvent(_ context.Context, event model.StreamEvent) error {
	t.events = append(t.events, event)
	return nil
}

func (t *memoryTx) InsertTransfer(ctx context.Context, transfer model.Transfer) error {
	if transfer.ClientTxID != "" {
		if _, err := t.TransferByClientTxID(ctx, transfer.Kind, transfer.ClientTxID); err == nil {
			return ErrDuplicateTransaction
		}
	}
	t.transfers = append(t.transfers, transfer)
	return nil
}

func hasStatus(statuses []model.StreamStatus, status model.StreamStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

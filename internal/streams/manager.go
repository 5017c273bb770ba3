// Package streams owns the stream lifecycle. Funding is two-phase: the sender's
// funds are held on create and top-up, and settled on withdraw and cancel.
// Every operation locks both the sender and the receiver account, so all
// operations on one stream are serialized.
package streams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/actors"
	"github.com/congo-pay/streampay/internal/events"
	"github.com/congo-pay/streampay/internal/ledger"
	"github.com/congo-pay/streampay/internal/limits"
	"github.com/congo-pay/streampay/internal/model"
	"github.com/congo-pay/streampay/internal/runway"
	"github.com/congo-pay/streampay/internal/store"
)

// ActorLookup resolves actors and their policy.
type ActorLookup interface {
	Get(ctx context.Context, id string) (model.Actor, error)
}

// Manager implements the stream operations.
type Manager struct {
	store  store.Store
	ledger *ledger.Service
	limits *limits.Enforcer
	actors ActorLookup
	events events.Publisher
	log    *slog.Logger
	now    func() time.Time
}

// NewManager wires a stream manager.
func NewManager(st store.Store, led *ledger.Service, enforcer *limits.Enforcer, actorLookup ActorLookup, pub events.Publisher, log *slog.Logger) *Manager {
	if pub == nil {
		pub = &events.NoopPublisher{}
	}
	return &Manager{
		store:  st,
		ledger: led,
		limits: enforcer,
		actors: actorLookup,
		events: pub,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// CreateInput describes a new stream. Either FlowRatePerMonth or
// FlowRatePerSecond must be set. InitialFunding defaults to the minimum.
type CreateInput struct {
	SenderID          string
	ReceiverID        string
	FlowRatePerMonth  decimal.Decimal
	FlowRatePerSecond decimal.Decimal
	InitialFunding    decimal.NullDecimal
	Description       string
	ActorID           string
	ManagedBy         string
}

// Create validates, funds and opens a stream.
func (m *Manager) Create(ctx context.Context, input CreateInput) (model.Stream, error) {
	if input.SenderID == input.ReceiverID {
		return model.Stream{}, ErrSameAccount
	}
	perMonth := input.FlowRatePerMonth
	if !perMonth.IsPositive() && input.FlowRatePerSecond.IsPositive() {
		perMonth = input.FlowRatePerSecond.Mul(decimal.NewFromInt(runway.SecondsPerMonth))
	}
	if !perMonth.IsPositive() {
		return model.Stream{}, ErrInvalidFlowRate
	}
	terms := runway.TermsFor(perMonth)
	if input.FlowRatePerSecond.IsPositive() {
		terms.PerSecond = input.FlowRatePerSecond
	}

	funding := terms.MinFunding
	if input.InitialFunding.Valid {
		funding = input.InitialFunding.Decimal
	}
	if funding.LessThan(terms.MinFunding) {
		return model.Stream{}, &FundingBelowMinimumError{Minimum: terms.MinFunding, Requested: funding}
	}

	sender, err := m.store.Account(ctx, input.SenderID)
	if err != nil {
		return model.Stream{}, fmt.Errorf("sender %s: %w", input.SenderID, err)
	}

	actor, err := m.resolveActor(ctx, input.ActorID)
	if err != nil {
		return model.Stream{}, err
	}
	if input.ActorID != "" {
		if actor.AccountID != input.SenderID || actor.TenantID != sender.TenantID {
			return model.Stream{}, ErrUnauthorizedManager
		}
		if actor.IsAgent() {
			outflow, err := m.store.SenderOutflow(ctx, input.SenderID)
			if err != nil {
				return model.Stream{}, err
			}
			if err := m.limits.CheckStream(actor, sender.Tier, perMonth, outflow); err != nil {
				return model.Stream{}, err
			}
			if input.ManagedBy == "" && actor.CanManageStreams {
				input.ManagedBy = actor.ID
			}
		}
	}
	if input.ManagedBy != "" && !(actor.IsAgent() && input.ManagedBy == actor.ID) {
		manager, err := m.actors.Get(ctx, input.ManagedBy)
		if err != nil || !manager.IsAgent() || !manager.CanManageStreams || manager.TenantID != sender.TenantID {
			return model.Stream{}, ErrUnauthorizedManager
		}
	}

	now := m.now()
	stream := model.Stream{
		ID:                 uuid.NewString(),
		TenantID:           sender.TenantID,
		SenderID:           input.SenderID,
		ReceiverID:         input.ReceiverID,
		ManagedBy:          input.ManagedBy,
		Description:        input.Description,
		FlowRatePerMonth:   perMonth,
		FlowRatePerSecond:  terms.PerSecond,
		Funding:            model.Funding{Wrapped: funding, Buffer: terms.Buffer},
		TotalStreamed:      decimal.Zero,
		TotalWithdrawn:     decimal.Zero,
		TotalPausedSeconds: 0,
		Status:             model.StreamActive,
		StartedAt:          now,
		CreatedBy:          input.ActorID,
		UpdatedAt:          now,
		HealthCheckedAt:    now,
	}
	snap := runway.Compute(stream, now)
	stream.RunwaySeconds = snap.RunwaySeconds
	stream.Health = snap.Health

	var evs []model.StreamEvent
	err = m.ledger.Atomic(ctx, []string{input.SenderID, input.ReceiverID}, func(tx store.Tx) error {
		receiver, err := tx.Account(ctx, input.ReceiverID)
		if err != nil {
			return err
		}
		if receiver.TenantID != sender.TenantID {
			return ErrTenantMismatch
		}
		if receiver.Status == model.AccountStatusClosed {
			return ledger.ErrAccountClosed
		}
		if _, err := m.ledger.Apply(ctx, tx, ledger.Posting{
			AccountID:   input.SenderID,
			Type:        model.EntryHold,
			Amount:      funding,
			BufferDelta: stream.HeldBuffer(),
			Reference:   stream.ID,
			Description: "stream funding",
		}); err != nil {
			return err
		}
		if err := tx.PutStream(ctx, stream); err != nil {
			return err
		}
		evs = []model.StreamEvent{
			newEvent(stream, model.StreamEventCreated, actor, snap, decimal.Zero, now),
			newEvent(stream, model.StreamEventFunded, actor, snap, funding, now),
		}
		return appendEvents(ctx, tx, evs)
	})
	if err != nil {
		return model.Stream{}, err
	}

	m.log.Info("stream created", "stream_id", stream.ID, "sender_id", stream.SenderID,
		"receiver_id", stream.ReceiverID, "funding", funding.String())
	m.publish(ctx, evs...)
	return stream, nil
}

// Pause freezes the streamed amount.
func (m *Manager) Pause(ctx context.Context, streamID, actorID string) (model.Stream, error) {
	return m.transition(ctx, streamID, actorID, func(st *model.Stream, now time.Time) (model.StreamEventType, decimal.Decimal, error) {
		if st.Status != model.StreamActive {
			return "", decimal.Zero, ErrInvalidStateTransition
		}
		snap := runway.Compute(*st, now)
		st.TotalStreamed = snap.Streamed
		st.RunwaySeconds = snap.RunwaySeconds
		st.Status = model.StreamPaused
		st.PausedAt = &now
		return model.StreamEventPaused, decimal.Zero, nil
	})
}

// Resume restarts a paused stream. Paused time never counts toward the
// streamed amount.
func (m *Manager) Resume(ctx context.Context, streamID, actorID string) (model.Stream, error) {
	return m.transition(ctx, streamID, actorID, func(st *model.Stream, now time.Time) (model.StreamEventType, decimal.Decimal, error) {
		if st.Status != model.StreamPaused || st.PausedAt == nil {
			return "", decimal.Zero, ErrInvalidStateTransition
		}
		activeAtPause := runway.ActiveSeconds(model.Stream{StartedAt: st.StartedAt, TotalPausedSeconds: st.TotalPausedSeconds}, *st.PausedAt)
		elapsed := int64(now.Sub(st.StartedAt) / time.Second)
		st.TotalPausedSeconds = elapsed - activeAtPause
		st.Status = model.StreamActive
		st.ResumedAt = &now
		realign(st, now)
		st.RunwaySeconds = runway.Compute(*st, now).RunwaySeconds
		return model.StreamEventResumed, decimal.Zero, nil
	})
}

// Cancel terminates the stream and refunds the unstreamed remainder to the
// sender. What was streamed but not yet withdrawn stays withdrawable.
func (m *Manager) Cancel(ctx context.Context, streamID, actorID string) (model.Stream, error) {
	return m.transitionTx(ctx, streamID, actorID, func(tx store.Tx, st *model.Stream, now time.Time) (model.StreamEventType, decimal.Decimal, error) {
		if st.Status == model.StreamCancelled {
			return "", decimal.Zero, ErrInvalidStateTransition
		}
		snap := runway.Compute(*st, now)
		remainder := st.Funding.Wrapped.Sub(snap.Streamed)
		bufferBefore := st.HeldBuffer()

		st.TotalStreamed = snap.Streamed
		st.Status = model.StreamCancelled
		st.CancelledAt = &now
		st.RunwaySeconds = 0

		if remainder.IsPositive() || bufferBefore.IsPositive() {
			if _, err := m.ledger.Apply(ctx, tx, ledger.Posting{
				AccountID:         st.SenderID,
				Type:              model.EntryRelease,
				Amount:            remainder,
				BufferDelta:       bufferBefore.Neg(),
				ReturnToAvailable: true,
				Reference:         st.ID,
				Description:       "stream cancelled",
			}); err != nil {
				return "", decimal.Zero, err
			}
		}
		return model.StreamEventCancelled, remainder, nil
	})
}

// TopUp adds funds to a stream. The runway is refreshed immediately; the
// health classification is left to the next monitor pass.
func (m *Manager) TopUp(ctx context.Context, streamID string, amount decimal.Decimal, actorID string) (model.Stream, error) {
	if !amount.IsPositive() {
		return model.Stream{}, ledger.ErrInvalidAmount
	}
	check := func(ctx context.Context, actor model.Actor, st model.Stream) error {
		if actor.ID == "" {
			return nil
		}
		if actor.AccountID == st.SenderID || actor.ID == st.ManagedBy {
			return nil
		}
		return ErrUnauthorizedManager
	}
	return m.run(ctx, streamID, actorID, check, func(tx store.Tx, st *model.Stream, now time.Time) (model.StreamEventType, decimal.Decimal, error) {
		if st.Status == model.StreamCancelled {
			return "", decimal.Zero, ErrInvalidStateTransition
		}
		if st.Status == model.StreamActive {
			st.TotalStreamed = runway.Compute(*st, now).Streamed
			realign(st, now)
		}
		bufferBefore := st.HeldBuffer()
		st.Funding.Wrapped = st.Funding.Wrapped.Add(amount)
		if _, err := m.ledger.Apply(ctx, tx, ledger.Posting{
			AccountID:   st.SenderID,
			Type:        model.EntryHold,
			Amount:      amount,
			BufferDelta: st.HeldBuffer().Sub(bufferBefore),
			Reference:   st.ID,
			Description: "stream top-up",
		}); err != nil {
			return "", decimal.Zero, err
		}
		st.RunwaySeconds = runway.Compute(*st, now).RunwaySeconds
		return model.StreamEventToppedUp, amount, nil
	})
}

// WithdrawInput describes a receiver withdrawal. Amount defaults to everything
// currently available.
type WithdrawInput struct {
	StreamID   string
	Amount     decimal.NullDecimal
	ActorID    string
	ClientTxID string
}

// Withdraw moves accrued funds from the sender's held balance to the
// receiver's available balance and records a transfer.
func (m *Manager) Withdraw(ctx context.Context, input WithdrawInput) (model.Transfer, error) {
	var transfer model.Transfer
	check := func(ctx context.Context, actor model.Actor, st model.Stream) error {
		if actor.ID == "" || actor.AccountID == st.ReceiverID {
			return nil
		}
		return ErrUnauthorizedManager
	}
	_, err := m.run(ctx, input.StreamID, input.ActorID, check, func(tx store.Tx, st *model.Stream, now time.Time) (model.StreamEventType, decimal.Decimal, error) {
		if input.ClientTxID != "" {
			if _, err := tx.TransferByClientTxID(ctx, model.TransferKindStreamWithdrawal, input.ClientTxID); err == nil {
				return "", decimal.Zero, store.ErrDuplicateTransaction
			} else if !errors.Is(err, store.ErrNotFound) {
				return "", decimal.Zero, err
			}
		}

		snap := runway.Compute(*st, now)
		amount := snap.Available
		if input.Amount.Valid {
			amount = input.Amount.Decimal
		}
		if !amount.IsPositive() {
			if input.Amount.Valid {
				return "", decimal.Zero, ledger.ErrInvalidAmount
			}
			return "", decimal.Zero, &ExceedsAvailableError{Available: snap.Available, Requested: amount}
		}
		if amount.GreaterThan(snap.Available) {
			return "", decimal.Zero, &ExceedsAvailableError{Available: snap.Available, Requested: amount}
		}

		bufferBefore := st.HeldBuffer()
		st.TotalStreamed = snap.Streamed
		st.TotalWithdrawn = st.TotalWithdrawn.Add(amount)
		if st.Status != model.StreamCancelled {
			st.RunwaySeconds = snap.RunwaySeconds
		}

		transfer = model.Transfer{
			ID:         uuid.NewString(),
			Kind:       model.TransferKindStreamWithdrawal,
			FromID:     st.SenderID,
			ToID:       st.ReceiverID,
			Amount:     amount,
			Reference:  st.ID,
			ClientTxID: input.ClientTxID,
			ActorID:    input.ActorID,
			CreatedAt:  now,
		}
		if _, err := m.ledger.Apply(ctx, tx, ledger.Posting{
			AccountID:   st.SenderID,
			Type:        model.EntryRelease,
			Amount:      amount,
			BufferDelta: st.HeldBuffer().Sub(bufferBefore),
			Reference:   transfer.ID,
			Description: "stream withdrawal",
		}); err != nil {
			return "", decimal.Zero, err
		}
		if _, err := m.ledger.Apply(ctx, tx, ledger.Posting{
			AccountID:   st.ReceiverID,
			Type:        model.EntryCredit,
			Amount:      amount,
			Reference:   transfer.ID,
			Description: "stream withdrawal",
		}); err != nil {
			return "", decimal.Zero, err
		}
		if err := tx.InsertTransfer(ctx, transfer); err != nil {
			return "", decimal.Zero, err
		}
		return model.StreamEventWithdrawn, amount, nil
	})
	if err != nil {
		return model.Transfer{}, err
	}
	return transfer, nil
}

// View is a stored stream together with its live calculator output.
type View struct {
	Stream model.Stream
	Live   runway.Snapshot
}

// Get returns the stream with live streamed, available and runway values.
func (m *Manager) Get(ctx context.Context, streamID string) (View, error) {
	st, err := m.store.Stream(ctx, streamID)
	if err != nil {
		return View{}, err
	}
	return m.View(st), nil
}

// View pairs a stream with its live calculator output. Live.Health reflects
// a top-up right away; the stored Health changes on the next monitor pass.
func (m *Manager) View(st model.Stream) View {
	return View{Stream: st, Live: runway.Compute(st, m.now())}
}

// Events returns the stream's audit trail.
func (m *Manager) Events(ctx context.Context, streamID string) ([]model.StreamEvent, error) {
	if _, err := m.store.Stream(ctx, streamID); err != nil {
		return nil, err
	}
	return m.store.StreamEvents(ctx, streamID)
}

// RefreshHealth recomputes an active stream's runway and persists the health
// classification when it changed, emitting one health_changed event. It never
// touches streamed, withdrawn or funding amounts. Running it twice in a row
// is a no-op the second time.
func (m *Manager) RefreshHealth(ctx context.Context, streamID string) (bool, error) {
	current, err := m.store.Stream(ctx, streamID)
	if err != nil {
		return false, err
	}
	if current.Status != model.StreamActive || runway.Compute(current, m.now()).Health == current.Health {
		return false, nil
	}

	var evs []model.StreamEvent
	err = m.store.Atomic(ctx, []string{current.SenderID, current.ReceiverID}, func(tx store.Tx) error {
		st, err := tx.Stream(ctx, streamID)
		if err != nil {
			return err
		}
		if st.Status != model.StreamActive {
			return nil
		}
		now := m.now()
		snap := runway.Compute(st, now)
		if snap.Health == st.Health {
			return nil
		}
		previous := st.Health
		st.Health = snap.Health
		st.RunwaySeconds = snap.RunwaySeconds
		st.HealthCheckedAt = now
		st.UpdatedAt = now
		if err := tx.PutStream(ctx, st); err != nil {
			return err
		}
		ev := newEvent(st, model.StreamEventHealthChanged, model.Actor{Kind: model.ActorSystem}, snap, decimal.Zero, now)
		ev.Snapshot.PreviousHealth = previous
		evs = append(evs, ev)
		return tx.AppendStreamEvent(ctx, ev)
	})
	if err != nil {
		return false, err
	}
	if len(evs) == 0 {
		return false, nil
	}
	m.log.Info("stream health changed", "stream_id", streamID,
		"from", evs[0].Snapshot.PreviousHealth, "to", evs[0].Snapshot.Health,
		"runway_seconds", evs[0].Snapshot.RunwaySeconds)
	m.publish(ctx, evs...)
	return true, nil
}

type mutation func(tx store.Tx, st *model.Stream, now time.Time) (model.StreamEventType, decimal.Decimal, error)

type authorizer func(ctx context.Context, actor model.Actor, st model.Stream) error

func (m *Manager) transition(ctx context.Context, streamID, actorID string, fn func(st *model.Stream, now time.Time) (model.StreamEventType, decimal.Decimal, error)) (model.Stream, error) {
	return m.transitionTx(ctx, streamID, actorID, func(_ store.Tx, st *model.Stream, now time.Time) (model.StreamEventType, decimal.Decimal, error) {
		return fn(st, now)
	})
}

// transitionTx runs a pause, resume or cancel, which require a managing actor.
func (m *Manager) transitionTx(ctx context.Context, streamID, actorID string, fn mutation) (model.Stream, error) {
	check := func(_ context.Context, actor model.Actor, st model.Stream) error {
		if actor.ID == "" || !canManage(actor, st) {
			return ErrUnauthorizedManager
		}
		return nil
	}
	return m.run(ctx, streamID, actorID, check, fn)
}

// run loads the stream, authorizes the actor, and applies fn with both
// accounts locked. The stream is re-read under the lock.
func (m *Manager) run(ctx context.Context, streamID, actorID string, authorize authorizer, fn mutation) (model.Stream, error) {
	current, err := m.store.Stream(ctx, streamID)
	if err != nil {
		return model.Stream{}, err
	}
	actor, err := m.resolveActor(ctx, actorID)
	if err != nil {
		return model.Stream{}, err
	}
	if actor.ID != "" && actor.TenantID != current.TenantID {
		return model.Stream{}, ErrUnauthorizedManager
	}
	if err := authorize(ctx, actor, current); err != nil {
		return model.Stream{}, err
	}

	var (
		updated model.Stream
		evs     []model.StreamEvent
	)
	err = m.ledger.Atomic(ctx, []string{current.SenderID, current.ReceiverID}, func(tx store.Tx) error {
		st, err := tx.Stream(ctx, streamID)
		if err != nil {
			return err
		}
		now := m.now()
		evType, amount, err := fn(tx, &st, now)
		if err != nil {
			return err
		}
		if st.TotalWithdrawn.GreaterThan(st.TotalStreamed) || st.TotalStreamed.GreaterThan(st.Funding.Wrapped) {
			return fmt.Errorf("stream %s: amounts out of order (withdrawn %s, streamed %s, wrapped %s)",
				st.ID, st.TotalWithdrawn, st.TotalStreamed, st.Funding.Wrapped)
		}
		st.UpdatedAt = now
		if err := tx.PutStream(ctx, st); err != nil {
			return err
		}
		ev := newEvent(st, evType, actor, runway.Compute(st, now), amount, now)
		evs = append(evs, ev)
		updated = st
		return tx.AppendStreamEvent(ctx, ev)
	})
	if err != nil {
		return model.Stream{}, err
	}

	m.log.Info("stream updated", "stream_id", streamID, "event", evs[0].Type, "actor_id", actorID, "status", updated.Status)
	m.publish(ctx, evs...)
	return updated, nil
}

func (m *Manager) resolveActor(ctx context.Context, actorID string) (model.Actor, error) {
	if actorID == "" {
		return model.Actor{}, nil
	}
	actor, err := m.actors.Get(ctx, actorID)
	if err != nil {
		if errors.Is(err, actors.ErrNotFound) {
			return model.Actor{}, ErrUnauthorizedManager
		}
		return model.Actor{}, err
	}
	return actor, nil
}

func (m *Manager) publish(ctx context.Context, evs ...model.StreamEvent) {
	if err := events.PublishStreamEvents(ctx, m.events, evs...); err != nil {
		m.log.Warn("publish stream events failed", "error", err)
	}
}

// canManage reports whether actor may pause, resume or cancel the stream:
// a human owning either side, the stream's designated agent, or an agent of
// either side allowed to manage streams.
func canManage(actor model.Actor, st model.Stream) bool {
	party := actor.AccountID == st.SenderID || actor.AccountID == st.ReceiverID
	switch actor.Kind {
	case model.ActorHuman:
		return party
	case model.ActorAgent:
		return actor.ID == st.ManagedBy || (party && actor.CanManageStreams)
	default:
		return false
	}
}

// realign shifts the active-time origin of a stream that ran dry so that a
// later top-up or resume does not credit the seconds it spent empty.
func realign(st *model.Stream, now time.Time) {
	if st.Status != model.StreamActive || !st.FlowRatePerSecond.IsPositive() {
		return
	}
	raw := st.FlowRatePerSecond.Mul(decimal.NewFromInt(runway.ActiveSeconds(*st, now)))
	gap := raw.Sub(st.TotalStreamed)
	if gap.LessThan(st.FlowRatePerSecond) {
		return
	}
	st.TotalPausedSeconds += gap.Div(st.FlowRatePerSecond).Floor().IntPart()
}

func newEvent(st model.Stream, t model.StreamEventType, actor model.Actor, snap runway.Snapshot, amount decimal.Decimal, now time.Time) model.StreamEvent {
	actorType := actor.Kind
	if actorType == "" {
		actorType = model.ActorSystem
	}
	return model.StreamEvent{
		ID:        uuid.NewString(),
		StreamID:  st.ID,
		TenantID:  st.TenantID,
		Type:      t,
		ActorID:   actor.ID,
		ActorType: actorType,
		Snapshot: model.StreamSnapshot{
			FlowRatePerSecond: st.FlowRatePerSecond,
			Wrapped:           st.Funding.Wrapped,
			Buffer:            st.Funding.Buffer,
			Streamed:          snap.Streamed,
			Withdrawn:         st.TotalWithdrawn,
			Amount:            amount,
			RunwaySeconds:     snap.RunwaySeconds,
			Health:            st.Health,
		},
		CreatedAt: now,
	}
}

func appendEvents(ctx context.Context, tx store.Tx, evs []model.StreamEvent) error {
	for _, ev := range evs {
		if err := tx.AppendStreamEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

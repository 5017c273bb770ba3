package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryCredit  EntryType = "credit"
	EntryDebit   EntryType = "debit"
	EntryHold    EntryType = "hold"
	EntryRelease EntryType = "release"
)

// LedgerEntry is an immutable record of one balance-affecting event.
//
// Amount is the signed effect on the account total and HeldDelta the signed
// effect on inStreams.total, so that for every account the sum of Amount
// equals Total and the sum of HeldDelta equals InStreamsTotal.
type LedgerEntry struct {
	ID             string
	AccountID      string
	Sequence       int64
	Type           EntryType
	Amount         decimal.Decimal
	HeldDelta      decimal.Decimal
	BufferDelta    decimal.Decimal
	BalanceAfter   decimal.Decimal
	AvailableAfter decimal.Decimal
	Reference      string
	Description    string
	CreatedAt      time.Time
}

const (
	TransferKindP2P              = "p2p"
	TransferKindStreamWithdrawal = "stream_withdrawal"
	TransferKindDeposit          = "deposit"
	TransferKindPayout           = "payout"
)

// Transfer records a discrete movement of funds, including stream withdrawals.
type Transfer struct {
	ID         string
	Kind       string
	FromID     string
	ToID       string
	Amount     decimal.Decimal
	Reference  string
	ClientTxID string
	ActorID    string
	CreatedAt  time.Time
}

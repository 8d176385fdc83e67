package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction types
const (
	TxTypeDeposit = "deposit"
	TxTypeRelease = "release"
	TxTypeRefund  = "refund"
)

// Normalized transaction statuses. Raw ledger commitment levels map into these
// via the solana package; "waiting" means submitted but not yet observed.
const (
	TxStatusPending   = "pending"
	TxStatusConfirmed = "confirmed"
	TxStatusFailed    = "failed"
	TxStatusWaiting   = "waiting"
)

func IsValidTxType(t string) bool {
	return t == TxTypeDeposit || t == TxTypeRelease || t == TxTypeRefund
}

// Transaction is one row per ledger transfer this system has submitted or
// observed for an escrow. Immutable once confirmed or failed; status may be
// patched while pending.
type Transaction struct {
	ID                   uuid.UUID  `json:"id"`
	EscrowID             uuid.UUID  `json:"escrow_id"`
	Signature            string     `json:"signature"`
	TxType               string     `json:"tx_type"`
	AmountLamports       *int64     `json:"amount_lamports,omitempty"`
	FromAddress          *string    `json:"from_address,omitempty"`
	ToAddress            *string    `json:"to_address,omitempty"`
	Status               string     `json:"status"`
	IntentHash           *string    `json:"intent_hash,omitempty"`
	CommitmentTarget     *string    `json:"commitment_target,omitempty"`
	LastValidBlockHeight *int64     `json:"last_valid_block_height,omitempty"`
	RawError             *string    `json:"raw_error,omitempty"`
	Memo                 *string    `json:"memo,omitempty"`
	RecordedAt           time.Time  `json:"recorded_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

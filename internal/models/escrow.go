package models

import (
	"time"

	"github.com/google/uuid"
)

// Escrow statuses
const (
	EscrowStatusOpen            = "open"
	EscrowStatusRolesPending    = "roles_pending"
	EscrowStatusRolesClaimed    = "roles_claimed"
	EscrowStatusFunded          = "funded"
	EscrowStatusServiceComplete = "service_complete"
	EscrowStatusReleasePending  = "release_pending"
	EscrowStatusReleased        = "released"
	EscrowStatusDisputed        = "disputed"
	EscrowStatusRefundPending   = "refund_pending"
	EscrowStatusCancelled       = "cancelled"
)

// Valid state transitions: from -> []to. Admin settlement is the only path
// into refund_pending/cancelled, which is why both appear under every
// non-terminal status. Funding may be observed before both roles are claimed,
// so funded is reachable from open and roles_pending as well.
var ValidEscrowTransitions = map[string][]string{
	EscrowStatusOpen:            {EscrowStatusRolesPending, EscrowStatusRolesClaimed, EscrowStatusFunded, EscrowStatusRefundPending, EscrowStatusCancelled},
	EscrowStatusRolesPending:    {EscrowStatusRolesClaimed, EscrowStatusFunded, EscrowStatusRefundPending, EscrowStatusCancelled},
	EscrowStatusRolesClaimed:    {EscrowStatusFunded, EscrowStatusDisputed, EscrowStatusRefundPending, EscrowStatusCancelled},
	EscrowStatusFunded:          {EscrowStatusServiceComplete, EscrowStatusReleasePending, EscrowStatusDisputed, EscrowStatusRefundPending, EscrowStatusCancelled},
	EscrowStatusServiceComplete: {EscrowStatusReleasePending, EscrowStatusDisputed, EscrowStatusRefundPending, EscrowStatusCancelled},
	EscrowStatusReleasePending:  {EscrowStatusReleased, EscrowStatusDisputed, EscrowStatusRefundPending, EscrowStatusCancelled},
	EscrowStatusDisputed:        {EscrowStatusReleasePending, EscrowStatusRefundPending, EscrowStatusCancelled},
	EscrowStatusRefundPending:   {EscrowStatusCancelled},
	EscrowStatusReleased:        {},
	EscrowStatusCancelled:       {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidEscrowTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	return status == EscrowStatusReleased || status == EscrowStatusCancelled
}

// Escrow roles
const (
	RoleSender    = "sender"
	RoleRecipient = "recipient"
	RoleAdmin     = "admin"
)

func IsValidRole(role string) bool {
	return role == RoleSender || role == RoleRecipient
}

type Escrow struct {
	ID       uuid.UUID `json:"id"`
	PublicID string    `json:"public_id"`

	// Custody: the generated wallet. The secret key never leaves the server.
	PublicKey string `json:"public_key"`
	SecretKey string `json:"-"`

	Label                  *string `json:"label,omitempty"`
	SenderAddress          *string `json:"sender_address,omitempty"`
	RecipientAddress       *string `json:"recipient_address,omitempty"`
	ExpectedAmountLamports *int64  `json:"expected_amount_lamports,omitempty"`

	Status string `json:"status"`

	CreatorUserID string  `json:"creator_user_id"`
	PayerUserID   *string `json:"payer_user_id,omitempty"`
	PayeeUserID   *string `json:"payee_user_id,omitempty"`

	SenderClaimedAt    *time.Time `json:"sender_claimed_at,omitempty"`
	RecipientClaimedAt *time.Time `json:"recipient_claimed_at,omitempty"`

	JoinTokenHash   *string    `json:"-"`
	JoinExpiresAt   *time.Time `json:"join_expires_at,omitempty"`
	InviteTokenHash *string    `json:"-"`
	InviteExpiresAt *time.Time `json:"invite_expires_at,omitempty"`
	InviteUsedAt    *time.Time `json:"invite_used_at,omitempty"`

	AcceptedAt              *time.Time `json:"accepted_at,omitempty"`
	FundedAt                *time.Time `json:"funded_at,omitempty"`
	ServiceMarkedCompleteAt *time.Time `json:"service_marked_complete_at,omitempty"`
	DisputedAt              *time.Time `json:"disputed_at,omitempty"`
	DisputeReason           *string    `json:"dispute_reason,omitempty"`

	FinalizeNonce    int64   `json:"finalize_nonce"`
	LastIntentHash   *string `json:"-"`
	SettledSignature *string `json:"settled_signature,omitempty"`
	FailureReason    *string `json:"failure_reason,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsParty reports whether userID holds either bound role on the escrow.
func (e *Escrow) IsParty(userID string) bool {
	if e.PayerUserID != nil && *e.PayerUserID == userID {
		return true
	}
	if e.PayeeUserID != nil && *e.PayeeUserID == userID {
		return true
	}
	return false
}

// RoleOf resolves the role userID plays on this escrow, or "" for none.
// Admin privilege is resolved by the caller from config, not stored here.
func (e *Escrow) RoleOf(userID string) string {
	if e.PayerUserID != nil && *e.PayerUserID == userID {
		return RoleSender
	}
	if e.PayeeUserID != nil && *e.PayeeUserID == userID {
		return RoleRecipient
	}
	return ""
}

// CanView reports whether userID may read this escrow: creator, either party,
// or admin (checked by caller).
func (e *Escrow) CanView(userID string) bool {
	return e.CreatorUserID == userID || e.IsParty(userID)
}

func (e *Escrow) BothRolesClaimed() bool {
	return e.PayerUserID != nil && e.PayeeUserID != nil
}

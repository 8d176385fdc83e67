package dto

import "time"

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// CreateEscrowResponse carries the join token exactly once; it is not
// recoverable afterwards.
type CreateEscrowResponse struct {
	Escrow    any    `json:"escrow"`
	JoinToken string `json:"join_token"`
}

type InviteResponse struct {
	InviteToken string     `json:"invite_token"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type ListResponse struct {
	Total int `json:"total"`
	Items any `json:"items"`
}

type BalanceResponse struct {
	PublicKey       string  `json:"public_key"`
	BalanceLamports int64   `json:"balance_lamports"`
	BalanceSol      float64 `json:"balance_sol"`
}

type AttachmentURLResponse struct {
	URL string `json:"url"`
}

type ReleaseResponse struct {
	Escrow      any `json:"escrow"`
	Transaction any `json:"transaction,omitempty"`
}

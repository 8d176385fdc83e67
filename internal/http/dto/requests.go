package dto

import "github.com/secure-shuttle/backend/internal/models"

type IssueTokenRequest struct {
	UserID string `json:"user_id"`
}

type CreateEscrowRequest struct {
	Label                  *string `json:"label,omitempty"`
	SenderAddress          *string `json:"sender_address,omitempty"`
	RecipientAddress       *string `json:"recipient_address,omitempty"`
	ExpectedAmountLamports *int64  `json:"expected_amount_lamports,omitempty"`
	Role                   *string `json:"role,omitempty"`
}

type UpdateEscrowRequest struct {
	Label                  *string `json:"label,omitempty"`
	SenderAddress          *string `json:"sender_address,omitempty"`
	RecipientAddress       *string `json:"recipient_address,omitempty"`
	ExpectedAmountLamports *int64  `json:"expected_amount_lamports,omitempty"`
}

type ClaimRoleRequest struct {
	Role      string `json:"role"`
	JoinToken string `json:"join_token"`
}

type AcceptInviteRequest struct {
	InviteToken string `json:"invite_token"`
}

type SetRecipientAddressRequest struct {
	Address string `json:"address"`
}

type ReleaseRequest struct {
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
}

type AdminSettleRequest struct {
	Action string `json:"action"`
}

type OpenDisputeRequest struct {
	Reason string `json:"reason"`
}

type PostDisputeMessageRequest struct {
	Body        string                     `json:"body"`
	Attachments []models.DisputeAttachment `json:"attachments,omitempty"`
}

type RecordTransactionRequest struct {
	Signature string `json:"signature"`
}

type UploadURLRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

type RateEscrowRequest struct {
	Score   int     `json:"score"`
	Comment *string `json:"comment,omitempty"`
}

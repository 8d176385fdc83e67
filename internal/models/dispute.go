package models

import (
	"time"

	"github.com/google/uuid"
)

type DisputeAttachment struct {
	StorageID   string  `json:"storage_id"`
	FileName    *string `json:"file_name,omitempty"`
	ContentType *string `json:"content_type,omitempty"`
	SizeBytes   *int64  `json:"size_bytes,omitempty"`
	// Resolved short-lived URL, populated at read time from the blob store.
	StorageURL *string `json:"storage_url,omitempty"`
}

// DisputeMessage is one entry in an escrow's append-only dispute thread.
type DisputeMessage struct {
	ID           uuid.UUID           `json:"id"`
	EscrowID     uuid.UUID           `json:"escrow_id"`
	SenderUserID string              `json:"sender_user_id"`
	SenderRole   string              `json:"sender_role"`
	Body         *string             `json:"body,omitempty"`
	Attachments  []DisputeAttachment `json:"attachments"`
	CreatedAt    time.Time           `json:"created_at"`
}

package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/secure-shuttle/backend/internal/apperr"
	"github.com/secure-shuttle/backend/internal/events"
	"github.com/secure-shuttle/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type disputeFixture struct {
	svc       *DisputeService
	escrows   *fakeEscrowStore
	disputes  *fakeDisputeStore
	publisher *fakePublisher
}

func newDisputeFixture() *disputeFixture {
	escrows := newFakeEscrowStore()
	disputes := &fakeDisputeStore{}
	publisher := &fakePublisher{}
	svc := NewDisputeService(escrows, disputes, &fakeAuditStore{}, nil, publisher, testConfig(), zap.NewNop())
	return &disputeFixture{svc: svc, escrows: escrows, disputes: disputes, publisher: publisher}
}

func (f *disputeFixture) seedEscrow(t *testing.T, status string) *models.Escrow {
	t.Helper()
	alice, bob := "alice", "bob"
	escrow := &models.Escrow{
		PublicID:      "pub-dispute",
		PublicKey:     "wallet",
		SecretKey:     "secret",
		Status:        status,
		CreatorUserID: alice,
		PayerUserID:   &alice,
		PayeeUserID:   &bob,
	}
	require.NoError(t, f.escrows.Create(context.Background(), escrow))
	return escrow
}

func TestOpenDispute(t *testing.T) {
	f := newDisputeFixture()
	ctx := context.Background()

	escrow := f.seedEscrow(t, models.EscrowStatusFunded)
	updated, err := f.svc.Open(ctx, "bob", escrow.ID, "never delivered")
	require.NoError(t, err)

	assert.Equal(t, models.EscrowStatusDisputed, updated.Status)
	assert.NotNil(t, updated.DisputedAt)
	require.NotNil(t, updated.DisputeReason)
	assert.Equal(t, "never delivered", *updated.DisputeReason)
}

func TestOpenDispute_Guards(t *testing.T) {
	f := newDisputeFixture()
	ctx := context.Background()

	escrow := f.seedEscrow(t, models.EscrowStatusFunded)

	_, err := f.svc.Open(ctx, "mallory", escrow.ID, "reason")
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))

	_, err = f.svc.Open(ctx, "alice", escrow.ID, "   ")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	released := f.seedEscrow(t, models.EscrowStatusReleased)
	_, err = f.svc.Open(ctx, "alice", released.ID, "too late")
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidState))
}

func TestDisputeThread(t *testing.T) {
	f := newDisputeFixture()
	ctx := context.Background()

	escrow := f.seedEscrow(t, models.EscrowStatusFunded)

	// No thread before the dispute exists.
	_, err := f.svc.PostMessage(ctx, "alice", false, escrow.ID, "hello", nil)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidState))

	_, err = f.svc.Open(ctx, "alice", escrow.ID, "wrong amount")
	require.NoError(t, err)

	fileName, contentType := "receipt.png", "image/png"
	msg, err := f.svc.PostMessage(ctx, "alice", false, escrow.ID, "payment proof attached", []models.DisputeAttachment{
		{StorageID: "blob-1", FileName: &fileName, ContentType: &contentType},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleSender, msg.SenderRole)
	assert.Len(t, msg.Attachments, 1)

	// Admin joins the thread with their own role label.
	msg, err = f.svc.PostMessage(ctx, "root", true, escrow.ID, "reviewing", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, msg.SenderRole)

	// Outsiders cannot read or write.
	_, err = f.svc.PostMessage(ctx, "mallory", false, escrow.ID, "hi", nil)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
	_, err = f.svc.ListMessages(ctx, "mallory", false, escrow.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))

	messages, err := f.svc.ListMessages(ctx, "bob", false, escrow.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	assert.Len(t, f.publisher.byType(events.EventDisputeMessagePosted), 2)
}

func TestAttachmentURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/internal/storage/blob-1/url" {
			_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://files.test/blob-1?sig=abc"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	escrows := newFakeEscrowStore()
	disputes := &fakeDisputeStore{}
	storage := NewStorageClient(srv.URL, zap.NewNop())
	svc := NewDisputeService(escrows, disputes, &fakeAuditStore{}, storage, &fakePublisher{}, testConfig(), zap.NewNop())
	f := &disputeFixture{svc: svc, escrows: escrows, disputes: disputes}
	ctx := context.Background()

	escrow := f.seedEscrow(t, models.EscrowStatusFunded)
	_, err := svc.Open(ctx, "alice", escrow.ID, "wrong amount")
	require.NoError(t, err)

	fileName := "receipt.png"
	_, err = svc.PostMessage(ctx, "alice", false, escrow.ID, "proof", []models.DisputeAttachment{
		{StorageID: "blob-1", FileName: &fileName},
	})
	require.NoError(t, err)

	// The counterparty can view the evidence.
	url, err := svc.AttachmentURL(ctx, "bob", false, escrow.ID, "blob-1")
	require.NoError(t, err)
	assert.Equal(t, "https://files.test/blob-1?sig=abc", url)

	// Only storage ids referenced by the thread resolve.
	_, err = svc.AttachmentURL(ctx, "bob", false, escrow.ID, "blob-404")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	_, err = svc.AttachmentURL(ctx, "mallory", false, escrow.ID, "blob-1")
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
}

func TestPostMessage_RequiresContent(t *testing.T) {
	f := newDisputeFixture()
	ctx := context.Background()

	escrow := f.seedEscrow(t, models.EscrowStatusFunded)
	_, err := f.svc.Open(ctx, "alice", escrow.ID, "reason")
	require.NoError(t, err)

	_, err = f.svc.PostMessage(ctx, "alice", false, escrow.ID, "   ", nil)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

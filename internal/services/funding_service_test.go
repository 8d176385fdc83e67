package services

import (
	"context"
	"errors"
	"testing"

	"github.com/secure-shuttle/backend/internal/apperr"
	"github.com/secure-shuttle/backend/internal/events"
	"github.com/secure-shuttle/backend/internal/models"
	"github.com/secure-shuttle/backend/internal/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fundingFixture struct {
	svc       *FundingService
	escrows   *fakeEscrowStore
	txs       *fakeTxStore
	ledger    *fakeLedger
	publisher *fakePublisher
}

func newFundingFixture() *fundingFixture {
	escrows := newFakeEscrowStore()
	txs := newFakeTxStore()
	ledger := newFakeLedger()
	publisher := &fakePublisher{}
	svc := NewFundingService(escrows, txs, &fakeAuditStore{}, ledger, publisher, testConfig(), zap.NewNop())
	return &fundingFixture{svc: svc, escrows: escrows, txs: txs, ledger: ledger, publisher: publisher}
}

func (f *fundingFixture) seedEscrow(t *testing.T, status string, expected *int64) *models.Escrow {
	t.Helper()
	escrow := &models.Escrow{
		PublicID:               "pub-" + status,
		PublicKey:              "wallet-" + status,
		SecretKey:              "secret",
		Status:                 status,
		CreatorUserID:          "alice",
		ExpectedAmountLamports: expected,
	}
	require.NoError(t, f.escrows.Create(context.Background(), escrow))
	return escrow
}

func TestSyncFunding_BalanceMeetsExpected(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()

	expected := int64(100_000)
	escrow := f.seedEscrow(t, models.EscrowStatusRolesClaimed, &expected)
	f.ledger.balances[escrow.PublicKey] = 120_000

	status, err := f.svc.SyncFunding(ctx, escrow.ID)
	require.NoError(t, err)

	assert.True(t, status.Funded)
	assert.Equal(t, int64(120_000), status.BalanceLamports)
	assert.Equal(t, models.EscrowStatusFunded, status.Escrow.Status)
	assert.NotNil(t, status.Escrow.FundedAt)
	assert.Len(t, f.publisher.byType(events.EventPaymentReceived), 1)
}

func TestSyncFunding_BelowExpectedStaysUnfunded(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()

	expected := int64(100_000)
	escrow := f.seedEscrow(t, models.EscrowStatusRolesClaimed, &expected)
	f.ledger.balances[escrow.PublicKey] = 50_000

	status, err := f.svc.SyncFunding(ctx, escrow.ID)
	require.NoError(t, err)

	assert.False(t, status.Funded)
	assert.Equal(t, models.EscrowStatusRolesClaimed, status.Escrow.Status)
	assert.Nil(t, status.Escrow.FundedAt)
}

func TestSyncFunding_IsSticky(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()

	expected := int64(100_000)
	escrow := f.seedEscrow(t, models.EscrowStatusRolesClaimed, &expected)
	f.ledger.balances[escrow.PublicKey] = 120_000

	first, err := f.svc.SyncFunding(ctx, escrow.ID)
	require.NoError(t, err)
	require.True(t, first.Funded)

	// Balance drains after release, funding flag must not regress.
	f.ledger.balances[escrow.PublicKey] = 0
	second, err := f.svc.SyncFunding(ctx, escrow.ID)
	require.NoError(t, err)
	assert.True(t, second.Funded)
	assert.Equal(t, first.Escrow.FundedAt, second.Escrow.FundedAt)
}

func TestSyncFunding_DisputedIsUntouched(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()

	expected := int64(100)
	escrow := f.seedEscrow(t, models.EscrowStatusDisputed, &expected)
	f.ledger.balances[escrow.PublicKey] = 1_000_000

	status, err := f.svc.SyncFunding(ctx, escrow.ID)
	require.NoError(t, err)
	assert.False(t, status.Funded)
	assert.Equal(t, models.EscrowStatusDisputed, status.Escrow.Status)
}

func TestSyncFunding_NoExpectedAmountNeedsConfirmedDeposit(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()

	escrow := f.seedEscrow(t, models.EscrowStatusRolesClaimed, nil)
	f.ledger.balances[escrow.PublicKey] = 50_000

	// Balance alone is not proof of funding.
	status, err := f.svc.SyncFunding(ctx, escrow.ID)
	require.NoError(t, err)
	assert.False(t, status.Funded)

	// Once a confirmed inbound transfer is visible, the deposit is recorded
	// and the escrow funds.
	f.ledger.signatures[escrow.PublicKey] = []solana.SignatureInfo{
		{Signature: "deposit-sig-1", Status: solana.CommitmentFinalized},
	}
	status, err = f.svc.SyncFunding(ctx, escrow.ID)
	require.NoError(t, err)
	assert.True(t, status.Funded)
	require.Len(t, status.Deposits, 1)
	assert.Equal(t, models.TxTypeDeposit, status.Deposits[0].TxType)
}

func TestSyncFunding_DepositScanIsIdempotent(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()

	expected := int64(10)
	escrow := f.seedEscrow(t, models.EscrowStatusRolesClaimed, &expected)
	f.ledger.balances[escrow.PublicKey] = 100
	f.ledger.signatures[escrow.PublicKey] = []solana.SignatureInfo{
		{Signature: "deposit-sig-1", Status: solana.CommitmentConfirmed},
	}

	_, err := f.svc.SyncFunding(ctx, escrow.ID)
	require.NoError(t, err)
	status, err := f.svc.SyncFunding(ctx, escrow.ID)
	require.NoError(t, err)

	txs, err := f.txs.ListByEscrow(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1, "rescan must not duplicate deposits")
	assert.Len(t, status.Deposits, 1)
}

func TestSyncFunding_GatewayDown(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()

	expected := int64(100)
	escrow := f.seedEscrow(t, models.EscrowStatusRolesClaimed, &expected)
	f.ledger.balanceErr = errors.New("rpc timeout")

	_, err := f.svc.SyncFunding(ctx, escrow.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindUpstreamUnavailable))
}

func TestMarkFunded(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()

	expected := int64(100)
	escrow := f.seedEscrow(t, models.EscrowStatusRolesClaimed, &expected)

	updated, err := f.svc.MarkFunded(ctx, "admin-1", escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusFunded, updated.Status)
	assert.NotNil(t, updated.FundedAt)

	// Idempotent.
	again, err := f.svc.MarkFunded(ctx, "admin-1", escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.FundedAt, again.FundedAt)
}

func TestReconcileActive(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()

	expected := int64(100)
	a := f.seedEscrow(t, models.EscrowStatusRolesClaimed, &expected)
	b := f.seedEscrow(t, models.EscrowStatusOpen, &expected)
	f.ledger.balances[a.PublicKey] = 200
	f.ledger.balances[b.PublicKey] = 0

	require.NoError(t, f.svc.ReconcileActive(ctx))

	refreshed, err := f.escrows.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusFunded, refreshed.Status)

	refreshed, err = f.escrows.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusOpen, refreshed.Status)
}

func TestRecordDeposit(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()

	escrow := f.seedEscrow(t, models.EscrowStatusRolesClaimed, nil)
	f.ledger.balances[escrow.PublicKey] = 500
	f.ledger.statuses["dep-1"] = &solana.TxStatus{Signature: "dep-1", Status: solana.CommitmentConfirmed}

	status, err := f.svc.RecordDeposit(ctx, "alice", false, escrow.ID, "dep-1")
	require.NoError(t, err)

	tx, err := f.txs.GetBySignature(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, models.TxTypeDeposit, tx.TxType)
	assert.Equal(t, models.TxStatusConfirmed, tx.Status)

	// The confirmed deposit makes the open-amount escrow funded.
	assert.True(t, status.Funded)

	// Recording the same signature twice is a no-op.
	_, err = f.svc.RecordDeposit(ctx, "alice", false, escrow.ID, "dep-1")
	require.NoError(t, err)
}

func TestRecordDeposit_Guards(t *testing.T) {
	f := newFundingFixture()
	ctx := context.Background()

	escrow := f.seedEscrow(t, models.EscrowStatusRolesClaimed, nil)

	_, err := f.svc.RecordDeposit(ctx, "mallory", false, escrow.ID, "dep-1")
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))

	_, err = f.svc.RecordDeposit(ctx, "alice", false, escrow.ID, "  ")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	chainErr := "insufficient funds"
	f.ledger.statuses["dep-bad"] = &solana.TxStatus{Signature: "dep-bad", Status: solana.CommitmentConfirmed, Err: &chainErr}
	_, err = f.svc.RecordDeposit(ctx, "alice", false, escrow.ID, "dep-bad")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	other := f.seedEscrow(t, models.EscrowStatusOpen, nil)
	f.ledger.statuses["dep-2"] = &solana.TxStatus{Signature: "dep-2", Status: solana.CommitmentConfirmed}
	_, err = f.svc.RecordDeposit(ctx, "alice", false, escrow.ID, "dep-2")
	require.NoError(t, err)
	_, err = f.svc.RecordDeposit(ctx, "alice", false, other.ID, "dep-2")
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

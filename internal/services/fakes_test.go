package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/secure-shuttle/backend/internal/events"
	"github.com/secure-shuttle/backend/internal/models"
	"github.com/secure-shuttle/backend/internal/repositories"
	"github.com/secure-shuttle/backend/internal/solana"
)

// In-memory store fakes mirroring the repository semantics, including the
// version counter discipline of UpdateVersioned.

type fakeEscrowStore struct {
	mu      sync.Mutex
	escrows map[uuid.UUID]*models.Escrow
}

func newFakeEscrowStore() *fakeEscrowStore {
	return &fakeEscrowStore{escrows: make(map[uuid.UUID]*models.Escrow)}
}

func (s *fakeEscrowStore) Create(_ context.Context, e *models.Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = uuid.New()
	e.Version = 0
	e.CreatedAt = time.Now().UTC()
	e.UpdatedAt = e.CreatedAt
	cp := *e
	s.escrows[e.ID] = &cp
	return nil
}

func (s *fakeEscrowStore) GetByID(_ context.Context, id uuid.UUID) (*models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escrows[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *fakeEscrowStore) GetByPublicID(_ context.Context, publicID string) (*models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.escrows {
		if e.PublicID == publicID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s *fakeEscrowStore) GetByInviteHash(_ context.Context, hash string) (*models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.escrows {
		if e.InviteTokenHash != nil && *e.InviteTokenHash == hash {
			cp := *e
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s *fakeEscrowStore) List(_ context.Context, f repositories.EscrowFilter) (int, []models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []models.Escrow
	for _, e := range s.escrows {
		if f.Status != nil && e.Status != *f.Status {
			continue
		}
		if f.ActorUserID != nil && !e.CanView(*f.ActorUserID) {
			continue
		}
		items = append(items, *e)
	}
	return len(items), items, nil
}

func (s *fakeEscrowStore) ListActive(_ context.Context, _ int) ([]models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []models.Escrow
	for _, e := range s.escrows {
		if models.IsTerminalStatus(e.Status) || e.Status == models.EscrowStatusDisputed || e.FundedAt != nil {
			continue
		}
		items = append(items, *e)
	}
	return items, nil
}

func (s *fakeEscrowStore) UpdateVersioned(_ context.Context, id uuid.UUID, expectedVersion int64, p repositories.EscrowPatch) (*models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escrows[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	if e.Version != expectedVersion {
		return nil, repositories.ErrVersionConflict
	}

	if p.Label != nil {
		e.Label = p.Label
	}
	if p.SenderAddress != nil {
		e.SenderAddress = p.SenderAddress
	}
	if p.RecipientAddress != nil {
		e.RecipientAddress = p.RecipientAddress
	}
	if p.ExpectedAmountLamports != nil {
		e.ExpectedAmountLamports = p.ExpectedAmountLamports
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.PayerUserID != nil {
		e.PayerUserID = p.PayerUserID
	}
	if p.PayeeUserID != nil {
		e.PayeeUserID = p.PayeeUserID
	}
	if p.SenderClaimedAt != nil {
		e.SenderClaimedAt = p.SenderClaimedAt
	}
	if p.RecipientClaimedAt != nil {
		e.RecipientClaimedAt = p.RecipientClaimedAt
	}
	if p.JoinTokenHash != nil {
		e.JoinTokenHash = p.JoinTokenHash
	}
	if p.JoinExpiresAt != nil {
		e.JoinExpiresAt = p.JoinExpiresAt
	}
	if p.InviteTokenHash != nil {
		e.InviteTokenHash = p.InviteTokenHash
	}
	if p.InviteExpiresAt != nil {
		e.InviteExpiresAt = p.InviteExpiresAt
	}
	if p.InviteUsedAt != nil {
		e.InviteUsedAt = p.InviteUsedAt
	}
	if p.AcceptedAt != nil {
		e.AcceptedAt = p.AcceptedAt
	}
	if p.FundedAt != nil {
		e.FundedAt = p.FundedAt
	}
	if p.ServiceMarkedCompleteAt != nil {
		e.ServiceMarkedCompleteAt = p.ServiceMarkedCompleteAt
	}
	if p.DisputedAt != nil {
		e.DisputedAt = p.DisputedAt
	}
	if p.DisputeReason != nil {
		e.DisputeReason = p.DisputeReason
	}
	if p.FinalizeNonce != nil {
		e.FinalizeNonce = *p.FinalizeNonce
	}
	if p.LastIntentHash != nil {
		e.LastIntentHash = p.LastIntentHash
	}
	if p.SettledSignature != nil {
		e.SettledSignature = p.SettledSignature
	}
	if p.FailureReason != nil {
		e.FailureReason = p.FailureReason
	} else if p.ClearFailureReason {
		e.FailureReason = nil
	}

	e.Version++
	e.UpdatedAt = time.Now().UTC()
	cp := *e
	return &cp, nil
}

func patchStatus(status string) repositories.EscrowPatch {
	return repositories.EscrowPatch{Status: &status}
}

func patchJoinExpiry(at time.Time) repositories.EscrowPatch {
	return repositories.EscrowPatch{JoinExpiresAt: &at}
}

type fakeTxStore struct {
	mu  sync.Mutex
	txs map[string]*models.Transaction
}

func newFakeTxStore() *fakeTxStore {
	return &fakeTxStore{txs: make(map[string]*models.Transaction)}
}

func (s *fakeTxStore) Create(_ context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.txs[t.Signature]; exists {
		return errors.New("duplicate signature")
	}
	t.ID = uuid.New()
	t.RecordedAt = time.Now().UTC()
	t.UpdatedAt = t.RecordedAt
	cp := *t
	s.txs[t.Signature] = &cp
	return nil
}

func (s *fakeTxStore) GetBySignature(_ context.Context, signature string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[signature]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeTxStore) FindByIntent(_ context.Context, escrowID uuid.UUID, txType, intentHash string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txs {
		if t.EscrowID == escrowID && t.TxType == txType && t.Status != models.TxStatusFailed &&
			t.IntentHash != nil && *t.IntentHash == intentHash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s *fakeTxStore) ListByEscrow(_ context.Context, escrowID uuid.UUID) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, t := range s.txs {
		if t.EscrowID == escrowID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *fakeTxStore) ListPending(_ context.Context, _ int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, t := range s.txs {
		if t.Status == models.TxStatusPending || t.Status == models.TxStatusWaiting {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *fakeTxStore) HasConfirmedDeposit(_ context.Context, escrowID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txs {
		if t.EscrowID == escrowID && t.TxType == models.TxTypeDeposit && t.Status == models.TxStatusConfirmed {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeTxStore) UpdateStatus(_ context.Context, signature, status string, rawError *string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[signature]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	if t.Status == models.TxStatusPending || t.Status == models.TxStatusWaiting {
		t.Status = status
		if rawError != nil {
			t.RawError = rawError
		}
		t.UpdatedAt = time.Now().UTC()
	}
	cp := *t
	return &cp, nil
}

type fakeDisputeStore struct {
	mu       sync.Mutex
	messages []models.DisputeMessage
}

func (s *fakeDisputeStore) CreateMessage(_ context.Context, m *models.DisputeMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = uuid.New()
	m.CreatedAt = time.Now().UTC()
	s.messages = append(s.messages, *m)
	return nil
}

func (s *fakeDisputeStore) ListByEscrow(_ context.Context, escrowID uuid.UUID) ([]models.DisputeMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DisputeMessage
	for _, m := range s.messages {
		if m.EscrowID == escrowID {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeRatingStore struct {
	mu      sync.Mutex
	ratings map[string]*models.EscrowRating
}

func newFakeRatingStore() *fakeRatingStore {
	return &fakeRatingStore{ratings: make(map[string]*models.EscrowRating)}
}

func ratingKey(escrowID uuid.UUID, from, to string) string {
	return fmt.Sprintf("%s|%s|%s", escrowID, from, to)
}

func (s *fakeRatingStore) Upsert(_ context.Context, r *models.EscrowRating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ratingKey(r.EscrowID, r.FromUserID, r.ToUserID)
	if existing, ok := s.ratings[key]; ok {
		existing.Score = r.Score
		existing.Comment = r.Comment
		existing.UpdatedAt = time.Now().UTC()
		*r = *existing
		return nil
	}
	r.ID = uuid.New()
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	s.ratings[key] = &cp
	return nil
}

func (s *fakeRatingStore) GetByRater(_ context.Context, escrowID uuid.UUID, fromUserID string) (*models.EscrowRating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.ratings {
		if r.EscrowID == escrowID && r.FromUserID == fromUserID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s *fakeRatingStore) ListByEscrow(_ context.Context, escrowID uuid.UUID) ([]models.EscrowRating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EscrowRating
	for _, r := range s.ratings {
		if r.EscrowID == escrowID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeRatingStore) UserSummary(_ context.Context, userID string) (int, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count, sum := 0, 0
	for _, r := range s.ratings {
		if r.ToUserID == userID {
			count++
			sum += r.Score
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	return count, float64(sum) / float64(count), nil
}

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (s *fakeAuditStore) Log(_ context.Context, entry models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeAuditStore) ListByEntity(_ context.Context, entityType string, entityID uuid.UUID, _, _ int) ([]models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditLog
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(_ context.Context, _ string, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) byType(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// fakeLedger scripts chain behavior per test.
type fakeLedger struct {
	mu          sync.Mutex
	balances    map[string]int64
	balanceErr  error
	submitErr   error
	submitCount int
	statuses    map[string]*solana.TxStatus
	statusErr   error
	signatures  map[string][]solana.SignatureInfo
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances:   make(map[string]int64),
		statuses:   make(map[string]*solana.TxStatus),
		signatures: make(map[string][]solana.SignatureInfo),
	}
}

func (l *fakeLedger) GetBalance(_ context.Context, address string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balanceErr != nil {
		return 0, l.balanceErr
	}
	return l.balances[address], nil
}

func (l *fakeLedger) SubmitTransfer(_ context.Context, _, toAddress string, lamports int64) (*solana.TransferResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.submitErr != nil {
		return nil, l.submitErr
	}
	l.submitCount++
	height := int64(1000 + l.submitCount)
	return &solana.TransferResult{
		Signature:            fmt.Sprintf("sig-%d-%s-%d", l.submitCount, toAddress, lamports),
		Status:               solana.TxStatusPendingValue,
		CommitmentTarget:     solana.CommitmentConfirmed,
		LastValidBlockHeight: height,
	}, nil
}

func (l *fakeLedger) GetTransactionStatus(_ context.Context, signature string) (*solana.TxStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.statusErr != nil {
		return nil, l.statusErr
	}
	if st, ok := l.statuses[signature]; ok {
		return st, nil
	}
	return &solana.TxStatus{Signature: signature, Status: solana.StatusNotFound}, nil
}

func (l *fakeLedger) ListRecentSignatures(_ context.Context, address string, _ int) ([]solana.SignatureInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.signatures[address], nil
}

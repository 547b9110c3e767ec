package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"splitpay-backend/models"

	"github.com/google/uuid"
)

// memSplitRepo is an in-memory SplitRepository with the same conditional-save
// semantics as the gorm implementation.
type memSplitRepo struct {
	mu     sync.Mutex
	splits map[uuid.UUID]*models.Split
}

func newMemSplitRepo() *memSplitRepo {
	return &memSplitRepo{splits: make(map[uuid.UUID]*models.Split)}
}

func copySplit(s *models.Split) *models.Split {
	dup := *s
	dup.Participants = make([]models.SplitParticipant, len(s.Participants))
	copy(dup.Participants, s.Participants)
	dup.Items = make([]models.SplitItem, len(s.Items))
	copy(dup.Items, s.Items)
	return &dup
}

func (r *memSplitRepo) Get(ctx context.Context, id uuid.UUID) (*models.Split, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.splits[id]
	if !ok {
		return nil, &models.NotFoundError{Resource: "split", ID: id.String()}
	}
	return copySplit(s), nil
}

func (r *memSplitRepo) ListByStatus(ctx context.Context, status models.SplitStatus, userID uuid.UUID) ([]models.Split, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Split
	for _, s := range r.splits {
		if s.Status != status {
			continue
		}
		if userID != uuid.Nil && s.Participant(userID) == nil {
			continue
		}
		out = append(out, *copySplit(s))
	}
	return out, nil
}

func (r *memSplitRepo) Create(ctx context.Context, split *models.Split) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if split.ID == uuid.Nil {
		split.ID = uuid.New()
	}
	r.splits[split.ID] = copySplit(split)
	return nil
}

func (r *memSplitRepo) Save(ctx context.Context, split *models.Split, expectedUpdatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.splits[split.ID]
	if !ok {
		return &models.NotFoundError{Resource: "split", ID: split.ID.String()}
	}
	if !stored.UpdatedAt.Equal(expectedUpdatedAt) {
		return &models.ConcurrencyConflictError{Resource: "split", ID: split.ID.String()}
	}
	split.UpdatedAt = time.Now()
	r.splits[split.ID] = copySplit(split)
	return nil
}

func (r *memSplitRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.splits, id)
	return nil
}

// memWalletRepo mirrors memSplitRepo for wallets.
type memWalletRepo struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*models.SplitWallet
}

func newMemWalletRepo() *memWalletRepo {
	return &memWalletRepo{wallets: make(map[uuid.UUID]*models.SplitWallet)}
}

func copyWallet(w *models.SplitWallet) *models.SplitWallet {
	dup := *w
	dup.Locks = make([]models.WalletLock, len(w.Locks))
	copy(dup.Locks, w.Locks)
	return &dup
}

func (r *memWalletRepo) Get(ctx context.Context, id uuid.UUID) (*models.SplitWallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[id]
	if !ok {
		return nil, &models.NotFoundError{Resource: "wallet", ID: id.String()}
	}
	return copyWallet(w), nil
}

func (r *memWalletRepo) GetBySplit(ctx context.Context, splitID uuid.UUID) (*models.SplitWallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wallets {
		if w.SplitID == splitID {
			return copyWallet(w), nil
		}
	}
	return nil, &models.NotFoundError{Resource: "wallet", ID: "split:" + splitID.String()}
}

func (r *memWalletRepo) Create(ctx context.Context, wallet *models.SplitWallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wallet.ID == uuid.Nil {
		wallet.ID = uuid.New()
	}
	r.wallets[wallet.ID] = copyWallet(wallet)
	return nil
}

func (r *memWalletRepo) Save(ctx context.Context, wallet *models.SplitWallet, expectedUpdatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.wallets[wallet.ID]
	if !ok {
		return &models.NotFoundError{Resource: "wallet", ID: wallet.ID.String()}
	}
	if !stored.UpdatedAt.Equal(expectedUpdatedAt) {
		return &models.ConcurrencyConflictError{Resource: "wallet", ID: wallet.ID.String()}
	}
	wallet.UpdatedAt = time.Now()
	r.wallets[wallet.ID] = copyWallet(wallet)
	return nil
}

// noopActivityLog drops audit rows.
type noopActivityLog struct{}

func (noopActivityLog) Record(ctx context.Context, activity *models.Activity) {}

// recordingNotifier captures notifications for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(userID uuid.UUID, eventKind string, payload map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventKind)
}

// fakeIdentity resolves every id in known; ids in flaky fail with a transient
// error, everything else is NotFound.
type fakeIdentity struct {
	mu    sync.Mutex
	known map[uuid.UUID]bool
	flaky map[uuid.UUID]bool
}

func newFakeIdentity(ids ...uuid.UUID) *fakeIdentity {
	known := make(map[uuid.UUID]bool)
	for _, id := range ids {
		known[id] = true
	}
	return &fakeIdentity{known: known, flaky: make(map[uuid.UUID]bool)}
}

func (f *fakeIdentity) markFlaky(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flaky[id] = true
}

func (f *fakeIdentity) ResolveUser(ctx context.Context, userID uuid.UUID) (*Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flaky[userID] {
		return nil, fmt.Errorf("identity service unavailable")
	}
	if !f.known[userID] {
		return nil, &models.NotFoundError{Resource: "user", ID: userID.String()}
	}
	return &Identity{Name: "user-" + userID.String()[:8]}, nil
}

// fakeRail counts calls so tests can assert at-most-once behavior.
type fakeRail struct {
	mu           sync.Mutex
	lockCalls    map[string]int
	releaseCalls int
	refundCalls  int
	failLock     bool
}

func newFakeRail() *fakeRail {
	return &fakeRail{lockCalls: make(map[string]int)}
}

func (r *fakeRail) CreateEscrowAddress(ctx context.Context, requiredTotal float64, currency string) (string, error) {
	return "escrow-" + uuid.NewString()[:8], nil
}

func (r *fakeRail) Lock(ctx context.Context, address, payerID string, amount float64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failLock {
		return "", fmt.Errorf("rail unavailable")
	}
	r.lockCalls[payerID]++
	return fmt.Sprintf("tx-%s-%d", payerID[:8], r.lockCalls[payerID]), nil
}

func (r *fakeRail) Release(ctx context.Context, address string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseCalls++
	return []string{"release-tx-1"}, nil
}

func (r *fakeRail) Refund(ctx context.Context, address string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refundCalls++
	return []string{"refund-tx-1"}, nil
}

package services

import (
	"context"
	"time"

	"splitpay-backend/models"

	"github.com/google/uuid"
)

// SplitRepository persists Split documents. Save is conditional on the
// updated_at value the caller read, which is what linearizes concurrent
// writers: a stale write comes back as ConcurrencyConflictError instead of
// silently merging.
type SplitRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Split, error)
	ListByStatus(ctx context.Context, status models.SplitStatus, userID uuid.UUID) ([]models.Split, error)
	Create(ctx context.Context, split *models.Split) error
	Save(ctx context.Context, split *models.Split, expectedUpdatedAt time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// WalletRepository persists SplitWallet documents. Wallet and split rows are
// never written inside one transaction; divergence between them is repaired
// by the coordinator's reconcile pass.
type WalletRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*models.SplitWallet, error)
	GetBySplit(ctx context.Context, splitID uuid.UUID) (*models.SplitWallet, error)
	Create(ctx context.Context, wallet *models.SplitWallet) error
	Save(ctx context.Context, wallet *models.SplitWallet, expectedUpdatedAt time.Time) error
}

// ActivityLog records audit rows. Failures are logged by implementations and
// never surfaced to the mutation that triggered them.
type ActivityLog interface {
	Record(ctx context.Context, activity *models.Activity)
}

// Identity is the resolved profile for a participant reference.
type Identity struct {
	Name          string
	DisplayHandle string
}

// IdentityResolver looks up user profiles. A NotFoundError marks the
// reference as dangling for the read-time integrity pass.
type IdentityResolver interface {
	ResolveUser(ctx context.Context, userID uuid.UUID) (*Identity, error)
}

// Notifier delivers fire-and-forget event notifications. Implementations must
// never block the caller on delivery or fail the triggering operation.
type Notifier interface {
	Notify(userID uuid.UUID, eventKind string, payload map[string]string)
}

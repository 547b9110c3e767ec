package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"splitpay-backend/models"
	"splitpay-backend/utils"

	"github.com/google/uuid"
)

// EscrowWalletCoordinator keeps the SplitWallet document synchronized with
// its Split document and mediates lock/release/refund requests to the payment
// rail. Split and wallet are never written inside one transaction; every
// cross-document step has a reconciliation fallback instead.
type EscrowWalletCoordinator struct {
	wallets  WalletRepository
	splits   SplitRepository
	rail     PaymentRail
	activity ActivityLog
	notifier Notifier
}

func NewEscrowWalletCoordinator(wallets WalletRepository, splits SplitRepository, rail PaymentRail, activity ActivityLog, notifier Notifier) *EscrowWalletCoordinator {
	return &EscrowWalletCoordinator{
		wallets:  wallets,
		splits:   splits,
		rail:     rail,
		activity: activity,
		notifier: notifier,
	}
}

// CreateWallet requests a fresh escrow address from the rail, persists the
// wallet, then writes the wallet id back onto the split. If the write-back
// fails the divergence is detected and repaired by Reconcile on a later read.
// Calling it again for a split that already has a wallet returns that wallet.
func (c *EscrowWalletCoordinator) CreateWallet(ctx context.Context, splitID uuid.UUID) (*models.SplitWallet, error) {
	split, err := c.splits.Get(ctx, splitID)
	if err != nil {
		return nil, err
	}

	if existing, err := c.wallets.GetBySplit(ctx, splitID); err == nil {
		return existing, nil
	} else {
		var notFound *models.NotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var address string
	err = utils.Retry(ctx, func() error {
		var railErr error
		address, railErr = c.rail.CreateEscrowAddress(ctx, split.TotalAmount, split.Currency)
		return railErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create escrow address: %w", err)
	}

	now := time.Now()
	wallet := &models.SplitWallet{
		ID:            uuid.New(),
		SplitID:       split.ID,
		BillID:        split.BillID,
		Address:       address,
		Currency:      split.Currency,
		RequiredTotal: split.TotalAmount,
		Status:        models.WalletStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.wallets.Create(ctx, wallet); err != nil {
		return nil, err
	}

	// Second store, second write. On failure the wallet exists with an empty
	// split.walletId, which is exactly the divergence Reconcile repairs.
	_, err = mutateSplit(ctx, c.splits, split.ID, func(s *models.Split) error {
		s.WalletID = wallet.ID.String()
		s.WalletAddress = wallet.Address
		if s.Status == models.SplitStatusDraft {
			return applyPatch(s, UpdateSplitPatch{Status: models.SplitStatusPending})
		}
		return nil
	})
	if err != nil {
		slog.Warn("wallet created but split write-back failed, reconcile will repair",
			"split_id", split.ID, "wallet_id", wallet.ID, "error", err)
	}

	c.activity.Record(ctx, &models.Activity{
		SplitID:     split.ID,
		UserID:      split.CreatorID,
		Type:        "wallet_created",
		ReferenceID: wallet.ID,
		Description: fmt.Sprintf("Escrow wallet %s created for \"%s\"", wallet.Address, split.Title),
	})
	return wallet, nil
}

// LockParticipantFunds is at-most-once per participant: a retry that finds
// the ledger already holding at least the requested amount succeeds without
// calling the rail again.
func (c *EscrowWalletCoordinator) LockParticipantFunds(ctx context.Context, walletID, userID uuid.UUID, amount float64) (*models.SplitWallet, error) {
	if amount <= 0 {
		return nil, &models.ValidationError{Reason: "lock amount must be positive"}
	}

	wallet, err := c.wallets.Get(ctx, walletID)
	if err != nil {
		return nil, err
	}
	split, err := c.splits.Get(ctx, wallet.SplitID)
	if err != nil {
		return nil, err
	}

	if existing := wallet.LockFor(userID); existing != nil && existing.Amount >= amount-models.SettleEpsilon {
		return wallet, nil
	}

	if wallet.Status != models.WalletStatusActive {
		return nil, &models.IllegalStateTransitionError{Resource: "wallet", From: string(wallet.Status), To: "lock"}
	}

	var already float64
	if existing := wallet.LockFor(userID); existing != nil {
		already = existing.Amount
	}
	remaining := wallet.RequiredTotal - (wallet.LockedTotal() - already)
	if amount > remaining+models.SettleEpsilon {
		return nil, &models.InsufficientFundsError{
			WalletID:  wallet.ID.String(),
			Requested: amount,
			Available: utils.RoundToTwo(remaining),
		}
	}
	// A fair-split participant never locks more than their own share.
	if split.SplitType != models.SplitTypeDegen {
		if p := split.Participant(userID); p != nil && amount > p.AmountOwed+models.SettleEpsilon {
			return nil, &models.ValidationError{Reason: "lock amount exceeds participant share"}
		}
	}

	var txRef string
	err = utils.Retry(ctx, func() error {
		var railErr error
		txRef, railErr = c.rail.Lock(ctx, wallet.Address, userID.String(), amount)
		return railErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to lock funds on rail: %w", err)
	}

	wallet, err = c.mutateWallet(ctx, walletID, func(w *models.SplitWallet) error {
		if existing := w.LockFor(userID); existing != nil && existing.Amount >= amount-models.SettleEpsilon {
			return nil // another retry won the race
		}
		// The pre-checks ran before the rail call; another locker may have
		// landed since, so repeat them against the fresh read.
		if w.Status != models.WalletStatusActive {
			return &models.IllegalStateTransitionError{Resource: "wallet", From: string(w.Status), To: "lock"}
		}
		var held float64
		if existing := w.LockFor(userID); existing != nil {
			held = existing.Amount
		}
		if free := w.RequiredTotal - (w.LockedTotal() - held); amount > free+models.SettleEpsilon {
			return &models.InsufficientFundsError{
				WalletID:  w.ID.String(),
				Requested: amount,
				Available: utils.RoundToTwo(free),
			}
		}
		if existing := w.LockFor(userID); existing != nil {
			existing.Amount = utils.RoundToTwo(amount)
			existing.TxRef = txRef
			existing.LockedAt = time.Now()
		} else {
			w.Locks = append(w.Locks, models.WalletLock{
				WalletID: w.ID,
				UserID:   userID,
				Amount:   utils.RoundToTwo(amount),
				TxRef:    txRef,
				LockedAt: time.Now(),
			})
		}
		if w.Status == models.WalletStatusActive && walletFullyFunded(split, w) {
			w.Status = models.WalletStatusFullyLocked
		}
		return nil
	})
	if err != nil {
		if models.IsPermanent(err) {
			slog.Warn("rail lock succeeded but ledger rejected it, wallet refund returns the funds",
				"wallet_id", walletID, "user_id", userID, "error", err)
		}
		return nil, err
	}

	// Second document. A failure here leaves the wallet ahead of the split,
	// which Reconcile detects and repairs on the next read.
	if err := c.syncSplitAfterLock(ctx, wallet, userID, amount, txRef); err != nil {
		slog.Warn("lock recorded but split update failed, reconcile will repair",
			"wallet_id", wallet.ID, "user_id", userID, "error", err)
	}

	c.activity.Record(ctx, &models.Activity{
		SplitID:     wallet.SplitID,
		UserID:      userID,
		Type:        "funds_locked",
		ReferenceID: wallet.ID,
		Description: fmt.Sprintf("%.2f %s locked in escrow", amount, wallet.Currency),
	})
	return wallet, nil
}

// walletFullyFunded reports whether every required participant has locked at
// least their share. For degen splits every participant owes the full total
// until the loser is picked, so only the ledger total is meaningful there.
func walletFullyFunded(split *models.Split, w *models.SplitWallet) bool {
	if w.LockedTotal() < w.RequiredTotal-models.SettleEpsilon {
		return false
	}
	if split.SplitType == models.SplitTypeDegen {
		return true
	}
	for _, p := range split.Participants {
		if p.Status == models.ParticipantDeclined || p.AmountOwed <= models.SettleEpsilon {
			continue
		}
		lock := w.LockFor(p.UserID)
		if lock == nil || lock.Amount < p.AmountOwed-models.SettleEpsilon {
			return false
		}
	}
	return true
}

func (c *EscrowWalletCoordinator) syncSplitAfterLock(ctx context.Context, wallet *models.SplitWallet, userID uuid.UUID, amount float64, txRef string) error {
	split, err := mutateSplit(ctx, c.splits, wallet.SplitID, func(s *models.Split) error {
		p := s.Participant(userID)
		if p == nil {
			return &models.NotFoundError{Resource: "participant", ID: userID.String()}
		}
		// Locking implies acceptance for participants who never responded.
		if p.Status == models.ParticipantPending || p.Status == models.ParticipantInvited {
			p.Status = models.ParticipantAccepted
		}
		if models.CanTransitionParticipant(p.Status, models.ParticipantLocked) {
			p.Status = models.ParticipantLocked
		}
		p.AmountPaid = utils.RoundToTwo(amount)
		p.TransactionRef = txRef
		now := time.Now()
		p.PaidAt = &now

		if wallet.Status == models.WalletStatusFullyLocked && models.CanTransitionSplit(s.Status, models.SplitStatusLocked) {
			s.Status = models.SplitStatusLocked
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.notifier.Notify(split.CreatorID, "funds_locked", map[string]string{
		"split_id": split.ID.String(),
		"user_id":  userID.String(),
	})
	return nil
}

// ReleaseFunds instructs the rail to disburse a fully locked wallet, marks it
// released and marks the split completed.
func (c *EscrowWalletCoordinator) ReleaseFunds(ctx context.Context, walletID uuid.UUID) ([]models.TransferReceipt, error) {
	wallet, err := c.wallets.Get(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet.Status == models.WalletStatusReleased {
		return nil, nil // already disbursed, nothing to redo
	}
	if wallet.Status != models.WalletStatusFullyLocked {
		return nil, &models.IllegalStateTransitionError{
			Resource: "wallet",
			From:     string(wallet.Status),
			To:       string(models.WalletStatusReleased),
		}
	}

	var txRefs []string
	err = utils.Retry(ctx, func() error {
		var railErr error
		txRefs, railErr = c.rail.Release(ctx, wallet.Address)
		return railErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to release funds on rail: %w", err)
	}

	wallet, err = c.mutateWallet(ctx, walletID, func(w *models.SplitWallet) error {
		if w.Status == models.WalletStatusReleased {
			return nil
		}
		if !models.CanTransitionWallet(w.Status, models.WalletStatusReleased) {
			return &models.IllegalStateTransitionError{Resource: "wallet", From: string(w.Status), To: string(models.WalletStatusReleased)}
		}
		w.Status = models.WalletStatusReleased
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := c.completeSplit(ctx, wallet.SplitID); err != nil {
		slog.Warn("wallet released but split completion failed, reconcile will repair",
			"wallet_id", wallet.ID, "split_id", wallet.SplitID, "error", err)
	}

	receipts := make([]models.TransferReceipt, 0, len(txRefs))
	for _, ref := range txRefs {
		receipts = append(receipts, models.TransferReceipt{TxRef: ref, Currency: wallet.Currency})
	}

	c.activity.Record(ctx, &models.Activity{
		SplitID:     wallet.SplitID,
		Type:        "funds_released",
		ReferenceID: wallet.ID,
		Description: fmt.Sprintf("Escrow released %.2f %s", wallet.LockedTotal(), wallet.Currency),
	})
	return receipts, nil
}

func (c *EscrowWalletCoordinator) completeSplit(ctx context.Context, splitID uuid.UUID) error {
	split, err := mutateSplit(ctx, c.splits, splitID, func(s *models.Split) error {
		if s.Status == models.SplitStatusCompleted {
			return nil
		}
		if models.CanTransitionSplit(s.Status, models.SplitStatusLocked) {
			s.Status = models.SplitStatusLocked
		}
		if !models.CanTransitionSplit(s.Status, models.SplitStatusCompleted) {
			return &models.IllegalStateTransitionError{Resource: "split", From: string(s.Status), To: string(models.SplitStatusCompleted)}
		}
		s.Status = models.SplitStatusCompleted
		for i := range s.Participants {
			p := &s.Participants[i]
			if p.Status == models.ParticipantLocked {
				p.Status = models.ParticipantPaid
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, p := range split.Participants {
		c.notifier.Notify(p.UserID, "funds_released", map[string]string{
			"split_id": split.ID.String(),
			"title":    split.Title,
		})
	}
	return nil
}

// RefundAndBurn returns any locked funds to their original lockers and marks
// the wallet burned. It is the required companion of deleting or cancelling a
// split after partial locking; the refund must succeed before the operation
// reports success.
func (c *EscrowWalletCoordinator) RefundAndBurn(ctx context.Context, walletID uuid.UUID, reason string) error {
	wallet, err := c.wallets.Get(ctx, walletID)
	if err != nil {
		return err
	}
	if wallet.Status == models.WalletStatusBurned {
		return nil
	}
	if !models.CanTransitionWallet(wallet.Status, models.WalletStatusBurned) {
		return &models.IllegalStateTransitionError{
			Resource: "wallet",
			From:     string(wallet.Status),
			To:       string(models.WalletStatusBurned),
		}
	}

	if len(wallet.Locks) > 0 {
		err = utils.Retry(ctx, func() error {
			_, railErr := c.rail.Refund(ctx, wallet.Address)
			return railErr
		})
		if err != nil {
			return fmt.Errorf("failed to refund escrow on rail: %w", err)
		}
	}

	wallet, err = c.mutateWallet(ctx, walletID, func(w *models.SplitWallet) error {
		if w.Status == models.WalletStatusBurned {
			return nil
		}
		if !models.CanTransitionWallet(w.Status, models.WalletStatusBurned) {
			return &models.IllegalStateTransitionError{Resource: "wallet", From: string(w.Status), To: string(models.WalletStatusBurned)}
		}
		w.Status = models.WalletStatusBurned
		return nil
	})
	if err != nil {
		return err
	}

	_, err = mutateSplit(ctx, c.splits, wallet.SplitID, func(s *models.Split) error {
		if s.Status == models.SplitStatusCancelled {
			return nil
		}
		if models.CanTransitionSplit(s.Status, models.SplitStatusCancelled) {
			s.Status = models.SplitStatusCancelled
		}
		return nil
	})
	if err != nil {
		slog.Warn("wallet burned but split cancellation failed, reconcile will repair",
			"wallet_id", wallet.ID, "split_id", wallet.SplitID, "error", err)
	}

	c.activity.Record(ctx, &models.Activity{
		SplitID:     wallet.SplitID,
		Type:        "wallet_burned",
		ReferenceID: wallet.ID,
		Description: fmt.Sprintf("Escrow burned: %s", reason),
	})
	for _, l := range wallet.Locks {
		c.notifier.Notify(l.UserID, "escrow_refunded", map[string]string{
			"split_id": wallet.SplitID.String(),
			"amount":   fmt.Sprintf("%.2f", l.Amount),
			"currency": wallet.Currency,
		})
	}
	return nil
}

// Reconcile is the standalone, repeatedly-safe repair pass for one split and
// its wallet. It detects every divergence the coordinator's two-store writes
// can leave behind and corrects it. A wallet referenced by the split but
// missing entirely cannot be repaired and surfaces as SyncDivergenceError.
func (c *EscrowWalletCoordinator) Reconcile(ctx context.Context, splitID uuid.UUID) error {
	split, err := c.splits.Get(ctx, splitID)
	if err != nil {
		return err
	}

	wallet, err := c.wallets.GetBySplit(ctx, splitID)
	if err != nil {
		var notFound *models.NotFoundError
		if errors.As(err, &notFound) {
			if split.WalletID == "" {
				return nil // no wallet yet, nothing to reconcile
			}
			return &models.SyncDivergenceError{
				SplitID: splitID.String(),
				Detail:  fmt.Sprintf("split references wallet %s but no wallet document exists", split.WalletID),
			}
		}
		return err
	}

	// Wallet exists but the split never got the write-back.
	if split.WalletID == "" || split.WalletAddress == "" {
		if _, err := mutateSplit(ctx, c.splits, splitID, func(s *models.Split) error {
			s.WalletID = wallet.ID.String()
			s.WalletAddress = wallet.Address
			if s.Status == models.SplitStatusDraft {
				s.Status = models.SplitStatusPending
			}
			return nil
		}); err != nil {
			return &models.SyncDivergenceError{SplitID: splitID.String(), Detail: "wallet id write-back repair failed: " + err.Error()}
		}
		slog.Info("reconcile: restored wallet reference on split", "split_id", splitID, "wallet_id", wallet.ID)
	}

	// Ledger ahead of wallet status.
	if wallet.Status == models.WalletStatusActive && walletFullyFunded(split, wallet) {
		if wallet, err = c.mutateWallet(ctx, wallet.ID, func(w *models.SplitWallet) error {
			if w.Status == models.WalletStatusActive && walletFullyFunded(split, w) {
				w.Status = models.WalletStatusFullyLocked
			}
			return nil
		}); err != nil {
			return err
		}
	}

	// Wallet ahead of split: replay ledger entries and terminal states.
	_, err = mutateSplit(ctx, c.splits, splitID, func(s *models.Split) error {
		for _, lock := range wallet.Locks {
			p := s.Participant(lock.UserID)
			if p == nil {
				continue
			}
			if p.Status != models.ParticipantLocked && p.Status != models.ParticipantPaid {
				if p.Status == models.ParticipantPending || p.Status == models.ParticipantInvited {
					p.Status = models.ParticipantAccepted
				}
				if models.CanTransitionParticipant(p.Status, models.ParticipantLocked) {
					p.Status = models.ParticipantLocked
				}
			}
			if p.AmountPaid < lock.Amount {
				p.AmountPaid = lock.Amount
			}
			if p.TransactionRef == "" {
				p.TransactionRef = lock.TxRef
			}
			if p.PaidAt == nil {
				lockedAt := lock.LockedAt
				p.PaidAt = &lockedAt
			}
		}

		switch wallet.Status {
		case models.WalletStatusFullyLocked:
			if models.CanTransitionSplit(s.Status, models.SplitStatusLocked) {
				s.Status = models.SplitStatusLocked
			}
		case models.WalletStatusReleased:
			if models.CanTransitionSplit(s.Status, models.SplitStatusLocked) {
				s.Status = models.SplitStatusLocked
			}
			if models.CanTransitionSplit(s.Status, models.SplitStatusCompleted) {
				s.Status = models.SplitStatusCompleted
			}
			for i := range s.Participants {
				if s.Participants[i].Status == models.ParticipantLocked {
					s.Participants[i].Status = models.ParticipantPaid
				}
			}
		case models.WalletStatusBurned:
			if models.CanTransitionSplit(s.Status, models.SplitStatusCancelled) {
				s.Status = models.SplitStatusCancelled
			}
		}
		return nil
	})
	if err != nil {
		return &models.SyncDivergenceError{SplitID: splitID.String(), Detail: "split repair failed: " + err.Error()}
	}
	return nil
}

// mutateWallet mirrors mutateSplit for the wallet document.
func (c *EscrowWalletCoordinator) mutateWallet(ctx context.Context, id uuid.UUID, fn func(*models.SplitWallet) error) (*models.SplitWallet, error) {
	var lastErr error
	for attempt := 0; attempt < utils.MaxAttempts; attempt++ {
		wallet, err := c.wallets.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		observed := wallet.UpdatedAt
		if err := fn(wallet); err != nil {
			return nil, err
		}
		if err := c.wallets.Save(ctx, wallet, observed); err != nil {
			var conflict *models.ConcurrencyConflictError
			if errors.As(err, &conflict) {
				lastErr = err
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(utils.Backoff(attempt)):
				}
				continue
			}
			return nil, err
		}
		return wallet, nil
	}
	return nil, lastErr
}

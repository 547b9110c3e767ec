package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"splitpay-backend/models"
	"splitpay-backend/utils"

	"github.com/google/uuid"
)

// BillDefaults fills fields the bill input left empty. It is supplied
// explicitly by the caller; nothing is read from shared process state.
type BillDefaults struct {
	Currency string
	Title    string
}

// ParticipantSeed is one participant in a createSplit call.
type ParticipantSeed struct {
	UserID        uuid.UUID
	Name          string
	WalletAddress string
	AmountOwed    float64 // manual shares only
}

// CreateSplitInput is the full bill input consumed by CreateSplit.
type CreateSplitInput struct {
	BillID       string
	Title        string
	TotalAmount  float64
	Currency     string
	SplitType    models.SplitType
	SplitMethod  models.SplitMethod
	CreatorID    uuid.UUID
	CreatorName  string
	Participants []ParticipantSeed
	Items        []models.SplitItem
	Defaults     BillDefaults
}

// SplitRecordStore owns the Split document lifecycle and participant list.
type SplitRecordStore struct {
	splits   SplitRepository
	identity IdentityResolver
	activity ActivityLog
	notifier Notifier
	calc     *BalanceCalculator
}

func NewSplitRecordStore(splits SplitRepository, identity IdentityResolver, activity ActivityLog, notifier Notifier) *SplitRecordStore {
	return &SplitRecordStore{
		splits:   splits,
		identity: identity,
		activity: activity,
		notifier: notifier,
		calc:     NewBalanceCalculator(),
	}
}

// CreateSplit validates the bill input and persists a new draft Split. The
// creator is always merged into the participant list and never left pending.
func (s *SplitRecordStore) CreateSplit(ctx context.Context, input CreateSplitInput) (*models.Split, error) {
	if input.TotalAmount <= 0 {
		return nil, &models.ValidationError{Reason: "total_amount must be positive"}
	}
	if input.CreatorID == uuid.Nil {
		return nil, &models.ValidationError{Reason: "creator_id is required"}
	}
	if len(input.Participants) == 0 {
		return nil, &models.ValidationError{Reason: "participants must not be empty"}
	}

	currency := input.Currency
	if currency == "" {
		currency = input.Defaults.Currency
	}
	if currency == "" {
		return nil, &models.ValidationError{Reason: "currency is required"}
	}
	title := input.Title
	if title == "" {
		title = input.Defaults.Title
	}

	splitType := input.SplitType
	if splitType == "" {
		splitType = models.SplitTypeFair
	}
	method := input.SplitMethod
	if splitType == models.SplitTypeFair && method == "" {
		method = models.SplitMethodEqual
	}

	now := time.Now()
	split := &models.Split{
		ID:          uuid.New(),
		BillID:      input.BillID,
		Title:       title,
		TotalAmount: utils.RoundToTwo(input.TotalAmount),
		Currency:    currency,
		SplitType:   splitType,
		SplitMethod: method,
		Status:      models.SplitStatusDraft,
		CreatorID:   input.CreatorID,
		Items:       input.Items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Merge-on-write from the start: duplicate userIds in the input collapse
	// into one entry.
	for _, seed := range input.Participants {
		mergeParticipant(split, models.SplitParticipant{
			UserID:        seed.UserID,
			Name:          seed.Name,
			WalletAddress: seed.WalletAddress,
			AmountOwed:    seed.AmountOwed,
			Status:        models.ParticipantPending,
			JoinedAt:      now,
		})
	}
	if split.Participant(input.CreatorID) == nil {
		mergeParticipant(split, models.SplitParticipant{
			UserID:   input.CreatorID,
			Name:     input.CreatorName,
			Status:   models.ParticipantAccepted,
			JoinedAt: now,
		})
	} else {
		split.Participant(input.CreatorID).Status = models.ParticipantAccepted
	}

	shares, err := s.calc.Shares(split)
	if err != nil {
		return nil, err
	}
	for i := range split.Participants {
		split.Participants[i].AmountOwed = shares[split.Participants[i].UserID]
	}

	if err := s.splits.Create(ctx, split); err != nil {
		return nil, err
	}

	s.activity.Record(ctx, &models.Activity{
		SplitID:     split.ID,
		UserID:      input.CreatorID,
		Type:        "split_created",
		ReferenceID: split.ID,
		Description: fmt.Sprintf("Split \"%s\" created (%s %.2f)", split.Title, split.Currency, split.TotalAmount),
	})
	for _, p := range split.Participants {
		if p.UserID != input.CreatorID {
			s.notifier.Notify(p.UserID, "split_invite", map[string]string{
				"split_id": split.ID.String(),
				"title":    split.Title,
			})
		}
	}

	return split, nil
}

// GetSplit reads one split, running the integrity pass before returning it.
func (s *SplitRecordStore) GetSplit(ctx context.Context, id uuid.UUID) (*models.Split, error) {
	split, err := s.splits.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.repairParticipants(ctx, split)
	return split, nil
}

// ListByStatus returns splits in the given status, optionally filtered to
// ones the user participates in. Each split gets the integrity pass.
func (s *SplitRecordStore) ListByStatus(ctx context.Context, status models.SplitStatus, userID uuid.UUID) ([]models.Split, error) {
	splits, err := s.splits.ListByStatus(ctx, status, userID)
	if err != nil {
		return nil, err
	}
	for i := range splits {
		s.repairParticipants(ctx, &splits[i])
	}
	return splits, nil
}

// UpdateSplitPatch carries the mutable top-level fields of a split.
type UpdateSplitPatch struct {
	Title        string
	TotalAmount  float64
	SplitMethod  models.SplitMethod
	Status       models.SplitStatus
	DegenLoserID *uuid.UUID
}

// UpdateSplit applies a partial update conditioned on the updatedAt value the
// caller last observed. On mismatch the caller gets ConcurrencyConflictError
// and is expected to re-read and retry.
func (s *SplitRecordStore) UpdateSplit(ctx context.Context, id uuid.UUID, patch UpdateSplitPatch, observedUpdatedAt time.Time) (*models.Split, error) {
	split, err := s.splits.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !split.UpdatedAt.Equal(observedUpdatedAt) {
		return nil, &models.ConcurrencyConflictError{Resource: "split", ID: id.String()}
	}
	if err := applyPatch(split, patch); err != nil {
		return nil, err
	}
	if err := s.refreshShares(split); err != nil {
		return nil, err
	}
	if err := s.splits.Save(ctx, split, observedUpdatedAt); err != nil {
		return nil, err
	}
	return split, nil
}

func applyPatch(split *models.Split, patch UpdateSplitPatch) error {
	if patch.Title != "" {
		split.Title = patch.Title
	}
	if patch.TotalAmount > 0 {
		split.TotalAmount = utils.RoundToTwo(patch.TotalAmount)
	}
	if patch.SplitMethod != "" {
		split.SplitMethod = patch.SplitMethod
	}
	if patch.DegenLoserID != nil {
		if split.SplitType != models.SplitTypeDegen {
			return &models.ValidationError{Reason: "degen_loser_id only applies to degen splits"}
		}
		if split.Participant(*patch.DegenLoserID) == nil {
			return &models.ValidationError{Reason: "degen loser must be a participant"}
		}
		split.DegenLoserID = patch.DegenLoserID
	}
	if patch.Status != "" && patch.Status != split.Status {
		if !models.CanTransitionSplit(split.Status, patch.Status) {
			return &models.IllegalStateTransitionError{Resource: "split", From: string(split.Status), To: string(patch.Status)}
		}
		split.Status = patch.Status
		// Leaving draft: the creator must not stay pending.
		if patch.Status != models.SplitStatusCancelled {
			if creator := split.Participant(split.CreatorID); creator != nil && creator.Status == models.ParticipantPending {
				creator.Status = models.ParticipantAccepted
			}
		}
	}
	return nil
}

// AddOrUpdateParticipant merges a participant into the split: an existing
// userId is updated in place (original joinedAt preserved), a new one is
// appended. Retried/concurrent calls therefore never append duplicates.
func (s *SplitRecordStore) AddOrUpdateParticipant(ctx context.Context, id uuid.UUID, participant models.SplitParticipant) (*models.Split, error) {
	split, err := s.mutate(ctx, id, func(split *models.Split) error {
		if participant.UserID == uuid.Nil {
			return &models.ValidationError{Reason: "participant user_id is required"}
		}
		if participant.JoinedAt.IsZero() {
			participant.JoinedAt = time.Now()
		}
		if participant.Status == "" {
			participant.Status = models.ParticipantPending
		}
		mergeParticipant(split, participant)
		return s.refreshShares(split)
	})
	if err != nil {
		return nil, err
	}

	s.activity.Record(ctx, &models.Activity{
		SplitID:     split.ID,
		UserID:      participant.UserID,
		Type:        "participant_joined",
		Description: fmt.Sprintf("%s joined the split", participant.Name),
	})
	return split, nil
}

// UpdateParticipantStatus moves one participant through the status machine.
// Repeating the same transition is an idempotent no-op success.
func (s *SplitRecordStore) UpdateParticipantStatus(ctx context.Context, id, userID uuid.UUID, status models.ParticipantStatus, amountPaid *float64, txRef string) (*models.Split, error) {
	var noop bool
	split, err := s.mutate(ctx, id, func(split *models.Split) error {
		p := split.Participant(userID)
		if p == nil {
			return &models.NotFoundError{Resource: "participant", ID: userID.String()}
		}
		if p.Status == status {
			noop = true
			return nil
		}
		if !models.CanTransitionParticipant(p.Status, status) {
			return &models.IllegalStateTransitionError{Resource: "participant", From: string(p.Status), To: string(status)}
		}
		if amountPaid != nil {
			if split.SplitType == models.SplitTypeFair && *amountPaid > p.AmountOwed+models.SettleEpsilon {
				return &models.ValidationError{Reason: "amount_paid exceeds amount_owed"}
			}
			p.AmountPaid = utils.RoundToTwo(*amountPaid)
		}
		if txRef != "" {
			p.TransactionRef = txRef
		}
		p.Status = status
		if status == models.ParticipantPaid || status == models.ParticipantLocked {
			now := time.Now()
			p.PaidAt = &now
		}
		return nil
	})
	if err != nil || noop {
		return split, err
	}

	s.notifier.Notify(split.CreatorID, "participant_status", map[string]string{
		"split_id": split.ID.String(),
		"user_id":  userID.String(),
		"status":   string(status),
	})
	return split, nil
}

// TransitionSplitStatus moves the split itself through its lifecycle, with
// the same idempotent no-op rule as participant transitions.
func (s *SplitRecordStore) TransitionSplitStatus(ctx context.Context, id uuid.UUID, status models.SplitStatus) (*models.Split, error) {
	return s.mutate(ctx, id, func(split *models.Split) error {
		if split.Status == status {
			return nil
		}
		return applyPatch(split, UpdateSplitPatch{Status: status})
	})
}

// DeleteSplit removes the split document. Cancellation of escrowed funds is
// the coordinator's job and must happen before this is called.
func (s *SplitRecordStore) DeleteSplit(ctx context.Context, id uuid.UUID) error {
	if _, err := s.splits.Get(ctx, id); err != nil {
		return err
	}
	return s.splits.Delete(ctx, id)
}

// ReminderResult is one participant's outcome from SendReminders.
type ReminderResult struct {
	UserID uuid.UUID `json:"user_id"`
	Sent   bool      `json:"sent"`
	Reason string    `json:"reason,omitempty"`
}

// SendReminders nudges every participant who has not locked or paid. Each
// outcome is reported independently; one failure never aborts the rest.
func (s *SplitRecordStore) SendReminders(ctx context.Context, id uuid.UUID) ([]ReminderResult, error) {
	split, err := s.GetSplit(ctx, id)
	if err != nil {
		return nil, err
	}

	var results []ReminderResult
	for _, p := range split.Participants {
		switch p.Status {
		case models.ParticipantPaid, models.ParticipantLocked, models.ParticipantDeclined:
			continue
		}
		if _, err := s.identity.ResolveUser(ctx, p.UserID); err != nil {
			results = append(results, ReminderResult{UserID: p.UserID, Sent: false, Reason: err.Error()})
			continue
		}
		s.notifier.Notify(p.UserID, "payment_reminder", map[string]string{
			"split_id": split.ID.String(),
			"title":    split.Title,
			"amount":   fmt.Sprintf("%.2f", p.AmountOwed),
			"currency": split.Currency,
		})
		results = append(results, ReminderResult{UserID: p.UserID, Sent: true})
	}

	s.activity.Record(ctx, &models.Activity{
		SplitID:     split.ID,
		UserID:      split.CreatorID,
		Type:        "reminder_sent",
		Description: fmt.Sprintf("Reminders sent for \"%s\"", split.Title),
	})
	return results, nil
}

func (s *SplitRecordStore) mutate(ctx context.Context, id uuid.UUID, fn func(*models.Split) error) (*models.Split, error) {
	return mutateSplit(ctx, s.splits, id, fn)
}

// mutateSplit runs fn against a fresh read of the split and saves
// conditionally, retrying on write conflicts with fresh reads in between.
// Conflicts are only surfaced after the attempt budget is exhausted.
func mutateSplit(ctx context.Context, splits SplitRepository, id uuid.UUID, fn func(*models.Split) error) (*models.Split, error) {
	var lastErr error
	for attempt := 0; attempt < utils.MaxAttempts; attempt++ {
		split, err := splits.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		observed := split.UpdatedAt
		if err := fn(split); err != nil {
			return nil, err
		}
		if err := splits.Save(ctx, split, observed); err != nil {
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
		return split, nil
	}
	return nil, lastErr
}

// refreshShares recomputes stored amount_owed from the current participant
// list and total. Manual shares are caller-supplied and left alone.
func (s *SplitRecordStore) refreshShares(split *models.Split) error {
	if split.SplitType != models.SplitTypeDegen && split.SplitMethod != models.SplitMethodEqual {
		return nil
	}
	shares, err := s.calc.Shares(split)
	if err != nil {
		return err
	}
	for i := range split.Participants {
		split.Participants[i].AmountOwed = shares[split.Participants[i].UserID]
	}
	return nil
}

// mergeParticipant updates an existing entry in place or appends a new one.
func mergeParticipant(split *models.Split, incoming models.SplitParticipant) {
	if existing := split.Participant(incoming.UserID); existing != nil {
		if incoming.Name != "" {
			existing.Name = incoming.Name
		}
		if incoming.WalletAddress != "" {
			existing.WalletAddress = incoming.WalletAddress
		}
		if incoming.AmountOwed > 0 {
			existing.AmountOwed = incoming.AmountOwed
		}
		if incoming.AmountPaid > 0 {
			existing.AmountPaid = incoming.AmountPaid
		}
		if incoming.Status != "" {
			existing.Status = incoming.Status
		}
		if incoming.TransactionRef != "" {
			existing.TransactionRef = incoming.TransactionRef
		}
		// JoinedAt deliberately untouched.
		return
	}
	incoming.SplitID = split.ID
	split.Participants = append(split.Participants, incoming)
}

// repairParticipants is the read-time integrity pass: it drops entries whose
// identity no longer resolves, collapses duplicates keeping the most recently
// joined, and persists the corrected list. The write-time invariant makes
// this a safety net for data written before it existed.
func (s *SplitRecordStore) repairParticipants(ctx context.Context, split *models.Split) {
	cleaned := make([]models.SplitParticipant, 0, len(split.Participants))
	seen := make(map[uuid.UUID]int)
	changed := false

	for _, p := range split.Participants {
		if _, err := s.identity.ResolveUser(ctx, p.UserID); err != nil {
			var notFound *models.NotFoundError
			if errors.As(err, &notFound) {
				slog.Warn("dropping dangling participant", "split_id", split.ID, "user_id", p.UserID)
				changed = true
				continue
			}
			// Resolver unavailable: keep the entry, repair on a later read.
		}
		if idx, dup := seen[p.UserID]; dup {
			changed = true
			if p.JoinedAt.After(cleaned[idx].JoinedAt) {
				cleaned[idx] = p
			}
			continue
		}
		seen[p.UserID] = len(cleaned)
		cleaned = append(cleaned, p)
	}

	if !changed {
		return
	}
	sort.SliceStable(cleaned, func(i, j int) bool { return cleaned[i].JoinedAt.Before(cleaned[j].JoinedAt) })
	observed := split.UpdatedAt
	split.Participants = cleaned
	if err := s.splits.Save(ctx, split, observed); err != nil {
		// Another writer got there first; their save re-triggers the pass.
		slog.Debug("integrity pass save skipped", "split_id", split.ID, "error", err)
	}
}

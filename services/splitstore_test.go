package services

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"splitpay-backend/models"

	"github.com/google/uuid"
)

func newTestStore(knownUsers ...uuid.UUID) (*SplitRecordStore, *memSplitRepo, *fakeIdentity) {
	repo := newMemSplitRepo()
	identity := newFakeIdentity(knownUsers...)
	store := NewSplitRecordStore(repo, identity, noopActivityLog{}, &recordingNotifier{})
	return store, repo, identity
}

func seedSplit(t *testing.T, store *SplitRecordStore, creator uuid.UUID, others ...uuid.UUID) *models.Split {
	t.Helper()
	input := CreateSplitInput{
		Title:       "Team dinner",
		TotalAmount: 90.00,
		Currency:    "USDC",
		SplitType:   models.SplitTypeFair,
		SplitMethod: models.SplitMethodEqual,
		CreatorID:   creator,
		CreatorName: "Creator",
		Participants: []ParticipantSeed{
			{UserID: creator, Name: "Creator"},
		},
	}
	for _, id := range others {
		input.Participants = append(input.Participants, ParticipantSeed{UserID: id, Name: "Friend"})
	}
	split, err := store.CreateSplit(context.Background(), input)
	if err != nil {
		t.Fatalf("CreateSplit() error: %v", err)
	}
	return split
}

func TestCreateSplitValidation(t *testing.T) {
	store, _, _ := newTestStore()
	ctx := context.Background()
	creator := uuid.New()

	tests := []struct {
		name  string
		input CreateSplitInput
	}{
		{
			name:  "missing total",
			input: CreateSplitInput{CreatorID: creator, Participants: []ParticipantSeed{{UserID: creator}}},
		},
		{
			name:  "empty participants",
			input: CreateSplitInput{CreatorID: creator, TotalAmount: 10},
		},
		{
			name: "no currency anywhere",
			input: CreateSplitInput{
				CreatorID:    creator,
				TotalAmount:  10,
				Participants: []ParticipantSeed{{UserID: creator}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.CreateSplit(ctx, tt.input)
			var validation *models.ValidationError
			if !errors.As(err, &validation) {
				t.Errorf("got %v, want ValidationError", err)
			}
		})
	}
}

func TestCreateSplitCreatorAlwaysPresent(t *testing.T) {
	store, _, _ := newTestStore()
	creator, other := uuid.New(), uuid.New()

	split := seedSplit(t, store, creator, other)

	p := split.Participant(creator)
	if p == nil {
		t.Fatal("creator missing from participants")
	}
	if p.Status == models.ParticipantPending {
		t.Errorf("creator status = pending, want a non-pending status")
	}
	if len(split.Participants) != 2 {
		t.Errorf("participant count = %d, want 2", len(split.Participants))
	}
}

func TestCreateSplitUsesDefaults(t *testing.T) {
	store, _, _ := newTestStore()
	creator := uuid.New()

	split, err := store.CreateSplit(context.Background(), CreateSplitInput{
		TotalAmount:  42.00,
		CreatorID:    creator,
		Participants: []ParticipantSeed{{UserID: creator}},
		Defaults:     BillDefaults{Currency: "USDC", Title: "Shared bill"},
	})
	if err != nil {
		t.Fatalf("CreateSplit() error: %v", err)
	}
	if split.Currency != "USDC" || split.Title != "Shared bill" {
		t.Errorf("defaults not applied: currency=%q title=%q", split.Currency, split.Title)
	}
}

func TestAddOrUpdateParticipantIdempotent(t *testing.T) {
	store, _, _ := newTestStore()
	creator, other := uuid.New(), uuid.New()
	split := seedSplit(t, store, creator)
	ctx := context.Background()

	participant := models.SplitParticipant{UserID: other, Name: "Bob", AmountOwed: 45.00}

	once, err := store.AddOrUpdateParticipant(ctx, split.ID, participant)
	if err != nil {
		t.Fatalf("AddOrUpdateParticipant() error: %v", err)
	}
	joined := once.Participant(other).JoinedAt

	twice, err := store.AddOrUpdateParticipant(ctx, split.ID, participant)
	if err != nil {
		t.Fatalf("second AddOrUpdateParticipant() error: %v", err)
	}

	if len(twice.Participants) != len(once.Participants) {
		t.Errorf("participant count changed on repeat call: %d vs %d", len(twice.Participants), len(once.Participants))
	}
	if !twice.Participant(other).JoinedAt.Equal(joined) {
		t.Error("joinedAt changed on repeat call, want original preserved")
	}

	var names []string
	for _, p := range twice.Participants {
		names = append(names, p.Name)
	}
	var namesOnce []string
	for _, p := range once.Participants {
		namesOnce = append(namesOnce, p.Name)
	}
	if !reflect.DeepEqual(names, namesOnce) {
		t.Errorf("participant list diverged: %v vs %v", names, namesOnce)
	}
}

func seedDegenSplit(t *testing.T, store *SplitRecordStore, creator uuid.UUID, others ...uuid.UUID) *models.Split {
	t.Helper()
	input := CreateSplitInput{
		Title:       "Loser pays",
		TotalAmount: 90.00,
		Currency:    "USDC",
		SplitType:   models.SplitTypeDegen,
		CreatorID:   creator,
		CreatorName: "Creator",
		Participants: []ParticipantSeed{
			{UserID: creator, Name: "Creator"},
		},
	}
	for _, id := range others {
		input.Participants = append(input.Participants, ParticipantSeed{UserID: id, Name: "Friend"})
	}
	split, err := store.CreateSplit(context.Background(), input)
	if err != nil {
		t.Fatalf("CreateSplit() error: %v", err)
	}
	return split
}

func TestMergeParticipantKeepsNameWhenOmitted(t *testing.T) {
	creator, other := uuid.New(), uuid.New()
	store, _, _ := newTestStore(creator, other)
	split := seedSplit(t, store, creator)
	ctx := context.Background()

	if _, err := store.AddOrUpdateParticipant(ctx, split.ID, models.SplitParticipant{UserID: other, Name: "Bob"}); err != nil {
		t.Fatalf("AddOrUpdateParticipant() error: %v", err)
	}

	// A retried call that only carries the wallet address must not blank
	// the stored name.
	updated, err := store.AddOrUpdateParticipant(ctx, split.ID, models.SplitParticipant{UserID: other, WalletAddress: "addr-1"})
	if err != nil {
		t.Fatalf("second AddOrUpdateParticipant() error: %v", err)
	}
	p := updated.Participant(other)
	if p.Name != "Bob" {
		t.Errorf("name = %q, want Bob preserved", p.Name)
	}
	if p.WalletAddress != "addr-1" {
		t.Errorf("wallet address = %q, want addr-1", p.WalletAddress)
	}
}

func TestAddParticipantRecomputesEqualShares(t *testing.T) {
	creator, b, c := uuid.New(), uuid.New(), uuid.New()
	store, _, _ := newTestStore(creator, b, c)
	split := seedSplit(t, store, creator, b) // 90.00 over two, 45.00 each
	ctx := context.Background()

	updated, err := store.AddOrUpdateParticipant(ctx, split.ID, models.SplitParticipant{UserID: c, Name: "Carol"})
	if err != nil {
		t.Fatalf("AddOrUpdateParticipant() error: %v", err)
	}

	if len(updated.Participants) != 3 {
		t.Fatalf("participant count = %d, want 3", len(updated.Participants))
	}
	var sum float64
	for _, p := range updated.Participants {
		if math.Abs(p.AmountOwed-30.00) > models.SettleEpsilon {
			t.Errorf("participant %s owes %.2f, want 30.00 after recompute", p.UserID, p.AmountOwed)
		}
		sum += p.AmountOwed
	}
	if math.Abs(sum-updated.TotalAmount) > 1e-9 {
		t.Errorf("shares sum to %.2f, want %.2f", sum, updated.TotalAmount)
	}
}

func TestUpdateSplitDegenLoserRefreshesShares(t *testing.T) {
	creator, loser := uuid.New(), uuid.New()
	store, _, _ := newTestStore(creator, loser)
	split := seedDegenSplit(t, store, creator, loser)
	ctx := context.Background()

	for _, p := range split.Participants {
		if p.AmountOwed != split.TotalAmount {
			t.Errorf("pre-loser: participant %s owes %.2f, want full total", p.UserID, p.AmountOwed)
		}
	}

	updated, err := store.UpdateSplit(ctx, split.ID, UpdateSplitPatch{DegenLoserID: &loser}, split.UpdatedAt)
	if err != nil {
		t.Fatalf("UpdateSplit() error: %v", err)
	}
	if got := updated.Participant(loser).AmountOwed; got != updated.TotalAmount {
		t.Errorf("loser owes %.2f, want %.2f", got, updated.TotalAmount)
	}
	if got := updated.Participant(creator).AmountOwed; got != 0 {
		t.Errorf("creator owes %.2f, want 0 once the loser is set", got)
	}
}

func TestUpdateParticipantStatusTransitions(t *testing.T) {
	creator, other := uuid.New(), uuid.New()

	tests := []struct {
		name        string
		prepare     []models.ParticipantStatus // applied in order
		target      models.ParticipantStatus
		wantErr     bool
		wantIllegal bool
	}{
		{"pending to invited", nil, models.ParticipantInvited, false, false},
		{"invited to accepted", []models.ParticipantStatus{models.ParticipantInvited}, models.ParticipantAccepted, false, false},
		{"accepted to paid", []models.ParticipantStatus{models.ParticipantAccepted}, models.ParticipantPaid, false, false},
		{"declined to paid is illegal", []models.ParticipantStatus{models.ParticipantDeclined}, models.ParticipantPaid, true, true},
		{"pending to paid is illegal", nil, models.ParticipantPaid, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _, _ := newTestStore()
			split := seedSplit(t, store, creator, other)
			ctx := context.Background()

			for _, status := range tt.prepare {
				if _, err := store.UpdateParticipantStatus(ctx, split.ID, other, status, nil, ""); err != nil {
					t.Fatalf("prepare transition to %s failed: %v", status, err)
				}
			}

			_, err := store.UpdateParticipantStatus(ctx, split.ID, other, tt.target, nil, "")
			if tt.wantErr {
				var illegal *models.IllegalStateTransitionError
				if !errors.As(err, &illegal) {
					t.Errorf("got %v, want IllegalStateTransitionError", err)
				}
				return
			}
			if err != nil {
				t.Errorf("UpdateParticipantStatus() error: %v", err)
			}
		})
	}
}

func TestUpdateParticipantStatusSameTransitionIsNoop(t *testing.T) {
	store, _, _ := newTestStore()
	creator, other := uuid.New(), uuid.New()
	split := seedSplit(t, store, creator, other)
	ctx := context.Background()

	if _, err := store.UpdateParticipantStatus(ctx, split.ID, other, models.ParticipantAccepted, nil, ""); err != nil {
		t.Fatalf("first transition error: %v", err)
	}
	again, err := store.UpdateParticipantStatus(ctx, split.ID, other, models.ParticipantAccepted, nil, "")
	if err != nil {
		t.Fatalf("repeated transition should be a no-op success, got: %v", err)
	}
	if again.Participant(other).Status != models.ParticipantAccepted {
		t.Errorf("status = %s, want accepted", again.Participant(other).Status)
	}
}

func TestUpdateParticipantStatusOverpaymentRejected(t *testing.T) {
	store, _, _ := newTestStore()
	creator, other := uuid.New(), uuid.New()
	split := seedSplit(t, store, creator, other) // 45.00 owed each
	ctx := context.Background()

	if _, err := store.UpdateParticipantStatus(ctx, split.ID, other, models.ParticipantAccepted, nil, ""); err != nil {
		t.Fatalf("accept error: %v", err)
	}

	over := 60.00
	_, err := store.UpdateParticipantStatus(ctx, split.ID, other, models.ParticipantPaid, &over, "tx-1")
	var validation *models.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("got %v, want ValidationError for amount_paid > amount_owed", err)
	}
}

func TestUpdateSplitStaleWriteRejected(t *testing.T) {
	creator, racer := uuid.New(), uuid.New()
	store, _, _ := newTestStore(creator, racer)
	split := seedSplit(t, store, creator)
	ctx := context.Background()

	stale := split.UpdatedAt

	// Another writer gets in first.
	if _, err := store.AddOrUpdateParticipant(ctx, split.ID, models.SplitParticipant{UserID: racer, Name: "Racer"}); err != nil {
		t.Fatalf("concurrent write error: %v", err)
	}

	_, err := store.UpdateSplit(ctx, split.ID, UpdateSplitPatch{Title: "New title"}, stale)
	var conflict *models.ConcurrencyConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("got %v, want ConcurrencyConflictError", err)
	}

	// Fresh read and retry succeeds.
	fresh, err := store.GetSplit(ctx, split.ID)
	if err != nil {
		t.Fatalf("GetSplit() error: %v", err)
	}
	updated, err := store.UpdateSplit(ctx, split.ID, UpdateSplitPatch{Title: "New title"}, fresh.UpdatedAt)
	if err != nil {
		t.Fatalf("retry after fresh read failed: %v", err)
	}
	if updated.Title != "New title" {
		t.Errorf("title = %q, want %q", updated.Title, "New title")
	}
}

func TestConcurrentParticipantUpdatesBothLand(t *testing.T) {
	creator, b, c := uuid.New(), uuid.New(), uuid.New()
	store, _, _ := newTestStore(creator, b, c)
	split := seedSplit(t, store, creator, b, c)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, userID := range []uuid.UUID{b, c} {
		wg.Add(1)
		go func(i int, userID uuid.UUID) {
			defer wg.Done()
			_, errs[i] = store.UpdateParticipantStatus(ctx, split.ID, userID, models.ParticipantAccepted, nil, "")
		}(i, userID)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("concurrent update %d failed: %v", i, err)
		}
	}

	final, err := store.GetSplit(ctx, split.ID)
	if err != nil {
		t.Fatalf("GetSplit() error: %v", err)
	}
	if final.Participant(b).Status != models.ParticipantAccepted {
		t.Errorf("participant B status = %s, want accepted", final.Participant(b).Status)
	}
	if final.Participant(c).Status != models.ParticipantAccepted {
		t.Errorf("participant C status = %s, want accepted", final.Participant(c).Status)
	}
}

func TestTransitionSplitStatus(t *testing.T) {
	store, _, _ := newTestStore()
	creator := uuid.New()
	split := seedSplit(t, store, creator)
	ctx := context.Background()

	got, err := store.TransitionSplitStatus(ctx, split.ID, models.SplitStatusPending)
	if err != nil {
		t.Fatalf("draft -> pending error: %v", err)
	}
	if got.Status != models.SplitStatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}

	_, err = store.TransitionSplitStatus(ctx, split.ID, models.SplitStatusCompleted)
	var illegal *models.IllegalStateTransitionError
	if !errors.As(err, &illegal) {
		t.Fatalf("pending -> completed: got %v, want IllegalStateTransitionError", err)
	}
}

func TestIntegrityPassRemovesDanglingAndDuplicates(t *testing.T) {
	creator, ghost, dup := uuid.New(), uuid.New(), uuid.New()
	repo := newMemSplitRepo()
	identity := newFakeIdentity(creator, dup)
	store := NewSplitRecordStore(repo, identity, noopActivityLog{}, &recordingNotifier{})
	ctx := context.Background()

	// Data written before the write-time invariant existed: a dangling
	// reference and a duplicated userId.
	now := time.Now()
	split := &models.Split{
		ID:          uuid.New(),
		Title:       "Old data",
		TotalAmount: 30,
		Currency:    "USDC",
		SplitType:   models.SplitTypeFair,
		SplitMethod: models.SplitMethodEqual,
		Status:      models.SplitStatusActive,
		CreatorID:   creator,
		UpdatedAt:   now,
		Participants: []models.SplitParticipant{
			{UserID: creator, Name: "Creator", Status: models.ParticipantAccepted, JoinedAt: now.Add(-3 * time.Hour)},
			{UserID: ghost, Name: "Ghost", Status: models.ParticipantPending, JoinedAt: now.Add(-2 * time.Hour)},
			{UserID: dup, Name: "Old entry", Status: models.ParticipantPending, JoinedAt: now.Add(-2 * time.Hour)},
			{UserID: dup, Name: "New entry", Status: models.ParticipantAccepted, JoinedAt: now.Add(-1 * time.Hour)},
		},
	}
	if err := repo.Create(ctx, split); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	got, err := store.GetSplit(ctx, split.ID)
	if err != nil {
		t.Fatalf("GetSplit() error: %v", err)
	}

	if len(got.Participants) != 2 {
		t.Fatalf("participant count = %d, want 2 (ghost dropped, duplicate collapsed)", len(got.Participants))
	}
	if got.Participant(ghost) != nil {
		t.Error("dangling participant survived the integrity pass")
	}
	kept := got.Participant(dup)
	if kept == nil || kept.Name != "New entry" {
		t.Errorf("duplicate collapse kept %+v, want the most recently joined entry", kept)
	}

	// The corrected list is persisted, not just returned.
	persisted, err := repo.Get(ctx, split.ID)
	if err != nil {
		t.Fatalf("repo.Get() error: %v", err)
	}
	if len(persisted.Participants) != 2 {
		t.Errorf("persisted participant count = %d, want 2", len(persisted.Participants))
	}
}

func TestSendRemindersPartialFailure(t *testing.T) {
	creator, reachable, unreachable := uuid.New(), uuid.New(), uuid.New()
	store, _, identity := newTestStore(creator, reachable, unreachable)
	split := seedSplit(t, store, creator, reachable, unreachable)
	ctx := context.Background()

	if _, err := store.UpdateParticipantStatus(ctx, split.ID, creator, models.ParticipantPaid, nil, ""); err != nil {
		t.Fatalf("creator paid transition error: %v", err)
	}
	identity.markFlaky(unreachable)

	// One resolver failure must not abort the other reminders.
	results, err := store.SendReminders(ctx, split.ID)
	if err != nil {
		t.Fatalf("SendReminders() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("result count = %d, want 2 (creator already paid)", len(results))
	}
	for _, r := range results {
		switch r.UserID {
		case reachable:
			if !r.Sent {
				t.Errorf("reminder for reachable participant not sent: %+v", r)
			}
		case unreachable:
			if r.Sent || r.Reason == "" {
				t.Errorf("unreachable participant should report a failure reason, got %+v", r)
			}
		default:
			t.Errorf("unexpected reminder result for %s", r.UserID)
		}
	}
}

func TestDeleteSplit(t *testing.T) {
	store, repo, _ := newTestStore()
	creator := uuid.New()
	split := seedSplit(t, store, creator)
	ctx := context.Background()

	if err := store.DeleteSplit(ctx, split.ID); err != nil {
		t.Fatalf("DeleteSplit() error: %v", err)
	}
	if _, err := repo.Get(ctx, split.ID); err == nil {
		t.Error("split still present after delete")
	}

	err := store.DeleteSplit(ctx, split.ID)
	var notFound *models.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("second delete: got %v, want NotFoundError", err)
	}
}

package workers

import (
	"context"
	"log"
	"log/slog"
	"time"

	"splitpay-backend/models"
	"splitpay-backend/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// Reconciler periodically sweeps non-terminal splits and repairs any
// divergence between each split and its escrow wallet. Divergence that cannot
// be repaired is logged loudly; it is never swallowed.
type Reconciler struct {
	scheduler   gocron.Scheduler
	store       *services.SplitRecordStore
	coordinator *services.EscrowWalletCoordinator
}

func NewReconciler(store *services.SplitRecordStore, coordinator *services.EscrowWalletCoordinator) *Reconciler {
	s, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}
	return &Reconciler{
		scheduler:   s,
		store:       store,
		coordinator: coordinator,
	}
}

// Start registers the sweep job and runs the scheduler in the background.
func (r *Reconciler) Start() {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(5*time.Minute),
		gocron.NewTask(r.sweep),
	)
	if err != nil {
		log.Fatalf("Failed to register reconcile job: %v", err)
	}
	r.scheduler.Start()
	log.Println("✅ Reconciliation worker started")
}

func (r *Reconciler) Stop() {
	if err := r.scheduler.Shutdown(); err != nil {
		slog.Warn("reconciler shutdown failed", "error", err)
	}
}

func (r *Reconciler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Draft is included: a wallet whose write-back onto the split failed
	// leaves the split in draft, and that orphan is exactly what the sweep
	// must find.
	statuses := []models.SplitStatus{
		models.SplitStatusDraft,
		models.SplitStatusPending,
		models.SplitStatusActive,
		models.SplitStatusLocked,
	}

	for _, status := range statuses {
		splits, err := r.store.ListByStatus(ctx, status, uuid.Nil)
		if err != nil {
			slog.Warn("reconcile sweep: list failed", "status", status, "error", err)
			continue
		}
		for _, split := range splits {
			if err := r.coordinator.Reconcile(ctx, split.ID); err != nil {
				// One split's failure never aborts the rest of the sweep.
				slog.Error("reconcile failed, escrow funds may be stuck",
					"split_id", split.ID, "error", err)
			}
		}
	}
}

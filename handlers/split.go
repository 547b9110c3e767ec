package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"splitpay-backend/config"
	"splitpay-backend/models"
	"splitpay-backend/services"
	"splitpay-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var (
	splitStore  *services.SplitRecordStore
	coordinator *services.EscrowWalletCoordinator
	calculator  *services.BalanceCalculator
	walletRepo  services.WalletRepository
)

// Setup wires the handler package to the core services. Called once from main.
func Setup(store *services.SplitRecordStore, coord *services.EscrowWalletCoordinator, wallets services.WalletRepository) {
	splitStore = store
	coordinator = coord
	calculator = services.NewBalanceCalculator()
	walletRepo = wallets
}

func isParticipant(split *models.Split, userID uuid.UUID) bool {
	return split.CreatorID == userID || split.Participant(userID) != nil
}

// POST /api/splits
func CreateSplit(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)

	var req models.CreateSplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	input := services.CreateSplitInput{
		BillID:      req.BillID,
		Title:       req.Title,
		TotalAmount: req.TotalAmount,
		Currency:    req.Currency,
		SplitType:   models.SplitType(req.SplitType),
		SplitMethod: models.SplitMethod(req.SplitMethod),
		CreatorID:   userID,
		Defaults: services.BillDefaults{
			Currency: config.AppConfig.DefaultCurrency,
			Title:    "Shared bill",
		},
	}
	for _, p := range req.Participants {
		pid, err := uuid.Parse(p.UserID)
		if err != nil {
			utils.BadRequest(c, "Invalid participant user ID: "+p.UserID)
			return
		}
		input.Participants = append(input.Participants, services.ParticipantSeed{
			UserID:        pid,
			Name:          p.Name,
			WalletAddress: p.WalletAddress,
			AmountOwed:    p.AmountOwed,
		})
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, models.SplitItem{
			Name:       item.Name,
			Amount:     item.Amount,
			AssignedTo: item.AssignedTo,
		})
	}

	split, err := splitStore.CreateSplit(c.Request.Context(), input)
	if err != nil {
		utils.DomainError(c, err)
		return
	}

	// Escrow wallet is created alongside the split. A failure here leaves the
	// split in draft; POST /api/splits/:id/wallet retries it.
	wallet, err := coordinator.CreateWallet(c.Request.Context(), split.ID)
	if err != nil {
		slog.Warn("split created but wallet creation failed", "split_id", split.ID, "error", err)
	}
	if refreshed, err := splitStore.GetSplit(c.Request.Context(), split.ID); err == nil {
		split = refreshed
	}

	utils.SuccessResponse(c, http.StatusCreated, "Split created", gin.H{
		"split":  split,
		"wallet": wallet,
	})
}

// GET /api/splits?status=active
func ListSplits(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)

	status := models.SplitStatus(c.DefaultQuery("status", string(models.SplitStatusActive)))
	splits, err := splitStore.ListByStatus(c.Request.Context(), status, userID)
	if err != nil {
		utils.DomainError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "", splits)
}

// GET /api/splits/:id
func GetSplit(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)
	splitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid split ID")
		return
	}

	split, err := splitStore.GetSplit(c.Request.Context(), splitID)
	if err != nil {
		utils.DomainError(c, err)
		return
	}
	if !isParticipant(split, userID) {
		utils.Unauthorized(c, "You are not a participant of this split")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "", split)
}

// PUT /api/splits/:id
func UpdateSplit(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)
	splitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid split ID")
		return
	}

	var req models.UpdateSplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}
	if req.UpdatedAt == nil {
		utils.BadRequest(c, "updated_at (last observed value) is required")
		return
	}

	split, err := splitStore.GetSplit(c.Request.Context(), splitID)
	if err != nil {
		utils.DomainError(c, err)
		return
	}
	if !isParticipant(split, userID) {
		utils.Unauthorized(c, "You are not a participant of this split")
		return
	}

	patch := services.UpdateSplitPatch{
		Title:       req.Title,
		TotalAmount: req.TotalAmount,
		SplitMethod: models.SplitMethod(req.SplitMethod),
		Status:      models.SplitStatus(req.Status),
	}
	if req.DegenLoserID != "" {
		loserID, err := uuid.Parse(req.DegenLoserID)
		if err != nil {
			utils.BadRequest(c, "Invalid degen_loser_id")
			return
		}
		patch.DegenLoserID = &loserID
	}

	updated, err := splitStore.UpdateSplit(c.Request.Context(), splitID, patch, *req.UpdatedAt)
	if err != nil {
		utils.DomainError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Split updated", updated)
}

// POST /api/splits/:id/participants
func AddParticipant(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)
	splitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid split ID")
		return
	}

	var req models.ParticipantInput
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}
	participantID, err := uuid.Parse(req.UserID)
	if err != nil {
		utils.BadRequest(c, "Invalid participant user ID")
		return
	}

	split, err := splitStore.GetSplit(c.Request.Context(), splitID)
	if err != nil {
		utils.DomainError(c, err)
		return
	}
	if !isParticipant(split, userID) {
		utils.Unauthorized(c, "You are not a participant of this split")
		return
	}

	updated, err := splitStore.AddOrUpdateParticipant(c.Request.Context(), splitID, models.SplitParticipant{
		UserID:        participantID,
		Name:          req.Name,
		WalletAddress: req.WalletAddress,
		AmountOwed:    req.AmountOwed,
	})
	if err != nil {
		utils.DomainError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Participant added", updated)
}

// PUT /api/splits/:id/participants/:uid/status
func UpdateParticipantStatus(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)
	splitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid split ID")
		return
	}
	participantID, err := uuid.Parse(c.Param("uid"))
	if err != nil {
		utils.BadRequest(c, "Invalid participant user ID")
		return
	}

	var req models.UpdateParticipantStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	split, err := splitStore.GetSplit(c.Request.Context(), splitID)
	if err != nil {
		utils.DomainError(c, err)
		return
	}
	if !isParticipant(split, userID) {
		utils.Unauthorized(c, "You are not a participant of this split")
		return
	}

	updated, err := splitStore.UpdateParticipantStatus(c.Request.Context(), splitID, participantID,
		models.ParticipantStatus(req.Status), req.AmountPaid, req.TransactionRef)
	if err != nil {
		utils.DomainError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Participant status updated", updated)
}

// DELETE /api/splits/:id
func DeleteSplit(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)
	splitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid split ID")
		return
	}

	split, err := splitStore.GetSplit(c.Request.Context(), splitID)
	if err != nil {
		utils.DomainError(c, err)
		return
	}
	if split.CreatorID != userID {
		utils.Unauthorized(c, "Only the creator can delete a split")
		return
	}

	// Escrowed funds must be refunded before the split document goes away.
	if wallet, err := walletRepo.GetBySplit(c.Request.Context(), splitID); err == nil {
		switch wallet.Status {
		case models.WalletStatusActive, models.WalletStatusFullyLocked:
			reason := fmt.Sprintf("split \"%s\" deleted", split.Title)
			if err := coordinator.RefundAndBurn(c.Request.Context(), wallet.ID, reason); err != nil {
				utils.DomainError(c, err)
				return
			}
		}
	}

	if err := splitStore.DeleteSplit(c.Request.Context(), splitID); err != nil {
		utils.DomainError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Split deleted", nil)
}

// POST /api/splits/:id/remind
func SendReminders(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)
	splitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid split ID")
		return
	}

	split, err := splitStore.GetSplit(c.Request.Context(), splitID)
	if err != nil {
		utils.DomainError(c, err)
		return
	}
	if split.CreatorID != userID {
		utils.Unauthorized(c, "Only the creator can send reminders")
		return
	}

	results, err := splitStore.SendReminders(c.Request.Context(), splitID)
	if err != nil {
		utils.DomainError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Reminders processed", results)
}

// POST /api/splits/:id/reconcile
func ReconcileSplit(c *gin.Context) {
	splitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid split ID")
		return
	}

	if err := coordinator.Reconcile(c.Request.Context(), splitID); err != nil {
		utils.DomainError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Reconciled", nil)
}

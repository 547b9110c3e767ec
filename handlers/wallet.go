package handlers

import (
	"net/http"

	"splitpay-backend/models"
	"splitpay-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// POST /api/splits/:id/wallet — create or fetch the escrow wallet.
func CreateWallet(c *gin.Context) {
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

	wallet, err := coordinator.CreateWallet(c.Request.Context(), splitID)
	if err != nil {
		utils.DomainError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Wallet ready", wallet)
}

// GET /api/splits/:id/wallet
func GetWallet(c *gin.Context) {
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

	wallet, err := walletRepo.GetBySplit(c.Request.Context(), splitID)
	if err != nil {
		utils.DomainError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "", wallet)
}

// POST /api/wallets/:id/lock — lock the current user's share in escrow.
func LockFunds(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)
	walletID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid wallet ID")
		return
	}

	var req models.LockFundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	wallet, err := coordinator.LockParticipantFunds(c.Request.Context(), walletID, userID, req.Amount)
	if err != nil {
		utils.DomainError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Funds locked", wallet)
}

// POST /api/wallets/:id/release — disburse a fully locked wallet.
func ReleaseFunds(c *gin.Context) {
	walletID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid wallet ID")
		return
	}

	wallet, err := walletRepo.Get(c.Request.Context(), walletID)
	if err != nil {
		utils.DomainError(c, err)
		return
	}
	split, err := splitStore.GetSplit(c.Request.Context(), wallet.SplitID)
	if err != nil {
		utils.DomainError(c, err)
		return
	}
	if split.CreatorID != utils.GetCurrentUserID(c) {
		utils.Unauthorized(c, "Only the creator can release escrow")
		return
	}

	receipts, err := coordinator.ReleaseFunds(c.Request.Context(), walletID)
	if err != nil {
		utils.DomainError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Escrow released", receipts)
}

// POST /api/wallets/:id/refund — refund lockers and burn the wallet.
func RefundWallet(c *gin.Context) {
	walletID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid wallet ID")
		return
	}

	var req models.RefundRequest
	c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "cancelled by user"
	}

	wallet, err := walletRepo.Get(c.Request.Context(), walletID)
	if err != nil {
		utils.DomainError(c, err)
		return
	}
	split, err := splitStore.GetSplit(c.Request.Context(), wallet.SplitID)
	if err != nil {
		utils.DomainError(c, err)
		return
	}
	if split.CreatorID != utils.GetCurrentUserID(c) {
		utils.Unauthorized(c, "Only the creator can refund escrow")
		return
	}

	if err := coordinator.RefundAndBurn(c.Request.Context(), walletID, req.Reason); err != nil {
		utils.DomainError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Escrow refunded and burned", nil)
}

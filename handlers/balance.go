package handlers

import (
	"net/http"

	"splitpay-backend/models"
	"splitpay-backend/services"
	"splitpay-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GET /api/splits/:id/balances
func GetBalances(c *gin.Context) {
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

	balances, err := calculator.Balances(split, services.PaymentsFromSplit(split))
	if err != nil {
		utils.DomainError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "", models.BalanceSummary{
		SplitID:   split.ID,
		Balances:  balances,
		TotalPaid: utils.RoundToTwo(split.TotalPaid()),
	})
}

// GET /api/splits/:id/settlement-plan
func GetSettlementPlan(c *gin.Context) {
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

	balances, err := calculator.Balances(split, services.PaymentsFromSplit(split))
	if err != nil {
		utils.DomainError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "", models.SettlementPlan{
		SplitID:   split.ID,
		Transfers: services.PlanSettlement(balances),
	})
}

package services

import (
	"math"
	"sort"

	"splitpay-backend/models"
	"splitpay-backend/utils"

	"github.com/google/uuid"
)

// PlanSettlement turns a set of balances into the minimal list of transfers
// that zeroes them. It is a pure function: no shared state, safe to call from
// any number of concurrent requesters.
//
// Balances in different currencies are planned independently; no
// cross-currency netting is performed. For n nonzero balances in one currency
// the plan contains at most n-1 transfers. If the input does not sum to ~zero
// the matching still runs to completion and the un-matchable remainder stays
// on the final debtor or creditor; callers must treat that as a
// data-integrity warning.
func PlanSettlement(balances []models.Balance) []models.Transfer {
	byCurrency := make(map[string][]models.Balance)
	var currencies []string
	for _, b := range balances {
		if _, seen := byCurrency[b.Currency]; !seen {
			currencies = append(currencies, b.Currency)
		}
		byCurrency[b.Currency] = append(byCurrency[b.Currency], b)
	}
	sort.Strings(currencies)

	var transfers []models.Transfer
	for _, currency := range currencies {
		transfers = append(transfers, planCurrency(currency, byCurrency[currency])...)
	}
	return transfers
}

type openBalance struct {
	userID uuid.UUID
	amount float64 // always positive
}

func planCurrency(currency string, balances []models.Balance) []models.Transfer {
	var debtors, creditors []openBalance
	for _, b := range balances {
		if math.Abs(b.Amount) < models.SettleEpsilon {
			continue
		}
		if b.Amount < 0 {
			debtors = append(debtors, openBalance{b.UserID, -b.Amount})
		} else {
			creditors = append(creditors, openBalance{b.UserID, b.Amount})
		}
	}

	// Largest magnitude first; user id breaks ties so the plan is
	// deterministic for identical inputs.
	byMagnitude := func(list []openBalance) func(i, j int) bool {
		return func(i, j int) bool {
			if list[i].amount != list[j].amount {
				return list[i].amount > list[j].amount
			}
			return list[i].userID.String() < list[j].userID.String()
		}
	}
	sort.Slice(debtors, byMagnitude(debtors))
	sort.Slice(creditors, byMagnitude(creditors))

	var transfers []models.Transfer
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := debtors[i].amount
		if creditors[j].amount < amount {
			amount = creditors[j].amount
		}
		amount = utils.RoundToTwo(amount)

		transfers = append(transfers, models.Transfer{
			From:     debtors[i].userID,
			To:       creditors[j].userID,
			Amount:   amount,
			Currency: currency,
		})

		debtors[i].amount = utils.RoundToTwo(debtors[i].amount - amount)
		creditors[j].amount = utils.RoundToTwo(creditors[j].amount - amount)

		if debtors[i].amount < models.SettleEpsilon {
			i++
		}
		if creditors[j].amount < models.SettleEpsilon {
			j++
		}
	}
	return transfers
}

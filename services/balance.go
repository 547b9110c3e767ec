package services

import (
	"math"

	"splitpay-backend/models"
	"splitpay-backend/utils"

	"github.com/google/uuid"
)

// BalanceCalculator derives per-participant balances from a split and its
// payment history. It holds no state and is safe for concurrent use.
type BalanceCalculator struct{}

func NewBalanceCalculator() *BalanceCalculator {
	return &BalanceCalculator{}
}

// Shares computes each participant's owed share in the split's currency.
//
// Fair/equal shares are computed in integer cents with the remainder assigned
// to the creator, so the shares always sum exactly to the total. Fair/manual
// shares come from the participants' own amountOwed fields; a participant
// without one is a validation error. Degen shares equal the full total for
// everyone until the loser is recorded, after which only the loser owes.
func (bc *BalanceCalculator) Shares(split *models.Split) (map[uuid.UUID]float64, error) {
	if len(split.Participants) == 0 {
		return nil, &models.ValidationError{Reason: "split has no participants"}
	}

	shares := make(map[uuid.UUID]float64, len(split.Participants))

	switch split.SplitType {
	case models.SplitTypeDegen:
		for _, p := range split.Participants {
			if split.DegenLoserID == nil {
				shares[p.UserID] = split.TotalAmount
			} else if p.UserID == *split.DegenLoserID {
				shares[p.UserID] = split.TotalAmount
			} else {
				shares[p.UserID] = 0
			}
		}
		return shares, nil

	case models.SplitTypeFair, "":
		// fall through below
	default:
		return nil, &models.ValidationError{Reason: "unknown split type " + string(split.SplitType)}
	}

	if split.SplitMethod == models.SplitMethodManual {
		var sum float64
		for _, p := range split.Participants {
			if p.AmountOwed <= 0 {
				return nil, &models.ValidationError{Reason: "manual split is missing a share for participant " + p.UserID.String()}
			}
			shares[p.UserID] = utils.RoundToTwo(p.AmountOwed)
			sum += p.AmountOwed
		}
		if math.Abs(sum-split.TotalAmount) > models.SettleEpsilon {
			return nil, &models.ValidationError{Reason: "manual shares do not sum to the total amount"}
		}
		return shares, nil
	}

	// Equal split in cents; remainder goes to the creator.
	totalCents := utils.Cents(split.TotalAmount)
	n := int64(len(split.Participants))
	base := totalCents / n
	remainder := totalCents - base*n

	for _, p := range split.Participants {
		cents := base
		if p.UserID == split.CreatorID {
			cents += remainder
		}
		shares[p.UserID] = utils.FromCents(cents)
	}
	return shares, nil
}

// PaymentsFromSplit derives payment events from what the split document
// already records about each participant.
func PaymentsFromSplit(split *models.Split) []models.PaymentEvent {
	var events []models.PaymentEvent
	for _, p := range split.Participants {
		if p.AmountPaid <= 0 {
			continue
		}
		event := models.PaymentEvent{
			UserID:   p.UserID,
			Amount:   p.AmountPaid,
			Currency: split.Currency,
		}
		if p.PaidAt != nil {
			event.PaidAt = *p.PaidAt
		}
		events = append(events, event)
	}
	return events
}

// Balances computes one Balance per participant per currency appearing in the
// split's history: balance = amountPaidByThem - shareOwedByThem. Results are
// derived fresh on every call and never cached.
func (bc *BalanceCalculator) Balances(split *models.Split, payments []models.PaymentEvent) ([]models.Balance, error) {
	shares, err := bc.Shares(split)
	if err != nil {
		return nil, err
	}

	paid := make(map[string]map[uuid.UUID]float64)
	addPaid := func(currency string, userID uuid.UUID, amount float64) {
		if paid[currency] == nil {
			paid[currency] = make(map[uuid.UUID]float64)
		}
		paid[currency][userID] += amount
	}
	for _, e := range payments {
		currency := e.Currency
		if currency == "" {
			currency = split.Currency
		}
		addPaid(currency, e.UserID, e.Amount)
	}
	// Shares owe in the split's own currency even when nobody paid yet.
	if paid[split.Currency] == nil {
		paid[split.Currency] = make(map[uuid.UUID]float64)
	}

	var balances []models.Balance
	for currency, byUser := range paid {
		for _, p := range split.Participants {
			amount := byUser[p.UserID]
			if currency == split.Currency {
				amount -= shares[p.UserID]
			}
			balances = append(balances, models.Balance{
				UserID:   p.UserID,
				Currency: currency,
				Amount:   utils.RoundToTwo(amount),
				Status:   deriveStatus(amount),
			})
		}
	}
	return balances, nil
}

func deriveStatus(amount float64) models.BalanceStatus {
	switch {
	case math.Abs(amount) < models.SettleEpsilon:
		return models.BalanceSettled
	case amount > 0:
		return models.BalanceGetsBack
	default:
		return models.BalanceOwes
	}
}

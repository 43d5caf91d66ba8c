package billing

import (
	"context"

	"billing-app/internal/domain/plans"
)

// PlanInfo is one purchasable plan with its live Stripe price.
type PlanInfo struct {
	Plan       string `json:"plan"`
	PriceID    string `json:"price_id"`
	UnitAmount int64  `json:"unit_amount"`
	Currency   string `json:"currency"`
	Display    string `json:"display"`
}

// ListPlans returns the configured plans in month, year order. Plans without
// a price id are left out.
func (s *Service) ListPlans(ctx context.Context) ([]PlanInfo, error) {
	p, err := s.stripe()
	if err != nil {
		return nil, err
	}
	out := []PlanInfo{}
	for _, plan := range []string{plans.Month, plans.Year} {
		priceID, err := s.catalog.PriceID(plan)
		if err != nil {
			continue
		}
		price, err := p.GetPrice(ctx, priceID)
		if err != nil {
			return nil, err
		}
		out = append(out, PlanInfo{
			Plan:       plan,
			PriceID:    price.ID,
			UnitAmount: price.UnitAmount,
			Currency:   price.Currency,
			Display:    formatAmount(price.UnitAmount, price.Currency),
		})
	}
	return out, nil
}

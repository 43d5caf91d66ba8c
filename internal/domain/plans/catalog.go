package plans

import (
	"errors"
	"strings"
)

// Plan identifiers exposed to clients. They double as the Stripe recurring interval.
const (
	Month = "month"
	Year  = "year"
)

var ErrUnknownPlan = errors.New("unknown plan")

// Catalog maps plan identifiers to Stripe price ids. It is static for the
// lifetime of the process.
type Catalog struct {
	prices map[string]string
}

func NewCatalog(monthPriceID, yearPriceID string) Catalog {
	return Catalog{prices: map[string]string{
		Month: strings.TrimSpace(monthPriceID),
		Year:  strings.TrimSpace(yearPriceID),
	}}
}

// Normalize lowercases and validates a client supplied plan.
func Normalize(plan string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(plan))
	switch p {
	case Month, Year:
		return p, nil
	}
	return "", ErrUnknownPlan
}

// PriceID returns the configured price for plan.
func (c Catalog) PriceID(plan string) (string, error) {
	p, err := Normalize(plan)
	if err != nil {
		return "", err
	}
	id := c.prices[p]
	if id == "" {
		return "", errors.New("no price configured for plan " + p)
	}
	return id, nil
}

// PlanForPrice is the reverse lookup; ok is false for prices outside the catalog.
func (c Catalog) PlanForPrice(priceID string) (string, bool) {
	if priceID == "" {
		return "", false
	}
	for plan, id := range c.prices {
		if id == priceID {
			return plan, true
		}
	}
	return "", false
}

package models

import "time"

// PremiumPlan is a purchasable tier with monthly and yearly pricing.
// Plans are managed by the admin dashboard and read-only to this service.
type PremiumPlan struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MonthlyPrice float64   `json:"monthly_price"`
	YearlyPrice  float64   `json:"yearly_price"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Price returns the plan price for the given billing period.
func (p *PremiumPlan) Price(period BillingPeriod) float64 {
	if period == BillingPeriodYearly {
		return p.YearlyPrice
	}
	return p.MonthlyPrice
}

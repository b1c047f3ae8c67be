package database

import (
	"context"
	"fmt"

	"github.com/mindgym/api/internal/models"
)

// GetPremiumPlan retrieves a premium plan by its ID
func (db *DB) GetPremiumPlan(ctx context.Context, planID string) (*models.PremiumPlan, error) {
	query := `
		SELECT id, name, monthly_price, yearly_price, created_at, updated_at
		FROM premium_plans
		WHERE id = $1
	`

	var plan models.PremiumPlan
	err := db.Pool.QueryRow(ctx, query, planID).Scan(
		&plan.ID,
		&plan.Name,
		&plan.MonthlyPrice,
		&plan.YearlyPrice,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("plan not found: %w", err)
	}

	return &plan, nil
}

// ListPremiumPlans returns all premium plans ordered by monthly price
func (db *DB) ListPremiumPlans(ctx context.Context) ([]models.PremiumPlan, error) {
	query := `
		SELECT id, name, monthly_price, yearly_price, created_at, updated_at
		FROM premium_plans
		ORDER BY monthly_price
	`

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []models.PremiumPlan
	for rows.Next() {
		var plan models.PremiumPlan
		if err := rows.Scan(
			&plan.ID,
			&plan.Name,
			&plan.MonthlyPrice,
			&plan.YearlyPrice,
			&plan.CreatedAt,
			&plan.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, plan)
	}

	return plans, rows.Err()
}

// UpsertPremiumPlan inserts or updates a premium plan. Used by seed tooling;
// plan content is otherwise managed by the admin dashboard.
func (db *DB) UpsertPremiumPlan(ctx context.Context, plan *models.PremiumPlan) error {
	query := `
		INSERT INTO premium_plans (id, name, monthly_price, yearly_price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    monthly_price = EXCLUDED.monthly_price,
		    yearly_price = EXCLUDED.yearly_price,
		    updated_at = NOW()
	`

	_, err := db.Pool.Exec(ctx, query, plan.ID, plan.Name, plan.MonthlyPrice, plan.YearlyPrice)
	if err != nil {
		return fmt.Errorf("failed to upsert plan: %w", err)
	}

	return nil
}

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mindgym/api/internal/models"
)

const userColumns = `id, email, password_hash, is_premium, premium_plan,
	premium_activated_at, premium_cancelled_at, stripe_customer_id, created_at, updated_at`

func scanUser(row interface{ Scan(dest ...any) error }) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.IsPremium,
		&user.PremiumPlan,
		&user.PremiumActivatedAt,
		&user.PremiumCancelledAt,
		&user.StripeCustomerID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a new user and returns the user model
func (db *DB) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	query := `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING ` + userColumns

	user, err := scanUser(db.Pool.QueryRow(ctx, query, email, passwordHash))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by email address
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(db.Pool.QueryRow(ctx, query, email))
	if err != nil {
		return nil, fmt.Errorf("user not found: %w", err)
	}

	return user, nil
}

// GetUserByID retrieves a user by ID
func (db *DB) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(db.Pool.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("user not found: %w", err)
	}

	return user, nil
}

// ActivateUserPremium marks a user as premium on the given plan
func (db *DB) ActivateUserPremium(ctx context.Context, userID uuid.UUID, planID string) error {
	query := `
		UPDATE users
		SET is_premium = true,
		    premium_plan = $2,
		    premium_activated_at = NOW(),
		    premium_cancelled_at = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`

	_, err := db.Pool.Exec(ctx, query, userID, planID)
	if err != nil {
		return fmt.Errorf("failed to activate premium: %w", err)
	}

	return nil
}

// RevokeUserPremium clears the premium entitlement for a user
func (db *DB) RevokeUserPremium(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE users
		SET is_premium = false,
		    premium_plan = NULL,
		    premium_cancelled_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`

	_, err := db.Pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke premium: %w", err)
	}

	return nil
}

// SetUserStripeCustomerID stores the provider customer id for a user
func (db *DB) SetUserStripeCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error {
	query := `
		UPDATE users
		SET stripe_customer_id = $2,
		    updated_at = NOW()
		WHERE id = $1
	`

	_, err := db.Pool.Exec(ctx, query, userID, customerID)
	if err != nil {
		return fmt.Errorf("failed to set stripe customer id: %w", err)
	}

	return nil
}

// CreateRefreshToken creates a refresh token in the database
func (db *DB) CreateRefreshToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	query := `
		INSERT INTO refresh_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)
	`

	_, err := db.Pool.Exec(ctx, query, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	return nil
}

// GetRefreshToken retrieves a refresh token with its user ID and expiry
func (db *DB) GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := `
		SELECT id, user_id, token, expires_at, created_at
		FROM refresh_tokens
		WHERE token = $1
	`

	var refreshToken models.RefreshToken
	err := db.Pool.QueryRow(ctx, query, token).Scan(
		&refreshToken.ID,
		&refreshToken.UserID,
		&refreshToken.Token,
		&refreshToken.ExpiresAt,
		&refreshToken.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("refresh token not found: %w", err)
	}

	return &refreshToken, nil
}

// DeleteRefreshToken removes a specific refresh token
func (db *DB) DeleteRefreshToken(ctx context.Context, token string) error {
	query := `DELETE FROM refresh_tokens WHERE token = $1`

	_, err := db.Pool.Exec(ctx, query, token)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}

	return nil
}

// DeleteUserRefreshTokens removes all refresh tokens for a user
func (db *DB) DeleteUserRefreshTokens(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM refresh_tokens WHERE user_id = $1`

	_, err := db.Pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user refresh tokens: %w", err)
	}

	return nil
}

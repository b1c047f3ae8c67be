package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID                 uuid.UUID  `json:"id"`
	Email              string     `json:"email"`
	PasswordHash       string     `json:"-"`
	IsPremium          bool       `json:"is_premium"`
	PremiumPlan        *string    `json:"premium_plan,omitempty"`
	PremiumActivatedAt *time.Time `json:"premium_activated_at,omitempty"`
	PremiumCancelledAt *time.Time `json:"premium_cancelled_at,omitempty"`
	StripeCustomerID   *string    `json:"stripe_customer_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type UserResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	IsPremium   bool      `json:"is_premium"`
	PremiumPlan *string   `json:"premium_plan,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		ID:          u.ID.String(),
		Email:       u.Email,
		IsPremium:   u.IsPremium,
		PremiumPlan: u.PremiumPlan,
		CreatedAt:   u.CreatedAt,
	}
}

type RefreshToken struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

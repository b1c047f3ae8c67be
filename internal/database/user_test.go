package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_CreateUser(t *testing.T) {
	db, cleanup := setupTest(t)
	defer cleanup()

	ctx := context.Background()
	email := RandomEmail()

	user, err := db.CreateUser(ctx, email, "password_hash")
	require.NoError(t, err, "CreateUser should not return an error")

	assert.NotZero(t, user.ID, "User ID should be set")
	assert.Equal(t, email, user.Email, "Email should match")
	assert.False(t, user.IsPremium, "Users should not be premium by default")
	assert.Nil(t, user.PremiumPlan, "PremiumPlan should be nil initially")
	assert.Nil(t, user.PremiumActivatedAt, "PremiumActivatedAt should be nil initially")
	assert.Nil(t, user.PremiumCancelledAt, "PremiumCancelledAt should be nil initially")
	assert.Nil(t, user.StripeCustomerID, "StripeCustomerID should be nil initially")
	assert.NotZero(t, user.CreatedAt, "CreatedAt should be set")
}

func Test_ActivateAndRevokeUserPremium(t *testing.T) {
	db, cleanup := setupTest(t)
	defer cleanup()

	ctx := context.Background()

	user, err := db.CreateUser(ctx, RandomEmail(), "password_hash")
	require.NoError(t, err)

	err = db.ActivateUserPremium(ctx, user.ID, "standard")
	require.NoError(t, err, "ActivateUserPremium should not return an error")

	activated, err := db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, activated.IsPremium, "User should be premium after activation")
	require.NotNil(t, activated.PremiumPlan)
	assert.Equal(t, "standard", *activated.PremiumPlan, "Premium plan should be recorded")
	assert.NotNil(t, activated.PremiumActivatedAt, "PremiumActivatedAt should be stamped")
	assert.Nil(t, activated.PremiumCancelledAt, "PremiumCancelledAt should be cleared on activation")

	err = db.RevokeUserPremium(ctx, user.ID)
	require.NoError(t, err, "RevokeUserPremium should not return an error")

	revoked, err := db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, revoked.IsPremium, "User should not be premium after revocation")
	assert.Nil(t, revoked.PremiumPlan, "Premium plan should be cleared")
	assert.NotNil(t, revoked.PremiumCancelledAt, "PremiumCancelledAt should be stamped")
}

func Test_DeleteUserRefreshTokens(t *testing.T) {
	db, cleanup := setupTest(t)
	defer cleanup()

	ctx := context.Background()

	user, err := db.CreateUser(ctx, RandomEmail(), "password_hash")
	require.NoError(t, err)
	other, err := db.CreateUser(ctx, RandomEmail(), "password_hash")
	require.NoError(t, err)

	expiresAt := time.Now().Add(24 * time.Hour)
	firstToken := RandomString(32)
	secondToken := RandomString(32)
	otherToken := RandomString(32)

	require.NoError(t, db.CreateRefreshToken(ctx, user.ID, firstToken, expiresAt))
	require.NoError(t, db.CreateRefreshToken(ctx, user.ID, secondToken, expiresAt))
	require.NoError(t, db.CreateRefreshToken(ctx, other.ID, otherToken, expiresAt))

	err = db.DeleteUserRefreshTokens(ctx, user.ID)
	require.NoError(t, err, "DeleteUserRefreshTokens should not return an error")

	_, err = db.GetRefreshToken(ctx, firstToken)
	assert.Error(t, err, "All of the user's tokens should be gone")
	_, err = db.GetRefreshToken(ctx, secondToken)
	assert.Error(t, err, "All of the user's tokens should be gone")

	kept, err := db.GetRefreshToken(ctx, otherToken)
	require.NoError(t, err, "Other users' tokens must survive")
	assert.Equal(t, other.ID, kept.UserID)
}

func Test_SetUserStripeCustomerID(t *testing.T) {
	db, cleanup := setupTest(t)
	defer cleanup()

	ctx := context.Background()

	user, err := db.CreateUser(ctx, RandomEmail(), "password_hash")
	require.NoError(t, err)

	customerID := "cus_" + RandomString(14)
	err = db.SetUserStripeCustomerID(ctx, user.ID, customerID)
	require.NoError(t, err, "SetUserStripeCustomerID should not return an error")

	updated, err := db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.StripeCustomerID)
	assert.Equal(t, customerID, *updated.StripeCustomerID)
}

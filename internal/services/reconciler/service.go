package reconciler

import (
	"context"
	"time"

	"github.com/mindgym/api/internal/database"
	"go.uber.org/zap"
)

// Config holds configuration for the reconciler service
type Config struct {
	// Interval is how often to run reconciliation (default: 15 minutes)
	Interval time.Duration
	// PastDueKeepsPremium mirrors the payment-failure policy: when true, a
	// past_due subscription still counts as entitling.
	PastDueKeepsPremium bool
	// BatchLimit caps how many drifted users are repaired per cycle
	BatchLimit int
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Interval:   15 * time.Minute,
		BatchLimit: 500,
	}
}

// Service repairs entitlement drift between users.is_premium and the
// subscriptions table, and prunes expired pending webhook events.
type Service struct {
	db     *database.DB
	config Config
	logger *zap.Logger
	stopCh chan struct{}
}

// NewService creates a new reconciler service
func NewService(db *database.DB, config Config, logger *zap.Logger) *Service {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.BatchLimit <= 0 {
		config.BatchLimit = DefaultConfig().BatchLimit
	}
	return &Service{
		db:     db,
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start begins the reconciler service
func (s *Service) Start(ctx context.Context) {
	// Run initial pass
	s.runReconcile(ctx)

	go func() {
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runReconcile(ctx)
			case <-s.stopCh:
				s.logger.Info("reconciler service stopped")
				return
			case <-ctx.Done():
				s.logger.Info("reconciler service context cancelled")
				return
			}
		}
	}()

	s.logger.Info("reconciler service started",
		zap.Duration("interval", s.config.Interval),
		zap.Bool("past_due_keeps_premium", s.config.PastDueKeepsPremium),
	)
}

// Stop stops the reconciler service
func (s *Service) Stop() {
	close(s.stopCh)
}

func (s *Service) runReconcile(ctx context.Context) {
	pruned, err := s.db.DeleteExpiredPendingEvents(ctx)
	if err != nil {
		s.logger.Error("failed to prune expired pending events", zap.Error(err))
	} else if pruned > 0 {
		s.logger.Info("pruned expired pending events", zap.Int64("count", pruned))
	}

	drifts, err := s.db.ListEntitlementDrift(ctx, s.config.PastDueKeepsPremium, s.config.BatchLimit)
	if err != nil {
		s.logger.Error("failed to list entitlement drift", zap.Error(err))
		return
	}

	if len(drifts) == 0 {
		return
	}

	s.logger.Info("repairing entitlement drift", zap.Int("count", len(drifts)))

	grantCount := 0
	revokeCount := 0
	failureCount := 0

	for _, drift := range drifts {
		if drift.ActivePlanID != nil {
			// Subscription says entitled but the flag is off
			if err := s.db.ActivateUserPremium(ctx, drift.UserID, *drift.ActivePlanID); err != nil {
				s.logger.Error("failed to grant premium",
					zap.String("user_id", drift.UserID.String()),
					zap.Error(err),
				)
				failureCount++
				continue
			}
			s.logger.Info("granted premium to drifted user",
				zap.String("user_id", drift.UserID.String()),
				zap.String("plan_id", *drift.ActivePlanID),
			)
			grantCount++
			continue
		}

		// Flag is on with no entitling subscription behind it
		if err := s.db.RevokeUserPremium(ctx, drift.UserID); err != nil {
			s.logger.Error("failed to revoke premium",
				zap.String("user_id", drift.UserID.String()),
				zap.Error(err),
			)
			failureCount++
			continue
		}
		s.logger.Info("revoked premium from drifted user",
			zap.String("user_id", drift.UserID.String()),
		)
		revokeCount++
	}

	s.logger.Info("reconcile cycle complete",
		zap.Int("granted", grantCount),
		zap.Int("revoked", revokeCount),
		zap.Int("failed", failureCount),
	)
}

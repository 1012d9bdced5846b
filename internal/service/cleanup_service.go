package service

import (
	"context"
	"log/slog"
	"time"
)

// CleanupService prunes expired refresh tokens and abandoned onboarding
// sessions. The consumed punch-token ledger is never pruned.
type CleanupService struct {
	tokens     RefreshTokenStore
	onboarding OnboardingStore
	now        func() time.Time
}

func NewCleanupService(tokens RefreshTokenStore, onboarding OnboardingStore) *CleanupService {
	return &CleanupService{
		tokens:     tokens,
		onboarding: onboarding,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *CleanupService) CleanupExpired(ctx context.Context) {
	now := s.now()

	tokens, err := s.tokens.CleanExpired(ctx, now)
	if err != nil {
		slog.Error("refresh token cleanup failed", "error", err)
	}

	sessions, err := s.onboarding.DeleteStaleSessions(ctx, now)
	if err != nil {
		slog.Error("onboarding session cleanup failed", "error", err)
	}

	if tokens > 0 || sessions > 0 {
		slog.Info("expired credentials pruned", "refresh_tokens", tokens, "onboarding_sessions", sessions)
	}
}

func (s *CleanupService) StartCleanupTicker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run once on startup to clear what expired while the service was down.
	s.CleanupExpired(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupExpired(ctx)
		}
	}
}

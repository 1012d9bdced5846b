package service

import (
	"context"
	"time"

	"chrona-backend/internal/model"
)

// Every mutating store method takes the audit entry describing it and
// persists that entry in the same transaction as the change.

type UserStore interface {
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, user model.User, audit model.AuditLogEntry) error
	UpdateRole(ctx context.Context, id string, role string, updatedAt time.Time, audit model.AuditLogEntry) (model.User, error)
}

type RefreshTokenStore interface {
	Store(ctx context.Context, token model.RefreshToken) error
	// Consume deletes the token and returns its owner, failing with
	// model.ErrTokenNotFound when it is unknown or expired.
	Consume(ctx context.Context, tokenHash string, now time.Time) (string, error)
	Revoke(ctx context.Context, tokenHash string) error
	CleanExpired(ctx context.Context, now time.Time) (int64, error)
}

type DeviceStore interface {
	Register(ctx context.Context, device model.Device, audit model.AuditLogEntry) error
	FindByID(ctx context.Context, id string) (model.Device, error)
	Revoke(ctx context.Context, id string, revokedAt time.Time, audit model.AuditLogEntry) (model.Device, error)
	List(ctx context.Context, filter model.DeviceFilter) ([]model.Device, error)
}

type KioskStore interface {
	Create(ctx context.Context, kiosk model.Kiosk, audit model.AuditLogEntry) error
	FindByID(ctx context.Context, id string) (model.Kiosk, error)
	FindByAPIKeyPrefix(ctx context.Context, prefix string) (model.Kiosk, error)
	FindByIP(ctx context.Context, ip string) (model.Kiosk, error)
	List(ctx context.Context) ([]model.Kiosk, error)
	Update(ctx context.Context, kiosk model.Kiosk, audit model.AuditLogEntry) error
	SetAPIKey(ctx context.Context, id string, prefix string, hash string, at time.Time, audit model.AuditLogEntry) error
	RecordHeartbeat(ctx context.Context, id string, heartbeat model.KioskHeartbeat, at time.Time, audit model.AuditLogEntry) (model.Kiosk, error)
	SetAccessMode(ctx context.Context, id string, mode model.KioskAccessMode, at time.Time, audit model.AuditLogEntry) error
	FindAccess(ctx context.Context, kioskID string, userID string) (*model.KioskAccessEntry, error)
	ListAccess(ctx context.Context, kioskID string) ([]model.KioskAccessEntry, error)
	UpsertAccess(ctx context.Context, entry model.KioskAccessEntry, audit model.AuditLogEntry) error
	DeleteAccess(ctx context.Context, kioskID string, userID string, audit model.AuditLogEntry) error
}

type PunchStore interface {
	// RecordPunch consumes punch.JTI in the ledger and writes the punch in
	// one transaction. A jti already in the ledger fails with
	// model.ErrTokenAlreadyUsed and nothing is written.
	RecordPunch(ctx context.Context, punch model.Punch, audit model.AuditLogEntry) error
	ListForUser(ctx context.Context, userID string, limit int, offset int) ([]model.Punch, int, error)
}

type OnboardingStore interface {
	CreateHRCode(ctx context.Context, code model.HRCode, audit model.AuditLogEntry) error
	FindHRCode(ctx context.Context, code string) (model.HRCode, error)
	FindActiveHRCodeByEmail(ctx context.Context, email string, now time.Time) (model.HRCode, error)
	ListHRCodes(ctx context.Context, includeUsed bool, includeExpired bool, now time.Time) ([]model.HRCode, error)

	// CreateSession invalidates any open session for the same email.
	CreateSession(ctx context.Context, session model.OnboardingSession, audit model.AuditLogEntry) error
	FindSession(ctx context.Context, tokenHash string) (model.OnboardingSession, error)
	// RecordOTPAttempt counts one verification attempt against a session
	// still awaiting its OTP and returns the updated session.
	RecordOTPAttempt(ctx context.Context, tokenHash string, maxAttempts int, now time.Time) (model.OnboardingSession, error)
	TransitionSession(ctx context.Context, tokenHash string, from model.OnboardingState, to model.OnboardingState, now time.Time, audit model.AuditLogEntry) error
	CompleteOnboarding(ctx context.Context, completion model.OnboardingCompletion, audit model.AuditLogEntry) error
	DeleteStaleSessions(ctx context.Context, before time.Time) (int64, error)
}

type AuditStore interface {
	Append(ctx context.Context, entry model.AuditLogEntry) error
	Query(ctx context.Context, query model.AuditQuery) ([]model.AuditLogEntry, model.Meta, error)
}

// Store bundles every store the services need.
type Store struct {
	Users         UserStore
	RefreshTokens RefreshTokenStore
	Devices       DeviceStore
	Kiosks        KioskStore
	Punches       PunchStore
	Onboarding    OnboardingStore
	Audit         AuditStore
}

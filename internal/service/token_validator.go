package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"chrona-backend/internal/event"
	"chrona-backend/internal/model"
	"chrona-backend/internal/ratelimit"
)

var tracer = otel.Tracer("chrona-backend/service")

// TokenValidator authenticates kiosks and turns a presented punch token
// into at most one punch. It never retries: a second attempt at the same
// jti is a replay by definition.
type TokenValidator struct {
	users   UserStore
	devices DeviceStore
	kiosks  KioskStore
	punches PunchStore
	signer  *PunchTokenSigner
	limiter ratelimit.Limiter
	audit   *AuditService
	bus     event.Bus
	now     func() time.Time

	dummyKeyHash []byte
}

func NewTokenValidator(store Store, signer *PunchTokenSigner, limiter ratelimit.Limiter, audit *AuditService, bus event.Bus, kioskKeyCost int) (*TokenValidator, error) {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if bus == nil {
		bus = event.Nop{}
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), normalizeCost(kioskKeyCost))
	if err != nil {
		return nil, err
	}

	return &TokenValidator{
		users:        store.Users,
		devices:      store.Devices,
		kiosks:       store.Kiosks,
		punches:      store.Punches,
		signer:       signer,
		limiter:      limiter,
		audit:        audit,
		bus:          bus,
		now:          func() time.Time { return time.Now().UTC() },
		dummyKeyHash: dummy,
	}, nil
}

// AuthenticateKiosk resolves an API key to its kiosk. Every failure is
// audited and answered with the same generic error, except for a valid
// key on a deactivated kiosk.
func (s *TokenValidator) AuthenticateKiosk(ctx context.Context, apiKey string, meta model.RequestMeta) (model.Kiosk, error) {
	fail := func(kioskID string, reason string, err error) (model.Kiosk, error) {
		entry := model.NewAuditEntry(model.AuditKioskAuthFailed, meta, s.now())
		entry.KioskID = kioskID
		entry.EventData = map[string]any{"reason": reason}
		s.audit.Record(ctx, entry)
		s.bus.Publish(event.New(event.TypeKioskAuthFailed, kioskID, map[string]string{"reason": reason, "ip": meta.IP}))

		slog.Warn("kiosk authentication failed", "kiosk_id", kioskID, "reason", reason, "ip", meta.IP)
		return model.Kiosk{}, err
	}

	if apiKey == "" {
		return fail("", "missing_key", model.ErrInvalidKioskKey)
	}

	prefix, ok := kioskKeyPrefix(apiKey)
	if !ok {
		return fail("", "malformed_key", model.ErrInvalidKioskKey)
	}

	kiosk, err := s.kiosks.FindByAPIKeyPrefix(ctx, prefix)
	if errors.Is(err, model.ErrKioskNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyKeyHash, []byte(apiKey))
		return fail("", "unknown_key", model.ErrInvalidKioskKey)
	}
	if err != nil {
		return model.Kiosk{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(kiosk.APIKeyHash), []byte(apiKey)) != nil {
		return fail(kiosk.ID, "key_mismatch", model.ErrInvalidKioskKey)
	}
	if !kiosk.IsActive {
		return fail(kiosk.ID, "kiosk_inactive", model.ErrKioskInactive)
	}

	return kiosk, nil
}

func (s *TokenValidator) Validate(ctx context.Context, kiosk model.Kiosk, req model.ValidatePunchRequest, meta model.RequestMeta) (model.PunchResult, error) {
	ctx, span := tracer.Start(ctx, "punch.validate", trace.WithAttributes(
		attribute.String("kiosk.id", kiosk.ID),
		attribute.String("punch.type", string(req.PunchType)),
	))
	defer span.End()

	now := s.now()

	if decision := ratelimit.FailOpen(ctx, s.limiter, "validate:"+kiosk.ID); !decision.Allowed {
		s.bus.Publish(event.New(event.TypeRateLimited, kiosk.ID, map[string]string{"scope": "validate", "kiosk_id": kiosk.ID}))
		return model.PunchResult{}, s.reject(ctx, span, "rate_limited", nil, model.ErrRateLimited.WithRetryAfter(decision.RetryAfter))
	}

	if req.KioskID != kiosk.ID {
		entry := model.NewAuditEntry(model.AuditPunchKioskMismatch, meta, now)
		entry.KioskID = kiosk.ID
		entry.EventData = map[string]any{"claimed_kiosk_id": req.KioskID}
		return model.PunchResult{}, s.reject(ctx, span, "kiosk_mismatch", &entry, model.ErrKioskMismatch)
	}
	if !req.PunchType.Valid() {
		return model.PunchResult{}, s.reject(ctx, span, "invalid_punch_type", nil,
			model.ErrInvalidInput.WithDetails("punch_type must be 'clock_in' or 'clock_out'"))
	}
	if req.QRToken == "" {
		return model.PunchResult{}, s.reject(ctx, span, "missing_token", nil,
			model.ErrInvalidInput.WithDetails("qr_token is required"))
	}

	claims, err := s.signer.Parse(req.QRToken, now)
	if err != nil {
		reason := "invalid_token"
		if errors.Is(err, model.ErrTokenExpired) {
			reason = "expired_token"
		}
		entry := model.NewAuditEntry(model.AuditPunchTokenRejected, meta, now)
		entry.KioskID = kiosk.ID
		entry.EventData = map[string]any{"reason": reason}
		return model.PunchResult{}, s.reject(ctx, span, reason, &entry, err)
	}

	span.SetAttributes(attribute.String("device.id", claims.DeviceID), attribute.String("user.id", claims.UserID))

	tokenRejected := func(reason string) error {
		entry := model.NewAuditEntry(model.AuditPunchTokenRejected, meta, now)
		entry.KioskID = kiosk.ID
		entry.EventData = map[string]any{"reason": reason, "jti": claims.JTI}
		return s.reject(ctx, span, reason, &entry, model.ErrTokenInvalid)
	}

	device, err := s.devices.FindByID(ctx, claims.DeviceID)
	if errors.Is(err, model.ErrDeviceNotFound) {
		return model.PunchResult{}, tokenRejected("unknown_device")
	}
	if err != nil {
		return model.PunchResult{}, s.fail(span, err)
	}
	if device.UserID != claims.UserID {
		return model.PunchResult{}, tokenRejected("device_owner_mismatch")
	}
	if device.Revoked {
		entry := model.NewAuditEntry(model.AuditPunchRevokedDevice, meta, now)
		entry.UserID = device.UserID
		entry.DeviceID = device.ID
		entry.KioskID = kiosk.ID
		entry.EventData = map[string]any{"jti": claims.JTI}
		return model.PunchResult{}, s.reject(ctx, span, "device_revoked", &entry, model.ErrDeviceRevoked)
	}

	if _, err := s.users.FindByID(ctx, claims.UserID); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.PunchResult{}, tokenRejected("unknown_user")
		}
		return model.PunchResult{}, s.fail(span, err)
	}

	if kiosk.AccessMode != model.AccessModePublic && kiosk.AccessMode != "" {
		access, err := s.kiosks.FindAccess(ctx, kiosk.ID, claims.UserID)
		if err != nil {
			return model.PunchResult{}, s.fail(span, err)
		}
		if !model.AccessAllowed(kiosk.AccessMode, access, now) {
			entry := model.NewAuditEntry(model.AuditPunchAccessDenied, meta, now)
			entry.UserID = claims.UserID
			entry.DeviceID = device.ID
			entry.KioskID = kiosk.ID
			entry.EventData = map[string]any{"access_mode": string(kiosk.AccessMode)}
			return model.PunchResult{}, s.reject(ctx, span, "access_denied", &entry, model.ErrKioskAccessDenied)
		}
	}

	punch := model.Punch{
		ID:        uuid.NewString(),
		UserID:    claims.UserID,
		DeviceID:  device.ID,
		KioskID:   kiosk.ID,
		PunchType: req.PunchType,
		PunchedAt: now,
		JTI:       claims.JTI,
	}

	entry := model.NewAuditEntry(model.AuditPunchValidated, meta, now)
	entry.UserID = punch.UserID
	entry.DeviceID = punch.DeviceID
	entry.KioskID = punch.KioskID
	entry.EventData = map[string]any{"punch_id": punch.ID, "punch_type": string(punch.PunchType), "jti": punch.JTI}

	if err := s.punches.RecordPunch(ctx, punch, entry); err != nil {
		if errors.Is(err, model.ErrTokenAlreadyUsed) {
			replay := model.NewAuditEntry(model.AuditPunchReplayAttempt, meta, now)
			replay.UserID = punch.UserID
			replay.DeviceID = punch.DeviceID
			replay.KioskID = punch.KioskID
			replay.EventData = map[string]any{"jti": punch.JTI, "punch_type": string(punch.PunchType)}
			return model.PunchResult{}, s.reject(ctx, span, "replay", &replay, err)
		}
		return model.PunchResult{}, s.fail(span, err)
	}

	span.SetAttributes(attribute.String("punch.id", punch.ID))
	s.bus.Publish(event.New(event.TypePunchRecorded, kiosk.ID, punch))
	slog.Info("punch recorded",
		"punch_id", punch.ID,
		"user_id", punch.UserID,
		"device_id", punch.DeviceID,
		"kiosk_id", punch.KioskID,
		"punch_type", punch.PunchType,
	)

	return model.PunchResult{
		Success:   true,
		PunchID:   punch.ID,
		PunchedAt: punch.PunchedAt,
		UserID:    punch.UserID,
		DeviceID:  punch.DeviceID,
		KioskID:   punch.KioskID,
		PunchType: punch.PunchType,
	}, nil
}

// reject writes the audit entry (when the rejection is security relevant),
// publishes the rejection, and returns err unchanged.
func (s *TokenValidator) reject(ctx context.Context, span trace.Span, reason string, entry *model.AuditLogEntry, err error) error {
	if entry != nil {
		s.audit.Record(ctx, *entry)
	}

	rejection := event.Rejection{Reason: reason}
	if entry != nil {
		rejection.KioskID, rejection.DeviceID, rejection.UserID = entry.KioskID, entry.DeviceID, entry.UserID
	}
	s.bus.Publish(event.New(event.TypePunchRejected, rejection.KioskID, rejection))

	span.SetAttributes(attribute.String("punch.rejected", reason))
	span.SetStatus(codes.Error, reason)
	slog.Warn("punch rejected", "reason", reason, "kiosk_id", rejection.KioskID, "device_id", rejection.DeviceID)

	return err
}

func (s *TokenValidator) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "store failure")
	return err
}

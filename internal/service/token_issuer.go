package service

import (
	"context"
	"log/slog"
	"time"

	"chrona-backend/internal/event"
	"chrona-backend/internal/model"
	"chrona-backend/internal/ratelimit"
)

// TokenIssuer mints punch tokens for a user's own, non-revoked device.
// Issuance writes nothing: single use is enforced when the token is
// validated. Refusals are audited.
type TokenIssuer struct {
	devices DeviceStore
	signer  *PunchTokenSigner
	limiter ratelimit.Limiter
	audit   *AuditService
	bus     event.Bus
	now     func() time.Time
}

func NewTokenIssuer(devices DeviceStore, signer *PunchTokenSigner, limiter ratelimit.Limiter, audit *AuditService, bus event.Bus) *TokenIssuer {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if bus == nil {
		bus = event.Nop{}
	}
	return &TokenIssuer{
		devices: devices,
		signer:  signer,
		limiter: limiter,
		audit:   audit,
		bus:     bus,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *TokenIssuer) RequestToken(ctx context.Context, userID string, deviceID string, meta model.RequestMeta) (model.PunchTokenGrant, error) {
	if deviceID == "" {
		return model.PunchTokenGrant{}, model.ErrInvalidInput.WithDetails("device_id is required")
	}

	device, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return model.PunchTokenGrant{}, err
	}
	// Someone else's device reads as missing so ids cannot be enumerated.
	if device.UserID != userID {
		s.refuse(ctx, model.AuditTokenIssueForeignDevice, userID, device.ID, map[string]any{"owner_id": device.UserID}, meta)
		return model.PunchTokenGrant{}, model.ErrDeviceNotFound
	}
	if device.Revoked {
		s.refuse(ctx, model.AuditTokenIssueRevokedDevice, userID, device.ID, nil, meta)
		s.bus.Publish(event.New(event.TypePunchRejected, userID, event.Rejection{Reason: "revoked_device_issue", UserID: userID, DeviceID: device.ID}))
		return model.PunchTokenGrant{}, model.ErrDeviceRevoked
	}

	if decision := ratelimit.FailOpen(ctx, s.limiter, "issue:"+deviceID); !decision.Allowed {
		slog.Warn("punch token issuance rate limited", "device_id", deviceID, "user_id", userID)
		s.refuse(ctx, model.AuditTokenIssueRateLimited, userID, device.ID, map[string]any{"retry_after_seconds": int64(decision.RetryAfter.Seconds())}, meta)
		s.bus.Publish(event.New(event.TypeRateLimited, userID, map[string]string{"scope": "issue", "device_id": deviceID}))
		return model.PunchTokenGrant{}, model.ErrRateLimited.WithRetryAfter(decision.RetryAfter)
	}

	token, claims, err := s.signer.Sign(userID, deviceID, s.now())
	if err != nil {
		return model.PunchTokenGrant{}, err
	}

	s.bus.Publish(event.New(event.TypeTokenIssued, userID, map[string]string{"device_id": deviceID}))

	return model.PunchTokenGrant{
		QRToken:   token,
		ExpiresIn: int64(s.signer.TTL().Seconds()),
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

func (s *TokenIssuer) refuse(ctx context.Context, eventType model.AuditEventType, userID string, deviceID string, data map[string]any, meta model.RequestMeta) {
	entry := model.NewAuditEntry(eventType, meta, s.now())
	entry.UserID = userID
	entry.DeviceID = deviceID
	entry.EventData = data
	s.audit.Record(ctx, entry)
}

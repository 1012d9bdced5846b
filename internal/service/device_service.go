package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"chrona-backend/internal/event"
	"chrona-backend/internal/model"
	"chrona-backend/internal/util"
)

const (
	maxFingerprintLength = 255
	maxDeviceNameLength  = 100
)

type DeviceService struct {
	devices DeviceStore
	bus     event.Bus
	now     func() time.Time
}

func NewDeviceService(devices DeviceStore, bus event.Bus) *DeviceService {
	if bus == nil {
		bus = event.Nop{}
	}
	return &DeviceService{
		devices: devices,
		bus:     bus,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *DeviceService) Register(ctx context.Context, userID string, req model.RegisterDeviceRequest, meta model.RequestMeta) (model.Device, error) {
	device, err := buildDevice(userID, req.DeviceFingerprint, req.DeviceName, req.AttestationData, s.now())
	if err != nil {
		return model.Device{}, err
	}

	entry := model.NewAuditEntry(model.AuditDeviceRegistered, meta, device.RegisteredAt)
	entry.UserID = userID
	entry.DeviceID = device.ID
	entry.EventData = map[string]any{"device_name": device.Name, "attestation_scheme": string(device.Attestation.Scheme)}

	if err := s.devices.Register(ctx, device, entry); err != nil {
		return model.Device{}, err
	}

	s.bus.Publish(event.New(event.TypeDeviceRegistered, userID, device))
	slog.Info("device registered", "device_id", device.ID, "user_id", userID)
	return device, nil
}

// Revoke is terminal. Owners may revoke their own devices and admins any
// device; anyone else sees the device as missing.
func (s *DeviceService) Revoke(ctx context.Context, actorID string, actorRole string, deviceID string, meta model.RequestMeta) (model.Device, error) {
	device, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return model.Device{}, err
	}
	if device.UserID != actorID && actorRole != model.RoleAdmin {
		return model.Device{}, model.ErrDeviceNotFound
	}
	if device.Revoked {
		return model.Device{}, model.ErrDeviceAlreadyRevoked
	}

	now := s.now()
	entry := model.NewAuditEntry(model.AuditDeviceRevoked, meta, now)
	entry.UserID = device.UserID
	entry.DeviceID = device.ID
	entry.EventData = map[string]any{"revoked_by": actorID}

	revoked, err := s.devices.Revoke(ctx, deviceID, now, entry)
	if err != nil {
		return model.Device{}, err
	}

	s.bus.Publish(event.New(event.TypeDeviceRevoked, actorID, revoked))
	slog.Info("device revoked", "device_id", deviceID, "user_id", device.UserID, "actor_id", actorID)
	return revoked, nil
}

func (s *DeviceService) ListForUser(ctx context.Context, userID string, includeRevoked bool) ([]model.Device, error) {
	return s.devices.List(ctx, model.DeviceFilter{UserID: userID, IncludeRevoked: includeRevoked})
}

func (s *DeviceService) List(ctx context.Context, filter model.DeviceFilter) ([]model.Device, error) {
	if filter.UserID != "" {
		if _, err := uuid.Parse(filter.UserID); err != nil {
			return nil, model.ErrInvalidInput.WithDetails("user_id must be a UUID")
		}
	}
	return s.devices.List(ctx, filter)
}

func buildDevice(userID string, fingerprint string, name string, attestation []byte, now time.Time) (model.Device, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	name = util.CleanLabel(name)

	if fingerprint == "" {
		return model.Device{}, model.ErrInvalidInput.WithDetails("device_fingerprint is required")
	}
	if len(fingerprint) > maxFingerprintLength {
		return model.Device{}, model.ErrInvalidInput.WithDetails(fmt.Sprintf("device_fingerprint exceeds %d characters", maxFingerprintLength))
	}
	if len(name) > maxDeviceNameLength {
		return model.Device{}, model.ErrInvalidInput.WithDetails(fmt.Sprintf("device_name exceeds %d characters", maxDeviceNameLength))
	}

	parsed, err := model.ParseAttestation(attestation)
	if err != nil {
		return model.Device{}, err
	}

	return model.Device{
		ID:           uuid.NewString(),
		UserID:       userID,
		Fingerprint:  fingerprint,
		Name:         name,
		Attestation:  parsed,
		RegisteredAt: now,
	}, nil
}

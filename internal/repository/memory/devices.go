package memory

import (
	"context"
	"time"

	"chrona-backend/internal/model"
)

type DeviceStore struct{ *db }

func (s *DeviceStore) Register(_ context.Context, d model.Device, audit model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertDeviceLocked(d); err != nil {
		return err
	}
	s.appendAuditLocked(audit)
	return nil
}

// insertDeviceLocked keeps fingerprints unique across revoked devices too.
func (d *db) insertDeviceLocked(device model.Device) error {
	for _, existing := range d.devices {
		if existing.Fingerprint == device.Fingerprint {
			return model.ErrDuplicateFingerprint
		}
	}
	d.devices[device.ID] = device
	return nil
}

func (s *DeviceStore) FindByID(_ context.Context, id string) (model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return model.Device{}, model.ErrDeviceNotFound
	}
	return d, nil
}

func (s *DeviceStore) Revoke(_ context.Context, id string, revokedAt time.Time, audit model.AuditLogEntry) (model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return model.Device{}, model.ErrDeviceNotFound
	}
	if d.Revoked {
		return model.Device{}, model.ErrDeviceAlreadyRevoked
	}

	d.Revoked = true
	d.RevokedAt = &revokedAt
	s.devices[id] = d
	s.appendAuditLocked(audit)
	return d, nil
}

func (s *DeviceStore) List(_ context.Context, filter model.DeviceFilter) ([]model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Device, 0)
	for _, d := range s.devices {
		if filter.UserID != "" && d.UserID != filter.UserID {
			continue
		}
		if d.Revoked && !filter.IncludeRevoked {
			continue
		}
		out = append(out, d)
	}
	sortByTimeDesc(out, func(d model.Device) int64 { return d.RegisteredAt.UnixNano() })
	return out, nil
}

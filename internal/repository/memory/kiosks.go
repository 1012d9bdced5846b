package memory

import (
	"context"
	"sort"
	"time"

	"chrona-backend/internal/model"
)

type KioskStore struct{ *db }

func (s *KioskStore) nameTakenLocked(name string, exceptID string) bool {
	for _, k := range s.kiosks {
		if k.ID != exceptID && k.Name == name {
			return true
		}
	}
	return false
}

func (s *KioskStore) Create(_ context.Context, k model.Kiosk, audit model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nameTakenLocked(k.Name, "") {
		return model.ErrDuplicateKioskName
	}
	s.kiosks[k.ID] = k
	s.appendAuditLocked(audit)
	return nil
}

func (s *KioskStore) FindByID(_ context.Context, id string) (model.Kiosk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.kiosks[id]
	if !ok {
		return model.Kiosk{}, model.ErrKioskNotFound
	}
	return k, nil
}

func (s *KioskStore) FindByAPIKeyPrefix(_ context.Context, prefix string) (model.Kiosk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.kiosks {
		if prefix != "" && k.APIKeyPrefix == prefix {
			return k, nil
		}
	}
	return model.Kiosk{}, model.ErrKioskNotFound
}

func (s *KioskStore) FindByIP(_ context.Context, ip string) (model.Kiosk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		found model.Kiosk
		ok    bool
	)
	for _, k := range s.kiosks {
		if ip == "" || k.IPAddress != ip || !k.IsActive {
			continue
		}
		if !ok || k.CreatedAt.Before(found.CreatedAt) {
			found, ok = k, true
		}
	}
	if !ok {
		return model.Kiosk{}, model.ErrKioskNotFound
	}
	return found, nil
}

func (s *KioskStore) List(_ context.Context) ([]model.Kiosk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kiosks := make([]model.Kiosk, 0, len(s.kiosks))
	for _, k := range s.kiosks {
		kiosks = append(kiosks, k)
	}
	sort.Slice(kiosks, func(i, j int) bool { return kiosks[i].Name < kiosks[j].Name })
	return kiosks, nil
}

func (s *KioskStore) Update(_ context.Context, k model.Kiosk, audit model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.kiosks[k.ID]
	if !ok {
		return model.ErrKioskNotFound
	}
	if s.nameTakenLocked(k.Name, k.ID) {
		return model.ErrDuplicateKioskName
	}

	current.Name = k.Name
	current.Location = k.Location
	current.IPAddress = k.IPAddress
	current.IsActive = k.IsActive
	current.UpdatedAt = k.UpdatedAt
	s.kiosks[k.ID] = current
	s.appendAuditLocked(audit)
	return nil
}

func (s *KioskStore) SetAPIKey(_ context.Context, id string, prefix string, hash string, at time.Time, audit model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.kiosks[id]
	if !ok {
		return model.ErrKioskNotFound
	}
	k.APIKeyPrefix = prefix
	k.APIKeyHash = hash
	k.UpdatedAt = at
	s.kiosks[id] = k
	s.appendAuditLocked(audit)
	return nil
}

func (s *KioskStore) RecordHeartbeat(_ context.Context, id string, hb model.KioskHeartbeat, at time.Time, audit model.AuditLogEntry) (model.Kiosk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.kiosks[id]
	if !ok {
		return model.Kiosk{}, model.ErrKioskNotFound
	}
	k.LastHeartbeatAt = &at
	if hb.AppVersion != "" {
		k.AppVersion = hb.AppVersion
	}
	if hb.DeviceInfo != "" {
		k.DeviceInfo = hb.DeviceInfo
	}
	s.kiosks[id] = k
	s.appendAuditLocked(audit)
	return k, nil
}

func (s *KioskStore) SetAccessMode(_ context.Context, id string, mode model.KioskAccessMode, at time.Time, audit model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.kiosks[id]
	if !ok {
		return model.ErrKioskNotFound
	}
	k.AccessMode = mode
	k.UpdatedAt = at
	s.kiosks[id] = k
	s.appendAuditLocked(audit)
	return nil
}

func (s *KioskStore) FindAccess(_ context.Context, kioskID string, userID string) (*model.KioskAccessEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.kioskAccess[accessKey(kioskID, userID)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *KioskStore) ListAccess(_ context.Context, kioskID string) ([]model.KioskAccessEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.kiosks[kioskID]; !ok {
		return nil, model.ErrKioskNotFound
	}

	entries := make([]model.KioskAccessEntry, 0)
	for _, e := range s.kioskAccess {
		if e.KioskID == kioskID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

func (s *KioskStore) UpsertAccess(_ context.Context, e model.KioskAccessEntry, audit model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.kiosks[e.KioskID]; !ok {
		return model.ErrKioskNotFound
	}
	s.kioskAccess[accessKey(e.KioskID, e.UserID)] = e
	s.appendAuditLocked(audit)
	return nil
}

func (s *KioskStore) DeleteAccess(_ context.Context, kioskID string, userID string, audit model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := accessKey(kioskID, userID)
	if _, ok := s.kioskAccess[key]; !ok {
		return model.ErrUserNotFound.WithDetails("no access entry for user")
	}
	delete(s.kioskAccess, key)
	s.appendAuditLocked(audit)
	return nil
}

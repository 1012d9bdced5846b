// Package memory is an in-process credential store with the same
// transactional guarantees as the PostgreSQL repositories: every mutation
// and its audit entry land under one lock, and jti consumption is unique.
package memory

import (
	"sort"
	"strings"
	"sync"

	"chrona-backend/internal/model"
)

type db struct {
	mu sync.Mutex

	users         map[string]model.User
	refreshTokens map[string]model.RefreshToken
	devices       map[string]model.Device
	kiosks        map[string]model.Kiosk
	kioskAccess   map[string]model.KioskAccessEntry
	punches       []model.Punch
	consumed      map[string]model.Punch
	hrCodes       map[string]model.HRCode
	sessions      map[string]model.OnboardingSession
	audit         []model.AuditLogEntry
	auditSeq      int64
}

// Store holds one in-memory implementation per credential store
// interface, all sharing a single lock.
type Store struct {
	Users         *UserStore
	RefreshTokens *TokenStore
	Devices       *DeviceStore
	Kiosks        *KioskStore
	Punches       *PunchStore
	Onboarding    *OnboardingStore
	Audit         *AuditStore
}

// New returns a fresh, empty store.
func New() *Store {
	d := &db{
		users:         map[string]model.User{},
		refreshTokens: map[string]model.RefreshToken{},
		devices:       map[string]model.Device{},
		kiosks:        map[string]model.Kiosk{},
		kioskAccess:   map[string]model.KioskAccessEntry{},
		consumed:      map[string]model.Punch{},
		hrCodes:       map[string]model.HRCode{},
		sessions:      map[string]model.OnboardingSession{},
	}

	return &Store{
		Users:         &UserStore{d},
		RefreshTokens: &TokenStore{d},
		Devices:       &DeviceStore{d},
		Kiosks:        &KioskStore{d},
		Punches:       &PunchStore{d},
		Onboarding:    &OnboardingStore{d},
		Audit:         &AuditStore{d},
	}
}

func (d *db) appendAuditLocked(entry model.AuditLogEntry) {
	d.auditSeq++
	entry.ID = d.auditSeq
	if entry.EventData != nil {
		copied := make(map[string]any, len(entry.EventData))
		for k, v := range entry.EventData {
			copied[k] = v
		}
		entry.EventData = copied
	}
	d.audit = append(d.audit, entry)
}

func accessKey(kioskID string, userID string) string {
	return kioskID + "/" + userID
}

func sameEmail(a string, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func sortByTimeDesc[T any](items []T, at func(T) int64) {
	sort.SliceStable(items, func(i, j int) bool { return at(items[i]) > at(items[j]) })
}

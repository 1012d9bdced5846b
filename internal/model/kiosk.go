package model

import "time"

type KioskAccessMode string

const (
	AccessModePublic    KioskAccessMode = "public"
	AccessModeWhitelist KioskAccessMode = "whitelist"
	AccessModeBlacklist KioskAccessMode = "blacklist"
)

func (m KioskAccessMode) Valid() bool {
	switch m {
	case AccessModePublic, AccessModeWhitelist, AccessModeBlacklist:
		return true
	}
	return false
}

type Kiosk struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Location        string          `json:"location"`
	IPAddress       string          `json:"ip_address,omitempty"`
	AccessMode      KioskAccessMode `json:"access_mode"`
	APIKeyPrefix    string          `json:"api_key_prefix,omitempty"`
	APIKeyHash      string          `json:"-"`
	IsActive        bool            `json:"is_active"`
	AppVersion      string          `json:"app_version,omitempty"`
	DeviceInfo      string          `json:"device_info,omitempty"`
	LastHeartbeatAt *time.Time      `json:"last_heartbeat_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// KioskStatus is a kiosk with its online flag derived at read time.
type KioskStatus struct {
	Kiosk
	IsOnline               bool   `json:"is_online"`
	OfflineDurationSeconds *int64 `json:"offline_duration_seconds,omitempty"`
}

// StatusAt reports the kiosk online when its last heartbeat is at most
// window old. A kiosk that never sent a heartbeat is offline with no
// known duration.
func (k Kiosk) StatusAt(now time.Time, window time.Duration) KioskStatus {
	status := KioskStatus{Kiosk: k}
	if k.LastHeartbeatAt == nil {
		return status
	}

	since := now.Sub(*k.LastHeartbeatAt)
	if since <= window {
		status.IsOnline = true
		return status
	}

	seconds := int64(since / time.Second)
	status.OfflineDurationSeconds = &seconds
	return status
}

type KioskHeartbeat struct {
	AppVersion string
	DeviceInfo string
}

type KioskIdentity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

type IssuedAPIKey struct {
	KioskID  string    `json:"kiosk_id"`
	APIKey   string    `json:"api_key"`
	Prefix   string    `json:"api_key_prefix"`
	IssuedAt time.Time `json:"issued_at"`
}

type KioskAccessKind string

const (
	AccessGranted KioskAccessKind = "granted"
	AccessBlocked KioskAccessKind = "blocked"
)

type KioskAccessEntry struct {
	KioskID   string          `json:"kiosk_id"`
	UserID    string          `json:"user_id"`
	Access    KioskAccessKind `json:"access"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	CreatedBy string          `json:"created_by,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (e KioskAccessEntry) ActiveAt(now time.Time) bool {
	return e.ExpiresAt == nil || now.Before(*e.ExpiresAt)
}

// AccessAllowed applies a kiosk's access mode to the user's entry, which
// is nil when the user has none.
func AccessAllowed(mode KioskAccessMode, entry *KioskAccessEntry, now time.Time) bool {
	active := entry != nil && entry.ActiveAt(now)

	switch mode {
	case AccessModeWhitelist:
		return active && entry.Access == AccessGranted
	case AccessModeBlacklist:
		return !(active && entry.Access == AccessBlocked)
	default:
		return true
	}
}

type KioskListData struct {
	Items []KioskStatus `json:"items"`
}

type KioskAccessData struct {
	KioskID    string             `json:"kiosk_id"`
	AccessMode KioskAccessMode    `json:"access_mode"`
	Entries    []KioskAccessEntry `json:"entries"`
}

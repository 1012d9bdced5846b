package model

import "time"

type Device struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Fingerprint  string      `json:"device_fingerprint"`
	Name         string      `json:"device_name"`
	Attestation  Attestation `json:"attestation"`
	RegisteredAt time.Time   `json:"registered_at"`
	LastSeenAt   *time.Time  `json:"last_seen_at,omitempty"`
	Revoked      bool        `json:"is_revoked"`
	RevokedAt    *time.Time  `json:"revoked_at,omitempty"`
}

type DeviceFilter struct {
	UserID         string
	IncludeRevoked bool
}

type DeviceListData struct {
	Items []Device `json:"items"`
}

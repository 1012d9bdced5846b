package model

import "time"

type PunchType string

const (
	PunchClockIn  PunchType = "clock_in"
	PunchClockOut PunchType = "clock_out"
)

func (t PunchType) Valid() bool {
	return t == PunchClockIn || t == PunchClockOut
}

type Punch struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	KioskID   string    `json:"kiosk_id"`
	PunchType PunchType `json:"punch_type"`
	PunchedAt time.Time `json:"punched_at"`
	JTI       string    `json:"-"`
}

// PunchTokenClaims is the decoded content of a QR punch token.
type PunchTokenClaims struct {
	UserID    string
	DeviceID  string
	Nonce     string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type PunchTokenGrant struct {
	QRToken   string    `json:"qr_token"`
	ExpiresIn int64     `json:"expires_in"`
	ExpiresAt time.Time `json:"expires_at"`
}

type PunchResult struct {
	Success   bool      `json:"success"`
	PunchID   string    `json:"punch_id"`
	PunchedAt time.Time `json:"punched_at"`
	UserID    string    `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	KioskID   string    `json:"kiosk_id"`
	PunchType PunchType `json:"punch_type"`
}

type PunchHistoryData struct {
	Items  []Punch `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

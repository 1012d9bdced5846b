package model

import "time"

type HRCode struct {
	Code             string     `json:"code"`
	EmployeeEmail    string     `json:"employee_email"`
	EmployeeName     string     `json:"employee_name,omitempty"`
	CreatedByAdminID string     `json:"created_by_admin_id"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	IsUsed           bool       `json:"is_used"`
	UsedAt           *time.Time `json:"used_at,omitempty"`
	UsedByUserID     string     `json:"used_by_user_id,omitempty"`
}

func (c HRCode) ExpiredAt(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

type HRCodeListData struct {
	Items []HRCode `json:"items"`
}

type OnboardingState string

const (
	OnboardingAwaitingOTP         OnboardingState = "awaiting_otp"
	OnboardingAwaitingAttestation OnboardingState = "awaiting_attestation"
	OnboardingCompleted           OnboardingState = "completed"
	OnboardingInvalidated         OnboardingState = "invalidated"
)

var onboardingTransitions = map[OnboardingState][]OnboardingState{
	OnboardingAwaitingOTP:         {OnboardingAwaitingAttestation, OnboardingInvalidated},
	OnboardingAwaitingAttestation: {OnboardingCompleted, OnboardingInvalidated},
}

func CanTransition(from OnboardingState, to OnboardingState) bool {
	for _, next := range onboardingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OnboardingSession is keyed by the SHA-256 of the session token handed to
// the client; the token itself is never stored.
type OnboardingSession struct {
	TokenHash    string
	HRCode       string
	Email        string
	OTPHash      string
	OTPExpiresAt time.Time
	OTPAttempts  int
	State        OnboardingState
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s OnboardingSession) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// OnboardingCompletion carries every row written when onboarding finishes.
type OnboardingCompletion struct {
	SessionTokenHash string
	HRCode           string
	User             User
	Device           Device
	RefreshToken     RefreshToken
	CompletedAt      time.Time
}

type OnboardingStart struct {
	SessionToken string          `json:"session_token"`
	State        OnboardingState `json:"state"`
	OTPExpiresAt time.Time       `json:"otp_expires_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

type OnboardingProgress struct {
	State     OnboardingState `json:"state"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type OnboardingResult struct {
	UserID   string    `json:"user_id"`
	DeviceID string    `json:"device_id"`
	Tokens   TokenPair `json:"tokens"`
}

package model

import (
	"encoding/json"
	"time"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type UpdateRoleRequest struct {
	Role string `json:"role"`
}

type RequestTokenRequest struct {
	DeviceID string `json:"device_id"`
}

type ValidatePunchRequest struct {
	QRToken   string    `json:"qr_token"`
	KioskID   string    `json:"kiosk_id"`
	PunchType PunchType `json:"punch_type"`
}

type RegisterDeviceRequest struct {
	DeviceFingerprint string          `json:"device_fingerprint"`
	DeviceName        string          `json:"device_name"`
	AttestationData   json.RawMessage `json:"attestation_data,omitempty"`
}

type CreateKioskRequest struct {
	Name       string          `json:"name"`
	Location   string          `json:"location"`
	IPAddress  string          `json:"ip_address,omitempty"`
	AccessMode KioskAccessMode `json:"access_mode,omitempty"`
}

type UpdateKioskRequest struct {
	Name      *string `json:"name,omitempty"`
	Location  *string `json:"location,omitempty"`
	IPAddress *string `json:"ip_address,omitempty"`
	IsActive  *bool   `json:"is_active,omitempty"`
}

type HeartbeatRequest struct {
	AppVersion string `json:"app_version"`
	DeviceInfo string `json:"device_info"`
}

type AccessModeRequest struct {
	AccessMode KioskAccessMode `json:"access_mode"`
}

type KioskAccessRequest struct {
	UserID    string     `json:"user_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type CreateHRCodeRequest struct {
	EmployeeEmail string `json:"employee_email"`
	EmployeeName  string `json:"employee_name,omitempty"`
	ExpiresInDays int    `json:"expires_in_days,omitempty"`
}

type InitiateOnboardingRequest struct {
	HRCode string `json:"hr_code"`
	Email  string `json:"email"`
}

type VerifyOTPRequest struct {
	SessionToken string `json:"session_token"`
	OTPCode      string `json:"otp_code"`
}

type CompleteOnboardingRequest struct {
	SessionToken      string          `json:"session_token"`
	Password          string          `json:"password"`
	DeviceFingerprint string          `json:"device_fingerprint"`
	DeviceName        string          `json:"device_name"`
	AttestationData   json.RawMessage `json:"attestation_data,omitempty"`
}

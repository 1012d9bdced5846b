package model

import (
	"net/http"

	"chrona-backend/pkg/apierror"
)

var (
	// Request validation
	ErrInvalidInput = apierror.New("BAD_REQUEST", "invalid input", "", http.StatusBadRequest)

	// Authentication and authorization
	ErrUnauthorized       = apierror.New("UNAUTHORIZED", "authentication required", "", http.StatusUnauthorized)
	ErrInvalidCredentials = apierror.New("UNAUTHORIZED", "invalid credentials", "", http.StatusUnauthorized)
	ErrTokenNotFound      = apierror.New("UNAUTHORIZED", "invalid or expired token", "", http.StatusUnauthorized)
	ErrForbidden          = apierror.New("FORBIDDEN", "insufficient permissions", "", http.StatusForbidden)

	// Users
	ErrUserNotFound = apierror.New("NOT_FOUND", "user not found", "", http.StatusNotFound)
	ErrEmailTaken   = apierror.New("EMAIL_TAKEN", "an account with this email already exists", "email", http.StatusConflict)

	// Devices
	ErrDeviceNotFound       = apierror.New("DEVICE_NOT_FOUND", "device not found", "", http.StatusNotFound)
	ErrDeviceRevoked        = apierror.New("DEVICE_REVOKED", "device has been revoked", "", http.StatusForbidden)
	ErrDeviceAlreadyRevoked = apierror.New("DEVICE_ALREADY_REVOKED", "device is already revoked", "", http.StatusBadRequest)
	ErrDuplicateFingerprint = apierror.New("DUPLICATE_FINGERPRINT", "device fingerprint is already registered", "device_fingerprint", http.StatusConflict)
	ErrInvalidAttestation   = apierror.New("BAD_REQUEST", "invalid attestation data", "attestation_data", http.StatusBadRequest)

	// Kiosks
	ErrKioskNotFound      = apierror.New("KIOSK_NOT_FOUND", "kiosk not found", "", http.StatusNotFound)
	ErrDuplicateKioskName = apierror.New("DUPLICATE_KIOSK_NAME", "kiosk name is already in use", "name", http.StatusConflict)
	ErrInvalidKioskKey    = apierror.New("INVALID_KIOSK_KEY", "invalid kiosk credentials", "", http.StatusUnauthorized)
	ErrKioskInactive      = apierror.New("KIOSK_INACTIVE", "kiosk is not active", "", http.StatusForbidden)
	ErrKioskMismatch      = apierror.New("KIOSK_MISMATCH", "kiosk_id does not match the authenticated kiosk", "kiosk_id", http.StatusForbidden)
	ErrKioskAccessDenied  = apierror.New("KIOSK_ACCESS_DENIED", "user is not allowed to punch at this kiosk", "", http.StatusForbidden)

	// Punch tokens
	ErrTokenInvalid     = apierror.New("TOKEN_INVALID", "punch token is invalid", "", http.StatusBadRequest)
	ErrTokenExpired     = apierror.New("TOKEN_EXPIRED", "punch token has expired", "", http.StatusBadRequest)
	ErrTokenAlreadyUsed = apierror.New("TOKEN_ALREADY_USED", "punch token has already been used", "jti", http.StatusConflict)
	ErrRateLimited      = apierror.New("RATE_LIMITED", "too many requests", "", http.StatusTooManyRequests)

	// Onboarding
	ErrInvalidHRCode       = apierror.New("INVALID_HR_CODE", "invalid HR code", "", http.StatusBadRequest)
	ErrHRCodeExpired       = apierror.New("HR_CODE_EXPIRED", "HR code has expired", "", http.StatusBadRequest)
	ErrHRCodeUsed          = apierror.New("HR_CODE_USED", "HR code has already been used", "hr_code", http.StatusConflict)
	ErrHRCodeConflict      = apierror.New("CONFLICT", "HR code already exists", "code", http.StatusConflict)
	ErrSessionInvalid      = apierror.New("SESSION_INVALID", "onboarding session is invalid", "", http.StatusBadRequest)
	ErrSessionExpired      = apierror.New("SESSION_EXPIRED", "onboarding session has expired", "", http.StatusBadRequest)
	ErrOTPInvalid          = apierror.New("OTP_INVALID", "invalid verification code", "", http.StatusBadRequest)
	ErrOTPExpired          = apierror.New("OTP_EXPIRED", "verification code has expired", "", http.StatusBadRequest)
	ErrOTPAttemptsExceeded = apierror.New("OTP_ATTEMPTS_EXCEEDED", "too many failed attempts; start onboarding again", "", http.StatusBadRequest)
	ErrOTPDeliveryFailed   = apierror.New("OTP_DELIVERY_FAILED", "verification code could not be delivered", "", http.StatusServiceUnavailable)
)

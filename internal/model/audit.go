package model

import "time"

type AuditEventType string

const (
	AuditUserLogin       AuditEventType = "user_login"
	AuditUserLoginFailed AuditEventType = "user_login_failed"
	AuditUserCreated     AuditEventType = "user_created"
	AuditUserRoleChanged AuditEventType = "user_role_changed"

	AuditDeviceRegistered AuditEventType = "device_registered"
	AuditDeviceRevoked    AuditEventType = "device_revoked"

	AuditKioskCreated           AuditEventType = "kiosk_created"
	AuditKioskUpdated           AuditEventType = "kiosk_updated"
	AuditKioskAPIKeyIssued      AuditEventType = "kiosk_api_key_issued"
	AuditKioskHeartbeat         AuditEventType = "kiosk_heartbeat"
	AuditKioskAuthFailed        AuditEventType = "kiosk_auth_failed"
	AuditKioskAccessModeChanged AuditEventType = "kiosk_access_mode_changed"
	AuditKioskAccessGranted     AuditEventType = "kiosk_access_granted"
	AuditKioskAccessBlocked     AuditEventType = "kiosk_access_blocked"
	AuditKioskAccessRevoked     AuditEventType = "kiosk_access_revoked"

	AuditTokenIssueRevokedDevice AuditEventType = "token_issue_revoked_device"
	AuditTokenIssueForeignDevice AuditEventType = "token_issue_foreign_device"
	AuditTokenIssueRateLimited   AuditEventType = "token_issue_rate_limited"

	AuditPunchValidated     AuditEventType = "punch_validated"
	AuditPunchReplayAttempt AuditEventType = "punch_replay_attempt"
	AuditPunchRevokedDevice AuditEventType = "punch_revoked_device"
	AuditPunchTokenRejected AuditEventType = "punch_token_rejected"
	AuditPunchKioskMismatch AuditEventType = "punch_kiosk_mismatch"
	AuditPunchAccessDenied  AuditEventType = "punch_access_denied"

	AuditHRCodeCreated            AuditEventType = "hr_code_created"
	AuditOnboardingInitiated      AuditEventType = "onboarding_initiated"
	AuditOnboardingOTPDelivery    AuditEventType = "onboarding_otp_delivery_failed"
	AuditOnboardingOTPFailed      AuditEventType = "onboarding_otp_failed"
	AuditOnboardingOTPVerified    AuditEventType = "onboarding_otp_verified"
	AuditOnboardingInvalidated    AuditEventType = "onboarding_invalidated"
	AuditOnboardingCompleted      AuditEventType = "onboarding_completed"
	AuditOnboardingCompleteFailed AuditEventType = "onboarding_complete_failed"
)

// RequestMeta is the caller context recorded with every audit entry.
type RequestMeta struct {
	IP        string
	UserAgent string
}

type AuditLogEntry struct {
	ID        int64          `json:"id"`
	EventType AuditEventType `json:"event_type"`
	UserID    string         `json:"user_id,omitempty"`
	DeviceID  string         `json:"device_id,omitempty"`
	KioskID   string         `json:"kiosk_id,omitempty"`
	EventData map[string]any `json:"event_data,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func NewAuditEntry(eventType AuditEventType, meta RequestMeta, at time.Time) AuditLogEntry {
	return AuditLogEntry{
		EventType: eventType,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: at,
	}
}

type AuditQuery struct {
	EventType string
	UserID    string
	DeviceID  string
	KioskID   string
	From      time.Time
	To        time.Time
	Page      int
	Limit     int
}

type AuditListData struct {
	Items []AuditLogEntry `json:"items"`
}

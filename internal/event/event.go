package event

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypePunchRecorded    Type = "punch.recorded"
	TypePunchRejected    Type = "punch.rejected"
	TypeTokenIssued      Type = "token.issued"
	TypeDeviceRegistered Type = "device.registered"
	TypeDeviceRevoked    Type = "device.revoked"
	TypeKioskCreated     Type = "kiosk.created"
	TypeKioskUpdated     Type = "kiosk.updated"
	TypeKioskKeyIssued   Type = "kiosk.key_issued"
	TypeKioskHeartbeat   Type = "kiosk.heartbeat"
	TypeKioskAuthFailed  Type = "kiosk.auth_failed"
	TypeOnboardingStep   Type = "onboarding.step"
	TypeRateLimited      Type = "rate.limited"
)

type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
	ActorID   string `json:"actor_id,omitempty"` // user or kiosk that triggered the event
}

func New(typ Type, actorID string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		ActorID:   actorID,
	}
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}

// Rejection is the payload of TypePunchRejected.
type Rejection struct {
	Reason   string `json:"reason"`
	KioskID  string `json:"kiosk_id,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

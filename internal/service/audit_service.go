package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"chrona-backend/internal/model"
)

type AuditService struct {
	store AuditStore
}

func NewAuditService(store AuditStore) *AuditService {
	return &AuditService{store: store}
}

// Record appends a standalone entry, typically for a rejected operation
// that wrote nothing else. A failed append is logged and swallowed so the
// caller still answers with its own outcome.
func (s *AuditService) Record(ctx context.Context, entry model.AuditLogEntry) {
	if s == nil {
		return
	}

	// The audit row must survive a caller whose request was just cancelled.
	ctx = context.WithoutCancel(ctx)

	if err := s.store.Append(ctx, entry); err != nil {
		slog.Error("audit append failed",
			"event_type", entry.EventType,
			"user_id", entry.UserID,
			"device_id", entry.DeviceID,
			"kiosk_id", entry.KioskID,
			"error", err,
		)
	}
}

func (s *AuditService) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditLogEntry, model.Meta, error) {
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 200 {
		query.Limit = 200
	}

	for field, value := range map[string]string{
		"user_id":   query.UserID,
		"device_id": query.DeviceID,
		"kiosk_id":  query.KioskID,
	} {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, err := uuid.Parse(value); err != nil {
			return nil, model.Meta{}, model.ErrInvalidInput.WithDetails(field + " must be a UUID")
		}
	}

	if !query.From.IsZero() && !query.To.IsZero() && query.To.Before(query.From) {
		return nil, model.Meta{}, model.ErrInvalidInput.WithDetails("'to' is before 'from'")
	}

	return s.store.Query(ctx, query)
}

package memory

import (
	"context"
	"strings"

	"chrona-backend/internal/model"
)

type AuditStore struct{ *db }

func (s *AuditStore) Append(_ context.Context, entry model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendAuditLocked(entry)
	return nil
}

// Entries returns every entry in append order.
func (s *AuditStore) Entries() []model.AuditLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditLogEntry(nil), s.audit...)
}

func (s *AuditStore) Query(_ context.Context, query model.AuditQuery) ([]model.AuditLogEntry, model.Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matching := make([]model.AuditLogEntry, 0)
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if !matchesAudit(e, query) {
			continue
		}
		matching = append(matching, e)
	}
	sortByTimeDesc(matching, func(e model.AuditLogEntry) int64 { return e.CreatedAt.UnixNano() })

	meta := model.NewMeta(query.Page, query.Limit, len(matching))
	offset := (query.Page - 1) * query.Limit
	if offset < 0 || offset >= len(matching) {
		return []model.AuditLogEntry{}, meta, nil
	}
	end := offset + query.Limit
	if end > len(matching) {
		end = len(matching)
	}
	return matching[offset:end], meta, nil
}

func matchesAudit(e model.AuditLogEntry, q model.AuditQuery) bool {
	if v := strings.TrimSpace(q.EventType); v != "" && string(e.EventType) != v {
		return false
	}
	if v := strings.TrimSpace(q.UserID); v != "" && e.UserID != v {
		return false
	}
	if v := strings.TrimSpace(q.DeviceID); v != "" && e.DeviceID != v {
		return false
	}
	if v := strings.TrimSpace(q.KioskID); v != "" && e.KioskID != v {
		return false
	}
	if !q.From.IsZero() && e.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.CreatedAt.After(q.To) {
		return false
	}
	return true
}

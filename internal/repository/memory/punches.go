package memory

import (
	"context"

	"chrona-backend/internal/model"
)

type PunchStore struct{ *db }

func (s *PunchStore) RecordPunch(_ context.Context, p model.Punch, audit model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, used := s.consumed[p.JTI]; used {
		return model.ErrTokenAlreadyUsed
	}
	s.consumed[p.JTI] = p
	s.punches = append(s.punches, p)

	if d, ok := s.devices[p.DeviceID]; ok {
		seen := p.PunchedAt
		d.LastSeenAt = &seen
		s.devices[p.DeviceID] = d
	}

	s.appendAuditLocked(audit)
	return nil
}

func (s *PunchStore) ListForUser(_ context.Context, userID string, limit int, offset int) ([]model.Punch, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matching := make([]model.Punch, 0)
	for _, p := range s.punches {
		if p.UserID == userID {
			matching = append(matching, p)
		}
	}
	sortByTimeDesc(matching, func(p model.Punch) int64 { return p.PunchedAt.UnixNano() })

	total := len(matching)
	if offset >= total {
		return []model.Punch{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matching[offset:end], total, nil
}

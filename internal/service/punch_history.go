package service

import (
	"context"

	"chrona-backend/internal/model"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type PunchHistoryService struct {
	punches PunchStore
}

func NewPunchHistoryService(punches PunchStore) *PunchHistoryService {
	return &PunchHistoryService{punches: punches}
}

func (s *PunchHistoryService) ListForUser(ctx context.Context, userID string, limit int, offset int) (model.PunchHistoryData, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	punches, total, err := s.punches.ListForUser(ctx, userID, limit, offset)
	if err != nil {
		return model.PunchHistoryData{}, err
	}
	return model.PunchHistoryData{Items: punches, Total: total, Limit: limit, Offset: offset}, nil
}

package memory

import (
	"context"
	"time"

	"chrona-backend/internal/model"
)

type UserStore struct{ *db }

func (s *UserStore) FindByID(_ context.Context, id string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound.WithDetails(id)
	}
	return u, nil
}

func (s *UserStore) FindByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if sameEmail(u.Email, email) {
			return u, nil
		}
	}
	return model.User{}, model.ErrUserNotFound
}

func (s *UserStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users), nil
}

func (s *UserStore) Create(_ context.Context, u model.User, audit model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertUserLocked(u); err != nil {
		return err
	}
	s.appendAuditLocked(audit)
	return nil
}

func (d *db) insertUserLocked(u model.User) error {
	for _, existing := range d.users {
		if sameEmail(existing.Email, u.Email) {
			return model.ErrEmailTaken
		}
	}
	d.users[u.ID] = u
	return nil
}

func (s *UserStore) UpdateRole(_ context.Context, id string, role string, updatedAt time.Time, audit model.AuditLogEntry) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound.WithDetails(id)
	}
	u.Role = role
	u.UpdatedAt = updatedAt
	s.users[id] = u
	s.appendAuditLocked(audit)
	return u, nil
}

type TokenStore struct{ *db }

func (s *TokenStore) Store(_ context.Context, token model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[token.TokenHash] = token
	return nil
}

func (s *TokenStore) Consume(_ context.Context, tokenHash string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.refreshTokens[tokenHash]
	if !ok || !now.Before(token.ExpiresAt) {
		return "", model.ErrTokenNotFound
	}
	delete(s.refreshTokens, tokenHash)
	return token.UserID, nil
}

func (s *TokenStore) Revoke(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refreshTokens, tokenHash)
	return nil
}

func (s *TokenStore) CleanExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for hash, token := range s.refreshTokens {
		if !now.Before(token.ExpiresAt) {
			delete(s.refreshTokens, hash)
			removed++
		}
	}
	return removed, nil
}

package memory

import (
	"context"
	"time"

	"chrona-backend/internal/model"
)

type OnboardingStore struct{ *db }

func (s *OnboardingStore) CreateHRCode(_ context.Context, c model.HRCode, audit model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.hrCodes[c.Code]; exists {
		return model.ErrHRCodeConflict
	}
	s.hrCodes[c.Code] = c
	s.appendAuditLocked(audit)
	return nil
}

func (s *OnboardingStore) FindHRCode(_ context.Context, code string) (model.HRCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.hrCodes[code]
	if !ok {
		return model.HRCode{}, model.ErrInvalidHRCode
	}
	return c, nil
}

func (s *OnboardingStore) FindActiveHRCodeByEmail(_ context.Context, email string, now time.Time) (model.HRCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		found model.HRCode
		ok    bool
	)
	for _, c := range s.hrCodes {
		if !sameEmail(c.EmployeeEmail, email) || c.IsUsed || c.ExpiredAt(now) {
			continue
		}
		if !ok || c.CreatedAt.After(found.CreatedAt) {
			found, ok = c, true
		}
	}
	if !ok {
		return model.HRCode{}, model.ErrInvalidHRCode
	}
	return found, nil
}

func (s *OnboardingStore) ListHRCodes(_ context.Context, includeUsed bool, includeExpired bool, now time.Time) ([]model.HRCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	codes := make([]model.HRCode, 0)
	for _, c := range s.hrCodes {
		if c.IsUsed && !includeUsed {
			continue
		}
		if c.ExpiredAt(now) && !includeExpired {
			continue
		}
		codes = append(codes, c)
	}
	sortByTimeDesc(codes, func(c model.HRCode) int64 { return c.CreatedAt.UnixNano() })
	return codes, nil
}

func (s *OnboardingStore) CreateSession(_ context.Context, session model.OnboardingSession, audit model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, existing := range s.sessions {
		if !sameEmail(existing.Email, session.Email) {
			continue
		}
		if existing.State == model.OnboardingAwaitingOTP || existing.State == model.OnboardingAwaitingAttestation {
			existing.State = model.OnboardingInvalidated
			existing.UpdatedAt = session.CreatedAt
			s.sessions[hash] = existing
		}
	}

	session.OTPAttempts = 0
	session.UpdatedAt = session.CreatedAt
	s.sessions[session.TokenHash] = session
	s.appendAuditLocked(audit)
	return nil
}

func (s *OnboardingStore) FindSession(_ context.Context, tokenHash string) (model.OnboardingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[tokenHash]
	if !ok {
		return model.OnboardingSession{}, model.ErrSessionInvalid
	}
	return session, nil
}

func (s *OnboardingStore) RecordOTPAttempt(_ context.Context, tokenHash string, maxAttempts int, now time.Time) (model.OnboardingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[tokenHash]
	if !ok {
		return model.OnboardingSession{}, model.ErrSessionInvalid
	}
	if session.State != model.OnboardingAwaitingOTP {
		return session, model.ErrSessionInvalid
	}
	if session.OTPAttempts >= maxAttempts {
		return session, model.ErrOTPAttemptsExceeded
	}

	session.OTPAttempts++
	session.UpdatedAt = now
	s.sessions[tokenHash] = session
	return session, nil
}

func (s *OnboardingStore) TransitionSession(_ context.Context, tokenHash string, from model.OnboardingState, to model.OnboardingState, now time.Time, audit model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[tokenHash]
	if !ok || session.State != from {
		return model.ErrSessionInvalid
	}
	session.State = to
	session.UpdatedAt = now
	s.sessions[tokenHash] = session
	s.appendAuditLocked(audit)
	return nil
}

// CompleteOnboarding validates everything before writing anything, so a
// failed completion leaves no partial user or device behind.
func (s *OnboardingStore) CompleteOnboarding(_ context.Context, c model.OnboardingCompletion, audit model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[c.SessionTokenHash]
	if !ok {
		return model.ErrSessionInvalid
	}
	if session.State == model.OnboardingCompleted {
		return model.ErrHRCodeUsed
	}
	if session.State != model.OnboardingAwaitingAttestation {
		return model.ErrSessionInvalid
	}

	code, ok := s.hrCodes[c.HRCode]
	if !ok {
		return model.ErrInvalidHRCode
	}
	if code.IsUsed {
		return model.ErrHRCodeUsed
	}

	for _, u := range s.users {
		if sameEmail(u.Email, c.User.Email) {
			return model.ErrEmailTaken
		}
	}
	for _, d := range s.devices {
		if d.Fingerprint == c.Device.Fingerprint {
			return model.ErrDuplicateFingerprint
		}
	}

	s.users[c.User.ID] = c.User

	usedAt := c.CompletedAt
	code.IsUsed = true
	code.UsedAt = &usedAt
	code.UsedByUserID = c.User.ID
	s.hrCodes[c.HRCode] = code

	s.devices[c.Device.ID] = c.Device

	session.State = model.OnboardingCompleted
	session.UpdatedAt = c.CompletedAt
	s.sessions[c.SessionTokenHash] = session

	s.refreshTokens[c.RefreshToken.TokenHash] = c.RefreshToken
	s.appendAuditLocked(audit)
	return nil
}

func (s *OnboardingStore) DeleteStaleSessions(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for hash, session := range s.sessions {
		if session.State != model.OnboardingCompleted && session.ExpiresAt.Before(before) {
			delete(s.sessions, hash)
			removed++
		}
	}
	return removed, nil
}

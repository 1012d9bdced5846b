package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"chrona-backend/internal/event"
	"chrona-backend/internal/mailer"
	"chrona-backend/internal/model"
	"chrona-backend/internal/util"
	"chrona-backend/pkg/apierror"
)

const (
	hrCodeAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	hrCodeSuffixLength = 5
	hrCodeMaxAttempts  = 5
	sessionTokenBytes  = 32
)

type OnboardingOptions struct {
	OTPLength      int
	OTPTTL         time.Duration
	OTPMaxAttempts int
	SessionTTL     time.Duration
	HRCodeTTL      time.Duration
	HRCodePrefix   string
}

func (o OnboardingOptions) withDefaults() OnboardingOptions {
	if o.OTPLength < 4 || o.OTPLength > 10 {
		o.OTPLength = 6
	}
	if o.OTPTTL <= 0 {
		o.OTPTTL = 10 * time.Minute
	}
	if o.OTPMaxAttempts <= 0 {
		o.OTPMaxAttempts = 5
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = 30 * time.Minute
	}
	if o.HRCodeTTL <= 0 {
		o.HRCodeTTL = 7 * 24 * time.Hour
	}
	if o.HRCodePrefix == "" {
		o.HRCodePrefix = "EMPL"
	}
	return o
}

// OnboardingService walks a new employee from an HR code to an account
// with a registered device:
//
//	awaiting_otp -> awaiting_attestation -> completed
//
// Any open session can also move to invalidated, which is terminal.
type OnboardingService struct {
	store  OnboardingStore
	users  UserStore
	auth   *AuthService
	mailer mailer.Mailer
	audit  *AuditService
	bus    event.Bus
	opts   OnboardingOptions
	now    func() time.Time
}

func NewOnboardingService(store OnboardingStore, users UserStore, auth *AuthService, m mailer.Mailer, audit *AuditService, bus event.Bus, opts OnboardingOptions) *OnboardingService {
	if bus == nil {
		bus = event.Nop{}
	}
	if m == nil {
		m = mailer.Noop{}
	}
	return &OnboardingService{
		store:  store,
		users:  users,
		auth:   auth,
		mailer: m,
		audit:  audit,
		bus:    bus,
		opts:   opts.withDefaults(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateHRCode issues a one-time code for an employee. When the employee
// already holds an unused, unexpired code, that code is returned instead.
func (s *OnboardingService) CreateHRCode(ctx context.Context, adminID string, req model.CreateHRCodeRequest, meta model.RequestMeta) (model.HRCode, error) {
	email, err := normalizeEmail(req.EmployeeEmail)
	if err != nil {
		return model.HRCode{}, model.ErrInvalidInput.WithDetails("employee_email is not a valid address")
	}
	if req.ExpiresInDays < 0 || req.ExpiresInDays > 365 {
		return model.HRCode{}, model.ErrInvalidInput.WithDetails("expires_in_days must be between 0 and 365")
	}

	now := s.now()
	if existing, err := s.store.FindActiveHRCodeByEmail(ctx, email, now); err == nil {
		return existing, nil
	} else if !errors.Is(err, model.ErrInvalidHRCode) {
		return model.HRCode{}, err
	}

	ttl := s.opts.HRCodeTTL
	if req.ExpiresInDays > 0 {
		ttl = time.Duration(req.ExpiresInDays) * 24 * time.Hour
	}
	expiresAt := now.Add(ttl)

	for attempt := 0; attempt < hrCodeMaxAttempts; attempt++ {
		code, err := s.generateHRCode(now)
		if err != nil {
			return model.HRCode{}, err
		}

		hr := model.HRCode{
			Code:             code,
			EmployeeEmail:    email,
			EmployeeName:     util.CleanLabel(req.EmployeeName),
			CreatedByAdminID: adminID,
			CreatedAt:        now,
			ExpiresAt:        &expiresAt,
		}

		entry := model.NewAuditEntry(model.AuditHRCodeCreated, meta, now)
		entry.UserID = adminID
		entry.EventData = map[string]any{"employee_email": email, "expires_at": expiresAt.Format(time.RFC3339)}

		err = s.store.CreateHRCode(ctx, hr, entry)
		if errors.Is(err, model.ErrHRCodeConflict) {
			continue
		}
		if err != nil {
			return model.HRCode{}, err
		}

		slog.Info("hr code created", "employee_email", email, "admin_id", adminID)
		return hr, nil
	}

	return model.HRCode{}, fmt.Errorf("create hr code: %w", model.ErrHRCodeConflict)
}

func (s *OnboardingService) ListHRCodes(ctx context.Context, includeUsed bool, includeExpired bool) ([]model.HRCode, error) {
	return s.store.ListHRCodes(ctx, includeUsed, includeExpired, s.now())
}

func (s *OnboardingService) Initiate(ctx context.Context, hrCode string, email string, meta model.RequestMeta) (model.OnboardingStart, error) {
	hrCode = strings.ToUpper(strings.TrimSpace(hrCode))
	if hrCode == "" {
		return model.OnboardingStart{}, model.ErrInvalidInput.WithDetails("hr_code is required")
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return model.OnboardingStart{}, model.ErrInvalidInput.WithDetails("email is not a valid address")
	}

	now := s.now()
	code, err := s.store.FindHRCode(ctx, hrCode)
	if err != nil {
		return model.OnboardingStart{}, err
	}
	// A code presented with the wrong email reads exactly like an unknown
	// code, before anything about its state is revealed.
	if !strings.EqualFold(code.EmployeeEmail, email) {
		return model.OnboardingStart{}, model.ErrInvalidHRCode
	}
	if code.IsUsed {
		return model.OnboardingStart{}, model.ErrHRCodeUsed
	}
	if code.ExpiredAt(now) {
		return model.OnboardingStart{}, model.ErrHRCodeExpired
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return model.OnboardingStart{}, model.ErrEmailTaken
	} else if !errors.Is(err, model.ErrUserNotFound) {
		return model.OnboardingStart{}, err
	}

	otp, err := generateOTP(s.opts.OTPLength)
	if err != nil {
		return model.OnboardingStart{}, err
	}
	otpHash, err := bcrypt.GenerateFromPassword([]byte(otp), s.auth.passwordCost)
	if err != nil {
		return model.OnboardingStart{}, fmt.Errorf("hash otp: %w", err)
	}
	tokenBytes, err := randomBytes(sessionTokenBytes)
	if err != nil {
		return model.OnboardingStart{}, fmt.Errorf("generate session token: %w", err)
	}
	sessionToken := hex.EncodeToString(tokenBytes)

	session := model.OnboardingSession{
		TokenHash:    hashToken(sessionToken),
		HRCode:       code.Code,
		Email:        email,
		OTPHash:      string(otpHash),
		OTPExpiresAt: now.Add(s.opts.OTPTTL),
		State:        model.OnboardingAwaitingOTP,
		ExpiresAt:    now.Add(s.opts.SessionTTL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	entry := model.NewAuditEntry(model.AuditOnboardingInitiated, meta, now)
	entry.EventData = map[string]any{"hr_code": code.Code, "email": email}

	if err := s.store.CreateSession(ctx, session, entry); err != nil {
		return model.OnboardingStart{}, err
	}

	err = s.mailer.SendOTP(ctx, mailer.OTPMessage{
		To:        email,
		Name:      code.EmployeeName,
		Code:      otp,
		ExpiresAt: session.OTPExpiresAt,
	})
	if err != nil {
		failed := model.NewAuditEntry(model.AuditOnboardingOTPDelivery, meta, now)
		failed.EventData = map[string]any{"hr_code": code.Code, "email": email}
		s.audit.Record(ctx, failed)

		slog.Error("otp delivery failed", "email", email, "error", err)
		return model.OnboardingStart{}, model.ErrOTPDeliveryFailed
	}

	s.publishStep(session.State, email)

	return model.OnboardingStart{
		SessionToken: sessionToken,
		State:        session.State,
		OTPExpiresAt: session.OTPExpiresAt,
		ExpiresAt:    session.ExpiresAt,
	}, nil
}

// VerifyOTP counts the attempt before comparing, so concurrent guesses
// cannot exceed the attempt budget.
func (s *OnboardingService) VerifyOTP(ctx context.Context, sessionToken string, otp string, meta model.RequestMeta) (model.OnboardingProgress, error) {
	if strings.TrimSpace(sessionToken) == "" || strings.TrimSpace(otp) == "" {
		return model.OnboardingProgress{}, model.ErrInvalidInput.WithDetails("session_token and otp_code are required")
	}

	tokenHash := hashToken(sessionToken)
	session, err := s.store.FindSession(ctx, tokenHash)
	if err != nil {
		return model.OnboardingProgress{}, err
	}
	if session.State != model.OnboardingAwaitingOTP {
		return model.OnboardingProgress{}, model.ErrSessionInvalid
	}

	now := s.now()
	if session.ExpiredAt(now) {
		return model.OnboardingProgress{}, model.ErrSessionExpired
	}
	if !now.Before(session.OTPExpiresAt) {
		return model.OnboardingProgress{}, model.ErrOTPExpired
	}

	session, err = s.store.RecordOTPAttempt(ctx, tokenHash, s.opts.OTPMaxAttempts, now)
	if errors.Is(err, model.ErrOTPAttemptsExceeded) {
		s.invalidate(ctx, session, "otp_attempts_exceeded", meta)
		return model.OnboardingProgress{}, err
	}
	if err != nil {
		return model.OnboardingProgress{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(session.OTPHash), []byte(strings.TrimSpace(otp))) != nil {
		failed := model.NewAuditEntry(model.AuditOnboardingOTPFailed, meta, now)
		failed.EventData = map[string]any{"email": session.Email, "attempts": session.OTPAttempts}
		s.audit.Record(ctx, failed)

		remaining := s.opts.OTPMaxAttempts - session.OTPAttempts
		if remaining <= 0 {
			s.invalidate(ctx, session, "otp_attempts_exceeded", meta)
			return model.OnboardingProgress{}, model.ErrOTPAttemptsExceeded
		}
		return model.OnboardingProgress{}, model.ErrOTPInvalid.WithDetails(fmt.Sprintf("%d attempts remaining", remaining))
	}

	entry := model.NewAuditEntry(model.AuditOnboardingOTPVerified, meta, now)
	entry.EventData = map[string]any{"email": session.Email, "hr_code": session.HRCode}
	if err := s.transition(ctx, session, model.OnboardingAwaitingAttestation, now, entry); err != nil {
		return model.OnboardingProgress{}, err
	}

	return model.OnboardingProgress{State: model.OnboardingAwaitingAttestation, ExpiresAt: session.ExpiresAt}, nil
}

// Complete creates the account, consumes the HR code, registers the
// device, closes the session and stores the refresh token in one store
// transaction. A second completion of the same session or code fails with
// model.ErrHRCodeUsed.
func (s *OnboardingService) Complete(ctx context.Context, req model.CompleteOnboardingRequest, meta model.RequestMeta) (model.OnboardingResult, error) {
	if strings.TrimSpace(req.SessionToken) == "" {
		return model.OnboardingResult{}, model.ErrInvalidInput.WithDetails("session_token is required")
	}

	tokenHash := hashToken(req.SessionToken)
	session, err := s.store.FindSession(ctx, tokenHash)
	if err != nil {
		return model.OnboardingResult{}, err
	}

	now := s.now()
	switch {
	case session.State == model.OnboardingCompleted:
		return model.OnboardingResult{}, model.ErrHRCodeUsed
	case session.State != model.OnboardingAwaitingAttestation:
		return model.OnboardingResult{}, model.ErrSessionInvalid
	case session.ExpiredAt(now):
		return model.OnboardingResult{}, model.ErrSessionExpired
	}

	code, err := s.store.FindHRCode(ctx, session.HRCode)
	if err != nil {
		return model.OnboardingResult{}, err
	}
	if code.IsUsed {
		return model.OnboardingResult{}, model.ErrHRCodeUsed
	}
	if code.ExpiredAt(now) {
		return model.OnboardingResult{}, model.ErrHRCodeExpired
	}

	passwordHash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		return model.OnboardingResult{}, err
	}

	user := model.User{
		ID:           uuid.NewString(),
		Email:        session.Email,
		FullName:     code.EmployeeName,
		PasswordHash: passwordHash,
		Role:         model.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	device, err := buildDevice(user.ID, req.DeviceFingerprint, req.DeviceName, req.AttestationData, now)
	if err != nil {
		return model.OnboardingResult{}, err
	}

	pair, refresh, err := s.auth.NewTokenPair(user)
	if err != nil {
		return model.OnboardingResult{}, err
	}

	entry := model.NewAuditEntry(model.AuditOnboardingCompleted, meta, now)
	entry.UserID = user.ID
	entry.DeviceID = device.ID
	entry.EventData = map[string]any{"hr_code": code.Code, "attestation_scheme": string(device.Attestation.Scheme)}

	err = s.store.CompleteOnboarding(ctx, model.OnboardingCompletion{
		SessionTokenHash: tokenHash,
		HRCode:           code.Code,
		User:             user,
		Device:           device,
		RefreshToken:     refresh,
		CompletedAt:      now,
	}, entry)
	if err != nil {
		failed := model.NewAuditEntry(model.AuditOnboardingCompleteFailed, meta, now)
		failed.EventData = map[string]any{"hr_code": code.Code, "email": session.Email, "reason": failureReason(err)}
		s.audit.Record(ctx, failed)
		return model.OnboardingResult{}, err
	}

	s.publishStep(model.OnboardingCompleted, session.Email)
	s.bus.Publish(event.New(event.TypeDeviceRegistered, user.ID, device))
	slog.Info("onboarding completed", "user_id", user.ID, "device_id", device.ID)

	return model.OnboardingResult{UserID: user.ID, DeviceID: device.ID, Tokens: pair}, nil
}

func (s *OnboardingService) transition(ctx context.Context, session model.OnboardingSession, to model.OnboardingState, now time.Time, entry model.AuditLogEntry) error {
	if !model.CanTransition(session.State, to) {
		return model.ErrSessionInvalid
	}
	if err := s.store.TransitionSession(ctx, session.TokenHash, session.State, to, now, entry); err != nil {
		return err
	}
	s.publishStep(to, session.Email)
	return nil
}

func (s *OnboardingService) invalidate(ctx context.Context, session model.OnboardingSession, reason string, meta model.RequestMeta) {
	now := s.now()
	entry := model.NewAuditEntry(model.AuditOnboardingInvalidated, meta, now)
	entry.EventData = map[string]any{"email": session.Email, "reason": reason}

	if err := s.transition(ctx, session, model.OnboardingInvalidated, now, entry); err != nil && !errors.Is(err, model.ErrSessionInvalid) {
		slog.Error("invalidate onboarding session failed", "email", session.Email, "error", err)
	}
}

func (s *OnboardingService) publishStep(state model.OnboardingState, email string) {
	s.bus.Publish(event.New(event.TypeOnboardingStep, "", map[string]string{"state": string(state), "email": email}))
}

func (s *OnboardingService) generateHRCode(now time.Time) (string, error) {
	suffix := make([]byte, hrCodeSuffixLength)
	alphabetSize := big.NewInt(int64(len(hrCodeAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("generate hr code: %w", err)
		}
		suffix[i] = hrCodeAlphabet[n.Int64()]
	}
	return fmt.Sprintf("%s-%d-%s", strings.ToUpper(s.opts.HRCodePrefix), now.Year(), suffix), nil
}

func generateOTP(length int) (string, error) {
	digits := make([]byte, length)
	ten := big.NewInt(10)
	for i := range digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", errors.New("invalid email")
	}
	return email, nil
}

func failureReason(err error) string {
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return "internal_error"
}

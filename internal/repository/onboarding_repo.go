package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chrona-backend/internal/model"
)

const (
	hrCodeColumns = `code, employee_email, employee_name, created_by_admin_id::text, created_at,
		expires_at, is_used, used_at, used_by_user_id::text`
	sessionColumns = `token_hash, hr_code, email, otp_hash, otp_expires_at, otp_attempts,
		state, expires_at, created_at, updated_at`
)

type OnboardingRepository struct {
	pool *pgxpool.Pool
}

func NewOnboardingRepository(pool *pgxpool.Pool) *OnboardingRepository {
	return &OnboardingRepository{pool: pool}
}

func scanHRCode(row pgx.Row) (model.HRCode, error) {
	var (
		c      model.HRCode
		usedBy *string
	)
	err := row.Scan(&c.Code, &c.EmployeeEmail, &c.EmployeeName, &c.CreatedByAdminID, &c.CreatedAt,
		&c.ExpiresAt, &c.IsUsed, &c.UsedAt, &usedBy)
	c.UsedByUserID = deref(usedBy)
	return c, err
}

func scanSession(row pgx.Row) (model.OnboardingSession, error) {
	var s model.OnboardingSession
	err := row.Scan(&s.TokenHash, &s.HRCode, &s.Email, &s.OTPHash, &s.OTPExpiresAt, &s.OTPAttempts,
		&s.State, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *OnboardingRepository) CreateHRCode(ctx context.Context, c model.HRCode, audit model.AuditLogEntry) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO hr_codes (code, employee_email, employee_name, created_by_admin_id, created_at, expires_at, is_used)
			 VALUES ($1, $2, $3, $4, $5, $6, false)`,
			c.Code, c.EmployeeEmail, c.EmployeeName, c.CreatedByAdminID, c.CreatedAt, c.ExpiresAt)
		if isUniqueViolation(err, "") {
			return model.ErrHRCodeConflict
		}
		if err != nil {
			return fmt.Errorf("create hr code: %w", err)
		}
		return insertAudit(ctx, tx, audit)
	})
}

func (r *OnboardingRepository) FindHRCode(ctx context.Context, code string) (model.HRCode, error) {
	c, err := scanHRCode(r.pool.QueryRow(ctx, `SELECT `+hrCodeColumns+` FROM hr_codes WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.HRCode{}, model.ErrInvalidHRCode
	}
	if err != nil {
		return model.HRCode{}, fmt.Errorf("find hr code: %w", err)
	}
	return c, nil
}

func (r *OnboardingRepository) FindActiveHRCodeByEmail(ctx context.Context, email string, now time.Time) (model.HRCode, error) {
	c, err := scanHRCode(r.pool.QueryRow(ctx,
		`SELECT `+hrCodeColumns+` FROM hr_codes
		 WHERE lower(employee_email) = lower($1) AND is_used = false
		   AND (expires_at IS NULL OR expires_at > $2)
		 ORDER BY created_at DESC LIMIT 1`, strings.TrimSpace(email), now))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.HRCode{}, model.ErrInvalidHRCode
	}
	if err != nil {
		return model.HRCode{}, fmt.Errorf("find active hr code: %w", err)
	}
	return c, nil
}

func (r *OnboardingRepository) ListHRCodes(ctx context.Context, includeUsed bool, includeExpired bool, now time.Time) ([]model.HRCode, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+hrCodeColumns+` FROM hr_codes
		 WHERE ($1 OR is_used = false)
		   AND ($2 OR expires_at IS NULL OR expires_at > $3)
		 ORDER BY created_at DESC`, includeUsed, includeExpired, now)
	if err != nil {
		return nil, fmt.Errorf("list hr codes: %w", err)
	}
	defer rows.Close()

	codes := make([]model.HRCode, 0)
	for rows.Next() {
		c, err := scanHRCode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hr code: %w", err)
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

func (r *OnboardingRepository) CreateSession(ctx context.Context, s model.OnboardingSession, audit model.AuditLogEntry) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE onboarding_sessions SET state = 'invalidated', updated_at = $2
			 WHERE lower(email) = lower($1) AND state IN ('awaiting_otp', 'awaiting_attestation')`,
			s.Email, s.CreatedAt); err != nil {
			return fmt.Errorf("invalidate previous sessions: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO onboarding_sessions
			 (token_hash, hr_code, email, otp_hash, otp_expires_at, otp_attempts, state, expires_at, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $8)`,
			s.TokenHash, s.HRCode, s.Email, s.OTPHash, s.OTPExpiresAt, s.State, s.ExpiresAt, s.CreatedAt); err != nil {
			return fmt.Errorf("create onboarding session: %w", err)
		}

		return insertAudit(ctx, tx, audit)
	})
}

func (r *OnboardingRepository) FindSession(ctx context.Context, tokenHash string) (model.OnboardingSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM onboarding_sessions WHERE token_hash = $1`, tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.OnboardingSession{}, model.ErrSessionInvalid
	}
	if err != nil {
		return model.OnboardingSession{}, fmt.Errorf("find onboarding session: %w", err)
	}
	return s, nil
}

func (r *OnboardingRepository) RecordOTPAttempt(ctx context.Context, tokenHash string, maxAttempts int, now time.Time) (model.OnboardingSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE onboarding_sessions SET otp_attempts = otp_attempts + 1, updated_at = $3
		 WHERE token_hash = $1 AND state = 'awaiting_otp' AND otp_attempts < $2
		 RETURNING `+sessionColumns, tokenHash, maxAttempts, now))
	if errors.Is(err, pgx.ErrNoRows) {
		current, findErr := r.FindSession(ctx, tokenHash)
		if findErr != nil {
			return model.OnboardingSession{}, findErr
		}
		if current.State == model.OnboardingAwaitingOTP {
			return current, model.ErrOTPAttemptsExceeded
		}
		return current, model.ErrSessionInvalid
	}
	if err != nil {
		return model.OnboardingSession{}, fmt.Errorf("record otp attempt: %w", err)
	}
	return s, nil
}

func (r *OnboardingRepository) TransitionSession(ctx context.Context, tokenHash string, from model.OnboardingState, to model.OnboardingState, now time.Time, audit model.AuditLogEntry) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE onboarding_sessions SET state = $3, updated_at = $4
			 WHERE token_hash = $1 AND state = $2`, tokenHash, from, to, now)
		if err != nil {
			return fmt.Errorf("transition onboarding session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrSessionInvalid
		}
		return insertAudit(ctx, tx, audit)
	})
}

// CompleteOnboarding locks the session and the HR code before writing, so
// two concurrent completions of one code cannot both create a user.
func (r *OnboardingRepository) CompleteOnboarding(ctx context.Context, c model.OnboardingCompletion, audit model.AuditLogEntry) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		var state model.OnboardingState
		err := tx.QueryRow(ctx,
			`SELECT state FROM onboarding_sessions WHERE token_hash = $1 FOR UPDATE`, c.SessionTokenHash).Scan(&state)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrSessionInvalid
		}
		if err != nil {
			return fmt.Errorf("lock onboarding session: %w", err)
		}
		if state == model.OnboardingCompleted {
			return model.ErrHRCodeUsed
		}
		if state != model.OnboardingAwaitingAttestation {
			return model.ErrSessionInvalid
		}

		var used bool
		err = tx.QueryRow(ctx, `SELECT is_used FROM hr_codes WHERE code = $1 FOR UPDATE`, c.HRCode).Scan(&used)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrInvalidHRCode
		}
		if err != nil {
			return fmt.Errorf("lock hr code: %w", err)
		}
		if used {
			return model.ErrHRCodeUsed
		}

		if err := insertUser(ctx, tx, c.User); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE hr_codes SET is_used = true, used_at = $2, used_by_user_id = $3 WHERE code = $1`,
			c.HRCode, c.CompletedAt, c.User.ID); err != nil {
			return fmt.Errorf("mark hr code used: %w", err)
		}

		if err := insertDevice(ctx, tx, c.Device); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE onboarding_sessions SET state = 'completed', updated_at = $2 WHERE token_hash = $1`,
			c.SessionTokenHash, c.CompletedAt); err != nil {
			return fmt.Errorf("complete onboarding session: %w", err)
		}

		if err := insertRefreshToken(ctx, tx, c.RefreshToken); err != nil {
			return err
		}

		return insertAudit(ctx, tx, audit)
	})
}

func (r *OnboardingRepository) DeleteStaleSessions(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM onboarding_sessions WHERE expires_at < $1 AND state <> 'completed'`, before)
	if err != nil {
		return 0, fmt.Errorf("delete stale onboarding sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

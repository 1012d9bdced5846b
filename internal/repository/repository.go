package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"chrona-backend/internal/model"
	"chrona-backend/internal/repository/memory"
	"chrona-backend/internal/service"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewStore wires every PostgreSQL repository over one pool.
func NewStore(pool *pgxpool.Pool) service.Store {
	return service.Store{
		Users:         NewUserRepository(pool),
		RefreshTokens: NewTokenRepository(pool),
		Devices:       NewDeviceRepository(pool),
		Kiosks:        NewKioskRepository(pool),
		Punches:       NewPunchRepository(pool),
		Onboarding:    NewOnboardingRepository(pool),
		Audit:         NewAuditRepository(pool),
	}
}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// isUUID guards id lookups so malformed ids read as "not found" instead
// of a PostgreSQL cast error.
func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func insertAudit(ctx context.Context, q querier, entry model.AuditLogEntry) error {
	var data []byte
	if len(entry.EventData) > 0 {
		encoded, err := json.Marshal(entry.EventData)
		if err != nil {
			return fmt.Errorf("marshal audit data: %w", err)
		}
		data = encoded
	}

	_, err := q.Exec(ctx,
		`INSERT INTO audit_logs
		 (event_type, user_id, device_id, kiosk_id, event_data, ip_address, user_agent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.EventType, nullable(entry.UserID), nullable(entry.DeviceID), nullable(entry.KioskID),
		data, nullable(entry.IPAddress), nullable(entry.UserAgent), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// NewMemoryStore wires the in-process store, used by STORE_DRIVER=memory
// and by tests.
func NewMemoryStore() service.Store {
	m := memory.New()
	return service.Store{
		Users:         m.Users,
		RefreshTokens: m.RefreshTokens,
		Devices:       m.Devices,
		Kiosks:        m.Kiosks,
		Punches:       m.Punches,
		Onboarding:    m.Onboarding,
		Audit:         m.Audit,
	}
}

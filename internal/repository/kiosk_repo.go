package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chrona-backend/internal/model"
)

const kioskColumns = `id, name, location, ip_address, access_mode, api_key_prefix, api_key_hash,
	is_active, app_version, device_info, last_heartbeat_at, created_at, updated_at`

type KioskRepository struct {
	pool *pgxpool.Pool
}

func NewKioskRepository(pool *pgxpool.Pool) *KioskRepository {
	return &KioskRepository{pool: pool}
}

func scanKiosk(row pgx.Row) (model.Kiosk, error) {
	var (
		k                      model.Kiosk
		ip, keyPrefix, keyHash *string
	)
	err := row.Scan(&k.ID, &k.Name, &k.Location, &ip, &k.AccessMode, &keyPrefix, &keyHash,
		&k.IsActive, &k.AppVersion, &k.DeviceInfo, &k.LastHeartbeatAt, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return model.Kiosk{}, err
	}
	k.IPAddress, k.APIKeyPrefix, k.APIKeyHash = deref(ip), deref(keyPrefix), deref(keyHash)
	return k, nil
}

func (r *KioskRepository) findOne(ctx context.Context, q querier, where string, arg any) (model.Kiosk, error) {
	k, err := scanKiosk(q.QueryRow(ctx, `SELECT `+kioskColumns+` FROM kiosks WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Kiosk{}, model.ErrKioskNotFound
	}
	if err != nil {
		return model.Kiosk{}, fmt.Errorf("find kiosk: %w", err)
	}
	return k, nil
}

func (r *KioskRepository) Create(ctx context.Context, k model.Kiosk, audit model.AuditLogEntry) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO kiosks (id, name, location, ip_address, access_mode, is_active, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			k.ID, k.Name, k.Location, nullable(k.IPAddress), k.AccessMode, k.IsActive, k.CreatedAt, k.UpdatedAt)
		if isUniqueViolation(err, "kiosks_name_key") {
			return model.ErrDuplicateKioskName
		}
		if err != nil {
			return fmt.Errorf("create kiosk: %w", err)
		}
		return insertAudit(ctx, tx, audit)
	})
}

func (r *KioskRepository) FindByID(ctx context.Context, id string) (model.Kiosk, error) {
	if !isUUID(id) {
		return model.Kiosk{}, model.ErrKioskNotFound
	}
	return r.findOne(ctx, r.pool, "id = $1", id)
}

func (r *KioskRepository) FindByAPIKeyPrefix(ctx context.Context, prefix string) (model.Kiosk, error) {
	return r.findOne(ctx, r.pool, "api_key_prefix = $1", prefix)
}

func (r *KioskRepository) FindByIP(ctx context.Context, ip string) (model.Kiosk, error) {
	return r.findOne(ctx, r.pool, "ip_address = $1 AND is_active = true ORDER BY created_at LIMIT 1", ip)
}

func (r *KioskRepository) List(ctx context.Context) ([]model.Kiosk, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+kioskColumns+` FROM kiosks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list kiosks: %w", err)
	}
	defer rows.Close()

	kiosks := make([]model.Kiosk, 0)
	for rows.Next() {
		k, err := scanKiosk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan kiosk: %w", err)
		}
		kiosks = append(kiosks, k)
	}
	return kiosks, rows.Err()
}

func (r *KioskRepository) Update(ctx context.Context, k model.Kiosk, audit model.AuditLogEntry) error {
	return r.mutate(ctx, audit, model.ErrKioskNotFound, func(tx pgx.Tx) (int64, error) {
		tag, err := tx.Exec(ctx,
			`UPDATE kiosks SET name = $2, location = $3, ip_address = $4, is_active = $5, updated_at = $6
			 WHERE id = $1`,
			k.ID, k.Name, k.Location, nullable(k.IPAddress), k.IsActive, k.UpdatedAt)
		if isUniqueViolation(err, "kiosks_name_key") {
			return 0, model.ErrDuplicateKioskName
		}
		return tag.RowsAffected(), err
	})
}

// SetAPIKey overwrites the previous key, so the old plaintext stops
// matching as soon as the transaction commits.
func (r *KioskRepository) SetAPIKey(ctx context.Context, id string, prefix string, hash string, at time.Time, audit model.AuditLogEntry) error {
	return r.mutate(ctx, audit, model.ErrKioskNotFound, func(tx pgx.Tx) (int64, error) {
		tag, err := tx.Exec(ctx,
			`UPDATE kiosks SET api_key_prefix = $2, api_key_hash = $3, updated_at = $4 WHERE id = $1`,
			id, prefix, hash, at)
		return tag.RowsAffected(), err
	})
}

func (r *KioskRepository) RecordHeartbeat(ctx context.Context, id string, hb model.KioskHeartbeat, at time.Time, audit model.AuditLogEntry) (model.Kiosk, error) {
	if !isUUID(id) {
		return model.Kiosk{}, model.ErrKioskNotFound
	}

	var updated model.Kiosk
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		k, err := scanKiosk(tx.QueryRow(ctx,
			`UPDATE kiosks SET last_heartbeat_at = $2,
			        app_version = COALESCE(NULLIF($3, ''), app_version),
			        device_info = COALESCE(NULLIF($4, ''), device_info)
			 WHERE id = $1
			 RETURNING `+kioskColumns, id, at, hb.AppVersion, hb.DeviceInfo))
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrKioskNotFound
		}
		if err != nil {
			return fmt.Errorf("record heartbeat: %w", err)
		}
		updated = k
		return insertAudit(ctx, tx, audit)
	})
	return updated, err
}

func (r *KioskRepository) SetAccessMode(ctx context.Context, id string, mode model.KioskAccessMode, at time.Time, audit model.AuditLogEntry) error {
	return r.mutate(ctx, audit, model.ErrKioskNotFound, func(tx pgx.Tx) (int64, error) {
		tag, err := tx.Exec(ctx, `UPDATE kiosks SET access_mode = $2, updated_at = $3 WHERE id = $1`, id, mode, at)
		return tag.RowsAffected(), err
	})
}

func (r *KioskRepository) FindAccess(ctx context.Context, kioskID string, userID string) (*model.KioskAccessEntry, error) {
	var (
		e         model.KioskAccessEntry
		createdBy *string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT kiosk_id, user_id, access, expires_at, created_by::text, created_at
		 FROM kiosk_access WHERE kiosk_id = $1 AND user_id = $2`, kioskID, userID).
		Scan(&e.KioskID, &e.UserID, &e.Access, &e.ExpiresAt, &createdBy, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find kiosk access: %w", err)
	}
	e.CreatedBy = deref(createdBy)
	return &e, nil
}

func (r *KioskRepository) ListAccess(ctx context.Context, kioskID string) ([]model.KioskAccessEntry, error) {
	if !isUUID(kioskID) {
		return nil, model.ErrKioskNotFound
	}

	rows, err := r.pool.Query(ctx,
		`SELECT kiosk_id, user_id, access, expires_at, created_by::text, created_at
		 FROM kiosk_access WHERE kiosk_id = $1 ORDER BY created_at`, kioskID)
	if err != nil {
		return nil, fmt.Errorf("list kiosk access: %w", err)
	}
	defer rows.Close()

	entries := make([]model.KioskAccessEntry, 0)
	for rows.Next() {
		var (
			e         model.KioskAccessEntry
			createdBy *string
		)
		if err := rows.Scan(&e.KioskID, &e.UserID, &e.Access, &e.ExpiresAt, &createdBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan kiosk access: %w", err)
		}
		e.CreatedBy = deref(createdBy)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *KioskRepository) UpsertAccess(ctx context.Context, e model.KioskAccessEntry, audit model.AuditLogEntry) error {
	return r.mutate(ctx, audit, model.ErrKioskNotFound, func(tx pgx.Tx) (int64, error) {
		tag, err := tx.Exec(ctx,
			`INSERT INTO kiosk_access (kiosk_id, user_id, access, expires_at, created_by, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (kiosk_id, user_id)
			 DO UPDATE SET access = EXCLUDED.access, expires_at = EXCLUDED.expires_at,
			               created_by = EXCLUDED.created_by, created_at = EXCLUDED.created_at`,
			e.KioskID, e.UserID, e.Access, e.ExpiresAt, nullable(e.CreatedBy), e.CreatedAt)
		return tag.RowsAffected(), err
	})
}

func (r *KioskRepository) DeleteAccess(ctx context.Context, kioskID string, userID string, audit model.AuditLogEntry) error {
	return r.mutate(ctx, audit, model.ErrUserNotFound.WithDetails("no access entry for user"), func(tx pgx.Tx) (int64, error) {
		tag, err := tx.Exec(ctx, `DELETE FROM kiosk_access WHERE kiosk_id = $1 AND user_id = $2`, kioskID, userID)
		return tag.RowsAffected(), err
	})
}

// mutate runs a single-row change plus its audit entry in one transaction.
// Zero affected rows fails with notFound.
func (r *KioskRepository) mutate(ctx context.Context, audit model.AuditLogEntry, notFound error, fn func(tx pgx.Tx) (int64, error)) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		affected, err := fn(tx)
		if err != nil {
			return fmt.Errorf("update kiosk: %w", err)
		}
		if affected == 0 {
			return notFound
		}
		return insertAudit(ctx, tx, audit)
	})
}

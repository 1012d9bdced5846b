package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chrona-backend/internal/model"
)

const deviceColumns = `id, user_id, fingerprint, name, attestation, registered_at, last_seen_at, revoked, revoked_at`

type DeviceRepository struct {
	pool *pgxpool.Pool
}

func NewDeviceRepository(pool *pgxpool.Pool) *DeviceRepository {
	return &DeviceRepository{pool: pool}
}

func scanDevice(row pgx.Row) (model.Device, error) {
	var (
		d           model.Device
		attestation []byte
	)
	if err := row.Scan(&d.ID, &d.UserID, &d.Fingerprint, &d.Name, &attestation,
		&d.RegisteredAt, &d.LastSeenAt, &d.Revoked, &d.RevokedAt); err != nil {
		return model.Device{}, err
	}

	parsed, err := model.ParseAttestation(attestation)
	if err != nil {
		parsed = model.Attestation{Scheme: model.AttestationOpaque, Opaque: attestation}
	}
	d.Attestation = parsed
	return d, nil
}

func (r *DeviceRepository) Register(ctx context.Context, d model.Device, audit model.AuditLogEntry) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertDevice(ctx, tx, d); err != nil {
			return err
		}
		return insertAudit(ctx, tx, audit)
	})
}

func insertDevice(ctx context.Context, q querier, d model.Device) error {
	attestation, err := json.Marshal(d.Attestation)
	if err != nil {
		return fmt.Errorf("marshal attestation: %w", err)
	}

	_, err = q.Exec(ctx,
		`INSERT INTO devices (id, user_id, fingerprint, name, attestation, registered_at, revoked)
		 VALUES ($1, $2, $3, $4, $5, $6, false)`,
		d.ID, d.UserID, d.Fingerprint, d.Name, attestation, d.RegisteredAt)
	if isUniqueViolation(err, "devices_fingerprint_key") {
		return model.ErrDuplicateFingerprint
	}
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

func (r *DeviceRepository) FindByID(ctx context.Context, id string) (model.Device, error) {
	if !isUUID(id) {
		return model.Device{}, model.ErrDeviceNotFound
	}

	d, err := scanDevice(r.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Device{}, model.ErrDeviceNotFound
	}
	if err != nil {
		return model.Device{}, fmt.Errorf("find device: %w", err)
	}
	return d, nil
}

func (r *DeviceRepository) Revoke(ctx context.Context, id string, revokedAt time.Time, audit model.AuditLogEntry) (model.Device, error) {
	if !isUUID(id) {
		return model.Device{}, model.ErrDeviceNotFound
	}

	var revoked model.Device
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		d, err := scanDevice(tx.QueryRow(ctx,
			`UPDATE devices SET revoked = true, revoked_at = $2
			 WHERE id = $1 AND revoked = false
			 RETURNING `+deviceColumns, id, revokedAt))
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM devices WHERE id = $1)`, id).Scan(&exists); err != nil {
				return fmt.Errorf("check device exists: %w", err)
			}
			if exists {
				return model.ErrDeviceAlreadyRevoked
			}
			return model.ErrDeviceNotFound
		}
		if err != nil {
			return fmt.Errorf("revoke device: %w", err)
		}
		revoked = d
		return insertAudit(ctx, tx, audit)
	})
	return revoked, err
}

func (r *DeviceRepository) List(ctx context.Context, filter model.DeviceFilter) ([]model.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE ($1 = '' OR user_id::text = $1) AND ($2 OR revoked = false)
	          ORDER BY registered_at DESC`

	rows, err := r.pool.Query(ctx, query, filter.UserID, filter.IncludeRevoked)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	devices := make([]model.Device, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

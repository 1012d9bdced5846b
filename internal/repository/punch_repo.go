package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chrona-backend/internal/model"
)

type PunchRepository struct {
	pool *pgxpool.Pool
}

func NewPunchRepository(pool *pgxpool.Pool) *PunchRepository {
	return &PunchRepository{pool: pool}
}

// RecordPunch claims the token's jti in consumed_tokens first. The primary
// key on jti serializes concurrent validators: the loser's insert fails
// with a unique violation and its transaction rolls back whole.
func (r *PunchRepository) RecordPunch(ctx context.Context, p model.Punch, audit model.AuditLogEntry) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO consumed_tokens (jti, consumed_at, kiosk_id, punch_id) VALUES ($1, $2, $3, $4)`,
			p.JTI, p.PunchedAt, p.KioskID, p.ID)
		if isUniqueViolation(err, "") {
			return model.ErrTokenAlreadyUsed
		}
		if err != nil {
			return fmt.Errorf("consume token: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO punches (id, user_id, device_id, kiosk_id, punch_type, punched_at, jti)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.ID, p.UserID, p.DeviceID, p.KioskID, p.PunchType, p.PunchedAt, p.JTI); err != nil {
			if isUniqueViolation(err, "punches_jti_key") {
				return model.ErrTokenAlreadyUsed
			}
			return fmt.Errorf("insert punch: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE devices SET last_seen_at = $2 WHERE id = $1`, p.DeviceID, p.PunchedAt); err != nil {
			return fmt.Errorf("touch device: %w", err)
		}

		return insertAudit(ctx, tx, audit)
	})
}

func (r *PunchRepository) ListForUser(ctx context.Context, userID string, limit int, offset int) ([]model.Punch, int, error) {
	if !isUUID(userID) {
		return []model.Punch{}, 0, nil
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM punches WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count punches: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, device_id, kiosk_id, punch_type, punched_at, jti
		 FROM punches WHERE user_id = $1
		 ORDER BY punched_at DESC
		 LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list punches: %w", err)
	}
	defer rows.Close()

	punches := make([]model.Punch, 0)
	for rows.Next() {
		var p model.Punch
		if err := rows.Scan(&p.ID, &p.UserID, &p.DeviceID, &p.KioskID, &p.PunchType, &p.PunchedAt, &p.JTI); err != nil {
			return nil, 0, fmt.Errorf("scan punch: %w", err)
		}
		punches = append(punches, p)
	}
	return punches, total, rows.Err()
}

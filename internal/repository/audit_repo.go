package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"chrona-backend/internal/model"
)

type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Append(ctx context.Context, entry model.AuditLogEntry) error {
	return insertAudit(ctx, r.pool, entry)
}

func (r *AuditRepository) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditLogEntry, model.Meta, error) {
	where := make([]string, 0)
	args := make([]any, 0)
	argIdx := 1

	if eventType := strings.TrimSpace(query.EventType); eventType != "" {
		where = append(where, fmt.Sprintf("event_type = $%d", argIdx))
		args = append(args, eventType)
		argIdx++
	}
	if userID := strings.TrimSpace(query.UserID); userID != "" {
		where = append(where, fmt.Sprintf("user_id = $%d", argIdx))
		args = append(args, userID)
		argIdx++
	}
	if deviceID := strings.TrimSpace(query.DeviceID); deviceID != "" {
		where = append(where, fmt.Sprintf("device_id = $%d", argIdx))
		args = append(args, deviceID)
		argIdx++
	}
	if kioskID := strings.TrimSpace(query.KioskID); kioskID != "" {
		where = append(where, fmt.Sprintf("kiosk_id = $%d", argIdx))
		args = append(args, kioskID)
		argIdx++
	}
	if !query.From.IsZero() {
		where = append(where, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, query.From)
		argIdx++
	}
	if !query.To.IsZero() {
		where = append(where, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, query.To)
		argIdx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs "+whereClause, args...).Scan(&total); err != nil {
		return nil, model.Meta{}, fmt.Errorf("count audit entries: %w", err)
	}
	meta := model.NewMeta(query.Page, query.Limit, total)

	offset := (query.Page - 1) * query.Limit
	dataQuery := fmt.Sprintf(
		`SELECT id, event_type, user_id::text, device_id::text, kiosk_id::text,
		        event_data, ip_address, user_agent, created_at
		 FROM audit_logs %s
		 ORDER BY created_at DESC, id DESC
		 LIMIT $%d OFFSET $%d`, whereClause, argIdx, argIdx+1)
	args = append(args, query.Limit, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]model.AuditLogEntry, 0)
	for rows.Next() {
		var (
			e                                 model.AuditLogEntry
			userID, deviceID, kioskID, ip, ua *string
			data                              []byte
		)

		if err := rows.Scan(&e.ID, &e.EventType, &userID, &deviceID, &kioskID, &data, &ip, &ua, &e.CreatedAt); err != nil {
			return nil, model.Meta{}, fmt.Errorf("scan audit entry: %w", err)
		}

		e.UserID, e.DeviceID, e.KioskID = deref(userID), deref(deviceID), deref(kioskID)
		e.IPAddress, e.UserAgent = deref(ip), deref(ua)
		e.CreatedAt = e.CreatedAt.UTC()

		if len(data) > 0 {
			var decoded map[string]any
			if jsonErr := json.Unmarshal(data, &decoded); jsonErr == nil {
				e.EventData = decoded
			}
		}

		entries = append(entries, e)
	}

	return entries, meta, rows.Err()
}

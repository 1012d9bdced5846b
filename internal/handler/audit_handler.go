package handler

import (
	"net/http"
	"strings"
	"time"

	"chrona-backend/internal/model"
	"chrona-backend/internal/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(service *service.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	from, err := parseTime(query.Get("from"), "from")
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := parseTime(query.Get("to"), "to")
	if err != nil {
		writeError(w, r, err)
		return
	}

	items, meta, err := h.service.Query(r.Context(), model.AuditQuery{
		EventType: strings.TrimSpace(query.Get("event_type")),
		UserID:    strings.TrimSpace(query.Get("user_id")),
		DeviceID:  strings.TrimSpace(query.Get("device_id")),
		KioskID:   strings.TrimSpace(query.Get("kiosk_id")),
		From:      from,
		To:        to,
		Page:      parseIntOrDefault(query.Get("page"), 1),
		Limit:     parseIntOrDefault(query.Get("limit"), 50),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.AuditListData{Items: items}, &meta)
}

// parseTime accepts RFC 3339 timestamps or plain dates.
func parseTime(raw string, field string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, model.ErrInvalidInput.WithDetails(field + " must be RFC 3339 or YYYY-MM-DD")
}

package handler

import (
	"net/http"
	"strings"

	"chrona-backend/internal/middleware"
	"chrona-backend/internal/model"
	"chrona-backend/internal/service"
)

type PunchHandler struct {
	issuer    *service.TokenIssuer
	validator *service.TokenValidator
	history   *service.PunchHistoryService
}

func NewPunchHandler(issuer *service.TokenIssuer, validator *service.TokenValidator, history *service.PunchHistoryService) *PunchHandler {
	return &PunchHandler{issuer: issuer, validator: validator, history: history}
}

// RequestToken mints a QR punch token for one of the caller's devices.
func (h *PunchHandler) RequestToken(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	var payload model.RequestTokenRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	grant, err := h.issuer.RequestToken(r.Context(), claims.UserID, strings.TrimSpace(payload.DeviceID), middleware.RequestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, grant, nil)
}

// Validate is called by an authenticated kiosk after scanning a QR code.
func (h *PunchHandler) Validate(w http.ResponseWriter, r *http.Request) {
	kiosk, ok := middleware.KioskFromContext(r.Context())
	if !ok {
		writeError(w, r, model.ErrInvalidKioskKey)
		return
	}

	var payload model.ValidatePunchRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.validator.Validate(r.Context(), kiosk, payload, middleware.RequestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, result, nil)
}

func (h *PunchHandler) History(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	data, err := h.history.ListForUser(r.Context(), claims.UserID,
		parseIntOrDefault(query.Get("limit"), 0),
		parseIntOrDefault(query.Get("offset"), 0))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, data, nil)
}

package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"chrona-backend/internal/middleware"
	"chrona-backend/internal/model"
	"chrona-backend/internal/service"
)

type DeviceHandler struct {
	service *service.DeviceService
}

func NewDeviceHandler(service *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{service: service}
}

func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	var payload model.RegisterDeviceRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	device, err := h.service.Register(r.Context(), claims.UserID, payload, middleware.RequestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusCreated, device, nil)
}

func (h *DeviceHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	devices, err := h.service.ListForUser(r.Context(), claims.UserID, parseBool(r.URL.Query().Get("include_revoked")))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.DeviceListData{Items: devices}, nil)
}

// Revoke is open to the device owner and to admins.
func (h *DeviceHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	device, err := h.service.Revoke(r.Context(), claims.UserID, claims.Role, chi.URLParam(r, "id"), middleware.RequestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, device, nil)
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	devices, err := h.service.List(r.Context(), model.DeviceFilter{
		UserID:         strings.TrimSpace(query.Get("user_id")),
		IncludeRevoked: parseBool(query.Get("include_revoked")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.DeviceListData{Items: devices}, nil)
}

package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chrona-backend/internal/middleware"
	"chrona-backend/internal/model"
	"chrona-backend/internal/service"
)

type KioskHandler struct {
	service *service.KioskService
}

func NewKioskHandler(service *service.KioskService) *KioskHandler {
	return &KioskHandler{service: service}
}

func (h *KioskHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	var payload model.CreateKioskRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	kiosk, err := h.service.Create(r.Context(), claims.UserID, payload, middleware.RequestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusCreated, kiosk, nil)
}

func (h *KioskHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	var payload model.UpdateKioskRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	kiosk, err := h.service.Update(r.Context(), claims.UserID, chi.URLParam(r, "id"), payload, middleware.RequestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, kiosk, nil)
}

// GenerateAPIKey answers with the plaintext key. It is never shown again.
func (h *KioskHandler) GenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	issued, err := h.service.IssueAPIKey(r.Context(), claims.UserID, chi.URLParam(r, "id"), middleware.RequestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, issued, nil)
}

func (h *KioskHandler) List(w http.ResponseWriter, r *http.Request) {
	kiosks, err := h.service.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.KioskListData{Items: kiosks}, nil)
}

func (h *KioskHandler) Access(w http.ResponseWriter, r *http.Request) {
	data, err := h.service.ListAccess(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, data, nil)
}

func (h *KioskHandler) SetAccessMode(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	var payload model.AccessModeRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	kiosk, err := h.service.SetAccessMode(r.Context(), claims.UserID, chi.URLParam(r, "id"), payload.AccessMode, middleware.RequestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, kiosk, nil)
}

func (h *KioskHandler) GrantAccess(w http.ResponseWriter, r *http.Request) {
	h.putAccess(w, r, h.service.GrantAccess)
}

func (h *KioskHandler) BlockAccess(w http.ResponseWriter, r *http.Request) {
	h.putAccess(w, r, h.service.BlockAccess)
}

type accessWriter func(ctx context.Context, actorID string, kioskID string, req model.KioskAccessRequest, meta model.RequestMeta) (model.KioskAccessEntry, error)

func (h *KioskHandler) putAccess(w http.ResponseWriter, r *http.Request, write accessWriter) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	var payload model.KioskAccessRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	entry, err := write(r.Context(), claims.UserID, chi.URLParam(r, "id"), payload, middleware.RequestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, entry, nil)
}

func (h *KioskHandler) RevokeAccess(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	err := h.service.RevokeAccess(r.Context(), claims.UserID, chi.URLParam(r, "id"), chi.URLParam(r, "user_id"), middleware.RequestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"removed": true}, nil)
}

func (h *KioskHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	kiosk, ok := middleware.KioskFromContext(r.Context())
	if !ok {
		writeError(w, r, model.ErrInvalidKioskKey)
		return
	}

	var payload model.HeartbeatRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	status, err := h.service.Heartbeat(r.Context(), kiosk, payload, middleware.RequestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, status, nil)
}

func (h *KioskHandler) Status(w http.ResponseWriter, r *http.Request) {
	kiosk, ok := middleware.KioskFromContext(r.Context())
	if !ok {
		writeError(w, r, model.ErrInvalidKioskKey)
		return
	}

	status, err := h.service.Status(r.Context(), kiosk.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, status, nil)
}

// Identify is unauthenticated and only helps a kiosk screen label itself.
func (h *KioskHandler) Identify(w http.ResponseWriter, r *http.Request) {
	identity, err := h.service.IdentifyByIP(r.Context(), middleware.ClientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, identity, nil)
}

package handler

import (
	"net/http"

	"chrona-backend/internal/middleware"
	"chrona-backend/internal/model"
	"chrona-backend/internal/service"
)

type OnboardingHandler struct {
	service *service.OnboardingService
}

func NewOnboardingHandler(service *service.OnboardingService) *OnboardingHandler {
	return &OnboardingHandler{service: service}
}

func (h *OnboardingHandler) CreateHRCode(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	var payload model.CreateHRCodeRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	code, err := h.service.CreateHRCode(r.Context(), claims.UserID, payload, middleware.RequestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusCreated, code, nil)
}

func (h *OnboardingHandler) ListHRCodes(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	codes, err := h.service.ListHRCodes(r.Context(), parseBool(query.Get("include_used")), parseBool(query.Get("include_expired")))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.HRCodeListData{Items: codes}, nil)
}

func (h *OnboardingHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var payload model.InitiateOnboardingRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	start, err := h.service.Initiate(r.Context(), payload.HRCode, payload.Email, middleware.RequestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, start, nil)
}

func (h *OnboardingHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var payload model.VerifyOTPRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	progress, err := h.service.VerifyOTP(r.Context(), payload.SessionToken, payload.OTPCode, middleware.RequestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, progress, nil)
}

func (h *OnboardingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var payload model.CompleteOnboardingRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.service.Complete(r.Context(), payload, middleware.RequestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusCreated, result, nil)
}

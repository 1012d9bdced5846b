package handler

import (
	"net/http"

	"chrona-backend/internal/websocket"
)

type EventsHandler struct {
	hub *websocket.Hub
}

func NewEventsHandler(hub *websocket.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// Stream upgrades to a websocket that carries every security event.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}
	h.hub.ServeWS(w, r, claims.UserID)
}

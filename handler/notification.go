package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mobinc/pnpbridge/infra/response"
	"github.com/mobinc/pnpbridge/provider"
)

// NotificationHandler receives provider webhooks and writes back whatever
// reply the bridge service built.
type NotificationHandler struct {
	bridge *provider.BridgeService
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(bridge *provider.BridgeService) *NotificationHandler {
	return &NotificationHandler{bridge: bridge}
}

// HandleNotification processes POST /{provider}/notifications. A provider
// webhook is answered on every reachable path; only an unreadable body or
// an unknown provider falls through to a plain HTTP error.
func (h *NotificationHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		response.Error(w, http.StatusBadRequest, "Empty or unreadable notification body", err)
		return
	}

	reply, err := h.bridge.HandleNotification(r.Context(), providerName, body)
	if err != nil {
		if errors.Is(err, provider.ErrProviderNotConfigured) {
			response.Error(w, http.StatusNotFound, "Unknown payment provider", err)
			return
		}
		// Only the passthrough path can end here: no provider-valid reply
		// exists for an envelope the bridge does not understand.
		response.Error(w, http.StatusBadGateway, "Failed to relay notification", err)
		return
	}

	for key, value := range reply.Headers {
		w.Header().Set(key, value)
	}
	if reply.ContentType != "" {
		w.Header().Set("Content-Type", reply.ContentType)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(reply.Body)
}

package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mobinc/pnpbridge/infra/config"
	"github.com/mobinc/pnpbridge/infra/response"
	"github.com/mobinc/pnpbridge/provider"
)

// DepositHandler accepts front-end deposit requests and forwards them to
// the named payment provider.
type DepositHandler struct {
	bridge *provider.BridgeService
}

// NewDepositHandler creates a new deposit handler
func NewDepositHandler(bridge *provider.BridgeService) *DepositHandler {
	return &DepositHandler{bridge: bridge}
}

// HandleDeposit processes POST /{provider}/deposit. The provider's raw
// {url, orderId, messageId} document is returned verbatim so the front-end
// contract stays stable across providers.
func (h *DepositHandler) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	var req provider.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := config.App().Validator.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid deposit request", err)
		return
	}

	// The originating site is remembered on the session so the callback
	// flow can register the payer against the right casino domain.
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}

	resp, err := h.bridge.Deposit(r.Context(), providerName, origin, req)
	if err != nil {
		if errors.Is(err, provider.ErrProviderNotConfigured) {
			response.Error(w, http.StatusNotFound, "Unknown payment provider", err)
			return
		}
		response.Error(w, http.StatusInternalServerError, "Deposit request failed", err)
		return
	}

	response.WriteJSON(w, http.StatusOK, resp)
}

package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mobinc/pnpbridge/infra/opensearch"
	"github.com/mobinc/pnpbridge/infra/response"
	"github.com/mobinc/pnpbridge/provider"
)

// DepositTraceResponse is the diagnostic timeline for one message id.
type DepositTraceResponse struct {
	MessageID        string       `json:"messageId"`
	PaymentProvider  string       `json:"paymentProvider,omitempty"`
	Email            string       `json:"email,omitempty"`
	Currency         string       `json:"currency,omitempty"`
	SessionCreatedAt *time.Time   `json:"sessionCreatedAt,omitempty"`
	Timeline         []TraceEvent `json:"timeline"`
}

// TraceEvent is one recorded step in a deposit's lifetime.
type TraceEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Stage      string    `json:"stage"`
	Endpoint   string    `json:"endpoint,omitempty"`
	StatusCode int       `json:"statusCode,omitempty"`
	Decision   string    `json:"decision,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// TraceHandler answers support queries about what happened to a deposit.
type TraceHandler struct {
	sessions provider.SessionStore
	osLogger *opensearch.Logger
}

// NewTraceHandler creates a new deposit trace handler
func NewTraceHandler(sessions provider.SessionStore, osLogger *opensearch.Logger) *TraceHandler {
	return &TraceHandler{sessions: sessions, osLogger: osLogger}
}

// HandleTrace processes GET /api/deposit/trace?messageId=...
func (h *TraceHandler) HandleTrace(w http.ResponseWriter, r *http.Request) {
	messageID := r.URL.Query().Get("messageId")
	if messageID == "" {
		response.Error(w, http.StatusBadRequest, "messageId parameter is required", nil)
		return
	}

	trace := DepositTraceResponse{MessageID: messageID}

	// A live session pins the provider and fills in the deposit metadata;
	// an expired one just means the log indices do the work alone.
	providers := provider.DefaultRegistry.GetProviderNames()
	session, err := h.sessions.GetSession(r.Context(), messageID)
	if err != nil && !errors.Is(err, provider.ErrSessionNotFound) {
		response.Error(w, http.StatusInternalServerError, "Failed to load session", err)
		return
	}
	if session != nil {
		trace.PaymentProvider = session.Provider
		trace.Email = session.Email
		trace.Currency = session.Currency
		createdAt := session.CreatedAt
		trace.SessionCreatedAt = &createdAt
		providers = []string{session.Provider}
	}

	for _, providerName := range providers {
		if h.osLogger == nil {
			break
		}
		logs, err := h.osLogger.GetLogsByMessageID(r.Context(), providerName, messageID)
		if err != nil {
			continue
		}
		for _, entry := range logs {
			trace.Timeline = append(trace.Timeline, TraceEvent{
				Timestamp:  entry.Timestamp,
				Stage:      entry.Stage,
				Endpoint:   entry.Endpoint,
				StatusCode: entry.Response.StatusCode,
				Decision:   entry.Decision,
				Error:      entry.Error.Message,
			})
		}
		if len(logs) > 0 && trace.PaymentProvider == "" {
			trace.PaymentProvider = providerName
		}
	}

	// Session metadata alone is not a trace: without a single recorded
	// event there is nothing to show.
	if len(trace.Timeline) == 0 {
		response.Error(w, http.StatusNotFound, "No trace data found for message id", nil)
		return
	}

	response.WriteJSON(w, http.StatusOK, trace)
}

// HandleRecentErrors processes GET /api/deposit/errors?provider=...&hours=24
// and lists a provider's recent failed lifecycle events for support triage.
func (h *TraceHandler) HandleRecentErrors(w http.ResponseWriter, r *http.Request) {
	providerName := r.URL.Query().Get("provider")
	if providerName == "" {
		response.Error(w, http.StatusBadRequest, "provider parameter is required", nil)
		return
	}

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.Error(w, http.StatusBadRequest, "hours must be a positive integer", nil)
			return
		}
		hours = parsed
	}

	if h.osLogger == nil {
		response.Error(w, http.StatusServiceUnavailable, "Log storage is not enabled", nil)
		return
	}

	logs, err := h.osLogger.GetRecentErrorLogs(r.Context(), providerName, hours)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to query error logs", err)
		return
	}

	response.Success(w, http.StatusOK, "Recent error logs", map[string]any{
		"provider": providerName,
		"hours":    hours,
		"count":    len(logs),
		"errors":   logs,
	})
}

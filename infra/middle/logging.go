package middle

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mobinc/pnpbridge/infra/opensearch"
	"github.com/mobinc/pnpbridge/provider"
)

// responseWriter wraps http.ResponseWriter to capture response data
type responseWriter struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	startTime  time.Time
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		body:           &bytes.Buffer{},
		statusCode:     http.StatusOK,
		startTime:      time.Now(),
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// DepositLoggingMiddleware records every deposit-lifecycle request and its
// response as a DepositLog document, correlated by message id so the trace
// endpoint can replay the timeline. The session store resolves the provider
// for the success redirect, whose path carries no provider segment.
func DepositLoggingMiddleware(osLogger *opensearch.Logger, sessions provider.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			providerName, stage := classifyEndpoint(r.URL.Path)
			if stage == "" {
				next.ServeHTTP(w, r)
				return
			}

			requestID := uuid.New().String()
			r.Header.Set("X-Request-ID", requestID)

			var requestBody []byte
			if r.Body != nil {
				requestBody, _ = io.ReadAll(r.Body)
				r.Body = io.NopCloser(bytes.NewBuffer(requestBody))
			}

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			messageID := extractMessageID(stage, r, requestBody, rw.body.Bytes())

			if providerName == "" {
				providerName = resolveSuccessProvider(r.Context(), sessions, messageID)
			}
			if providerName == "" {
				// Without a provider there is no index to route the event to.
				return
			}

			depositLog := opensearch.DepositLog{
				Timestamp: rw.startTime,
				Provider:  providerName,
				MessageID: messageID,
				Stage:     stage,
				Method:    r.Method,
				Endpoint:  r.URL.Path,
				RequestID: requestID,
				ClientIP:  GetClientIP(r),
				Request: opensearch.RequestLog{
					Body: opensearch.SanitizeForLog(string(requestBody)),
				},
				Response: opensearch.ResponseLog{
					StatusCode:       rw.statusCode,
					Body:             opensearch.SanitizeForLog(rw.body.String()),
					ProcessingTimeMs: time.Since(rw.startTime).Milliseconds(),
				},
			}

			if decision := extractDecision(rw.body.Bytes()); decision != "" {
				depositLog.Decision = decision
			}
			if rw.statusCode >= 400 {
				depositLog.Error = opensearch.ErrorInfo{
					Code:    http.StatusText(rw.statusCode),
					Message: rw.body.String(),
				}
			}

			// Log asynchronously to avoid blocking the response
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = osLogger.LogDepositEvent(ctx, depositLog)
			}()
		})
	}
}

// resolveSuccessProvider looks up which provider opened the deposit so the
// success event lands in that provider's log index.
func resolveSuccessProvider(ctx context.Context, sessions provider.SessionStore, messageID string) string {
	if sessions == nil || messageID == "" {
		return ""
	}
	session, err := sessions.GetSession(ctx, messageID)
	if err != nil {
		return ""
	}
	return session.Provider
}

// classifyEndpoint maps a request path to its provider and lifecycle stage.
// Paths outside the deposit lifecycle return an empty stage.
func classifyEndpoint(path string) (providerName, stage string) {
	if path == "/success" {
		return "", opensearch.StageSuccess
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) != 2 {
		return "", ""
	}

	switch segments[1] {
	case "deposit":
		return segments[0], opensearch.StageDeposit
	case "notifications":
		return segments[0], opensearch.StageNotification
	}
	return "", ""
}

// extractMessageID pulls the correlation id from wherever the stage puts it:
// the deposit response, the notification request body, or the success query.
func extractMessageID(stage string, r *http.Request, requestBody, responseBody []byte) string {
	switch stage {
	case opensearch.StageSuccess:
		return r.URL.Query().Get("messageid")

	case opensearch.StageDeposit:
		var resp struct {
			MessageID string `json:"messageId"`
		}
		if err := json.Unmarshal(responseBody, &resp); err == nil {
			return resp.MessageID
		}

	case opensearch.StageNotification:
		var envelope struct {
			Data struct {
				OrderDetails struct {
					MerchantOrderID string `json:"merchantOrderID"`
				} `json:"orderDetails"`
			} `json:"data"`
			Params struct {
				Data struct {
					MessageID string `json:"messageid"`
				} `json:"data"`
			} `json:"params"`
		}
		if err := json.Unmarshal(requestBody, &envelope); err == nil {
			if envelope.Data.OrderDetails.MerchantOrderID != "" {
				return envelope.Data.OrderDetails.MerchantOrderID
			}
			return envelope.Params.Data.MessageID
		}
	}
	return ""
}

// extractDecision reads the decision field out of a notification reply.
func extractDecision(responseBody []byte) string {
	var reply struct {
		Data struct {
			Response string `json:"response"`
		} `json:"data"`
		Result struct {
			Data struct {
				Status string `json:"status"`
			} `json:"data"`
		} `json:"result"`
	}
	if err := json.Unmarshal(responseBody, &reply); err != nil {
		return ""
	}
	if reply.Data.Response != "" {
		return reply.Data.Response
	}
	return reply.Result.Data.Status
}

package handler

import (
	"errors"
	"fmt"
	"html"
	"net/http"

	"github.com/mobinc/pnpbridge/infra/logger"
	"github.com/mobinc/pnpbridge/provider"
)

// SuccessHandler serves the post-payment redirect page. The provider sends
// the payer here after a completed deposit; the page forwards them to the
// login URL stored on the session during callback verification.
type SuccessHandler struct {
	sessions provider.SessionStore
}

// NewSuccessHandler creates a new success redirect handler
func NewSuccessHandler(sessions provider.SessionStore) *SuccessHandler {
	return &SuccessHandler{sessions: sessions}
}

// HandleSuccess processes GET /success?messageid=...
func (h *SuccessHandler) HandleSuccess(w http.ResponseWriter, r *http.Request) {
	messageID := r.URL.Query().Get("messageid")
	if messageID == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("messageid parameter is required"))
		return
	}

	session, err := h.sessions.GetSession(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, provider.ErrSessionNotFound) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("Session data not found"))
			return
		}
		logger.Error("success page session lookup failed", err, logger.LogContext{MessageID: messageID})
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	if session.SuccessLoginURL == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("SuccessLoginUrl is missing"))
		return
	}

	// The partner API may deliver the URL HTML-entity encoded.
	decoded := html.UnescapeString(session.SuccessLoginURL)

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, redirectPage, decoded, decoded)
}

// redirectPage breaks out of the payment iframe with a postMessage plus a
// top-navigation, and keeps a clickable fallback link for browsers that
// block both.
const redirectPage = `<!DOCTYPE html>
<html>
<head>
    <meta charset='utf-8'>
    <meta name='viewport' content='width=device-width, initial-scale=1'>
    <title>Ohjataan...</title>
    <style>
        body {
            font-family: -apple-system, sans-serif;
            text-align: center;
            padding-top: 50px;
            background-color: #fff;
            color: #333;
        }
        .spinner {
            margin: 0 auto 20px;
            width: 40px;
            height: 40px;
            border: 4px solid #f3f3f3;
            border-top: 4px solid #007bff;
            border-radius: 50%%;
            animation: s 1s linear infinite;
        }
        @keyframes s { 0%% { transform: rotate(0deg); } 100%% { transform: rotate(360deg); } }
        .btn {
            display: inline-block;
            padding: 12px 30px;
            background-color: #007bff;
            color: white;
            text-decoration: none;
            border-radius: 6px;
            font-weight: bold;
            margin-top: 20px;
        }
    </style>
</head>
<body>
    <div class='spinner'></div>
    <h3>Maksu onnistui</h3>
    <a id='lnk' href='%s' target='_top' class='btn'>Jatkaa</a>

    <script>
        var u = '%s';
        window.onload = function() {
            try { window.parent.postMessage({ type: 'PAYMENT_SUCCESS', url: u }, '*'); } catch(e){}
            try { if (window.top) window.top.location.href = u; } catch(e){}
            setTimeout(function() { try { document.getElementById('lnk').click(); } catch(e){} }, 100);
        };
    </script>
</body>
</html>`

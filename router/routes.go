package router

import (
	"github.com/go-chi/chi/v5"
	"github.com/mobinc/pnpbridge/handler"
	"github.com/mobinc/pnpbridge/infra/opensearch"
	"github.com/mobinc/pnpbridge/provider"

	// Import for side-effect registration
	_ "github.com/mobinc/pnpbridge/provider/trumo"
	_ "github.com/mobinc/pnpbridge/provider/trustly"
)

// Routes mounts the bridge endpoints. The deposit and notification routes
// are provider-scoped; success and trace are shared across providers.
func Routes(r chi.Router, bridge *provider.BridgeService, sessions provider.SessionStore, osLogger *opensearch.Logger) {
	depositHandler := handler.NewDepositHandler(bridge)
	notificationHandler := handler.NewNotificationHandler(bridge)
	successHandler := handler.NewSuccessHandler(sessions)
	traceHandler := handler.NewTraceHandler(sessions, osLogger)

	r.Post("/{provider}/deposit", depositHandler.HandleDeposit)
	r.Post("/{provider}/notifications", notificationHandler.HandleNotification)
	r.Get("/success", successHandler.HandleSuccess)
	r.Get("/api/deposit/trace", traceHandler.HandleTrace)
	r.Get("/api/deposit/errors", traceHandler.HandleRecentErrors)
}

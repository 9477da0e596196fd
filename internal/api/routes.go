// internal/api/routes.go
package api

import (
	"net/http"

	"github.com/kkuzar/pos_hub/internal/middleware"
	"github.com/kkuzar/pos_hub/internal/service"
	"github.com/kkuzar/pos_hub/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRoutes configures the HTTP routes for the application.
func SetupRoutes(mux *http.ServeMux, s *service.Service, hub *websocket.Hub, wsHandler *websocket.Handler, gatherer prometheus.Gatherer, logger *zap.Logger) {
	apiHandler := NewAPIHandler(s, hub, logger)

	// Auth
	mux.HandleFunc("POST /api/v1/auth/register", middleware.OptionalAuth(s, apiHandler.Register))
	mux.HandleFunc("POST /api/v1/auth/login", apiHandler.Login)

	// Operations
	mux.HandleFunc("GET /api/v1/hub/stats", middleware.AuthMiddleware(s, middleware.RequireElevated(apiHandler.HubStats)))
	mux.HandleFunc("GET /api/v1/receipts/{orderId}", middleware.AuthMiddleware(s, middleware.RequireElevated(apiHandler.GetReceipt)))

	mux.HandleFunc("GET /healthz", apiHandler.Healthz)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// WebSocket, authenticated during the handshake
	mux.HandleFunc("/ws", wsHandler.HandleConnections)
}

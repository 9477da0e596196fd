// internal/api/handlers.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kkuzar/pos_hub/internal/middleware"
	"github.com/kkuzar/pos_hub/internal/models"
	"github.com/kkuzar/pos_hub/internal/service"
	"github.com/kkuzar/pos_hub/internal/storage"
	"github.com/kkuzar/pos_hub/internal/websocket"
	"go.uber.org/zap"
)

type APIHandler struct {
	service *service.Service
	hub     *websocket.Hub
	logger  *zap.Logger
}

func NewAPIHandler(s *service.Service, hub *websocket.Hub, logger *zap.Logger) *APIHandler {
	return &APIHandler{service: s, hub: hub, logger: logger.Named("api")}
}

// writeJSON is a helper to write JSON responses
func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Response header is already sent
			h.logger.Warn("Error encoding JSON response", zap.Error(err))
		}
	}
}

// writeError is a helper to write JSON error responses
func (h *APIHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, models.ErrorPayload{Message: message, Code: code})
}

// Register creates an account. Elevated roles need an admin bearer token.
func (h *APIHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, models.CodeInvalidPayload, "Invalid request body")
		return
	}

	user, err := h.service.RegisterUser(r.Context(), req, middleware.GetSessionFromContext(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUsernameTaken):
			h.writeError(w, http.StatusConflict, models.CodeInvalidPayload, err.Error())
		case errors.Is(err, service.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, models.CodeInvalidPayload, err.Error())
		case errors.Is(err, service.ErrPermissionDenied):
			h.writeError(w, http.StatusForbidden, models.CodePermissionDenied, err.Error())
		default:
			h.logger.Error("Register failed", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, models.CodeInternal, "Failed to register user")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, user)
}

func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, models.CodeInvalidPayload, "Invalid request body")
		return
	}

	token, user, err := h.service.LoginUser(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, models.CodeInvalidToken, err.Error())
		} else {
			h.logger.Error("Login failed", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, models.CodeInternal, "Login failed")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, models.LoginResponse{Token: token, User: *user})
}

type hubStatsResponse struct {
	Connections int                     `json:"connections"`
	Rooms       map[string]int          `json:"rooms"`
	Users       []models.ConnectionInfo `json:"users"`
}

// HubStats reports the live connection and room counts of this instance.
func (h *APIHandler) HubStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, hubStatsResponse{
		Connections: h.hub.ConnectionCount(),
		Rooms:       h.hub.RoomSizes(),
		Users:       h.hub.Snapshot(),
	})
}

// GetReceipt streams an archived receipt. The date query parameter selects the
// UTC day the sale was recorded on and defaults to today.
func (h *APIHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderId")
	if orderID == "" {
		h.writeError(w, http.StatusBadRequest, models.CodeInvalidPayload, "orderId is required")
		return
	}

	date := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, models.CodeInvalidPayload, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}

	body, err := h.service.GetReceipt(r.Context(), orderID, date)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrFileNotFound):
			h.writeError(w, http.StatusNotFound, models.CodeUnknownTarget, "Receipt not found")
		case errors.Is(err, service.ErrStorageDisabled):
			h.writeError(w, http.StatusServiceUnavailable, models.CodeInternal, "Receipt storage is not configured")
		default:
			h.logger.Error("Receipt download failed", zap.String("orderId", orderID), zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, models.CodeInternal, "Failed to load receipt")
		}
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("Receipt stream interrupted", zap.String("orderId", orderID), zap.Error(err))
	}
}

// Healthz pings the database and the counter store.
func (h *APIHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.service.Ping(ctx); err != nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"connections": h.hub.ConnectionCount(),
	})
}

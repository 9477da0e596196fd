package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kkuzar/pos_hub/internal/auth"
	"github.com/kkuzar/pos_hub/internal/config"
	"github.com/kkuzar/pos_hub/internal/metrics"
	"github.com/kkuzar/pos_hub/internal/models"
	"github.com/kkuzar/pos_hub/internal/service"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// POSService is the domain logic the message handlers call into.
type POSService interface {
	NewActivity(user *models.SessionUser, p *models.POSActivityPayload) (*models.ActivityLog, error)
	LogPOSActivity(ctx context.Context, entry *models.ActivityLog) (*service.SaleOutcome, error)
	RecordInventoryChange(ctx context.Context, user *models.SessionUser, p *models.InventoryUpdatePayload) (*models.InventoryChange, bool, error)
	UpdateStaffStatus(ctx context.Context, user *models.SessionUser, p *models.StaffStatusPayload) (*models.StaffStatus, error)
	LiveAnalytics(ctx context.Context) (*models.LiveAnalyticsPayload, error)
	RecentOrders(ctx context.Context, limit int) ([]models.Order, error)
	LowStockItems(ctx context.Context, limit int) ([]models.Product, error)
	StaffActivity(ctx context.Context, limit int) ([]models.ActivityLog, error)
	LowStockThreshold() int
}

type routeFunc func(ctx context.Context, c *Client, data json.RawMessage)

const maxRoomNameLength = 64

// Handler admits connections and routes their frames.
type Handler struct {
	hub      *Hub
	service  POSService
	auth     auth.Authenticator
	cfg      config.HubConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *metrics.Metrics
	baseCtx  context.Context
	routes   map[models.MessageType]routeFunc
	now      func() time.Time
}

// NewHandler wires the router. ctx bounds the external calls handlers make and
// is cancelled on shutdown. An empty allowedOrigins accepts any origin.
func NewHandler(ctx context.Context, hub *Hub, svc POSService, authn auth.Authenticator, cfg config.HubConfig, allowedOrigins []string, logger *zap.Logger, m *metrics.Metrics) *Handler {
	h := &Handler{
		hub:     hub,
		service: svc,
		auth:    authn,
		cfg:     cfg,
		logger:  logger.Named("ws"),
		metrics: m,
		baseCtx: ctx,
		now:     time.Now,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	h.routes = map[models.MessageType]routeFunc{
		models.TypePing:              h.handlePing,
		models.TypeJoinRoom:          h.handleJoinRoom,
		models.TypeLeaveRoom:         h.handleLeaveRoom,
		models.TypeBroadcastMessage:  h.handleBroadcast,
		models.TypePrivateMessage:    h.handlePrivateMessage,
		models.TypePOSActivity:       h.handlePOSActivity,
		models.TypeInventoryUpdate:   h.handleInventoryUpdate,
		models.TypeStaffStatusUpdate: h.handleStaffStatus,
		models.TypeRequestData:       h.handleRequestData,
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleConnections is the handshake endpoint: GET /ws?token=...
func (h *Handler) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		writeHandshakeError(w, http.StatusUpgradeRequired, "", "websocket upgrade required")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		writeHandshakeError(w, http.StatusUnauthorized, models.CodeAuthRequired, "token query parameter is required")
		return
	}

	user, err := h.auth.Authenticate(r.Context(), token)
	switch {
	case errors.Is(err, auth.ErrTokenRequired):
		writeHandshakeError(w, http.StatusUnauthorized, models.CodeAuthRequired, "token query parameter is required")
		return
	case errors.Is(err, auth.ErrInvalidToken):
		writeHandshakeError(w, http.StatusUnauthorized, models.CodeInvalidToken, "invalid or expired token")
		return
	case err != nil:
		h.logger.Error("Session lookup failed during handshake", zap.Error(err))
		writeHandshakeError(w, http.StatusServiceUnavailable, models.CodeInternal, "session lookup failed")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := h.newClient(conn, user, ConnMeta{
		UserAgent:   r.UserAgent(),
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: h.now(),
	})
	if err := h.admit(client); err != nil {
		client.closeConn()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func writeHandshakeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.ErrorPayload{Message: message, Code: code})
}

func (h *Handler) newClient(conn *websocket.Conn, user *models.SessionUser, meta ConnMeta) *Client {
	var limiter *rate.Limiter
	if h.cfg.MessagesPerSecond > 0 {
		burst := h.cfg.MessageBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(h.cfg.MessagesPerSecond), burst)
	}
	sendBuffer := h.cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return newClient(h.hub, conn, user, meta, sendBuffer, limiter, h.logger)
}

// admit registers c with its default rooms, greets it and tells the admin room.
func (h *Handler) admit(c *Client) error {
	rooms := auth.DefaultRooms(c.user)
	greeting, err := models.EncodeEnvelope(models.TypeConnectionEstablished, models.ConnectionEstablishedPayload{
		ConnectionID: c.id,
		User:         c.user.Summary(),
		Rooms:        rooms,
		ServerTime:   h.now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := h.hub.RegisterWithGreeting(c, rooms, greeting); err != nil {
		c.logger.Warn("Failed to register client", zap.Error(err))
		return err
	}

	h.broadcast([]string{auth.RoomAdmin}, nil, models.TypeUserConnected, models.UserConnectedPayload{
		ConnectionID: c.id,
		User:         c.user.Summary(),
		Timestamp:    h.now().UTC(),
	})
	return nil
}

// processMessage routes one inbound frame. It never panics and never closes the connection.
func (h *Handler) processMessage(c *Client, message []byte) {
	var env models.Envelope
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panic", zap.Any("panic", r), zap.String("type", string(env.Type)), zap.Stack("stack"))
			h.sendError(c, models.CodeInternal, "internal error", env.Type)
		}
	}()

	if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
		h.sendError(c, models.CodeMalformedFrame, "frame must be a JSON object with a type", "")
		return
	}

	// A frame read just before eviction must not act for a connection that is gone.
	if !h.hub.IsRegistered(c) {
		c.logger.Debug("Dropping frame from unregistered connection", zap.String("type", string(env.Type)))
		return
	}

	c.touch(h.now())

	if c.limiter != nil && !c.limiter.Allow() {
		h.sendError(c, models.CodeRateLimited, "too many messages", env.Type)
		return
	}

	route, ok := h.routes[env.Type]
	if !ok {
		h.metrics.MessageReceived("unknown")
		c.logger.Debug("Ignoring unknown message type", zap.String("type", string(env.Type)))
		return
	}
	h.metrics.MessageReceived(string(env.Type))
	route(h.baseCtx, c, env.Data)
}

// --- Message handlers ---

func (h *Handler) handlePing(ctx context.Context, c *Client, _ json.RawMessage) {
	h.reply(c, models.TypePong, models.PongPayload{ServerTime: h.now().UTC()})
}

func (h *Handler) handleJoinRoom(ctx context.Context, c *Client, data json.RawMessage) {
	var req models.RoomPayload
	if !h.decodePayload(c, data, &req, models.TypeJoinRoom) {
		return
	}
	room := strings.TrimSpace(req.Room)
	if !validRoomName(room) {
		h.sendError(c, models.CodeInvalidPayload, "invalid room name", models.TypeJoinRoom)
		return
	}
	if !auth.CanJoin(c.user, room) {
		h.sendError(c, models.CodePermissionDenied, "not allowed to join room "+room, models.TypeJoinRoom)
		return
	}

	members, err := h.hub.Join(c, room)
	if err != nil {
		return
	}
	h.reply(c, models.TypeRoomJoined, models.RoomAckPayload{Room: room, Members: members})
}

func (h *Handler) handleLeaveRoom(ctx context.Context, c *Client, data json.RawMessage) {
	var req models.RoomPayload
	if !h.decodePayload(c, data, &req, models.TypeLeaveRoom) {
		return
	}
	room := strings.TrimSpace(req.Room)
	if !validRoomName(room) {
		h.sendError(c, models.CodeInvalidPayload, "invalid room name", models.TypeLeaveRoom)
		return
	}

	members, err := h.hub.Leave(c, room)
	if err != nil {
		return
	}
	h.reply(c, models.TypeRoomLeft, models.RoomAckPayload{Room: room, Members: members})
}

func (h *Handler) handleBroadcast(ctx context.Context, c *Client, data json.RawMessage) {
	var req models.BroadcastPayload
	if !h.decodePayload(c, data, &req, models.TypeBroadcastMessage) {
		return
	}
	room := strings.TrimSpace(req.Room)
	if !validRoomName(room) || len(req.Message) == 0 {
		h.sendError(c, models.CodeInvalidPayload, "room and message are required", models.TypeBroadcastMessage)
		return
	}
	if !auth.CanBroadcast(c.user, room) {
		h.sendError(c, models.CodePermissionDenied, "not allowed to broadcast to room "+room, models.TypeBroadcastMessage)
		return
	}

	now := h.now().UTC()
	h.broadcast([]string{room}, c, models.TypeBroadcastMessage, models.BroadcastMessagePayload{
		Room:      room,
		Message:   req.Message,
		From:      c.user.Summary(),
		Timestamp: now,
	})

	details, _ := json.Marshal(map[string]interface{}{"room": room, "message": req.Message})
	h.recordActivity(ctx, c, &models.POSActivityPayload{ActivityType: models.ActivityBroadcast, Details: details})
}

func (h *Handler) handlePrivateMessage(ctx context.Context, c *Client, data json.RawMessage) {
	var req models.PrivateMessagePayload
	if !h.decodePayload(c, data, &req, models.TypePrivateMessage) {
		return
	}
	if strings.TrimSpace(req.ToUserID) == "" || len(req.Message) == 0 {
		h.sendError(c, models.CodeInvalidPayload, "toUserId and message are required", models.TypePrivateMessage)
		return
	}

	payload, err := models.EncodeEnvelope(models.TypePrivateMessage, models.PrivateMessageOutPayload{
		From:      c.user.Summary(),
		Message:   req.Message,
		Timestamp: h.now().UTC(),
	})
	if err != nil {
		h.sendError(c, models.CodeInternal, "failed to encode message", models.TypePrivateMessage)
		return
	}

	n := h.hub.SendToUser(req.ToUserID, payload)
	if n == 0 {
		h.reply(c, models.TypeMessageDeliveryFailed, models.DeliveryPayload{
			ToUserID: req.ToUserID,
			Reason:   "recipient is not connected",
		})
		return
	}
	h.reply(c, models.TypeMessageDelivered, models.DeliveryPayload{ToUserID: req.ToUserID, Connections: n})
}

func (h *Handler) handlePOSActivity(ctx context.Context, c *Client, data json.RawMessage) {
	var req models.POSActivityPayload
	if !h.decodePayload(c, data, &req, models.TypePOSActivity) {
		return
	}
	entry, err := h.service.NewActivity(c.user, &req)
	if err != nil {
		h.sendServiceError(c, err, models.TypePOSActivity)
		return
	}

	h.broadcast([]string{auth.RoomPOS, auth.RoomAdmin}, c, models.TypePOSActivity, models.POSActivityOutPayload{
		ActivityID: entry.ID,
		User:       c.user.Summary(),
		Activity:   req,
		Timestamp:  entry.CreatedAt,
	})

	outcome, err := h.service.LogPOSActivity(ctx, entry)
	if outcome == nil {
		h.sendServiceError(c, err, models.TypePOSActivity)
		return
	}
	if err != nil {
		// Activity is stored; the Metrics Mirror failed.
		c.logger.Error("Metrics mirror failed", zap.String("activityId", entry.ID), zap.Error(err))
		h.reply(c, models.TypeDataError, models.DataErrorPayload{RequestType: "analytics", Message: "failed to update analytics"})
		return
	}
	if outcome.Analytics != nil {
		h.broadcast([]string{auth.RoomAdmin}, nil, models.TypeAnalyticsUpdated, outcome.Analytics)
	}
}

func (h *Handler) handleInventoryUpdate(ctx context.Context, c *Client, data json.RawMessage) {
	if !auth.CanManageInventory(c.user) {
		h.sendError(c, models.CodePermissionDenied, "only admins and managers may update inventory", models.TypeInventoryUpdate)
		return
	}
	var req models.InventoryUpdatePayload
	if !h.decodePayload(c, data, &req, models.TypeInventoryUpdate) {
		return
	}

	change, lowStock, err := h.service.RecordInventoryChange(ctx, c.user, &req)
	if err != nil {
		h.sendServiceError(c, err, models.TypeInventoryUpdate)
		return
	}

	now := h.now().UTC()
	h.broadcast([]string{auth.RoomAdmin}, nil, models.TypeInventoryUpdated, models.InventoryUpdatedPayload{
		Change:    *change,
		User:      c.user.Summary(),
		Timestamp: now,
	})
	if lowStock {
		h.broadcast([]string{auth.RoomAdmin}, nil, models.TypeLowStockAlert, models.LowStockAlertPayload{
			ProductID:   change.ProductID,
			ProductName: change.ProductName,
			Stock:       change.NewStock,
			Threshold:   h.service.LowStockThreshold(),
			Timestamp:   now,
		})
	}
}

func (h *Handler) handleStaffStatus(ctx context.Context, c *Client, data json.RawMessage) {
	var req models.StaffStatusPayload
	if !h.decodePayload(c, data, &req, models.TypeStaffStatusUpdate) {
		return
	}
	status, err := h.service.UpdateStaffStatus(ctx, c.user, &req)
	if err != nil {
		h.sendServiceError(c, err, models.TypeStaffStatusUpdate)
		return
	}
	h.broadcast([]string{auth.RoomAdmin}, nil, models.TypeStaffStatusUpdated, models.StaffStatusUpdatedPayload{
		Status:    *status,
		Timestamp: h.now().UTC(),
	})
}

func (h *Handler) handleRequestData(ctx context.Context, c *Client, data json.RawMessage) {
	var req models.DataRequestPayload
	if !h.decodePayload(c, data, &req, models.TypeRequestData) {
		return
	}

	var (
		result interface{}
		err    error
	)
	switch req.RequestType {
	case models.RequestLiveAnalytics:
		var live *models.LiveAnalyticsPayload
		live, err = h.service.LiveAnalytics(ctx)
		if err == nil {
			live.ActiveConnections = h.hub.ConnectionCount()
			result = live
		}
	case models.RequestOnlineUsers:
		result = onlineUsers(h.hub.Snapshot())
	case models.RequestRecentOrders:
		result, err = h.service.RecentOrders(ctx, req.Limit)
	case models.RequestLowStockItems:
		result, err = h.service.LowStockItems(ctx, req.Limit)
	case models.RequestStaffActivity:
		result, err = h.service.StaffActivity(ctx, req.Limit)
	default:
		h.reply(c, models.TypeDataError, models.DataErrorPayload{RequestType: req.RequestType, Message: "unknown request type"})
		return
	}

	if err != nil {
		c.logger.Error("Data request failed", zap.String("requestType", req.RequestType), zap.Error(err))
		h.reply(c, models.TypeDataError, models.DataErrorPayload{RequestType: req.RequestType, Message: "failed to load " + req.RequestType})
		return
	}
	h.reply(c, models.TypeDataResponse, models.DataResponsePayload{RequestType: req.RequestType, Data: result})
}

func onlineUsers(conns []models.ConnectionInfo) models.OnlineUsersPayload {
	byRole := make(map[models.Role]int)
	for _, ci := range conns {
		byRole[ci.User.Role]++
	}
	return models.OnlineUsersPayload{Users: conns, Total: len(conns), ByRole: byRole}
}

// recordActivity stores a side-effect activity. Failures are logged only.
func (h *Handler) recordActivity(ctx context.Context, c *Client, p *models.POSActivityPayload) {
	entry, err := h.service.NewActivity(c.user, p)
	if err != nil {
		c.logger.Warn("Failed to build activity", zap.Error(err))
		return
	}
	if _, err := h.service.LogPOSActivity(ctx, entry); err != nil {
		c.logger.Warn("Failed to record activity", zap.String("activityType", string(p.ActivityType)), zap.Error(err))
	}
}

// --- Helpers ---

func validRoomName(room string) bool {
	return room != "" && len(room) <= maxRoomNameLength && !strings.ContainsAny(room, " \t\r\n")
}

func (h *Handler) decodePayload(c *Client, data json.RawMessage, dst interface{}, msgType models.MessageType) bool {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		h.sendError(c, models.CodeInvalidPayload, "invalid payload for "+string(msgType), msgType)
		return false
	}
	return true
}

func (h *Handler) reply(c *Client, msgType models.MessageType, data interface{}) {
	payload, err := models.EncodeEnvelope(msgType, data)
	if err != nil {
		c.logger.Error("Failed to encode reply", zap.String("type", string(msgType)), zap.Error(err))
		return
	}
	h.hub.Deliver(c, payload)
}

func (h *Handler) broadcast(rooms []string, exclude *Client, msgType models.MessageType, data interface{}) {
	payload, err := models.EncodeEnvelope(msgType, data)
	if err != nil {
		h.logger.Error("Failed to encode broadcast", zap.String("type", string(msgType)), zap.Error(err))
		return
	}
	h.hub.BroadcastToRooms(rooms, payload, exclude)
}

func (h *Handler) sendError(c *Client, code, message string, msgType models.MessageType) {
	h.metrics.ErrorSent(code)
	h.reply(c, models.TypeError, models.ErrorPayload{Message: message, Code: code, Type: msgType})
}

func (h *Handler) sendServiceError(c *Client, err error, msgType models.MessageType) {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		h.sendError(c, models.CodePermissionDenied, "permission denied", msgType)
	case errors.Is(err, service.ErrInvalidInput):
		h.sendError(c, models.CodeInvalidPayload, err.Error(), msgType)
	default:
		c.logger.Error("Service error", zap.String("type", string(msgType)), zap.Error(err))
		h.sendError(c, models.CodeInternal, "internal error", msgType)
	}
}

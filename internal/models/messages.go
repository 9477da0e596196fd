package models

import (
	"encoding/json"
	"time"
)

// MessageType is the discriminator of an Envelope.
type MessageType string

// Inbound message types.
const (
	TypePing              MessageType = "ping"
	TypeJoinRoom          MessageType = "join_room"
	TypeLeaveRoom         MessageType = "leave_room"
	TypeBroadcastMessage  MessageType = "broadcast_message"
	TypePrivateMessage    MessageType = "private_message"
	TypePOSActivity       MessageType = "pos_activity"
	TypeInventoryUpdate   MessageType = "inventory_update"
	TypeStaffStatusUpdate MessageType = "staff_status_update"
	TypeRequestData       MessageType = "request_data"
)

// Outbound message types.
const (
	TypeConnectionEstablished MessageType = "connection_established"
	TypePong                  MessageType = "pong"
	TypeRoomJoined            MessageType = "room_joined"
	TypeRoomLeft              MessageType = "room_left"
	TypeError                 MessageType = "error"
	TypeMessageDelivered      MessageType = "message_delivered"
	TypeMessageDeliveryFailed MessageType = "message_delivery_failed"
	TypeInventoryUpdated      MessageType = "inventory_updated"
	TypeLowStockAlert         MessageType = "low_stock_alert"
	TypeStaffStatusUpdated    MessageType = "staff_status_updated"
	TypeDataResponse          MessageType = "data_response"
	TypeDataError             MessageType = "data_error"
	TypeAnalyticsUpdated      MessageType = "analytics_updated"
	TypeUserConnected         MessageType = "user_connected"
	TypeUserDisconnected      MessageType = "user_disconnected"
)

// Envelope is the unit exchanged over a hub connection in both directions.
// Data is left raw on receipt; handlers decode it into their own payload type.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// outboundEnvelope marshals an arbitrary payload without a second encoding pass.
type outboundEnvelope struct {
	Type MessageType `json:"type"`
	Data interface{} `json:"data"`
}

// EncodeEnvelope marshals a typed payload into a wire frame.
func EncodeEnvelope(msgType MessageType, data interface{}) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Type: msgType, Data: data})
}

// Error codes carried by the `error` envelope.
const (
	CodeAuthRequired     = "AUTH_REQUIRED"
	CodeInvalidToken     = "INVALID_TOKEN"
	CodeMalformedFrame   = "MALFORMED_FRAME"
	CodeInvalidPayload   = "INVALID_PAYLOAD"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeUnknownTarget    = "UNKNOWN_TARGET"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInternal         = "INTERNAL_ERROR"
)

type ErrorPayload struct {
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Type    MessageType `json:"type,omitempty"` // type of the request that failed
}

// UserSummary is the redacted view of a session shared with other clients.
type UserSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Summary returns the redacted view of the session.
func (u *SessionUser) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Role: u.Role}
}

// --- Inbound payloads ---

type RoomPayload struct {
	Room string `json:"room"`
}

type BroadcastPayload struct {
	Room    string          `json:"room"`
	Message json.RawMessage `json:"message"`
}

type PrivateMessagePayload struct {
	ToUserID string          `json:"toUserId"`
	Message  json.RawMessage `json:"message"`
}

type POSActivityPayload struct {
	ActivityType ActivityType    `json:"activityType"`
	OrderID      string          `json:"orderId,omitempty"`
	Amount       float64         `json:"amount,omitempty"`
	CustomerID   string          `json:"customerId,omitempty"`
	StoreID      string          `json:"storeId,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
}

type InventoryUpdatePayload struct {
	ProductID     string `json:"productId"`
	ProductName   string `json:"productName,omitempty"`
	PreviousStock int    `json:"previousStock"`
	NewStock      int    `json:"newStock"`
	Reason        string `json:"reason,omitempty"`
}

type StaffStatusPayload struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

// Request types accepted by request_data.
const (
	RequestLiveAnalytics = "live_analytics"
	RequestOnlineUsers   = "online_users"
	RequestRecentOrders  = "recent_orders"
	RequestLowStockItems = "low_stock_items"
	RequestStaffActivity = "staff_activity"
)

type DataRequestPayload struct {
	RequestType string `json:"requestType"`
	Limit       int    `json:"limit,omitempty"`
}

// --- Outbound payloads ---

type ConnectionEstablishedPayload struct {
	ConnectionID string      `json:"connectionId"`
	User         UserSummary `json:"user"`
	Rooms        []string    `json:"rooms"`
	ServerTime   time.Time   `json:"serverTime"`
}

type PongPayload struct {
	ServerTime time.Time `json:"serverTime"`
}

type RoomAckPayload struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

type BroadcastMessagePayload struct {
	Room      string          `json:"room"`
	Message   json.RawMessage `json:"message"`
	From      UserSummary     `json:"from"`
	Timestamp time.Time       `json:"timestamp"`
}

type PrivateMessageOutPayload struct {
	From      UserSummary     `json:"from"`
	Message   json.RawMessage `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
}

type DeliveryPayload struct {
	ToUserID    string `json:"toUserId"`
	Connections int    `json:"connections"`
	Reason      string `json:"reason,omitempty"`
}

type POSActivityOutPayload struct {
	ActivityID string             `json:"activityId,omitempty"`
	User       UserSummary        `json:"user"`
	Activity   POSActivityPayload `json:"activity"`
	Timestamp  time.Time          `json:"timestamp"`
}

type InventoryUpdatedPayload struct {
	Change    InventoryChange `json:"change"`
	User      UserSummary     `json:"user"`
	Timestamp time.Time       `json:"timestamp"`
}

type LowStockAlertPayload struct {
	ProductID   string    `json:"productId"`
	ProductName string    `json:"productName,omitempty"`
	Stock       int       `json:"stock"`
	Threshold   int       `json:"threshold"`
	Timestamp   time.Time `json:"timestamp"`
}

type StaffStatusUpdatedPayload struct {
	Status    StaffStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

type DataResponsePayload struct {
	RequestType string      `json:"requestType"`
	Data        interface{} `json:"data"`
}

type DataErrorPayload struct {
	RequestType string `json:"requestType"`
	Message     string `json:"message"`
}

type AnalyticsUpdatedPayload struct {
	Daily     *MetricsBucket `json:"daily"`
	Hourly    *MetricsBucket `json:"hourly"`
	Timestamp time.Time      `json:"timestamp"`
}

type UserConnectedPayload struct {
	ConnectionID string      `json:"connectionId"`
	User         UserSummary `json:"user"`
	Timestamp    time.Time   `json:"timestamp"`
}

type UserDisconnectedPayload struct {
	ConnectionID    string  `json:"connectionId"`
	Role            Role    `json:"role"`
	Name            string  `json:"name"`
	SessionDuration float64 `json:"sessionDurationSeconds"`
	Reason          string  `json:"reason,omitempty"`
}

// ConnectionInfo is one row of the online_users snapshot.
type ConnectionInfo struct {
	ConnectionID string      `json:"connectionId"`
	User         UserSummary `json:"user"`
	ConnectedAt  time.Time   `json:"connectedAt"`
	LastActivity time.Time   `json:"lastActivity"`
	Rooms        []string    `json:"rooms"`
}

type OnlineUsersPayload struct {
	Users  []ConnectionInfo `json:"users"`
	Total  int              `json:"total"`
	ByRole map[Role]int     `json:"byRole"`
}

type LiveAnalyticsPayload struct {
	Today             *MetricsBucket   `json:"today"`
	CurrentHour       *MetricsBucket   `json:"currentHour"`
	HourlyBreakdown   []*MetricsBucket `json:"hourlyBreakdown"`
	ActiveConnections int              `json:"activeConnections"`
}

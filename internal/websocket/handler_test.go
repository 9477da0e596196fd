package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kkuzar/pos_hub/internal/auth"
	"github.com/kkuzar/pos_hub/internal/cache"
	"github.com/kkuzar/pos_hub/internal/config"
	"github.com/kkuzar/pos_hub/internal/database/sqlstore"
	"github.com/kkuzar/pos_hub/internal/models"
	"github.com/kkuzar/pos_hub/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, 10, 18, 9, 15, 0, 0, time.UTC)

type harness struct {
	hub     *Hub
	handler *Handler
	svc     *service.Service
	db      *sqlstore.Client
	cache   *cache.MemoryCache
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{
		JWT:     config.JWTConfig{Secret: "ws-test-secret", Expiration: time.Hour, Issuer: "test"},
		Hub:     config.HubConfig{LowStockThreshold: 5, SendBuffer: 64, QueryLimit: 20, MaxMessageBytes: 1 << 16},
		Metrics: config.MetricsConfig{DailyTTL: 24 * time.Hour, HourlyTTL: 2 * time.Hour},
	}
	auth.Init(&cfg.JWT)

	db, err := sqlstore.NewClient(context.Background(), sqlstore.DriverSQLite, ":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })

	mc := cache.NewMemoryCache()
	svc := service.NewService(db, nil, mc, cfg, zap.NewNop(), service.WithClock(func() time.Time { return fixedNow }))

	hub := newTestHub(t)
	handler := NewHandler(context.Background(), hub, svc, svc, cfg.Hub, nil, zap.NewNop(), nil)
	return &harness{hub: hub, handler: handler, svc: svc, db: db, cache: mc}
}

// connect admits a socket-less client and discards its greeting frames.
func (h *harness) connect(t *testing.T, user *models.SessionUser) *Client {
	t.Helper()
	c := h.handler.newClient(nil, user, ConnMeta{ConnectedAt: time.Now()})
	require.NoError(t, h.handler.admit(c))
	return c
}

func (h *harness) send(t *testing.T, c *Client, msgType models.MessageType, data interface{}) {
	t.Helper()
	raw, err := models.EncodeEnvelope(msgType, data)
	require.NoError(t, err)
	h.handler.processMessage(c, raw)
}

func decode[T any](t *testing.T, env models.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

var (
	adminUser   = &models.SessionUser{ID: "adm", Name: "Admin", Role: models.RoleAdmin}
	managerUser = &models.SessionUser{ID: "mgr", Name: "Manager", Role: models.RoleManager}
	cashierUser = &models.SessionUser{ID: "csh", Name: "Cashier", Role: models.RoleCashier, StaffID: "17", StoreID: "3"}
	viewerUser  = &models.SessionUser{ID: "vwr", Name: "Viewer", Role: models.RoleViewer}
)

func cashierNamed(id string) *models.SessionUser {
	return &models.SessionUser{ID: id, Name: id, Role: models.RoleCashier}
}

func TestAdmission(t *testing.T) {
	h := newHarness(t)
	admin := h.connect(t, adminUser)
	greeting := drain(admin)
	require.Len(t, greeting, 2)
	assert.Equal(t, []models.MessageType{models.TypeConnectionEstablished, models.TypeUserConnected}, envTypes(greeting))

	cashier := h.connect(t, cashierUser)
	got := drain(cashier)
	require.Len(t, got, 1)
	est := decode[models.ConnectionEstablishedPayload](t, got[0])
	assert.Equal(t, cashier.id, est.ConnectionID)
	assert.Equal(t, []string{"general", "pos", "staff_17", "store_3"}, est.Rooms)
	assert.Equal(t, models.UserSummary{ID: "csh", Name: "Cashier", Role: models.RoleCashier}, est.User)

	notice := drain(admin)
	require.Len(t, notice, 1)
	assert.Equal(t, models.TypeUserConnected, notice[0].Type)
	assert.Equal(t, cashier.id, decode[models.UserConnectedPayload](t, notice[0]).ConnectionID)
	assert.Empty(t, invariantViolations(h.hub))
}

func TestPingAndUnknownAndMalformed(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, cashierUser)
	drain(c)
	before := c.LastActivity()

	h.send(t, c, models.TypePing, nil)
	got := drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, models.TypePong, got[0].Type)
	assert.False(t, c.LastActivity().Before(before))

	h.send(t, c, "future_feature", map[string]int{"x": 1})
	assert.Empty(t, drain(c), "unknown types are ignored")

	h.handler.processMessage(c, []byte(`not json`))
	got = drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, models.TypeError, got[0].Type)
	assert.Equal(t, models.CodeMalformedFrame, decode[models.ErrorPayload](t, got[0]).Code)

	h.handler.processMessage(c, []byte(`{"data":{}}`))
	got = drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, models.CodeMalformedFrame, decode[models.ErrorPayload](t, got[0]).Code)

	assert.Equal(t, 1, h.hub.ConnectionCount(), "bad frames never close the connection")
}

func TestInvalidPayload(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, cashierUser)
	drain(c)

	h.handler.processMessage(c, []byte(`{"type":"join_room","data":"general"}`))
	got := drain(c)
	require.Len(t, got, 1)
	e := decode[models.ErrorPayload](t, got[0])
	assert.Equal(t, models.CodeInvalidPayload, e.Code)
	assert.Equal(t, models.TypeJoinRoom, e.Type)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t)
	h.handler.cfg.MessagesPerSecond = 1
	h.handler.cfg.MessageBurst = 2
	c := h.connect(t, cashierUser)
	drain(c)

	for i := 0; i < 3; i++ {
		h.send(t, c, models.TypePing, nil)
	}
	got := drain(c)
	require.Len(t, got, 3)
	assert.Equal(t, models.TypePong, got[0].Type)
	assert.Equal(t, models.TypePong, got[1].Type)
	assert.Equal(t, models.CodeRateLimited, decode[models.ErrorPayload](t, got[2]).Code)
}

func TestZeroBurstStillAllowsFrames(t *testing.T) {
	h := newHarness(t)
	h.handler.cfg.MessagesPerSecond = 20
	h.handler.cfg.MessageBurst = 0
	c := h.connect(t, cashierUser)
	drain(c)

	h.send(t, c, models.TypePing, nil)
	got := drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, models.TypePong, got[0].Type)
}

func TestFramesFromEvictedConnectionAreDropped(t *testing.T) {
	h := newHarness(t)
	admin := h.connect(t, adminUser)
	manager := h.connect(t, managerUser)
	h.hub.Unregister(manager, ReasonIdle)
	drain(admin)

	h.send(t, manager, models.TypeBroadcastMessage, models.BroadcastPayload{Room: "general", Message: json.RawMessage(`"closing early"`)})

	assert.Empty(t, drain(admin))
	activity, err := h.svc.StaffActivity(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, activity)
}

func TestJoinAndLeaveRoom(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, cashierUser)
	drain(c)

	h.send(t, c, models.TypeJoinRoom, models.RoomPayload{Room: "promo"})
	got := drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, models.TypeRoomJoined, got[0].Type)
	assert.Equal(t, models.RoomAckPayload{Room: "promo", Members: 1}, decode[models.RoomAckPayload](t, got[0]))

	h.send(t, c, models.TypeJoinRoom, models.RoomPayload{Room: "admin"})
	got = drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, models.CodePermissionDenied, decode[models.ErrorPayload](t, got[0]).Code)

	h.send(t, c, models.TypeLeaveRoom, models.RoomPayload{Room: "promo"})
	got = drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, models.TypeRoomLeft, got[0].Type)
	_, exists := h.hub.RoomSizes()["promo"]
	assert.False(t, exists)
	assert.Empty(t, invariantViolations(h.hub))
}

func TestBroadcastMessage(t *testing.T) {
	h := newHarness(t)
	s := h.connect(t, cashierNamed("s"))
	a := h.connect(t, cashierNamed("a"))
	b := h.connect(t, cashierNamed("b"))
	drain(s)
	drain(a)
	drain(b)

	h.send(t, s, models.TypeBroadcastMessage, models.BroadcastPayload{Room: "pos", Message: json.RawMessage(`"till 2 closing"`)})

	assert.Empty(t, drain(s))
	for _, c := range []*Client{a, b} {
		got := drain(c)
		require.Len(t, got, 1)
		assert.Equal(t, models.TypeBroadcastMessage, got[0].Type)
		p := decode[models.BroadcastMessagePayload](t, got[0])
		assert.Equal(t, "s", p.From.ID)
		assert.JSONEq(t, `"till 2 closing"`, string(p.Message))
	}

	acts, err := h.svc.StaffActivity(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, models.ActivityBroadcast, acts[0].ActivityType)
}

func TestBroadcastPermissionGate(t *testing.T) {
	h := newHarness(t)
	viewer := h.connect(t, viewerUser)
	other := h.connect(t, cashierNamed("other"))
	cashier := h.connect(t, cashierUser)
	drain(viewer)
	drain(other)
	drain(cashier)

	h.send(t, viewer, models.TypeBroadcastMessage, models.BroadcastPayload{Room: "general", Message: json.RawMessage(`"hi"`)})
	got := drain(viewer)
	require.Len(t, got, 1)
	assert.Equal(t, models.CodePermissionDenied, decode[models.ErrorPayload](t, got[0]).Code)
	assert.Empty(t, drain(other))
	assert.Empty(t, drain(cashier))

	// Operational roles reach pos and general only.
	h.send(t, cashier, models.TypeBroadcastMessage, models.BroadcastPayload{Room: "store_3", Message: json.RawMessage(`"hi"`)})
	got = drain(cashier)
	require.Len(t, got, 1)
	assert.Equal(t, models.CodePermissionDenied, decode[models.ErrorPayload](t, got[0]).Code)

	acts, err := h.svc.StaffActivity(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, acts, "denied broadcasts write no activity")
}

func TestPrivateMessage(t *testing.T) {
	h := newHarness(t)
	sender := h.connect(t, cashierUser)
	bystander := h.connect(t, cashierNamed("by"))
	drain(sender)
	drain(bystander)

	h.send(t, sender, models.TypePrivateMessage, models.PrivateMessagePayload{ToUserID: "u9", Message: json.RawMessage(`"psst"`)})
	got := drain(sender)
	require.Len(t, got, 1)
	assert.Equal(t, models.TypeMessageDeliveryFailed, got[0].Type)
	assert.Equal(t, "u9", decode[models.DeliveryPayload](t, got[0]).ToUserID)
	assert.Empty(t, drain(bystander))

	target := h.connect(t, &models.SessionUser{ID: "u9", Name: "Nine", Role: models.RoleStaff})
	drain(target)
	drain(sender)
	drain(bystander)

	h.send(t, sender, models.TypePrivateMessage, models.PrivateMessagePayload{ToUserID: "u9", Message: json.RawMessage(`"psst"`)})
	got = drain(sender)
	require.Len(t, got, 1)
	assert.Equal(t, models.TypeMessageDelivered, got[0].Type)
	assert.Equal(t, 1, decode[models.DeliveryPayload](t, got[0]).Connections)

	in := drain(target)
	require.Len(t, in, 1)
	assert.Equal(t, models.TypePrivateMessage, in[0].Type)
	assert.Equal(t, "csh", decode[models.PrivateMessageOutPayload](t, in[0]).From.ID)
	assert.Empty(t, drain(bystander))
}

func TestPOSActivityCompletedSale(t *testing.T) {
	h := newHarness(t)
	admin := h.connect(t, adminUser)
	seller := h.connect(t, cashierUser)
	peer := h.connect(t, cashierNamed("peer"))
	drain(admin)
	drain(seller)
	drain(peer)

	h.send(t, seller, models.TypePOSActivity, models.POSActivityPayload{
		ActivityType: models.ActivitySaleCompleted, OrderID: "o-7", Amount: 40, CustomerID: "c1",
	})

	assert.Empty(t, drain(seller))
	peerGot := drain(peer)
	require.Len(t, peerGot, 1)
	assert.Equal(t, models.TypePOSActivity, peerGot[0].Type)

	adminGot := drain(admin)
	require.Equal(t, []models.MessageType{models.TypePOSActivity, models.TypeAnalyticsUpdated}, envTypes(adminGot))
	upd := decode[models.AnalyticsUpdatedPayload](t, adminGot[1])
	assert.Equal(t, 1, upd.Daily.Orders)
	assert.Equal(t, 40.0, upd.Hourly.Revenue)

	act := decode[models.POSActivityOutPayload](t, adminGot[0])
	acts, err := h.svc.StaffActivity(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, act.ActivityID, acts[0].ID)
}

func TestPOSActivityConcurrentSalesAddUp(t *testing.T) {
	h := newHarness(t)
	one := h.connect(t, cashierNamed("one"))
	two := h.connect(t, cashierNamed("two"))

	var wg sync.WaitGroup
	for _, c := range []*Client{one, two} {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			raw, _ := models.EncodeEnvelope(models.TypePOSActivity, models.POSActivityPayload{
				ActivityType: models.ActivityOrderCompleted, Amount: 5, CustomerID: c.user.ID,
			})
			h.handler.processMessage(c, raw)
		}(c)
	}
	wg.Wait()

	bucket, err := h.cache.GetBucket(context.Background(), models.HourlyKey(fixedNow))
	require.NoError(t, err)
	assert.Equal(t, 2, bucket.Orders)
	assert.Equal(t, 2, bucket.UniqueCustomers)
}

func TestInventoryLowStockCascade(t *testing.T) {
	h := newHarness(t)
	admin := h.connect(t, adminUser)
	manager := h.connect(t, managerUser)
	drain(admin)
	drain(manager)

	h.send(t, manager, models.TypeInventoryUpdate, models.InventoryUpdatePayload{
		ProductID: "p1", ProductName: "Oat milk", PreviousStock: 12, NewStock: 3,
	})

	for _, c := range []*Client{admin, manager} {
		got := drain(c)
		require.Equal(t, []models.MessageType{models.TypeInventoryUpdated, models.TypeLowStockAlert}, envTypes(got))
		alert := decode[models.LowStockAlertPayload](t, got[1])
		assert.Equal(t, 3, alert.Stock)
		assert.Equal(t, 5, alert.Threshold)
	}

	h.send(t, manager, models.TypeInventoryUpdate, models.InventoryUpdatePayload{ProductID: "p1", PreviousStock: 3, NewStock: 40})
	assert.Equal(t, []models.MessageType{models.TypeInventoryUpdated}, envTypes(drain(admin)))
}

func TestInventoryUpdateRequiresElevatedRole(t *testing.T) {
	h := newHarness(t)
	admin := h.connect(t, adminUser)
	cashier := h.connect(t, cashierUser)
	drain(admin)
	drain(cashier)

	h.send(t, cashier, models.TypeInventoryUpdate, models.InventoryUpdatePayload{ProductID: "p1", NewStock: 1})
	got := drain(cashier)
	require.Len(t, got, 1)
	assert.Equal(t, models.CodePermissionDenied, decode[models.ErrorPayload](t, got[0]).Code)
	assert.Empty(t, drain(admin))
}

func TestStaffStatusUpdate(t *testing.T) {
	h := newHarness(t)
	admin := h.connect(t, adminUser)
	cashier := h.connect(t, cashierUser)
	drain(admin)
	drain(cashier)

	h.send(t, cashier, models.TypeStaffStatusUpdate, models.StaffStatusPayload{Status: "on_break", Note: "back at 10"})
	got := drain(admin)
	require.Len(t, got, 1)
	assert.Equal(t, models.TypeStaffStatusUpdated, got[0].Type)
	p := decode[models.StaffStatusUpdatedPayload](t, got[0])
	assert.Equal(t, "17", p.Status.StaffID)
	assert.Equal(t, "on_break", p.Status.Status)

	h.send(t, cashier, models.TypeStaffStatusUpdate, models.StaffStatusPayload{})
	got = drain(cashier)
	require.Len(t, got, 1)
	assert.Equal(t, models.CodeInvalidPayload, decode[models.ErrorPayload](t, got[0]).Code)
}

func TestRequestData(t *testing.T) {
	h := newHarness(t)
	admin := h.connect(t, adminUser)
	h.connect(t, cashierUser)
	drain(admin)

	h.send(t, admin, models.TypeRequestData, models.DataRequestPayload{RequestType: models.RequestOnlineUsers})
	got := drain(admin)
	require.Len(t, got, 1)
	require.Equal(t, models.TypeDataResponse, got[0].Type)
	var online struct {
		RequestType string                    `json:"requestType"`
		Data        models.OnlineUsersPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(got[0].Data, &online))
	assert.Equal(t, 2, online.Data.Total)
	assert.Equal(t, 1, online.Data.ByRole[models.RoleCashier])

	h.send(t, admin, models.TypeRequestData, models.DataRequestPayload{RequestType: models.RequestLiveAnalytics})
	got = drain(admin)
	require.Len(t, got, 1)
	var live struct {
		Data models.LiveAnalyticsPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(got[0].Data, &live))
	assert.Equal(t, 2, live.Data.ActiveConnections)
	assert.Len(t, live.Data.HourlyBreakdown, 24)

	for _, rt := range []string{models.RequestRecentOrders, models.RequestLowStockItems, models.RequestStaffActivity} {
		h.send(t, admin, models.TypeRequestData, models.DataRequestPayload{RequestType: rt, Limit: 5})
		got = drain(admin)
		require.Len(t, got, 1, rt)
		assert.Equal(t, models.TypeDataResponse, got[0].Type, rt)
	}

	h.send(t, admin, models.TypeRequestData, models.DataRequestPayload{RequestType: "tax_report"})
	got = drain(admin)
	require.Len(t, got, 1)
	assert.Equal(t, models.TypeDataError, got[0].Type)
	assert.Equal(t, "tax_report", decode[models.DataErrorPayload](t, got[0]).RequestType)
}

func TestRequestDataUpstreamFailure(t *testing.T) {
	h := newHarness(t)
	admin := h.connect(t, adminUser)
	drain(admin)
	require.NoError(t, h.db.Close(context.Background()))

	h.send(t, admin, models.TypeRequestData, models.DataRequestPayload{RequestType: models.RequestRecentOrders})
	got := drain(admin)
	require.Len(t, got, 1)
	assert.Equal(t, models.TypeDataError, got[0].Type)
	assert.Equal(t, models.RequestRecentOrders, decode[models.DataErrorPayload](t, got[0]).RequestType)
	assert.Equal(t, 1, h.hub.ConnectionCount())
}

func TestIdleEvictionMatchesManualClose(t *testing.T) {
	h := newHarness(t)
	admin := h.connect(t, adminUser)
	idle := h.connect(t, cashierUser)
	closed := h.connect(t, cashierNamed("closer"))
	drain(admin)

	idle.touch(time.Now().Add(-6 * time.Minute))
	admin.touch(time.Now())
	closed.touch(time.Now())

	assert.Equal(t, 1, h.hub.Sweep(5*time.Minute))
	h.hub.Unregister(closed, ReasonClosed)

	got := drain(admin)
	require.Equal(t, []models.MessageType{models.TypeUserDisconnected, models.TypeUserDisconnected}, envTypes(got))
	assert.Equal(t, idle.id, decode[models.UserDisconnectedPayload](t, got[0]).ConnectionID)
	assert.Equal(t, closed.id, decode[models.UserDisconnectedPayload](t, got[1]).ConnectionID)
	assert.Empty(t, invariantViolations(h.hub))
}

func TestRunSweeper(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, cashierUser)
	c.touch(time.Now().Add(-time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, h.hub, 10*time.Millisecond, time.Minute, zap.NewNop())
		close(done)
	}()

	assert.Eventually(t, func() bool { return h.hub.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestHandshake(t *testing.T) {
	h := newHarness(t)
	user, err := h.svc.RegisterUser(context.Background(), models.RegisterRequest{
		Username: "till1", Password: "secret1", Role: "cashier",
	}, adminUser)
	require.NoError(t, err)
	token, _, err := h.svc.LoginUser(context.Background(), "till1", "secret1")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(h.handler.HandleConnections))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL+"?token=bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	require.NoError(t, err)

	var env models.Envelope
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, models.TypeConnectionEstablished, env.Type)
	assert.Equal(t, user.ID, decode[models.ConnectionEstablishedPayload](t, env).User.ID)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, models.TypePong, env.Type)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.hub.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

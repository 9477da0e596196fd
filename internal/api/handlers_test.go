package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kkuzar/pos_hub/internal/auth"
	"github.com/kkuzar/pos_hub/internal/cache"
	"github.com/kkuzar/pos_hub/internal/config"
	"github.com/kkuzar/pos_hub/internal/database/sqlstore"
	"github.com/kkuzar/pos_hub/internal/metrics"
	"github.com/kkuzar/pos_hub/internal/models"
	"github.com/kkuzar/pos_hub/internal/service"
	"github.com/kkuzar/pos_hub/internal/storage"
	"github.com/kkuzar/pos_hub/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mapStorage map[string][]byte

func (m mapStorage) UploadFile(ctx context.Context, key string, body io.Reader, contentType string) error {
	b, err := io.ReadAll(body)
	m[key] = b
	return err
}

func (m mapStorage) DownloadFile(ctx context.Context, key string) (io.ReadCloser, error) {
	b, ok := m[key]
	if !ok {
		return nil, storage.ErrFileNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m mapStorage) FileExists(ctx context.Context, key string) (bool, error) {
	_, ok := m[key]
	return ok, nil
}

func (m mapStorage) Close() error { return nil }

type server struct {
	mux *http.ServeMux
	svc *service.Service
	hub *websocket.Hub
}

func newServer(t *testing.T, store storage.StorageAdapter) *server {
	t.Helper()
	cfg := &config.Config{
		JWT:     config.JWTConfig{Secret: "api-test-secret", Expiration: time.Hour, Issuer: "test"},
		Hub:     config.HubConfig{LowStockThreshold: 5, SendBuffer: 16, QueryLimit: 20, MaxMessageBytes: 1 << 16},
		Metrics: config.MetricsConfig{DailyTTL: 24 * time.Hour, HourlyTTL: 2 * time.Hour},
	}
	auth.Init(&cfg.JWT)

	db, err := sqlstore.NewClient(context.Background(), sqlstore.DriverSQLite, ":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := service.NewService(db, store, cache.NewMemoryCache(), cfg, zap.NewNop(), service.WithMetrics(m))

	hub := websocket.NewHub(zap.NewNop(), m)
	go hub.Run()
	t.Cleanup(hub.Stop)

	wsHandler := websocket.NewHandler(context.Background(), hub, svc, svc, cfg.Hub, nil, zap.NewNop(), m)
	mux := http.NewServeMux()
	SetupRoutes(mux, svc, hub, wsHandler, reg, zap.NewNop())
	return &server{mux: mux, svc: svc, hub: hub}
}

func (s *server) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *server) login(t *testing.T, username, password string) string {
	t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/auth/login", "", models.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp models.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

// seedAdmin creates an admin account directly through the service.
func (s *server) seedAdmin(t *testing.T) string {
	t.Helper()
	_, err := s.svc.RegisterUser(context.Background(), models.RegisterRequest{
		Username: "boss", Password: "secret123", Name: "Boss", Role: string(models.RoleAdmin),
	}, &models.SessionUser{ID: "root", Role: models.RoleAdmin})
	require.NoError(t, err)
	return s.login(t, "boss", "secret123")
}

func TestRegisterAndLogin(t *testing.T) {
	s := newServer(t, nil)
	adminToken := s.seedAdmin(t)

	cashierReq := models.RegisterRequest{
		Username: "till1", Password: "secret123", Name: "Till One", Role: string(models.RoleCashier), StoreID: "s1",
	}
	rec := s.do(http.MethodPost, "/api/v1/auth/register", "", cashierReq)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/auth/register", adminToken, cashierReq)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "secret123")

	rec = s.do(http.MethodPost, "/api/v1/auth/register", "", models.RegisterRequest{Username: "till1", Password: "secret123"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/auth/register", "", models.RegisterRequest{Username: "short", Password: "123"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/auth/register", "", models.RegisterRequest{Username: "walkin", Password: "secret123"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"viewer"`)

	s.login(t, "till1", "secret123")

	rec = s.do(http.MethodPost, "/api/v1/auth/login", "", models.LoginRequest{Username: "till1", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader("{"))
	bad := httptest.NewRecorder()
	s.mux.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestRegisterElevatedRoleNeedsAdmin(t *testing.T) {
	s := newServer(t, nil)
	managerReq := models.RegisterRequest{Username: "mgr", Password: "secret123", Role: string(models.RoleManager)}

	rec := s.do(http.MethodPost, "/api/v1/auth/register", "", managerReq)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminToken := s.seedAdmin(t)
	rec = s.do(http.MethodPost, "/api/v1/auth/register", adminToken, managerReq)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHubStatsRequiresElevatedRole(t *testing.T) {
	s := newServer(t, nil)
	adminToken := s.seedAdmin(t)

	rec := s.do(http.MethodPost, "/api/v1/auth/register", adminToken, models.RegisterRequest{
		Username: "cash", Password: "secret123", Role: string(models.RoleCashier),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	cashierToken := s.login(t, "cash", "secret123")

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/v1/hub/stats", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/v1/hub/stats", cashierToken, nil).Code)

	rec = s.do(http.MethodGet, "/api/v1/hub/stats", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats hubStatsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 0, stats.Connections)
	assert.Empty(t, stats.Rooms)
}

func TestGetReceipt(t *testing.T) {
	day := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	store := mapStorage{storage.ReceiptKey("ord-9", day): []byte(`{"orderId":"ord-9"}`)}
	s := newServer(t, store)
	token := s.seedAdmin(t)

	rec := s.do(http.MethodGet, "/api/v1/receipts/ord-9?date=2026-10-17", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"orderId":"ord-9"}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/receipts/ord-9?date=2026-10-16", token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/receipts/ord-9?date=17-10-2026", token, nil).Code)
}

func TestGetReceiptWithoutStorage(t *testing.T) {
	s := newServer(t, nil)
	token := s.seedAdmin(t)

	rec := s.do(http.MethodGet, "/api/v1/receipts/ord-1", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pos_hub_connections")
}

func TestWebSocketRouteRejectsPlainRequests(t *testing.T) {
	s := newServer(t, nil)
	rec := s.do(http.MethodGet, "/ws", "", nil)
	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)
}

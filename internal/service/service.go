package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kkuzar/pos_hub/internal/auth"
	"github.com/kkuzar/pos_hub/internal/cache"
	"github.com/kkuzar/pos_hub/internal/config"
	"github.com/kkuzar/pos_hub/internal/database"
	"github.com/kkuzar/pos_hub/internal/metrics"
	"github.com/kkuzar/pos_hub/internal/models"
	"github.com/kkuzar/pos_hub/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Service encapsulates business logic.
type Service struct {
	db      database.DBAdapter
	storage storage.StorageAdapter // nil when object storage is not configured
	cache   cache.Cache
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// Serializes the Metrics Mirror read-modify-write within this process.
	// Other processes writing the same bucket are not covered.
	mirrorMu sync.Mutex
}

type Option func(*Service)

// WithMetrics records store latency on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new service instance. store may be nil.
func NewService(db database.DBAdapter, store storage.StorageAdapter, c cache.Cache, cfg *config.Config, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		db:      db,
		storage: store,
		cache:   c,
		cfg:     cfg,
		logger:  logger.Named("service"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const userCacheDuration = 1 * time.Hour

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username is already taken")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidInput       = errors.New("invalid input")
	ErrStorageDisabled    = errors.New("object storage is not configured")
)

// Ping checks the relational store and the cache.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := s.cache.Ping(ctx); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

// LowStockThreshold is the stock level at or below which a product raises an alert.
func (s *Service) LowStockThreshold() int {
	return s.cfg.Hub.LowStockThreshold
}

// --- Users & sessions ---

// RegisterUser creates an account. actor is nil for anonymous sign-up, which
// may only create viewers.
func (s *Service) RegisterUser(ctx context.Context, req models.RegisterRequest, actor *models.SessionUser) (*models.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || len(req.Password) < 6 {
		return nil, fmt.Errorf("%w: username required and password must be at least 6 characters", ErrInvalidInput)
	}
	role := models.Role(req.Role)
	if role == "" {
		role = models.RoleViewer
	}
	if !role.IsValid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, req.Role)
	}
	if !canAssignRole(actor, role) {
		return nil, ErrPermissionDenied
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: string(hashedPassword),
		Role:         role,
		StaffID:      req.StaffID,
		StoreID:      req.StoreID,
	}
	if err := s.db.CreateUser(ctx, user); err != nil {
		if errors.Is(err, database.ErrDuplicateUser) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("User registered", zap.String("userId", user.ID), zap.String("role", string(user.Role)))
	user.PasswordHash = ""
	return user, nil
}

// canAssignRole: admins create any role, managers create operational staff,
// everyone else only viewers.
func canAssignRole(actor *models.SessionUser, role models.Role) bool {
	if role == models.RoleViewer {
		return true
	}
	if actor == nil {
		return false
	}
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleManager:
		return role.IsOperational()
	default:
		return false
	}
}

// LoginUser checks credentials and issues a session token.
func (s *Service) LoginUser(ctx context.Context, username, password string) (string, *models.User, error) {
	user, err := s.db.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := auth.GenerateJWT(user)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	user.PasswordHash = ""
	if cacheErr := s.cache.SetUser(ctx, user, userCacheDuration); cacheErr != nil {
		s.logger.Warn("Failed to cache user after login", zap.String("userId", user.ID), zap.Error(cacheErr))
	}
	return token, user, nil
}

// AuthenticateSession validates a session token and resolves the user it names.
// The returned snapshot is trusted for the life of the connection.
func (s *Service) AuthenticateSession(ctx context.Context, token string) (*models.SessionUser, error) {
	claims, err := auth.ValidateJWT(token)
	if err != nil {
		return nil, err
	}

	user, err := s.getUserWithCache(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s no longer exists", auth.ErrInvalidToken, claims.Subject)
		}
		return nil, err
	}
	return user.Session(), nil
}

// Authenticate implements auth.Authenticator.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.SessionUser, error) {
	return s.AuthenticateSession(ctx, token)
}

func (s *Service) getUserWithCache(ctx context.Context, userID string) (*models.User, error) {
	cached, err := s.cache.GetUser(ctx, userID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		s.logger.Warn("Cache error fetching user", zap.String("userId", userID), zap.Error(err))
	}

	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	if cacheErr := s.cache.SetUser(ctx, user, userCacheDuration); cacheErr != nil {
		s.logger.Warn("Failed to cache user", zap.String("userId", userID), zap.Error(cacheErr))
	}
	return user, nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kkuzar/pos_hub/internal/config"
	"github.com/kkuzar/pos_hub/internal/models"
)

var (
	ErrTokenRequired = errors.New("session token required")
	ErrInvalidToken  = errors.New("invalid or expired token")
	jwtSecret        []byte
	jwtExpiration    time.Duration
	jwtIssuer        string
)

// Authenticator validates a bearer credential and returns the session snapshot.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.SessionUser, error)
}

// Claims carries the session snapshot inside the token.
type Claims struct {
	Name    string      `json:"name"`
	Role    models.Role `json:"role"`
	StaffID string      `json:"staffId,omitempty"`
	StoreID string      `json:"storeId,omitempty"`
	jwt.RegisteredClaims
}

// Session converts validated claims into a session snapshot.
func (c *Claims) Session() *models.SessionUser {
	return &models.SessionUser{
		ID:      c.Subject,
		Name:    c.Name,
		Role:    c.Role,
		StaffID: c.StaffID,
		StoreID: c.StoreID,
	}
}

// Init initializes the JWT configuration. Call this once at startup.
func Init(cfg *config.JWTConfig) {
	if cfg.Secret == "" {
		panic("JWT Secret cannot be empty")
	}
	jwtSecret = []byte(cfg.Secret)
	jwtExpiration = cfg.Expiration
	jwtIssuer = cfg.Issuer
}

// GenerateJWT creates a session token for the user.
func GenerateJWT(user *models.User) (string, error) {
	if len(jwtSecret) == 0 {
		return "", errors.New("JWT secret not initialized")
	}

	session := user.Session()
	now := time.Now()
	claims := Claims{
		Name:    session.Name,
		Role:    session.Role,
		StaffID: session.StaffID,
		StoreID: session.StoreID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    jwtIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(jwtExpiration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateJWT verifies a token string and returns its claims.
// Every failure, expiry included, is reported as ErrInvalidToken.
func ValidateJWT(tokenString string) (*Claims, error) {
	if len(jwtSecret) == 0 {
		return nil, errors.New("JWT secret not initialized")
	}
	if tokenString == "" {
		return nil, ErrTokenRequired
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// internal/middleware/auth.go
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kkuzar/pos_hub/internal/auth"
	"github.com/kkuzar/pos_hub/internal/models"
)

type contextKey string

const SessionContextKey contextKey = "session"

// AuthMiddleware validates the bearer token from the Authorization header and
// puts the session snapshot into the request context.
func AuthMiddleware(authn auth.Authenticator, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, models.CodeAuthRequired, err.Error())
			return
		}

		session, err := authn.Authenticate(r.Context(), tokenString)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrTokenRequired) {
				writeAuthError(w, http.StatusUnauthorized, models.CodeInvalidToken, "Invalid or expired token")
			} else {
				writeAuthError(w, http.StatusServiceUnavailable, models.CodeInternal, "Session lookup failed")
			}
			return
		}

		ctx := context.WithValue(r.Context(), SessionContextKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// OptionalAuth attaches a session when a valid bearer token is present and
// otherwise lets the request through anonymously.
func OptionalAuth(authn auth.Authenticator, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if tokenString, err := bearerToken(r); err == nil {
			if session, err := authn.Authenticate(r.Context(), tokenString); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), SessionContextKey, session))
			}
		}
		next.ServeHTTP(w, r)
	}
}

// RequireElevated rejects sessions without an admin or manager role. It must
// run inside AuthMiddleware.
func RequireElevated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := GetSessionFromContext(r.Context())
		if session == nil || !session.Role.IsElevated() {
			writeAuthError(w, http.StatusForbidden, models.CodePermissionDenied, "Elevated role required")
			return
		}
		next.ServeHTTP(w, r)
	}
}

// GetSessionFromContext retrieves the session stored by AuthMiddleware, or nil.
func GetSessionFromContext(ctx context.Context) *models.SessionUser {
	session, _ := ctx.Value(SessionContextKey).(*models.SessionUser)
	return session
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("Authorization header required")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", errors.New("Authorization header format must be Bearer {token}")
	}
	return parts[1], nil
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.ErrorPayload{Message: message, Code: code})
}

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kkuzar/pos_hub/internal/config"
	"github.com/kkuzar/pos_hub/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initTestJWT(t *testing.T, exp time.Duration) {
	t.Helper()
	Init(&config.JWTConfig{Secret: "test-secret", Expiration: exp, Issuer: "pos-hub-test"})
}

func TestGenerateAndValidateJWT(t *testing.T) {
	initTestJWT(t, time.Hour)

	user := &models.User{ID: "u1", Username: "alice", Name: "Alice", Role: models.RoleCashier, StaffID: "s7", StoreID: "42"}
	token, err := GenerateJWT(user)
	require.NoError(t, err)

	claims, err := ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, &models.SessionUser{ID: "u1", Name: "Alice", Role: models.RoleCashier, StaffID: "s7", StoreID: "42"}, claims.Session())
	assert.Equal(t, "pos-hub-test", claims.Issuer)
}

func TestValidateJWTRejectsExpiredToken(t *testing.T) {
	initTestJWT(t, -time.Minute)

	token, err := GenerateJWT(&models.User{ID: "u1", Role: models.RoleAdmin})
	require.NoError(t, err)

	_, err = ValidateJWT(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateJWTRejectsForeignSignature(t *testing.T) {
	initTestJWT(t, time.Hour)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	token, err := forged.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = ValidateJWT(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateJWTEmpty(t *testing.T) {
	initTestJWT(t, time.Hour)
	_, err := ValidateJWT("")
	assert.ErrorIs(t, err, ErrTokenRequired)
}

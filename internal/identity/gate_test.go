package identity

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat-service/internal/apperr"
	"support-chat-service/internal/models"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims(userID string) Claims {
	return Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func newTestGate() *JWTGate {
	return NewJWTGate(testSecret, NewStaticDirectory(
		User{ID: "cust-1", Role: models.RoleCustomer},
		User{ID: "admin-1", Role: models.RoleAdmin},
		User{ID: "staff-1", Role: models.RoleStaff},
		User{ID: "banned-1", Role: models.RoleCustomer, Banned: true},
		User{ID: "norole-1"},
	))
}

func TestAuthenticateResolvesRoleFromDirectory(t *testing.T) {
	gate := newTestGate()

	id, err := gate.Authenticate(context.Background(), signToken(t, testSecret, validClaims("admin-1")))
	require.NoError(t, err)
	assert.Equal(t, models.Identity{ID: "admin-1", Role: models.RoleAdmin}, id)
	assert.True(t, id.IsOperator())

	id, err = gate.Authenticate(context.Background(), signToken(t, testSecret, validClaims("norole-1")))
	require.NoError(t, err)
	assert.Equal(t, models.RoleCustomer, id.Role)
}

func TestAuthenticateFallsBackToSubject(t *testing.T) {
	claims := validClaims("")
	claims.Subject = "staff-1"

	id, err := newTestGate().Authenticate(context.Background(), signToken(t, testSecret, claims))
	require.NoError(t, err)
	assert.Equal(t, "staff-1", id.ID)
	assert.Equal(t, models.RoleStaff, id.Role)
}

func TestAuthenticateRejects(t *testing.T) {
	expired := validClaims("cust-1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExpiry := validClaims("cust-1")
	noExpiry.ExpiresAt = nil

	cases := map[string]string{
		"missing":      "",
		"garbage":      "not-a-jwt",
		"wrong secret": signToken(t, "other", validClaims("cust-1")),
		"expired":      signToken(t, testSecret, expired),
		"no expiry":    signToken(t, testSecret, noExpiry),
		"unknown user": signToken(t, testSecret, validClaims("ghost")),
		"banned":       signToken(t, testSecret, validClaims("banned-1")),
		"no subject":   signToken(t, testSecret, validClaims("")),
	}
	gate := newTestGate()
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := gate.Authenticate(context.Background(), token)
			assert.ErrorIs(t, err, apperr.ErrUnauthorized)
		})
	}
}

func TestAuthenticateRejectsNoneAlgorithm(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims("cust-1")).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newTestGate().Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

type failingDirectory struct{}

func (failingDirectory) Lookup(context.Context, string) (User, error) {
	return User{}, errors.New("mongo: server selection timeout")
}

func TestAuthenticateDirectoryFailureIsInternal(t *testing.T) {
	gate := NewJWTGate(testSecret, failingDirectory{})

	_, err := gate.Authenticate(context.Background(), signToken(t, testSecret, validClaims("cust-1")))
	assert.ErrorIs(t, err, apperr.ErrInternal)
	assert.Equal(t, "internal error", apperr.PublicMessage(err))
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?token=abc", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "abc", TokenFromRequest(req))

	req = httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "bearer header-token")
	assert.Equal(t, "header-token", TokenFromRequest(req))

	req = httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Equal(t, "", TokenFromRequest(req))
}

func TestParseStaticUsers(t *testing.T) {
	dir, err := ParseStaticUsers([]string{"cust-1", " admin-1:admin ", "staff-1:staff", ""})
	require.NoError(t, err)

	user, err := dir.Lookup(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleCustomer, user.Role)
	user, err = dir.Lookup(context.Background(), "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, user.Role)

	_, err = dir.Lookup(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = ParseStaticUsers([]string{"x:root"})
	assert.Error(t, err)
	_, err = ParseStaticUsers([]string{":admin"})
	assert.Error(t, err)
}

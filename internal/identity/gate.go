package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"support-chat-service/internal/apperr"
	"support-chat-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// User is the directory record consulted on every connection attempt.
type User struct {
	ID     string      `json:"id"`
	Role   models.Role `json:"role"`
	Banned bool        `json:"banned"`
}

// Directory resolves identities to their current role and ban state.
type Directory interface {
	Lookup(ctx context.Context, id string) (User, error)
}

// Gate turns a bearer credential into an identity or rejects it.
type Gate interface {
	Authenticate(ctx context.Context, token string) (models.Identity, error)
}

// Claims is the access token payload issued by the storefront.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTGate verifies HMAC-signed access tokens and checks the directory.
type JWTGate struct {
	secret    []byte
	directory Directory
	parser    *jwt.Parser
}

// NewJWTGate constructs a JWTGate.
func NewJWTGate(secret string, directory Directory) *JWTGate {
	return &JWTGate{
		secret:    []byte(secret),
		directory: directory,
		parser:    jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithExpirationRequired()),
	}
}

func (g *JWTGate) Authenticate(ctx context.Context, token string) (models.Identity, error) {
	if token == "" {
		return models.Identity{}, apperr.Unauthorized("missing credential")
	}

	claims := &Claims{}
	_, err := g.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		return models.Identity{}, apperr.Unauthorized("invalid or expired token")
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return models.Identity{}, apperr.Unauthorized("token has no subject")
	}

	user, err := g.directory.Lookup(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return models.Identity{}, apperr.Unauthorized("unknown user")
	}
	if err != nil {
		return models.Identity{}, apperr.Internal(fmt.Errorf("directory lookup: %w", err))
	}
	if user.Banned {
		return models.Identity{}, apperr.Unauthorized("user is banned")
	}

	role := user.Role
	if role == "" {
		role = models.RoleCustomer
	}
	return models.Identity{ID: userID, Role: role}, nil
}

// TokenFromRequest reads the handshake credential: the explicit token query
// field first, then an Authorization bearer header.
func TokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	return BearerToken(r.Header.Get("Authorization"))
}

// BearerToken strips the Bearer scheme from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

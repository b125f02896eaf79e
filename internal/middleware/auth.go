package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"support-chat-service/internal/apperr"
	"support-chat-service/internal/identity"
	"support-chat-service/internal/models"
)

const identityKey = "identity"

// AuthMiddleware validates the Authorization header through the identity gate.
func AuthMiddleware(gate identity.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := identity.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		id, err := gate.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{"error": apperr.PublicMessage(err)})
			return
		}

		SetIdentity(c, id)
		c.Next()
	}
}

// RequireOperator rejects identities outside the operator pool.
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IdentityFrom(c).IsOperator() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "operator role required"})
			return
		}
		c.Next()
	}
}

// RequireCustomer rejects operator identities on customer routes.
func RequireCustomer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IdentityFrom(c).Role != models.RoleCustomer {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "customer role required"})
			return
		}
		c.Next()
	}
}

// SetIdentity stores the authenticated identity on the request context.
func SetIdentity(c *gin.Context, id models.Identity) {
	c.Set(identityKey, id)
	c.Set("userID", id.ID)
}

// IdentityFrom returns the authenticated identity, or the zero value.
func IdentityFrom(c *gin.Context) models.Identity {
	if val, ok := c.Get(identityKey); ok {
		if id, ok := val.(models.Identity); ok {
			return id
		}
	}
	return models.Identity{}
}

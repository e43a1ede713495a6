package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const identityKey = "identity"

// AuthRequired rejects requests without a valid bearer token and stores the
// caller's identity in the gin context
func AuthRequired(v *Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token", "kind": "unauthorized"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token format", "kind": "unauthorized"})
			return
		}

		id, err := v.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token", "kind": "unauthorized"})
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by AuthRequired
func IdentityFrom(c *gin.Context) (*Identity, bool) {
	raw, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	id, ok := raw.(*Identity)
	return id, ok
}

// UserID returns the caller's user id, or uuid.Nil when unauthenticated
func UserID(c *gin.Context) uuid.UUID {
	if id, ok := IdentityFrom(c); ok {
		return id.UserID
	}
	return uuid.Nil
}

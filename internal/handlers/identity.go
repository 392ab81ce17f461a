package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Identity headers are set by the upstream authorizer (API Gateway / auth
// service); this service never issues or checks credentials itself.
const (
	HeaderAccountID   = "X-Account-Id"
	HeaderAccountRole = "X-Account-Role"
)

type Role string

const (
	RoleCustomer  Role = "customer"
	RolePublisher Role = "publisher"
	RoleAdmin     Role = "admin"
)

// Identity is the authenticated caller.
type Identity struct {
	AccountID string
	Role      Role
}

const identityKey = "identity"

// RequireRole admits callers holding one of roles and stores their Identity
// on the context. Capability checks happen here once, not in the handlers.
func RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := Identity{AccountID: c.GetHeader(HeaderAccountID), Role: Role(c.GetHeader(HeaderAccountRole))}
		if id.AccountID == "" || id.Role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		for _, r := range roles {
			if r == id.Role {
				c.Set(identityKey, id)
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "msg": "role " + string(id.Role) + " may not call this endpoint"})
	}
}

func identity(c *gin.Context) Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(Identity)
	return id
}

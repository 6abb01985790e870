package httpkit

import (
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity is the authenticated operator behind an admin request.
type Identity struct {
	UserID uuid.UUID
	Roles  []string
}

// HasRole reports whether the operator carries role.
func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

// GetIdentity extracts the operator set by AuthRequired. ok is false when the
// request was not authenticated.
func GetIdentity(c *gin.Context) (Identity, bool) {
	userID, exists := c.Get(ContextUserIDKey)
	if !exists {
		return Identity{}, false
	}
	uid, isUUID := userID.(uuid.UUID)
	if !isUUID {
		return Identity{}, false
	}

	roles, _ := c.Get(ContextRolesKey)
	roleList, _ := roles.([]string)

	return Identity{UserID: uid, Roles: roleList}, true
}

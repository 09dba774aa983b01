// Package identity is the session view the cart and order code depend on:
// who is calling, and whether they hold the admin capability.
package identity

import (
	"github.com/Skotchmaster/muebleria/internal/models"
	"github.com/google/uuid"
)

type Identity struct {
	UserID uuid.UUID
	Role   string
}

func Anonymous() Identity { return Identity{} }

func (i Identity) Authenticated() bool { return i.UserID != uuid.Nil }

func (i Identity) IsAdmin() bool {
	return i.Authenticated() && i.Role == models.RoleAdmin
}

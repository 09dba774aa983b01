package httpserver

import (
	"errors"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/muebleria/internal/identity"
	"github.com/Skotchmaster/muebleria/internal/service"
	middleware "github.com/Skotchmaster/muebleria/pkg/middleware/auth"
)

var errNoUser = errors.New("unauthorized")

// identityOf reads what the auth middleware left on the context. A missing or
// malformed user id is an anonymous caller.
func identityOf(c echo.Context) identity.Identity {
	s, _ := c.Get(middleware.CtxUserID).(string)
	id, err := uuid.Parse(s)
	if err != nil {
		return identity.Anonymous()
	}
	role, _ := c.Get(middleware.CtxRole).(string)
	return identity.Identity{UserID: id, Role: role}
}

func userID(c echo.Context) (uuid.UUID, error) {
	id := identityOf(c)
	if !id.Authenticated() {
		return uuid.Nil, errNoUser
	}
	return id.UserID, nil
}

func sessionOf(c echo.Context) *service.Session {
	return &service.Session{Identity: identityOf(c), Jar: c}
}

package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/muebleria/internal/models"
	"github.com/Skotchmaster/muebleria/internal/service"
	"github.com/Skotchmaster/muebleria/internal/transport"
	jwthelp "github.com/Skotchmaster/muebleria/pkg/jwt"
	"github.com/Skotchmaster/muebleria/pkg/logging"
	middleware "github.com/Skotchmaster/muebleria/pkg/middleware/auth"
)

type AuthHTTP struct {
	Svc   *service.AuthService
	Carts *service.CartService
}

func (h *AuthHTTP) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.register")

	var req transport.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "register_error", "invalid body", err)
	}

	user, err := h.Svc.Register(ctx, req.Email, req.Password, req.Name)
	if err != nil {
		return fail(l, "register_error", err)
	}

	l.Info("register_success", "user_id", user.ID)
	return c.JSON(http.StatusCreated, user)
}

// Login sets the auth cookies and then folds the anonymous cart into the
// user's cart. A failed merge does not fail the login; the cookie stays for a retry.
func (h *AuthHTTP) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.login")

	var req transport.LoginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "login_error", "invalid body", err)
	}

	res, err := h.Svc.Login(ctx, req.Email, req.Password)
	if err != nil {
		return fail(l, "login_error", err)
	}
	middleware.SetAuthCookies(c, &res.Pair)

	synced := 0
	if h.Carts != nil {
		n, err := h.Carts.Sync(ctx, res.User.ID, c)
		if err != nil {
			l.Error("login_cart_sync_error", "user_id", res.User.ID, "error", err)
		}
		synced = n
	}

	l.Info("login_success", "user_id", res.User.ID, "cart_lines_synced", synced)
	return c.JSON(http.StatusOK, echo.Map{
		"user":        res.User,
		"is_admin":    res.User.Role == models.RoleAdmin,
		"cart_synced": synced,
	})
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.refresh")

	ck, err := c.Cookie(jwthelp.RefreshCookie)
	if err != nil || ck.Value == "" {
		l.Warn("refresh_error", "status", http.StatusUnauthorized, "reason", "refresh cookie missing")
		return echo.NewHTTPError(http.StatusUnauthorized, "refresh token missing")
	}

	pair, err := h.Svc.Refresh(ctx, ck.Value)
	if err != nil {
		middleware.ClearAuthCookies(c)
		return fail(l, "refresh_error", err)
	}
	middleware.SetAuthCookies(c, pair)

	return c.JSON(http.StatusOK, echo.Map{"role": pair.Role})
}

func (h *AuthHTTP) LogOut(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.logout")

	if ck, err := c.Cookie(jwthelp.RefreshCookie); err == nil {
		if err := h.Svc.LogOut(ctx, ck.Value); err != nil {
			middleware.ClearAuthCookies(c)
			return fail(l, "logout_error", err)
		}
	}
	middleware.ClearAuthCookies(c)

	l.Info("logout_success")
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

package httpserver

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/muebleria/internal/service"
	"github.com/Skotchmaster/muebleria/internal/transport"
	"github.com/Skotchmaster/muebleria/pkg/logging"
)

type CartHTTP struct {
	Svc *service.CartService
}

func (h *CartHTTP) respond(c echo.Context, sess *service.Session, event string) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx)

	lines, err := h.Svc.GetCart(ctx, sess)
	if err != nil {
		return fail(l, event, err)
	}
	view, err := h.Svc.Describe(ctx, lines)
	if err != nil {
		return fail(l, event, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *CartHTTP) GetCart(c echo.Context) error {
	return h.respond(c, sessionOf(c), "get_cart_error")
}

func (h *CartHTTP) AddToCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.add")

	var req transport.AddToCartRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "add_to_cart_error", "invalid body", err)
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}

	sess := sessionOf(c)
	if err := h.Svc.AddToCart(ctx, sess, req.ProductID, qty); err != nil {
		return fail(l, "add_to_cart_error", err)
	}

	l.Info("add_to_cart_success", "product_id", req.ProductID, "quantity", qty)
	return h.respond(c, sess, "add_to_cart_error")
}

func (h *CartHTTP) UpdateQuantity(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.update")

	productID, err := uuid.Parse(c.Param("product_id"))
	if err != nil {
		return badRequest(l, "update_quantity_error", "product_id not a uuid", err)
	}
	var req transport.UpdateQuantityRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "update_quantity_error", "invalid body", err)
	}

	sess := sessionOf(c)
	if err := h.Svc.UpdateQuantity(ctx, sess, productID, req.Quantity); err != nil {
		return fail(l, "update_quantity_error", err)
	}
	return h.respond(c, sess, "update_quantity_error")
}

func (h *CartHTTP) RemoveFromCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.remove")

	productID, err := uuid.Parse(c.Param("product_id"))
	if err != nil {
		return badRequest(l, "remove_from_cart_error", "product_id not a uuid", err)
	}

	sess := sessionOf(c)
	if err := h.Svc.RemoveFromCart(ctx, sess, productID); err != nil {
		return fail(l, "remove_from_cart_error", err)
	}
	return h.respond(c, sess, "remove_from_cart_error")
}

func (h *CartHTTP) ClearCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.clear")

	if err := h.Svc.ClearCart(ctx, sessionOf(c)); err != nil {
		return fail(l, "clear_cart_error", err)
	}

	l.Info("cart_cleared")
	return c.NoContent(http.StatusNoContent)
}

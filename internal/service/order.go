package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Skotchmaster/muebleria/internal/idem"
	"github.com/Skotchmaster/muebleria/internal/identity"
	"github.com/Skotchmaster/muebleria/internal/models"
	"github.com/Skotchmaster/muebleria/internal/repo"
	"github.com/Skotchmaster/muebleria/internal/transport"
	"github.com/Skotchmaster/muebleria/pkg/logging"
)

const productLookupConcurrency = 4

type Inventory interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	DecrementStock(ctx context.Context, id uuid.UUID, qty int) error
	RestoreStock(ctx context.Context, id uuid.UUID, qty int) error
}

type OrderService struct {
	Repo      *repo.OrderRepo
	Carts     *CartService
	Inventory Inventory
	Publisher Publisher
	// Idem is optional; without it Idempotency-Key headers are ignored.
	Idem *idem.Guard
}

var paymentMethods = map[string]bool{
	models.PaymentTransfer: true,
	models.PaymentWebpay:   true,
	models.PaymentCash:     true,
}

func validateCheckout(req transport.CreateOrderRequest) error {
	sh := req.Shipping
	required := []struct{ name, value string }{
		{"full_name", sh.FullName},
		{"email", sh.Email},
		{"phone", sh.Phone},
		{"address", sh.Address},
		{"city", sh.City},
		{"region", sh.Region},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("shipping %s required: %w", f.name, ErrValidation)
		}
	}
	if _, err := mail.ParseAddress(sh.Email); err != nil {
		return fmt.Errorf("shipping email invalid: %w", ErrValidation)
	}
	if !paymentMethods[req.PaymentMethod] {
		return fmt.Errorf("payment_method %q not supported: %w", req.PaymentMethod, ErrValidation)
	}
	return nil
}

// CreateOrder turns the user's durable cart into a pending order.
//
// Steps are not one transaction. A failed item insert deletes the order row.
// A decrement rejected for lack of stock undoes the decrements already made and
// deletes the order. Any other stock failure is logged and the order stands.
func (s *OrderService) CreateOrder(ctx context.Context, userID uuid.UUID, req transport.CreateOrderRequest) (*models.Order, error) {
	l := logging.FromContext(ctx).With("svc", "order.create", "user_id", userID)

	if userID == uuid.Nil {
		return nil, fmt.Errorf("user required: %w", ErrUnauthorized)
	}
	if err := validateCheckout(req); err != nil {
		return nil, err
	}

	buyerCart := s.Carts.Durable(userID)
	lines, err := buyerCart.Lines(ctx)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("cart is empty: %w", ErrValidation)
	}

	products := make([]*models.Product, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(productLookupConcurrency)
	for i, ln := range lines {
		g.Go(func() error {
			p, err := s.Inventory.GetProduct(gctx, ln.ProductID)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			products[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// A line whose product was deleted would fail every checkout; drop it so
	// the next attempt sees the cart the shopper is shown.
	var missing []uuid.UUID
	for i, p := range products {
		if p == nil {
			missing = append(missing, lines[i].ProductID)
		}
	}
	if len(missing) > 0 {
		for _, id := range missing {
			if err := buyerCart.Remove(ctx, id); err != nil {
				l.Error("cart_prune_error", "product_id", id, "error", err)
			}
		}
		l.Warn("create_order_products_missing", "product_ids", missing)
		return nil, fmt.Errorf("products %v are no longer sold and were removed from the cart: %w", missing, ErrValidation)
	}

	order := &models.Order{
		UserID:        userID,
		Status:        models.OrderStatusPending,
		PaymentMethod: req.PaymentMethod,
		Shipping:      req.Shipping,
		Total:         decimal.Zero,
	}
	items := make([]models.OrderItem, 0, len(lines))
	for i, ln := range lines {
		p := products[i]
		if p.Stock < ln.Quantity {
			return nil, fmt.Errorf("product %s has %d, wanted %d: %w", p.ID, p.Stock, ln.Quantity, ErrInsufficientStock)
		}
		subtotal := p.Price.Mul(decimal.NewFromInt(int64(ln.Quantity)))
		items = append(items, models.OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    ln.Quantity,
			UnitPrice:   p.Price,
			Subtotal:    subtotal,
		})
		order.Total = order.Total.Add(subtotal)
	}

	if err := s.Repo.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	for i := range items {
		items[i].OrderID = order.ID
	}
	if err := s.Repo.CreateItems(ctx, items); err != nil {
		l.Error("create_order_items_error", "order_id", order.ID, "error", err)
		if cerr := s.Repo.DeleteOrder(ctx, order.ID); cerr != nil {
			l.Error("create_order_compensation_error", "order_id", order.ID, "error", cerr)
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}
	order.Items = items

	if err := s.takeStock(ctx, order); err != nil {
		return nil, err
	}

	if err := buyerCart.Clear(ctx); err != nil {
		l.Error("create_order_clear_cart_error", "order_id", order.ID, "error", err)
	}

	publish(ctx, s.Publisher, TopicOrderEvents, order.ID.String(), newOrderEvent(EventOrderCreated, order, ""))
	l.Info("order_created", "order_id", order.ID, "total", order.Total.String(), "items", len(items))
	return order, nil
}

func (s *OrderService) takeStock(ctx context.Context, order *models.Order) error {
	l := logging.FromContext(ctx).With("order_id", order.ID)

	taken := make([]models.OrderItem, 0, len(order.Items))
	for i, it := range order.Items {
		err := s.Inventory.DecrementStock(ctx, it.ProductID, it.Quantity)
		switch {
		case err == nil:
			order.Items[i].StockTaken = true
			taken = append(taken, it)
		case errors.Is(err, ErrInsufficientStock):
			l.Warn("stock_decrement_rejected", "product_id", it.ProductID, "quantity", it.Quantity)
			s.giveBack(ctx, taken)
			if cerr := s.Repo.DeleteOrder(ctx, order.ID); cerr != nil {
				l.Error("create_order_compensation_error", "error", cerr)
				return errors.Join(err, cerr)
			}
			return err
		default:
			l.Error("stock_decrement_error", "product_id", it.ProductID, "quantity", it.Quantity, "error", err)
		}
	}

	ids := make([]uuid.UUID, 0, len(taken))
	for _, it := range taken {
		ids = append(ids, it.ID)
	}
	if err := s.Repo.MarkStockTaken(ctx, ids); err != nil {
		l.Error("mark_stock_taken_error", "error", err)
	}
	return nil
}

// stockTaken is the part of items whose units left the catalog at checkout.
func stockTaken(items []models.OrderItem) []models.OrderItem {
	out := make([]models.OrderItem, 0, len(items))
	for _, it := range items {
		if it.StockTaken {
			out = append(out, it)
		}
	}
	return out
}

func (s *OrderService) giveBack(ctx context.Context, items []models.OrderItem) {
	for _, it := range items {
		if err := s.Inventory.RestoreStock(ctx, it.ProductID, it.Quantity); err != nil {
			logging.FromContext(ctx).Error("stock_restore_error", "product_id", it.ProductID, "quantity", it.Quantity, "error", err)
		}
	}
}

// Checkout is CreateOrder guarded by an idempotency key. A replayed key returns
// the order created the first time and replayed=true.
func (s *OrderService) Checkout(ctx context.Context, userID uuid.UUID, key string, req transport.CreateOrderRequest) (order *models.Order, replayed bool, err error) {
	if s.Idem == nil || key == "" {
		order, err = s.CreateOrder(ctx, userID, req)
		return order, false, err
	}

	l := logging.FromContext(ctx).With("svc", "order.checkout", "user_id", userID)
	rkey := idem.OrderCreateKey(userID.String(), key)

	stored, fresh, err := s.Idem.Reserve(ctx, rkey)
	switch {
	case errors.Is(err, idem.ErrInProgress):
		return nil, false, ErrDuplicateRequest
	case err != nil:
		l.Warn("idempotency_unavailable", "error", err)
		order, err = s.CreateOrder(ctx, userID, req)
		return order, false, err
	case !fresh:
		id, perr := uuid.Parse(stored)
		if perr != nil {
			return nil, false, fmt.Errorf("idempotency record %q: %w", stored, perr)
		}
		order, err = s.Repo.GetOrder(ctx, id)
		if err != nil {
			return nil, false, notFound(err, "order "+stored)
		}
		return order, true, nil
	}

	order, err = s.CreateOrder(ctx, userID, req)
	if err != nil {
		if rerr := s.Idem.Release(ctx, rkey); rerr != nil {
			l.Warn("idempotency_release_error", "error", rerr)
		}
		return nil, false, err
	}
	if cerr := s.Idem.Complete(ctx, rkey, order.ID.String()); cerr != nil {
		l.Warn("idempotency_complete_error", "order_id", order.ID, "error", cerr)
	}
	return order, false, nil
}

// Transition moves an order along pending -> paid -> shipped -> delivered, or
// to cancelled from pending or paid. Only admins may do it. Cancelling a
// pending order puts back the stock its checkout actually took.
func (s *OrderService) Transition(ctx context.Context, actor identity.Identity, orderID uuid.UUID, to models.OrderStatus) (*models.Order, error) {
	l := logging.FromContext(ctx).With("svc", "order.transition", "order_id", orderID, "to", to)

	if !actor.IsAdmin() {
		return nil, fmt.Errorf("changing order status requires admin: %w", ErrForbidden)
	}
	if _, ok := ParseStatus(string(to)); !ok {
		return nil, fmt.Errorf("unknown status %q: %w", to, ErrValidation)
	}

	order, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, notFound(err, "order "+orderID.String())
	}
	from := order.Status
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}

	fields := map[string]any{}
	if col := stampColumn(to); col != "" {
		fields[col] = time.Now().UTC()
	}
	ok, err := s.Repo.UpdateStatus(ctx, orderID, from, to, fields)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("order %s is no longer %s: %w", orderID, from, ErrInvalidTransition)
	}

	if to == models.OrderStatusCancelled && from == models.OrderStatusPending {
		s.giveBack(ctx, stockTaken(order.Items))
	}

	updated, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	publish(ctx, s.Publisher, TopicOrderEvents, orderID.String(), newOrderEvent(EventOrderStatusChanged, updated, from))
	l.Info("order_status_changed", "from", from)
	return updated, nil
}

// GetOrder returns the order to its owner or to an admin; anyone else gets ErrNotFound.
func (s *OrderService) GetOrder(ctx context.Context, actor identity.Identity, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, notFound(err, "order "+orderID.String())
	}
	if order.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, userID uuid.UUID, offset, limit int) (int64, []models.Order, error) {
	return s.Repo.ListOrders(ctx, userID, limit, offset)
}

func (s *OrderService) ListAll(ctx context.Context, actor identity.Identity, status string, offset, limit int) (int64, []models.Order, error) {
	if !actor.IsAdmin() {
		return 0, nil, fmt.Errorf("listing all orders requires admin: %w", ErrForbidden)
	}
	var st models.OrderStatus
	if status != "" {
		var ok bool
		if st, ok = ParseStatus(status); !ok {
			return 0, nil, fmt.Errorf("unknown status %q: %w", status, ErrValidation)
		}
	}
	return s.Repo.ListAll(ctx, st, limit, offset)
}

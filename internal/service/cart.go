package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Skotchmaster/muebleria/internal/cart"
	"github.com/Skotchmaster/muebleria/internal/identity"
	"github.com/Skotchmaster/muebleria/internal/models"
	"github.com/Skotchmaster/muebleria/internal/transport"
	"github.com/Skotchmaster/muebleria/pkg/logging"
)

type ProductLookup interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// Session is one request's view of the caller. The backing store is chosen
// once, on first use, from whether the caller is signed in.
type Session struct {
	Identity identity.Identity
	Jar      cart.CookieJar

	store cart.Store
}

type CartService struct {
	DB           *gorm.DB
	Products     ProductLookup
	Publisher    Publisher
	CookieSecure bool
}

func (s *CartService) store(sess *Session) cart.Store {
	if sess.store != nil {
		return sess.store
	}
	if sess.Identity.Authenticated() {
		sess.store = cart.NewGormStore(s.DB, sess.Identity.UserID)
	} else {
		sess.store = cart.NewCookieStore(sess.Jar, s.CookieSecure)
	}
	return sess.store
}

// Durable is the signed-in cart of userID regardless of the current request.
func (s *CartService) Durable(userID uuid.UUID) cart.Store {
	return cart.NewGormStore(s.DB, userID)
}

func (s *CartService) GetCart(ctx context.Context, sess *Session) ([]cart.Line, error) {
	return s.store(sess).Lines(ctx)
}

func (s *CartService) AddToCart(ctx context.Context, sess *Session, productID uuid.UUID, qty int) error {
	if productID == uuid.Nil {
		return fmt.Errorf("product_id must be not nil: %w", ErrValidation)
	}
	if qty <= 0 {
		return fmt.Errorf("quantity must be more than zero: %w", ErrValidation)
	}
	if qty > cart.MaxQuantity {
		return fmt.Errorf("quantity must be at most %d: %w", cart.MaxQuantity, ErrValidation)
	}
	if err := s.checkProduct(ctx, productID); err != nil {
		return err
	}

	st := s.store(sess)
	lines, err := st.Lines(ctx)
	if err != nil {
		return err
	}
	for _, ln := range lines {
		if ln.ProductID == productID && ln.Quantity > cart.MaxQuantity-qty {
			return fmt.Errorf("cart already holds %d of product %s, at most %d allowed: %w",
				ln.Quantity, productID, cart.MaxQuantity, ErrValidation)
		}
	}
	return st.Add(ctx, productID, qty)
}

// UpdateQuantity overwrites the quantity; zero or less removes the line.
func (s *CartService) UpdateQuantity(ctx context.Context, sess *Session, productID uuid.UUID, qty int) error {
	if productID == uuid.Nil {
		return fmt.Errorf("product_id must be not nil: %w", ErrValidation)
	}
	if qty <= 0 {
		return s.RemoveFromCart(ctx, sess, productID)
	}
	if qty > cart.MaxQuantity {
		return fmt.Errorf("quantity must be at most %d: %w", cart.MaxQuantity, ErrValidation)
	}
	if err := s.checkProduct(ctx, productID); err != nil {
		return err
	}
	return s.store(sess).Set(ctx, productID, qty)
}

func (s *CartService) checkProduct(ctx context.Context, productID uuid.UUID) error {
	if s.Products == nil {
		return nil
	}
	_, err := s.Products.GetProduct(ctx, productID)
	return err
}

func (s *CartService) RemoveFromCart(ctx context.Context, sess *Session, productID uuid.UUID) error {
	if productID == uuid.Nil {
		return fmt.Errorf("product_id must be not nil: %w", ErrValidation)
	}
	return s.store(sess).Remove(ctx, productID)
}

func (s *CartService) ClearCart(ctx context.Context, sess *Session) error {
	return s.store(sess).Clear(ctx)
}

// Sync folds the anonymous cookie cart into userID's durable cart, summing
// quantities per product, then empties the cookie. Lines for products that no
// longer exist are dropped, and merged lines are capped at cart.MaxQuantity.
//
// Lines are written one at a time. If a write fails, lines already written stay
// and the cookie is left alone, so running Sync again counts those lines twice.
// Two concurrent Syncs with the same cookie double-count the same way.
func (s *CartService) Sync(ctx context.Context, userID uuid.UUID, jar cart.CookieJar) (int, error) {
	l := logging.FromContext(ctx).With("svc", "cart.sync", "user_id", userID)

	anon := cart.NewCookieStore(jar, s.CookieSecure)
	lines, err := anon.Lines(ctx)
	if err != nil {
		return 0, err
	}
	if len(lines) == 0 {
		return 0, nil
	}

	durable := s.Durable(userID)
	current, err := durable.Lines(ctx)
	if err != nil {
		return 0, err
	}
	have := make(map[uuid.UUID]int, len(current))
	for _, ln := range current {
		have[ln.ProductID] = ln.Quantity
	}

	written := 0
	for _, ln := range lines {
		if err := s.checkProduct(ctx, ln.ProductID); err != nil {
			if errors.Is(err, ErrNotFound) {
				l.Warn("cart_sync_product_missing", "product_id", ln.ProductID)
				continue
			}
			l.Error("cart_sync_error", "written", written, "error", err)
			return written, fmt.Errorf("sync product %s: %w", ln.ProductID, err)
		}

		qty := min(ln.Quantity, cart.MaxQuantity-have[ln.ProductID])
		if qty <= 0 {
			l.Warn("cart_sync_line_full", "product_id", ln.ProductID, "dropped", ln.Quantity)
			continue
		}
		if err := durable.Add(ctx, ln.ProductID, qty); err != nil {
			l.Error("cart_sync_error", "written", written, "error", err)
			return written, fmt.Errorf("sync product %s: %w", ln.ProductID, err)
		}
		have[ln.ProductID] += qty
		written++
	}

	if err := anon.Clear(ctx); err != nil {
		return written, err
	}
	if written == 0 {
		return 0, nil
	}

	publish(ctx, s.Publisher, TopicCartEvents, userID.String(), CartEvent{
		Type:   EventCartSynced,
		UserID: userID,
		Lines:  written,
		At:     time.Now().UTC(),
	})
	l.Info("cart_synced", "lines", written)
	return written, nil
}

// Describe prices cart lines at current catalog prices. Lines whose product no
// longer exists are left out.
func (s *CartService) Describe(ctx context.Context, lines []cart.Line) (transport.CartView, error) {
	view := transport.CartView{Items: make([]transport.CartItemView, 0, len(lines)), Total: decimal.Zero}

	for _, ln := range lines {
		p, err := s.Products.GetProduct(ctx, ln.ProductID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				logging.FromContext(ctx).Warn("cart_line_product_missing", "product_id", ln.ProductID)
				continue
			}
			return transport.CartView{}, err
		}

		subtotal := p.Price.Mul(decimal.NewFromInt(int64(ln.Quantity)))
		view.Items = append(view.Items, transport.CartItemView{
			ProductID: p.ID,
			Name:      p.Name,
			ImageURL:  p.ImageURL,
			UnitPrice: p.Price,
			Quantity:  ln.Quantity,
			Subtotal:  subtotal,
			Stock:     p.Stock,
		})
		view.Count += ln.Quantity
		view.Total = view.Total.Add(subtotal)
	}
	return view, nil
}

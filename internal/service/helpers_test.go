package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Skotchmaster/muebleria/internal/cart"
	"github.com/Skotchmaster/muebleria/internal/identity"
	"github.com/Skotchmaster/muebleria/internal/models"
	"github.com/Skotchmaster/muebleria/internal/repo"
	"github.com/Skotchmaster/muebleria/internal/testdb"
	"github.com/Skotchmaster/muebleria/internal/transport"
)

type published struct {
	Topic string
	Key   string
	Event any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) PublishEvent(_ context.Context, topic, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{Topic: topic, Key: key, Event: event})
	return nil
}

func (p *recordingPublisher) byTopic(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	DB      *gorm.DB
	Catalog *CatalogService
	Carts   *CartService
	Orders  *OrderService
	Pub     *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testdb.New(t)
	pub := &recordingPublisher{}

	catalog := &CatalogService{Repo: &repo.CatalogRepo{DB: db}}
	carts := &CartService{DB: db, Products: catalog, Publisher: pub}
	orders := &OrderService{
		Repo:      &repo.OrderRepo{DB: db},
		Carts:     carts,
		Inventory: catalog,
		Publisher: pub,
	}

	return &testEnv{DB: db, Catalog: catalog, Carts: carts, Orders: orders, Pub: pub}
}

func (env *testEnv) seedProduct(t *testing.T, name, price string, stock int) *models.Product {
	t.Helper()
	p := &models.Product{Name: name, Price: decimal.RequireFromString(price), Stock: stock}
	require.NoError(t, env.DB.Create(p).Error)
	return p
}

func (env *testEnv) stockOf(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var p models.Product
	require.NoError(t, env.DB.Where("id = ?", id).First(&p).Error)
	return p.Stock
}

func (env *testEnv) countOrders(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.DB.Model(&models.Order{}).Count(&n).Error)
	return n
}

func (env *testEnv) countOrderItems(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.DB.Model(&models.OrderItem{}).Count(&n).Error)
	return n
}

func customer() identity.Identity {
	return identity.Identity{UserID: uuid.New(), Role: models.RoleCustomer}
}

func admin() identity.Identity {
	return identity.Identity{UserID: uuid.New(), Role: models.RoleAdmin}
}

func userSession(id identity.Identity) *Session {
	return &Session{Identity: id}
}

// anonSession builds a session whose cookie jar is a real request/recorder pair.
func anonSession(t *testing.T, cookieValue string) (*Session, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	if cookieValue != "" {
		req.AddCookie(&http.Cookie{Name: cart.CookieName, Value: cookieValue})
	}
	rec := httptest.NewRecorder()
	return &Session{Identity: identity.Anonymous(), Jar: echo.New().NewContext(req, rec)}, rec
}

func cookieFromRecorder(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	value := ""
	found := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == cart.CookieName {
			value, found = c.Value, true
		}
	}
	require.True(t, found, "carrito cookie was not written")
	return value
}

// encodeCookie writes lines through a CookieStore and returns the resulting cookie value.
func encodeCookie(t *testing.T, lines ...cart.Line) string {
	t.Helper()
	sess, rec := anonSession(t, "")
	store := cart.NewCookieStore(sess.Jar, false)
	require.NoError(t, store.Clear(context.Background()))
	for _, l := range lines {
		require.NoError(t, store.Add(context.Background(), l.ProductID, l.Quantity))
	}
	return cookieFromRecorder(t, rec)
}

func validCheckout() transport.CreateOrderRequest {
	return transport.CreateOrderRequest{
		Shipping: models.ShippingInfo{
			FullName: "Ana Rojas",
			Email:    "ana@example.cl",
			Phone:    "+56911112222",
			Address:  "Av. Colón 1234",
			City:     "San Bernardo",
			Region:   "Metropolitana",
		},
		PaymentMethod: models.PaymentTransfer,
	}
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Skotchmaster/muebleria/internal/idem"
	"github.com/Skotchmaster/muebleria/internal/identity"
	"github.com/Skotchmaster/muebleria/internal/models"
	"github.com/Skotchmaster/muebleria/internal/transport"
)

func (env *testEnv) fillCart(t *testing.T, user identity.Identity, lines map[*models.Product]int) {
	t.Helper()
	sess := userSession(user)
	for p, qty := range lines {
		require.NoError(t, env.Carts.AddToCart(context.Background(), sess, p.ID, qty))
	}
}

func TestCreateOrder_TotalsAndSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := customer()
	silla := env.seedProduct(t, "Silla", "1000", 10)
	cojin := env.seedProduct(t, "Cojín", "500", 10)
	env.fillCart(t, user, map[*models.Product]int{silla: 2, cojin: 1})

	order, err := env.Orders.CreateOrder(ctx, user.UserID, validCheckout())
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, "2500", order.Total.String())
	require.Len(t, order.Items, 2)

	subtotals := map[uuid.UUID]string{}
	for _, it := range order.Items {
		subtotals[it.ProductID] = it.Subtotal.String()
		assert.True(t, it.Subtotal.Equal(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))))
	}
	assert.Equal(t, map[uuid.UUID]string{silla.ID: "2000", cojin.ID: "500"}, subtotals)

	// later catalog changes do not reach the order lines
	require.NoError(t, env.DB.Model(&models.Product{}).Where("id = ?", silla.ID).
		Updates(map[string]any{"price": decimal.NewFromInt(9999), "name": "Silla Renovada"}).Error)

	stored, err := env.Orders.GetOrder(ctx, user, order.ID)
	require.NoError(t, err)
	for _, it := range stored.Items {
		if it.ProductID == silla.ID {
			assert.Equal(t, "Silla", it.ProductName)
			assert.Equal(t, "1000", it.UnitPrice.String())
		}
	}
	assert.Equal(t, "Ana Rojas", stored.Shipping.FullName)
	assert.Equal(t, models.PaymentTransfer, stored.PaymentMethod)
}

func TestCreateOrder_ClearsCartAndTakesStock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := customer()
	silla := env.seedProduct(t, "Silla", "1000", 10)
	cojin := env.seedProduct(t, "Cojín", "500", 3)
	env.fillCart(t, user, map[*models.Product]int{silla: 2, cojin: 1})

	order, err := env.Orders.CreateOrder(ctx, user.UserID, validCheckout())
	require.NoError(t, err)

	lines, err := env.Carts.Durable(user.UserID).Lines(ctx)
	require.NoError(t, err)
	assert.Empty(t, lines)

	assert.Equal(t, 8, env.stockOf(t, silla.ID))
	assert.Equal(t, 2, env.stockOf(t, cojin.ID))

	events := env.Pub.byTopic(TopicOrderEvents)
	require.Len(t, events, 1)
	ev := events[0].Event.(OrderEvent)
	assert.Equal(t, EventOrderCreated, ev.Type)
	assert.Equal(t, order.ID, ev.OrderID)
	assert.Equal(t, "ana@example.cl", ev.Email)
	assert.Equal(t, 2, ev.Items)
	assert.Equal(t, order.ID.String(), events[0].Key)
}

func TestCreateOrder_Rejects(t *testing.T) {
	noPhone := validCheckout()
	noPhone.Shipping.Phone = "  "
	badEmail := validCheckout()
	badEmail.Shipping.Email = "no-es-correo"
	badPayment := validCheckout()
	badPayment.PaymentMethod = "bitcoin"

	tests := []struct {
		name    string
		filled  bool
		req     transport.CreateOrderRequest
		wantErr error
	}{
		{name: "empty cart", filled: false, req: validCheckout(), wantErr: ErrValidation},
		{name: "missing phone", filled: true, req: noPhone, wantErr: ErrValidation},
		{name: "bad email", filled: true, req: badEmail, wantErr: ErrValidation},
		{name: "unknown payment", filled: true, req: badPayment, wantErr: ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			user := customer()
			silla := env.seedProduct(t, "Silla", "1000", 10)
			if tt.filled {
				env.fillCart(t, user, map[*models.Product]int{silla: 1})
			}

			_, err := env.Orders.CreateOrder(context.Background(), user.UserID, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, env.countOrders(t))
			assert.Equal(t, 10, env.stockOf(t, silla.ID))
		})
	}
}

func TestCreateOrder_InsufficientStockKeepsCart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := customer()
	sofa := env.seedProduct(t, "Sofá", "349990", 1)
	env.fillCart(t, user, map[*models.Product]int{sofa: 2})

	_, err := env.Orders.CreateOrder(ctx, user.UserID, validCheckout())
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.ErrorIs(t, err, ErrConflict)

	assert.Zero(t, env.countOrders(t))
	assert.Equal(t, 1, env.stockOf(t, sofa.ID))
	lines, err := env.Carts.Durable(user.UserID).Lines(ctx)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestCreateOrder_ItemFailureRemovesOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := customer()
	silla := env.seedProduct(t, "Silla", "1000", 10)
	env.fillCart(t, user, map[*models.Product]int{silla: 2})

	err := env.DB.Callback().Create().Before("gorm:create").Register("test:fail_order_items", func(tx *gorm.DB) {
		if tx.Statement.Schema != nil && tx.Statement.Schema.Table == "order_items" {
			_ = tx.AddError(errors.New("connection reset"))
		}
	})
	require.NoError(t, err)

	_, err = env.Orders.CreateOrder(ctx, user.UserID, validCheckout())
	require.Error(t, err)

	assert.Zero(t, env.countOrders(t))
	assert.Zero(t, env.countOrderItems(t))
	assert.Equal(t, 10, env.stockOf(t, silla.ID))
	lines, err := env.Carts.Durable(user.UserID).Lines(ctx)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
	assert.Empty(t, env.Pub.byTopic(TopicOrderEvents))
}

type brokenDecrement struct {
	*CatalogService
}

func (brokenDecrement) DecrementStock(context.Context, uuid.UUID, int) error {
	return errors.New("stock store unavailable")
}

func TestCreateOrder_StockStoreFailureIsLoggedOrderStands(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := customer()
	silla := env.seedProduct(t, "Silla", "1000", 10)
	env.fillCart(t, user, map[*models.Product]int{silla: 2})
	env.Orders.Inventory = brokenDecrement{env.Catalog}

	order, err := env.Orders.CreateOrder(ctx, user.UserID, validCheckout())
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.EqualValues(t, 1, env.countOrders(t))
	assert.Equal(t, 10, env.stockOf(t, silla.ID))
	lines, err := env.Carts.Durable(user.UserID).Lines(ctx)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestCreateOrder_DeletedProductIsPrunedFromCart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := customer()
	silla := env.seedProduct(t, "Silla", "1000", 10)
	mesa := env.seedProduct(t, "Mesa", "5000", 10)
	env.fillCart(t, user, map[*models.Product]int{silla: 1, mesa: 1})

	require.NoError(t, env.Catalog.DeleteProduct(ctx, mesa.ID))

	lines, err := env.Carts.Durable(user.UserID).Lines(ctx)
	require.NoError(t, err)
	view, err := env.Carts.Describe(ctx, lines)
	require.NoError(t, err)
	assert.Len(t, view.Items, 1)
	assert.Equal(t, "1000", view.Total.String())

	_, err = env.Orders.CreateOrder(ctx, user.UserID, validCheckout())
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), mesa.ID.String())
	assert.Zero(t, env.countOrders(t))
	assert.Equal(t, 10, env.stockOf(t, silla.ID))

	lines, err = env.Carts.Durable(user.UserID).Lines(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]int{silla.ID: 1}, linesByProduct(lines))

	order, err := env.Orders.CreateOrder(ctx, user.UserID, validCheckout())
	require.NoError(t, err)
	assert.Equal(t, "1000", order.Total.String())
	assert.Equal(t, 9, env.stockOf(t, silla.ID))
}

func TestCreateOrder_LastUnitGoesToOneBuyer(t *testing.T) {
	env := newTestEnv(t)
	sofa := env.seedProduct(t, "Sofá", "349990", 1)
	buyers := []identity.Identity{customer(), customer()}
	for _, b := range buyers {
		env.fillCart(t, b, map[*models.Product]int{sofa: 1})
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for _, b := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Orders.CreateOrder(context.Background(), b.UserID, validCheckout())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.Zero(t, env.stockOf(t, sofa.ID))
	assert.EqualValues(t, 1, env.countOrders(t))
}

func placeOrder(t *testing.T, env *testEnv, user identity.Identity, lines map[*models.Product]int) *models.Order {
	t.Helper()
	env.fillCart(t, user, lines)
	order, err := env.Orders.CreateOrder(context.Background(), user.UserID, validCheckout())
	require.NoError(t, err)
	return order
}

func TestTransition_CancelPendingRestoresStock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedProduct(t, "Estante", "59990", 5)
	b := env.seedProduct(t, "Cómoda", "89990", 3)
	order := placeOrder(t, env, customer(), map[*models.Product]int{a: 2, b: 1})
	require.Equal(t, 3, env.stockOf(t, a.ID))
	require.Equal(t, 2, env.stockOf(t, b.ID))

	updated, err := env.Orders.Transition(ctx, admin(), order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusCancelled, updated.Status)
	assert.NotNil(t, updated.CancelledAt)
	assert.Equal(t, 5, env.stockOf(t, a.ID))
	assert.Equal(t, 3, env.stockOf(t, b.ID))

	events := env.Pub.byTopic(TopicOrderEvents)
	require.Len(t, events, 2)
	ev := events[1].Event.(OrderEvent)
	assert.Equal(t, EventOrderStatusChanged, ev.Type)
	assert.Equal(t, models.OrderStatusCancelled, ev.Status)
	assert.Equal(t, models.OrderStatusPending, ev.PreviousStatus)
}

// failingDecrementFor fails the stock store for one product only.
type failingDecrementFor struct {
	*CatalogService
	product uuid.UUID
}

func (f failingDecrementFor) DecrementStock(ctx context.Context, id uuid.UUID, qty int) error {
	if id == f.product {
		return errors.New("stock store unavailable")
	}
	return f.CatalogService.DecrementStock(ctx, id, qty)
}

func TestTransition_CancelRestoresOnlyTakenStock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	silla := env.seedProduct(t, "Silla", "1000", 10)
	mesa := env.seedProduct(t, "Mesa", "5000", 10)
	env.Orders.Inventory = failingDecrementFor{CatalogService: env.Catalog, product: silla.ID}

	order := placeOrder(t, env, customer(), map[*models.Product]int{silla: 2, mesa: 3})
	require.Equal(t, 10, env.stockOf(t, silla.ID))
	require.Equal(t, 7, env.stockOf(t, mesa.ID))

	stored, err := env.Orders.Repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	taken := map[uuid.UUID]bool{}
	for _, it := range stored.Items {
		taken[it.ProductID] = it.StockTaken
	}
	assert.Equal(t, map[uuid.UUID]bool{silla.ID: false, mesa.ID: true}, taken)

	_, err = env.Orders.Transition(ctx, admin(), order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)

	assert.Equal(t, 10, env.stockOf(t, silla.ID))
	assert.Equal(t, 10, env.stockOf(t, mesa.ID))
}

func TestTransition_CancelPaidKeepsStock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedProduct(t, "Estante", "59990", 5)
	order := placeOrder(t, env, customer(), map[*models.Product]int{a: 2})

	_, err := env.Orders.Transition(ctx, admin(), order.ID, models.OrderStatusPaid)
	require.NoError(t, err)
	_, err = env.Orders.Transition(ctx, admin(), order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)

	assert.Equal(t, 3, env.stockOf(t, a.ID))
}

func TestTransition_HappyPathStampsTimes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedProduct(t, "Estante", "59990", 5)
	order := placeOrder(t, env, customer(), map[*models.Product]int{a: 1})

	var last *models.Order
	for _, to := range []models.OrderStatus{models.OrderStatusPaid, models.OrderStatusShipped, models.OrderStatusDelivered} {
		var err error
		last, err = env.Orders.Transition(ctx, admin(), order.ID, to)
		require.NoError(t, err, "to %s", to)
		assert.Equal(t, to, last.Status)
	}
	assert.NotNil(t, last.PaidAt)
	assert.NotNil(t, last.ShippedAt)
	assert.NotNil(t, last.DeliveredAt)
	assert.Nil(t, last.CancelledAt)

	_, err := env.Orders.Transition(ctx, admin(), order.ID, models.OrderStatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 4, env.stockOf(t, a.ID))
}

func TestTransition_Rejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedProduct(t, "Estante", "59990", 5)
	buyer := customer()
	order := placeOrder(t, env, buyer, map[*models.Product]int{a: 1})

	_, err := env.Orders.Transition(ctx, buyer, order.ID, models.OrderStatusPaid)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.Orders.Transition(ctx, identity.Anonymous(), order.ID, models.OrderStatusPaid)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.Orders.Transition(ctx, admin(), order.ID, models.OrderStatusShipped)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = env.Orders.Transition(ctx, admin(), order.ID, "refunded")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.Orders.Transition(ctx, admin(), uuid.New(), models.OrderStatusPaid)
	assert.ErrorIs(t, err, ErrNotFound)

	stored, err := env.Orders.GetOrder(ctx, buyer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
}

func TestGetOrder_Visibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedProduct(t, "Estante", "59990", 5)
	buyer := customer()
	order := placeOrder(t, env, buyer, map[*models.Product]int{a: 1})

	_, err := env.Orders.GetOrder(ctx, customer(), order.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := env.Orders.GetOrder(ctx, admin(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
}

func TestListOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedProduct(t, "Estante", "59990", 50)
	buyer := customer()
	first := placeOrder(t, env, buyer, map[*models.Product]int{a: 1})
	placeOrder(t, env, buyer, map[*models.Product]int{a: 2})
	placeOrder(t, env, customer(), map[*models.Product]int{a: 1})

	total, orders, err := env.Orders.ListOrders(ctx, buyer.UserID, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, orders, 2)

	_, err = env.Orders.Transition(ctx, admin(), first.ID, models.OrderStatusPaid)
	require.NoError(t, err)

	total, orders, err = env.Orders.ListAll(ctx, admin(), string(models.OrderStatusPaid), 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, orders, 1)
	assert.Equal(t, first.ID, orders[0].ID)

	total, _, err = env.Orders.ListAll(ctx, admin(), "", 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)

	_, _, err = env.Orders.ListAll(ctx, buyer, "", 0, 10)
	assert.ErrorIs(t, err, ErrForbidden)

	_, _, err = env.Orders.ListAll(ctx, admin(), "perdido", 0, 10)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCheckout_ReplaysIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	env.Orders.Idem = idem.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	user := customer()
	a := env.seedProduct(t, "Estante", "59990", 5)
	env.fillCart(t, user, map[*models.Product]int{a: 1})

	first, replayed, err := env.Orders.Checkout(ctx, user.UserID, "k-1", validCheckout())
	require.NoError(t, err)
	assert.False(t, replayed)

	again, replayed, err := env.Orders.Checkout(ctx, user.UserID, "k-1", validCheckout())
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, again.ID)
	assert.EqualValues(t, 1, env.countOrders(t))
	assert.Equal(t, 4, env.stockOf(t, a.ID))

	// a failed attempt releases its key
	_, _, err = env.Orders.Checkout(ctx, user.UserID, "k-2", validCheckout())
	assert.ErrorIs(t, err, ErrValidation)
	assert.False(t, mr.Exists(idem.OrderCreateKey(user.UserID.String(), "k-2")))
}

func TestCheckout_InProgressKeyIsConflict(t *testing.T) {
	env := newTestEnv(t)
	mr := miniredis.RunT(t)
	env.Orders.Idem = idem.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	user := customer()

	require.NoError(t, mr.Set(idem.OrderCreateKey(user.UserID.String(), "k-1"), "pending"))

	_, _, err := env.Orders.Checkout(context.Background(), user.UserID, "k-1", validCheckout())
	assert.ErrorIs(t, err, ErrDuplicateRequest)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCheckout_RedisDownStillCreatesOrder(t *testing.T) {
	env := newTestEnv(t)
	mr := miniredis.RunT(t)
	env.Orders.Idem = idem.New(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	mr.Close()

	user := customer()
	a := env.seedProduct(t, "Estante", "59990", 5)
	env.fillCart(t, user, map[*models.Product]int{a: 1})

	order, replayed, err := env.Orders.Checkout(context.Background(), user.UserID, "k-1", validCheckout())
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.NotNil(t, order)
}

package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/muebleria/internal/models"
	"github.com/Skotchmaster/muebleria/pkg/logging"
)

const (
	TopicOrderEvents = "order_events"
	TopicCartEvents  = "cart_events"

	EventOrderCreated       = "order_created"
	EventOrderStatusChanged = "order_status_changed"
	EventCartSynced         = "cart_synced"
)

const publishTimeout = 5 * time.Second

type Publisher interface {
	PublishEvent(ctx context.Context, topic, key string, event any) error
}

// OrderEvent is the payload on order_events. The notifier renders emails from it.
type OrderEvent struct {
	Type           string             `json:"type"`
	OrderID        uuid.UUID          `json:"order_id"`
	UserID         uuid.UUID          `json:"user_id"`
	Status         models.OrderStatus `json:"status"`
	PreviousStatus models.OrderStatus `json:"previous_status,omitempty"`
	Total          decimal.Decimal    `json:"total"`
	Email          string             `json:"email"`
	FullName       string             `json:"full_name"`
	PaymentMethod  string             `json:"payment_method"`
	Items          int                `json:"items"`
	At             time.Time          `json:"at"`
}

type CartEvent struct {
	Type   string    `json:"type"`
	UserID uuid.UUID `json:"user_id"`
	Lines  int       `json:"lines"`
	At     time.Time `json:"at"`
}

func newOrderEvent(typ string, o *models.Order, prev models.OrderStatus) OrderEvent {
	return OrderEvent{
		Type:           typ,
		OrderID:        o.ID,
		UserID:         o.UserID,
		Status:         o.Status,
		PreviousStatus: prev,
		Total:          o.Total,
		Email:          o.Shipping.Email,
		FullName:       o.Shipping.FullName,
		PaymentMethod:  o.PaymentMethod,
		Items:          len(o.Items),
		At:             time.Now().UTC(),
	}
}

// publish never fails the caller: events are best effort.
func publish(ctx context.Context, p Publisher, topic, key string, event any) {
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.PublishEvent(ctx, topic, key, event); err != nil {
		logging.FromContext(ctx).Error("kafka_publish_error", "topic", topic, "key", key, "error", err)
	}
}

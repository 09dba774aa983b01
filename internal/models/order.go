package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

const (
	PaymentTransfer = "transferencia"
	PaymentWebpay   = "webpay"
	PaymentCash     = "efectivo"
)

type ShippingInfo struct {
	FullName   string `gorm:"not null" json:"full_name"`
	Email      string `gorm:"not null" json:"email"`
	Phone      string `gorm:"not null" json:"phone"`
	Address    string `gorm:"not null" json:"address"`
	City       string `gorm:"not null" json:"city"`
	Region     string `gorm:"not null" json:"region"`
	PostalCode string `json:"postal_code,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type Order struct {
	ID            uuid.UUID       `gorm:"primaryKey"                                  json:"id"`
	UserID        uuid.UUID       `gorm:"index;not null"                              json:"user_id"`
	Total         decimal.Decimal `gorm:"type:numeric(12,2);not null"                 json:"total"`
	Status        OrderStatus     `gorm:"type:varchar(16);index;not null"             json:"status"`
	PaymentMethod string          `gorm:"not null"                                    json:"payment_method"`
	Shipping      ShippingInfo    `gorm:"embedded;embeddedPrefix:shipping_"           json:"shipping"`
	Items         []OrderItem     `gorm:"foreignKey:OrderID"                          json:"items,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	ShippedAt     *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
}

// OrderItem snapshots the product at checkout time; it is never re-priced.
type OrderItem struct {
	ID          uuid.UUID       `gorm:"primaryKey"                  json:"id"`
	OrderID     uuid.UUID       `gorm:"index;not null"              json:"order_id"`
	ProductID   uuid.UUID       `gorm:"index;not null"              json:"product_id"`
	ProductName string          `gorm:"not null;default:''"         json:"product_name"`
	Quantity    int             `gorm:"not null;check:quantity>0"   json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"`
	Subtotal    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"subtotal"`
	// StockTaken is set once checkout decremented the catalog for this line.
	StockTaken bool `gorm:"not null;default:false" json:"-"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

func (i *OrderItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

package service

import "github.com/Skotchmaster/muebleria/internal/models"

var validNext = map[models.OrderStatus]map[models.OrderStatus]bool{
	models.OrderStatusPending:   {models.OrderStatusPaid: true, models.OrderStatusCancelled: true},
	models.OrderStatusPaid:      {models.OrderStatusShipped: true, models.OrderStatusCancelled: true},
	models.OrderStatusShipped:   {models.OrderStatusDelivered: true},
	models.OrderStatusDelivered: {},
	models.OrderStatusCancelled: {},
}

func CanTransition(from, to models.OrderStatus) bool {
	return validNext[from][to]
}

func IsTerminal(s models.OrderStatus) bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

func ParseStatus(s string) (models.OrderStatus, bool) {
	st := models.OrderStatus(s)
	_, ok := validNext[st]
	return st, ok
}

// stampColumn is the timestamp set when an order enters status.
func stampColumn(status models.OrderStatus) string {
	switch status {
	case models.OrderStatusPaid:
		return "paid_at"
	case models.OrderStatusShipped:
		return "shipped_at"
	case models.OrderStatusDelivered:
		return "delivered_at"
	case models.OrderStatusCancelled:
		return "cancelled_at"
	}
	return ""
}

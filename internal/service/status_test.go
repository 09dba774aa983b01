package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Skotchmaster/muebleria/internal/models"
)

func TestCanTransition(t *testing.T) {
	all := []models.OrderStatus{
		models.OrderStatusPending,
		models.OrderStatusPaid,
		models.OrderStatusShipped,
		models.OrderStatusDelivered,
		models.OrderStatusCancelled,
	}
	allowed := map[[2]models.OrderStatus]bool{
		{models.OrderStatusPending, models.OrderStatusPaid}:      true,
		{models.OrderStatusPending, models.OrderStatusCancelled}: true,
		{models.OrderStatusPaid, models.OrderStatusShipped}:      true,
		{models.OrderStatusPaid, models.OrderStatusCancelled}:    true,
		{models.OrderStatusShipped, models.OrderStatusDelivered}: true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]models.OrderStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(models.OrderStatusDelivered))
	assert.True(t, IsTerminal(models.OrderStatusCancelled))
	assert.False(t, IsTerminal(models.OrderStatusPending))
	assert.False(t, IsTerminal("unknown"))
}

func TestParseStatus(t *testing.T) {
	st, ok := ParseStatus("shipped")
	assert.True(t, ok)
	assert.Equal(t, models.OrderStatusShipped, st)

	_, ok = ParseStatus("SHIPPED")
	assert.False(t, ok)
}

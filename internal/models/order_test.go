package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOrder_Apply(t *testing.T) {
	testCases := []struct {
		name              string
		remaining         string
		matched           string
		expectedRemaining string
		expectedStatus    OrderStatus
	}{
		{name: "Partial fill", remaining: "10", matched: "5", expectedRemaining: "5", expectedStatus: OrderStatusPartial},
		{name: "Exact fill", remaining: "3", matched: "3", expectedRemaining: "0", expectedStatus: OrderStatusFilled},
		{name: "Fractional remainder", remaining: "1.5", matched: "1.499", expectedRemaining: "0.001", expectedStatus: OrderStatusPartial},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			o := &Order{Remaining: decimal.RequireFromString(tc.remaining), Status: OrderStatusOpen}
			o.Apply(decimal.RequireFromString(tc.matched))

			assert.True(t, decimal.RequireFromString(tc.expectedRemaining).Equal(o.Remaining), "remaining %s", o.Remaining)
			assert.Equal(t, tc.expectedStatus, o.Status)
		})
	}
}

func TestSide(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
	assert.True(t, SideBuy.Valid())
	assert.False(t, Side("HOLD").Valid())
}

func TestOrderStatus_Active(t *testing.T) {
	assert.True(t, OrderStatusOpen.Active())
	assert.True(t, OrderStatusPartial.Active())
	assert.False(t, OrderStatusFilled.Active())
	assert.False(t, OrderStatusCancelled.Active())
}

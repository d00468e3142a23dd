package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/futuresbot/market"
)

func TestNewOrderRequest(t *testing.T) {
	t.Parallel()

	a := NewOrderRequest("EURUSD", market.Buy, 0.1)
	b := NewOrderRequest("EURUSD", market.Buy, 0.1)

	assert.NotEmpty(t, a.ClientOrderID)
	assert.NotEqual(t, a.ClientOrderID, b.ClientOrderID)
	assert.NoError(t, a.Validate())
}

func TestOrderRequestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  OrderRequest
	}{
		{"no symbol", OrderRequest{Side: market.Buy, Volume: 1}},
		{"no side", OrderRequest{Symbol: "X", Volume: 1}},
		{"zero volume", OrderRequest{Symbol: "X", Side: market.Sell}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Error(t, tt.req.Validate())
		})
	}
}

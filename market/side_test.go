package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Side
		err  bool
	}{
		{"buy", Buy, false},
		{"BUY", Buy, false},
		{" long ", Buy, false},
		{"Sell", Sell, false},
		{"short", Sell, false},
		{"flat", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSide(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSideSign(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, Buy.Sign())
	assert.Equal(t, -1.0, Sell.Sign())
	assert.Equal(t, "BUY", Buy.String())
	assert.Equal(t, "SELL", Sell.String())
	assert.False(t, Side(0).Valid())
}

func TestSideText(t *testing.T) {
	t.Parallel()

	b, err := Sell.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "SELL", string(b))

	var s Side
	require.NoError(t, s.UnmarshalText([]byte("buy")))
	assert.Equal(t, Buy, s)

	_, err = Side(7).MarshalText()
	assert.Error(t, err)
}

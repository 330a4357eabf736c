package fetch

import (
	"context"
	"errors"
	"testing"

	"github.com/dnldd/dipper/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog/log"
)

// priceMock serves a settable current price.
type priceMock struct {
	price float64
	err   error
}

func (p *priceMock) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	return p.price, p.err
}

func TestPaperGateway(t *testing.T) {
	// Ensure invalid configs are rejected.
	_, err := NewPaperGateway(&PaperConfig{})
	assert.Error(t, err)

	prices := &priceMock{price: 100}
	gateway, err := NewPaperGateway(&PaperConfig{
		Balance: 1000,
		Prices:  prices,
		Logger:  &log.Logger,
	})
	assert.NoError(t, err)
	ctx := context.Background()

	// Ensure the starting balance is reported.
	balance, err := gateway.FetchBalance(ctx)
	assert.NoError(t, err)
	assert.Equal(t, balance, float64(1000))

	// Ensure a long position realizes its profit once closed.
	err = gateway.Buy(ctx, "BTCUSDT", 2)
	assert.NoError(t, err)
	assert.Equal(t, gateway.Position("BTCUSDT"), float64(2))

	prices.price = 150
	err = gateway.CloseAllPositions(ctx, "BTCUSDT")
	assert.NoError(t, err)
	assert.Equal(t, gateway.Position("BTCUSDT"), float64(0))
	balance, _ = gateway.FetchBalance(ctx)
	assert.Equal(t, balance, float64(1100))

	// Ensure a short position realizes its loss once closed.
	err = gateway.Sell(ctx, "ETHUSDT", 4)
	assert.NoError(t, err)
	assert.Equal(t, gateway.Position("ETHUSDT"), float64(-4))

	prices.price = 175
	err = gateway.CloseAllPositions(ctx, "ETHUSDT")
	assert.NoError(t, err)
	balance, _ = gateway.FetchBalance(ctx)
	assert.Equal(t, balance, float64(1000))

	// Ensure closing without a position is a no-op.
	err = gateway.CloseAllPositions(ctx, "SOLUSDT")
	assert.NoError(t, err)

	fills := gateway.Fills()
	assert.Equal(t, len(fills), 4)
	assert.Equal(t, fills[0].Side, "BUY")
	assert.Equal(t, fills[1].Side, "SELL")
	assert.Equal(t, fills[1].Price, float64(150))
	assert.Equal(t, fills[3].Quantity, float64(4))

	// Ensure invalid quantities and unpriced fills are rejected.
	err = gateway.Buy(ctx, "BTCUSDT", 0)
	assert.True(t, errors.Is(err, shared.ErrOrderRejected))
	err = gateway.Sell(ctx, "BTCUSDT", -1)
	assert.True(t, errors.Is(err, shared.ErrOrderRejected))

	prices.err = shared.ErrFeedUnavailable
	err = gateway.Buy(ctx, "BTCUSDT", 1)
	assert.True(t, errors.Is(err, shared.ErrOrderRejected))
	assert.True(t, errors.Is(err, shared.ErrFeedUnavailable))
	assert.Equal(t, len(gateway.Fills()), 4)
}

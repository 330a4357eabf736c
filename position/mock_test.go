package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dnldd/dipper/shared"
)

// priceFeed serves a fixed sequence of prices, repeating the last one once exhausted.
type priceFeed struct {
	mtx       sync.Mutex
	prices    []float64
	idx       int
	calls     int
	failFirst int
	err       error
	// delayAt delays the sample with the provided call count by delay.
	delayAt int
	delay   time.Duration
}

func (f *priceFeed) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.calls++
	if f.calls == f.delayAt {
		time.Sleep(f.delay)
	}
	if f.calls <= f.failFirst {
		return 0, f.err
	}

	price := f.prices[f.idx]
	if f.idx < len(f.prices)-1 {
		f.idx++
	}

	return price, nil
}

func (f *priceFeed) callCount() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	return f.calls
}

// order records a gateway order and the price sample it was placed at.
type order struct {
	symbol   string
	quantity float64
	sample   int
}

// gatewayMock records trading commands.
type gatewayMock struct {
	mtx        sync.Mutex
	feed       *priceFeed
	balance    float64
	balanceErr error
	buyErr     error
	sellErr    error
	closeErr   error
	blockBuy   bool
	buys       []order
	sells      []order
	closes     []int
}

func (g *gatewayMock) sample() int {
	if g.feed == nil {
		return 0
	}
	return g.feed.callCount()
}

func (g *gatewayMock) Buy(ctx context.Context, symbol string, quantity float64) error {
	if g.blockBuy {
		<-ctx.Done()
		return fmt.Errorf("%w: %v", shared.ErrOrderRejected, ctx.Err())
	}

	g.mtx.Lock()
	defer g.mtx.Unlock()

	if g.buyErr != nil {
		return g.buyErr
	}
	g.buys = append(g.buys, order{symbol: symbol, quantity: quantity, sample: g.sample()})
	return nil
}

func (g *gatewayMock) Sell(ctx context.Context, symbol string, quantity float64) error {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if g.sellErr != nil {
		return g.sellErr
	}
	g.sells = append(g.sells, order{symbol: symbol, quantity: quantity, sample: g.sample()})
	return nil
}

func (g *gatewayMock) CloseAllPositions(ctx context.Context, symbol string) error {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	g.closes = append(g.closes, g.sample())
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.closeErr
}

func (g *gatewayMock) FetchBalance(ctx context.Context) (float64, error) {
	return g.balance, g.balanceErr
}

func (g *gatewayMock) counts() (int, int, int) {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	return len(g.buys), len(g.sells), len(g.closes)
}

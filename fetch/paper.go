package fetch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dnldd/dipper/shared"
	"github.com/rs/zerolog"
)

// Fill represents a simulated order fill.
type Fill struct {
	Symbol   string
	Side     string
	Quantity float64
	Price    float64
	At       time.Time
}

// paperPosition represents a simulated open position.
type paperPosition struct {
	quantity   float64
	entryPrice float64
}

// PaperConfig represents the paper gateway configuration.
type PaperConfig struct {
	// Balance is the starting wallet balance.
	Balance float64
	// Prices prices simulated fills.
	Prices shared.PriceProvider
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *PaperConfig) Validate() error {
	var errs error

	if cfg.Balance <= 0 {
		errs = errors.Join(errs, fmt.Errorf("paper balance must be positive"))
	}
	if cfg.Prices == nil {
		errs = errors.Join(errs, fmt.Errorf("price provider cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// PaperGateway simulates trading in memory, filling market orders at the current price.
type PaperGateway struct {
	cfg       *PaperConfig
	balance   float64
	positions map[string]*paperPosition
	fills     []Fill
	mtx       sync.Mutex
}

// Ensure the PaperGateway implements the TradingGateway interface.
var _ shared.TradingGateway = (*PaperGateway)(nil)

// NewPaperGateway initializes a new paper gateway.
func NewPaperGateway(cfg *PaperConfig) (*PaperGateway, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating paper config: %w", err)
	}

	return &PaperGateway{
		cfg:       cfg,
		balance:   cfg.Balance,
		positions: make(map[string]*paperPosition),
	}, nil
}

// fill simulates a market order fill, a negative quantity sells.
func (p *PaperGateway) fill(ctx context.Context, symbol string, quantity float64) error {
	side := "BUY"
	if quantity < 0 {
		side = "SELL"
	}

	price, err := p.cfg.Prices.FetchPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("pricing %s fill for %s: %w: %w", side, symbol, shared.ErrOrderRejected, err)
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		pos = &paperPosition{}
		p.positions[symbol] = pos
	}

	switch {
	case pos.quantity == 0 || (pos.quantity > 0) == (quantity > 0):
		// Opening or adding to a position averages the entry price.
		total := pos.quantity + quantity
		pos.entryPrice = (pos.entryPrice*pos.quantity + price*quantity) / total
		pos.quantity = total
	default:
		// Reducing realizes the profit of the reduced quantity.
		reduced := min(math.Abs(quantity), math.Abs(pos.quantity))
		if pos.quantity > 0 {
			p.balance += reduced * (price - pos.entryPrice)
		} else {
			p.balance += reduced * (pos.entryPrice - price)
		}
		pos.quantity += quantity
		if math.Abs(pos.quantity) < 1e-12 {
			delete(p.positions, symbol)
		} else if math.Abs(quantity) > reduced {
			pos.entryPrice = price
		}
	}

	p.fills = append(p.fills, Fill{
		Symbol:   symbol,
		Side:     side,
		Quantity: math.Abs(quantity),
		Price:    price,
		At:       time.Now(),
	})

	p.cfg.Logger.Info().Msgf("paper %s fill of %f %s at %f", side, math.Abs(quantity), symbol, price)

	return nil
}

// Buy simulates a market buy order for the provided quantity.
func (p *PaperGateway) Buy(ctx context.Context, symbol string, quantity float64) error {
	if quantity <= 0 {
		return fmt.Errorf("buy order of %f %s: %w", quantity, symbol, shared.ErrOrderRejected)
	}
	return p.fill(ctx, symbol, quantity)
}

// Sell simulates a market sell order for the provided quantity.
func (p *PaperGateway) Sell(ctx context.Context, symbol string, quantity float64) error {
	if quantity <= 0 {
		return fmt.Errorf("sell order of %f %s: %w", quantity, symbol, shared.ErrOrderRejected)
	}
	return p.fill(ctx, symbol, -quantity)
}

// CloseAllPositions simulates closing the open position of the provided symbol.
func (p *PaperGateway) CloseAllPositions(ctx context.Context, symbol string) error {
	p.mtx.Lock()
	pos, ok := p.positions[symbol]
	var quantity float64
	if ok {
		quantity = pos.quantity
	}
	p.mtx.Unlock()

	if quantity == 0 {
		return nil
	}

	return p.fill(ctx, symbol, -quantity)
}

// FetchBalance returns the simulated wallet balance.
func (p *PaperGateway) FetchBalance(ctx context.Context) (float64, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return p.balance, nil
}

// Position returns the signed open quantity of the provided symbol.
func (p *PaperGateway) Position(symbol string) float64 {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return 0
	}
	return pos.quantity
}

// Fills returns the simulated fills so far.
func (p *PaperGateway) Fills() []Fill {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	fills := make([]Fill, len(p.fills))
	copy(fills, p.fills)
	return fills
}

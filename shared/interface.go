package shared

import (
	"context"
)

// PriceHistoryProvider defines the requirements for fetching closing price history.
type PriceHistoryProvider interface {
	// FetchHistory fetches the closing prices of the provided symbol and timeframe, ordered
	// most-recent-last.
	FetchHistory(ctx context.Context, symbol string, timeframe Timeframe) ([]float64, error)
}

// PriceProvider defines the requirements for fetching the current price of a symbol.
type PriceProvider interface {
	// FetchPrice fetches the current price of the provided symbol.
	FetchPrice(ctx context.Context, symbol string) (float64, error)
}

// TradingGateway defines the requirements for placing and closing positions. Commands are
// side-effecting and are not retried.
type TradingGateway interface {
	// Buy places a market buy order for the provided quantity.
	Buy(ctx context.Context, symbol string, quantity float64) error
	// Sell places a market sell order for the provided quantity.
	Sell(ctx context.Context, symbol string, quantity float64) error
	// CloseAllPositions closes every open position of the provided symbol.
	CloseAllPositions(ctx context.Context, symbol string) error
	// FetchBalance fetches the account balance.
	FetchBalance(ctx context.Context) (float64, error)
}

// SymbolLister defines the requirements for discovering tradable symbols.
type SymbolLister interface {
	// ListSymbols lists the symbols quoted in the provided asset.
	ListSymbols(ctx context.Context, quoteAsset string) ([]string, error)
}

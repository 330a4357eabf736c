package fetch

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dnldd/dipper/shared"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	// DefaultBinanceURL is the USDⓈ-M futures REST endpoint.
	DefaultBinanceURL = "https://fapi.binance.com"

	// defaultRecvWindow is the validity window of signed requests.
	defaultRecvWindow = time.Second * 5

	klinesPath       = "/fapi/v1/klines"
	tickerPricePath  = "/fapi/v1/ticker/price"
	exchangeInfoPath = "/fapi/v1/exchangeInfo"
	accountPath      = "/fapi/v2/account"
	positionRiskPath = "/fapi/v2/positionRisk"
	orderPath        = "/fapi/v1/order"
)

// authFailureCodes are the api error codes signalling invalid credentials or signatures.
var authFailureCodes = map[int64]struct{}{
	-1022: {},
	-2014: {},
	-2015: {},
}

// BinanceConfig represents the configuration for the binance client.
type BinanceConfig struct {
	// BaseURL is the futures REST endpoint.
	BaseURL string
	// APIKey is the binance API key.
	APIKey string
	// APISecret is the binance API secret used to sign requests.
	APISecret string
	// RecvWindow is the validity window of signed requests.
	RecvWindow time.Duration
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *BinanceConfig) Validate() error {
	var errs error

	if cfg.BaseURL == "" {
		errs = errors.Join(errs, fmt.Errorf("base url cannot be empty"))
	}
	if cfg.RecvWindow < 0 {
		errs = errors.Join(errs, fmt.Errorf("recv window cannot be negative"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// BinanceClient represents the binance futures API client.
type BinanceClient struct {
	cfg   *BinanceConfig
	httpc http.Client
	now   func() time.Time

	stepSizes    map[string]float64
	stepSizesMtx sync.Mutex
}

// Ensure the BinanceClient implements the price, trading and listing interfaces.
var (
	_ shared.PriceHistoryProvider = (*BinanceClient)(nil)
	_ shared.PriceProvider        = (*BinanceClient)(nil)
	_ shared.TradingGateway       = (*BinanceClient)(nil)
	_ shared.SymbolLister         = (*BinanceClient)(nil)
)

// NewBinanceClient instantiates a new binance client.
func NewBinanceClient(cfg *BinanceConfig) (*BinanceClient, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating binance config: %w", err)
	}

	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = defaultRecvWindow
	}

	return &BinanceClient{
		cfg:       cfg,
		httpc:     http.Client{Timeout: time.Second * 10},
		now:       time.Now,
		stepSizes: make(map[string]float64),
	}, nil
}

// sign adds the timestamp, receive window and signature of the provided params.
func (c *BinanceClient) sign(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow.Milliseconds(), 10))
	query := params.Encode()

	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(query))

	return query + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

// do performs the provided request and returns the response body and status code.
func (c *BinanceClient) do(ctx context.Context, method string, path string, params url.Values, signed bool) ([]byte, int, error) {
	if params == nil {
		params = url.Values{}
	}

	query := params.Encode()
	if signed {
		query = c.sign(params)
	}

	formedURL := c.cfg.BaseURL + path
	if query != "" {
		formedURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, formedURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating %s request: %w", path, err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("requesting %s: %w", path, err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response body: %w", err)
	}

	return body, resp.StatusCode, nil
}

// successful reports whether the provided status code is a 2xx.
func successful(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

// apiError formats the api error of the provided response body.
func apiError(status int, body []byte) string {
	code := gjson.GetBytes(body, "code")
	msg := gjson.GetBytes(body, "msg")
	if !code.Exists() {
		return fmt.Sprintf("status %d", status)
	}

	return fmt.Sprintf("status %d, code %d: %s", status, code.Int(), msg.String())
}

// isAuthFailure reports whether the provided response signals a credential or signature failure.
func isAuthFailure(status int, body []byte) bool {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return true
	}

	code := gjson.GetBytes(body, "code")
	if !code.Exists() {
		return false
	}

	_, ok := authFailureCodes[code.Int()]
	return ok
}

// fetchData performs an unsigned market data request, mapping every failure to a feed error.
func (c *BinanceClient) fetchData(ctx context.Context, path string, params url.Values) ([]byte, error) {
	body, status, err := c.do(ctx, http.MethodGet, path, params, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrFeedUnavailable, err)
	}
	if !successful(status) {
		return nil, fmt.Errorf("%w: %s", shared.ErrFeedUnavailable, apiError(status, body))
	}

	return body, nil
}

// fetchAccount performs a signed account request.
func (c *BinanceClient) fetchAccount(ctx context.Context, path string, params url.Values) ([]byte, error) {
	body, status, err := c.do(ctx, http.MethodGet, path, params, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrFeedUnavailable, err)
	}
	if isAuthFailure(status, body) {
		return nil, fmt.Errorf("%w: %s", shared.ErrAuthFailure, apiError(status, body))
	}
	if !successful(status) {
		return nil, fmt.Errorf("%w: %s", shared.ErrFeedUnavailable, apiError(status, body))
	}

	return body, nil
}

// FetchHistory fetches the closing prices of the provided symbol and timeframe, oldest first.
func (c *BinanceClient) FetchHistory(ctx context.Context, symbol string, timeframe shared.Timeframe) ([]float64, error) {
	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("interval", timeframe.String())
	params.Add("limit", strconv.Itoa(shared.HistoryLimit))

	body, err := c.fetchData(ctx, klinesPath, params)
	if err != nil {
		return nil, fmt.Errorf("fetching %s klines for %s: %w", timeframe.String(), symbol, err)
	}

	return ParseCloses(gjson.ParseBytes(body).Array())
}

// ParseCloses parses closing prices from the provided kline rows.
func ParseCloses(rows []gjson.Result) ([]float64, error) {
	const closeIndex = 4

	closes := make([]float64, 0, len(rows))
	for idx := range rows {
		fields := rows[idx].Array()
		if len(fields) <= closeIndex {
			return nil, fmt.Errorf("malformed kline at index %d: %w", idx, shared.ErrFeedUnavailable)
		}
		closes = append(closes, fields[closeIndex].Float())
	}

	return closes, nil
}

// FetchPrice fetches the current price of the provided symbol.
func (c *BinanceClient) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Add("symbol", symbol)

	body, err := c.fetchData(ctx, tickerPricePath, params)
	if err != nil {
		return 0, fmt.Errorf("fetching price for %s: %w", symbol, err)
	}

	price := gjson.GetBytes(body, "price")
	if !price.Exists() {
		return 0, fmt.Errorf("no price for %s: %w", symbol, shared.ErrFeedUnavailable)
	}

	return price.Float(), nil
}

// fetchExchangeInfo fetches exchange info and caches the quantity step sizes of its symbols.
func (c *BinanceClient) fetchExchangeInfo(ctx context.Context) ([]gjson.Result, error) {
	body, err := c.fetchData(ctx, exchangeInfoPath, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching exchange info: %w", err)
	}

	symbols := gjson.GetBytes(body, "symbols").Array()

	c.stepSizesMtx.Lock()
	for idx := range symbols {
		step := symbols[idx].Get(`filters.#(filterType=="MARKET_LOT_SIZE").stepSize`)
		if !step.Exists() || step.Float() == 0 {
			step = symbols[idx].Get(`filters.#(filterType=="LOT_SIZE").stepSize`)
		}
		if step.Exists() && step.Float() > 0 {
			c.stepSizes[symbols[idx].Get("symbol").String()] = step.Float()
		}
	}
	c.stepSizesMtx.Unlock()

	return symbols, nil
}

// ListSymbols lists the trading symbols quoted in the provided asset. Symbols whose pair
// contains PERP are excluded.
func (c *BinanceClient) ListSymbols(ctx context.Context, quoteAsset string) ([]string, error) {
	symbols, err := c.fetchExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}

	list := make([]string, 0, len(symbols))
	for idx := range symbols {
		name := symbols[idx].Get("symbol").String()
		if symbols[idx].Get("quoteAsset").String() != quoteAsset {
			continue
		}
		if status := symbols[idx].Get("status"); status.Exists() && status.String() != "TRADING" {
			continue
		}
		pair := name
		if p := symbols[idx].Get("pair"); p.Exists() {
			pair = p.String()
		}
		if strings.Contains(strings.ToUpper(pair), "PERP") {
			continue
		}
		list = append(list, name)
	}

	return list, nil
}

// FetchBalance fetches the total wallet balance of the account.
func (c *BinanceClient) FetchBalance(ctx context.Context) (float64, error) {
	body, err := c.fetchAccount(ctx, accountPath, nil)
	if err != nil {
		return 0, fmt.Errorf("fetching account: %w", err)
	}

	balance := gjson.GetBytes(body, "totalWalletBalance")
	if !balance.Exists() {
		return 0, fmt.Errorf("no wallet balance in account: %w", shared.ErrFeedUnavailable)
	}

	return balance.Float(), nil
}

// roundQuantity rounds the provided quantity down to the step size of the provided symbol.
func (c *BinanceClient) roundQuantity(ctx context.Context, symbol string, quantity float64) (string, error) {
	c.stepSizesMtx.Lock()
	step, ok := c.stepSizes[symbol]
	c.stepSizesMtx.Unlock()

	if !ok {
		_, err := c.fetchExchangeInfo(ctx)
		if err != nil {
			return "", err
		}

		c.stepSizesMtx.Lock()
		step, ok = c.stepSizes[symbol]
		c.stepSizesMtx.Unlock()
	}

	if !ok {
		return strconv.FormatFloat(quantity, 'f', -1, 64), nil
	}

	steps := math.Floor(quantity/step + 1e-9)
	precision := max(0, int(math.Round(-math.Log10(step))))

	return strconv.FormatFloat(steps*step, 'f', precision, 64), nil
}

// placeOrder places a market order for the provided symbol.
func (c *BinanceClient) placeOrder(ctx context.Context, symbol string, side string, quantity float64, reduceOnly bool) error {
	if quantity <= 0 {
		return fmt.Errorf("%s order of %f %s: %w", side, quantity, symbol, shared.ErrOrderRejected)
	}

	qty, err := c.roundQuantity(ctx, symbol, quantity)
	if err != nil {
		return fmt.Errorf("rounding %s quantity: %w: %w", symbol, shared.ErrOrderRejected, err)
	}
	if parsed, _ := strconv.ParseFloat(qty, 64); parsed <= 0 {
		return fmt.Errorf("%s quantity %f below step size: %w", symbol, quantity, shared.ErrOrderRejected)
	}

	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("side", side)
	params.Add("type", "MARKET")
	params.Add("quantity", qty)
	if reduceOnly {
		params.Add("reduceOnly", "true")
	}

	body, status, err := c.do(ctx, http.MethodPost, orderPath, params, true)
	if err != nil {
		return fmt.Errorf("placing %s order for %s: %w: %v", side, symbol, shared.ErrOrderUnconfirmed, err)
	}
	if isAuthFailure(status, body) {
		return fmt.Errorf("placing %s order for %s: %w: %s", side, symbol, shared.ErrAuthFailure, apiError(status, body))
	}
	if !successful(status) {
		return fmt.Errorf("placing %s order for %s: %w: %s", side, symbol, shared.ErrOrderRejected, apiError(status, body))
	}

	c.cfg.Logger.Info().Msgf("placed %s market order of %s %s (order id %d)", side, qty, symbol,
		gjson.GetBytes(body, "orderId").Int())

	return nil
}

// Buy places a market buy order for the provided quantity.
func (c *BinanceClient) Buy(ctx context.Context, symbol string, quantity float64) error {
	return c.placeOrder(ctx, symbol, "BUY", quantity, false)
}

// Sell places a market sell order for the provided quantity.
func (c *BinanceClient) Sell(ctx context.Context, symbol string, quantity float64) error {
	return c.placeOrder(ctx, symbol, "SELL", quantity, false)
}

// CloseAllPositions closes every open position of the provided symbol with reduce-only market
// orders on the opposite side.
func (c *BinanceClient) CloseAllPositions(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Add("symbol", symbol)

	body, err := c.fetchAccount(ctx, positionRiskPath, params)
	if err != nil {
		if errors.Is(err, shared.ErrAuthFailure) {
			return fmt.Errorf("fetching positions for %s: %w", symbol, err)
		}
		return fmt.Errorf("fetching positions for %s: %w: %w", symbol, shared.ErrOrderRejected, err)
	}

	var errs error
	positions := gjson.ParseBytes(body).Array()
	for idx := range positions {
		if positions[idx].Get("symbol").String() != symbol {
			continue
		}

		amount := positions[idx].Get("positionAmt").Float()
		switch {
		case amount > 0:
			errs = errors.Join(errs, c.placeOrder(ctx, symbol, "SELL", amount, true))
		case amount < 0:
			errs = errors.Join(errs, c.placeOrder(ctx, symbol, "BUY", -amount, true))
		default:
			// do nothing.
		}
	}

	return errs
}

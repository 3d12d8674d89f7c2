// Package binance reads USDT-margined futures positions from Binance.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"tradelog/internal/adapters/exchanges"
	"tradelog/internal/adapters/ratelimit"
	"tradelog/internal/adapters/retry"
	"tradelog/internal/domain/position"
	"tradelog/pkg/logger"
)

const (
	futuresBaseURL      = "https://fapi.binance.com"
	futuresTestnetURL   = "https://testnet.binancefuture.com"
	defaultRecvWindowMs = 10000
	defaultHTTPTimeout  = 15 * time.Second

	defaultHistoryWindow  = 7 * 24 * time.Hour
	defaultHistoryWindows = 4
	incomeLimit           = 1000
	tradeLimit            = 500
)

var (
	rateLimitCodes = []string{"-1003"}
	authCodes      = []string{"-1021", "-1022", "-2014", "-2015"}
)

// Config configures the Binance client.
type Config struct {
	APIKey    string
	SecretKey string
	BaseURL   string
	Testnet   bool

	HTTPClient *http.Client
	RecvWindow time.Duration

	// Closed history is discovered through HistoryWindows chained income windows
	// of HistoryWindow each; Binance caps a single income query at seven days.
	HistoryWindow  time.Duration
	HistoryWindows int

	Limiter *ratelimit.Limiter
	Retry   retry.Config
}

// Client is a read-only Binance futures adapter.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retrier    *retry.Middleware
	log        *logger.Logger
	now        func() time.Time
}

var _ exchanges.Exchange = (*Client)(nil)

// NewClient creates a new Binance adapter.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("binance: api key and secret key are required")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = defaultRecvWindowMs * time.Millisecond
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	if cfg.HistoryWindows <= 0 {
		cfg.HistoryWindows = defaultHistoryWindows
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = futuresBaseURL
		if cfg.Testnet {
			cfg.BaseURL = futuresTestnetURL
		}
	}
	if log == nil {
		log = logger.Nop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		retrier:    retry.New(cfg.Retry),
		log:        log.With("exchange", exchanges.NameBinance),
		now:        time.Now,
	}, nil
}

func (c *Client) Name() string {
	return exchanges.NameBinance
}

// Scheme is holding: positionRisk carries no id and its updateTime moves on every fill.
func (c *Client) Scheme() position.Scheme {
	return position.SchemeHolding
}

func (c *Client) GetOpenPositions(ctx context.Context) ([]position.Position, error) {
	data, err := c.signed(ctx, "/fapi/v2/positionRisk", nil)
	if err != nil {
		return nil, err
	}

	var res []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		Leverage         string `json:"leverage"`
		IsolatedMargin   string `json:"isolatedMargin"`
		UpdateTime       int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}

	positions := make([]position.Position, 0, len(res))
	for _, p := range res {
		amt := exchanges.ParseDecimal(p.PositionAmt)
		if amt.IsZero() {
			continue
		}
		side := position.SideLong
		if amt.IsNegative() {
			side = position.SideShort
		}
		positions = append(positions, position.Position{
			Exchange:      exchanges.NameBinance,
			Symbol:        p.Symbol,
			Side:          side,
			Size:          amt.Abs(),
			EntryPrice:    exchanges.ParseDecimal(p.EntryPrice),
			MarkPrice:     exchanges.ParseDecimal(p.MarkPrice),
			Leverage:      exchanges.ParseLeverage(p.Leverage),
			MarginSize:    exchanges.ParseDecimal(p.IsolatedMargin),
			UnrealizedPnL: exchanges.ParseDecimal(p.UnRealizedProfit),
			OpenTime:      p.UpdateTime,
		})
	}
	return positions, nil
}

// GetClosedPositions rebuilds closing orders from fills. Symbols are discovered
// from realized-PnL income since userTrades needs one.
func (c *Client) GetClosedPositions(ctx context.Context) ([]position.ClosedPosition, error) {
	symbols, err := c.activeSymbols(ctx)
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return []position.ClosedPosition{}, nil
	}

	var closed []position.ClosedPosition
	for _, symbol := range symbols {
		fills, err := c.userTrades(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warnw("Failed to fetch trades, skipping symbol", "symbol", symbol, "error", err)
			continue
		}
		closed = append(closed, position.AggregateFills(exchanges.NameBinance, symbol, fills)...)
	}

	sort.SliceStable(closed, func(i, j int) bool { return closed[i].CloseTime < closed[j].CloseTime })
	return closed, nil
}

// activeSymbols walks back HistoryWindows income windows. A failed window is
// skipped; only when every window fails is the last error returned.
func (c *Client) activeSymbols(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	failed := 0
	var lastErr error
	windowMs := c.cfg.HistoryWindow.Milliseconds()
	nowMs := c.now().UnixMilli()

	for i := 0; i < c.cfg.HistoryWindows; i++ {
		end := nowMs - int64(i)*windowMs
		start := end - windowMs

		params := url.Values{
			"incomeType": []string{"REALIZED_PNL"},
			"limit":      []string{strconv.Itoa(incomeLimit)},
			"startTime":  []string{strconv.FormatInt(start, 10)},
			"endTime":    []string{strconv.FormatInt(end, 10)},
		}
		data, err := c.signed(ctx, "/fapi/v1/income", params)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			lastErr = err
			c.log.Warnw("Income window failed, skipping", "window", i, "error", err)
			continue
		}

		var res []struct {
			Symbol string `json:"symbol"`
		}
		if err := json.Unmarshal(data, &res); err != nil {
			c.log.Warnw("Income window undecodable, skipping", "window", i, "error", err)
			continue
		}
		for _, item := range res {
			if item.Symbol != "" {
				seen[item.Symbol] = struct{}{}
			}
		}
	}

	symbols := make([]string, 0, len(seen))
	for s := range seen {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	if failed == c.cfg.HistoryWindows {
		return nil, lastErr
	}
	return symbols, nil
}

func (c *Client) userTrades(ctx context.Context, symbol string) ([]position.Fill, error) {
	params := url.Values{
		"symbol": []string{symbol},
		"limit":  []string{strconv.Itoa(tradeLimit)},
	}
	data, err := c.signed(ctx, "/fapi/v1/userTrades", params)
	if err != nil {
		return nil, err
	}

	var res []struct {
		OrderID     json.Number `json:"orderId"`
		Symbol      string      `json:"symbol"`
		Side        string      `json:"side"`
		Price       string      `json:"price"`
		Qty         string      `json:"qty"`
		RealizedPnl string      `json:"realizedPnl"`
		Commission  string      `json:"commission"`
		Time        int64       `json:"time"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}

	fills := make([]position.Fill, 0, len(res))
	for _, t := range res {
		fills = append(fills, position.Fill{
			OrderID:     t.OrderID.String(),
			Symbol:      t.Symbol,
			Side:        t.Side,
			Price:       exchanges.ParseDecimal(t.Price),
			Qty:         exchanges.ParseDecimal(t.Qty),
			RealizedPnL: exchanges.ParseDecimal(t.RealizedPnl),
			// Binance reports commission as a positive amount paid
			Commission: exchanges.ParseDecimal(t.Commission).Neg(),
			Time:       t.Time,
		})
	}
	return fills, nil
}

func (c *Client) signed(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return retry.DoWithResult(ctx, c.retrier, func() ([]byte, error) {
		return c.doRequest(ctx, path, params)
	})
}

func (c *Client) doRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	query.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	query.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow.Milliseconds(), 10))
	encoded := query.Encode()
	encoded += "&signature=" + c.sign(encoded)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+encoded, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, payload)
	}
	return payload, nil
}

func (c *Client) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.SecretKey))
	_, _ = mac.Write([]byte(payload))
	return fmt.Sprintf("%x", mac.Sum(nil))
}

func parseAPIError(status int, payload []byte) error {
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Code != 0 {
		return exchanges.NewAPIError(exchanges.NameBinance, status, strconv.Itoa(apiErr.Code), apiErr.Msg, rateLimitCodes, authCodes)
	}
	return exchanges.NewAPIError(exchanges.NameBinance, status, "", string(payload), rateLimitCodes, authCodes)
}

// Package bybit reads USDT perpetual positions from the Bybit v5 API.
package bybit

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
	"strings"
	"time"

	"tradelog/internal/adapters/exchanges"
	"tradelog/internal/adapters/ratelimit"
	"tradelog/internal/adapters/retry"
	"tradelog/internal/domain/position"
)

const (
	baseURL        = "https://api.bybit.com"
	testnetURL     = "https://api-testnet.bybit.com"
	defaultTimeout = 15 * time.Second
	defaultRecvWin = 5 * time.Second
	category       = "linear"
	settleCoin     = "USDT"
	closedLimit    = "100"
)

var (
	rateLimitCodes = []string{"10006", "10018"}
	authCodes      = []string{"10002", "10003", "10004", "10005", "33004"}
)

// Config configures the Bybit client.
type Config struct {
	APIKey    string
	SecretKey string
	BaseURL   string
	Testnet   bool

	HTTPClient *http.Client
	RecvWindow time.Duration
	Limiter    *ratelimit.Limiter
	Retry      retry.Config
}

// Client is a read-only Bybit linear adapter.
type Client struct {
	cfg     Config
	retrier *retry.Middleware
	now     func() time.Time
}

var _ exchanges.Exchange = (*Client)(nil)

// NewClient creates a new Bybit adapter instance.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("bybit private call requires api credentials")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = defaultRecvWin
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURL
		if cfg.Testnet {
			cfg.BaseURL = testnetURL
		}
	}

	return &Client{cfg: cfg, retrier: retry.New(cfg.Retry), now: time.Now}, nil
}

func (c *Client) Name() string {
	return exchanges.NameBybit
}

// Scheme is holding: position/list has no position id and createdTime resets on flips.
func (c *Client) Scheme() position.Scheme {
	return position.SchemeHolding
}

func (c *Client) GetOpenPositions(ctx context.Context) ([]position.Position, error) {
	params := url.Values{
		"category":   []string{category},
		"settleCoin": []string{settleCoin},
	}
	var res struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			Leverage      string `json:"leverage"`
			PositionIM    string `json:"positionIM"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			CreatedTime   string `json:"createdTime"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/position/list", params, &res); err != nil {
		return nil, err
	}

	positions := make([]position.Position, 0, len(res.List))
	for _, p := range res.List {
		size := exchanges.ParseDecimal(p.Size)
		if size.IsZero() {
			continue
		}
		side := position.SideLong
		if strings.EqualFold(p.Side, "sell") {
			side = position.SideShort
		}
		positions = append(positions, position.Position{
			Exchange:      exchanges.NameBybit,
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size.Abs(),
			EntryPrice:    exchanges.ParseDecimal(p.AvgPrice),
			MarkPrice:     exchanges.ParseDecimal(p.MarkPrice),
			Leverage:      exchanges.ParseLeverage(p.Leverage),
			MarginSize:    exchanges.ParseDecimal(p.PositionIM),
			UnrealizedPnL: exchanges.ParseDecimal(p.UnrealisedPnl),
			OpenTime:      exchanges.ParseInt64(p.CreatedTime),
		})
	}
	return positions, nil
}

// GetClosedPositions returns one record per closing order. closedPnl is already
// net of fees, so the gross figure is rebuilt from the fee fields.
func (c *Client) GetClosedPositions(ctx context.Context) ([]position.ClosedPosition, error) {
	params := url.Values{
		"category": []string{category},
		"limit":    []string{closedLimit},
	}
	var res struct {
		List []struct {
			Symbol        string `json:"symbol"`
			OrderID       string `json:"orderId"`
			Side          string `json:"side"`
			ClosedSize    string `json:"closedSize"`
			Qty           string `json:"qty"`
			AvgEntryPrice string `json:"avgEntryPrice"`
			AvgExitPrice  string `json:"avgExitPrice"`
			ClosedPnl     string `json:"closedPnl"`
			OpenFee       string `json:"openFee"`
			CloseFee      string `json:"closeFee"`
			Leverage      string `json:"leverage"`
			CreatedTime   string `json:"createdTime"`
			UpdatedTime   string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/position/closed-pnl", params, &res); err != nil {
		return nil, err
	}

	closed := make([]position.ClosedPosition, 0, len(res.List))
	for _, p := range res.List {
		qty := exchanges.ParseDecimal(p.ClosedSize)
		if qty.IsZero() {
			qty = exchanges.ParseDecimal(p.Qty)
		}
		// fees are reported as positive amounts paid
		openFee := exchanges.ParseDecimal(p.OpenFee).Neg()
		closeFee := exchanges.ParseDecimal(p.CloseFee).Neg()
		net := exchanges.ParseDecimal(p.ClosedPnl)

		closed = append(closed, position.ClosedPosition{
			Exchange:    exchanges.NameBybit,
			Symbol:      p.Symbol,
			Side:        holdSide(p.Side),
			CloseID:     p.OrderID,
			EntryPrice:  exchanges.ParseDecimal(p.AvgEntryPrice),
			ExitPrice:   exchanges.ParseDecimal(p.AvgExitPrice),
			Quantity:    qty,
			RealizedPnL: net.Sub(openFee).Sub(closeFee),
			OpenFee:     openFee,
			CloseFee:    closeFee,
			NetProfit:   net,
			Leverage:    exchanges.ParseLeverage(p.Leverage),
			OpenTime:    exchanges.ParseInt64(p.CreatedTime),
			CloseTime:   exchanges.ParseInt64(p.UpdatedTime),
		})
	}

	sort.SliceStable(closed, func(i, j int) bool { return closed[i].CloseTime < closed[j].CloseTime })
	return closed, nil
}

// holdSide maps the closing order side to the side of the position it closed
func holdSide(orderSide string) position.Side {
	if strings.EqualFold(orderSide, "sell") {
		return position.SideLong
	}
	return position.SideShort
}

func (c *Client) get(ctx context.Context, path string, params url.Values, target interface{}) error {
	return c.retrier.Do(ctx, func() error {
		body, err := c.doRequest(ctx, path, params)
		if err != nil {
			return err
		}
		return decodeResponse(body, target)
	})
}

func (c *Client) doRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	query := params.Encode()
	reqURL := c.cfg.BaseURL + path
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	recv := strconv.FormatInt(c.cfg.RecvWindow.Milliseconds(), 10)
	req.Header.Set("X-BAPI-API-KEY", c.cfg.APIKey)
	req.Header.Set("X-BAPI-SIGN", c.sign(ts, recv, query))
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", recv)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, exchanges.NewAPIError(exchanges.NameBybit, resp.StatusCode, "", string(respBody), rateLimitCodes, authCodes)
	}
	return respBody, nil
}

// sign covers timestamp, key, recv window and the query string (GET) or body (POST)
func (c *Client) sign(timestamp, recvWindow, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.SecretKey))
	_, _ = mac.Write([]byte(timestamp + c.cfg.APIKey + recvWindow + payload))
	return fmt.Sprintf("%x", mac.Sum(nil))
}

type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func decodeResponse(body []byte, target interface{}) error {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return err
	}
	if resp.RetCode != 0 {
		return exchanges.NewAPIError(exchanges.NameBybit, http.StatusOK, strconv.Itoa(resp.RetCode), resp.RetMsg, rateLimitCodes, authCodes)
	}
	if target == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, target)
}

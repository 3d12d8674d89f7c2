// Package bitget reads USDT-M futures positions from the Bitget v2 mix API.
package bitget

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
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
	"tradelog/pkg/errors"
)

const (
	productionBaseURL = "https://api.bitget.com"
	defaultTimeout    = 15 * time.Second
	defaultLookback   = 30 * 24 * time.Hour
	productType       = "USDT-FUTURES"
	historyLimit      = "100"
	codeOK            = "00000"
)

var (
	rateLimitCodes = []string{"429", "40018"}
	authCodes      = []string{"40006", "40009", "40012", "40037"}
)

// Config configures the Bitget client.
type Config struct {
	APIKey     string
	SecretKey  string
	Passphrase string
	BaseURL    string

	// Lookback bounds the history-position query; Bitget defaults to seven days otherwise
	Lookback time.Duration

	HTTPClient *http.Client
	Limiter    *ratelimit.Limiter
	Retry      retry.Config
}

// Client is a read-only Bitget futures adapter.
type Client struct {
	cfg     Config
	retrier *retry.Middleware
	now     func() time.Time
}

var _ exchanges.Exchange = (*Client)(nil)

// NewClient constructs a new Bitget adapter.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" || cfg.Passphrase == "" {
		return nil, errors.Wrap(errors.ErrUnauthorized, "bitget: api key, secret key and passphrase are required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = productionBaseURL
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultLookback
	}
	return &Client{cfg: cfg, retrier: retry.New(cfg.Retry), now: time.Now}, nil
}

func (c *Client) Name() string {
	return exchanges.NameBitget
}

// Scheme is timestamp: cTime is stable for the life of a position and is
// echoed by history-position, so open and closed keys coincide.
func (c *Client) Scheme() position.Scheme {
	return position.SchemeTimestamp
}

// Field names differ between the two endpoints (openPriceAvg vs openAvgPrice);
// cTime/ctime casing is absorbed by encoding/json's case-insensitive matching.
type openPosition struct {
	Symbol       string `json:"symbol"`
	HoldSide     string `json:"holdSide"`
	Total        string `json:"total"`
	OpenPriceAvg string `json:"openPriceAvg"`
	OpenAvgPrice string `json:"openAvgPrice"`
	MarkPrice    string `json:"markPrice"`
	Leverage     string `json:"leverage"`
	MarginSize   string `json:"marginSize"`
	UnrealizedPL string `json:"unrealizedPL"`
	CTime        string `json:"cTime"`
}

type historyPosition struct {
	Symbol        string `json:"symbol"`
	HoldSide      string `json:"holdSide"`
	OpenAvgPrice  string `json:"openAvgPrice"`
	CloseAvgPrice string `json:"closeAvgPrice"`
	OpenTotalPos  string `json:"openTotalPos"`
	Pnl           string `json:"pnl"`
	NetProfit     string `json:"netProfit"`
	OpenFee       string `json:"openFee"`
	CloseFee      string `json:"closeFee"`
	TotalFunding  string `json:"totalFunding"`
	Leverage      string `json:"leverage"`
	CTime         string `json:"cTime"`
	UTime         string `json:"uTime"`
}

func (c *Client) GetOpenPositions(ctx context.Context) ([]position.Position, error) {
	params := url.Values{"productType": []string{productType}}

	var res []openPosition
	if err := c.get(ctx, "/api/v2/mix/position/all-position", params, &res); err != nil {
		return nil, err
	}

	positions := make([]position.Position, 0, len(res))
	for _, p := range res {
		side, ok := exchanges.SideFromHold(p.HoldSide)
		if !ok {
			continue
		}
		size := exchanges.ParseDecimal(p.Total)
		if size.IsZero() {
			continue
		}
		entry := exchanges.ParseDecimal(p.OpenPriceAvg)
		if entry.IsZero() {
			entry = exchanges.ParseDecimal(p.OpenAvgPrice)
		}
		positions = append(positions, position.Position{
			Exchange:      exchanges.NameBitget,
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size.Abs(),
			EntryPrice:    entry,
			MarkPrice:     exchanges.ParseDecimal(p.MarkPrice),
			Leverage:      exchanges.ParseLeverage(p.Leverage),
			MarginSize:    exchanges.ParseDecimal(p.MarginSize),
			UnrealizedPnL: exchanges.ParseDecimal(p.UnrealizedPL),
			OpenTime:      exchanges.ParseInt64(p.CTime),
		})
	}
	return positions, nil
}

func (c *Client) GetClosedPositions(ctx context.Context) ([]position.ClosedPosition, error) {
	start := c.now().Add(-c.cfg.Lookback).UnixMilli()
	params := url.Values{
		"productType": []string{productType},
		"startTime":   []string{strconv.FormatInt(start, 10)},
		"limit":       []string{historyLimit},
	}

	var res struct {
		List []historyPosition `json:"list"`
	}
	if err := c.get(ctx, "/api/v2/mix/position/history-position", params, &res); err != nil {
		return nil, err
	}

	closed := make([]position.ClosedPosition, 0, len(res.List))
	for _, p := range res.List {
		side, ok := exchanges.SideFromHold(p.HoldSide)
		if !ok {
			continue
		}
		closed = append(closed, position.ClosedPosition{
			Exchange:    exchanges.NameBitget,
			Symbol:      p.Symbol,
			Side:        side,
			EntryPrice:  exchanges.ParseDecimal(p.OpenAvgPrice),
			ExitPrice:   exchanges.ParseDecimal(p.CloseAvgPrice),
			Quantity:    exchanges.ParseDecimal(p.OpenTotalPos),
			RealizedPnL: exchanges.ParseDecimal(p.Pnl),
			OpenFee:     exchanges.ParseDecimal(p.OpenFee),
			CloseFee:    exchanges.ParseDecimal(p.CloseFee),
			FundingFee:  exchanges.ParseDecimal(p.TotalFunding),
			NetProfit:   exchanges.ParseDecimal(p.NetProfit),
			Leverage:    exchanges.ParseLeverage(p.Leverage),
			OpenTime:    exchanges.ParseInt64(p.CTime),
			CloseTime:   exchanges.ParseInt64(p.UTime),
		})
	}

	// the venue answers newest first
	sort.SliceStable(closed, func(i, j int) bool { return closed[i].CloseTime < closed[j].CloseTime })
	return closed, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, target interface{}) error {
	return c.retrier.Do(ctx, func() error {
		return c.request(ctx, http.MethodGet, path, params, target)
	})
}

func (c *Client) request(ctx context.Context, method, path string, params url.Values, target interface{}) error {
	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	requestPath := path
	if len(params) > 0 {
		requestPath += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+requestPath, nil)
	if err != nil {
		return err
	}

	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	req.Header.Set("ACCESS-KEY", c.cfg.APIKey)
	req.Header.Set("ACCESS-SIGN", sign(timestamp+strings.ToUpper(method)+requestPath, c.cfg.SecretKey))
	req.Header.Set("ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("ACCESS-PASSPHRASE", c.cfg.Passphrase)
	req.Header.Set("locale", "en-US")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return decodeEnvelope(resp.StatusCode, body, target)
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func decodeEnvelope(status int, body []byte, target interface{}) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if status >= 400 {
			return exchanges.NewAPIError(exchanges.NameBitget, status, "", string(body), rateLimitCodes, authCodes)
		}
		return err
	}
	if status >= 400 || env.Code != codeOK {
		return exchanges.NewAPIError(exchanges.NameBitget, status, env.Code, env.Msg, rateLimitCodes, authCodes)
	}
	if target == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return json.Unmarshal(env.Data, target)
}

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

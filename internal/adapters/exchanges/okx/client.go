// Package okx reads perpetual swap positions from OKX v5.
package okx

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
	"strings"
	"time"

	"tradelog/internal/adapters/exchanges"
	"tradelog/internal/adapters/ratelimit"
	"tradelog/internal/adapters/retry"
	"tradelog/internal/domain/position"
	"tradelog/pkg/errors"
)

const (
	productionBaseURL = "https://www.okx.com"
	defaultTimeout    = 15 * time.Second
	instTypeSwap      = "SWAP"
	historyLimit      = "100"
	timestampLayout   = "2006-01-02T15:04:05.000Z"
)

var (
	rateLimitCodes = []string{"50011", "50061"}
	authCodes      = []string{"50102", "50103", "50104", "50105", "50111", "50113"}
)

// Config configures the OKX client.
type Config struct {
	APIKey     string
	SecretKey  string
	Passphrase string
	BaseURL    string
	// Simulated routes requests to demo trading
	Simulated bool

	HTTPClient *http.Client
	Limiter    *ratelimit.Limiter
	Retry      retry.Config
}

// Client is a read-only OKX swap adapter.
type Client struct {
	cfg     Config
	retrier *retry.Middleware
	now     func() time.Time
}

var _ exchanges.Exchange = (*Client)(nil)

// NewClient constructs a new OKX adapter.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" || cfg.Passphrase == "" {
		return nil, errors.Wrap(errors.ErrUnauthorized, "okx: api key, secret key and passphrase are required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = productionBaseURL
	}
	return &Client{cfg: cfg, retrier: retry.New(cfg.Retry), now: time.Now}, nil
}

func (c *Client) Name() string {
	return exchanges.NameOKX
}

// Scheme is timestamp: every position carries a stable cTime.
func (c *Client) Scheme() position.Scheme {
	return position.SchemeTimestamp
}

func (c *Client) GetOpenPositions(ctx context.Context) ([]position.Position, error) {
	params := url.Values{"instType": []string{instTypeSwap}}

	var res []struct {
		InstID   string `json:"instId"`
		PosSide  string `json:"posSide"`
		Pos      string `json:"pos"`
		AvgPx    string `json:"avgPx"`
		MarkPx   string `json:"markPx"`
		Lever    string `json:"lever"`
		Margin   string `json:"margin"`
		Imr      string `json:"imr"`
		Upl      string `json:"upl"`
		UplRatio string `json:"uplRatio"`
		CTime    string `json:"cTime"`
	}
	if err := c.get(ctx, "/api/v5/account/positions", params, &res); err != nil {
		return nil, err
	}

	positions := make([]position.Position, 0, len(res))
	for _, p := range res {
		size := exchanges.ParseDecimal(p.Pos)
		if size.IsZero() {
			continue
		}
		side, ok := exchanges.SideFromHold(p.PosSide)
		if !ok {
			// net mode: the sign carries the direction
			side = position.SideLong
			if size.IsNegative() {
				side = position.SideShort
			}
		}
		margin := exchanges.ParseDecimal(p.Margin)
		if margin.IsZero() {
			margin = exchanges.ParseDecimal(p.Imr)
		}
		positions = append(positions, position.Position{
			Exchange:      exchanges.NameOKX,
			Symbol:        normalizeSymbol(p.InstID),
			Side:          side,
			Size:          size.Abs(),
			EntryPrice:    exchanges.ParseDecimal(p.AvgPx),
			MarkPrice:     exchanges.ParseDecimal(p.MarkPx),
			Leverage:      exchanges.ParseLeverage(p.Lever),
			MarginSize:    margin,
			UnrealizedPnL: exchanges.ParseDecimal(p.Upl),
			ReportedROE:   exchanges.ParseDecimal(p.UplRatio),
			OpenTime:      exchanges.ParseInt64(p.CTime),
		})
	}
	return positions, nil
}

func (c *Client) GetClosedPositions(ctx context.Context) ([]position.ClosedPosition, error) {
	params := url.Values{
		"instType": []string{instTypeSwap},
		"limit":    []string{historyLimit},
	}

	var res []struct {
		InstID        string `json:"instId"`
		Direction     string `json:"direction"`
		PosSide       string `json:"posSide"`
		OpenAvgPx     string `json:"openAvgPx"`
		CloseAvgPx    string `json:"closeAvgPx"`
		CloseTotalPos string `json:"closeTotalPos"`
		Pnl           string `json:"pnl"`
		RealizedPnl   string `json:"realizedPnl"`
		Fee           string `json:"fee"`
		FundingFee    string `json:"fundingFee"`
		Lever         string `json:"lever"`
		CTime         string `json:"cTime"`
		UTime         string `json:"uTime"`
	}
	if err := c.get(ctx, "/api/v5/account/positions-history", params, &res); err != nil {
		return nil, err
	}

	closed := make([]position.ClosedPosition, 0, len(res))
	for _, p := range res {
		side, ok := exchanges.SideFromHold(p.Direction)
		if !ok {
			if side, ok = exchanges.SideFromHold(p.PosSide); !ok {
				continue
			}
		}
		closed = append(closed, position.ClosedPosition{
			Exchange:    exchanges.NameOKX,
			Symbol:      normalizeSymbol(p.InstID),
			Side:        side,
			EntryPrice:  exchanges.ParseDecimal(p.OpenAvgPx),
			ExitPrice:   exchanges.ParseDecimal(p.CloseAvgPx),
			Quantity:    exchanges.ParseDecimal(p.CloseTotalPos),
			RealizedPnL: exchanges.ParseDecimal(p.Pnl),
			CloseFee:    exchanges.ParseDecimal(p.Fee),
			FundingFee:  exchanges.ParseDecimal(p.FundingFee),
			NetProfit:   exchanges.ParseDecimal(p.RealizedPnl),
			Leverage:    exchanges.ParseLeverage(p.Lever),
			OpenTime:    exchanges.ParseInt64(p.CTime),
			CloseTime:   exchanges.ParseInt64(p.UTime),
		})
	}

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

	timestamp := c.now().UTC().Format(timestampLayout)
	signature := sign(timestamp+strings.ToUpper(method)+requestPath, c.cfg.SecretKey)

	req.Header.Set("OK-ACCESS-KEY", c.cfg.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", signature)
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	if c.cfg.Simulated {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return decodeEnvelope(resp.StatusCode, respBody, target)
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
			return exchanges.NewAPIError(exchanges.NameOKX, status, "", string(body), rateLimitCodes, authCodes)
		}
		return err
	}
	if status >= 400 || env.Code != "0" {
		return exchanges.NewAPIError(exchanges.NameOKX, status, env.Code, env.Msg, rateLimitCodes, authCodes)
	}
	if target == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, target)
}

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// normalizeSymbol turns BTC-USDT-SWAP into BTCUSDT so rows read the same across venues
func normalizeSymbol(instID string) string {
	instID = strings.TrimSuffix(strings.ToUpper(instID), "-SWAP")
	return strings.ReplaceAll(instID, "-", "")
}

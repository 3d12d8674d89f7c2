// Package feishu implements table.Store on a Feishu/Lark bitable through the Lark open SDK.
package feishu

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkbitable "github.com/larksuite/oapi-sdk-go/v3/service/bitable/v1"

	"tradelog/internal/adapters/ratelimit"
	"tradelog/internal/adapters/retry"
	"tradelog/internal/domain/syncstate"
	"tradelog/internal/domain/table"
	"tradelog/internal/metrics"
	"tradelog/pkg/errors"
	"tradelog/pkg/logger"
)

const listPageSize = 500

// Feishu error codes worth telling apart
const (
	codeOK              = 0
	codeTokenInvalid    = 99991663
	codeTokenExpired    = 99991661
	codeTooManyRequests = 99991400
)

// Config holds client configuration
type Config struct {
	BaseURL    string
	AppID      string
	AppSecret  string
	AppToken   string
	TableID    string
	WriteRPS   float64
	HTTPClient *http.Client
	Retry      retry.Config
}

// Client talks to one bitable table
type Client struct {
	cfg     Config
	sdk     *lark.Client
	writes  *ratelimit.Limiter
	retrier *retry.Middleware
	log     *logger.Logger
}

var _ table.Store = (*Client)(nil)

// NewClient validates the configuration and builds a client. The SDK fetches
// and caches the tenant access token.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "feishu app id and secret are required")
	}
	if cfg.AppToken == "" || cfg.TableID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "feishu app token and table id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = lark.FeishuBaseUrl
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	log = log.With("component", "feishu")
	sdk := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithOpenBaseUrl(cfg.BaseURL),
		lark.WithHttpClient(httpClient),
		lark.WithEnableTokenCache(true),
		lark.WithLogger(sdkLogger{log: log}),
		lark.WithLogLevel(larkcore.LogLevelWarn),
	)

	return &Client{
		cfg:     cfg,
		sdk:     sdk,
		writes:  ratelimit.NewPerSecond("feishu-write", cfg.WriteRPS),
		retrier: retry.New(cfg.Retry),
		log:     log,
	}, nil
}

// APIError is a non-success Feishu response
type APIError struct {
	HTTPStatus int
	Code       int
	Msg        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("feishu error: status=%d code=%d msg=%s", e.HTTPStatus, e.Code, e.Msg)
}

// StatusCode exposes the HTTP status for retry classification
func (e *APIError) StatusCode() int {
	return e.HTTPStatus
}

// Unwrap maps Feishu failures onto domain sentinels
func (e *APIError) Unwrap() error {
	switch {
	case e.HTTPStatus == http.StatusTooManyRequests || e.Code == codeTooManyRequests:
		return errors.ErrRateLimited
	case e.HTTPStatus == http.StatusUnauthorized || e.Code == codeTokenInvalid || e.Code == codeTokenExpired:
		return errors.ErrUnauthorized
	case e.HTTPStatus >= 500:
		return errors.ErrUnavailable
	}
	return errors.ErrRemoteRejected
}

// FindRow searches for the row whose positionId equals positionID.
// Any failure is returned as an error; "" with nil means no such row.
func (c *Client) FindRow(ctx context.Context, positionID string) (string, error) {
	start := time.Now()
	req := larkbitable.NewSearchAppTableRecordReqBuilder().
		AppToken(c.cfg.AppToken).
		TableId(c.cfg.TableID).
		PageSize(1).
		Body(larkbitable.NewSearchAppTableRecordReqBodyBuilder().
			Filter(larkbitable.NewFilterInfoBuilder().
				Conjunction("and").
				Conditions([]*larkbitable.Condition{
					larkbitable.NewConditionBuilder().
						FieldName(table.FieldPositionID).
						Operator("is").
						Value([]string{positionID}).
						Build(),
				}).
				Build()).
			AutomaticFields(false).
			Build()).
		Build()

	data, err := retry.DoWithResult(ctx, c.retrier, func() (*larkbitable.SearchAppTableRecordRespData, error) {
		resp, err := c.sdk.Bitable.V1.AppTableRecord.Search(ctx, req)
		if err != nil {
			return nil, transportError(err)
		}
		if err := checkResponse(resp.ApiResp, resp.Code, resp.Msg); err != nil {
			return nil, err
		}
		return resp.Data, nil
	})
	metrics.RecordTableCall("find", time.Since(start), err)
	if err != nil {
		return "", errors.Wrapf(err, "search positionId=%s", positionID)
	}

	if data == nil || len(data.Items) == 0 {
		return "", nil
	}
	if total := larkcore.IntValue(data.Total); total > 1 {
		c.log.Warnw("Multiple rows share a positionId, using the first",
			"position_id", positionID,
			"rows", total,
		)
	}
	return larkcore.StringValue(data.Items[0].RecordId), nil
}

// CreateRow inserts a row and returns its record id. Not retried: a create that
// timed out may have landed.
func (c *Client) CreateRow(ctx context.Context, fields table.Fields) (string, error) {
	if err := c.writes.Wait(ctx); err != nil {
		return "", err
	}

	start := time.Now()
	req := larkbitable.NewCreateAppTableRecordReqBuilder().
		AppToken(c.cfg.AppToken).
		TableId(c.cfg.TableID).
		AppTableRecord(larkbitable.NewAppTableRecordBuilder().Fields(fields).Build()).
		Build()

	recordID, err := func() (string, error) {
		resp, err := c.sdk.Bitable.V1.AppTableRecord.Create(ctx, req)
		if err != nil {
			return "", transportError(err)
		}
		if err := checkResponse(resp.ApiResp, resp.Code, resp.Msg); err != nil {
			return "", err
		}
		if resp.Data == nil || resp.Data.Record == nil {
			return "", nil
		}
		return larkcore.StringValue(resp.Data.Record.RecordId), nil
	}()
	metrics.RecordTableCall("create", time.Since(start), err)
	if err != nil {
		return "", errors.Wrap(err, "create record")
	}

	c.log.Debugw("Record created", "record_id", recordID)
	return recordID, nil
}

// UpdateRow overwrites the given columns of a row; omitted columns keep their values
func (c *Client) UpdateRow(ctx context.Context, recordID string, fields table.Fields) error {
	if err := c.writes.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	req := larkbitable.NewUpdateAppTableRecordReqBuilder().
		AppToken(c.cfg.AppToken).
		TableId(c.cfg.TableID).
		RecordId(recordID).
		AppTableRecord(larkbitable.NewAppTableRecordBuilder().Fields(fields).Build()).
		Build()

	err := c.retrier.Do(ctx, func() error {
		resp, err := c.sdk.Bitable.V1.AppTableRecord.Update(ctx, req)
		if err != nil {
			return transportError(err)
		}
		return checkResponse(resp.ApiResp, resp.Code, resp.Msg)
	})
	metrics.RecordTableCall("update", time.Since(start), err)
	if err != nil {
		return errors.Wrapf(err, "update record %s", recordID)
	}

	c.log.Debugw("Record updated", "record_id", recordID)
	return nil
}

// ListAllRows pages through the whole table and returns the rows keyed by positionId
func (c *Client) ListAllRows(ctx context.Context) (map[string]syncstate.CacheEntry, error) {
	start := time.Now()
	rows := make(map[string]syncstate.CacheEntry)
	pageToken := ""

	for {
		builder := larkbitable.NewListAppTableRecordReqBuilder().
			AppToken(c.cfg.AppToken).
			TableId(c.cfg.TableID).
			PageSize(listPageSize)
		if pageToken != "" {
			builder = builder.PageToken(pageToken)
		}
		req := builder.Build()

		data, err := retry.DoWithResult(ctx, c.retrier, func() (*larkbitable.ListAppTableRecordRespData, error) {
			resp, err := c.sdk.Bitable.V1.AppTableRecord.List(ctx, req)
			if err != nil {
				return nil, transportError(err)
			}
			if err := checkResponse(resp.ApiResp, resp.Code, resp.Msg); err != nil {
				return nil, err
			}
			return resp.Data, nil
		})
		if err != nil {
			metrics.RecordTableCall("list", time.Since(start), err)
			return nil, errors.Wrap(err, "list records")
		}
		if data == nil {
			break
		}

		for _, item := range data.Items {
			if item == nil {
				continue
			}
			positionID, entry, ok := decodeRow(larkcore.StringValue(item.RecordId), item.Fields)
			if !ok {
				continue
			}
			rows[positionID] = entry
		}

		next := larkcore.StringValue(data.PageToken)
		if !larkcore.BoolValue(data.HasMore) || next == "" {
			break
		}
		pageToken = next
	}

	metrics.RecordTableCall("list", time.Since(start), nil)
	return rows, nil
}

// checkResponse turns a decoded non-success envelope into an APIError
func checkResponse(raw *larkcore.ApiResp, code int, msg string) error {
	if code == codeOK {
		return nil
	}
	status := 0
	if raw != nil {
		status = raw.StatusCode
	}
	return &APIError{HTTPStatus: status, Code: code, Msg: msg}
}

// transportError marks a request that got no decodable answer as unavailable
func transportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", errors.ErrUnavailable, err)
}

// sdkLogger routes SDK logs into the service logger
type sdkLogger struct {
	log *logger.Logger
}

func (l sdkLogger) Debug(_ context.Context, args ...interface{}) { l.log.Debug(args...) }
func (l sdkLogger) Info(_ context.Context, args ...interface{})  { l.log.Info(args...) }
func (l sdkLogger) Warn(_ context.Context, args ...interface{})  { l.log.Warn(args...) }
func (l sdkLogger) Error(_ context.Context, args ...interface{}) { l.log.Warn(args...) }

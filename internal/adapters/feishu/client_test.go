package feishu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelog/internal/domain/table"
	"tradelog/pkg/errors"
	"tradelog/pkg/logger"
)

const recordsPrefix = "/open-apis/bitable/v1/apps/app/tables/tbl/records"

type fakeBitable struct {
	t           *testing.T
	tokenCalls  int32
	searchBody  map[string]interface{}
	searchReply string
	searchCode  int
	created     table.Fields
	updated     map[string]table.Fields
	pages       []string
}

func (f *fakeBitable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if r.URL.Path == "/open-apis/auth/v3/tenant_access_token/internal" {
		atomic.AddInt32(&f.tokenCalls, 1)
		_, _ = w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"t-123","expire":7200}`))
		return
	}

	assert.Equal(f.t, "Bearer t-123", r.Header.Get("Authorization"))

	switch {
	case r.Method == http.MethodPost && r.URL.Path == recordsPrefix+"/search":
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.searchBody))
		if f.searchCode != 0 {
			w.WriteHeader(f.searchCode)
			_, _ = w.Write([]byte(`{"code":1254000,"msg":"internal"}`))
			return
		}
		_, _ = w.Write([]byte(f.searchReply))

	case r.Method == http.MethodPost && r.URL.Path == recordsPrefix:
		var body struct {
			Fields table.Fields `json:"fields"`
		}
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.created = body.Fields
		_, _ = w.Write([]byte(`{"code":0,"msg":"ok","data":{"record":{"record_id":"recNEW"}}}`))

	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, recordsPrefix+"/"):
		var body struct {
			Fields table.Fields `json:"fields"`
		}
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.updated[strings.TrimPrefix(r.URL.Path, recordsPrefix+"/")] = body.Fields
		_, _ = w.Write([]byte(`{"code":0,"msg":"ok","data":{}}`))

	case r.Method == http.MethodGet && r.URL.Path == recordsPrefix:
		idx := 0
		if r.URL.Query().Get("page_token") == "p2" {
			idx = 1
		}
		_, _ = w.Write([]byte(f.pages[idx]))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, fake *fakeBitable) *Client {
	fake.t = t
	fake.updated = map[string]table.Fields{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	// the SDK caches tenant tokens per app id for the whole process
	c, err := NewClient(Config{
		BaseURL:   srv.URL,
		AppID:     "cli_" + t.Name(),
		AppSecret: "sec",
		AppToken:  "app",
		TableID:   "tbl",
	}, logger.Nop())
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{AppID: "x"}, logger.Nop())
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestFindRow(t *testing.T) {
	fake := &fakeBitable{searchReply: `{"code":0,"msg":"ok","data":{"items":[{"record_id":"rec1","fields":{}}],"has_more":false,"total":1}}`}
	c := newTestClient(t, fake)

	id, err := c.FindRow(context.Background(), "binance_BTCUSDT_long_HOLDING")
	require.NoError(t, err)
	assert.Equal(t, "rec1", id)

	conds := fake.searchBody["filter"].(map[string]interface{})["conditions"].([]interface{})
	cond := conds[0].(map[string]interface{})
	assert.Equal(t, "positionId", cond["field_name"])
	assert.Equal(t, "is", cond["operator"])
	assert.Equal(t, []interface{}{"binance_BTCUSDT_long_HOLDING"}, cond["value"])
}

func TestFindRow_RejectedIsAnError(t *testing.T) {
	fake := &fakeBitable{searchReply: `{"code":1254045,"msg":"FieldNameNotFound"}`}
	c := newTestClient(t, fake)

	id, err := c.FindRow(context.Background(), "x")
	require.Error(t, err)
	assert.Empty(t, id)
	assert.True(t, errors.Is(err, errors.ErrRemoteRejected))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 1254045, apiErr.Code)
}

func TestFindRow_UnreachableIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := NewClient(Config{
		BaseURL:   srv.URL,
		AppID:     "cli_" + t.Name(),
		AppSecret: "sec",
		AppToken:  "app",
		TableID:   "tbl",
	}, logger.Nop())
	require.NoError(t, err)

	id, err := c.FindRow(context.Background(), "x")
	require.Error(t, err)
	assert.Empty(t, id)
}

func TestFindRow_NotFound(t *testing.T) {
	fake := &fakeBitable{searchReply: `{"code":0,"msg":"ok","data":{"items":[],"has_more":false,"total":0}}`}
	c := newTestClient(t, fake)

	id, err := c.FindRow(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestFindRow_FailureIsAnError(t *testing.T) {
	fake := &fakeBitable{searchCode: http.StatusInternalServerError}
	c := newTestClient(t, fake)

	id, err := c.FindRow(context.Background(), "x")
	require.Error(t, err)
	assert.Empty(t, id)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
}

func TestCreateAndUpdateRow(t *testing.T) {
	fake := &fakeBitable{}
	c := newTestClient(t, fake)
	ctx := context.Background()

	id, err := c.CreateRow(ctx, table.Fields{table.FieldSymbol: "BTCUSDT", table.FieldLeverage: 10})
	require.NoError(t, err)
	assert.Equal(t, "recNEW", id)
	assert.Equal(t, "BTCUSDT", fake.created[table.FieldSymbol])

	require.NoError(t, c.UpdateRow(ctx, "recNEW", table.Fields{table.FieldStatus: table.StatusProfit}))
	assert.Equal(t, table.StatusProfit, fake.updated["recNEW"][table.FieldStatus])

	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.tokenCalls), "token is cached")
}

func TestListAllRows_Paginates(t *testing.T) {
	fake := &fakeBitable{pages: []string{
		`{"code":0,"data":{"has_more":true,"page_token":"p2","items":[
			{"record_id":"r1","fields":{"positionId":"okx_BTC_long_1","入场价":100.5,"杠杆":10,"开仓时间":1}},
			{"record_id":"r0","fields":{"币种":"manual row"}}
		]}}`,
		`{"code":0,"data":{"has_more":false,"items":[
			{"record_id":"r2","fields":{"positionId":[{"text":"binance_ETHUSDT_short_HOLDING","type":"text"}],"入场价":"3000","杠杆":"5"}}
		]}}`,
	}}
	c := newTestClient(t, fake)

	rows, err := c.ListAllRows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	r1 := rows["okx_BTC_long_1"]
	assert.Equal(t, "r1", r1.RecordID)
	assert.Equal(t, 10, r1.Leverage)
	assert.Equal(t, "100.5", r1.EntryPrice.String())

	r2 := rows["binance_ETHUSDT_short_HOLDING"]
	assert.Equal(t, "r2", r2.RecordID)
	assert.Equal(t, 5, r2.Leverage)
	assert.Equal(t, "3000", r2.EntryPrice.String())
}

func TestAPIError_Classification(t *testing.T) {
	assert.True(t, errors.Is(&APIError{HTTPStatus: 429}, errors.ErrRateLimited))
	assert.True(t, errors.Is(&APIError{HTTPStatus: 200, Code: codeTokenInvalid}, errors.ErrUnauthorized))
	assert.True(t, errors.Is(&APIError{HTTPStatus: 400, Code: 1254001}, errors.ErrRemoteRejected))
}

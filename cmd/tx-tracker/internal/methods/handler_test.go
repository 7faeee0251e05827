package methods

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellar/go/support/log"

	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/daemon/interfaces"
	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/db"
	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/ethrpc"
	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/resolver"
)

type fakeResolver struct {
	store   db.TransactionReadWriter
	receipt json.RawMessage
	err     error
	closed  bool
}

func (f *fakeResolver) Resolve(ctx context.Context, id int64) (resolver.Outcome, error) {
	if f.closed {
		return resolver.Outcome{}, resolver.ErrResolverClosed
	}
	if _, err := f.store.GetByID(ctx, id); err != nil {
		return resolver.Outcome{}, err
	}
	if f.err != nil {
		msg := f.err.Error()
		if err := f.store.UpdateStatus(ctx, id, db.TransactionStatusFailed, db.StatusUpdate{Error: &msg}); err != nil {
			return resolver.Outcome{}, err
		}
		return resolver.Outcome{
			Status:  db.TransactionStatusFailed,
			Failure: &resolver.ResolutionError{Err: f.err},
		}, nil
	}
	receipt, err := ethrpc.ParseReceipt(f.receipt)
	if err != nil {
		return resolver.Outcome{}, err
	}
	status := db.TransactionStatusFailed
	if receipt.Successful() {
		status = db.TransactionStatusConfirmed
	}
	if err := f.store.UpdateStatus(ctx, id, status, db.StatusUpdate{Receipt: receipt.Raw}); err != nil {
		return resolver.Outcome{}, err
	}
	return resolver.Outcome{Status: status, Receipt: &receipt}, nil
}

type fakeHealth struct {
	err error
}

func (f fakeHealth) CheckHealth(context.Context) error {
	return f.err
}

type testServer struct {
	store    db.TransactionReadWriter
	resolver *fakeResolver
	handler  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	sqlite, err := db.OpenSQLiteDB(path.Join(t.TempDir(), "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, sqlite.Close())
	})
	logger := log.New()
	store := db.NewTransactionStore(logger, sqlite, interfaces.MakeNoOpDeamon())
	res := &fakeResolver{store: store, receipt: json.RawMessage(`{"status":"0x1"}`)}
	return &testServer{
		store:    store,
		resolver: res,
		handler: NewHandler(HandlerParams{
			Logger:            logger,
			TransactionReader: store,
			TransactionWriter: store,
			Resolver:          res,
			HealthChecker:     sqlite,
		}),
	}
}

func (s *testServer) do(t *testing.T, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

const exampleBody = `{"hash":" 0xabc ","account":"0x1","recipient":"0x2","rpcUrl":"http://node"}`

func TestCreateTransaction(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/transactions", exampleBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	tx := resp["transaction"]
	assert.EqualValues(t, 1, tx["id"])
	assert.Equal(t, "0xabc", tx["hash"])
	assert.Equal(t, "pending", tx["status"])
	assert.Nil(t, tx["receiptJson"])
	assert.Nil(t, tx["error"])
	assert.NotContains(t, tx, "rpcUrl")
	assert.Contains(t, tx, "createdAt")

	// resubmitting returns the original record
	rec = s.do(t, http.MethodPost, "/api/transactions",
		`{"hash":"0xabc","account":"0x9","recipient":"0x9","rpcUrl":"http://other"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[TransactionResponse](t, rec)
	assert.EqualValues(t, 1, again.Transaction.ID)
	assert.Equal(t, "0x1", again.Transaction.Account)
}

func TestCreateTransactionRejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/transactions", `{"hash":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errInvalidBody, decode[errorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/api/transactions", `{"hash":"0xabc","account":"  ","recipient":"0x2"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing required transaction fields: account, rpcUrl", decode[errorResponse](t, rec).Error)

	page, err := s.store.ListPage(context.Background(), db.NewPagination(1, 10))
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestListTransactions(t *testing.T) {
	s := newTestServer(t)
	for _, hash := range []string{"0x1", "0x2", "0x3"} {
		rec := s.do(t, http.MethodPost, "/api/transactions",
			`{"hash":"`+hash+`","account":"a","recipient":"b","rpcUrl":"http://node"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/api/transactions?page=1&pageSize=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ListTransactionsResponse](t, rec)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 2, resp.PageSize)
	assert.Equal(t, 3, resp.Total)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "0x3", resp.Items[0].Hash)
	assert.Equal(t, "0x2", resp.Items[1].Hash)

	for _, tc := range []struct {
		query            string
		page, pageSize   int
		expectedNumItems int
	}{
		{"", 1, 10, 3},
		{"?page=abc&pageSize=", 1, 10, 3},
		{"?page=-5&pageSize=0", 1, 1, 1},
		{"?page=2&pageSize=1000", 2, 50, 0},
		{"?page=3&pageSize=1", 3, 1, 1},
		{"?page=1000000000000000000", db.MaxPage, 10, 0},
		{"?page=9223372036854775807&pageSize=50", db.MaxPage, 50, 0},
		{"?page=99999999999999999999", db.MaxPage, 10, 0},
		{"?page=-99999999999999999999", 1, 10, 3},
	} {
		t.Run(tc.query, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/transactions"+tc.query, "")
			require.Equal(t, http.StatusOK, rec.Code)
			resp := decode[ListTransactionsResponse](t, rec)
			assert.Equal(t, tc.page, resp.Page)
			assert.Equal(t, tc.pageSize, resp.PageSize)
			assert.Equal(t, 3, resp.Total)
			assert.NotNil(t, resp.Items)
			assert.Len(t, resp.Items, tc.expectedNumItems)
		})
	}
}

func TestGetTransaction(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/transactions", exampleBody).Code)

	rec := s.do(t, http.MethodGet, "/api/transactions/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xabc", decode[TransactionResponse](t, rec).Transaction.Hash)

	rec = s.do(t, http.MethodGet, "/api/transactions/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errInvalidID, decode[errorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/api/transactions/2", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errNotFound, decode[errorResponse](t, rec).Error)
}

func TestResolveReceipt(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/transactions", exampleBody).Code)

	rec := s.do(t, http.MethodPost, "/api/transactions/1/receipt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"receipt":{"status":"0x1"},"status":"confirmed"}`, rec.Body.String())

	s.resolver.err = errors.New("connection refused")
	rec = s.do(t, http.MethodPost, "/api/transactions/1/receipt", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "connection refused", decode[errorResponse](t, rec).Error)

	stored, err := s.store.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, db.TransactionStatusFailed, stored.Status)
	require.NotNil(t, stored.ReceiptJSON)

	rec = s.do(t, http.MethodPost, "/api/transactions/x/receipt", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/transactions/7/receipt", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.resolver.closed = true
	rec = s.do(t, http.MethodPost, "/api/transactions/1/receipt", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, errShuttingDown, decode[errorResponse](t, rec).Error)
}

func TestListPage(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/transactions", exampleBody).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/transactions/1/receipt", "").Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/transactions",
		`{"hash":"0xdef","account":"0x1","recipient":"0x2","rpcUrl":"http://node"}`).Code)

	rec := s.do(t, http.MethodGet, "/transactions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "0xabc")
	assert.Contains(t, rec.Body.String(), "0xdef")
	assert.Contains(t, rec.Body.String(), "1 confirmed")

	rec = s.do(t, http.MethodGet, "/transactions?pageSize=1", "", "Accept", "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode[ListPageData](t, rec)
	assert.Equal(t, 2, data.Total)
	assert.Len(t, data.Items, 1)
	assert.Equal(t, db.Summary{Confirmed: 1, Pending: 1}, data.Summary)
	assert.Equal(t, data.Total, data.Summary.Total())
}

func TestDetailPage(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/transactions", exampleBody).Code)

	rec := s.do(t, http.MethodGet, "/transactions/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No receipt")

	rec = s.do(t, http.MethodGet, "/transactions/1", "", "Accept", "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[DetailPageData](t, rec).Receipt)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/transactions/1/receipt", "").Code)
	rec = s.do(t, http.MethodGet, "/transactions/1", "", "Accept", "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode[DetailPageData](t, rec)
	assert.Equal(t, map[string]any{"status": "0x1"}, data.Receipt)
	assert.Equal(t, db.TransactionStatusConfirmed, data.Transaction.Status)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/transactions/5", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/transactions/five", "").Code)
}

func TestParseStoredReceipt(t *testing.T) {
	receipt, err := parseStoredReceipt(nil)
	require.NoError(t, err)
	assert.Nil(t, receipt)

	empty := ""
	receipt, err = parseStoredReceipt(&empty)
	require.NoError(t, err)
	assert.Nil(t, receipt)

	garbage := "{"
	_, err = parseStoredReceipt(&garbage)
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	h := NewHandler(HandlerParams{
		Logger:        log.New(),
		HealthChecker: fakeHealth{err: errors.New("disk I/O error")},
	})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListPageData(t *testing.T) {
	assert.Equal(t, 1, ListPageData{PageSize: 10}.TotalPages())
	assert.Equal(t, 1, ListPageData{PageSize: 10, Total: 10}.TotalPages())
	assert.Equal(t, 2, ListPageData{PageSize: 10, Total: 11}.TotalPages())
}

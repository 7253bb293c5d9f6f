package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
	"github.com/odyssey-erp/odyssey-consol/internal/fixture"
	"github.com/odyssey-erp/odyssey-consol/internal/reconcile"
)

type testServer struct {
	router  chi.Router
	handler *Handler
	group   *fixture.Group
	reg     *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, nil)
}

// newTestServerWith lets a test wrap the financials the engine reads, while
// the handler keeps writing to the fixture's store.
func newTestServerWith(t *testing.T, wrap func(consol.FinancialsSource) consol.FinancialsSource) *testServer {
	t.Helper()
	f, err := fixture.LoadFile("../../fixture/testdata/group.yaml")
	require.NoError(t, err)
	g, err := f.Build(context.Background(), fixture.Options{})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var source consol.FinancialsSource = g.Financials
	if wrap != nil {
		source = wrap(source)
	}
	reg := prometheus.NewRegistry()
	h, err := NewHandler(Deps{
		Graph:      g.Graph,
		Ledger:     g.Ledger,
		Financials: g.Financials,
		Engine:     consol.NewEngine(g.Graph, g.Ledger, source, consol.Config{Workers: 2}),
		Reconciler: reconcile.New(g.Ledger, reconcile.Config{}),
		Reports:    reconcile.NewReportCache(client, time.Hour),
		Registerer: reg,
		Currency:   g.Currency,
		Now:        func() time.Time { return g.AsOf },
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	h.MountRoutes(r)
	return &testServer{router: r, handler: h, group: g, reg: reg}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type statementBody struct {
	RootID       string `json:"root_id"`
	PeriodStart  string `json:"period_start"`
	PeriodEnd    string `json:"period_end"`
	Cached       bool   `json:"cached"`
	Consolidated struct {
		Revenue          decimal.Decimal `json:"revenue"`
		EquityInEarnings decimal.Decimal `json:"equity_in_earnings"`
	} `json:"consolidated"`
}

func TestStatementEndpointConsolidatesGroup(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/consol/statements/M?as_of=2024-12-31", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body statementBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "M", body.RootID)
	require.Equal(t, "2024-01-01", body.PeriodStart)
	require.Equal(t, "2024-12-31", body.PeriodEnd)
	require.False(t, body.Cached)
	require.True(t, body.Consolidated.Revenue.Equal(decimal.NewFromInt(161500)), body.Consolidated.Revenue.String())
	require.True(t, body.Consolidated.EquityInEarnings.Equal(decimal.NewFromInt(10000)))

	rec = s.do(t, http.MethodGet, "/consol/statements/M?as_of=2024-12-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Cached)
	require.Equal(t, 1.0, testutil.ToFloat64(s.handler.metrics.hits.WithLabelValues("statement", "M")))
}

func TestMutationBustsStatementCache(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/consol/statements/M", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/consol/transactions", `{"date":"2024-09-30","from_entity":"S1","to_entity":"M","category":"MANAGEMENT_FEE","amount":"1500","post":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/consol/statements/M", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body statementBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Cached)
	require.True(t, body.Consolidated.Revenue.Equal(decimal.NewFromInt(160000)), body.Consolidated.Revenue.String())
}

// gatedFinancials parks the first lookup of one entity until released.
type gatedFinancials struct {
	consol.FinancialsSource
	entity  string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedFinancials) Lookup(entityID string, asOf time.Time) (consol.Financials, bool) {
	if entityID == g.entity {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	return g.FinancialsSource.Lookup(entityID, asOf)
}

func TestChangeDuringBuildIsNotCached(t *testing.T) {
	gate := &gatedFinancials{entity: "M", entered: make(chan struct{}), release: make(chan struct{})}
	s := newTestServerWith(t, func(src consol.FinancialsSource) consol.FinancialsSource {
		gate.FinancialsSource = src
		return gate
	})

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- s.do(t, http.MethodGet, "/consol/statements/M", "")
	}()
	<-gate.entered

	rec := s.do(t, http.MethodPut, "/consol/financials/S1", `{"as_of":"2024-12-31","assets":"150000","liabilities":"50000","revenue":"90000","expense":"30000","net_income":"60000"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	close(gate.release)

	var body statementBody
	rec = <-done
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Consolidated.Revenue.Equal(decimal.NewFromInt(161500)), body.Consolidated.Revenue.String())

	rec = s.do(t, http.MethodGet, "/consol/statements/M", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Cached)
	require.True(t, body.Consolidated.Revenue.Equal(decimal.NewFromInt(171500)), body.Consolidated.Revenue.String())

	rec = s.do(t, http.MethodGet, "/consol/statements/M", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Cached)
	require.True(t, body.Consolidated.Revenue.Equal(decimal.NewFromInt(171500)))
}

func TestStatementCacheDropsStaleGeneration(t *testing.T) {
	c := newStatementCache(time.Minute)
	gen := c.Generation()
	c.Bust()

	require.False(t, c.Set("k", gen, consol.Statement{RootID: "M"}))
	_, ok := c.Get("k")
	require.False(t, ok)

	require.True(t, c.Set("k", c.Generation(), consol.Statement{RootID: "M"}))
	st, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "M", st.RootID)
}

func TestStatementUnknownRoot(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/consol/statements/NOPE", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
}

func TestStatementRejectsBadDate(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/consol/statements/M?as_of=31-12-2024", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/consol/statements/M?as_of=2024-03-01&period_start=2024-06-01", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEliminationsEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/consol/statements/M/eliminations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Management Fee Income")
}

func TestExportCSV(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/consol/statements/M/export.csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "consolidated-M-2024-12-31.csv")
	require.Contains(t, rec.Body.String(), "# Consolidated statement")
}

func TestExportXLSX(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/consol/statements/M/export.xlsx", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	require.True(t, strings.HasPrefix(rec.Body.String(), "PK"))
}

func TestEntityLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/consol/entities", `{"id":"S3","name":"Slate Fund","type":"FUND","parent_id":"S1","ownership":"60","method":"FULL"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view entityView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.True(t, view.EffectiveOwnership.Equal(decimal.NewFromInt(60)), view.EffectiveOwnership.String())

	rec = s.do(t, http.MethodPost, "/consol/entities", `{"id":"S3","name":"Again","type":"FUND","parent_id":"S1","ownership":"60","method":"FULL"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPut, "/consol/entities/S3/parent", `{"parent_id":"S2"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "S2", view.ParentID)
	require.True(t, view.EffectiveOwnership.Equal(decimal.NewFromInt(30)), view.EffectiveOwnership.String())

	rec = s.do(t, http.MethodPut, "/consol/entities/S2/parent", `{"parent_id":"S3"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodDelete, "/consol/entities/S3", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/consol/entities/S3", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/consol/entities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []entityView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 3)
}

func TestAddEntityValidation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/consol/entities", `{"id":"X","name":"X","type":"SPACESHIP"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/consol/entities", `{"id":"X","name":"X","type":"FUND","unexpected":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutFinancials(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/consol/financials/S1", `{"as_of":"2024-12-31","assets":"150000","liabilities":"50000","revenue":"90000","expense":"30000","net_income":"60000"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f, ok := s.group.Financials.Lookup("S1", s.group.AsOf)
	require.True(t, ok)
	require.True(t, f.Revenue.Equal(decimal.NewFromInt(90000)))

	rec = s.do(t, http.MethodPut, "/consol/financials/NOPE", `{"as_of":"2024-12-31"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransactionLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/consol/transactions", `{"date":"2024-10-01","from_entity":"S1","to_entity":"S2","category":"LOAN_INTEREST","amount":"300"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tx transactionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tx))
	require.Equal(t, "PENDING", string(tx.Status))

	rec = s.do(t, http.MethodPost, "/consol/transactions/"+tx.ID+"/reverse", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/consol/transactions/"+tx.ID+"/post", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/consol/transactions/"+tx.ID+"/post", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/consol/transactions/"+tx.ID+"/reverse", `{"date":"2024-11-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var rev transactionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rev))
	require.Equal(t, tx.ID, rev.ReversalOf)
	require.Equal(t, "2024-11-01", rev.Date)

	rec = s.do(t, http.MethodPost, "/consol/transactions/"+tx.ID+"/reverse", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/consol/transactions/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/consol/transactions?entity=S2&posted=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []transactionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	for _, item := range list {
		require.Equal(t, "POSTED", string(item.Status))
		require.True(t, item.From == "S2" || item.To == "S2")
	}
}

func TestRecordRejectsInvalidTransaction(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/consol/transactions", `{"date":"2024-10-01","from_entity":"S1","to_entity":"S1","category":"OTHER","amount":"10"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPost, "/consol/transactions", `{"date":"tomorrow","from_entity":"S1","to_entity":"M","category":"OTHER","amount":"10"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPairBalance(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/consol/balances/S1/M?as_of=2024-12-31", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var b balanceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	require.True(t, b.Net.Equal(decimal.NewFromInt(18500)), b.Net.String())

	rec = s.do(t, http.MethodGet, "/consol/balances", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReconcileEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/consol/reconciliations", `{"as_of":"2024-12-31","balances":[{"entity_a":"S1","entity_b":"M","net":"18000"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp reconcileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Outstanding)
	require.Len(t, resp.Findings, 1)
	require.True(t, resp.Findings[0].Delta.Abs().Equal(decimal.NewFromInt(500)))

	rec = s.do(t, http.MethodGet, "/consol/reconciliations?as_of=2024-12-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Outstanding)
}

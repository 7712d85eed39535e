package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matryer/is"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/glazeworks/donutex/pkg/donut"
	"github.com/glazeworks/donutex/pkg/engine"
	"github.com/glazeworks/donutex/pkg/events"
	"github.com/glazeworks/donutex/pkg/ledger"
	"github.com/glazeworks/donutex/pkg/store"
)

func newServer(t *testing.T) (*Server, *ledger.Ledger) {
	t.Helper()
	is := is.New(t)

	st := store.NewMemStore()
	is.NoErr(st.InsertProduct(donut.DonutType{ID: "glazed", Name: "Glazed"}))
	is.NoErr(st.InsertOutlet(donut.Outlet{
		ID:      "supplier-factory",
		Name:    "Donut Factory",
		Balance: decimal.RequireFromString("10000"),
		IsOpen:  true,
	}))
	is.NoErr(st.InsertOutlet(donut.Outlet{
		ID:            "outlet-1",
		Name:          "Test Donuts",
		Balance:       decimal.RequireFromString("10000"),
		MarginPercent: decimal.RequireFromString("25"),
		IsOpen:        true,
	}))

	log := zerolog.Nop()
	bc := events.New(16, log)
	t.Cleanup(bc.Close)

	led, err := ledger.New(st, bc, ledger.Params{
		BasePrice:        decimal.RequireFromString("2.0"),
		InitialBalance:   decimal.RequireFromString("10000"),
		SupplierOutletID: "supplier-factory",
	}, log)
	is.NoErr(err)
	eng, err := engine.New(st, led, bc, log)
	is.NoErr(err)

	return New(eng, led, bc, st, log), led
}

func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.srv.ServeHTTP(rec, req)
	return rec
}

func TestGetOutletsHidesSupplier(t *testing.T) {
	is := is.New(t)
	s, _ := newServer(t)

	rec := do(s, http.MethodGet, "/outlets", "")
	is.Equal(rec.Code, http.StatusOK)

	var outlets []donut.Outlet
	is.NoErr(json.Unmarshal(rec.Body.Bytes(), &outlets))
	is.Equal(len(outlets), 1)
	is.Equal(outlets[0].ID, "outlet-1")
}

func TestSubmitAndFetchOrder(t *testing.T) {
	is := is.New(t)
	s, _ := newServer(t)

	rec := do(s, http.MethodPost, "/orders",
		`{"outletId":"supplier-factory","productId":"glazed","side":"SELL","quantity":10,"price":"2.50"}`)
	is.Equal(rec.Code, http.StatusCreated)

	var order donut.Order
	is.NoErr(json.Unmarshal(rec.Body.Bytes(), &order))
	is.Equal(order.Status, donut.StatusActive)

	rec = do(s, http.MethodGet, "/orders/"+order.ID, "")
	is.Equal(rec.Code, http.StatusOK)

	rec = do(s, http.MethodGet, "/orders/ord-999", "")
	is.Equal(rec.Code, http.StatusNotFound)
}

func TestSubmitOrderValidationStatus(t *testing.T) {
	is := is.New(t)
	s, _ := newServer(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"zero quantity", `{"outletId":"outlet-1","productId":"glazed","side":"BUY","quantity":0,"price":"2.00"}`, http.StatusBadRequest},
		{"unknown outlet", `{"outletId":"nobody","productId":"glazed","side":"BUY","quantity":1,"price":"2.00"}`, http.StatusNotFound},
		{"unknown product", `{"outletId":"outlet-1","productId":"cronut","side":"BUY","quantity":1,"price":"2.00"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			is := is.New(t)
			rec := do(s, http.MethodPost, "/orders", tc.body)
			is.Equal(rec.Code, tc.want)
		})
	}
}

func TestBookSnapshotEndpoint(t *testing.T) {
	is := is.New(t)
	s, _ := newServer(t)

	rec := do(s, http.MethodPost, "/orders",
		`{"outletId":"supplier-factory","productId":"glazed","side":"SELL","quantity":5,"price":"2.00"}`)
	is.Equal(rec.Code, http.StatusCreated)

	rec = do(s, http.MethodGet, "/book/glazed", "")
	is.Equal(rec.Code, http.StatusOK)
	var snap donut.OrderBookSnapshot
	is.NoErr(json.Unmarshal(rec.Body.Bytes(), &snap))
	is.Equal(len(snap.Asks), 1)

	rec = do(s, http.MethodGet, "/book/cronut", "")
	is.Equal(rec.Code, http.StatusNotFound)
}

func TestSetMarginAndStats(t *testing.T) {
	is := is.New(t)
	s, led := newServer(t)

	rec := do(s, http.MethodPost, "/outlets/outlet-1/margin", `{"marginPercent":"40"}`)
	is.Equal(rec.Code, http.StatusNoContent)

	o, err := led.Outlet("outlet-1")
	is.NoErr(err)
	is.True(o.MarginPercent.Equal(decimal.RequireFromString("40")))

	rec = do(s, http.MethodGet, "/outlets/outlet-1/stats", "")
	is.Equal(rec.Code, http.StatusOK)
	var stats donut.SalesStats
	is.NoErr(json.Unmarshal(rec.Body.Bytes(), &stats))
	is.Equal(stats.OutletID, "outlet-1")

	rec = do(s, http.MethodGet, "/outlets/nobody/stats", "")
	is.Equal(rec.Code, http.StatusNotFound)
}

func TestOpenCloseEndpoints(t *testing.T) {
	is := is.New(t)
	s, led := newServer(t)

	rec := do(s, http.MethodPost, "/outlets/outlet-1/open", `{"isOpen":false}`)
	is.Equal(rec.Code, http.StatusNoContent)
	o, err := led.Outlet("outlet-1")
	is.NoErr(err)
	is.True(!o.IsOpen)

	// Orders from a closed outlet are rejected.
	rec = do(s, http.MethodPost, "/orders",
		`{"outletId":"outlet-1","productId":"glazed","side":"BUY","quantity":1,"price":"2.00"}`)
	is.Equal(rec.Code, http.StatusBadRequest)

	rec = do(s, http.MethodPost, "/outlets/open", `{"isOpen":true}`)
	is.Equal(rec.Code, http.StatusNoContent)
	o, err = led.Outlet("outlet-1")
	is.NoErr(err)
	is.True(o.IsOpen)
}

func TestLeaderboardEndpoint(t *testing.T) {
	is := is.New(t)
	s, _ := newServer(t)

	rec := do(s, http.MethodGet, "/leaderboard", "")
	is.Equal(rec.Code, http.StatusOK)
	var board []donut.SalesStats
	is.NoErr(json.Unmarshal(rec.Body.Bytes(), &board))
	is.Equal(len(board), 1) // supplier excluded
	is.Equal(board[0].OutletID, "outlet-1")
}

func TestTransactionsEndpoint(t *testing.T) {
	is := is.New(t)
	s, _ := newServer(t)

	rec := do(s, http.MethodGet, "/transactions", "")
	is.Equal(rec.Code, http.StatusOK)
	var txs []donut.Transaction
	is.NoErr(json.Unmarshal(rec.Body.Bytes(), &txs))
	is.Equal(len(txs), 0)

	rec = do(s, http.MethodGet, "/transactions?limit=bogus", "")
	is.Equal(rec.Code, http.StatusBadRequest)
}

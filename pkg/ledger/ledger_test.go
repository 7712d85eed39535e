package ledger

import (
	"errors"
	"testing"

	"github.com/matryer/is"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/glazeworks/donutex/pkg/donut"
	"github.com/glazeworks/donutex/pkg/events"
	"github.com/glazeworks/donutex/pkg/store"
)

func newLedger(t *testing.T, outlets ...donut.Outlet) (*Ledger, *store.MemStore) {
	t.Helper()
	is := is.New(t)

	st := store.NewMemStore()
	for _, o := range outlets {
		is.NoErr(st.InsertOutlet(o))
	}

	log := zerolog.Nop()
	bc := events.New(16, log)
	t.Cleanup(bc.Close)

	l, err := New(st, bc, Params{
		BasePrice:        decimal.RequireFromString("2.0"),
		InitialBalance:   decimal.RequireFromString("10000"),
		SupplierOutletID: "supplier-factory",
	}, log)
	is.NoErr(err)
	return l, st
}

func outlet(id, balance, margin string, open bool) donut.Outlet {
	return donut.Outlet{
		ID:            id,
		Name:          id,
		Balance:       decimal.RequireFromString(balance),
		MarginPercent: decimal.RequireFromString(margin),
		IsOpen:        open,
	}
}

func TestSettleFillMovesCashAndCreditsBuyer(t *testing.T) {
	is := is.New(t)
	l, st := newLedger(t,
		outlet("buyer", "100", "25", true),
		outlet("seller", "100", "25", true),
	)

	buy := &donut.Order{ID: "b1", OutletID: "buyer", ProductID: "glazed", Side: donut.Buy}
	sell := &donut.Order{ID: "s1", OutletID: "seller", ProductID: "glazed", Side: donut.Sell}

	tx, err := l.SettleFill(buy, sell, 4, decimal.RequireFromString("3.00"))
	is.NoErr(err)
	is.True(tx.TotalAmount.Equal(decimal.RequireFromString("12.00")))

	b, err := l.Outlet("buyer")
	is.NoErr(err)
	is.True(b.Balance.Equal(decimal.RequireFromString("88.00")))
	s, err := l.Outlet("seller")
	is.NoErr(err)
	is.True(s.Balance.Equal(decimal.RequireFromString("112.00")))

	// Only the buyer's inventory moves: exchange sells are forward
	// commitments, not drawn from the seller's stock.
	is.Equal(l.Inventory("buyer", "glazed"), int64(4))
	is.Equal(l.Inventory("seller", "glazed"), int64(0))

	// Written through to the store.
	persisted, err := st.FindOutlet("buyer")
	is.NoErr(err)
	is.True(persisted.Balance.Equal(decimal.RequireFromString("88.00")))
	txs, err := st.FindRecentTransactions(10)
	is.NoErr(err)
	is.Equal(len(txs), 1)
}

func TestSettleFillInsufficientBalanceChangesNothing(t *testing.T) {
	is := is.New(t)
	l, _ := newLedger(t,
		outlet("buyer", "5.00", "25", true),
		outlet("seller", "100", "25", true),
	)

	buy := &donut.Order{ID: "b1", OutletID: "buyer", ProductID: "glazed", Side: donut.Buy}
	sell := &donut.Order{ID: "s1", OutletID: "seller", ProductID: "glazed", Side: donut.Sell}

	_, err := l.SettleFill(buy, sell, 1, decimal.RequireFromString("10.00"))
	is.True(errors.Is(err, donut.ErrInsufficientBalance))

	b, err := l.Outlet("buyer")
	is.NoErr(err)
	is.True(b.Balance.Equal(decimal.RequireFromString("5.00")))
	s, err := l.Outlet("seller")
	is.NoErr(err)
	is.True(s.Balance.Equal(decimal.RequireFromString("100")))
	is.Equal(l.Inventory("buyer", "glazed"), int64(0))
}

func TestSellToCustomerMarginMath(t *testing.T) {
	is := is.New(t)
	l, _ := newLedger(t, outlet("shop", "100", "25", true))
	is.NoErr(l.SetInventory("shop", "glazed", 10))

	sale, err := l.SellToCustomer("shop", "glazed", 4)
	is.NoErr(err)

	// Cost basis is the configured base price, not what the outlet paid.
	is.True(sale.CostBasis.Equal(decimal.RequireFromString("8.00")))
	is.True(sale.Revenue.Equal(decimal.RequireFromString("10.00")))
	is.True(sale.Profit.Equal(decimal.RequireFromString("2.00")))

	is.Equal(l.Inventory("shop", "glazed"), int64(6))
	o, err := l.Outlet("shop")
	is.NoErr(err)
	is.True(o.Balance.Equal(decimal.RequireFromString("110.00")))
}

func TestSellToCustomerGuards(t *testing.T) {
	is := is.New(t)
	l, _ := newLedger(t,
		outlet("shop", "100", "25", true),
		outlet("shut", "100", "25", false),
	)
	is.NoErr(l.SetInventory("shop", "glazed", 2))
	is.NoErr(l.SetInventory("shut", "glazed", 10))

	_, err := l.SellToCustomer("shop", "glazed", 3)
	is.True(errors.Is(err, donut.ErrInsufficientInventory))
	is.Equal(l.Inventory("shop", "glazed"), int64(2))

	_, err = l.SellToCustomer("shut", "glazed", 1)
	is.True(errors.Is(err, donut.ErrOutletClosed))

	_, err = l.SellToCustomer("shop", "glazed", 0)
	is.True(errors.Is(err, donut.ErrBadQuantity))

	_, err = l.SellToCustomer("nobody", "glazed", 1)
	is.True(errors.Is(err, donut.ErrUnknownOutlet))
}

func TestInventoryNeverGoesNegative(t *testing.T) {
	is := is.New(t)
	l, _ := newLedger(t, outlet("shop", "100", "25", true))

	is.NoErr(l.AddInventory("shop", "glazed", 5))
	err := l.RemoveInventory("shop", "glazed", 6)
	is.True(errors.Is(err, donut.ErrInsufficientInventory))
	is.Equal(l.Inventory("shop", "glazed"), int64(5))

	is.NoErr(l.RemoveInventory("shop", "glazed", 5))
	is.Equal(l.Inventory("shop", "glazed"), int64(0))

	err = l.SetInventory("shop", "glazed", -1)
	is.True(errors.Is(err, donut.ErrBadQuantity))
}

func TestRetailOutletsExcludeSupplier(t *testing.T) {
	is := is.New(t)
	l, _ := newLedger(t,
		outlet("supplier-factory", "0", "0", true),
		outlet("outlet-1", "10000", "25", true),
		outlet("outlet-2", "10000", "25", true),
	)

	retail := l.RetailOutlets()
	is.Equal(len(retail), 2)
	for _, o := range retail {
		is.True(o.ID != "supplier-factory")
	}
	is.Equal(len(l.Outlets()), 3) // Outlets keeps the sentinel
}

func TestLeaderboardOrdersByNetProfit(t *testing.T) {
	is := is.New(t)
	l, _ := newLedger(t,
		outlet("supplier-factory", "999999", "0", true),
		outlet("ahead", "10500", "25", true),
		outlet("behind", "9800", "25", true),
		outlet("even", "10000", "25", true),
	)

	board := l.Leaderboard()
	is.Equal(len(board), 3) // the supplier never places
	is.Equal(board[0].OutletID, "ahead")
	is.Equal(board[1].OutletID, "even")
	is.Equal(board[2].OutletID, "behind")
	is.True(board[0].NetProfit.Equal(decimal.RequireFromString("500")))
	is.True(board[2].NetProfit.Equal(decimal.RequireFromString("-200")))
}

func TestStatsAggregateSales(t *testing.T) {
	is := is.New(t)
	l, _ := newLedger(t,
		outlet("shop", "10000", "50", true),
		outlet("buyer", "10000", "25", true),
	)
	is.NoErr(l.SetInventory("shop", "glazed", 10))

	_, err := l.SellToCustomer("shop", "glazed", 2) // revenue 6.00
	is.NoErr(err)
	_, err = l.SellToCustomer("shop", "glazed", 1) // revenue 3.00
	is.NoErr(err)

	buy := &donut.Order{ID: "b1", OutletID: "buyer", ProductID: "glazed", Side: donut.Buy}
	sell := &donut.Order{ID: "s1", OutletID: "shop", ProductID: "glazed", Side: donut.Sell}
	_, err = l.SettleFill(buy, sell, 4, decimal.RequireFromString("2.50"))
	is.NoErr(err)

	stats, err := l.Stats("shop")
	is.NoErr(err)
	is.Equal(stats.CustomerSalesCount, int64(2))
	is.True(stats.CustomerSalesRevenue.Equal(decimal.RequireFromString("9.00")))
	is.Equal(stats.ExchangeSalesCount, int64(1))
	is.True(stats.ExchangeSalesRevenue.Equal(decimal.RequireFromString("10.00")))
	is.True(stats.NetProfit.Equal(decimal.RequireFromString("19.00")))
}

func TestRehydrationRestoresStateFromStore(t *testing.T) {
	is := is.New(t)
	l, st := newLedger(t, outlet("shop", "10000", "25", true))
	is.NoErr(l.SetInventory("shop", "glazed", 10))
	_, err := l.SellToCustomer("shop", "glazed", 4)
	is.NoErr(err)

	log := zerolog.Nop()
	bc := events.New(16, log)
	t.Cleanup(bc.Close)
	l2, err := New(st, bc, Params{
		BasePrice:        decimal.RequireFromString("2.0"),
		InitialBalance:   decimal.RequireFromString("10000"),
		SupplierOutletID: "supplier-factory",
	}, log)
	is.NoErr(err)

	is.Equal(l2.Inventory("shop", "glazed"), int64(6))
	o, err := l2.Outlet("shop")
	is.NoErr(err)
	is.True(o.Balance.Equal(decimal.RequireFromString("10010.00")))
	stats, err := l2.Stats("shop")
	is.NoErr(err)
	is.Equal(stats.CustomerSalesCount, int64(1))
	is.True(stats.CustomerSalesRevenue.Equal(decimal.RequireFromString("10.00")))
}

func TestSetMarginRejectsNegative(t *testing.T) {
	is := is.New(t)
	l, _ := newLedger(t, outlet("shop", "10000", "25", true))

	err := l.SetMargin("shop", decimal.RequireFromString("-5"))
	is.True(errors.Is(err, donut.ErrBadPrice))

	is.NoErr(l.SetMargin("shop", decimal.RequireFromString("40")))
	o, err := l.Outlet("shop")
	is.NoErr(err)
	is.True(o.MarginPercent.Equal(decimal.RequireFromString("40")))
}

func TestSetAllOpen(t *testing.T) {
	is := is.New(t)
	l, _ := newLedger(t,
		outlet("a", "10000", "25", true),
		outlet("b", "10000", "25", false),
	)

	is.NoErr(l.SetAllOpen(false))
	for _, o := range l.Outlets() {
		is.True(!o.IsOpen)
	}
	is.NoErr(l.SetAllOpen(true))
	for _, o := range l.Outlets() {
		is.True(o.IsOpen)
	}
}

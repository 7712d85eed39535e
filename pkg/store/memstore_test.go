package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/matryer/is"
	"github.com/shopspring/decimal"

	"github.com/glazeworks/donutex/pkg/donut"
)

func TestOrderBookFiltersTerminal(t *testing.T) {
	is := is.New(t)
	m := NewMemStore()

	mk := func(id string, seq uint64, status donut.OrderStatus) donut.Order {
		return donut.Order{
			ID:           id,
			ProductID:    "glazed",
			Side:         donut.Sell,
			Quantity:     5,
			PricePerUnit: decimal.RequireFromString("2.00"),
			Status:       status,
			Seq:          seq,
		}
	}
	is.NoErr(m.InsertOrder(mk("o1", 1, donut.StatusActive)))
	is.NoErr(m.InsertOrder(mk("o2", 2, donut.StatusFilled)))
	is.NoErr(m.InsertOrder(mk("o3", 3, donut.StatusCancelled)))
	is.NoErr(m.InsertOrder(mk("o4", 4, donut.StatusPartiallyFilled)))
	other := mk("o5", 5, donut.StatusActive)
	other.ProductID = "jelly"
	is.NoErr(m.InsertOrder(other))

	live, err := m.OrderBook("glazed", false)
	is.NoErr(err)
	is.Equal(len(live), 2)
	is.Equal(live[0].ID, "o1") // seq order
	is.Equal(live[1].ID, "o4")

	all, err := m.OrderBook("glazed", true)
	is.NoErr(err)
	is.Equal(len(all), 4)
}

func TestOrderUpdates(t *testing.T) {
	is := is.New(t)
	m := NewMemStore()
	is.NoErr(m.InsertOrder(donut.Order{ID: "o1", ProductID: "glazed", Quantity: 10, Status: donut.StatusActive}))

	is.NoErr(m.UpdateOrderQuantity("o1", 4))
	is.NoErr(m.UpdateOrderStatus("o1", donut.StatusPartiallyFilled))

	o, err := m.FindOrderByID("o1")
	is.NoErr(err)
	is.Equal(o.Filled, int64(4))
	is.Equal(o.Quantity, int64(10)) // original size is immutable
	is.Equal(o.Status, donut.StatusPartiallyFilled)

	err = m.UpdateOrderStatus("missing", donut.StatusFilled)
	is.True(errors.Is(err, donut.ErrUnknownOrder))
}

func TestRecentTransactionsNewestFirst(t *testing.T) {
	is := is.New(t)
	m := NewMemStore()

	for i := 1; i <= 5; i++ {
		pid := "glazed"
		if i%2 == 0 {
			pid = "jelly"
		}
		is.NoErr(m.InsertTransaction(donut.Transaction{
			ID:          fmt.Sprintf("t%d", i),
			ProductID:   pid,
			TotalAmount: decimal.RequireFromString("1.00"),
		}))
	}

	recent, err := m.FindRecentTransactions(3)
	is.NoErr(err)
	is.Equal(len(recent), 3)
	is.Equal(recent[0].ID, "t5")
	is.Equal(recent[2].ID, "t3")

	glazed, err := m.FindTransactionsByProduct("glazed", 10)
	is.NoErr(err)
	is.Equal(len(glazed), 3)
	is.Equal(glazed[0].ID, "t5")
}

func TestExchangeAggregates(t *testing.T) {
	is := is.New(t)
	m := NewMemStore()

	is.NoErr(m.InsertTransaction(donut.Transaction{ID: "t1", SellerOutletID: "a", TotalAmount: decimal.RequireFromString("10.00")}))
	is.NoErr(m.InsertTransaction(donut.Transaction{ID: "t2", SellerOutletID: "a", TotalAmount: decimal.RequireFromString("2.50")}))
	is.NoErr(m.InsertTransaction(donut.Transaction{ID: "t3", SellerOutletID: "b", TotalAmount: decimal.RequireFromString("1.00")}))

	aggs, err := m.AggregateExchangeSalesBySeller()
	is.NoErr(err)
	is.Equal(len(aggs), 2)
	is.Equal(aggs[0].OutletID, "a")
	is.True(aggs[0].Revenue.Equal(decimal.RequireFromString("12.50")))
	is.Equal(aggs[0].Count, int64(2))
	is.Equal(aggs[1].OutletID, "b")
	is.Equal(aggs[1].Count, int64(1))
}

func TestCustomerSaleAggregates(t *testing.T) {
	is := is.New(t)
	m := NewMemStore()

	is.NoErr(m.InsertCustomerSale(donut.CustomerSale{ID: "s1", OutletID: "a", Revenue: decimal.RequireFromString("10.00")}))
	is.NoErr(m.InsertCustomerSale(donut.CustomerSale{ID: "s2", OutletID: "a", Revenue: decimal.RequireFromString("5.00")}))

	aggs, err := m.AggregateCustomerSalesByOutlet()
	is.NoErr(err)
	is.Equal(len(aggs), 1)
	is.True(aggs[0].Revenue.Equal(decimal.RequireFromString("15.00")))
	is.Equal(aggs[0].Count, int64(2))
}

func TestInventoryRoundTrip(t *testing.T) {
	is := is.New(t)
	m := NewMemStore()

	is.NoErr(m.SetInventory("a", "glazed", 7))
	is.NoErr(m.SetInventory("a", "jelly", 3))
	is.NoErr(m.SetInventory("a", "glazed", 5)) // overwrite, not accumulate

	cells, err := m.LoadAllInventory()
	is.NoErr(err)
	is.Equal(len(cells), 2)
	byProduct := map[string]int64{}
	for _, c := range cells {
		byProduct[c.ProductID] = c.Quantity
	}
	is.Equal(byProduct["glazed"], int64(5))
	is.Equal(byProduct["jelly"], int64(3))
}

func TestBootstrapSeedsOnceOnly(t *testing.T) {
	is := is.New(t)
	m := NewMemStore()
	p := BootstrapParams{
		SupplierOutletID: "supplier-factory",
		OutletCount:      4,
		InitialBalance:   decimal.RequireFromString("10000"),
		DefaultMargin:    decimal.RequireFromString("25"),
	}

	is.NoErr(Bootstrap(m, p))

	products, err := m.FindAllProducts()
	is.NoErr(err)
	is.Equal(len(products), len(catalogue))

	outlets, err := m.FindAllOutlets()
	is.NoErr(err)
	is.Equal(len(outlets), 5) // supplier plus four retail outlets

	supplier, err := m.FindOutlet("supplier-factory")
	is.NoErr(err)
	is.True(supplier.IsOpen)
	is.True(supplier.MarginPercent.IsZero())

	// Second boot over a populated store changes nothing.
	is.NoErr(Bootstrap(m, p))
	outlets, err = m.FindAllOutlets()
	is.NoErr(err)
	is.Equal(len(outlets), 5)
}

func TestOutletMutators(t *testing.T) {
	is := is.New(t)
	m := NewMemStore()
	is.NoErr(m.InsertOutlet(donut.Outlet{ID: "a", Balance: decimal.RequireFromString("100"), IsOpen: true}))
	is.NoErr(m.InsertOutlet(donut.Outlet{ID: "b", Balance: decimal.RequireFromString("100"), IsOpen: true}))

	is.NoErr(m.UpdateBalance("a", decimal.RequireFromString("250.50")))
	is.NoErr(m.UpdateMargin("a", decimal.RequireFromString("30")))
	is.NoErr(m.SetAllOpen(false))

	a, err := m.FindOutlet("a")
	is.NoErr(err)
	is.True(a.Balance.Equal(decimal.RequireFromString("250.50")))
	is.True(a.MarginPercent.Equal(decimal.RequireFromString("30")))
	is.True(!a.IsOpen)

	b, err := m.FindOutlet("b")
	is.NoErr(err)
	is.True(!b.IsOpen)

	err = m.UpdateBalance("missing", decimal.Zero)
	is.True(errors.Is(err, donut.ErrUnknownOutlet))
}

// Package store defines the persistence boundary the exchange engine
// consumes, with an in-memory implementation for tests and development and
// a Postgres implementation for durable runs.
package store

import (
	"github.com/shopspring/decimal"

	"github.com/glazeworks/donutex/pkg/donut"
)

// TimeFormat is how every datetime is serialised at the store boundary:
// ISO-8601 local with no timezone suffix.
const TimeFormat = "2006-01-02T15:04:05"

// CustomerSalesAgg is the per-outlet rollup of persisted customer sales,
// used to rehydrate ledger stats at boot.
type CustomerSalesAgg struct {
	OutletID string          `db:"outlet_id"`
	Revenue  decimal.Decimal `db:"revenue"`
	Count    int64           `db:"count"`
}

// ExchangeSalesAgg is the per-seller rollup of persisted transactions.
type ExchangeSalesAgg struct {
	OutletID string          `db:"outlet_id"`
	Revenue  decimal.Decimal `db:"revenue"`
	Count    int64           `db:"count"`
}

// Store is the narrow persistence interface the engine depends on.
// Implementations must be safe for concurrent use.
type Store interface {
	// Inventory.
	LoadAllInventory() ([]donut.InventoryCell, error)
	SetInventory(outletID, productID string, qty int64) error

	// Outlets.
	InsertOutlet(o donut.Outlet) error
	FindOutlet(id string) (donut.Outlet, error)
	FindAllOutlets() ([]donut.Outlet, error)
	UpdateBalance(outletID string, balance decimal.Decimal) error
	UpdateMargin(outletID string, margin decimal.Decimal) error
	SetOpen(outletID string, open bool) error
	SetAllOpen(open bool) error

	// Catalogue.
	InsertProduct(p donut.DonutType) error
	FindAllProducts() ([]donut.DonutType, error)

	// Orders.
	InsertOrder(o donut.Order) error
	FindOrderByID(id string) (donut.Order, error)
	UpdateOrderStatus(id string, status donut.OrderStatus) error
	UpdateOrderQuantity(id string, filled int64) error
	OrderBook(productID string, includeTerminal bool) ([]donut.Order, error)

	// Transactions.
	InsertTransaction(t donut.Transaction) error
	FindTransactionsByProduct(productID string, limit int) ([]donut.Transaction, error)
	FindRecentTransactions(limit int) ([]donut.Transaction, error)
	AggregateExchangeSalesBySeller() ([]ExchangeSalesAgg, error)

	// Customer sales.
	InsertCustomerSale(s donut.CustomerSale) error
	AggregateCustomerSalesByOutlet() ([]CustomerSalesAgg, error)
}

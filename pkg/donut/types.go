// Package donut holds the domain types shared by the exchange: outlets,
// donut products, orders, fills, and customer sales.
package donut

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side marks an order as buying or selling.
type Side string

const (
	// Buy marks an order as a buy side order.
	Buy Side = "BUY"
	// Sell marks an order as a sell side order.
	Sell Side = "SELL"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusActive          OrderStatus = "ACTIVE"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
)

// Terminal reports whether the status is final. A terminal order never
// returns to the book.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// Outlet is a participant on the exchange with a cash balance and inventory.
type Outlet struct {
	ID            string          `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Location      string          `json:"location" db:"location"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	MarginPercent decimal.Decimal `json:"marginPercent" db:"margin_percent"`
	IsOpen        bool            `json:"isOpen" db:"is_open"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
}

// DonutType is a tradeable product from the static catalogue.
type DonutType struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
}

// Order is a limit order resting in or passing through the book.
// Quantity is the original size; Filled accumulates toward it.
type Order struct {
	ID           string          `json:"id" db:"id"`
	Side         Side            `json:"side" db:"side"`
	ProductID    string          `json:"productId" db:"product_id"`
	OutletID     string          `json:"outletId" db:"outlet_id"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	Filled       int64           `json:"filled" db:"filled"`
	PricePerUnit decimal.Decimal `json:"pricePerUnit" db:"price_per_unit"`
	Status       OrderStatus     `json:"status" db:"status"`

	// Seq is the monotonic submission sequence and the authoritative
	// price-time tiebreaker. CreatedAt is wall clock for display only.
	Seq       uint64    `json:"seq" db:"seq"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Remaining is the unfilled size of the order.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.Filled
}

// Transaction records a single fill between a buy and a sell order.
// Transactions are append-only.
type Transaction struct {
	ID             string          `json:"id" db:"id"`
	BuyOrderID     string          `json:"buyOrderId" db:"buy_order_id"`
	SellOrderID    string          `json:"sellOrderId" db:"sell_order_id"`
	BuyerOutletID  string          `json:"buyerOutletId" db:"buyer_outlet_id"`
	SellerOutletID string          `json:"sellerOutletId" db:"seller_outlet_id"`
	ProductID      string          `json:"productId" db:"product_id"`
	Quantity       int64           `json:"quantity" db:"quantity"`
	PricePerUnit   decimal.Decimal `json:"pricePerUnit" db:"price_per_unit"`
	TotalAmount    decimal.Decimal `json:"totalAmount" db:"total_amount"`
	ExecutedAt     time.Time       `json:"executedAt" db:"executed_at"`
}

// CustomerSale records a retail sale out of an outlet's inventory.
type CustomerSale struct {
	ID         string          `json:"id" db:"id"`
	OutletID   string          `json:"outletId" db:"outlet_id"`
	ProductID  string          `json:"productId" db:"product_id"`
	Quantity   int64           `json:"quantity" db:"quantity"`
	CostBasis  decimal.Decimal `json:"costBasis" db:"cost_basis"`
	Revenue    decimal.Decimal `json:"revenue" db:"revenue"`
	Profit     decimal.Decimal `json:"profit" db:"profit"`
	ExecutedAt time.Time       `json:"executedAt" db:"executed_at"`
}

// SalesStats aggregates an outlet's retail and exchange sell-side activity.
type SalesStats struct {
	OutletID             string          `json:"outletId"`
	CustomerSalesRevenue decimal.Decimal `json:"customerSalesRevenue"`
	CustomerSalesCount   int64           `json:"customerSalesCount"`
	ExchangeSalesRevenue decimal.Decimal `json:"exchangeSalesRevenue"`
	ExchangeSalesCount   int64           `json:"exchangeSalesCount"`
	Balance              decimal.Decimal `json:"balance"`
	NetProfit            decimal.Decimal `json:"netProfit"`
}

// InventoryCell is one (outlet, product) inventory count.
type InventoryCell struct {
	OutletID  string `json:"outletId" db:"outlet_id"`
	ProductID string `json:"productId" db:"product_id"`
	Quantity  int64  `json:"quantity" db:"quantity"`
}

// Package book implements a single-product limit order book with
// price-time priority. Bids are kept best (highest) price first, asks best
// (lowest) price first, FIFO by submission sequence within a price level.
package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/glazeworks/donutex/pkg/donut"
)

// level holds all resting orders at a single price, in submission order.
type level struct {
	price  decimal.Decimal
	orders []*donut.Order
}

// Book is the two-sided book for one product. It is not safe for concurrent
// use; the engine serialises access under its critical section.
type Book struct {
	productID string

	bids []*level // sorted descending by price
	asks []*level // sorted ascending by price

	// terminal keeps filled and cancelled orders for snapshots that ask
	// for them. Orders are never deleted, only retired here.
	terminal []*donut.Order
}

// New returns an empty book for the given product.
func New(productID string) *Book {
	return &Book{productID: productID}
}

// ProductID returns the product this book trades.
func (b *Book) ProductID() string { return b.productID }

// Insert places an order onto its side of the book. Terminal orders are
// recorded but never rested.
func (b *Book) Insert(o *donut.Order) {
	if o.Status.Terminal() {
		b.terminal = append(b.terminal, o)
		return
	}
	if o.Side == donut.Buy {
		b.bids = insertIntoLevels(b.bids, o, true)
	} else {
		b.asks = insertIntoLevels(b.asks, o, false)
	}
}

// insertIntoLevels inserts an order into a sorted price level slice.
// descending=true for bids, false for asks.
func insertIntoLevels(levels []*level, o *donut.Order, descending bool) []*level {
	idx := sort.Search(len(levels), func(i int) bool {
		if descending {
			return levels[i].price.LessThanOrEqual(o.PricePerUnit)
		}
		return levels[i].price.GreaterThanOrEqual(o.PricePerUnit)
	})

	if idx < len(levels) && levels[idx].price.Equal(o.PricePerUnit) {
		levels[idx].orders = append(levels[idx].orders, o)
		return levels
	}

	lv := &level{price: o.PricePerUnit, orders: []*donut.Order{o}}
	levels = append(levels, nil)
	copy(levels[idx+1:], levels[idx:])
	levels[idx] = lv
	return levels
}

// PeekBest returns the highest-priority resting order on the given side,
// walking past any order owned by excludeOutlet so an outlet never trades
// against itself. Returns nil if no eligible order rests.
func (b *Book) PeekBest(side donut.Side, excludeOutlet string) *donut.Order {
	levels := b.asks
	if side == donut.Buy {
		levels = b.bids
	}
	for _, lv := range levels {
		for _, o := range lv.orders {
			if excludeOutlet != "" && o.OutletID == excludeOutlet {
				continue
			}
			return o
		}
	}
	return nil
}

// Retire removes an order from its side and records it as terminal.
// It reports whether the order was resident.
func (b *Book) Retire(o *donut.Order) bool {
	removed := b.remove(o)
	b.terminal = append(b.terminal, o)
	return removed
}

func (b *Book) remove(o *donut.Order) bool {
	levels := &b.asks
	if o.Side == donut.Buy {
		levels = &b.bids
	}
	for i, lv := range *levels {
		if !lv.price.Equal(o.PricePerUnit) {
			continue
		}
		for j, resident := range lv.orders {
			if resident.ID == o.ID {
				lv.orders = append(lv.orders[:j], lv.orders[j+1:]...)
				if len(lv.orders) == 0 {
					*levels = append((*levels)[:i], (*levels)[i+1:]...)
				}
				return true
			}
		}
	}
	return false
}

// Snapshot copies both sides best price first. Resting orders are copied by
// value so callers can hand them off outside the engine's critical section.
// With includeTerminal, retired orders follow the resting ones in
// submission order.
func (b *Book) Snapshot(includeTerminal bool) donut.OrderBookSnapshot {
	snap := donut.OrderBookSnapshot{
		ProductID: b.productID,
		Bids:      flatten(b.bids),
		Asks:      flatten(b.asks),
	}
	if includeTerminal {
		for _, o := range b.terminal {
			if o.Side == donut.Buy {
				snap.Bids = append(snap.Bids, *o)
			} else {
				snap.Asks = append(snap.Asks, *o)
			}
		}
	}
	return snap
}

func flatten(levels []*level) []donut.Order {
	out := []donut.Order{}
	for _, lv := range levels {
		for _, o := range lv.orders {
			out = append(out, *o)
		}
	}
	return out
}

// Depth returns the number of price levels on each side.
func (b *Book) Depth() (bidLevels, askLevels int) {
	return len(b.bids), len(b.asks)
}

// BestBid returns the top bid price, or false if the bid side is empty.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	if len(b.bids) == 0 {
		return decimal.Zero, false
	}
	return b.bids[0].price, true
}

// BestAsk returns the top ask price, or false if the ask side is empty.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	if len(b.asks) == 0 {
		return decimal.Zero, false
	}
	return b.asks[0].price, true
}

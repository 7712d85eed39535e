// Package ledger is the single authority for outlet balances and inventory.
// It keeps a write-through in-memory view over the durable store: reads are
// served from memory, writes go to the store with one bounded async retry.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/glazeworks/donutex/pkg/donut"
	"github.com/glazeworks/donutex/pkg/events"
	"github.com/glazeworks/donutex/pkg/store"
)

// retryDelay spaces the single persistence retry.
const retryDelay = 250 * time.Millisecond

var customerSales = metrics.GetOrCreateCounter(`donutex_customer_sales_total`)

var oneHundred = decimal.NewFromInt(100)

// Params configure ledger arithmetic.
type Params struct {
	// BasePrice is the retail cost basis per donut, independent of what the
	// outlet actually paid on the exchange.
	BasePrice decimal.Decimal
	// InitialBalance is the net-profit baseline for every outlet.
	InitialBalance decimal.Decimal
	// SupplierOutletID is excluded from leaderboards and retail listings.
	SupplierOutletID string
}

// Ledger owns all monetary and inventory mutations.
type Ledger struct {
	mu    sync.RWMutex
	store store.Store
	bc    *events.Broadcaster
	log   zerolog.Logger
	prm   Params

	outlets   map[string]*donut.Outlet
	inventory map[string]map[string]int64 // outletID -> productID -> qty

	custRevenue map[string]decimal.Decimal
	custCount   map[string]int64
	exchRevenue map[string]decimal.Decimal
	exchCount   map[string]int64
}

// New rehydrates a Ledger from the store. A rehydration failure aborts boot.
func New(st store.Store, bc *events.Broadcaster, prm Params, log zerolog.Logger) (*Ledger, error) {
	l := &Ledger{
		store:       st,
		bc:          bc,
		log:         log.With().Str("component", "ledger").Logger(),
		prm:         prm,
		outlets:     make(map[string]*donut.Outlet),
		inventory:   make(map[string]map[string]int64),
		custRevenue: make(map[string]decimal.Decimal),
		custCount:   make(map[string]int64),
		exchRevenue: make(map[string]decimal.Decimal),
		exchCount:   make(map[string]int64),
	}

	outlets, err := st.FindAllOutlets()
	if err != nil {
		return nil, fmt.Errorf("rehydrate outlets: %w", err)
	}
	for i := range outlets {
		o := outlets[i]
		l.outlets[o.ID] = &o
	}

	cells, err := st.LoadAllInventory()
	if err != nil {
		return nil, fmt.Errorf("rehydrate inventory: %w", err)
	}
	for _, c := range cells {
		l.cell(c.OutletID)[c.ProductID] = c.Quantity
	}

	custAggs, err := st.AggregateCustomerSalesByOutlet()
	if err != nil {
		return nil, fmt.Errorf("rehydrate customer sales: %w", err)
	}
	for _, a := range custAggs {
		l.custRevenue[a.OutletID] = a.Revenue
		l.custCount[a.OutletID] = a.Count
	}

	exchAggs, err := st.AggregateExchangeSalesBySeller()
	if err != nil {
		return nil, fmt.Errorf("rehydrate exchange sales: %w", err)
	}
	for _, a := range exchAggs {
		l.exchRevenue[a.OutletID] = a.Revenue
		l.exchCount[a.OutletID] = a.Count
	}

	l.log.Info().Int("outlets", len(l.outlets)).Int("inventoryCells", len(cells)).Msg("ledger rehydrated")
	return l, nil
}

// cell returns the mutable inventory map for an outlet, creating it lazily.
func (l *Ledger) cell(outletID string) map[string]int64 {
	byProduct, ok := l.inventory[outletID]
	if !ok {
		byProduct = make(map[string]int64)
		l.inventory[outletID] = byProduct
	}
	return byProduct
}

// Outlet returns a copy of the outlet, or ErrUnknownOutlet.
func (l *Ledger) Outlet(id string) (donut.Outlet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.outlets[id]
	if !ok {
		return donut.Outlet{}, fmt.Errorf("outlet %s: %w", id, donut.ErrUnknownOutlet)
	}
	return *o, nil
}

// Outlets returns every outlet including the sentinel, id-sorted.
func (l *Ledger) Outlets() []donut.Outlet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]donut.Outlet, 0, len(l.outlets))
	for _, o := range l.outlets {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RetailOutlets returns every non-sentinel outlet, id-sorted. This is the
// one place the sentinel filter lives.
func (l *Ledger) RetailOutlets() []donut.Outlet {
	all := l.Outlets()
	out := all[:0]
	for _, o := range all {
		if o.ID != l.prm.SupplierOutletID {
			out = append(out, o)
		}
	}
	return out
}

// Inventory returns the quantity held by an outlet for one product.
func (l *Ledger) Inventory(outletID, productID string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inventory[outletID][productID]
}

// SettleFill atomically moves cash from buyer to seller and credits the
// buyer's inventory for a fill of qty units at price. Seller inventory is
// deliberately untouched: exchange sells are forward commitments.
// It fails with ErrInsufficientBalance before any state changes if the
// buyer cannot cover the full amount; there is no partial settlement.
func (l *Ledger) SettleFill(buy, sell *donut.Order, qty int64, price decimal.Decimal) (donut.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	buyer, ok := l.outlets[buy.OutletID]
	if !ok {
		return donut.Transaction{}, fmt.Errorf("buyer %s: %w", buy.OutletID, donut.ErrUnknownOutlet)
	}
	seller, ok := l.outlets[sell.OutletID]
	if !ok {
		return donut.Transaction{}, fmt.Errorf("seller %s: %w", sell.OutletID, donut.ErrUnknownOutlet)
	}

	amount := price.Mul(decimal.NewFromInt(qty))
	if buyer.Balance.LessThan(amount) {
		return donut.Transaction{}, fmt.Errorf("buyer %s needs %s has %s: %w",
			buyer.ID, amount, buyer.Balance, donut.ErrInsufficientBalance)
	}

	buyer.Balance = buyer.Balance.Sub(amount)
	seller.Balance = seller.Balance.Add(amount)
	inv := l.cell(buyer.ID)
	inv[buy.ProductID] += qty

	l.exchRevenue[seller.ID] = l.revenue(l.exchRevenue, seller.ID).Add(amount)
	l.exchCount[seller.ID]++

	tx := donut.Transaction{
		ID:             uuid.NewString(),
		BuyOrderID:     buy.ID,
		SellOrderID:    sell.ID,
		BuyerOutletID:  buyer.ID,
		SellerOutletID: seller.ID,
		ProductID:      buy.ProductID,
		Quantity:       qty,
		PricePerUnit:   price,
		TotalAmount:    amount,
		ExecutedAt:     time.Now(),
	}

	buyerBalance, sellerBalance := buyer.Balance, seller.Balance
	buyerQty := inv[buy.ProductID]
	l.persist("settle fill", func() error {
		if err := l.store.UpdateBalance(tx.BuyerOutletID, buyerBalance); err != nil {
			return err
		}
		if err := l.store.UpdateBalance(tx.SellerOutletID, sellerBalance); err != nil {
			return err
		}
		if err := l.store.SetInventory(tx.BuyerOutletID, tx.ProductID, buyerQty); err != nil {
			return err
		}
		return l.store.InsertTransaction(tx)
	})

	return tx, nil
}

// SellToCustomer debits inventory and credits cash for a retail sale using
// the outlet's margin over the configured base price. Customer sales, unlike
// exchange sells, require stock on hand.
func (l *Ledger) SellToCustomer(outletID, productID string, qty int64) (donut.CustomerSale, error) {
	if qty <= 0 {
		return donut.CustomerSale{}, donut.ErrBadQuantity
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	outlet, ok := l.outlets[outletID]
	if !ok {
		return donut.CustomerSale{}, fmt.Errorf("outlet %s: %w", outletID, donut.ErrUnknownOutlet)
	}
	if !outlet.IsOpen {
		return donut.CustomerSale{}, fmt.Errorf("outlet %s: %w", outletID, donut.ErrOutletClosed)
	}
	inv := l.cell(outletID)
	if inv[productID] < qty {
		return donut.CustomerSale{}, fmt.Errorf("outlet %s has %d of %s, want %d: %w",
			outletID, inv[productID], productID, qty, donut.ErrInsufficientInventory)
	}

	costBasis := l.prm.BasePrice.Mul(decimal.NewFromInt(qty))
	revenue := costBasis.Mul(decimal.NewFromInt(1).Add(outlet.MarginPercent.Div(oneHundred)))
	profit := revenue.Sub(costBasis)

	inv[productID] -= qty
	outlet.Balance = outlet.Balance.Add(revenue)
	l.custRevenue[outletID] = l.revenue(l.custRevenue, outletID).Add(revenue)
	l.custCount[outletID]++
	customerSales.Inc()

	sale := donut.CustomerSale{
		ID:         uuid.NewString(),
		OutletID:   outletID,
		ProductID:  productID,
		Quantity:   qty,
		CostBasis:  costBasis,
		Revenue:    revenue,
		Profit:     profit,
		ExecutedAt: time.Now(),
	}

	balance, remaining := outlet.Balance, inv[productID]
	l.persist("customer sale", func() error {
		if err := l.store.UpdateBalance(outletID, balance); err != nil {
			return err
		}
		if err := l.store.SetInventory(outletID, productID, remaining); err != nil {
			return err
		}
		return l.store.InsertCustomerSale(sale)
	})

	return sale, nil
}

// AddInventory credits qty units to an (outlet, product) cell.
func (l *Ledger) AddInventory(outletID, productID string, qty int64) error {
	if qty <= 0 {
		return donut.ErrBadQuantity
	}
	return l.adjustInventory(outletID, productID, qty)
}

// RemoveInventory debits qty units, failing if the cell would go negative.
func (l *Ledger) RemoveInventory(outletID, productID string, qty int64) error {
	if qty <= 0 {
		return donut.ErrBadQuantity
	}
	return l.adjustInventory(outletID, productID, -qty)
}

// SetInventory overwrites a cell with a non-negative quantity.
func (l *Ledger) SetInventory(outletID, productID string, qty int64) error {
	if qty < 0 {
		return donut.ErrBadQuantity
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.outlets[outletID]; !ok {
		return fmt.Errorf("outlet %s: %w", outletID, donut.ErrUnknownOutlet)
	}
	l.cell(outletID)[productID] = qty
	l.persist("set inventory", func() error {
		return l.store.SetInventory(outletID, productID, qty)
	})
	return nil
}

func (l *Ledger) adjustInventory(outletID, productID string, delta int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.outlets[outletID]; !ok {
		return fmt.Errorf("outlet %s: %w", outletID, donut.ErrUnknownOutlet)
	}
	inv := l.cell(outletID)
	next := inv[productID] + delta
	if next < 0 {
		return fmt.Errorf("outlet %s %s would go to %d: %w",
			outletID, productID, next, donut.ErrInsufficientInventory)
	}
	inv[productID] = next
	l.persist("adjust inventory", func() error {
		return l.store.SetInventory(outletID, productID, next)
	})
	return nil
}

// SetMargin updates an outlet's retail margin percentage.
func (l *Ledger) SetMargin(outletID string, margin decimal.Decimal) error {
	if margin.IsNegative() {
		return fmt.Errorf("margin %s: %w", margin, donut.ErrBadPrice)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.outlets[outletID]
	if !ok {
		return fmt.Errorf("outlet %s: %w", outletID, donut.ErrUnknownOutlet)
	}
	o.MarginPercent = margin
	l.persist("set margin", func() error {
		return l.store.UpdateMargin(outletID, margin)
	})
	return nil
}

// SetOpen opens or closes an outlet. A closed outlet is invisible to every
// agent and rejects order submission.
func (l *Ledger) SetOpen(outletID string, open bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.outlets[outletID]
	if !ok {
		return fmt.Errorf("outlet %s: %w", outletID, donut.ErrUnknownOutlet)
	}
	o.IsOpen = open
	l.persist("set open", func() error {
		return l.store.SetOpen(outletID, open)
	})
	return nil
}

// SetAllOpen opens or closes every outlet at once.
func (l *Ledger) SetAllOpen(open bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range l.outlets {
		o.IsOpen = open
	}
	l.persist("set all open", func() error {
		return l.store.SetAllOpen(open)
	})
	return nil
}

// Stats returns an outlet's sales aggregates with net profit relative to
// the configured initial balance.
func (l *Ledger) Stats(outletID string) (donut.SalesStats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.outlets[outletID]
	if !ok {
		return donut.SalesStats{}, fmt.Errorf("outlet %s: %w", outletID, donut.ErrUnknownOutlet)
	}
	return l.statsLocked(o), nil
}

func (l *Ledger) statsLocked(o *donut.Outlet) donut.SalesStats {
	return donut.SalesStats{
		OutletID:             o.ID,
		CustomerSalesRevenue: l.revenue(l.custRevenue, o.ID),
		CustomerSalesCount:   l.custCount[o.ID],
		ExchangeSalesRevenue: l.revenue(l.exchRevenue, o.ID),
		ExchangeSalesCount:   l.exchCount[o.ID],
		Balance:              o.Balance,
		NetProfit:            o.Balance.Sub(l.prm.InitialBalance),
	}
}

// Leaderboard returns non-sentinel outlets sorted by net profit descending.
func (l *Ledger) Leaderboard() []donut.SalesStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	board := []donut.SalesStats{}
	for _, o := range l.outlets {
		if o.ID == l.prm.SupplierOutletID {
			continue
		}
		board = append(board, l.statsLocked(o))
	}
	sort.Slice(board, func(i, j int) bool {
		if !board[i].NetProfit.Equal(board[j].NetProfit) {
			return board[i].NetProfit.GreaterThan(board[j].NetProfit)
		}
		return board[i].OutletID < board[j].OutletID
	})
	return board
}

func (l *Ledger) revenue(m map[string]decimal.Decimal, id string) decimal.Decimal {
	if v, ok := m[id]; ok {
		return v
	}
	return decimal.Zero
}

// persist writes through to the store. The first attempt is synchronous; a
// failure is retried once in the background after retryDelay, and a second
// failure is surfaced as an Error event. The in-memory state is never
// rolled back: availability over durability.
func (l *Ledger) persist(op string, fn func() error) {
	err := fn()
	if err == nil {
		return
	}
	l.log.Warn().Err(err).Str("op", op).Msg("store write failed, scheduling retry")
	go func() {
		time.Sleep(retryDelay)
		if err := fn(); err != nil {
			l.log.Error().Err(err).Str("op", op).Msg("store write failed after retry")
			l.bc.Error("ledger", "%s: store write failed after retry: %v", op, err)
		}
	}()
}

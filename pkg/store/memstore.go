package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/glazeworks/donutex/pkg/donut"
)

// MemStore is an in-memory Store. It backs tests and the default dev boot.
type MemStore struct {
	mu sync.RWMutex

	outlets   map[string]donut.Outlet
	products  map[string]donut.DonutType
	orders    map[string]donut.Order
	inventory map[string]map[string]int64 // outletID -> productID -> qty
	txs       []donut.Transaction
	sales     []donut.CustomerSale
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		outlets:   make(map[string]donut.Outlet),
		products:  make(map[string]donut.DonutType),
		orders:    make(map[string]donut.Order),
		inventory: make(map[string]map[string]int64),
	}
}

func (m *MemStore) LoadAllInventory() ([]donut.InventoryCell, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cells := []donut.InventoryCell{}
	for outletID, byProduct := range m.inventory {
		for productID, qty := range byProduct {
			cells = append(cells, donut.InventoryCell{OutletID: outletID, ProductID: productID, Quantity: qty})
		}
	}
	return cells, nil
}

func (m *MemStore) SetInventory(outletID, productID string, qty int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byProduct, ok := m.inventory[outletID]
	if !ok {
		byProduct = make(map[string]int64)
		m.inventory[outletID] = byProduct
	}
	byProduct[productID] = qty
	return nil
}

func (m *MemStore) InsertOutlet(o donut.Outlet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outlets[o.ID] = o
	return nil
}

func (m *MemStore) FindOutlet(id string) (donut.Outlet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.outlets[id]
	if !ok {
		return donut.Outlet{}, fmt.Errorf("outlet %s: %w", id, donut.ErrUnknownOutlet)
	}
	return o, nil
}

func (m *MemStore) FindAllOutlets() ([]donut.Outlet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	outlets := []donut.Outlet{}
	for _, o := range m.outlets {
		outlets = append(outlets, o)
	}
	sort.Slice(outlets, func(i, j int) bool { return outlets[i].ID < outlets[j].ID })
	return outlets, nil
}

func (m *MemStore) UpdateBalance(outletID string, balance decimal.Decimal) error {
	return m.mutateOutlet(outletID, func(o *donut.Outlet) { o.Balance = balance })
}

func (m *MemStore) UpdateMargin(outletID string, margin decimal.Decimal) error {
	return m.mutateOutlet(outletID, func(o *donut.Outlet) { o.MarginPercent = margin })
}

func (m *MemStore) SetOpen(outletID string, open bool) error {
	return m.mutateOutlet(outletID, func(o *donut.Outlet) { o.IsOpen = open })
}

func (m *MemStore) SetAllOpen(open bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, o := range m.outlets {
		o.IsOpen = open
		m.outlets[id] = o
	}
	return nil
}

func (m *MemStore) mutateOutlet(id string, fn func(*donut.Outlet)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.outlets[id]
	if !ok {
		return fmt.Errorf("outlet %s: %w", id, donut.ErrUnknownOutlet)
	}
	fn(&o)
	m.outlets[id] = o
	return nil
}

func (m *MemStore) InsertProduct(p donut.DonutType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	return nil
}

func (m *MemStore) FindAllProducts() ([]donut.DonutType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	products := []donut.DonutType{}
	for _, p := range m.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (m *MemStore) InsertOrder(o donut.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *MemStore) FindOrderByID(id string) (donut.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return donut.Order{}, fmt.Errorf("order %s: %w", id, donut.ErrUnknownOrder)
	}
	return o, nil
}

func (m *MemStore) UpdateOrderStatus(id string, status donut.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, donut.ErrUnknownOrder)
	}
	o.Status = status
	m.orders[id] = o
	return nil
}

func (m *MemStore) UpdateOrderQuantity(id string, filled int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, donut.ErrUnknownOrder)
	}
	o.Filled = filled
	m.orders[id] = o
	return nil
}

func (m *MemStore) OrderBook(productID string, includeTerminal bool) ([]donut.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	orders := []donut.Order{}
	for _, o := range m.orders {
		if o.ProductID != productID {
			continue
		}
		if !includeTerminal && o.Status.Terminal() {
			continue
		}
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].Seq < orders[j].Seq })
	return orders, nil
}

func (m *MemStore) InsertTransaction(t donut.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, t)
	return nil
}

func (m *MemStore) FindTransactionsByProduct(productID string, limit int) ([]donut.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	txs := []donut.Transaction{}
	for i := len(m.txs) - 1; i >= 0 && len(txs) < limit; i-- {
		if m.txs[i].ProductID == productID {
			txs = append(txs, m.txs[i])
		}
	}
	return txs, nil
}

func (m *MemStore) FindRecentTransactions(limit int) ([]donut.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	txs := []donut.Transaction{}
	for i := len(m.txs) - 1; i >= 0 && len(txs) < limit; i-- {
		txs = append(txs, m.txs[i])
	}
	return txs, nil
}

func (m *MemStore) AggregateExchangeSalesBySeller() ([]ExchangeSalesAgg, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byOutlet := map[string]*ExchangeSalesAgg{}
	for _, t := range m.txs {
		agg, ok := byOutlet[t.SellerOutletID]
		if !ok {
			agg = &ExchangeSalesAgg{OutletID: t.SellerOutletID, Revenue: decimal.Zero}
			byOutlet[t.SellerOutletID] = agg
		}
		agg.Revenue = agg.Revenue.Add(t.TotalAmount)
		agg.Count++
	}
	return sortedExchangeAggs(byOutlet), nil
}

func (m *MemStore) InsertCustomerSale(s donut.CustomerSale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales = append(m.sales, s)
	return nil
}

func (m *MemStore) AggregateCustomerSalesByOutlet() ([]CustomerSalesAgg, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byOutlet := map[string]*CustomerSalesAgg{}
	for _, s := range m.sales {
		agg, ok := byOutlet[s.OutletID]
		if !ok {
			agg = &CustomerSalesAgg{OutletID: s.OutletID, Revenue: decimal.Zero}
			byOutlet[s.OutletID] = agg
		}
		agg.Revenue = agg.Revenue.Add(s.Revenue)
		agg.Count++
	}
	keys := make([]string, 0, len(byOutlet))
	for k := range byOutlet {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	aggs := make([]CustomerSalesAgg, 0, len(keys))
	for _, k := range keys {
		aggs = append(aggs, *byOutlet[k])
	}
	return aggs, nil
}

func sortedExchangeAggs(byOutlet map[string]*ExchangeSalesAgg) []ExchangeSalesAgg {
	keys := make([]string, 0, len(byOutlet))
	for k := range byOutlet {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	aggs := make([]ExchangeSalesAgg, 0, len(keys))
	for _, k := range keys {
		aggs = append(aggs, *byOutlet[k])
	}
	return aggs
}

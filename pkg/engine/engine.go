// Package engine is the exchange core: it validates submissions, rests or
// matches orders against per-product books, commands the ledger to settle
// fills, and emits trade and book events. All book and ledger mutations for
// an order happen inside a single critical section.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"
	"github.com/shopspring/decimal"

	"github.com/glazeworks/donutex/pkg/book"
	"github.com/glazeworks/donutex/pkg/donut"
	"github.com/glazeworks/donutex/pkg/events"
	"github.com/glazeworks/donutex/pkg/ledger"
	"github.com/glazeworks/donutex/pkg/store"
)

var (
	ordersSubmitted = metrics.GetOrCreateCounter(`donutex_orders_submitted_total`)
	fillsExecuted   = metrics.GetOrCreateCounter(`donutex_fills_executed_total`)
	fillsAborted    = metrics.GetOrCreateCounter(`donutex_fills_aborted_total`)
)

// OrderRequest is a submission from an agent or the API.
type OrderRequest struct {
	OutletID  string          `json:"outletId"`
	ProductID string          `json:"productId"`
	Side      donut.Side      `json:"side"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// Engine matches orders for every product on the exchange.
type Engine struct {
	// mu is the exchange critical section: every matcher and book mutation
	// is serialised under it. deadlock.Mutex trips loudly if lock ordering
	// ever regresses.
	mu deadlock.Mutex

	ledger *ledger.Ledger
	store  store.Store
	bc     *events.Broadcaster
	log    zerolog.Logger

	books    map[string]*book.Book
	products map[string]donut.DonutType
	orders   map[string]*donut.Order
	seq      uint64
}

// New builds an Engine, creating one book per catalogued product and
// reloading every persisted order: non-terminal ones re-rest, terminal ones
// stay queryable, and the highest persisted sequence seeds the counter so
// restarts never reissue an order id. A load failure aborts boot.
func New(st store.Store, led *ledger.Ledger, bc *events.Broadcaster, log zerolog.Logger) (*Engine, error) {
	e := &Engine{
		ledger:   led,
		store:    st,
		bc:       bc,
		log:      log.With().Str("component", "engine").Logger(),
		books:    make(map[string]*book.Book),
		products: make(map[string]donut.DonutType),
		orders:   make(map[string]*donut.Order),
	}

	products, err := st.FindAllProducts()
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	for _, p := range products {
		e.products[p.ID] = p
		e.books[p.ID] = book.New(p.ID)

		persisted, err := st.OrderBook(p.ID, true)
		if err != nil {
			return nil, fmt.Errorf("rehydrate book %s: %w", p.ID, err)
		}
		for i := range persisted {
			o := persisted[i]
			e.orders[o.ID] = &o
			e.books[p.ID].Insert(&o)
			if o.Seq > e.seq {
				e.seq = o.Seq
			}
		}
	}

	e.log.Info().Int("products", len(products)).Int("orders", len(e.orders)).Msg("engine ready")
	return e, nil
}

// Products returns the donut catalogue.
func (e *Engine) Products() []donut.DonutType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]donut.DonutType, 0, len(e.products))
	for _, p := range e.products {
		out = append(out, p)
	}
	return out
}

// SubmitOrder validates, rests, and matches an order. It returns only after
// the order's final post-match state has been handed to the store; the
// returned order reflects that final status.
func (e *Engine) SubmitOrder(req OrderRequest) (donut.Order, error) {
	if req.Quantity <= 0 {
		return donut.Order{}, donut.ErrBadQuantity
	}
	if !req.Price.IsPositive() {
		return donut.Order{}, donut.ErrBadPrice
	}
	if req.Side != donut.Buy && req.Side != donut.Sell {
		return donut.Order{}, fmt.Errorf("side %q: must be BUY or SELL", req.Side)
	}
	outlet, err := e.ledger.Outlet(req.OutletID)
	if err != nil {
		return donut.Order{}, err
	}
	if !outlet.IsOpen {
		return donut.Order{}, fmt.Errorf("outlet %s: %w", outlet.ID, donut.ErrOutletClosed)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	bk, ok := e.books[req.ProductID]
	if !ok {
		return donut.Order{}, fmt.Errorf("product %s: %w", req.ProductID, donut.ErrUnknownProduct)
	}

	e.seq++
	now := time.Now()
	order := &donut.Order{
		ID:           fmt.Sprintf("ord-%d", e.seq),
		Side:         req.Side,
		ProductID:    req.ProductID,
		OutletID:     req.OutletID,
		Quantity:     req.Quantity,
		PricePerUnit: req.Price,
		Status:       donut.StatusActive,
		Seq:          e.seq,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	e.orders[order.ID] = order
	bk.Insert(order)
	ordersSubmitted.Inc()

	e.persist("insert order", func() error {
		return e.store.InsertOrder(*order)
	})

	e.match(bk, order)

	// A fill already announced the book change; an order that rested
	// without trading still changed the book shape.
	if order.Status == donut.StatusActive {
		e.bc.BookUpdated(bk.ProductID())
	}

	return *order, nil
}

// crosses applies the price guard: a buy at p_b crosses a sell at p_a iff
// p_b >= p_a.
func crosses(incoming, resting *donut.Order) bool {
	if incoming.Side == donut.Buy {
		return incoming.PricePerUnit.GreaterThanOrEqual(resting.PricePerUnit)
	}
	return incoming.PricePerUnit.LessThanOrEqual(resting.PricePerUnit)
}

// match runs the continuous double-auction loop for one incoming order.
// Callers hold e.mu.
func (e *Engine) match(bk *book.Book, incoming *donut.Order) {
	for incoming.Remaining() > 0 {
		// PeekBest walks past the incoming outlet's own orders, so an
		// outlet never matches against itself and its resting orders keep
		// their queue position.
		opposite := bk.PeekBest(incoming.Side.Opposite(), incoming.OutletID)
		if opposite == nil {
			break
		}
		if !crosses(incoming, opposite) {
			break
		}

		fillQty := incoming.Remaining()
		if opposite.Remaining() < fillQty {
			fillQty = opposite.Remaining()
		}
		// The resting order's price wins: takers who over-quote get price
		// improvement and resting quotes honour what they posted.
		fillPrice := opposite.PricePerUnit

		buy, sell := incoming, opposite
		if incoming.Side == donut.Sell {
			buy, sell = opposite, incoming
		}

		tx, err := e.ledger.SettleFill(buy, sell, fillQty, fillPrice)
		if err != nil {
			if errors.Is(err, donut.ErrInsufficientBalance) {
				// Settle or abort the whole slice: the buy order is
				// cancelled, the other side is untouched, and no
				// TradeExecuted is emitted for the aborted fill.
				fillsAborted.Inc()
				e.cancel(bk, buy)
				e.bc.Error("matcher", "fill aborted, buyer %s cannot cover %d @ %s: %v",
					buy.OutletID, fillQty, fillPrice, err)
				if buy == incoming {
					return
				}
				continue
			}
			e.log.Error().Err(err).Str("order", incoming.ID).Msg("settlement failed")
			e.bc.Error("matcher", "settlement failed for %s: %v", incoming.ID, err)
			return
		}

		e.applyFill(bk, incoming, fillQty)
		e.applyFill(bk, opposite, fillQty)
		fillsExecuted.Inc()

		e.bc.TradeExecuted(tx)
		e.bc.BookUpdated(bk.ProductID())
	}
}

// applyFill advances an order by qty and persists its post-fill state,
// retiring it from the book when it completes.
func (e *Engine) applyFill(bk *book.Book, o *donut.Order, qty int64) {
	o.Filled += qty
	o.UpdatedAt = time.Now()
	if o.Remaining() == 0 {
		o.Status = donut.StatusFilled
		bk.Retire(o)
	} else {
		o.Status = donut.StatusPartiallyFilled
	}
	id, filled, status := o.ID, o.Filled, o.Status
	e.persist("update order", func() error {
		if err := e.store.UpdateOrderQuantity(id, filled); err != nil {
			return err
		}
		return e.store.UpdateOrderStatus(id, status)
	})
}

// cancel marks an order cancelled and removes it from the book.
func (e *Engine) cancel(bk *book.Book, o *donut.Order) {
	o.Status = donut.StatusCancelled
	o.UpdatedAt = time.Now()
	bk.Retire(o)
	id := o.ID
	e.persist("cancel order", func() error {
		return e.store.UpdateOrderStatus(id, donut.StatusCancelled)
	})
	e.bc.BookUpdated(bk.ProductID())
}

// FindOrder returns a copy of any order the engine has seen.
func (e *Engine) FindOrder(id string) (donut.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return donut.Order{}, fmt.Errorf("order %s: %w", id, donut.ErrUnknownOrder)
	}
	return *o, nil
}

// Snapshot copies one product's book. It takes the engine lock only long
// enough to copy; delivery happens outside the critical section.
func (e *Engine) Snapshot(productID string, includeTerminal bool) (donut.OrderBookSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bk, ok := e.books[productID]
	if !ok {
		return donut.OrderBookSnapshot{}, fmt.Errorf("product %s: %w", productID, donut.ErrUnknownProduct)
	}
	return bk.Snapshot(includeTerminal), nil
}

// BestAsk returns the lowest resting ask for a product, if any.
func (e *Engine) BestAsk(productID string) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bk, ok := e.books[productID]
	if !ok {
		return decimal.Zero, false
	}
	return bk.BestAsk()
}

// persist hands a write to the store with one bounded retry; a second
// failure becomes an Error event and the in-memory state stands.
func (e *Engine) persist(op string, fn func() error) {
	err := fn()
	if err == nil {
		return
	}
	e.log.Warn().Err(err).Str("op", op).Msg("store write failed, scheduling retry")
	go func() {
		time.Sleep(250 * time.Millisecond)
		if err := fn(); err != nil {
			e.log.Error().Err(err).Str("op", op).Msg("store write failed after retry")
			e.bc.Error("engine", "%s: store write failed after retry: %v", op, err)
		}
	}()
}

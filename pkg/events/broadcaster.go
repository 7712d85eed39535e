// Package events fans exchange events out to registered sinks. Each sink
// gets its own bounded queue so a slow observer can never stall the engine
// or its peers; on overflow the oldest event is dropped and the drop is
// reported to that sink as an Error event.
package events

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/glazeworks/donutex/pkg/donut"
)

// DefaultQueueSize bounds each sink's event queue.
const DefaultQueueSize = 256

// Sink receives exchange events. Callbacks run on the sink's own delivery
// goroutine; a nil callback skips that event kind.
type Sink struct {
	OnTrade             func(donut.TradeExecuted)
	OnBookUpdated       func(donut.BookUpdated)
	OnCustomerPurchased func(donut.CustomerPurchased)
	OnError             func(donut.ErrorEvent)
}

type sinkWorker struct {
	sink  Sink
	queue chan any
	done  chan struct{}
}

// Broadcaster is a best-effort fan-out of domain events.
type Broadcaster struct {
	mu     sync.Mutex
	sinks  map[int]*sinkWorker
	nextID int
	size   int
	closed bool
	log    zerolog.Logger
}

// New returns a Broadcaster whose sinks buffer up to queueSize events.
// queueSize <= 0 uses DefaultQueueSize.
func New(queueSize int, log zerolog.Logger) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broadcaster{
		sinks: make(map[int]*sinkWorker),
		size:  queueSize,
		log:   log.With().Str("component", "broadcaster").Logger(),
	}
}

// Register adds a sink and returns a handle for Unregister.
func (b *Broadcaster) Register(s Sink) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return -1
	}
	id := b.nextID
	b.nextID++
	w := &sinkWorker{
		sink:  s,
		queue: make(chan any, b.size),
		done:  make(chan struct{}),
	}
	b.sinks[id] = w
	go w.run()
	return id
}

// Unregister removes a sink and stops its delivery goroutine. Queued events
// are discarded.
func (b *Broadcaster) Unregister(id int) {
	b.mu.Lock()
	w, ok := b.sinks[id]
	if ok {
		delete(b.sinks, id)
	}
	b.mu.Unlock()
	if ok {
		close(w.done)
	}
}

// Close stops every sink. Further publishes are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, w := range b.sinks {
		delete(b.sinks, id)
		close(w.done)
	}
}

// TradeExecuted publishes a fill to all sinks.
func (b *Broadcaster) TradeExecuted(t donut.Transaction) {
	b.publish(donut.TradeExecuted{Transaction: t})
}

// BookUpdated publishes a book change for one product.
func (b *Broadcaster) BookUpdated(productID string) {
	b.publish(donut.BookUpdated{ProductID: productID})
}

// CustomerPurchased publishes a retail sale.
func (b *Broadcaster) CustomerPurchased(sale donut.CustomerSale, customer string) {
	b.publish(donut.CustomerPurchased{Sale: sale, Customer: customer})
}

// Error publishes a non-fatal error with its source component.
func (b *Broadcaster) Error(source, format string, args ...any) {
	b.publish(donut.ErrorEvent{Message: fmt.Sprintf(format, args...), Source: source})
}

func (b *Broadcaster) publish(ev any) {
	b.mu.Lock()
	workers := make([]*sinkWorker, 0, len(b.sinks))
	for _, w := range b.sinks {
		workers = append(workers, w)
	}
	b.mu.Unlock()

	for _, w := range workers {
		b.offer(w, ev)
	}
}

// offer enqueues without ever blocking. On a full queue the oldest event is
// evicted to make room, and the eviction is reported to the same sink as an
// Error event when space allows.
func (b *Broadcaster) offer(w *sinkWorker, ev any) {
	select {
	case w.queue <- ev:
		return
	default:
	}

	var dropped any
	select {
	case dropped = <-w.queue:
	default:
	}

	select {
	case w.queue <- ev:
	default:
	}

	if dropped == nil {
		return
	}
	b.log.Warn().Str("dropped", fmt.Sprintf("%T", dropped)).Msg("sink queue full, dropped oldest event")
	if _, isErr := dropped.(donut.ErrorEvent); isErr {
		return
	}
	select {
	case w.queue <- donut.ErrorEvent{
		Message: fmt.Sprintf("sink queue overflow, dropped %T", dropped),
		Source:  "broadcaster",
	}:
	default:
	}
}

func (w *sinkWorker) run() {
	for {
		select {
		case <-w.done:
			return
		case ev := <-w.queue:
			w.dispatch(ev)
		}
	}
}

func (w *sinkWorker) dispatch(ev any) {
	switch e := ev.(type) {
	case donut.TradeExecuted:
		if w.sink.OnTrade != nil {
			w.sink.OnTrade(e)
		}
	case donut.BookUpdated:
		if w.sink.OnBookUpdated != nil {
			w.sink.OnBookUpdated(e)
		}
	case donut.CustomerPurchased:
		if w.sink.OnCustomerPurchased != nil {
			w.sink.OnCustomerPurchased(e)
		}
	case donut.ErrorEvent:
		if w.sink.OnError != nil {
			w.sink.OnError(e)
		}
	}
}

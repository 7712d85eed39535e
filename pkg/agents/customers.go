package agents

import (
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/glazeworks/donutex/pkg/engine"
	"github.com/glazeworks/donutex/pkg/events"
	"github.com/glazeworks/donutex/pkg/ledger"
)

// CustomerParams configure simulated retail demand.
type CustomerParams struct {
	Period    time.Duration
	BasePrice decimal.Decimal
	QtyMax    int64
}

// CustomerSim spawns one simulated customer per tick. A customer shops a
// random 1-3 product list and is either a FIRST_FIND shopper (buys from the
// first open outlet with stock, in random outlet order) or a PRICE_HUNTER
// (buys from the open outlet with the lowest margin-adjusted retail price).
type CustomerSim struct {
	runner
	eng    *engine.Engine
	ledger *ledger.Ledger
	bc     *events.Broadcaster
	prm    CustomerParams
	rng    *rand.Rand
}

// NewCustomerSim builds a stopped CustomerSim.
func NewCustomerSim(eng *engine.Engine, led *ledger.Ledger, bc *events.Broadcaster, prm CustomerParams, log zerolog.Logger) *CustomerSim {
	return &CustomerSim{
		runner: newRunner("customers", prm.Period, log),
		eng:    eng,
		ledger: led,
		bc:     bc,
		prm:    prm,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start begins spawning customers. Idempotent.
func (c *CustomerSim) Start() {
	c.start(c.tick)
}

func (c *CustomerSim) tick() {
	products := c.eng.Products()
	if len(products) == 0 {
		return
	}

	c.rng.Shuffle(len(products), func(i, j int) {
		products[i], products[j] = products[j], products[i]
	})
	k := 1 + c.rng.Intn(3)
	if k > len(products) {
		k = len(products)
	}
	shoppingList := products[:k]

	customer := gofakeit.Name()
	priceHunter := c.rng.Intn(2) == 0

	for _, product := range shoppingList {
		var outletID string
		if priceHunter {
			outletID = c.cheapestOutlet(product.ID)
		} else {
			outletID = c.firstFind(product.ID)
		}
		if outletID == "" {
			continue
		}

		stock := c.ledger.Inventory(outletID, product.ID)
		qty := 1 + c.rng.Int63n(c.prm.QtyMax)
		if qty > stock {
			qty = stock
		}

		sale, err := c.ledger.SellToCustomer(outletID, product.ID, qty)
		if err != nil {
			// Stock can vanish between the pick and the sale; just move on.
			c.log.Debug().Err(err).Str("outlet", outletID).Str("product", product.ID).Msg("customer walked away")
			continue
		}
		c.bc.CustomerPurchased(sale, customer)
	}
}

// firstFind walks outlets in random order and returns the first open one
// with stock, or "".
func (c *CustomerSim) firstFind(productID string) string {
	outlets := c.ledger.RetailOutlets()
	c.rng.Shuffle(len(outlets), func(i, j int) {
		outlets[i], outlets[j] = outlets[j], outlets[i]
	})
	for _, o := range outlets {
		if o.IsOpen && c.ledger.Inventory(o.ID, productID) > 0 {
			return o.ID
		}
	}
	return ""
}

// cheapestOutlet compares the margin-adjusted retail price across all open
// outlets with stock and returns the cheapest, or "".
func (c *CustomerSim) cheapestOutlet(productID string) string {
	var bestID string
	var bestPrice decimal.Decimal
	for _, o := range c.ledger.RetailOutlets() {
		if !o.IsOpen || c.ledger.Inventory(o.ID, productID) <= 0 {
			continue
		}
		price := c.prm.BasePrice.Mul(decimal.NewFromInt(1).Add(o.MarginPercent.Div(decimal.NewFromInt(100))))
		if bestID == "" || price.LessThan(bestPrice) {
			bestID = o.ID
			bestPrice = price
		}
	}
	return bestID
}

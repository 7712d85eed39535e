package agents

import (
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/glazeworks/donutex/pkg/donut"
	"github.com/glazeworks/donutex/pkg/engine"
	"github.com/glazeworks/donutex/pkg/ledger"
)

// PurchaserParams configure outlet bidding.
type PurchaserParams struct {
	Period time.Duration
	QtyMax int64
}

// Purchaser bids on behalf of every open retail outlet each tick: quantity
// bounded by available cash at the quoted ask, price at or slightly above
// the current best ask.
type Purchaser struct {
	runner
	eng    *engine.Engine
	ledger *ledger.Ledger
	prm    PurchaserParams
	rng    *rand.Rand
}

// NewPurchaser builds a stopped Purchaser.
func NewPurchaser(eng *engine.Engine, led *ledger.Ledger, prm PurchaserParams, log zerolog.Logger) *Purchaser {
	return &Purchaser{
		runner: newRunner("purchaser", prm.Period, log),
		eng:    eng,
		ledger: led,
		prm:    prm,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start begins the periodic bid flow. Idempotent.
func (p *Purchaser) Start() {
	p.start(p.tick)
}

func (p *Purchaser) tick() {
	products := p.eng.Products()
	for _, outlet := range p.ledger.RetailOutlets() {
		if !outlet.IsOpen {
			continue
		}
		for _, product := range products {
			// Considers, not commits: half the (outlet, product) pairs sit
			// each tick so the flow stays uneven.
			if p.rng.Intn(2) == 0 {
				continue
			}
			p.bid(outlet, product.ID)
		}
	}
}

func (p *Purchaser) bid(outlet donut.Outlet, productID string) {
	ask, ok := p.eng.BestAsk(productID)
	if !ok {
		return
	}

	affordable := outlet.Balance.Div(ask).IntPart()
	if affordable < 1 {
		return
	}
	qty := 1 + p.rng.Int63n(p.prm.QtyMax)
	if qty > affordable {
		qty = affordable
	}

	// Lift the ask, sometimes a touch over it for queue priority.
	price := ask
	if p.rng.Intn(4) == 0 {
		price = ask.Mul(decimal.NewFromFloat(1.05)).Round(2)
	}

	if _, err := p.eng.SubmitOrder(engine.OrderRequest{
		OutletID:  outlet.ID,
		ProductID: productID,
		Side:      donut.Buy,
		Quantity:  qty,
		Price:     price,
	}); err != nil && !errors.Is(err, donut.ErrOutletClosed) {
		p.log.Warn().Err(err).Str("outlet", outlet.ID).Str("product", productID).Msg("bid rejected")
	}
}

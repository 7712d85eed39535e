package agents

import (
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/glazeworks/donutex/pkg/donut"
	"github.com/glazeworks/donutex/pkg/engine"
	"github.com/glazeworks/donutex/pkg/ledger"
)

// SupplierParams configure the factory's sell flow.
type SupplierParams struct {
	OutletID  string
	Period    time.Duration
	BasePrice decimal.Decimal
	QtyMin    int64
	QtyMax    int64
}

// Supplier injects sell orders from the sentinel factory outlet each tick,
// one per product, at the base price with small random variance. The
// factory's supply is unlimited, so its inventory is never checked.
type Supplier struct {
	runner
	eng    *engine.Engine
	ledger *ledger.Ledger
	prm    SupplierParams
	rng    *rand.Rand
}

// NewSupplier builds a stopped Supplier.
func NewSupplier(eng *engine.Engine, led *ledger.Ledger, prm SupplierParams, log zerolog.Logger) *Supplier {
	return &Supplier{
		runner: newRunner("supplier", prm.Period, log),
		eng:    eng,
		ledger: led,
		prm:    prm,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start begins the periodic sell flow. Idempotent.
func (s *Supplier) Start() {
	s.start(s.tick)
}

func (s *Supplier) tick() {
	factory, err := s.ledger.Outlet(s.prm.OutletID)
	if err != nil {
		s.log.Error().Err(err).Msg("supplier outlet missing")
		return
	}
	if !factory.IsOpen {
		return
	}

	for _, product := range s.eng.Products() {
		qty := s.prm.QtyMin + s.rng.Int63n(s.prm.QtyMax-s.prm.QtyMin+1)
		price := s.quote()
		if _, err := s.eng.SubmitOrder(engine.OrderRequest{
			OutletID:  s.prm.OutletID,
			ProductID: product.ID,
			Side:      donut.Sell,
			Quantity:  qty,
			Price:     price,
		}); err != nil {
			s.log.Warn().Err(err).Str("product", product.ID).Msg("supplier order rejected")
		}
	}
}

// quote varies the base price by up to ±10%, rounded to cents.
func (s *Supplier) quote() decimal.Decimal {
	variance := decimal.NewFromFloat(0.9 + s.rng.Float64()*0.2)
	return s.prm.BasePrice.Mul(variance).Round(2)
}

// Command donutex runs the simulated donut commodity exchange: the matching
// engine, the autonomous agents that feed it, and the HTTP/websocket surface
// for observers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/glazeworks/donutex/pkg/agents"
	"github.com/glazeworks/donutex/pkg/config"
	"github.com/glazeworks/donutex/pkg/donut"
	"github.com/glazeworks/donutex/pkg/engine"
	"github.com/glazeworks/donutex/pkg/events"
	"github.com/glazeworks/donutex/pkg/ledger"
	"github.com/glazeworks/donutex/pkg/server"
	"github.com/glazeworks/donutex/pkg/store"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	rootCmd := &cobra.Command{
		Use:   "donutex",
		Short: "a simulated donut commodity exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(log)
		},
	}

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("exchange exited")
	}
}

func run(log zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var st store.Store
	if cfg.DatabaseURL != "" {
		sqlStore, err := store.NewSQLStore(cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer sqlStore.Close()
		st = sqlStore
	} else {
		log.Info().Msg("no database configured, running in-memory")
		st = store.NewMemStore()
	}

	if err := store.Bootstrap(st, store.BootstrapParams{
		SupplierOutletID: cfg.SupplierOutletID,
		OutletCount:      cfg.OutletCount,
		InitialBalance:   cfg.InitialOutletBalance,
		DefaultMargin:    cfg.DefaultMarginPercent,
	}); err != nil {
		return err
	}

	bc := events.New(events.DefaultQueueSize, log)
	defer bc.Close()

	// Local sink: structured log of everything observers see.
	bc.Register(events.Sink{
		OnTrade: func(e donut.TradeExecuted) {
			log.Info().
				Str("product", e.Transaction.ProductID).
				Str("buyer", e.Transaction.BuyerOutletID).
				Str("seller", e.Transaction.SellerOutletID).
				Int64("qty", e.Transaction.Quantity).
				Str("price", e.Transaction.PricePerUnit.String()).
				Msg("trade executed")
		},
		OnCustomerPurchased: func(e donut.CustomerPurchased) {
			log.Info().
				Str("customer", e.Customer).
				Str("outlet", e.Sale.OutletID).
				Str("product", e.Sale.ProductID).
				Int64("qty", e.Sale.Quantity).
				Str("profit", e.Sale.Profit.String()).
				Msg("customer purchase")
		},
		OnError: func(e donut.ErrorEvent) {
			log.Warn().Str("source", e.Source).Msg(e.Message)
		},
	})

	led, err := ledger.New(st, bc, ledger.Params{
		BasePrice:        cfg.BaseDonutPrice,
		InitialBalance:   cfg.InitialOutletBalance,
		SupplierOutletID: cfg.SupplierOutletID,
	}, log)
	if err != nil {
		return err
	}

	eng, err := engine.New(st, led, bc, log)
	if err != nil {
		return err
	}

	supplier := agents.NewSupplier(eng, led, agents.SupplierParams{
		OutletID:  cfg.SupplierOutletID,
		Period:    cfg.SupplierTick,
		BasePrice: cfg.BaseDonutPrice,
		QtyMin:    cfg.SupplierQtyMin,
		QtyMax:    cfg.SupplierQtyMax,
	}, log)
	purchaser := agents.NewPurchaser(eng, led, agents.PurchaserParams{
		Period: cfg.PurchaserTick,
		QtyMax: cfg.PurchaserQtyMax,
	}, log)
	customers := agents.NewCustomerSim(eng, led, bc, agents.CustomerParams{
		Period:    cfg.CustomerTick,
		BasePrice: cfg.BaseDonutPrice,
		QtyMax:    cfg.CustomerQtyMax,
	}, log)

	supplier.Start()
	purchaser.Start()
	customers.Start()

	srv := server.New(eng, led, bc, st, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(cfg.ListenAddr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sig:
		log.Info().Msg("shutting down")
	}

	supplier.Stop()
	purchaser.Stop()
	customers.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

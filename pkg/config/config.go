// Package config loads exchange options from the environment and an
// optional config file via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds every recognised option with its effect on the engine.
type Config struct {
	// BaseDonutPrice is the cost basis for retail customer sales.
	BaseDonutPrice decimal.Decimal
	// InitialOutletBalance is the baseline for net-profit calculation.
	InitialOutletBalance decimal.Decimal
	// SupplierOutletID is the sentinel outlet, excluded from leaderboards.
	SupplierOutletID string
	// DefaultMarginPercent is applied to bootstrapped outlets.
	DefaultMarginPercent decimal.Decimal

	SupplierTick  time.Duration
	PurchaserTick time.Duration
	CustomerTick  time.Duration

	// SupplierQtyMin/Max bound the supplier's per-tick sell order size.
	SupplierQtyMin int64
	SupplierQtyMax int64
	// PurchaserQtyMax bounds a retail outlet's per-tick bid size.
	PurchaserQtyMax int64
	// CustomerQtyMax bounds a single customer purchase (before stock cap).
	CustomerQtyMax int64

	OutletCount int
	ListenAddr  string
	// DatabaseURL selects the Postgres store; empty runs in-memory.
	DatabaseURL string
}

// Load reads configuration with the DONUTEX env prefix, falling back to
// defaults for everything unset. A malformed decimal option fails the load.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("donutex")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("base_donut_price", "2.0")
	v.SetDefault("initial_outlet_balance", "10000")
	v.SetDefault("supplier_outlet_id", "supplier-factory")
	v.SetDefault("default_margin_percent", "25.0")
	v.SetDefault("supplier_tick_ms", 5000)
	v.SetDefault("purchaser_tick_ms", 4000)
	v.SetDefault("customer_tick_ms", 2000)
	v.SetDefault("supplier_qty_min", 5)
	v.SetDefault("supplier_qty_max", 20)
	v.SetDefault("purchaser_qty_max", 10)
	v.SetDefault("customer_qty_max", 3)
	v.SetDefault("outlet_count", 6)
	v.SetDefault("listen_addr", ":1323")
	v.SetDefault("database_url", "")

	basePrice, err := getDecimal(v, "base_donut_price")
	if err != nil {
		return Config{}, err
	}
	initialBalance, err := getDecimal(v, "initial_outlet_balance")
	if err != nil {
		return Config{}, err
	}
	defaultMargin, err := getDecimal(v, "default_margin_percent")
	if err != nil {
		return Config{}, err
	}

	return Config{
		BaseDonutPrice:       basePrice,
		InitialOutletBalance: initialBalance,
		SupplierOutletID:     v.GetString("supplier_outlet_id"),
		DefaultMarginPercent: defaultMargin,
		SupplierTick:         time.Duration(v.GetInt("supplier_tick_ms")) * time.Millisecond,
		PurchaserTick:        time.Duration(v.GetInt("purchaser_tick_ms")) * time.Millisecond,
		CustomerTick:         time.Duration(v.GetInt("customer_tick_ms")) * time.Millisecond,
		SupplierQtyMin:       v.GetInt64("supplier_qty_min"),
		SupplierQtyMax:       v.GetInt64("supplier_qty_max"),
		PurchaserQtyMax:      v.GetInt64("purchaser_qty_max"),
		CustomerQtyMax:       v.GetInt64("customer_qty_max"),
		OutletCount:          v.GetInt("outlet_count"),
		ListenAddr:           v.GetString("listen_addr"),
		DatabaseURL:          v.GetString("database_url"),
	}, nil
}

func getDecimal(v *viper.Viper, key string) (decimal.Decimal, error) {
	raw := v.GetString(key)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("config %s=%q: %w", key, raw, err)
	}
	return d, nil
}

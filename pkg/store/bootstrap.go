package store

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"

	"github.com/glazeworks/donutex/pkg/donut"
)

// catalogue is the static donut product set created at first boot.
var catalogue = []donut.DonutType{
	{ID: "glazed", Name: "Glazed", Description: "The classic."},
	{ID: "chocolate", Name: "Chocolate Frosted", Description: "Chocolate frosting, cake base."},
	{ID: "sprinkles", Name: "Rainbow Sprinkles", Description: "Vanilla frosting under a sprinkle storm."},
	{ID: "boston-creme", Name: "Boston Creme", Description: "Custard filled, chocolate topped."},
	{ID: "old-fashioned", Name: "Old Fashioned", Description: "Crunchy edges, buttermilk crumb."},
	{ID: "jelly", Name: "Jelly Filled", Description: "Raspberry jam, powdered sugar."},
}

// BootstrapParams control first-boot seeding.
type BootstrapParams struct {
	SupplierOutletID string
	OutletCount      int
	InitialBalance   decimal.Decimal
	DefaultMargin    decimal.Decimal
}

// Bootstrap seeds the catalogue and outlet roster if the store is empty.
// It is a no-op on an already-populated store.
func Bootstrap(s Store, p BootstrapParams) error {
	products, err := s.FindAllProducts()
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if len(products) > 0 {
		return nil
	}

	for _, product := range catalogue {
		if err := s.InsertProduct(product); err != nil {
			return fmt.Errorf("bootstrap product %s: %w", product.ID, err)
		}
	}

	now := time.Now()
	sentinel := donut.Outlet{
		ID:            p.SupplierOutletID,
		Name:          "Donut Factory",
		Location:      "Industrial District",
		Balance:       p.InitialBalance,
		MarginPercent: decimal.Zero,
		IsOpen:        true,
		CreatedAt:     now,
	}
	if err := s.InsertOutlet(sentinel); err != nil {
		return fmt.Errorf("bootstrap supplier outlet: %w", err)
	}

	for i := 0; i < p.OutletCount; i++ {
		outlet := donut.Outlet{
			ID:            fmt.Sprintf("outlet-%d", i+1),
			Name:          fmt.Sprintf("%s Donuts", gofakeit.LastName()),
			Location:      gofakeit.City(),
			Balance:       p.InitialBalance,
			MarginPercent: p.DefaultMargin,
			IsOpen:        true,
			CreatedAt:     now,
		}
		if err := s.InsertOutlet(outlet); err != nil {
			return fmt.Errorf("bootstrap outlet %s: %w", outlet.ID, err)
		}
	}
	return nil
}

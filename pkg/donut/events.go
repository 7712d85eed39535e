package donut

// TradeExecuted is emitted once per fill, immediately followed by a
// BookUpdated for the same product.
type TradeExecuted struct {
	Transaction Transaction `json:"transaction"`
}

// BookUpdated signals that a product's book changed shape.
type BookUpdated struct {
	ProductID string `json:"productId"`
}

// CustomerPurchased is emitted for every retail sale.
type CustomerPurchased struct {
	Sale     CustomerSale `json:"sale"`
	Customer string       `json:"customer"`
}

// ErrorEvent carries a non-fatal engine error to observers.
type ErrorEvent struct {
	Message string `json:"message"`
	Source  string `json:"source"`
}

// OrderBookSnapshot is a point-in-time copy of both sides of one product's
// book, best price first.
type OrderBookSnapshot struct {
	ProductID string  `json:"productId"`
	Bids      []Order `json:"bids"`
	Asks      []Order `json:"asks"`
}

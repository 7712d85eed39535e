package store

import (
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/glazeworks/donutex/pkg/donut"
)

// SQLStore is a Postgres-backed Store using sqlx over the pgx stdlib
// driver. Datetimes are stored as ISO-8601 local text per TimeFormat.
type SQLStore struct {
	db  *sqlx.DB
	log zerolog.Logger
}

var _ Store = (*SQLStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS outlets (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	location       TEXT NOT NULL DEFAULT '',
	balance        NUMERIC NOT NULL,
	margin_percent NUMERIC NOT NULL,
	is_open        BOOLEAN NOT NULL,
	created_at     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS products (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS inventory (
	outlet_id  TEXT NOT NULL,
	product_id TEXT NOT NULL,
	quantity   BIGINT NOT NULL,
	PRIMARY KEY (outlet_id, product_id)
);
CREATE TABLE IF NOT EXISTS orders (
	id             TEXT PRIMARY KEY,
	side           TEXT NOT NULL,
	product_id     TEXT NOT NULL,
	outlet_id      TEXT NOT NULL,
	quantity       BIGINT NOT NULL,
	filled         BIGINT NOT NULL,
	price_per_unit NUMERIC NOT NULL,
	status         TEXT NOT NULL,
	seq            BIGINT NOT NULL,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS transactions (
	id               TEXT PRIMARY KEY,
	buy_order_id     TEXT NOT NULL,
	sell_order_id    TEXT NOT NULL,
	buyer_outlet_id  TEXT NOT NULL,
	seller_outlet_id TEXT NOT NULL,
	product_id       TEXT NOT NULL,
	quantity         BIGINT NOT NULL,
	price_per_unit   NUMERIC NOT NULL,
	total_amount     NUMERIC NOT NULL,
	executed_at      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS customer_sales (
	id          TEXT PRIMARY KEY,
	outlet_id   TEXT NOT NULL,
	product_id  TEXT NOT NULL,
	quantity    BIGINT NOT NULL,
	cost_basis  NUMERIC NOT NULL,
	revenue     NUMERIC NOT NULL,
	profit      NUMERIC NOT NULL,
	executed_at TEXT NOT NULL
);`

// NewSQLStore connects to databaseURL and ensures the schema exists.
func NewSQLStore(databaseURL string, log zerolog.Logger) (*SQLStore, error) {
	db, err := sqlx.Connect("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLStore{db: db, log: log.With().Str("component", "sqlstore").Logger()}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error { return s.db.Close() }

type outletRow struct {
	ID            string          `db:"id"`
	Name          string          `db:"name"`
	Location      string          `db:"location"`
	Balance       decimal.Decimal `db:"balance"`
	MarginPercent decimal.Decimal `db:"margin_percent"`
	IsOpen        bool            `db:"is_open"`
	CreatedAt     string          `db:"created_at"`
}

func (r outletRow) toDomain() donut.Outlet {
	return donut.Outlet{
		ID:            r.ID,
		Name:          r.Name,
		Location:      r.Location,
		Balance:       r.Balance,
		MarginPercent: r.MarginPercent,
		IsOpen:        r.IsOpen,
		CreatedAt:     parseTime(r.CreatedAt),
	}
}

type orderRow struct {
	ID           string          `db:"id"`
	Side         string          `db:"side"`
	ProductID    string          `db:"product_id"`
	OutletID     string          `db:"outlet_id"`
	Quantity     int64           `db:"quantity"`
	Filled       int64           `db:"filled"`
	PricePerUnit decimal.Decimal `db:"price_per_unit"`
	Status       string          `db:"status"`
	Seq          int64           `db:"seq"`
	CreatedAt    string          `db:"created_at"`
	UpdatedAt    string          `db:"updated_at"`
}

func (r orderRow) toDomain() donut.Order {
	return donut.Order{
		ID:           r.ID,
		Side:         donut.Side(r.Side),
		ProductID:    r.ProductID,
		OutletID:     r.OutletID,
		Quantity:     r.Quantity,
		Filled:       r.Filled,
		PricePerUnit: r.PricePerUnit,
		Status:       donut.OrderStatus(r.Status),
		Seq:          uint64(r.Seq),
		CreatedAt:    parseTime(r.CreatedAt),
		UpdatedAt:    parseTime(r.UpdatedAt),
	}
}

type transactionRow struct {
	ID             string          `db:"id"`
	BuyOrderID     string          `db:"buy_order_id"`
	SellOrderID    string          `db:"sell_order_id"`
	BuyerOutletID  string          `db:"buyer_outlet_id"`
	SellerOutletID string          `db:"seller_outlet_id"`
	ProductID      string          `db:"product_id"`
	Quantity       int64           `db:"quantity"`
	PricePerUnit   decimal.Decimal `db:"price_per_unit"`
	TotalAmount    decimal.Decimal `db:"total_amount"`
	ExecutedAt     string          `db:"executed_at"`
}

func (r transactionRow) toDomain() donut.Transaction {
	return donut.Transaction{
		ID:             r.ID,
		BuyOrderID:     r.BuyOrderID,
		SellOrderID:    r.SellOrderID,
		BuyerOutletID:  r.BuyerOutletID,
		SellerOutletID: r.SellerOutletID,
		ProductID:      r.ProductID,
		Quantity:       r.Quantity,
		PricePerUnit:   r.PricePerUnit,
		TotalAmount:    r.TotalAmount,
		ExecutedAt:     parseTime(r.ExecutedAt),
	}
}

func parseTime(s string) time.Time {
	t, err := time.ParseInLocation(TimeFormat, s, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *SQLStore) LoadAllInventory() ([]donut.InventoryCell, error) {
	cells := []donut.InventoryCell{}
	err := s.db.Select(&cells, `SELECT outlet_id, product_id, quantity FROM inventory`)
	return cells, err
}

func (s *SQLStore) SetInventory(outletID, productID string, qty int64) error {
	_, err := s.db.Exec(`
		INSERT INTO inventory (outlet_id, product_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (outlet_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
		outletID, productID, qty)
	return err
}

func (s *SQLStore) InsertOutlet(o donut.Outlet) error {
	_, err := s.db.Exec(`
		INSERT INTO outlets (id, name, location, balance, margin_percent, is_open, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, o.Name, o.Location, o.Balance, o.MarginPercent, o.IsOpen,
		o.CreatedAt.Format(TimeFormat))
	return err
}

func (s *SQLStore) FindOutlet(id string) (donut.Outlet, error) {
	var row outletRow
	if err := s.db.Get(&row, `SELECT * FROM outlets WHERE id = $1`, id); err != nil {
		return donut.Outlet{}, fmt.Errorf("outlet %s: %w", id, donut.ErrUnknownOutlet)
	}
	return row.toDomain(), nil
}

func (s *SQLStore) FindAllOutlets() ([]donut.Outlet, error) {
	rows := []outletRow{}
	if err := s.db.Select(&rows, `SELECT * FROM outlets ORDER BY id`); err != nil {
		return nil, err
	}
	outlets := make([]donut.Outlet, 0, len(rows))
	for _, r := range rows {
		outlets = append(outlets, r.toDomain())
	}
	return outlets, nil
}

func (s *SQLStore) UpdateBalance(outletID string, balance decimal.Decimal) error {
	_, err := s.db.Exec(`UPDATE outlets SET balance = $1 WHERE id = $2`, balance, outletID)
	return err
}

func (s *SQLStore) UpdateMargin(outletID string, margin decimal.Decimal) error {
	_, err := s.db.Exec(`UPDATE outlets SET margin_percent = $1 WHERE id = $2`, margin, outletID)
	return err
}

func (s *SQLStore) SetOpen(outletID string, open bool) error {
	_, err := s.db.Exec(`UPDATE outlets SET is_open = $1 WHERE id = $2`, open, outletID)
	return err
}

func (s *SQLStore) SetAllOpen(open bool) error {
	_, err := s.db.Exec(`UPDATE outlets SET is_open = $1`, open)
	return err
}

func (s *SQLStore) InsertProduct(p donut.DonutType) error {
	_, err := s.db.Exec(`
		INSERT INTO products (id, name, description) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Name, p.Description)
	return err
}

func (s *SQLStore) FindAllProducts() ([]donut.DonutType, error) {
	products := []donut.DonutType{}
	err := s.db.Select(&products, `SELECT * FROM products ORDER BY id`)
	return products, err
}

func (s *SQLStore) InsertOrder(o donut.Order) error {
	_, err := s.db.Exec(`
		INSERT INTO orders (id, side, product_id, outlet_id, quantity, filled,
			price_per_unit, status, seq, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		o.ID, string(o.Side), o.ProductID, o.OutletID, o.Quantity, o.Filled,
		o.PricePerUnit, string(o.Status), int64(o.Seq),
		o.CreatedAt.Format(TimeFormat), o.UpdatedAt.Format(TimeFormat))
	return err
}

func (s *SQLStore) FindOrderByID(id string) (donut.Order, error) {
	var row orderRow
	if err := s.db.Get(&row, `SELECT * FROM orders WHERE id = $1`, id); err != nil {
		return donut.Order{}, fmt.Errorf("order %s: %w", id, donut.ErrUnknownOrder)
	}
	return row.toDomain(), nil
}

func (s *SQLStore) UpdateOrderStatus(id string, status donut.OrderStatus) error {
	_, err := s.db.Exec(`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().Format(TimeFormat), id)
	return err
}

func (s *SQLStore) UpdateOrderQuantity(id string, filled int64) error {
	_, err := s.db.Exec(`UPDATE orders SET filled = $1, updated_at = $2 WHERE id = $3`,
		filled, time.Now().Format(TimeFormat), id)
	return err
}

func (s *SQLStore) OrderBook(productID string, includeTerminal bool) ([]donut.Order, error) {
	q := `SELECT * FROM orders WHERE product_id = $1 ORDER BY seq`
	if !includeTerminal {
		q = `SELECT * FROM orders WHERE product_id = $1
			AND status NOT IN ('FILLED', 'CANCELLED') ORDER BY seq`
	}
	rows := []orderRow{}
	if err := s.db.Select(&rows, q, productID); err != nil {
		return nil, err
	}
	orders := make([]donut.Order, 0, len(rows))
	for _, r := range rows {
		orders = append(orders, r.toDomain())
	}
	return orders, nil
}

func (s *SQLStore) InsertTransaction(t donut.Transaction) error {
	_, err := s.db.Exec(`
		INSERT INTO transactions (id, buy_order_id, sell_order_id, buyer_outlet_id,
			seller_outlet_id, product_id, quantity, price_per_unit, total_amount, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.BuyOrderID, t.SellOrderID, t.BuyerOutletID, t.SellerOutletID,
		t.ProductID, t.Quantity, t.PricePerUnit, t.TotalAmount,
		t.ExecutedAt.Format(TimeFormat))
	return err
}

func (s *SQLStore) FindTransactionsByProduct(productID string, limit int) ([]donut.Transaction, error) {
	rows := []transactionRow{}
	err := s.db.Select(&rows, `
		SELECT * FROM transactions WHERE product_id = $1
		ORDER BY executed_at DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	return toTransactions(rows), nil
}

func (s *SQLStore) FindRecentTransactions(limit int) ([]donut.Transaction, error) {
	rows := []transactionRow{}
	err := s.db.Select(&rows, `
		SELECT * FROM transactions ORDER BY executed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return toTransactions(rows), nil
}

func toTransactions(rows []transactionRow) []donut.Transaction {
	txs := make([]donut.Transaction, 0, len(rows))
	for _, r := range rows {
		txs = append(txs, r.toDomain())
	}
	return txs
}

func (s *SQLStore) AggregateExchangeSalesBySeller() ([]ExchangeSalesAgg, error) {
	aggs := []ExchangeSalesAgg{}
	err := s.db.Select(&aggs, `
		SELECT seller_outlet_id AS outlet_id,
			COALESCE(SUM(total_amount), 0) AS revenue,
			COUNT(*) AS count
		FROM transactions GROUP BY seller_outlet_id ORDER BY seller_outlet_id`)
	return aggs, err
}

func (s *SQLStore) InsertCustomerSale(c donut.CustomerSale) error {
	_, err := s.db.Exec(`
		INSERT INTO customer_sales (id, outlet_id, product_id, quantity,
			cost_basis, revenue, profit, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.OutletID, c.ProductID, c.Quantity,
		c.CostBasis, c.Revenue, c.Profit, c.ExecutedAt.Format(TimeFormat))
	return err
}

func (s *SQLStore) AggregateCustomerSalesByOutlet() ([]CustomerSalesAgg, error) {
	aggs := []CustomerSalesAgg{}
	err := s.db.Select(&aggs, `
		SELECT outlet_id,
			COALESCE(SUM(revenue), 0) AS revenue,
			COUNT(*) AS count
		FROM customer_sales GROUP BY outlet_id ORDER BY outlet_id`)
	return aggs, err
}

package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/zombor/splitit/internal/bill"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, verifies the connection and creates the
// schema if it does not exist yet.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	slog.Info("Connected to postgres", "host", config.ConnConfig.Host, "database", config.ConnConfig.Database)
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	billsSQL := `
		CREATE TABLE IF NOT EXISTS bills (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			total TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := pool.Exec(ctx, billsSQL); err != nil {
		return fmt.Errorf("creating bills table: %w", err)
	}

	itemsSQL := `
		CREATE TABLE IF NOT EXISTS bill_items (
			bill_id TEXT NOT NULL REFERENCES bills(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			price TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			PRIMARY KEY (bill_id, position)
		)
	`
	if _, err := pool.Exec(ctx, itemsSQL); err != nil {
		return fmt.Errorf("creating bill_items table: %w", err)
	}
	return nil
}

// CreateBill inserts the bill and its items in one transaction.
func (p *PostgresStore) CreateBill(ctx context.Context, record *Record) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		"INSERT INTO bills (id, code, owner_id, total, created_at) VALUES ($1, $2, $3, $4, $5)",
		record.ID, record.Code, record.OwnerID, record.Total.String(), record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting bill: %w", err)
	}

	batch := &pgx.Batch{}
	for i, item := range record.Items {
		batch.Queue(
			"INSERT INTO bill_items (bill_id, position, name, price, quantity) VALUES ($1, $2, $3, $4, $5)",
			record.ID, i, item.Name, item.Price.String(), item.Quantity,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting bill items: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetBill retrieves a record and its items by ID
func (p *PostgresStore) GetBill(ctx context.Context, id string) (*Record, error) {
	var (
		record Record
		total  string
	)
	err := p.pool.QueryRow(ctx,
		"SELECT id, code, owner_id, total, created_at FROM bills WHERE id = $1", id,
	).Scan(&record.ID, &record.Code, &record.OwnerID, &total, &record.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying bill: %w", err)
	}
	if record.Total, err = parseTotal(total); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx,
		"SELECT name, price, quantity FROM bill_items WHERE bill_id = $1 ORDER BY position", id,
	)
	if err != nil {
		return nil, fmt.Errorf("querying bill items: %w", err)
	}
	defer rows.Close()

	record.Items = make([]bill.Item, 0)
	for rows.Next() {
		var (
			item  bill.Item
			price string
		)
		if err := rows.Scan(&item.Name, &price, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scanning bill item: %w", err)
		}
		if item.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parsing item price %q: %w", price, err)
		}
		record.Items = append(record.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading bill items: %w", err)
	}

	return &record, nil
}

// Close closes the connection pool
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func parseTotal(s string) (decimal.Decimal, error) {
	total, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing bill total %q: %w", s, err)
	}
	return total, nil
}

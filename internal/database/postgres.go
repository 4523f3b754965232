package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coin/internal/model"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS asset_pairs (
	exchange      VARCHAR(50)  NOT NULL,
	base          VARCHAR(20)  NOT NULL,
	quote         VARCHAR(20)  NOT NULL,
	pair          VARCHAR(50)  NOT NULL,
	discovered_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
	PRIMARY KEY (exchange, pair)
);
CREATE TABLE IF NOT EXISTS price_ticks (
	id        BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ    NOT NULL,
	exchange  VARCHAR(50)    NOT NULL,
	pair      VARCHAR(50)    NOT NULL,
	last      NUMERIC(30, 12) NOT NULL,
	bid       NUMERIC(30, 12) NOT NULL,
	ask       NUMERIC(30, 12) NOT NULL,
	high      NUMERIC(30, 12) NOT NULL,
	low       NUMERIC(30, 12) NOT NULL,
	volume    NUMERIC(30, 12) NOT NULL
);`

// PostgresRepository stores catalogs and prices in PostgreSQL.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// NewPostgresRepository connects to connString and checks the connection.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &PostgresRepository{Pool: pool}, nil
}

// Close releases the pool.
func (r *PostgresRepository) Close() {
	r.Pool.Close()
}

// Migrate creates the tables when they do not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// SaveCatalog replaces the stored pairs of every exchange in catalog that has
// at least one pair, all in one transaction. Exchanges with an empty entry
// keep what was stored for them.
func (r *PostgresRepository) SaveCatalog(ctx context.Context, catalog model.Catalog) error {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	for code, pairs := range catalog {
		if len(pairs) == 0 {
			continue
		}
		if _, err := tx.Exec(ctx, `DELETE FROM asset_pairs WHERE exchange = $1`, code); err != nil {
			return fmt.Errorf("delete %s pairs: %w", code, err)
		}

		rows := make([][]any, 0, len(pairs))
		seen := make(map[string]bool, len(pairs))
		for _, p := range pairs {
			if seen[p.Pair] {
				continue
			}
			seen[p.Pair] = true
			rows = append(rows, []any{code, p.Base, p.Quote, p.Pair, now})
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"asset_pairs"},
			[]string{"exchange", "base", "quote", "pair", "discovered_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("insert %s pairs: %w", code, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadCatalog reads every stored pair, ordered by exchange and pair.
func (r *PostgresRepository) LoadCatalog(ctx context.Context) (model.Catalog, error) {
	rows, err := r.Pool.Query(ctx, `SELECT exchange, base, quote, pair FROM asset_pairs ORDER BY exchange, pair`)
	if err != nil {
		return nil, fmt.Errorf("query asset pairs: %w", err)
	}
	defer rows.Close()

	catalog := make(model.Catalog)
	for rows.Next() {
		var code string
		var p model.AssetPair
		if err := rows.Scan(&code, &p.Base, &p.Quote, &p.Pair); err != nil {
			return nil, fmt.Errorf("scan asset pair: %w", err)
		}
		catalog[code] = append(catalog[code], p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read asset pairs: %w", err)
	}
	return catalog, nil
}

// LogPrice stores one price update.
func (r *PostgresRepository) LogPrice(ctx context.Context, p model.Price) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO price_ticks (timestamp, exchange, pair, last, bid, ask, high, low, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.Time, p.Exchange, p.Pair,
		p.Last.String(), p.Bid.String(), p.Ask.String(), p.High.String(), p.Low.String(), p.Volume.String(),
	)
	if err != nil {
		return fmt.Errorf("insert price: %w", err)
	}
	return nil
}

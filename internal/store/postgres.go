package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codyseavey/albion-tracker/internal/models"
)

const postgresSchema = `
create table if not exists item_prices (
    id                  bigserial primary key,
    unique_name         text not null,
    city                text not null,
    item_name           text not null default '',
    item_index          integer not null default 0,
    sell_price_min      bigint not null default 0,
    buy_price_max       bigint not null default 0,
    sell_price_min_date timestamptz,
    last_saved_at       timestamptz not null,
    created_at          timestamptz not null default now(),
    updated_at          timestamptz not null default now(),
    unique (unique_name, city)
);

create table if not exists blacklist_entries (
    id          bigserial primary key,
    unique_name text not null unique,
    reason      text not null default '',
    created_at  timestamptz not null default now()
);

create table if not exists collection_status (
    id            integer primary key,
    current_index integer not null default 0,
    updated_at    timestamptz not null default now()
);

insert into collection_status (id, current_index) values (1, 0) on conflict (id) do nothing;
`

var (
	_ BlacklistStore = (*PgBlacklist)(nil)
	_ ProgressStore  = (*PgProgress)(nil)
	_ PriceStore     = (*PgPrices)(nil)
)

// OpenPostgres connects to databaseURL, creates the schema if needed and returns pgx-backed stores
func OpenPostgres(ctx context.Context, databaseURL string) (*Stores, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create postgres schema: %w", err)
	}
	log.Println("Postgres connected and schema ready")

	return &Stores{
		Blacklist: &PgBlacklist{pool: pool},
		Progress:  &PgProgress{pool: pool},
		Prices:    &PgPrices{pool: pool},
		close: func() error {
			pool.Close()
			return nil
		},
	}, nil
}

// PgBlacklist is the Postgres BlacklistStore
type PgBlacklist struct {
	pool *pgxpool.Pool
}

func (b *PgBlacklist) Add(ctx context.Context, uniqueName, reason string) error {
	_, err := b.pool.Exec(ctx, `
        insert into blacklist_entries (unique_name, reason)
        values ($1, $2)
        on conflict (unique_name) do nothing
    `, uniqueName, reason)
	if err != nil {
		return fmt.Errorf("blacklist %s: %w", uniqueName, err)
	}
	return nil
}

func (b *PgBlacklist) Remove(ctx context.Context, uniqueName string) error {
	if _, err := b.pool.Exec(ctx, `delete from blacklist_entries where unique_name = $1`, uniqueName); err != nil {
		return fmt.Errorf("remove %s from blacklist: %w", uniqueName, err)
	}
	return nil
}

func (b *PgBlacklist) Snapshot(ctx context.Context) (map[string]struct{}, error) {
	rows, err := b.pool.Query(ctx, `select unique_name from blacklist_entries`)
	if err != nil {
		return nil, fmt.Errorf("load blacklist: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("load blacklist: %w", err)
	}

	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set, nil
}

func (b *PgBlacklist) List(ctx context.Context) ([]models.BlacklistEntry, error) {
	rows, err := b.pool.Query(ctx, `
        select id, unique_name, reason, created_at
        from blacklist_entries
        order by created_at, id
    `)
	if err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	defer rows.Close()

	var entries []models.BlacklistEntry
	for rows.Next() {
		var e models.BlacklistEntry
		if err := rows.Scan(&e.ID, &e.UniqueName, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("list blacklist: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PgProgress is the Postgres ProgressStore
type PgProgress struct {
	pool *pgxpool.Pool
}

func (p *PgProgress) Get(ctx context.Context) (int, error) {
	var index int
	err := p.pool.QueryRow(ctx, `select current_index from collection_status where id = $1`,
		models.CollectionStatusID).Scan(&index)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	return index, nil
}

func (p *PgProgress) Set(ctx context.Context, index int) error {
	_, err := p.pool.Exec(ctx, `
        insert into collection_status (id, current_index, updated_at)
        values ($1, $2, now())
        on conflict (id) do update
        set current_index = excluded.current_index,
            updated_at = excluded.updated_at
    `, models.CollectionStatusID, index)
	if err != nil {
		return fmt.Errorf("save cursor %d: %w", index, err)
	}
	return nil
}

// PgPrices is the Postgres PriceStore
type PgPrices struct {
	pool *pgxpool.Pool
}

func (s *PgPrices) Upsert(ctx context.Context, price *models.ItemPrice) error {
	if price.LastSavedAt.IsZero() {
		price.LastSavedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
        insert into item_prices (unique_name, city, item_name, item_index, sell_price_min,
                                 buy_price_max, sell_price_min_date, last_saved_at)
        values ($1, $2, $3, $4, $5, $6, $7, $8)
        on conflict (unique_name, city) do update
        set item_name = excluded.item_name,
            item_index = excluded.item_index,
            sell_price_min = excluded.sell_price_min,
            buy_price_max = excluded.buy_price_max,
            sell_price_min_date = excluded.sell_price_min_date,
            last_saved_at = excluded.last_saved_at,
            updated_at = now()
    `, price.UniqueName, string(price.City), price.ItemName, price.ItemIndex, price.SellPriceMin,
		price.BuyPriceMax, price.SellPriceMinDate, price.LastSavedAt)
	if err != nil {
		return fmt.Errorf("upsert price %s/%s: %w", price.UniqueName, price.City, err)
	}
	return nil
}

const priceColumns = `id, unique_name, city, item_name, item_index, sell_price_min, buy_price_max,
       sell_price_min_date, last_saved_at, created_at, updated_at`

func scanPrice(row pgx.Row) (models.ItemPrice, error) {
	var p models.ItemPrice
	var city string
	err := row.Scan(&p.ID, &p.UniqueName, &city, &p.ItemName, &p.ItemIndex, &p.SellPriceMin,
		&p.BuyPriceMax, &p.SellPriceMinDate, &p.LastSavedAt, &p.CreatedAt, &p.UpdatedAt)
	p.City = models.City(city)
	return p, err
}

func (s *PgPrices) Scan(ctx context.Context, fn func(models.ItemPrice) error) error {
	rows, err := s.pool.Query(ctx, `select `+priceColumns+` from item_prices order by id`)
	if err != nil {
		return fmt.Errorf("scan prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return fmt.Errorf("scan prices: %w", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *PgPrices) ListByItem(ctx context.Context, uniqueName string) ([]models.ItemPrice, error) {
	rows, err := s.pool.Query(ctx, `select `+priceColumns+` from item_prices where unique_name = $1 order by city`,
		uniqueName)
	if err != nil {
		return nil, fmt.Errorf("list prices for %s: %w", uniqueName, err)
	}
	defer rows.Close()

	var prices []models.ItemPrice
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, fmt.Errorf("list prices for %s: %w", uniqueName, err)
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

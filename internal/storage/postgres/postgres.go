package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"price_service/internal/config"
	sl "price_service/internal/lib/logger/sl"
	"price_service/internal/models"
	"price_service/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepo struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func New(ctx context.Context, log *slog.Logger, cfg *config.Config) (*PostgresRepo, error) {
	const op = "storage.postgres.New"

	poolConfig, err := pgxpool.ParseConfig(dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping failed: %w", op, err)
	}

	return &PostgresRepo{pool: pool, log: log}, nil
}

const productColumns = `
	p.id, p.name, COALESCE(p.brand, ''), COALESCE(p.description, ''), COALESCE(p.image_url, ''),
	p.category_id, c.name, COALESCE(c.description, '')`

const priceColumns = `
	pr.id, pr.product_id, pr.market, pr.price::float8, pr.currency,
	s.id, s.name, COALESCE(s.website, ''), s.market,
	pr.source_url, pr.is_available, pr.last_refreshed`

// * FindProducts returns products matching the filter with all of their price records
func (r *PostgresRepo) FindProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error) {
	const op = "storage.postgres.FindProducts"

	tx, err := r.readOnly(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer r.rollback(ctx, tx)

	query := `
		SELECT` + productColumns + `
		FROM products p
		JOIN categories c ON c.id = p.category_id
		WHERE ($1::bigint IS NULL OR p.category_id = $1)
		  AND ($2 = '' OR p.name ILIKE $2 OR p.brand ILIKE $2 OR p.description ILIKE $2)
		ORDER BY p.id
		LIMIT NULLIF($3::int, 0)
	`

	rows, err := tx.Query(ctx, query, filter.CategoryID, likePattern(filter.Search), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}

	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("%s: collect: %w", op, err)
	}

	if err := attachPrices(ctx, tx, products, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	return products, nil
}

// * FindStaleProducts returns up to limit products, stalest first, carrying only
// * the price records last refreshed before threshold
func (r *PostgresRepo) FindStaleProducts(ctx context.Context, threshold time.Time, limit int) ([]models.Product, error) {
	const op = "storage.postgres.FindStaleProducts"

	tx, err := r.readOnly(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer r.rollback(ctx, tx)

	query := `
		WITH stale AS (
			SELECT product_id, MIN(last_refreshed) AS oldest
			FROM price_records
			WHERE last_refreshed < $1
			GROUP BY product_id
			ORDER BY oldest, product_id
			LIMIT $2
		)
		SELECT` + productColumns + `
		FROM stale
		JOIN products p ON p.id = stale.product_id
		JOIN categories c ON c.id = p.category_id
		ORDER BY stale.oldest, p.id
	`

	rows, err := tx.Query(ctx, query, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}

	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("%s: collect: %w", op, err)
	}

	if err := attachPrices(ctx, tx, products, &threshold); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	return products, nil
}

// * ProductByID returns a product with all of its price records
func (r *PostgresRepo) ProductByID(ctx context.Context, productID int64) (models.Product, error) {
	const op = "storage.postgres.ProductByID"

	query := `
		SELECT` + productColumns + `
		FROM products p
		JOIN categories c ON c.id = p.category_id
		WHERE p.id = $1
	`

	rows, err := r.pool.Query(ctx, query, productID)
	if err != nil {
		return models.Product{}, fmt.Errorf("%s: query: %w", op, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Product{}, storage.ErrProductNotFound
		}

		return models.Product{}, fmt.Errorf("%s: failed to scan product: %w", op, err)
	}

	products := []models.Product{p}
	if err := attachPrices(ctx, r.pool, products, nil); err != nil {
		return models.Product{}, fmt.Errorf("%s: %w", op, err)
	}

	return products[0], nil
}

// * UpdatePriceRecord stores a refreshed price. last_refreshed never moves backwards.
func (r *PostgresRepo) UpdatePriceRecord(ctx context.Context, priceRecordID int64, upd models.PriceUpdate) error {
	const op = "storage.postgres.UpdatePriceRecord"

	const query = `
		UPDATE price_records
		SET price = $2,
			is_available = $3,
			last_refreshed = GREATEST(last_refreshed, $4)
		WHERE id = $1
	`

	cmd, err := r.pool.Exec(ctx, query, priceRecordID, upd.Price, upd.IsAvailable, upd.LastRefreshed)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if cmd.RowsAffected() == 0 {
		return storage.ErrPriceRecordNotFound
	}

	return nil
}

// * Categories returns every category with the number of products in it
func (r *PostgresRepo) Categories(ctx context.Context) ([]models.Category, error) {
	const op = "storage.postgres.Categories"

	const query = `
		SELECT c.id, c.name, COALESCE(c.description, ''), COUNT(p.id)
		FROM categories c
		LEFT JOIN products p ON p.category_id = c.id
		GROUP BY c.id
		ORDER BY c.name
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}

	categories, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Category, error) {
		var c models.Category
		err := row.Scan(&c.ID, &c.Name, &c.Description, &c.ProductCount)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: collect: %w", op, err)
	}

	return categories, nil
}

// * AddProduct creates a product with its price records, creating the category
// * and stores on first use
func (r *PostgresRepo) AddProduct(ctx context.Context, np models.NewProduct) (int64, error) {
	const op = "storage.postgres.AddProduct"

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer r.rollback(ctx, tx)

	var categoryID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO categories (name)
		VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, np.Category).Scan(&categoryID)
	if err != nil {
		return 0, fmt.Errorf("%s: upsert category: %w", op, err)
	}

	var productID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO products (name, brand, description, image_url, category_id)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5)
		RETURNING id
	`, np.Name, np.Brand, np.Description, np.ImageURL, categoryID).Scan(&productID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == storage.UniqueViolation {
			return 0, storage.ErrProductExists
		}

		return 0, fmt.Errorf("%s: insert product: %w", op, err)
	}

	entries := []struct {
		market models.Market
		price  *models.NewPrice
	}{
		{models.MarketDomestic, np.Domestic},
		{models.MarketForeign, np.Foreign},
	}

	for _, e := range entries {
		if e.price == nil {
			continue
		}

		if err := insertPrice(ctx, tx, productID, e.market, *e.price); err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", op, err)
	}

	return productID, nil
}

func insertPrice(ctx context.Context, tx pgx.Tx, productID int64, market models.Market, np models.NewPrice) error {
	var storeID int64
	err := tx.QueryRow(ctx, `
		INSERT INTO stores (name, website, market)
		VALUES ($1, NULLIF($2, ''), $3)
		ON CONFLICT (name) DO UPDATE SET website = COALESCE(EXCLUDED.website, stores.website)
		RETURNING id
	`, np.StoreName, np.StoreWebsite, string(market)).Scan(&storeID)
	if err != nil {
		return fmt.Errorf("upsert store %q: %w", np.StoreName, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO price_records (product_id, store_id, market, price, currency, source_url, is_available, last_refreshed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, productID, storeID, string(market), np.Price, np.Currency, np.SourceURL, np.IsAvailable)
	if err != nil {
		return fmt.Errorf("insert %s price: %w", market, err)
	}

	return nil
}

// * attachPrices loads price records for products in one query. A non-nil
// * staleBefore keeps only records last refreshed before it.
func attachPrices(ctx context.Context, q querier, products []models.Product, staleBefore *time.Time) error {
	if len(products) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(products))
	index := make(map[int64]int, len(products))
	for i, p := range products {
		ids = append(ids, p.ID)
		index[p.ID] = i
	}

	query := `
		SELECT` + priceColumns + `
		FROM price_records pr
		JOIN stores s ON s.id = pr.store_id
		WHERE pr.product_id = ANY($1)
		  AND ($2::timestamptz IS NULL OR pr.last_refreshed < $2)
		ORDER BY pr.product_id, pr.id
	`

	rows, err := q.Query(ctx, query, ids, staleBefore)
	if err != nil {
		return fmt.Errorf("query prices: %w", err)
	}

	prices, err := pgx.CollectRows(rows, scanPrice)
	if err != nil {
		return fmt.Errorf("collect prices: %w", err)
	}

	for _, pr := range prices {
		i := index[pr.ProductID]
		products[i].Prices = append(products[i].Prices, pr)
	}

	return nil
}

func scanProduct(row pgx.CollectableRow) (models.Product, error) {
	var (
		p   models.Product
		cat models.Category
	)

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Brand,
		&p.Description,
		&p.ImageURL,
		&p.CategoryID,
		&cat.Name,
		&cat.Description,
	)
	if err != nil {
		return p, err
	}

	cat.ID = p.CategoryID
	p.Category = &cat

	return p, nil
}

func scanPrice(row pgx.CollectableRow) (models.PriceRecord, error) {
	var (
		pr          models.PriceRecord
		market      string
		storeMarket string
	)

	err := row.Scan(
		&pr.ID,
		&pr.ProductID,
		&market,
		&pr.Price,
		&pr.Currency,
		&pr.Store.ID,
		&pr.Store.Name,
		&pr.Store.Website,
		&storeMarket,
		&pr.SourceURL,
		&pr.IsAvailable,
		&pr.LastRefreshed,
	)
	if err != nil {
		return pr, err
	}

	pr.Market = models.Market(market)
	pr.Store.Market = models.Market(storeMarket)
	pr.LastRefreshed = pr.LastRefreshed.UTC()

	return pr, nil
}

func (r *PostgresRepo) readOnly(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}

	return tx, nil
}

func (r *PostgresRepo) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		r.log.Error("failed to rollback transaction", sl.Err(err))
	}
}

// * likePattern turns a search term into a case-insensitive substring pattern
func likePattern(search string) string {
	search = strings.TrimSpace(search)
	if search == "" {
		return ""
	}

	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(search)

	return "%" + escaped + "%"
}

// * Close closes the connection pool.
func (r *PostgresRepo) Close() {
	r.pool.Close()
}

// * dsn builds the connection string from config.
func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}

package products

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sl "price_service/internal/lib/logger/sl"
	"price_service/internal/models"
	"price_service/internal/storage"
)

type RedisStorage interface {
	SaveCategories(ctx context.Context, categories []models.Category) error
	Categories(ctx context.Context) ([]models.Category, error)
	InvalidateCategories(ctx context.Context) error
}

type PostgresStorage interface {
	FindProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error)
	ProductByID(ctx context.Context, productID int64) (models.Product, error)
	Categories(ctx context.Context) ([]models.Category, error)
	AddProduct(ctx context.Context, np models.NewProduct) (int64, error)
}

type Comparer interface {
	Compare(products []models.Product) []models.ComparisonResult
	CompareOne(product models.Product) (models.ComparisonResult, bool)
}

type ProductOperator struct {
	log      *slog.Logger
	Redis    RedisStorage
	Postgres PostgresStorage
	Engine   Comparer
}

func New(log *slog.Logger, p PostgresStorage, r RedisStorage, engine Comparer) *ProductOperator {
	return &ProductOperator{
		log:      log,
		Redis:    r,
		Postgres: p,
		Engine:   engine,
	}
}

// Comparisons ranks every matching product, then cuts the ranking at filter.Limit.
// Results are computed on every call and never cached.
func (p *ProductOperator) Comparisons(ctx context.Context, filter models.ProductFilter) ([]models.ComparisonResult, error) {
	const op = "middleware.products.Comparisons"

	limit := filter.Limit
	filter.Limit = 0

	products, err := p.Postgres.FindProducts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	results := p.Engine.Compare(products)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

func (p *ProductOperator) ProductByID(ctx context.Context, productID int64) (models.ProductDetail, error) {
	product, err := p.Postgres.ProductByID(ctx, productID)
	if err != nil {
		return models.ProductDetail{}, err
	}

	detail := models.ProductDetail{Product: product}
	if cmp, ok := p.Engine.CompareOne(product); ok {
		detail.Comparison = &cmp
	}

	return detail, nil
}

func (p *ProductOperator) Categories(ctx context.Context) ([]models.Category, error) {
	categories, err := p.Redis.Categories(ctx)
	switch {
	case err == nil:
		return categories, nil

	case !errors.Is(err, storage.ErrCacheMiss):
		p.log.Warn("categories cache unavailable", sl.Err(err))
	}

	categories, err = p.Postgres.Categories(ctx)
	if err != nil {
		return nil, err
	}

	if err := p.Redis.SaveCategories(ctx, categories); err != nil {
		p.log.Warn("failed to cache categories", sl.Err(err))
	}

	return categories, nil
}

func (p *ProductOperator) AddProduct(ctx context.Context, np models.NewProduct) (int64, error) {
	productID, err := p.Postgres.AddProduct(ctx, np)
	if err != nil {
		return 0, err
	}

	if err := p.Redis.InvalidateCategories(ctx); err != nil {
		p.log.Warn("failed to invalidate categories cache", sl.Err(err))
	}

	return productID, nil
}

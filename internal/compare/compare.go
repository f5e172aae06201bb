// Package compare turns paired domestic/foreign price records into ranked savings results.
package compare

import (
	"errors"
	"slices"

	"price_service/internal/models"

	"github.com/shopspring/decimal"
)

var ErrInvalidExchangeRate = errors.New("exchange rate must be positive")

var hundred = decimal.NewFromInt(100)

// Engine converts foreign prices with a fixed rate expressed as
// foreign-currency units per one domestic-currency unit (e.g. 1330 KRW per USD).
type Engine struct {
	rate decimal.Decimal
}

func New(exchangeRate float64) (*Engine, error) {
	rate := decimal.NewFromFloat(exchangeRate)
	if !rate.IsPositive() {
		return nil, ErrInvalidExchangeRate
	}

	return &Engine{rate: rate}, nil
}

func (e *Engine) ExchangeRate() float64 {
	return e.rate.InexactFloat64()
}

type ranked struct {
	result  models.ComparisonResult
	savings decimal.Decimal
}

// Compare builds results for every comparable product and orders them by
// absolute savings descending, then product id ascending.
func (e *Engine) Compare(products []models.Product) []models.ComparisonResult {
	rows := make([]ranked, 0, len(products))

	for _, p := range products {
		res, savings, ok := e.compare(p)
		if !ok {
			continue
		}

		rows = append(rows, ranked{result: res, savings: savings})
	}

	slices.SortStableFunc(rows, func(a, b ranked) int {
		if c := b.savings.Abs().Cmp(a.savings.Abs()); c != 0 {
			return c
		}

		switch {
		case a.result.Product.ID < b.result.Product.ID:
			return -1
		case a.result.Product.ID > b.result.Product.ID:
			return 1
		}

		return 0
	})

	out := make([]models.ComparisonResult, len(rows))
	for i, r := range rows {
		out[i] = r.result
	}

	return out
}

// CompareOne reports false when the product is not comparable.
func (e *Engine) CompareOne(p models.Product) (models.ComparisonResult, bool) {
	res, _, ok := e.compare(p)
	return res, ok
}

func (e *Engine) compare(p models.Product) (models.ComparisonResult, decimal.Decimal, bool) {
	domestic, ok := single(p.Prices, models.MarketDomestic)
	if !ok {
		return models.ComparisonResult{}, decimal.Zero, false
	}

	foreign, ok := single(p.Prices, models.MarketForeign)
	if !ok {
		return models.ComparisonResult{}, decimal.Zero, false
	}

	domesticPrice := decimal.NewFromFloat(domestic.Price)
	foreignPrice := decimal.NewFromFloat(foreign.Price)

	if !domesticPrice.IsPositive() || !foreignPrice.IsPositive() {
		return models.ComparisonResult{}, decimal.Zero, false
	}

	converted := foreignPrice.Div(e.rate).Round(2)
	savings := domesticPrice.Sub(converted).Round(2)
	percentage := savings.Div(domesticPrice).Mul(hundred).Round(2)

	cheaper := models.MarketDomestic
	if savings.IsPositive() {
		cheaper = models.MarketForeign
	}

	product := p
	product.Prices = nil

	return models.ComparisonResult{
		Product:               product,
		Domestic:              domestic,
		Foreign:               foreign,
		DomesticPrice:         domesticPrice.InexactFloat64(),
		ForeignPrice:          foreignPrice.InexactFloat64(),
		ConvertedForeignPrice: converted.InexactFloat64(),
		SavingsAbsolute:       savings.InexactFloat64(),
		SavingsPercentage:     percentage.InexactFloat64(),
		CheaperMarket:         cheaper,
	}, savings, true
}

// single returns the record for market only when exactly one exists.
func single(prices []models.PriceRecord, market models.Market) (models.PriceRecord, bool) {
	var (
		found models.PriceRecord
		n     int
	)

	for _, pr := range prices {
		if pr.Market == market {
			found = pr
			n++
		}
	}

	return found, n == 1
}

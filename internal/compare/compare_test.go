package compare

import (
	"math"
	"math/rand"
	"testing"

	"price_service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(id int64, domestic, foreign *float64) models.Product {
	p := models.Product{ID: id, Name: "product"}
	if domestic != nil {
		p.Prices = append(p.Prices, models.PriceRecord{
			ID: id*10 + 1, ProductID: id, Market: models.MarketDomestic, Price: *domestic, Currency: "USD",
		})
	}
	if foreign != nil {
		p.Prices = append(p.Prices, models.PriceRecord{
			ID: id*10 + 2, ProductID: id, Market: models.MarketForeign, Price: *foreign, Currency: "KRW",
		})
	}
	return p
}

func ptr(v float64) *float64 { return &v }

func newEngine(t *testing.T) *Engine {
	t.Helper()

	e, err := New(1330.0)
	require.NoError(t, err)
	return e
}

func TestNew_rejectsNonPositiveRate(t *testing.T) {
	t.Parallel()

	for _, rate := range []float64{0, -1330} {
		_, err := New(rate)
		assert.ErrorIs(t, err, ErrInvalidExchangeRate)
	}
}

func TestCompare_foreignCheaper(t *testing.T) {
	t.Parallel()

	got := newEngine(t).Compare([]models.Product{product(1, ptr(34.00), ptr(18000))})
	require.Len(t, got, 1)

	r := got[0]
	assert.Equal(t, 13.53, r.ConvertedForeignPrice)
	assert.Equal(t, 20.47, r.SavingsAbsolute)
	assert.Equal(t, 60.21, r.SavingsPercentage)
	assert.Equal(t, models.MarketForeign, r.CheaperMarket)
	assert.Equal(t, int64(11), r.Domestic.ID)
	assert.Equal(t, int64(12), r.Foreign.ID)
	assert.Nil(t, r.Product.Prices)
}

func TestCompare_tieResolvesToDomestic(t *testing.T) {
	t.Parallel()

	got := newEngine(t).Compare([]models.Product{product(1, ptr(25.00), ptr(33250))})
	require.Len(t, got, 1)

	assert.Equal(t, 25.00, got[0].ConvertedForeignPrice)
	assert.Equal(t, 0.0, got[0].SavingsAbsolute)
	assert.Equal(t, 0.0, got[0].SavingsPercentage)
	assert.Equal(t, models.MarketDomestic, got[0].CheaperMarket)
}

func TestCompare_domesticCheaper(t *testing.T) {
	t.Parallel()

	got := newEngine(t).Compare([]models.Product{product(1, ptr(10.00), ptr(26600))})
	require.Len(t, got, 1)

	assert.Equal(t, 20.00, got[0].ConvertedForeignPrice)
	assert.Equal(t, -10.00, got[0].SavingsAbsolute)
	assert.Equal(t, -100.00, got[0].SavingsPercentage)
	assert.Equal(t, models.MarketDomestic, got[0].CheaperMarket)
}

func TestCompare_excludesNonComparable(t *testing.T) {
	t.Parallel()

	duplicated := product(5, ptr(30), ptr(20000))
	duplicated.Prices = append(duplicated.Prices, models.PriceRecord{ID: 99, Market: models.MarketForeign, Price: 19000})

	cases := []struct {
		name    string
		product models.Product
	}{
		{name: "domestic only", product: product(1, ptr(34.00), nil)},
		{name: "foreign only", product: product(2, nil, ptr(18000))},
		{name: "zero domestic price", product: product(3, ptr(0), ptr(18000))},
		{name: "zero foreign price", product: product(4, ptr(20), ptr(0))},
		{name: "two foreign records", product: duplicated},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := newEngine(t).Compare([]models.Product{tc.product, product(100, ptr(34), ptr(18000))})
			require.Len(t, got, 1)
			assert.Equal(t, int64(100), got[0].Product.ID)

			_, ok := newEngine(t).CompareOne(tc.product)
			assert.False(t, ok)
		})
	}
}

func TestCompare_sortsByAbsoluteSavingsThenID(t *testing.T) {
	t.Parallel()

	products := []models.Product{
		product(4, ptr(10), ptr(13300)),  // 0.00
		product(3, ptr(10), ptr(39900)),  // -20.00
		product(2, ptr(50), ptr(39900)),  // 20.00
		product(1, ptr(15), ptr(13300)),  // 5.00
		product(5, ptr(100), ptr(39900)), // 70.00
	}

	got := newEngine(t).Compare(products)
	require.Len(t, got, 5)

	ids := make([]int64, len(got))
	for i, r := range got {
		ids[i] = r.Product.ID
	}
	assert.Equal(t, []int64{5, 2, 3, 1, 4}, ids)
}

func TestCompare_roundsHalfAwayFromZero(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		foreign     float64
		wantSavings float64
		wantPct     float64
	}{
		{name: "positive half", foreign: 10626.7, wantSavings: 0.01, wantPct: 0.13},
		{name: "negative half", foreign: 10653.3, wantSavings: -0.01, wantPct: -0.13},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, ok := newEngine(t).CompareOne(product(7, ptr(8), ptr(tc.foreign)))
			require.True(t, ok)
			assert.Equal(t, tc.wantSavings, got.SavingsAbsolute)
			assert.Equal(t, tc.wantPct, got.SavingsPercentage)
		})
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func TestCompare_properties(t *testing.T) {
	t.Parallel()

	rnd := rand.New(rand.NewSource(42))
	products := make([]models.Product, 0, 200)
	for i := range 200 {
		domestic := float64(rnd.Intn(20000)+1) / 100
		foreign := float64(rnd.Intn(100000) + 100)
		products = append(products, product(int64(i+1), &domestic, &foreign))
	}

	e := newEngine(t)
	got := e.Compare(products)
	require.Len(t, got, 200)

	for i, r := range got {
		assert.InDelta(t, round2(r.DomesticPrice-r.ConvertedForeignPrice), r.SavingsAbsolute, 1e-9)

		if r.SavingsAbsolute > 0 {
			assert.Equal(t, models.MarketForeign, r.CheaperMarket)
		} else {
			assert.Equal(t, models.MarketDomestic, r.CheaperMarket)
		}

		if i > 0 {
			assert.GreaterOrEqual(t, math.Abs(got[i-1].SavingsAbsolute), math.Abs(r.SavingsAbsolute))
		}
	}

	assert.Equal(t, got, e.Compare(products))
}

package getConfig

import (
	"net/http"

	resp "price_service/internal/lib/api/response"

	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	ScrapingEnabled bool     `json:"scraping_enabled"`
	ExchangeRate    float64  `json:"exchange_rate"`
	SupportedStores []string `json:"supported_stores"`
}

// New reports whether live price refresh is available in this deployment,
// the KRW per USD rate comparisons use and the stores with dedicated extractors.
func New(scrapingEnabled bool, exchangeRate float64, stores []string) http.HandlerFunc {
	if stores == nil {
		stores = []string{}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, Response{
			Response:        resp.OK(),
			ScrapingEnabled: scrapingEnabled,
			ExchangeRate:    exchangeRate,
			SupportedStores: stores,
		})
	}
}

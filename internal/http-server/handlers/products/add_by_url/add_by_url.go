package addByURL

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"price_service/internal/fetcher"
	resp "price_service/internal/lib/api/response"
	sl "price_service/internal/lib/logger/sl"
	"price_service/internal/models"
	"price_service/internal/refresh"
	"price_service/internal/storage"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	validator "github.com/go-playground/validator/v10"
)

var errWrongCurrency = errors.New("scraped price is in an unexpected currency")

type Request struct {
	Category    string        `json:"category" validate:"required"`
	Brand       string        `json:"brand,omitempty"`
	Description string        `json:"description,omitempty"`
	Domestic    *StoreRequest `json:"domestic_store,omitempty" validate:"required_without=Foreign"`
	Foreign     *StoreRequest `json:"foreign_store,omitempty" validate:"required_without=Domestic"`
}

type StoreRequest struct {
	Name string `json:"name" validate:"required"`
	URL  string `json:"url" validate:"required,url"`
}

type Response struct {
	resp.Response
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
}

type Scraper interface {
	Scrape(ctx context.Context, pageURL, store string) (fetcher.Listing, error)
}

type ProductAdder interface {
	AddProduct(ctx context.Context, np models.NewProduct) (int64, error)
}

// New creates a product from its store pages. The foreign listing names the
// product when both markets are given.
func New(
	log *slog.Logger,
	scraper Scraper,
	prodOp ProductAdder,
	validate *validator.Validate,
	scrapingEnabled bool,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.products.add_by_url.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if !scrapingEnabled {
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, resp.Error(refresh.ErrCapabilityDisabled.Error()))

			return
		}

		var req Request

		r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		if err := validate.Struct(req); err != nil {
			log.Error("Invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(err))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
		defer cancel()

		np := models.NewProduct{
			Category:    strings.TrimSpace(req.Category),
			Brand:       strings.TrimSpace(req.Brand),
			Description: req.Description,
		}

		// foreign first so its listing names the product
		for _, m := range []struct {
			store    *StoreRequest
			currency string
			dst      **models.NewPrice
		}{
			{req.Foreign, "KRW", &np.Foreign},
			{req.Domestic, "USD", &np.Domestic},
		} {
			if m.store == nil {
				continue
			}

			listing, err := scrape(ctx, scraper, m.store, m.currency)
			if err != nil {
				log.Warn("Failed to scrape store page",
					sl.Err(err),
					slog.String("store", m.store.Name),
					slog.String("url", m.store.URL),
				)

				if errors.Is(err, errWrongCurrency) {
					render.Status(r, http.StatusUnprocessableEntity)
				} else {
					render.Status(r, http.StatusBadGateway)
				}
				render.JSON(w, r, resp.Error(fmt.Sprintf("Failed to scrape %s", m.store.Name)))

				return
			}

			if np.Name == "" {
				np.Name = listing.Name
				np.ImageURL = listing.ImageURL
			}

			*m.dst = &models.NewPrice{
				StoreName:    strings.TrimSpace(m.store.Name),
				StoreWebsite: origin(m.store.URL),
				SourceURL:    m.store.URL,
				Price:        listing.Price,
				Currency:     listing.Currency,
				IsAvailable:  listing.IsAvailable,
			}
		}

		productID, err := prodOp.AddProduct(ctx, np)
		if err != nil {
			if errors.Is(err, storage.ErrProductExists) {
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, resp.Error("Product already exists"))

				return
			}

			log.Error("Failed to save product", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("Product scraped and saved", slog.Int64("product_id", productID), slog.String("name", np.Name))

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, Response{
			Response:  resp.OK(),
			ProductID: productID,
			Name:      np.Name,
		})
	}
}

func scrape(ctx context.Context, scraper Scraper, store *StoreRequest, currency string) (fetcher.Listing, error) {
	listing, err := scraper.Scrape(ctx, store.URL, store.Name)
	if err != nil {
		return fetcher.Listing{}, err
	}

	if !strings.EqualFold(listing.Currency, currency) {
		return fetcher.Listing{}, fmt.Errorf("%w: got %s, want %s", errWrongCurrency, listing.Currency, currency)
	}

	return listing, nil
}

func origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}

	return u.Scheme + "://" + u.Host
}

package addProduct

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	resp "price_service/internal/lib/api/response"
	sl "price_service/internal/lib/logger/sl"
	"price_service/internal/models"
	"price_service/internal/storage"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	validator "github.com/go-playground/validator/v10"
)

type Request struct {
	Category    string        `json:"category" validate:"required"`
	Name        string        `json:"name" validate:"required"`
	Brand       string        `json:"brand,omitempty"`
	Description string        `json:"description,omitempty"`
	ImageURL    string        `json:"image_url,omitempty" validate:"omitempty,url"`
	Domestic    *PriceRequest `json:"domestic_price,omitempty" validate:"required_without=Foreign"`
	Foreign     *PriceRequest `json:"foreign_price,omitempty" validate:"required_without=Domestic"`
}

type PriceRequest struct {
	StoreName    string  `json:"store_name" validate:"required"`
	StoreWebsite string  `json:"store_website,omitempty" validate:"omitempty,url"`
	SourceURL    string  `json:"source_url" validate:"required,url"`
	Price        float64 `json:"price" validate:"gt=0"`
	Currency     string  `json:"currency,omitempty" validate:"omitempty,len=3"`
	IsAvailable  *bool   `json:"is_available,omitempty"`
}

type Response struct {
	resp.Response
	ProductID int64 `json:"product_id"`
}

type ProductAdder interface {
	AddProduct(ctx context.Context, np models.NewProduct) (int64, error)
}

func New(
	log *slog.Logger,
	prodOp ProductAdder,
	validate *validator.Validate,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.products.add.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
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

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		productID, err := prodOp.AddProduct(ctx, req.toModel())
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

		log.Info("Product saved successfully", slog.Int64("product_id", productID))

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, Response{
			Response:  resp.OK(),
			ProductID: productID,
		})
	}
}

func (req Request) toModel() models.NewProduct {
	return models.NewProduct{
		Category:    strings.TrimSpace(req.Category),
		Name:        strings.TrimSpace(req.Name),
		Brand:       strings.TrimSpace(req.Brand),
		Description: req.Description,
		ImageURL:    req.ImageURL,
		Domestic:    req.Domestic.toModel("USD"),
		Foreign:     req.Foreign.toModel("KRW"),
	}
}

func (p *PriceRequest) toModel(defaultCurrency string) *models.NewPrice {
	if p == nil {
		return nil
	}

	currency := strings.ToUpper(p.Currency)
	if currency == "" {
		currency = defaultCurrency
	}

	available := true
	if p.IsAvailable != nil {
		available = *p.IsAvailable
	}

	return &models.NewPrice{
		StoreName:    strings.TrimSpace(p.StoreName),
		StoreWebsite: p.StoreWebsite,
		SourceURL:    p.SourceURL,
		Price:        p.Price,
		Currency:     currency,
		IsAvailable:  available,
	}
}

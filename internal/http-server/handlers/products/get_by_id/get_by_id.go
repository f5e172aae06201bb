package getByID

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	resp "price_service/internal/lib/api/response"
	sl "price_service/internal/lib/logger/sl"
	"price_service/internal/models"
	"price_service/internal/storage"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	models.ProductDetail
}

type ProductGetter interface {
	ProductByID(ctx context.Context, productID int64) (models.ProductDetail, error)
}

func New(
	log *slog.Logger,
	prodOp ProductGetter,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.products.get_by_id.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		productID := parseProductID(r)
		if productID == -1 {
			log.Error("Invalid id")

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Invalid id"))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		detail, err := prodOp.ProductByID(ctx, productID)
		if err != nil {
			if errors.Is(err, storage.ErrProductNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("Product not found"))

				return
			}

			log.Error("Failed to get product",
				sl.Err(err),
				slog.Int64("product_id", productID),
			)

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("Product got successfully", slog.Int64("product_id", productID))

		render.JSON(w, r, Response{
			Response:      resp.OK(),
			ProductDetail: detail,
		})
	}
}

func parseProductID(r *http.Request) int64 {
	productIDStr := r.URL.Query().Get("id")
	if productIDStr == "" {
		return -1
	}

	productID, err := strconv.ParseInt(productIDStr, 10, 64)
	if err != nil || productID <= 0 {
		return -1
	}

	return productID
}

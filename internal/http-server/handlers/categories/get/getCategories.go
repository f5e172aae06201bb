package getCategories

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	resp "price_service/internal/lib/api/response"
	sl "price_service/internal/lib/logger/sl"
	"price_service/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	Categories []models.Category `json:"categories"`
}

type CategoriesGetter interface {
	Categories(ctx context.Context) ([]models.Category, error)
}

func New(
	log *slog.Logger,
	getter CategoriesGetter,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.categories.get.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		categories, err := getter.Categories(ctx)
		if err != nil {
			log.Error("Failed to get categories", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		if categories == nil {
			categories = []models.Category{}
		}

		w.Header().Set("Cache-Control", "public, max-age=60")

		render.JSON(w, r, Response{
			Response:   resp.OK(),
			Categories: categories,
		})
	}
}

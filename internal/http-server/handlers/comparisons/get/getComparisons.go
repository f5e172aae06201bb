package getComparisons

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	resp "price_service/internal/lib/api/response"
	sl "price_service/internal/lib/logger/sl"
	"price_service/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

const (
	defaultLimit = 20
	maxLimit     = 50
)

type Response struct {
	resp.Response
	Comparisons []models.ComparisonResult `json:"comparisons"`
}

type ComparisonsGetter interface {
	Comparisons(ctx context.Context, filter models.ProductFilter) ([]models.ComparisonResult, error)
}

func New(
	log *slog.Logger,
	getter ComparisonsGetter,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.comparisons.get.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		filter := models.ProductFilter{
			Search: strings.TrimSpace(r.URL.Query().Get("search")),
			Limit:  parseLimit(r),
		}

		if raw := r.URL.Query().Get("category_id"); raw != "" {
			categoryID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || categoryID <= 0 {
				log.Error("Invalid category id", slog.String("category_id", raw))

				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("Invalid category_id"))

				return
			}
			filter.CategoryID = &categoryID
		}

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		comparisons, err := getter.Comparisons(ctx, filter)
		if err != nil {
			log.Error("Failed to get comparisons", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		if comparisons == nil {
			comparisons = []models.ComparisonResult{}
		}

		log.Info("Comparisons computed", slog.Int("count", len(comparisons)))

		render.JSON(w, r, Response{
			Response:    resp.OK(),
			Comparisons: comparisons,
		})
	}
}

func parseLimit(r *http.Request) int {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return defaultLimit
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return defaultLimit
	}

	if limit > maxLimit {
		return maxLimit
	}

	return limit
}

package triggerRefresh

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	resp "price_service/internal/lib/api/response"
	sl "price_service/internal/lib/logger/sl"
	"price_service/internal/models"
	"price_service/internal/refresh"
	"price_service/internal/storage"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	validator "github.com/go-playground/validator/v10"
)

type Request struct {
	ProductID *int64 `json:"product_id,omitempty" validate:"omitempty,gt=0"`
}

type Response struct {
	resp.Response
	Updated int                     `json:"updated"`
	Failed  int                     `json:"failed"`
	Results []models.RefreshOutcome `json:"results"`
}

type Trigger interface {
	TriggerUpdate(ctx context.Context, productID *int64) ([]models.RefreshOutcome, error)
}

// New runs a forced refresh pass and answers once it is finished. The pass is paced,
// so the server write timeout has to leave room for it.
func New(
	log *slog.Logger,
	trigger Trigger,
	validate *validator.Validate,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.refresh.trigger.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		r.Body = http.MaxBytesReader(w, r.Body, 1<<10)
		err := render.DecodeJSON(r.Body, &req)
		if err != nil && !errors.Is(err, io.EOF) {
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

		outcomes, err := trigger.TriggerUpdate(r.Context(), req.ProductID)
		if err != nil {
			switch {
			case errors.Is(err, refresh.ErrCapabilityDisabled):
				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, resp.Error(refresh.ErrCapabilityDisabled.Error()))
			case errors.Is(err, storage.ErrProductNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("Product not found"))
			case errors.Is(err, refresh.ErrPassInProgress):
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, resp.Error(refresh.ErrPassInProgress.Error()))
			default:
				log.Error("Failed to run refresh", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))
			}

			return
		}

		res := Response{
			Response: resp.OK(),
			Results:  outcomes,
		}
		for _, o := range outcomes {
			if o.Updated {
				res.Updated++
			} else {
				res.Failed++
			}
		}

		log.Info("Manual refresh finished",
			slog.Int("updated", res.Updated),
			slog.Int("failed", res.Failed),
		)

		render.JSON(w, r, res)
	}
}

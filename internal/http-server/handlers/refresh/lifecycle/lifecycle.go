// Package refreshLifecycle exposes the scheduler's start and stop to admins.
package refreshLifecycle

import (
	"context"
	"log/slog"
	"net/http"

	resp "price_service/internal/lib/api/response"
	"price_service/internal/refresh"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	refresh.Status
}

type Controller interface {
	Start(ctx context.Context)
	Stop()
	Status() refresh.Status
}

// Start runs the scheduler under ctx, which must outlive the request.
func Start(ctx context.Context, log *slog.Logger, ctrl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.refresh.lifecycle.Start"

		if !ctrl.Status().ScrapingEnabled {
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, resp.Error(refresh.ErrCapabilityDisabled.Error()))

			return
		}

		ctrl.Start(ctx)

		log.Info("Scheduler start requested",
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		render.JSON(w, r, Response{Response: resp.OK(), Status: ctrl.Status()})
	}
}

func Stop(log *slog.Logger, ctrl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.refresh.lifecycle.Stop"

		ctrl.Stop()

		log.Info("Scheduler stop requested",
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		render.JSON(w, r, Response{Response: resp.OK(), Status: ctrl.Status()})
	}
}

package health

import (
	"net/http"
	"time"

	"price_service/internal/clock"

	"github.com/go-chi/render"
)

type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime"`
}

// New reports liveness with the uptime in seconds since startedAt.
func New(clk clock.Clock, startedAt time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := clk.Now()

		render.JSON(w, r, Response{
			Status:    "ok",
			Timestamp: now,
			Uptime:    now.Sub(startedAt).Seconds(),
		})
	}
}

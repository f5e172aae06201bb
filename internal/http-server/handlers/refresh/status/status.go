package refreshStatus

import (
	"net/http"

	resp "price_service/internal/lib/api/response"
	"price_service/internal/refresh"

	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	refresh.Status
}

type StatusGetter interface {
	Status() refresh.Status
}

func New(getter StatusGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, Response{
			Response: resp.OK(),
			Status:   getter.Status(),
		})
	}
}

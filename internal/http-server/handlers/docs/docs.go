package docs

import (
	"fmt"
	"log/slog"
	"net/http"

	sl "price_service/internal/lib/logger/sl"

	scalargo "github.com/bdpiprava/scalar-go"
)

// New serves the API reference rendered from api.yaml in specDir.
func New(log *slog.Logger, specDir, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.docs.New"

		html, err := scalargo.NewV2(
			scalargo.WithSpecDir(specDir),
			scalargo.WithMetaDataOpts(
				scalargo.WithTitle(title),
			),
		)
		if err != nil {
			log.Error("Failed to render API reference", slog.String("op", op), sl.Err(err))
			http.Error(w, "API reference unavailable", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
	}
}

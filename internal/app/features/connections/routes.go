// internal/app/features/connections/routes.go
package connections

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes mounts the connection endpoints. requireSignedIn guards every route.
func Routes(h *Handler, requireSignedIn func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(requireSignedIn)

	r.Post("/", h.HandleRequest)
	r.Get("/", h.ServeList)
	r.Get("/incoming", h.ServeIncoming)
	r.Get("/{id}", h.ServeConnection)
	r.Delete("/{id}", h.HandleRemove)
	r.Post("/{id}/respond", h.HandleRespond)
	r.Post("/{id}/withdraw", h.HandleWithdraw)

	return r
}

package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tschew72/gameblitz-sub001/internal/ws"
)

func SetupRoutes(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Post("/games", CreateGame(deps))
	r.Get("/games", ListGames(deps))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(deps.Hub, deps.Logger))
	return r
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/cinema-room/backend/internal/handler/room"
	middlewarePkg "github.com/zhouzirui/cinema-room/backend/internal/middleware"
	roomService "github.com/zhouzirui/cinema-room/backend/internal/service/room"
	"github.com/zhouzirui/cinema-room/backend/pkg/utils"
)

// NewRouter wires HTTP routes to the room session manager.
func NewRouter(manager *roomService.Manager, logger *zap.SugaredLogger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"views":  manager.Len(),
		})
	})

	roomHandler := room.New(manager, logger)

	r.Route("/api", func(api chi.Router) {
		roomHandler.RegisterRoutes(api)
	})

	return r
}

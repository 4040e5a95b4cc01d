package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	authhandler "github.com/quadai/quad/internal/handler/auth"
	chathandler "github.com/quadai/quad/internal/handler/chat"
	sessionhandler "github.com/quadai/quad/internal/handler/session"
	middlewarePkg "github.com/quadai/quad/internal/middleware"
	chatsvc "github.com/quadai/quad/internal/service/chat"
	sessionsvc "github.com/quadai/quad/internal/service/session"
	usersvc "github.com/quadai/quad/internal/service/user"
	"github.com/quadai/quad/pkg/utils"
)

// Services carries everything the router mounts. Coordinator may be nil when
// no engine is configured; the chat endpoints then refuse politely.
// RateLimiter may be nil to disable limiting.
type Services struct {
	Sessions    *sessionsvc.Service
	Users       *usersvc.Service
	Coordinator *chatsvc.Coordinator
	RateLimiter *middlewarePkg.RateLimiter
}

// NewRouter wires HTTP routes to core services.
func NewRouter(s Services) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.Identity)

		api.Get("/health", handleHealth)

		authhandler.New(s.Users, s.Sessions).RegisterRoutes(api)
		sessionhandler.New(s.Sessions).RegisterRoutes(api)

		// The chat endpoints are the only ones that reach the engine, and the
		// only ones worth a per-client budget.
		api.Group(func(g chi.Router) {
			if s.RateLimiter != nil {
				g.Use(s.RateLimiter.Middleware)
			}
			chathandler.New(s.Coordinator).RegisterRoutes(g)
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

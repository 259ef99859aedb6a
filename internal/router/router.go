package router

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-exam-portal/internal/config"
	"go-exam-portal/internal/handler"
	"go-exam-portal/internal/middleware"
	"go-exam-portal/internal/model"
)

type Handlers struct {
	Students *handler.AuthHandler
	Teachers *handler.AuthHandler
	Admins   *handler.AuthHandler
}

// Observability carries the optional /metrics handler, the request observer
// fed by the logging middleware and the store check behind /health.
type Observability struct {
	Metrics  http.Handler
	Observer middleware.RequestObserver
	Health   func(ctx context.Context) error
}

func New(
	cfg *config.Config,
	authMiddleware *middleware.AuthMiddleware,
	handlers Handlers,
	avatarRoot string,
	obs Observability,
) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging(obs.Observer))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if obs.Health != nil {
			if err := obs.Health(req.Context()); err != nil {
				slog.Error("health check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", obs.Metrics)
	}
	if avatarRoot != "" {
		r.Handle("/static/avatars/*", http.StripPrefix("/static/avatars/", http.FileServer(http.Dir(avatarRoot))))
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route(collection(model.RoleStudent), func(students chi.Router) {
			students.Post("/register", handlers.Students.Register)
			mountSession(students, authMiddleware, handlers.Students, model.RoleStudent)
		})

		api.Route(collection(model.RoleTeacher), func(teachers chi.Router) {
			teachers.Post("/register", handlers.Teachers.Register)
			mountSession(teachers, authMiddleware, handlers.Teachers, model.RoleTeacher)
		})

		api.Route(collection(model.RoleAdmin), func(admins chi.Router) {
			if cfg.AllowAdminSelfRegistration {
				admins.Post("/register", handlers.Admins.Register)
			} else {
				admins.With(authMiddleware.RequireAuth, authMiddleware.RequireRoles(model.RoleAdmin)).Post("/register", handlers.Admins.Register)
			}
			mountSession(admins, authMiddleware, handlers.Admins, model.RoleAdmin)
		})
	})

	return r
}

// mountSession registers the login, refresh and authenticated routes shared
// by every role collection.
func mountSession(r chi.Router, authMiddleware *middleware.AuthMiddleware, h *handler.AuthHandler, role model.Role) {
	r.Post("/login", h.Login)
	r.Post("/refresh-token", h.RefreshToken)

	r.Group(func(private chi.Router) {
		private.Use(authMiddleware.RequireAuth, authMiddleware.RequireRoles(role))

		private.Post("/logout", h.Logout)
		private.Post("/change-password", h.ChangePassword)
		private.Get("/current", h.Current)
		private.Patch("/update-details", h.UpdateDetails)
		private.Patch("/avatar", h.UpdateAvatar)
	})
}

func collection(role model.Role) string {
	return "/" + model.DescriptorFor(role).Collection
}

package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/taskboard/internal/auth"
	"github.com/BuzzLyutic/taskboard/pkg/respond"
)

// Authenticate attaches the bearer identity to the request context.
func Authenticate(v *auth.Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := v.FromHeader(r.Header.Get("Authorization"))
			if err != nil {
				if !errors.Is(err, auth.ErrMissingToken) {
					logger.Debug("rejected token", zap.Error(err))
				}
				respond.Error(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

func NewRouter(h *TaskHandler, v *auth.Verifier) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(v, h.logger))

		r.Get("/projects/{projectID}/board", h.Board)
		r.Post("/projects/{projectID}/tasks", h.Create)

		r.Get("/tasks/{id}", h.Get)
		r.Post("/tasks/{id}/move", h.Move)
		r.Patch("/tasks/{id}/status", h.ChangeStatus)
		r.Delete("/tasks/{id}", h.Delete)
	})
	return r
}

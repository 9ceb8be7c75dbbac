package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/a2v-stg/api-mock-lab/internal/auth"
	"github.com/a2v-stg/api-mock-lab/internal/config"
	"github.com/a2v-stg/api-mock-lab/internal/schema"
	"github.com/a2v-stg/api-mock-lab/internal/storage"
)

// Deps are the collaborators the router mounts. Mock and Live are the
// traffic and subscription handlers; everything else backs the admin API.
type Deps struct {
	Store   storage.Storage
	Auth    *auth.Service
	Schemas *schema.Validator
	Mock    http.Handler
	Live    http.Handler
}

type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	router *chi.Mux
	log    zerolog.Logger
	http   *http.Server
}

func NewServer(cfg config.ServerConfig, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	authHandler := NewAuthHandler(s.deps.Auth)
	entityHandler := NewEntityHandler(s.deps.Store, s.cfg.MockPrefix)
	epHandler := NewEndpointHandler(s.deps.Store, s.deps.Schemas)

	r.Get("/health", Health)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Group(func(r chi.Router) {
			r.Use(s.deps.Auth.RequireUser)
			r.Get("/me", authHandler.Me)
			r.Post("/logout", authHandler.Logout)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.deps.Auth.RequireUser)

		r.Post("/entities", entityHandler.Create)
		r.Get("/entities", entityHandler.List)
		r.Get("/entities/{id}", entityHandler.Get)
		r.Patch("/entities/{id}", entityHandler.Update)
		r.Delete("/entities/{id}", entityHandler.Delete)
		r.Post("/entities/{id}/share", entityHandler.Share)
		r.Delete("/entities/{id}/share/{user_id}", entityHandler.Unshare)
		r.Get("/entities/{id}/stats", entityHandler.Stats)
		r.Get("/entities/{id}/logs", entityHandler.Logs)
		r.Delete("/entities/{id}/logs", entityHandler.ClearLogs)

		r.Post("/entities/{id}/endpoints", epHandler.Create)
		r.Get("/entities/{id}/endpoints", epHandler.List)
		r.Get("/endpoints/{id}", epHandler.Get)
		r.Put("/endpoints/{id}", epHandler.Update)
		r.Delete("/endpoints/{id}", epHandler.Delete)
		r.Patch("/endpoints/{id}/toggle", epHandler.Toggle)
		r.Post("/endpoints/{id}/switch-scenario/{index}", epHandler.SwitchScenario)
		r.Get("/endpoints/{id}/logs", epHandler.Logs)
	})

	r.Get("/ws/logs/{entity_id}", s.deps.Live.ServeHTTP)

	// Mock traffic: every method, every path under the prefix.
	r.Handle(strings.TrimRight(s.cfg.MockPrefix, "/")+"/*", s.deps.Mock)

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   "mocklab",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

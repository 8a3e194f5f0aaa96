package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/geonotify/portal/internal/config"
	"github.com/geonotify/portal/pkg/health"
)

// Server is the portal's HTTP front. It owns the router; the handlers own
// the behavior.
type Server struct {
	cfg    config.HTTP
	router chi.Router
	log    *slog.Logger
}

// New assembles the router around the given handler set.
func New(cfg config.HTTP, h *Handler, checks health.Checks, log *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", h.login)
		r.Get("/callback", h.callback)
		r.Post("/signin", h.signin)
		r.Get("/session", h.session)
		r.Get("/events", h.events)
		r.Post("/logout", h.logout)
	})
	r.Get("/livez", health.LivenessHandler())
	r.Get("/healthz", health.ReadinessHandler(checks, health.WithLogger(log)))

	return &Server{cfg: cfg, router: r, log: log}
}

// Router exposes the assembled router for tests and for mounting under a
// larger mux.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves until ctx is done, then drains in-flight requests within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("http server starting", slog.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(s.cfg.ShutdownTimeout)*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

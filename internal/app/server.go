package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markdave123-py/knowledgehub/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/knowledgehub/internal/api/middlewares"
	"github.com/markdave123-py/knowledgehub/internal/config"
)

const requestTimeout = 60 * time.Second

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, logger *slog.Logger, files handlers.FileService, chat handlers.ChatService, checks map[string]handlers.Pinger) *Server {
	fileHandler := handlers.NewFileHandler(files, logger)
	chatHandler := handlers.NewChatHandler(chat, logger)
	healthHandler := handlers.NewHealthHandler(checks)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(cfg, logger, fileHandler, chatHandler, healthHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &Server{httpServer: httpSrv, shutdownTimeout: cfg.ShutdownTimeout, logger: logger}
}

func newRouter(cfg *config.Config, logger *slog.Logger, files *handlers.FileHandler, chat *handlers.ChatHandler, health *handlers.HealthHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.RequestLogger(logger))
	r.Use(appMiddleware.Metrics)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(cors.Handler(corsOptions(cfg.CorsOrigins)))

	r.Get("/health", health.Health)
	r.Handle("/metrics", promhttp.Handler())

	mountAPI := func(api chi.Router) {
		api.Use(appMiddleware.RateLimit(cfg.ThrottleLimit, cfg.ThrottleTTL))

		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware([]byte(cfg.JWTSecret), logger))

			protected.Post("/files/upload", files.Upload)
			protected.Get("/files", files.List)
			protected.Get("/files/{id}", files.Get)
			protected.Delete("/files/{id}", files.Delete)

			protected.Post("/ai/chat", chat.Chat)
		})
	}
	if cfg.GlobalPrefix == "" {
		r.Group(mountAPI)
	} else {
		r.Route(cfg.GlobalPrefix, mountAPI)
	}
	return r
}

func corsOptions(origins []string) cors.Options {
	opts := cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		opts.AllowedOrigins = []string{"*"}
		return opts
	}
	opts.AllowCredentials = true
	return opts
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

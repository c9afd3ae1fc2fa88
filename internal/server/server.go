// Package server exposes the render pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/czhmisaka/Html2Img/internal/model"
	"github.com/czhmisaka/Html2Img/internal/pipeline"
	"github.com/czhmisaka/Html2Img/internal/render"
	"github.com/czhmisaka/Html2Img/internal/sanitize"
	"github.com/czhmisaka/Html2Img/internal/worker"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneInterval   = 3 * time.Minute
	clientIdleAfter = 5 * time.Minute
)

// Service is the part of the pipeline the API needs
type Service interface {
	Sanitize(markup string, opts sanitize.Options) (string, error)
	Render(ctx context.Context, req pipeline.Request) (*render.Result, error)
	RenderCached(ctx context.Context, req pipeline.Request) (*pipeline.CachedResult, error)
	Lookup(key string) (*render.Result, error)
	CacheEnabled() bool
}

// Server is the HTTP API
type Server struct {
	echo    *echo.Echo
	addr    string
	limiter *worker.Limiter
	logger  zerolog.Logger
}

// New wires routes and middleware around svc
func New(svc Service, cfg model.ServerConfig, logger zerolog.Logger) *Server {
	s := &Server{
		echo:    echo.New(),
		addr:    cfg.Addr,
		limiter: worker.NewLimiter(cfg.RequestsPerSecond, cfg.Burst),
		logger:  logger.With().Str("component", "server").Logger(),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(s.logger)
	e.IPExtractor = echo.ExtractIPDirect()
	if cfg.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	}

	e.Use(requestLogger(s.logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	h := &handler{svc: svc}
	e.GET("/health", h.health)

	api := e.Group("/api", rateLimit(s.limiter))
	api.POST("/sanitize", h.sanitize)
	api.POST("/screenshot", h.screenshot)
	api.POST("/cache", h.cache)

	e.GET("/cache/:id", h.cachedImage)

	return s
}

// Handler returns the root http.Handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("listening")
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case err, ok := <-errCh:
			if ok {
				return err
			}
			return nil
		case <-ticker.C:
			if n := s.limiter.Prune(clientIdleAfter); n > 0 {
				s.logger.Debug().Int("pruned", n).Int("tracked", s.limiter.Keys()).Msg("pruned idle rate limiters")
			}
		case <-ctx.Done():
			s.logger.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return s.echo.Shutdown(shutdownCtx)
		}
	}
}

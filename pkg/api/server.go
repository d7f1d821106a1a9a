package api

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tdurouchoux/home-monitoring-display/pkg/session"
	"github.com/tdurouchoux/home-monitoring-display/pkg/storage"
)

var validate = validator.New()

// Server implements the HTTP API server
type Server struct {
	source   storage.Source
	sessions *session.Registry
	loc      *time.Location
	gatherer prometheus.Gatherer
	timeout  time.Duration
	now      func() time.Time

	addr string
	app  *fiber.App
}

// Option configures a Server
type Option func(*Server)

// WithLocation sets the timezone used for naive time parameters
func WithLocation(loc *time.Location) Option {
	return func(s *Server) {
		s.loc = loc
	}
}

// WithGatherer sets the registry exposed on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithTimeout sets the read and write timeouts
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

// NewServer creates a new API server over src. Sessions created through
// the API get their window caches from sessions.
func NewServer(addr string, src storage.Source, sessions *session.Registry, opts ...Option) *Server {
	s := &Server{
		source:   src,
		sessions: sessions,
		loc:      time.UTC,
		gatherer: prometheus.DefaultGatherer,
		timeout:  30 * time.Second,
		now:      time.Now,
		addr:     addr,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "home-monitoring-display",
		DisableStartupMessage: true,
		ReadTimeout:           s.timeout,
		WriteTimeout:          s.timeout,
		ErrorHandler:          errorHandler,
	})
	s.app.Use(logger.New())
	s.app.Use(recover.New())
	s.routes()

	return s
}

func (s *Server) routes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.app.Group("/api/v1")
	v1.Get("/series", s.handleSeries)
	v1.Get("/presets", s.handlePresets)
	v1.Post("/sessions", s.handleCreateSession)
	v1.Delete("/sessions/:id", s.handleDeleteSession)
	v1.Get("/sessions/:id/stats", s.handleSessionStats)
	v1.Get("/sessions/:id/query", s.handleSessionQuery)
	v1.Get("/latest", s.handleLatest)
	v1.Get("/mean", s.handleMean)
	v1.Post("/write", s.handleWrite)
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.app.Listen(s.addr)
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler renders every error as JSON with a status derived from its kind
func errorHandler(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Int("status", code).Msg("Request failed")
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, storage.ErrInvalidRange):
		return fiber.StatusBadRequest
	case errors.Is(err, storage.ErrUnknownSource),
		errors.Is(err, storage.ErrSeriesNotFound),
		errors.Is(err, storage.ErrNoData),
		errors.Is(err, session.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, storage.ErrReadOnly):
		return fiber.StatusForbidden
	case errors.Is(err, storage.ErrSourceUnavailable):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

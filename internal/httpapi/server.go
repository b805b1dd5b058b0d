package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrEthical07/otpbroker"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type (
	Options struct {
		Address        string
		Debug          bool
		DisableReqLogs bool
		// TrustProxy reads the client IP from X-Forwarded-For. Leave it off
		// unless a proxy you control sets the header.
		TrustProxy bool

		Engine   *otpbroker.Engine
		Logger   *zap.Logger
		Reporter otpbroker.ErrorReporter
		// Metrics is mounted at /metrics when set.
		Metrics http.Handler
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
	}

	server struct {
		opts   *Options
		app    *echo.Echo
		logger *zap.Logger
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) (Server, error) {
	if opts == nil || opts.Engine == nil {
		return nil, errors.New("httpapi: engine required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &server{
		opts:   opts,
		app:    echo.New(),
		logger: logger.Named("http"),
	}
	if err := s.setup(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *server) setup() error {
	rv, err := newRequestValidator()
	if err != nil {
		return err
	}

	s.app.HideBanner = true
	s.app.HidePort = true
	s.app.Debug = s.opts.Debug
	s.app.Validator = rv
	s.app.HTTPErrorHandler = newHTTPErrorHandler(s.logger, s.opts.Reporter, rv.translator)
	if s.opts.TrustProxy {
		s.app.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		s.app.IPExtractor = echo.ExtractIPDirect()
	}

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(requestLogger(s.logger))
	}
	// panics surface in debug mode
	if !s.opts.Debug {
		s.app.Use(middleware.Recover())
	}
	s.app.Use(clientIP)

	s.app.GET("/healthz", s.health)
	if s.opts.Metrics != nil {
		s.app.GET("/metrics", echo.WrapHandler(s.opts.Metrics))
	}

	v1 := s.app.Group("/v1")
	registerAuthAPI(v1, s.opts.Engine)

	return nil
}

// Start blocks until the server stops. A clean Stop returns nil.
func (s *server) Start() error {
	s.logger.Info("listening", zap.String("address", s.opts.Address))
	if err := s.app.Start(s.opts.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *server) health(ctx echo.Context) error {
	if err := s.opts.Engine.Ping(ctx.Request().Context()); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "unavailable")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

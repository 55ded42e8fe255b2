package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"horse.fit/dailybrief/internal/daily"
	"horse.fit/dailybrief/internal/globaltime"
	"horse.fit/dailybrief/internal/model"
)

const maxDayLimit = 1000

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// PolicyVersion is reported by the health endpoint.
	PolicyVersion string
}

type Server struct {
	store  daily.Store
	logger zerolog.Logger
	opts   Options
}

type dayResponse struct {
	Date          string              `json:"date"`
	View          daily.View          `json:"view"`
	Category      string              `json:"category,omitempty"`
	MinImportance float64             `json:"min_importance,omitempty"`
	Count         int                 `json:"count"`
	Items         []model.DailyRecord `json:"items"`
}

const (
	defaultHost            = "0.0.0.0"
	defaultPort            = 8090
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	idleTimeout            = 60 * time.Second
)

func (o Options) withDefaults() Options {
	o.Host = strings.TrimSpace(o.Host)
	if o.Host == "" {
		o.Host = defaultHost
	}
	if o.Port <= 0 {
		o.Port = defaultPort
	}
	o.ReadTimeout = positiveOr(o.ReadTimeout, defaultReadTimeout)
	o.WriteTimeout = positiveOr(o.WriteTimeout, defaultWriteTimeout)
	o.ShutdownTimeout = positiveOr(o.ShutdownTimeout, defaultShutdownTimeout)
	o.PolicyVersion = strings.TrimSpace(o.PolicyVersion)
	return o
}

func positiveOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// NewServer serves persisted days from store. It never writes.
func NewServer(store daily.Store, logger zerolog.Logger, opts Options) *Server {
	return &Server{store: store, logger: logger, opts: opts.withDefaults()}
}

func (s *Server) addr() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

// Handler builds the echo instance with middleware and routes.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(
		middleware.Recover(),
		middleware.RequestID(),
		middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{http.MethodGet, http.MethodOptions},
			MaxAge:       3600,
		}),
		s.accessLog(),
	)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/days/:date", s.handleDay)
	return e
}

// accessLog writes one event per request; failed requests log at error.
func (s *Server) accessLog() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			event, msg := s.logger.Debug(), "request served"
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				event, msg = s.logger.Error().Err(v.Error), "request failed"
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg(msg)
			return nil
		},
	})
}

// Start serves until ctx is cancelled, then drains within ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.store == nil {
		return errors.New("server is not initialized")
	}

	e := s.Handler()
	httpServer := &http.Server{
		Addr:         s.addr(),
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  idleTimeout,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("api shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", httpServer.Addr).Str("policy_version", s.opts.PolicyVersion).Msg("api listening")
	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", httpServer.Addr, err)
	}
	<-stopped
	s.logger.Info().Msg("api stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if strings.HasPrefix(c.Request().URL.Path, "/api/") {
		if status >= 500 {
			_ = errorStatus(c, http.StatusInternalServerError, "Internal server error")
			return
		}
		_ = fail(c, status, message)
		return
	}

	_ = c.String(status, message)
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.store.Ping(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("store health check failed")
		return errorStatus(c, http.StatusServiceUnavailable, "Store unavailable")
	}
	return success(c, map[string]any{
		"service":        "dailybrief",
		"policy_version": s.opts.PolicyVersion,
		"time":           globaltime.UTC(),
	})
}

func (s *Server) handleDay(c echo.Context) error {
	problems := fieldErrors{}
	date, err := parseDate(c.Param("date"))
	problems.add("date", err)
	view, err := daily.ParseView(c.QueryParam("view"))
	if err != nil {
		problems.add("view", errors.New("must be brief or full"))
	}
	minImportance, err := parseImportance(c.QueryParam("min_importance"))
	problems.add("min_importance", err)
	limit, err := parsePositiveInt(c.QueryParam("limit"), 0, 1, maxDayLimit)
	problems.add("limit", err)
	if len(problems) > 0 {
		return failFields(c, problems)
	}

	q := daily.DayQuery{
		Date:          date,
		View:          view,
		Category:      normalizeCategory(c.QueryParam("category")),
		MinImportance: minImportance,
		Limit:         limit,
	}
	records, err := s.store.ReadDay(c.Request().Context(), q)
	if errors.Is(err, daily.ErrDayNotFound) {
		return fail(c, http.StatusNotFound, fmt.Sprintf("No brief for %s", date))
	}
	if err != nil {
		s.logger.Error().Err(err).Str("date", date).Str("view", string(view)).Msg("read day failed")
		return errorStatus(c, http.StatusInternalServerError, "Failed to load day")
	}
	if records == nil {
		records = []model.DailyRecord{}
	}

	return success(c, dayResponse{
		Date:          date,
		View:          view,
		Category:      q.Category,
		MinImportance: minImportance,
		Count:         len(records),
		Items:         records,
	})
}

func normalizeCategory(raw string) string {
	return strings.TrimSpace(strings.ToLower(raw))
}

func parseDate(raw string) (string, error) {
	day, err := time.Parse(model.DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("must be YYYY-MM-DD")
	}
	return day.Format(model.DateLayout), nil
}

func parseImportance(raw string) (float64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("must be a number")
	}
	if value < 0 || value > 100 {
		return 0, fmt.Errorf("must be between 0 and 100")
	}
	return value, nil
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

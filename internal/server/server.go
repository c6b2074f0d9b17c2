package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"turbo-gateway/internal/backend"
	"turbo-gateway/internal/config"
	"turbo-gateway/internal/directory"
	"turbo-gateway/internal/metrics"
	"turbo-gateway/internal/route"
	"turbo-gateway/internal/translator"
)

// Version is the gateway's own version string, reported by /api/version.
const Version = "0.2.0"

const (
	maxBodyBytes        = 10 << 20 // 10 MiB; native model management bodies can be large
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
)

// Server hosts both protocol surfaces on a single listener.
type Server struct {
	cfg      config.Config
	client   *backend.Client
	dir      *directory.Directory
	table    *route.Table
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	app      *echo.Echo
	address  string
}

// New constructs an HTTP server wired with routing and middleware. The
// client/directory pair is injected so tests can rebuild it per case.
func New(cfg config.Config, client *backend.Client, dir *directory.Directory, tbl *route.Table, m *metrics.Metrics, gatherer prometheus.Gatherer) (*Server, error) {
	if client == nil || dir == nil || tbl == nil {
		return nil, errors.New("backend client, directory and route table must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = gatewayErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	srv := &Server{
		cfg:      cfg,
		client:   client,
		dir:      dir,
		table:    tbl,
		metrics:  m,
		gatherer: gatherer,
		app:      e,
		address:  fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
// WriteTimeout is deliberately unset: streaming generations can run long and
// liveness relies on the idle timeout instead.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("starting gateway",
		"addr", s.address,
		"local", s.cfg.Local.BaseURL,
		"remote", s.cfg.Remote.BaseURL,
		"remote_models", s.dir.RemoteModels(),
	)

	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("gateway shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler exposes the wired HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

func (s *Server) registerRoutes() {
	e := s.app

	e.GET("/", s.handleRoot)
	e.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := e.Group("/v1", rateLimitHeaders)
	v1.POST("/chat/completions", s.handleChatCompletions)
	v1.GET("/models", s.handleModels)
	v1.POST("/embeddings", s.handleEmbeddings)
	v1.POST("/completions", s.handleCompletions)

	e.GET("/api/tags", s.handleTags)
	e.GET("/api/ps", s.handlePS)
	e.GET("/api/version", s.handleVersion)
	e.HEAD("/api/blobs", s.handleBlobs)
	e.POST("/api/blobs", s.handleBlobs)
	e.HEAD("/api/blobs/:digest", s.handleBlobs)
	e.POST("/api/blobs/:digest", s.handleBlobs)
	e.Any("/api/*", s.handlePassthrough)
}

// rateLimitHeaders advertises static, informational rate limits on the
// public surface; nothing is enforced.
func rateLimitHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Response().Header()
		header.Set("X-RateLimit-Limit-Requests", "600")
		header.Set("X-RateLimit-Remaining-Requests", "600")
		return next(c)
	}
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		var ve *translator.ValidationError
		if errors.As(err, &ve) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: ve.Message,
				Type:    "invalid_request_error",
				Param:   ve.Param,
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
	Param   string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Param   string `json:"param,omitempty"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType, param, code string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Param = param
	payload.Error.Code = code
	return c.JSON(status, payload)
}

// gatewayErrorHandler renders every error as the consistent envelope shared
// by both surfaces.
func gatewayErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Param, reqErr.Code)
		return
	}

	var ve *translator.ValidationError
	if errors.As(err, &ve) {
		_ = writeError(c, http.StatusBadRequest, ve.Message, "invalid_request_error", ve.Param, "")
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := fmt.Sprintf("%v", he.Message)
		errType := "invalid_request_error"
		if he.Code == http.StatusNotFound {
			errType = "not_found_error"
		}
		_ = writeError(c, he.Code, msg, errType, "", "")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error", "", "")
}

// validationToRequestError maps a translator validation failure onto the
// error envelope with its param pointer.
func validationToRequestError(err error) error {
	var ve *translator.ValidationError
	if errors.As(err, &ve) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: ve.Message,
			Type:    "invalid_request_error",
			Param:   ve.Param,
		}
	}
	return requestError{
		Status:  http.StatusBadRequest,
		Message: err.Error(),
		Type:    "invalid_request_error",
	}
}

// mapUpstreamError converts a backend failure into the caller-facing error.
// An upstream message naming an unknown model surfaces as 404; anything else
// is a bad gateway unless the caller overrides the fallback status.
func mapUpstreamError(err error, fallbackStatus int) error {
	var ue *backend.UpstreamError
	if errors.As(err, &ue) {
		if isUnknownModelMessage(ue.Message) {
			return requestError{
				Status:  http.StatusNotFound,
				Message: ue.Message,
				Type:    "invalid_request_error",
				Param:   "model",
				Code:    "model_not_found",
			}
		}
		return requestError{
			Status:  fallbackStatus,
			Message: ue.Message,
			Type:    "upstream_error",
		}
	}
	return requestError{
		Status:  fallbackStatus,
		Message: "upstream backend unreachable",
		Type:    "upstream_error",
	}
}

func isUnknownModelMessage(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "not found") || strings.Contains(lower, "unknown model")
}

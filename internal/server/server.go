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

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tokumeifriends/koinomae-api1/internal/config"
	"github.com/tokumeifriends/koinomae-api1/internal/models"
	"github.com/tokumeifriends/koinomae-api1/internal/pipeline"
	"github.com/tokumeifriends/koinomae-api1/internal/textutil"
	"github.com/tokumeifriends/koinomae-api1/internal/translator"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
)

// Error codes returned in the "error" field of failure bodies.
const (
	codeInvalidMessages   = "invalid_messages"
	codeInvalidTranscript = "invalid_transcript"
	codeUpstreamFailed    = "upstream_failed"
	codeOpenAIError       = "openai_error"
	codeNoChoices         = "no_choices"
	codeParseFailed       = "parse_failed"
	codeChatFailed        = "chat_failed"
	codeScoreFailed       = "score_failed"
	codeInternal          = "internal_error"
)

// Replier generates conversational replies.
type Replier interface {
	Generate(ctx context.Context, history []models.Message) (pipeline.Reply, error)
}

// Scorer grades transcripts.
type Scorer interface {
	Score(ctx context.Context, transcript string) (models.ScoreResult, error)
}

// Server is the HTTP front of the reply and scoring pipelines.
type Server struct {
	cfg     config.Config
	replier Replier
	scorer  Scorer
	app     *echo.Echo
	address string
}

// New constructs an HTTP server wired with routing and middleware. gatherer
// backs GET /metrics; nil serves the default Prometheus registry.
func New(cfg config.Config, replier Replier, scorer Scorer, gatherer prometheus.Gatherer) (*Server, error) {
	if replier == nil || scorer == nil {
		return nil, errors.New("replier and scorer must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"request_id", v.RequestID,
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			slog.Error("handler panic", "uri", c.Request().RequestURI, "err", err)
			return failureFor(c.Path())
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Server.CORSAllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         31536000,
	}))

	srv := &Server{
		cfg:     cfg,
		replier: replier,
		scorer:  scorer,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes(gatherer)

	return srv, nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	slog.Info("starting server", "addr", s.address, "candidates", s.cfg.Upstream.Candidates())

	// The write timeout must outlast the full fallback sequence.
	writeTimeout := time.Duration(len(s.cfg.Upstream.Candidates()))*s.cfg.Upstream.Timeout + 15*time.Second

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
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
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	s.app.POST("/chat", s.handleChat)
	s.app.POST("/score", s.handleScore)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(c echo.Context) error {
	var req translator.ChatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return invalid(codeInvalidMessages, err)
	}

	reply, err := s.replier.Generate(c.Request().Context(), req.ToModels())
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidInput) {
			return invalid(codeInvalidMessages, err)
		}
		return fmt.Errorf("generate reply: %w", err)
	}

	if reply.Fallback {
		return c.JSON(http.StatusBadGateway, translator.ChatFailureResponse{
			Error: codeUpstreamFailed,
			Reply: reply.Text,
		})
	}
	return c.JSON(http.StatusOK, translator.ChatResponse{Reply: reply.Text})
}

func (s *Server) handleScore(c echo.Context) error {
	var req translator.ScoreRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return invalid(codeInvalidTranscript, err)
	}

	result, err := s.scorer.Score(c.Request().Context(), req.Transcript)
	if err != nil {
		return scoreError(err)
	}
	return c.JSON(http.StatusOK, translator.FromScoreResult(result))
}

func scoreError(err error) error {
	if errors.Is(err, pipeline.ErrInvalidInput) {
		return invalid(codeInvalidTranscript, err)
	}

	var malformed *pipeline.MalformedOutputError
	if errors.As(err, &malformed) {
		return requestError{
			Status: http.StatusInternalServerError,
			Code:   codeParseFailed,
			Detail: malformed.Raw,
		}
	}

	var exhausted *pipeline.ExhaustedError
	if errors.As(err, &exhausted) {
		last, _ := exhausted.Last()
		switch last.Kind {
		case models.FailureEmpty:
			return requestError{Status: http.StatusInternalServerError, Code: codeNoChoices, Detail: last.Detail}
		case models.FailureStatus:
			return requestError{
				Status:         http.StatusInternalServerError,
				Code:           codeOpenAIError,
				Detail:         last.Detail,
				UpstreamStatus: last.StatusCode,
			}
		default:
			return requestError{Status: http.StatusBadGateway, Code: codeUpstreamFailed, Detail: last.Detail}
		}
	}

	return fmt.Errorf("score transcript: %w", err)
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON payload: %w", err)
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

type requestError struct {
	Status         int
	Code           string
	Detail         string
	UpstreamStatus int
	cause          error
}

func (e requestError) Error() string {
	if e.cause != nil {
		return e.Code + ": " + e.cause.Error()
	}
	return e.Code
}

func (e requestError) Unwrap() error {
	return e.cause
}

func invalid(code string, cause error) requestError {
	return requestError{Status: http.StatusBadRequest, Code: code, cause: cause}
}

// failureFor picks the catch-all error code for a route.
func failureFor(path string) requestError {
	code := codeInternal
	switch strings.TrimPrefix(path, "/") {
	case "chat":
		code = codeChatFailed
	case "score":
		code = codeScoreFailed
	}
	return requestError{Status: http.StatusInternalServerError, Code: code}
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status,omitempty"`
}

func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		if reqErr.Status >= http.StatusInternalServerError {
			slog.Error("request failed",
				"uri", c.Request().RequestURI,
				"code", reqErr.Code,
				"upstream_status", reqErr.UpstreamStatus,
				"detail", textutil.Truncate(reqErr.Detail, 512),
			)
		}
		_ = c.JSON(reqErr.Status, errorBody{Error: reqErr.Code, Detail: reqErr.Detail, Status: reqErr.UpstreamStatus})
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = c.JSON(he.Code, errorBody{Error: strings.ToLower(strings.ReplaceAll(http.StatusText(he.Code), " ", "_"))})
		return
	}

	slog.Error("unhandled request error", "uri", c.Request().RequestURI, "err", err)
	fallback := failureFor(c.Path())
	_ = c.JSON(fallback.Status, errorBody{Error: fallback.Code})
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("koinomae-api ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /metrics")
	fmt.Println("  POST /chat")
	fmt.Println("  POST /score")
	fmt.Printf("Example:\n  curl http://%s:%d/chat -H 'Content-Type: application/json' -d '{\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", host, port)
}

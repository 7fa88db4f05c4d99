package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmehdipour/wadispatch/internal/config"
	"github.com/jmehdipour/wadispatch/internal/http/middleware"
	"github.com/jmehdipour/wadispatch/internal/logger"
)

// Deps are the collaborators behind the routes. Media and Webhook may be nil
// when WhatsApp is not configured, Reports when ClickHouse is not.
type Deps struct {
	Tasks   TaskService
	Users   middleware.UserLookup
	Redis   *redis.Client
	Media   MediaUploader
	Webhook WebhookClient
	Reports LogReports
}

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, d Deps) (*Server, error) {
	media, err := newMediaHandlers(d.Media, cfg.Media.MaxUploadSize)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.Use(echoMid.Recover(), echoMid.RequestID())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// provider callbacks carry no api key
	wh := webhookHandlers{client: d.Webhook, verifyToken: cfg.WhatsApp.VerifyToken}
	e.GET("/webhook", wh.verify)
	e.POST("/webhook", wh.receive)

	authMW := middleware.APIKeyMiddleware(d.Users)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      cfg.RateLimit.KeyPrefix,
		Window:         time.Second,
		RetryAfterHint: true,
	})

	th := taskHandlers{svc: d.Tasks}
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/tasks", th.create)
	v1.POST("/tasks/batch", th.batch)
	v1.GET("/tasks", th.list)
	v1.GET("/tasks/statistics", th.statistics)
	v1.GET("/tasks/:id", th.get)
	v1.GET("/tasks/:id/logs", th.logs)
	v1.POST("/tasks/:id/cancel", th.cancel)
	v1.POST("/tasks/:id/retry", th.retry)
	v1.DELETE("/tasks/:id", th.delete)
	v1.POST("/media", media.upload)
	v1.GET("/reports/executions", listExecutionsHandler(d.Reports))

	return &Server{e: e}, nil
}

func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	logger.Log.Info("http listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

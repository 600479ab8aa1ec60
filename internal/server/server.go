package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/redactor/internal/export"
	"github.com/joseph-ayodele/redactor/internal/services/redaction"
)

// HealthFunc reports whether the service's dependencies are reachable.
type HealthFunc func(ctx context.Context) error

type Options struct {
	// MaxUploadBytes and MaxFiles bound the submission request body.
	MaxUploadBytes int64
	MaxFiles       int
	// Redis enables the submission rate limit when set.
	Redis              *redis.Client
	RateLimitPerMinute int
	Health             HealthFunc
}

// Server holds the HTTP handlers of the redaction API.
type Server struct {
	svc    *redaction.Service
	export *export.Service
	opts   Options
	logger *slog.Logger
}

func New(svc *redaction.Service, exp *export.Service, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, export: exp, opts: opts, logger: logger}
}

// Router builds the gin engine with middleware and routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(s.logger))

	r.GET("/healthz", s.Healthz)

	submit := []gin.HandlerFunc{}
	if s.opts.Redis != nil && s.opts.RateLimitPerMinute > 0 {
		submit = append(submit, NewRateLimiter(RateLimiterConfig{
			RedisClient: s.opts.Redis,
			Limit:       s.opts.RateLimitPerMinute,
			Window:      time.Minute,
			KeyPrefix:   "rl:predict:",
			Logger:      s.logger,
		}))
	}
	submit = append(submit, s.Submit)

	g := r.Group("/predict")
	{
		g.POST("", submit...)
		g.GET("/check/:batch_id", s.Check)
		g.GET("/:batch_id", s.Result)
		g.GET("/:batch_id/files", s.Files)
		g.GET("/:batch_id/report", s.Report)
		g.DELETE("/drop/:batch_id", s.Drop)
	}
	return r
}

// HTTPServer wraps the router in an http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

package server

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devcubo3/trabalho-mae/config"
	"github.com/devcubo3/trabalho-mae/internal/middleware"
	"github.com/devcubo3/trabalho-mae/internal/stats"
	"github.com/devcubo3/trabalho-mae/internal/store"
	"github.com/devcubo3/trabalho-mae/internal/types"
)

// JobService is the part of the job manager the handlers drive.
type JobService interface {
	Submit(ctx context.Context, job types.Job) (types.Job, error)
	Get(ctx context.Context, id types.ID) (types.Job, error)
	Stream(ctx context.Context, id types.ID, fn func(types.Event) error) error
	Delete(ctx context.Context, id types.ID) error
	Active() int
}

type Uploads interface {
	Save(ctx context.Context, filename string, contentType string, r io.Reader) (types.Upload, error)
	Remove(id types.ID) error
}

// Probe reports whether a dependency can serve requests; the health check runs each one.
type Probe func(ctx context.Context) error

type Dependencies struct {
	Uploads  Uploads
	Jobs     JobService
	Results  store.Results
	Auth     types.Authorizer
	Gatherer prometheus.Gatherer
	Probes   map[string]Probe
	Logger   *slog.Logger
}

type Server struct {
	engine  *gin.Engine
	handler http.Handler
	config  *config.Config
	stat    *stats.Statistic
	logger  *slog.Logger

	// draining ends open event streams once shutdown starts
	draining context.Context
	drain    context.CancelFunc
}

type handlers struct {
	config  *config.Config
	auth    types.Authorizer
	uploads Uploads
	jobs    JobService
	results store.Results
	probes  map[string]Probe
	stat    *stats.Statistic
	logger  *slog.Logger

	draining context.Context
}

func New(cfg *config.Config, deps Dependencies) (*Server, error) {
	switch {
	case deps.Uploads == nil:
		return nil, errors.New("server: uploads are required")
	case deps.Jobs == nil:
		return nil, errors.New("server: job service is required")
	case deps.Results == nil:
		return nil, errors.New("server: result store is required")
	case deps.Auth == nil:
		return nil, errors.New("server: authorizer is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Options == nil {
		cfg.Options = config.DefaultConfig().Options
	}

	s := &Server{
		config: cfg,
		logger: logger.With("component", "http"),
	}
	s.draining, s.drain = context.WithCancel(context.Background())
	h := &handlers{
		config:   cfg,
		auth:     deps.Auth,
		uploads:  deps.Uploads,
		jobs:     deps.Jobs,
		results:  deps.Results,
		probes:   deps.Probes,
		logger:   s.logger,
		draining: s.draining,
	}
	if cfg.Options.EnableStats {
		s.stat = stats.NewStatistic()
		h.stat = s.stat
	}

	s.engine = s.routes(h, deps.Gatherer)
	s.handler = middleware.Timeout(cfg.Server.RequestTimeout, isStream)(
		middleware.MaxInFlight(int64(cfg.Server.MaxInFlight()))(s.engine),
	)
	return s, nil
}

func (s *Server) routes(h *handlers, gatherer prometheus.Gatherer) *gin.Engine {
	if !s.config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLog(s.logger))

	if s.config.Options.ForceHTTPS {
		router.Use(middleware.UpgradeToHttps())
	}

	if len(s.config.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		if len(s.config.AllowedOrigins) == 1 && s.config.AllowedOrigins[0] == "*" {
			corsConfig.AllowAllOrigins = true
		} else {
			corsConfig.AllowOrigins = s.config.AllowedOrigins
		}
		if len(s.config.AllowedMethods) > 0 {
			corsConfig.AllowMethods = s.config.AllowedMethods
		}
		if len(s.config.AllowedHeaders) > 0 {
			corsConfig.AllowHeaders = s.config.AllowedHeaders
		}
		corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
		router.Use(cors.New(corsConfig))
	}

	if s.stat != nil {
		router.Use(s.stat.Middleware())
		router.GET("/sys/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, s.stat.GatherData())
		})
	}

	router.GET("/", h.index())
	router.GET("/healthcheck", h.healthCheck(time.Now().UTC()))

	restrictIPAddresses := RestrictIPAddresses(s.config.Options.AllowedIPAddresses)
	if s.config.Options.EnableHealth {
		router.GET("/sys/health", restrictIPAddresses, gin.WrapH(expvar.Handler()))
		router.GET("/sys/info", restrictIPAddresses, h.sysStats())
	}
	if s.config.Options.EnablePrometheus && gatherer != nil {
		router.GET("/metrics", restrictIPAddresses, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	router.POST("/api/auth", h.authPost())
	router.DELETE("/api/auth", h.authDelete())

	limit := middleware.RateLimit(s.config.Server.RateLimitPerMinute, s.config.Server.RateLimitBurst)

	protected := router.Group("/")
	protected.Use(h.checkAuth(), h.requireAuth())
	{
		protected.POST("/processar", limit, h.processar())
		protected.GET("/download/:name", h.download())
	}

	api := router.Group("/api/jobs")
	api.Use(h.checkAuth(), h.requireAuth())
	{
		api.POST("", limit, h.jobPost())
		api.GET("/:id", h.jobGet())
		api.GET("/:id/events", h.jobEvents())
		api.DELETE("/:id", h.jobDelete())
	}

	return router
}

// isStream tells the timeout middleware which requests answer with an event stream.
func isStream(r *http.Request) bool {
	if r.URL.Path == "/processar" {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/api/jobs/") && strings.HasSuffix(r.URL.Path, "/events")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Run serves on the configured port until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Server.Port))
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends. Shutdown lets plain requests finish, ends
// event streams at once and force-closes whatever is left after the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.drain)

	errs := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String(), "max_in_flight", s.config.Server.MaxInFlight(), "request_timeout", s.config.Server.RequestTimeout)
		errs <- srv.Serve(ln)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("closing connections still open after shutdown timeout", "error", err)
		_ = srv.Close()
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Close() {
	s.drain()
	if s.stat != nil {
		s.stat.Close()
	}
}

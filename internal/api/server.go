package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Nozemi/rsmod/internal/config"
	"github.com/Nozemi/rsmod/internal/db"
	"github.com/Nozemi/rsmod/internal/events"
	"github.com/Nozemi/rsmod/internal/metrics"
	"github.com/Nozemi/rsmod/internal/network"
	"github.com/Nozemi/rsmod/internal/protocol"
	"github.com/Nozemi/rsmod/internal/util"
)

// Gateway is the part of the client gateway the API exposes.
type Gateway interface {
	Device() protocol.Device
	Table() *protocol.Table
	Sessions() []network.ConnectionStats
	CloseSession(id string) error
	SweepStale() int
}

// ViolationQuery reads the violation audit log.
type ViolationQuery interface {
	Recent(ctx context.Context, limit int) ([]db.Violation, error)
	CountByKind(ctx context.Context) (map[string]int, error)
}

// Option configures a Server.
type Option func(*Server)

// WithViolations exposes the audit log.
func WithViolations(q ViolationQuery) Option {
	return func(s *Server) { s.violations = q }
}

// WithMetrics mounts the Prometheus handler on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the version reported by the public endpoints.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server is the admin REST API.
type Server struct {
	cfg        *config.Config
	eventBus   *events.EventBus
	gateway    Gateway
	violations ViolationQuery
	metrics    *metrics.Metrics
	version    string

	routerOnce sync.Once
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, eventBus *events.EventBus, gateway Gateway, opts ...Option) *Server {
	// Set Gin mode based on log level
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		gateway:  gateway,
		version:  "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler, building the router on first use.
func (s *Server) Handler() http.Handler {
	s.routerOnce.Do(func() { s.router = s.buildRouter() })
	return s.router
}

// Start listens on the configured API port and serves until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	app := s.cfg.GetApplicationData()
	addr := fmt.Sprintf(":%d", app.API.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	sec := app.Security
	if sec.TLSEnabled {
		if _, err := util.EnsureSelfSignedCert(sec.TLSCertFile, sec.TLSKeyFile, []string{"localhost", "127.0.0.1"}); err != nil {
			return fmt.Errorf("failed to prepare API certificate: %w", err)
		}
		cert, err := tls.LoadX509KeyPair(sec.TLSCertFile, sec.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load API certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	// SO_REUSEADDR for immediate rebinding after restart
	lc := network.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Bool("tls", sec.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if sec.TLSEnabled {
		err = s.httpServer.Serve(tls.NewListener(ln, s.httpServer.TLSConfig))
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	sec := s.cfg.GetApplicationData().Security

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := sec.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(sec.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/version", s.handleGetVersion)
	}

	protected := router.Group("/api")
	protected.Use(IPWhitelist(sec.IPWhitelist))

	monitor := protected.Group("/monitor")
	{
		monitor.GET("/devices/:device/opcodes", s.handleGetOpcodes)
		monitor.GET("/connections", s.handleGetConnections)
		monitor.GET("/violations", s.handleGetViolations)
		monitor.GET("/violations/summary", s.handleGetViolationSummary)
		monitor.GET("/system", s.handleGetSystem)
		monitor.GET("/log_entries", s.handleGetLogEntries)
	}

	control := protected.Group("/control")
	{
		control.POST("/connections/:id/close", s.handleCloseConnection)
		control.POST("/connections/sweep", s.handleSweepConnections)
	}

	configure := protected.Group("/configure")
	{
		configure.GET("/config", s.handleGetConfig)
		configure.PATCH("/gateway", s.handlePatchGateway)
	}

	if s.metrics != nil {
		router.GET("/metrics", IPWhitelist(sec.IPWhitelist), gin.WrapH(s.metrics.Handler()))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "rsmod admin API is running"})
	})

	return router
}

func (s *Server) emit(ctx context.Context, t events.EventType, payload interface{}) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.Emit(ctx, events.Event{Type: t, Source: "api", Payload: payload})
}

package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/vprocontrol/internal/api/websocket"
	"github.com/KevinKickass/vprocontrol/internal/config"
	"github.com/KevinKickass/vprocontrol/internal/devices"
	"github.com/KevinKickass/vprocontrol/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router         *gin.Engine
	lm             interfaces.LifecycleManager
	logger         *zap.Logger
	server         *http.Server
	wsHub          *websocket.Hub
	events         devices.ConnectionSink
	requestTimeout time.Duration
	allowedOrigins []string
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub) *Server {
	gin.SetMode(gin.ReleaseMode)
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		router:         gin.New(),
		lm:             lm,
		logger:         logger,
		wsHub:          wsHub,
		requestTimeout: cfg.Server.RequestTimeout,
		allowedOrigins: cfg.Server.AllowedOrigins,
	}

	if wsHub != nil {
		s.events = wsHub
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// SetConnectionSink replaces the receiver of connect outcomes (the
// websocket hub by default).
func (s *Server) SetConnectionSink(sink devices.ConnectionSink) {
	s.events = sink
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(RequestIDMiddleware())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware(s.allowedOrigins))

	s.router.GET("/health", s.healthCheck)

	// Routes kept compatible with the original web panel
	api := s.router.Group("/api")
	{
		api.GET("/devices", s.listDevices)
		api.GET("/matrix/:name", s.getLegacyMatrix)
		api.POST("/connect", s.legacyConnect)
		api.GET("/ws", s.wsLiveConnection)
	}

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		devices := v1.Group("/devices")
		{
			devices.GET("", s.listDevices)
			devices.GET("/:name", s.getDevice)
			devices.GET("/:name/matrix", s.getDeviceMatrix)
			devices.POST("/:name/connect", s.connectDevice)
		}

		v1.GET("/matrices", s.listMatrices)
		v1.GET("/system/status", s.getSystemStatus)
		v1.GET("/ws/status", s.wsStatus)
	}
}

// requestContext bounds device work triggered by a request.
func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), s.requestTimeout)
}

// GET /api/ws
func (s *Server) wsLiveConnection(c *gin.Context) {
	if s.wsHub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live updates not available"})
		return
	}
	websocket.Handler(s.wsHub, s.allowedOrigins)(c.Writer, c.Request)
}

// GET /api/v1/ws/status
func (s *Server) wsStatus(c *gin.Context) {
	clients := 0
	if s.wsHub != nil {
		clients = s.wsHub.GetClientCount()
	}
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": clients,
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

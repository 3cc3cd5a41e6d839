package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/valobridge-project/valobridge/internal/config"
	"github.com/valobridge-project/valobridge/internal/discord"
	"github.com/valobridge-project/valobridge/internal/events"
	"github.com/valobridge-project/valobridge/internal/store"
	"github.com/valobridge-project/valobridge/internal/tracker"
	"github.com/valobridge-project/valobridge/internal/xmpp"
)

// Server is the REST API server for Valobridge.
type Server struct {
	cfg      *config.Config
	eventBus *events.Bus
	sessions []*xmpp.Session
	trackers map[string]*tracker.Tracker // keyed by account

	// Dependencies
	discord *discord.Connector
	links   *store.Store

	// HTTP server
	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, eventBus *events.Bus, sessions []*xmpp.Session, trackers map[string]*tracker.Tracker) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		eventBus: eventBus,
		sessions: sessions,
		trackers: trackers,
	}
}

// SetDependencies injects runtime dependencies (called after all components are initialized).
func (s *Server) SetDependencies(dc *discord.Connector, links *store.Store) {
	s.discord = dc
	s.links = links
}

// Start initializes and starts the API server.
func (s *Server) Start(ctx context.Context) error {
	if s.discord == nil {
		s.discord = discord.NewConnector(s.cfg.GetApplicationData().Discord.BotToken)
	}

	s.router = s.buildRouter()

	addr := fmt.Sprintf(":%d", s.cfg.GetApplicationData().API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}

	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	// CORS
	appData := s.cfg.GetApplicationData()
	allowedOrigins := appData.Security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	// Rate limiting
	rateLimiter := NewRateLimiter(appData.Security.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	// Auth middleware
	auth := NewAuthMiddleware(s.discord, s.cfg)

	// ---- Public endpoints (no auth required) ----
	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/get_bridge_info", s.handleGetBridgeInfo)
	}

	// ---- Protected endpoints ----
	protected := router.Group("/api")
	protected.Use(auth.RequireAuth())
	{
		protected.GET("/sessions", s.handleGetSessions)
		protected.GET("/matches", s.handleGetMatches)
		protected.GET("/links", s.handleGetLinks)
		protected.GET("/system", s.handleGetSystem)
		protected.POST("/links/redeem", s.handleRedeemCode)
		protected.POST("/channels", s.handleSetChannel)
	}

	// Owner-only endpoints
	owner := protected.Group("")
	owner.Use(auth.RequireOwner())
	{
		owner.DELETE("/links/:remote_id", s.handleDeleteLink)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/viabridge-project/viabridge/internal/artifact"
	"github.com/viabridge-project/viabridge/internal/config"
	"github.com/viabridge-project/viabridge/internal/db"
	"github.com/viabridge-project/viabridge/internal/events"
	intnet "github.com/viabridge-project/viabridge/internal/network"
	"github.com/viabridge-project/viabridge/internal/proxy"
	"github.com/viabridge-project/viabridge/internal/relay"
	"github.com/viabridge-project/viabridge/internal/session"
)

// Deps are the components the API reports on. Any of them may be nil; the
// routes that need a missing one answer 503.
type Deps struct {
	Version   string
	Sessions  *session.Manager
	Relay     *relay.Relay
	Accounts  *db.AccountStore
	Artifacts []artifact.Record
}

// Server is the status API of a running bridge.
type Server struct {
	cfg      *config.Config
	eventBus *events.Bus
	deps     Deps
	proxy    atomic.Pointer[proxy.Handle]
	started  time.Time

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, eventBus *events.Bus, deps Deps) *Server {
	if cfg.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		deps:     deps,
		started:  time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// SetProxy publishes the launched proxy. Until it is called the status
// routes report the proxy as starting.
func (s *Server) SetProxy(h *proxy.Handle) {
	s.proxy.Store(h)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetAPI()
	addr := net.JoinHostPort(apiCfg.Host, strconv.Itoa(apiCfg.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// SO_REUSEADDR so a restarted bridge can rebind immediately.
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("status API starting")

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

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.GetAPI().AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(s.cfg.GetAPI().RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/version", s.handleGetVersion)
		public.GET("/system", s.handleGetSystemInfo)
	}

	monitor := router.Group("/api")
	{
		monitor.GET("/status", s.handleGetStatus)
		monitor.GET("/artifacts", s.handleGetArtifacts)
		monitor.GET("/connections", s.handleGetConnections)
		monitor.GET("/history", s.handleGetHistory)
		monitor.GET("/config", s.handleGetConfig)
	}

	control := router.Group("/api/control")
	{
		control.POST("/login", s.handleLogin)
		control.GET("/accounts", s.handleGetAccounts)
		control.PUT("/accounts/:username/token", s.handleSetToken)
		control.DELETE("/accounts/:username", s.handleDeleteAccount)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "viabridge status API is running"})
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

package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/raaihank/bolahunter/internal/config"
	"github.com/raaihank/bolahunter/internal/engine"
	"github.com/raaihank/bolahunter/internal/logger"
	"github.com/raaihank/bolahunter/internal/web"
	"github.com/raaihank/bolahunter/internal/websocket"
)

// Server runs the intercepting proxy and the operator API
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	engine  *engine.Engine
	version string

	ca          *tls.Certificate
	proxy       *goproxy.ProxyHttpServer
	proxyServer *http.Server

	router    *mux.Router
	apiServer *http.Server
	wsHub     *websocket.Hub

	startedAt time.Time
	cancel    context.CancelFunc
}

// New creates a new server instance
func New(cfg *config.Config, eng *engine.Engine, log *logger.Logger, version string) (*Server, error) {
	ca, err := LoadCA(cfg.Proxy.CACert, cfg.Proxy.CAKey)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("proxy"),
		engine:    eng,
		version:   version,
		ca:        ca,
		router:    mux.NewRouter(),
		startedAt: time.Now(),
	}

	if cfg.WebSocket.Enabled {
		s.wsHub = websocket.NewHub(hubConfig(&cfg.WebSocket), log.Logger)
		eng.SetObserver(s.wsHub)
	}

	s.proxy = s.newProxy()
	s.setupRoutes()

	s.proxyServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Proxy.Port),
		Handler: s.proxy,
	}
	s.apiServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	return s, nil
}

func hubConfig(c *config.WebSocketConfig) *websocket.HubConfig {
	return &websocket.HubConfig{
		BroadcastCaptures:    c.Events.BroadcastCaptures,
		BroadcastAttacks:     c.Events.BroadcastAttacks,
		BroadcastPool:        c.Events.BroadcastPool,
		BroadcastConnections: c.Events.BroadcastConnections,
		MaxConnections:       c.MaxConnections,
		ReadBufferSize:       c.ReadBufferSize,
		WriteBufferSize:      c.WriteBufferSize,
		AllowedOrigins:       c.AllowedOrigins,
		PingInterval:         c.PingInterval,
		PongTimeout:          c.PongTimeout,
		WriteTimeout:         c.WriteTimeout,
		MaxMessageSize:       c.MaxMessageSize,
		AuthEnabled:          c.Auth.Enabled,
		Username:             c.Auth.Username,
		Password:             c.Auth.Password,
	}
}

// newProxy builds the goproxy server with the engine's interceptor attached
func (s *Server) newProxy() *goproxy.ProxyHttpServer {
	p := goproxy.NewProxyHttpServer()
	p.Verbose = s.config.Proxy.Verbose
	p.Logger = zap.NewStdLog(s.logger.WithComponent("goproxy").Logger)
	p.Tr = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		ResponseHeaderTimeout: s.config.Proxy.UpstreamTimeout,
		IdleConnTimeout:       90 * time.Second,
	}
	// Requests addressed to the proxy itself can fetch the CA certificate.
	p.NonproxyHandler = http.HandlerFunc(s.handleCACert)

	p.OnRequest().HandleConnect(connectHandler(s.config.Proxy.MITM, s.ca))

	interceptor := NewInterceptor(
		s.engine,
		s.config.Proxy.ReplayHeader,
		s.config.Proxy.ReplayValue,
		s.config.Proxy.MaxBodyBytes,
		s.logger.WithComponent("interceptor"),
	)
	interceptor.Register(p)
	return p
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/", web.ServeDashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods(http.MethodGet)

	if s.wsHub != nil {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.loggingMiddleware)
	if rl := s.config.API.RateLimit; rl.Enabled {
		api.Use(s.rateLimitMiddleware(rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), rl.Burst)))
	}

	api.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	api.HandleFunc("/rules", s.handleAddRule).Methods(http.MethodPost)
	api.HandleFunc("/rules/reset", s.handleResetRules).Methods(http.MethodPost)
	api.HandleFunc("/rules/{index:[0-9]+}", s.handleToggleRule).Methods(http.MethodPut)

	api.HandleFunc("/attack", s.handleGetAttack).Methods(http.MethodGet)
	api.HandleFunc("/attack", s.handleSetAttack).Methods(http.MethodPut)

	api.HandleFunc("/items", s.handleListItems).Methods(http.MethodGet)
	api.HandleFunc("/items", s.handleClearItems).Methods(http.MethodDelete)
	api.HandleFunc("/items/export", s.handleExportItems).Methods(http.MethodGet)
	api.HandleFunc("/items/{value}", s.handleGetItem).Methods(http.MethodGet)
	api.HandleFunc("/items/{value}", s.handleSetItemActive).Methods(http.MethodPut)
	api.HandleFunc("/items/{value}", s.handleDeleteItem).Methods(http.MethodDelete)

	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/ca.pem", s.handleCACert).Methods(http.MethodGet)
}

// Handler returns the operator API handler
func (s *Server) Handler() http.Handler { return s.router }

// Proxy returns the intercepting proxy handler
func (s *Server) Proxy() http.Handler { return s.proxy }

// Start serves the proxy and the API until either fails or Stop is called
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.wsHub != nil {
		go s.wsHub.Run(ctx)
	}

	s.logger.Info("Starting BOLA Hunter",
		zap.String("version", s.version),
		zap.Int("proxy_port", s.config.Proxy.Port),
		zap.Int("api_port", s.config.API.Port),
		zap.Bool("mitm", s.config.Proxy.MITM),
		zap.Bool("armed", s.engine.Armed()),
	)

	errs := make(chan error, 2)
	go func() { errs <- s.proxyServer.ListenAndServe() }()
	go func() { errs <- s.apiServer.ListenAndServe() }()

	err := <-errs
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops both servers
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping BOLA Hunter")
	if s.cancel != nil {
		s.cancel()
	}
	return errors.Join(
		s.proxyServer.Shutdown(ctx),
		s.apiServer.Shutdown(ctx),
	)
}

// GetWebSocketHub returns the WebSocket hub, or nil when disabled
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}

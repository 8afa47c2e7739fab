package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/openvacs/vacs/internal/common/cnst"
	"github.com/openvacs/vacs/internal/common/config"
	"github.com/openvacs/vacs/internal/identity"
	"github.com/openvacs/vacs/internal/protocol"
	"github.com/openvacs/vacs/internal/server/auth"
	"github.com/openvacs/vacs/internal/server/registry"
	"github.com/openvacs/vacs/internal/token"
	"github.com/openvacs/vacs/internal/transport"
	"github.com/openvacs/vacs/pkg/metrics"
	"github.com/openvacs/vacs/pkg/version"
	"go.uber.org/zap"
)

const healthDeadline = 3 * time.Second

// Server owns the HTTP surface and the lifecycle of every websocket
// session. It holds the single process-global registry.
type Server struct {
	logger  *zap.Logger
	cfg     *config.Config
	reg     *registry.Registry
	tokens  token.Store
	auth    *auth.Handler
	metrics *metrics.Metrics

	upgrader websocket.Upgrader

	baseCtx  context.Context
	stop     context.CancelFunc
	sessions sync.WaitGroup
}

// NewServer wires the signaling server from its collaborators.
func NewServer(logger *zap.Logger, cfg *config.Config, tokens token.Store, provider identity.Provider, m *metrics.Metrics) *Server {
	baseCtx, stop := context.WithCancel(context.Background())
	reg := registry.New(logger)
	return &Server{
		logger:  logger.Named("server"),
		cfg:     cfg,
		reg:     reg,
		tokens:  tokens,
		auth:    auth.NewHandler(logger, cfg.Auth, provider, tokens, reg),
		metrics: m,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		baseCtx: baseCtx,
		stop:    stop,
	}
}

// Registry exposes the process-global registry.
func (s *Server) Registry() *registry.Registry { return s.reg }

// Auth exposes the auth handler, for tests.
func (s *Server) Auth() *auth.Handler { return s.auth }

// RegisterRoutes installs every route on the router.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.handleHealth)
	r.GET("/version", s.handleVersion)
	if s.cfg.Metrics.Enabled {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	r.GET("/auth/login", s.auth.Login)
	r.GET("/auth/callback", s.auth.Callback)

	authed := r.Group("/", s.auth.RequireSession())
	authed.GET("/ws/token", s.auth.WSToken)
	authed.DELETE("/ws", s.auth.DeleteWS)

	r.GET("/ws", s.handleWS)
}

// handleHealth answers 200 when the token store round-trips within the
// health deadline, 503 otherwise.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthDeadline)
	defer cancel()

	if err := s.tokens.Health(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		c.String(http.StatusServiceUnavailable, "token store unavailable")
		return
	}
	c.String(http.StatusOK, "OK")
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"build": version.Get(),
		"git":   version.GitCommit(),
		"go":    version.GoVersion(),
	})
}

// handleWS upgrades the connection and runs the session to completion. The
// login handshake itself happens on the websocket, where the first message
// must carry a one-shot token. A token passed as ?token= is pre-checked so
// browser clients fail fast with 401 instead of a doomed upgrade; the token
// is only consumed by the Login message.
func (s *Server) handleWS(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusUpgradeRequired, gin.H{"error": "websocket upgrade required"})
		return
	}

	if preToken := c.Query("token"); preToken != "" {
		if _, err := s.tokens.Get(c.Request.Context(), preToken); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}
	}

	wsConn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := NewSession(s.logger, transport.NewWSConn(wsConn), s.reg, s.tokens, s.metrics)
	s.logger.Info("websocket connected",
		zap.String("conn_id", sess.ID()),
		zap.String("remote", sess.remote))

	s.sessions.Add(1)
	defer s.sessions.Done()
	sess.Run(s.baseCtx)
}

// Shutdown disconnects every session and waits for teardown within the
// grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	s.reg.BroadcastShutdown(protocol.ReasonServerShutdown)
	s.stop()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	grace := time.NewTimer(cnst.ShutdownGrace)
	defer grace.Stop()
	select {
	case <-done:
		return nil
	case <-grace.C:
		s.logger.Warn("shutdown grace period elapsed with sessions remaining")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

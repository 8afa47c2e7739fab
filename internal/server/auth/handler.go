package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openvacs/vacs/internal/common/cnst"
	"github.com/openvacs/vacs/internal/common/config"
	"github.com/openvacs/vacs/internal/identity"
	"github.com/openvacs/vacs/internal/protocol"
	"github.com/openvacs/vacs/internal/server/registry"
	"github.com/openvacs/vacs/internal/token"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	flowCookie    = "vacs_flow"
	sessionCookie = "vacs_session"

	flowKeyPrefix = "flow:"
)

// userIDKey is the gin context key RequireSession populates.
const userIDKey = "user_id"

// flowState is the per-login-flow record stored in the token store for the
// duration of the identity-provider round trip.
type flowState struct {
	State    string `json:"state"`
	Verifier string `json:"verifier"`
}

// Handler owns the HTTP login surface: the identity-provider handshake,
// session cookies and one-shot websocket token minting.
type Handler struct {
	logger   *zap.Logger
	cfg      config.Auth
	provider identity.Provider
	tokens   token.Store
	reg      *registry.Registry
	cookies  *CookieCodec
}

// NewHandler builds the auth handler.
func NewHandler(logger *zap.Logger, cfg config.Auth, provider identity.Provider, tokens token.Store, reg *registry.Registry) *Handler {
	return &Handler{
		logger:   logger.Named("auth"),
		cfg:      cfg,
		provider: provider,
		tokens:   tokens,
		reg:      reg,
		cookies:  NewCookieCodec(cfg.CookieSecret, cfg.CookieTTL),
	}
}

// Login handles GET /auth/login: it stores the flow state under a fresh
// flow id and redirects the browser to the identity provider.
func (h *Handler) Login(c *gin.Context) {
	state, err := randomHex(16)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	verifier := oauth2.GenerateVerifier()
	flowID := uuid.NewString()

	record, err := json.Marshal(flowState{State: state, Verifier: verifier})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	if err := h.tokens.Put(c.Request.Context(), flowKeyPrefix+flowID, record, cnst.LoginFlowTimeout); err != nil {
		h.logger.Error("failed to store login flow", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}

	c.SetCookie(flowCookie, flowID, int(cnst.LoginFlowTimeout.Seconds()), "/", "", false, true)
	c.Redirect(http.StatusFound, h.provider.AuthCodeURL(state, verifier))
}

// Callback handles GET /auth/callback: it verifies the csrf state, trades
// the code for an access token, resolves the user id and binds it to a
// signed session cookie. Each failure mode maps to a distinct status.
func (h *Handler) Callback(c *gin.Context) {
	ctx := c.Request.Context()

	flowID, err := c.Cookie(flowCookie)
	if err != nil {
		c.JSON(http.StatusGone, gin.H{"error": "flow_expired"})
		return
	}
	// The flow record is one-shot: consumed whether or not the rest of
	// the handshake succeeds.
	record, err := token.Consume(ctx, h.tokens, flowKeyPrefix+flowID)
	if err != nil {
		c.JSON(http.StatusGone, gin.H{"error": "flow_expired"})
		return
	}
	var flow flowState
	if err := json.Unmarshal(record, &flow); err != nil {
		c.JSON(http.StatusGone, gin.H{"error": "flow_expired"})
		return
	}

	if state := c.Query("state"); state == "" || state != flow.State {
		c.JSON(http.StatusBadRequest, gin.H{"error": "csrf_mismatch"})
		return
	}

	idpToken, err := h.provider.ExchangeCode(ctx, c.Query("code"), flow.Verifier)
	if err != nil {
		h.logger.Warn("code exchange failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "code_exchange_failed"})
		return
	}

	userID, err := h.provider.LookupUserID(ctx, idpToken.AccessToken)
	if err != nil {
		h.logger.Warn("identity lookup failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "identity_lookup_failed"})
		return
	}

	cookie, err := h.cookies.Mint(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.SetCookie(flowCookie, "", -1, "/", "", false, true)
	c.SetCookie(sessionCookie, cookie, int(h.cfg.CookieTTL.Seconds()), "/", "", false, true)
	h.logger.Info("login completed")

	redirect := h.cfg.AppRedirectURL
	if redirect == "" {
		redirect = "/"
	}
	c.Redirect(http.StatusFound, redirect)
}

// WSToken handles GET /ws/token: it mints a fresh single-use websocket
// token bound to the caller's user id.
func (h *Handler) WSToken(c *gin.Context) {
	userID := c.GetString(userIDKey)

	wsToken, err := randomHex(16) // 128 bits
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	if err := h.tokens.Put(c.Request.Context(), wsToken, []byte(userID), cnst.WSTokenTTL); err != nil {
		h.logger.Error("failed to store websocket token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": wsToken})
}

// DeleteWS handles DELETE /ws: it terminates the caller's live websocket
// session, if any.
func (h *Handler) DeleteWS(c *gin.Context) {
	userID := c.GetString(userIDKey)

	if handle, ok := h.reg.Get(userID); ok {
		_ = handle.Enqueue(protocol.Disconnect(protocol.ReasonTerminated))
		handle.Shutdown(protocol.ReasonTerminated)
		h.logger.Info("session terminated by owner", zap.String("user_id", userID))
	}
	c.Status(http.StatusNoContent)
}

// RequireSession is the middleware guarding the authenticated routes. A
// missing or invalid session cookie yields 401.
func (h *Handler) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Cookie(sessionCookie)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		userID, err := h.cookies.Verify(cookie)
		if err != nil {
			if errors.Is(err, ErrCookieExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session_expired"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// SessionCookieForTest mints a valid session cookie value. Exported for the
// server's tests only.
func (h *Handler) SessionCookieForTest(userID string) string {
	cookie, err := h.cookies.Mint(userID)
	if err != nil {
		panic(err)
	}
	return cookie
}

// SessionCookieName returns the session cookie's name.
func SessionCookieName() string { return sessionCookie }

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

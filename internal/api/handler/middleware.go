package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/verihealth/medledger/internal/auth"
	"github.com/verihealth/medledger/internal/ledger"
)

const ctxIdentityKey = "medledger:identity"

// Authenticator resolves request credentials into a ledger.Identity. Either
// credential source may be nil to disable it.
type Authenticator struct {
	tokens  *auth.TokenIssuer
	keyring *auth.Keyring
	logger  *zap.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(tokens *auth.TokenIssuer, keyring *auth.Keyring, logger *zap.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, keyring: keyring, logger: logger}
}

// Require returns a middleware that aborts with 401 unless the request
// carries a valid bearer token or API key. The resolved identity is stored
// in the request context.
func (a *Authenticator) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, ok := a.resolve(c); ok {
			c.Set(ctxIdentityKey, id)
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	}
}

// Optional resolves credentials when present but never aborts. Used on
// public endpoints that record the accessor when one is known.
func (a *Authenticator) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, ok := a.resolve(c); ok {
			c.Set(ctxIdentityKey, id)
		}
		c.Next()
	}
}

func (a *Authenticator) resolve(c *gin.Context) (ledger.Identity, bool) {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") && a.tokens != nil {
		tokenStr := strings.TrimPrefix(header, "Bearer ")
		id, _, err := a.tokens.Verify(tokenStr)
		if err != nil {
			a.logger.Debug("bearer token rejected", zap.Error(err))
			return ledger.NoIdentity, false
		}
		return id, true
	}
	if key := c.GetHeader("X-API-Key"); key != "" && a.keyring != nil {
		id, err := a.keyring.Verify(key)
		if err != nil {
			a.logger.Debug("api key rejected", zap.Error(err))
			return ledger.NoIdentity, false
		}
		return id, true
	}
	return ledger.NoIdentity, false
}

// IdentityFromCtx returns the authenticated principal, or NoIdentity.
func IdentityFromCtx(c *gin.Context) ledger.Identity {
	if v, ok := c.Get(ctxIdentityKey); ok {
		if id, ok := v.(ledger.Identity); ok {
			return id
		}
	}
	return ledger.NoIdentity
}

// RequestID returns a middleware that assigns each request a UUID, echoed in
// the X-Request-ID response header and available to log lines downstream.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("medledger:request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

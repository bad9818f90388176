package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/verihealth/medledger/internal/ledger"
)

// ProviderHandler exposes the authorization-registry endpoints. All
// mutations are owner-only; the ledger service enforces that, the handler
// only shapes requests.
type ProviderHandler struct {
	svc    *ledger.Service
	logger *zap.Logger
}

// NewProviderHandler creates a ProviderHandler.
func NewProviderHandler(svc *ledger.Service, logger *zap.Logger) *ProviderHandler {
	return &ProviderHandler{svc: svc, logger: logger}
}

// Register mounts the provider routes.
func (h *ProviderHandler) Register(rg *gin.RouterGroup, authn gin.HandlerFunc) {
	p := rg.Group("/providers")
	{
		p.POST("", authn, h.Authorize)
		p.DELETE("/:identity", authn, h.Revoke)
		p.GET("/:identity", h.Check)
	}
	rg.POST("/owner/transfer", authn, h.TransferOwnership)
}

type providerRequest struct {
	Identity string `json:"identity" binding:"required"`
}

// Authorize handles POST /providers.
func (h *ProviderHandler) Authorize(c *gin.Context) {
	var req providerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	caller := IdentityFromCtx(c)
	if err := h.svc.AuthorizeProvider(c.Request.Context(), caller, ledger.Identity(req.Identity)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"identity": req.Identity, "authorized": true})
}

// Revoke handles DELETE /providers/:identity.
func (h *ProviderHandler) Revoke(c *gin.Context) {
	provider := ledger.Identity(c.Param("identity"))
	caller := IdentityFromCtx(c)

	if err := h.svc.RevokeProvider(c.Request.Context(), caller, provider); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": provider.String(), "authorized": false})
}

// Check handles GET /providers/:identity. A pure authorization read,
// public like record verification.
func (h *ProviderHandler) Check(c *gin.Context) {
	id := ledger.Identity(c.Param("identity"))

	ok, err := h.svc.IsAuthorized(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": id.String(), "authorized": ok})
}

// TransferOwnership handles POST /owner/transfer.
func (h *ProviderHandler) TransferOwnership(c *gin.Context) {
	var req providerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	caller := IdentityFromCtx(c)
	if err := h.svc.TransferOwnership(c.Request.Context(), caller, ledger.Identity(req.Identity)); err != nil {
		writeError(c, err)
		return
	}

	h.logger.Info("ownership transferred via API",
		zap.String("from", caller.String()),
		zap.String("to", req.Identity),
	)
	c.JSON(http.StatusOK, gin.H{"owner": req.Identity})
}

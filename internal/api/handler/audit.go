package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/verihealth/medledger/internal/ledger"
)

// AuditHandler exposes the audit trail endpoints.
type AuditHandler struct {
	svc    *ledger.Service
	logger *zap.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(svc *ledger.Service, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{svc: svc, logger: logger}
}

// Register mounts the audit routes. Overview and chain verification are
// public; reading entries is a privileged operation of its own.
func (h *AuditHandler) Register(rg *gin.RouterGroup, authn gin.HandlerFunc) {
	a := rg.Group("/audit")
	{
		a.GET("", h.Overview)
		a.GET("/verify", h.Verify)
		a.GET("/entries/:idx", authn, h.GetEntry)
		a.POST("/access", authn, h.LogAccess)
	}
	rg.GET("/patients/:id/audit", authn, h.ForPatient)
}

// Overview handles GET /audit — global entry count and current chain root.
func (h *AuditHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.svc.AuditCount(ctx)
	if err != nil {
		h.logger.Error("audit count", zap.Error(err))
		writeError(c, err)
		return
	}
	root, err := h.svc.AuditRoot(ctx)
	if err != nil {
		h.logger.Error("audit root", zap.Error(err))
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": count, "root": root})
}

// Verify handles GET /audit/verify — walks the full chain and reports
// integrity.
func (h *AuditHandler) Verify(c *gin.Context) {
	if err := h.svc.VerifyAuditChain(c.Request.Context()); err != nil {
		h.logger.Warn("audit chain integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// GetEntry handles GET /audit/entries/:idx.
func (h *AuditHandler) GetEntry(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	entry, err := h.svc.AuditEntryAt(c.Request.Context(), IdentityFromCtx(c), idx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// ForPatient handles GET /patients/:id/audit — the trail filtered to one
// patient, preserving global append order.
func (h *AuditHandler) ForPatient(c *gin.Context) {
	patientID, ok := patientIDParam(c)
	if !ok {
		return
	}

	entries, err := h.svc.AuditForPatient(c.Request.Context(), IdentityFromCtx(c), patientID)
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []*ledger.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type logAccessRequest struct {
	PatientID  int64         `json:"patient_id"`
	Action     string        `json:"action"`
	RecordHash ledger.Digest `json:"record_hash"`
}

// LogAccess handles POST /audit/access — a deliberate audit append for
// events the ledger does not record automatically, e.g. a patient viewing
// their own record.
func (h *AuditHandler) LogAccess(c *gin.Context) {
	var req logAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	entry, err := h.svc.LogAccess(c.Request.Context(), IdentityFromCtx(c), req.PatientID, ledger.Action(req.Action), req.RecordHash)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

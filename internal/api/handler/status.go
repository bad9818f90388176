package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/verihealth/medledger/internal/ledger"
)

// StatusHandler reports operational state: which backend is in use, whether
// the ledger is initialized, and the audit chain summary. Intended for
// dashboards and uptime monitors, so it needs no credentials.
type StatusHandler struct {
	svc       *ledger.Service
	backend   string
	startedAt time.Time
	logger    *zap.Logger
}

// NewStatusHandler creates a StatusHandler. backend names the configured
// store ("memory", "leveldb", "postgres").
func NewStatusHandler(svc *ledger.Service, backend string, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{svc: svc, backend: backend, startedAt: time.Now().UTC(), logger: logger}
}

// Register mounts the status route.
func (h *StatusHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/status", h.Status)
}

// Status handles GET /status.
func (h *StatusHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	resp := gin.H{
		"backend":        h.backend,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	}

	owner, err := h.svc.Owner(ctx)
	switch {
	case err == nil:
		resp["initialized"] = true
		resp["owner"] = owner.String()
	case errors.Is(err, ledger.ErrNotInitialized):
		resp["initialized"] = false
	default:
		h.logger.Error("status: read owner", zap.Error(err))
		writeError(c, err)
		return
	}

	if count, err := h.svc.AuditCount(ctx); err == nil {
		resp["audit_entries"] = count
	}
	if root, err := h.svc.AuditRoot(ctx); err == nil {
		resp["audit_root"] = root
	}

	c.JSON(http.StatusOK, resp)
}

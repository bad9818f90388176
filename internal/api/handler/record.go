package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/verihealth/medledger/internal/ledger"
)

// RecordHandler exposes the record-commitment endpoints.
type RecordHandler struct {
	svc    *ledger.Service
	logger *zap.Logger
}

// NewRecordHandler creates a RecordHandler.
func NewRecordHandler(svc *ledger.Service, logger *zap.Logger) *RecordHandler {
	return &RecordHandler{svc: svc, logger: logger}
}

// Register mounts the record routes. authn guards everything except
// verification, which is a public property of the ledger.
func (h *RecordHandler) Register(rg *gin.RouterGroup, authn gin.HandlerFunc) {
	p := rg.Group("/patients/:id")
	{
		p.POST("/records", authn, h.AddRecord)
		p.GET("/records", authn, h.ListActive)
		p.GET("/records/:idx", authn, h.GetRecord)
		p.POST("/records/:idx/supersede", authn, h.SupersedeRecord)
		p.POST("/records/:idx/verify", h.VerifyRecord)
	}
}

type addRecordRequest struct {
	DataHash   ledger.Digest `json:"data_hash"`
	RecordType string        `json:"record_type"`
}

type supersedeRequest struct {
	DataHash ledger.Digest `json:"data_hash"`
}

type verifyRequest struct {
	DataHash ledger.Digest `json:"data_hash"`
}

// AddRecord handles POST /patients/:id/records.
func (h *RecordHandler) AddRecord(c *gin.Context) {
	patientID, ok := patientIDParam(c)
	if !ok {
		return
	}
	var req addRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	rec, err := h.svc.AddRecord(c.Request.Context(), IdentityFromCtx(c), patientID, req.DataHash, ledger.RecordType(req.RecordType))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// SupersedeRecord handles POST /patients/:id/records/:idx/supersede.
func (h *RecordHandler) SupersedeRecord(c *gin.Context) {
	patientID, ok := patientIDParam(c)
	if !ok {
		return
	}
	idx, ok := indexParam(c)
	if !ok {
		return
	}
	var req supersedeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	rec, err := h.svc.UpdateRecord(c.Request.Context(), IdentityFromCtx(c), patientID, idx, req.DataHash)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// VerifyRecord handles POST /patients/:id/records/:idx/verify. Public:
// anyone holding a digest may check it against the ledger.
func (h *RecordHandler) VerifyRecord(c *gin.Context) {
	patientID, ok := patientIDParam(c)
	if !ok {
		return
	}
	idx, ok := indexParam(c)
	if !ok {
		return
	}
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	valid, err := h.svc.VerifyRecord(c.Request.Context(), patientID, idx, req.DataHash)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

// GetRecord handles GET /patients/:id/records/:idx. Returns the entry even
// when it has been superseded.
func (h *RecordHandler) GetRecord(c *gin.Context) {
	patientID, ok := patientIDParam(c)
	if !ok {
		return
	}
	idx, ok := indexParam(c)
	if !ok {
		return
	}

	rec, err := h.svc.GetRecord(c.Request.Context(), IdentityFromCtx(c), patientID, idx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListActive handles GET /patients/:id/records — the patient's current-state
// view, active entries in creation order.
func (h *RecordHandler) ListActive(c *gin.Context) {
	patientID, ok := patientIDParam(c)
	if !ok {
		return
	}

	recs, err := h.svc.ListActiveRecords(c.Request.Context(), IdentityFromCtx(c), patientID)
	if err != nil {
		writeError(c, err)
		return
	}
	if recs == nil {
		recs = []*ledger.RecordEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

// patientIDParam parses the :id path segment, writing a 400 on failure.
func patientIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "patient id must be a positive integer"})
		return 0, false
	}
	return id, true
}

// indexParam parses the :idx path segment, writing a 400 on failure.
func indexParam(c *gin.Context) (int, bool) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return 0, false
	}
	return idx, true
}

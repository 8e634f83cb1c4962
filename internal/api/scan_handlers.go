package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vistacrm/geodedup-engine/pkg/models"
)

// startScanRequest optionally narrows a background scan to one kind.
type startScanRequest struct {
	Kind models.EntityKind `json:"tipo"`
}

// handleStartScan launches a detection pass in the background and
// returns immediately. A pass already in flight is a conflict.
// POST /api/v1/scan { "tipo": "bairro" }
func (h *APIHandler) handleStartScan(c *gin.Context) {
	var req startScanRequest
	_ = c.ShouldBindJSON(&req)
	if req.Kind != "" && !req.Kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tipo. Expected: cidade, bairro, rua, condominio"})
		return
	}

	if h.scanner.IsRunning() {
		c.JSON(http.StatusConflict, gin.H{"error": "A scan is already running"})
		return
	}
	if req.Kind != "" {
		h.scanner.RunAsync(req.Kind)
	} else {
		h.scanner.RunAsync()
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "scan_iniciado"})
}

// scanSyncRequest scopes an inline detection preview.
type scanSyncRequest struct {
	Kind     models.EntityKind `json:"tipo" binding:"required"`
	ParentID string            `json:"parentId"`
}

// handleScanSync runs detection for one kind inline and returns the
// candidate groups without persisting anything, for ad-hoc inspection
// of a city or neighborhood before committing a real scan.
// POST /api/v1/scan/sync { "tipo": "bairro", "parentId": "..." }
func (h *APIHandler) handleScanSync(c *gin.Context) {
	var req scanSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {tipo, parentId?}"})
		return
	}

	candidates, err := h.scanner.Preview(c.Request.Context(), req.Kind, req.ParentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Detection failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tipo":       req.Kind,
		"candidatos": candidates,
		"totalCount": len(candidates),
	})
}

// handleScanProgress reports the live counters of the current scan.
func (h *APIHandler) handleScanProgress(c *gin.Context) {
	pairs, created, rejected := h.scanner.Progress()
	c.JSON(http.StatusOK, gin.H{
		"emExecucao":       h.scanner.IsRunning(),
		"paresAnalisados":  pairs,
		"gruposCriados":    created,
		"gruposRejeitados": rejected,
	})
}

// handleScanHistory returns the most recent run logs.
func (h *APIHandler) handleScanHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := h.dbStore.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch run history", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runs, "totalCount": len(runs)})
}

// handleEnrich resolves canonical names for every pending group that
// still lacks one, working through them in small batches.
// POST /api/v1/scan/enriquecer
func (h *APIHandler) handleEnrich(c *gin.Context) {
	if !h.enricher.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Enrichment is disabled by configuration"})
		return
	}

	processed, err := h.enricher.EnrichPending(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Enrichment failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"gruposProcessados": processed})
}

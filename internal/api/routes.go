package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vistacrm/geodedup-engine/internal/db"
	"github.com/vistacrm/geodedup-engine/internal/enricher"
	"github.com/vistacrm/geodedup-engine/internal/merger"
	"github.com/vistacrm/geodedup-engine/internal/scanner"
)

type APIHandler struct {
	dbStore  *db.PostgresStore
	scanner  *scanner.Scanner
	merger   *merger.Merger
	enricher *enricher.Enricher
	wsHub    *Hub

	// Confidence floor for one-click suggestion approval.
	autoApproveMin float64
}

// AutoApproveMinConfidence is the contract of the auto-approvable
// listing: only groups the validator scored at or above this are offered
// for one-click approval.
const AutoApproveMinConfidence = 0.90

func SetupRouter(dbStore *db.PostgresStore, scn *scanner.Scanner, mrg *merger.Merger,
	enr *enricher.Enricher, wsHub *Hub) *gin.Engine {

	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://crm.vistacrm.com.br
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		dbStore:        dbStore,
		scanner:        scn,
		merger:         mrg,
		enricher:       enr,
		wsHub:          wsHub,
		autoApproveMin: AutoApproveMinConfidence,
	}

	rateLimiter := NewRateLimiter(120, 30)

	api := r.Group("/api/v1")
	api.Use(rateLimiter.Middleware())
	{
		api.GET("/health", handler.handleHealth)
		api.GET("/stream", wsHub.Subscribe)

		protected := api.Group("")
		protected.Use(AuthMiddleware())
		{
			grupos := protected.Group("/grupos")
			{
				grupos.GET("", handler.handleListGroups)
				grupos.GET("/auto-aprovaveis", handler.handleAutoApprovable)
				grupos.GET("/:id", handler.handleGetGroup)
				grupos.GET("/:id/impacto", handler.handleGroupImpact)
				grupos.POST("/revalidar-llm", handler.handleRevalidate)
				grupos.POST("/aprovar-sugestoes-batch", handler.handleBatchApprove)
				grupos.PUT("/:id/unificar", handler.handleMerge)
				grupos.PUT("/:id/reverter", handler.handleRevert)
				grupos.PUT("/:id/descartar", handler.handleDiscard)
				grupos.PUT("/:id/aprovar-sugestao", handler.handleApproveSuggestion)
			}

			scan := protected.Group("/scan")
			{
				scan.POST("", handler.handleStartScan)
				scan.POST("/sync", handler.handleScanSync)
				scan.POST("/enriquecer", handler.handleEnrich)
				scan.GET("/progresso", handler.handleScanProgress)
				scan.GET("/historico", handler.handleScanHistory)
			}

			stats := protected.Group("/stats")
			{
				stats.GET("", handler.handleStats)
				stats.GET("/ranking-cidades", handler.handleCityRanking)
				stats.GET("/cidades", handler.handleCityStats)
			}

			relatorio := protected.Group("/relatorio")
			{
				relatorio.GET("/resumo", handler.handleReportSummary)
				relatorio.GET("/por-empresa", handler.handleReportByCompany)
				relatorio.GET("/grupos-executados", handler.handleReportExecuted)
				relatorio.GET("/grupo/:id/detalhes", handler.handleGroupDetails)
			}
		}
	}

	return r
}

// handleHealth reports engine status for service discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "VistaCRM GeoDedup Engine v1.0",
		"capabilities": gin.H{
			"trigram_detection": true,
			"llm_validation":    h.scanner != nil,
			"enrichment":        h.enricher != nil && h.enricher.Enabled(),
			"merge_rollback":    true,
		},
		"dbConnected": h.dbStore != nil,
		"scanRunning": h.scanner != nil && h.scanner.IsRunning(),
	})
}

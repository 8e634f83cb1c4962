package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// handleStats returns the dashboard summary.
func (h *APIHandler) handleStats(c *gin.Context) {
	stats, err := h.dbStore.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute stats", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleCityRanking ranks cities by pending duplicate density.
func (h *APIHandler) handleCityRanking(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	ranking, err := h.dbStore.CityRanking(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute ranking", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ranking, "totalCount": len(ranking)})
}

// handleCityStats returns the per-city status breakdown.
func (h *APIHandler) handleCityStats(c *gin.Context) {
	stats, err := h.dbStore.CityStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute city stats", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats, "totalCount": len(stats)})
}

// handleReportSummary returns the audit rollup of executed merges.
func (h *APIHandler) handleReportSummary(c *gin.Context) {
	summary, err := h.dbStore.Summary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build summary", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// handleReportByCompany shows which companies had property rows touched
// by executed merges.
func (h *APIHandler) handleReportByCompany(c *gin.Context) {
	impact, err := h.dbStore.ImpactByCompany(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build company report", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": impact, "totalCount": len(impact)})
}

// handleReportExecuted lists executed merges, newest first.
func (h *APIHandler) handleReportExecuted(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	groups, err := h.dbStore.ExecutedGroups(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list executed groups", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": groups, "totalCount": len(groups)})
}

// handleGroupDetails returns the full audit trail of one executed group:
// the group, its merge log and the member contexts captured at detection.
func (h *APIHandler) handleGroupDetails(c *gin.Context) {
	ctx := c.Request.Context()
	group, err := h.dbStore.GetGroup(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch group", "details": err.Error()})
		return
	}
	if group == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Group not found"})
		return
	}

	mergeLog, err := h.dbStore.MergeLogForGroup(ctx, group.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch merge log", "details": err.Error()})
		return
	}
	contexts, _ := h.dbStore.GetMemberContexts(ctx, group.ID)

	c.JSON(http.StatusOK, gin.H{
		"grupo":     group,
		"mergeLog":  mergeLog,
		"contextos": contexts,
	})
}

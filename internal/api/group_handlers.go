package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vistacrm/geodedup-engine/internal/db"
	"github.com/vistacrm/geodedup-engine/internal/normalizer"
	"github.com/vistacrm/geodedup-engine/pkg/models"
)

// pageParams reads the Portuguese pagination query parameters.
func pageParams(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("pagina", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("tamanhoPagina", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return page, pageSize
}

// handleListGroups returns a paginated group listing. Status defaults to
// Pending; the free-text filter is folded before matching so accented
// searches hit the normalized names.
// GET /api/v1/grupos?tipo=bairro&pagina=1&tamanhoPagina=20
func (h *APIHandler) handleListGroups(c *gin.Context) {
	page, pageSize := pageParams(c)

	filter := db.ListGroupsFilter{
		Kind:     models.EntityKind(c.Query("tipo")),
		Status:   models.GroupStatus(c.DefaultQuery("status", string(models.StatusPending))),
		ParentID: c.Query("parentId"),
		Search:   normalizer.Fold(c.Query("busca")),
		Page:     page,
		PageSize: pageSize,
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tipo. Expected: cidade, bairro, rua, condominio"})
		return
	}

	groups, total, err := h.dbStore.ListGroups(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list groups", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":          groups,
		"totalCount":    total,
		"pagina":        filter.Page,
		"tamanhoPagina": filter.PageSize,
	})
}

// handleGetGroup returns one group with its member contexts, reference
// impact and merge log.
func (h *APIHandler) handleGetGroup(c *gin.Context) {
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

	contexts, err := h.dbStore.GetMemberContexts(ctx, group.ID)
	if err != nil {
		log.Printf("Failed to load member contexts for group %s: %v", group.ID, err)
	}

	impact, err := h.merger.Impact(ctx, group.EntityKind, group.MemberIDs, group.MemberNames)
	if err != nil {
		log.Printf("Failed to compute impact for group %s: %v", group.ID, err)
	}

	mergeLog, err := h.dbStore.MergeLogForGroup(ctx, group.ID)
	if err != nil {
		log.Printf("Failed to load merge log for group %s: %v", group.ID, err)
	}

	c.JSON(http.StatusOK, gin.H{
		"grupo":     group,
		"contextos": contexts,
		"impacto":   impact,
		"mergeLog":  mergeLog,
	})
}

// handleGroupImpact returns only the per-member reference counts, for
// the lighter pre-merge confirmation dialog.
func (h *APIHandler) handleGroupImpact(c *gin.Context) {
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

	impact, err := h.merger.Impact(ctx, group.EntityKind, group.MemberIDs, group.MemberNames)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute impact", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"grupoId": group.ID, "impacto": impact})
}

// mergeRequest is the unification body. decisaoContexto is an opaque
// audit blob the caller can attach; it is stored verbatim on the group.
type mergeRequest struct {
	ChosenID        string          `json:"registroCanonico" binding:"required"`
	FinalName       *string         `json:"nomeCanonicoFinal"`
	ExecutedBy      *string         `json:"executadoPor"`
	DecisionContext json.RawMessage `json:"decisaoContexto"`
}

// handleMerge executes a unification.
// PUT /api/v1/grupos/:id/unificar { "registroCanonico": "...", "nomeCanonicoFinal": "...", "executadoPor": "...", "decisaoContexto": {...} }
func (h *APIHandler) handleMerge(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {registroCanonico, nomeCanonicoFinal?, executadoPor?, decisaoContexto?}"})
		return
	}

	result, err := h.merger.Merge(c.Request.Context(), c.Param("id"), req.ChosenID,
		req.FinalName, req.ExecutedBy, req.DecisionContext)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Merge failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleRevert rolls an executed merge back from its change log.
func (h *APIHandler) handleRevert(c *gin.Context) {
	result, err := h.merger.Revert(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Revert failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleDiscard marks a pending group as a false positive.
func (h *APIHandler) handleDiscard(c *gin.Context) {
	if err := h.dbStore.DiscardGroup(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Discard failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "descartado", "grupoId": c.Param("id")})
}

// handleApproveSuggestion merges a group into its suggested canonical
// member, renaming it to the resolved authoritative name.
func (h *APIHandler) handleApproveSuggestion(c *gin.Context) {
	var req struct {
		ExecutedBy *string `json:"executadoPor"`
	}
	_ = c.ShouldBindJSON(&req)

	result, err := h.approveSuggestion(c, c.Param("id"), req.ExecutedBy)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Approval failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *APIHandler) approveSuggestion(c *gin.Context, groupID string, executedBy *string) (interface{}, error) {
	ctx := c.Request.Context()
	group, err := h.dbStore.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, fmt.Errorf("group %s not found", groupID)
	}
	if group.SuggestedCanonicalID == nil {
		return nil, fmt.Errorf("group %s has no canonical suggestion; run enrichment first", groupID)
	}

	return h.merger.Merge(ctx, groupID, *group.SuggestedCanonicalID, group.CanonicalName, executedBy, nil)
}

// handleAutoApprovable lists groups eligible for one-click approval:
// enriched, with a suggestion, validated at high confidence.
func (h *APIHandler) handleAutoApprovable(c *gin.Context) {
	ids, err := h.dbStore.AutoApprovableIDs(c.Request.Context(), h.autoApproveMin)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list auto-approvable groups", "details": err.Error()})
		return
	}

	groups := make([]models.DuplicateGroup, 0, len(ids))
	for _, id := range ids {
		g, err := h.dbStore.GetGroup(c.Request.Context(), id)
		if err == nil && g != nil {
			groups = append(groups, *g)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"data":          groups,
		"totalCount":    len(groups),
		"minConfidence": h.autoApproveMin,
	})
}

// batchApproveRequest names the groups to approve; the caller picks
// them, typically from the auto-approvable listing.
type batchApproveRequest struct {
	GroupIDs   []string `json:"grupoIds" binding:"required"`
	ExecutedBy *string  `json:"executadoPor"`
}

// handleBatchApprove approves the given suggestions in bulk, reporting
// one result per group id. Individual failures do not abort the batch.
// POST /api/v1/grupos/aprovar-sugestoes-batch { "grupoIds": ["..."], "executadoPor": "..." }
func (h *APIHandler) handleBatchApprove(c *gin.Context) {
	var req batchApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.GroupIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {grupoIds: [...], executadoPor?}"})
		return
	}

	approved := 0
	results := make([]gin.H, 0, len(req.GroupIDs))
	for _, id := range req.GroupIDs {
		if _, err := h.approveSuggestion(c, id, req.ExecutedBy); err != nil {
			results = append(results, gin.H{"grupoId": id, "sucesso": false, "erro": err.Error()})
			continue
		}
		approved++
		results = append(results, gin.H{"grupoId": id, "sucesso": true})
	}

	c.JSON(http.StatusOK, gin.H{
		"resultados":     results,
		"totalAprovados": approved,
	})
}

// handleRevalidate pushes pending groups without an LLM decision through
// the validator again.
func (h *APIHandler) handleRevalidate(c *gin.Context) {
	validated, discarded, err := h.scanner.RevalidatePending(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Revalidation failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"validados":   validated,
		"descartados": discarded,
	})
}

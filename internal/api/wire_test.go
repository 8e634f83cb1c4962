package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/vistacrm/geodedup-engine/pkg/models"
)

func TestMergeRequestContract(t *testing.T) {
	body := `{
		"registroCanonico": "b1",
		"nomeCanonicoFinal": "Jardim América",
		"executadoPor": "ana",
		"decisaoContexto": {"origem": "painel", "revisao": 2}
	}`

	var req mergeRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("Failed to decode merge body: %v", err)
	}
	if req.ChosenID != "b1" {
		t.Errorf("registroCanonico = %q, want b1", req.ChosenID)
	}
	if req.FinalName == nil || *req.FinalName != "Jardim América" {
		t.Errorf("nomeCanonicoFinal = %v, want Jardim América", req.FinalName)
	}
	if req.ExecutedBy == nil || *req.ExecutedBy != "ana" {
		t.Errorf("executadoPor = %v, want ana", req.ExecutedBy)
	}

	var ctx map[string]any
	if err := json.Unmarshal(req.DecisionContext, &ctx); err != nil {
		t.Fatalf("decisaoContexto must carry the blob verbatim: %v", err)
	}
	if ctx["origem"] != "painel" {
		t.Errorf("decisaoContexto = %v, want the caller's object", ctx)
	}
}

func TestBatchApproveRequestContract(t *testing.T) {
	body := `{"grupoIds": ["g1", "g2"], "executadoPor": "ana"}`

	var req batchApproveRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("Failed to decode batch body: %v", err)
	}
	if len(req.GroupIDs) != 2 || req.GroupIDs[0] != "g1" || req.GroupIDs[1] != "g2" {
		t.Errorf("grupoIds = %v, want [g1 g2]", req.GroupIDs)
	}
}

func TestScanRequestContracts(t *testing.T) {
	var start startScanRequest
	if err := json.Unmarshal([]byte(`{"tipo": "bairro"}`), &start); err != nil {
		t.Fatalf("Failed to decode scan body: %v", err)
	}
	if start.Kind != models.KindNeighborhood {
		t.Errorf("tipo = %q, want bairro", start.Kind)
	}

	var sync scanSyncRequest
	if err := json.Unmarshal([]byte(`{"tipo": "rua", "parentId": "bairro-1"}`), &sync); err != nil {
		t.Fatalf("Failed to decode sync body: %v", err)
	}
	if sync.Kind != models.KindStreet || sync.ParentID != "bairro-1" {
		t.Errorf("Sync request = (%q, %q), want (rua, bairro-1)", sync.Kind, sync.ParentID)
	}
}

func TestPageParams(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/api/v1/grupos?pagina=3&tamanhoPagina=50", nil)
	if page, size := pageParams(c); page != 3 || size != 50 {
		t.Errorf("pageParams = (%d, %d), want (3, 50)", page, size)
	}

	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/api/v1/grupos", nil)
	if page, size := pageParams(c); page != 1 || size != 20 {
		t.Errorf("Defaults = (%d, %d), want (1, 20)", page, size)
	}

	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/api/v1/grupos?pagina=0&tamanhoPagina=-5", nil)
	if page, size := pageParams(c); page != 1 || size != 20 {
		t.Errorf("Out-of-range values = (%d, %d), want the defaults", page, size)
	}
}

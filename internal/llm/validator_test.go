package llm

import (
	"strings"
	"testing"

	"github.com/vistacrm/geodedup-engine/pkg/models"
)

func sampleCandidates() []Candidate {
	return []Candidate{
		{
			Kind:        models.KindNeighborhood,
			MemberIDs:   []string{"a", "b", "c"},
			MemberNames: []string{"Jardim Aurora", "Jd Aurora", "JARDIM AURORA"},
			Context:     GeoContext{State: "GO", City: "Goiânia"},
		},
		{
			Kind:        models.KindNeighborhood,
			MemberIDs:   []string{"p1", "p2"},
			MemberNames: []string{"Parque Industrial I", "Parque Industrial II"},
			Context:     GeoContext{State: "GO", City: "Goiânia"},
		},
	}
}

func TestBuildPrompt_EmbedsRubric(t *testing.T) {
	candidates := sampleCandidates()

	// Every batch slicing must carry the rubric verbatim.
	variants := [][]int{{0}, {1}, {0, 1}}
	for _, indices := range variants {
		prompt, err := BuildPrompt(candidates, indices)
		if err != nil {
			t.Fatalf("BuildPrompt failed: %v", err)
		}
		if !strings.Contains(prompt, Rubric) {
			t.Errorf("Prompt for indices %v does not embed the rubric verbatim", indices)
		}
		for _, idx := range indices {
			for _, name := range candidates[idx].MemberNames {
				if !strings.Contains(prompt, name) {
					t.Errorf("Prompt missing member name %q", name)
				}
			}
		}
	}
}

func TestRubric_CoversAllRules(t *testing.T) {
	for _, marker := range []string{"1.", "2.", "3.", "4.", "5.", "6.", "7.", "8."} {
		if !strings.Contains(Rubric, marker) {
			t.Errorf("Rubric missing rule %s", marker)
		}
	}
}

func TestParseDecisions(t *testing.T) {
	candidates := sampleCandidates()
	response := `Segue a análise:
[
  {"grupo": 0, "confirmed": true, "confidence": 0.95, "canonical_name": "Jardim Aurora",
   "rationale": "variações de grafia do mesmo bairro", "valid_member_ids": ["a","b","c"]},
  {"grupo": 1, "confirmed": false, "confidence": 0.98, "canonical_name": "",
   "rationale": "sufixo numeral romano distingue os lugares (regra 1)", "valid_member_ids": []}
]`

	decisions, err := ParseDecisions(response, candidates, []int{0, 1})
	if err != nil {
		t.Fatalf("ParseDecisions failed: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("Expected 2 decisions, got %d", len(decisions))
	}
	if !decisions[0].Confirmed || decisions[0].CanonicalName != "Jardim Aurora" {
		t.Errorf("Unexpected decision for group 0: %+v", decisions[0])
	}
	if decisions[1].Confirmed {
		t.Errorf("Numeric-suffix group must be rejected, got %+v", decisions[1])
	}
}

func TestParseDecisions_UnknownIndexDropped(t *testing.T) {
	candidates := sampleCandidates()
	response := `[{"grupo": 7, "confirmed": true, "confidence": 1.0, "canonical_name": "", "rationale": "", "valid_member_ids": []}]`

	decisions, err := ParseDecisions(response, candidates, []int{0})
	if err != nil {
		t.Fatalf("ParseDecisions failed: %v", err)
	}
	if len(decisions) != 0 {
		t.Errorf("Decision for an index outside the batch must be dropped, got %v", decisions)
	}
}

func TestParseDecisions_NoArray(t *testing.T) {
	if _, err := ParseDecisions("desculpe, não posso ajudar", sampleCandidates(), []int{0}); err == nil {
		t.Error("Expected error for a response without a JSON array")
	}
}

func TestApply_Rejection(t *testing.T) {
	group := &models.CandidateGroup{
		EntityKind:  models.KindNeighborhood,
		MemberIDs:   []string{"p1", "p2"},
		MemberNames: []string{"Parque Industrial I", "Parque Industrial II"},
	}
	res := &models.ValidationResult{Confirmed: false, Confidence: 0.98}

	if Apply(group, res) {
		t.Error("Rejected group must not be kept")
	}
}

// Trimmed members must equal the validated subset, preserving relative
// order.
func TestApply_PartialTrim(t *testing.T) {
	group := &models.CandidateGroup{
		EntityKind:  models.KindCondo,
		MemberIDs:   []string{"a", "b", "c", "d"},
		MemberNames: []string{"Ed. Aurora", "Edifício Aurora", "Aurora II", "Condomínio Aurora"},
	}
	res := &models.ValidationResult{
		Confirmed:      true,
		Confidence:     0.9,
		ValidMemberIDs: []string{"a", "b", "d"},
	}

	if !Apply(group, res) {
		t.Fatal("Confirmed group with >= 2 valid members must be kept")
	}
	wantIDs := []string{"a", "b", "d"}
	wantNames := []string{"Ed. Aurora", "Edifício Aurora", "Condomínio Aurora"}
	if len(group.MemberIDs) != 3 {
		t.Fatalf("Expected 3 members after trim, got %d", len(group.MemberIDs))
	}
	for i := range wantIDs {
		if group.MemberIDs[i] != wantIDs[i] || group.MemberNames[i] != wantNames[i] {
			t.Errorf("Trim broke member order: got %v / %v", group.MemberIDs, group.MemberNames)
		}
	}
}

func TestApply_TrimBelowTwoDiscards(t *testing.T) {
	group := &models.CandidateGroup{
		EntityKind:  models.KindStreet,
		MemberIDs:   []string{"a", "b", "c"},
		MemberNames: []string{"Rua Um", "Rua Dois", "Rua Tres"},
	}
	res := &models.ValidationResult{Confirmed: true, ValidMemberIDs: []string{"a"}}

	if Apply(group, res) {
		t.Error("A trim leaving fewer than 2 members must discard the group")
	}
}

func TestApply_CanonicalReplacesNormalized(t *testing.T) {
	group := &models.CandidateGroup{
		EntityKind:     models.KindNeighborhood,
		MemberIDs:      []string{"a", "b"},
		MemberNames:    []string{"Jd America", "Jardim América"},
		NormalizedName: "america",
	}
	res := &models.ValidationResult{Confirmed: true, CanonicalName: "Jardim América"}

	if !Apply(group, res) {
		t.Fatal("Confirmed group must be kept")
	}
	if group.NormalizedName != "america" {
		t.Errorf("Canonical name must replace normalized name in folded form, got %q", group.NormalizedName)
	}
}

func TestApply_NoDecisionPassesThrough(t *testing.T) {
	group := &models.CandidateGroup{
		MemberIDs:   []string{"a", "b"},
		MemberNames: []string{"X", "Y"},
	}
	if !Apply(group, nil) {
		t.Error("A group without a decision must pass through unvalidated")
	}
}

func TestDecisionKey_FoldsNames(t *testing.T) {
	a := DecisionKey([]string{"Jardim América", "JD AMERICA"})
	b := DecisionKey([]string{"jardim america", "jd america"})
	if a != b {
		t.Errorf("Decision keys must fold case and accents: %q vs %q", a, b)
	}
}

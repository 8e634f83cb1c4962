package detector

import (
	"math"
	"sort"
	"testing"

	"github.com/vistacrm/geodedup-engine/pkg/models"
)

func TestUnionFind_Components(t *testing.T) {
	c := NewClusterer()

	if !c.Union("a", "b") {
		t.Error("Expected first union of a,b to merge")
	}
	if c.Union("a", "b") {
		t.Error("Expected second union of a,b to be a no-op")
	}
	c.Union("b", "c")
	c.Union("x", "y")

	if c.Find("a") != c.Find("c") {
		t.Error("a and c should share a root after transitive unions")
	}
	if c.Find("a") == c.Find("x") {
		t.Error("a and x are in different components")
	}
	if got := c.ClusterSize("a"); got != 3 {
		t.Errorf("ClusterSize(a) = %d, want 3", got)
	}
	if got := c.ClusterSize("x"); got != 2 {
		t.Errorf("ClusterSize(x) = %d, want 2", got)
	}
}

// Groups must be exactly the connected components of size >= 2 of the
// pair graph.
func TestBuildGroups_ConnectedComponents(t *testing.T) {
	pairs := []models.SimilarPair{
		{IDA: "a", IDB: "b", NameA: "A", NameB: "B", ParentID: "1", Score: 0.9},
		{IDA: "c", IDB: "d", NameA: "C", NameB: "D", ParentID: "1", Score: 0.8},
		{IDA: "b", IDB: "e", NameA: "B", NameB: "E", ParentID: "1", Score: 0.7},
	}

	groups := BuildGroups(models.KindStreet, pairs)
	if len(groups) != 2 {
		t.Fatalf("Expected 2 components, got %d", len(groups))
	}

	var sizes []int
	for _, g := range groups {
		sizes = append(sizes, len(g.MemberIDs))
	}
	sort.Ints(sizes)
	if sizes[0] != 2 || sizes[1] != 3 {
		t.Errorf("Expected component sizes [2 3], got %v", sizes)
	}
}

// S1: variant clustering within one parent scope.
func TestBuildGroups_VariantClustering(t *testing.T) {
	pairs := []models.SimilarPair{
		{IDA: "a", IDB: "b", NameA: "Jardim Aurora", NameB: "Jd Aurora", ParentID: "100", Score: 0.85},
		{IDA: "b", IDB: "c", NameA: "Jd Aurora", NameB: "JARDIM AURORA", ParentID: "100", Score: 0.90},
	}

	groups := BuildGroups(models.KindNeighborhood, pairs)
	if len(groups) != 1 {
		t.Fatalf("Expected 1 group, got %d", len(groups))
	}

	g := groups[0]
	if len(g.MemberIDs) != 3 {
		t.Fatalf("Expected 3 members, got %d", len(g.MemberIDs))
	}
	if g.MemberIDs[0] != "a" || g.MemberIDs[1] != "b" || g.MemberIDs[2] != "c" {
		t.Errorf("Expected discovery order [a b c], got %v", g.MemberIDs)
	}
	if math.Abs(g.MeanScore-0.88) > 1e-9 {
		t.Errorf("Expected mean score 0.88, got %v", g.MeanScore)
	}
	if g.ParentID != "100" {
		t.Errorf("Expected parent 100, got %q", g.ParentID)
	}
	if g.NormalizedName != "aurora" {
		t.Errorf("Expected normalized name %q, got %q", "aurora", g.NormalizedName)
	}
}

// S2: same names under different parents never merge.
func TestBuildGroups_CrossScopeStaysDisjoint(t *testing.T) {
	pairs := []models.SimilarPair{
		{IDA: "1a", IDB: "1b", NameA: "Centro", NameB: "Centro Histórico", ParentID: "100", Score: 0.70},
		{IDA: "2a", IDB: "2b", NameA: "Centro", NameB: "Centro Histórico", ParentID: "200", Score: 0.70},
	}

	groups := BuildGroups(models.KindNeighborhood, pairs)
	if len(groups) != 2 {
		t.Fatalf("Expected 2 disjoint groups, got %d", len(groups))
	}

	byParent := make(map[string][]string)
	for _, g := range groups {
		byParent[g.ParentID] = g.MemberIDs
	}
	if got := byParent["100"]; len(got) != 2 || got[0] != "1a" || got[1] != "1b" {
		t.Errorf("Parent 100 group = %v, want [1a 1b]", got)
	}
	if got := byParent["200"]; len(got) != 2 || got[0] != "2a" || got[1] != "2b" {
		t.Errorf("Parent 200 group = %v, want [2a 2b]", got)
	}
}

func TestBuildGroups_MeanScoreRounding(t *testing.T) {
	pairs := []models.SimilarPair{
		{IDA: "a", IDB: "b", NameA: "X", NameB: "Y", ParentID: "1", Score: 0.511},
		{IDA: "b", IDB: "c", NameA: "Y", NameB: "Z", ParentID: "1", Score: 0.643},
		{IDA: "a", IDB: "c", NameA: "X", NameB: "Z", ParentID: "1", Score: 0.727},
	}

	groups := BuildGroups(models.KindCity, pairs)
	if len(groups) != 1 {
		t.Fatalf("Expected 1 group, got %d", len(groups))
	}
	// (0.511+0.643+0.727)/3 = 0.627 → 0.63
	if math.Abs(groups[0].MeanScore-0.63) > 1e-9 {
		t.Errorf("Expected mean score 0.63, got %v", groups[0].MeanScore)
	}
}

func TestFilterKnown(t *testing.T) {
	pairs := []models.SimilarPair{
		{IDA: "a", IDB: "b"}, // both known: dropped
		{IDA: "b", IDB: "n"}, // newcomer attaches: kept
		{IDA: "x", IDB: "y"}, // both new: kept
	}
	known := map[string]bool{"a": true, "b": true}

	kept := FilterKnown(pairs, known)
	if len(kept) != 2 {
		t.Fatalf("Expected 2 kept pairs, got %d", len(kept))
	}
	if kept[0].IDB != "n" || kept[1].IDA != "x" {
		t.Errorf("Unexpected kept pairs: %v", kept)
	}

	if got := FilterKnown(pairs, nil); len(got) != 3 {
		t.Errorf("Empty known set must keep all pairs, got %d", len(got))
	}
}

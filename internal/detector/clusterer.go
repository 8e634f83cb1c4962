package detector

import (
	"github.com/vistacrm/geodedup-engine/internal/normalizer"
	"github.com/vistacrm/geodedup-engine/pkg/models"
)

// Clusterer merges similar pairs into connected components using weighted
// Union-Find with path compression.
//   - Find: O(α(n)) amortized (inverse Ackermann)
//   - Union: O(α(n)) amortized
//   - Space: O(n) where n = number of distinct member ids
type Clusterer struct {
	parent map[string]string
	rank   map[string]int
	size   map[string]int
}

func NewClusterer() *Clusterer {
	return &Clusterer{
		parent: make(map[string]string),
		rank:   make(map[string]int),
		size:   make(map[string]int),
	}
}

// Find returns the root representative of the cluster containing id.
// Uses path compression for amortized O(1) performance.
func (c *Clusterer) Find(id string) string {
	if _, exists := c.parent[id]; !exists {
		c.parent[id] = id
		c.rank[id] = 0
		c.size[id] = 1
	}

	if c.parent[id] != id {
		c.parent[id] = c.Find(c.parent[id])
	}
	return c.parent[id]
}

// Union merges the clusters containing id1 and id2, by rank to keep the
// trees balanced. Returns true if a merge actually occurred.
func (c *Clusterer) Union(id1, id2 string) bool {
	root1 := c.Find(id1)
	root2 := c.Find(id2)

	if root1 == root2 {
		return false
	}

	if c.rank[root1] < c.rank[root2] {
		c.parent[root1] = root2
		c.size[root2] += c.size[root1]
	} else if c.rank[root1] > c.rank[root2] {
		c.parent[root2] = root1
		c.size[root1] += c.size[root2]
	} else {
		c.parent[root2] = root1
		c.size[root1] += c.size[root2]
		c.rank[root1]++
	}

	return true
}

// ClusterSize returns the number of members in id's cluster.
func (c *Clusterer) ClusterSize(id string) int {
	return c.size[c.Find(id)]
}

// BuildGroups clusters the pairs of one kind into candidate groups.
//
// Members keep discovery order (first appearance in the score-descending
// pair stream), so the first member of each group is its highest-scoring
// appearance. mean_score is the arithmetic mean of the component's edge
// scores rounded to 2 decimals; parent_id comes from any member pair —
// by construction all pairs of a component share it.
func BuildGroups(kind models.EntityKind, pairs []models.SimilarPair) []models.CandidateGroup {
	c := NewClusterer()
	names := make(map[string]string)
	order := make([]string, 0, len(pairs)*2)

	seen := func(id, name string) {
		if _, ok := names[id]; !ok {
			names[id] = name
			order = append(order, id)
		}
	}

	for _, p := range pairs {
		seen(p.IDA, p.NameA)
		seen(p.IDB, p.NameB)
		c.Union(p.IDA, p.IDB)
	}

	// Aggregate edge scores and parent label per component root.
	type edgeAgg struct {
		sum    float64
		count  int
		parent string
	}
	agg := make(map[string]*edgeAgg)
	for _, p := range pairs {
		root := c.Find(p.IDA)
		a, ok := agg[root]
		if !ok {
			a = &edgeAgg{parent: p.ParentID}
			agg[root] = a
		}
		a.sum += p.Score
		a.count++
	}

	// Emit one group per component in discovery order of its first member.
	membersByRoot := make(map[string][]string)
	rootOrder := make([]string, 0)
	for _, id := range order {
		root := c.Find(id)
		if _, ok := membersByRoot[root]; !ok {
			rootOrder = append(rootOrder, root)
		}
		membersByRoot[root] = append(membersByRoot[root], id)
	}

	groups := make([]models.CandidateGroup, 0, len(rootOrder))
	for _, root := range rootOrder {
		members := membersByRoot[root]
		if len(members) < 2 {
			continue
		}
		a := agg[root]

		memberNames := make([]string, len(members))
		for i, id := range members {
			memberNames[i] = names[id]
		}

		groups = append(groups, models.CandidateGroup{
			EntityKind:     kind,
			ParentID:       a.parent,
			NormalizedName: normalizer.FoldWithPrefixes(memberNames[0], kind),
			MemberIDs:      members,
			MemberNames:    memberNames,
			MeanScore:      normalizer.RoundScore(a.sum / float64(a.count)),
		})
	}
	return groups
}

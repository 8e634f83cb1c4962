package merger

import (
	"context"
	"fmt"
	"sort"

	"github.com/vistacrm/geodedup-engine/pkg/models"
)

// Impact counts the inbound references of each group member, per
// referencing table and in total, sorted by total descending. The
// most-referenced member is the natural canonical candidate: absorbing
// into it rewrites the fewest rows.
func (m *Merger) Impact(ctx context.Context, kind models.EntityKind, memberIDs, memberNames []string) ([]models.MemberImpact, error) {
	refs := RefsFor(kind)
	cast := idCast(kind)
	pool := m.store.GetPool()

	impacts := make([]models.MemberImpact, 0, len(memberIDs))
	for i, id := range memberIDs {
		impact := models.MemberImpact{
			ID:       id,
			PerTable: make(map[string]int, len(refs)),
		}
		if i < len(memberNames) {
			impact.Name = memberNames[i]
		}

		for _, ref := range refs {
			sql := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = $1%s", ref.Table, ref.Column, cast)
			var count int
			if err := pool.QueryRow(ctx, sql, id).Scan(&count); err != nil {
				return nil, fmt.Errorf("failed to count %s.%s for %s: %v", ref.Table, ref.Column, id, err)
			}
			impact.PerTable[ref.Table] += count
			impact.TotalReferences += count
		}
		impacts = append(impacts, impact)
	}

	sort.SliceStable(impacts, func(a, b int) bool {
		return impacts[a].TotalReferences > impacts[b].TotalReferences
	})
	return impacts, nil
}

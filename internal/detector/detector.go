// Package detector discovers candidate duplicate pairs with scoped
// pg_trgm similarity queries and clusters them into groups.
//
// Scoping is per kind: cities pair within a state, neighborhoods within a
// city, streets within a neighborhood, condos within a street. The condo
// query still labels its groups with the enclosing city id — street-level
// scopes are too narrow to be a useful display filter, and most condo
// duplicates sit on the same street anyway.
package detector

import (
	"context"
	"fmt"

	"github.com/vistacrm/geodedup-engine/internal/db"
	"github.com/vistacrm/geodedup-engine/pkg/models"
)

type Detector struct {
	store     *db.PostgresStore
	threshold float64 // trigram similarity cutoff τ
	pairLimit int     // LIMIT per detection query
}

func New(store *db.PostgresStore, threshold float64, pairLimit int) *Detector {
	return &Detector{store: store, threshold: threshold, pairLimit: pairLimit}
}

// pairQueries returns, per kind, the scoped self-join. All share the same
// shape: parent equality, a.id < b.id to avoid mirrored pairs, folded
// trigram similarity above τ, score-descending order, LIMIT.
func pairQuery(kind models.EntityKind) (string, error) {
	const sim = "similarity(unaccent(lower(a.nome)), unaccent(lower(b.nome)))"

	switch kind {
	case models.KindCity:
		return `
			SELECT a.id::text, b.id::text, a.nome, b.nome, a.uf, ` + sim + `::float8 AS score
			FROM cidades a
			JOIN cidades b ON a.uf = b.uf AND a.id < b.id
			WHERE ` + sim + ` > $1
			ORDER BY score DESC
			LIMIT $2;`, nil

	case models.KindNeighborhood:
		return `
			SELECT a.id::text, b.id::text, a.nome, b.nome, a.cidade_id::text, ` + sim + `::float8 AS score
			FROM bairros a
			JOIN bairros b ON a.cidade_id = b.cidade_id AND a.id < b.id
			WHERE NOT a.excluido AND NOT b.excluido
			  AND ` + sim + ` > $1
			ORDER BY score DESC
			LIMIT $2;`, nil

	case models.KindStreet:
		return `
			SELECT a.id::text, b.id::text, a.nome, b.nome, a.bairro_id::text, ` + sim + `::float8 AS score
			FROM ruas a
			JOIN ruas b ON a.bairro_id = b.bairro_id AND a.id < b.id
			WHERE NOT a.excluido AND NOT b.excluido
			  AND ` + sim + ` > $1
			ORDER BY score DESC
			LIMIT $2;`, nil

	case models.KindCondo:
		// Pairs share a street; the group's scope label is the
		// enclosing city.
		return `
			SELECT a.id::text, b.id::text, a.nome, b.nome, bb.cidade_id::text, ` + sim + `::float8 AS score
			FROM condominios a
			JOIN condominios b ON a.rua_id = b.rua_id AND a.id < b.id
			JOIN ruas r ON r.id = a.rua_id
			JOIN bairros bb ON bb.id = r.bairro_id
			WHERE ` + sim + ` > $1
			ORDER BY score DESC
			LIMIT $2;`, nil
	}
	return "", fmt.Errorf("unknown entity kind: %s", kind)
}

// FindPairs runs the scoped similarity query for one kind. All pairs or
// none: a failing query aborts this kind's pass.
func (d *Detector) FindPairs(ctx context.Context, kind models.EntityKind) ([]models.SimilarPair, error) {
	sql, err := pairQuery(kind)
	if err != nil {
		return nil, err
	}

	rows, err := d.store.GetPool().Query(ctx, sql, d.threshold, d.pairLimit)
	if err != nil {
		return nil, fmt.Errorf("detection query for %s failed: %v", kind, err)
	}
	defer rows.Close()

	pairs := make([]models.SimilarPair, 0)
	for rows.Next() {
		var p models.SimilarPair
		if err := rows.Scan(&p.IDA, &p.IDB, &p.NameA, &p.NameB, &p.ParentID, &p.Score); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// FilterKnown drops pairs whose BOTH endpoints already belong to a Pending
// or Executed group, preventing regeneration of existing groups. Pairs
// with one new endpoint are kept so a newcomer can attach to a fresh
// cluster.
func FilterKnown(pairs []models.SimilarPair, known map[string]bool) []models.SimilarPair {
	if len(known) == 0 {
		return pairs
	}
	kept := make([]models.SimilarPair, 0, len(pairs))
	for _, p := range pairs {
		if known[p.IDA] && known[p.IDB] {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

// KnownMemberIDs loads the member-id union of existing Pending/Executed
// groups for a kind.
func (d *Detector) KnownMemberIDs(ctx context.Context, kind models.EntityKind) (map[string]bool, error) {
	return d.store.MemberIDsInGroups(ctx, kind)
}

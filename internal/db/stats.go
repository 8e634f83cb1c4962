package db

import (
	"context"

	"github.com/vistacrm/geodedup-engine/pkg/models"
)

// Dashboard aggregates and audit report rollups. These queries back the
// read-only /stats and /relatorio endpoints and never mutate state.

// PipelineStats is the dashboard summary.
type PipelineStats struct {
	ByStatus           map[string]int `json:"porStatus"`
	ByKind             map[string]int `json:"porTipo"`
	PendingGroups      int            `json:"gruposPendentes"`
	ExecutedGroups     int            `json:"gruposExecutados"`
	TotalFKsRedirected int            `json:"totalFksRedirecionados"`
	MembersAbsorbed    int            `json:"registrosAbsorvidos"`
}

// Stats aggregates group counts and merge totals for the dashboard.
func (s *PostgresStore) Stats(ctx context.Context) (*PipelineStats, error) {
	stats := &PipelineStats{
		ByStatus: make(map[string]int),
		ByKind:   make(map[string]int),
	}

	rows, err := s.pool.Query(ctx,
		"SELECT status, tipo, COUNT(*) FROM dedup_grupos GROUP BY status, tipo")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status, kind string
		var count int
		if err := rows.Scan(&status, &kind, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[status] += count
		stats.ByKind[kind] += count
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	stats.PendingGroups = stats.ByStatus[string(models.StatusPending)]
	stats.ExecutedGroups = stats.ByStatus[string(models.StatusExecuted)]

	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_fks_redirecionados), 0),
		       COALESCE(SUM(array_length(registro_ids, 1) - 1), 0)
		FROM dedup_grupos
		WHERE status = $1`, models.StatusExecuted).
		Scan(&stats.TotalFKsRedirected, &stats.MembersAbsorbed)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// CityRankingEntry is one row of the duplicate-density ranking.
type CityRankingEntry struct {
	CityID      string `json:"cidadeId"`
	CityName    string `json:"cidadeNome"`
	StateCode   string `json:"uf"`
	GroupCount  int    `json:"totalGrupos"`
	MemberCount int    `json:"totalRegistros"`
}

// CityRanking ranks cities by the number of pending neighborhood and
// condo groups scoped to them.
func (s *PostgresStore) CityRanking(ctx context.Context, limit int) ([]CityRankingEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	sql := `
		SELECT c.id::text, c.nome, c.uf, COUNT(g.id),
		       COALESCE(SUM(array_length(g.registro_ids, 1)), 0)
		FROM dedup_grupos g
		JOIN cidades c ON c.id::text = g.parent_id
		WHERE g.tipo IN ($1, $2) AND g.status = $3
		GROUP BY c.id, c.nome, c.uf
		ORDER BY COUNT(g.id) DESC
		LIMIT $4;
	`
	rows, err := s.pool.Query(ctx, sql,
		models.KindNeighborhood, models.KindCondo, models.StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ranking := make([]CityRankingEntry, 0)
	for rows.Next() {
		var e CityRankingEntry
		if err := rows.Scan(&e.CityID, &e.CityName, &e.StateCode, &e.GroupCount, &e.MemberCount); err != nil {
			return nil, err
		}
		ranking = append(ranking, e)
	}
	return ranking, rows.Err()
}

// CityStatsEntry is the per-city breakdown across all statuses.
type CityStatsEntry struct {
	CityID    string         `json:"cidadeId"`
	CityName  string         `json:"cidadeNome"`
	StateCode string         `json:"uf"`
	ByStatus  map[string]int `json:"porStatus"`
}

// CityStats returns group counts per city and status.
func (s *PostgresStore) CityStats(ctx context.Context) ([]CityStatsEntry, error) {
	sql := `
		SELECT c.id::text, c.nome, c.uf, g.status, COUNT(g.id)
		FROM dedup_grupos g
		JOIN cidades c ON c.id::text = g.parent_id
		WHERE g.tipo IN ($1, $2)
		GROUP BY c.id, c.nome, c.uf, g.status
		ORDER BY c.nome;
	`
	rows, err := s.pool.Query(ctx, sql, models.KindNeighborhood, models.KindCondo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byCity := make(map[string]*CityStatsEntry)
	order := make([]string, 0)
	for rows.Next() {
		var id, name, uf, status string
		var count int
		if err := rows.Scan(&id, &name, &uf, &status, &count); err != nil {
			return nil, err
		}
		entry, ok := byCity[id]
		if !ok {
			entry = &CityStatsEntry{CityID: id, CityName: name, StateCode: uf, ByStatus: make(map[string]int)}
			byCity[id] = entry
			order = append(order, id)
		}
		entry.ByStatus[status] += count
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	out := make([]CityStatsEntry, 0, len(order))
	for _, id := range order {
		out = append(out, *byCity[id])
	}
	return out, nil
}

// ReportSummary is the audit rollup of executed merges.
type ReportSummary struct {
	ExecutedGroups     int            `json:"gruposExecutados"`
	RevertedGroups     int            `json:"gruposRevertidos"`
	DiscardedGroups    int            `json:"gruposDescartados"`
	TotalFKsRedirected int            `json:"totalFksRedirecionados"`
	ExecutedByKind     map[string]int `json:"executadosPorTipo"`
}

// Summary aggregates the executed/reverted/discarded totals.
func (s *PostgresStore) Summary(ctx context.Context) (*ReportSummary, error) {
	summary := &ReportSummary{ExecutedByKind: make(map[string]int)}

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = $1),
		       COUNT(*) FILTER (WHERE status = $2),
		       COUNT(*) FILTER (WHERE status = $3),
		       COALESCE(SUM(total_fks_redirecionados) FILTER (WHERE status = $1), 0)
		FROM dedup_grupos`,
		models.StatusExecuted, models.StatusReverted, models.StatusDiscarded).
		Scan(&summary.ExecutedGroups, &summary.RevertedGroups,
			&summary.DiscardedGroups, &summary.TotalFKsRedirected)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		"SELECT tipo, COUNT(*) FROM dedup_grupos WHERE status = $1 GROUP BY tipo",
		models.StatusExecuted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		summary.ExecutedByKind[kind] = count
	}
	return summary, rows.Err()
}

// CompanyImpactEntry reports how many property rows a company had
// redirected by executed merges.
type CompanyImpactEntry struct {
	CompanyID   string `json:"empresaId"`
	CompanyName string `json:"empresaNome"`
	RowsChanged int    `json:"linhasAlteradas"`
}

// ImpactByCompany joins the merge log against the CRM's property table to
// show which companies were touched by executed merges.
func (s *PostgresStore) ImpactByCompany(ctx context.Context) ([]CompanyImpactEntry, error) {
	sql := `
		SELECT e.id::text, e.nome, COUNT(ml.id)
		FROM dedup_merge_log ml
		JOIN imoveis i ON ml.tabela = 'imoveis' AND i.id::text = ml.linha_afetada_pk
		JOIN empresas e ON e.id = i.empresa_id
		WHERE NOT ml.revertido
		GROUP BY e.id, e.nome
		ORDER BY COUNT(ml.id) DESC;
	`
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]CompanyImpactEntry, 0)
	for rows.Next() {
		var e CompanyImpactEntry
		if err := rows.Scan(&e.CompanyID, &e.CompanyName, &e.RowsChanged); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ExecutedGroups lists executed merges for the audit report, newest first.
func (s *PostgresStore) ExecutedGroups(ctx context.Context, limit int) ([]models.DuplicateGroup, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.groupsWhere(ctx,
		"status = $1 ORDER BY executado_em DESC LIMIT $2", models.StatusExecuted, limit)
}

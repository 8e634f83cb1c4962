package db

import (
	"context"

	"github.com/vistacrm/geodedup-engine/pkg/models"
)

// StartRun opens a new detection run record and returns its id.
func (s *PostgresStore) StartRun(ctx context.Context) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		"INSERT INTO dedup_execucoes (status) VALUES ($1) RETURNING id",
		models.RunStarted).Scan(&id)
	return id, err
}

// CompleteRun closes a run successfully with its totals.
func (s *PostgresStore) CompleteRun(ctx context.Context, id int64, totalAnalyzed, totalGroups int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE dedup_execucoes
		SET status = $2, finalizado_em = NOW(), total_analisados = $3, total_grupos = $4
		WHERE id = $1`,
		id, models.RunCompleted, totalAnalyzed, totalGroups)
	return err
}

// FailRun closes a run with an error, keeping whatever totals were reached.
func (s *PostgresStore) FailRun(ctx context.Context, id int64, errText string, totalAnalyzed, totalGroups int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE dedup_execucoes
		SET status = $2, finalizado_em = NOW(), erro = $3, total_analisados = $4, total_grupos = $5
		WHERE id = $1`,
		id, models.RunErrored, errText, totalAnalyzed, totalGroups)
	return err
}

// RecentRuns returns the newest run logs, capped at limit.
func (s *PostgresStore) RecentRuns(ctx context.Context, limit int) ([]models.RunLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, iniciado_em, finalizado_em, status, total_analisados, total_grupos, erro
		FROM dedup_execucoes
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]models.RunLog, 0)
	for rows.Next() {
		var r models.RunLog
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.EndedAt, &r.Status,
			&r.TotalAnalyzed, &r.TotalGroups, &r.ErrorText); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

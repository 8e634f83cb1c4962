package merger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/vistacrm/geodedup-engine/pkg/models"
)

// RevertResult summarizes one rollback.
type RevertResult struct {
	GroupID       string `json:"grupoId"`
	TotalRestored int    `json:"totalFksRestaurados"`
}

// Revert undoes an executed merge from its change log: every logged row
// gets its old value back, addressed by primary key, absorbed members
// are un-soft-deleted and the group flips to Reverted. Entries are
// replayed newest first so a rename applied after the redirects is
// undone before them. An executed group with no pending log entries is
// a zero-revert: nothing to restore, nothing changes.
func (m *Merger) Revert(ctx context.Context, groupID string) (*RevertResult, error) {
	ctx, cancel := context.WithTimeout(ctx, m.txTimeout)
	defer cancel()

	tx, err := m.store.GetPool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin revert transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	result, err := revert(ctx, tx, groupID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit revert: %v", err)
	}

	log.Printf("[Merger] Group %s reverted: %d rows restored", groupID, result.TotalRestored)
	return result, nil
}

func revert(ctx context.Context, q dbtx, groupID string) (*RevertResult, error) {
	kind, _, status, err := lockGroup(ctx, q, groupID)
	if err != nil {
		return nil, err
	}
	if status != models.StatusExecuted {
		return nil, fmt.Errorf("group %s has status %s; only executed groups can be reverted", groupID, status)
	}

	logSQL := `
		SELECT id, registro_absorvido_id, tabela, coluna, linha_afetada_pk,
		       valor_antigo, valor_novo
		FROM dedup_merge_log
		WHERE grupo_id = $1 AND NOT revertido
		ORDER BY id DESC;
	`
	rows, err := q.Query(ctx, logSQL, groupID)
	if err != nil {
		return nil, err
	}

	type logRow struct {
		id                 int64
		absorbed           string
		table, column, pk  string
		oldValue, newValue string
	}
	entries := make([]logRow, 0)
	for rows.Next() {
		var e logRow
		if err := rows.Scan(&e.id, &e.absorbed, &e.table, &e.column, &e.pk, &e.oldValue, &e.newValue); err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &RevertResult{GroupID: groupID}
	if len(entries) == 0 {
		return result, nil
	}

	// The members to restore are exactly the ones the log says were
	// absorbed; the surviving canonical was never soft-deleted. Rename
	// entries log the survivor, so they don't contribute.
	absorbed := make(map[string]bool)
	for _, e := range entries {
		sql := fmt.Sprintf("UPDATE %s SET %s = $1%s WHERE %s = $2%s",
			e.table, e.column, columnCast(e.column), pkColumn(e.table), pkCast(e.table))
		if _, err := q.Exec(ctx, sql, e.oldValue, e.pk); err != nil {
			return nil, fmt.Errorf("failed to restore %s.%s row %s: %v", e.table, e.column, e.pk, err)
		}
		result.TotalRestored++
		if e.column != "nome" {
			absorbed[e.absorbed] = true
		}
	}

	if kind.HasExcludedFlag() {
		cast := idCast(kind)
		for id := range absorbed {
			sql := fmt.Sprintf("UPDATE %s SET excluido = FALSE WHERE id = $1%s", kind.Table(), cast)
			if _, err := q.Exec(ctx, sql, id); err != nil {
				return nil, fmt.Errorf("failed to restore member %s: %v", id, err)
			}
		}
	}

	now := time.Now()
	if _, err := q.Exec(ctx,
		"UPDATE dedup_merge_log SET revertido = TRUE, revertido_em = $2 WHERE grupo_id = $1 AND NOT revertido",
		groupID, now); err != nil {
		return nil, fmt.Errorf("failed to mark log entries reverted: %v", err)
	}

	if _, err := q.Exec(ctx,
		"UPDATE dedup_grupos SET status = $2, revertido_em = $3 WHERE id = $1",
		groupID, models.StatusReverted, now); err != nil {
		return nil, fmt.Errorf("failed to update group status: %v", err)
	}
	return result, nil
}

// pkColumn maps a host table to its primary key column. Most tables use
// a plain id; the CRM names two of them after the entity.
func pkColumn(table string) string {
	switch table {
	case "clientes":
		return "cliente_id"
	case "unidades":
		return "unidade_id"
	}
	return "id"
}

func pkCast(table string) string {
	if table == "cidades" {
		return "::int"
	}
	return "::uuid"
}

// columnCast maps a logged column to the cast its values need. Name
// restores are plain text; city references are registry integers.
func columnCast(column string) string {
	switch column {
	case "nome":
		return ""
	case "cidade_id":
		return "::int"
	}
	return "::uuid"
}

package merger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vistacrm/geodedup-engine/internal/db"
	"github.com/vistacrm/geodedup-engine/pkg/models"
)

// dbtx is the subset of pgx.Tx the merge and revert algorithms use.
// Keeping them behind this interface lets tests drive the full
// redirect/log/restore cycle against an in-memory double.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Merger struct {
	store     *db.PostgresStore
	txTimeout time.Duration
}

func New(store *db.PostgresStore, txTimeout time.Duration) *Merger {
	if txTimeout <= 0 {
		txTimeout = 30 * time.Second
	}
	return &Merger{store: store, txTimeout: txTimeout}
}

// MergeResult summarizes one executed unification.
type MergeResult struct {
	GroupID         string         `json:"grupoId"`
	ChosenID        string         `json:"registroCanonico"`
	FinalName       *string        `json:"nomeCanonicoFinal,omitempty"`
	AbsorbedIDs     []string       `json:"registrosAbsorvidos"`
	TotalRedirected int            `json:"totalFksRedirecionados"`
	PerTable        map[string]int `json:"fksPorTabela"`
}

// Merge unifies a group into the chosen member. All FK redirects, the
// per-row change log, the soft-deletes of absorbed members, the optional
// rename of the survivor and the group status flip commit atomically;
// any failure leaves the host schema untouched. decisionContext is an
// opaque audit blob stored verbatim on the group.
func (m *Merger) Merge(ctx context.Context, groupID, chosenID string, finalName, executedBy *string,
	decisionContext json.RawMessage) (*MergeResult, error) {

	ctx, cancel := context.WithTimeout(ctx, m.txTimeout)
	defer cancel()

	tx, err := m.store.GetPool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin merge transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	result, err := merge(ctx, tx, groupID, chosenID, finalName, executedBy, decisionContext)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit merge: %v", err)
	}

	log.Printf("[Merger] Group %s merged into %s: %d FK rows redirected, %d members absorbed",
		groupID, chosenID, result.TotalRedirected, len(result.AbsorbedIDs))
	return result, nil
}

func merge(ctx context.Context, q dbtx, groupID, chosenID string, finalName, executedBy *string,
	decisionContext json.RawMessage) (*MergeResult, error) {

	kind, memberIDs, status, err := lockGroup(ctx, q, groupID)
	if err != nil {
		return nil, err
	}
	if status != models.StatusPending && status != models.StatusReverted {
		return nil, fmt.Errorf("group %s has status %s; only pending or reverted groups can be merged", groupID, status)
	}
	if !contains(memberIDs, chosenID) {
		return nil, fmt.Errorf("chosen canonical %s is not a member of group %s", chosenID, groupID)
	}

	result := &MergeResult{
		GroupID:   groupID,
		ChosenID:  chosenID,
		FinalName: finalName,
		PerTable:  make(map[string]int),
	}
	now := time.Now()
	cast := idCast(kind)

	for _, absorbed := range memberIDs {
		if absorbed == chosenID {
			continue
		}
		result.AbsorbedIDs = append(result.AbsorbedIDs, absorbed)

		for _, ref := range RefsFor(kind) {
			pks, err := affectedRows(ctx, q, ref, cast, absorbed)
			if err != nil {
				return nil, err
			}
			if len(pks) == 0 {
				continue
			}

			updateSQL := fmt.Sprintf("UPDATE %s SET %s = $1%s WHERE %s = $2%s",
				ref.Table, ref.Column, cast, ref.Column, cast)
			if _, err := q.Exec(ctx, updateSQL, chosenID, absorbed); err != nil {
				return nil, fmt.Errorf("failed to redirect %s.%s: %v", ref.Table, ref.Column, err)
			}

			for _, pk := range pks {
				if err := insertLogEntry(ctx, q, groupID, absorbed, ref.Table, ref.Column, pk, absorbed, chosenID, now); err != nil {
					return nil, err
				}
			}
			result.PerTable[ref.Table] += len(pks)
			result.TotalRedirected += len(pks)
		}

		if kind.HasExcludedFlag() {
			sql := fmt.Sprintf("UPDATE %s SET excluido = TRUE WHERE id = $1%s", kind.Table(), cast)
			if _, err := q.Exec(ctx, sql, absorbed); err != nil {
				return nil, fmt.Errorf("failed to soft-delete member %s: %v", absorbed, err)
			}
		}
	}

	if finalName != nil && *finalName != "" {
		if err := renameSurvivor(ctx, q, kind, groupID, chosenID, *finalName, now); err != nil {
			return nil, err
		}
	}

	groupSQL := `
		UPDATE dedup_grupos
		SET status = $2, registro_canonico = $3, nome_canonico_final = $4,
		    executado_em = $5, executado_por = $6, revertido_em = NULL,
		    total_fks_redirecionados = $7, decisao_contexto = $8
		WHERE id = $1;
	`
	if _, err := q.Exec(ctx, groupSQL, groupID, models.StatusExecuted, chosenID,
		finalName, now, executedBy, result.TotalRedirected, decisionContext); err != nil {
		return nil, fmt.Errorf("failed to update group status: %v", err)
	}
	return result, nil
}

// lockGroup reads and row-locks the group inside the transaction.
func lockGroup(ctx context.Context, q dbtx, groupID string) (models.EntityKind, []string, models.GroupStatus, error) {
	var kind models.EntityKind
	var memberIDs []string
	var status models.GroupStatus
	err := q.QueryRow(ctx,
		"SELECT tipo, registro_ids, status FROM dedup_grupos WHERE id = $1 FOR UPDATE",
		groupID).Scan(&kind, &memberIDs, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil, "", fmt.Errorf("group %s not found", groupID)
	}
	if err != nil {
		return "", nil, "", err
	}
	return kind, memberIDs, status, nil
}

// affectedRows lists the primary keys currently referencing the absorbed
// member through one FK column.
func affectedRows(ctx context.Context, q dbtx, ref FKRef, cast, absorbedID string) ([]string, error) {
	sql := fmt.Sprintf("SELECT %s::text FROM %s WHERE %s = $1%s ORDER BY %s",
		ref.PKColumn, ref.Table, ref.Column, cast, ref.PKColumn)
	rows, err := q.Query(ctx, sql, absorbedID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s.%s rows: %v", ref.Table, ref.Column, err)
	}
	defer rows.Close()

	pks := make([]string, 0)
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			return nil, err
		}
		pks = append(pks, pk)
	}
	return pks, rows.Err()
}

// renameSurvivor updates the canonical row's display name, logging the
// old spelling so a revert restores it.
func renameSurvivor(ctx context.Context, q dbtx, kind models.EntityKind, groupID, chosenID, finalName string, now time.Time) error {
	cast := idCast(kind)

	var oldName string
	err := q.QueryRow(ctx,
		fmt.Sprintf("SELECT nome FROM %s WHERE id = $1%s", kind.Table(), cast),
		chosenID).Scan(&oldName)
	if err != nil {
		return fmt.Errorf("failed to read survivor name: %v", err)
	}
	if oldName == finalName {
		return nil
	}

	sql := fmt.Sprintf("UPDATE %s SET nome = $1 WHERE id = $2%s", kind.Table(), cast)
	if _, err := q.Exec(ctx, sql, finalName, chosenID); err != nil {
		return fmt.Errorf("failed to rename survivor: %v", err)
	}
	return insertLogEntry(ctx, q, groupID, chosenID, kind.Table(), "nome", chosenID, oldName, finalName, now)
}

func insertLogEntry(ctx context.Context, q dbtx, groupID, absorbedID, table, column, pk, oldValue, newValue string, now time.Time) error {
	sql := `
		INSERT INTO dedup_merge_log
			(grupo_id, registro_absorvido_id, tabela, coluna, linha_afetada_pk,
			 valor_antigo, valor_novo, revertido, executado_em)
		VALUES ($1,$2,$3,$4,$5,$6,$7,FALSE,$8);
	`
	if _, err := q.Exec(ctx, sql, groupID, absorbedID, table, column, pk, oldValue, newValue, now); err != nil {
		return fmt.Errorf("failed to write merge log for %s.%s row %s: %v", table, column, pk, err)
	}
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

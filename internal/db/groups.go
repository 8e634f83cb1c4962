package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vistacrm/geodedup-engine/pkg/models"
)

const groupColumns = `
	id, tipo, parent_id, nome_normalizado, registro_ids, registro_nomes,
	score_medio, origem_deteccao, llm_detalhes, nome_oficial,
	origem_nome_oficial, score_oficial, endereco_oficial,
	sugestao_canonico_id, status, registro_canonico, nome_canonico_final,
	executado_em, executado_por, revertido_em, decisao_contexto, criado_em,
	total_fks_redirecionados`

func scanGroup(row pgx.Row) (*models.DuplicateGroup, error) {
	var g models.DuplicateGroup
	err := row.Scan(
		&g.ID, &g.EntityKind, &g.ParentID, &g.NormalizedName, &g.MemberIDs,
		&g.MemberNames, &g.MeanScore, &g.Source, &g.LLMDetails,
		&g.CanonicalName, &g.CanonicalSource, &g.CanonicalScore,
		&g.CanonicalAddress, &g.SuggestedCanonicalID, &g.Status,
		&g.ChosenCanonicalID, &g.ChosenName, &g.ExecutedAt, &g.ExecutedBy,
		&g.RevertedAt, &g.DecisionContext, &g.CreatedAt,
		&g.TotalFKsRedirected,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateGroup persists a new duplicate group with status Pending. The id
// is generated here when the caller left it empty.
func (s *PostgresStore) CreateGroup(ctx context.Context, g *models.DuplicateGroup) error {
	if len(g.MemberIDs) < 2 {
		return fmt.Errorf("group requires at least 2 members, got %d", len(g.MemberIDs))
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = models.StatusPending
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}

	sql := `
		INSERT INTO dedup_grupos
			(id, tipo, parent_id, nome_normalizado, registro_ids, registro_nomes,
			 score_medio, origem_deteccao, llm_detalhes, nome_oficial,
			 origem_nome_oficial, score_oficial, endereco_oficial,
			 sugestao_canonico_id, status, criado_em)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16);
	`
	_, err := s.pool.Exec(ctx, sql,
		g.ID, g.EntityKind, g.ParentID, g.NormalizedName, g.MemberIDs,
		g.MemberNames, g.MeanScore, g.Source, g.LLMDetails, g.CanonicalName,
		g.CanonicalSource, g.CanonicalScore, g.CanonicalAddress,
		g.SuggestedCanonicalID, g.Status, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert group: %v", err)
	}
	return nil
}

// GetGroup returns the group by id, or nil when it does not exist.
func (s *PostgresStore) GetGroup(ctx context.Context, id string) (*models.DuplicateGroup, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+groupColumns+" FROM dedup_grupos WHERE id = $1", id)
	g, err := scanGroup(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return g, err
}

// ListGroupsFilter narrows the paginated listing. Zero values mean "any",
// except Status which defaults to Pending at the API layer.
type ListGroupsFilter struct {
	Kind     models.EntityKind
	Status   models.GroupStatus
	ParentID string
	Search   string // already folded by the caller
	Page     int
	PageSize int
}

// ListGroups returns one page of groups plus the unpaginated total.
func (s *PostgresStore) ListGroups(ctx context.Context, f ListGroupsFilter) ([]models.DuplicateGroup, int, error) {
	if f.PageSize <= 0 || f.PageSize > 500 {
		f.PageSize = 20
	}
	if f.Page < 1 {
		f.Page = 1
	}

	where := " WHERE 1=1"
	args := []interface{}{}
	n := 0
	add := func(cond string, val interface{}) {
		n++
		where += fmt.Sprintf(" AND "+cond, n)
		args = append(args, val)
	}

	if f.Kind != "" {
		add("tipo = $%d", f.Kind)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.ParentID != "" {
		add("parent_id = $%d", f.ParentID)
	}
	if f.Search != "" {
		add("nome_normalizado ILIKE $%d", "%"+f.Search+"%")
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM dedup_grupos"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sql := "SELECT " + groupColumns + " FROM dedup_grupos" + where +
		fmt.Sprintf(" ORDER BY score_medio DESC, criado_em DESC LIMIT $%d OFFSET $%d", n+1, n+2)
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	groups := make([]models.DuplicateGroup, 0)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, 0, err
		}
		groups = append(groups, *g)
	}
	return groups, total, rows.Err()
}

// MemberIDsInGroups collects the union of member ids across Pending and
// Executed groups of the given kind. The detector drops pairs fully
// contained in this set so existing groups are not regenerated.
func (s *PostgresStore) MemberIDsInGroups(ctx context.Context, kind models.EntityKind) (map[string]bool, error) {
	sql := `
		SELECT DISTINCT unnest(registro_ids)
		FROM dedup_grupos
		WHERE tipo = $1 AND status IN ($2, $3);
	`
	rows, err := s.pool.Query(ctx, sql, kind, models.StatusPending, models.StatusExecuted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// SetGroupValidation stores the LLM decision on a group: the raw response
// blob, the source upgrade, the possibly trimmed member set and the
// possibly replaced normalized name.
func (s *PostgresStore) SetGroupValidation(ctx context.Context, id string, details json.RawMessage,
	source, normalizedName string, memberIDs, memberNames []string) error {

	sql := `
		UPDATE dedup_grupos
		SET llm_detalhes = $2, origem_deteccao = $3, nome_normalizado = $4,
		    registro_ids = $5, registro_nomes = $6
		WHERE id = $1;
	`
	_, err := s.pool.Exec(ctx, sql, id, details, source, normalizedName, memberIDs, memberNames)
	return err
}

// SetGroupEnrichment stores the resolved canonical reference and the
// suggested canonical member.
func (s *PostgresStore) SetGroupEnrichment(ctx context.Context, id string, ref *models.CanonicalRef, suggestedID *string) error {
	if ref == nil {
		_, err := s.pool.Exec(ctx,
			"UPDATE dedup_grupos SET sugestao_canonico_id = $2 WHERE id = $1", id, suggestedID)
		return err
	}

	var address *string
	if ref.Address != "" {
		address = &ref.Address
	}
	sql := `
		UPDATE dedup_grupos
		SET nome_oficial = $2, origem_nome_oficial = $3, score_oficial = $4,
		    endereco_oficial = $5, sugestao_canonico_id = $6
		WHERE id = $1;
	`
	_, err := s.pool.Exec(ctx, sql, id, ref.Name, ref.Source, ref.Score, address, suggestedID)
	return err
}

// DiscardGroup flips a Pending group to Discarded.
func (s *PostgresStore) DiscardGroup(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE dedup_grupos SET status = $2 WHERE id = $1 AND status = $3",
		id, models.StatusDiscarded, models.StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group %s is not pending", id)
	}
	return nil
}

// AutoApprovableIDs lists Pending groups safe for one-click approval: an
// authoritative name and a suggested canonical exist and the validator's
// confidence clears the threshold.
func (s *PostgresStore) AutoApprovableIDs(ctx context.Context, minConfidence float64) ([]string, error) {
	sql := `
		SELECT id FROM dedup_grupos
		WHERE status = $1
		  AND sugestao_canonico_id IS NOT NULL
		  AND nome_oficial IS NOT NULL
		  AND llm_detalhes IS NOT NULL
		  AND (llm_detalhes->>'confidence')::double precision >= $2
		ORDER BY (llm_detalhes->>'confidence')::double precision DESC;
	`
	rows, err := s.pool.Query(ctx, sql, models.StatusPending, minConfidence)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GroupsMissingValidation returns Pending groups that never went through
// the LLM (batch failures, or validation disabled at detection time).
func (s *PostgresStore) GroupsMissingValidation(ctx context.Context) ([]models.DuplicateGroup, error) {
	return s.groupsWhere(ctx,
		"status = $1 AND llm_detalhes IS NULL ORDER BY score_medio DESC", models.StatusPending)
}

// GroupsMissingCanonical returns Pending groups without an authoritative
// name, oldest first. A non-positive limit returns all of them.
func (s *PostgresStore) GroupsMissingCanonical(ctx context.Context, limit int) ([]models.DuplicateGroup, error) {
	if limit <= 0 {
		return s.groupsWhere(ctx,
			"status = $1 AND nome_oficial IS NULL ORDER BY criado_em ASC",
			models.StatusPending)
	}
	return s.groupsWhere(ctx,
		"status = $1 AND nome_oficial IS NULL ORDER BY criado_em ASC LIMIT $2",
		models.StatusPending, limit)
}

func (s *PostgresStore) groupsWhere(ctx context.Context, tail string, args ...interface{}) ([]models.DuplicateGroup, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+groupColumns+" FROM dedup_grupos WHERE "+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make([]models.DuplicateGroup, 0)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

// SaveMemberContexts upserts the resolved hierarchy for every member of a
// group. Contexts are owned by the group and cascade on delete.
func (s *PostgresStore) SaveMemberContexts(ctx context.Context, groupID string, contexts []models.MemberContext) error {
	sql := `
		INSERT INTO dedup_membro_contextos
			(grupo_id, registro_id, registro_nome, uf, cidade_id, cidade_nome,
			 bairro_id, bairro_nome, rua_id, rua_nome, ceps, total_filhos)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (grupo_id, registro_id) DO UPDATE SET
			registro_nome = EXCLUDED.registro_nome,
			uf = EXCLUDED.uf,
			cidade_id = EXCLUDED.cidade_id,
			cidade_nome = EXCLUDED.cidade_nome,
			bairro_id = EXCLUDED.bairro_id,
			bairro_nome = EXCLUDED.bairro_nome,
			rua_id = EXCLUDED.rua_id,
			rua_nome = EXCLUDED.rua_nome,
			ceps = EXCLUDED.ceps,
			total_filhos = EXCLUDED.total_filhos;
	`
	for _, mc := range contexts {
		_, err := s.pool.Exec(ctx, sql, groupID, mc.MemberID, mc.MemberName,
			nilIfEmpty(mc.StateCode), mc.CityID, nilIfEmpty(mc.CityName),
			mc.NeighborhoodID, nilIfEmpty(mc.NeighborhoodName),
			mc.StreetID, nilIfEmpty(mc.StreetName), mc.PostalCodes, mc.ChildCount)
		if err != nil {
			return fmt.Errorf("failed to save member context %s: %v", mc.MemberID, err)
		}
	}
	return nil
}

// GetMemberContexts returns the stored contexts for a group, in member
// discovery order where possible.
func (s *PostgresStore) GetMemberContexts(ctx context.Context, groupID string) ([]models.MemberContext, error) {
	sql := `
		SELECT registro_id, registro_nome, COALESCE(uf,''), cidade_id,
		       COALESCE(cidade_nome,''), bairro_id, COALESCE(bairro_nome,''),
		       rua_id, COALESCE(rua_nome,''), ceps, total_filhos
		FROM dedup_membro_contextos
		WHERE grupo_id = $1
		ORDER BY id;
	`
	rows, err := s.pool.Query(ctx, sql, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contexts := make([]models.MemberContext, 0)
	for rows.Next() {
		var mc models.MemberContext
		if err := rows.Scan(&mc.MemberID, &mc.MemberName, &mc.StateCode,
			&mc.CityID, &mc.CityName, &mc.NeighborhoodID, &mc.NeighborhoodName,
			&mc.StreetID, &mc.StreetName, &mc.PostalCodes, &mc.ChildCount); err != nil {
			return nil, err
		}
		contexts = append(contexts, mc)
	}
	return contexts, rows.Err()
}

// MergeLogForGroup returns the change log of a group, newest first.
func (s *PostgresStore) MergeLogForGroup(ctx context.Context, groupID string) ([]models.MergeLogEntry, error) {
	sql := `
		SELECT id, grupo_id, registro_absorvido_id, tabela, coluna,
		       linha_afetada_pk, valor_antigo, valor_novo, revertido,
		       revertido_em, executado_em
		FROM dedup_merge_log
		WHERE grupo_id = $1
		ORDER BY id DESC;
	`
	rows, err := s.pool.Query(ctx, sql, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.MergeLogEntry, 0)
	for rows.Next() {
		var e models.MergeLogEntry
		if err := rows.Scan(&e.ID, &e.GroupID, &e.AbsorbedMemberID, &e.TableName,
			&e.ColumnName, &e.AffectedRowPK, &e.OldValue, &e.NewValue,
			&e.Reverted, &e.RevertedAt, &e.ExecutedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/vistacrm/geodedup-engine/pkg/models"
)

// Host-schema reads. The CRM hierarchy is cidades → bairros → ruas →
// condominios; the pipeline only ever reads these tables outside of a
// merge transaction.

// MemberContext resolves the geographic hierarchy for one member row of
// the given kind. A missing row yields (nil, nil): the member may have
// been soft-deleted between detection and enrichment.
func (s *PostgresStore) MemberContext(ctx context.Context, kind models.EntityKind, memberID string, maxCEPs int) (*models.MemberContext, error) {
	switch kind {
	case models.KindCity:
		return s.cityContext(ctx, memberID)
	case models.KindNeighborhood:
		return s.neighborhoodContext(ctx, memberID, maxCEPs)
	case models.KindStreet:
		return s.streetContext(ctx, memberID)
	case models.KindCondo:
		return s.condoContext(ctx, memberID)
	}
	return nil, errors.New("unknown entity kind: " + string(kind))
}

func (s *PostgresStore) cityContext(ctx context.Context, id string) (*models.MemberContext, error) {
	sql := `
		SELECT c.id::text, c.nome, c.uf,
		       (SELECT COUNT(*) FROM bairros b WHERE b.cidade_id = c.id AND NOT b.excluido)
		FROM cidades c
		WHERE c.id = $1::int;
	`
	var mc models.MemberContext
	var cityID string
	err := s.pool.QueryRow(ctx, sql, id).Scan(&cityID, &mc.MemberName, &mc.StateCode, &mc.ChildCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	mc.MemberID = cityID
	mc.CityID = &cityID
	mc.CityName = mc.MemberName
	return &mc, nil
}

func (s *PostgresStore) neighborhoodContext(ctx context.Context, id string, maxCEPs int) (*models.MemberContext, error) {
	sql := `
		SELECT b.id::text, b.nome, c.id::text, c.nome, c.uf,
		       (SELECT COUNT(*) FROM ruas r WHERE r.bairro_id = b.id AND NOT r.excluido)
		FROM bairros b
		JOIN cidades c ON c.id = b.cidade_id
		WHERE b.id = $1::uuid;
	`
	var mc models.MemberContext
	var nbID, cityID string
	err := s.pool.QueryRow(ctx, sql, id).Scan(&nbID, &mc.MemberName, &cityID,
		&mc.CityName, &mc.StateCode, &mc.ChildCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	mc.MemberID = nbID
	mc.NeighborhoodID = &nbID
	mc.NeighborhoodName = mc.MemberName
	mc.CityID = &cityID

	if maxCEPs > 0 {
		cepSQL := `
			SELECT DISTINCT cep FROM ruas
			WHERE bairro_id = $1::uuid AND cep IS NOT NULL AND cep <> ''
			ORDER BY cep
			LIMIT $2;
		`
		rows, err := s.pool.Query(ctx, cepSQL, id, maxCEPs)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var cep string
			if err := rows.Scan(&cep); err != nil {
				return nil, err
			}
			mc.PostalCodes = append(mc.PostalCodes, cep)
		}
		if rows.Err() != nil {
			return nil, rows.Err()
		}
	}
	return &mc, nil
}

func (s *PostgresStore) streetContext(ctx context.Context, id string) (*models.MemberContext, error) {
	sql := `
		SELECT r.id::text, r.nome, COALESCE(r.cep, ''), b.id::text, b.nome,
		       c.id::text, c.nome, c.uf,
		       (SELECT COUNT(*) FROM condominios k WHERE k.rua_id = r.id AND NOT k.excluido)
		FROM ruas r
		JOIN bairros b ON b.id = r.bairro_id
		JOIN cidades c ON c.id = b.cidade_id
		WHERE r.id = $1::uuid;
	`
	var mc models.MemberContext
	var streetID, nbID, cityID, cep string
	err := s.pool.QueryRow(ctx, sql, id).Scan(&streetID, &mc.MemberName, &cep,
		&nbID, &mc.NeighborhoodName, &cityID, &mc.CityName, &mc.StateCode, &mc.ChildCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	mc.MemberID = streetID
	mc.StreetID = &streetID
	mc.StreetName = mc.MemberName
	mc.NeighborhoodID = &nbID
	mc.CityID = &cityID
	if cep != "" {
		mc.PostalCodes = []string{cep}
	}
	return &mc, nil
}

func (s *PostgresStore) condoContext(ctx context.Context, id string) (*models.MemberContext, error) {
	sql := `
		SELECT k.id::text, k.nome, r.id::text, r.nome, COALESCE(r.cep, ''),
		       b.id::text, b.nome, c.id::text, c.nome, c.uf
		FROM condominios k
		JOIN ruas r ON r.id = k.rua_id
		JOIN bairros b ON b.id = r.bairro_id
		JOIN cidades c ON c.id = b.cidade_id
		WHERE k.id = $1::uuid;
	`
	var mc models.MemberContext
	var condoID, streetID, nbID, cityID, cep string
	err := s.pool.QueryRow(ctx, sql, id).Scan(&condoID, &mc.MemberName,
		&streetID, &mc.StreetName, &cep, &nbID, &mc.NeighborhoodName,
		&cityID, &mc.CityName, &mc.StateCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	mc.MemberID = condoID
	mc.StreetID = &streetID
	mc.NeighborhoodID = &nbID
	mc.CityID = &cityID
	if cep != "" {
		mc.PostalCodes = []string{cep}
	}
	return &mc, nil
}

// ParentLabel resolves the display name of a group's parent scope: the
// state code itself for cities, the city name for neighborhoods and
// condos, the neighborhood name for streets.
func (s *PostgresStore) ParentLabel(ctx context.Context, kind models.EntityKind, parentID string) (string, error) {
	if parentID == "" {
		return "", nil
	}
	var sql string
	switch kind {
	case models.KindCity:
		return parentID, nil
	case models.KindNeighborhood, models.KindCondo:
		sql = "SELECT nome FROM cidades WHERE id = $1::int"
	case models.KindStreet:
		sql = "SELECT nome FROM bairros WHERE id = $1::uuid"
	default:
		return "", nil
	}

	var name string
	err := s.pool.QueryRow(ctx, sql, parentID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return name, err
}

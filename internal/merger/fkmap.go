// Package merger executes and reverts group unifications: every foreign
// key pointing at an absorbed member is redirected to the chosen
// canonical row inside one transaction, with a per-row change log that
// makes the merge exactly reversible.
package merger

import "github.com/vistacrm/geodedup-engine/pkg/models"

// FKRef is one referencing column in the host schema. PKColumn names the
// primary key used to address individual rows in the change log.
type FKRef struct {
	Table    string
	Column   string
	PKColumn string
}

// fkRefs maps each entity kind to every column in the host schema that
// references it. A column missing here would leave dangling references
// after a merge, so additions to the CRM schema must be mirrored.
var fkRefs = map[models.EntityKind][]FKRef{
	models.KindCity: {
		{Table: "bairros", Column: "cidade_id", PKColumn: "id"},
		{Table: "imoveis", Column: "cidade_id", PKColumn: "id"},
		{Table: "clientes", Column: "cidade_id", PKColumn: "cliente_id"},
	},
	models.KindNeighborhood: {
		{Table: "ruas", Column: "bairro_id", PKColumn: "id"},
		{Table: "imoveis", Column: "bairro_id", PKColumn: "id"},
		{Table: "clientes", Column: "bairro_id", PKColumn: "cliente_id"},
	},
	models.KindStreet: {
		{Table: "condominios", Column: "rua_id", PKColumn: "id"},
		{Table: "imoveis", Column: "rua_id", PKColumn: "id"},
	},
	models.KindCondo: {
		{Table: "imoveis", Column: "condominio_id", PKColumn: "id"},
		{Table: "unidades", Column: "condominio_id", PKColumn: "unidade_id"},
	},
}

// RefsFor returns the referencing columns for a kind.
func RefsFor(kind models.EntityKind) []FKRef {
	return fkRefs[kind]
}

// idCast is the SQL cast applied when comparing an id parameter against
// the host column.
func idCast(kind models.EntityKind) string {
	if kind.IDType() == models.IDKindInt {
		return "::int"
	}
	return "::uuid"
}

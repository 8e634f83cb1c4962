package models

import (
	"encoding/json"
	"time"
)

// EntityKind identifies one of the four geographic reference tables the
// pipeline deduplicates. Values match the `tipo` query/body parameter of
// the public API.
type EntityKind string

const (
	KindCity         EntityKind = "cidade"
	KindNeighborhood EntityKind = "bairro"
	KindStreet       EntityKind = "rua"
	KindCondo        EntityKind = "condominio"
)

// AllKinds returns the entity kinds in processing order. Parents come
// before children so that parent-side canonical names exist before child
// enrichment runs.
func AllKinds() []EntityKind {
	return []EntityKind{KindCity, KindNeighborhood, KindStreet, KindCondo}
}

// Valid reports whether k is one of the four known kinds.
func (k EntityKind) Valid() bool {
	switch k {
	case KindCity, KindNeighborhood, KindStreet, KindCondo:
		return true
	}
	return false
}

// Table returns the host-database table backing this kind.
func (k EntityKind) Table() string {
	switch k {
	case KindCity:
		return "cidades"
	case KindNeighborhood:
		return "bairros"
	case KindStreet:
		return "ruas"
	case KindCondo:
		return "condominios"
	}
	return ""
}

// HasExcludedFlag reports whether the host table carries the `excluido`
// soft-delete boolean. Cities are authoritative registry rows and are
// never soft-deleted.
func (k EntityKind) HasExcludedFlag() bool {
	return k != KindCity
}

// IDKind describes how referencing rows store the entity id.
type IDKind string

const (
	IDKindUUID IDKind = "uuid"
	IDKindInt  IDKind = "int"
)

// IDType returns the id representation used by the host table for this kind.
// Cities use the numeric registry code; everything else uses UUIDs.
func (k EntityKind) IDType() IDKind {
	if k == KindCity {
		return IDKindInt
	}
	return IDKindUUID
}

// GroupStatus is the lifecycle state of a duplicate group.
type GroupStatus string

const (
	StatusPending   GroupStatus = "pendente"
	StatusExecuted  GroupStatus = "executado"
	StatusDiscarded GroupStatus = "descartado"
	StatusReverted  GroupStatus = "revertido"
)

// Detection sources stored on a group.
const (
	SourceTrigram    = "trigram"
	SourceTrigramLLM = "trigram+llm"
)

// SimilarPair is one scored candidate pair emitted by the detector.
type SimilarPair struct {
	IDA      string  `json:"idA"`
	IDB      string  `json:"idB"`
	NameA    string  `json:"nomeA"`
	NameB    string  `json:"nomeB"`
	ParentID string  `json:"parentId"`
	Score    float64 `json:"score"`
}

// CandidateGroup is a clustered component before persistence and LLM
// validation. Member order follows discovery order.
type CandidateGroup struct {
	EntityKind     EntityKind `json:"tipo"`
	ParentID       string     `json:"parentId"`
	NormalizedName string     `json:"nomeNormalizado"`
	MemberIDs      []string   `json:"registroIds"`
	MemberNames    []string   `json:"registroNomes"`
	MeanScore      float64    `json:"scoreMedio"`
}

// DuplicateGroup is a persisted group of suspected duplicate rows within a
// single parent scope. MemberIDs and MemberNames are parallel slices.
type DuplicateGroup struct {
	ID                   string          `json:"id"`
	EntityKind           EntityKind      `json:"tipo"`
	ParentID             *string         `json:"parentId"`
	NormalizedName       string          `json:"nomeNormalizado"`
	MemberIDs            []string        `json:"registroIds"`
	MemberNames          []string        `json:"registroNomes"`
	MeanScore            float64         `json:"scoreMedio"`
	Source               string          `json:"origemDeteccao"`
	LLMDetails           json.RawMessage `json:"llmDetalhes,omitempty"`
	CanonicalName        *string         `json:"nomeOficial"`
	CanonicalSource      *string         `json:"origemNomeOficial"`
	CanonicalScore       *float64        `json:"scoreOficial,omitempty"`
	CanonicalAddress     *string         `json:"enderecoOficial,omitempty"`
	SuggestedCanonicalID *string         `json:"sugestaoCanonicoId"`
	Status               GroupStatus     `json:"status"`
	ChosenCanonicalID    *string         `json:"registroCanonico,omitempty"`
	ChosenName           *string         `json:"nomeCanonicoFinal,omitempty"`
	ExecutedAt           *time.Time      `json:"executadoEm,omitempty"`
	ExecutedBy           *string         `json:"executadoPor,omitempty"`
	RevertedAt           *time.Time      `json:"revertidoEm,omitempty"`
	DecisionContext      json.RawMessage `json:"decisaoContexto,omitempty"`
	CreatedAt            time.Time       `json:"criadoEm"`
	TotalFKsRedirected   *int            `json:"totalFksRedirecionados,omitempty"`
}

// HasMember reports whether id is one of the group's members.
func (g *DuplicateGroup) HasMember(id string) bool {
	for _, m := range g.MemberIDs {
		if m == id {
			return true
		}
	}
	return false
}

// ValidationResult is the structured per-group decision returned by the
// LLM validator. ValidMemberIDs may be a strict subset of the group's
// members, encoding partial rejection.
type ValidationResult struct {
	Confirmed      bool     `json:"confirmed"`
	Confidence     float64  `json:"confidence"`
	CanonicalName  string   `json:"canonical_name"`
	Rationale      string   `json:"rationale"`
	ValidMemberIDs []string `json:"valid_member_ids"`
}

// CanonicalRef is an authoritative name resolved from an external source.
type CanonicalRef struct {
	Name    string  `json:"nomeOficial"`
	Source  string  `json:"origem"`
	Score   float64 `json:"score"`
	Address string  `json:"enderecoCompleto,omitempty"`
}

// Canonical-name origins.
const (
	CanonicalSourceRegistry = "Registry"
	CanonicalSourceCEP      = "PostalCEP"
	CanonicalSourceGeocoder = "Geocoder"
	CanonicalSourcePlaces   = "Places"
)

// MemberContext is the geographic hierarchy resolved for one group member,
// used by enrichment and the operator UI.
type MemberContext struct {
	MemberID         string   `json:"registroId"`
	MemberName       string   `json:"registroNome"`
	StateCode        string   `json:"uf,omitempty"`
	CityID           *string  `json:"cidadeId,omitempty"`
	CityName         string   `json:"cidadeNome,omitempty"`
	NeighborhoodID   *string  `json:"bairroId,omitempty"`
	NeighborhoodName string   `json:"bairroNome,omitempty"`
	StreetID         *string  `json:"ruaId,omitempty"`
	StreetName       string   `json:"ruaNome,omitempty"`
	PostalCodes      []string `json:"ceps,omitempty"`
	ChildCount       int      `json:"totalFilhos"`
}

// MergeLogEntry records one rewritten foreign-key row. Granularity is
// per-row so that a revert restores the exact prior reference graph.
type MergeLogEntry struct {
	ID               int64      `json:"id"`
	GroupID          string     `json:"grupoId"`
	AbsorbedMemberID string     `json:"registroAbsorvidoId"`
	TableName        string     `json:"tabela"`
	ColumnName       string     `json:"coluna"`
	AffectedRowPK    string     `json:"linhaAfetadaPk"`
	OldValue         string     `json:"valorAntigo"`
	NewValue         string     `json:"valorNovo"`
	Reverted         bool       `json:"revertido"`
	RevertedAt       *time.Time `json:"revertidoEm,omitempty"`
	ExecutedAt       time.Time  `json:"executadoEm"`
}

// RunStatus is the state of one detection run.
type RunStatus string

const (
	RunStarted   RunStatus = "iniciado"
	RunCompleted RunStatus = "concluido"
	RunErrored   RunStatus = "erro"
)

// RunLog is the audit record of one batch detection pass.
type RunLog struct {
	ID            int64      `json:"id"`
	StartedAt     time.Time  `json:"iniciadoEm"`
	EndedAt       *time.Time `json:"finalizadoEm,omitempty"`
	Status        RunStatus  `json:"status"`
	TotalAnalyzed int        `json:"totalAnalisados"`
	TotalGroups   int        `json:"totalGrupos"`
	ErrorText     *string    `json:"erro,omitempty"`
}

// MemberImpact is the inbound-reference count breakdown for one member,
// used to propose the most-referenced member as canonical.
type MemberImpact struct {
	ID              string         `json:"registroId"`
	Name            string         `json:"registroNome"`
	PerTable        map[string]int `json:"referenciasPorTabela"`
	TotalReferences int            `json:"totalReferencias"`
}

package merger

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vistacrm/geodedup-engine/pkg/models"
)

// fakeDB is an in-memory double for the dbtx interface. It understands
// exactly the statements the merge and revert algorithms issue, keeping
// host rows as table -> pk -> column -> value so a whole cycle can be
// exercised without PostgreSQL.
type fakeDB struct {
	groups   map[string]*fakeGroup
	rows     map[string]map[string]map[string]string
	excluded map[string]map[string]bool
	log      []fakeLogEntry
	nextID   int64
}

type fakeGroup struct {
	kind            models.EntityKind
	memberIDs       []string
	status          models.GroupStatus
	canonicalID     string
	finalName       *string
	executedBy      *string
	decisionContext []byte
	totalRedirected int
}

type fakeLogEntry struct {
	id                 int64
	groupID            string
	absorbedID         string
	table, column, pk  string
	oldValue, newValue string
	reverted           bool
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		groups:   make(map[string]*fakeGroup),
		rows:     make(map[string]map[string]map[string]string),
		excluded: make(map[string]map[string]bool),
	}
}

func (f *fakeDB) addRow(table, pk string, cols map[string]string) {
	if f.rows[table] == nil {
		f.rows[table] = make(map[string]map[string]string)
		f.excluded[table] = make(map[string]bool)
	}
	copied := make(map[string]string, len(cols))
	for k, v := range cols {
		copied[k] = v
	}
	f.rows[table][pk] = copied
}

// snapshot deep-copies the host tables so before/after states can be
// compared with reflect.DeepEqual.
func (f *fakeDB) snapshot() (map[string]map[string]map[string]string, map[string]map[string]bool) {
	rows := make(map[string]map[string]map[string]string, len(f.rows))
	for table, pks := range f.rows {
		rows[table] = make(map[string]map[string]string, len(pks))
		for pk, cols := range pks {
			copied := make(map[string]string, len(cols))
			for k, v := range cols {
				copied[k] = v
			}
			rows[table][pk] = copied
		}
	}
	excluded := make(map[string]map[string]bool, len(f.excluded))
	for table, pks := range f.excluded {
		excluded[table] = make(map[string]bool, len(pks))
		for pk, v := range pks {
			excluded[table][pk] = v
		}
	}
	return rows, excluded
}

var (
	reRowUpdate = regexp.MustCompile(`^UPDATE (\w+) SET (\w+) = \$1(?:::\w+)? WHERE (\w+) = \$2(?:::\w+)?$`)
	reExcluded  = regexp.MustCompile(`^UPDATE (\w+) SET excluido = (TRUE|FALSE) WHERE id = \$1(?:::\w+)?$`)
	reAffected  = regexp.MustCompile(`^SELECT (\w+)::text FROM (\w+) WHERE (\w+) = \$1(?:::\w+)? ORDER BY (\w+)$`)
	reReadName  = regexp.MustCompile(`^SELECT nome FROM (\w+) WHERE id = \$1(?:::\w+)?$`)
)

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	switch {
	case containsStr(sql, "INSERT INTO dedup_merge_log"):
		f.nextID++
		f.log = append(f.log, fakeLogEntry{
			id:         f.nextID,
			groupID:    args[0].(string),
			absorbedID: args[1].(string),
			table:      args[2].(string),
			column:     args[3].(string),
			pk:         args[4].(string),
			oldValue:   args[5].(string),
			newValue:   args[6].(string),
		})
		return pgconn.CommandTag{}, nil

	case containsStr(sql, "UPDATE dedup_merge_log SET revertido = TRUE"):
		groupID := args[0].(string)
		for i := range f.log {
			if f.log[i].groupID == groupID && !f.log[i].reverted {
				f.log[i].reverted = true
			}
		}
		return pgconn.CommandTag{}, nil

	case containsStr(sql, "UPDATE dedup_grupos") && containsStr(sql, "registro_canonico"):
		g := f.groups[args[0].(string)]
		g.status = args[1].(models.GroupStatus)
		g.canonicalID = args[2].(string)
		g.finalName, _ = args[3].(*string)
		g.executedBy, _ = args[5].(*string)
		g.totalRedirected = args[6].(int)
		if raw, ok := args[7].(json.RawMessage); ok {
			g.decisionContext = raw
		}
		return pgconn.CommandTag{}, nil

	case containsStr(sql, "UPDATE dedup_grupos SET status = $2, revertido_em"):
		f.groups[args[0].(string)].status = args[1].(models.GroupStatus)
		return pgconn.CommandTag{}, nil
	}

	if m := reExcluded.FindStringSubmatch(sql); m != nil {
		f.excluded[m[1]][args[0].(string)] = m[2] == "TRUE"
		return pgconn.CommandTag{}, nil
	}

	if m := reRowUpdate.FindStringSubmatch(sql); m != nil {
		table, setCol, whereCol := m[1], m[2], m[3]
		if setCol == whereCol {
			// FK redirect: every row pointing at the absorbed id moves.
			for _, cols := range f.rows[table] {
				if cols[setCol] == args[1].(string) {
					cols[setCol] = args[0].(string)
				}
			}
		} else {
			// Restore or rename addressed by primary key.
			f.rows[table][args[1].(string)][setCol] = args[0].(string)
		}
		return pgconn.CommandTag{}, nil
	}

	return pgconn.CommandTag{}, fmt.Errorf("unhandled exec: %s", sql)
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	if containsStr(sql, "FROM dedup_merge_log") {
		groupID := args[0].(string)
		entries := make([]fakeLogEntry, 0)
		for _, e := range f.log {
			if e.groupID == groupID && !e.reverted {
				entries = append(entries, e)
			}
		}
		sort.Slice(entries, func(a, b int) bool { return entries[a].id > entries[b].id })
		out := make([][]any, len(entries))
		for i, e := range entries {
			out[i] = []any{e.id, e.absorbedID, e.table, e.column, e.pk, e.oldValue, e.newValue}
		}
		return &fakeRows{rows: out}, nil
	}

	if m := reAffected.FindStringSubmatch(sql); m != nil {
		table, whereCol := m[2], m[3]
		pks := make([]string, 0)
		for pk, cols := range f.rows[table] {
			if cols[whereCol] == args[0].(string) {
				pks = append(pks, pk)
			}
		}
		sort.Strings(pks)
		out := make([][]any, len(pks))
		for i, pk := range pks {
			out[i] = []any{pk}
		}
		return &fakeRows{rows: out}, nil
	}

	return nil, fmt.Errorf("unhandled query: %s", sql)
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if containsStr(sql, "FROM dedup_grupos") && containsStr(sql, "FOR UPDATE") {
		g, ok := f.groups[args[0].(string)]
		if !ok {
			return &fakeRow{err: pgx.ErrNoRows}
		}
		members := append([]string(nil), g.memberIDs...)
		return &fakeRow{vals: []any{g.kind, members, g.status}}
	}

	if m := reReadName.FindStringSubmatch(sql); m != nil {
		row, ok := f.rows[m[1]][args[0].(string)]
		if !ok {
			return &fakeRow{err: pgx.ErrNoRows}
		}
		return &fakeRow{vals: []any{row["nome"]}}
	}

	return &fakeRow{err: fmt.Errorf("unhandled query row: %s", sql)}
}

func containsStr(s, sub string) bool {
	return strings.Contains(s, sub)
}

type fakeRows struct {
	rows [][]any
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.idx-1], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	return scanInto(r.rows[r.idx-1], dest)
}

type fakeRow struct {
	vals []any
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(r.vals, dest)
}

func scanInto(vals []any, dest []any) error {
	if len(vals) != len(dest) {
		return fmt.Errorf("scan arity mismatch: %d values into %d destinations", len(vals), len(dest))
	}
	for i, val := range vals {
		switch d := dest[i].(type) {
		case *string:
			*d = val.(string)
		case *int64:
			*d = val.(int64)
		case *[]string:
			*d = append([]string(nil), val.([]string)...)
		case *models.EntityKind:
			*d = val.(models.EntityKind)
		case *models.GroupStatus:
			*d = val.(models.GroupStatus)
		default:
			return fmt.Errorf("unsupported scan destination %T", dest[i])
		}
	}
	return nil
}

// neighborhoodFixture seeds a pending two-member neighborhood group with
// FK rows spread over every referencing table plus untouched bystanders.
func neighborhoodFixture() *fakeDB {
	f := newFakeDB()
	f.groups["g1"] = &fakeGroup{
		kind:      models.KindNeighborhood,
		memberIDs: []string{"b1", "b2"},
		status:    models.StatusPending,
	}
	f.addRow("bairros", "b1", map[string]string{"nome": "Jardim America"})
	f.addRow("bairros", "b2", map[string]string{"nome": "Jd. América"})
	f.addRow("ruas", "r1", map[string]string{"bairro_id": "b2"})
	f.addRow("ruas", "r2", map[string]string{"bairro_id": "b2"})
	f.addRow("imoveis", "i1", map[string]string{"bairro_id": "b2"})
	f.addRow("imoveis", "i2", map[string]string{"bairro_id": "b1"})
	f.addRow("clientes", "c1", map[string]string{"bairro_id": "b1"})
	return f
}

func strPtr(s string) *string { return &s }

func TestMergeRevertRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := neighborhoodFixture()
	beforeRows, beforeExcluded := f.snapshot()

	res, err := merge(ctx, f, "g1", "b1", strPtr("Jardim América"), strPtr("tester"),
		json.RawMessage(`{"origem":"painel"}`))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	if res.TotalRedirected != 3 {
		t.Errorf("TotalRedirected = %d, want 3", res.TotalRedirected)
	}
	if res.PerTable["ruas"] != 2 || res.PerTable["imoveis"] != 1 {
		t.Errorf("PerTable = %v, want ruas:2 imoveis:1", res.PerTable)
	}
	if len(res.AbsorbedIDs) != 1 || res.AbsorbedIDs[0] != "b2" {
		t.Errorf("AbsorbedIDs = %v, want [b2]", res.AbsorbedIDs)
	}

	redirectEntries := 0
	for _, e := range f.log {
		if e.column != "nome" {
			redirectEntries++
		}
	}
	if redirectEntries != res.TotalRedirected {
		t.Errorf("Change log has %d redirect entries, want one per redirected row (%d)",
			redirectEntries, res.TotalRedirected)
	}

	if got := f.rows["ruas"]["r1"]["bairro_id"]; got != "b1" {
		t.Errorf("ruas.r1 points at %s, want b1", got)
	}
	if got := f.rows["clientes"]["c1"]["bairro_id"]; got != "b1" {
		t.Errorf("Bystander clientes.c1 changed to %s", got)
	}
	if !f.excluded["bairros"]["b2"] {
		t.Error("Absorbed member b2 must be soft-deleted")
	}
	if f.excluded["bairros"]["b1"] {
		t.Error("Surviving canonical b1 must not be soft-deleted")
	}
	if got := f.rows["bairros"]["b1"]["nome"]; got != "Jardim América" {
		t.Errorf("Survivor name = %q, want the final name", got)
	}

	g := f.groups["g1"]
	if g.status != models.StatusExecuted || g.canonicalID != "b1" {
		t.Errorf("Group after merge = (%s, %s), want (executado, b1)", g.status, g.canonicalID)
	}
	if g.totalRedirected != 3 {
		t.Errorf("Stored redirect total = %d, want 3", g.totalRedirected)
	}
	if string(g.decisionContext) != `{"origem":"painel"}` {
		t.Errorf("Decision context = %s, want the caller's blob stored verbatim", g.decisionContext)
	}

	mergedRows, mergedExcluded := f.snapshot()

	rev, err := revert(ctx, f, "g1")
	if err != nil {
		t.Fatalf("revert failed: %v", err)
	}
	if rev.TotalRestored != 4 {
		t.Errorf("TotalRestored = %d, want 3 redirects + 1 rename", rev.TotalRestored)
	}

	afterRows, afterExcluded := f.snapshot()
	if !reflect.DeepEqual(afterRows, beforeRows) {
		t.Errorf("Host rows after revert differ from the pre-merge state:\n got %v\nwant %v", afterRows, beforeRows)
	}
	if !reflect.DeepEqual(afterExcluded, beforeExcluded) {
		t.Errorf("Soft-delete flags after revert differ from the pre-merge state: %v", afterExcluded)
	}
	if f.groups["g1"].status != models.StatusReverted {
		t.Errorf("Group status after revert = %s, want revertido", f.groups["g1"].status)
	}

	// A reverted group unifies again to exactly the same state.
	res2, err := merge(ctx, f, "g1", "b1", strPtr("Jardim América"), strPtr("tester"),
		json.RawMessage(`{"origem":"painel"}`))
	if err != nil {
		t.Fatalf("re-merge failed: %v", err)
	}
	if res2.TotalRedirected != res.TotalRedirected {
		t.Errorf("Re-merge redirected %d rows, first merge %d", res2.TotalRedirected, res.TotalRedirected)
	}
	remergedRows, remergedExcluded := f.snapshot()
	if !reflect.DeepEqual(remergedRows, mergedRows) || !reflect.DeepEqual(remergedExcluded, mergedExcluded) {
		t.Error("Re-merging a reverted group must reproduce the merged state")
	}
}

func TestRevertEmptyLog(t *testing.T) {
	ctx := context.Background()
	f := neighborhoodFixture()
	f.groups["g1"].status = models.StatusExecuted

	beforeRows, beforeExcluded := f.snapshot()
	rev, err := revert(ctx, f, "g1")
	if err != nil {
		t.Fatalf("revert failed: %v", err)
	}
	if rev.TotalRestored != 0 {
		t.Errorf("TotalRestored = %d, want 0", rev.TotalRestored)
	}

	afterRows, afterExcluded := f.snapshot()
	if !reflect.DeepEqual(afterRows, beforeRows) || !reflect.DeepEqual(afterExcluded, beforeExcluded) {
		t.Error("A zero-revert must not touch host rows")
	}
	if f.groups["g1"].status != models.StatusExecuted {
		t.Errorf("Group status = %s, want it unchanged on a zero-revert", f.groups["g1"].status)
	}
}

func TestRevertScopesRestoreToAbsorbed(t *testing.T) {
	ctx := context.Background()
	f := neighborhoodFixture()

	if _, err := merge(ctx, f, "g1", "b1", nil, nil, nil); err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	// Simulate an unrelated exclusion of the survivor between merge and
	// revert; the rollback must only touch absorbed members.
	f.excluded["bairros"]["b1"] = true

	if _, err := revert(ctx, f, "g1"); err != nil {
		t.Fatalf("revert failed: %v", err)
	}
	if f.excluded["bairros"]["b2"] {
		t.Error("Absorbed member b2 must be restored")
	}
	if !f.excluded["bairros"]["b1"] {
		t.Error("Revert must not un-exclude the surviving canonical")
	}
}

func TestMergeGuards(t *testing.T) {
	ctx := context.Background()

	f := neighborhoodFixture()
	if _, err := merge(ctx, f, "g1", "zz", nil, nil, nil); err == nil {
		t.Error("Choosing a non-member must fail")
	}

	f = neighborhoodFixture()
	f.groups["g1"].status = models.StatusExecuted
	if _, err := merge(ctx, f, "g1", "b1", nil, nil, nil); err == nil {
		t.Error("Merging an already executed group must fail")
	}

	if _, err := merge(ctx, f, "missing", "b1", nil, nil, nil); err == nil {
		t.Error("Merging an unknown group must fail")
	}
}

package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Definition describes the insertable columns of a table. The identifier
// column is implicit and never listed.
type Definition struct {
	Name    Table
	Columns []string
	// Order places the table in dependency order: a table only references
	// tables with a lower Order.
	Order int
}

var (
	registry   = make(map[Table]Definition)
	registryMu sync.RWMutex
)

func init() {
	register(Definition{Name: TableInsurers, Order: 1, Columns: []string{"name", "short_name"}})
	register(Definition{Name: TableDistricts, Order: 2, Columns: []string{"name"}})
	register(Definition{Name: TableAdjusters, Order: 3, Columns: []string{"name"}})
	register(Definition{Name: TableClaims, Order: 4, Columns: []string{
		"code", "insurer_id", "phenomenon", "fund", "loss_date",
	}})
	register(Definition{Name: TableAccounts, Order: 5, Columns: []string{"reference", "adjuster_id"}})
	register(Definition{Name: TableCommunications, Order: 6, Columns: []string{
		"account_id", "code", "run_id",
	}})
	register(Definition{Name: TableHeaders, Order: 7, Columns: []string{
		"communication_id", "state", "district_id", "claim_id", "adjuster_id",
		"description", "document_date",
	}})
	register(Definition{Name: TableRevisions, Order: 8, Columns: []string{
		"communication_id", "sequence", "kind", "amount", "oversight_amount",
		"document_date", "description", "run_id",
	}})
	register(Definition{Name: TableLineItems, Order: 9, Columns: []string{
		"revision_id", "position", "concept", "category", "amount",
	}})
	register(Definition{Name: TableImportRuns, Order: 10, Columns: []string{
		"run_id", "file_name", "status", "message", "documents", "valid",
		"rejected", "started_at", "finished_at",
	}})
}

// register adds a table definition. Panics if the table is already registered.
func register(def Definition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Name]; exists {
		panic(fmt.Sprintf("table already registered: %s", def.Name))
	}
	registry[def.Name] = def
}

// Lookup returns the definition of a table.
func Lookup(table Table) (Definition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[table]
	return def, ok
}

// MustLookup returns the definition of a table or an error naming it.
func MustLookup(table Table) (Definition, error) {
	def, ok := Lookup(table)
	if !ok {
		return Definition{}, fmt.Errorf("unknown table: %s", table)
	}
	return def, nil
}

// All returns every registered table in dependency order.
func All() []Definition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Definition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Order < result[j].Order
	})
	return result
}

// Values returns the row's values in column order, ready to bind to an
// INSERT statement. Zero times and zero-valued foreign keys become NULL.
func (d Definition) Values(row Row) []any {
	values := make([]any, len(d.Columns))
	for i, col := range d.Columns {
		values[i] = bindValue(col, row[col])
	}
	return values
}

// SelectColumns returns the identifier column followed by the table columns.
func (d Definition) SelectColumns() []string {
	return append([]string{ColumnID}, d.Columns...)
}

func bindValue(col string, v any) any {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return nil
		}
	case int64:
		if x == 0 && strings.HasSuffix(col, "_id") {
			return nil
		}
	case decimal.Decimal:
		return x.String()
	case string:
		if x == "" && col != "code" && col != "reference" && col != "name" {
			return nil
		}
	}
	return v
}

// quoteIdentifier quotes a SQL identifier to prevent injection.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteColumns quotes a list of column names.
func quoteColumns(cols []string) []string {
	result := make([]string, len(cols))
	for i, col := range cols {
		result[i] = quoteIdentifier(col)
	}
	return result
}

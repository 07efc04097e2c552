// Package store is the persistence boundary of the import engine.
//
// The engine only ever reads whole tables and appends batches of rows. Every
// implementation assigns each inserted row an identifier strictly greater than
// any identifier already present in that table, and returns the identifiers in
// the same order as the rows it was given. Callers rely on that ordering to
// patch generated identifiers back onto the records that produced them.
//
// Implementations:
//
//   - MemoryStore: in-process tables, used by tests and dry runs
//   - PostgresStore: pgx connection pool, one batch round trip per insert call
//   - SQLiteStore: embedded database for single-user installations
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Table names a persisted entity type.
type Table string

const (
	TableInsurers       Table = "insurers"
	TableDistricts      Table = "districts"
	TableAdjusters      Table = "adjusters"
	TableClaims         Table = "claims"
	TableAccounts       Table = "accounts"
	TableCommunications Table = "communications"
	TableHeaders        Table = "headers"
	TableRevisions      Table = "revisions"
	TableLineItems      Table = "line_items"
	TableImportRuns     Table = "import_runs"
)

// Store is the generic table store the engine persists through.
type Store interface {
	// ReadAll returns every row of the table ordered by identifier.
	ReadAll(ctx context.Context, table Table) ([]Row, error)

	// InsertBatch appends rows and returns their generated identifiers in
	// input order. An empty batch is a no-op.
	InsertBatch(ctx context.Context, table Table, rows []Row) ([]int64, error)
}

// Row is a single record keyed by column name. The "id" column holds the
// generated identifier once the row has been persisted.
type Row map[string]any

// ColumnID is the identifier column present on every table.
const ColumnID = "id"

// ID returns the row identifier, or 0 when the row has not been persisted.
func (r Row) ID() int64 {
	id, _ := r.Int64(ColumnID)
	return id
}

// String returns the column as text. Missing and NULL values are "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Int64 returns the column as an integer. The boolean is false for missing,
// NULL or non-numeric values.
func (r Row) Int64(col string) (int64, bool) {
	switch v := r[col].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return i, err == nil
	case []byte:
		i, err := strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// Decimal returns the column as a decimal amount; unreadable values are zero.
func (r Row) Decimal(col string) decimal.Decimal {
	switch v := r[col].(type) {
	case decimal.Decimal:
		return v
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero
		}
		return d
	case []byte:
		d, err := decimal.NewFromString(strings.TrimSpace(string(v)))
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(v)
	case int64:
		return decimal.NewFromInt(v)
	case int:
		return decimal.NewFromInt(int64(v))
	default:
		return decimal.Zero
	}
}

// timeLayouts are the textual forms dates take when a driver hands them back
// as strings.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time returns the column as a time. Missing or unparsable values are the
// zero time.
func (r Row) Time(col string) time.Time {
	switch v := r[col].(type) {
	case time.Time:
		return v
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

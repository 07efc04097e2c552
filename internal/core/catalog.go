package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/JonMunkholm/claimsync/internal/store"
)

// catalogTables are the tables snapshotted at the start of every run.
var catalogTables = []store.Table{
	store.TableInsurers,
	store.TableDistricts,
	store.TableAdjusters,
	store.TableClaims,
	store.TableAccounts,
	store.TableCommunications,
	store.TableHeaders,
	store.TableRevisions,
}

// naturalKeys lists the natural-key columns of each catalog entity.
var naturalKeys = map[store.Table][]string{
	store.TableInsurers:  {"name", "short_name"},
	store.TableDistricts: {"name"},
	store.TableAdjusters: {"name"},
	store.TableClaims:    {"code"},
	store.TableAccounts:  {"reference"},
}

type commKey struct {
	accountID int64
	code      string
}

type revisionRef struct {
	id       int64
	sequence int64
}

// Catalog is the in-memory snapshot of every lookup table for one run. It is
// loaded once, only grows through Append and is never reloaded mid-run.
type Catalog struct {
	rows map[store.Table][]store.Row

	// table -> column -> folded value -> first identifier with that value
	index map[store.Table]map[string]map[string]int64

	communications map[commKey]int64
	codesByAccount map[int64][]string
	headers        map[int64]bool
	revisions      map[int64][]revisionRef
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		rows:           make(map[store.Table][]store.Row),
		index:          make(map[store.Table]map[string]map[string]int64),
		communications: make(map[commKey]int64),
		codesByAccount: make(map[int64][]string),
		headers:        make(map[int64]bool),
		revisions:      make(map[int64][]revisionRef),
	}
}

// LoadCatalog reads every catalog table from the store.
func LoadCatalog(ctx context.Context, s store.Store) (*Catalog, error) {
	c := NewCatalog()
	for _, table := range catalogTables {
		rows, err := s.ReadAll(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("load catalog %s: %w", table, err)
		}
		c.Append(table, rows...)
	}
	return c, nil
}

// Append registers persisted rows, making them visible to every later lookup.
// Rows must carry their generated identifier.
func (c *Catalog) Append(table store.Table, rows ...store.Row) {
	for _, row := range rows {
		c.rows[table] = append(c.rows[table], row)
		id := row.ID()

		for _, col := range naturalKeys[table] {
			key := Fold(row.String(col))
			if key == "" {
				continue
			}
			byValue := c.columnIndex(table, col)
			if _, exists := byValue[key]; !exists {
				byValue[key] = id
			}
		}

		switch table {
		case store.TableCommunications:
			accountID, _ := row.Int64("account_id")
			key := commKey{accountID: accountID, code: Fold(row.String("code"))}
			if _, exists := c.communications[key]; !exists {
				c.communications[key] = id
				c.codesByAccount[accountID] = append(c.codesByAccount[accountID], row.String("code"))
			}
		case store.TableHeaders:
			commID, _ := row.Int64("communication_id")
			c.headers[commID] = true
		case store.TableRevisions:
			commID, _ := row.Int64("communication_id")
			seq, _ := row.Int64("sequence")
			c.revisions[commID] = append(c.revisions[commID], revisionRef{id: id, sequence: seq})
		}
	}
}

func (c *Catalog) columnIndex(table store.Table, col string) map[string]int64 {
	byColumn, ok := c.index[table]
	if !ok {
		byColumn = make(map[string]map[string]int64)
		c.index[table] = byColumn
	}
	byValue, ok := byColumn[col]
	if !ok {
		byValue = make(map[string]int64)
		byColumn[col] = byValue
	}
	return byValue
}

// Find returns the identifier of the first entity whose candidate fields match
// value, ignoring case and diacritics. With no fields, the table's natural-key
// columns are searched.
func (c *Catalog) Find(table store.Table, value string, fields ...string) (int64, bool) {
	key := Fold(value)
	if key == "" {
		return 0, false
	}
	if len(fields) == 0 {
		fields = naturalKeys[table]
	}

	for _, col := range fields {
		if byValue, ok := c.index[table][col]; ok {
			if id, ok := byValue[key]; ok {
				return id, true
			}
			continue
		}
		if isNaturalKey(table, col) {
			// Indexed column without any value yet.
			continue
		}
		for _, row := range c.rows[table] {
			if Fold(row.String(col)) == key {
				return row.ID(), true
			}
		}
	}
	return 0, false
}

func isNaturalKey(table store.Table, col string) bool {
	for _, k := range naturalKeys[table] {
		if k == col {
			return true
		}
	}
	return false
}

// FindCommunication returns the communication with the code under the account.
func (c *Catalog) FindCommunication(accountID int64, code string) (int64, bool) {
	id, ok := c.communications[commKey{accountID: accountID, code: Fold(code)}]
	return id, ok
}

// CommunicationCodes returns the display codes of every communication of the
// account, in creation order.
func (c *Catalog) CommunicationCodes(accountID int64) []string {
	return append([]string(nil), c.codesByAccount[accountID]...)
}

// HasHeader reports whether the communication already has a header record.
func (c *Catalog) HasHeader(commID int64) bool {
	return c.headers[commID]
}

// RevisionCount returns the number of revisions of the communication.
func (c *Catalog) RevisionCount(commID int64) int {
	return len(c.revisions[commID])
}

// CurrentRevision returns the highest-sequence revision of the communication.
// Headers are written before their revisions and never updated, so this is
// how the current revision is derived.
func (c *Catalog) CurrentRevision(commID int64) (int64, bool) {
	refs := c.revisions[commID]
	if len(refs) == 0 {
		return 0, false
	}
	sorted := append([]revisionRef(nil), refs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].sequence != sorted[j].sequence {
			return sorted[i].sequence < sorted[j].sequence
		}
		return sorted[i].id < sorted[j].id
	})
	return sorted[len(sorted)-1].id, true
}

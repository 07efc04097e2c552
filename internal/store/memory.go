package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps every table in process memory. Identifiers start at 1 and
// increase by one per inserted row.
type MemoryStore struct {
	mu       sync.RWMutex
	tables   map[Table][]Row
	nextID   map[Table]int64
	calls    map[Table]int
	failures map[Table]error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:   make(map[Table][]Row),
		nextID:   make(map[Table]int64),
		calls:    make(map[Table]int),
		failures: make(map[Table]error),
	}
}

// ReadAll returns copies of the table's rows in identifier order.
func (m *MemoryStore) ReadAll(ctx context.Context, table Table) ([]Row, error) {
	if _, err := MustLookup(table); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.tables[table]
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out, nil
}

// InsertBatch appends the rows atomically: either every row is stored or none.
func (m *MemoryStore) InsertBatch(ctx context.Context, table Table, rows []Row) ([]int64, error) {
	if _, err := MustLookup(table); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[table]++
	if err := m.failures[table]; err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}

	ids := make([]int64, len(rows))
	for i, r := range rows {
		m.nextID[table]++
		id := m.nextID[table]
		stored := r.Clone()
		stored[ColumnID] = id
		m.tables[table] = append(m.tables[table], stored)
		ids[i] = id
	}
	return ids, nil
}

// FailInserts makes every later insert into table fail with err. A nil err
// clears the failure.
func (m *MemoryStore) FailInserts(table Table, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.failures, table)
		return
	}
	m.failures[table] = err
}

// InsertCalls returns how many InsertBatch calls reached the table with a
// non-empty batch.
func (m *MemoryStore) InsertCalls(table Table) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[table]
}

// Count returns the number of rows stored in the table.
func (m *MemoryStore) Count(table Table) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[table])
}

package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists tables in PostgreSQL through a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an open pool. The caller owns the pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ReadAll selects every row of the table ordered by identifier.
func (s *PostgresStore) ReadAll(ctx context.Context, table Table) ([]Row, error) {
	def, err := MustLookup(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(quoteColumns(def.SelectColumns()), ", "),
		quoteIdentifier(string(table)),
		quoteIdentifier(ColumnID),
	)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}

	result := make([]Row, len(records))
	for i, rec := range records {
		row := make(Row, len(rec))
		for col, v := range rec {
			row[col] = normalizePgValue(v)
		}
		result[i] = row
	}
	return result, nil
}

// InsertBatch queues one INSERT ... RETURNING per row into a single pgx batch
// inside a transaction, so the whole batch costs one round trip and either
// commits entirely or not at all. Results are read in queue order, which keeps
// the returned identifiers aligned with the input rows.
func (s *PostgresStore) InsertBatch(ctx context.Context, table Table, rows []Row) ([]int64, error) {
	def, err := MustLookup(table)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(def.Columns))
	for i := range def.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		quoteIdentifier(string(table)),
		strings.Join(quoteColumns(def.Columns), ", "),
		strings.Join(placeholders, ", "),
		quoteIdentifier(ColumnID),
	)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(query, def.Values(row)...)
	}

	results := tx.SendBatch(ctx, batch)
	ids := make([]int64, 0, len(rows))
	for i := range rows {
		var id int64
		if err := results.QueryRow().Scan(&id); err != nil {
			results.Close()
			return nil, fmt.Errorf("insert %s row %d: %w", table, i+1, err)
		}
		ids = append(ids, id)
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit %s: %w", table, err)
	}
	return ids, nil
}

// normalizePgValue converts pgx's decoded values into the plain Go types the
// Row accessors understand.
func normalizePgValue(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		val, err := x.Value()
		if err != nil {
			return nil
		}
		return val
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	default:
		return v
	}
}

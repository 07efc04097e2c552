package core

// persist.go writes a validated run to the store.
//
// Persistence is a fixed sequence of phases. Every phase first resolves the
// identifiers it needs from the catalog, then writes all of its new rows with
// a single InsertBatch call per table, then appends the written rows to the
// catalog so the next phase can resolve against them:
//
//  1. catalogs          insurers, districts, adjusters
//  2. claims_accounts   claims (need insurers), accounts (need adjusters)
//  3. communications    new (account, code) pairs from origins
//  4. headers           one per new communication
//  5. revisions         one per document, sequenced per communication
//  6. line_items        every line of every revision
//
// Entities created within the run are referenced before they have an
// identifier. Those references are collected in a queue keyed by natural key;
// after the insert the returned identifiers are walked in lockstep with the
// queue and patched onto every dependent document. A store must therefore
// return identifiers in input order.
//
// There is no rollback across phases. A failed insert stops the run and the
// earlier phases stay written; phases 1-4 deduplicate against the catalog so
// a re-run does not repeat them.

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/claimsync/internal/store"
	"github.com/shopspring/decimal"
)

// DefaultOversightRate is the share of a revision amount charged as oversight.
var DefaultOversightRate = decimal.RequireFromString("0.05")

// StorageError is a failed write that aborted a run.
type StorageError struct {
	Phase Phase
	Table store.Table
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure in phase %s writing %s: %v", e.Phase, e.Table, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Counts is the number of rows created per entity type.
type Counts struct {
	Insurers       int `json:"insurers"`
	Districts      int `json:"districts"`
	Adjusters      int `json:"adjusters"`
	Claims         int `json:"claims"`
	Accounts       int `json:"accounts"`
	Communications int `json:"communications"`
	Headers        int `json:"headers"`
	Revisions      int `json:"revisions"`
	LineItems      int `json:"line_items"`
}

func (c *Counts) add(table store.Table, n int) {
	switch table {
	case store.TableInsurers:
		c.Insurers += n
	case store.TableDistricts:
		c.Districts += n
	case store.TableAdjusters:
		c.Adjusters += n
	case store.TableClaims:
		c.Claims += n
	case store.TableAccounts:
		c.Accounts += n
	case store.TableCommunications:
		c.Communications += n
	case store.TableHeaders:
		c.Headers += n
	case store.TableRevisions:
		c.Revisions += n
	case store.TableLineItems:
		c.LineItems += n
	}
}

// ByTable returns the counts keyed by table name.
func (c Counts) ByTable() map[store.Table]int {
	return map[store.Table]int{
		store.TableInsurers:       c.Insurers,
		store.TableDistricts:      c.Districts,
		store.TableAdjusters:      c.Adjusters,
		store.TableClaims:         c.Claims,
		store.TableAccounts:       c.Accounts,
		store.TableCommunications: c.Communications,
		store.TableHeaders:        c.Headers,
		store.TableRevisions:      c.Revisions,
		store.TableLineItems:      c.LineItems,
	}
}

// PersistOptions tunes how documents become rows.
type PersistOptions struct {
	RunID           string
	OversightRate   decimal.Decimal
	DefaultAdjuster string
}

// Persister runs the ordered phases for one run. It owns the catalog for the
// duration of the run.
type Persister struct {
	store   store.Store
	catalog *Catalog
	opts    PersistOptions
	logger  *slog.Logger
	counts  Counts
}

// NewPersister creates a persister writing through s and resolving against
// catalog.
func NewPersister(s store.Store, catalog *Catalog, opts PersistOptions, logger *slog.Logger) *Persister {
	if opts.OversightRate.IsZero() {
		opts.OversightRate = DefaultOversightRate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{store: s, catalog: catalog, opts: opts, logger: logger}
}

// Persist writes every valid document. Documents that fail resolution are
// rejected and skipped; a storage failure stops the run with a *StorageError.
// The counts cover every row written, including those of completed phases
// before a failure.
func (p *Persister) Persist(ctx context.Context, docs []*Document) (Counts, error) {
	phases := []struct {
		phase Phase
		run   func(context.Context, []*Document) error
	}{
		{PhaseCatalogs, p.persistCatalogs},
		{PhaseClaimsAccounts, p.persistClaimsAccounts},
		{PhaseCommunications, p.persistCommunications},
		{PhaseHeaders, p.persistHeaders},
		{PhaseRevisions, p.persistRevisions},
		{PhaseLineItems, p.persistLineItems},
	}

	for _, ph := range phases {
		active := validDocuments(docs)
		if err := ph.run(ctx, active); err != nil {
			p.logger.Error("import phase failed", "phase", ph.phase, "error", err)
			return p.counts, err
		}
		p.logger.Debug("import phase complete", "phase", ph.phase, "documents", len(active))
	}
	return p.counts, nil
}

func validDocuments(docs []*Document) []*Document {
	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		if d.Valid() {
			out = append(out, d)
		}
	}
	return out
}

// insert writes one batch, checks the identifier contract, stamps the ids on
// the rows and registers them in the catalog. Empty batches are skipped
// without a store call.
func (p *Persister) insert(ctx context.Context, phase Phase, table store.Table, rows []store.Row) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	ids, err := p.store.InsertBatch(ctx, table, rows)
	if err != nil {
		return nil, &StorageError{Phase: phase, Table: table, Err: err}
	}
	if len(ids) != len(rows) {
		return nil, &StorageError{Phase: phase, Table: table,
			Err: fmt.Errorf("store returned %d identifiers for %d rows", len(ids), len(rows))}
	}

	for i, row := range rows {
		row[store.ColumnID] = ids[i]
	}
	p.catalog.Append(table, rows...)
	p.counts.add(table, len(rows))

	p.logger.Info("rows inserted", "phase", phase, "table", table, "count", len(rows))
	return ids, nil
}

// catalogQueue collects unseen natural-key values for one catalog table,
// keeping the first display spelling of each folded value.
type catalogQueue struct {
	catalog *Catalog
	table   store.Table
	seen    map[string]bool
	rows    []store.Row
}

func newCatalogQueue(catalog *Catalog, table store.Table) *catalogQueue {
	return &catalogQueue{catalog: catalog, table: table, seen: make(map[string]bool)}
}

// add queues row under value unless the value already exists or is queued.
func (q *catalogQueue) add(value string, row store.Row) {
	key := Fold(value)
	if key == "" || q.seen[key] {
		return
	}
	if _, ok := q.catalog.Find(q.table, value); ok {
		return
	}
	q.seen[key] = true
	q.rows = append(q.rows, row)
}

// Phase 1: catalog leaves.
func (p *Persister) persistCatalogs(ctx context.Context, docs []*Document) error {
	insurers := newCatalogQueue(p.catalog, store.TableInsurers)
	districts := newCatalogQueue(p.catalog, store.TableDistricts)
	adjusters := newCatalogQueue(p.catalog, store.TableAdjusters)

	for _, doc := range docs {
		insurers.add(doc.Insurer, store.Row{"name": doc.Insurer})
		districts.add(doc.District, store.Row{"name": doc.District})
		adjusters.add(doc.Adjuster, store.Row{"name": doc.Adjuster})
	}
	if p.needsDefaultAdjuster(docs) {
		adjusters.add(p.opts.DefaultAdjuster, store.Row{"name": p.opts.DefaultAdjuster})
	}

	for _, q := range []*catalogQueue{insurers, districts, adjusters} {
		if _, err := p.insert(ctx, PhaseCatalogs, q.table, q.rows); err != nil {
			return err
		}
	}
	return nil
}

// needsDefaultAdjuster reports whether some account will be created without
// a row-level adjuster.
func (p *Persister) needsDefaultAdjuster(docs []*Document) bool {
	if p.opts.DefaultAdjuster == "" {
		return false
	}
	for _, doc := range docs {
		if doc.Kind != KindOrigin || doc.Adjuster != "" {
			continue
		}
		if _, ok := p.catalog.Find(store.TableAccounts, doc.AccountRef); !ok {
			return true
		}
	}
	return false
}

// Phase 2: claims, then accounts.
func (p *Persister) persistClaimsAccounts(ctx context.Context, docs []*Document) error {
	for _, doc := range docs {
		doc.InsurerID = p.lookup(store.TableInsurers, doc.Insurer)
		doc.DistrictID = p.lookup(store.TableDistricts, doc.District)
		doc.AdjusterID = p.lookup(store.TableAdjusters, doc.Adjuster)
		if doc.AdjusterID == 0 {
			doc.AdjusterID = p.lookup(store.TableAdjusters, p.opts.DefaultAdjuster)
		}
	}

	claims := newCatalogQueue(p.catalog, store.TableClaims)
	for _, doc := range docs {
		claims.add(doc.ClaimRef, store.Row{
			"code":       doc.ClaimRef,
			"insurer_id": doc.InsurerID,
			"phenomenon": doc.Phenomenon,
			"fund":       doc.Fund,
			"loss_date":  doc.LossDate,
		})
	}
	if _, err := p.insert(ctx, PhaseClaimsAccounts, store.TableClaims, claims.rows); err != nil {
		return err
	}

	// Only origins create accounts.
	accounts := newCatalogQueue(p.catalog, store.TableAccounts)
	for _, doc := range docs {
		if doc.Kind != KindOrigin {
			continue
		}
		accounts.add(doc.AccountRef, store.Row{
			"reference":   doc.AccountRef,
			"adjuster_id": doc.AdjusterID,
		})
	}
	if _, err := p.insert(ctx, PhaseClaimsAccounts, store.TableAccounts, accounts.rows); err != nil {
		return err
	}

	for _, doc := range docs {
		doc.ClaimID = p.lookup(store.TableClaims, doc.ClaimRef)

		id, ok := p.catalog.Find(store.TableAccounts, doc.AccountRef)
		if !ok {
			doc.Reject(fmt.Sprintf("account %q could not be resolved", doc.AccountRef))
			continue
		}
		doc.AccountID = id
	}
	return nil
}

func (p *Persister) lookup(table store.Table, value string) int64 {
	id, _ := p.catalog.Find(table, value)
	return id
}

// commEntry is a communication waiting for its identifier together with every
// document that refers to it.
type commEntry struct {
	row        store.Row
	dependents []*Document
}

// Phase 3: communications. Origins are queued before revisions so a revision
// listed ahead of its origin still finds the queued entry.
func (p *Persister) persistCommunications(ctx context.Context, docs []*Document) error {
	queue := make(map[commKey]*commEntry)
	var order []*commEntry

	for _, doc := range originsFirst(docs) {
		if id, ok := p.catalog.FindCommunication(doc.AccountID, doc.CommCode); ok {
			doc.CommunicationID = id
			continue
		}

		key := commKey{accountID: doc.AccountID, code: Fold(doc.CommCode)}
		if entry, ok := queue[key]; ok {
			entry.dependents = append(entry.dependents, doc)
			continue
		}

		if doc.Kind != KindOrigin {
			doc.Reject(fmt.Sprintf("no origin found: communication code %q for account %q was not created",
				doc.CommCode, doc.AccountRef))
			continue
		}

		entry := &commEntry{
			row: store.Row{
				"account_id": doc.AccountID,
				"code":       doc.CommCode,
				"run_id":     p.opts.RunID,
			},
			dependents: []*Document{doc},
		}
		queue[key] = entry
		order = append(order, entry)
	}

	rows := make([]store.Row, len(order))
	for i, entry := range order {
		rows[i] = entry.row
	}
	ids, err := p.insert(ctx, PhaseCommunications, store.TableCommunications, rows)
	if err != nil {
		return err
	}

	for i, entry := range order {
		for _, doc := range entry.dependents {
			doc.CommunicationID = ids[i]
		}
	}
	return nil
}

func originsFirst(docs []*Document) []*Document {
	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		if d.Kind == KindOrigin {
			out = append(out, d)
		}
	}
	for _, d := range docs {
		if d.Kind != KindOrigin {
			out = append(out, d)
		}
	}
	return out
}

// Phase 4: headers. A later document for the same communication replaces the
// pending description when it carries one.
func (p *Persister) persistHeaders(ctx context.Context, docs []*Document) error {
	pending := make(map[int64]store.Row)
	var rows []store.Row

	for _, doc := range docs {
		if row, ok := pending[doc.CommunicationID]; ok {
			if doc.Description != "" {
				row["description"] = doc.Description
			}
			continue
		}
		if doc.Kind != KindOrigin || p.catalog.HasHeader(doc.CommunicationID) {
			continue
		}

		row := store.Row{
			"communication_id": doc.CommunicationID,
			"state":            doc.State,
			"district_id":      doc.DistrictID,
			"claim_id":         doc.ClaimID,
			"adjuster_id":      doc.AdjusterID,
			"description":      doc.Description,
			"document_date":    doc.DocumentDate,
		}
		pending[doc.CommunicationID] = row
		rows = append(rows, row)
	}

	_, err := p.insert(ctx, PhaseHeaders, store.TableHeaders, rows)
	return err
}

// Phase 5: revisions, numbered after the existing and already queued
// revisions of the same communication. Origins take the lower numbers.
func (p *Persister) persistRevisions(ctx context.Context, docs []*Document) error {
	docs = originsFirst(docs)
	queued := make(map[int64]int)
	rows := make([]store.Row, 0, len(docs))

	for _, doc := range docs {
		seq := p.catalog.RevisionCount(doc.CommunicationID) + queued[doc.CommunicationID] + 1
		queued[doc.CommunicationID]++
		doc.Sequence = seq

		rows = append(rows, store.Row{
			"communication_id": doc.CommunicationID,
			"sequence":         int64(seq),
			"kind":             string(doc.Kind),
			"amount":           doc.DeclaredTotal,
			"oversight_amount": p.oversight(doc),
			"document_date":    doc.DocumentDate,
			"description":      doc.Description,
			"run_id":           p.opts.RunID,
		})
	}

	ids, err := p.insert(ctx, PhaseRevisions, store.TableRevisions, rows)
	if err != nil {
		return err
	}
	for i, doc := range docs {
		doc.RevisionID = ids[i]
	}
	return nil
}

func (p *Persister) oversight(doc *Document) decimal.Decimal {
	if doc.OversightOverride.IsPositive() {
		return doc.OversightOverride
	}
	return doc.DeclaredTotal.Mul(p.opts.OversightRate).Round(2)
}

// Phase 6: line items, stamped with their revision.
func (p *Persister) persistLineItems(ctx context.Context, docs []*Document) error {
	var rows []store.Row
	for _, doc := range docs {
		for i, line := range doc.Lines {
			rows = append(rows, store.Row{
				"revision_id": doc.RevisionID,
				"position":    int64(i + 1),
				"concept":     line.Concept,
				"category":    line.Category,
				"amount":      line.Amount,
			})
		}
	}

	_, err := p.insert(ctx, PhaseLineItems, store.TableLineItems, rows)
	return err
}

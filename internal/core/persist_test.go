package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/JonMunkholm/claimsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runPipeline parses, validates and persists input against st, the way a
// service run does.
func runPipeline(t *testing.T, st store.Store, input string, opts PersistOptions) (*ParseResult, Counts, error) {
	t.Helper()
	ctx := context.Background()

	parsed, err := NewParser(nil).ParseCSV(strings.NewReader(input))
	require.NoError(t, err)

	cat, err := LoadCatalog(ctx, st)
	require.NoError(t, err)

	NewValidator(cat, DefaultTolerance).Validate(parsed.Documents)

	if opts.RunID == "" {
		opts.RunID = "run-test"
	}
	counts, err := NewPersister(st, cat, opts, nil).Persist(ctx, parsed.Documents)
	return parsed, counts, err
}

func readAll(t *testing.T, st store.Store, table store.Table) []store.Row {
	t.Helper()
	rows, err := st.ReadAll(context.Background(), table)
	require.NoError(t, err)
	return rows
}

const singleOrigin = `account_ref,comm_code,kind,declared_total,line_concept,line_amount
REF-1,C-1,ORIGIN,1000,Labor,1000
`

// ============================================================================
// Scenarios
// ============================================================================

func TestPersist_SingleOrigin(t *testing.T) {
	// GIVEN one origin row with total 1000 and one line of 1000
	st := store.NewMemoryStore()

	// WHEN it is imported
	parsed, counts, err := runPipeline(t, st, singleOrigin, PersistOptions{})

	// THEN one account, communication, header, revision and line item exist
	require.NoError(t, err)
	assert.Equal(t, Counts{Accounts: 1, Communications: 1, Headers: 1, Revisions: 1, LineItems: 1}, counts)

	doc := parsed.Documents[0]
	assert.True(t, doc.Valid())
	assert.Equal(t, 1, doc.Sequence)

	revisions := readAll(t, st, store.TableRevisions)
	require.Len(t, revisions, 1)
	seq, _ := revisions[0].Int64("sequence")
	assert.Equal(t, int64(1), seq)
	assert.Equal(t, "1000", revisions[0].Decimal("amount").String())
	assert.Equal(t, "50", revisions[0].Decimal("oversight_amount").String())
	assert.Equal(t, "run-test", revisions[0].String("run_id"))

	lines := readAll(t, st, store.TableLineItems)
	require.Len(t, lines, 1)
	revID, _ := lines[0].Int64("revision_id")
	assert.Equal(t, revisions[0].ID(), revID)
	assert.Equal(t, "Labor", lines[0].String("concept"))

	headers := readAll(t, st, store.TableHeaders)
	require.Len(t, headers, 1)
	commID, _ := headers[0].Int64("communication_id")
	assert.Equal(t, doc.CommunicationID, commID)
}

func TestPersist_CorrectedTotalIsPersisted(t *testing.T) {
	input := `account_ref,comm_code,declared_total,line_amount
REF-1,C-1,1000,500
REF-1,C-1,,450
`
	st := store.NewMemoryStore()

	parsed, _, err := runPipeline(t, st, input, PersistOptions{})

	require.NoError(t, err)
	doc := parsed.Documents[0]
	assert.True(t, doc.Valid(), "a corrected document is not rejected")
	assert.Contains(t, noteKinds(doc), NoteCorrection)

	revisions := readAll(t, st, store.TableRevisions)
	require.Len(t, revisions, 1)
	assert.Equal(t, "950", revisions[0].Decimal("amount").String())
}

func TestPersist_OrphanRevisionWritesNothing(t *testing.T) {
	input := `account_ref,comm_code,kind,declared_total
REF-404,C-404,REVISION,100
`
	st := store.NewMemoryStore()

	parsed, counts, err := runPipeline(t, st, input, PersistOptions{})

	require.NoError(t, err)
	doc := parsed.Documents[0]
	assert.False(t, doc.Valid())
	assert.Contains(t, doc.Reason, "no origin found")
	assert.Equal(t, Counts{}, counts)
	for _, def := range store.All() {
		assert.Zero(t, st.InsertCalls(def.Name), "no insert into %s", def.Name)
	}
}

func TestPersist_OneCommunicationPerOriginKey(t *testing.T) {
	// origin lines, a revision for the same key and the origin's key written
	// with a different case all map to one communication
	input := `account_ref,comm_code,kind,declared_total,line_amount
REF-1,C-1,ORIGIN,300,100
REF-1,C-1,ORIGIN,,200
ref-1,c-1,REVISION,50,50
`
	st := store.NewMemoryStore()

	parsed, counts, err := runPipeline(t, st, input, PersistOptions{})

	require.NoError(t, err)
	require.Len(t, parsed.Documents, 2)
	assert.Equal(t, 1, counts.Communications)
	assert.Equal(t, 1, counts.Headers)
	assert.Equal(t, 2, counts.Revisions)
	assert.Equal(t, 3, counts.LineItems)

	origin, revision := parsed.Documents[0], parsed.Documents[1]
	assert.Equal(t, origin.CommunicationID, revision.CommunicationID)
	assert.Equal(t, 1, origin.Sequence)
	assert.Equal(t, 2, revision.Sequence)
}

func TestPersist_ForwardReference(t *testing.T) {
	// GIVEN a revision listed before the origin that creates its communication
	input := `account_ref,comm_code,kind,declared_total
REF-1,C-1,REVISION,40
REF-1,C-1,ORIGIN,100
`
	st := store.NewMemoryStore()

	// WHEN imported
	parsed, counts, err := runPipeline(t, st, input, PersistOptions{})

	// THEN the revision is resolved against the queued communication
	require.NoError(t, err)
	revision, origin := parsed.Documents[0], parsed.Documents[1]
	require.True(t, revision.Valid(), revision.Reason)
	assert.Equal(t, 1, counts.Communications)
	assert.NotZero(t, revision.CommunicationID)
	assert.Equal(t, origin.CommunicationID, revision.CommunicationID)

	// and the origin takes the first sequence number
	assert.Equal(t, 1, origin.Sequence)
	assert.Equal(t, 2, revision.Sequence)
	assert.Equal(t, 1, st.InsertCalls(store.TableCommunications))
}

func TestPersist_SequenceContinuesStoredRevisions(t *testing.T) {
	st := store.NewMemoryStore()
	_, _, err := runPipeline(t, st, singleOrigin, PersistOptions{})
	require.NoError(t, err)

	input := `account_ref,comm_code,kind,declared_total
REF-1,C-1,REVISION,10
REF-1,C-1,REVISION,
`
	parsed, counts, err := runPipeline(t, st, input, PersistOptions{})

	require.NoError(t, err)
	require.Len(t, parsed.Documents, 1)
	assert.Equal(t, 2, parsed.Documents[0].Sequence)
	assert.Equal(t, 1, counts.Revisions)
	assert.Zero(t, counts.Communications)
	assert.Zero(t, counts.Headers)
}

func TestPersist_ReimportIsIdempotentForCatalogs(t *testing.T) {
	input := `account_ref,comm_code,insurer,district,adjuster,claim_ref,declared_total,line_amount
REF-1,C-1,Seguros Atlántico,Norte,Ana Ruiz,CLM-1,100,100
REF-2,C-2,SEGUROS ATLANTICO,norte,ana ruiz,clm-1,200,200
`
	st := store.NewMemoryStore()

	_, first, err := runPipeline(t, st, input, PersistOptions{})
	require.NoError(t, err)
	assert.Equal(t, Counts{
		Insurers: 1, Districts: 1, Adjusters: 1, Claims: 1, Accounts: 2,
		Communications: 2, Headers: 2, Revisions: 2, LineItems: 2,
	}, first)

	_, second, err := runPipeline(t, st, input, PersistOptions{})
	require.NoError(t, err)

	// catalogs, accounts, communications and headers are not repeated
	assert.Equal(t, Counts{Revisions: 2, LineItems: 2}, second)
	assert.Equal(t, 1, st.Count(store.TableInsurers))
	assert.Equal(t, 2, st.Count(store.TableAccounts))
	assert.Equal(t, 2, st.Count(store.TableCommunications))
	assert.Equal(t, 2, st.Count(store.TableHeaders))

	// revisions are appended with the next sequence
	assert.Equal(t, 4, st.Count(store.TableRevisions))
	for _, row := range readAll(t, st, store.TableRevisions)[2:] {
		seq, _ := row.Int64("sequence")
		assert.Equal(t, int64(2), seq)
	}

	// the catalog phase skipped its empty batches on the second run
	assert.Equal(t, 1, st.InsertCalls(store.TableInsurers))
	assert.Equal(t, 1, st.InsertCalls(store.TableAccounts))
}

func TestPersist_ResolvesCatalogIdentifiers(t *testing.T) {
	input := `account_ref,comm_code,insurer,district,adjuster,claim_ref,description,declared_total
REF-1,C-1,ACME,Sur,Luis Gil,CLM-9,Water damage,100
`
	st := store.NewMemoryStore()

	parsed, _, err := runPipeline(t, st, input, PersistOptions{})
	require.NoError(t, err)
	doc := parsed.Documents[0]

	claims := readAll(t, st, store.TableClaims)
	require.Len(t, claims, 1)
	insurerID, _ := claims[0].Int64("insurer_id")
	assert.Equal(t, doc.InsurerID, insurerID)
	assert.NotZero(t, insurerID)

	accounts := readAll(t, st, store.TableAccounts)
	require.Len(t, accounts, 1)
	adjusterID, _ := accounts[0].Int64("adjuster_id")
	assert.Equal(t, doc.AdjusterID, adjusterID)

	headers := readAll(t, st, store.TableHeaders)
	require.Len(t, headers, 1)
	districtID, _ := headers[0].Int64("district_id")
	claimID, _ := headers[0].Int64("claim_id")
	assert.Equal(t, doc.DistrictID, districtID)
	assert.Equal(t, claims[0].ID(), claimID)
	assert.Equal(t, "Water damage", headers[0].String("description"))
}

func TestPersist_HeaderTakesLaterDescription(t *testing.T) {
	// origin and revision share one communication; the revision's
	// description overwrites the pending header's
	input := `account_ref,comm_code,kind,description,declared_total
REF-1,C-1,ORIGIN,first,100
REF-1,C-1,REVISION,second,100
`
	st := store.NewMemoryStore()

	_, _, err := runPipeline(t, st, input, PersistOptions{})
	require.NoError(t, err)

	headers := readAll(t, st, store.TableHeaders)
	require.Len(t, headers, 1)
	assert.Equal(t, "second", headers[0].String("description"))
}

func TestPersist_DefaultAdjuster(t *testing.T) {
	input := `account_ref,comm_code,declared_total
REF-1,C-1,100
`
	st := store.NewMemoryStore()

	_, counts, err := runPipeline(t, st, input, PersistOptions{DefaultAdjuster: "Unassigned"})
	require.NoError(t, err)

	assert.Equal(t, 1, counts.Adjusters)
	adjusters := readAll(t, st, store.TableAdjusters)
	require.Len(t, adjusters, 1)
	assert.Equal(t, "Unassigned", adjusters[0].String("name"))

	accounts := readAll(t, st, store.TableAccounts)
	adjusterID, _ := accounts[0].Int64("adjuster_id")
	assert.Equal(t, adjusters[0].ID(), adjusterID)
}

func TestPersist_OversightOverride(t *testing.T) {
	input := `account_ref,comm_code,declared_total,oversight_amount
REF-1,C-1,1000,12.34
REF-2,C-2,333.33,
`
	st := store.NewMemoryStore()

	_, _, err := runPipeline(t, st, input, PersistOptions{})
	require.NoError(t, err)

	revisions := readAll(t, st, store.TableRevisions)
	require.Len(t, revisions, 2)
	assert.Equal(t, "12.34", revisions[0].Decimal("oversight_amount").String())
	assert.Equal(t, "16.67", revisions[1].Decimal("oversight_amount").String())
}

// ============================================================================
// Failure semantics
// ============================================================================

func TestPersist_StorageFailureKeepsEarlierPhases(t *testing.T) {
	// GIVEN a store whose revision inserts fail
	st := store.NewMemoryStore()
	st.FailInserts(store.TableRevisions, errors.New("disk full"))

	// WHEN an origin is imported
	_, counts, err := runPipeline(t, st, singleOrigin, PersistOptions{})

	// THEN the run stops in the revisions phase
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, PhaseRevisions, storageErr.Phase)
	assert.Equal(t, store.TableRevisions, storageErr.Table)
	assert.Contains(t, err.Error(), "storage failure in phase revisions writing revisions")
	assert.Contains(t, err.Error(), "disk full")

	// and phases 1-4 stay written while 5-6 are empty
	assert.Equal(t, Counts{Accounts: 1, Communications: 1, Headers: 1}, counts)
	assert.Equal(t, 1, st.Count(store.TableAccounts))
	assert.Equal(t, 1, st.Count(store.TableCommunications))
	assert.Equal(t, 1, st.Count(store.TableHeaders))
	assert.Zero(t, st.Count(store.TableRevisions))
	assert.Zero(t, st.InsertCalls(store.TableLineItems))

	// WHEN the same input is imported again after the store recovers
	st.FailInserts(store.TableRevisions, nil)
	parsed, counts, err := runPipeline(t, st, singleOrigin, PersistOptions{})

	// THEN only the missing phases are written
	require.NoError(t, err)
	assert.Equal(t, Counts{Revisions: 1, LineItems: 1}, counts)
	assert.Equal(t, 1, parsed.Documents[0].Sequence)
	assert.Equal(t, 1, st.Count(store.TableCommunications))
}

type shortIDStore struct {
	*store.MemoryStore
}

func (s shortIDStore) InsertBatch(ctx context.Context, table store.Table, rows []store.Row) ([]int64, error) {
	ids, err := s.MemoryStore.InsertBatch(ctx, table, rows)
	if err != nil || len(ids) == 0 {
		return ids, err
	}
	return ids[:len(ids)-1], nil
}

func TestPersist_IdentifierCountMismatch(t *testing.T) {
	st := shortIDStore{MemoryStore: store.NewMemoryStore()}

	_, _, err := runPipeline(t, st, singleOrigin, PersistOptions{})

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, PhaseClaimsAccounts, storageErr.Phase)
	assert.Contains(t, err.Error(), "store returned 0 identifiers for 1 rows")
}

func TestPersist_RejectedDocumentsAreSkipped(t *testing.T) {
	input := `account_ref,comm_code,kind,declared_total
REF-1,C-1,ORIGIN,100
REF-2,C-2,ORIGIN,0
`
	st := store.NewMemoryStore()

	parsed, counts, err := runPipeline(t, st, input, PersistOptions{})

	require.NoError(t, err)
	assert.False(t, parsed.Documents[1].Valid())
	assert.Equal(t, 1, counts.Accounts)
	assert.Equal(t, 1, counts.Revisions)
	_, ok := findAccount(t, st, "REF-2")
	assert.False(t, ok)
}

func TestCounts_ByTable(t *testing.T) {
	st := store.NewMemoryStore()

	_, counts, err := runPipeline(t, st, singleOrigin, PersistOptions{})

	require.NoError(t, err)
	byTable := counts.ByTable()
	for _, def := range store.All() {
		if def.Name == store.TableImportRuns {
			continue
		}
		assert.Equal(t, st.Count(def.Name), byTable[def.Name], "count for %s", def.Name)
	}
}

func findAccount(t *testing.T, st store.Store, reference string) (store.Row, bool) {
	t.Helper()
	for _, row := range readAll(t, st, store.TableAccounts) {
		if row.String("reference") == reference {
			return row, true
		}
	}
	return nil, false
}

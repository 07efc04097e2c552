package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/claimsync/internal/config"
	"github.com/JonMunkholm/claimsync/internal/logging"
	"github.com/JonMunkholm/claimsync/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrUnknownRun is returned for a run id with no remembered result.
var ErrUnknownRun = errors.New("unknown import run")

// ErrUnknownCommunication is returned when no stored communication matches an
// account reference and communication code.
var ErrUnknownCommunication = errors.New("unknown communication")

// ErrNoFile is returned when an import request carries no body.
var ErrNoFile = errors.New("no file provided")

// ImportFormat selects the parser for an import.
type ImportFormat string

const (
	FormatAuto ImportFormat = ""
	FormatCSV  ImportFormat = "csv"
	FormatXLSX ImportFormat = "xlsx"
	FormatJSON ImportFormat = "json"
)

// ParseImportFormat maps a user-supplied format name to an ImportFormat.
func ParseImportFormat(s string) (ImportFormat, error) {
	switch f := ImportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatAuto, FormatCSV, FormatXLSX, FormatJSON:
		return f, nil
	case "auto":
		return FormatAuto, nil
	default:
		return "", fmt.Errorf("unknown import format %q", s)
	}
}

// ImportRequest is one file to import.
type ImportRequest struct {
	FileName string
	Format   ImportFormat
	Body     io.Reader
}

// Run statuses recorded in the run history.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// RunSummary is one entry of the run history.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	FileName   string    `json:"file_name"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	Documents  int64     `json:"documents"`
	Valid      int64     `json:"valid"`
	Rejected   int64     `json:"rejected"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Service runs imports against a store, one at a time.
type Service struct {
	store   store.Store
	parser  *Parser
	limiter *RunLimiter

	maxFileSize     int64
	tolerance       decimal.Decimal
	oversightRate   decimal.Decimal
	defaultAdjuster string
	cacheSize       int

	mu      sync.RWMutex
	results map[string]*Result
	order   []string
}

// NewService creates a Service. When cfg names an alias file, its header
// spellings are added to the default schema.
func NewService(s store.Store, cfg config.ImportConfig) (*Service, error) {
	schema := DefaultSchema()
	if cfg.AliasFile != "" {
		aliases, err := LoadAliasFile(cfg.AliasFile)
		if err != nil {
			return nil, err
		}
		if schema, err = schema.WithAliases(aliases); err != nil {
			return nil, fmt.Errorf("alias file %s: %w", cfg.AliasFile, err)
		}
	}

	cacheSize := cfg.ResultCacheSize
	if cacheSize <= 0 {
		cacheSize = 1
	}

	return &Service{
		store:           s,
		parser:          NewParser(schema),
		limiter:         NewRunLimiter(cfg.MaxWait),
		maxFileSize:     cfg.MaxFileSize,
		tolerance:       decimal.NewFromFloat(cfg.Tolerance),
		oversightRate:   decimal.NewFromFloat(cfg.OversightRate),
		defaultAdjuster: strings.TrimSpace(cfg.DefaultAdjuster),
		cacheSize:       cacheSize,
		results:         make(map[string]*Result),
	}, nil
}

// Schema returns the column schema the service parses with.
func (s *Service) Schema() *Schema {
	return s.parser.Schema()
}

// Import runs one file through parsing, validation, persistence and
// reporting. It never returns an error: every outcome is a Result, and a
// failed run carries only its message.
//
// Once the run has started it is not cancelled with ctx; a half-written
// phase would leave the catalog and the store out of step.
func (s *Service) Import(ctx context.Context, req ImportRequest) *Result {
	runID := uuid.New().String()
	started := time.Now()
	logger := logging.WithFields(ctx, "run_id", runID, "file", req.FileName)

	if err := s.limiter.Acquire(ctx, runID); err != nil {
		logger.Warn("import rejected", "error", err)
		result := Failure(runID, err)
		result.FileName = req.FileName
		result.StartedAt = started
		recordRun(result, started)
		return result
	}
	defer s.limiter.Release()

	ctx = context.WithoutCancel(ctx)
	logger.Info("import started", "format", req.Format)

	result, err := s.run(ctx, runID, req, logger)
	if err != nil {
		logger.Error("import failed", "error", err)
		result = Failure(runID, err)
	}
	result.FileName = req.FileName
	result.StartedAt = started
	result.Duration = time.Since(started)

	s.recordHistory(ctx, result, logger)
	s.remember(result)
	recordRun(result, started)

	logger.Info("import finished",
		"success", result.Success,
		"documents", result.Documents,
		"valid", result.Valid,
		"rejected", result.RejectedCount(),
		"duration", result.Duration,
	)
	return result
}

func (s *Service) run(ctx context.Context, runID string, req ImportRequest, logger *slog.Logger) (*Result, error) {
	if req.Body == nil {
		return nil, ErrNoFile
	}
	data, err := readInput(req.Body, s.maxFileSize)
	if err != nil {
		return nil, err
	}

	format := req.Format
	if format == FormatAuto {
		format = DetectFormat(req.FileName, data)
	}

	parsed, err := s.parse(format, data)
	if err != nil {
		return nil, err
	}
	logger.Debug("input parsed", "rows", parsed.Rows, "documents", len(parsed.Documents),
		"dropped_rows", len(parsed.DroppedRows))

	catalog, err := LoadCatalog(ctx, s.store)
	if err != nil {
		return nil, err
	}

	NewValidator(catalog, s.tolerance).Validate(parsed.Documents)

	persister := NewPersister(s.store, catalog, PersistOptions{
		RunID:           runID,
		OversightRate:   s.oversightRate,
		DefaultAdjuster: s.defaultAdjuster,
	}, logger)
	counts, err := persister.Persist(ctx, parsed.Documents)
	recordRowsInserted(counts)
	if err != nil {
		return nil, err
	}

	return BuildReport(runID, parsed, counts)
}

func (s *Service) parse(format ImportFormat, data []byte) (*ParseResult, error) {
	switch format {
	case FormatXLSX:
		return s.parser.ParseXLSX(bytes.NewReader(data))
	case FormatJSON:
		return s.parser.ParseJSON(bytes.NewReader(data))
	default:
		return s.parser.ParseCSV(bytes.NewReader(data))
	}
}

// DetectFormat picks a parser from the file extension, falling back to the
// content: a zip signature is a workbook, a leading brace or bracket is JSON.
func DetectFormat(fileName string, data []byte) ImportFormat {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".json":
		return FormatJSON
	case ".csv", ".tsv", ".txt":
		return FormatCSV
	}

	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return FormatXLSX
	}
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, utf8BOM), " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}
	return FormatCSV
}

// recordHistory appends the run to the import_runs table. A failure here is
// logged and does not change the result.
func (s *Service) recordHistory(ctx context.Context, result *Result, logger *slog.Logger) {
	status := RunSucceeded
	if !result.Success {
		status = RunFailed
	}
	row := store.Row{
		"run_id":      result.RunID,
		"file_name":   result.FileName,
		"status":      status,
		"message":     result.Message,
		"documents":   int64(result.Documents),
		"valid":       int64(result.Valid),
		"rejected":    int64(result.RejectedCount()),
		"started_at":  result.StartedAt.UTC(),
		"finished_at": time.Now().UTC(),
	}
	if _, err := s.store.InsertBatch(ctx, store.TableImportRuns, []store.Row{row}); err != nil {
		logger.Warn("failed to record import run", "error", err)
	}
}

// remember keeps the result for later lookup, evicting the oldest entry
// beyond the cache size.
func (s *Service) remember(result *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[result.RunID] = result
	s.order = append(s.order, result.RunID)
	for len(s.order) > s.cacheSize {
		delete(s.results, s.order[0])
		s.order = s.order[1:]
	}
}

// Result returns the remembered result of a run.
func (s *Service) Result(runID string) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return result, nil
}

// Runs returns the run history, newest first.
func (s *Service) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.store.ReadAll(ctx, store.TableImportRuns)
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}

	runs := make([]RunSummary, 0, len(rows))
	for _, row := range rows {
		documents, _ := row.Int64("documents")
		valid, _ := row.Int64("valid")
		rejected, _ := row.Int64("rejected")
		runs = append(runs, RunSummary{
			RunID:      row.String("run_id"),
			FileName:   row.String("file_name"),
			Status:     row.String("status"),
			Message:    row.String("message"),
			Documents:  documents,
			Valid:      valid,
			Rejected:   rejected,
			StartedAt:  row.Time("started_at"),
			FinishedAt: row.Time("finished_at"),
		})
	}

	// Rows come back in id order, which is insertion order.
	slices.Reverse(runs)
	return runs, nil
}

// LimiterStatus reports whether a run is in progress.
func (s *Service) LimiterStatus() RunLimiterStatus {
	return s.limiter.Status()
}

// WaitForRuns blocks until the running import finishes or ctx is done.
func (s *Service) WaitForRuns(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// CommunicationState is the stored state of one communication.
type CommunicationState struct {
	AccountRef        string `json:"account_ref"`
	CommCode          string `json:"comm_code"`
	CommunicationID   int64  `json:"communication_id"`
	HasHeader         bool   `json:"has_header"`
	Revisions         int    `json:"revisions"`
	CurrentRevisionID int64  `json:"current_revision_id,omitempty"`
}

// Communication looks up a communication by account reference and code,
// ignoring case and diacritics. Headers never store their current revision;
// it is derived here as the highest-sequence revision.
func (s *Service) Communication(ctx context.Context, accountRef, commCode string) (*CommunicationState, error) {
	catalog, err := LoadCatalog(ctx, s.store)
	if err != nil {
		return nil, err
	}

	accountID, ok := catalog.Find(store.TableAccounts, accountRef)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownCommunication, accountRef, commCode)
	}
	commID, ok := catalog.FindCommunication(accountID, commCode)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownCommunication, accountRef, commCode)
	}

	state := &CommunicationState{
		AccountRef:      accountRef,
		CommCode:        commCode,
		CommunicationID: commID,
		HasHeader:       catalog.HasHeader(commID),
		Revisions:       catalog.RevisionCount(commID),
	}
	if current, ok := catalog.CurrentRevision(commID); ok {
		state.CurrentRevisionID = current
	}
	return state, nil
}

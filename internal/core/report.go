package core

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"sort"
	"time"
)

// Rejection describes one rejected document.
type Rejection struct {
	AccountRef string `json:"account_ref"`
	CommCode   string `json:"comm_code"`
	Kind       Kind   `json:"kind"`
	Reason     string `json:"reason"`
	Lines      []int  `json:"lines"`
}

// ImportedDocument records where a valid document was written.
type ImportedDocument struct {
	AccountRef      string `json:"account_ref"`
	CommCode        string `json:"comm_code"`
	Kind            Kind   `json:"kind"`
	CommunicationID int64  `json:"communication_id"`
	RevisionID      int64  `json:"revision_id"`
	Sequence        int    `json:"sequence"`
}

// DocumentNote is a note attached to a document, flattened for the report.
type DocumentNote struct {
	AccountRef string   `json:"account_ref"`
	CommCode   string   `json:"comm_code"`
	Kind       Kind     `json:"kind"`
	NoteKind   NoteKind `json:"note_kind"`
	Message    string   `json:"message"`
}

// Result is the outcome of one import run. A hard failure carries only the
// run identifier and a message; a completed run carries counts and the
// per-document outcome.
type Result struct {
	RunID    string `json:"run_id"`
	FileName string `json:"file_name,omitempty"`
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Code     string `json:"code,omitempty"`
	Action   string `json:"action,omitempty"`

	Counts      *Counts            `json:"counts,omitempty"`
	Documents   int                `json:"documents,omitempty"`
	Valid       int                `json:"valid,omitempty"`
	Imported    []ImportedDocument `json:"imported,omitempty"`
	Rejected    []Rejection        `json:"rejected,omitempty"`
	Notes       []DocumentNote     `json:"notes,omitempty"`
	DroppedRows []int              `json:"dropped_rows,omitempty"`

	// RejectedCSV is the base64-encoded CSV of every row of every rejected
	// document, under the input's header.
	RejectedCSV string `json:"rejected_csv,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// RejectedCount returns the number of rejected documents.
func (r *Result) RejectedCount() int {
	return len(r.Rejected)
}

// RejectedExtract decodes the rejected-rows CSV. It is nil when nothing was
// rejected.
func (r *Result) RejectedExtract() ([]byte, error) {
	if r.RejectedCSV == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(r.RejectedCSV)
	if err != nil {
		return nil, fmt.Errorf("decode rejected extract: %w", err)
	}
	return data, nil
}

// Failure builds the result of a run that stopped with a hard failure. The
// message is the error text; Code and Action come from its user message.
func Failure(runID string, err error) *Result {
	userErr := NewUserError(err)
	return &Result{
		RunID:   runID,
		Success: false,
		Message: err.Error(),
		Code:    userErr.User.Code,
		Action:  userErr.User.Action,
	}
}

// BuildReport summarises a completed run.
func BuildReport(runID string, parsed *ParseResult, counts Counts) (*Result, error) {
	result := &Result{
		RunID:       runID,
		Success:     true,
		Counts:      &counts,
		Documents:   len(parsed.Documents),
		DroppedRows: parsed.DroppedRows,
	}

	var rejected []*Document
	for _, doc := range parsed.Documents {
		for _, note := range doc.Notes {
			result.Notes = append(result.Notes, DocumentNote{
				AccountRef: doc.AccountRef,
				CommCode:   doc.CommCode,
				Kind:       doc.Kind,
				NoteKind:   note.Kind,
				Message:    note.Message,
			})
		}

		if doc.Valid() {
			result.Valid++
			result.Imported = append(result.Imported, ImportedDocument{
				AccountRef:      doc.AccountRef,
				CommCode:        doc.CommCode,
				Kind:            doc.Kind,
				CommunicationID: doc.CommunicationID,
				RevisionID:      doc.RevisionID,
				Sequence:        doc.Sequence,
			})
			continue
		}
		rejected = append(rejected, doc)
		result.Rejected = append(result.Rejected, Rejection{
			AccountRef: doc.AccountRef,
			CommCode:   doc.CommCode,
			Kind:       doc.Kind,
			Reason:     doc.Reason,
			Lines:      doc.LineNumbers(),
		})
	}

	switch {
	case len(rejected) > 0:
		extract, err := rejectedCSV(parsed.Header, rejected)
		if err != nil {
			return nil, err
		}
		result.RejectedCSV = extract
		result.Message = fmt.Sprintf("imported %d of %d documents; %d rejected",
			result.Valid, result.Documents, len(rejected))
	default:
		result.Message = fmt.Sprintf("imported %d documents", result.Valid)
	}
	if n := len(parsed.DroppedRows); n > 0 {
		result.Message += fmt.Sprintf("; %d rows dropped for missing account reference or communication code", n)
	}

	return result, nil
}

// rejectedCSV writes the header and the source rows of the rejected documents
// in input order, base64-encoded.
func rejectedCSV(header []string, docs []*Document) (string, error) {
	var rows []SourceRow
	for _, doc := range docs {
		rows = append(rows, doc.Rows...)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Line < rows[j].Line })

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("write rejected extract: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row.Cells); err != nil {
			return "", fmt.Errorf("write rejected extract: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write rejected extract: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

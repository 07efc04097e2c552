package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the record kind of a document.
type Kind string

const (
	KindOrigin   Kind = "ORIGIN"
	KindRevision Kind = "REVISION"
	KindUnknown  Kind = "UNKNOWN"
)

// Status is the outcome of validation and resolution for one document.
type Status string

const (
	StatusValid    Status = "VALID"
	StatusRejected Status = "REJECTED"
)

// NoteKind classifies a non-fatal annotation on a document.
type NoteKind string

const (
	NoteCorrection      NoteKind = "correction"
	NoteExpressCreation NoteKind = "express_creation"
	NoteInfo            NoteKind = "info"
)

// Note is a non-fatal annotation attached to a document during a run.
type Note struct {
	Kind    NoteKind `json:"kind"`
	Message string   `json:"message"`
}

// Line is one cost line of a document.
type Line struct {
	Concept  string          `json:"concept"`
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

// SourceRow is an input row as read, kept so rejected documents can be
// exported in the input's own column shape.
type SourceRow struct {
	Line  int      // 1-based line number, header is line 1
	Cells []string // raw cells, aligned with the input header
}

// DocumentKey is the natural key of a document. Account reference and
// communication code are folded so spelling variants group together.
type DocumentKey struct {
	AccountRef string
	CommCode   string
	Kind       Kind
}

// Document is one logical group of input rows sharing account reference,
// communication code and record kind. It lives for a single run only.
type Document struct {
	AccountRef string
	CommCode   string
	Kind       Kind
	RawKind    string

	Description  string
	DocumentDate time.Time
	State        string
	ClaimRef     string
	Insurer      string
	Phenomenon   string
	LossDate     time.Time
	Fund         string
	District     string
	Adjuster     string

	DeclaredTotal     decimal.Decimal
	OversightOverride decimal.Decimal
	Lines             []Line
	Rows              []SourceRow

	Status          Status
	Reason          string
	Notes           []Note
	ExpressCreation bool

	// Identifiers injected during resolution.
	InsurerID       int64
	DistrictID      int64
	AdjusterID      int64
	ClaimID         int64
	AccountID       int64
	CommunicationID int64
	RevisionID      int64
	Sequence        int
}

// Valid reports whether the document is still eligible for persistence.
func (d *Document) Valid() bool {
	return d.Status != StatusRejected
}

// Reject marks the document rejected. The first reason wins.
func (d *Document) Reject(reason string) {
	if d.Status == StatusRejected {
		return
	}
	d.Status = StatusRejected
	d.Reason = reason
}

// LineSum returns the sum of all line amounts.
func (d *Document) LineSum() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range d.Lines {
		sum = sum.Add(l.Amount)
	}
	return sum
}

// LineNumbers returns the input line numbers the document was built from.
func (d *Document) LineNumbers() []int {
	lines := make([]int, len(d.Rows))
	for i, r := range d.Rows {
		lines[i] = r.Line
	}
	return lines
}

func (d *Document) addNote(kind NoteKind, format string, args ...any) {
	d.Notes = append(d.Notes, Note{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// String identifies the document in logs and messages.
func (d *Document) String() string {
	return fmt.Sprintf("%s/%s/%s", d.AccountRef, d.CommCode, d.Kind)
}

// Phase names one step of the ordered persistence state machine.
type Phase string

const (
	PhaseCatalogs       Phase = "catalogs"
	PhaseClaimsAccounts Phase = "claims_accounts"
	PhaseCommunications Phase = "communications"
	PhaseHeaders        Phase = "headers"
	PhaseRevisions      Phase = "revisions"
	PhaseLineItems      Phase = "line_items"
)

package core

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ParseResult is the output of parsing one input.
type ParseResult struct {
	// Header is the input header row as read.
	Header []string

	// Documents in order of first appearance.
	Documents []*Document

	// DroppedRows lists the line numbers of rows discarded for lacking an
	// account reference or communication code.
	DroppedRows []int

	// Rows is the number of non-blank data rows read.
	Rows int
}

// Parser turns tabular input into documents grouped by natural key.
type Parser struct {
	schema *Schema
}

// NewParser creates a parser for the schema. A nil schema uses DefaultSchema.
func NewParser(schema *Schema) *Parser {
	if schema == nil {
		schema = DefaultSchema()
	}
	return &Parser{schema: schema}
}

// Schema returns the parser's column descriptor.
func (p *Parser) Schema() *Schema {
	return p.schema
}

// ParseCSV parses delimited text. A UTF-8 byte-order mark is stripped and
// invalid UTF-8 is replaced. The delimiter is sniffed from the header line:
// semicolon or tab when they outnumber commas, comma otherwise.
func (p *Parser) ParseCSV(r io.Reader) (*ParseResult, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	data := cleanText(raw)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("invalid csv: %w", err)
	}

	var rows []SourceRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv: %w", err)
		}
		line, _ := reader.FieldPos(0)
		rows = append(rows, SourceRow{Line: line, Cells: record})
	}

	return p.group(header, rows)
}

// ParseXLSX parses the first sheet of an Excel workbook.
func (p *Parser) ParseXLSX(r io.Reader) (*ParseResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("invalid xlsx: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, ErrEmptyFile
	}

	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return p.ParseRecords(records)
}

// ParseRecords parses rows already split into cells. The first record is the
// header; data rows are numbered from line 2, as in the source file.
func (p *Parser) ParseRecords(records [][]string) (*ParseResult, error) {
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}

	rows := make([]SourceRow, 0, len(records)-1)
	for i, record := range records[1:] {
		rows = append(rows, SourceRow{Line: i + 2, Cells: record})
	}
	return p.group(records[0], rows)
}

// group resolves the header and folds rows into documents. The first row of
// a document fills each header field; later rows only fill fields still empty.
// Every row with any line data contributes one line.
func (p *Parser) group(header []string, rows []SourceRow) (*ParseResult, error) {
	if isBlank(header) {
		return nil, ErrEmptyFile
	}

	idx, err := p.schema.Resolve(header)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{Header: header}
	byKey := make(map[DocumentKey]*Document)

	for _, row := range rows {
		if isBlank(row.Cells) {
			continue
		}
		result.Rows++

		accountRef := idx.Get(row.Cells, FieldAccountRef)
		commCode := idx.Get(row.Cells, FieldCommCode)
		if accountRef == "" || commCode == "" {
			result.DroppedRows = append(result.DroppedRows, row.Line)
			continue
		}

		rawKind := idx.Get(row.Cells, FieldKind)
		key := DocumentKey{
			AccountRef: Fold(accountRef),
			CommCode:   Fold(commCode),
			Kind:       ParseKind(rawKind),
		}

		doc, ok := byKey[key]
		if !ok {
			doc = &Document{
				AccountRef: accountRef,
				CommCode:   commCode,
				Kind:       key.Kind,
				RawKind:    rawKind,
				Status:     StatusValid,
			}
			fillHeader(doc, idx, row.Cells)
			byKey[key] = doc
			result.Documents = append(result.Documents, doc)
		}

		doc.Rows = append(doc.Rows, row)

		concept := idx.Get(row.Cells, FieldLineConcept)
		category := idx.Get(row.Cells, FieldLineCategory)
		amount := idx.Get(row.Cells, FieldLineAmount)
		if concept != "" || category != "" || amount != "" {
			doc.Lines = append(doc.Lines, Line{
				Concept:  concept,
				Category: category,
				Amount:   ParseAmount(amount),
			})
		}
	}

	return result, nil
}

// fillHeader sets the header fields from the first row of a document. Later
// rows only contribute lines, even where the first row left a field empty.
func fillHeader(doc *Document, idx ColumnIndex, row []string) {
	doc.Description = idx.Get(row, FieldDescription)
	doc.State = idx.Get(row, FieldState)
	doc.ClaimRef = idx.Get(row, FieldClaimRef)
	doc.Insurer = idx.Get(row, FieldInsurer)
	doc.Phenomenon = idx.Get(row, FieldPhenomenon)
	doc.Fund = idx.Get(row, FieldFund)
	doc.District = idx.Get(row, FieldDistrict)
	doc.Adjuster = idx.Get(row, FieldAdjuster)
	doc.DocumentDate = ParseDate(idx.Get(row, FieldDocumentDate))
	doc.LossDate = ParseDate(idx.Get(row, FieldLossDate))
	doc.DeclaredTotal = ParseAmount(idx.Get(row, FieldDeclaredTotal))
	doc.OversightOverride = ParseAmount(idx.Get(row, FieldOversightAmount))
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// sniffDelimiter picks the delimiter from the first line of the input.
func sniffDelimiter(data []byte) rune {
	first := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		first = data[:i]
	}

	commas := bytes.Count(first, []byte{','})
	best, bestCount := ',', commas
	for _, d := range []rune{';', '\t'} {
		if n := bytes.Count(first, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// DocumentInput is the Document-shaped JSON produced by upstream extractors.
type DocumentInput struct {
	AccountRef      string      `json:"account_ref"`
	CommCode        string      `json:"comm_code"`
	Kind            string      `json:"kind,omitempty"`
	DocumentDate    string      `json:"document_date,omitempty"`
	State           string      `json:"state,omitempty"`
	ClaimRef        string      `json:"claim_ref,omitempty"`
	Insurer         string      `json:"insurer,omitempty"`
	Phenomenon      string      `json:"phenomenon,omitempty"`
	LossDate        string      `json:"loss_date,omitempty"`
	Fund            string      `json:"fund,omitempty"`
	District        string      `json:"district,omitempty"`
	Adjuster        string      `json:"adjuster,omitempty"`
	Description     string      `json:"description,omitempty"`
	DeclaredTotal   FlexNumber  `json:"declared_total,omitempty"`
	OversightAmount FlexNumber  `json:"oversight_amount,omitempty"`
	Lines           []LineInput `json:"lines,omitempty"`
}

// LineInput is one cost line of a DocumentInput.
type LineInput struct {
	Concept  string     `json:"concept,omitempty"`
	Category string     `json:"category,omitempty"`
	Amount   FlexNumber `json:"amount,omitempty"`
}

// FlexNumber accepts an amount written as a JSON number or a JSON string.
type FlexNumber string

func (n *FlexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = FlexNumber(s)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("invalid number %s", data)
	}
	*n = FlexNumber(num.String())
	return nil
}

// DecodeDocuments reads a single document object or an array of them.
func DecodeDocuments(r io.Reader) ([]DocumentInput, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	data = bytes.TrimSpace(cleanText(data))
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	if data[0] == '{' {
		var doc DocumentInput
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid json document: %w", err)
		}
		return []DocumentInput{doc}, nil
	}

	var docs []DocumentInput
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("invalid json documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrEmptyFile
	}
	return docs, nil
}

// ParseJSON parses Document-shaped JSON. Documents are flattened into rows
// under a header of canonical field names, one row per line, and grouped like
// any other tabular input; the rejected extract of a JSON run is therefore a
// canonical CSV.
func (p *Parser) ParseJSON(r io.Reader) (*ParseResult, error) {
	docs, err := DecodeDocuments(r)
	if err != nil {
		return nil, err
	}

	fields := p.schema.Fields()
	records := [][]string{make([]string, len(fields))}
	for i, f := range fields {
		records[0][i] = string(f)
	}

	for _, doc := range docs {
		base := map[Field]string{
			FieldAccountRef:      doc.AccountRef,
			FieldCommCode:        doc.CommCode,
			FieldKind:            doc.Kind,
			FieldDocumentDate:    doc.DocumentDate,
			FieldState:           doc.State,
			FieldClaimRef:        doc.ClaimRef,
			FieldInsurer:         doc.Insurer,
			FieldPhenomenon:      doc.Phenomenon,
			FieldLossDate:        doc.LossDate,
			FieldFund:            doc.Fund,
			FieldDistrict:        doc.District,
			FieldAdjuster:        doc.Adjuster,
			FieldDescription:     doc.Description,
			FieldDeclaredTotal:   string(doc.DeclaredTotal),
			FieldOversightAmount: string(doc.OversightAmount),
		}

		lines := doc.Lines
		if len(lines) == 0 {
			lines = []LineInput{{}}
		}
		for _, line := range lines {
			values := make(map[Field]string, len(base)+3)
			for k, v := range base {
				values[k] = v
			}
			values[FieldLineConcept] = line.Concept
			values[FieldLineCategory] = line.Category
			values[FieldLineAmount] = string(line.Amount)

			record := make([]string, len(fields))
			for i, f := range fields {
				record[i] = strings.TrimSpace(values[f])
			}
			records = append(records, record)
		}
	}

	return p.ParseRecords(records)
}

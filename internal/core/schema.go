package core

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field is a logical input column.
type Field string

const (
	FieldAccountRef      Field = "account_ref"
	FieldCommCode        Field = "comm_code"
	FieldKind            Field = "kind"
	FieldDocumentDate    Field = "document_date"
	FieldState           Field = "state"
	FieldClaimRef        Field = "claim_ref"
	FieldInsurer         Field = "insurer"
	FieldPhenomenon      Field = "phenomenon"
	FieldLossDate        Field = "loss_date"
	FieldFund            Field = "fund"
	FieldDistrict        Field = "district"
	FieldAdjuster        Field = "adjuster"
	FieldDescription     Field = "description"
	FieldDeclaredTotal   Field = "declared_total"
	FieldLineConcept     Field = "line_concept"
	FieldLineCategory    Field = "line_category"
	FieldLineAmount      Field = "line_amount"
	FieldOversightAmount Field = "oversight_amount"
)

// Column maps a logical field to the header spellings accepted for it, in
// priority order.
type Column struct {
	Field    Field
	Aliases  []string
	Required bool
}

// Schema is the column descriptor an input header is resolved against.
type Schema struct {
	columns []Column
}

// DefaultSchema returns the built-in column descriptor.
func DefaultSchema() *Schema {
	return &Schema{columns: []Column{
		{Field: FieldAccountRef, Required: true, Aliases: []string{"account_reference", "account_ref", "account", "reference", "expediente"}},
		{Field: FieldCommCode, Required: true, Aliases: []string{"communication_code", "comm_code", "communication", "code", "comunicacion"}},
		{Field: FieldKind, Aliases: []string{"record_kind", "kind", "type", "tipo"}},
		{Field: FieldDocumentDate, Aliases: []string{"document_date", "date", "fecha"}},
		{Field: FieldState, Aliases: []string{"state", "status", "estado"}},
		{Field: FieldClaimRef, Aliases: []string{"claim_reference", "claim_ref", "claim", "siniestro"}},
		{Field: FieldInsurer, Aliases: []string{"insurer", "insurer_name", "aseguradora", "company"}},
		{Field: FieldPhenomenon, Aliases: []string{"phenomenon", "peril", "fenomeno"}},
		{Field: FieldLossDate, Aliases: []string{"loss_date", "date_of_loss", "fecha_siniestro"}},
		{Field: FieldFund, Aliases: []string{"fund", "fondo"}},
		{Field: FieldDistrict, Aliases: []string{"district", "distrito", "region"}},
		{Field: FieldAdjuster, Aliases: []string{"adjuster", "adjuster_name", "ajustador"}},
		{Field: FieldDescription, Aliases: []string{"description", "desc", "descripcion", "notes"}},
		{Field: FieldDeclaredTotal, Aliases: []string{"declared_total", "total", "amount_total", "importe_total"}},
		{Field: FieldLineConcept, Aliases: []string{"line_concept", "concept", "concepto"}},
		{Field: FieldLineCategory, Aliases: []string{"line_category", "category", "categoria"}},
		{Field: FieldLineAmount, Aliases: []string{"line_amount", "amount", "importe"}},
		{Field: FieldOversightAmount, Aliases: []string{"oversight_amount", "oversight", "supervision"}},
	}}
}

// Columns returns a copy of the schema's columns.
func (s *Schema) Columns() []Column {
	out := make([]Column, len(s.columns))
	for i, c := range s.columns {
		out[i] = Column{Field: c.Field, Required: c.Required, Aliases: append([]string(nil), c.Aliases...)}
	}
	return out
}

// Fields returns the logical fields in schema order.
func (s *Schema) Fields() []Field {
	fields := make([]Field, len(s.columns))
	for i, c := range s.columns {
		fields[i] = c.Field
	}
	return fields
}

// WithAliases returns a copy of the schema with extra spellings appended to
// the given fields. Unknown fields are an error.
func (s *Schema) WithAliases(extra map[Field][]string) (*Schema, error) {
	out := &Schema{columns: s.Columns()}

	var unknown []string
	for field, aliases := range extra {
		found := false
		for i := range out.columns {
			if out.columns[i].Field == field {
				out.columns[i].Aliases = append(out.columns[i].Aliases, aliases...)
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, string(field))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown field(s) in aliases: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

// aliasFile is the YAML layout of an alias override file:
//
//	aliases:
//	  account_ref: [poliza, policy_number]
//	  line_amount: [monto]
type aliasFile struct {
	Aliases map[Field][]string `yaml:"aliases"`
}

// LoadAliasFile reads extra header spellings from a YAML file.
func LoadAliasFile(path string) (map[Field][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias file: %w", err)
	}

	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse alias file %s: %w", path, err)
	}
	return f.Aliases, nil
}

// ColumnIndex maps each resolved field to its position in an input row.
type ColumnIndex map[Field]int

// Has reports whether the field was present in the header.
func (ci ColumnIndex) Has(f Field) bool {
	_, ok := ci[f]
	return ok
}

// Get returns the cleaned cell for the field, or "" when the field is absent
// or the row is short.
func (ci ColumnIndex) Get(row []string, f Field) string {
	i, ok := ci[f]
	if !ok || i >= len(row) {
		return ""
	}
	return CleanCell(row[i])
}

// MissingColumnsError reports mandatory fields absent from the header row.
type MissingColumnsError struct {
	Missing []Field
}

func (e *MissingColumnsError) Error() string {
	names := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		names[i] = string(f)
	}
	return "missing required column(s): " + strings.Join(names, ", ")
}

// Resolve matches a header row against the schema once, producing the column
// index used for every data row. Each header position is claimed by at most
// one field; fields earlier in the schema and aliases earlier in a column's
// list win.
func (s *Schema) Resolve(header []string) (ColumnIndex, error) {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = normalizeHeader(h)
	}

	idx := make(ColumnIndex, len(s.columns))
	claimed := make(map[int]bool, len(header))
	var missing []Field

	for _, col := range s.columns {
		spellings := append([]string{string(col.Field)}, col.Aliases...)
		pos := -1
		for _, alias := range spellings {
			want := normalizeHeader(alias)
			for i, h := range normalized {
				if h == want && !claimed[i] {
					pos = i
					break
				}
			}
			if pos >= 0 {
				break
			}
		}

		if pos < 0 {
			if col.Required {
				missing = append(missing, col.Field)
			}
			continue
		}
		idx[col.Field] = pos
		claimed[pos] = true
	}

	if len(missing) > 0 {
		return nil, &MissingColumnsError{Missing: missing}
	}
	return idx, nil
}

// normalizeHeader folds case and accents and treats underscores, hyphens,
// dots and spaces as the same separator.
func normalizeHeader(h string) string {
	h = strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.':
			return ' '
		}
		return r
	}, CleanCell(h))
	return Fold(h)
}

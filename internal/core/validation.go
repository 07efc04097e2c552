package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/claimsync/internal/store"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/shopspring/decimal"
)

// DefaultTolerance is the largest gap between a declared total and the sum
// of its lines that is left uncorrected.
var DefaultTolerance = decimal.NewFromInt(1)

// maxSuggestions caps the code suggestions in a rejection reason.
const maxSuggestions = 3

// Validator applies the per-document business rules and repairs totals.
type Validator struct {
	catalog   *Catalog
	tolerance decimal.Decimal
}

// NewValidator creates a validator that checks parents against the catalog.
// A negative tolerance uses DefaultTolerance.
func NewValidator(catalog *Catalog, tolerance decimal.Decimal) *Validator {
	if tolerance.IsNegative() {
		tolerance = DefaultTolerance
	}
	return &Validator{catalog: catalog, tolerance: tolerance}
}

// Validate checks every document, rejecting or annotating it in place.
func (v *Validator) Validate(docs []*Document) {
	for _, doc := range docs {
		v.checkDocument(doc)
	}

	// Origins that survived the document checks can parent revisions in
	// this run.
	origins := make(map[string][]string)
	originKeys := make(map[[2]string]bool)
	for _, doc := range docs {
		if doc.Valid() && doc.Kind == KindOrigin {
			acc := Fold(doc.AccountRef)
			origins[acc] = append(origins[acc], doc.CommCode)
			originKeys[[2]string{acc, Fold(doc.CommCode)}] = true
		}
	}

	for _, doc := range docs {
		if !doc.Valid() {
			continue
		}
		switch doc.Kind {
		case KindRevision:
			v.checkParent(doc, origins, originKeys)
		case KindOrigin:
			v.checkOrigin(doc)
		}
	}
}

// checkDocument applies the rules that need nothing but the document itself.
func (v *Validator) checkDocument(doc *Document) {
	switch {
	case doc.AccountRef == "":
		doc.Reject("missing account reference")
		return
	case doc.CommCode == "":
		doc.Reject("missing communication code")
		return
	case doc.Kind == KindUnknown:
		doc.Reject(fmt.Sprintf("unknown record kind %q", doc.RawKind))
		return
	case !doc.DeclaredTotal.IsPositive():
		doc.Reject(fmt.Sprintf("declared total must be positive, got %s", doc.DeclaredTotal.StringFixed(2)))
		return
	}

	// Line detail is trusted over the document total.
	sum := doc.LineSum()
	if sum.IsPositive() {
		diff := doc.DeclaredTotal.Sub(sum).Abs()
		if diff.GreaterThan(v.tolerance) {
			doc.addNote(NoteCorrection, "declared total %s replaced by line sum %s (difference %s)",
				doc.DeclaredTotal.StringFixed(2), sum.StringFixed(2), diff.StringFixed(2))
			doc.DeclaredTotal = sum
		}
	}
}

// checkParent requires a revision's communication to exist in storage or to
// be created by a valid origin in the same run.
func (v *Validator) checkParent(doc *Document, origins map[string][]string, originKeys map[[2]string]bool) {
	acc := Fold(doc.AccountRef)
	if originKeys[[2]string{acc, Fold(doc.CommCode)}] {
		return
	}

	accountID, accountKnown := v.catalog.Find(store.TableAccounts, doc.AccountRef)
	if accountKnown {
		if _, ok := v.catalog.FindCommunication(accountID, doc.CommCode); ok {
			return
		}
	}

	if !accountKnown && len(origins[acc]) == 0 {
		doc.Reject(fmt.Sprintf("no origin found: nothing found for account %q", doc.AccountRef))
		return
	}

	var codes []string
	if accountKnown {
		codes = v.catalog.CommunicationCodes(accountID)
	}
	codes = append(codes, origins[acc]...)

	reason := fmt.Sprintf("no origin found: communication code %q does not exist for account %q",
		doc.CommCode, doc.AccountRef)
	if hint := suggestCodes(doc.CommCode, codes); hint != "" {
		reason += "; " + hint
	}
	doc.Reject(reason)
}

func (v *Validator) checkOrigin(doc *Document) {
	accountID, ok := v.catalog.Find(store.TableAccounts, doc.AccountRef)
	if !ok {
		doc.ExpressCreation = true
		doc.addNote(NoteExpressCreation, "account %q does not exist and will be created", doc.AccountRef)
		return
	}
	if _, ok := v.catalog.FindCommunication(accountID, doc.CommCode); ok {
		doc.addNote(NoteInfo, "communication %q already exists for account %q; a new revision will be added",
			doc.CommCode, doc.AccountRef)
	}
}

// suggestCodes names the existing codes closest to code, or the first few
// existing codes when none is close.
func suggestCodes(code string, codes []string) string {
	codes = uniqueFolded(codes)
	if len(codes) == 0 {
		return ""
	}

	ranks := fuzzy.RankFindNormalizedFold(code, codes)
	sort.Sort(ranks)
	if len(ranks) > 0 {
		out := make([]string, 0, maxSuggestions)
		for _, rank := range ranks {
			if len(out) == maxSuggestions {
				break
			}
			out = append(out, rank.Target)
		}
		return "did you mean " + strings.Join(out, ", ")
	}

	if len(codes) > maxSuggestions {
		codes = codes[:maxSuggestions]
	}
	return "existing codes: " + strings.Join(codes, ", ")
}

func uniqueFolded(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		k := Fold(v)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

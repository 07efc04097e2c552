// Package core provides the batch import reconciliation engine.
//
// This package turns a flat file of cost lines into claim communications and
// their revisions, independent of any transport. It is used by the HTTP
// server, the CLI and the tests without modification.
//
// # Pipeline
//
// A run goes through four stages, all driven by [Service.Import]:
//
//  1. Parse: [Parser] reads CSV, XLSX or a JSON document list, resolves the
//     header through the [Schema] aliases and groups rows into [Document]
//     values keyed by account reference, communication code and kind.
//  2. Validate: [Validator] rejects documents with missing keys, unknown kinds
//     or non-positive totals, replaces a declared total that drifts from its
//     line sum, and checks that every revision has an origin.
//  3. Persist: [Persister] writes the valid documents in six phases against a
//     [Catalog] snapshot, deduplicating catalog entities and patching
//     generated identifiers onto documents that reference rows created in
//     the same run.
//  4. Report: [BuildReport] counts created rows per table and lists rejected
//     documents with a CSV extract of their source rows.
//
// # Concurrency
//
// Only one run executes at a time per [Service]. A second caller waits up to
// the configured wait and then fails with [ErrImportInProgress].
//
// # Error Handling
//
// Structural errors ([MissingColumnsError], [ErrFileTooLarge], parse errors)
// and storage errors ([StorageError]) fail the whole run. Per-document
// problems only reject that document. Technical errors are mapped to coded
// user messages with [MapError]:
//
//   - IMP001-IMP005: Import errors (busy, unknown run, cancelled, timeout)
//   - DB001-DB008: Database errors (constraints, connections, partial writes)
//   - VAL004-VAL008: Validation errors (missing columns, orphan revisions)
//   - FILE001-FILE006: File errors (size, format, empty input)
package core

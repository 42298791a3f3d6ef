// Package pipeline orchestrates a full import run: scanning the input
// directory, classifying sheets, staging rows into SQLite through a
// resource-aware worker pool, deriving the deduplicated ledger partitions,
// and exporting the run reports.
package pipeline

import (
	"github.com/kehuitang/vataudit/internal/classify"
	"github.com/kehuitang/vataudit/internal/schema"
)

// SourceFile is one importable spreadsheet found by the scan.
type SourceFile struct {
	Path      string
	Name      string
	SizeBytes int64
}

// SheetPlan is the staging plan for one classified sheet, fixed during the
// pre-scan so workers and the merge engine agree on column layout.
type SheetPlan struct {
	File  SourceFile
	Sheet string
	Class classify.Classification

	// Columns is the cleaned header row as read from the sheet.
	Columns []string

	// StagedColumns is Columns plus the derived and audit columns, in
	// the exact order workers emit row values.
	StagedColumns []string

	// Table is the staging table this sheet loads into.
	Table string
}

// RowBatch is one chunk of staged rows bound for a staging table. Row
// values are aligned to Columns; the merge engine re-aligns them to the
// table's column superset.
type RowBatch struct {
	Table   string
	File    string
	Sheet   string
	Columns []string
	Rows    [][]string
}

// stagedColumns returns the column order a worker emits for a sheet with
// the given header: the header itself, the derived numeric tax-rate column
// when a tax-rate column is present, the partition year when an invoice
// date is present, and the audit columns.
func stagedColumns(header []string) []string {
	hasTaxRate, hasDate := false, false
	for _, c := range header {
		switch c {
		case schema.ColTaxRate:
			hasTaxRate = true
		case schema.ColInvoiceDate:
			hasDate = true
		}
	}

	out := make([]string, 0, len(header)+4)
	out = append(out, header...)
	if hasTaxRate {
		out = append(out, schema.ColTaxRateValue)
	}
	if hasDate {
		out = append(out, schema.ColInvoiceYear)
	}
	out = append(out, schema.ColSourceFile, schema.ColImportTime)
	return out
}

// targetTable maps a classification to its staging table, or "" for
// sheets that are not staged.
func targetTable(tag string, c classify.Classification) string {
	switch c.Kind {
	case classify.KindDetail:
		return schema.StagingDetailTable(tag)
	case classify.KindHeader:
		return schema.StagingHeaderTable(tag)
	case classify.KindSummary:
		return schema.StagingSummaryTable(tag)
	case classify.KindSpecial:
		return schema.StagingSpecialTable(tag, c.Subtype)
	default:
		return ""
	}
}

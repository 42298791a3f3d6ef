// Package ledger builds the year-partitioned canonical tables and their
// duplicate logs from the staging layer.
//
// Each (category, year) partition moves through a small state machine,
// Pending → Built → Indexed. Building selects one canonical row per
// natural key ("lowest rowid wins", so the first-imported copy survives)
// and moves every other matching row into the duplicate log stamped with
// the capture time. Indexing then creates the lookup indexes audit
// queries rely on.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kehuitang/vataudit/internal/normalize"
	"github.com/kehuitang/vataudit/internal/report"
	"github.com/kehuitang/vataudit/internal/schema"
	"github.com/kehuitang/vataudit/internal/store"
)

// State is the build state of one partition.
type State int

const (
	StatePending State = iota
	StateBuilt
	StateIndexed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateIndexed:
		return "indexed"
	default:
		return "pending"
	}
}

// Partition is the build result for one (category, year).
type Partition struct {
	Category    string
	Year        string
	State       State
	Table       string
	DupTable    string
	RowsBefore  int
	RowsAfter   int
	RowsDropped int
	Columns     []string
}

// Builder derives ledger partitions from the staging tables.
type Builder struct {
	store *store.Store
	tag   string
	log   *slog.Logger
}

// NewBuilder returns a Builder for the given business tag.
func NewBuilder(s *store.Store, tag string, log *slog.Logger) *Builder {
	return &Builder{store: s, tag: tag, log: log}
}

// category bundles the per-category parameters.
type category struct {
	name       string
	staging    string
	dedupCols  []string
	neededCols []string
}

// Build creates all partitions for both categories. captureTime stamps
// duplicate-log rows. Partition-level failures become ErrorRecords and do
// not stop other partitions.
func (b *Builder) Build(ctx context.Context, captureTime string, errs *report.Errors) ([]Partition, error) {
	categories := []category{
		{
			name:       schema.CategoryDetail,
			staging:    schema.StagingDetailTable(b.tag),
			dedupCols:  schema.DetailDedupCols,
			neededCols: schema.DetailColsNeeded,
		},
		{
			name:       schema.CategoryHeader,
			staging:    schema.StagingHeaderTable(b.tag),
			dedupCols:  schema.HeaderDedupCols,
			neededCols: schema.HeaderColsNeeded,
		},
	}

	var partitions []Partition
	for _, cat := range categories {
		parts, err := b.buildCategory(ctx, cat, captureTime, errs)
		if err != nil {
			return partitions, err
		}
		partitions = append(partitions, parts...)
	}
	return partitions, nil
}

func (b *Builder) buildCategory(ctx context.Context, cat category, captureTime string, errs *report.Errors) ([]Partition, error) {
	exists, err := b.store.TableExists(ctx, cat.staging)
	if err != nil {
		return nil, err
	}
	if !exists {
		b.log.Info("no staging table for category, skipping", "category", cat.name)
		return nil, nil
	}

	stagingCols, err := b.store.TableColumns(ctx, cat.staging)
	if err != nil {
		return nil, err
	}

	rawYears, err := b.store.DistinctValues(ctx, cat.staging, schema.ColInvoiceYear)
	if err != nil {
		return nil, err
	}

	// Upstream numeric coercion leaves mixed year formats ("2023" and
	// "2023.0") in the same staging table; group raw values by their
	// normalized year so each partition is built exactly once.
	years := make(map[string][]string)
	var order []string
	for _, raw := range rawYears {
		year, ok := normalize.Year(raw)
		if !ok {
			n, countErr := b.countYearRows(ctx, cat.staging, raw)
			if countErr != nil {
				n = 0
			}
			errs.Add(report.ErrorRecord{
				File:     cat.staging,
				Stage:    "ledger",
				Category: report.CategoryYearNormalization,
				Message:  fmt.Sprintf("%d row(s) excluded: year value %q is not a 4-digit year", n, raw),
			})
			continue
		}
		if _, seen := years[year]; !seen {
			order = append(order, year)
		}
		years[year] = append(years[year], raw)
	}

	var partitions []Partition
	for _, year := range order {
		p, err := b.buildPartition(ctx, cat, year, years[year], stagingCols, captureTime)
		if err != nil {
			errs.Add(report.ErrorRecord{
				File:     cat.staging,
				Stage:    "ledger",
				Category: report.CategoryMergeTransaction,
				Message:  fmt.Sprintf("partition %s/%s: %v", cat.name, year, err),
			})
			continue
		}
		partitions = append(partitions, p)
	}
	return partitions, nil
}

func (b *Builder) countYearRows(ctx context.Context, staging, rawYear string) (int, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?",
		store.QuoteIdent(staging), store.QuoteIdent(schema.ColInvoiceYear))
	err := b.store.QueryRow(ctx, query, rawYear).Scan(&n)
	return n, err
}

// buildPartition runs the Pending → Built → Indexed transitions for one
// (category, year).
func (b *Builder) buildPartition(ctx context.Context, cat category, year string, rawYears []string, stagingCols []string, captureTime string) (Partition, error) {
	p := Partition{
		Category: cat.name,
		Year:     year,
		State:    StatePending,
		Table:    schema.LedgerTable(b.tag, cat.name, year),
		DupTable: schema.DuplicateLogTable(b.tag, cat.name, year),
	}

	keyCols := intersect(cat.dedupCols, stagingCols)
	if len(keyCols) == 0 {
		// No natural-key column survived into staging; every column
		// becomes part of the key, matching whole-row duplicate
		// detection.
		keyCols = stagingCols
	}
	p.Columns = intersect(cat.neededCols, stagingCols)
	if len(p.Columns) == 0 {
		p.Columns = stagingCols
	}

	yearFilter, yearArgs := inClause(schema.ColInvoiceYear, rawYears)

	var err error
	p.RowsBefore, err = b.countWhere(ctx, cat.staging, yearFilter, yearArgs)
	if err != nil {
		return p, err
	}

	// Pending → Built
	if err := b.store.RecreateTable(ctx, p.Table, p.Columns); err != nil {
		return p, err
	}
	dupCols := append(append([]string{}, stagingCols...), schema.ColCaptureTime)
	if err := b.store.RecreateTable(ctx, p.DupTable, dupCols); err != nil {
		return p, err
	}

	canonicalRowIDs := fmt.Sprintf(
		"SELECT MIN(rowid) FROM %s WHERE %s GROUP BY %s",
		store.QuoteIdent(cat.staging), yearFilter, joinQuoted(keyCols))

	insertCanonical := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s WHERE %s AND rowid IN (%s)",
		store.QuoteIdent(p.Table), joinQuoted(p.Columns),
		joinQuoted(p.Columns), store.QuoteIdent(cat.staging), yearFilter, canonicalRowIDs)
	if err := b.store.Exec(ctx, insertCanonical, append(yearArgs, yearArgs...)...); err != nil {
		return p, fmt.Errorf("build canonical: %w", err)
	}

	insertDup := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s, ? FROM %s WHERE %s AND rowid NOT IN (%s)",
		store.QuoteIdent(p.DupTable), joinQuoted(dupCols),
		joinQuoted(stagingCols), store.QuoteIdent(cat.staging), yearFilter, canonicalRowIDs)
	dupArgs := append([]any{captureTime}, append(yearArgs, yearArgs...)...)
	if err := b.store.Exec(ctx, insertDup, dupArgs...); err != nil {
		return p, fmt.Errorf("build duplicate log: %w", err)
	}
	p.State = StateBuilt

	p.RowsAfter, err = b.store.CountRows(ctx, p.Table)
	if err != nil {
		return p, err
	}
	p.RowsDropped = p.RowsBefore - p.RowsAfter

	// Built → Indexed
	if err := b.index(ctx, p); err != nil {
		return p, err
	}
	p.State = StateIndexed

	b.log.Info("ledger partition built",
		"category", cat.name, "year", year,
		"rows_before", p.RowsBefore, "rows_after", p.RowsAfter, "rows_dropped", p.RowsDropped)
	return p, nil
}

func (b *Builder) countWhere(ctx context.Context, table, where string, args []any) (int, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", store.QuoteIdent(table), where)
	err := b.store.QueryRow(ctx, query, args...).Scan(&n)
	return n, err
}

// index creates the natural-key and issue-date lookup indexes on a
// canonical partition, skipping key columns the partition does not carry.
func (b *Builder) index(ctx context.Context, p Partition) error {
	present := make(map[string]bool, len(p.Columns))
	for _, c := range p.Columns {
		present[c] = true
	}
	base := strings.ToLower(p.Table)

	if present[schema.ColInvoiceCode] && present[schema.ColInvoiceNumber] {
		name := fmt.Sprintf("idx_%s_code_no", base)
		if err := b.store.CreateIndex(ctx, name, p.Table, []string{schema.ColInvoiceCode, schema.ColInvoiceNumber}); err != nil {
			return err
		}
	}
	if present[schema.ColETicketNumber] {
		name := fmt.Sprintf("idx_%s_eticket", base)
		if err := b.store.CreateIndex(ctx, name, p.Table, []string{schema.ColETicketNumber}); err != nil {
			return err
		}
	}
	if present[schema.ColInvoiceDate] {
		name := fmt.Sprintf("idx_%s_date", base)
		if err := b.store.CreateIndex(ctx, name, p.Table, []string{schema.ColInvoiceDate}); err != nil {
			return err
		}
	}
	return nil
}

func intersect(wanted, available []string) []string {
	present := make(map[string]bool, len(available))
	for _, c := range available {
		present[c] = true
	}
	var out []string
	for _, c := range wanted {
		if present[c] {
			out = append(out, c)
		}
	}
	return out
}

func inClause(column string, values []string) (string, []any) {
	args := make([]any, len(values))
	marks := make([]string, len(values))
	for i, v := range values {
		args[i] = v
		marks[i] = "?"
	}
	return fmt.Sprintf("%s IN (%s)", store.QuoteIdent(column), strings.Join(marks, ",")), args
}

func joinQuoted(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = store.QuoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

package pipeline

import (
	"context"
	"log/slog"

	"github.com/kehuitang/vataudit/internal/classify"
	"github.com/kehuitang/vataudit/internal/report"
	"github.com/kehuitang/vataudit/internal/schema"
	"github.com/kehuitang/vataudit/internal/store"
)

// Merger is the single writer of the staging layer. It recreates each
// staging table with the column superset fixed by the pre-scan, then
// consumes row batches and aligns them to that superset.
type Merger struct {
	store *store.Store
	log   *slog.Logger

	// supersets holds each staging table's column order, first-seen
	// across the run's sheets.
	supersets map[string][]string
	counts    map[string]int
}

// NewMerger returns a Merger writing through the given store.
func NewMerger(s *store.Store, log *slog.Logger) *Merger {
	return &Merger{
		store:     s,
		log:       log,
		supersets: make(map[string][]string),
		counts:    make(map[string]int),
	}
}

// Prepare computes the column superset of every staging table named by the
// plans and recreates those tables. Must run before any batch arrives.
func (m *Merger) Prepare(ctx context.Context, plans []SheetPlan) error {
	seen := make(map[string]map[string]bool)
	kinds := make(map[string]classify.Kind)
	var order []string

	for _, p := range plans {
		cols, ok := seen[p.Table]
		if !ok {
			cols = make(map[string]bool)
			seen[p.Table] = cols
			kinds[p.Table] = p.Class.Kind
			order = append(order, p.Table)
		}
		for _, c := range p.StagedColumns {
			if !cols[c] {
				cols[c] = true
				m.supersets[p.Table] = append(m.supersets[p.Table], c)
			}
		}
	}

	// Header sheets vary in layout between bureau exports; the header
	// staging table keeps the standard column order so audit queries
	// read the same shape every run.
	for table, kind := range kinds {
		if kind == classify.KindHeader {
			m.supersets[table] = orderByStandard(schema.HeaderColsNeeded, m.supersets[table])
		}
	}

	for _, table := range order {
		if err := m.store.RecreateTable(ctx, table, m.supersets[table]); err != nil {
			return err
		}
		m.log.Info("staging table ready", "table", table, "columns", len(m.supersets[table]))
	}
	return nil
}

// Consume drains the batch channel until it closes. A failed batch write
// is recorded and does not stop later batches.
func (m *Merger) Consume(ctx context.Context, in <-chan RowBatch, errs *report.Errors) {
	for b := range in {
		m.write(ctx, b, errs)
	}
}

// DrainSpills loads every spilled batch into the staging layer.
func (m *Merger) DrainSpills(ctx context.Context, spiller *Spiller, errs *report.Errors) error {
	return spiller.Drain(func(b RowBatch) error {
		m.write(ctx, b, errs)
		return ctx.Err()
	})
}

// RowCounts returns rows written per staging table.
func (m *Merger) RowCounts() map[string]int {
	out := make(map[string]int, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}

// write aligns one batch to its table superset and inserts it in a single
// transaction.
func (m *Merger) write(ctx context.Context, b RowBatch, errs *report.Errors) {
	superset, ok := m.supersets[b.Table]
	if !ok {
		errs.Add(report.ErrorRecord{
			File: b.File, Sheet: b.Sheet, Stage: "merge",
			Category: report.CategoryMergeTransaction,
			Message:  "batch targets unknown staging table " + b.Table,
		})
		return
	}

	rows := m.align(superset, b)
	if err := m.store.InsertBatch(ctx, b.Table, superset, rows); err != nil {
		errs.Add(report.ErrorRecord{
			File: b.File, Sheet: b.Sheet, Stage: "merge",
			Category: report.CategoryMergeTransaction,
			Message:  err.Error(),
		})
		return
	}
	m.counts[b.Table] += len(rows)
}

// orderByStandard puts the standard columns present in the superset first,
// in standard order, followed by the rest in their first-seen order.
func orderByStandard(standard, superset []string) []string {
	present := make(map[string]bool, len(superset))
	for _, c := range superset {
		present[c] = true
	}

	out := make([]string, 0, len(superset))
	placed := make(map[string]bool, len(superset))
	for _, c := range standard {
		if present[c] {
			out = append(out, c)
			placed[c] = true
		}
	}
	for _, c := range superset {
		if !placed[c] {
			out = append(out, c)
		}
	}
	return out
}

// align reorders batch values into superset order. Columns the batch does
// not carry become NULL, so sheets with differing layouts coexist in one
// table.
func (m *Merger) align(superset []string, b RowBatch) [][]any {
	idx := make(map[string]int, len(b.Columns))
	for i, c := range b.Columns {
		idx[c] = i
	}

	out := make([][]any, len(b.Rows))
	for ri, row := range b.Rows {
		vals := make([]any, len(superset))
		for ci, col := range superset {
			j, ok := idx[col]
			if !ok || j >= len(row) {
				continue
			}
			vals[ci] = row[j]
		}
		out[ri] = vals
	}
	return out
}

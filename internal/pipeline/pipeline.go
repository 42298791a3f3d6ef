package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kehuitang/vataudit/internal/config"
	"github.com/kehuitang/vataudit/internal/ledger"
	"github.com/kehuitang/vataudit/internal/normalize"
	"github.com/kehuitang/vataudit/internal/report"
	"github.com/kehuitang/vataudit/internal/resource"
	"github.com/kehuitang/vataudit/internal/schema"
	"github.com/kehuitang/vataudit/internal/store"
)

// Duplicate-log workbook names, fixed by the audit operators' workflow.
const (
	detailDupWorkbook = "发票明细台账重复导入的数据清单"
	headerDupWorkbook = "发票信息台账重复导入的数据清单"
)

// Pipeline runs a full import: scan, stage, dedup, report.
type Pipeline struct {
	cfg     *config.Config
	store   *store.Store
	monitor *resource.Monitor
	log     *slog.Logger
}

// New assembles a Pipeline from its dependencies.
func New(cfg *config.Config, s *store.Store, monitor *resource.Monitor, log *slog.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, store: s, monitor: monitor, log: log}
}

// Result is the outcome of one run.
type Result struct {
	Summary    report.ImportSummary
	Partitions []ledger.Partition
	Errors     []report.ErrorRecord
}

// Run executes the whole import. Data-level failures (unreadable files,
// bad values, failed batches) are collected and exported; Run returns an
// error only for faults that invalidate the run as a whole.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	errs := &report.Errors{}
	rec := normalize.NewRecorder(p.cfg.Pipeline.MaxFailureSamples)

	CleanStaleSpills(p.cfg.TempDir(), p.cfg.Pipeline.TempRetention, p.log)

	scan, err := Scan(p.cfg.Pipeline.InputDir, p.cfg.Pipeline.BusinessTag,
		p.cfg.Pipeline.MaxFileMB<<20, errs, p.log)
	if err != nil {
		return nil, err
	}

	merger := NewMerger(p.store, p.log)
	stats := stageStats{SheetRows: make(map[string]int)}

	if len(scan.Sheets) > 0 {
		if err := merger.Prepare(ctx, scan.Sheets); err != nil {
			return nil, err
		}

		spiller, err := NewSpiller(p.cfg.TempDir(), start)
		if err != nil {
			return nil, err
		}

		workers := p.monitor.SafeWorkerCount(scan.TotalBytes, p.cfg.Pipeline.WorkerCount)
		if workers > len(scan.Files) {
			workers = len(scan.Files)
		}
		p.log.Info("staging pass starting",
			"files", len(scan.Files), "sheets", len(scan.Sheets), "workers", workers)

		stopSampling := p.sampleDuring(ctx)

		batches := make(chan RowBatch, p.cfg.Channel.Capacity)
		consumed := make(chan struct{})
		go func() {
			defer close(consumed)
			merger.Consume(ctx, batches, errs)
		}()

		importTime := start.Format("2006-01-02 15:04:05")
		st := newStager(p.cfg, p.monitor, spiller, batches, errs, rec, p.log)
		stats, err = st.run(ctx, scan.Files, scan.Sheets, workers, importTime)
		close(batches)
		<-consumed
		stopSampling()
		if err != nil {
			return nil, err
		}

		if err := merger.DrainSpills(ctx, spiller, errs); err != nil {
			return nil, err
		}
		if err := spiller.RemoveAll(); err != nil {
			p.log.Warn("failed to remove spill dir", "error", err)
		}
	} else {
		p.log.Warn("no importable sheets found", "dir", p.cfg.Pipeline.InputDir)
	}

	captureTime := start.Format("2006-01-02 15:04:05")
	builder := ledger.NewBuilder(p.store, p.cfg.Pipeline.BusinessTag, p.log)
	partitions, err := builder.Build(ctx, captureTime, errs)
	if err != nil {
		return nil, err
	}

	summary := report.ImportSummary{
		FilesScanned:  scan.FilesScanned,
		FilesImported: stats.FilesImported,
		FilesSkipped:  scan.FilesSkipped,
		ScanFailures:  scan.ScanFailures,
		ReadFailures:  stats.ReadFailures,
		RowsStaged:    stats.RowsStaged,
		RowsSpilled:   stats.RowsSpilled,
		ErrorCount:    errs.Len(),
		StartedAt:     start,
		FinishedAt:    time.Now(),
	}

	p.export(ctx, start, scan, stats, summary, partitions, rec, errs)

	p.log.Info("run complete",
		"files_imported", summary.FilesImported,
		"rows_staged", summary.RowsStaged+summary.RowsSpilled,
		"partitions", len(partitions),
		"errors", errs.Len(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	return &Result{
		Summary:    summary,
		Partitions: partitions,
		Errors:     errs.Records(),
	}, nil
}

// sampleDuring samples process memory once a second until the returned
// stop function is called.
func (p *Pipeline) sampleDuring(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.monitor.SampleProcess()
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(done) }
}

// export writes every run report. Exports are independent; a failed
// writer is logged and the rest still run.
func (p *Pipeline) export(ctx context.Context, start time.Time, scan *ScanResult, stats stageStats, summary report.ImportSummary, partitions []ledger.Partition, rec *normalize.Recorder, errs *report.Errors) {
	exporter, err := report.NewExporter(p.cfg.Pipeline.OutputDir, start, p.log)
	if err != nil {
		p.log.Error("cannot create output directory, skipping exports", "error", err)
		return
	}

	manifest := scan.Manifest
	for i := range manifest {
		manifest[i].Rows = stats.SheetRows[sheetKey(manifest[i].File, manifest[i].Sheet)]
	}
	if _, err := exporter.WriteManifest(manifest); err != nil {
		p.log.Error("manifest export failed", "error", err)
	}

	if _, _, err := exporter.WriteCastStats(rec.Stats, rec.Samples); err != nil {
		p.log.Error("cast stats export failed", "error", err)
	}

	ledgerRows := make([]report.LedgerRow, 0, len(partitions))
	for _, part := range partitions {
		ledgerRows = append(ledgerRows, report.LedgerRow{
			Category:    part.Category,
			Year:        part.Year,
			RowsBefore:  part.RowsBefore,
			RowsAfter:   part.RowsAfter,
			RowsDropped: part.RowsDropped,
			Columns:     fmt.Sprintf("%d", len(part.Columns)),
		})
	}
	if _, err := exporter.WriteLedgerManifest(ledgerRows); err != nil {
		p.log.Error("ledger manifest export failed", "error", err)
	}

	p.exportDuplicates(ctx, exporter, partitions)

	if _, _, err := exporter.WriteErrors(errs.Records()); err != nil {
		p.log.Error("error log export failed", "error", err)
	}

	if _, err := exporter.WriteImportSummary(summary); err != nil {
		p.log.Error("import summary export failed", "error", err)
	}

	if _, err := exporter.WriteResourceReport(p.monitor.Summary()); err != nil {
		p.log.Error("resource report export failed", "error", err)
	}
}

// exportDuplicates writes one workbook per category listing every row the
// dedup pass dropped, across all years.
func (p *Pipeline) exportDuplicates(ctx context.Context, exporter *report.Exporter, partitions []ledger.Partition) {
	names := map[string]string{
		schema.CategoryDetail: detailDupWorkbook,
		schema.CategoryHeader: headerDupWorkbook,
	}

	for _, cat := range []string{schema.CategoryDetail, schema.CategoryHeader} {
		var columns []string
		colSeen := make(map[string]bool)
		var tables []string

		for _, part := range partitions {
			if part.Category != cat || part.RowsDropped == 0 {
				continue
			}
			tables = append(tables, part.DupTable)
			cols, err := p.store.TableColumns(ctx, part.DupTable)
			if err != nil {
				p.log.Error("duplicate table read failed", "table", part.DupTable, "error", err)
				continue
			}
			for _, c := range cols {
				if !colSeen[c] {
					colSeen[c] = true
					columns = append(columns, c)
				}
			}
		}
		if len(tables) == 0 {
			continue
		}

		var rows [][]string
		for _, table := range tables {
			tableRows, err := p.readAligned(ctx, table, columns)
			if err != nil {
				p.log.Error("duplicate table read failed", "table", table, "error", err)
				continue
			}
			rows = append(rows, tableRows...)
		}

		if _, err := exporter.WriteDuplicateWorkbook(names[cat], columns, rows); err != nil {
			p.log.Error("duplicate workbook export failed", "category", cat, "error", err)
		}
	}
}

// readAligned reads a whole table with its values ordered by the given
// column list; columns the table lacks come back empty.
func (p *Pipeline) readAligned(ctx context.Context, table string, columns []string) ([][]string, error) {
	rows, err := p.store.Query(ctx, "SELECT * FROM "+store.QuoteIdent(table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	actual, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	idx := make(map[string]int, len(actual))
	for i, c := range actual {
		idx[c] = i
	}

	var out [][]string
	for rows.Next() {
		vals := make([]sql.NullString, len(actual))
		ptrs := make([]any, len(actual))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]string, len(columns))
		for i, c := range columns {
			if j, ok := idx[c]; ok && vals[j].Valid {
				row[i] = vals[j].String
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

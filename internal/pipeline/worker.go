package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kehuitang/vataudit/internal/config"
	"github.com/kehuitang/vataudit/internal/excel"
	"github.com/kehuitang/vataudit/internal/normalize"
	"github.com/kehuitang/vataudit/internal/report"
	"github.com/kehuitang/vataudit/internal/resource"
	"github.com/kehuitang/vataudit/internal/schema"
)

// stageStats aggregates the staging pass outcome across workers.
type stageStats struct {
	FilesImported int
	ReadFailures  int
	RowsStaged    int
	RowsSpilled   int

	// SheetRows counts staged rows per (file, sheet) for the manifest.
	SheetRows map[string]int
}

func sheetKey(file, sheet string) string {
	return file + "\x00" + sheet
}

// stager runs the parallel staging pass: workers read classified sheets,
// normalize their rows, and hand batches to the merge engine through a
// bounded channel, spilling to disk when the channel stays full.
type stager struct {
	cfg     *config.Config
	monitor *resource.Monitor
	spiller *Spiller
	out     chan<- RowBatch
	errs    *report.Errors
	rec     *normalize.Recorder
	log     *slog.Logger

	mu    sync.Mutex
	stats stageStats
}

func newStager(cfg *config.Config, monitor *resource.Monitor, spiller *Spiller, out chan<- RowBatch, errs *report.Errors, rec *normalize.Recorder, log *slog.Logger) *stager {
	return &stager{
		cfg:     cfg,
		monitor: monitor,
		spiller: spiller,
		out:     out,
		errs:    errs,
		rec:     rec,
		log:     log,
		stats:   stageStats{SheetRows: make(map[string]int)},
	}
}

// run stages every planned sheet using at most workers concurrent files.
// Per-file failures become ErrorRecords; run fails only on cancellation.
func (st *stager) run(ctx context.Context, files []SourceFile, plans []SheetPlan, workers int, importTime string) (stageStats, error) {
	byFile := make(map[string][]SheetPlan)
	for _, p := range plans {
		byFile[p.File.Path] = append(byFile[p.File.Path], p)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, file := range files {
		file := file
		filePlans := byFile[file.Path]
		if len(filePlans) == 0 {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			st.stageFile(ctx, file, filePlans, importTime)
			return ctx.Err()
		})
	}

	err := g.Wait()
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.stats, err
}

func (st *stager) stageFile(ctx context.Context, file SourceFile, plans []SheetPlan, importTime string) {
	wb, err := excel.Open(file.Path)
	if err != nil {
		st.errs.Add(report.ErrorRecord{
			File: file.Name, Stage: "stage", Category: report.CategoryFileAccess,
			Message: err.Error(),
		})
		st.mu.Lock()
		st.stats.ReadFailures++
		st.mu.Unlock()
		return
	}
	defer wb.Close()

	imported := false
	for _, plan := range plans {
		if ctx.Err() != nil {
			return
		}
		if err := st.stageSheet(ctx, wb, plan, importTime); err != nil {
			st.errs.Add(report.ErrorRecord{
				File: file.Name, Sheet: plan.Sheet, Stage: "stage",
				Category: report.CategorySheetRead, Message: err.Error(),
			})
			st.mu.Lock()
			st.stats.ReadFailures++
			st.mu.Unlock()
			continue
		}
		imported = true
	}

	st.mu.Lock()
	if imported {
		st.stats.FilesImported++
	}
	st.mu.Unlock()
}

// stageSheet reads one sheet in streaming or full-load mode and emits its
// rows. A failed full load falls back to one streaming retry when the
// format supports it, since the usual cause is memory pressure.
func (st *stager) stageSheet(ctx context.Context, wb excel.Workbook, plan SheetPlan, importTime string) error {
	rec := normalize.NewRecorder(st.cfg.Pipeline.MaxFailureSamples)
	defer func() {
		st.mu.Lock()
		st.rec.Merge(rec)
		st.mu.Unlock()
	}()

	if st.monitor.ShouldStream(plan.File.SizeBytes) && wb.CanStream() {
		chunk := st.monitor.StreamChunkRows(st.cfg.Pipeline.StreamChunkSize)
		st.log.Debug("streaming sheet",
			"file", plan.File.Name, "sheet", plan.Sheet, "chunk_rows", chunk)
		return wb.StreamRows(plan.Sheet, chunk, func(rows [][]string, startRow int) error {
			return st.emitChunk(ctx, plan, rows, startRow, importTime, rec)
		})
	}

	rows, err := wb.Rows(plan.Sheet)
	if err != nil {
		if !wb.CanStream() {
			return err
		}
		st.errs.Add(report.ErrorRecord{
			File: plan.File.Name, Sheet: plan.Sheet, Stage: "stage",
			Category: report.CategoryResourceExhaustion,
			Message:  fmt.Sprintf("full load failed, retrying in streaming mode: %v", err),
		})
		chunk := st.monitor.StreamChunkRows(st.cfg.Pipeline.StreamChunkSize)
		return wb.StreamRows(plan.Sheet, chunk, func(rows [][]string, startRow int) error {
			return st.emitChunk(ctx, plan, rows, startRow, importTime, rec)
		})
	}
	if len(rows) <= 1 {
		return nil
	}

	data := rows[1:]
	for off := 0; off < len(data); off += st.cfg.Pipeline.BatchSize {
		end := min(off+st.cfg.Pipeline.BatchSize, len(data))
		// +2: sheet rows are 1-based and row 1 is the header
		if err := st.emitChunk(ctx, plan, data[off:end], off+2, importTime, rec); err != nil {
			return err
		}
	}
	return nil
}

// emitChunk normalizes one chunk of raw rows into staged form and hands it
// to the merge engine.
func (st *stager) emitChunk(ctx context.Context, plan SheetPlan, rows [][]string, startRow int, importTime string, rec *normalize.Recorder) error {
	if len(rows) == 0 {
		return nil
	}

	// Fix every row to the header width before coercion so the derived
	// and audit columns land at their planned positions.
	for i, row := range rows {
		fixed := make([]string, len(plan.Columns))
		for j := range fixed {
			if j < len(row) {
				fixed[j] = normalize.CleanCell(row[j])
			}
		}
		rows[i] = fixed
	}

	cols := normalize.CastRows(plan.File.Name, plan.Sheet,
		append([]string(nil), plan.Columns...), rows, startRow,
		st.cfg.Pipeline.TaxTextToZero, rec)

	dateIdx := -1
	for i, c := range cols {
		if c == schema.ColInvoiceDate {
			dateIdx = i
			break
		}
	}
	for i := range rows {
		if dateIdx >= 0 {
			year, _ := normalize.YearFromDate(rows[i][dateIdx])
			rows[i] = append(rows[i], year)
		}
		rows[i] = append(rows[i], plan.File.Name, importTime)
	}

	batch := RowBatch{
		Table:   plan.Table,
		File:    plan.File.Name,
		Sheet:   plan.Sheet,
		Columns: plan.StagedColumns,
		Rows:    rows,
	}

	spilled, err := st.emit(ctx, batch)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.stats.SheetRows[sheetKey(plan.File.Name, plan.Sheet)] += len(rows)
	if spilled {
		st.stats.RowsSpilled += len(rows)
	} else {
		st.stats.RowsStaged += len(rows)
	}
	st.mu.Unlock()
	return nil
}

// emit hands a batch to the merge channel, spilling to disk when the
// channel is disabled or stays full past the spill timeout. Reports
// whether the batch was spilled.
func (st *stager) emit(ctx context.Context, b RowBatch) (bool, error) {
	if !st.cfg.Channel.Enabled {
		return true, st.spiller.Write(b)
	}

	timer := time.NewTimer(st.cfg.Channel.SpillTimeout)
	defer timer.Stop()

	select {
	case st.out <- b:
		return false, nil
	case <-timer.C:
		st.log.Debug("merge channel full, spilling batch",
			"table", b.Table, "file", b.File, "sheet", b.Sheet, "rows", len(b.Rows))
		return true, st.spiller.Write(b)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

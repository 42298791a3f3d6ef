package report

// export.go writes the run's manifests, summaries, and error logs into the
// output directory. All exports are best-effort independent of each other:
// one failed writer never suppresses the rest.

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kehuitang/vataudit/internal/normalize"
	"github.com/kehuitang/vataudit/internal/schema"
)

// ManifestEntry records the classification outcome of one sheet.
type ManifestEntry struct {
	File           string
	Sheet          string
	Classification string
	Columns        []string
	TargetTable    string
	Rows           int
}

// ImportSummary aggregates per-run file counts.
type ImportSummary struct {
	FilesScanned   int
	FilesImported  int
	FilesSkipped   int
	ScanFailures   int
	ReadFailures   int
	RowsStaged     int
	RowsSpilled    int
	ErrorCount     int
	StartedAt      time.Time
	FinishedAt     time.Time
}

// LedgerRow records the dedup outcome for one (category, year) partition.
type LedgerRow struct {
	Category    string
	Year        string
	RowsBefore  int
	RowsAfter   int
	RowsDropped int
	Columns     string
}

// Exporter writes run reports into one output directory, with every file
// name carrying the run timestamp.
type Exporter struct {
	outputDir string
	stamp     string
	log       *slog.Logger
}

// NewExporter returns an Exporter for the given output directory and run
// time. The directory is created if missing.
func NewExporter(outputDir string, runTime time.Time, log *slog.Logger) (*Exporter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Exporter{
		outputDir: outputDir,
		stamp:     runTime.Format("20060102_150405"),
		log:       log,
	}, nil
}

func (e *Exporter) path(prefix, ext string) string {
	return filepath.Join(e.outputDir, fmt.Sprintf("%s_%s.%s", prefix, e.stamp, ext))
}

// writeCSV writes rows with a UTF-8 BOM so the files open cleanly in
// Excel, which is how the audit operators read them.
func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	w.Flush()
	return w.Error()
}

// WriteManifest exports the per-sheet classification manifest.
func (e *Exporter) WriteManifest(entries []ManifestEntry) (string, error) {
	rows := make([][]string, 0, len(entries))
	for _, m := range entries {
		rows = append(rows, []string{
			m.File, m.Sheet, m.Classification,
			joinColumns(m.Columns), m.TargetTable, strconv.Itoa(m.Rows),
		})
	}
	path := e.path(schema.ManifestPrefix, "csv")
	err := writeCSV(path, []string{"file", "sheet", "classification", "columns", "target_table", "rows"}, rows)
	return path, err
}

// WriteCastStats exports the type-coercion statistics and the bounded
// failure samples.
func (e *Exporter) WriteCastStats(stats []normalize.CastStat, samples []normalize.FailureSample) (string, string, error) {
	statRows := make([][]string, 0, len(stats))
	for _, s := range stats {
		statRows = append(statRows, []string{
			s.File, s.Sheet, s.Column, s.Method,
			strconv.Itoa(s.Total), strconv.Itoa(s.Converted), strconv.Itoa(s.Failed),
		})
	}
	statsPath := e.path(schema.CastStatsPrefix, "csv")
	if err := writeCSV(statsPath,
		[]string{"file", "sheet", "column", "method", "total", "converted", "failed"},
		statRows); err != nil {
		return "", "", err
	}

	sampleRows := make([][]string, 0, len(samples))
	for _, s := range samples {
		sampleRows = append(sampleRows, []string{
			s.File, s.Sheet, s.Column, strconv.Itoa(s.RowIndex),
			s.OrigValue, s.InvoiceCode, s.InvoiceNumber,
		})
	}
	samplesPath := e.path(schema.CastFailuresPrefix, "csv")
	err := writeCSV(samplesPath,
		[]string{"file", "sheet", "column", "row_index", "orig_value", schema.ColInvoiceCode, schema.ColInvoiceNumber},
		sampleRows)
	return statsPath, samplesPath, err
}

// WriteImportSummary exports the aggregate run counts.
func (e *Exporter) WriteImportSummary(s ImportSummary) (string, error) {
	rows := [][]string{
		{"files_scanned", strconv.Itoa(s.FilesScanned)},
		{"files_imported", strconv.Itoa(s.FilesImported)},
		{"files_skipped", strconv.Itoa(s.FilesSkipped)},
		{"scan_failures", strconv.Itoa(s.ScanFailures)},
		{"read_failures", strconv.Itoa(s.ReadFailures)},
		{"rows_staged", strconv.Itoa(s.RowsStaged)},
		{"rows_spilled", strconv.Itoa(s.RowsSpilled)},
		{"errors", strconv.Itoa(s.ErrorCount)},
		{"started_at", s.StartedAt.Format(time.RFC3339)},
		{"finished_at", s.FinishedAt.Format(time.RFC3339)},
	}
	path := e.path(schema.ImportSummaryPrefix, "csv")
	err := writeCSV(path, []string{"metric", "value"}, rows)
	return path, err
}

// WriteLedgerManifest exports the per-partition dedup counts.
func (e *Exporter) WriteLedgerManifest(rows []LedgerRow) (string, error) {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			r.Category, r.Year,
			strconv.Itoa(r.RowsBefore), strconv.Itoa(r.RowsAfter), strconv.Itoa(r.RowsDropped),
			r.Columns,
		})
	}
	path := e.path(schema.LedgerPrefix, "csv")
	err := writeCSV(path, []string{"type", "year", "rows_before", "rows_after", "rows_dropped", "cols"}, out)
	return path, err
}

// WriteErrors exports the error log in tabular and structured form, each
// record enriched with a remedy suggestion.
func (e *Exporter) WriteErrors(records []ErrorRecord) (string, string, error) {
	enriched := make([]ErrorRecord, len(records))
	for i, r := range records {
		if r.Suggestion == "" {
			r.Suggestion = Remedy(r)
		}
		enriched[i] = r
	}

	rows := make([][]string, 0, len(enriched))
	for _, r := range enriched {
		rows = append(rows, []string{
			r.File, r.Sheet, r.Stage, string(r.Category), r.Message, r.Suggestion,
		})
	}
	csvPath := e.path(schema.ErrorLogPrefix, "csv")
	if err := writeCSV(csvPath,
		[]string{"file", "sheet", "stage", "error_type", "message", "suggestion"},
		rows); err != nil {
		return "", "", err
	}

	jsonPath := e.path(schema.ErrorLogPrefix, "json")
	data, err := json.MarshalIndent(enriched, "", "  ")
	if err != nil {
		return csvPath, "", fmt.Errorf("marshal error log: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return csvPath, "", fmt.Errorf("write %s: %w", jsonPath, err)
	}
	return csvPath, jsonPath, nil
}

// WriteResourceReport exports the process resource summary as JSON.
func (e *Exporter) WriteResourceReport(v any) (string, error) {
	path := filepath.Join(e.outputDir, fmt.Sprintf("resource_report_%s.json", e.stamp))
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal resource report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// WriteDuplicateWorkbook exports duplicate-log rows as a workbook for
// manual review, falling back to CSV when the workbook write fails.
func (e *Exporter) WriteDuplicateWorkbook(baseName string, columns []string, rows [][]string) (string, error) {
	xlsxPath := filepath.Join(e.outputDir, baseName+".xlsx")

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if err := writeSheetRows(f, sheet, columns, rows); err == nil {
		if err := f.SaveAs(xlsxPath); err == nil {
			return xlsxPath, nil
		}
	}

	csvPath := filepath.Join(e.outputDir, baseName+".csv")
	e.log.Warn("duplicate workbook export failed, falling back to csv", "path", csvPath)
	if err := writeCSV(csvPath, columns, rows); err != nil {
		return "", err
	}
	return csvPath, nil
}

func writeSheetRows(f *excelize.File, sheet string, columns []string, rows [][]string) error {
	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, row := range rows {
		vals := make([]interface{}, len(row))
		for j, v := range row {
			vals[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
			return err
		}
	}
	return nil
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ",")
}

package pipeline

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/kehuitang/vataudit/internal/classify"
	"github.com/kehuitang/vataudit/internal/excel"
	"github.com/kehuitang/vataudit/internal/report"
)

// ScanResult is the outcome of the pre-scan pass over the input directory.
type ScanResult struct {
	Files      []SourceFile
	Sheets     []SheetPlan
	Manifest   []report.ManifestEntry
	TotalBytes int64

	FilesScanned int
	FilesSkipped int
	ScanFailures int
}

// Scan walks the input directory, validates each spreadsheet, and reads
// only the header row of every sheet to classify it and fix its staging
// plan. Files that cannot be opened are recorded and skipped; the scan
// itself fails only when the directory cannot be walked.
func Scan(inputDir, tag string, maxFileBytes int64, errs *report.Errors, log *slog.Logger) (*ScanResult, error) {
	res := &ScanResult{}

	err := filepath.WalkDir(inputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !excel.SupportedExtension(name) {
			return nil
		}
		// Excel leaves ~$ lock files next to open workbooks.
		if strings.HasPrefix(name, "~$") {
			return nil
		}
		res.FilesScanned++

		info, err := d.Info()
		if err != nil {
			res.ScanFailures++
			errs.Add(report.ErrorRecord{
				File: name, Stage: "scan", Category: report.CategoryFileAccess,
				Message: fmt.Sprintf("stat failed: %v", err),
			})
			return nil
		}
		if maxFileBytes > 0 && info.Size() > maxFileBytes {
			res.FilesSkipped++
			errs.Add(report.ErrorRecord{
				File: name, Stage: "scan", Category: report.CategoryFileAccess,
				Message: fmt.Sprintf("file size %d bytes exceeds limit %d bytes", info.Size(), maxFileBytes),
			})
			return nil
		}

		file := SourceFile{Path: path, Name: name, SizeBytes: info.Size()}
		plans, manifest, err := scanFile(file, tag)
		if err != nil {
			res.ScanFailures++
			errs.Add(report.ErrorRecord{
				File: name, Stage: "scan", Category: report.CategoryFileAccess,
				Message: err.Error(),
			})
			return nil
		}

		res.Files = append(res.Files, file)
		res.TotalBytes += info.Size()
		res.Sheets = append(res.Sheets, plans...)
		res.Manifest = append(res.Manifest, manifest...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", inputDir, err)
	}

	log.Info("scan complete",
		"files", res.FilesScanned,
		"importable", len(res.Files),
		"skipped", res.FilesSkipped,
		"failures", res.ScanFailures,
		"sheets", len(res.Sheets),
		"total_mb", res.TotalBytes>>20,
	)
	return res, nil
}

// scanFile reads the header row of every sheet in one workbook and
// classifies each sheet. It never reads data rows.
func scanFile(file SourceFile, tag string) ([]SheetPlan, []report.ManifestEntry, error) {
	wb, err := excel.Open(file.Path)
	if err != nil {
		return nil, nil, err
	}
	defer wb.Close()

	var plans []SheetPlan
	var manifest []report.ManifestEntry

	for _, sheet := range wb.SheetNames() {
		header, err := wb.HeaderRow(sheet)
		if err != nil {
			return nil, nil, fmt.Errorf("sheet %q: %w", sheet, err)
		}

		class := classify.Sheet(sheet, header)
		table := ""
		if len(header) > 0 {
			table = targetTable(tag, class)
		}

		manifest = append(manifest, report.ManifestEntry{
			File:           file.Name,
			Sheet:          sheet,
			Classification: class.String(),
			Columns:        header,
			TargetTable:    table,
		})

		if table == "" {
			continue
		}
		plans = append(plans, SheetPlan{
			File:          file,
			Sheet:         sheet,
			Class:         class,
			Columns:       header,
			StagedColumns: stagedColumns(header),
			Table:         table,
		})
	}
	return plans, manifest, nil
}

// Package excel provides uniform read access to the spreadsheet formats
// found in tax-bureau exports: .xlsx/.xlsm via excelize and legacy .xls
// via xlsReader.
//
// Modern workbooks support bounded-memory streaming through the excelize
// row iterator. Legacy .xls files do not stream; xlsReader parses the whole
// BIFF stream up front, so callers must full-load those.
package excel

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shakinm/xlsReader/xls"
	"github.com/xuri/excelize/v2"
)

// ErrStreamingUnsupported is returned by StreamRows for formats that can
// only be read whole.
var ErrStreamingUnsupported = errors.New("streaming not supported for this workbook format")

// Workbook is read access to one spreadsheet file.
type Workbook interface {
	// SheetNames returns the sheet names in workbook order.
	SheetNames() []string

	// HeaderRow returns the first row of a sheet, or nil for an empty
	// sheet. Used by the pre-scan pass, which must not read data rows.
	HeaderRow(sheet string) ([]string, error)

	// Rows returns every row of a sheet, header included.
	Rows(sheet string) ([][]string, error)

	// StreamRows delivers data rows in chunks of at most chunkSize,
	// after skipping the header row. startRow is the 1-based sheet row
	// of the chunk's first row. Returns ErrStreamingUnsupported when
	// CanStream is false.
	StreamRows(sheet string, chunkSize int, fn func(rows [][]string, startRow int) error) error

	// CanStream reports whether StreamRows is available.
	CanStream() bool

	Close() error
}

// SupportedExtension reports whether a file name has a readable
// spreadsheet extension.
func SupportedExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".xls":
		return true
	}
	return false
}

// Open opens a workbook, dispatching on the file extension.
func Open(path string) (Workbook, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("open workbook %s: %w", filepath.Base(path), err)
		}
		return &xlsxWorkbook{file: f}, nil
	case ".xls":
		wb, err := xls.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("open legacy workbook %s: %w", filepath.Base(path), err)
		}
		return &xlsWorkbook{book: &wb}, nil
	default:
		return nil, fmt.Errorf("unsupported spreadsheet extension: %s", filepath.Ext(path))
	}
}

// xlsxWorkbook reads .xlsx/.xlsm files through excelize.
type xlsxWorkbook struct {
	file *excelize.File
}

func (w *xlsxWorkbook) SheetNames() []string {
	return w.file.GetSheetList()
}

func (w *xlsxWorkbook) HeaderRow(sheet string) ([]string, error) {
	iter, err := w.file.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read header of sheet %q: %w", sheet, err)
	}
	defer iter.Close()

	if !iter.Next() {
		if err := iter.Error(); err != nil {
			return nil, fmt.Errorf("read header of sheet %q: %w", sheet, err)
		}
		return nil, nil
	}
	cols, err := iter.Columns()
	if err != nil {
		return nil, fmt.Errorf("read header of sheet %q: %w", sheet, err)
	}
	return trimTrailingEmpty(cols), nil
}

func (w *xlsxWorkbook) Rows(sheet string) ([][]string, error) {
	rows, err := w.file.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

func (w *xlsxWorkbook) StreamRows(sheet string, chunkSize int, fn func(rows [][]string, startRow int) error) error {
	if chunkSize <= 0 {
		chunkSize = 10000
	}
	iter, err := w.file.Rows(sheet)
	if err != nil {
		return fmt.Errorf("stream sheet %q: %w", sheet, err)
	}
	defer iter.Close()

	rowNum := 0
	chunk := make([][]string, 0, chunkSize)
	chunkStart := 0

	for iter.Next() {
		rowNum++
		cols, err := iter.Columns()
		if err != nil {
			return fmt.Errorf("stream sheet %q row %d: %w", sheet, rowNum, err)
		}
		if rowNum == 1 {
			// header row handled by the caller via HeaderRow
			continue
		}
		if len(chunk) == 0 {
			chunkStart = rowNum
		}
		chunk = append(chunk, cols)
		if len(chunk) >= chunkSize {
			if err := fn(chunk, chunkStart); err != nil {
				return err
			}
			chunk = make([][]string, 0, chunkSize)
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("stream sheet %q: %w", sheet, err)
	}
	if len(chunk) > 0 {
		return fn(chunk, chunkStart)
	}
	return nil
}

func (w *xlsxWorkbook) CanStream() bool { return true }

func (w *xlsxWorkbook) Close() error {
	return w.file.Close()
}

// xlsWorkbook reads legacy .xls files through xlsReader.
type xlsWorkbook struct {
	book *xls.Workbook
}

func (w *xlsWorkbook) SheetNames() []string {
	names := make([]string, 0, w.book.GetNumberSheets())
	for _, s := range w.book.GetSheets() {
		names = append(names, s.GetName())
	}
	return names
}

func (w *xlsWorkbook) sheetByName(name string) (int, error) {
	for i, s := range w.book.GetSheets() {
		if s.GetName() == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found", name)
}

func (w *xlsWorkbook) HeaderRow(sheet string) ([]string, error) {
	rows, err := w.Rows(sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return trimTrailingEmpty(rows[0]), nil
}

func (w *xlsWorkbook) Rows(sheet string) ([][]string, error) {
	idx, err := w.sheetByName(sheet)
	if err != nil {
		return nil, err
	}
	s, err := w.book.GetSheet(idx)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if s == nil {
		return nil, fmt.Errorf("read sheet %q: sheet unavailable", sheet)
	}

	var rows [][]string
	for _, r := range s.GetRows() {
		var vals []string
		for _, c := range r.GetCols() {
			vals = append(vals, c.GetString())
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

func (w *xlsWorkbook) StreamRows(string, int, func([][]string, int) error) error {
	return ErrStreamingUnsupported
}

func (w *xlsWorkbook) CanStream() bool { return false }

func (w *xlsWorkbook) Close() error { return nil }

// trimTrailingEmpty drops empty cells off the end of a header row, which
// spreadsheets commonly carry from formatting spill.
func trimTrailingEmpty(cells []string) []string {
	end := len(cells)
	for end > 0 && strings.TrimSpace(cells[end-1]) == "" {
		end--
	}
	out := make([]string, end)
	for i := 0; i < end; i++ {
		out[i] = strings.TrimSpace(cells[i])
	}
	return out
}

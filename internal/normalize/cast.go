package normalize

// cast.go applies per-category type coercion to batches of sheet rows and
// records what happened, so every run can report how trustworthy its
// numeric and date columns are.

import (
	"github.com/kehuitang/vataudit/internal/schema"
)

// CastStat counts the outcome of coercing one column of one sheet.
type CastStat struct {
	File      string
	Sheet     string
	Column    string
	Method    string
	Total     int
	Converted int
	Failed    int
}

// FailureSample captures one value that could not be coerced, with enough
// invoice context to locate the row in the source file.
type FailureSample struct {
	File          string
	Sheet         string
	Column        string
	RowIndex      int
	OrigValue     string
	InvoiceCode   string
	InvoiceNumber string
}

// Recorder accumulates cast statistics and bounded failure samples.
// Samples are capped per (file, sheet, column) so a pathological column
// cannot grow memory without bound. Not safe for concurrent use; each
// worker owns its own Recorder.
type Recorder struct {
	maxPerColumn int

	Stats   []CastStat
	Samples []FailureSample

	sampleCounts map[string]int
}

// NewRecorder returns a Recorder keeping at most maxPerColumn failure
// samples per column.
func NewRecorder(maxPerColumn int) *Recorder {
	if maxPerColumn <= 0 {
		maxPerColumn = 100
	}
	return &Recorder{
		maxPerColumn: maxPerColumn,
		sampleCounts: make(map[string]int),
	}
}

// Merge appends another recorder's output, re-applying the sample cap.
func (r *Recorder) Merge(other *Recorder) {
	if other == nil {
		return
	}
	r.Stats = append(r.Stats, other.Stats...)
	for _, s := range other.Samples {
		r.addSample(s)
	}
}

func (r *Recorder) addStat(s CastStat) {
	r.Stats = append(r.Stats, s)
}

func (r *Recorder) addSample(s FailureSample) {
	key := s.File + "\x00" + s.Sheet + "\x00" + s.Column
	if r.sampleCounts[key] >= r.maxPerColumn {
		return
	}
	r.sampleCounts[key]++
	r.Samples = append(r.Samples, s)
}

// CastRows coerces the date and numeric columns of a row batch in place
// and returns the column list, extended with the derived numeric tax-rate
// column when a tax-rate column is present.
//
// rowOffset is the sheet row number of the first data row in the batch,
// used so failure samples reference source rows rather than batch rows.
// Values that fail coercion keep their original text.
func CastRows(file, sheet string, columns []string, rows [][]string, rowOffset int, taxTextToZero bool, rec *Recorder) []string {
	colIndex := make(map[string]int, len(columns))
	for i, c := range columns {
		colIndex[c] = i
	}
	codeIdx, hasCode := colIndex[schema.ColInvoiceCode]
	numberIdx, hasNumber := colIndex[schema.ColInvoiceNumber]

	sample := func(column string, rowIdx int, orig string) {
		s := FailureSample{
			File:      file,
			Sheet:     sheet,
			Column:    column,
			RowIndex:  rowOffset + rowIdx,
			OrigValue: orig,
		}
		if hasCode && codeIdx < len(rows[rowIdx]) {
			s.InvoiceCode = rows[rowIdx][codeIdx]
		}
		if hasNumber && numberIdx < len(rows[rowIdx]) {
			s.InvoiceNumber = rows[rowIdx][numberIdx]
		}
		rec.addSample(s)
	}

	for _, col := range schema.DateCols {
		idx, ok := colIndex[col]
		if !ok {
			continue
		}
		converted, failed := 0, 0
		for ri, row := range rows {
			if idx >= len(row) {
				continue
			}
			raw := CleanCell(row[idx])
			if raw == "" {
				continue
			}
			if iso, ok := Date(raw); ok {
				row[idx] = iso
				converted++
			} else {
				failed++
				sample(col, ri, raw)
			}
		}
		rec.addStat(CastStat{
			File: file, Sheet: sheet, Column: col, Method: "date_parse",
			Total: len(rows), Converted: converted, Failed: failed,
		})
	}

	taxRateIdx := -1
	for _, col := range schema.NumericCols {
		idx, ok := colIndex[col]
		if !ok {
			continue
		}
		if col == schema.ColTaxRate {
			taxRateIdx = idx
			continue
		}
		converted, failed := 0, 0
		for ri, row := range rows {
			if idx >= len(row) {
				continue
			}
			raw := CleanCell(row[idx])
			if raw == "" {
				continue
			}
			if d, ok := Numeric(raw); ok {
				row[idx] = d.String()
				converted++
			} else {
				failed++
				sample(col, ri, raw)
			}
		}
		rec.addStat(CastStat{
			File: file, Sheet: sheet, Column: col, Method: "numeric_parse",
			Total: len(rows), Converted: converted, Failed: failed,
		})
	}

	if taxRateIdx >= 0 {
		columns = append(columns, schema.ColTaxRateValue)
		converted, failed, textMapped := 0, 0, 0
		for ri := range rows {
			derived := ""
			if taxRateIdx < len(rows[ri]) {
				raw := CleanCell(rows[ri][taxRateIdx])
				if raw != "" {
					d, isText, ok := TaxRate(raw)
					switch {
					case ok:
						derived = d.String()
						converted++
					case isText && taxTextToZero:
						derived = "0"
						textMapped++
					case isText:
						// exemption text retained as-is in the source column
					default:
						failed++
						sample(schema.ColTaxRateValue, ri, raw)
					}
				}
			}
			rows[ri] = append(rows[ri], derived)
		}
		rec.addStat(CastStat{
			File: file, Sheet: sheet, Column: schema.ColTaxRateValue, Method: "tax_parse",
			Total: len(rows), Converted: converted, Failed: failed,
		})
		if textMapped > 0 {
			rec.addStat(CastStat{
				File: file, Sheet: sheet, Column: schema.ColTaxRateValue, Method: "map_tax_text_to_zero",
				Total: len(rows), Converted: textMapped, Failed: 0,
			})
		}
	}

	return columns
}

package pipeline

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/kehuitang/vataudit/internal/report"
	"github.com/kehuitang/vataudit/internal/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScanClassifiesSheets(t *testing.T) {
	dir := t.TempDir()
	writeDetailWorkbook(t, filepath.Join(dir, "a.xlsx"), [][]any{
		{"011001", "10000001", "", "2023-05-01", "办公用品", "2", "50", "100", "13%"},
	})

	errs := &report.Errors{}
	res, err := Scan(dir, "VAT_INV", 0, errs, testLogger())
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}

	if res.FilesScanned != 1 || len(res.Files) != 1 {
		t.Fatalf("scanned %d files, importable %d, want 1/1", res.FilesScanned, len(res.Files))
	}
	if len(res.Sheets) != 1 {
		t.Fatalf("planned %d sheets, want 1", len(res.Sheets))
	}

	plan := res.Sheets[0]
	if plan.Table != schema.StagingDetailTable("VAT_INV") {
		t.Errorf("plan table = %s, want detail staging table", plan.Table)
	}
	if got := plan.Class.String(); got != "detail" {
		t.Errorf("classification = %s, want detail", got)
	}

	// staged columns: header, derived tax rate, year, audit pair
	want := len(detailHeader) + 4
	if len(plan.StagedColumns) != want {
		t.Errorf("staged columns = %d, want %d: %v", len(plan.StagedColumns), want, plan.StagedColumns)
	}
	last := plan.StagedColumns[len(plan.StagedColumns)-1]
	if last != schema.ColImportTime {
		t.Errorf("last staged column = %s, want %s", last, schema.ColImportTime)
	}
}

func TestScanSkipsLockFiles(t *testing.T) {
	dir := t.TempDir()
	writeDetailWorkbook(t, filepath.Join(dir, "a.xlsx"), nil)
	if err := os.WriteFile(filepath.Join(dir, "~$a.xlsx"), []byte("lock"), 0o644); err != nil {
		t.Fatalf("write lock file: %v", err)
	}

	errs := &report.Errors{}
	res, err := Scan(dir, "VAT_INV", 0, errs, testLogger())
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if res.FilesScanned != 1 {
		t.Errorf("FilesScanned = %d, want 1 (lock file skipped)", res.FilesScanned)
	}
	if errs.Len() != 0 {
		t.Errorf("errors = %d, want 0", errs.Len())
	}
}

func TestScanSkipsOversizedFiles(t *testing.T) {
	dir := t.TempDir()
	writeDetailWorkbook(t, filepath.Join(dir, "big.xlsx"), [][]any{
		{"011001", "10000001", "", "2023-05-01", "办公用品", "2", "50", "100", "13%"},
	})

	errs := &report.Errors{}
	res, err := Scan(dir, "VAT_INV", 10, errs, testLogger())
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if res.FilesSkipped != 1 || len(res.Files) != 0 {
		t.Errorf("skipped=%d importable=%d, want 1/0", res.FilesSkipped, len(res.Files))
	}

	records := errs.Records()
	if len(records) != 1 || records[0].Category != report.CategoryFileAccess {
		t.Fatalf("records = %+v, want one FileAccessError", records)
	}
}

func TestStagedColumns(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		want   []string
	}{
		{
			name:   "plain columns",
			header: []string{"购方识别号", "备注"},
			want:   []string{"购方识别号", "备注", schema.ColSourceFile, schema.ColImportTime},
		},
		{
			name:   "with tax rate",
			header: []string{"金额", schema.ColTaxRate},
			want:   []string{"金额", schema.ColTaxRate, schema.ColTaxRateValue, schema.ColSourceFile, schema.ColImportTime},
		},
		{
			name:   "with invoice date",
			header: []string{schema.ColInvoiceDate, "金额"},
			want:   []string{schema.ColInvoiceDate, "金额", schema.ColInvoiceYear, schema.ColSourceFile, schema.ColImportTime},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stagedColumns(tt.header)
			if len(got) != len(tt.want) {
				t.Fatalf("stagedColumns() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("stagedColumns() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kehuitang/vataudit/internal/classify"
	"github.com/kehuitang/vataudit/internal/report"
	"github.com/kehuitang/vataudit/internal/schema"
	"github.com/kehuitang/vataudit/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "merge_test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func detailPlan(file string, columns []string) SheetPlan {
	return SheetPlan{
		File:          SourceFile{Name: file, Path: file},
		Sheet:         "发票明细",
		Class:         classify.Classification{Kind: classify.KindDetail},
		Columns:       columns,
		StagedColumns: stagedColumns(columns),
		Table:         schema.StagingDetailTable("VAT_INV"),
	}
}

func TestPrepareBuildsColumnSuperset(t *testing.T) {
	s := openTestStore(t)
	m := NewMerger(s, testLogger())
	ctx := context.Background()

	plans := []SheetPlan{
		detailPlan("a.xlsx", []string{"发票代码", "发票号码", "金额"}),
		detailPlan("b.xlsx", []string{"发票代码", "备注", "金额"}),
	}
	if err := m.Prepare(ctx, plans); err != nil {
		t.Fatalf("Prepare() failed: %v", err)
	}

	cols, err := s.TableColumns(ctx, schema.StagingDetailTable("VAT_INV"))
	if err != nil {
		t.Fatalf("table columns: %v", err)
	}
	for _, want := range []string{"发票代码", "发票号码", "金额", "备注", schema.ColSourceFile, schema.ColImportTime} {
		if !contains(cols, want) {
			t.Errorf("superset missing column %s: %v", want, cols)
		}
	}
	// duplicated columns collapse
	if len(cols) != 6 {
		t.Errorf("superset has %d columns, want 6: %v", len(cols), cols)
	}
}

func TestPrepareOrdersHeaderColumns(t *testing.T) {
	s := openTestStore(t)
	m := NewMerger(s, testLogger())
	ctx := context.Background()

	// columns deliberately out of standard order
	columns := []string{"备注", "金额", "发票号码", "发票代码"}
	plan := SheetPlan{
		File:          SourceFile{Name: "a.xlsx", Path: "a.xlsx"},
		Sheet:         "发票基础信息",
		Class:         classify.Classification{Kind: classify.KindHeader},
		Columns:       columns,
		StagedColumns: stagedColumns(columns),
		Table:         schema.StagingHeaderTable("VAT_INV"),
	}
	if err := m.Prepare(ctx, []SheetPlan{plan}); err != nil {
		t.Fatalf("Prepare() failed: %v", err)
	}

	cols, err := s.TableColumns(ctx, schema.StagingHeaderTable("VAT_INV"))
	if err != nil {
		t.Fatalf("table columns: %v", err)
	}
	if cols[0] != "发票代码" || cols[1] != "发票号码" || cols[2] != "金额" {
		t.Errorf("standard columns not ordered first: %v", cols)
	}
}

func TestWriteAlignsMissingColumnsToNull(t *testing.T) {
	s := openTestStore(t)
	m := NewMerger(s, testLogger())
	ctx := context.Background()
	errs := &report.Errors{}

	plans := []SheetPlan{
		detailPlan("a.xlsx", []string{"发票代码", "金额"}),
		detailPlan("b.xlsx", []string{"发票代码", "备注"}),
	}
	if err := m.Prepare(ctx, plans); err != nil {
		t.Fatalf("Prepare() failed: %v", err)
	}

	// batch from b.xlsx carries no 金额 column
	m.write(ctx, RowBatch{
		Table:   schema.StagingDetailTable("VAT_INV"),
		File:    "b.xlsx",
		Sheet:   "发票明细",
		Columns: stagedColumns([]string{"发票代码", "备注"}),
		Rows:    [][]string{{"011001", "备注文本", "a.xlsx", "2023-05-01 00:00:00"}},
	}, errs)

	if errs.Len() != 0 {
		t.Fatalf("write recorded errors: %+v", errs.Records())
	}

	var amount any
	row := s.QueryRow(ctx, `SELECT "金额" FROM `+store.QuoteIdent(schema.StagingDetailTable("VAT_INV")))
	if err := row.Scan(&amount); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if amount != nil {
		t.Errorf("missing column value = %v, want NULL", amount)
	}
}

func TestWriteUnknownTableIsRecorded(t *testing.T) {
	s := openTestStore(t)
	m := NewMerger(s, testLogger())
	errs := &report.Errors{}

	m.write(context.Background(), RowBatch{
		Table:   "ODS_VAT_INV_DETAIL",
		File:    "a.xlsx",
		Columns: []string{"发票代码"},
		Rows:    [][]string{{"011001"}},
	}, errs)

	records := errs.Records()
	if len(records) != 1 || records[0].Category != report.CategoryMergeTransaction {
		t.Fatalf("records = %+v, want one MergeTransactionError", records)
	}
}

package store

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecreateTable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cols := []string{"发票代码", "发票号码", "金额"}
	if err := s.RecreateTable(ctx, "ODS_TEST_DETAIL", cols); err != nil {
		t.Fatal(err)
	}

	got, err := s.TableColumns(ctx, "ODS_TEST_DETAIL")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, cols) {
		t.Errorf("columns = %v, want %v", got, cols)
	}

	// Recreate with more columns replaces the old shape and drops data
	if err := s.InsertBatch(ctx, "ODS_TEST_DETAIL", cols, [][]any{{"a", "b", "c"}}); err != nil {
		t.Fatal(err)
	}
	wider := append(cols, "税额")
	if err := s.RecreateTable(ctx, "ODS_TEST_DETAIL", wider); err != nil {
		t.Fatal(err)
	}
	n, err := s.CountRows(ctx, "ODS_TEST_DETAIL")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("rows after recreate = %d, want 0", n)
	}
}

func TestRecreateTableNoColumns(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecreateTable(context.Background(), "T", nil); err == nil {
		t.Error("expected error for empty column list")
	}
}

func TestInsertBatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cols := []string{"发票代码", "发票号码"}
	if err := s.RecreateTable(ctx, "T", cols); err != nil {
		t.Fatal(err)
	}

	rows := [][]any{
		{"011001", "001"},
		{"011001", nil},
	}
	if err := s.InsertBatch(ctx, "T", cols, rows); err != nil {
		t.Fatal(err)
	}

	n, err := s.CountRows(ctx, "T")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("rows = %d, want 2", n)
	}

	var nulls int
	if err := s.QueryRow(ctx, `SELECT COUNT(*) FROM T WHERE "发票号码" IS NULL`).Scan(&nulls); err != nil {
		t.Fatal(err)
	}
	if nulls != 1 {
		t.Errorf("null values = %d, want 1", nulls)
	}
}

func TestInsertBatchRollsBackOnBadRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cols := []string{"a", "b"}
	if err := s.RecreateTable(ctx, "T", cols); err != nil {
		t.Fatal(err)
	}

	rows := [][]any{
		{"1", "2"},
		{"only one value"},
	}
	if err := s.InsertBatch(ctx, "T", cols, rows); err == nil {
		t.Fatal("expected error for misaligned row")
	}

	// The whole batch must roll back, not just the bad row
	n, err := s.CountRows(ctx, "T")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("rows after failed batch = %d, want 0", n)
	}
}

func TestInsertBatchEmpty(t *testing.T) {
	s := openTestStore(t)
	if err := s.InsertBatch(context.Background(), "missing", []string{"a"}, nil); err != nil {
		t.Errorf("empty batch should be a no-op, got %v", err)
	}
}

func TestTableExists(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.TableExists(ctx, "nope")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("TableExists(nope) = true")
	}

	if err := s.RecreateTable(ctx, "yep", []string{"a"}); err != nil {
		t.Fatal(err)
	}
	ok, err = s.TableExists(ctx, "yep")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("TableExists(yep) = false")
	}
}

func TestDistinctValues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cols := []string{"开票年份", "金额"}
	if err := s.RecreateTable(ctx, "T", cols); err != nil {
		t.Fatal(err)
	}
	rows := [][]any{
		{"2023", "1"},
		{"2024", "2"},
		{"2023", "3"},
		{nil, "4"},
	}
	if err := s.InsertBatch(ctx, "T", cols, rows); err != nil {
		t.Fatal(err)
	}

	got, err := s.DistinctValues(ctx, "T", "开票年份")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2023", "2024"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DistinctValues = %v, want %v", got, want)
	}
}

func TestCreateIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.RecreateTable(ctx, "T", []string{"发票代码", "发票号码"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateIndex(ctx, "idx_t_code_no", "T", []string{"发票代码", "发票号码"}); err != nil {
		t.Fatal(err)
	}
	// Idempotent
	if err := s.CreateIndex(ctx, "idx_t_code_no", "T", []string{"发票代码", "发票号码"}); err != nil {
		t.Fatal(err)
	}
}

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"plain", `"plain"`},
		{"发票代码", `"发票代码"`},
		{`evil"name`, `"evil""name"`},
	}
	for _, tt := range tests {
		if got := QuoteIdent(tt.input); got != tt.want {
			t.Errorf("QuoteIdent(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

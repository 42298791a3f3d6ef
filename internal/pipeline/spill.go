package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kehuitang/vataudit/internal/schema"
)

// Spiller persists row batches to disk when the merge channel is full or
// disabled. Each batch becomes one CSV file under a run-scoped directory;
// the merge engine drains them after the in-memory channel closes.
type Spiller struct {
	dir string
}

// NewSpiller creates the spill directory for a run under tempRoot.
func NewSpiller(tempRoot string, runTime time.Time) (*Spiller, error) {
	dir := filepath.Join(tempRoot, runTime.Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spill dir: %w", err)
	}
	return &Spiller{dir: dir}, nil
}

// Dir returns the run's spill directory.
func (s *Spiller) Dir() string {
	return s.dir
}

// Write persists one batch. The file name carries the target table, the
// source file and sheet, and a unique suffix for debugging; the recorded
// header rows are authoritative when reading back.
func (s *Spiller) Write(b RowBatch) error {
	name := strings.Join([]string{
		sanitizeSegment(b.Table),
		sanitizeSegment(b.File),
		sanitizeSegment(b.Sheet),
		uuid.NewString(),
	}, schema.SpillDelimiter) + ".csv"

	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return fmt.Errorf("create spill file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("write spill file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{b.Table, b.File, b.Sheet}); err != nil {
		return fmt.Errorf("write spill file: %w", err)
	}
	if err := w.Write(b.Columns); err != nil {
		return fmt.Errorf("write spill file: %w", err)
	}
	if err := w.WriteAll(b.Rows); err != nil {
		return fmt.Errorf("write spill file: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write spill file: %w", err)
	}
	return nil
}

// Drain reads every spilled batch back and passes it to fn, oldest first.
func (s *Spiller) Drain(fn func(b RowBatch) error) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read spill dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		b, err := readSpill(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAll deletes the run's spill directory.
func (s *Spiller) RemoveAll() error {
	return os.RemoveAll(s.dir)
}

func readSpill(path string) (RowBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return RowBatch{}, fmt.Errorf("open spill file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(skipBOM(f))
	r.FieldsPerRecord = -1

	meta, err := r.Read()
	if err != nil || len(meta) < 3 {
		return RowBatch{}, fmt.Errorf("spill file %s: bad metadata record", filepath.Base(path))
	}
	columns, err := r.Read()
	if err != nil {
		return RowBatch{}, fmt.Errorf("spill file %s: bad column record: %w", filepath.Base(path), err)
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return RowBatch{}, fmt.Errorf("spill file %s: %w", filepath.Base(path), err)
		}
		rows = append(rows, rec)
	}

	return RowBatch{
		Table:   meta[0],
		File:    meta[1],
		Sheet:   meta[2],
		Columns: columns,
		Rows:    rows,
	}, nil
}

// skipBOM strips a leading UTF-8 BOM if present.
func skipBOM(f *os.File) io.Reader {
	bom := make([]byte, 3)
	n, _ := io.ReadFull(f, bom)
	if n == 3 && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		return f
	}
	f.Seek(0, io.SeekStart)
	return f
}

// CleanStaleSpills removes run directories under tempRoot older than the
// retention window. Crashed runs leave their spill files behind; this
// keeps them from accumulating.
func CleanStaleSpills(tempRoot string, retention time.Duration, log *slog.Logger) {
	entries, err := os.ReadDir(tempRoot)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-retention)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(tempRoot, e.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Warn("failed to remove stale spill dir", "dir", path, "error", err)
			continue
		}
		log.Info("removed stale spill dir", "dir", path)
	}
}

func sanitizeSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, s)
}

// Package report collects run observations (errors, manifests, summaries)
// and exports them to the output directory at the end of every run.
//
// The run always completes and always exports, even when every input file
// failed; callers assess data-quality risk from the error export rather
// than from the exit status.
package report

import (
	"strings"
	"sync"
)

// Category classifies an ErrorRecord by failure mode.
type Category string

const (
	// CategoryFileAccess covers unreadable, locked, or oversized files.
	CategoryFileAccess Category = "FileAccessError"

	// CategorySheetRead covers corrupt or unparseable sheets.
	CategorySheetRead Category = "SheetReadError"

	// CategoryTypeCast covers values that could not be coerced. These
	// are recorded as samples and never fatal.
	CategoryTypeCast Category = "TypeCastError"

	// CategoryResourceExhaustion covers memory pressure during a
	// full-load read; it triggers a streaming retry.
	CategoryResourceExhaustion Category = "ResourceExhaustion"

	// CategoryMergeTransaction covers a failed staging batch write.
	CategoryMergeTransaction Category = "MergeTransactionError"

	// CategoryYearNormalization covers rows whose partition year could
	// not be derived.
	CategoryYearNormalization Category = "YearNormalizationError"
)

// ErrorRecord is one recoverable failure, with enough context to locate
// the unit of work that produced it.
type ErrorRecord struct {
	File     string   `json:"file"`
	Sheet    string   `json:"sheet,omitempty"`
	Stage    string   `json:"stage"`
	Category Category `json:"error_type"`
	Message  string   `json:"message"`

	// Suggestion is a remedy hint filled in at export time.
	Suggestion string `json:"suggestion,omitempty"`
}

// remedies maps error categories to operator guidance, in the operator's
// working language.
var remedies = map[Category]string{
	CategoryFileAccess:         "检查文件路径、大小限制和读写权限，确认文件未被其他程序锁定。",
	CategorySheetRead:          "工作表可能已损坏或格式不正确，请用 Excel 打开确认后重新导出。",
	CategoryTypeCast:           "数据格式错误或类型不匹配，请检查字段值及格式。",
	CategoryResourceExhaustion: "数据量过大，考虑增加内存、减小 chunk 大小或减少并行数。",
	CategoryMergeTransaction:   "数据库写入失败，请检查磁盘空间和数据库文件权限。",
	CategoryYearNormalization:  "开票日期无法解析出年份，请检查源表日期列的格式。",
}

// Remedy returns the suggestion for a record, preferring the category
// mapping and falling back to message keywords.
func Remedy(r ErrorRecord) string {
	if s, ok := remedies[r.Category]; ok {
		return s
	}
	msg := strings.ToLower(r.Message)
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "access denied"):
		return remedies[CategoryFileAccess]
	case strings.Contains(msg, "corrupt"), strings.Contains(msg, "invalid file"):
		return remedies[CategorySheetRead]
	}
	return ""
}

// Errors accumulates ErrorRecords from concurrent producers.
type Errors struct {
	mu      sync.Mutex
	records []ErrorRecord
}

// Add appends a record. Safe for concurrent use.
func (e *Errors) Add(r ErrorRecord) {
	e.mu.Lock()
	e.records = append(e.records, r)
	e.mu.Unlock()
}

// AddAll appends a slice of records. Safe for concurrent use.
func (e *Errors) AddAll(rs []ErrorRecord) {
	if len(rs) == 0 {
		return
	}
	e.mu.Lock()
	e.records = append(e.records, rs...)
	e.mu.Unlock()
}

// Records returns a copy of the accumulated records.
func (e *Errors) Records() []ErrorRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ErrorRecord, len(e.records))
	copy(out, e.records)
	return out
}

// Len returns the number of accumulated records.
func (e *Errors) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.records)
}

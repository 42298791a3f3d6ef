// Package schema defines the business columns, natural keys, and table
// naming conventions for the VAT invoice staging and ledger layers.
//
// Column names are kept in the source language of the tax-bureau exports
// (Chinese) so that staging tables mirror the spreadsheets exactly and
// downstream audit queries can reference the original field names.
package schema

import "fmt"

// Audit tracking columns injected into every staged row.
const (
	ColSourceFile  = "AUDIT_SRC_FILE"
	ColImportTime  = "AUDIT_IMPORT_TIME"
	ColCaptureTime = "DEDUP_CAPTURE_TIME"
	ColInvoiceYear = "开票年份"
)

// Invoice key fields.
const (
	ColInvoiceCode   = "发票代码"
	ColInvoiceNumber = "发票号码"
	ColETicketNumber = "数电发票号码"
	ColInvoiceDate   = "开票日期"
	ColTaxRate       = "税率"
	ColTaxRateValue  = "税率_数值"
	ColItemName      = "货物或应税劳务名称"
	ColQuantity      = "数量"
	ColUnitPrice     = "单价"
)

// InvoiceKeyCols are the columns that identify an invoice across sheets.
var InvoiceKeyCols = []string{ColInvoiceCode, ColInvoiceNumber, ColETicketNumber}

// DetailColsNeeded is the standard column order retained in the detail
// ledger partitions. Columns absent from the staging superset are skipped.
var DetailColsNeeded = []string{
	ColInvoiceCode,
	ColInvoiceNumber,
	ColETicketNumber,
	"销方识别号",
	"销方名称",
	"购方识别号",
	"购买方名称",
	ColInvoiceDate,
	"税收分类编码",
	"特定业务类型",
	ColItemName,
	"规格型号",
	"单位",
	ColQuantity,
	ColUnitPrice,
	"金额",
	ColTaxRate,
	ColTaxRateValue,
	"税额",
	"价税合计",
	"发票来源",
	"发票票种",
	"发票状态",
	"是否正数发票",
	"发票风险等级",
	"开票人",
	"备注",
}

// HeaderColsNeeded is the standard column order retained in the header
// ledger partitions.
var HeaderColsNeeded = []string{
	ColInvoiceCode,
	ColInvoiceNumber,
	ColETicketNumber,
	"销方识别号",
	"销方名称",
	"购方识别号",
	"购买方名称",
	ColInvoiceDate,
	"金额",
	ColTaxRate,
	ColTaxRateValue,
	"税额",
	"价税合计",
	"发票来源",
	"发票票种",
	"发票状态",
	"是否正数发票",
	"发票风险等级",
	"开票人",
	"备注",
}

// DetailDedupCols is the natural key for detail rows. A detail line is a
// duplicate only when every one of these fields matches, since a single
// invoice legitimately carries many lines.
var DetailDedupCols = []string{
	ColInvoiceCode,
	ColInvoiceNumber,
	ColETicketNumber,
	ColInvoiceDate,
	ColItemName,
	ColQuantity,
	ColUnitPrice,
	"金额",
	"税额",
	"发票票种",
	"发票状态",
	"开票人",
	"备注",
}

// HeaderDedupCols is the natural key for header rows.
var HeaderDedupCols = []string{ColInvoiceCode, ColInvoiceNumber, ColETicketNumber}

// DateCols are the columns coerced to ISO dates during normalization.
var DateCols = []string{ColInvoiceDate}

// NumericCols are the columns coerced to numbers during normalization.
// The tax-rate column additionally produces the derived numeric column.
var NumericCols = []string{"金额", "税额", ColUnitPrice, ColQuantity, "价税合计", ColTaxRate}

// StagingDetailTable returns the detail staging table name for a business tag.
func StagingDetailTable(tag string) string {
	return fmt.Sprintf("ODS_%s_DETAIL", tag)
}

// StagingHeaderTable returns the header staging table name for a business tag.
func StagingHeaderTable(tag string) string {
	return fmt.Sprintf("ODS_%s_HEADER", tag)
}

// StagingSummaryTable returns the summary staging table name for a business tag.
func StagingSummaryTable(tag string) string {
	return fmt.Sprintf("ODS_%s_SUMMARY", tag)
}

// StagingSpecialTable returns the staging table name for a special business
// subtype such as RAILWAY or TOLL.
func StagingSpecialTable(tag, subtype string) string {
	return fmt.Sprintf("ODS_%s_SPECIAL_%s", tag, subtype)
}

// LedgerTable returns the canonical partition table name for a category and
// a normalized 4-digit year.
func LedgerTable(tag, category, year string) string {
	return fmt.Sprintf("LEDGER_%s_%s_%s", tag, year, category)
}

// DuplicateLogTable returns the duplicate-log partition table name paired
// with LedgerTable for the same category and year.
func DuplicateLogTable(tag, category, year string) string {
	return fmt.Sprintf("LEDGER_%s_%s_%s_DUP", tag, year, category)
}

// Ledger categories.
const (
	CategoryDetail = "DETAIL"
	CategoryHeader = "HEADER"
)

// Output file prefixes for run reports.
const (
	ManifestPrefix      = "ods_sheet_manifest"
	CastStatsPrefix     = "ods_type_cast_manifest"
	CastFailuresPrefix  = "ods_type_cast_failures"
	ErrorLogPrefix      = "process_error_logs"
	ImportSummaryPrefix = "ods_import_summary"
	LedgerPrefix        = "invoice_ledgers_manifest"
)

// TempFilePrefix names the spill directory for staged intermediate files.
const TempFilePrefix = "tmp_imports"

// SpillDelimiter separates the table, file, sheet, and unique-id segments
// in a spill file name.
const SpillDelimiter = "__"

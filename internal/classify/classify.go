// Package classify maps a sheet's name and header row to the business
// record type it carries. Classification is deterministic and side-effect
// free; every sheet resolves to exactly one kind, and an ignored sheet is
// terminal for the rest of the run.
package classify

import (
	"regexp"
	"strings"
)

// Kind enumerates the recognised sheet categories.
type Kind int

const (
	// KindIgnored marks sheets no rule matched. Terminal: an ignored
	// sheet is recorded in the manifest with its raw columns and never
	// promoted later in the pipeline.
	KindIgnored Kind = iota

	// KindDetail marks invoice line-item sheets.
	KindDetail

	// KindHeader marks invoice header sheets.
	KindHeader

	// KindSummary marks aggregate summary sheets.
	KindSummary

	// KindSpecial marks special business sheets; the Classification
	// carries the subtype.
	KindSpecial
)

// String implements fmt.Stringer for log output.
func (k Kind) String() string {
	switch k {
	case KindDetail:
		return "detail"
	case KindHeader:
		return "header"
	case KindSummary:
		return "summary"
	case KindSpecial:
		return "special"
	default:
		return "ignored"
	}
}

// Classification is the tagged result of classifying one sheet.
// Subtype is populated only when Kind is KindSpecial.
type Classification struct {
	Kind    Kind
	Subtype string
}

// String returns the classification in manifest form, e.g. "special:RAILWAY".
func (c Classification) String() string {
	if c.Kind == KindSpecial {
		return "special:" + c.Subtype
	}
	return c.Kind.String()
}

// specialRule maps a sheet-name pattern to a special business subtype.
type specialRule struct {
	pattern *regexp.Regexp
	subtype string
}

// specialRules are evaluated first, in order. Sheet names come from
// tax-bureau exports, so the patterns match the Chinese sheet titles.
var specialRules = []specialRule{
	{regexp.MustCompile(`铁路(电子)?客票|铁路电子发票`), "RAILWAY"},
	{regexp.MustCompile(`建筑服务`), "BUILDING_SERVICE"},
	{regexp.MustCompile(`不动产租赁`), "REAL_ESTATE_RENTAL"},
	{regexp.MustCompile(`机动车销售统一发票`), "VEHICLE"},
	{regexp.MustCompile(`货物运输服务`), "CARGO_TRANSPORT"},
	{regexp.MustCompile(`过路过桥费`), "TOLL"},
}

var (
	summaryRe = regexp.MustCompile(`信息汇总`)
	headerRe  = regexp.MustCompile(`发票基础(?:信息|表)?\d*`)
	detailRe  = regexp.MustCompile(`发票基础信息|.*明细.*`)
)

// detailColumnKeywords is the minimum column set that identifies a detail
// sheet when the sheet name matches nothing. All must be present.
var detailColumnKeywords = []string{"货物或应税劳务名称", "数量", "单价"}

// Sheet classifies a sheet by name, falling back to its header columns.
// Evaluation order, first match wins: special business patterns, summary
// marker, header marker, detail marker, then the column-keyword fallback.
func Sheet(sheetName string, columns []string) Classification {
	name := strings.TrimSpace(sheetName)

	for _, rule := range specialRules {
		if rule.pattern.MatchString(name) {
			return Classification{Kind: KindSpecial, Subtype: rule.subtype}
		}
	}

	if summaryRe.MatchString(name) {
		return Classification{Kind: KindSummary}
	}
	if headerRe.MatchString(name) {
		return Classification{Kind: KindHeader}
	}
	if detailRe.MatchString(name) {
		return Classification{Kind: KindDetail}
	}

	if hasDetailColumns(columns) {
		return Classification{Kind: KindDetail}
	}

	return Classification{Kind: KindIgnored}
}

// hasDetailColumns reports whether the header row carries every
// detail-only keyword column.
func hasDetailColumns(columns []string) bool {
	if len(columns) == 0 {
		return false
	}
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[strings.TrimSpace(c)] = true
	}
	for _, kw := range detailColumnKeywords {
		if !present[kw] {
			return false
		}
	}
	return true
}

package classify

import "testing"

func TestSheet(t *testing.T) {
	tests := []struct {
		name        string
		sheetName   string
		columns     []string
		wantKind    Kind
		wantSubtype string
	}{
		// Special business sheets take priority over everything else
		{
			name:        "railway ticket sheet",
			sheetName:   "铁路客票",
			wantKind:    KindSpecial,
			wantSubtype: "RAILWAY",
		},
		{
			name:        "railway electronic ticket variant",
			sheetName:   "铁路电子客票",
			wantKind:    KindSpecial,
			wantSubtype: "RAILWAY",
		},
		{
			name:        "railway electronic invoice variant",
			sheetName:   "铁路电子发票",
			wantKind:    KindSpecial,
			wantSubtype: "RAILWAY",
		},
		{
			name:        "construction service sheet",
			sheetName:   "建筑服务明细",
			wantKind:    KindSpecial,
			wantSubtype: "BUILDING_SERVICE",
		},
		{
			name:        "real estate rental sheet",
			sheetName:   "不动产租赁经营服务",
			wantKind:    KindSpecial,
			wantSubtype: "REAL_ESTATE_RENTAL",
		},
		{
			name:        "vehicle sale sheet",
			sheetName:   "机动车销售统一发票",
			wantKind:    KindSpecial,
			wantSubtype: "VEHICLE",
		},
		{
			name:        "cargo transport sheet",
			sheetName:   "货物运输服务",
			wantKind:    KindSpecial,
			wantSubtype: "CARGO_TRANSPORT",
		},
		{
			name:        "toll sheet",
			sheetName:   "过路过桥费",
			wantKind:    KindSpecial,
			wantSubtype: "TOLL",
		},

		// Name-based categories
		{
			name:      "summary sheet",
			sheetName: "发票信息汇总",
			wantKind:  KindSummary,
		},
		{
			name:      "header sheet basic info",
			sheetName: "发票基础信息",
			wantKind:  KindHeader,
		},
		{
			name:      "header sheet numbered",
			sheetName: "发票基础信息2",
			wantKind:  KindHeader,
		},
		{
			name:      "detail sheet by name",
			sheetName: "销项明细",
			wantKind:  KindDetail,
		},
		{
			name:      "detail marker anywhere in name",
			sheetName: "2023年进项发票明细表",
			wantKind:  KindDetail,
		},

		// Summary marker beats the detail fallback even with detail columns
		{
			name:      "summary beats detail columns",
			sheetName: "信息汇总",
			columns:   []string{"货物或应税劳务名称", "数量", "单价"},
			wantKind:  KindSummary,
		},

		// Column-keyword fallback
		{
			name:      "unnamed sheet with detail columns",
			sheetName: "Sheet1",
			columns:   []string{"发票代码", "货物或应税劳务名称", "数量", "单价", "金额"},
			wantKind:  KindDetail,
		},
		{
			name:      "unnamed sheet missing a detail keyword",
			sheetName: "Sheet1",
			columns:   []string{"发票代码", "货物或应税劳务名称", "数量"},
			wantKind:  KindIgnored,
		},
		{
			name:      "unnamed sheet with no columns",
			sheetName: "Sheet1",
			wantKind:  KindIgnored,
		},
		{
			name:      "unrelated sheet",
			sheetName: "操作说明",
			columns:   []string{"步骤", "说明"},
			wantKind:  KindIgnored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sheet(tt.sheetName, tt.columns)
			if got.Kind != tt.wantKind {
				t.Errorf("Sheet(%q) kind = %v, want %v", tt.sheetName, got.Kind, tt.wantKind)
			}
			if got.Subtype != tt.wantSubtype {
				t.Errorf("Sheet(%q) subtype = %q, want %q", tt.sheetName, got.Subtype, tt.wantSubtype)
			}
		})
	}
}

func TestClassificationString(t *testing.T) {
	tests := []struct {
		name string
		c    Classification
		want string
	}{
		{"detail", Classification{Kind: KindDetail}, "detail"},
		{"header", Classification{Kind: KindHeader}, "header"},
		{"summary", Classification{Kind: KindSummary}, "summary"},
		{"special with subtype", Classification{Kind: KindSpecial, Subtype: "RAILWAY"}, "special:RAILWAY"},
		{"ignored", Classification{}, "ignored"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

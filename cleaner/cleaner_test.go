package cleaner

import (
	"strings"
	"testing"
)

const noisy = `HYPERLINK "http://www.example.com/product"
六相微机继电保护测试仪
HYPERLINK 220V
_GoBack
第3页
PAGE 12
CONTENTS
+-----+-----+
│ ─── │
A A AB X B
Ca a a a b
..........
额定电压：220V ± 10%

输出电流 0～30A	每相
EMBED Equation.3 额定功率
===============
产品特点 _Toc123456 高精度


频率范围 45-65Hz`

func TestCleanRemovesNoise(t *testing.T) {
	res := Clean(noisy)

	for _, gone := range []string{"http://www.example.com", "_GoBack", "第3页", "PAGE 12", "CONTENTS", "+-----", "│", "A A AB", "Ca a a", "..........", "=====", "_Toc", "EMBED"} {
		if strings.Contains(res.Content, gone) {
			t.Errorf("noise %q survived:\n%s", gone, res.Content)
		}
	}
	for _, kept := range []string{"六相微机继电保护测试仪", "HYPERLINK 220V", "额定电压：220V ± 10%", "输出电流 0～30A\t每相", "额定功率", "产品特点 高精度", "频率范围 45-65Hz"} {
		if !strings.Contains(res.Content, kept) {
			t.Errorf("content %q lost:\n%s", kept, res.Content)
		}
	}
	if strings.Contains(res.Content, "\n\n\n") {
		t.Error("blank runs not collapsed")
	}
	if res.Stats.ProtectedLines < 3 {
		t.Errorf("ProtectedLines = %d, want >= 3", res.Stats.ProtectedLines)
	}
	if res.Stats.ByCategory["page_navigation"] != 3 {
		t.Errorf("page_navigation = %d, want 3 (%v)", res.Stats.ByCategory["page_navigation"], res.Stats.ByCategory)
	}
	if res.Ratio <= 0.1 || res.Ratio >= 1 {
		t.Errorf("Ratio = %.2f", res.Ratio)
	}
}

func TestProtectionRule(t *testing.T) {
	tests := []struct {
		line string
		keep bool
	}{
		{"HYPERLINK", false},
		{"HYPERLINK 220V", true},
		{"MERGEFORMAT 额定电流", true},
		{"PAGE 5", false},
		{"-----", false},
		{"变比 100/5", true},
		{"_Toc12345 范围 0~600", true},
		{"A B C D", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, keep, _ := cleanLine(tt.line)
			if keep != tt.keep {
				t.Errorf("keep = %v, want %v", keep, tt.keep)
			}
		})
	}
}

func TestCleanIdempotent(t *testing.T) {
	inputs := []string{
		noisy,
		"",
		"\n\n  \n",
		"额定电压\t380V\n额定电流\t100A\nHYPERLINK \\foo\t",
		"HYPERLINK HYPERLINK \"x\" 文本 ...... 尾部",
		"  前导空格   与   多余空格  \n\t缩进\t单元格\t",
	}
	for i, in := range inputs {
		once := Clean(in).Content
		twice := Clean(once)
		if twice.Content != once {
			t.Errorf("input %d: second pass changed content\nonce:  %q\ntwice: %q", i, once, twice.Content)
		}
		if twice.Stats.RemovedLines != 0 {
			t.Errorf("input %d: second pass removed %d lines", i, twice.Stats.RemovedLines)
		}
	}
}

func TestCleanEmpty(t *testing.T) {
	res := Clean("")
	if res.Content != "" || res.Ratio != 0 {
		t.Errorf("Clean(\"\") = %+v", res)
	}
}

package eval

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/docanalysis"
	"github.com/brunobiangulo/docanalysis/docerr"
	"github.com/brunobiangulo/docanalysis/schema"
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ＤＣ２２０Ｖ", "dc220v"},
		{"0 ～ 120 V", "0-120v"},
		{"0–120V", "0-120v"},
		{"额定\u200B电压", "额定电压"},
		{"  Output   Power ", "outputpower"},
	}
	for _, tt := range tests {
		if got := normalizeValue(tt.in); got != tt.want {
			t.Errorf("normalizeValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFieldMatch(t *testing.T) {
	tests := []struct {
		got, want string
		match     bool
	}{
		{"六相微机继电保护测试仪", "继电保护测试仪", true},
		{"ZD-6", "zd\u20116", true},
		{"", "ZD-6", false},
		{"anything", "", true},
		{"变压器", "测试仪", false},
	}
	for _, tt := range tests {
		if got := fieldMatch(tt.got, tt.want); got != tt.match {
			t.Errorf("fieldMatch(%q, %q) = %v, want %v", tt.got, tt.want, got, tt.match)
		}
	}
}

func TestIdentityAccuracy(t *testing.T) {
	info := schema.BasicInfo{Name: "六相微机继电保护测试仪", Code: "ZD-6", Category: "其他"}

	if got := identityAccuracy(info, Expected{}); got != 1 {
		t.Errorf("nothing expected: %v", got)
	}
	got := identityAccuracy(info, Expected{Name: "继电保护测试仪", Code: "ZD-6", Category: "继电保护测试设备"})
	if math.Abs(got-2.0/3.0) > 1e-9 {
		t.Errorf("accuracy = %v, want 2/3", got)
	}
}

func TestCompareSpecs(t *testing.T) {
	got := schema.Specifications{
		"输出电压": {Value: "0-120", Unit: "V"},
		"频率":   {Value: "50Hz", Unit: "Hz"},
		"重量":   {Value: "15", Unit: "kg"},
	}
	want := map[string]string{
		"输出电压": "0~120V",
		"频率":   "50Hz",
		"精度":   "0.1%",
	}

	m := compareSpecs(got, want)
	if m.Matched != 2 {
		t.Fatalf("matched = %d, want 2 (missing %v)", m.Matched, m.Missing)
	}
	if math.Abs(m.Precision-2.0/3.0) > 1e-9 || math.Abs(m.Recall-2.0/3.0) > 1e-9 {
		t.Errorf("precision/recall = %v/%v", m.Precision, m.Recall)
	}
	if len(m.Missing) != 1 || m.Missing[0] != "精度" {
		t.Errorf("missing = %v", m.Missing)
	}
	if len(m.Extra) != 1 || m.Extra[0] != "重量" {
		t.Errorf("extra = %v", m.Extra)
	}

	t.Run("nothing expected", func(t *testing.T) {
		m := compareSpecs(got, nil)
		if m.Precision != 1 || m.Recall != 1 {
			t.Errorf("m = %+v", m)
		}
	})
	t.Run("nothing extracted", func(t *testing.T) {
		m := compareSpecs(nil, want)
		if m.Precision != 0 || m.Recall != 0 || len(m.Missing) != 3 {
			t.Errorf("m = %+v", m)
		}
	})
}

func TestF1(t *testing.T) {
	if f1(0, 0) != 0 {
		t.Error("f1(0,0) != 0")
	}
	if got := f1(1, 0.5); math.Abs(got-2.0/3.0) > 1e-9 {
		t.Errorf("f1(1, 0.5) = %v", got)
	}
}

// ---------------------------------------------------------------------------
// Dataset loading
// ---------------------------------------------------------------------------

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	content := `
cases:
  - file: docs/relay.docx
    category: docx
    expected:
      name: 继电保护测试仪
      code: ZD-6
      specifications:
        输出电压: 0~120V
  - file: /abs/broken.doc
    expect_error: corruption_error
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	ds, err := LoadDataset(path)
	if err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}
	if ds.Name != "relay" {
		t.Errorf("name = %q, want file stem", ds.Name)
	}
	if len(ds.Cases) != 2 {
		t.Fatalf("cases = %d", len(ds.Cases))
	}
	if got := ds.path(ds.Cases[0]); got != filepath.Join(dir, "docs", "relay.docx") {
		t.Errorf("relative path = %q", got)
	}
	if got := ds.path(ds.Cases[1]); got != "/abs/broken.doc" {
		t.Errorf("absolute path = %q", got)
	}
	if ds.Cases[0].Expected.Specifications["输出电压"] != "0~120V" {
		t.Errorf("expected = %+v", ds.Cases[0].Expected)
	}
	if ds.Cases[1].ExpectError != docerr.KindCorruption {
		t.Errorf("expect_error = %q", ds.Cases[1].ExpectError)
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`{"cases": [{"category": "x"}]}`), 0o644)
	if _, err := LoadDataset(bad); err == nil || !strings.Contains(err.Error(), "no file") {
		t.Errorf("err = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Evaluator
// ---------------------------------------------------------------------------

type fakeAnalyzer map[string]*docanalysis.AnalysisResult

func (f fakeAnalyzer) Analyze(_ context.Context, req docanalysis.AnalyzeRequest) *docanalysis.AnalysisResult {
	if r, ok := f[req.Filename]; ok {
		return r
	}
	return &docanalysis.AnalysisResult{ErrorType: docerr.KindUnknown, Error: "未知错误"}
}

func success(name, code string, specs schema.Specifications, overall float64) *docanalysis.AnalysisResult {
	return &docanalysis.AnalysisResult{
		Success: true,
		ExtractedData: &schema.ExtractedData{
			BasicInfo:      schema.BasicInfo{Name: name, Code: code},
			Specifications: specs,
		},
		ConfidenceScores: &docanalysis.ConfidenceScores{Overall: overall},
		DataQualityScore: 0.8,
		DebugInfo:        &docanalysis.DebugInfo{Tier: "detailed"},
	}
}

func TestEvaluatorRun(t *testing.T) {
	good := success("六相微机继电保护测试仪", "ZD-6", schema.Specifications{
		"输出电压": {Value: "0-120", Unit: "V"},
		"频率":   {Value: "50", Unit: "Hz"},
	}, 0.9)
	good.DebugInfo.Usage.PromptTokens = 100
	good.DebugInfo.Usage.CompletionTokens = 50
	good.DebugInfo.Usage.TotalTokens = 150

	wrong := success("其他", "", schema.Specifications{"频率": {Value: "60", Unit: "Hz"}}, 0.5)

	analyzer := fakeAnalyzer{
		"a.docx": good,
		"b.doc":  {ErrorType: docerr.KindCorruption, Error: "文档内容损坏"},
		"c.txt":  {ErrorType: docerr.KindAIService, Error: "AI服务异常"},
		"d.txt":  wrong,
	}
	ds := Dataset{
		Name: "relay",
		Cases: []Case{
			{File: "a.docx", Category: "docx", Expected: Expected{
				Name:           "继电保护测试仪",
				Code:           "ZD-6",
				Specifications: map[string]string{"输出电压": "0~120V", "频率": "50Hz"},
			}},
			{File: "b.doc", ExpectError: docerr.KindCorruption},
			{File: "c.txt", Expected: Expected{Name: "测试仪"}},
			{File: "d.txt", Category: "txt", Expected: Expected{
				Name:           "测试仪",
				Specifications: map[string]string{"频率": "50Hz"},
			}},
			{File: "missing.docx"},
		},
	}

	ev := NewEvaluator(analyzer)
	ev.SetConcurrency(3)
	ev.readFile = func(path string) ([]byte, error) {
		if path == "missing.docx" {
			return nil, os.ErrNotExist
		}
		return []byte("x"), nil
	}

	report, err := ev.Run(context.Background(), ds)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.TotalTests != 5 || report.Passed != 2 || report.Failed != 3 {
		t.Errorf("total/passed/failed = %d/%d/%d, want 5/2/3", report.TotalTests, report.Passed, report.Failed)
	}

	// Results keep dataset order.
	a := report.Results[0]
	if !a.Passed || a.IdentityAccuracy != 1 || a.SpecF1 != 1 {
		t.Errorf("a.docx = %+v", a)
	}
	if !report.Results[1].Passed {
		t.Errorf("expected error case failed: %+v", report.Results[1])
	}
	if c := report.Results[2]; c.Passed || c.Error == "" || c.ErrorType != docerr.KindAIService {
		t.Errorf("c.txt = %+v", c)
	}
	if d := report.Results[3]; d.Passed || d.IdentityAccuracy != 0 || d.SpecF1 != 0 {
		t.Errorf("d.txt = %+v", d)
	}
	if m := report.Results[4]; m.Passed || !strings.Contains(m.Error, "reading") {
		t.Errorf("missing.docx = %+v", m)
	}

	// Only a.docx and d.txt are scored.
	near := func(got, want float64) bool { return math.Abs(got-want) < 1e-9 }
	if !near(report.Metrics.AvgIdentityAccuracy, 0.5) || !near(report.Metrics.AvgSpecF1, 0.5) {
		t.Errorf("metrics = %+v", report.Metrics)
	}
	if !near(report.Metrics.AvgConfidence, 0.7) || !near(report.Metrics.CalibrationGap, 0.3) {
		t.Errorf("confidence/gap = %v/%v", report.Metrics.AvgConfidence, report.Metrics.CalibrationGap)
	}
	if report.ErrorTypes[docerr.KindCorruption] != 1 || report.ErrorTypes[docerr.KindAIService] != 1 {
		t.Errorf("error types = %v", report.ErrorTypes)
	}
	if len(report.CategoryMetrics) != 2 || report.CategoryMetrics["docx"].AvgSpecF1 != 1 {
		t.Errorf("category metrics = %+v", report.CategoryMetrics)
	}
	if report.TokenUsage.TotalTokens != 150 {
		t.Errorf("tokens = %+v", report.TokenUsage)
	}

	out := FormatReport(report)
	for _, want := range []string{"=== Evaluation Report: relay ===", "Passed: 2", "corruption_error", "[docx]", "Missing: 频率"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestEvaluatorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ev := NewEvaluator(fakeAnalyzer{})
	ev.readFile = func(string) ([]byte, error) { return []byte("x"), nil }
	_, err := ev.Run(ctx, Dataset{Name: "x", Cases: []Case{{File: "a.txt"}}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

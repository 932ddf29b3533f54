package validator

import (
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/brunobiangulo/docanalysis/schema"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func spec(value, unit string) schema.SpecValue {
	return schema.SpecValue{Value: value, Unit: unit}
}

func sample() *schema.ExtractedData {
	d := schema.Default()
	d.BasicInfo.Name = "测试仪"
	d.Confidence = schema.Confidence{BasicInfo: 0.9, Specifications: 0.8, Features: 0.5}
	return d
}

// ---------------------------------------------------------------------------
// Noise removal
// ---------------------------------------------------------------------------

func TestNoiseRemovalPenalty(t *testing.T) {
	d := sample()
	d.Specifications["额定电压"] = spec("380", "V")
	d.Specifications["额定电流"] = spec("100", "A")
	d.Specifications["HYPERLINK \\foo"] = schema.SpecValue{}
	d.Specifications["PAGE 3"] = schema.SpecValue{}

	rep := New().Validate(d, Context{Filename: "test.docx"})

	if !reflect.DeepEqual(rep.RemovedSpecs, []string{"HYPERLINK \\foo", "PAGE 3"}) {
		t.Errorf("removed = %v", rep.RemovedSpecs)
	}
	if len(d.Specifications) != 2 {
		t.Errorf("specs = %v", d.Specifications)
	}
	if !near(rep.NoiseRatio, 0.5) {
		t.Errorf("noise ratio = %v", rep.NoiseRatio)
	}
	if !near(d.Confidence.Specifications, 0.6) {
		t.Errorf("specifications confidence = %v, want 0.6", d.Confidence.Specifications)
	}
	if len(rep.Warnings) != 1 {
		t.Errorf("warnings = %v", rep.Warnings)
	}
	if !near(d.Confidence.Overall, 0.3*0.9+0.7*0.6) {
		t.Errorf("overall = %v", d.Confidence.Overall)
	}
}

func TestSmallNoiseNoPenalty(t *testing.T) {
	d := sample()
	for _, k := range []string{"额定电压", "额定电流", "额定功率", "额定频率"} {
		d.Specifications[k] = spec("1", "V")
	}
	d.Specifications["_Toc123456"] = schema.SpecValue{Value: "目录"}

	rep := New().Validate(d, Context{})
	if len(rep.RemovedSpecs) != 1 || len(rep.Warnings) != 0 {
		t.Errorf("report = %+v", rep)
	}
	if !near(d.Confidence.Specifications, 0.8) {
		t.Errorf("specifications confidence = %v, want 0.8", d.Confidence.Specifications)
	}
}

func TestTechnicalValueSurvivesNoisyName(t *testing.T) {
	d := sample()
	d.Specifications["HYPERLINK"] = spec("220", "V")
	rep := New().Validate(d, Context{})
	if len(rep.RemovedSpecs) != 0 {
		t.Errorf("removed = %v", rep.RemovedSpecs)
	}
}

// ---------------------------------------------------------------------------
// Identity repair
// ---------------------------------------------------------------------------

func TestIdentityRepairFromFilename(t *testing.T) {
	d := schema.Default()
	d.Specifications["输出相数"] = spec("6", "")
	d.Confidence = schema.Confidence{BasicInfo: 0.3, Specifications: 0.7}

	rep := New().Validate(d, Context{Filename: "六相微机继电保护测试仪.pdf"})

	bi := d.BasicInfo
	if !rep.IdentityRepaired {
		t.Fatal("identity not repaired")
	}
	if bi.Name != "六相微机继电保护测试仪" || bi.Category != "继电保护测试设备" {
		t.Errorf("basic_info = %+v", bi)
	}
	if bi.Description != RepairedDescription {
		t.Errorf("description = %q", bi.Description)
	}
	if !strings.HasPrefix(bi.Code, "AUTO-") || len(bi.Code) != len("AUTO-")+8 {
		t.Errorf("code = %q", bi.Code)
	}
	if d.Confidence.BasicInfo < 0.8 {
		t.Errorf("basic_info confidence = %v", d.Confidence.BasicInfo)
	}
}

func TestIdentityKeptWhenPresent(t *testing.T) {
	d := sample()
	d.BasicInfo.Category = "测试设备"
	d.BasicInfo.Code = "PW-636"
	d.Specifications["额定电压"] = spec("220", "V")

	rep := New().Validate(d, Context{Filename: "变压器.pdf"})
	if rep.IdentityRepaired {
		t.Error("identity repaired despite a name")
	}
	if d.BasicInfo.Name != "测试仪" || d.BasicInfo.Category != "测试设备" || d.BasicInfo.Code != "PW-636" {
		t.Errorf("basic_info = %+v", d.BasicInfo)
	}
	if !near(d.Confidence.BasicInfo, 0.9) {
		t.Errorf("basic_info confidence = %v", d.Confidence.BasicInfo)
	}
}

func TestNameWithoutSpecifications(t *testing.T) {
	d := schema.Default()
	d.Confidence.BasicInfo = 0.2

	rep := New().Validate(d, Context{Filename: "scan_001.pdf"})
	if rep.IdentityRepaired {
		t.Error("repair reported without specifications")
	}
	if d.BasicInfo.Name != UnknownProduct || d.BasicInfo.Code == "" {
		t.Errorf("basic_info = %+v", d.BasicInfo)
	}
	if !near(d.Confidence.BasicInfo, 0.2) {
		t.Errorf("basic_info confidence = %v", d.Confidence.BasicInfo)
	}
}

func TestRepairIdentityStandalone(t *testing.T) {
	d := schema.Default()
	d.Specifications["额定电压"] = spec("10", "kV")

	if !RepairIdentity(d, Context{Filename: "变压器产品说明书.docx", Text: "SCB10-1000 干式变压器"}) {
		t.Error("repair not reported")
	}
	if d.BasicInfo.Name != "变压器" || d.BasicInfo.Category != "变压器设备" {
		t.Errorf("basic_info = %+v", d.BasicInfo)
	}
	if d.BasicInfo.Code != "SCB10-1000" {
		t.Errorf("code = %q", d.BasicInfo.Code)
	}
	if RepairIdentity(nil, Context{}) {
		t.Error("nil data reported as repaired")
	}
}

func TestInferRule(t *testing.T) {
	tests := []struct {
		filename string
		keys     []string
		want     string
	}{
		{"继电保护测试仪.pdf", nil, "继电保护测试设备"},
		{"变压器参数.docx", nil, "变压器设备"},
		{"开关柜.pdf", nil, "开关设备"},
		{"scan.pdf", []string{"6相输出"}, "继电保护测试设备"},
		{"scan.pdf", []string{"Phase 6 output"}, "继电保护测试设备"},
		{"scan.pdf", []string{"额定电压"}, "电力设备"},
	}
	for _, tt := range tests {
		t.Run(tt.filename+strings.Join(tt.keys, ","), func(t *testing.T) {
			if got := inferRule(tt.filename, tt.keys).category; got != tt.want {
				t.Errorf("category = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNameFromFilename(t *testing.T) {
	tests := []struct {
		filename, want string
	}{
		{"变压器产品说明书.pdf", "变压器"},
		{`C:\docs\开关柜 使用手册.doc`, "开关柜"},
		{"scan.pdf", "fallback"},
		{"六相微机继电保护测试仪.pdf", "六相微机继电保护测试仪"},
	}
	for _, tt := range tests {
		if got := nameFromFilename(tt.filename, "fallback"); got != tt.want {
			t.Errorf("nameFromFilename(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestInferCode(t *testing.T) {
	specs := schema.Specifications{"型号": spec("PW-636", "")}
	if got := inferCode(specs, "x.pdf", "", "n"); got != "PW-636" {
		t.Errorf("from specs = %q", got)
	}
	if got := inferCode(nil, "KF-85A说明书.pdf", "", "n"); got != "KF-85A" {
		t.Errorf("from filename = %q", got)
	}
	if got := inferCode(nil, "x.pdf", "本产品 ONLLY-6108G 适用于", "n"); got != "ONLLY-6108G" {
		t.Errorf("from text = %q", got)
	}
	a, b := inferCode(nil, "x.pdf", "", "n"), inferCode(nil, "x.pdf", "", "n")
	if a != b || !strings.HasPrefix(a, "AUTO-") {
		t.Errorf("auto codes = %q, %q", a, b)
	}
}

// ---------------------------------------------------------------------------
// Confidence
// ---------------------------------------------------------------------------

func TestAgreementBonus(t *testing.T) {
	d := sample()
	d.Specifications["额定电压"] = spec("380", "V")
	d.Specifications["额定电流"] = spec("100", "A")

	rep := New().Validate(d, Context{
		TableFound: schema.Specifications{
			"额定电压": spec("380", "V"),
			"额定电流": spec("100", "A"),
		},
		TableAdded: []string{"额定电流"},
	})
	if !near(rep.AgreementBonus, 0.05) {
		t.Errorf("bonus = %v", rep.AgreementBonus)
	}
	if !near(d.Confidence.Specifications, 0.85) {
		t.Errorf("specifications confidence = %v", d.Confidence.Specifications)
	}
}

func TestDocQualityFactor(t *testing.T) {
	tests := []struct {
		quality, want float64
	}{
		{0.4, 0.8 * 0.9},
		{0.9, 0.8},
		{0, 0.8},
	}
	for _, tt := range tests {
		d := sample()
		d.Specifications["额定电压"] = spec("380", "V")
		New().Validate(d, Context{DocQuality: tt.quality})
		if !near(d.Confidence.Specifications, tt.want) {
			t.Errorf("quality %v: specifications confidence = %v, want %v", tt.quality, d.Confidence.Specifications, tt.want)
		}
	}
}

func TestHistoryFactor(t *testing.T) {
	tests := []struct {
		name    string
		history *History
		factor  float64
	}{
		{"accurate", &History{Accuracy: 0.95, Samples: 5}, 1.05},
		{"inaccurate", &History{Accuracy: 0.5, Samples: 10}, 0.9},
		{"middling", &History{Accuracy: 0.75, Samples: 10}, 1},
		{"too few samples", &History{Accuracy: 0.95, Samples: 4}, 1},
		{"none", nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sample()
			d.Confidence.BasicInfo = 0.8
			d.Specifications["额定电压"] = spec("380", "V")

			rep := New().Validate(d, Context{History: tt.history})
			if !near(rep.HistoryFactor, tt.factor) {
				t.Errorf("factor = %v", rep.HistoryFactor)
			}
			want := 0.8 * tt.factor
			if !near(d.Confidence.BasicInfo, want) || !near(d.Confidence.Specifications, want) {
				t.Errorf("confidence = %+v, want %v", d.Confidence, want)
			}
			if !near(d.Confidence.Overall, 0.3*want+0.7*want) {
				t.Errorf("overall = %v", d.Confidence.Overall)
			}
		})
	}
}

func TestConfidenceClamped(t *testing.T) {
	d := sample()
	d.Confidence.BasicInfo = 1
	d.Confidence.Specifications = 1
	d.Specifications["额定电压"] = spec("380", "V")
	New().Validate(d, Context{History: &History{Accuracy: 1, Samples: 20}})
	if d.Confidence.BasicInfo != 1 || d.Confidence.Specifications != 1 || d.Confidence.Overall != 1 {
		t.Errorf("confidence = %+v", d.Confidence)
	}
}

func TestFieldScores(t *testing.T) {
	d := sample()
	d.Specifications["额定电压"] = spec("380", "V")
	rep := New().Validate(d, Context{Filename: "x.pdf"})

	if rep.FieldScores["name"] != 0.9 {
		t.Errorf("name = %v", rep.FieldScores["name"])
	}
	if rep.FieldScores["code"] != 0.45 {
		t.Errorf("AUTO code = %v", rep.FieldScores["code"])
	}
	if s := rep.FieldScores["spec:额定电压"]; s <= 0 || s > 0.8 {
		t.Errorf("spec score = %v", s)
	}
}

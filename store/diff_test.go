package store

import (
	"reflect"
	"testing"

	"github.com/brunobiangulo/docanalysis/schema"
)

func TestDiff(t *testing.T) {
	orig := schema.Default()
	orig.BasicInfo.Name = "测试仪"
	orig.BasicInfo.Description = "旧描述"
	orig.Specifications["额定电压"] = schema.SpecValue{Value: "380", Unit: "V"}
	orig.Specifications["重量"] = schema.SpecValue{Value: "5kg", Unit: "kg"}

	final := orig.Clone()
	final.BasicInfo.Name = "六相继电保护测试仪"
	final.BasicInfo.Code = "PW-636"
	final.BasicInfo.Description = ""
	final.Specifications["额定电压"] = schema.SpecValue{Value: "400", Unit: "V"}
	delete(final.Specifications, "重量")

	want := []Modification{
		{FieldCode, ModAdded, "", "PW-636"},
		{FieldDescription, ModRemoved, "旧描述", ""},
		{FieldName, ModChanged, "测试仪", "六相继电保护测试仪"},
		{"spec:重量", ModRemoved, "5kg", ""},
		{"spec:额定电压", ModChanged, "380V", "400V"},
	}
	if got := Diff(orig, final); !reflect.DeepEqual(got, want) {
		t.Errorf("Diff =\n%+v\nwant\n%+v", got, want)
	}
}

func TestDiffIdentical(t *testing.T) {
	d := schema.Default()
	d.BasicInfo.Name = "x"
	d.Specifications["a"] = schema.SpecValue{Value: "1"}
	if got := Diff(d, d.Clone()); len(got) != 0 {
		t.Errorf("Diff of identical = %+v", got)
	}
	if got := fieldCount(d, d); got != 5 {
		t.Errorf("fieldCount = %d, want 5", got)
	}
}

func TestAccuracy(t *testing.T) {
	tests := []struct {
		mods, fields int
		want         float64
	}{
		{0, 6, 1},
		{3, 6, 0.5},
		{9, 6, 0},
		{0, 0, 1},
	}
	for _, tt := range tests {
		if got := accuracy(tt.mods, tt.fields); got != tt.want {
			t.Errorf("accuracy(%d, %d) = %v, want %v", tt.mods, tt.fields, got, tt.want)
		}
	}
}

func TestHintFor(t *testing.T) {
	tests := []struct {
		field, modType, want string
	}{
		{"spec:额定电压", ModChanged, "请仔细核对参数「额定电压」的数值和单位"},
		{"spec:额定电流", ModAdded, "不要遗漏参数「额定电流」"},
		{"spec:页码", ModRemoved, "不要将参数「页码」作为技术参数提取"},
		{FieldCode, ModAdded, "务必提取产品型号"},
		{FieldDescription, ModRemoved, "文档未明确给出产品描述时请留空"},
		{FieldCategory, ModChanged, "请从文档标题或型号栏准确提取产品类别"},
	}
	for _, tt := range tests {
		if got := hintFor(tt.field, tt.modType); got != tt.want {
			t.Errorf("hintFor(%s, %s) = %q, want %q", tt.field, tt.modType, got, tt.want)
		}
	}
}

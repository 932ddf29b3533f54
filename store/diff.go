package store

import (
	"sort"
	"strings"

	"github.com/brunobiangulo/docanalysis/schema"
)

// Modification types.
const (
	ModAdded   = "added"
	ModRemoved = "removed"
	ModChanged = "changed"
)

// Field names for the identity block. Specifications use "spec:<name>".
const (
	FieldName        = "basic_info.name"
	FieldCode        = "basic_info.code"
	FieldCategory    = "basic_info.category"
	FieldDescription = "basic_info.description"
	specPrefix       = "spec:"
)

// Modification is one field-level difference between an analysis and the
// result the user approved.
type Modification struct {
	Field         string `json:"field"`
	Type          string `json:"type"`
	OriginalValue string `json:"original_value"`
	FinalValue    string `json:"final_value"`
}

// Diff lists the identity and specification fields that differ between
// original and final, sorted by field.
func Diff(original, final *schema.ExtractedData) []Modification {
	if original == nil {
		original = schema.Default()
	}
	if final == nil {
		final = schema.Default()
	}
	var mods []Modification
	add := func(field, before, after string) {
		before, after = strings.TrimSpace(before), strings.TrimSpace(after)
		switch {
		case before == after:
		case before == "":
			mods = append(mods, Modification{field, ModAdded, before, after})
		case after == "":
			mods = append(mods, Modification{field, ModRemoved, before, after})
		default:
			mods = append(mods, Modification{field, ModChanged, before, after})
		}
	}

	ob, fb := original.BasicInfo, final.BasicInfo
	add(FieldName, ob.Name, fb.Name)
	add(FieldCode, ob.Code, fb.Code)
	add(FieldCategory, ob.Category, fb.Category)
	add(FieldDescription, ob.Description, fb.Description)

	for _, k := range specUnion(original.Specifications, final.Specifications) {
		before, inOriginal := original.Specifications[k]
		after, inFinal := final.Specifications[k]
		b, a := "", ""
		if inOriginal {
			b = display(before)
		}
		if inFinal {
			a = display(after)
		}
		add(specPrefix+k, b, a)
	}

	sort.Slice(mods, func(i, j int) bool { return mods[i].Field < mods[j].Field })
	return mods
}

// fieldCount is the number of fields Diff compares.
func fieldCount(original, final *schema.ExtractedData) int {
	n := 4
	if original != nil && final != nil {
		n += len(specUnion(original.Specifications, final.Specifications))
	}
	return n
}

// accuracy is the share of compared fields the user left untouched.
func accuracy(mods int, fields int) float64 {
	if fields <= 0 {
		return 1
	}
	a := 1 - float64(mods)/float64(fields)
	if a < 0 {
		return 0
	}
	return a
}

func specUnion(a, b schema.Specifications) []string {
	seen := make(map[string]bool, len(a)+len(b))
	keys := make([]string, 0, len(a)+len(b))
	for _, m := range []schema.Specifications{a, b} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func display(sv schema.SpecValue) string {
	if sv.Unit == "" || strings.HasSuffix(sv.Value, sv.Unit) {
		return sv.Value
	}
	return sv.Value + sv.Unit
}

// fieldLabel renders a field for prompts and reports.
func fieldLabel(field string) string {
	switch field {
	case FieldName:
		return "产品名称"
	case FieldCode:
		return "产品型号"
	case FieldCategory:
		return "产品类别"
	case FieldDescription:
		return "产品描述"
	}
	return "参数「" + strings.TrimPrefix(field, specPrefix) + "」"
}

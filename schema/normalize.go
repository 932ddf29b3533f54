package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/brunobiangulo/docanalysis/lexicon"
)

// FromJSON decodes a JSON object and normalizes it.
func FromJSON(b []byte) (*ExtractedData, error) {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decoding extracted data: %w", err)
	}
	return Normalize(raw), nil
}

// Normalize coerces an arbitrary decoded JSON object into ExtractedData.
// Missing keys get defaults, numbers and strings are converted in either
// direction, lists default to [] and objects to {}. Normalizing an already
// normalized value is a no-op.
func Normalize(raw map[string]any) *ExtractedData {
	d := Default()
	if raw == nil {
		return d
	}

	bi := asMap(raw["basic_info"])
	d.BasicInfo = BasicInfo{
		Name:           str(bi["name"]),
		Code:           str(bi["code"]),
		Category:       str(bi["category"]),
		Description:    str(bi["description"]),
		BasePrice:      price(bi["base_price"]),
		IsActive:       boolOr(bi["is_active"], true),
		IsConfigurable: boolOr(bi["is_configurable"], false),
	}

	d.Specifications = normalizeSpecs(raw["specifications"])

	for _, item := range asList(raw["features"]) {
		switch v := item.(type) {
		case map[string]any:
			f := Feature{Title: str(v["title"]), Description: str(v["description"]), Icon: str(v["icon"])}
			if f.Title == "" {
				f.Title = str(v["name"])
			}
			if f.Title != "" || f.Description != "" {
				d.Features = append(d.Features, f)
			}
		default:
			if s := str(v); s != "" {
				d.Features = append(d.Features, Feature{Title: s})
			}
		}
	}

	for i, item := range asList(raw["application_scenarios"]) {
		sc := Scenario{SortOrder: i + 1}
		switch v := item.(type) {
		case map[string]any:
			sc.Name = str(v["name"])
			sc.Icon = str(v["icon"])
			if n, ok := number(v["sort_order"]); ok {
				sc.SortOrder = int(n)
			}
		default:
			sc.Name = str(v)
		}
		if sc.Name != "" {
			d.ApplicationScenarios = append(d.ApplicationScenarios, sc)
		}
	}

	for _, item := range asList(raw["accessories"]) {
		a := Accessory{Type: AccessoryStandard}
		switch v := item.(type) {
		case map[string]any:
			a.Name = str(v["name"])
			a.Description = str(v["description"])
			a.Type = accessoryType(str(v["type"]))
		default:
			a.Name = str(v)
		}
		if a.Name != "" {
			d.Accessories = append(d.Accessories, a)
		}
	}

	for _, item := range asList(raw["certificates"]) {
		var c Certificate
		switch v := item.(type) {
		case map[string]any:
			c = Certificate{
				Name:              str(v["name"]),
				Type:              str(v["type"]),
				CertificateNumber: str(v["certificate_number"]),
				Description:       str(v["description"]),
			}
		default:
			c.Name = str(v)
		}
		if c.Name != "" {
			d.Certificates = append(d.Certificates, c)
		}
	}

	si := asMap(raw["support_info"])
	w := asMap(si["warranty"])
	ci := asMap(si["contact_info"])
	d.SupportInfo = SupportInfo{
		Warranty: Warranty{
			Period:   str(w["period"]),
			Coverage: str(w["coverage"]),
			Terms:    strList(w["terms"]),
		},
		ContactInfo: ContactInfo{
			Phones:  strList(firstOf(ci, "phones", "phone")),
			Emails:  strList(firstOf(ci, "emails", "email")),
			Address: str(ci["address"]),
			Website: str(ci["website"]),
		},
		ServicePromises: strList(si["service_promises"]),
	}

	d.Confidence = normalizeConfidence(asMap(raw["confidence"]))
	d.ensureCollections()
	return d
}

func normalizeConfidence(c map[string]any) Confidence {
	conf := Confidence{
		BasicInfo:      unit(c["basic_info"]),
		Specifications: unit(c["specifications"]),
		Features:       unit(c["features"]),
	}
	if _, ok := number(c["overall"]); ok {
		conf.Overall = unit(c["overall"])
	} else {
		conf.Overall = (conf.BasicInfo + conf.Specifications + conf.Features) / 3
	}
	return conf
}

func normalizeSpecs(v any) Specifications {
	specs := Specifications{}
	switch sv := v.(type) {
	case map[string]any:
		for k, val := range sv {
			name := strings.TrimSpace(k)
			if name == "" {
				continue
			}
			specs[name] = NormalizeSpecValue(val)
		}
	case []any:
		// [{"name": ..., "value": ..., "unit": ...}] lists.
		for _, item := range sv {
			m := asMap(item)
			name := strings.TrimSpace(str(firstOf(m, "name", "parameter", "key")))
			if name == "" {
				continue
			}
			specs[name] = NormalizeSpecValue(m)
		}
	}
	return specs
}

// leadingNumberUnit splits "380V" or "1.5 kW" into number and unit.
var leadingNumberUnit = regexp.MustCompile(`^([-+]?\d+(?:\.\d+)?)\s*(` + lexicon.UnitAlternation + `)$`)

// NormalizeSpecValue coerces any JSON value into a SpecValue.
func NormalizeSpecValue(v any) SpecValue {
	var sv SpecValue
	switch t := v.(type) {
	case map[string]any:
		sv.Value = str(firstOf(t, "value", "val"))
		sv.Unit = str(t["unit"])
		sv.Description = str(t["description"])
		if n, ok := number(t["numeric_value"]); ok {
			sv.NumericValue = &n
		}
		if r := asMap(t["range"]); len(r) > 0 {
			lo, okLo := number(r["min"])
			hi, okHi := number(r["max"])
			if okLo && okHi {
				sv.Range = &Range{Min: lo, Max: hi}
			}
		}
		if n, ok := number(t["tolerance"]); ok {
			sv.Tolerance = &n
		}
	case []any:
		sv.Value = strings.Join(strList(t), ", ")
	default:
		sv.Value = str(t)
	}

	if sv.Unit == "" {
		if m := leadingNumberUnit.FindStringSubmatch(sv.Value); m != nil {
			sv.Value, sv.Unit = m[1], m[2]
		}
	}
	if sv.NumericValue == nil && sv.Range == nil {
		if n, err := strconv.ParseFloat(sv.Value, 64); err == nil && !math.IsInf(n, 0) && !math.IsNaN(n) {
			sv.NumericValue = &n
		}
	}
	return sv
}

func accessoryType(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "optional", "选配", "可选", "选购":
		return AccessoryOptional
	default:
		return AccessoryStandard
	}
}

// --- coercion helpers ---

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case nil:
		return nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return []any{t}
	default:
		return nil
	}
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func strList(v any) []string {
	out := []string{}
	for _, item := range asList(v) {
		if s := str(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

var priceNumber = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)

// price parses prices such as 12800, "12,800.00", "¥12,800元".
func price(v any) float64 {
	if n, ok := number(v); ok {
		return n
	}
	s := strings.ReplaceAll(str(v), ",", "")
	s = strings.ReplaceAll(s, "，", "")
	if m := priceNumber.FindString(s); m != "" {
		if f, err := strconv.ParseFloat(m, 64); err == nil {
			return f
		}
	}
	return 0
}

func boolOr(v any, def bool) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1", "是":
			return true
		case "false", "no", "0", "否":
			return false
		}
	case float64:
		return t != 0
	}
	return def
}

// unit coerces a confidence to [0,1], reading values above 1 as percentages.
func unit(v any) float64 {
	n, ok := number(v)
	if !ok {
		return 0
	}
	if n > 1 && n <= 100 {
		n /= 100
	}
	return clampUnit(n)
}

func clampUnit(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func sortedKeys(m Specifications) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

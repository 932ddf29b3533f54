// Package schema defines ExtractedData, the structure every analysis emits,
// together with its defaults, type-coercing normalization and JSON-Schema
// validation.
package schema

import "encoding/json"

// ExtractedData is the structured description of one product.
type ExtractedData struct {
	BasicInfo            BasicInfo      `json:"basic_info"`
	Specifications       Specifications `json:"specifications"`
	Features             []Feature      `json:"features"`
	ApplicationScenarios []Scenario     `json:"application_scenarios"`
	Accessories          []Accessory    `json:"accessories"`
	Certificates         []Certificate  `json:"certificates"`
	SupportInfo          SupportInfo    `json:"support_info"`
	Confidence           Confidence     `json:"confidence"`
}

// BasicInfo is the product identity block.
type BasicInfo struct {
	Name           string  `json:"name"`
	Code           string  `json:"code"`
	Category       string  `json:"category"`
	Description    string  `json:"description"`
	BasePrice      float64 `json:"base_price"`
	IsActive       bool    `json:"is_active"`
	IsConfigurable bool    `json:"is_configurable"`
}

// Specifications maps a trimmed, non-empty parameter name to its value.
type Specifications map[string]SpecValue

// SpecValue is the single variant every specification value is coerced to.
// Value is the mandatory display string; the numeric fields are optional.
type SpecValue struct {
	Value        string   `json:"value"`
	Unit         string   `json:"unit"`
	Description  string   `json:"description"`
	NumericValue *float64 `json:"numeric_value,omitempty"`
	Range        *Range   `json:"range,omitempty"`
	Tolerance    *float64 `json:"tolerance,omitempty"`
}

// Range is an inclusive numeric range.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Feature is a product selling point.
type Feature struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// Scenario is an application scenario.
type Scenario struct {
	Name      string `json:"name"`
	Icon      string `json:"icon"`
	SortOrder int    `json:"sort_order"`
}

// Accessory types.
const (
	AccessoryStandard = "standard"
	AccessoryOptional = "optional"
)

// Accessory is a shipped or optional accessory.
type Accessory struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// Certificate is a product certification.
type Certificate struct {
	Name              string `json:"name"`
	Type              string `json:"type"`
	CertificateNumber string `json:"certificate_number"`
	Description       string `json:"description"`
}

// SupportInfo groups warranty and service information.
type SupportInfo struct {
	Warranty        Warranty    `json:"warranty"`
	ContactInfo     ContactInfo `json:"contact_info"`
	ServicePromises []string    `json:"service_promises"`
}

// Warranty terms.
type Warranty struct {
	Period   string   `json:"period"`
	Coverage string   `json:"coverage"`
	Terms    []string `json:"terms"`
}

// ContactInfo holds support contacts.
type ContactInfo struct {
	Phones  []string `json:"phones"`
	Emails  []string `json:"emails"`
	Address string   `json:"address"`
	Website string   `json:"website"`
}

// Confidence holds per-group and overall confidence, each in [0,1].
type Confidence struct {
	BasicInfo      float64 `json:"basic_info"`
	Specifications float64 `json:"specifications"`
	Features       float64 `json:"features"`
	Overall        float64 `json:"overall"`
}

// Default returns the empty schema with every top-level key present.
func Default() *ExtractedData {
	return &ExtractedData{
		BasicInfo:            BasicInfo{IsActive: true},
		Specifications:       Specifications{},
		Features:             []Feature{},
		ApplicationScenarios: []Scenario{},
		Accessories:          []Accessory{},
		Certificates:         []Certificate{},
		SupportInfo: SupportInfo{
			Warranty:        Warranty{Terms: []string{}},
			ContactInfo:     ContactInfo{Phones: []string{}, Emails: []string{}},
			ServicePromises: []string{},
		},
	}
}

// Diagnostic returns the deterministic fallback used when no model output
// could be interpreted.
func Diagnostic(reason string) *ExtractedData {
	d := Default()
	d.BasicInfo.Description = reason
	d.Confidence = Confidence{BasicInfo: 0.05, Specifications: 0.05, Features: 0.05, Overall: 0.05}
	return d
}

// Clone returns a deep copy.
func (d *ExtractedData) Clone() *ExtractedData {
	b, err := json.Marshal(d)
	if err != nil {
		return Default()
	}
	out := Default()
	if err := json.Unmarshal(b, out); err != nil {
		return Default()
	}
	out.ensureCollections()
	return out
}

// ToMap converts d into its generic JSON form.
func (d *ExtractedData) ToMap() map[string]any {
	b, err := json.Marshal(d)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// ensureCollections replaces nil slices and maps so the JSON form always
// carries [] and {} rather than null.
func (d *ExtractedData) ensureCollections() {
	if d.Specifications == nil {
		d.Specifications = Specifications{}
	}
	if d.Features == nil {
		d.Features = []Feature{}
	}
	if d.ApplicationScenarios == nil {
		d.ApplicationScenarios = []Scenario{}
	}
	if d.Accessories == nil {
		d.Accessories = []Accessory{}
	}
	if d.Certificates == nil {
		d.Certificates = []Certificate{}
	}
	if d.SupportInfo.Warranty.Terms == nil {
		d.SupportInfo.Warranty.Terms = []string{}
	}
	if d.SupportInfo.ContactInfo.Phones == nil {
		d.SupportInfo.ContactInfo.Phones = []string{}
	}
	if d.SupportInfo.ContactInfo.Emails == nil {
		d.SupportInfo.ContactInfo.Emails = []string{}
	}
	if d.SupportInfo.ServicePromises == nil {
		d.SupportInfo.ServicePromises = []string{}
	}
}

// SpecKeys returns the specification names in sorted order.
func (d *ExtractedData) SpecKeys() []string {
	return sortedKeys(d.Specifications)
}

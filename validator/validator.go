// Package validator is the last stage of an analysis: it removes
// specifications that are converter noise, repairs a missing product
// identity from the filename and specification keys, and computes the
// per-field and overall confidence.
package validator

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/brunobiangulo/docanalysis/lexicon"
	"github.com/brunobiangulo/docanalysis/schema"
)

// MaxNoiseDrop is the fraction of specifications that may be removed as
// noise before the specifications confidence is penalised.
const MaxNoiseDrop = 0.3

// History is a user's past accuracy on one document type.
type History struct {
	Accuracy float64 `json:"accuracy"`
	Samples  int     `json:"samples"`
}

// Context carries everything the validator looks at besides the data.
type Context struct {
	Filename string
	Text     string

	// DocQuality is the quality gate score in [0,1]; zero means unknown.
	DocQuality float64

	// TableFound holds every specification the table parser recognised and
	// TableAdded the names it contributed beyond the model's output.
	TableFound schema.Specifications
	TableAdded []string

	History *History
}

// Report describes what validation changed.
type Report struct {
	Warnings         []string           `json:"warnings"`
	RemovedSpecs     []string           `json:"removed_specs"`
	NoiseRatio       float64            `json:"noise_ratio"`
	IdentityRepaired bool               `json:"identity_repaired"`
	AgreementBonus   float64            `json:"agreement_bonus"`
	QualityFactor    float64            `json:"quality_factor"`
	HistoryFactor    float64            `json:"history_factor"`
	FieldScores      map[string]float64 `json:"field_scores"`
}

// Validator holds the scoring weights. It keeps no per-call state.
type Validator struct {
	weights Weights
}

// New returns a Validator with DefaultWeights.
func New() *Validator {
	return &Validator{weights: DefaultWeights()}
}

// NewWithWeights returns a Validator with custom weights.
func NewWithWeights(w Weights) *Validator {
	return &Validator{weights: w}
}

// Validate filters, repairs and scores data in place.
func (v *Validator) Validate(data *schema.ExtractedData, vc Context) Report {
	rep := Report{
		Warnings:      []string{},
		RemovedSpecs:  []string{},
		QualityFactor: 1,
		HistoryFactor: 1,
	}

	before := len(data.Specifications)
	rep.RemovedSpecs = removeNoise(data.Specifications)
	if before > 0 {
		rep.NoiseRatio = float64(len(rep.RemovedSpecs)) / float64(before)
	}
	if rep.NoiseRatio > MaxNoiseDrop {
		factor := 1 - rep.NoiseRatio*0.5
		data.Confidence.Specifications *= factor
		rep.Warnings = append(rep.Warnings, fmt.Sprintf(
			"%d of %d specifications were document noise; specifications confidence reduced by %.0f%%",
			len(rep.RemovedSpecs), before, (1-factor)*100))
	}

	rep.IdentityRepaired = repairIdentity(data, vc)
	if rep.IdentityRepaired {
		rep.Warnings = append(rep.Warnings, "product identity inferred from filename and specifications")
	}

	v.score(data, vc, &rep)

	slog.Debug("validator: complete",
		"removed", len(rep.RemovedSpecs),
		"noise_ratio", rep.NoiseRatio,
		"identity_repaired", rep.IdentityRepaired,
		"overall", data.Confidence.Overall,
	)
	return rep
}

// removeNoise deletes specifications whose name or value is a noise
// artefact and returns their names, sorted. A value that carries technical
// information keeps its entry.
func removeNoise(specs schema.Specifications) []string {
	removed := []string{}
	for name, sv := range specs {
		if isNoise(name, sv) {
			delete(specs, name)
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	return removed
}

func isNoise(name string, sv schema.SpecValue) bool {
	value := display(sv)
	if lexicon.IsTechnical(value) {
		return false
	}
	if lexicon.IsNoise(name) || (value != "" && lexicon.IsNoise(value)) {
		return true
	}
	stripped, n := lexicon.StripInline(name)
	return n > 0 && stripped == ""
}

func display(sv schema.SpecValue) string {
	if sv.Unit == "" || strings.HasSuffix(sv.Value, sv.Unit) {
		return sv.Value
	}
	return sv.Value + sv.Unit
}

package validator

import (
	"math"
	"strings"

	"github.com/brunobiangulo/docanalysis/schema"
	"github.com/brunobiangulo/docanalysis/tables"
)

// Weights controls how group confidences combine and how the external
// signals adjust them.
type Weights struct {
	BasicInfo      float64 // share of basic_info in overall
	Specifications float64 // share of specifications in overall

	AgreementMax     float64 // bonus when every model spec matches the tables
	QualityThreshold float64 // document quality below this scales specs down

	HistoryMinSamples int
	HistoryHigh       float64 // accuracy at or above this boosts
	HistoryLow        float64 // accuracy below this penalises
	HistoryBoost      float64
	HistoryPenalty    float64
}

// DefaultWeights returns the production weights.
func DefaultWeights() Weights {
	return Weights{
		BasicInfo:         0.3,
		Specifications:    0.7,
		AgreementMax:      0.05,
		QualityThreshold:  0.6,
		HistoryMinSamples: 5,
		HistoryHigh:       0.9,
		HistoryLow:        0.6,
		HistoryBoost:      1.05,
		HistoryPenalty:    0.9,
	}
}

// maxValidity is the highest score tables.Validity can give.
const maxValidity = 95

func (v *Validator) score(data *schema.ExtractedData, vc Context, rep *Report) {
	w := v.weights
	c := &data.Confidence

	if ratio := agreement(data.Specifications, vc); ratio > 0 {
		rep.AgreementBonus = ratio * w.AgreementMax
		c.Specifications += rep.AgreementBonus
	}

	if q := vc.DocQuality; q > 0 && q < w.QualityThreshold {
		rep.QualityFactor = 0.7 + 0.5*q
		c.Specifications *= rep.QualityFactor
	}

	if h := vc.History; h != nil && h.Samples >= w.HistoryMinSamples {
		switch {
		case h.Accuracy >= w.HistoryHigh:
			rep.HistoryFactor = w.HistoryBoost
		case h.Accuracy < w.HistoryLow:
			rep.HistoryFactor = w.HistoryPenalty
		}
		c.BasicInfo *= rep.HistoryFactor
		c.Specifications *= rep.HistoryFactor
	}

	c.BasicInfo = clamp01(c.BasicInfo)
	c.Specifications = clamp01(c.Specifications)
	c.Features = clamp01(c.Features)
	c.Overall = clamp01(w.BasicInfo*c.BasicInfo + w.Specifications*c.Specifications)

	rep.FieldScores = fieldScores(data)
}

// agreement returns the fraction of the model's specifications that the
// table parser found with the same value.
func agreement(specs schema.Specifications, vc Context) float64 {
	if len(vc.TableFound) == 0 {
		return 0
	}
	added := make(map[string]bool, len(vc.TableAdded))
	for _, n := range vc.TableAdded {
		added[n] = true
	}
	model, agreed := 0, 0
	for name, sv := range specs {
		if added[name] {
			continue
		}
		model++
		if found, ok := vc.TableFound[tables.Fold(name)]; ok && sameValue(sv, found) {
			agreed++
		}
	}
	if model == 0 {
		return 0
	}
	return float64(agreed) / float64(model)
}

func sameValue(a, b schema.SpecValue) bool {
	norm := func(sv schema.SpecValue) string {
		return strings.ReplaceAll(tables.Fold(display(sv)), " ", "")
	}
	return norm(a) == norm(b)
}

// fieldScores rates the identity fields by the basic_info confidence and
// each specification by its validity scaled by the specifications
// confidence.
func fieldScores(data *schema.ExtractedData) map[string]float64 {
	c := data.Confidence
	scores := map[string]float64{"name": 0, "code": 0, "category": 0}
	bi := data.BasicInfo
	if bi.Name != "" {
		scores["name"] = round2(c.BasicInfo)
	}
	if bi.Code != "" {
		code := c.BasicInfo
		if strings.HasPrefix(bi.Code, "AUTO-") {
			code *= 0.5
		}
		scores["code"] = round2(code)
	}
	if bi.Category != "" {
		scores["category"] = round2(c.BasicInfo)
	}
	for name, sv := range data.Specifications {
		validity := clamp01(float64(tables.Validity(name, display(sv))) / maxValidity)
		scores["spec:"+name] = round2(validity * c.Specifications)
	}
	return scores
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

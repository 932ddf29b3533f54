package tables

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"github.com/brunobiangulo/docanalysis/lexicon"
	"github.com/brunobiangulo/docanalysis/schema"
)

const (
	num            = `([-+]?\d+(?:\.\d+)?)`
	unitGroup      = `(` + lexicon.UnitNames + `)`
	unitOrPctGroup = `(` + lexicon.UnitNames + `|%)`
)

// The value patterns, tried in order; the first match wins.
var (
	numberUnitValue = regexp.MustCompile(`^` + num + `\s*` + unitGroup + `$`)
	rangeValue      = regexp.MustCompile(`^` + num + `\s*` + unitGroup + `?\s*(?:-|~|至|到)\s*` + num + `\s*` + unitOrPctGroup + `?$`)
	toleranceValue  = regexp.MustCompile(`^(?:` + num + `\s*` + unitGroup + `?\s*)?(?:±|\+/-)\s*(\d+(?:\.\d+)?)\s*` + unitOrPctGroup + `?$`)
	percentValue    = regexp.MustCompile(`^` + num + `\s*%$`)
	scientificValue = regexp.MustCompile(`^` + num + `\s*(?:[eE]|[×xX*]\s*10\^?)\s*([-+]?\d+)\s*` + unitGroup + `?$`)

	bareNumber = regexp.MustCompile(`^` + num + `$`)
	unitOnly   = regexp.MustCompile(`^` + lexicon.UnitAlternation + `$`)
)

// Fold narrows full-width characters so "３８０Ｖ" and "0～120" parse like
// their ASCII forms.
func Fold(s string) string {
	return strings.TrimSpace(width.Narrow.String(s))
}

// ParseValue turns a table cell into a SpecValue, trying number+unit,
// range, tolerance, percentage and scientific notation in that order.
// A value matching none of them is kept as display text only.
func ParseValue(s string) schema.SpecValue {
	s = Fold(s)
	sv := schema.SpecValue{Value: s}

	if m := numberUnitValue.FindStringSubmatch(s); m != nil {
		sv.Value, sv.Unit = m[1], m[2]
		sv.NumericValue = floatPtr(m[1])
		return sv
	}
	if m := rangeValue.FindStringSubmatch(s); m != nil {
		lo, hi := parseFloat(m[1]), parseFloat(m[3])
		if lo > hi {
			lo, hi = hi, lo
		}
		sv.Range = &schema.Range{Min: lo, Max: hi}
		sv.Unit = firstNonEmpty(m[4], m[2])
		sv.Value = m[1] + "~" + m[3]
		return sv
	}
	if m := toleranceValue.FindStringSubmatch(s); m != nil {
		sv.Tolerance = floatPtr(m[3])
		if m[1] != "" {
			sv.Value = m[1]
			sv.NumericValue = floatPtr(m[1])
			sv.Unit = m[2]
		} else {
			sv.Value = "±" + m[3]
			sv.Unit = m[4]
		}
		return sv
	}
	if m := percentValue.FindStringSubmatch(s); m != nil {
		sv.Value, sv.Unit = m[1], "%"
		sv.NumericValue = floatPtr(m[1])
		return sv
	}
	if m := scientificValue.FindStringSubmatch(s); m != nil {
		mant, exp := parseFloat(m[1]), parseFloat(m[2])
		sv.NumericValue = ptr(mant * math.Pow(10, exp))
		sv.Unit = m[3]
		return sv
	}
	if m := bareNumber.FindStringSubmatch(s); m != nil {
		sv.NumericValue = floatPtr(m[1])
	}
	return sv
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func floatPtr(s string) *float64 { return ptr(parseFloat(s)) }

func ptr(f float64) *float64 { return &f }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

package eval

import (
	"maps"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/width"

	"github.com/brunobiangulo/docanalysis/schema"
)

// normalizeValue folds text so that labels and values written with
// full-width forms, odd hyphens, zero-width characters or different spacing
// compare equal.
func normalizeValue(s string) string {
	s = width.Fold.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			// dropped
		case r == '\u2010' || r == '\u2011' || r == '\u2012' || r == '\u2013' || r == '\u2014' || r == '\u301C' || r == '~':
			b.WriteByte('-')
		case r == '\u200B' || r == '\u200C' || r == '\u200D' || r == '\uFEFF':
			// strip zero-width characters
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// fieldMatch reports whether an extracted value matches the expected one.
// The extracted value may carry extra text around the expected value
// (e.g. a model suffix on a product name).
func fieldMatch(got, want string) bool {
	g, w := normalizeValue(got), normalizeValue(want)
	if w == "" {
		return true
	}
	if g == "" {
		return false
	}
	return g == w || strings.Contains(g, w)
}

// identityAccuracy is the fraction of the expected identity fields
// (name, code, category) that were extracted correctly. Returns 1 when
// nothing is expected.
func identityAccuracy(info schema.BasicInfo, want Expected) float64 {
	pairs := [][2]string{
		{info.Name, want.Name},
		{info.Code, want.Code},
		{info.Category, want.Category},
	}
	scored, hits := 0, 0
	for _, p := range pairs {
		if strings.TrimSpace(p[1]) == "" {
			continue
		}
		scored++
		if fieldMatch(p[0], p[1]) {
			hits++
		}
	}
	if scored == 0 {
		return 1
	}
	return float64(hits) / float64(scored)
}

// specValue renders an extracted spec the way labels are written in
// datasets: value immediately followed by its unit.
func specValue(v schema.SpecValue) string {
	if v.Unit == "" || strings.HasSuffix(v.Value, v.Unit) {
		return v.Value
	}
	return v.Value + v.Unit
}

// specMatch is the outcome of comparing extracted specifications against
// the expected ones.
type specMatch struct {
	Precision float64
	Recall    float64
	Matched   int
	Missing   []string
	Extra     []string
}

// compareSpecs matches specs by normalized name; a matched name also needs
// a matching value. Extra lists extracted names that were not expected.
func compareSpecs(got schema.Specifications, want map[string]string) specMatch {
	if len(want) == 0 {
		return specMatch{Precision: 1, Recall: 1}
	}

	byName := make(map[string]schema.SpecValue, len(got))
	gotNames := make(map[string]string, len(got)) // normalized -> original
	for name, v := range got {
		n := normalizeValue(name)
		byName[n] = v
		gotNames[n] = name
	}

	var m specMatch
	used := make(map[string]bool, len(want))
	for _, name := range slices.Sorted(maps.Keys(want)) {
		n := normalizeValue(name)
		v, ok := byName[n]
		if ok && fieldMatch(specValue(v), want[name]) {
			m.Matched++
			used[n] = true
			continue
		}
		m.Missing = append(m.Missing, name)
	}
	for n, orig := range gotNames {
		if !used[n] {
			m.Extra = append(m.Extra, orig)
		}
	}
	slices.Sort(m.Extra)

	m.Recall = float64(m.Matched) / float64(len(want))
	if len(got) > 0 {
		m.Precision = float64(m.Matched) / float64(len(got))
	}
	return m
}

func f1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

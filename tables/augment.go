package tables

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/brunobiangulo/docanalysis/lexicon"
	"github.com/brunobiangulo/docanalysis/schema"
)

// MinValidity is the score a specification needs to be kept.
const MinValidity = 30

var (
	nameLetters = regexp.MustCompile(`[A-Za-z\p{Han}]`)
	unitInValue = regexp.MustCompile(`\d\s*` + lexicon.UnitAlternation)
)

// Validity scores a specification on name length, digits and units in the
// value, letters in the name, ranges and ratios, and technical keywords,
// minus a penalty per noise pattern matched. Values that clearly carry
// technical information are never penalized as noise.
func Validity(name, value string) int {
	score := 0
	if n := utf8.RuneCountInString(name); n >= 1 && n <= 30 {
		score += 20
	} else {
		score -= 20
	}
	if hasDigit.MatchString(value) {
		score += 20
	}
	if nameLetters.MatchString(name) {
		score += 15
	}
	if unitInValue.MatchString(value) || unitOnly.MatchString(strings.TrimSpace(value)) {
		score += 15
	}
	if lexicon.Range.MatchString(value) || lexicon.Ratio.MatchString(value) {
		score += 10
	}
	if lexicon.HasTechnicalKeyword(name) || lexicon.HasTechnicalKeyword(value) {
		score += 15
	}
	if !lexicon.IsTechnical(value) {
		score -= 25 * (lexicon.CountNoise(name) + lexicon.CountNoise(value))
	}
	return score
}

// display renders a SpecValue the way it reads in a document.
func display(sv schema.SpecValue) string {
	if sv.Unit == "" || strings.HasSuffix(sv.Value, sv.Unit) {
		return sv.Value
	}
	return sv.Value + sv.Unit
}

// CleanSpecifications removes specifications scoring below MinValidity and
// returns the removed names in sorted order.
func CleanSpecifications(specs schema.Specifications) []string {
	var removed []string
	for name, sv := range specs {
		if Validity(name, display(sv)) < MinValidity {
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	for _, name := range removed {
		delete(specs, name)
	}
	return removed
}

// Outcome reports what Augment changed.
type Outcome struct {
	Blocks            []Block               `json:"blocks"`
	Found             schema.Specifications `json:"-"`
	Added             []string              `json:"added"`
	Removed           []string              `json:"removed"`
	ParsingConfidence float64               `json:"parsing_confidence"`
}

// Augmenter merges table-derived specifications into extraction results.
type Augmenter struct {
	parser *Parser
}

// NewAugmenter creates an augmenter.
func NewAugmenter(p *Parser) *Augmenter {
	if p == nil {
		p = NewParser()
	}
	return &Augmenter{parser: p}
}

// Augment parses text for table blocks and adds every specification the
// model did not already report; the model's values win on conflict. The
// merged set is then filtered by validity. When none of the model's
// specifications survive and the tables supplied some, the specifications
// confidence becomes the parsing confidence.
func (a *Augmenter) Augment(data *schema.ExtractedData, text string) Outcome {
	out := Outcome{Found: schema.Specifications{}}
	out.Blocks = a.parser.Parse(text)

	var confSum float64
	for _, b := range out.Blocks {
		confSum += b.Confidence
		for _, s := range b.Specs {
			if _, ok := out.Found[s.Name]; !ok {
				out.Found[s.Name] = s.Value
			}
		}
	}
	if len(out.Blocks) > 0 {
		out.ParsingConfidence = confSum / float64(len(out.Blocks))
	}

	if data.Specifications == nil {
		data.Specifications = schema.Specifications{}
	}
	existing := make(map[string]bool, len(data.Specifications))
	for k := range data.Specifications {
		existing[Fold(k)] = true
	}
	for _, name := range sortedNames(out.Found) {
		if existing[name] {
			continue
		}
		data.Specifications[name] = out.Found[name]
		out.Added = append(out.Added, name)
	}

	out.Removed = CleanSpecifications(data.Specifications)
	if len(data.Specifications) > 0 && !anyFromModel(data.Specifications, out.Added) {
		data.Confidence.Specifications = out.ParsingConfidence
	}

	slog.Debug("tables: augment complete",
		"blocks", len(out.Blocks),
		"found", len(out.Found),
		"added", len(out.Added),
		"removed", len(out.Removed),
		"parsing_confidence", out.ParsingConfidence,
	)
	return out
}

// anyFromModel reports whether a surviving specification came from the
// model rather than from the tables.
func anyFromModel(specs schema.Specifications, added []string) bool {
	fromTables := make(map[string]bool, len(added))
	for _, name := range added {
		fromTables[name] = true
	}
	for name := range specs {
		if !fromTables[name] {
			return true
		}
	}
	return false
}

func sortedNames(specs schema.Specifications) []string {
	names := make([]string, 0, len(specs))
	for k := range specs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

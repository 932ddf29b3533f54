package lexicon

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Category names a family of noise patterns.
type Category string

const (
	CategoryWordArtifact Category = "word_artifacts"
	CategoryPageNav      Category = "page_navigation"
	CategoryTableBorder  Category = "table_border"
	CategoryRepetition   Category = "repetition"
)

// Categories lists the noise categories in evaluation order.
var Categories = []Category{
	CategoryWordArtifact, CategoryPageNav, CategoryTableBorder, CategoryRepetition,
}

// NoiseRule is one compiled noise pattern.
type NoiseRule struct {
	Category Category
	Name     string
	match    func(string) bool
}

// Match reports whether line is noise under this rule.
func (r NoiseRule) Match(line string) bool { return r.match(line) }

func re(category Category, name, pattern string) NoiseRule {
	rx := regexp.MustCompile(pattern)
	return NoiseRule{Category: category, Name: name, match: rx.MatchString}
}

// NoiseRules is the ordered, immutable noise table.
var NoiseRules = []NoiseRule{
	re(CategoryWordArtifact, "hyperlink", `(?i)\bHYPERLINK\b`),
	re(CategoryWordArtifact, "embed", `(?i)\bEMBED\b`),
	re(CategoryWordArtifact, "mergeformat", `(?i)MERGEFORMAT`),
	re(CategoryWordArtifact, "goback", `(?i)_GoBack`),
	re(CategoryWordArtifact, "toc", `(?i)_Toc\d+`),

	re(CategoryPageNav, "page", `(?i)^\s*PAGE\s*\d+\s*$`),
	re(CategoryPageNav, "page_of", `(?i)^\s*PAGE\s+\d+\s+OF\s+\d+\s*$`),
	re(CategoryPageNav, "cn_page", `^\s*第\s*\d+\s*页(?:\s*[,，]?\s*共\s*\d+\s*页)?\s*$`),
	re(CategoryPageNav, "dash_page", `^\s*[-—]\s*\d+\s*[-—]\s*$`),
	re(CategoryPageNav, "chapter", `(?i)^\s*CHAPTER\s+\d+\s*$`),
	re(CategoryPageNav, "heading_word", `(?i)^\s*(?:CONTENTS|INDEX|TITLE)\s*$`),

	re(CategoryTableBorder, "ascii_border", `^\s*[|+\-=_:][\s|+\-=_:]{2,}$`),
	re(CategoryTableBorder, "box_drawing", `^[\s\x{2500}-\x{257F}|+\-=]*[\x{2500}-\x{257F}][\s\x{2500}-\x{257F}|+\-=]*$`),
	re(CategoryTableBorder, "letter_tokens", `^\s*(?:[A-Za-z]{1,2}\s+){3,}[A-Za-z]{1,2}\s*$`),

	re(CategoryRepetition, "symbol_run", `^\s*[.*\-_=~·…]{6,}\s*$`),
	{Category: CategoryRepetition, Name: "repeated_char", match: dominatedByRun},
}

// MatchNoise returns the category of the first rule matching line.
func MatchNoise(line string) (NoiseRule, bool) {
	for _, r := range NoiseRules {
		if r.Match(line) {
			return r, true
		}
	}
	return NoiseRule{}, false
}

// IsNoise reports whether line matches any noise rule.
func IsNoise(line string) bool {
	_, ok := MatchNoise(line)
	return ok
}

// CountNoise returns how many rules match s.
func CountNoise(s string) int {
	n := 0
	for _, r := range NoiseRules {
		if r.Match(s) {
			n++
		}
	}
	return n
}

// dominatedByRun reports a single rune repeated six or more times that
// makes up at least half of the line's non-space runes.
func dominatedByRun(line string) bool {
	nonSpace := 0
	longest, run := 0, 0
	var prev rune = -1
	for _, r := range line {
		if r == ' ' || r == '\t' || r == '　' {
			prev = -1
			run = 0
			continue
		}
		nonSpace++
		if r == prev {
			run++
		} else {
			run = 1
			prev = r
		}
		if run > longest {
			longest = run
		}
	}
	return longest >= 6 && longest*2 >= nonSpace
}

var inlineArtifacts = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bHYPERLINK\s+(?:\\l\s+)?"[^"]*"`),
	regexp.MustCompile(`(?i)\bHYPERLINK\s+\S+`),
	regexp.MustCompile(`(?i)\bHYPERLINK\b`),
	regexp.MustCompile(`(?i)\bEMBED\s+[A-Za-z][\w.]*`),
	regexp.MustCompile(`(?i)\\?\*?\s*MERGEFORMAT`),
	regexp.MustCompile(`(?i)_GoBack`),
	regexp.MustCompile(`(?i)_Toc\d+`),
	regexp.MustCompile(`[.*_=·…]{6,}|-{6,}`),
}

var multiSpace = regexp.MustCompile(`[ \x{3000}\x{00A0}]{2,}`)

// StripInline removes inline converter tokens and long symbol runs from a
// kept line and re-collapses whitespace. Tabs survive as table hints.
// It returns the stripped line and the number of tokens removed.
func StripInline(line string) (string, int) {
	removed := 0
	for _, rx := range inlineArtifacts {
		locs := rx.FindAllStringIndex(line, -1)
		if len(locs) == 0 {
			continue
		}
		removed += len(locs)
		line = rx.ReplaceAllString(line, " ")
	}
	return CollapseSpaces(line), removed
}

// CollapseSpaces squeezes runs of spaces, trims each tab-separated cell and
// trims the line.
func CollapseSpaces(line string) string {
	line = strings.ReplaceAll(line, "\u00a0", " ")
	line = multiSpace.ReplaceAllString(line, " ")
	if strings.Contains(line, "\t") {
		cells := strings.Split(line, "\t")
		for i, c := range cells {
			cells[i] = strings.TrimSpace(c)
		}
		line = strings.Join(cells, "\t")
	}
	return strings.TrimSpace(line)
}

// RuneLen is utf8.RuneCountInString, exported for the length-bounded stages.
func RuneLen(s string) int { return utf8.RuneCountInString(s) }

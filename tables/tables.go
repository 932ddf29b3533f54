// Package tables recovers tabular parameter listings from cleaned document
// text and merges them into the model's specifications.
package tables

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/width"

	"github.com/brunobiangulo/docanalysis/lexicon"
	"github.com/brunobiangulo/docanalysis/schema"
)

// Kind identifies the recognizer that produced a block.
type Kind string

const (
	KindPipe     Kind = "pipe"
	KindTab      Kind = "tab"
	KindKeyValue Kind = "key_value"
	KindSpecLine Kind = "spec_line"
)

// Base confidence per recognizer; structured blocks with a recognised
// header score highest.
var kindConfidence = map[Kind]float64{
	KindPipe:     0.8,
	KindTab:      0.8,
	KindKeyValue: 0.7,
	KindSpecLine: 0.6,
}

const headerBonus = 0.1

// Spec is one parameter recovered from a block.
type Spec struct {
	Name  string           `json:"name"`
	Value schema.SpecValue `json:"value"`
}

// Block is a run of contiguous lines of the same kind. Structured blocks
// fill Headers and Rows; key/value blocks fill Pairs.
type Block struct {
	Kind       Kind        `json:"kind"`
	StartLine  int         `json:"start_line"`
	EndLine    int         `json:"end_line"`
	Headers    []string    `json:"headers,omitempty"`
	Rows       [][]string  `json:"rows,omitempty"`
	Pairs      [][2]string `json:"pairs,omitempty"`
	Specs      []Spec      `json:"specifications"`
	Confidence float64     `json:"confidence"`
}

var (
	paramHeader = regexp.MustCompile(`(?i)^(?:参数|参数名称|技术参数|规格|项目|名称|指标|parameter|parameters|spec|specification|item|name)$`)
	valueHeader = regexp.MustCompile(`(?i)^(?:值|数值|参数值|规格值|技术指标|value|values)$`)
	unitHeader  = regexp.MustCompile(`(?i)^(?:单位|unit|units)$`)

	pipeSeparator = regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(?:\|\s*:?-{3,}:?\s*)*\|?\s*$`)
	keyValueLine  = regexp.MustCompile(`^\s*([^:：\t|]{1,30}?)\s*[:：]\s*(\S.*?)\s*$`)
	specLine      = regexp.MustCompile(`^\s*([\p{Han}A-Za-z][\p{Han}A-Za-z()（）/·\s]{0,29}?)\s+([-+]?\d+(?:\.\d+)?(?:\s*[-~～]\s*\d+(?:\.\d+)?)?\s*(?:` + lexicon.UnitNames + `|%)?)\s*$`)
	hasDigit      = regexp.MustCompile(`\d`)
	nameWord      = regexp.MustCompile(`[\p{Han}A-Za-z]`)
	ratioKey      = regexp.MustCompile(`\d\s*[:：]\s*\d`)
)

// identityNames are product identity fields, not specifications.
var identityNames = map[string]bool{
	"产品名称": true, "名称": true, "品名": true, "型号": true, "产品型号": true, "规格型号": true,
	"产品类别": true, "类别": true, "product name": true, "model": true, "name": true,
}

// Parser recognizes table-like blocks.
type Parser struct{}

// NewParser creates a parser.
func NewParser() *Parser { return &Parser{} }

// Parse splits text into blocks of table-like lines and extracts the
// specifications each block carries.
func (p *Parser) Parse(text string) []Block {
	lines := strings.Split(text, "\n")
	var blocks []Block
	var cur *Block
	var raw []string

	flush := func() {
		if cur == nil {
			return
		}
		build(cur, raw)
		if len(cur.Specs) > 0 {
			blocks = append(blocks, *cur)
		}
		cur, raw = nil, nil
	}

	for i, line := range lines {
		line = width.Narrow.String(line)
		k := classify(line)
		if k == "" {
			flush()
			continue
		}
		if cur == nil || cur.Kind != k {
			flush()
			cur = &Block{Kind: k, StartLine: i}
		}
		cur.EndLine = i
		raw = append(raw, line)
	}
	flush()
	return blocks
}

func classify(line string) Kind {
	if strings.TrimSpace(line) == "" {
		return ""
	}
	if strings.Contains(line, "|") {
		if pipeSeparator.MatchString(line) || len(nonEmpty(splitPipe(line))) >= 2 {
			return KindPipe
		}
	}
	if strings.Contains(line, "\t") && len(nonEmpty(strings.Split(line, "\t"))) >= 2 {
		return KindTab
	}
	if keyValueLine.MatchString(line) && !ratioKey.MatchString(line) {
		return KindKeyValue
	}
	if specLine.MatchString(line) {
		return KindSpecLine
	}
	return ""
}

func build(b *Block, raw []string) {
	switch b.Kind {
	case KindPipe, KindTab:
		for _, line := range raw {
			if b.Kind == KindPipe && pipeSeparator.MatchString(line) {
				continue
			}
			var cells []string
			if b.Kind == KindPipe {
				cells = splitPipe(line)
			} else {
				cells = strings.Split(line, "\t")
			}
			for i := range cells {
				cells[i] = strings.TrimSpace(cells[i])
			}
			b.Rows = append(b.Rows, cells)
		}
		buildStructured(b)
	case KindKeyValue:
		for _, line := range raw {
			if m := keyValueLine.FindStringSubmatch(line); m != nil {
				b.Pairs = append(b.Pairs, [2]string{m[1], m[2]})
				b.addSpec(m[1], m[2], "")
			}
		}
		b.Confidence = kindConfidence[b.Kind] * coverage(len(b.Specs), len(b.Pairs))
	case KindSpecLine:
		for _, line := range raw {
			if m := specLine.FindStringSubmatch(line); m != nil {
				b.addSpec(m[1], m[2], "")
			}
		}
		b.Confidence = kindConfidence[b.Kind] * coverage(len(b.Specs), len(raw))
	}
}

// buildStructured locates the parameter, value and unit columns from a
// header row when one is recognised, otherwise treats rows as name/value
// pairs.
func buildStructured(b *Block) {
	if len(b.Rows) == 0 {
		return
	}
	paramCol, valueCol, unitCol := -1, -1, -1
	for i, c := range b.Rows[0] {
		switch {
		case paramCol < 0 && paramHeader.MatchString(c):
			paramCol = i
		case valueCol < 0 && valueHeader.MatchString(c):
			valueCol = i
		case unitCol < 0 && unitHeader.MatchString(c):
			unitCol = i
		}
	}

	rows := b.Rows
	base := kindConfidence[b.Kind]
	if paramCol >= 0 && valueCol >= 0 {
		b.Headers = b.Rows[0]
		rows = b.Rows[1:]
		base += headerBonus
		for _, r := range rows {
			unit := ""
			if unitCol >= 0 && unitCol < len(r) {
				unit = r[unitCol]
			}
			if paramCol < len(r) && valueCol < len(r) {
				b.addSpec(r[paramCol], r[valueCol], unit)
			}
		}
		b.Confidence = base * coverage(len(b.Specs), len(rows))
		return
	}

	for _, r := range rows {
		cells := nonEmpty(r)
		switch {
		case len(cells) >= 4 && len(cells)%2 == 0 && pairedRow(cells):
			// name, value, name, value ...
			for i := 0; i < len(cells); i += 2 {
				b.addSpec(cells[i], cells[i+1], "")
			}
		case len(cells) >= 3 && unitOnly.MatchString(cells[2]):
			b.addSpec(cells[0], cells[1], cells[2])
		case len(cells) >= 2:
			b.addSpec(cells[0], cells[1], "")
		}
	}
	b.Confidence = base * coverage(len(b.Specs), len(rows))
}

// pairedRow reports whether every even cell reads as a name.
func pairedRow(cells []string) bool {
	for i := 0; i < len(cells); i += 2 {
		if hasDigit.MatchString(cells[i]) {
			return false
		}
	}
	return true
}

func (b *Block) addSpec(name, value, unit string) {
	name = cleanName(name)
	value = strings.TrimSpace(value)
	if name == "" || value == "" || identityNames[strings.ToLower(name)] {
		return
	}
	if utf8.RuneCountInString(name) > 30 || !nameWord.MatchString(name) {
		return
	}
	// Residual prose lines only count when they carry a number or a
	// technical term.
	if !hasDigit.MatchString(value) && !lexicon.HasTechnicalKeyword(name+value) {
		return
	}
	sv := ParseValue(value)
	if sv.Unit == "" && unit != "" {
		sv.Unit = unit
	}
	b.Specs = append(b.Specs, Spec{Name: name, Value: sv})
}

// coverage scales a block's confidence by the share of its rows that
// produced a specification.
func coverage(specs, rows int) float64 {
	if rows == 0 {
		return 0
	}
	return 0.5 + 0.5*float64(min(specs, rows))/float64(rows)
}

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ":：")
	return strings.TrimSpace(s)
}

func splitPipe(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	return strings.Split(line, "|")
}

func nonEmpty(cells []string) []string {
	var out []string
	for _, c := range cells {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

package quality

import (
	"regexp"
	"sort"
	"strings"

	"github.com/brunobiangulo/docanalysis/lexicon"
)

// DefaultLimit is the maximum clean-text length sent downstream.
const DefaultLimit = 100_000

var paragraphSplit = regexp.MustCompile(`\n[ \t\x{3000}]*\n`)

const paragraphSep = "\n\n"

type paragraph struct {
	index int
	text  string
	runes int
	score int
}

// scoreParagraph ranks a paragraph by technical keyword hits (x10),
// number+unit presence (+20), table signal (+15) and a readable length
// (+5).
func scoreParagraph(p string, runes int) int {
	score := lexicon.CountTechnicalKeywords(p) * 10
	if lexicon.HasNumberUnit(p) {
		score += 20
	}
	if runes > 0 {
		marks := strings.Count(p, "\t") + strings.Count(p, "|")
		if float64(marks)/float64(runes) > 0.02 {
			score += 15
		}
	}
	if runes >= 50 && runes <= 500 {
		score += 5
	}
	return score
}

// Truncate bounds text to limit runes. Paragraphs are chosen greedily by
// technical score up to 95% of the limit; when that yields less than half
// the limit, the head of the document fills the remainder. The kept
// paragraphs are emitted in document order.
func Truncate(text string, limit int) (string, bool) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if lexicon.RuneLen(text) <= limit {
		return text, false
	}

	raw := paragraphSplit.Split(text, -1)
	paras := make([]paragraph, 0, len(raw))
	for i, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n := lexicon.RuneLen(p)
		paras = append(paras, paragraph{index: i, text: p, runes: n, score: scoreParagraph(p, n)})
	}

	budget := limit * 95 / 100
	ranked := make([]int, len(paras))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool { return paras[ranked[a]].score > paras[ranked[b]].score })

	keep := make(map[int]string)
	used := 0
	for _, i := range ranked {
		p := paras[i]
		cost := p.runes + len(paragraphSep)
		if used+cost > budget {
			continue
		}
		keep[i] = p.text
		used += cost
	}

	if used < limit/2 {
		// Head-of-document fill, cutting the first paragraph that does not fit.
		for i, p := range paras {
			if _, ok := keep[i]; ok {
				continue
			}
			cost := p.runes + len(paragraphSep)
			if used+cost <= budget {
				keep[i] = p.text
				used += cost
				continue
			}
			if room := budget - used - len(paragraphSep); room > 0 {
				keep[i] = string([]rune(p.text)[:room])
				used = budget
			}
			break
		}
	}

	out := make([]string, 0, len(keep))
	for i := range paras {
		if t, ok := keep[i]; ok {
			out = append(out, t)
		}
	}
	return strings.Join(out, paragraphSep), true
}

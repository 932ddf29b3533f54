// Package cleaner removes converter noise from extracted text line by line
// while protecting lines that carry technical content.
package cleaner

import (
	"strings"

	"github.com/brunobiangulo/docanalysis/lexicon"
)

// maxLinePasses bounds the per-line fixed-point iteration.
const maxLinePasses = 5

// Stats counts what the cleaner did.
type Stats struct {
	TotalLines     int            `json:"total_lines"`
	KeptLines      int            `json:"kept_lines"`
	RemovedLines   int            `json:"removed_lines"`
	ProtectedLines int            `json:"protected_lines"`
	InlineRemoved  int            `json:"inline_removed"`
	ByCategory     map[string]int `json:"by_category"`
	OriginalLength int            `json:"original_length"`
	CleanedLength  int            `json:"cleaned_length"`
}

// Result is the cleaned content with its statistics. Ratio is the share of
// runes removed.
type Result struct {
	Content string  `json:"cleaned_content"`
	Stats   Stats   `json:"noise_statistics"`
	Ratio   float64 `json:"cleaning_ratio"`
}

// Clean filters every line against the noise table. Lines that match the
// protection rule are kept even when they also match noise; inline
// converter tokens are stripped from every kept line. Clean is idempotent.
func Clean(text string) Result {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	stats := Stats{ByCategory: make(map[string]int), OriginalLength: lexicon.RuneLen(text)}
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := true // suppresses leading blank lines

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if !blank {
				out = append(out, "")
				blank = true
			}
			continue
		}
		stats.TotalLines++

		cleaned, keep, lr := cleanLine(line)
		stats.InlineRemoved += lr.inline
		if !keep {
			stats.RemovedLines++
			stats.ByCategory[lr.category]++
			continue
		}
		if lr.protected {
			stats.ProtectedLines++
		}
		stats.KeptLines++
		out = append(out, cleaned)
		blank = false
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}

	content := strings.Join(out, "\n")
	stats.CleanedLength = lexicon.RuneLen(content)
	ratio := 0.0
	if stats.OriginalLength > 0 {
		ratio = 1 - float64(stats.CleanedLength)/float64(stats.OriginalLength)
		ratio = max(ratio, 0)
	}
	return Result{Content: content, Stats: stats, Ratio: ratio}
}

type lineReport struct {
	category  string
	protected bool
	inline    int
}

// cleanLine applies one cleaning pass until the line stops changing.
func cleanLine(line string) (string, bool, lineReport) {
	var lr lineReport
	cur := line
	for range maxLinePasses {
		next, keep, protected, category, inline := pass(cur)
		lr.inline += inline
		if !keep {
			lr.category = category
			return "", false, lr
		}
		lr.protected = lr.protected || protected
		if next == cur {
			break
		}
		cur = next
	}
	return cur, true, lr
}

// pass is one evaluation of a line: protection first, then the noise
// table, then inline stripping.
func pass(line string) (out string, keep, protected bool, category string, inline int) {
	if lexicon.IsTechnical(line) {
		stripped, n := lexicon.StripInline(line)
		if lexicon.IsTechnical(stripped) {
			return stripped, true, true, "", n
		}
		// Stripping would eat the technical token ("HYPERLINK 220V").
		return lexicon.CollapseSpaces(line), true, true, "", 0
	}
	if rule, ok := lexicon.MatchNoise(line); ok {
		return "", false, false, string(rule.Category), 0
	}
	stripped, n := lexicon.StripInline(line)
	if stripped == "" {
		return "", false, false, string(lexicon.CategoryWordArtifact), n
	}
	return stripped, true, false, "", n
}

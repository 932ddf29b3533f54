package parser

import (
	"strings"

	"github.com/brunobiangulo/docanalysis/lexicon"
)

// ScoreExtraction rates a decoded candidate in [0,1]. It rewards length,
// CJK and letter content, technical vocabulary, number+unit tokens and
// printable runes, and penalizes decode garbage and Latin-1 mojibake.
func ScoreExtraction(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	st := lexicon.CountChars(text)
	score := 0.0

	// Length: full credit from 100 runes.
	score += 0.2 * min(float64(st.Total)/100, 1)

	// Text ratio: CJK plus letters plus digits.
	textRatio := st.Ratio(st.CJK + st.Letters + st.Digits)
	score += 0.2 * min(textRatio/0.6, 1)
	if cjk := st.Ratio(st.CJK); cjk > 0.1 {
		score += 0.05
	}

	// Technical vocabulary density, saturating at 5 hits.
	score += 0.2 * min(float64(lexicon.CountTechnicalKeywords(text))/5, 1)

	// number+unit tokens, saturating at 3.
	units := len(lexicon.NumberUnit.FindAllStringIndex(text, 3))
	score += 0.15 * float64(units) / 3

	score += 0.2 * st.Ratio(st.Printable)

	if g := st.Ratio(st.Garbage()); g > 0 {
		score -= min(g*2, 0.5)
	}
	// Many Latin-1 supplement letters without any CJK is what a GBK or
	// UTF-16 document decoded as cp1252 looks like.
	if st.CJK == 0 {
		if l := st.Ratio(st.Latin1Sup); l > 0.1 {
			score -= min(l, 0.4)
		}
	}
	return clamp01(score)
}

// ScoreOCR rates tesseract output in [0,1]. OCR text is short and noisy, so
// length saturates earlier and isolated single glyphs are penalized.
func ScoreOCR(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	st := lexicon.CountChars(text)
	score := 0.0

	score += 0.25 * min(float64(st.Total)/50, 1)
	score += 0.25 * min(st.Ratio(st.CJK+st.Letters+st.Digits)/0.5, 1)
	if lexicon.HasTechnicalKeyword(text) {
		score += 0.2
	}
	if lexicon.HasNumberUnit(text) {
		score += 0.15
	}
	score += 0.15 * st.Ratio(st.Printable)

	// Tesseract renders border lines and speckles as one-rune tokens.
	fields := strings.Fields(text)
	if len(fields) > 4 {
		single := 0
		for _, f := range fields {
			if lexicon.RuneLen(f) == 1 && !lexicon.ContainsCJK(f) {
				single++
			}
		}
		if r := float64(single) / float64(len(fields)); r > 0.4 {
			score -= (r - 0.4)
		}
	}
	score -= min(st.Ratio(st.Garbage())*2, 0.5)
	return clamp01(score)
}

// obviouslyCorrupted rejects candidates that are not worth cleaning and
// scoring at all.
func obviouslyCorrupted(text string) bool {
	st := lexicon.CountChars(text)
	if st.Total < 10 {
		return true
	}
	if st.Ratio(st.Garbage()) > 0.3 {
		return true
	}
	return st.Ratio(st.CJK+st.Letters+st.Digits) < 0.2
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// Package lexicon holds the compiled pattern tables shared by the cleaner,
// the quality gate, the table augmentor and the validator. Every table is
// compiled once at init and iterated in a fixed order.
package lexicon

import (
	"regexp"
	"strings"
	"unicode"
)

// TechnicalKeywordsCN are substrings that mark a line as technical content.
var TechnicalKeywordsCN = []string{
	"电压", "电流", "频率", "功率", "电阻", "阻抗", "精度", "准确度", "测试", "额定",
	"输出", "输入", "范围", "分辨率", "温度", "湿度", "尺寸", "重量", "保护", "继电",
	"绝缘", "容量", "型号", "规格", "参数", "谐波", "相位", "直流", "交流", "电源",
	"功耗", "时间", "误差", "负载", "开关量", "通道", "三相", "六相", "接口", "显示",
}

// TechnicalKeywordsEN are whole words that mark a line as technical content.
var TechnicalKeywordsEN = []string{
	"voltage", "current", "frequency", "power", "resistance", "impedance",
	"accuracy", "precision", "range", "output", "input", "rated", "phase",
	"temperature", "humidity", "weight", "dimension", "dimensions", "insulation",
	"capacity", "resolution", "harmonic", "harmonics", "relay", "tester",
	"specification", "specifications", "channel", "channels", "load",
}

// UnitNames is the bare alternation of technical units other than "%",
// longest first so that "kHz" wins over "k".
const UnitNames = `kVA|MVA|kWh|kHz|MHz|GHz|kV|mV|μV|µV|kA|mA|μA|µA|kW|MW|mW|VA|Wh|Hz|kΩ|MΩ|mΩ|Ω|℃|℉|°C|°F|ms|μs|µs|mm|cm|kg|dB|V|A|W`

// UnitAlternation is the non-capturing group of UnitNames and "%".
const UnitAlternation = `(?:` + UnitNames + `|%)`

var (
	// NumberUnit matches a number immediately followed by a technical unit.
	NumberUnit = regexp.MustCompile(`\d+(?:\.\d+)?\s*` + UnitAlternation)

	// protectNumberUnit is the protection-rule form: \d+[VAWHzΩ℃℉%].
	protectNumberUnit = regexp.MustCompile(`\d+\s*(?:[kKmMμµ]?(?:V|A|W|Hz|Ω)|℃|℉|%)`)

	// Range matches a numeric range such as 0-600, 10 ~ 20 or 5±1.
	Range = regexp.MustCompile(`\d+\s*[-~±～]\s*\d+`)

	// Ratio matches ratios such as 1:10 or 100/5.
	Ratio = regexp.MustCompile(`\d+\s*[:/]\s*\d+`)

	// EnglishWord matches an English word of at least two letters.
	EnglishWord = regexp.MustCompile(`[A-Za-z]{2,}`)

	technicalEN = regexp.MustCompile(`(?i)\b(?:` + strings.Join(TechnicalKeywordsEN, "|") + `)\b`)
	acdc        = regexp.MustCompile(`\b(?:AC|DC)\b`)
)

// CountTechnicalKeywords returns the number of technical keyword hits in s.
func CountTechnicalKeywords(s string) int {
	n := 0
	for _, kw := range TechnicalKeywordsCN {
		n += strings.Count(s, kw)
	}
	n += len(technicalEN.FindAllStringIndex(s, -1))
	n += len(acdc.FindAllStringIndex(s, -1))
	return n
}

// HasTechnicalKeyword reports whether s contains any technical keyword.
func HasTechnicalKeyword(s string) bool {
	for _, kw := range TechnicalKeywordsCN {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return technicalEN.MatchString(s) || acdc.MatchString(s)
}

// HasNumberUnit reports whether s contains a number followed by a unit.
func HasNumberUnit(s string) bool {
	return NumberUnit.MatchString(s) || protectNumberUnit.MatchString(s)
}

// IsTechnical is the protection rule: a line with a number+unit token, a
// numeric range, a ratio or a technical keyword is never treated as noise.
func IsTechnical(s string) bool {
	return protectNumberUnit.MatchString(s) ||
		Range.MatchString(s) ||
		Ratio.MatchString(s) ||
		HasTechnicalKeyword(s)
}

// IsCJK reports whether r is a Han ideograph.
func IsCJK(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

// IsCJKPunct reports whether r is CJK or full-width punctuation.
func IsCJKPunct(r rune) bool {
	return (r >= 0x3000 && r <= 0x303F) || (r >= 0xFF01 && r <= 0xFF0F) ||
		(r >= 0xFF1A && r <= 0xFF20) || (r >= 0xFF3B && r <= 0xFF40) ||
		(r >= 0xFF5B && r <= 0xFF65)
}

// ContainsCJK reports whether s has at least one Han ideograph.
func ContainsCJK(s string) bool {
	for _, r := range s {
		if IsCJK(r) {
			return true
		}
	}
	return false
}

// Package quality is the text quality gate: it rejects extractions that are
// too corrupt to analyse and truncates oversized texts to their most
// technical paragraphs.
package quality

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"

	"github.com/brunobiangulo/docanalysis/docerr"
	"github.com/brunobiangulo/docanalysis/lexicon"
)

// Rejection thresholds.
const (
	MinEncodingScore    = 0.3
	MaxCorruptRatio     = 0.25
	MaxRepeatedPatterns = 12
	MinReadability      = 0.08
)

// Report is the corruption assessment of one text.
type Report struct {
	EncodingScore    float64 `json:"encoding_score"`
	Readability      float64 `json:"readability"`
	CorruptRatio     float64 `json:"corrupt_ratio"`
	RepeatedPatterns int     `json:"repeated_patterns"`
	HasTechnical     bool    `json:"has_technical"`
	Score            float64 `json:"score"` // overall document quality in [0,1]
}

// Corrupt reports whether the text should be rejected and why.
func (r Report) Corrupt() (bool, string) {
	switch {
	case r.EncodingScore < MinEncodingScore:
		return true, fmt.Sprintf("encoding score %.2f < %.2f", r.EncodingScore, MinEncodingScore)
	case r.CorruptRatio > MaxCorruptRatio:
		return true, fmt.Sprintf("corrupt character ratio %.2f > %.2f", r.CorruptRatio, MaxCorruptRatio)
	case r.RepeatedPatterns > MaxRepeatedPatterns:
		return true, fmt.Sprintf("%d repeated patterns > %d", r.RepeatedPatterns, MaxRepeatedPatterns)
	case r.Readability < MinReadability && !r.HasTechnical:
		return true, fmt.Sprintf("readability %.2f < %.2f without technical content", r.Readability, MinReadability)
	}
	return false, ""
}

type codec struct {
	name string
	enc  encoding.Encoding
	// valid, when set, further restricts the encoded bytes.
	valid func([]byte) bool
}

// roundTrips are the encodings a clean text must survive. GB2312 is GBK
// limited to the EUC-CN ranges.
var roundTrips = []codec{
	{name: "utf-8", enc: encoding.Nop},
	{name: "gbk", enc: simplifiedchinese.GBK},
	{name: "gb2312", enc: simplifiedchinese.GBK, valid: lexicon.IsEUCCN},
	{name: "utf-16", enc: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)},
}

// repeated finds a 2-4 rune unit repeated at least seven times in a row,
// which Go's RE2 cannot express.
var repeated = func() *regexp2.Regexp {
	re := regexp2.MustCompile(`(.{2,4})\1{6,}`, regexp2.None)
	re.MatchTimeout = 2 * time.Second
	return re
}()

// maxAssessRunes bounds the text the pattern scan looks at.
const maxAssessRunes = 200_000

// Assess computes the corruption report for text.
func Assess(text string) Report {
	st := lexicon.CountChars(text)
	r := Report{
		HasTechnical: lexicon.HasTechnicalKeyword(text) || lexicon.HasNumberUnit(text),
	}
	if st.Total == 0 {
		return r
	}

	r.CorruptRatio = st.Ratio(st.Garbage())
	r.EncodingScore = encodingScore(text, st)
	r.Readability = readability(text, st, r.HasTechnical)
	r.RepeatedPatterns = countRepeated(text)

	score := 0.25*r.EncodingScore +
		0.45*min(r.Readability/0.6, 1) +
		0.3*(1-min(r.CorruptRatio*4, 1)) -
		min(float64(r.RepeatedPatterns)*0.02, 0.3)
	r.Score = clamp01(score)
	return r
}

// encodingScore is the share of round-trip encodings the text survives,
// penalized by control-character density.
func encodingScore(text string, st lexicon.CharStats) float64 {
	sample := text
	if len(sample) > 64<<10 {
		sample = strings.ToValidUTF8(sample[:64<<10], "")
	}
	ok := 0
	for _, rt := range roundTrips {
		if roundTrip(sample, rt) {
			ok++
		}
	}
	score := float64(ok) / float64(len(roundTrips))
	// GB encoders reject legitimate non-CJK scripts; clean text keeps at
	// least half credit.
	if st.Replacement == 0 && st.Control == 0 {
		score = max(score, 0.5)
	}
	score -= min(st.Ratio(st.Control+st.Replacement)*3, 1)
	return clamp01(score)
}

func roundTrip(s string, c codec) bool {
	if strings.ContainsRune(s, '\uFFFD') {
		return false
	}
	b, err := c.enc.NewEncoder().String(s)
	if err != nil {
		return false
	}
	if c.valid != nil && !c.valid([]byte(b)) {
		return false
	}
	back, err := c.enc.NewDecoder().String(b)
	return err == nil && back == s
}

// readability weighs CJK runes, English word runes, digits and CJK
// punctuation against the total, with a bonus for technical content.
func readability(text string, st lexicon.CharStats, technical bool) float64 {
	wordRunes := 0
	for _, w := range lexicon.EnglishWord.FindAllString(text, -1) {
		wordRunes += len(w)
	}
	weighted := float64(st.CJK)*1.0 +
		float64(wordRunes)*0.8 +
		float64(st.Digits)*0.5 +
		float64(st.CJKPunct)*0.3
	score := weighted / float64(st.Total)
	if technical {
		score += 0.1
	}
	if lexicon.HasNumberUnit(text) {
		score += 0.1
	}
	return clamp01(score)
}

// countRepeated counts repeated-unit runs. Runs of whitespace or of a single
// rune (dividers, dot leaders) are layout, not corruption.
func countRepeated(text string) int {
	if lexicon.RuneLen(text) > maxAssessRunes {
		text = string([]rune(text)[:maxAssessRunes])
	}
	n := 0
	m, err := repeated.FindStringMatch(text)
	for err == nil && m != nil {
		unit := m.GroupByNumber(1).String()
		if strings.TrimSpace(unit) != "" && distinctRunes(unit) > 1 {
			n++
		}
		m, err = repeated.FindNextMatch(m)
	}
	return n
}

func distinctRunes(s string) int {
	seen := make(map[rune]bool, 4)
	for _, r := range s {
		seen[r] = true
	}
	return len(seen)
}

// Gate assesses text and returns a corruption_error, with remediation
// advice for the file type, when it should not be analysed.
func Gate(text, filename string) (Report, error) {
	r := Assess(text)
	if bad, reason := r.Corrupt(); bad {
		return r, docerr.New(docerr.KindCorruption, "文档内容损坏或编码异常 (%s)", reason).
			WithDetails(
				fmt.Sprintf("编码质量 encoding=%.2f", r.EncodingScore),
				fmt.Sprintf("可读性 readability=%.2f", r.Readability),
				fmt.Sprintf("损坏字符比例 corrupt=%.2f", r.CorruptRatio),
			).
			WithSuggestions(Suggestions(filename)...)
	}
	return r, nil
}

// Suggestions returns remediation advice for a corrupt file of the given
// name.
func Suggestions(filename string) []string {
	ext := strings.ToLower(filename)
	if i := strings.LastIndexByte(ext, '.'); i >= 0 {
		ext = ext[i+1:]
	} else {
		ext = ""
	}
	switch ext {
	case "doc":
		return []string{"请用 Word 或 WPS 打开后另存为 .docx 格式 (convert to .docx)"}
	case "xls":
		return []string{"请将表格另存为 .xlsx 格式 (convert to .xlsx)"}
	case "ppt":
		return []string{"请将演示文稿另存为 .pptx 格式 (convert to .pptx)"}
	case "pdf":
		return []string{
			"请上传包含文本层的PDF (export a text-based PDF)",
			"如为扫描件，请提供更清晰的扫描版本 (rescan at higher quality)",
		}
	case "png", "jpg", "jpeg", "gif", "bmp", "tif", "tiff":
		return []string{"请提供分辨率更高、更清晰的图片 (use a higher-resolution image)"}
	}
	return []string{"请将文件另存为 UTF-8 编码的文本后重试 (re-save as UTF-8)"}
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

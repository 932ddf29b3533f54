package lexicon

import (
	"unicode"
	"unicode/utf8"
)

// CharStats is a per-class rune census of a text.
type CharStats struct {
	Total       int
	CJK         int
	Letters     int // non-CJK letters
	Digits      int
	Spaces      int
	Punct       int
	CJKPunct    int
	Control     int // control runes other than \t \n \r
	Replacement int // U+FFFD
	PrivateUse  int
	Latin1Sup   int // U+0080..U+00FF, typical of mojibake
	Printable   int
}

// CountChars classifies every rune of s.
func CountChars(s string) CharStats {
	var st CharStats
	for _, r := range s {
		st.Total++
		switch {
		case r == utf8.RuneError:
			st.Replacement++
			continue
		case r == '\t' || r == '\n' || r == '\r':
			st.Spaces++
			st.Printable++
			continue
		case unicode.IsControl(r):
			st.Control++
			continue
		case unicode.Is(unicode.Co, r):
			st.PrivateUse++
			continue
		}
		st.Printable++
		if r >= 0x80 && r <= 0xFF {
			st.Latin1Sup++
		}
		switch {
		case IsCJK(r):
			st.CJK++
		case IsCJKPunct(r):
			st.CJKPunct++
		case unicode.IsLetter(r):
			st.Letters++
		case unicode.IsDigit(r):
			st.Digits++
		case unicode.IsSpace(r):
			st.Spaces++
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			st.Punct++
		}
	}
	return st
}

// Ratio returns n/Total, or 0 for an empty text.
func (st CharStats) Ratio(n int) float64 {
	if st.Total == 0 {
		return 0
	}
	return float64(n) / float64(st.Total)
}

// Garbage counts runes that indicate a broken decode.
func (st CharStats) Garbage() int {
	return st.Control + st.Replacement + st.PrivateUse
}

// IsEUCCN reports whether every multi-byte pair of data lies in the GB2312
// (EUC-CN) ranges, which are narrower than GBK's.
func IsEUCCN(data []byte) bool {
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b < 0x80 {
			continue
		}
		if b < 0xA1 || b > 0xF7 || i+1 >= len(data) {
			return false
		}
		t := data[i+1]
		if t < 0xA1 || t > 0xFE {
			return false
		}
		i++
	}
	return true
}

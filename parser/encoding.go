package parser

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"

	"github.com/brunobiangulo/docanalysis/lexicon"
)

// codecs maps the encoding names we try to their decoders. utf-8 and latin-1
// are handled directly by decodeAs.
var codecs = map[string]encoding.Encoding{
	"gb18030":    simplifiedchinese.GB18030,
	"gbk":        simplifiedchinese.GBK,
	"gb2312":     simplifiedchinese.GBK, // GBK is a superset; strictness is checked by lexicon.IsEUCCN
	"cp936":      simplifiedchinese.GBK,
	"hz":         simplifiedchinese.HZGB2312,
	"big5":       traditionalchinese.Big5,
	"cp950":      traditionalchinese.Big5,
	"utf-16":     unicode.UTF16(unicode.LittleEndian, unicode.UseBOM),
	"utf-16le":   unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
	"utf-16be":   unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
	"cp1252":     charmap.Windows1252,
	"iso-8859-1": charmap.ISO8859_1,
}

// fallbackEncodings is the whole-blob decode order used after charset
// detection.
var fallbackEncodings = []string{
	"gb18030", "gbk", "gb2312", "big5", "hz", "utf-8",
	"utf-16", "utf-16le", "utf-16be",
	"cp936", "cp950", "cp1252", "iso-8859-1", "latin-1",
}

// decodeAs decodes data with the named encoding, substituting U+FFFD for
// invalid sequences. ok is false when any substitution happened.
func decodeAs(data []byte, name string) (text string, ok bool) {
	switch name {
	case "utf-8", "utf8":
		if utf8.Valid(data) {
			return string(bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})), true
		}
		return strings.ToValidUTF8(string(data), "�"), false
	case "latin-1", "latin1":
		runes := make([]rune, len(data))
		for i, b := range data {
			runes[i] = rune(b)
		}
		return string(runes), true
	case "gb2312":
		if !lexicon.IsEUCCN(data) {
			s, _ := decodeAs(data, "gbk")
			return s, false
		}
	}

	enc, found := codecs[name]
	if !found {
		return "", false
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(out), "�"), false
	}
	s := string(out)
	return s, !strings.ContainsRune(s, utf8.RuneError)
}

// stripBOM detects a UTF BOM and returns the encoding it implies.
func stripBOM(data []byte) (string, []byte) {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return "utf-8", data[3:]
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		return "utf-16le", data[2:]
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		return "utf-16be", data[2:]
	}
	return "", data
}

// chardetNames maps chardet charset names to ours.
var chardetNames = map[string]string{
	"UTF-8":        "utf-8",
	"UTF-16LE":     "utf-16le",
	"UTF-16BE":     "utf-16be",
	"GB-18030":     "gb18030",
	"GB18030":      "gb18030",
	"Big5":         "big5",
	"ISO-8859-1":   "iso-8859-1",
	"windows-1252": "cp1252",
}

// detectCharset returns our name for the most likely charset of data, or ""
// when the detector is unsure or names something we cannot decode.
func detectCharset(data []byte) string {
	sample := data
	if len(sample) > 256<<10 {
		sample = sample[:256<<10]
	}
	res, err := chardet.NewTextDetector().DetectBest(sample)
	if err != nil || res == nil || res.Confidence < 10 {
		return ""
	}
	return chardetNames[res.Charset]
}

// encodingOrder prepends the detected charset, if any, to the fallback list.
func encodingOrder(detected string) []string {
	if detected == "" {
		return fallbackEncodings
	}
	order := []string{detected}
	for _, e := range fallbackEncodings {
		if e != detected {
			order = append(order, e)
		}
	}
	return order
}

package parser

import (
	"context"
	"unicode"
)

// textEncodings is the decode order for plain text. The first decode with no
// replacement characters wins.
var textEncodings = []string{"utf-8", "gbk", "gb2312", "latin-1"}

// TextExtractor handles plain text files in UTF-8 or legacy Chinese
// encodings.
type TextExtractor struct{}

func (e *TextExtractor) SupportedTypes() []Type { return []Type{TypeText} }

func (e *TextExtractor) Extract(ctx context.Context, doc *Document) (*Result, error) {
	text, enc := decodeText(doc.Data)
	return &Result{
		Text:     text,
		Method:   "text",
		Metadata: map[string]string{"encoding": enc},
		Attempts: 1,
	}, nil
}

// decodeText honours a BOM, then tries textEncodings in order and finally
// falls back to UTF-8 with replacement.
func decodeText(data []byte) (string, string) {
	if enc, rest := stripBOM(data); enc != "" {
		s, _ := decodeAs(rest, enc)
		return s, enc
	}
	for _, enc := range textEncodings {
		s, ok := decodeAs(data, enc)
		if !ok {
			continue
		}
		if enc == "latin-1" && hasC1Controls(s) {
			continue
		}
		return s, enc
	}
	s, _ := decodeAs(data, "utf-8")
	return s, "utf-8-replace"
}

// hasC1Controls reports control runes other than tab, newline and carriage
// return; binary input decoded as Latin-1 is full of them.
func hasC1Controls(s string) bool {
	for _, r := range s {
		if r == '\t' || r == '\n' || r == '\r' || r == '\f' {
			continue
		}
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

package parser

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"

	"github.com/brunobiangulo/docanalysis/docerr"
)

// RTFExtractor strips RTF control words and decodes escaped bytes with the
// document code page.
type RTFExtractor struct{}

func (e *RTFExtractor) SupportedTypes() []Type { return []Type{TypeRTF} }

func (e *RTFExtractor) Extract(ctx context.Context, doc *Document) (*Result, error) {
	text, err := extractRTF(doc.Data)
	if err != nil {
		return nil, docerr.Wrap(docerr.KindFormat, err, "无法解析RTF文件 (cannot parse rtf)")
	}
	return &Result{Text: text, Method: "rtf", Attempts: 1}, nil
}

// rtfSkipDestinations are groups whose content is not document text.
var rtfSkipDestinations = map[string]bool{
	"fonttbl": true, "colortbl": true, "stylesheet": true, "info": true,
	"pict": true, "object": true, "objdata": true, "fldinst": true,
	"header": true, "headerl": true, "headerr": true, "headerf": true,
	"footer": true, "footerl": true, "footerr": true, "footerf": true,
	"themedata": true, "colorschememapping": true, "latentstyles": true,
	"listtable": true, "listoverridetable": true, "rsidtbl": true,
	"generator": true, "xmlnstbl": true, "datastore": true, "filetbl": true,
	"revtbl": true, "pgdsctbl": true, "mmathPr": true, "bkmkstart": true,
	"bkmkend": true, "nonshppict": true, "shpinst": true, "xe": true, "tc": true,
}

// rtfSymbols maps control words to the text they stand for.
var rtfSymbols = map[string]string{
	"par": "\n", "line": "\n", "row": "\n", "sect": "\n", "page": "\n",
	"tab": "\t", "cell": "\t",
	"emdash": "—", "endash": "–", "bullet": "•",
	"lquote": "‘", "rquote": "’", "ldblquote": "“", "rdblquote": "”",
	"emspace": " ", "enspace": " ", "qmspace": " ",
}

// rtfCodePages maps \ansicpg values to decoders.
var rtfCodePages = map[int]encoding.Encoding{
	936:   simplifiedchinese.GBK,
	54936: simplifiedchinese.GB18030,
	950:   traditionalchinese.Big5,
	1250:  charmap.Windows1250,
	1251:  charmap.Windows1251,
	1252:  charmap.Windows1252,
}

// extractRTF reads the input as UTF-8, retrying with Latin-1 when it is not
// valid UTF-8.
func extractRTF(data []byte) (string, error) {
	trimmed := bytes.TrimLeft(data, " \r\n\t\xef\xbb\xbf")
	if !bytes.HasPrefix(trimmed, []byte("{\\rtf")) {
		return "", fmt.Errorf("missing {\\rtf header")
	}
	var src []rune
	if utf8.Valid(trimmed) {
		src = []rune(string(trimmed))
	} else {
		src = make([]rune, len(trimmed))
		for i, b := range trimmed {
			src[i] = rune(b)
		}
	}
	p := &rtfParser{src: src, codepage: 1252}
	return p.run(), nil
}

type rtfGroup struct {
	skip bool
	uc   int
}

type rtfParser struct {
	src      []rune
	pos      int
	codepage int
	cjkFont  int // codepage implied by a CJK \fcharset, used when \ansicpg is western

	stack   []rtfGroup
	cur     rtfGroup
	pending []byte // \'hh bytes awaiting decode
	skipN   int    // fallback chars still to skip after \uN
	out     strings.Builder
}

func (p *rtfParser) run() string {
	p.cur.uc = 1
	for p.pos < len(p.src) {
		r := p.src[p.pos]
		switch r {
		case '{':
			p.flush()
			p.stack = append(p.stack, p.cur)
			p.pos++
		case '}':
			p.flush()
			if n := len(p.stack); n > 0 {
				p.cur = p.stack[n-1]
				p.stack = p.stack[:n-1]
			}
			p.pos++
		case '\\':
			p.control()
		case '\r', '\n':
			p.pos++
		default:
			p.flush()
			p.pos++
			if p.skipN > 0 {
				p.skipN--
				continue
			}
			p.emit(string(r))
		}
	}
	p.flush()
	return tidyLines(p.out.String())
}

func (p *rtfParser) emit(s string) {
	if !p.cur.skip {
		p.out.WriteString(s)
	}
}

// control handles everything that starts with a backslash.
func (p *rtfParser) control() {
	p.pos++ // backslash
	if p.pos >= len(p.src) {
		return
	}
	r := p.src[p.pos]

	switch {
	case r == '\'':
		if p.pos+2 < len(p.src) {
			if b, err := strconv.ParseUint(string(p.src[p.pos+1:p.pos+3]), 16, 8); err == nil {
				p.pos += 3
				if p.skipN > 0 {
					p.skipN--
					return
				}
				p.pending = append(p.pending, byte(b))
				return
			}
		}
		p.pos++
		return
	case r == '*':
		p.flush()
		p.cur.skip = true
		p.pos++
		return
	case r == '\\' || r == '{' || r == '}':
		p.flush()
		p.emit(string(r))
		p.pos++
		return
	case r == '~':
		p.flush()
		p.emit(" ")
		p.pos++
		return
	case r == '_':
		p.flush()
		p.emit("-")
		p.pos++
		return
	case r == '\r' || r == '\n':
		p.flush()
		p.emit("\n")
		p.pos++
		return
	case !isASCIILetter(r):
		// \- optional hyphen, \| and other control symbols.
		p.pos++
		return
	}

	p.flush()
	start := p.pos
	for p.pos < len(p.src) && isASCIILetter(p.src[p.pos]) {
		p.pos++
	}
	word := string(p.src[start:p.pos])

	param, hasParam := 0, false
	numStart := p.pos
	if p.pos < len(p.src) && p.src[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	if p.pos > numStart && !(p.pos == numStart+1 && p.src[numStart] == '-') {
		param, _ = strconv.Atoi(string(p.src[numStart:p.pos]))
		hasParam = true
	} else {
		p.pos = numStart
	}
	if p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}

	p.word(word, param, hasParam)
}

func (p *rtfParser) word(word string, param int, hasParam bool) {
	switch word {
	case "ansicpg":
		if hasParam {
			p.codepage = param
		}
		return
	case "fcharset":
		switch param {
		case 134:
			p.cjkFont = 936
		case 136:
			p.cjkFont = 950
		}
		return
	case "uc":
		if hasParam {
			p.cur.uc = param
		}
		return
	case "u":
		if !hasParam {
			return
		}
		if param < 0 {
			param += 65536
		}
		p.emit(string(rune(param)))
		p.skipN = p.cur.uc
		return
	}
	if rtfSkipDestinations[word] {
		p.cur.skip = true
		return
	}
	if s, ok := rtfSymbols[word]; ok {
		p.emit(s)
	}
}

// flush decodes pending \'hh bytes with the effective code page.
func (p *rtfParser) flush() {
	if len(p.pending) == 0 {
		return
	}
	cp := p.codepage
	if (cp == 1252 || cp == 0) && p.cjkFont != 0 {
		cp = p.cjkFont
	}
	enc, ok := rtfCodePages[cp]
	if !ok {
		enc = charmap.Windows1252
	}
	decoded, err := enc.NewDecoder().Bytes(p.pending)
	if err != nil {
		decoded, _ = charmap.Windows1252.NewDecoder().Bytes(p.pending)
	}
	p.pending = p.pending[:0]
	p.emit(string(decoded))
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// tidyLines right-trims lines and collapses blank runs.
func tidyLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if strings.TrimSpace(l) == "" {
			blank++
			if blank > 1 {
				continue
			}
			l = ""
		} else {
			blank = 0
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

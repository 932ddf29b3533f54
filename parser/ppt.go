package parser

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/encoding/charmap"

	"github.com/brunobiangulo/docanalysis/docerr"
)

// PowerPoint 97-2003 record types.
const (
	pptSlideListWithText = 0x0FF0
	pptSlidePersistAtom  = 0x03F3
	pptTextCharsAtom     = 0x0FA0
	pptTextBytesAtom     = 0x0FA8
	pptContainerVersion  = 0x0F
)

// PPTExtractor collects text atoms from the "PowerPoint Document" stream.
// Text listed under SlideListWithText is grouped per slide; text found
// elsewhere (shapes, notes) follows when it is not already present.
type PPTExtractor struct{}

func (e *PPTExtractor) SupportedTypes() []Type { return []Type{TypePPT} }

func (e *PPTExtractor) Extract(ctx context.Context, doc *Document) (*Result, error) {
	ole, err := openOLE(doc.Data)
	if err != nil {
		return nil, docerr.Wrap(docerr.KindCorruption, err, "无法解析PPT文件 (cannot open ppt)")
	}
	stream := ole.stream("PowerPoint Document")
	if stream == nil {
		return nil, docerr.New(docerr.KindCorruption, "PPT文件缺少演示文稿数据 (no PowerPoint Document stream)")
	}

	text, slides := pptText(stream)
	meta := ole.meta
	meta["slides"] = fmt.Sprint(slides)
	return &Result{Text: text, Method: "ppt_records", Metadata: meta, Attempts: 1}, nil
}

type pptSlide struct {
	lines []string
}

func pptText(stream []byte) (string, int) {
	var slides []*pptSlide
	var other []string
	var listEnds []int // end offsets of open SlideListWithText containers (slides instance)
	var containerEnds []int

	seen := make(map[string]bool)

	for off := 0; off+8 <= len(stream); {
		for len(containerEnds) > 0 && off >= containerEnds[len(containerEnds)-1] {
			containerEnds = containerEnds[:len(containerEnds)-1]
		}
		for len(listEnds) > 0 && off >= listEnds[len(listEnds)-1] {
			listEnds = listEnds[:len(listEnds)-1]
		}

		verInst := binary.LittleEndian.Uint16(stream[off:])
		typ := binary.LittleEndian.Uint16(stream[off+2:])
		n := int(binary.LittleEndian.Uint32(stream[off+4:]))
		body := off + 8
		end := body + n
		if n < 0 || end > len(stream) {
			end = len(stream)
		}

		if verInst&0x0F == pptContainerVersion {
			containerEnds = append(containerEnds, end)
			if typ == pptSlideListWithText && verInst>>4 == 0 {
				listEnds = append(listEnds, end)
			}
			off = body
			continue
		}

		inSlides := len(listEnds) > 0
		switch typ {
		case pptSlidePersistAtom:
			if inSlides {
				slides = append(slides, &pptSlide{})
			}
		case pptTextCharsAtom, pptTextBytesAtom:
			s := decodeTextAtom(typ, stream[body:end])
			for _, line := range strings.Split(s, "\n") {
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if inSlides && len(slides) > 0 {
					cur := slides[len(slides)-1]
					cur.lines = append(cur.lines, line)
					seen[line] = true
					continue
				}
				other = append(other, line)
			}
		}
		off = end
	}

	var out strings.Builder
	for i, s := range slides {
		if len(s.lines) == 0 {
			continue
		}
		fmt.Fprintf(&out, "=== Slide %d ===\n%s\n\n", i+1, strings.Join(s.lines, "\n"))
	}
	var extra []string
	for _, line := range other {
		if !seen[line] {
			seen[line] = true
			extra = append(extra, line)
		}
	}
	if len(extra) > 0 {
		out.WriteString(strings.Join(extra, "\n"))
		out.WriteByte('\n')
	}
	return out.String(), len(slides)
}

// decodeTextAtom decodes UTF-16LE chars atoms and cp1252 bytes atoms. A
// vertical tab inside an atom is a soft line break; \r ends a paragraph.
func decodeTextAtom(typ uint16, b []byte) string {
	var s string
	if typ == pptTextCharsAtom {
		units := make([]uint16, len(b)/2)
		for i := range units {
			units[i] = binary.LittleEndian.Uint16(b[i*2:])
		}
		s = string(utf16.Decode(units))
	} else {
		runes := make([]rune, len(b))
		for i, c := range b {
			runes[i] = charmap.Windows1252.DecodeByte(c)
		}
		s = string(runes)
	}
	return strings.NewReplacer("\r", "\n", "\v", "\n").Replace(s)
}

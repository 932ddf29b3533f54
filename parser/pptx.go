package parser

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/brunobiangulo/docanalysis/docerr"
)

// PPTXExtractor emits each slide as a "=== Slide N ===" banner followed by
// its shape paragraphs. Table frames become tab-separated rows.
type PPTXExtractor struct{}

func (e *PPTXExtractor) SupportedTypes() []Type { return []Type{TypePPTX} }

func (e *PPTXExtractor) Extract(ctx context.Context, doc *Document) (*Result, error) {
	index, err := openZip(doc.Data)
	if err != nil {
		return nil, docerr.Wrap(docerr.KindCorruption, err, "无法解析PPTX文件 (cannot parse pptx)")
	}

	// Collect slide parts (ppt/slides/slide1.xml, slide2.xml, ...)
	slides := make(map[int]string)
	for name := range index {
		if strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml") {
			if num := slideNumber(name); num > 0 {
				slides[num] = name
			}
		}
	}
	nums := make([]int, 0, len(slides))
	for n := range slides {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var out strings.Builder
	for _, num := range nums {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := readPart(index, slides[num])
		if err != nil {
			continue
		}
		text := slideText(data)
		if text == "" {
			continue
		}
		fmt.Fprintf(&out, "=== Slide %d ===\n%s\n\n", num, text)
	}

	meta := coreProperties(index)
	meta["slides"] = fmt.Sprint(len(nums))
	return &Result{Text: out.String(), Method: "pptx", Metadata: meta, Attempts: 1}, nil
}

// slideText streams DrawingML text: a:p paragraphs and a:tbl rows.
func slideText(data []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var lines []string
	var para strings.Builder
	var cells []string
	inText, inTable := false, false

	for {
		tok, err := dec.Token()
		if err == io.EOF || err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				inTable = true
			case "tr":
				cells = cells[:0]
			case "t":
				inText = true
			case "br":
				para.WriteByte(' ')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if inTable {
					para.WriteByte(' ')
					continue
				}
				if s := strings.TrimSpace(para.String()); s != "" {
					lines = append(lines, s)
				}
				para.Reset()
			case "tc":
				cells = append(cells, strings.Join(strings.Fields(para.String()), " "))
				para.Reset()
			case "tr":
				lines = append(lines, strings.Join(cells, "\t"))
			case "tbl":
				inTable = false
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return strings.Join(lines, "\n")
}

func slideNumber(name string) int {
	name = strings.TrimPrefix(name, "ppt/slides/slide")
	name = strings.TrimSuffix(name, ".xml")
	var num int
	fmt.Sscanf(name, "%d", &num)
	return num
}

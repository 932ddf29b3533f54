package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/brunobiangulo/docanalysis/docerr"
)

// DOCXExtractor reads word/document.xml in document order. Paragraphs become
// lines; table rows become tab-separated lines.
type DOCXExtractor struct{}

func (e *DOCXExtractor) SupportedTypes() []Type { return []Type{TypeDOCX} }

func (e *DOCXExtractor) Extract(ctx context.Context, doc *Document) (*Result, error) {
	text, meta, err := extractDOCX(doc.Data)
	if err != nil {
		return nil, docerr.Wrap(docerr.KindCorruption, err, "无法解析DOCX文件 (cannot parse docx)")
	}
	return &Result{Text: text, Method: "docx", Metadata: meta, Attempts: 1}, nil
}

// openZip indexes the parts of an OOXML package.
func openZip(data []byte) (map[string]*zip.File, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}
	index := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		index[f.Name] = f
	}
	return index, nil
}

func readPart(index map[string]*zip.File, name string) ([]byte, error) {
	f := index[name]
	if f == nil {
		return nil, fmt.Errorf("%s not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func extractDOCX(data []byte) (string, map[string]string, error) {
	index, err := openZip(data)
	if err != nil {
		return "", nil, err
	}
	body, err := readPart(index, "word/document.xml")
	if err != nil {
		return "", nil, err
	}
	text, err := walkDocxBody(body)
	if err != nil {
		return "", nil, fmt.Errorf("parsing document.xml: %w", err)
	}
	return text, coreProperties(index), nil
}

// walkDocxBody streams the document XML. Nested tables flatten into the
// enclosing cell.
func walkDocxBody(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var out strings.Builder
	var para strings.Builder
	var cell strings.Builder
	var cells []string
	tableDepth := 0
	inText := false

	emit := func(s string) {
		if tableDepth > 0 {
			cell.WriteString(s)
		} else {
			para.WriteString(s)
		}
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "tr":
				if tableDepth == 1 {
					cells = cells[:0]
				}
			case "tc":
				if tableDepth == 1 {
					cell.Reset()
				}
			case "t":
				inText = true
			case "tab":
				if tableDepth > 0 {
					emit(" ")
				} else {
					emit("\t")
				}
			case "br", "cr":
				if tableDepth > 0 {
					emit(" ")
				} else {
					emit("\n")
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if tableDepth > 0 {
					if cell.Len() > 0 {
						cell.WriteByte(' ')
					}
					continue
				}
				out.WriteString(strings.TrimRight(para.String(), " "))
				out.WriteByte('\n')
				para.Reset()
			case "tc":
				if tableDepth == 1 {
					cells = append(cells, strings.Join(strings.Fields(cell.String()), " "))
				}
			case "tr":
				if tableDepth == 1 {
					out.WriteString(strings.Join(cells, "\t"))
					out.WriteByte('\n')
				}
			case "tbl":
				tableDepth--
				if tableDepth == 0 {
					out.WriteByte('\n')
				}
			}
		case xml.CharData:
			// Only w:t carries visible text; w:instrText and w:delText are skipped.
			if inText {
				emit(string(t))
			}
		}
	}
	return out.String(), nil
}

type coreProps struct {
	Title    string `xml:"title"`
	Subject  string `xml:"subject"`
	Creator  string `xml:"creator"`
	Keywords string `xml:"keywords"`
}

// coreProperties reads docProps/core.xml, shared by all OOXML formats.
func coreProperties(index map[string]*zip.File) map[string]string {
	meta := map[string]string{}
	data, err := readPart(index, "docProps/core.xml")
	if err != nil {
		return meta
	}
	var p coreProps
	if err := xml.Unmarshal(data, &p); err != nil {
		return meta
	}
	for k, v := range map[string]string{"title": p.Title, "subject": p.Subject, "author": p.Creator, "keywords": p.Keywords} {
		if v = strings.TrimSpace(v); v != "" {
			meta[k] = v
		}
	}
	return meta
}

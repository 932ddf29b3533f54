package parser

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/richardlehane/mscfb"
	"github.com/richardlehane/msoleps"
)

var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// oleStreams are the compound-file streams the legacy extractors read.
var oleStreams = map[string]bool{
	"WordDocument":        true,
	"0Table":              true,
	"1Table":              true,
	"Workbook":            true,
	"Book":                true,
	"PowerPoint Document": true,
}

// summaryProps maps SummaryInformation property names to metadata keys.
var summaryProps = map[string]string{
	"Title":    "title",
	"Subject":  "subject",
	"Author":   "author",
	"Keywords": "keywords",
	"Comments": "comments",
}

// oleFile is the parsed content of an OLE2 compound file.
type oleFile struct {
	streams map[string][]byte
	meta    map[string]string
}

func (f *oleFile) stream(names ...string) []byte {
	for _, n := range names {
		if b, ok := f.streams[n]; ok {
			return b
		}
	}
	return nil
}

// openOLE reads the known streams and SummaryInformation properties.
func openOLE(data []byte) (*oleFile, error) {
	if !bytes.HasPrefix(data, oleMagic) {
		return nil, fmt.Errorf("not an OLE compound file")
	}
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening compound file: %w", err)
	}

	f := &oleFile{streams: make(map[string][]byte), meta: make(map[string]string)}
	props := msoleps.New()

	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		switch {
		case oleStreams[entry.Name]:
			buf, rerr := io.ReadAll(io.LimitReader(entry, entry.Size))
			if rerr != nil {
				return nil, fmt.Errorf("reading %s stream: %w", entry.Name, rerr)
			}
			f.streams[entry.Name] = buf
		case msoleps.IsMSOLEPS(entry.Initial):
			if perr := props.Reset(doc); perr != nil {
				continue
			}
			for _, p := range props.Property {
				key, ok := summaryProps[p.Name]
				if !ok {
					continue
				}
				if v := strings.TrimSpace(strings.Trim(p.String(), "\x00")); v != "" {
					f.meta[key] = v
				}
			}
		}
	}
	if len(f.streams) == 0 {
		return nil, fmt.Errorf("compound file has no document stream")
	}
	return f, nil
}

// oleType names the legacy format by the main stream of a compound file.
// Unreadable containers are treated as Word documents.
func oleType(data []byte) Type {
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return TypeDOC
	}
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		switch entry.Name {
		case "Workbook", "Book":
			return TypeXLS
		case "PowerPoint Document":
			return TypePPT
		case "WordDocument":
			return TypeDOC
		}
	}
	return TypeDOC
}

package parser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunobiangulo/docanalysis/docerr"
)

// DefaultMaxFileSize is the 10 MiB upload limit.
const DefaultMaxFileSize = 10 << 20

var mimeTypes = map[string]Type{
	"text/plain":                                                                TypeText,
	"text/markdown":                                                             TypeText,
	"text/csv":                                                                  TypeText,
	"application/pdf":                                                           TypePDF,
	"application/x-pdf":                                                         TypePDF,
	"application/msword":                                                        TypeDOC,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   TypeDOCX,
	"application/vnd.ms-excel":                                                  TypeXLS,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         TypeXLSX,
	"application/vnd.ms-powerpoint":                                             TypePPT,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": TypePPTX,
	"application/rtf":                                                           TypeRTF,
	"text/rtf":                                                                  TypeRTF,
	"image/png":                                                                 TypePNG,
	"image/jpeg":                                                                TypeJPEG,
	"image/jpg":                                                                 TypeJPEG,
	"image/pjpeg":                                                               TypeJPEG,
	"image/gif":                                                                 TypeGIF,
	"image/bmp":                                                                 TypeBMP,
	"image/x-ms-bmp":                                                            TypeBMP,
	"image/tiff":                                                                TypeTIFF,
	"image/tif":                                                                 TypeTIFF,
}

var extTypes = map[string]Type{
	"txt": TypeText, "text": TypeText, "md": TypeText, "csv": TypeText, "log": TypeText,
	"pdf": TypePDF,
	"docx": TypeDOCX, "doc": TypeDOC,
	"xlsx": TypeXLSX, "xls": TypeXLS,
	"pptx": TypePPTX, "ppt": TypePPT,
	"rtf": TypeRTF,
	"png": TypePNG, "jpg": TypeJPEG, "jpeg": TypeJPEG, "gif": TypeGIF,
	"bmp": TypeBMP, "tif": TypeTIFF, "tiff": TypeTIFF,
}

// genericMIME lists declared types that say nothing about the content.
var genericMIME = map[string]bool{
	"":                             true,
	"application/octet-stream":     true,
	"binary/octet-stream":          true,
	"application/zip":              true,
	"application/x-zip-compressed": true,
	"application/x-ole-storage":    true,
	"application/vnd.ms-office":    true,
	"application/cdfv2":            true,
	"application/x-download":       true,
	"application/force-download":   true,
	"application/unknown":          true,
}

// Dispatcher validates an input blob and routes it to its extractor.
type Dispatcher struct {
	registry    *Registry
	maxFileSize int64
}

// NewDispatcher returns a dispatcher over registry. maxFileSize <= 0 means
// DefaultMaxFileSize.
func NewDispatcher(registry *Registry, maxFileSize int64) *Dispatcher {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Dispatcher{registry: registry, maxFileSize: maxFileSize}
}

// Detect resolves the document type. A specific MIME wins; the extension
// decides when the MIME is generic or absent; magic bytes break the tie when
// both are uninformative.
func Detect(filename, mime string, data []byte) Type {
	m := strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	ext := (&Document{Filename: filename}).Ext()

	if !genericMIME[m] {
		if t, ok := mimeTypes[m]; ok {
			// text/plain uploads of .rtf or .csv files keep their extension.
			if t == TypeText {
				if et, ok := extTypes[ext]; ok && et == TypeRTF {
					return et
				}
			}
			return t
		}
	}
	if t, ok := extTypes[ext]; ok {
		return t
	}
	return sniff(data)
}

// sniff guesses the type from leading magic bytes.
func sniff(data []byte) Type {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		return TypePDF
	case bytes.HasPrefix(data, []byte("{\\rtf")):
		return TypeRTF
	case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}):
		return TypePNG
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return TypeJPEG
	case bytes.HasPrefix(data, []byte("GIF8")):
		return TypeGIF
	case bytes.HasPrefix(data, []byte("BM")) && len(data) > 14:
		return TypeBMP
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return TypeTIFF
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return sniffOOXML(data)
	case bytes.HasPrefix(data, oleMagic):
		return oleType(data)
	}
	return TypeUnknown
}

// sniffOOXML looks for the part names that identify docx/xlsx/pptx.
func sniffOOXML(data []byte) Type {
	head := data
	if len(head) > 64<<10 {
		head = head[:64<<10]
	}
	switch {
	case bytes.Contains(head, []byte("word/")):
		return TypeDOCX
	case bytes.Contains(head, []byte("xl/")):
		return TypeXLSX
	case bytes.Contains(head, []byte("ppt/")):
		return TypePPTX
	}
	return TypeUnknown
}

// Validate rejects empty, oversized and unsupported documents, in that
// order, and fills doc.Type.
func (d *Dispatcher) Validate(doc *Document) error {
	if len(doc.Data) == 0 {
		return docerr.New(docerr.KindEmptyContent, "文件内容为空 (empty file)")
	}
	if int64(len(doc.Data)) > d.maxFileSize {
		return docerr.New(docerr.KindFileSize, "文件大小 %s 超过限制 %s (file too large)",
			humanSize(int64(len(doc.Data))), humanSize(d.maxFileSize)).
			WithDetails(fmt.Sprintf("size=%d limit=%d", len(doc.Data), d.maxFileSize))
	}
	if doc.Type == TypeUnknown {
		doc.Type = Detect(doc.Filename, doc.MIME, doc.Data)
	}
	if _, err := d.registry.Get(doc.Type); err != nil {
		return docerr.Wrap(docerr.KindFormat, err, "不支持的文件格式 %q (unsupported format, mime=%q)", doc.Ext(), doc.MIME)
	}
	return nil
}

// Extract validates doc and runs its extractor. Extractor panics on
// malformed input are reported as corruption.
func (d *Dispatcher) Extract(ctx context.Context, doc *Document) (res *Result, err error) {
	if err := d.Validate(doc); err != nil {
		return nil, err
	}
	ext, _ := d.registry.Get(doc.Type)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("extract: extractor panicked", "file", doc.Filename, "type", doc.Type, "panic", fmt.Sprintf("%v", r))
			res = nil
			err = docerr.New(docerr.KindCorruption, "文件结构损坏，无法解析 (malformed %s: %v)", doc.Type, r)
		}
	}()

	start := time.Now()
	res, err = ext.Extract(ctx, doc)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Text) == "" {
		return nil, docerr.New(docerr.KindEmptyContent, "未能从文件中提取到文本内容 (no text extracted from %s)", doc.Type)
	}
	slog.Info("extract: complete",
		"file", doc.Filename,
		"type", doc.Type,
		"method", res.Method,
		"chars", len([]rune(res.Text)),
		"attempts", res.Attempts,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return res, nil
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%dB", n)
}

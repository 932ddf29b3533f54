package parser

import (
	"context"
	"strings"
)

// Type is a supported document type.
type Type string

const (
	TypeUnknown Type = ""
	TypeText    Type = "txt"
	TypePDF     Type = "pdf"
	TypeDOCX    Type = "docx"
	TypeDOC     Type = "doc"
	TypeXLSX    Type = "xlsx"
	TypeXLS     Type = "xls"
	TypePPTX    Type = "pptx"
	TypePPT     Type = "ppt"
	TypeRTF     Type = "rtf"
	TypePNG     Type = "png"
	TypeJPEG    Type = "jpg"
	TypeGIF     Type = "gif"
	TypeBMP     Type = "bmp"
	TypeTIFF    Type = "tiff"
)

// IsImage reports whether t is a raster image type.
func (t Type) IsImage() bool {
	switch t {
	case TypePNG, TypeJPEG, TypeGIF, TypeBMP, TypeTIFF:
		return true
	}
	return false
}

// IsOLE reports whether t is a legacy OLE2 compound-file format.
func (t Type) IsOLE() bool {
	return t == TypeDOC || t == TypeXLS || t == TypePPT
}

// Document is an input blob plus its declared metadata.
type Document struct {
	Data     []byte
	Filename string
	MIME     string
	Type     Type
}

// Ext returns the lower-cased filename extension without the dot.
func (d *Document) Ext() string {
	i := strings.LastIndexByte(d.Filename, '.')
	if i < 0 || i == len(d.Filename)-1 {
		return ""
	}
	return strings.ToLower(d.Filename[i+1:])
}

// Result is what an extractor produces: a single raw text with layout hints
// (tabs between cells, sheet and slide banners) preserved.
type Result struct {
	Text     string
	Method   string // e.g. "pdf_text", "pdf_ocr", "doc_piece_table", "ocr_psm6"
	Metadata map[string]string
	Attempts int     // strategies tried (DOC survey, OCR modes)
	Score    float64 // extraction quality of the chosen candidate, when scored
}

// Extractor extracts raw text from one family of document types.
type Extractor interface {
	Extract(ctx context.Context, doc *Document) (*Result, error)
	SupportedTypes() []Type
}

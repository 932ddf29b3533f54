package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/brunobiangulo/docanalysis/docerr"
)

// PDFExtractor concatenates page text. Image-only PDFs are OCR'd page by page
// when an OCR engine is configured.
type PDFExtractor struct {
	ocr *ImageExtractor
}

func (e *PDFExtractor) SupportedTypes() []Type { return []Type{TypePDF} }

func (e *PDFExtractor) Extract(ctx context.Context, doc *Document) (*Result, error) {
	text, pages, err := pdfText(doc.Data)
	if err != nil {
		slog.Warn("pdf: text layer unreadable", "file", doc.Filename, "error", err)
	}
	if strings.TrimSpace(text) != "" {
		return &Result{
			Text:     text,
			Method:   "pdf_text",
			Metadata: map[string]string{"pages": fmt.Sprint(pages)},
			Attempts: 1,
		}, nil
	}

	pctx, perr := readPDFModel(doc.Data)
	if perr != nil {
		if err != nil {
			return nil, docerr.Wrap(docerr.KindCorruption, err, "PDF文件已损坏，无法解析 (corrupt pdf)")
		}
		return nil, docerr.Wrap(docerr.KindCorruption, perr, "PDF文件已损坏，无法解析 (corrupt pdf)")
	}
	if !hasImageStreams(pctx) {
		return nil, docerr.New(docerr.KindEmptyContent, "PDF中没有可提取的文本 (pdf has no extractable text)")
	}
	if e.ocr == nil {
		return nil, docerr.New(docerr.KindEmptyContent, "PDF为扫描图片，未包含可提取文本 (image-only pdf, ocr not configured)").
			WithSuggestions("请上传包含文本层的PDF，或启用OCR (upload a text PDF or enable OCR)")
	}
	return e.ocrPages(ctx, pctx)
}

// pdfText extracts the text layer with ledongthuc/pdf. The library panics on
// some malformed xref tables, so panics are turned into errors.
func pdfText(data []byte) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("opening PDF: %w", err)
	}

	pages = reader.NumPage()
	parts := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		t, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n"), pages, nil
}

func readPDFModel(data []byte) (*model.Context, error) {
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	return ctx, nil
}

// hasImageStreams checks whether any page references an image XObject.
func hasImageStreams(ctx *model.Context) bool {
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		if len(pdfcpu.ImageObjNrs(ctx, pageNr)) > 0 {
			return true
		}
	}
	return false
}

// ocrPages OCRs every image on every page in page order.
func (e *PDFExtractor) ocrPages(ctx context.Context, pctx *model.Context) (*Result, error) {
	var parts []string
	attempts := 0
	best := 0.0

	for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		images, err := pdfcpu.ExtractPageImages(pctx, pageNr, false)
		if err != nil {
			slog.Warn("pdf: extracting page images failed", "page", pageNr, "error", err)
			continue
		}
		objNrs := make([]int, 0, len(images))
		for nr := range images {
			objNrs = append(objNrs, nr)
		}
		sort.Ints(objNrs)
		for _, nr := range objNrs {
			img := images[nr]
			raw, err := io.ReadAll(img)
			if err != nil || len(raw) == 0 {
				continue
			}
			ext := img.FileType
			if ext == "" {
				ext = "png"
			}
			res, err := e.ocr.recognize(ctx, raw, ext)
			if err != nil {
				slog.Warn("pdf: ocr failed", "page", pageNr, "error", err)
				continue
			}
			attempts += res.Attempts
			best = max(best, res.Score)
			if strings.TrimSpace(res.Text) != "" {
				parts = append(parts, res.Text)
			}
		}
	}

	if len(parts) == 0 {
		return nil, docerr.New(docerr.KindEmptyContent, "扫描PDF未识别出文字 (ocr produced no text for image-only pdf)")
	}
	return &Result{
		Text:     strings.Join(parts, "\n\n"),
		Method:   "pdf_ocr",
		Metadata: map[string]string{"pages": fmt.Sprint(pctx.PageCount)},
		Attempts: attempts,
		Score:    best,
	}, nil
}

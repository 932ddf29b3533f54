package parser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/docanalysis/docerr"
)

// psmSweep is the tesseract page-segmentation-mode order: uniform block,
// single column, automatic, single word, raw line.
var psmSweep = []int{6, 4, 3, 8, 13}

// earlyExitScore stops the PSM sweep.
const earlyExitScore = 0.8

// ImageExtractor OCRs raster images with tesseract.
type ImageExtractor struct {
	runner        Runner
	tesseract     string
	languages     string
	fallbackLangs string
}

// NewImageExtractor returns an OCR extractor invoking tesseract at path.
func NewImageExtractor(runner Runner, path, languages, fallback string) *ImageExtractor {
	return &ImageExtractor{runner: runner, tesseract: path, languages: languages, fallbackLangs: fallback}
}

func (e *ImageExtractor) SupportedTypes() []Type {
	return []Type{TypePNG, TypeJPEG, TypeGIF, TypeBMP, TypeTIFF}
}

func (e *ImageExtractor) Extract(ctx context.Context, doc *Document) (*Result, error) {
	ext := doc.Ext()
	if ext == "" {
		ext = string(doc.Type)
	}
	res, err := e.recognize(ctx, doc.Data, ext)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, docerr.Wrap(docerr.KindEmptyContent, err, "图片文字识别失败 (ocr failed)")
	}
	return res, nil
}

// recognize sweeps the multilingual PSMs, keeping the best-scoring output,
// and falls back to English-only PSM 6 when every sweep yields nothing.
func (e *ImageExtractor) recognize(ctx context.Context, data []byte, ext string) (*Result, error) {
	var res *Result
	err := withTempFile(data, ext, func(path string) error {
		best := &Result{}
		attempts := 0

		for _, psm := range psmSweep {
			if err := ctx.Err(); err != nil {
				return err
			}
			attempts++
			text, err := e.run(ctx, path, e.languages, psm)
			if err != nil {
				continue
			}
			score := ScoreOCR(text)
			slog.Debug("ocr: attempt", "psm", psm, "lang", e.languages, "chars", len([]rune(text)), "score", score)
			if score > best.Score || (best.Text == "" && text != "") {
				best = &Result{Text: text, Method: fmt.Sprintf("ocr_psm%d", psm), Score: score}
			}
			if score > earlyExitScore {
				break
			}
		}

		if best.Text == "" {
			attempts++
			text, err := e.run(ctx, path, e.fallbackLangs, 6)
			if err != nil {
				return fmt.Errorf("tesseract fallback: %w", err)
			}
			best = &Result{Text: text, Method: "ocr_eng_psm6", Score: ScoreOCR(text)}
		}

		best.Attempts = attempts
		best.Metadata = map[string]string{"ocr_score": fmt.Sprintf("%.2f", best.Score)}
		res = best
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// run invokes: tesseract <file> stdout -l <lang> --psm <n>
func (e *ImageExtractor) run(ctx context.Context, path, lang string, psm int) (string, error) {
	out, _, err := e.runner.Run(ctx, e.tesseract, path, "stdout", "-l", lang, "--psm", fmt.Sprint(psm))
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

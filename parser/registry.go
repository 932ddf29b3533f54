package parser

import (
	"fmt"
	"time"
)

// Options configures the built-in extractors.
type Options struct {
	Runner Runner

	// OCR
	TesseractPath        string
	OCRLanguages         string // default "chi_sim+eng"
	OCRFallbackLanguages string // default "eng"

	// Legacy DOC
	AntiwordPath    string
	AntiwordTimeout time.Duration
}

func (o *Options) defaults() {
	if o.Runner == nil {
		o.Runner = ExecRunner{}
	}
	if o.OCRLanguages == "" {
		o.OCRLanguages = "chi_sim+eng"
	}
	if o.OCRFallbackLanguages == "" {
		o.OCRFallbackLanguages = "eng"
	}
	if o.AntiwordTimeout <= 0 {
		o.AntiwordTimeout = 30 * time.Second
	}
}

// Registry maps document types to extractors.
type Registry struct {
	extractors map[Type]Extractor
}

// NewRegistry registers the built-in extractors. OCR is only available when
// TesseractPath is set; without it images fail and image-only PDFs report
// empty content.
func NewRegistry(opts Options) *Registry {
	opts.defaults()
	r := &Registry{extractors: make(map[Type]Extractor)}

	var ocr *ImageExtractor
	if opts.TesseractPath != "" {
		ocr = NewImageExtractor(opts.Runner, opts.TesseractPath, opts.OCRLanguages, opts.OCRFallbackLanguages)
	}

	builtins := []Extractor{
		&TextExtractor{},
		&PDFExtractor{ocr: ocr},
		&DOCXExtractor{},
		&DOCExtractor{runner: opts.Runner, antiword: opts.AntiwordPath, timeout: opts.AntiwordTimeout},
		&XLSXExtractor{},
		&XLSExtractor{},
		&PPTXExtractor{},
		&PPTExtractor{},
		&RTFExtractor{},
	}
	if ocr != nil {
		builtins = append(builtins, ocr)
	}

	for _, e := range builtins {
		for _, t := range e.SupportedTypes() {
			r.extractors[t] = e
		}
	}
	return r
}

// Get returns the extractor for t.
func (r *Registry) Get(t Type) (Extractor, error) {
	e, ok := r.extractors[t]
	if !ok {
		return nil, fmt.Errorf("no extractor for type: %q", t)
	}
	return e, nil
}

// Register installs or replaces the extractor for t.
func (r *Registry) Register(t Type, e Extractor) {
	r.extractors[t] = e
}

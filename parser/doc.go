package parser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/brunobiangulo/docanalysis/docerr"
	"github.com/brunobiangulo/docanalysis/lexicon"
)

// rawStreamEncodings is the decode order for the raw WordDocument stream.
var rawStreamEncodings = []string{"utf-16le", "utf-16", "gbk", "gb2312", "utf-8", "latin-1"}

// earlyAcceptScore ends the DOC strategy survey.
const earlyAcceptScore = 0.5

// minCandidateScore is the floor below which a DOC decode is rejected.
const minCandidateScore = 0.1

// DOCExtractor decodes legacy Word files by surveying several strategies and
// keeping the best-scoring candidate.
type DOCExtractor struct {
	runner   Runner
	antiword string
	timeout  time.Duration
}

func (e *DOCExtractor) SupportedTypes() []Type { return []Type{TypeDOC} }

type candidate struct {
	method string
	text   string
	score  float64
}

// docSurvey accumulates scored candidates across strategies.
type docSurvey struct {
	attempts   int
	candidates []candidate
}

// offer cleans and scores text unless it is obviously corrupted.
func (s *docSurvey) offer(method, text string) {
	if obviouslyCorrupted(text) {
		slog.Debug("doc: candidate rejected", "method", method)
		return
	}
	text = cleanExtracted(text)
	score := ScoreExtraction(text)
	slog.Debug("doc: candidate", "method", method, "chars", lexicon.RuneLen(text), "score", score)
	s.candidates = append(s.candidates, candidate{method: method, text: text, score: score})
}

func (s *docSurvey) best() (candidate, bool) {
	if len(s.candidates) == 0 {
		return candidate{}, false
	}
	sort.SliceStable(s.candidates, func(i, j int) bool { return s.candidates[i].score > s.candidates[j].score })
	return s.candidates[0], true
}

func (s *docSurvey) good() bool {
	b, ok := s.best()
	return ok && b.score >= earlyAcceptScore
}

func (e *DOCExtractor) Extract(ctx context.Context, doc *Document) (*Result, error) {
	survey := &docSurvey{}
	meta := map[string]string{}

	strategies := []func(context.Context, *Document, *docSurvey, map[string]string){
		e.tryAntiword,
		e.tryCompat,
		e.tryOLE,
		e.tryCharsets,
	}
	for _, strategy := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		strategy(ctx, doc, survey, meta)
		if survey.good() {
			break
		}
	}

	best, ok := survey.best()
	if !ok || best.score <= minCandidateScore {
		return nil, docerr.New(docerr.KindCorruption,
			"DOC文件解码失败，已尝试 %d 种方法 (all %d decoding attempts failed)", survey.attempts, survey.attempts).
			WithDetails(fmt.Sprintf("attempts=%d candidates=%d", survey.attempts, len(survey.candidates))).
			WithSuggestions(
				"请用 Microsoft Word 或 WPS 打开后另存为 .docx 格式再上传 (convert to .docx)",
				"如文件来自扫描件，请上传清晰的PDF或图片",
			)
	}

	meta["score"] = fmt.Sprintf("%.2f", best.score)
	return &Result{
		Text:     best.text,
		Method:   "doc_" + best.method,
		Metadata: meta,
		Attempts: survey.attempts,
		Score:    best.score,
	}, nil
}

// tryAntiword runs the configured doc-to-text binary on a temp file.
func (e *DOCExtractor) tryAntiword(ctx context.Context, doc *Document, s *docSurvey, _ map[string]string) {
	if e.antiword == "" {
		return
	}
	s.attempts++
	err := withTempFile(doc.Data, "doc", func(path string) error {
		runCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		out, _, err := e.runner.Run(runCtx, e.antiword, path)
		if err != nil {
			return err
		}
		text, _ := decodeAs(out, "utf-8")
		s.offer("antiword", text)
		return nil
	})
	if err != nil {
		slog.Warn("doc: antiword failed", "file", doc.Filename, "error", err)
	}
}

// tryCompat handles DOCX or RTF content saved under a .doc name.
func (e *DOCExtractor) tryCompat(_ context.Context, doc *Document, s *docSurvey, meta map[string]string) {
	switch {
	case bytes.HasPrefix(doc.Data, []byte("PK\x03\x04")):
		s.attempts++
		text, m, err := extractDOCX(doc.Data)
		if err != nil {
			slog.Debug("doc: docx compat failed", "error", err)
			return
		}
		for k, v := range m {
			meta[k] = v
		}
		s.offer("docx_compat", text)
	case bytes.HasPrefix(bytes.TrimLeft(doc.Data, " \r\n\t"), []byte("{\\rtf")):
		s.attempts++
		text, err := extractRTF(doc.Data)
		if err != nil {
			slog.Debug("doc: rtf compat failed", "error", err)
			return
		}
		s.offer("rtf_compat", text)
	}
}

// tryOLE reads the piece table, then raw decodes of the WordDocument stream.
func (e *DOCExtractor) tryOLE(_ context.Context, doc *Document, s *docSurvey, meta map[string]string) {
	s.attempts++
	ole, err := openOLE(doc.Data)
	if err != nil {
		slog.Debug("doc: not an OLE file", "error", err)
		return
	}
	for k, v := range ole.meta {
		meta[k] = v
	}

	text, err := pieceTableText(ole)
	if err != nil {
		slog.Debug("doc: piece table unavailable", "error", err)
	} else {
		s.offer("piece_table", text)
		if s.good() {
			return
		}
	}

	wd := ole.stream("WordDocument")
	if wd == nil {
		return
	}
	for _, enc := range rawStreamEncodings {
		s.attempts++
		raw, _ := decodeAs(wd, enc)
		s.offer("ole_"+enc, oleClean(raw))
	}
}

// tryCharsets decodes the whole blob, detected charset first.
func (e *DOCExtractor) tryCharsets(_ context.Context, doc *Document, s *docSurvey, _ map[string]string) {
	for _, enc := range encodingOrder(detectCharset(doc.Data)) {
		s.attempts++
		text, _ := decodeAs(doc.Data, enc)
		s.offer("charset_"+enc, text)
	}
}

// oleClean keeps runs of CJK or printable ASCII from a raw stream decode.
// Binary structures decode to short runs of noise, so ASCII-only runs must
// be longer than mixed or CJK ones.
func oleClean(raw string) string {
	var lines []string
	var run []rune
	flush := func() {
		if len(run) == 0 {
			return
		}
		s := strings.TrimSpace(string(run))
		run = run[:0]
		n := lexicon.RuneLen(s)
		if n == 0 {
			return
		}
		if lexicon.ContainsCJK(s) {
			if n >= 2 {
				lines = append(lines, s)
			}
			return
		}
		if n >= 6 && hasWordLike(s) {
			lines = append(lines, s)
		}
	}
	for _, r := range raw {
		switch {
		case r == '\r' || r == '\n' || r == 0x0B:
			flush()
		case r == '\t' || r == 0x07:
			run = append(run, '\t')
		case lexicon.IsCJK(r) || lexicon.IsCJKPunct(r):
			run = append(run, r)
		case r >= 0x20 && r < 0x7F:
			run = append(run, r)
		case r == '±' || r == '°' || r == 'Ω' || r == '℃' || r == 'μ':
			run = append(run, r)
		default:
			flush()
		}
	}
	flush()
	return strings.Join(lines, "\n")
}

var wordLike = regexp.MustCompile(`[A-Za-z]{3,}|\d`)

func hasWordLike(s string) bool { return wordLike.MatchString(s) }

var blankRuns = regexp.MustCompile(`\n{3,}`)

// cleanExtracted normalizes a decoded candidate: control runes dropped,
// line endings unified, lines right-trimmed, blank runs collapsed.
func cleanExtracted(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r == '\uFFFD' || unicode.IsControl(r) || unicode.Is(unicode.Co, r) {
			return -1
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t　")
	}
	text = strings.Join(lines, "\n")
	return strings.TrimSpace(blankRuns.ReplaceAllString(text, "\n\n"))
}

// Package docanalysis turns product documents (PDF, Office, RTF, plain
// text, images) into a structured product record: identity, technical
// specifications, features and support information, each with a
// confidence score.
//
// An analysis runs the stages in order: format dispatch and text
// extraction, the quality gate, noise cleaning, tiered LLM extraction,
// table augmentation and validation. Analyze always returns an
// AnalysisResult; failures are reported in its error envelope.
package docanalysis

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/brunobiangulo/docanalysis/cleaner"
	"github.com/brunobiangulo/docanalysis/docerr"
	"github.com/brunobiangulo/docanalysis/extraction"
	"github.com/brunobiangulo/docanalysis/lexicon"
	"github.com/brunobiangulo/docanalysis/llm"
	"github.com/brunobiangulo/docanalysis/monitor"
	"github.com/brunobiangulo/docanalysis/parser"
	"github.com/brunobiangulo/docanalysis/quality"
	"github.com/brunobiangulo/docanalysis/schema"
	"github.com/brunobiangulo/docanalysis/store"
	"github.com/brunobiangulo/docanalysis/tables"
	"github.com/brunobiangulo/docanalysis/validator"
)

// Pipeline is the main entry point for document analysis.
type Pipeline interface {
	// Analyze runs one document through every stage. It never panics and
	// never returns nil; check Success or Err for the outcome.
	Analyze(ctx context.Context, req AnalyzeRequest) *AnalysisResult

	// Learn records a user-approved correction of an earlier analysis.
	Learn(ctx context.Context, c store.Correction) (*store.LearnResult, error)

	// Statistics summarises recorded corrections over the last days days.
	Statistics(ctx context.Context, days int) (*store.Statistics, error)

	// PromptOptimization derives prompt guidance from the corrections
	// recorded for a document type and category.
	PromptOptimization(ctx context.Context, docType, category string) (*store.PromptOptimization, error)

	// HealthCheck probes the LLM service and reports the learning store.
	HealthCheck(ctx context.Context) Health

	// Close releases the learning store.
	Close() error
}

// LearningStore is the per-user correction history. The pipeline only
// reads it during Analyze.
type LearningStore interface {
	GetPersonalizedHints(ctx context.Context, userID, docType string, data *schema.ExtractedData) (*store.Hints, error)
	LearnFromModifications(ctx context.Context, c store.Correction) (*store.LearnResult, error)
	GetStatistics(ctx context.Context, days int) (*store.Statistics, error)
	OptimizePrompt(ctx context.Context, docType, category string) (*store.PromptOptimization, error)
	Close() error
}

// AnalyzeRequest is one document to analyse.
type AnalyzeRequest struct {
	Data     []byte
	Filename string
	MIME     string

	// UserID enables personalization from the learning store.
	UserID string

	// Deadline bounds the whole analysis; zero uses the configured one.
	Deadline time.Duration
}

// Health is the outcome of HealthCheck.
type Health struct {
	Status        string `json:"status"` // ok or degraded
	LLM           string `json:"llm"`
	LLMError      string `json:"llm_error,omitempty"`
	LearningStore string `json:"learning_store"` // enabled or disabled
}

// Option configures New.
type Option func(*options)

type options struct {
	provider    llm.Provider
	runner      parser.Runner
	registry    *parser.Registry
	learning    LearningStore
	instruments *monitor.Instruments
}

// WithProvider replaces the chat-completion client built from Config.LLM.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithRunner replaces the subprocess runner used by OCR and antiword.
func WithRunner(r parser.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithRegistry replaces the extractor registry.
func WithRegistry(r *parser.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithLearningStore installs a learning store regardless of
// Config.Learning.Enabled. The pipeline closes it on Close.
func WithLearningStore(s LearningStore) Option {
	return func(o *options) { o.learning = s }
}

// WithInstruments sets the OpenTelemetry instruments; the default uses the
// global providers.
func WithInstruments(inst *monitor.Instruments) Option {
	return func(o *options) { o.instruments = inst }
}

// pipeline is the concrete implementation of Pipeline. It holds only
// immutable configuration and is safe for concurrent Analyze calls.
type pipeline struct {
	cfg        Config
	dispatcher *parser.Dispatcher
	engine     *extraction.Engine
	augmenter  *tables.Augmenter
	validator  *validator.Validator
	learning   LearningStore
	inst       *monitor.Instruments
}

// New creates a pipeline from cfg.
func New(cfg Config, opts ...Option) (Pipeline, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	def := DefaultConfig()
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = def.MaxTextLength
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}

	chat := o.provider
	if chat == nil {
		p, err := llm.NewProvider(cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("creating llm provider: %w", err)
		}
		chat = p
	}

	reg := o.registry
	if reg == nil {
		reg = parser.NewRegistry(cfg.parserOptions(o.runner))
	}

	inst := o.instruments
	if inst == nil {
		var err error
		if inst, err = monitor.GlobalInstruments(); err != nil {
			return nil, fmt.Errorf("creating instruments: %w", err)
		}
	}

	learning := o.learning
	if learning == nil && cfg.Learning.Enabled {
		dbPath := cfg.resolveDBPath()
		s, err := store.New(dbPath)
		if err != nil {
			return nil, fmt.Errorf("opening learning store: %w", err)
		}
		slog.Info("learning store opened", "path", dbPath)
		learning = s
	}

	return &pipeline{
		cfg:        cfg,
		dispatcher: parser.NewDispatcher(reg, cfg.MaxFileSize),
		engine: extraction.New(chat, extraction.Config{
			Model:          cfg.LLM.Model,
			BasicThreshold: cfg.BasicThreshold,
			Temperature:    cfg.Temperature,
		}),
		augmenter: tables.NewAugmenter(nil),
		validator: validator.New(),
		learning:  learning,
		inst:      inst,
	}, nil
}

// Analyze runs the full pipeline on one document.
func (p *pipeline) Analyze(ctx context.Context, req AnalyzeRequest) (res *AnalysisResult) {
	start := time.Now()
	mon := monitor.New(p.inst)
	res = &AnalysisResult{
		AnalysisID:        uuid.NewString(),
		AnalysisTimestamp: timestamp(start),
		DocumentInfo:      &DocumentInfo{Filename: req.Filename, Size: len(req.Data)},
		DebugInfo:         &DebugInfo{},
	}

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = p.cfg.Deadline()
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	slog.Info("analyze: starting", "id", res.AnalysisID, "file", req.Filename, "size", len(req.Data), "user", req.UserID)

	var clean string
	defer func() {
		if r := recover(); r != nil {
			slog.Error("analyze: panic", "id", res.AnalysisID, "file", req.Filename, "panic", fmt.Sprintf("%v", r))
			p.fail(ctx, res, mon, docerr.New(docerr.KindUnknown, "内部错误 (internal error: %v)", r), clean)
		}
		res.DocumentInfo.AnalysisDuration = round2(time.Since(start).Seconds())
		res.DebugInfo.Monitor = mon.Report()
	}()

	err := p.run(ctx, req, mon, res, &clean)
	if err != nil {
		p.fail(ctx, res, mon, err, clean)
		return res
	}

	mon.Finish(ctx, "")
	slog.Info("analyze: complete",
		"id", res.AnalysisID,
		"file", req.Filename,
		"name", res.ExtractedData.BasicInfo.Name,
		"specs", len(res.ExtractedData.Specifications),
		"overall", res.ExtractedData.Confidence.Overall,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return res
}

// run executes the stages, filling res as it goes. clean receives the
// cleaned text as soon as it exists.
func (p *pipeline) run(ctx context.Context, req AnalyzeRequest, mon *monitor.Monitor, res *AnalysisResult, clean *string) error {
	info, dbg := res.DocumentInfo, res.DebugInfo

	// Format dispatch and text extraction.
	doc := &parser.Document{Data: req.Data, Filename: req.Filename, MIME: req.MIME}
	sctx, end := mon.Stage(ctx, "extract")
	raw, err := p.dispatcher.Extract(sctx, doc)
	end(err)
	info.Type = string(doc.Type)
	if err != nil {
		return p.systemError(ctx, err)
	}
	info.Metadata = raw.Metadata
	dbg.ExtractionMethod = raw.Method
	dbg.ExtractionAttempts = raw.Attempts

	// Quality gate and truncation.
	_, end = mon.Stage(ctx, "quality")
	report, err := quality.Gate(raw.Text, req.Filename)
	end(err)
	info.Quality = &report
	if err != nil {
		return err
	}
	mon.Record("text_quality", report.Score)

	text, truncated := quality.Truncate(raw.Text, p.cfg.MaxTextLength)
	info.Truncated, dbg.Truncated = truncated, truncated
	if truncated {
		slog.Info("analyze: text truncated", "file", req.Filename, "chars", lexicon.RuneLen(raw.Text), "limit", p.cfg.MaxTextLength)
	}

	// Noise cleaning.
	_, end = mon.Stage(ctx, "clean")
	cleaned := cleaner.Clean(text)
	end(nil)
	*clean = cleaned.Content
	info.CleaningStats = &cleaned.Stats
	info.CleaningRatio = round2(cleaned.Ratio)
	info.TextLength = lexicon.RuneLen(cleaned.Content)
	info.WordCount = wordCount(cleaned.Content)
	mon.Record("cleaning_ratio", cleaned.Ratio)
	if cleaned.Ratio > 0.1 {
		slog.Info("analyze: noise removed",
			"file", req.Filename,
			"ratio", fmt.Sprintf("%.2f", cleaned.Ratio),
			"removed_lines", cleaned.Stats.RemovedLines,
			"protected_lines", cleaned.Stats.ProtectedLines,
		)
	}
	if strings.TrimSpace(cleaned.Content) == "" {
		return docerr.New(docerr.KindEmptyContent, "清理后文档没有可分析的内容 (no content left after cleaning)")
	}

	// Personalization, read-only.
	hints := p.hints(ctx, req.UserID, info.Type, nil)

	// LLM extraction.
	ereq := extraction.Request{
		Filename: req.Filename,
		Text:     cleaned.Content,
		DocType:  info.Type,
		UserID:   req.UserID,
	}
	if hints != nil {
		ereq.Hints = hints.Hints
		ereq.Enhancements = hints.PatternContext.SuccessPatterns
		dbg.HintsApplied = len(hints.Hints) + len(hints.PatternContext.SuccessPatterns)
	}
	sctx, end = mon.Stage(ctx, "llm_extraction")
	resp, err := p.engine.Extract(sctx, ereq)
	end(err)
	if err != nil {
		return p.aiError(ctx, err)
	}
	mon.Tokens(ctx, resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	dbg.Tier, dbg.Repair, dbg.Model, dbg.Usage = string(resp.Tier), string(resp.Repair), resp.Model, resp.Usage
	data := resp.Data

	// Table augmentation.
	_, end = mon.Stage(ctx, "tables")
	outcome, err := p.augment(data, cleaned.Content)
	end(err)
	mon.Record("table_parsing_confidence", outcome.ParsingConfidence)

	// Validation and scoring.
	vc := validator.Context{
		Filename:   req.Filename,
		Text:       cleaned.Content,
		DocQuality: report.Score,
		TableFound: outcome.Found,
		TableAdded: outcome.Added,
	}
	if hints != nil && hints.PatternContext.SampleCount > 0 {
		vc.History = &validator.History{
			Accuracy: hints.PatternContext.Accuracy,
			Samples:  hints.PatternContext.SampleCount,
		}
	}
	_, end = mon.Stage(ctx, "validate")
	vrep, err := p.validate(data, vc)
	end(err)

	if hints != nil && len(hints.Hints) > 0 {
		if h := p.hints(ctx, req.UserID, info.Type, data); h != nil {
			dbg.PredictedModifications = h.PredictedModifications
		}
	}

	vr := &ValidationReport{
		Warnings:               vrep.Warnings,
		RemovedSpecs:           vrep.RemovedSpecs,
		NoiseRatio:             round2(vrep.NoiseRatio),
		IdentityRepaired:       vrep.IdentityRepaired,
		TableSpecsAdded:        nonNil(outcome.Added),
		TableSpecsRemoved:      nonNil(outcome.Removed),
		TableParsingConfidence: round2(outcome.ParsingConfidence),
	}
	if vr.Warnings == nil {
		vr.Warnings = []string{}
	}
	if vr.RemovedSpecs == nil {
		vr.RemovedSpecs = []string{}
	}
	if errs := schema.Validate(data); len(errs) > 0 {
		vr.SchemaErrors = errs
		slog.Warn("analyze: result does not match schema", "file", req.Filename, "errors", len(errs), "first", errs[0])
	} else {
		vr.SchemaValid = true
	}

	res.Success = true
	res.ExtractedData = data
	res.ValidationReport = vr
	res.ConfidenceScores = &ConfidenceScores{
		BasicInfo:      data.Confidence.BasicInfo,
		Specifications: data.Confidence.Specifications,
		Features:       data.Confidence.Features,
		Overall:        data.Confidence.Overall,
		Fields:         vrep.FieldScores,
	}
	res.DataQualityScore = dataQuality(report.Score, data.Confidence.Overall)
	res.TextPreview = preview(cleaned.Content, previewRunes)
	return nil
}

// hints reads the user's correction history. Failures only cost the
// personalization.
func (p *pipeline) hints(ctx context.Context, userID, docType string, data *schema.ExtractedData) *store.Hints {
	if p.learning == nil || userID == "" {
		return nil
	}
	h, err := p.learning.GetPersonalizedHints(ctx, userID, docType, data)
	if err != nil {
		slog.Warn("analyze: personalized hints unavailable", "user", userID, "doc_type", docType, "error", err)
		return nil
	}
	slog.Debug("analyze: personalized hints",
		"user", userID,
		"doc_type", docType,
		"samples", h.PatternContext.SampleCount,
		"hints", len(h.Hints),
	)
	return h
}

// augment runs the table stage. A panic leaves data as the model returned
// it.
func (p *pipeline) augment(data *schema.ExtractedData, text string) (out tables.Outcome, err error) {
	backup := data.Clone()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("analyze: table augmentation panicked", "panic", fmt.Sprintf("%v", r))
			*data = *backup
			out = tables.Outcome{}
			err = fmt.Errorf("table augmentation: %v", r)
		}
	}()
	return p.augmenter.Augment(data, text), nil
}

// validate runs the validator. A panic leaves data as augmentation left
// it, with the identity filled and the overall confidence recomputed.
func (p *pipeline) validate(data *schema.ExtractedData, vc validator.Context) (rep validator.Report, err error) {
	backup := data.Clone()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("analyze: validation panicked", "panic", fmt.Sprintf("%v", r))
			*data = *backup
			repaired := validator.RepairIdentity(data, vc)
			c := &data.Confidence
			c.Overall = round2(0.3*c.BasicInfo + 0.7*c.Specifications)
			rep = validator.Report{
				Warnings:         []string{"validation skipped after an internal error"},
				RemovedSpecs:     []string{},
				IdentityRepaired: repaired,
			}
			err = fmt.Errorf("validation: %v", r)
		}
	}()
	return p.validator.Validate(data, vc), nil
}

// fail turns err into the failure envelope.
func (p *pipeline) fail(ctx context.Context, res *AnalysisResult, mon *monitor.Monitor, err error, clean string) {
	f := describe(err)
	res.Success = false
	res.err = err
	res.Error = f.Title
	res.ErrorType = f.Kind
	res.ErrorDetails = f.Details
	res.Suggestions = f.Suggestions
	res.ExtractedData = schema.Default()
	res.ConfidenceScores = nil
	res.ValidationReport = nil
	res.DataQualityScore = 0
	res.TextPreview = ""
	if f.Kind == docerr.KindAITimeout && clean != "" {
		res.DebugInfo.PartialText = preview(clean, partialTextRunes)
	}

	mon.Finish(ctx, string(f.Kind))
	slog.Warn("analyze: failed",
		"id", res.AnalysisID,
		"file", res.DocumentInfo.Filename,
		"error_type", f.Kind,
		"error", err,
	)
}

// aiError classifies an extraction failure into the AI error kinds.
func (p *pipeline) aiError(ctx context.Context, err error) error {
	kind := llm.Kind(err)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = docerr.KindAITimeout
	}
	return docerr.Wrap(kind, err, "AI分析服务调用失败 (LLM extraction failed)")
}

// systemError classifies errors from the extraction stage that are not
// already classified.
func (p *pipeline) systemError(ctx context.Context, err error) error {
	if _, ok := docerr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return docerr.Wrap(docerr.KindTimeout, err, "文档解析超时 (extraction timed out)")
	case errors.Is(err, fs.ErrPermission):
		return docerr.Wrap(docerr.KindPermission, err, "没有访问权限 (permission denied)")
	case errors.Is(err, syscall.ENOSPC):
		return docerr.Wrap(docerr.KindDisk, err, "磁盘空间不足 (no space left on device)")
	case errors.Is(err, syscall.ENOMEM):
		return docerr.Wrap(docerr.KindMemory, err, "内存不足 (out of memory)")
	}
	return docerr.Wrap(docerr.KindUnknown, err, "文档解析失败 (extraction failed)")
}

// Learn records a correction.
func (p *pipeline) Learn(ctx context.Context, c store.Correction) (*store.LearnResult, error) {
	if p.learning == nil {
		return nil, ErrLearningStoreDisabled
	}
	if c.Original == nil || c.Final == nil {
		return nil, fmt.Errorf("%w: original and final data are required", ErrInvalidCorrection)
	}
	return p.learning.LearnFromModifications(ctx, c)
}

// Statistics summarises recorded corrections.
func (p *pipeline) Statistics(ctx context.Context, days int) (*store.Statistics, error) {
	if p.learning == nil {
		return nil, ErrLearningStoreDisabled
	}
	return p.learning.GetStatistics(ctx, days)
}

// PromptOptimization returns the store's guidance, refined by the model
// when there are common errors to learn from. A failing model call keeps
// the store's guidance.
func (p *pipeline) PromptOptimization(ctx context.Context, docType, category string) (*store.PromptOptimization, error) {
	if p.learning == nil {
		return nil, ErrLearningStoreDisabled
	}
	po, err := p.learning.OptimizePrompt(ctx, docType, category)
	if err != nil {
		return nil, err
	}
	if len(po.CommonErrors) == 0 {
		return po, nil
	}
	suggested, err := p.engine.SuggestEnhancements(ctx, docType, category, po.CommonErrors)
	if err != nil {
		slog.Warn("prompt optimization: model refinement failed", "doc_type", docType, "category", category, "error", err)
		return po, nil
	}
	po.PromptEnhancements = dedupe(append(po.PromptEnhancements, suggested...))
	return po, nil
}

// HealthCheck probes the LLM service.
func (p *pipeline) HealthCheck(ctx context.Context) Health {
	h := Health{Status: "ok", LLM: "ok", LearningStore: "disabled"}
	if p.learning != nil {
		h.LearningStore = "enabled"
	}
	if err := p.engine.HealthCheck(ctx); err != nil {
		h.Status = "degraded"
		h.LLM = string(llm.Kind(err))
		h.LLMError = err.Error()
	}
	return h
}

// Close shuts down the pipeline.
func (p *pipeline) Close() error {
	if p.learning == nil {
		return nil
	}
	return p.learning.Close()
}

// wordCount counts CJK characters and whitespace-separated non-CJK words.
func wordCount(s string) int {
	n := 0
	for _, f := range strings.Fields(s) {
		word := false
		for _, r := range f {
			switch {
			case lexicon.IsCJK(r):
				n++
			case unicode.IsLetter(r) || unicode.IsDigit(r):
				word = true
			}
		}
		if word {
			n++
		}
	}
	return n
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

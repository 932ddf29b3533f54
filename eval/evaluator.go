package eval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/docanalysis"
	"github.com/brunobiangulo/docanalysis/docerr"
)

// Pass thresholds for a successful case.
const (
	PassIdentity = 0.66
	PassSpecF1   = 0.5
)

// Analyzer is the part of docanalysis.Pipeline the evaluator drives.
type Analyzer interface {
	Analyze(ctx context.Context, req docanalysis.AnalyzeRequest) *docanalysis.AnalysisResult
}

// Evaluator runs labelled datasets through an analysis pipeline and scores
// what it extracts.
type Evaluator struct {
	analyzer    Analyzer
	concurrency int
	readFile    func(string) ([]byte, error)
}

// NewEvaluator creates a new evaluator. Cases run one at a time unless
// SetConcurrency is called.
func NewEvaluator(a Analyzer) *Evaluator {
	return &Evaluator{analyzer: a, concurrency: 1, readFile: os.ReadFile}
}

// SetConcurrency bounds how many cases are analysed in parallel.
func (e *Evaluator) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	e.concurrency = n
}

// Report holds the results of an evaluation run.
type Report struct {
	Dataset         string                      `json:"dataset"`
	TotalTests      int                         `json:"total_tests"`
	Passed          int                         `json:"passed"`
	Failed          int                         `json:"failed"`
	Metrics         AggregateMetrics            `json:"metrics"`
	CategoryMetrics map[string]AggregateMetrics `json:"category_metrics,omitempty"`
	ErrorTypes      map[docerr.Kind]int         `json:"error_types,omitempty"`
	Results         []TestResult                `json:"results"`
	RunTime         time.Duration               `json:"run_time"`
	TokenUsage      TokenUsage                  `json:"token_usage"`
}

// TokenUsage aggregates LLM token consumption across an evaluation run.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AggregateMetrics holds averaged metrics across scored cases.
type AggregateMetrics struct {
	AvgIdentityAccuracy float64 `json:"avg_identity_accuracy"`
	AvgSpecPrecision    float64 `json:"avg_spec_precision"`
	AvgSpecRecall       float64 `json:"avg_spec_recall"`
	AvgSpecF1           float64 `json:"avg_spec_f1"`
	AvgConfidence       float64 `json:"avg_confidence"`
	AvgDataQuality      float64 `json:"avg_data_quality"`

	// CalibrationGap is the mean |overall confidence - case score|.
	CalibrationGap float64 `json:"calibration_gap"`
}

// TestResult holds the result of a single case.
type TestResult struct {
	File          string      `json:"file"`
	Category      string      `json:"category,omitempty"`
	Success       bool        `json:"success"`
	ErrorType     docerr.Kind `json:"error_type,omitempty"`
	ExpectedError docerr.Kind `json:"expected_error,omitempty"`
	Error         string      `json:"error,omitempty"`
	Passed        bool        `json:"passed"`

	IdentityAccuracy float64  `json:"identity_accuracy"`
	SpecPrecision    float64  `json:"spec_precision"`
	SpecRecall       float64  `json:"spec_recall"`
	SpecF1           float64  `json:"spec_f1"`
	MissingSpecs     []string `json:"missing_specs,omitempty"`
	ExtraSpecs       []string `json:"extra_specs,omitempty"`
	Confidence       float64  `json:"confidence"`
	DataQuality      float64  `json:"data_quality"`

	Tier             string `json:"tier,omitempty"`
	Repair           string `json:"repair,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	ElapsedMs        int64  `json:"elapsed_ms"`

	scored bool
}

// Score is the blended case score used for calibration.
func (r TestResult) Score() float64 {
	return 0.3*r.IdentityAccuracy + 0.7*r.SpecF1
}

// Run analyses every case of the dataset and aggregates the metrics.
// Per-case failures are recorded in the report; the returned error is
// only non-nil when ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context, ds Dataset) (*Report, error) {
	start := time.Now()
	report := &Report{
		Dataset:    ds.Name,
		TotalTests: len(ds.Cases),
		Results:    make([]TestResult, len(ds.Cases)),
	}

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, c := range ds.Cases {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result := e.runCase(gctx, ds, c)
			report.Results[i] = result

			mu.Lock()
			done++
			progress := fmt.Sprintf("%d/%d", done, len(ds.Cases))
			mu.Unlock()

			status := "PASS"
			if !result.Passed {
				status = "FAIL"
			}
			if result.Error != "" {
				status = "ERROR"
			}
			slog.Info("eval: case complete",
				"progress", progress,
				"status", status,
				"file", c.File,
				"error_type", result.ErrorType,
				"identity", fmt.Sprintf("%.2f", result.IdentityAccuracy),
				"spec_f1", fmt.Sprintf("%.2f", result.SpecF1),
				"confidence", fmt.Sprintf("%.2f", result.Confidence),
				"tokens", result.TotalTokens,
				"elapsed_ms", result.ElapsedMs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("eval %s: %w", ds.Name, err)
	}

	aggregate(report)
	report.RunTime = time.Since(start)
	return report, nil
}

func (e *Evaluator) runCase(ctx context.Context, ds Dataset, c Case) TestResult {
	caseStart := time.Now()
	result := TestResult{
		File:          c.File,
		Category:      c.Category,
		ExpectedError: c.ExpectError,
	}

	data, err := e.readFile(ds.path(c))
	if err != nil {
		result.Error = fmt.Sprintf("reading %s: %v", c.File, err)
		result.ElapsedMs = time.Since(caseStart).Milliseconds()
		return result
	}

	res := e.analyzer.Analyze(ctx, docanalysis.AnalyzeRequest{
		Data:     data,
		Filename: c.File,
		MIME:     c.MIME,
	})
	result.Success = res.Success
	result.ErrorType = res.ErrorType
	if res.DebugInfo != nil {
		result.Tier = res.DebugInfo.Tier
		result.Repair = res.DebugInfo.Repair
		result.PromptTokens = res.DebugInfo.Usage.PromptTokens
		result.CompletionTokens = res.DebugInfo.Usage.CompletionTokens
		result.TotalTokens = res.DebugInfo.Usage.TotalTokens
	}

	if c.ExpectError != "" {
		result.Passed = !res.Success && res.ErrorType == c.ExpectError
		result.ElapsedMs = time.Since(caseStart).Milliseconds()
		return result
	}
	if !res.Success || res.ExtractedData == nil {
		result.Error = res.Error
		result.ElapsedMs = time.Since(caseStart).Milliseconds()
		return result
	}

	result.scored = true
	result.IdentityAccuracy = identityAccuracy(res.ExtractedData.BasicInfo, c.Expected)
	m := compareSpecs(res.ExtractedData.Specifications, c.Expected.Specifications)
	result.SpecPrecision = m.Precision
	result.SpecRecall = m.Recall
	result.SpecF1 = f1(m.Precision, m.Recall)
	result.MissingSpecs = m.Missing
	result.ExtraSpecs = m.Extra
	if res.ConfidenceScores != nil {
		result.Confidence = res.ConfidenceScores.Overall
	}
	result.DataQuality = res.DataQualityScore
	result.Passed = result.IdentityAccuracy >= PassIdentity && result.SpecF1 >= PassSpecF1
	result.ElapsedMs = time.Since(caseStart).Milliseconds()
	return result
}

// aggregate fills the pass counts, token usage and averages. Cases that
// were not scored (read errors, analysis failures, expected errors) count
// towards pass/fail but not towards the averages.
func aggregate(report *Report) {
	catCounts := make(map[string]int)
	catSums := make(map[string]AggregateMetrics)
	scored := 0

	for _, r := range report.Results {
		report.TokenUsage.PromptTokens += r.PromptTokens
		report.TokenUsage.CompletionTokens += r.CompletionTokens
		report.TokenUsage.TotalTokens += r.TotalTokens

		if r.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		if r.ErrorType != "" {
			if report.ErrorTypes == nil {
				report.ErrorTypes = make(map[docerr.Kind]int)
			}
			report.ErrorTypes[r.ErrorType]++
		}
		if !r.scored {
			continue
		}

		scored++
		addMetrics(&report.Metrics, r)
		if r.Category != "" {
			catCounts[r.Category]++
			sum := catSums[r.Category]
			addMetrics(&sum, r)
			catSums[r.Category] = sum
		}
	}

	report.Metrics = averaged(report.Metrics, scored)
	if len(catCounts) > 0 {
		report.CategoryMetrics = make(map[string]AggregateMetrics, len(catCounts))
		for cat, n := range catCounts {
			report.CategoryMetrics[cat] = averaged(catSums[cat], n)
		}
	}
}

func addMetrics(m *AggregateMetrics, r TestResult) {
	m.AvgIdentityAccuracy += r.IdentityAccuracy
	m.AvgSpecPrecision += r.SpecPrecision
	m.AvgSpecRecall += r.SpecRecall
	m.AvgSpecF1 += r.SpecF1
	m.AvgConfidence += r.Confidence
	m.AvgDataQuality += r.DataQuality
	m.CalibrationGap += abs(r.Confidence - clamp(r.Score()))
}

func averaged(m AggregateMetrics, n int) AggregateMetrics {
	if n == 0 {
		return AggregateMetrics{}
	}
	d := float64(n)
	return AggregateMetrics{
		AvgIdentityAccuracy: m.AvgIdentityAccuracy / d,
		AvgSpecPrecision:    m.AvgSpecPrecision / d,
		AvgSpecRecall:       m.AvgSpecRecall / d,
		AvgSpecF1:           m.AvgSpecF1 / d,
		AvgConfidence:       m.AvgConfidence / d,
		AvgDataQuality:      m.AvgDataQuality / d,
		CalibrationGap:      m.CalibrationGap / d,
	}
}

// FormatReport produces a human-readable report string.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Evaluation Report: %s ===\n", r.Dataset)
	fmt.Fprintf(&b, "Total: %d | Passed: %d (%.1f%%) | Failed: %d\n",
		r.TotalTests, r.Passed, passRate(r.Passed, r.TotalTests), r.Failed)
	fmt.Fprintf(&b, "Run time: %s\n\n", r.RunTime.Round(time.Millisecond))

	fmt.Fprintf(&b, "Aggregate Metrics:\n")
	fmt.Fprintf(&b, "  Identity Accuracy:  %.2f\n", r.Metrics.AvgIdentityAccuracy)
	fmt.Fprintf(&b, "  Spec Precision:     %.2f\n", r.Metrics.AvgSpecPrecision)
	fmt.Fprintf(&b, "  Spec Recall:        %.2f\n", r.Metrics.AvgSpecRecall)
	fmt.Fprintf(&b, "  Spec F1:            %.2f\n", r.Metrics.AvgSpecF1)
	fmt.Fprintf(&b, "  Confidence:         %.2f\n", r.Metrics.AvgConfidence)
	fmt.Fprintf(&b, "  Data Quality:       %.2f\n", r.Metrics.AvgDataQuality)
	fmt.Fprintf(&b, "  Calibration Gap:    %.2f\n\n", r.Metrics.CalibrationGap)

	fmt.Fprintf(&b, "Token Usage:\n")
	fmt.Fprintf(&b, "  Prompt:     %d\n", r.TokenUsage.PromptTokens)
	fmt.Fprintf(&b, "  Completion: %d\n", r.TokenUsage.CompletionTokens)
	fmt.Fprintf(&b, "  Total:      %d\n\n", r.TokenUsage.TotalTokens)

	if len(r.ErrorTypes) > 0 {
		kinds := make([]string, 0, len(r.ErrorTypes))
		for k := range r.ErrorTypes {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		fmt.Fprintf(&b, "Error Types:\n")
		for _, k := range kinds {
			fmt.Fprintf(&b, "  %-24s %d\n", k, r.ErrorTypes[docerr.Kind(k)])
		}
		fmt.Fprintln(&b)
	}

	if len(r.CategoryMetrics) > 0 {
		cats := make([]string, 0, len(r.CategoryMetrics))
		for cat := range r.CategoryMetrics {
			cats = append(cats, cat)
		}
		sort.Strings(cats)

		fmt.Fprintf(&b, "Per-Category Metrics:\n")
		for _, cat := range cats {
			m := r.CategoryMetrics[cat]
			fmt.Fprintf(&b, "  [%s]\n", cat)
			fmt.Fprintf(&b, "    Id=%.2f P=%.2f R=%.2f F1=%.2f Conf=%.2f DQ=%.2f Gap=%.2f\n",
				m.AvgIdentityAccuracy, m.AvgSpecPrecision, m.AvgSpecRecall, m.AvgSpecF1,
				m.AvgConfidence, m.AvgDataQuality, m.CalibrationGap)
		}
		fmt.Fprintln(&b)
	}

	for i, res := range r.Results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %d. %s\n", status, i+1, res.File)
		switch {
		case res.ExpectedError != "":
			fmt.Fprintf(&b, "  Expected error=%s got=%s\n", res.ExpectedError, orNone(string(res.ErrorType)))
		case res.Error != "":
			fmt.Fprintf(&b, "  Error: %s", res.Error)
			if res.ErrorType != "" {
				fmt.Fprintf(&b, " (%s)", res.ErrorType)
			}
			fmt.Fprintln(&b)
		default:
			fmt.Fprintf(&b, "  Id=%.2f P=%.2f R=%.2f F1=%.2f Conf=%.2f DQ=%.2f  (%dms)\n",
				res.IdentityAccuracy, res.SpecPrecision, res.SpecRecall, res.SpecF1,
				res.Confidence, res.DataQuality, res.ElapsedMs)
			if len(res.MissingSpecs) > 0 {
				fmt.Fprintf(&b, "  Missing: %s\n", truncate(strings.Join(res.MissingSpecs, ", "), 120))
			}
		}
	}

	return b.String()
}

func passRate(passed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total) * 100
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

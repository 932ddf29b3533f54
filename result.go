package docanalysis

import (
	"math"
	"time"

	"github.com/brunobiangulo/docanalysis/cleaner"
	"github.com/brunobiangulo/docanalysis/docerr"
	"github.com/brunobiangulo/docanalysis/llm"
	"github.com/brunobiangulo/docanalysis/monitor"
	"github.com/brunobiangulo/docanalysis/quality"
	"github.com/brunobiangulo/docanalysis/schema"
	"github.com/brunobiangulo/docanalysis/store"
)

// Result envelope limits.
const (
	previewRunes     = 500
	partialTextRunes = 2000
)

// AnalysisResult is the envelope returned for every analysis. On success
// the extraction fields are set; on failure Error, ErrorType, ErrorDetails
// and Suggestions are.
type AnalysisResult struct {
	AnalysisID   string        `json:"analysis_id"`
	Success      bool          `json:"success"`
	DocumentInfo *DocumentInfo `json:"document_info,omitempty"`

	ExtractedData     *schema.ExtractedData `json:"extracted_data"`
	ConfidenceScores  *ConfidenceScores     `json:"confidence_scores,omitempty"`
	DataQualityScore  float64               `json:"data_quality_score,omitempty"`
	ValidationReport  *ValidationReport     `json:"validation_report,omitempty"`
	TextPreview       string                `json:"text_preview,omitempty"`
	AnalysisTimestamp string                `json:"analysis_timestamp,omitempty"`

	Error        string      `json:"error,omitempty"`
	ErrorType    docerr.Kind `json:"error_type,omitempty"`
	ErrorDetails []string    `json:"error_details,omitempty"`
	Suggestions  []string    `json:"suggestions,omitempty"`

	DebugInfo *DebugInfo `json:"debug_info,omitempty"`

	err error
}

// Err returns the failure behind an unsuccessful result, or nil.
func (r *AnalysisResult) Err() error { return r.err }

// DocumentInfo is metadata derived while analysing the document.
type DocumentInfo struct {
	Filename         string            `json:"filename"`
	Type             string            `json:"type"`
	Size             int               `json:"size"`
	TextLength       int               `json:"text_length"`
	WordCount        int               `json:"word_count"`
	CleaningStats    *cleaner.Stats    `json:"cleaning_stats,omitempty"`
	CleaningRatio    float64           `json:"cleaning_ratio"`
	Quality          *quality.Report   `json:"quality,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	AnalysisDuration float64           `json:"analysis_duration"` // seconds
	Truncated        bool              `json:"truncated"`
}

// ConfidenceScores holds the group and per-field confidence.
type ConfidenceScores struct {
	BasicInfo      float64            `json:"basic_info"`
	Specifications float64            `json:"specifications"`
	Features       float64            `json:"features"`
	Overall        float64            `json:"overall"`
	Fields         map[string]float64 `json:"fields"`
}

// ValidationReport describes what the table and validation stages changed.
type ValidationReport struct {
	Warnings               []string `json:"warnings"`
	RemovedSpecs           []string `json:"removed_specs"`
	NoiseRatio             float64  `json:"noise_ratio"`
	IdentityRepaired       bool     `json:"identity_repaired"`
	TableSpecsAdded        []string `json:"table_specs_added"`
	TableSpecsRemoved      []string `json:"table_specs_removed"`
	TableParsingConfidence float64  `json:"table_parsing_confidence"`
	SchemaValid            bool     `json:"schema_valid"`
	SchemaErrors           []string `json:"schema_errors,omitempty"`
}

// DebugInfo carries diagnostics for the caller.
type DebugInfo struct {
	ExtractionMethod       string               `json:"extraction_method,omitempty"`
	ExtractionAttempts     int                  `json:"extraction_attempts,omitempty"`
	Tier                   string               `json:"tier,omitempty"`
	Repair                 string               `json:"repair,omitempty"`
	Model                  string               `json:"model,omitempty"`
	Usage                  llm.Usage            `json:"usage"`
	HintsApplied           int                  `json:"hints_applied,omitempty"`
	PredictedModifications []store.Modification `json:"predicted_modifications,omitempty"`
	Truncated              bool                 `json:"truncated"`
	Monitor                monitor.Report       `json:"monitor"`
	PartialText            string               `json:"partial_text,omitempty"`
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// preview returns at most n runes of s.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// dataQuality blends the text quality gate score with the overall
// extraction confidence.
func dataQuality(textScore, overall float64) float64 {
	return round2(0.4*textScore + 0.6*overall)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

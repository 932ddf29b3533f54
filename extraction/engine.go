// Package extraction drives the chat-completion service through tiered
// prompts and coerces whatever comes back into the product schema.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunobiangulo/docanalysis/lexicon"
	"github.com/brunobiangulo/docanalysis/llm"
	"github.com/brunobiangulo/docanalysis/schema"
)

// Tier names the second-stage prompt that produced the result.
type Tier string

const (
	TierDetailed Tier = "detailed"
	TierEnhanced Tier = "enhanced"
)

// Config holds engine configuration.
type Config struct {
	Model string
	// BasicThreshold is the basic-stage confidence at or above which the
	// detailed prompt is used instead of the enhanced one.
	BasicThreshold float64
	// BasicPrefix is how many characters the basic stage sees.
	BasicPrefix int
	Temperature float64
}

// Request is one extraction.
type Request struct {
	Filename string
	Text     string
	DocType  string
	UserID   string
	// Hints are learned mistakes to avoid; Enhancements are patterns that
	// worked. Both are optional.
	Hints        []string
	Enhancements []string
}

// Response is the outcome of an extraction.
type Response struct {
	Data            *schema.ExtractedData `json:"-"`
	Tier            Tier                  `json:"tier"`
	BasicConfidence float64               `json:"basic_confidence"`
	Repair          Strategy              `json:"repair"`
	Model           string                `json:"model,omitempty"`
	Usage           llm.Usage             `json:"usage"`
	Elapsed         time.Duration         `json:"elapsed"`
}

// Engine runs the tiered extraction.
type Engine struct {
	chat llm.Provider
	cfg  Config
}

// New creates an extraction engine.
func New(chat llm.Provider, cfg Config) *Engine {
	if cfg.BasicThreshold == 0 {
		cfg.BasicThreshold = 0.3
	}
	if cfg.BasicPrefix == 0 {
		cfg.BasicPrefix = 1000
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	return &Engine{chat: chat, cfg: cfg}
}

// Extract runs the basic identification round, then the detailed prompt
// when the model is confident enough about what the product is, or the
// enhanced prompt with worked examples otherwise. Transport errors are
// returned wrapped; unparseable responses degrade through Repair.
func (e *Engine) Extract(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	docLen := lexicon.RuneLen(req.Text)
	out := &Response{}

	// Round 1: basic identification on the head of the document.
	slog.Info("extraction: basic identification starting", "file", req.Filename, "chars", docLen)
	resp, err := e.call(ctx, StageBasic, basicPrompt, userContent(req.Filename, head(req.Text, e.cfg.BasicPrefix)), docLen)
	if err != nil {
		return nil, fmt.Errorf("basic identification: %w", err)
	}
	out.Usage.Add(resp.Usage)
	out.Model = resp.Model
	basic, basicRepair := Repair(resp.Content)
	out.BasicConfidence = basic.Confidence.Overall
	slog.Info("extraction: basic identification complete",
		"name", basic.BasicInfo.Name,
		"category", basic.BasicInfo.Category,
		"confidence", fmt.Sprintf("%.2f", out.BasicConfidence),
		"repair", basicRepair,
	)

	// Round 2: detailed or enhanced.
	stage, prompt := StageEnhanced, enhancedPrompt()
	out.Tier = TierEnhanced
	if out.BasicConfidence >= e.cfg.BasicThreshold {
		stage, prompt = StageDetailed, detailedPrompt(basic.BasicInfo.Category)
		out.Tier = TierDetailed
	}
	prompt = personalize(prompt, req.Hints, req.Enhancements)

	resp, err = e.call(ctx, stage, prompt, userContent(req.Filename, req.Text), docLen)
	if err != nil {
		return nil, fmt.Errorf("%s extraction: %w", stage, err)
	}
	out.Usage.Add(resp.Usage)
	if resp.Model != "" {
		out.Model = resp.Model
	}

	data, strategy := Repair(resp.Content)
	if strategy != RepairDirect {
		slog.Warn("extraction: response repaired", "file", req.Filename, "strategy", strategy, "response_chars", len(resp.Content))
	}
	inheritIdentity(data, basic)

	out.Data = data
	out.Repair = strategy
	out.Elapsed = time.Since(start)
	slog.Info("extraction: complete",
		"file", req.Filename,
		"tier", out.Tier,
		"specs", len(data.Specifications),
		"confidence", fmt.Sprintf("%.2f", data.Confidence.Overall),
		"tokens", out.Usage.TotalTokens,
		"elapsed", out.Elapsed.Round(time.Millisecond),
	)
	return out, nil
}

// inheritIdentity fills identity fields the second round left empty from
// the basic round.
func inheritIdentity(d, basic *schema.ExtractedData) {
	if d.BasicInfo.Name == "" {
		d.BasicInfo.Name = basic.BasicInfo.Name
	}
	if d.BasicInfo.Code == "" {
		d.BasicInfo.Code = basic.BasicInfo.Code
	}
	if d.BasicInfo.Category == "" {
		d.BasicInfo.Category = basic.BasicInfo.Category
	}
	if d.BasicInfo.Description == "" {
		d.BasicInfo.Description = basic.BasicInfo.Description
	}
}

func (e *Engine) call(ctx context.Context, stage Stage, system, user string, docLen int) (*llm.ChatResponse, error) {
	t := time.Now()
	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Model:       e.cfg.Model,
		Messages:    []llm.Message{llm.System(system), llm.User(user)},
		Temperature: e.cfg.Temperature,
		MaxTokens:   Budget(stage, docLen),
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("extraction: stage response",
		"stage", stage,
		"chars", len(resp.Content),
		"finish_reason", resp.FinishReason,
		"elapsed", time.Since(t).Round(time.Millisecond),
	)
	return resp, nil
}

// HealthCheck sends a minimal request to verify the service answers.
func (e *Engine) HealthCheck(ctx context.Context) error {
	if _, err := e.call(ctx, StageHealthCheck, "只回复 OK", "ping", 0); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

// SuggestEnhancements asks the model to turn common user corrections into
// prompt guidance for a document type and category.
func (e *Engine) SuggestEnhancements(ctx context.Context, docType, category string, commonErrors []string) ([]string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "文档类型：%s\n产品类别：%s\n常见修改：\n", docType, category)
	for _, ce := range commonErrors {
		fmt.Fprintf(&b, "- %s\n", ce)
	}
	resp, err := e.call(ctx, StageOptimization, optimizationPrompt, b.String(), 0)
	if err != nil {
		return nil, fmt.Errorf("prompt optimization: %w", err)
	}
	return parseGuidance(resp.Content), nil
}

// parseGuidance reads a JSON string array, falling back to bullet lines.
func parseGuidance(content string) []string {
	i := strings.IndexByte(content, '[')
	j := strings.LastIndexByte(content, ']')
	if i >= 0 && j > i {
		var items []string
		if err := json.Unmarshal([]byte(content[i:j+1]), &items); err == nil {
			return nonEmpty(items)
		}
	}
	var items []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if trimmed := strings.TrimLeft(line, "-*•0123456789.、) "); trimmed != line && trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func nonEmpty(items []string) []string {
	out := items[:0]
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

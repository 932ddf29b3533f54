// Command eval runs a labelled dataset through the analysis pipeline and
// reports extraction accuracy.
//
// Usage:
//
//	go run ./cmd/eval \
//	  --dataset ./testdata/relay.yaml \
//	  --config ./docanalysis.yaml \
//	  --concurrency 4
//
// A dataset lists documents with the identity fields and specifications the
// pipeline should extract:
//
//	name: relay-testers
//	cases:
//	  - file: docs/zd6.docx
//	    category: docx
//	    expected:
//	      name: 继电保护测试仪
//	      code: ZD-6
//	      specifications:
//	        输出电压: 0~120V
//	  - file: docs/broken.doc
//	    expect_error: corruption_error
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/brunobiangulo/docanalysis"
	"github.com/brunobiangulo/docanalysis/eval"
)

// stringSlice implements flag.Value for multi-value string flags.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ", ") }
func (s *stringSlice) Set(val string) error {
	*s = append(*s, val)
	return nil
}

func main() {
	var datasets stringSlice

	var (
		configPath  = flag.String("config", "", "Path to config file (YAML or JSON)")
		provider    = flag.String("provider", "", "LLM provider override")
		model       = flag.String("model", "", "LLM model override")
		baseURL     = flag.String("base-url", "", "LLM base URL override")
		concurrency = flag.Int("concurrency", 2, "Documents analysed in parallel")
		maxTests    = flag.Int("max-tests", 0, "Max cases per dataset (0=all)")
		outputFile  = flag.String("output", "", "Path to write JSON report (default: inside run directory)")
	)
	flag.Var(&datasets, "dataset", "Path to dataset file (repeatable)")
	flag.Parse()

	if len(datasets) == 0 {
		log.Fatal("at least one --dataset is required")
	}

	// An empty path still applies the DOCANALYSIS_* environment.
	cfg, err := docanalysis.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *provider != "" {
		cfg.LLM.Provider = *provider
	}
	if *model != "" {
		cfg.LLM.Model = *model
	}
	if *baseURL != "" {
		cfg.LLM.BaseURL = *baseURL
	}
	// Evaluation never writes corrections.
	cfg.Learning.Enabled = false

	runDir := createRunDir()
	logFile := setupLogTee(runDir, cfg.SlogLevel())
	defer logFile.Close()

	meta := map[string]any{
		"git_commit":  gitCommit(),
		"started_at":  time.Now().UTC().Format(time.RFC3339),
		"provider":    cfg.LLM.Provider,
		"model":       cfg.LLM.Model,
		"concurrency": *concurrency,
		"datasets":    []string(datasets),
	}
	writeJSON(filepath.Join(runDir, "metadata.json"), meta)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := docanalysis.New(cfg)
	if err != nil {
		log.Fatalf("creating pipeline: %v", err)
	}
	defer pipeline.Close()

	if h := pipeline.HealthCheck(ctx); h.Status != "ok" {
		fmt.Fprintf(os.Stderr, "warning: LLM health check failed: %s\n", h.LLMError)
	}

	evaluator := eval.NewEvaluator(pipeline)
	evaluator.SetConcurrency(*concurrency)

	var reports []*eval.Report
	evalStart := time.Now()
	for _, path := range datasets {
		ds, err := eval.LoadDataset(path)
		if err != nil {
			log.Fatalf("loading dataset: %v", err)
		}
		if *maxTests > 0 && len(ds.Cases) > *maxTests {
			ds.Cases = ds.Cases[:*maxTests]
		}

		fmt.Fprintf(os.Stderr, "\nRunning %s (%d cases)...\n", ds.Name, len(ds.Cases))
		report, err := evaluator.Run(ctx, ds)
		if err != nil {
			log.Fatalf("running %s: %v", ds.Name, err)
		}
		reports = append(reports, report)

		fmt.Println(eval.FormatReport(report))
		fmt.Println()
	}

	meta["eval_elapsed"] = time.Since(evalStart).Round(time.Millisecond).String()
	writeJSON(filepath.Join(runDir, "metadata.json"), meta)

	reportPath := filepath.Join(runDir, "eval-report.json")
	writeJSON(reportPath, reports)
	fmt.Fprintf(os.Stderr, "Eval report written to: %s\n", reportPath)
	if *outputFile != "" {
		writeJSON(*outputFile, reports)
		fmt.Fprintf(os.Stderr, "JSON report also written to: %s\n", *outputFile)
	}

	fmt.Println("=== Summary ===")
	totalPassed, totalTests := 0, 0
	for _, r := range reports {
		totalPassed += r.Passed
		totalTests += r.TotalTests
		rate := 0.0
		if r.TotalTests > 0 {
			rate = float64(r.Passed) / float64(r.TotalTests) * 100
		}
		fmt.Printf("  %-45s %d/%d (%.1f%%)  F1=%.2f\n", r.Dataset, r.Passed, r.TotalTests, rate, r.Metrics.AvgSpecF1)
	}
	if totalTests > 0 {
		fmt.Printf("  %-45s %d/%d (%.1f%%)\n", "TOTAL", totalPassed, totalTests,
			float64(totalPassed)/float64(totalTests)*100)
	}

	fmt.Fprintf(os.Stderr, "\nRun directory: %s\n", runDir)
}

// createRunDir creates evals/runs/<timestamp>/ and returns its path.
func createRunDir() string {
	ts := time.Now().Format("2006-01-02_15-04-05")
	dir := filepath.Join("evals", "runs", ts)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("creating run directory: %v", err)
	}
	return dir
}

// setupLogTee configures slog to write to both stderr and eval.log in the run dir.
func setupLogTee(runDir string, level slog.Level) *os.File {
	f, err := os.Create(filepath.Join(runDir, "eval.log"))
	if err != nil {
		log.Fatalf("creating log file: %v", err)
	}
	w := io.MultiWriter(os.Stderr, f)
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return f
}

// gitCommit returns the current git HEAD short hash, or "unknown".
func gitCommit() string {
	out, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

// writeJSON marshals v to indented JSON and writes it to path.
func writeJSON(path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("marshaling JSON for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Fatalf("writing %s: %v", path, err)
	}
}

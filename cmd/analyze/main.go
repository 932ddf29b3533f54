// Command analyze runs one or more documents through the analysis pipeline
// and prints each result envelope as JSON.
//
// Usage:
//
//	go run ./cmd/analyze --config ./docanalysis.yaml -j 4 manual.pdf spec.docx
//
// With more than one file the output is one JSON object per line, in the
// order the files were given. The exit status is 1 when any analysis
// failed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/docanalysis"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to config file (YAML or JSON)")
		jobs       = flag.Int("j", 2, "Documents analysed in parallel")
		userID     = flag.String("user", "", "User ID for personalization from the learning store")
		mimeType   = flag.String("mime", "", "MIME type for every file (default: detect)")
		pretty     = flag.Bool("pretty", false, "Indent JSON output (single file only)")
		timeout    = flag.Duration("timeout", 0, "Per-document deadline (default: from config)")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] file...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := docanalysis.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := docanalysis.New(cfg)
	if err != nil {
		slog.Error("creating pipeline", "error", err)
		os.Exit(2)
	}
	defer pipeline.Close()

	files := flag.Args()
	results, err := analyzeAll(ctx, pipeline, files, batchOptions{
		jobs:     *jobs,
		userID:   *userID,
		mime:     *mimeType,
		deadline: *timeout,
		readFile: os.ReadFile,
	})
	if err != nil {
		slog.Error("analyze interrupted", "error", err)
		os.Exit(1)
	}

	indent := *pretty && len(files) == 1
	if err := writeResults(os.Stdout, results, indent); err != nil {
		slog.Error("writing results", "error", err)
		os.Exit(1)
	}
	for _, r := range results {
		if !r.Success {
			os.Exit(1)
		}
	}
}

type batchOptions struct {
	jobs     int
	userID   string
	mime     string
	deadline time.Duration
	readFile func(string) ([]byte, error)
}

// analyzeAll analyses files with at most opts.jobs in flight. A file that
// cannot be read gets a failure envelope like any other failed analysis;
// the error is non-nil only when ctx is cancelled.
func analyzeAll(ctx context.Context, p docanalysis.Pipeline, files []string, opts batchOptions) ([]*docanalysis.AnalysisResult, error) {
	if opts.jobs < 1 {
		opts.jobs = 1
	}
	results := make([]*docanalysis.AnalysisResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.jobs)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			data, err := opts.readFile(path)
			if err != nil {
				// An unreadable path is analysed as an empty document so
				// the caller still gets an envelope for it.
				slog.Warn("analyze: reading file", "file", path, "error", err)
				data = nil
			}
			res := p.Analyze(gctx, docanalysis.AnalyzeRequest{
				Data:     data,
				Filename: filepath.Base(path),
				MIME:     opts.mime,
				UserID:   opts.userID,
				Deadline: opts.deadline,
			})
			results[i] = res
			slog.Info("analyze: document complete",
				"file", path,
				"success", res.Success,
				"error_type", res.ErrorType,
				"elapsed", time.Since(start).Round(time.Millisecond))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func writeResults(w io.Writer, results []*docanalysis.AnalysisResult, indent bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

package monitor

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testInstruments(t *testing.T) (*Instruments, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		_ = tp.Shutdown(context.Background())
	})

	inst, err := NewInstruments(tp, mp)
	if err != nil {
		t.Fatalf("NewInstruments: %v", err)
	}
	return inst, reader, rec
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

// ---------------------------------------------------------------------------
// Stages
// ---------------------------------------------------------------------------

func TestStageRecordsHistogramAndSpans(t *testing.T) {
	inst, reader, rec := testInstruments(t)
	ctx := context.Background()
	m := New(inst)

	_, end := m.Stage(ctx, "cleaning")
	end(nil)
	_, end = m.Stage(ctx, "extraction")
	end(errors.New("llm down"))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	got, ok := findMetric(rm, "docanalysis.stage.duration")
	if !ok {
		t.Fatal("stage duration histogram not recorded")
	}
	hist, ok := got.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T", got.Data)
	}
	if len(hist.DataPoints) != 2 {
		t.Fatalf("data points = %d, want 2", len(hist.DataPoints))
	}
	statuses := map[string]string{}
	for _, dp := range hist.DataPoints {
		stage, _ := dp.Attributes.Value(attribute.Key("stage"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		statuses[stage.AsString()] = status.AsString()
	}
	if statuses["cleaning"] != StatusOK || statuses["extraction"] != StatusError {
		t.Errorf("statuses = %v", statuses)
	}

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "docanalysis.cleaning" || spans[1].Status().Code != codes.Error {
		t.Errorf("spans = %s (%v), %s (%v)", spans[0].Name(), spans[0].Status(), spans[1].Name(), spans[1].Status())
	}
}

func TestReport(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	_, end := m.Stage(ctx, "detect")
	end(nil)
	_, end = m.Stage(ctx, "extract")
	end(errors.New("bad pdf"))
	m.Record("cleaning_ratio", 0.25)
	m.Count("llm_calls")
	m.Count("llm_calls")
	m.Tokens(ctx, "m", 100, 20)

	r := m.Report()
	if len(r.Stages) != 2 || r.Stages[0].Name != "detect" || r.Stages[1].Status != StatusError || r.Stages[1].Error != "bad pdf" {
		t.Errorf("stages = %+v", r.Stages)
	}
	if r.Metrics["cleaning_ratio"] != 0.25 {
		t.Errorf("metrics = %v", r.Metrics)
	}
	if r.Counters["llm_calls"] != 2 || r.Counters["prompt_tokens"] != 100 || r.Counters["completion_tokens"] != 20 {
		t.Errorf("counters = %v", r.Counters)
	}
	if r.TotalMS < 0 {
		t.Errorf("total = %v", r.TotalMS)
	}

	// The report is a snapshot.
	m.Count("llm_calls")
	if r.Counters["llm_calls"] != 2 {
		t.Error("report shares state with the monitor")
	}
}

func TestFinishAndTokens(t *testing.T) {
	inst, reader, _ := testInstruments(t)
	ctx := context.Background()

	m := New(inst)
	m.Tokens(ctx, "deepseek-chat", 120, 30)
	m.Finish(ctx, "")
	New(inst).Finish(ctx, "format_error")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	got, ok := findMetric(rm, "docanalysis.analyses")
	if !ok {
		t.Fatal("analyses counter not recorded")
	}
	sum := got.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 2 {
		t.Errorf("analysis data points = %d, want 2", len(sum.DataPoints))
	}

	got, ok = findMetric(rm, "docanalysis.llm.tokens")
	if !ok {
		t.Fatal("token counter not recorded")
	}
	var total int64
	for _, dp := range got.Data.(metricdata.Sum[int64]).DataPoints {
		total += dp.Value
	}
	if total != 150 {
		t.Errorf("tokens = %d, want 150", total)
	}
}

func TestGlobalInstruments(t *testing.T) {
	inst, err := GlobalInstruments()
	if err != nil {
		t.Fatalf("GlobalInstruments: %v", err)
	}
	m := New(inst)
	_, end := m.Stage(context.Background(), "noop")
	end(nil)
	if len(m.Report().Stages) != 1 {
		t.Error("stage not recorded with no-op providers")
	}
}

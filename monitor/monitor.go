// Package monitor records per-analysis stage timings and metrics. A Monitor
// belongs to one analysis; the OpenTelemetry instruments behind it are
// shared and safe for concurrent use.
package monitor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/brunobiangulo/docanalysis/monitor"

// Stage statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Instruments holds the OpenTelemetry instruments used by every Monitor.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	StageDuration metric.Float64Histogram
	Analyses      metric.Int64Counter
	TokenUsage    metric.Int64Counter
}

// NewInstruments creates the instruments from explicit providers.
func NewInstruments(tp trace.TracerProvider, mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter(scopeName)

	stageDuration, err := meter.Float64Histogram("docanalysis.stage.duration",
		metric.WithDescription("Pipeline stage duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	analyses, err := meter.Int64Counter("docanalysis.analyses",
		metric.WithDescription("Completed analyses by outcome"),
		metric.WithUnit("{analysis}"))
	if err != nil {
		return nil, err
	}

	tokenUsage, err := meter.Int64Counter("docanalysis.llm.tokens",
		metric.WithDescription("Tokens consumed by the extraction engine"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:        tp.Tracer(scopeName),
		Meter:         meter,
		StageDuration: stageDuration,
		Analyses:      analyses,
		TokenUsage:    tokenUsage,
	}, nil
}

// GlobalInstruments creates the instruments from the global providers,
// which are no-ops until InitTelemetry installs real ones.
func GlobalInstruments() (*Instruments, error) {
	return NewInstruments(otel.GetTracerProvider(), otel.GetMeterProvider())
}

// StageTiming is one finished stage.
type StageTiming struct {
	Name       string        `json:"name"`
	Duration   time.Duration `json:"-"`
	DurationMS float64       `json:"duration_ms"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
}

// Report is the monitor's summary, attached to results as debug info.
type Report struct {
	Stages   []StageTiming      `json:"stages"`
	Metrics  map[string]float64 `json:"metrics"`
	Counters map[string]int64   `json:"counters"`
	TotalMS  float64            `json:"total_ms"`
}

// Monitor collects the stages and metrics of one analysis.
type Monitor struct {
	inst     *Instruments
	start    time.Time
	stages   []StageTiming
	metrics  map[string]float64
	counters map[string]int64
}

// New starts a Monitor. A nil inst records nothing to OpenTelemetry.
func New(inst *Instruments) *Monitor {
	return &Monitor{
		inst:     inst,
		start:    time.Now(),
		metrics:  map[string]float64{},
		counters: map[string]int64{},
	}
}

// Stage starts a named stage and returns the context carrying its span and
// a function that ends it. The error passed to end marks the stage failed.
func (m *Monitor) Stage(ctx context.Context, name string) (context.Context, func(error)) {
	start := time.Now()
	var span trace.Span
	if m.inst != nil {
		ctx, span = m.inst.Tracer.Start(ctx, "docanalysis."+name)
	}

	return ctx, func(err error) {
		d := time.Since(start)
		st := StageTiming{
			Name:       name,
			Duration:   d,
			DurationMS: float64(d.Microseconds()) / 1000,
			Status:     StatusOK,
		}
		if err != nil {
			st.Status = StatusError
			st.Error = err.Error()
		}
		m.stages = append(m.stages, st)

		if m.inst == nil {
			return
		}
		m.inst.StageDuration.Record(ctx, st.DurationMS, metric.WithAttributes(
			attribute.String("stage", name),
			attribute.String("status", st.Status),
		))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Record stores a custom metric, replacing any earlier value.
func (m *Monitor) Record(name string, v float64) {
	m.metrics[name] = v
}

// Count increments a named counter.
func (m *Monitor) Count(name string) {
	m.counters[name]++
}

// Tokens records LLM token usage.
func (m *Monitor) Tokens(ctx context.Context, model string, prompt, completion int) {
	m.counters["prompt_tokens"] += int64(prompt)
	m.counters["completion_tokens"] += int64(completion)
	if m.inst == nil {
		return
	}
	m.inst.TokenUsage.Add(ctx, int64(prompt), metric.WithAttributes(
		attribute.String("model", model), attribute.String("kind", "prompt")))
	m.inst.TokenUsage.Add(ctx, int64(completion), metric.WithAttributes(
		attribute.String("model", model), attribute.String("kind", "completion")))
}

// Finish counts the analysis by outcome. errorType is empty on success.
func (m *Monitor) Finish(ctx context.Context, errorType string) {
	if m.inst == nil {
		return
	}
	status := StatusOK
	if errorType != "" {
		status = StatusError
	}
	m.inst.Analyses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("error_type", errorType),
	))
}

// Elapsed is the time since New.
func (m *Monitor) Elapsed() time.Duration {
	return time.Since(m.start)
}

// Report returns a copy of everything recorded so far.
func (m *Monitor) Report() Report {
	r := Report{
		Stages:   append([]StageTiming{}, m.stages...),
		Metrics:  make(map[string]float64, len(m.metrics)),
		Counters: make(map[string]int64, len(m.counters)),
		TotalMS:  float64(m.Elapsed().Microseconds()) / 1000,
	}
	for k, v := range m.metrics {
		r.Metrics[k] = v
	}
	for k, v := range m.counters {
		r.Counters[k] = v
	}
	return r
}

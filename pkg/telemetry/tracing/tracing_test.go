package tracing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/storyloom/storyloom/config"
)

// stubExporter counts calls and can fail exports or block on shutdown.
type stubExporter struct {
	mu           sync.Mutex
	exports      int
	shutdowns    int
	failExport   bool
	blockOnClose bool
}

func (s *stubExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exports++
	if s.failExport {
		return errors.New("collector unavailable")
	}
	return nil
}

func (s *stubExporter) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdowns++
	block := s.blockOnClose
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *stubExporter) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exports, s.shutdowns
}

// useExporter routes the otlp exporter to stub for the test and restores
// the global provider afterwards.
func useExporter(t *testing.T, stub *stubExporter) *string {
	t.Helper()
	prevFactory := exporters["otlp"]
	prevProvider := otel.GetTracerProvider()
	var gotEndpoint string
	exporters["otlp"] = func(_ context.Context, endpoint string, _ config.TracingConfig) (sdktrace.SpanExporter, error) {
		gotEndpoint = endpoint
		if stub == nil {
			return nil, errors.New("must not be called")
		}
		return stub, nil
	}
	t.Cleanup(func() {
		exporters["otlp"] = prevFactory
		otel.SetTracerProvider(prevProvider)
	})
	return &gotEndpoint
}

func enabledConfig() config.TracingConfig {
	return config.TracingConfig{
		Enabled:      true,
		Exporter:     "otlp",
		Endpoint:     "http://collector:4317/v1/traces",
		Timeout:      time.Second,
		Sampler:      "always_on",
		SamplerRatio: 1,
	}
}

func TestInitDisabled(t *testing.T) {
	endpoint := useExporter(t, nil)

	shutdown, err := Init(context.Background(), config.TracingConfig{Enabled: false}, "storyloom", "test")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if *endpoint != "" {
		t.Fatal("disabled tracing created an exporter")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
}

func TestInitRejectsIncompleteConfig(t *testing.T) {
	useExporter(t, &stubExporter{})

	tests := map[string]func(*config.TracingConfig){
		"unknown exporter": func(c *config.TracingConfig) { c.Exporter = "zipkin" },
		"empty endpoint":   func(c *config.TracingConfig) { c.Endpoint = "  " },
		"zero timeout":     func(c *config.TracingConfig) { c.Timeout = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := enabledConfig()
			mutate(&cfg)
			if _, err := Init(context.Background(), cfg, "storyloom", "test"); err == nil {
				t.Fatal("Init() accepted an incomplete config")
			}
		})
	}
}

func TestInitExportsAndShutsDown(t *testing.T) {
	stub := &stubExporter{}
	endpoint := useExporter(t, stub)

	shutdown, err := Init(context.Background(), enabledConfig(), "storyloom", "test")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if *endpoint != "collector:4317" {
		t.Errorf("exporter endpoint = %q, want collector:4317", *endpoint)
	}

	_, span := StartSpan(context.Background(), SpanGenerate, "s1")
	EndSpan(span, nil)

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	exports, shutdowns := stub.counts()
	if exports == 0 {
		t.Error("span was not exported on shutdown")
	}
	if shutdowns != 1 {
		t.Errorf("exporter shut down %d times, want 1", shutdowns)
	}
}

func TestExportFailureIsSwallowed(t *testing.T) {
	stub := &stubExporter{failExport: true}
	useExporter(t, stub)

	prevReport := exportFailed
	t.Cleanup(func() { exportFailed = prevReport })
	var reported []string
	var mu sync.Mutex
	exportFailed = func(err error, kind, endpoint string, spans int) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, kind+"@"+endpoint)
	}

	shutdown, err := Init(context.Background(), enabledConfig(), "storyloom", "test")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	_, span := StartSpan(context.Background(), SpanExtract, "s1")
	EndSpan(span, nil)

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() surfaced an export failure: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reported) == 0 || reported[0] != "otlp@collector:4317" {
		t.Fatalf("reported = %v", reported)
	}
}

func TestShutdownHonorsDeadline(t *testing.T) {
	useExporter(t, &stubExporter{blockOnClose: true})

	shutdown, err := Init(context.Background(), enabledConfig(), "storyloom", "test")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := shutdown(ctx); err == nil {
		t.Fatal("shutdown() error = nil with a blocked exporter")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("shutdown took %v", elapsed)
	}
}

func TestSelectSampler(t *testing.T) {
	tests := []struct {
		sampler string
		want    string
		reject  string
	}{
		{"always_on", "AlwaysOnSampler", ""},
		{"ALWAYS_OFF", "AlwaysOffSampler", ""},
		{"traceidratio", "TraceIDRatioBased", "ParentBased"},
		{"parentbased_traceidratio", "ParentBased", ""},
		{"", "ParentBased", ""},
	}
	for _, tt := range tests {
		got := selectSampler(config.TracingConfig{Sampler: tt.sampler, SamplerRatio: 0.25}).Description()
		if !strings.Contains(got, tt.want) || (tt.reject != "" && strings.Contains(got, tt.reject)) {
			t.Errorf("selectSampler(%q) = %s", tt.sampler, got)
		}
	}
}

func TestHostPort(t *testing.T) {
	tests := map[string]string{
		"localhost:4317":                  "localhost:4317",
		" collector:4317 ":                "collector:4317",
		"http://localhost:4317/v1/traces": "localhost:4317",
		"https://otel.internal":           "otel.internal",
		"":                                "",
	}
	for in, want := range tests {
		if got := hostPort(in); got != want {
			t.Errorf("hostPort(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStartSpanAndEndSpan(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	_, ok := StartSpan(context.Background(), SpanAssemble, "story-1", attribute.Int("budget", 500))
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), SpanScore, "story-1")
	EndSpan(failed, errors.New("boom"))

	ended := recorder.Ended()
	if len(ended) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(ended))
	}
	if ended[0].Name() != SpanAssemble || ended[0].InstrumentationScope().Name != TracerName {
		t.Errorf("span = %s scope %s", ended[0].Name(), ended[0].InstrumentationScope().Name)
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range ended[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs["story.id"].AsString() != "story-1" || attrs["budget"].AsInt64() != 500 {
		t.Errorf("attributes = %v", ended[0].Attributes())
	}
	if ended[1].Status().Code != codes.Error || len(ended[1].Events()) == 0 {
		t.Errorf("failed span status = %v events = %d", ended[1].Status(), len(ended[1].Events()))
	}
}

package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	prev := otel.GetTracerProvider()
	exp := tracetest.NewInMemoryExporter()
	tr, err := newWithExporter(Options{Enabled: true}, sdktrace.WithSyncer(exp))
	if err != nil {
		t.Fatalf("newWithExporter: %v", err)
	}
	t.Cleanup(func() {
		tr.Close()
		otel.SetTracerProvider(prev)
	})
	return tr, exp
}

func TestTracerMiddleware(t *testing.T) {
	tr, exp := newTestTracer(t)

	handler := tr.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if w.Header().Get("X-Trace-ID") == "" {
		t.Error("expected X-Trace-ID response header")
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "GET /stats" {
		t.Errorf("unexpected span name %q", spans[0].Name)
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("5xx responses should mark the span as error, got %v", spans[0].Status.Code)
	}
}

func TestTracerMiddlewarePropagation(t *testing.T) {
	tr, exp := newTestTracer(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	handler := tr.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if got := w.Header().Get("X-Trace-ID"); got != traceID {
		t.Errorf("expected incoming trace ID to be continued, got %q", got)
	}
	if spans := exp.GetSpans(); len(spans) != 1 || spans[0].Parent.SpanID().String() != "00f067aa0ba902b7" {
		t.Errorf("expected span parented to the incoming context, got %+v", spans)
	}
}

func TestGlobalProviderReceivesLibrarySpans(t *testing.T) {
	_, exp := newTestTracer(t)

	_, span := otel.Tracer("durable").Start(context.Background(), "durable.get")
	span.End()

	if spans := exp.GetSpans(); len(spans) != 1 || spans[0].Name != "durable.get" {
		t.Errorf("expected span from the global provider, got %+v", spans)
	}
}

func TestDisabledTracerIsNoop(t *testing.T) {
	tr, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tr.IsEnabled() {
		t.Error("tracer should be disabled")
	}

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	w := httptest.NewRecorder()
	tr.Middleware()(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if !called || w.Header().Get("X-Trace-ID") != "" {
		t.Error("disabled middleware should pass through untouched")
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

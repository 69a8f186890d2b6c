package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMiddlewareNamesSpanByRoute(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	r := chi.NewRouter()
	r.Use(Middleware(tp))
	r.Get("/api/v1/tests/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/tests/12", nil))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	if got := spans[0].Name(); got != "GET /api/v1/tests/{id}" {
		t.Fatalf("unexpected span name: %s", got)
	}
	if spans[0].Status().Code != codes.Error {
		t.Fatalf("5xx should mark the span as failed")
	}
}

func TestShutdownNil(t *testing.T) {
	if err := Shutdown(t.Context(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

package errors

import (
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// The admin API answers oversized PUTs with a detailed 413 on every rejection.
func BenchmarkPayloadTooLarge_WithDetails(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		ErrPayloadTooLarge.WithDetails("value exceeds 1 MiB").WithRequestID("req-1").WriteJSON(w)
	}
}

func BenchmarkPayloadTooLarge_Base(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		ErrPayloadTooLarge.WriteJSON(w)
	}
}

func BenchmarkWrap_ResetFailure(b *testing.B) {
	cause := stderrors.New("redis: connection refused")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		err := Wrap(cause, http.StatusServiceUnavailable, "Service Unavailable").
			WithDetails("rate limit store unreachable")
		if _, ok := IsAPIError(err); !ok {
			b.Fatal("expected APIError")
		}
	}
}

func BenchmarkInvalidConfig(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		err := InvalidConfig("rate_limit.window", "must be a whole number of milliseconds, got %s", "1.5ms")
		if !stderrors.Is(err, ErrInvalidConfig) {
			b.Fatal("expected ErrInvalidConfig")
		}
	}
}

// Package testutil provides shared test helpers for packages that run a
// simulation behind an HTTP or gRPC surface.
package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/banshee-data/gridlock/internal/field"
	"github.com/banshee-data/gridlock/internal/monitor"
	"github.com/banshee-data/gridlock/internal/traffic"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// DecodeJSON decodes the recorded response body into v.
func DecodeJSON(t testing.TB, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

// NewSink returns a sink that is closed when the test ends.
func NewSink(t testing.TB, opts monitor.Options) *monitor.Sink {
	t.Helper()
	sink := monitor.NewSink(opts)
	t.Cleanup(sink.Close)
	return sink
}

// LoadField builds a field of the given mode from layout text.
func LoadField(t testing.TB, mode field.Mode, layout string, sink *monitor.Sink) field.Field {
	t.Helper()
	f, err := field.Load(mode, strings.NewReader(layout), sink)
	if err != nil {
		t.Fatalf("failed to load layout: %v", err)
	}
	return f
}

// NewTraffic builds a car server on a fresh sink and field.
func NewTraffic(t testing.TB, mode field.Mode, layout string, listeners ...traffic.Listener) *traffic.Server {
	t.Helper()
	sink := NewSink(t, monitor.Options{})
	return traffic.NewServer(LoadField(t, mode, layout, sink), sink, listeners...)
}

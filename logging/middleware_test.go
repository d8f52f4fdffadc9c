package logging

import (
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/server"
)

func captureLogger(t *testing.T, whitelist ...string) (*Logger, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	RegisterSink("capture-"+t.Name(), func(SinkOptions) (Sink, error) { return sink, nil })
	l := newLogger(t, Config{
		Level:      "silly",
		Transports: []SinkConfig{{Type: "capture-" + t.Name(), Options: map[string]any{}}},
		Middleware: MiddlewareConfig{RequestWhitelist: whitelist},
	})
	return l, sink
}

func eventually(t *testing.T, sink *captureSink, n int) []Record {
	t.Helper()
	require.Eventually(t, func() bool { return len(sink.all()) >= n }, time.Second, 5*time.Millisecond)
	return sink.all()
}

func attrMap(rec Record) map[string]any {
	out := make(map[string]any, len(rec.Attrs))
	for _, a := range rec.Attrs {
		out[a.Key] = a.Value.Any()
	}
	return out
}

func TestRequestLogger(t *testing.T) {
	l, sink := captureLogger(t, "method", "path", "status", "ip")

	p := server.NewPipeline()
	p.Use(l.RequestLogger())
	p.Mount("/api", server.Terminal(server.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) error {
		w.WriteHeader(http.StatusCreated)
		return nil
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/items", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	p.ServeHTTP(httptest.NewRecorder(), req)

	recs := eventually(t, sink, 1)
	assert.Equal(t, "info", recs[0].Level)
	assert.Equal(t, "HTTP POST /api/items", recs[0].Message)
	attrs := attrMap(recs[0])
	assert.Equal(t, "POST", attrs["method"])
	assert.Equal(t, "/api/items", attrs["path"])
	assert.EqualValues(t, http.StatusCreated, attrs["status"])
	assert.Equal(t, "10.0.0.1", attrs["ip"])
}

func TestRequestLogger_ErrorAnsweredByParent(t *testing.T) {
	l, sink := captureLogger(t, "method", "url", "status")

	surface := server.NewPipeline()
	surface.Use(l.RequestLogger())
	surface.Use(server.Terminal(server.HandlerFunc(func(http.ResponseWriter, *http.Request) error {
		return errors.NotFound()
	})))

	root := server.NewPipeline()
	root.Mount("/v1", surface.Middleware())
	root.UseError(func(w http.ResponseWriter, _ *http.Request, err error) error {
		server.WriteError(w, err)
		return nil
	})

	rec := httptest.NewRecorder()
	root.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	recs := eventually(t, sink, 1)
	assert.Equal(t, "HTTP GET /v1/missing", recs[0].Message)
	assert.EqualValues(t, http.StatusNotFound, attrMap(recs[0])["status"])
}

func TestErrorLogger(t *testing.T) {
	l, sink := captureLogger(t)

	var handled error
	p := server.NewPipeline()
	p.Use(server.Terminal(server.HandlerFunc(func(http.ResponseWriter, *http.Request) error {
		return stderrors.New("boom")
	})))
	p.UseError(l.ErrorLogger())
	p.UseError(func(w http.ResponseWriter, _ *http.Request, err error) error {
		handled = err
		w.WriteHeader(http.StatusInternalServerError)
		return nil
	})

	p.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	require.EqualError(t, handled, "boom")
	recs := eventually(t, sink, 1)
	assert.Equal(t, "error", recs[0].Level)
	assert.Equal(t, "boom", attrMap(recs[0])["error"])
}

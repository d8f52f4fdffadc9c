package server

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/specgate/errors"
)

func trace(out *[]string, name string) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			*out = append(*out, name+":"+r.URL.Path)
			return next.Serve(w, r)
		})
	}
}

func fails(err error) Middleware {
	return Terminal(HandlerFunc(func(http.ResponseWriter, *http.Request) error {
		return err
	}))
}

func decodeEnvelope(t *testing.T, body string) errors.Envelope {
	t.Helper()
	var env errors.Envelope
	require.NoError(t, json.Unmarshal([]byte(body), &env))
	return env
}

func TestPipeline_Order(t *testing.T) {
	var calls []string
	p := NewPipeline()
	p.Use(trace(&calls, "a"), trace(&calls, "b"))
	p.Mount("/api", trace(&calls, "api"))
	p.Mount("/other", trace(&calls, "other"))
	p.Use(trace(&calls, "c"))

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	assert.Equal(t, []string{"a:/api/users", "b:/api/users", "api:/users", "c:/api/users"}, calls)
	assert.Equal(t, 5, p.Len())
}

func TestPipeline_MountBoundary(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		want   string
		ok     bool
	}{
		{"/api", "/api", "/", true},
		{"/api", "/api/", "/", true},
		{"/api", "/api/x/y", "/x/y", true},
		{"/api", "/apix", "", false},
		{"/api/", "/api/x", "/x", true},
		{"api", "/api/x", "/x", true},
		{"*", "/anything", "/anything", true},
		{"/", "/anything", "/anything", true},
	}

	for _, tt := range tests {
		t.Run(tt.prefix+" "+tt.path, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			inner, ok := match(normalizePrefix(tt.prefix), r)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, inner.URL.Path)
				assert.Equal(t, tt.path, OriginalURL(inner).Path)
			}
		})
	}
}

func TestPipeline_ErrorSkipsToErrorStages(t *testing.T) {
	var calls []string
	p := NewPipeline()
	p.UseError(func(_ http.ResponseWriter, _ *http.Request, err error) error {
		calls = append(calls, "before")
		return nil
	})
	p.Use(fails(stderrors.New("boom")))
	p.Use(trace(&calls, "skipped"))
	p.UseError(func(_ http.ResponseWriter, _ *http.Request, err error) error {
		calls = append(calls, "pass:"+err.Error())
		return err
	})
	p.UseError(func(w http.ResponseWriter, _ *http.Request, err error) error {
		calls = append(calls, "handle:"+err.Error())
		w.WriteHeader(http.StatusTeapot)
		return nil
	})

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"pass:boom", "handle:boom"}, calls)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestPipeline_UnhandledWritesFallback(t *testing.T) {
	p := NewPipeline()
	p.Use(fails(stderrors.New("boom")))

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decodeEnvelope(t, rec.Body.String())
	require.Len(t, env.Errors, 1)
	assert.Equal(t, errors.CodeUnexpected, env.Errors[0].Code)
	assert.Equal(t, "boom", env.Errors[0].Message)
}

func TestPipeline_PanicRecovered(t *testing.T) {
	var got error
	p := NewPipeline()
	p.Use(Terminal(HandlerFunc(func(http.ResponseWriter, *http.Request) error {
		panic("kaboom")
	})))
	p.UseError(func(w http.ResponseWriter, _ *http.Request, err error) error {
		got = err
		WriteError(w, err)
		return nil
	})

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var pe *PanicError
	require.ErrorAs(t, got, &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPipeline_NestedPropagatesToParent(t *testing.T) {
	var calls []string
	child := NewPipeline()
	child.Use(fails(errors.BadRequest("nope")))
	child.UseError(func(_ http.ResponseWriter, _ *http.Request, err error) error {
		calls = append(calls, "child:"+err.Error())
		return err
	})

	parent := NewPipeline()
	parent.Mount("/api", child.Middleware())
	parent.UseError(func(w http.ResponseWriter, _ *http.Request, err error) error {
		calls = append(calls, "parent:"+err.Error())
		WriteError(w, err)
		return nil
	})

	rec := httptest.NewRecorder()
	parent.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))

	assert.Equal(t, []string{"child:nope", "parent:nope"}, calls)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPipeline_NestedFallsThroughToParent(t *testing.T) {
	var calls []string
	child := NewPipeline()
	child.Use(trace(&calls, "child"))

	parent := NewPipeline()
	parent.Mount("/api", child.Middleware())
	parent.Use(trace(&calls, "after"))

	rec := httptest.NewRecorder()
	parent.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))

	assert.Equal(t, []string{"child:/x", "after:/api/x"}, calls)
}

func TestPipeline_LaterErrorNotOfferedToEarlierStages(t *testing.T) {
	var calls []string
	p := NewPipeline()
	p.Use(trace(&calls, "first"))
	p.UseError(func(w http.ResponseWriter, _ *http.Request, err error) error {
		calls = append(calls, "early")
		return err
	})
	p.Use(fails(errors.NotFound()))
	p.UseError(func(w http.ResponseWriter, _ *http.Request, err error) error {
		calls = append(calls, "late")
		WriteError(w, err)
		return nil
	})

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, []string{"first:/x", "late"}, calls)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutes(t *testing.T) {
	router := mux.NewRouter()
	router.Handle("/hello", Adapt(HandlerFunc(func(w http.ResponseWriter, _ *http.Request) error {
		return WriteJSON(w, http.StatusOK, map[string]string{"data": "hi"})
	}))).Methods(http.MethodGet)
	router.Handle("/fail", Adapt(HandlerFunc(func(http.ResponseWriter, *http.Request) error {
		return errors.BadRequest("bad")
	})))
	router.Handle("/skip", Adapt(HandlerFunc(func(http.ResponseWriter, *http.Request) error {
		return ErrNext
	})))

	var calls []string
	p := NewPipeline()
	p.Use(Routes(router))
	p.Use(trace(&calls, "next"))
	p.UseError(func(w http.ResponseWriter, _ *http.Request, err error) error {
		WriteError(w, err)
		return nil
	})

	tests := []struct {
		method string
		path   string
		status int
		next   bool
	}{
		{http.MethodGet, "/hello", http.StatusOK, false},
		{http.MethodPost, "/hello", http.StatusOK, true},
		{http.MethodGet, "/fail", http.StatusBadRequest, false},
		{http.MethodGet, "/skip", http.StatusOK, true},
		{http.MethodGet, "/missing", http.StatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			calls = nil
			rec := httptest.NewRecorder()
			p.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.next, len(calls) == 1)
		})
	}
}

func TestAdapt_OutsideRoutes(t *testing.T) {
	h := Adapt(HandlerFunc(func(http.ResponseWriter, *http.Request) error {
		return errors.NotFound()
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(Wrap(rec), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), errors.CodeNotFound))
}

func TestResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := Wrap(rec)
	assert.Same(t, rw, Wrap(rw))

	rw.SetStatus(http.StatusAccepted)
	assert.Equal(t, http.StatusAccepted, StatusOf(rw))
	assert.False(t, WrittenOf(rw))

	_, err := rw.Write([]byte("ok"))
	require.NoError(t, err)
	rw.WriteHeader(http.StatusTeapot)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, http.StatusAccepted, rw.Status())
	assert.Equal(t, 2, rw.BytesWritten())
	assert.True(t, WrittenOf(rw))
	assert.Equal(t, 0, StatusOf(rec))
}

func TestWriteError_KeepsErrorStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := Wrap(rec)
	rw.SetStatus(http.StatusConflict)

	WriteError(rw, stderrors.New("clash"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	env := decodeEnvelope(t, rec.Body.String())
	assert.Equal(t, errors.CodeUnexpected, env.Errors[0].Code)
}

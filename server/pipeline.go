package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Handler serves a request and reports failure by returning an error
// instead of writing an error response.
type Handler interface {
	Serve(w http.ResponseWriter, r *http.Request) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Serve calls f(w, r)
func (f HandlerFunc) Serve(w http.ResponseWriter, r *http.Request) error {
	return f(w, r)
}

// Middleware wraps the rest of the pipeline. Calling next continues with the
// following stage; not calling it ends the request.
type Middleware func(next Handler) Handler

// ErrorHandler is offered an error raised by an earlier stage. It returns nil
// once the error is handled or an error (the same or another) to pass it on.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error) error

// Terminal turns a handler into a middleware that never calls next
func Terminal(h Handler) Middleware {
	return func(Handler) Handler { return h }
}

type stage struct {
	prefix string
	mw     Middleware
	eh     ErrorHandler
}

// Pipeline is an ordered list of middleware and error stages. Stages run in
// the order they were added; an error skips the remaining middleware and is
// offered to the error stages that follow the failing one.
type Pipeline struct {
	mu     sync.RWMutex
	stages []stage
}

// NewPipeline creates an empty pipeline
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Use appends middleware matching every path
func (p *Pipeline) Use(mw ...Middleware) {
	for _, m := range mw {
		p.add(stage{mw: m})
	}
}

// Mount appends middleware matching path and everything below it. The prefix
// is stripped from the request URL while the middleware runs.
func (p *Pipeline) Mount(path string, mw Middleware) {
	p.add(stage{prefix: normalizePrefix(path), mw: mw})
}

// UseError appends an error stage matching every path
func (p *Pipeline) UseError(h ErrorHandler) {
	p.add(stage{eh: h})
}

// MountError appends an error stage matching path and everything below it
func (p *Pipeline) MountError(path string, h ErrorHandler) {
	p.add(stage{prefix: normalizePrefix(path), eh: h})
}

// Len returns the number of stages
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.stages)
}

func (p *Pipeline) add(s stage) {
	p.mu.Lock()
	p.stages = append(p.stages, s)
	p.mu.Unlock()
}

func (p *Pipeline) snapshot() []stage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// Middleware exposes the pipeline as a single stage of a parent pipeline.
// An error the pipeline cannot handle goes back to the parent, which offers
// it to its own error stages after the mount point.
func (p *Pipeline) Middleware() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			err := p.serve(w, r, next)
			var u *unhandled
			if stderrors.As(err, &u) && u.owner == p {
				return u.err
			}
			return err
		})
	}
}

// ServeHTTP runs the pipeline as a root handler. Unhandled errors are
// written as a 500 envelope.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rw := Wrap(w)
	if err := p.serve(rw, r, nil); err != nil {
		writeFallback(rw, Unwrap(err))
	}
}

// unhandled marks an error that already went through a pipeline's error
// stages, so enclosing stages of the same pipeline pass it through untouched.
type unhandled struct {
	err   error
	owner *Pipeline
}

func (u *unhandled) Error() string { return u.err.Error() }
func (u *unhandled) Unwrap() error { return u.err }

// Unwrap strips pipeline bookkeeping from an error that escaped every stage
func Unwrap(err error) error {
	var u *unhandled
	for stderrors.As(err, &u) {
		err = u.err
	}
	return err
}

func (p *Pipeline) serve(w http.ResponseWriter, r *http.Request, final Handler) error {
	stages := p.snapshot()

	var run func(i int, r *http.Request) error
	run = func(i int, r *http.Request) error {
		for ; i < len(stages); i++ {
			st := stages[i]
			if st.mw == nil {
				continue
			}
			inner, ok := match(st.prefix, r)
			if !ok {
				continue
			}

			idx := i
			next := HandlerFunc(func(w http.ResponseWriter, nr *http.Request) error {
				return run(idx+1, restore(nr, r))
			})

			err := invoke(st.mw(next), w, inner)
			if err == nil {
				return nil
			}
			var u *unhandled
			if stderrors.As(err, &u) {
				return err
			}
			return p.fail(stages, idx+1, w, r, err)
		}

		if final != nil {
			return final.Serve(w, r)
		}
		return nil
	}

	return run(0, r)
}

func (p *Pipeline) fail(stages []stage, i int, w http.ResponseWriter, r *http.Request, err error) error {
	for ; i < len(stages); i++ {
		st := stages[i]
		if st.eh == nil {
			continue
		}
		inner, ok := match(st.prefix, r)
		if !ok {
			continue
		}
		if err = invokeError(st.eh, w, inner, err); err == nil {
			return nil
		}
	}
	return &unhandled{err: err, owner: p}
}

// PanicError is raised in place of a panic inside a stage
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func invoke(h Handler, w http.ResponseWriter, r *http.Request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			err = &PanicError{Value: rec}
		}
	}()
	return h.Serve(w, r)
}

func invokeError(h ErrorHandler, w http.ResponseWriter, r *http.Request, in error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec}
		}
	}()
	return h(w, r, in)
}

type originalURLKey struct{}

// OriginalURL returns the request URL before any mount prefix was stripped
func OriginalURL(r *http.Request) *url.URL {
	if u, ok := r.Context().Value(originalURLKey{}).(*url.URL); ok {
		return u
	}
	return r.URL
}

func normalizePrefix(path string) string {
	if path == "" || path == "/" || path == "*" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(path, "/")
}

// match reports whether r falls under prefix and returns the request the
// stage should see, with the prefix stripped.
func match(prefix string, r *http.Request) (*http.Request, bool) {
	if prefix == "" {
		return r, true
	}

	path := r.URL.Path
	if path != prefix && !strings.HasPrefix(path, prefix+"/") {
		return nil, false
	}

	ctx := r.Context()
	if _, ok := ctx.Value(originalURLKey{}).(*url.URL); !ok {
		ctx = context.WithValue(ctx, originalURLKey{}, r.URL)
	}

	inner := r.WithContext(ctx)
	u := *r.URL
	u.Path = strings.TrimPrefix(path, prefix)
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawPath = ""
	inner.URL = &u
	return inner, true
}

// restore hands the outer URL back to the following stages while keeping any
// context values added by the stage that called next.
func restore(nr, outer *http.Request) *http.Request {
	if nr == outer {
		return outer
	}
	out := nr.WithContext(nr.Context())
	out.URL = outer.URL
	return out
}

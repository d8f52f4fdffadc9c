// Package dispatch turns requests matched against the API document into
// backend calls and writes the backend's answer as the HTTP response.
package dispatch

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/openapi"
	"github.com/c360/specgate/rpc"
	"github.com/c360/specgate/server"
)

// DefaultFields are the request fields copied into every payload
var DefaultFields = []string{"method", "token"}

// Renderer renders a named view. Implementations write the page to w.
type Renderer interface {
	Render(w io.Writer, name string, data any) error
}

// TokenResolver returns the token of a request, empty when there is none
type TokenResolver func(r *http.Request) (string, error)

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithFields replaces the request fields copied into payloads. Known
// fields: method, token, path, url, host, ip, query, headers.
func WithFields(fields ...string) Option {
	return func(d *Dispatcher) {
		d.fields = fields
	}
}

// WithView renders response bodies through renderer and honours redirects.
// A nil renderer keeps JSON bodies.
func WithView(name string, renderer Renderer) Option {
	return func(d *Dispatcher) {
		d.view = name
		d.renderer = renderer
		d.redirects = true
	}
}

// WithRedirects honours the redirect target of responses
func WithRedirects() Option {
	return func(d *Dispatcher) {
		d.redirects = true
	}
}

// WithTokenResolver replaces the default resolver, which reads the token
// stored by TokenCheck.
func WithTokenResolver(fn TokenResolver) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.token = fn
		}
	}
}

// Dispatcher forwards matched operations to a Caller. It is stateless per
// request and safe for concurrent use.
type Dispatcher struct {
	logger    *slog.Logger
	caller    rpc.Caller
	fields    []string
	view      string
	renderer  Renderer
	redirects bool
	token     TokenResolver
}

// New creates a dispatcher calling caller
func New(logger *slog.Logger, caller rpc.Caller, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger: logger,
		caller: caller,
		fields: DefaultFields,
		token: func(r *http.Request) (string, error) {
			return TokenFromContext(r.Context()), nil
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewView creates a dispatcher that renders bodies with the named view
func NewView(logger *slog.Logger, caller rpc.Caller, name string, renderer Renderer, opts ...Option) *Dispatcher {
	return New(logger, caller, append(opts, WithView(name, renderer))...)
}

// Middleware returns the dispatcher as a pipeline stage. Requests without
// a matched operation go to next.
func (d *Dispatcher) Middleware() server.Middleware {
	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			return d.Serve(w, r, next)
		})
	}
}

// Serve dispatches one request. Errors are returned, never written.
func (d *Dispatcher) Serve(w http.ResponseWriter, r *http.Request, next server.Handler) error {
	md, ok := openapi.FromContext(r.Context())
	if !ok || md.Operation == nil {
		return next.Serve(w, r)
	}

	token, err := d.token(r)
	if err != nil {
		return err
	}
	if len(md.Security) > 0 && token == "" {
		return errors.Unauthorized()
	}

	return d.Forward(w, r, d.payload(r, md, token))
}

// Forward calls the backend with p and writes its answer. Errors are
// returned, never written.
func (d *Dispatcher) Forward(w http.ResponseWriter, r *http.Request, p *rpc.Payload) error {
	resp, err := d.caller.Call(r.Context(), p)
	if err != nil {
		return err
	}

	d.logger.Info("process done", "id", p.ID)
	return d.write(w, r, resp)
}

func (d *Dispatcher) payload(r *http.Request, md *openapi.Metadata, token string) *rpc.Payload {
	p := &rpc.Payload{
		OperationID: md.Operation.OperationID,
		APIPath:     md.APIPath,
		BasePath:    md.BasePath,
		Security:    md.Security,
		Params:      md.Params,
	}
	if p.Security == nil {
		p.Security = []openapi.SecurityRequirement{}
	}

	for _, field := range d.fields {
		switch field {
		case "method":
			p.Method = r.Method
		case "token":
			p.Token = token
		default:
			if v, ok := requestField(field, r); ok {
				if p.Request == nil {
					p.Request = map[string]any{}
				}
				p.Request[field] = v
			}
		}
	}

	if md.BodyParam != nil {
		p.Body = whitelist(md.Body, md.BodySchema)
	}
	return p
}

// whitelist keeps exactly the properties the schema declares
func whitelist(body any, schema map[string]any) map[string]any {
	out := map[string]any{}
	obj, ok := body.(map[string]any)
	if !ok {
		return out
	}
	props, _ := schema["properties"].(map[string]any)
	for name := range props {
		if v, ok := obj[name]; ok {
			out[name] = v
		}
	}
	return out
}

func requestField(name string, r *http.Request) (any, bool) {
	switch name {
	case "path":
		return server.OriginalURL(r).Path, true
	case "url":
		return server.OriginalURL(r).String(), true
	case "host":
		return r.Host, true
	case "ip":
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr, true
		}
		return host, true
	case "query":
		return r.URL.Query(), true
	case "headers":
		h := make(map[string]string, len(r.Header))
		for k := range r.Header {
			h[k] = r.Header.Get(k)
		}
		return h, true
	}
	return nil, false
}

func (d *Dispatcher) write(w http.ResponseWriter, r *http.Request, resp *rpc.Response) error {
	if resp == nil {
		return errors.Process("no response")
	}

	rw := server.Wrap(w)
	if resp.StatusCode == http.StatusNoContent {
		rw.WriteHeader(http.StatusNoContent)
		return nil
	}
	if resp.StatusCode == 0 {
		return errors.Process("no statusCode")
	}

	rw.SetStatus(resp.StatusCode)
	for k, v := range resp.Headers {
		rw.Header().Set(k, v)
	}

	if d.redirects && resp.Redirect != "" {
		http.Redirect(rw, r, resp.Redirect, resp.StatusCode)
		return nil
	}
	if d.renderer != nil && resp.HasBody() {
		return d.render(rw, resp)
	}

	if resp.HasBody() {
		if rw.Header().Get("Content-Type") == "" {
			rw.Header().Set("Content-Type", "application/json; charset=utf-8")
		}
		rw.WriteHeader(resp.StatusCode)
		_, err := rw.Write(resp.Body)
		return err
	}

	return errors.Process("unexpected response")
}

func (d *Dispatcher) render(rw *server.Response, resp *rpc.Response) error {
	var data any
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return errors.Process("malformed response body")
	}

	var buf bytes.Buffer
	if err := d.renderer.Render(&buf, d.view, data); err != nil {
		return err
	}
	if rw.Header().Get("Content-Type") == "" {
		rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	rw.WriteHeader(resp.StatusCode)
	_, err := rw.Write(buf.Bytes())
	return err
}

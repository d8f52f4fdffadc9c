package openapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/server"
)

// Metadata describes the matched operation of a request
type Metadata struct {
	// APIPath is the matched path template, without the base path
	APIPath  string
	BasePath string
	Method   string
	PathItem *PathItem

	// Operation is nil when the path has no definition for Method
	Operation *Operation
	Security  []SecurityRequirement

	// Params maps declared non-body parameter names to their values
	Params map[string]any
	Values map[string]*Value

	// BodyParam is the declared body parameter, if any
	BodyParam *Parameter

	// BodySchema is the body parameter schema with references resolved
	BodySchema map[string]any
	Body       any
	HasBody    bool
}

// Value is a parameter as extracted from the request
type Value struct {
	Param   *Parameter
	Raw     []string
	Value   any
	Present bool
	// Err is set when the raw value does not convert to the declared type
	Err error
}

type metadataKey struct{}

// FromContext returns the metadata attached by the Metadata middleware
func FromContext(ctx context.Context) (*Metadata, bool) {
	md, ok := ctx.Value(metadataKey{}).(*Metadata)
	return md, ok && md != nil
}

// WithMetadata returns ctx carrying md
func WithMetadata(ctx context.Context, md *Metadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, md)
}

// MetadataMiddleware attaches a *Metadata to every request whose path
// matches a document path. Other requests pass untouched.
func MetadataMiddleware(doc *Document) server.Middleware {
	router := mux.NewRouter()
	for _, p := range doc.sortedPaths() {
		router.NewRoute().Path(joinPath(doc.BasePath, p)).Name(p)
	}

	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			var m mux.RouteMatch
			if !router.Match(r, &m) || m.Route == nil {
				return next.Serve(w, r)
			}

			apiPath := m.Route.GetName()
			md, err := buildMetadata(doc, apiPath, m.Vars, r)
			if err != nil {
				return err
			}
			return next.Serve(w, r.WithContext(WithMetadata(r.Context(), md)))
		})
	}
}

func buildMetadata(doc *Document, apiPath string, vars map[string]string, r *http.Request) (*Metadata, error) {
	item := doc.Paths[apiPath]
	op := item.Method(r.Method)

	md := &Metadata{
		APIPath:   apiPath,
		BasePath:  doc.BasePath,
		Method:    r.Method,
		PathItem:  item,
		Operation: op,
		Params:    map[string]any{},
		Values:    map[string]*Value{},
	}
	if op == nil {
		return md, nil
	}
	md.Security = doc.SecurityOf(op)

	params := doc.ParametersOf(item, op)
	var form map[string][]string
	for _, p := range params {
		if p.In == "formData" && form == nil {
			if err := r.ParseForm(); err != nil {
				return nil, errors.BadRequest("Malformed form body")
			}
			form = r.PostForm
		}
	}

	for _, p := range params {
		if p.In == "body" {
			md.BodyParam = p
			md.BodySchema = doc.ResolveSchema(p.Schema)
			body, ok, err := readBody(r)
			if err != nil {
				return nil, err
			}
			md.Body, md.HasBody = body, ok
			md.Values[p.Name] = &Value{Param: p, Value: body, Present: ok}
			continue
		}

		var raw []string
		switch p.In {
		case "path":
			if v, ok := vars[p.Name]; ok {
				raw = []string{v}
			}
		case "query":
			raw = r.URL.Query()[p.Name]
		case "header":
			raw = r.Header.Values(p.Name)
		case "formData":
			raw = form[p.Name]
		}

		v := &Value{Param: p, Raw: raw, Present: len(raw) > 0}
		switch {
		case v.Present:
			v.Value, v.Err = coerce(p, raw)
		case p.Default != nil:
			v.Value = p.Default
		}
		md.Values[p.Name] = v
		if v.Present || p.Default != nil {
			md.Params[p.Name] = v.Value
		}
	}
	return md, nil
}

// readBody decodes a JSON request body and puts the bytes back for later
// readers. An empty body reports ok=false.
func readBody(r *http.Request) (any, bool, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, false, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, false, errors.BadRequest("Unreadable request body")
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, false, nil
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && !isJSON(mt) {
			return string(data), true, nil
		}
	}

	var body any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, false, errors.BadRequest("Malformed JSON body")
	}
	return body, true, nil
}

func isJSON(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func coerce(p *Parameter, raw []string) (any, error) {
	if p.Type == "array" {
		values := splitCollection(raw, p.CollectionFormat)
		itemType := "string"
		if p.Items != nil && p.Items.Type != "" {
			itemType = p.Items.Type
		}
		out := make([]any, 0, len(values))
		for _, s := range values {
			v, err := convert(itemType, s)
			if err != nil {
				return values, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	v, err := convert(p.Type, raw[0])
	if err != nil {
		return raw[0], err
	}
	return v, nil
}

func convert(typ, s string) (any, error) {
	switch typ {
	case "integer":
		return strconv.ParseInt(s, 10, 64)
	case "number":
		return strconv.ParseFloat(s, 64)
	case "boolean":
		return strconv.ParseBool(s)
	default:
		return s, nil
	}
}

func splitCollection(raw []string, format string) []string {
	if format == "multi" {
		return raw
	}
	sep := ","
	switch format {
	case "ssv":
		sep = " "
	case "tsv":
		sep = "\t"
	case "pipes":
		sep = "|"
	}
	var out []string
	for _, r := range raw {
		out = append(out, strings.Split(r, sep)...)
	}
	return out
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return path.Join(base, p)
}

package openapi

import (
	"bytes"
	"html/template"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"github.com/c360/specgate/server"
)

// UIConfig sets where the documentation is served, relative to the surface
type UIConfig struct {
	APIDocs string `json:"api_docs,omitempty" yaml:"api_docs,omitempty"`
	Docs    string `json:"docs,omitempty" yaml:"docs,omitempty"`
}

func (c UIConfig) withDefaults() UIConfig {
	if c.APIDocs == "" {
		c.APIDocs = "/api-docs"
	}
	if c.Docs == "" {
		c.Docs = "/docs"
	}
	return c
}

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}} {{.Version}}</title></head>
<body>
<h1>{{.Title}} <small>{{.Version}}</small></h1>
{{with .Description}}<p>{{.}}</p>{{end}}
<p><a href="{{.SpecURL}}">{{.SpecURL}}</a></p>
<table>
<tr><th>Method</th><th>Path</th><th>Operation</th><th>Description</th></tr>
{{range .Operations}}<tr><td>{{.Method}}</td><td>{{.Path}}</td><td>{{.OperationID}}</td><td>{{.Description}}</td></tr>
{{end}}</table>
</body>
</html>
`))

type docsOperation struct {
	Method      string
	Path        string
	OperationID string
	Description string
}

// Docs serves the document as JSON and a summary page of its operations
func Docs(doc *Document, cfg UIConfig) server.Middleware {
	cfg = cfg.withDefaults()

	router := mux.NewRouter()
	router.Handle(cfg.APIDocs, server.Adapt(server.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) error {
		return server.WriteJSON(w, http.StatusOK, doc)
	}))).Methods(http.MethodGet)

	router.Handle(cfg.Docs, server.Adapt(server.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		var buf bytes.Buffer
		err := docsPage.Execute(&buf, map[string]any{
			"Title":       doc.Info.Title,
			"Version":     doc.Info.Version,
			"Description": doc.Info.Description,
			"SpecURL":     strings.TrimSuffix(server.OriginalURL(r).Path, cfg.Docs) + cfg.APIDocs,
			"Operations":  listOperations(doc),
		})
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, err = w.Write(buf.Bytes())
		return err
	}))).Methods(http.MethodGet)

	return server.Routes(router)
}

func listOperations(doc *Document) []docsOperation {
	paths := make([]string, 0, len(doc.Paths))
	for p := range doc.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []docsOperation
	for _, p := range paths {
		ops := doc.Paths[p].Operations()
		methods := make([]string, 0, len(ops))
		for m := range ops {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		for _, m := range methods {
			out = append(out, docsOperation{
				Method:      strings.ToUpper(m),
				Path:        joinPath(doc.BasePath, p),
				OperationID: ops[m].OperationID,
				Description: ops[m].Description,
			})
		}
	}
	return out
}

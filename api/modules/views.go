package modules

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
)

//go:embed views
var builtinViews embed.FS

// TemplateRenderer renders the named page templates of a directory. A view
// name maps to the file <name>.html.
type TemplateRenderer struct {
	templates *template.Template
}

// NewTemplateRenderer parses every .html file of fsys
func NewTemplateRenderer(fsys fs.FS) (*TemplateRenderer, error) {
	t, err := template.ParseFS(fsys, "*.html")
	if err != nil {
		return nil, fmt.Errorf("parse views: %w", err)
	}
	return &TemplateRenderer{templates: t}, nil
}

// Render executes the view name with data
func (r *TemplateRenderer) Render(w io.Writer, name string, data any) error {
	t := r.templates.Lookup(name + ".html")
	if t == nil {
		return fmt.Errorf("unknown view %q", name)
	}
	return t.Execute(w, data)
}

func viewsFS(dir string) (fs.FS, error) {
	if dir != "" {
		return os.DirFS(dir), nil
	}
	return fs.Sub(builtinViews, "views")
}

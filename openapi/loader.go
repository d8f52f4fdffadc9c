package openapi

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/specgate/errors"
)

// DefaultExts are the fragment file extensions scanned in APIsDirs
var DefaultExts = []string{".yaml", ".yml", ".json"}

// LoaderConfig describes how a document is assembled
type LoaderConfig struct {
	// Definition is the base document (info, basePath, shared definitions)
	Definition map[string]any `json:"definition" yaml:"definition"`
	// APIs are fragment files merged over Definition in order
	APIs []string `json:"apis,omitempty" yaml:"apis,omitempty"`
	// APIsDirs are scanned for fragments appended after APIs
	APIsDirs []string `json:"apis_dirs,omitempty" yaml:"apis_dirs,omitempty"`
	Exts     []string `json:"exts,omitempty" yaml:"exts,omitempty"`
	// OutputSpec, when set, receives the assembled document as JSON
	OutputSpec string `json:"output_spec,omitempty" yaml:"output_spec,omitempty"`
}

// Scan lists the fragment files of dirs. Only files whose base name has no
// dot and whose extension is in exts are returned, sorted per directory.
func Scan(dirs []string, exts []string) ([]string, error) {
	if len(exts) == 0 {
		exts = DefaultExts
	}

	var files []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, errors.WrapInvalid(err, "openapi", "Scan", fmt.Sprintf("read directory %s", dir))
		}

		var names []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := filepath.Ext(e.Name())
			base := strings.TrimSuffix(e.Name(), ext)
			if base == "" || strings.Contains(base, ".") || !contains(exts, ext) {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			files = append(files, filepath.Join(dir, name))
		}
	}
	return files, nil
}

// Load assembles a document from the base definition and its fragments
func Load(cfg LoaderConfig) (*Document, error) {
	files := append([]string(nil), cfg.APIs...)
	if len(cfg.APIsDirs) > 0 {
		scanned, err := Scan(cfg.APIsDirs, cfg.Exts)
		if err != nil {
			return nil, err
		}
		files = append(files, scanned...)
	}

	merged := Normalize(deepCopy(cfg.Definition)).(map[string]any)
	if merged == nil {
		merged = map[string]any{}
	}
	if _, ok := merged["swagger"]; !ok {
		merged["swagger"] = "2.0"
	}

	for _, file := range files {
		fragment, err := readFragment(file)
		if err != nil {
			return nil, err
		}
		merge(merged, fragment)
	}

	doc, err := Parse(merged)
	if err != nil {
		return nil, err
	}

	if cfg.OutputSpec != "" {
		if err := WriteSpec(doc, cfg.OutputSpec); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// Parse builds a Document from a decoded source map
func Parse(source map[string]any) (*Document, error) {
	data, err := json.Marshal(source)
	if err != nil {
		return nil, errors.WrapInvalid(err, "openapi", "Parse", "encode document")
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "openapi", "Parse", "decode document")
	}
	if doc.Paths == nil {
		doc.Paths = map[string]*PathItem{}
	}
	doc.source = source
	return &doc, nil
}

// WriteSpec writes doc to path as indented JSON
func WriteSpec(doc *Document, path string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.WrapInvalid(err, "openapi", "WriteSpec", "encode document")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapFatal(err, "openapi", "WriteSpec", fmt.Sprintf("write %s", path))
	}
	return nil
}

// readFragment decodes a YAML or JSON fragment. A top level "definition"
// key is accepted as an alias of "definitions".
func readFragment(file string) (map[string]any, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.WrapInvalid(err, "openapi", "readFragment", fmt.Sprintf("read %s", file))
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapInvalid(err, "openapi", "readFragment", fmt.Sprintf("parse %s", file))
	}
	if raw == nil {
		return map[string]any{}, nil
	}

	fragment, ok := Normalize(raw).(map[string]any)
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("top level must be a mapping"), "openapi", "readFragment", fmt.Sprintf("parse %s", file))
	}

	if defs, ok := fragment["definition"]; ok {
		delete(fragment, "definition")
		merge(fragment, map[string]any{"definitions": defs})
	}
	return fragment, nil
}

// Normalize converts YAML mappings with non-string keys (response codes)
// into map[string]any so the tree can be encoded as JSON.
func Normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = Normalize(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = Normalize(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = Normalize(val)
		}
		return t
	default:
		return v
	}
}

// merge deep-merges src into dst. Mappings merge key by key; any other
// value in src replaces the one in dst.
func merge(dst, src map[string]any) {
	for k, sv := range src {
		if sm, ok := sv.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				merge(dm, sm)
				continue
			}
		}
		dst[k] = sv
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case map[any]any:
		out := make(map[any]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

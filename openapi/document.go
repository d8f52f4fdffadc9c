// Package openapi loads Swagger 2.0 API documents and provides request
// middleware built on them: metadata attachment, request validation and a
// documentation UI.
package openapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// Document is the subset of a Swagger 2.0 document the gateway works with
type Document struct {
	Swagger             string                `json:"swagger"`
	Info                Info                  `json:"info"`
	Host                string                `json:"host,omitempty"`
	BasePath            string                `json:"basePath,omitempty"`
	Schemes             []string              `json:"schemes,omitempty"`
	Consumes            []string              `json:"consumes,omitempty"`
	Produces            []string              `json:"produces,omitempty"`
	Paths               map[string]*PathItem  `json:"paths"`
	Definitions         map[string]any        `json:"definitions,omitempty"`
	Parameters          map[string]*Parameter `json:"parameters,omitempty"`
	Responses           map[string]any        `json:"responses,omitempty"`
	SecurityDefinitions map[string]any        `json:"securityDefinitions,omitempty"`
	Security            []SecurityRequirement `json:"security,omitempty"`
	Tags                []map[string]any      `json:"tags,omitempty"`

	source map[string]any
}

// Info describes the API
type Info struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// SecurityRequirement maps a security scheme to its required scopes
type SecurityRequirement map[string][]string

// PathItem holds the operations of one path template
type PathItem struct {
	Get        *Operation   `json:"get,omitempty"`
	Put        *Operation   `json:"put,omitempty"`
	Post       *Operation   `json:"post,omitempty"`
	Delete     *Operation   `json:"delete,omitempty"`
	Options    *Operation   `json:"options,omitempty"`
	Head       *Operation   `json:"head,omitempty"`
	Patch      *Operation   `json:"patch,omitempty"`
	Parameters []*Parameter `json:"parameters,omitempty"`
}

// Method returns the operation defined for an HTTP method, or nil
func (p *PathItem) Method(method string) *Operation {
	if p == nil {
		return nil
	}
	switch strings.ToUpper(method) {
	case http.MethodGet:
		return p.Get
	case http.MethodPut:
		return p.Put
	case http.MethodPost:
		return p.Post
	case http.MethodDelete:
		return p.Delete
	case http.MethodOptions:
		return p.Options
	case http.MethodHead:
		return p.Head
	case http.MethodPatch:
		return p.Patch
	}
	return nil
}

// Operations returns the defined operations keyed by lower-case method
func (p *PathItem) Operations() map[string]*Operation {
	out := make(map[string]*Operation)
	for _, m := range []string{"get", "put", "post", "delete", "options", "head", "patch"} {
		if op := p.Method(m); op != nil {
			out[m] = op
		}
	}
	return out
}

// Operation describes one method of a path
type Operation struct {
	Tags        []string       `json:"tags,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Description string         `json:"description,omitempty"`
	OperationID string         `json:"operationId,omitempty"`
	Consumes    []string       `json:"consumes,omitempty"`
	Produces    []string       `json:"produces,omitempty"`
	Parameters  []*Parameter   `json:"parameters,omitempty"`
	Responses   map[string]any `json:"responses,omitempty"`
	// Security is nil when the operation inherits the document requirement
	Security []SecurityRequirement `json:"security,omitempty"`
}

// Parameter is a Swagger 2.0 parameter object
type Parameter struct {
	Ref              string         `json:"$ref,omitempty"`
	Name             string         `json:"name,omitempty"`
	In               string         `json:"in,omitempty"`
	Description      string         `json:"description,omitempty"`
	Required         bool           `json:"required,omitempty"`
	Type             string         `json:"type,omitempty"`
	Format           string         `json:"format,omitempty"`
	Items            *Items         `json:"items,omitempty"`
	CollectionFormat string         `json:"collectionFormat,omitempty"`
	Enum             []any          `json:"enum,omitempty"`
	Default          any            `json:"default,omitempty"`
	Schema           map[string]any `json:"schema,omitempty"`
}

// Items describes array elements of non-body parameters
type Items struct {
	Type   string `json:"type,omitempty"`
	Format string `json:"format,omitempty"`
}

// MarshalJSON writes the merged source, keeping fields the typed view drops
func (d *Document) MarshalJSON() ([]byte, error) {
	if d.source != nil {
		return json.Marshal(d.source)
	}
	type plain Document
	return json.Marshal((*plain)(d))
}

// Source returns the merged document as decoded from its files
func (d *Document) Source() map[string]any {
	return d.source
}

// resolve replaces a $ref parameter with its definition under #/parameters
func (d *Document) resolve(p *Parameter) *Parameter {
	if p == nil || p.Ref == "" {
		return p
	}
	name := strings.TrimPrefix(p.Ref, "#/parameters/")
	if def, ok := d.Parameters[name]; ok {
		return def
	}
	return p
}

// ParametersOf merges path level and operation parameters. Operation
// parameters override path ones with the same name and location.
func (d *Document) ParametersOf(item *PathItem, op *Operation) []*Parameter {
	type key struct{ name, in string }
	var order []key
	byKey := make(map[key]*Parameter)

	add := func(params []*Parameter) {
		for _, p := range params {
			p = d.resolve(p)
			if p == nil || p.Name == "" {
				continue
			}
			k := key{p.Name, p.In}
			if _, ok := byKey[k]; !ok {
				order = append(order, k)
			}
			byKey[k] = p
		}
	}
	if item != nil {
		add(item.Parameters)
	}
	if op != nil {
		add(op.Parameters)
	}

	out := make([]*Parameter, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

// ResolveSchema follows #/definitions references until a schema without
// $ref is reached. Properties of allOf members are merged into the result.
func (d *Document) ResolveSchema(schema map[string]any) map[string]any {
	seen := map[string]bool{}
	for schema != nil {
		ref, ok := schema["$ref"].(string)
		if !ok {
			break
		}
		name := strings.TrimPrefix(ref, "#/definitions/")
		if seen[name] {
			return nil
		}
		seen[name] = true
		schema, _ = d.Definitions[name].(map[string]any)
	}

	all, ok := schema["allOf"].([]any)
	if !ok {
		return schema
	}
	props := map[string]any{}
	for _, member := range all {
		m, _ := member.(map[string]any)
		if r := d.ResolveSchema(m); r != nil {
			if p, ok := r["properties"].(map[string]any); ok {
				for k, v := range p {
					props[k] = v
				}
			}
		}
	}
	if own, ok := schema["properties"].(map[string]any); ok {
		for k, v := range own {
			props[k] = v
		}
	}
	out := make(map[string]any, len(schema)+1)
	for k, v := range schema {
		out[k] = v
	}
	out["properties"] = props
	return out
}

// SecurityOf returns the effective requirement of op
func (d *Document) SecurityOf(op *Operation) []SecurityRequirement {
	if op != nil && op.Security != nil {
		return op.Security
	}
	return d.Security
}

// ConsumesOf returns the media types op accepts, defaulting to JSON
func (d *Document) ConsumesOf(op *Operation) []string {
	if op != nil && len(op.Consumes) > 0 {
		return op.Consumes
	}
	if len(d.Consumes) > 0 {
		return d.Consumes
	}
	return []string{"application/json"}
}

// sortedPaths orders templates so literal segments win over parameters
func (d *Document) sortedPaths() []string {
	paths := make([]string, 0, len(d.Paths))
	for p := range d.Paths {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		ci, cj := strings.Count(paths[i], "{"), strings.Count(paths[j], "{")
		if ci != cj {
			return ci < cj
		}
		if len(paths[i]) != len(paths[j]) {
			return len(paths[i]) > len(paths[j])
		}
		return paths[i] < paths[j]
	})
	return paths
}

package openapi

import (
	"fmt"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/server"
)

// Validation detail codes
const (
	CodeRequired     = "REQUIRED"
	CodeInvalidType  = "INVALID_TYPE"
	CodeEnumMismatch = "ENUM_MISMATCH"
	CodeSchema       = "SCHEMA_VALIDATION_FAILED"
)

// ValidatorConfig toggles validator checks
type ValidatorConfig struct {
	// SkipContentType disables the consumes check
	SkipContentType bool `json:"skip_content_type,omitempty" yaml:"skip_content_type,omitempty"`
}

// Validator checks requests against the matched operation: content type,
// required and typed parameters, and the body schema. It must run after
// MetadataMiddleware.
type Validator struct {
	doc *Document
	cfg ValidatorConfig

	mu      sync.Mutex
	schemas map[*Parameter]*gojsonschema.Schema
}

// NewValidator creates a validator for doc
func NewValidator(doc *Document, cfg ValidatorConfig) *Validator {
	return &Validator{doc: doc, cfg: cfg, schemas: make(map[*Parameter]*gojsonschema.Schema)}
}

// Middleware returns the validator as a pipeline stage
func (v *Validator) Middleware() server.Middleware {
	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			md, ok := FromContext(r.Context())
			if !ok || md.Operation == nil {
				return next.Serve(w, r)
			}
			if err := v.Validate(r, md); err != nil {
				return err
			}
			return next.Serve(w, r)
		})
	}
}

// Validate returns an InvalidContentType or ValidationFailed error, or nil
func (v *Validator) Validate(r *http.Request, md *Metadata) error {
	if !v.cfg.SkipContentType && expectsBody(md) && md.HasBody {
		ct := r.Header.Get("Content-Type")
		if !accepts(v.doc.ConsumesOf(md.Operation), ct) {
			return errors.InvalidContentType(ct)
		}
	}

	var details []errors.Detail
	for _, p := range v.doc.ParametersOf(md.PathItem, md.Operation) {
		val := md.Values[p.Name]
		if p.In == "body" {
			details = append(details, v.validateBody(p, val)...)
			continue
		}
		details = append(details, validateParam(p, val)...)
	}

	if len(details) > 0 {
		return errors.ValidationFailed(details)
	}
	return nil
}

func expectsBody(md *Metadata) bool {
	if md.BodyParam != nil {
		return true
	}
	for _, val := range md.Values {
		if val.Param.In == "formData" {
			return true
		}
	}
	return false
}

func accepts(consumes []string, contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, c := range consumes {
		want, _, err := mime.ParseMediaType(c)
		if err == nil && strings.EqualFold(want, mt) {
			return true
		}
	}
	return false
}

func validateParam(p *Parameter, val *Value) []errors.Detail {
	if val == nil || !val.Present {
		if p.Required {
			return []errors.Detail{{
				Code:    CodeRequired,
				Message: fmt.Sprintf("Missing required %s parameter: %s", p.In, p.Name),
			}}
		}
		return nil
	}

	if val.Err != nil {
		return []errors.Detail{{
			Code:    CodeInvalidType,
			Message: fmt.Sprintf("Invalid %s parameter %s: expected %s", p.In, p.Name, expectedType(p)),
		}}
	}

	if len(p.Enum) > 0 && !inEnum(p.Enum, val.Value) {
		return []errors.Detail{{
			Code:    CodeEnumMismatch,
			Message: fmt.Sprintf("Invalid %s parameter %s: not an allowed value", p.In, p.Name),
		}}
	}
	return nil
}

func expectedType(p *Parameter) string {
	if p.Type == "array" && p.Items != nil {
		return "array of " + p.Items.Type
	}
	return p.Type
}

func inEnum(enum []any, v any) bool {
	s := fmt.Sprint(v)
	for _, e := range enum {
		if fmt.Sprint(e) == s {
			return true
		}
	}
	return false
}

func (v *Validator) validateBody(p *Parameter, val *Value) []errors.Detail {
	if val == nil || !val.Present {
		if p.Required {
			return []errors.Detail{{Code: CodeRequired, Message: "Missing required body parameter: " + p.Name}}
		}
		return nil
	}
	if len(p.Schema) == 0 {
		return nil
	}

	schema, err := v.schema(p)
	if err != nil {
		return []errors.Detail{{Code: CodeSchema, Message: "Invalid body schema: " + err.Error()}}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(val.Value))
	if err != nil {
		return []errors.Detail{{Code: CodeSchema, Message: err.Error()}}
	}

	var details []errors.Detail
	for _, re := range result.Errors() {
		if re.Type() == "number_all_of" {
			continue
		}
		details = append(details, errors.Detail{
			Code:    strings.ToUpper(re.Type()),
			Message: re.String(),
		})
	}
	return details
}

// schema compiles the body schema once. It is wrapped in an allOf so that
// #/definitions references resolve against the document; the wrapper's own
// number_all_of error is dropped from the details.
func (v *Validator) schema(p *Parameter) (*gojsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.schemas[p]; ok {
		return s, nil
	}

	definitions := v.doc.Definitions
	if definitions == nil {
		definitions = map[string]any{}
	}
	root := map[string]any{
		"definitions": definitions,
		"allOf":       []any{p.Schema},
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(root))
	if err != nil {
		return nil, err
	}
	v.schemas[p] = s
	return s, nil
}

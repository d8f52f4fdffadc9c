package openapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/server"
)

func baseDefinition() map[string]any {
	return map[string]any{
		"info":     map[string]any{"title": "Test API", "version": "1.0.0"},
		"basePath": "/api",
		"security": []any{map[string]any{"bearer": []any{}}},
		"securityDefinitions": map[string]any{
			"bearer": map[string]any{"type": "apiKey", "name": "Authorization", "in": "header"},
		},
		"responses": map[string]any{
			"unexpected": map[string]any{"description": "Unexpected error"},
			"noContent":  map[string]any{"description": "No content"},
		},
	}
}

func loadTestDoc(t *testing.T) *Document {
	t.Helper()
	doc, err := Load(LoaderConfig{Definition: baseDefinition(), APIsDirs: []string{"testdata/apis"}})
	require.NoError(t, err)
	return doc
}

func TestScan(t *testing.T) {
	files, err := Scan([]string{"testdata/apis"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("testdata/apis", "hello.yaml"),
		filepath.Join("testdata/apis", "ping.yaml"),
		filepath.Join("testdata/apis", "users.json"),
	}, files)

	files, err = Scan([]string{"testdata/apis"}, []string{".json"})
	require.NoError(t, err)
	assert.Len(t, files, 1)

	_, err = Scan([]string{"testdata/missing"}, nil)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoad(t *testing.T) {
	out := filepath.Join(t.TempDir(), "spec.json")
	doc, err := Load(LoaderConfig{
		Definition: baseDefinition(),
		APIsDirs:   []string{"testdata/apis"},
		OutputSpec: out,
	})
	require.NoError(t, err)

	assert.Equal(t, "2.0", doc.Swagger)
	assert.Equal(t, "Test API", doc.Info.Title)
	assert.Equal(t, "/api", doc.BasePath)
	assert.Len(t, doc.Paths, 5)
	assert.NotContains(t, doc.Paths, "/ignored")
	assert.Contains(t, doc.Definitions, "HelloResponse")
	assert.Contains(t, doc.Definitions, "User")

	hello := doc.Paths["/hello"].Method(http.MethodGet)
	require.NotNil(t, hello)
	assert.Equal(t, "hello", hello.OperationID)
	assert.Contains(t, hello.Responses, "200")
	assert.Nil(t, hello.Security)
	assert.Equal(t, []SecurityRequirement{{"bearer": {}}}, doc.SecurityOf(hello))

	ping := doc.Paths["/ping"].Method(http.MethodGet)
	require.NotNil(t, ping.Security)
	assert.Empty(t, doc.SecurityOf(ping))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var written map[string]any
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Contains(t, written, "securityDefinitions")
	assert.Contains(t, written["paths"], "/users/{id}")
}

func TestLoad_BadFragment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("paths: [unclosed"), 0o644))

	_, err := Load(LoaderConfig{APIsDirs: []string{dir}})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMerge(t *testing.T) {
	dst := map[string]any{"a": map[string]any{"x": 1, "y": 2}, "b": 1}
	merge(dst, map[string]any{"a": map[string]any{"y": 3, "z": 4}, "b": []any{1}})
	assert.Equal(t, map[string]any{"a": map[string]any{"x": 1, "y": 3, "z": 4}, "b": []any{1}}, dst)
}

func TestParametersOf(t *testing.T) {
	doc := loadTestDoc(t)
	item := doc.Paths["/users/{id}"]
	params := doc.ParametersOf(item, item.Get)

	require.Len(t, params, 3)
	assert.Equal(t, "id", params[0].Name)
	assert.Equal(t, "integer", params[0].Type)
	assert.Equal(t, "fields", params[1].Name)
}

// capture runs the metadata middleware and returns what it attached
func capture(t *testing.T, doc *Document, r *http.Request) (*Metadata, error) {
	t.Helper()
	var got *Metadata
	h := MetadataMiddleware(doc)(server.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) error {
		got, _ = FromContext(r.Context())
		return nil
	}))
	err := h.Serve(httptest.NewRecorder(), r)
	return got, err
}

func TestMetadata(t *testing.T) {
	doc := loadTestDoc(t)

	md, err := capture(t, doc, httptest.NewRequest(http.MethodGet, "/api/users/42?fields=a,b&view=full", nil))
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, "/users/{id}", md.APIPath)
	assert.Equal(t, "/api", md.BasePath)
	assert.Equal(t, "getUser", md.Operation.OperationID)
	assert.Equal(t, int64(42), md.Params["id"])
	assert.Equal(t, []any{"a", "b"}, md.Params["fields"])
	assert.Equal(t, "full", md.Params["view"])
	assert.Nil(t, md.BodyParam)

	md, err = capture(t, doc, httptest.NewRequest(http.MethodGet, "/api/users/me", nil))
	require.NoError(t, err)
	assert.Equal(t, "me", md.Operation.OperationID)

	md, err = capture(t, doc, httptest.NewRequest(http.MethodDelete, "/api/hello", nil))
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Nil(t, md.Operation)
	assert.NotNil(t, md.PathItem.Get)

	md, err = capture(t, doc, httptest.NewRequest(http.MethodGet, "/elsewhere", nil))
	require.NoError(t, err)
	assert.Nil(t, md)
}

func TestMetadata_Body(t *testing.T) {
	doc := loadTestDoc(t)

	r := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"name":"Scott","admin":true}`))
	r.Header.Set("Content-Type", "application/json")
	md, err := capture(t, doc, r)
	require.NoError(t, err)
	require.NotNil(t, md.BodyParam)
	assert.True(t, md.HasBody)
	assert.Equal(t, map[string]any{"name": "Scott", "admin": true}, md.Body)
	assert.NotContains(t, md.Params, "body")

	r = httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"name":`))
	r.Header.Set("Content-Type", "application/json")
	_, err = capture(t, doc, r)
	he, ok := errors.AsHTTP(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeBadRequest, he.Code)
}

func validate(t *testing.T, doc *Document, r *http.Request) error {
	t.Helper()
	md, err := capture(t, doc, r)
	require.NoError(t, err)
	require.NotNil(t, md)
	return NewValidator(doc, ValidatorConfig{}).Validate(r, md)
}

func TestValidator(t *testing.T) {
	doc := loadTestDoc(t)

	jsonPost := func(body string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
		return r
	}

	tests := []struct {
		name  string
		req   *http.Request
		codes []string
	}{
		{"valid body", jsonPost(`{"name":"Scott","extra":1}`), nil},
		{"missing property", jsonPost(`{"age":3}`), []string{"REQUIRED"}},
		{"wrong property type", jsonPost(`{"name":"a","age":"old"}`), []string{"INVALID_TYPE"}},
		{"missing body", jsonPost(``), []string{CodeRequired}},
		{"bad path type", httptest.NewRequest(http.MethodGet, "/api/users/abc", nil), []string{CodeInvalidType}},
		{"enum mismatch", httptest.NewRequest(http.MethodGet, "/api/users/1?view=tiny", nil), []string{CodeEnumMismatch}},
		{"valid query", httptest.NewRequest(http.MethodGet, "/api/users/1?view=short", nil), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(t, doc, tt.req)
			if tt.codes == nil {
				assert.NoError(t, err)
				return
			}
			he, ok := errors.AsHTTP(err)
			require.True(t, ok, "expected HTTP error, got %v", err)
			assert.Equal(t, errors.CodeValidationFailed, he.Code)
			var codes []string
			for _, d := range he.Details {
				codes = append(codes, d.Code)
			}
			assert.Equal(t, tt.codes, codes)
		})
	}
}

func TestValidator_ContentType(t *testing.T) {
	doc := loadTestDoc(t)

	r := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`name=Scott`))
	r.Header.Set("Content-Type", "text/plain")
	err := validate(t, doc, r)

	he, ok := errors.AsHTTP(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeInvalidContentType, he.Code)
	assert.True(t, strings.HasPrefix(he.Message, "Invalid content type"))

	r = httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"name":"a"}`))
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	assert.NoError(t, validate(t, doc, r))
}

func TestValidator_Middleware(t *testing.T) {
	doc := loadTestDoc(t)
	p := server.NewPipeline()
	p.Use(MetadataMiddleware(doc), NewValidator(doc, ValidatorConfig{}).Middleware())
	p.Use(server.Terminal(server.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) error {
		w.WriteHeader(http.StatusNoContent)
		return nil
	})))
	p.UseError(func(w http.ResponseWriter, _ *http.Request, err error) error {
		server.WriteError(w, err)
		return nil
	})

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var env errors.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Len(t, env.Errors, 1)
	assert.Equal(t, CodeInvalidType, env.Errors[0].Code)

	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unrelated", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDocs(t *testing.T) {
	doc := loadTestDoc(t)
	p := server.NewPipeline()
	p.Mount("/api", Docs(doc, UIConfig{}))

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/api-docs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var served map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &served))
	assert.Equal(t, "/api", served["basePath"])

	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/docs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "Test API")
	assert.Contains(t, body, "/api/users/{id}")
	assert.Contains(t, body, `href="/api/api-docs"`)
}

func TestResolveSchema(t *testing.T) {
	doc := &Document{Definitions: map[string]any{
		"Base": map[string]any{"properties": map[string]any{"id": map[string]any{"type": "integer"}}},
		"User": map[string]any{"allOf": []any{
			map[string]any{"$ref": "#/definitions/Base"},
			map[string]any{"properties": map[string]any{"name": map[string]any{"type": "string"}}},
		}},
		"Alias": map[string]any{"$ref": "#/definitions/User"},
		"Loop":  map[string]any{"$ref": "#/definitions/Loop"},
	}}

	got := doc.ResolveSchema(map[string]any{"$ref": "#/definitions/Alias"})
	require.NotNil(t, got)
	props := got["properties"].(map[string]any)
	assert.Contains(t, props, "id")
	assert.Contains(t, props, "name")

	assert.Nil(t, doc.ResolveSchema(map[string]any{"$ref": "#/definitions/Loop"}))
	assert.Nil(t, doc.ResolveSchema(map[string]any{"$ref": "#/definitions/Missing"}))
}

package modules

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/specgate/api"
	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/rpc"
)

type flowCaller struct {
	mu       sync.Mutex
	payloads []*rpc.Payload
	resp     *rpc.Response
}

func (c *flowCaller) Call(_ context.Context, p *rpc.Payload) (*rpc.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, p)
	return c.resp, nil
}

func (c *flowCaller) Close(context.Context) error { return nil }

func (c *flowCaller) calls() []*rpc.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*rpc.Payload(nil), c.payloads...)
}

const clientQuery = "?redirect_uri=https%3A%2F%2Fapp.example%2Fcb&response_type=code&client_id=web"

func oauth2Server(t *testing.T, caller rpc.Caller) http.Handler {
	t.Helper()
	d := deps(caller)
	d.MountPath = "/auth"
	d.OAuth2 = &api.OAuth2Config{AuthorizationURL: "https://auth.example/authorize"}
	mw, err := NewOAuth2(d)
	require.NoError(t, err)
	srv := mount(t, "/", mw)
	srv.Root().UseError(api.ErrorHandler())
	return srv
}

func postForm(target string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env errors.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Len(t, env.Errors, 1)
	assert.Equal(t, errors.CodeBadRequest, env.Errors[0].Code)
	return env.Errors[0].Message
}

func TestRegisterOAuth2(t *testing.T) {
	registry := api.NewRegistry()
	require.NoError(t, Register(registry))
	require.NoError(t, RegisterOAuth2(registry))
	assert.Equal(t, []string{"hello", "ping", "swagger", "oauth2"}, registry.Names())

	reg, ok := registry.Lookup("oauth2")
	require.True(t, ok)
	assert.Equal(t, "/", reg.Endpoint)
}

func TestOAuth2_Requirements(t *testing.T) {
	_, err := NewOAuth2(deps(nil))
	assert.ErrorContains(t, err, "caller")

	_, err = NewOAuth2(deps(&flowCaller{}))
	assert.ErrorContains(t, err, "authorization_url")

	d := deps(&flowCaller{})
	d.OAuth2 = &api.OAuth2Config{AuthorizationURL: "https://auth.example/authorize", Views: t.TempDir()}
	_, err = NewOAuth2(d)
	assert.ErrorContains(t, err, "parse views")
}

func TestOAuth2_Pages(t *testing.T) {
	caller := &flowCaller{}
	srv := oauth2Server(t, caller)

	tests := []struct {
		target string
		title  string
	}{
		{"/login" + clientQuery, "Sign in"},
		{"/forgot" + clientQuery, "Forgot password"},
		{"/resetpassword" + clientQuery + "&reset_token=r1", "Choose a new password"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
			assert.Contains(t, rec.Body.String(), tt.title)
		})
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login"+clientQuery, nil))
	assert.Contains(t, rec.Body.String(), "client_id=web", "forgot link keeps the client query")
	assert.Empty(t, caller.calls(), "pages render without the backend")
}

func TestOAuth2_MissingQuery(t *testing.T) {
	caller := &flowCaller{}
	srv := oauth2Server(t, caller)

	tests := []struct {
		name    string
		req     *http.Request
		message string
	}{
		{"login without client", httptest.NewRequest(http.MethodGet, "/login?redirect_uri=x&response_type=code", nil), "Missing query parameter: client_id"},
		{"login empty redirect", httptest.NewRequest(http.MethodGet, "/login?redirect_uri=&response_type=code&client_id=web", nil), "Missing query parameter: redirect_uri"},
		{"reset without token", httptest.NewRequest(http.MethodGet, "/resetpassword"+clientQuery, nil), "Missing query parameter: reset_token"},
		{"invitation without token", postForm("/invitation"+clientQuery, url.Values{}), "Missing query parameter: invitation_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.message, errorMessage(t, rec))
		})
	}
	assert.Empty(t, caller.calls())
}

func TestOAuth2_MissingCredentials(t *testing.T) {
	caller := &flowCaller{}
	srv := oauth2Server(t, caller)

	tests := []struct {
		name    string
		target  string
		form    url.Values
		message string
	}{
		{"login without anything", "/login", url.Values{}, "Missing: password"},
		{"login without email", "/login", url.Values{"password": {"pw"}}, "Missing: email"},
		{"forgot without email", "/forgot", url.Values{"password": {"pw"}}, "Missing: email"},
		{"reset without password", "/resetpassword", url.Values{"email": {"a@b.c"}}, "Missing: password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := tt.target + clientQuery
			if tt.target == "/resetpassword" {
				target += "&reset_token=r1"
			}
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, postForm(target, tt.form))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.message, errorMessage(t, rec))
		})
	}
	assert.Empty(t, caller.calls(), "rejected before the backend")
}

func TestOAuth2_LoginRedirects(t *testing.T) {
	caller := &flowCaller{resp: rpc.Redirect(http.StatusFound, "https://app.example/cb?code=c1")}
	srv := oauth2Server(t, caller)

	req := postForm("/login"+clientQuery, url.Values{"email": {"scott@example.com"}, "password": {"pw"}})
	req.Header.Set("Authorization", "Bearer session-1")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://app.example/cb?code=c1", rec.Header().Get("Location"))

	calls := caller.calls()
	require.Len(t, calls, 1)
	p := calls[0]
	assert.Equal(t, "login", p.OperationID)
	assert.Equal(t, "/login", p.APIPath)
	assert.Equal(t, "/auth", p.BasePath)
	assert.Equal(t, "https://auth.example/authorize", p.AuthorizationURL)
	assert.Equal(t, http.MethodPost, p.Method)
	assert.Equal(t, "session-1", p.Token)
	assert.Equal(t, map[string]any{
		"redirect_uri":  "https://app.example/cb",
		"response_type": "code",
		"client_id":     "web",
	}, p.Params)
	assert.Equal(t, map[string]any{"email": "scott@example.com", "password": "pw"}, p.Body)
}

func TestOAuth2_InvitationRendersBackendBody(t *testing.T) {
	resp, err := rpc.JSON(http.StatusOK, map[string]any{"email": "new@example.com"})
	require.NoError(t, err)
	caller := &flowCaller{resp: resp}
	srv := oauth2Server(t, caller)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invitation"+clientQuery+"&invitation_token=i1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `value="new@example.com"`)

	calls := caller.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "getInvitation", calls[0].OperationID)
	assert.Equal(t, "i1", calls[0].Params["invitation_token"])

	caller.resp = rpc.NoContent()
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, postForm("/invitation"+clientQuery+"&invitation_token=i1", url.Values{"password": {"pw"}}))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "postInvitation", caller.calls()[1].OperationID)
}

func TestOAuth2_StylesheetAndPassThrough(t *testing.T) {
	srv := oauth2Server(t, &flowCaller{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/css/main.css", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/elsewhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

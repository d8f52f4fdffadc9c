package modules

import (
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/c360/specgate/api"
	"github.com/c360/specgate/dispatch"
	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/openapi"
	"github.com/c360/specgate/rpc"
	"github.com/c360/specgate/server"
)

var (
	queryParams      = []string{"redirect_uri", "response_type", "client_id"}
	resetParams      = append(append([]string(nil), queryParams...), "reset_token")
	invitationParams = append(append([]string(nil), queryParams...), "invitation_token")
)

// RegisterOAuth2 registers the browser login flows. The module is not part
// of Register; it needs api.Config.OAuth2.
func RegisterOAuth2(registry *api.Registry) error {
	return registry.Register(&api.Registration{
		Name:        "oauth2",
		Endpoint:    "/",
		Description: "Login, password reset and invitation pages backed by the worker",
		Factory:     NewOAuth2,
	})
}

// flow is one browser page. A GET either renders the page or, when
// getOperation is set, asks the backend for it; a POST submits the form.
type flow struct {
	path          string
	view          string
	query         []string
	getOperation  string
	postOperation string
	required      []string
}

var flows = []flow{
	{path: "/login", view: "login", query: queryParams, postOperation: "login", required: []string{"password", "email"}},
	{path: "/forgot", view: "forgot", query: queryParams, postOperation: "forgot", required: []string{"email"}},
	{path: "/resetpassword", view: "resetpassword", query: resetParams, postOperation: "resetpassword", required: []string{"password"}},
	{path: "/invitation", view: "signup", query: invitationParams, getOperation: "getInvitation", postOperation: "postInvitation"},
}

type oauth2 struct {
	logger           *slog.Logger
	renderer         dispatch.Renderer
	basePath         string
	authorizationURL string
	css              []byte
}

// NewOAuth2 serves the login, forgot, resetpassword and invitation pages.
// Form posts are forwarded to the backend; its answer is a redirect, a
// rendered page or JSON.
func NewOAuth2(deps api.Dependencies) (server.Middleware, error) {
	if deps.Caller == nil {
		return nil, fmt.Errorf("oauth2 module requires a caller")
	}
	if deps.OAuth2 == nil || deps.OAuth2.AuthorizationURL == "" {
		return nil, fmt.Errorf("oauth2 module requires oauth2.authorization_url")
	}

	views, err := viewsFS(deps.OAuth2.Views)
	if err != nil {
		return nil, err
	}
	renderer, err := NewTemplateRenderer(views)
	if err != nil {
		return nil, err
	}
	css, err := fs.ReadFile(builtinViews, "views/main.css")
	if err != nil {
		return nil, err
	}

	o := &oauth2{
		logger:           deps.GetLoggerWithComponent("oauth2"),
		renderer:         renderer,
		basePath:         deps.MountPath,
		authorizationURL: deps.OAuth2.AuthorizationURL,
		css:              css,
	}

	router := mux.NewRouter()
	for _, f := range flows {
		d := dispatch.NewView(o.logger, deps.Caller, f.view, renderer)
		router.Handle(f.path, server.Adapt(o.get(f, d))).Methods(http.MethodGet)
		router.Handle(f.path, server.Adapt(o.post(f, d))).Methods(http.MethodPost)
	}
	router.Handle("/css/main.css", server.Adapt(server.HandlerFunc(o.stylesheet))).Methods(http.MethodGet)

	tokens := dispatch.TokenCheck()
	routes := server.Routes(router)
	return func(next server.Handler) server.Handler {
		return tokens(routes(next))
	}, nil
}

func (o *oauth2) get(f flow, d *dispatch.Dispatcher) server.Handler {
	return server.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		params, err := pickQuery(r, f.query)
		if err != nil {
			return err
		}
		if f.getOperation == "" {
			return o.page(w, f.view, map[string]any{"data": params})
		}
		return d.Forward(w, r, o.payload(r, f, f.getOperation, params, nil))
	})
}

func (o *oauth2) post(f flow, d *dispatch.Dispatcher) server.Handler {
	return server.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		params, err := pickQuery(r, f.query)
		if err != nil {
			return err
		}
		body, err := formBody(r)
		if err != nil {
			return err
		}
		for _, field := range f.required {
			if v, _ := body[field].(string); v == "" {
				return errors.BadRequest("Missing: " + field)
			}
		}
		return d.Forward(w, r, o.payload(r, f, f.postOperation, params, body))
	})
}

func (o *oauth2) payload(r *http.Request, f flow, operation string, params, body map[string]any) *rpc.Payload {
	if body == nil {
		body = map[string]any{}
	}
	return &rpc.Payload{
		Method:           r.Method,
		Token:            dispatch.TokenFromContext(r.Context()),
		OperationID:      operation,
		APIPath:          f.path,
		BasePath:         o.basePath,
		Security:         []openapi.SecurityRequirement{},
		Params:           params,
		AuthorizationURL: o.authorizationURL,
		Body:             body,
	}
}

func (o *oauth2) page(w http.ResponseWriter, view string, data any) error {
	var buf bytes.Buffer
	if err := o.renderer.Render(&buf, view, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(buf.Bytes())
	return err
}

func (o *oauth2) stylesheet(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(o.css)
	return err
}

// pickQuery returns the named query values; each one must be present
func pickQuery(r *http.Request, names []string) (map[string]any, error) {
	q := r.URL.Query()
	out := make(map[string]any, len(names))
	for _, name := range names {
		v := q.Get(name)
		if v == "" {
			return nil, errors.BadRequest("Missing query parameter: " + name)
		}
		out[name] = v
	}
	return out, nil
}

// formBody decodes an urlencoded form. Other content types give an empty body.
func formBody(r *http.Request) (map[string]any, error) {
	if err := r.ParseForm(); err != nil {
		return nil, errors.BadRequest("Malformed form body")
	}
	body := make(map[string]any, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) == 1 {
			body[k] = v[0]
		} else {
			body[k] = v
		}
	}
	return body, nil
}

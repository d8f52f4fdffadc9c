package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/rpc"
)

// greeting is the body of the hello operation
type greeting struct {
	Data string `json:"data"`
}

// register binds the demo operations served by the worker
func register(r *rpc.Responder) {
	r.Handle("hello", hello)
	r.Handle("secret", secret)
	r.Handle("ping", ping)
	r.Handle("login", login)
}

func hello(_ context.Context, p *rpc.Payload) (*rpc.Response, error) {
	name, _ := p.Params["name"].(string)
	if name == "" {
		name = "stranger"
	}
	return rpc.JSON(http.StatusOK, greeting{Data: fmt.Sprintf("Hello, %s!", name)})
}

// secret answers only requests carrying a bearer token
func secret(_ context.Context, p *rpc.Payload) (*rpc.Response, error) {
	if p.Token == "" {
		return nil, errors.Unauthorized()
	}
	return rpc.JSON(http.StatusOK, greeting{Data: "The secret is safe with " + p.Token})
}

func ping(context.Context, *rpc.Payload) (*rpc.Response, error) {
	return rpc.NoContent(), nil
}

// login accepts any credentials and sends the browser back to the client
// with a one-time code
func login(_ context.Context, p *rpc.Payload) (*rpc.Response, error) {
	raw, _ := p.Params["redirect_uri"].(string)
	target, err := url.Parse(raw)
	if err != nil || !target.IsAbs() {
		return nil, errors.BadRequest("Invalid redirect_uri")
	}
	q := target.Query()
	q.Set("code", uuid.NewString())
	target.RawQuery = q.Encode()
	return rpc.Redirect(http.StatusFound, target.String()), nil
}

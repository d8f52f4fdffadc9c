// Package rpc defines the request/reply messages exchanged between the
// gateway and backend workers, a NATS backed Caller and the worker side
// Responder.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/openapi"
)

// Payload is sent to a worker for one HTTP request
type Payload struct {
	ID          string                        `json:"id"`
	Method      string                        `json:"method,omitempty"`
	Token       string                        `json:"token,omitempty"`
	Request     map[string]any                `json:"request,omitempty"`
	OperationID string                        `json:"operationId"`
	APIPath     string                        `json:"apiPath"`
	BasePath    string                        `json:"basePath"`
	Security    []openapi.SecurityRequirement `json:"security"`
	Params      map[string]any                `json:"params"`
	// AuthorizationURL is set by browser login flows
	AuthorizationURL string `json:"authorizationUrl,omitempty"`
	// Body is present only when the operation declares a body parameter
	Body any `json:"body,omitempty"`
}

// Response is a worker's answer. A zero StatusCode is a processing error.
type Response struct {
	ID         string            `json:"id"`
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       json.RawMessage   `json:"body,omitempty"`
	Redirect   string            `json:"redirect,omitempty"`
}

// HasBody reports whether the response carries a non-null body
func (r *Response) HasBody() bool {
	b := bytes.TrimSpace(r.Body)
	return len(b) > 0 && !bytes.Equal(b, []byte("null"))
}

// Caller sends payloads to a backend and returns its response
type Caller interface {
	Call(ctx context.Context, p *Payload) (*Response, error)
	Close(ctx context.Context) error
}

// JSON builds a response with v encoded as the body
func JSON(status int, v any) (*Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WrapInvalid(err, "rpc", "JSON", "encode body")
	}
	return &Response{StatusCode: status, Body: data}, nil
}

// NoContent builds a 204 response
func NoContent() *Response {
	return &Response{StatusCode: http.StatusNoContent}
}

// Redirect builds a redirect response
func Redirect(status int, location string) *Response {
	return &Response{StatusCode: status, Redirect: location}
}

// ErrorResponse renders err the way the gateway renders errors, as an
// envelope with the matching status.
func ErrorResponse(err error) *Response {
	status, details := errors.Normalize(err, 0)
	resp, mErr := JSON(status, errors.Envelope{Errors: details})
	if mErr != nil {
		return &Response{StatusCode: http.StatusInternalServerError}
	}
	return resp
}

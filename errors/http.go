package errors

import (
	"errors"
	"net/http"
	"strings"
)

// Error codes surfaced to API clients in the error envelope
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotFound           = "NOT_FOUND"
	CodeTooManyRequests    = "TOO_MANY_REQUESTS"
	CodeInvalidContentType = "INVALID_CONTENT_TYPE"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeProcessError       = "PROCESS_ERROR"
	CodeUnexpected         = "UNEXPECTED_ERROR"
)

// invalidContentTypePrefix marks content negotiation failures that carry no code
const invalidContentTypePrefix = "Invalid content type"

// Detail is a single entry of the envelope error list
type Detail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope is the JSON body written for every failed request
type Envelope struct {
	Errors []Detail `json:"errors"`
}

// HTTPError is an error with an HTTP status and a client facing code.
// Details is set for validation failures and replaces the single message in
// the envelope.
type HTTPError struct {
	Code    string
	Status  int
	Message string
	Details []Detail
	Err     error
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// BadRequest reports malformed or missing input. An empty message defaults to "Bad request".
func BadRequest(msg string) *HTTPError {
	if msg == "" {
		msg = "Bad request"
	}
	return &HTTPError{Code: CodeBadRequest, Status: http.StatusBadRequest, Message: msg}
}

// Unauthorized reports a missing token on an operation that requires one
func Unauthorized() *HTTPError {
	return &HTTPError{Code: CodeUnauthorized, Status: http.StatusUnauthorized, Message: "Token invalid or missing"}
}

// NotFound reports that no operation matched the request
func NotFound() *HTTPError {
	return &HTTPError{Code: CodeNotFound, Status: http.StatusNotFound, Message: "Not found"}
}

// TooManyRequests reports a client over its request rate
func TooManyRequests() *HTTPError {
	return &HTTPError{Code: CodeTooManyRequests, Status: http.StatusTooManyRequests, Message: "Too many requests"}
}

// InvalidContentType reports a request body media type the operation does not consume
func InvalidContentType(contentType string) *HTTPError {
	return &HTTPError{
		Code:    CodeInvalidContentType,
		Status:  http.StatusNotAcceptable,
		Message: invalidContentTypePrefix + " (" + contentType + ")",
	}
}

// ValidationFailed reports a request rejected by the OpenAPI request validator
func ValidationFailed(details []Detail) *HTTPError {
	return &HTTPError{
		Code:    CodeValidationFailed,
		Status:  http.StatusBadRequest,
		Message: "Request validation failed",
		Details: details,
	}
}

// Process reports a malformed or absent backend response
func Process(msg string) *HTTPError {
	return &HTTPError{Code: CodeProcessError, Status: http.StatusInternalServerError, Message: msg}
}

// AsHTTP returns the HTTPError in err's chain, if any
func AsHTTP(err error) (*HTTPError, bool) {
	var he *HTTPError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// Normalize maps any error onto the status and detail list written to the
// client. current is the status already set on the response (0 when unset);
// a status of 400 or above is kept for coded errors.
func Normalize(err error, current int) (int, []Detail) {
	if err == nil {
		return http.StatusInternalServerError, []Detail{{Code: CodeUnexpected, Message: "unknown error"}}
	}

	he, ok := AsHTTP(err)
	if ok && he.Code == CodeValidationFailed && len(he.Details) > 0 {
		details := make([]Detail, len(he.Details))
		copy(details, he.Details)
		return http.StatusBadRequest, details
	}

	status := current
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
		if ok && he.Status != 0 {
			status = he.Status
		}
	}

	code := ""
	if ok {
		code = he.Code
	}
	if code == "" {
		if strings.HasPrefix(err.Error(), invalidContentTypePrefix) {
			code = CodeInvalidContentType
			status = http.StatusNotAcceptable
		} else {
			code = CodeUnexpected
		}
	}

	return status, []Detail{{Code: code, Message: err.Error()}}
}

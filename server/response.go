package server

import (
	"encoding/json"
	"net/http"

	"github.com/c360/specgate/errors"
)

// Response records the status written through a http.ResponseWriter
type Response struct {
	http.ResponseWriter
	status  int
	pending int
	written bool
	bytes   int
}

// Wrap returns w as a *Response, reusing it when w already is one
func Wrap(w http.ResponseWriter) *Response {
	if rw, ok := w.(*Response); ok {
		return rw
	}
	return &Response{ResponseWriter: w}
}

// WriteHeader records the status and forwards it
func (rw *Response) WriteHeader(status int) {
	if rw.written {
		return
	}
	rw.status = status
	rw.written = true
	rw.ResponseWriter.WriteHeader(status)
}

// Write writes the body, sending an implicit 200 first
func (rw *Response) Write(b []byte) (int, error) {
	if !rw.written {
		status := rw.pending
		if status == 0 {
			status = http.StatusOK
		}
		rw.WriteHeader(status)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// SetStatus records a status without sending it. It is used by the next
// implicit write and reported by StatusOf until a header is written.
func (rw *Response) SetStatus(status int) {
	if !rw.written {
		rw.pending = status
	}
}

// Status returns the status written so far, or the pending one
func (rw *Response) Status() int {
	if !rw.written {
		return rw.pending
	}
	return rw.status
}

// Written reports whether the header was sent
func (rw *Response) Written() bool {
	return rw.written
}

// BytesWritten returns the body size written so far
func (rw *Response) BytesWritten() int {
	return rw.bytes
}

// Unwrap exposes the underlying writer to http.ResponseController
func (rw *Response) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// StatusOf returns the status recorded on w, if w records one
func StatusOf(w http.ResponseWriter) int {
	if rw, ok := w.(*Response); ok {
		return rw.Status()
	}
	return 0
}

// WrittenOf reports whether a response was already sent through w. Writers
// that do not record status are assumed unwritten.
func WrittenOf(w http.ResponseWriter) bool {
	if rw, ok := w.(*Response); ok {
		return rw.written
	}
	return false
}

// WriteJSON encodes v with the given status
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WrapInvalid(err, "server", "WriteJSON", "encode response")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, err = w.Write(data)
	return err
}

// WriteError writes err as an error envelope unless a response was already sent
func WriteError(w http.ResponseWriter, err error) {
	if WrittenOf(w) {
		return
	}
	status, details := errors.Normalize(err, StatusOf(w))
	_ = WriteJSON(w, status, errors.Envelope{Errors: details})
}

func writeFallback(w http.ResponseWriter, err error) {
	if WrittenOf(w) {
		return
	}
	_ = WriteJSON(w, http.StatusInternalServerError, errors.Envelope{Errors: []errors.Detail{{
		Code:    errors.CodeUnexpected,
		Message: err.Error(),
	}}})
}

package rpc

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/metric"
)

// loopback wires a caller straight to a responder
type loopback struct {
	responder *Responder
	subject   string
	queue     string
	closed    bool
	err       error
	raw       []byte
}

func (l *loopback) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	l.subject = subject
	if l.err != nil {
		return nil, l.err
	}
	if l.raw != nil {
		return l.raw, nil
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, stderrors.New("expected a deadline")
	}
	return l.responder.Serve(ctx, data)
}

func (l *loopback) Reply(_ context.Context, subject, queue string, _ func(context.Context, []byte) ([]byte, error)) (*nats.Subscription, error) {
	l.subject = subject
	l.queue = queue
	return &nats.Subscription{}, nil
}

func (l *loopback) Close(context.Context) error {
	l.closed = true
	return nil
}

func newLoopback() *loopback {
	lb := &loopback{}
	lb.responder = NewResponder(lb, "", nil)
	return lb
}

func TestCall_RoundTrip(t *testing.T) {
	lb := newLoopback()
	lb.responder.Handle("hello", func(_ context.Context, p *Payload) (*Response, error) {
		resp, err := JSON(http.StatusOK, map[string]string{"data": "Hello, " + p.Params["name"].(string) + "!"})
		if err != nil {
			return nil, err
		}
		resp.Headers = map[string]string{"X-Worker": "1"}
		return resp, nil
	})

	caller := NewNATSCaller(lb)
	p := &Payload{OperationID: "hello", Method: http.MethodGet, Params: map[string]any{"name": "Scott"}}
	resp, err := caller.Call(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, DefaultSubject, lb.subject)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, p.ID, resp.ID)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", resp.Headers["X-Worker"])
	assert.JSONEq(t, `{"data":"Hello, Scott!"}`, string(resp.Body))
	assert.True(t, resp.HasBody())
}

func TestCall_KeepsID(t *testing.T) {
	lb := newLoopback()
	lb.responder.Handle("ping", func(context.Context, *Payload) (*Response, error) {
		return NoContent(), nil
	})

	resp, err := NewNATSCaller(lb, WithSubject("custom.rpc")).Call(context.Background(), &Payload{ID: "fixed", OperationID: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "custom.rpc", lb.subject)
	assert.Equal(t, "fixed", resp.ID)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, resp.HasBody())
}

func TestCall_Errors(t *testing.T) {
	t.Run("transport error is returned as is", func(t *testing.T) {
		lb := newLoopback()
		lb.err = context.DeadlineExceeded
		_, err := NewNATSCaller(lb).Call(context.Background(), &Payload{OperationID: "x"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("malformed reply is a process error", func(t *testing.T) {
		lb := newLoopback()
		lb.raw = []byte("not json")
		_, err := NewNATSCaller(lb).Call(context.Background(), &Payload{OperationID: "x"})
		he, ok := errors.AsHTTP(err)
		require.True(t, ok)
		assert.Equal(t, errors.CodeProcessError, he.Code)
	})

	t.Run("reply for another id is a process error", func(t *testing.T) {
		lb := newLoopback()
		lb.raw = []byte(`{"id":"someone-else","statusCode":200}`)
		_, err := NewNATSCaller(lb).Call(context.Background(), &Payload{ID: "mine", OperationID: "x"})
		he, ok := errors.AsHTTP(err)
		require.True(t, ok)
		assert.Equal(t, errors.CodeProcessError, he.Code)
		assert.Equal(t, "response id mismatch", he.Message)
	})

	t.Run("reply without id takes the request id", func(t *testing.T) {
		lb := newLoopback()
		lb.raw = []byte(`{"statusCode":204}`)
		resp, err := NewNATSCaller(lb).Call(context.Background(), &Payload{ID: "mine", OperationID: "x"})
		require.NoError(t, err)
		assert.Equal(t, "mine", resp.ID)
	})
}

func TestCall_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	lb := newLoopback()
	lb.err = stderrors.New("down")

	_, err := NewNATSCaller(lb, WithCallerMetrics(registry), WithCallTimeout(time.Second)).
		Call(context.Background(), &Payload{OperationID: "hello"})
	require.Error(t, err)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["specgate_rpc_errors_total"])
}

func TestCaller_Close(t *testing.T) {
	lb := newLoopback()
	require.NoError(t, NewNATSCaller(lb).Close(context.Background()))
	assert.True(t, lb.closed)
}

func decodeResponse(t *testing.T, data []byte) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func TestResponder_Serve(t *testing.T) {
	responder := NewResponder(newLoopback(), "", nil)
	responder.Handle("fails", func(context.Context, *Payload) (*Response, error) {
		return nil, errors.BadRequest("missing name")
	})
	responder.Handle("crashes", func(context.Context, *Payload) (*Response, error) {
		panic("boom")
	})
	responder.Handle("empty", func(context.Context, *Payload) (*Response, error) {
		return nil, nil
	})
	assert.Equal(t, 3, responder.Operations())

	tests := []struct {
		name    string
		payload string
		status  int
		code    string
	}{
		{"unknown operation", `{"id":"1","operationId":"nope"}`, http.StatusNotFound, errors.CodeNotFound},
		{"handler error", `{"id":"2","operationId":"fails"}`, http.StatusBadRequest, errors.CodeBadRequest},
		{"handler panic", `{"id":"3","operationId":"crashes"}`, http.StatusInternalServerError, errors.CodeProcessError},
		{"nil response", `{"id":"4","operationId":"empty"}`, http.StatusInternalServerError, errors.CodeProcessError},
		{"malformed payload", `{`, http.StatusBadRequest, errors.CodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := responder.Serve(context.Background(), []byte(tt.payload))
			require.NoError(t, err)
			resp := decodeResponse(t, out)
			assert.Equal(t, tt.status, resp.StatusCode)

			var env errors.Envelope
			require.NoError(t, json.Unmarshal(resp.Body, &env))
			require.Len(t, env.Errors, 1)
			assert.Equal(t, tt.code, env.Errors[0].Code)
		})
	}
}

func TestResponder_StartStop(t *testing.T) {
	responder := NewResponder(newLoopback(), "", nil)
	require.NoError(t, responder.Start(context.Background()))
	assert.ErrorIs(t, responder.Start(context.Background()), errors.ErrAlreadyStarted)
}

func TestResponder_Queue(t *testing.T) {
	lb := newLoopback()
	responder := NewResponder(lb, "orders.rpc", nil)
	responder.SetQueue("orders")
	require.NoError(t, responder.Start(context.Background()))
	assert.Equal(t, "orders.rpc", lb.subject)
	assert.Equal(t, "orders", lb.queue)
}

func TestResponse_HasBody(t *testing.T) {
	assert.False(t, (&Response{}).HasBody())
	assert.False(t, (&Response{Body: json.RawMessage("null")}).HasBody())
	assert.True(t, (&Response{Body: json.RawMessage(`""`)}).HasBody())
	assert.True(t, (&Response{Body: json.RawMessage(`{}`)}).HasBody())
}

package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/specgate/errors"
)

// DefaultQueue is the queue group responders join
const DefaultQueue = "workers"

// Replier is the transport a Responder listens on. natsclient.Client
// implements it.
type Replier interface {
	Reply(ctx context.Context, subject, queue string, handler func(context.Context, []byte) ([]byte, error)) (*nats.Subscription, error)
}

// OperationFunc serves one operation on the worker side
type OperationFunc func(ctx context.Context, p *Payload) (*Response, error)

// Responder answers payloads sent by a NATSCaller, dispatching on the
// operation id. Unknown operations get a 404 envelope and handler errors the
// envelope of the error.
type Responder struct {
	transport Replier
	subject   string
	queue     string
	logger    *slog.Logger

	mu  sync.RWMutex
	ops map[string]OperationFunc
	sub *nats.Subscription
}

// NewResponder creates a responder on subject (DefaultSubject when empty)
func NewResponder(transport Replier, subject string, logger *slog.Logger) *Responder {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		transport: transport,
		subject:   subject,
		queue:     DefaultQueue,
		logger:    logger.With("component", "responder"),
		ops:       make(map[string]OperationFunc),
	}
}

// Handle registers fn for an operation id
func (r *Responder) Handle(operationID string, fn OperationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[operationID] = fn
}

// SetQueue changes the queue group joined by Start. An empty queue
// subscribes every responder to every request.
func (r *Responder) SetQueue(queue string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = queue
}

// Operations returns the number of registered operations
func (r *Responder) Operations() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}

// Start subscribes to the request subject
func (r *Responder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Responder", "Start", "subscribe")
	}
	sub, err := r.transport.Reply(ctx, r.subject, r.queue, r.Serve)
	if err != nil {
		return errors.WrapTransient(err, "Responder", "Start", "subscribe to "+r.subject)
	}
	r.sub = sub
	r.logger.Info("Responder listening", "subject", r.subject, "queue", r.queue, "operations", len(r.ops))
	return nil
}

// Stop unsubscribes; the transport stays open
func (r *Responder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub == nil {
		return nil
	}
	err := r.sub.Unsubscribe()
	r.sub = nil
	return err
}

// Serve decodes one request and encodes its response. It never fails: every
// problem is answered with an error envelope so the caller does not time out.
func (r *Responder) Serve(ctx context.Context, data []byte) ([]byte, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return json.Marshal(ErrorResponse(errors.BadRequest("Malformed payload")))
	}

	resp := r.dispatch(ctx, &p)
	resp.ID = p.ID
	return json.Marshal(resp)
}

func (r *Responder) dispatch(ctx context.Context, p *Payload) (resp *Response) {
	r.mu.RLock()
	fn, ok := r.ops[p.OperationID]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("Unknown operation", "operation", p.OperationID, "id", p.ID)
		return ErrorResponse(errors.NotFound())
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Operation panicked", "operation", p.OperationID, "id", p.ID, "panic", rec)
			resp = ErrorResponse(errors.Process("operation failed"))
		}
	}()

	out, err := fn(ctx, p)
	switch {
	case err != nil:
		r.logger.Error("Operation failed", "operation", p.OperationID, "id", p.ID, "error", err)
		return ErrorResponse(err)
	case out == nil:
		return ErrorResponse(errors.Process("no response"))
	}
	return out
}

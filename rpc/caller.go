package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/metric"
)

// DefaultSubject is the request subject used when none is configured
const DefaultSubject = "specgate.rpc"

// Requester is the request/reply transport used by NATSCaller.
// natsclient.Client implements it.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// CallerOption configures a NATSCaller
type CallerOption func(*NATSCaller)

// WithSubject sets the request subject
func WithSubject(subject string) CallerOption {
	return func(c *NATSCaller) {
		if subject != "" {
			c.subject = subject
		}
	}
}

// WithCallTimeout bounds every call that has no earlier deadline
func WithCallTimeout(d time.Duration) CallerOption {
	return func(c *NATSCaller) {
		c.timeout = d
	}
}

// WithCallerLogger sets the logger
func WithCallerLogger(logger *slog.Logger) CallerOption {
	return func(c *NATSCaller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCallerMetrics records call latency and failures per operation
func WithCallerMetrics(registry *metric.MetricsRegistry) CallerOption {
	return func(c *NATSCaller) {
		if registry != nil {
			c.metrics = registry.CoreMetrics()
		}
	}
}

// NATSCaller sends payloads as JSON requests on a single subject. Workers
// dispatch on the payload's operation id.
type NATSCaller struct {
	transport Requester
	subject   string
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metric.Metrics
}

// NewNATSCaller creates a caller over transport
func NewNATSCaller(transport Requester, opts ...CallerOption) *NATSCaller {
	c := &NATSCaller{
		transport: transport,
		subject:   DefaultSubject,
		timeout:   10 * time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subject returns the request subject
func (c *NATSCaller) Subject() string {
	return c.subject
}

// Call assigns the payload a correlation id when it has none, sends it and
// decodes the reply. A reply that is not a Response, or that answers another
// id, is a PROCESS_ERROR.
func (c *NATSCaller) Call(ctx context.Context, p *Payload) (*Response, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	start := time.Now()
	resp, err := c.call(ctx, p)
	if c.metrics != nil {
		class := ""
		if err != nil {
			class = errors.Classify(err).String()
		}
		c.metrics.RecordRPC(p.OperationID, class, time.Since(start))
	}
	return resp, err
}

func (c *NATSCaller) call(ctx context.Context, p *Payload) (*Response, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.WrapInvalid(err, "NATSCaller", "Call", "encode payload")
	}

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.logger.Debug("Calling backend", "id", p.ID, "operation", p.OperationID, "subject", c.subject)
	reply, err := c.transport.Request(ctx, c.subject, data)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, errors.Process("malformed response: " + err.Error())
	}
	if resp.ID == "" {
		resp.ID = p.ID
	} else if resp.ID != p.ID {
		return nil, errors.Process("response id mismatch")
	}
	return &resp, nil
}

// Close closes the transport when it supports closing
func (c *NATSCaller) Close(ctx context.Context) error {
	if closer, ok := c.transport.(interface{ Close(context.Context) error }); ok {
		return closer.Close(ctx)
	}
	return nil
}

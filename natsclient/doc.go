// Package natsclient wraps a NATS connection with a circuit breaker, status
// tracking and the request/reply primitives the gateway uses to reach its
// backend workers.
//
// # Connection lifecycle
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("specgate"),
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// Status moves through disconnected, connecting, connected and reconnecting.
// Consecutive connection failures beyond the threshold (default 5) open the
// circuit: Connect fails fast with ErrCircuitOpen until the backoff elapses.
// The backoff doubles on each open round and is capped at one minute.
//
// # Request/reply
//
// Request publishes a payload and waits for one reply, bounded by the
// context deadline or by the client timeout. Reply serves a subject, in a
// queue group when one is given, and answers every message with the bytes
// the handler returns:
//
//	_, err := worker.Reply(ctx, "specgate.rpc", "workers", func(ctx context.Context, req []byte) ([]byte, error) {
//	    return handle(ctx, req)
//	})
//
// Subscribe and Reply return the subscription so a one-shot listener can be
// removed after its first message. Close unsubscribes whatever is left,
// drains the connection and clears credentials from memory; it is safe to
// call more than once.
//
// # Testing
//
// NewTestClient starts a NATS container through testcontainers-go and
// returns a connected client. Integration tests skip under -short.
package natsclient

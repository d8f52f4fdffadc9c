package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

const shutdownMessage = "shutdown"

// control listens for process messages on the control subject. The first
// "shutdown" message is delivered on Done and the subscription is dropped.
type control struct {
	logger *slog.Logger
	done   chan string

	mu          sync.Mutex
	fired       bool
	unsubscribe func() error
}

func newControl(logger *slog.Logger) *control {
	return &control{logger: logger, done: make(chan string, 1)}
}

// attach registers the function removing the subscription
func (c *control) attach(unsubscribe func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fired {
		c.drop(unsubscribe)
		return
	}
	c.unsubscribe = unsubscribe
}

func (c *control) handle(_ context.Context, data []byte) {
	msg := strings.TrimSpace(string(data))
	if msg != shutdownMessage {
		c.logger.Warn("unexpected process msg", "msg", msg)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fired {
		return
	}
	c.fired = true
	c.drop(c.unsubscribe)
	c.done <- msg
}

func (c *control) drop(unsubscribe func() error) {
	if unsubscribe == nil {
		return
	}
	if err := unsubscribe(); err != nil {
		c.logger.Warn("Failed to remove control subscription", "error", err)
	}
}

// Done delivers the shutdown message once
func (c *control) Done() <-chan string {
	return c.done
}

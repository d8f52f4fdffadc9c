package logging

import (
	"context"
	"sync"
)

// Completion tracks the sinks that still have to persist one record
type Completion struct {
	id   uint64
	done chan struct{}

	mu            sync.Mutex
	remaining     int
	notifications []Notification
}

func newCompletion(id uint64, eligible int) *Completion {
	c := &Completion{id: id, done: make(chan struct{}), remaining: eligible}
	if eligible == 0 {
		close(c.done)
	}
	return c
}

// add records n and reports whether it was the last one expected
func (c *Completion) add(n Notification) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.remaining == 0 {
		return false
	}
	c.notifications = append(c.notifications, n)
	c.remaining--
	if c.remaining == 0 {
		close(c.done)
		return true
	}
	return false
}

// RecordID returns the id of the tracked record
func (c *Completion) RecordID() uint64 {
	return c.id
}

// Done is closed once every eligible sink persisted the record
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the completion is done or ctx ends
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notifications returns the sink notifications received so far
func (c *Completion) Notifications() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.notifications))
	copy(out, c.notifications)
	return out
}

// Err returns the first sink write error, if any
func (c *Completion) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.notifications {
		if n.Err != nil {
			return n.Err
		}
	}
	return nil
}

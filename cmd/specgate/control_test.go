package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestControl_ShutdownOnce(t *testing.T) {
	ctl := newControl(slog.New(slog.NewTextHandler(io.Discard, nil)))
	removed := 0
	ctl.attach(func() error { removed++; return nil })

	ctl.handle(context.Background(), []byte("reload"))
	select {
	case <-ctl.Done():
		t.Fatal("only shutdown stops the process")
	default:
	}

	ctl.handle(context.Background(), []byte("shutdown\n"))
	ctl.handle(context.Background(), []byte("shutdown"))

	assert.Equal(t, "shutdown", <-ctl.Done())
	assert.Equal(t, 1, removed)
	select {
	case <-ctl.Done():
		t.Fatal("shutdown is delivered once")
	default:
	}
}

func TestControl_AttachAfterShutdown(t *testing.T) {
	ctl := newControl(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctl.handle(context.Background(), []byte("shutdown"))

	removed := 0
	ctl.attach(func() error { removed++; return nil })
	assert.Equal(t, 1, removed)
	assert.Equal(t, "shutdown", <-ctl.Done())
}

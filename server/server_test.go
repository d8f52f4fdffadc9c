package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/pkg/security"
	"github.com/c360/specgate/pkg/tlsutil/tlstest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, s *Server, opts Options) *Handle {
	t.Helper()
	h, err := s.Start(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return h
}

func TestServer_DeferredMountsRunInOrder(t *testing.T) {
	var calls []string
	s := New(quietLogger())
	child := NewPipeline()
	s.Mount("/api", child.Middleware())

	require.NoError(t, s.DeferMount(trace(&calls, "deferred-1"), nil))
	require.NoError(t, s.DeferMount(trace(&calls, "child-deferred"), child))
	require.NoError(t, s.DeferMount(trace(&calls, "deferred-2"), nil))
	s.Use(trace(&calls, "direct"))
	assert.Equal(t, 3, s.Pending())

	h := startServer(t, s, Options{Host: "127.0.0.1"})
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, StateListening, s.State())

	resp, err := http.Get(h.URL() + "/api/x")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, []string{"child-deferred:/x", "direct:/api/x", "deferred-1:/api/x", "deferred-2:/api/x"}, calls)
}

func TestServer_DeferAfterStart(t *testing.T) {
	s := New(quietLogger())
	startServer(t, s, Options{Host: "127.0.0.1"})

	err := s.DeferMount(trace(new([]string), "late"), nil)
	assert.ErrorIs(t, err, ErrNotConfiguring)
	err = s.DeferErrorMount(func(http.ResponseWriter, *http.Request, error) error { return nil }, nil)
	assert.ErrorIs(t, err, ErrNotConfiguring)

	_, err = s.Start(context.Background(), Options{Host: "127.0.0.1"})
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
}

func TestServer_DeferredErrorHandler(t *testing.T) {
	s := New(quietLogger())
	s.Mount("/boom", fails(errors.BadRequest("bad input")))
	require.NoError(t, s.DeferErrorMount(func(w http.ResponseWriter, _ *http.Request, err error) error {
		w.Header().Set("X-Handled", "yes")
		WriteError(w, err)
		return nil
	}, nil))
	h := startServer(t, s, Options{Host: "127.0.0.1"})

	resp, err := http.Get(h.URL() + "/boom")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Handled"))
}

func TestServer_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	s := New(quietLogger())
	_, err = s.Start(context.Background(), Options{Host: "127.0.0.1", Port: port})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, StateStopped, s.State())
	assert.True(t, IsNotRunning(s.Close(context.Background())))
}

func TestServer_BadCertificate(t *testing.T) {
	s := New(quietLogger())
	_, err := s.Start(context.Background(), Options{
		Host:   "127.0.0.1",
		Secure: security.ServerTLSConfig{Enabled: true, CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, StateStopped, s.State())
}

func TestServer_CloseTwice(t *testing.T) {
	s := New(quietLogger())
	_, err := s.Start(context.Background(), Options{Host: "127.0.0.1"})
	require.NoError(t, err)

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, StateStopped, s.State())

	err = s.Close(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotRunning(err))
}

func TestServer_CloseBeforeStart(t *testing.T) {
	s := New(quietLogger())
	assert.True(t, IsNotRunning(s.Close(context.Background())))
}

func TestServer_TLS(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := tlstest.SelfSigned(t, "localhost")
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0600))

	s := New(quietLogger())
	s.Use(Terminal(HandlerFunc(func(w http.ResponseWriter, _ *http.Request) error {
		w.WriteHeader(http.StatusNoContent)
		return nil
	})))
	h := startServer(t, s, Options{
		Host:   "127.0.0.1",
		Secure: security.ServerTLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile},
	})
	require.True(t, h.Secure)
	assert.Equal(t, "https://127.0.0.1:"+strconv.Itoa(h.Port), h.URL())

	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(certPEM))
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}}

	resp, err := client.Get(h.URL() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestServer_ServeHTTPNotFound(t *testing.T) {
	s := New(quietLogger())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nothing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec.Body.String())
	assert.Equal(t, errors.CodeNotFound, env.Errors[0].Code)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "configuring", StateConfiguring.String())
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(42).String())
}

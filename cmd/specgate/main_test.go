package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/specgate/config"
	"github.com/c360/specgate/health"
	"github.com/c360/specgate/server"
)

func TestVersionHandler(t *testing.T) {
	cfg := config.Defaults()
	cfg.Version = "1.4.0"

	srv := server.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv.Mount("/version", server.Terminal(versionHandler(cfg)))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"specgate","version":"1.4.0","build":"`+Version+`"}`, rec.Body.String())
}

func TestLoadConfig(t *testing.T) {
	dir, err := os.MkdirTemp(".", "cfg")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, "specgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 2.0.0\nhttp:\n  port: 9000\n"), 0600))

	cfg, err := loadConfig([]string{path})
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", cfg.Version)
	assert.Equal(t, 9000, cfg.HTTP.Port)

	require.NoError(t, os.WriteFile(path, []byte("version: two\n"), 0600))
	_, err = loadConfig([]string{path})
	assert.Error(t, err)
}

func TestGateway_StopBeforeStart(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := &gateway{cfg: config.Defaults(), logger: logger, control: newControl(logger), health: health.NewMonitor("specgate")}
	assert.NoError(t, g.stop(context.Background(), "shutdown"))
}

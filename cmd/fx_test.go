package cmd

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/webitel/im-realtime-bench/config"
	httpsrv "github.com/webitel/im-realtime-bench/infra/server/http"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Generator.Enabled = false
	cfg.LogLevel.Set(slog.LevelError)
	return cfg
}

func TestOptions_Validate(t *testing.T) {
	require.NoError(t, fx.ValidateApp(Options(testConfig(t))))
}

func TestOptions_ValidateSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = filepath.Join(t.TempDir(), "app.db")
	require.NoError(t, fx.ValidateApp(Options(cfg)))
}

func TestApp_StartServeStop(t *testing.T) {
	var srv *httpsrv.Server
	app := fxtest.New(t, Options(testConfig(t)), fx.Populate(&srv))
	app.RequireStart()
	defer app.RequireStop()

	resp, err := http.Get("http://" + srv.Addr() + "/api/dashboard/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "UP", health.Status)
}

package bridge

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mover/internal/backend"
	"mover/internal/config"
	"mover/internal/launch"
	"mover/internal/model"
	"mover/internal/ollamatest"
)

func TestMain(m *testing.M) {
	ollamatest.RunHelperIfRequested()
	os.Exit(m.Run())
}

// codexDir returns a directory holding a file named codex so the resolver
// picks it; the helper commander runs the test binary in its place.
func codexDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "codex"), []byte("#!/bin/sh\n"), 0o755))
	return dir
}

func testOptions(t *testing.T, srvURL string, hc *ollamatest.HelperCommander) Options {
	t.Helper()
	host, port := ollamatest.HostPort(t, srvURL)
	cfg := config.Default()
	cfg.Host = host
	cfg.Port = port
	cfg.CodexBin = codexDir(t)
	cfg.ReadinessTimeout = config.Duration(10 * time.Second)
	return Options{
		Config:       cfg,
		RunID:        "test-run",
		Commander:    hc,
		PollInterval: 50 * time.Millisecond,
		Stdout:       io.Discard,
		Stderr:       io.Discard,
	}
}

func TestEndToEndSpawnWarmLaunch(t *testing.T) {
	b, srv := ollamatest.Start(t,
		ollamatest.WithTagsFailures(3, http.StatusServiceUnavailable),
		ollamatest.WithGenerateResponse(http.StatusOK, `{"response":"pong"}`),
	)
	rec := filepath.Join(t.TempDir(), "codex.json")
	hc := &ollamatest.HelperCommander{
		Roles: map[string]string{"ollama": ollamatest.RoleOllamaStub},
		Env:   []string{ollamatest.ToolRecordEnv + "=" + rec},
	}
	t.Cleanup(hc.KillAll)
	pub := backend.NewMemoryPublisher()

	opts := testOptions(t, srv.URL, hc)
	opts.Config.SkipPull = true
	opts.Publisher = pub
	opts.Args = []string{"exec", "--full-auto", "fix the tests"}

	res, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.True(t, res.StartedHere)
	assert.Equal(t, model.Skipped, res.Pull)
	assert.True(t, res.Warmed)
	assert.True(t, res.Launched)
	assert.True(t, res.Status.Success())
	assert.Equal(t, filepath.Join(opts.Config.CodexBin, "codex"), res.ToolPath)
	assert.Equal(t, 4, b.TagsCalls(), "three failed probes then one success")
	assert.Len(t, b.GenerateRequests(), 1)
	assert.Empty(t, b.Pulls())

	calls := hc.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"serve"}, calls[0].Args)
	assert.Equal(t, opts.Args, calls[1].Args)

	got := ollamatest.ReadRecord(t, rec)
	wantBase := "http://127.0.0.1:" + strconv.Itoa(int(opts.Config.Port)) + "/v1"
	assert.Equal(t, wantBase, got.Env["OPENAI_API_BASE"])
	assert.Equal(t, "ollama", got.Env["OPENAI_API_KEY"])
	assert.Equal(t, "test-run", got.Env["MOVER_RUN_ID"])

	assert.NotNil(t, hc.Cmds()[0].ProcessState, "owned backend must be reaped")
	assert.Equal(t, 1, pub.Count(backend.EventSpawnStop))
}

func TestServeOnlyLeavesBackendRunning(t *testing.T) {
	b, srv := ollamatest.Start(t, ollamatest.WithTagsFailures(1, http.StatusBadGateway))
	hc := &ollamatest.HelperCommander{Roles: map[string]string{"ollama": ollamatest.RoleOllamaStub}}
	t.Cleanup(hc.KillAll)

	opts := testOptions(t, srv.URL, hc)
	opts.Config.ServeOnly = true
	opts.Config.CodexBin = ""

	res, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.False(t, res.Launched)
	assert.Empty(t, res.ToolPath)
	assert.True(t, res.Warmed)
	require.NotNil(t, res.Backend)
	_, exited := res.Backend.Exited()
	assert.False(t, exited, "detached backend must keep running")
	assert.True(t, res.BackendAlive)

	calls := hc.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"serve"}, calls[0].Args)
	assert.Equal(t, []string{"pull", opts.Config.Model}, calls[1].Args)
	assert.Equal(t, []string{opts.Config.Model}, b.Pulls())

	require.NoError(t, res.Backend.Terminate(2*time.Second))
}

func TestAdoptedBackendIsNeverStopped(t *testing.T) {
	_, srv := ollamatest.Start(t)
	hc := &ollamatest.HelperCommander{Env: []string{ollamatest.ToolExitEnv + "=3"}}
	pub := backend.NewMemoryPublisher()

	opts := testOptions(t, srv.URL, hc)
	opts.Config.PullPolicy = config.PullNever
	opts.Config.NoWarmup = true
	opts.Publisher = pub

	res, err := Run(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, launch.IsDownstream(err))
	assert.Equal(t, 3, res.Status.Code)
	assert.False(t, res.StartedHere)
	assert.False(t, res.Warmed)
	assert.Equal(t, 1, pub.Count(backend.EventAdopt))
	assert.Zero(t, pub.Count(backend.EventSpawnStart))
	assert.Zero(t, pub.Count(backend.EventSpawnStop))
	require.Len(t, hc.Calls(), 1)
}

func TestWarmupFailureStopsBackend(t *testing.T) {
	_, srv := ollamatest.Start(t,
		ollamatest.WithTagsFailures(1, http.StatusServiceUnavailable),
		ollamatest.WithGenerateResponse(http.StatusOK, `{"error":"model not found"}`),
	)
	hc := &ollamatest.HelperCommander{Roles: map[string]string{"ollama": ollamatest.RoleOllamaStub}}
	t.Cleanup(hc.KillAll)

	opts := testOptions(t, srv.URL, hc)
	opts.Config.SkipPull = true

	res, err := Run(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, model.IsWarmup(err))
	assert.False(t, res.Launched)
	require.Len(t, hc.Calls(), 1, "nothing is launched after a failed warm-up")
	assert.NotNil(t, hc.Cmds()[0].ProcessState, "owned backend must be reaped on failure")
}

func TestResolveFailureStopsBackend(t *testing.T) {
	_, srv := ollamatest.Start(t, ollamatest.WithTagsFailures(1, http.StatusServiceUnavailable))
	hc := &ollamatest.HelperCommander{Roles: map[string]string{"ollama": ollamatest.RoleOllamaStub}}
	t.Cleanup(hc.KillAll)

	opts := testOptions(t, srv.URL, hc)
	opts.Config.SkipPull = true
	opts.Config.NoWarmup = true
	opts.Config.CodexBin = t.TempDir()

	_, err := Run(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "codex.exe")
	assert.NotNil(t, hc.Cmds()[0].ProcessState)
}

func TestMetricsFileWritten(t *testing.T) {
	_, srv := ollamatest.Start(t)
	hc := &ollamatest.HelperCommander{}
	opts := testOptions(t, srv.URL, hc)
	opts.Config.SkipPull = true
	opts.Config.MetricsFile = filepath.Join(t.TempDir(), "mover.prom")

	_, err := Run(context.Background(), opts)
	require.NoError(t, err)

	b, err := os.ReadFile(opts.Config.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), `mover_backend_events_total{event="adopt"} 1`)
	assert.Contains(t, string(b), `mover_model_warmups_total{result="ok"} 1`)
	assert.Contains(t, string(b), `mover_downstream_exit_code 0`)
}

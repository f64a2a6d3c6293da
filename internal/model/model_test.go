package model

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"mover/internal/ollamatest"
	"mover/internal/probe"
	"mover/pkg/types"
)

func TestMain(m *testing.M) {
	ollamatest.RunHelperIfRequested()
	os.Exit(m.Run())
}

func TestWarmSendsDeterministicRequest(t *testing.T) {
	b, srv := ollamatest.Start(t)
	if err := Warm(context.Background(), WarmConfig{BaseURL: srv.URL, Model: "llama3.2:3b", Prompt: "ping"}); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	reqs := b.GenerateRequests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 generate request, got %d", len(reqs))
	}
	got := reqs[0]
	want := types.GenerateRequest{
		Model:   "llama3.2:3b",
		Prompt:  "ping",
		Stream:  false,
		Options: types.GenerateOptions{Temperature: 0, NumPredict: 16},
	}
	if got != want {
		t.Fatalf("request = %+v, want %+v", got, want)
	}
}

func TestWarmDefaultPrompt(t *testing.T) {
	b, srv := ollamatest.Start(t)
	if err := Warm(context.Background(), WarmConfig{BaseURL: srv.URL, Model: "m"}); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if p := b.GenerateRequests()[0].Prompt; p != DefaultWarmPrompt {
		t.Fatalf("prompt = %q", p)
	}
}

func TestWarmOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr bool
		check   func(t *testing.T, we *WarmupError)
	}{
		{name: "ok", status: http.StatusOK, body: `{"response":"hello","done":true}`},
		{name: "embedded error", status: http.StatusOK, body: `{"error":"model not found"}`, wantErr: true,
			check: func(t *testing.T, we *WarmupError) {
				if we.Message != "model not found" {
					t.Fatalf("message = %q", we.Message)
				}
			}},
		{name: "503 with success body", status: http.StatusServiceUnavailable, body: `{"response":"ok"}`, wantErr: true,
			check: func(t *testing.T, we *WarmupError) {
				if we.Status != http.StatusServiceUnavailable || we.Body != `{"response":"ok"}` {
					t.Fatalf("status/body = %d %q", we.Status, we.Body)
				}
			}},
		{name: "404", status: http.StatusNotFound, body: `not found`, wantErr: true},
		{name: "not json", status: http.StatusOK, body: `<html>proxy</html>`, wantErr: true,
			check: func(t *testing.T, we *WarmupError) {
				if we.Err == nil {
					t.Fatalf("expected decode error")
				}
			}},
		{name: "null error field", status: http.StatusOK, body: `{"response":"x","error":null}`, wantErr: true,
			check: func(t *testing.T, we *WarmupError) {
				if we.Message != "null" {
					t.Fatalf("message = %q", we.Message)
				}
			}},
		{name: "array reply", status: http.StatusOK, body: `[]`},
		{name: "unexpected field type", status: http.StatusOK, body: `{"response":5}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, srv := ollamatest.Start(t, ollamatest.WithGenerateResponse(tc.status, tc.body))
			err := Warm(context.Background(), WarmConfig{BaseURL: srv.URL, Model: "m"})
			if !tc.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !IsWarmup(err) {
				t.Fatalf("expected WarmupError, got %v", err)
			}
			if tc.check != nil {
				var we *WarmupError
				_ = errors.As(err, &we)
				tc.check(t, we)
			}
		})
	}
}

func TestWarmUnreachable(t *testing.T) {
	port := ollamatest.FreePort(t)
	c := probe.New(probe.BaseURL("127.0.0.1", port), probe.DefaultConnectTimeout, probe.DefaultReadTimeout)
	err := Warm(context.Background(), WarmConfig{Model: "m", Client: c})
	var we *WarmupError
	if !errors.As(err, &we) || we.Err == nil {
		t.Fatalf("expected transport WarmupError, got %v", err)
	}
}

func TestParsePullPolicy(t *testing.T) {
	for in, want := range map[string]PullPolicy{"": PullAlways, "Always": PullAlways, "missing": PullMissing, " never ": PullNever} {
		got, err := ParsePullPolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParsePullPolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePullPolicy("weekly"); err == nil {
		t.Fatalf("expected error")
	}
}

func pullConfig(t *testing.T, srvURL string, hc *ollamatest.HelperCommander, policy PullPolicy) PullConfig {
	host, port := ollamatest.HostPort(t, srvURL)
	return PullConfig{
		Bin:       "ollama",
		Model:     "llama3.2:3b",
		Host:      host,
		Port:      port,
		Policy:    policy,
		Commander: hc,
		Stdout:    io.Discard,
		Stderr:    io.Discard,
	}
}

func TestPullRunsCommand(t *testing.T) {
	b, srv := ollamatest.Start(t)
	hc := &ollamatest.HelperCommander{}
	res, err := Pull(context.Background(), pullConfig(t, srv.URL, hc, PullAlways))
	if err != nil || res != Pulled {
		t.Fatalf("Pull = %v, %v", res, err)
	}
	calls := hc.Calls()
	if len(calls) != 1 || calls[0].Name != "ollama" || len(calls[0].Args) != 2 || calls[0].Args[0] != "pull" || calls[0].Args[1] != "llama3.2:3b" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	if p := b.Pulls(); len(p) != 1 || p[0] != "llama3.2:3b" {
		t.Fatalf("backend saw pulls %v", p)
	}
}

func TestPullFailureCarriesStatus(t *testing.T) {
	_, srv := ollamatest.Start(t)
	hc := &ollamatest.HelperCommander{Env: []string{ollamatest.PullExitEnv + "=4"}}
	_, err := Pull(context.Background(), pullConfig(t, srv.URL, hc, PullAlways))
	var pe *PullError
	if !errors.As(err, &pe) || pe.Status.Code != 4 {
		t.Fatalf("expected PullError with code 4, got %v", err)
	}
}

func TestPullStartFailure(t *testing.T) {
	_, srv := ollamatest.Start(t)
	cfg := pullConfig(t, srv.URL, nil, PullAlways)
	cfg.Commander = nil
	cfg.Bin = filepath.Join(t.TempDir(), "no-such-ollama")
	_, err := Pull(context.Background(), cfg)
	var pe *PullError
	if !errors.As(err, &pe) || pe.Err == nil {
		t.Fatalf("expected start failure, got %v", err)
	}
}

func TestPullPolicyNeverSkips(t *testing.T) {
	_, srv := ollamatest.Start(t)
	hc := &ollamatest.HelperCommander{}
	res, err := Pull(context.Background(), pullConfig(t, srv.URL, hc, PullNever))
	if err != nil || res != Skipped || len(hc.Calls()) != 0 {
		t.Fatalf("Pull = %v, %v, calls=%d", res, err, len(hc.Calls()))
	}
}

func TestPullPolicyMissing(t *testing.T) {
	_, srv := ollamatest.Start(t, ollamatest.WithModels("llama3.2:3b", "phi3:latest"))
	hc := &ollamatest.HelperCommander{}

	cfg := pullConfig(t, srv.URL, hc, PullMissing)
	res, err := Pull(context.Background(), cfg)
	if err != nil || res != Present || len(hc.Calls()) != 0 {
		t.Fatalf("present model: %v, %v, calls=%d", res, err, len(hc.Calls()))
	}

	cfg.Model = "phi3"
	if res, err := Pull(context.Background(), cfg); err != nil || res != Present {
		t.Fatalf("untagged name should match :latest: %v, %v", res, err)
	}

	cfg.Model = "mistral"
	if res, err := Pull(context.Background(), cfg); err != nil || res != Pulled || len(hc.Calls()) != 1 {
		t.Fatalf("missing model: %v, %v, calls=%d", res, err, len(hc.Calls()))
	}
}

func TestPullMissingFallsBackWhenInventoryFails(t *testing.T) {
	_, srv := ollamatest.Start(t, ollamatest.WithModels("llama3.2:3b"), ollamatest.WithTagsFailures(1, http.StatusInternalServerError))
	hc := &ollamatest.HelperCommander{}
	res, err := Pull(context.Background(), pullConfig(t, srv.URL, hc, PullMissing))
	if err != nil || res != Pulled || len(hc.Calls()) != 1 {
		t.Fatalf("Pull = %v, %v, calls=%d", res, err, len(hc.Calls()))
	}
}

func TestHas(t *testing.T) {
	models := []types.LocalModel{{Name: "llama3.2:3b"}, {Name: "qwen:latest"}, {Model: "registry.local:5000/team/coder:q4"}}
	for name, want := range map[string]bool{
		"llama3.2:3b":                       true,
		"llama3.2":                          false,
		"qwen":                              true,
		"registry.local:5000/team/coder:q4": true,
		"registry.local:5000/team/coder":    false,
	} {
		if got := Has(models, name); got != want {
			t.Fatalf("Has(%q) = %v, want %v", name, got, want)
		}
	}
}

package ollamatest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"mover/pkg/types"
)

// Environment knobs read by helper processes.
const (
	HelperRoleEnv  = "MOVER_TEST_HELPER"
	ServeExitEnv   = "MOVER_HELPER_SERVE_EXIT"  // serve exits with this code instead of listening
	ServeDelayEnv  = "MOVER_HELPER_SERVE_DELAY" // delay before listening or exiting
	ServeModelsEnv = "MOVER_HELPER_SERVE_MODELS"
	PullExitEnv    = "MOVER_HELPER_PULL_EXIT"
	ToolExitEnv    = "MOVER_HELPER_TOOL_EXIT"
	ToolRecordEnv  = "MOVER_HELPER_TOOL_RECORD"
	RoleSleep      = "sleep"
	RoleExit       = "exit"
	RoleOllama     = "ollama"
	RoleOllamaStub = "ollama-stub" // pull works, serve only waits for SIGTERM
)

// RunHelperIfRequested turns the test binary into a helper process when it
// was started by HelperCommander. Call it first thing in TestMain.
func RunHelperIfRequested() {
	role := os.Getenv(HelperRoleEnv)
	if role == "" {
		return
	}
	os.Exit(runHelper(role, os.Args[1:]))
}

func runHelper(role string, args []string) int {
	switch role {
	case RoleSleep:
		time.Sleep(10 * time.Minute)
		return 0
	case RoleExit:
		if len(args) == 0 {
			return 0
		}
		code, _ := strconv.Atoi(args[0])
		return code
	case RoleOllama:
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "ollama helper: missing subcommand")
			return 2
		}
		switch args[0] {
		case "serve":
			return helperServe()
		case "pull":
			return helperPull(args[1:])
		}
		fmt.Fprintf(os.Stderr, "ollama helper: unknown subcommand %q\n", args[0])
		return 2
	case RoleOllamaStub:
		if len(args) > 0 && args[0] == "pull" {
			return helperPull(args[1:])
		}
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, os.Interrupt)
		select {
		case <-sigCh:
		case <-time.After(10 * time.Minute):
		}
		return 0
	default:
		return helperTool(role, args)
	}
}

func helperServe() int {
	if d, err := time.ParseDuration(os.Getenv(ServeDelayEnv)); err == nil {
		time.Sleep(d)
	}
	if v := os.Getenv(ServeExitEnv); v != "" {
		code, _ := strconv.Atoi(v)
		return code
	}
	addr := net.JoinHostPort(os.Getenv("OLLAMA_HOST"), os.Getenv("OLLAMA_PORT"))
	var models []string
	if v := os.Getenv(ServeModelsEnv); v != "" {
		models = strings.Split(v, ",")
	}
	srv := &http.Server{Addr: addr, Handler: NewBackend(WithModels(models...)).Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, os.Interrupt)
	select {
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "ollama helper: %v\n", err)
		return 1
	case <-sigCh:
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	return 0
}

func helperPull(args []string) int {
	if v := os.Getenv(PullExitEnv); v != "" {
		code, _ := strconv.Atoi(v)
		if code != 0 {
			return code
		}
	}
	if len(args) == 0 {
		return 2
	}
	addr := net.JoinHostPort(os.Getenv("OLLAMA_HOST"), os.Getenv("OLLAMA_PORT"))
	body, _ := json.Marshal(types.PullRequest{Model: args[0]})
	resp, err := http.Post("http://"+addr+types.PullPath, "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "pull: %v\n", err)
		return 1
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 1
	}
	return 0
}

// Record is what a downstream tool helper observed at startup.
type Record struct {
	Role string            `json:"role"`
	Args []string          `json:"args"`
	Env  map[string]string `json:"env"`
}

// recordedEnv lists the variables a tool helper copies into its Record.
var recordedEnv = []string{
	"OPENAI_API_BASE", "OPENAI_BASE_URL", "OPENAI_API_KEY",
	"OLLAMA_HOST", "OLLAMA_PORT", "MOVER_RUN_ID",
}

func helperTool(role string, args []string) int {
	if path := os.Getenv(ToolRecordEnv); path != "" {
		rec := Record{Role: role, Args: args, Env: map[string]string{}}
		for _, k := range recordedEnv {
			if v, ok := os.LookupEnv(k); ok {
				rec.Env[k] = v
			}
		}
		b, _ := json.Marshal(rec)
		if err := os.WriteFile(path, b, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "record: %v\n", err)
			return 1
		}
	}
	code, _ := strconv.Atoi(os.Getenv(ToolExitEnv))
	return code
}

// ReadRecord loads the Record written by a tool helper.
func ReadRecord(t testing.TB, path string) Record {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return rec
}

// Call is one command built by HelperCommander.
type Call struct {
	Name string
	Args []string
	Role string
}

// HelperCommander re-executes the test binary as a helper process. The role
// is the command's base name without extension unless Roles overrides it.
type HelperCommander struct {
	Roles map[string]string
	Env   []string

	mu    sync.Mutex
	calls []Call
	cmds  []*exec.Cmd
}

func (h *HelperCommander) Command(name string, args ...string) *exec.Cmd {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	role := base
	if r, ok := h.Roles[base]; ok {
		role = r
	}
	cmd := exec.Command(os.Args[0], args...)
	env := append(os.Environ(), h.Env...)
	cmd.Env = append(env, HelperRoleEnv+"="+role)

	h.mu.Lock()
	h.calls = append(h.calls, Call{Name: name, Args: append([]string(nil), args...), Role: role})
	h.cmds = append(h.cmds, cmd)
	h.mu.Unlock()
	return cmd
}

// Calls returns every command built so far.
func (h *HelperCommander) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Call(nil), h.calls...)
}

// Cmds returns the built commands in order.
func (h *HelperCommander) Cmds() []*exec.Cmd {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*exec.Cmd(nil), h.cmds...)
}

// KillAll kills any helper still running. Tests register it with t.Cleanup
// when a process is intentionally left behind.
func (h *HelperCommander) KillAll() {
	for _, c := range h.Cmds() {
		if c.Process != nil {
			_ = c.Process.Kill()
		}
	}
}

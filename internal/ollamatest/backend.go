// Package ollamatest provides a scripted Ollama-compatible backend and a
// helper-process commander for tests that spawn the backend or the
// downstream tool.
package ollamatest

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"mover/pkg/types"
)

// Backend is an in-memory backend whose responses can be scripted.
type Backend struct {
	mu             sync.Mutex
	models         []string
	tagsFailures   int
	tagsFailStatus int
	tagsCalls      int
	generateStatus int
	generateBody   string
	generated      []types.GenerateRequest
	pulled         []string
}

// Option configures a Backend.
type Option func(*Backend)

// WithModels sets the inventory reported by /api/tags.
func WithModels(names ...string) Option {
	return func(b *Backend) { b.models = append([]string(nil), names...) }
}

// WithTagsFailures makes the first n /api/tags requests answer with status.
func WithTagsFailures(n, status int) Option {
	return func(b *Backend) {
		b.tagsFailures = n
		b.tagsFailStatus = status
	}
}

// WithGenerateResponse scripts the /api/generate reply.
func WithGenerateResponse(status int, body string) Option {
	return func(b *Backend) {
		b.generateStatus = status
		b.generateBody = body
	}
}

// NewBackend returns a backend that answers every request successfully
// unless configured otherwise.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		generateStatus: http.StatusOK,
		generateBody:   `{"model":"test","response":"pong","done":true}`,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Handler routes the backend's control endpoints.
func (b *Backend) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get(types.TagsPath, b.handleTags)
	r.Post(types.GeneratePath, b.handleGenerate)
	r.Post(types.PullPath, b.handlePull)
	return r
}

func (b *Backend) handleTags(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.tagsCalls++
	fail := b.tagsFailures > 0
	if fail {
		b.tagsFailures--
	}
	status := b.tagsFailStatus
	resp := types.TagsResponse{Models: make([]types.LocalModel, 0, len(b.models))}
	for _, m := range b.models {
		resp.Models = append(resp.Models, types.LocalModel{Name: m, Model: m})
	}
	b.mu.Unlock()
	if fail {
		writeJSON(w, status, types.ErrorResponse{Error: "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (b *Backend) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
		return
	}
	b.mu.Lock()
	b.generated = append(b.generated, req)
	status, body := b.generateStatus, b.generateBody
	b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (b *Backend) handlePull(w http.ResponseWriter, r *http.Request) {
	var req types.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
		return
	}
	b.mu.Lock()
	b.pulled = append(b.pulled, req.Model)
	b.models = append(b.models, req.Model)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// TagsCalls returns how many /api/tags requests were served.
func (b *Backend) TagsCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tagsCalls
}

// GenerateRequests returns the decoded /api/generate payloads.
func (b *Backend) GenerateRequests() []types.GenerateRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.GenerateRequest(nil), b.generated...)
}

// Pulls returns the models requested through /api/pull.
func (b *Backend) Pulls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.pulled...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start serves a new Backend on a loopback httptest server that is closed
// when the test ends.
func Start(t testing.TB, opts ...Option) (*Backend, *httptest.Server) {
	t.Helper()
	b := NewBackend(opts...)
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)
	return b, srv
}

// HostPort splits a server URL into host and port.
func HostPort(t testing.TB, rawURL string) (string, uint16) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url %q: %v", rawURL, err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host %q: %v", u.Host, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port %q: %v", portStr, err)
	}
	return host, uint16(port)
}

// FreePort returns a loopback port with nothing listening on it.
func FreePort(t testing.TB) uint16 {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return uint16(l.Addr().(*net.TCPAddr).Port)
}

// Package probe issues short, bounded HTTP requests against the backend's
// control endpoints and classifies the replies.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Liveness probe budget; independent of the overall readiness timeout.
const (
	DefaultConnectTimeout = 2 * time.Second
	DefaultReadTimeout    = 2 * time.Second
)

// maxBodyBytes caps how much of a reply is kept.
const maxBodyBytes = 1 << 20

// Outcome is the tri-state classification of one exchange.
type Outcome int

const (
	// Unreachable: no HTTP response (refused, reset, timed out).
	Unreachable Outcome = iota
	// Reachable: status < 400 and no embedded error.
	Reachable
	// BackendError: status >= 400, or a top-level "error" field in the body.
	BackendError
)

func (o Outcome) String() string {
	switch o {
	case Unreachable:
		return "unreachable"
	case Reachable:
		return "reachable"
	case BackendError:
		return "backend_error"
	default:
		return "unknown"
	}
}

// Result is one probe exchange.
type Result struct {
	Outcome Outcome
	Status  int
	Body    []byte
	// Message is the backend's error text: the embedded "error" field, or
	// the body of a >= 400 reply.
	Message string
	Err     error
}

// Live is the liveness policy: any HTTP reply below 500 means the backend
// process is up, even if it rejected the request.
func (r Result) Live() bool {
	return r.Outcome != Unreachable && r.Status > 0 && r.Status < 500
}

// OK is the success policy: status < 400 and no embedded error.
func (r Result) OK() bool { return r.Outcome == Reachable }

// Client probes a single backend.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// New builds a client for baseURL. connect bounds dialing, read bounds the
// wait for response headers; the whole exchange is bounded by their sum.
func New(baseURL string, connect, read time.Duration) *Client {
	tr := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          4,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: read,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every request carries its own context deadline.
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    connect + read,
		httpClient: &http.Client{Transport: tr, Timeout: 0},
	}
}

// BaseURL returns the http://host:port root for a backend.
func BaseURL(host string, port uint16) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(int(port)))
}

// Get issues GET baseURL+path.
func (c *Client) Get(ctx context.Context, path string) Result {
	return c.do(ctx, http.MethodGet, path, nil)
}

// PostJSON issues POST baseURL+path with payload encoded as JSON.
func (c *Client) PostJSON(ctx context.Context, path string, payload any) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Outcome: Unreachable, Err: fmt.Errorf("encode request: %w", err)}
	}
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return Result{Outcome: Unreachable, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{Outcome: Unreachable, Err: err}
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	r := Classify(resp.StatusCode, b)
	if err != nil && r.Err == nil {
		r.Err = fmt.Errorf("read body: %w", err)
	}
	return r
}

// Classify turns a status and body into a Result.
func Classify(status int, body []byte) Result {
	r := Result{Status: status, Body: body, Outcome: Reachable}
	msg, embedded := EmbeddedError(body)
	switch {
	case status >= 400:
		r.Outcome = BackendError
		if embedded {
			r.Message = msg
		} else {
			r.Message = strings.TrimSpace(string(body))
		}
	case embedded:
		r.Outcome = BackendError
		r.Message = msg
	}
	return r
}

// EmbeddedError extracts a top-level "error" field from a JSON object body.
// A string value is returned as-is, anything else (null included) as compact
// JSON. Only a missing field or a body that is not an object report false.
func EmbeddedError(body []byte) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", false
	}
	raw, ok := obj["error"]
	if !ok {
		return "", false
	}
	if string(raw) == "null" {
		return "null", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw), true
	}
	return buf.String(), true
}

package types

// Backend control endpoints.
const (
	TagsPath     = "/api/tags"
	GeneratePath = "/api/generate"
	PullPath     = "/api/pull"
)

// TagsResponse is returned by GET /api/tags: the locally available models.
type TagsResponse struct {
	Models []LocalModel `json:"models"`
}

// GenerateRequest is the payload for POST /api/generate.
type GenerateRequest struct {
	// Model identifier, passed through opaquely.
	// example: llama3.2:3b
	Model string `json:"model" example:"llama3.2:3b"`
	// Prompt text.
	// example: Codex warm-up ping.
	Prompt string `json:"prompt" example:"Codex warm-up ping."`
	// Stream must be false to get a single JSON object back.
	Stream bool `json:"stream"`
	// Sampling options.
	Options GenerateOptions `json:"options"`
}

// GenerateOptions are the sampling options understood by the backend.
// Temperature is always sent, zero included.
type GenerateOptions struct {
	Temperature float64 `json:"temperature"`
	// Maximum number of tokens to predict.
	// example: 16
	NumPredict int `json:"num_predict,omitempty" example:"16"`
}

// GenerateResponse is the non-streaming reply of POST /api/generate.
// Error may be set even when the HTTP status is 200.
type GenerateResponse struct {
	Model    string `json:"model,omitempty"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// PullRequest is the payload for POST /api/pull.
type PullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// ErrorResponse is the backend's error payload.
type ErrorResponse struct {
	// Error message.
	// example: model "llama3" not found, try pulling it first
	Error string `json:"error" example:"model \"llama3\" not found, try pulling it first"`
}

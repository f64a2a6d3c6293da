package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mover/internal/probe"
	"mover/pkg/types"
)

// Warm-up request budget. Generation can be slow while the model loads.
const (
	WarmConnectTimeout = 5 * time.Second
	WarmReadTimeout    = 30 * time.Second
	WarmMaxTokens      = 16
	DefaultWarmPrompt  = "Codex warm-up ping."
)

// WarmConfig describes one warm-up exchange.
type WarmConfig struct {
	BaseURL string
	Model   string
	Prompt  string

	// Client overrides the default 5s/30s client.
	Client *probe.Client
	Logger *zerolog.Logger
}

// Warm sends a single deterministic generation with a small token cap.
// Any HTTP status >= 400, an "error" field in the reply or a reply that is
// not JSON fails the warm-up.
func Warm(ctx context.Context, cfg WarmConfig) error {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "model").Str("model", cfg.Model).Logger()
	}
	c := cfg.Client
	if c == nil {
		c = probe.New(cfg.BaseURL, WarmConnectTimeout, WarmReadTimeout)
	}
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = DefaultWarmPrompt
	}
	req := types.GenerateRequest{
		Model:  cfg.Model,
		Prompt: prompt,
		Stream: false,
		Options: types.GenerateOptions{
			Temperature: 0,
			NumPredict:  WarmMaxTokens,
		},
	}

	log.Info().Str("event", "warmup_start").Msg("warming up model")
	start := time.Now()
	r := c.PostJSON(ctx, types.GeneratePath, req)
	if err := warmupResult(cfg.Model, r); err != nil {
		log.Error().Err(err).Str("event", "warmup_error").Msg("warm-up failed")
		return err
	}
	log.Info().Str("event", "warmup_done").Dur("elapsed", time.Since(start)).Msg("model warm")
	return nil
}

func warmupResult(model string, r probe.Result) error {
	if r.Outcome == probe.Unreachable {
		return &WarmupError{Model: model, Err: r.Err}
	}
	if r.Status >= 400 {
		return &WarmupError{Model: model, Status: r.Status, Body: strings.TrimSpace(string(r.Body))}
	}
	if r.Outcome == probe.BackendError {
		return &WarmupError{Model: model, Message: r.Message}
	}
	if r.Err != nil {
		return &WarmupError{Model: model, Err: r.Err}
	}
	var reply any
	if err := json.Unmarshal(r.Body, &reply); err != nil {
		return &WarmupError{Model: model, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

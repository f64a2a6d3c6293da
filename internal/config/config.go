package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Pull policies.
const (
	PullAlways  = "always"
	PullMissing = "missing"
	PullNever   = "never"
)

// Config holds the parameters of one run.
// Zero values mean "unspecified" when a Config is used as an overlay.
type Config struct {
	CodexBin         string   `json:"codex_bin" yaml:"codex_bin" toml:"codex_bin"`
	OllamaBin        string   `json:"ollama_bin" yaml:"ollama_bin" toml:"ollama_bin"`
	Model            string   `json:"model" yaml:"model" toml:"model"`
	Host             string   `json:"host" yaml:"host" toml:"host"`
	Port             uint16   `json:"port" yaml:"port" toml:"port"`
	APIKey           string   `json:"api_key" yaml:"api_key" toml:"api_key"`
	ReadinessTimeout Duration `json:"readiness_timeout" yaml:"readiness_timeout" toml:"readiness_timeout"`
	SkipPull         bool     `json:"skip_pull" yaml:"skip_pull" toml:"skip_pull"`
	PullPolicy       string   `json:"pull_policy" yaml:"pull_policy" toml:"pull_policy"`
	NoWarmup         bool     `json:"no_warmup" yaml:"no_warmup" toml:"no_warmup"`
	ServeOnly        bool     `json:"serve_only" yaml:"serve_only" toml:"serve_only"`
	WarmPrompt       string   `json:"warm_prompt" yaml:"warm_prompt" toml:"warm_prompt"`
	LogLevel         string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat        string   `json:"log_format" yaml:"log_format" toml:"log_format"`
	MetricsFile      string   `json:"metrics_file" yaml:"metrics_file" toml:"metrics_file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		CodexBin:         "codex",
		OllamaBin:        "ollama",
		Model:            "llama3.2:3b",
		Host:             "127.0.0.1",
		Port:             11434,
		APIKey:           "ollama",
		ReadinessTimeout: Duration(45 * time.Second),
		PullPolicy:       PullAlways,
		WarmPrompt:       "Codex warm-up ping.",
		LogLevel:         "info",
		LogFormat:        "console",
	}
}

// Merge overlays the non-zero fields of o onto c. Booleans can only be
// switched on by an overlay.
func (c *Config) Merge(o Config) {
	setStr(&c.CodexBin, o.CodexBin)
	setStr(&c.OllamaBin, o.OllamaBin)
	setStr(&c.Model, o.Model)
	setStr(&c.Host, o.Host)
	if o.Port != 0 {
		c.Port = o.Port
	}
	setStr(&c.APIKey, o.APIKey)
	if o.ReadinessTimeout != 0 {
		c.ReadinessTimeout = o.ReadinessTimeout
	}
	c.SkipPull = c.SkipPull || o.SkipPull
	setStr(&c.PullPolicy, o.PullPolicy)
	c.NoWarmup = c.NoWarmup || o.NoWarmup
	c.ServeOnly = c.ServeOnly || o.ServeOnly
	setStr(&c.WarmPrompt, o.WarmPrompt)
	setStr(&c.LogLevel, o.LogLevel)
	setStr(&c.LogFormat, o.LogFormat)
	setStr(&c.MetricsFile, o.MetricsFile)
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// EffectivePullPolicy folds skip_pull into the pull policy.
func (c Config) EffectivePullPolicy() string {
	if c.SkipPull {
		return PullNever
	}
	if c.PullPolicy == "" {
		return PullAlways
	}
	return strings.ToLower(c.PullPolicy)
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.CodexBin) == "" && !c.ServeOnly {
		errs = append(errs, errors.New("codex_bin cannot be empty"))
	}
	if strings.TrimSpace(c.OllamaBin) == "" {
		errs = append(errs, errors.New("ollama_bin cannot be empty"))
	}
	if strings.TrimSpace(c.Model) == "" {
		errs = append(errs, errors.New("model cannot be empty"))
	}
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host cannot be empty"))
	}
	if c.Port == 0 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}
	if c.ReadinessTimeout <= 0 {
		errs = append(errs, fmt.Errorf("readiness_timeout must be positive, got %s", c.ReadinessTimeout))
	}
	switch c.EffectivePullPolicy() {
	case PullAlways, PullMissing, PullNever:
	default:
		errs = append(errs, fmt.Errorf("unknown pull_policy %q (want always|missing|never)", c.PullPolicy))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q (want console|json)", c.LogFormat))
	}
	return errors.Join(errs...)
}

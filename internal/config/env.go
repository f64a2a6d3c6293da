package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override, e.g. MOVER_MODEL.
const EnvPrefix = "MOVER_"

// Env helpers
func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	s := strings.ToLower(v)
	return s == "1" || s == "true" || s == "yes"
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}

// ApplyEnv overlays MOVER_* environment variables onto c.
func ApplyEnv(c *Config) error {
	c.CodexBin = envStr(EnvPrefix+"CODEX_BIN", c.CodexBin)
	c.OllamaBin = envStr(EnvPrefix+"OLLAMA_BIN", c.OllamaBin)
	c.Model = envStr(EnvPrefix+"MODEL", c.Model)
	c.Host = envStr(EnvPrefix+"HOST", c.Host)
	port, err := envInt(EnvPrefix+"PORT", int(c.Port))
	if err != nil {
		return err
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("%sPORT: %d is out of range", EnvPrefix, port)
	}
	c.Port = uint16(port)
	c.APIKey = envStr(EnvPrefix+"API_KEY", c.APIKey)
	if v := os.Getenv(EnvPrefix + "READINESS_TIMEOUT"); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sREADINESS_TIMEOUT: %w", EnvPrefix, err)
		}
		c.ReadinessTimeout = Duration(d)
	}
	c.SkipPull = envBool(EnvPrefix+"SKIP_PULL", c.SkipPull)
	c.PullPolicy = envStr(EnvPrefix+"PULL_POLICY", c.PullPolicy)
	c.NoWarmup = envBool(EnvPrefix+"NO_WARMUP", c.NoWarmup)
	c.ServeOnly = envBool(EnvPrefix+"SERVE_ONLY", c.ServeOnly)
	c.WarmPrompt = envStr(EnvPrefix+"WARM_PROMPT", c.WarmPrompt)
	c.LogLevel = envStr(EnvPrefix+"LOG_LEVEL", c.LogLevel)
	c.LogFormat = envStr(EnvPrefix+"LOG_FORMAT", c.LogFormat)
	c.MetricsFile = envStr(EnvPrefix+"METRICS_FILE", c.MetricsFile)
	return nil
}

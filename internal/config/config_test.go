package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"CONFIG", "CODEX_BIN", "OLLAMA_BIN", "MODEL", "HOST", "PORT", "API_KEY",
		"READINESS_TIMEOUT", "SKIP_PULL", "PULL_POLICY", "NO_WARMUP", "SERVE_ONLY", "WARM_PROMPT",
		"LOG_LEVEL", "LOG_FORMAT", "METRICS_FILE"} {
		t.Setenv(EnvPrefix+k, "")
	}
	t.Setenv("HOME", t.TempDir())
}

func TestDefaults(t *testing.T) {
	c := Default()
	assert.Equal(t, "codex", c.CodexBin)
	assert.Equal(t, "ollama", c.OllamaBin)
	assert.Equal(t, "llama3.2:3b", c.Model)
	assert.Equal(t, "127.0.0.1", c.Host)
	assert.Equal(t, uint16(11434), c.Port)
	assert.Equal(t, "ollama", c.APIKey)
	assert.Equal(t, 45*time.Second, c.ReadinessTimeout.Std())
	assert.Equal(t, "Codex warm-up ping.", c.WarmPrompt)
	assert.False(t, c.SkipPull)
	assert.False(t, c.NoWarmup)
	assert.False(t, c.ServeOnly)
	assert.NoError(t, c.Validate())
}

func TestMergeOverlaysNonZero(t *testing.T) {
	c := Default()
	c.Merge(Config{Model: "phi3", Port: 9000, NoWarmup: true})
	assert.Equal(t, "phi3", c.Model)
	assert.Equal(t, uint16(9000), c.Port)
	assert.True(t, c.NoWarmup)
	assert.Equal(t, "codex", c.CodexBin)
	assert.Equal(t, "127.0.0.1", c.Host)
}

func TestBuildLayersFileThenEnv(t *testing.T) {
	clearEnv(t)
	d := t.TempDir()
	p := writeTempFile(t, d, "mover.yaml", "model: from-file\nhost: 10.0.0.2\nport: 1234\n")
	t.Setenv(EnvPrefix+"MODEL", "from-env")
	t.Setenv(EnvPrefix+"SKIP_PULL", "yes")

	c, err := Build(p)
	require.NoError(t, err)
	assert.Equal(t, "from-env", c.Model)
	assert.Equal(t, "10.0.0.2", c.Host)
	assert.Equal(t, uint16(1234), c.Port)
	assert.True(t, c.SkipPull)
	assert.Equal(t, PullNever, c.EffectivePullPolicy())
	assert.Equal(t, "ollama", c.APIKey)
}

func TestBuildConfigFromEnvPath(t *testing.T) {
	clearEnv(t)
	d := t.TempDir()
	p := writeTempFile(t, d, "mover.toml", "warm_prompt=\"hi\"\n")
	t.Setenv(EnvPrefix+"CONFIG", p)

	c, err := Build("")
	require.NoError(t, err)
	assert.Equal(t, "hi", c.WarmPrompt)
}

func TestBuildWithoutFile(t *testing.T) {
	clearEnv(t)
	c, err := Build("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestApplyEnvErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"PORT", "http")
	c := Default()
	assert.Error(t, ApplyEnv(&c))

	t.Setenv(EnvPrefix+"PORT", "70000")
	assert.Error(t, ApplyEnv(&c))

	t.Setenv(EnvPrefix+"PORT", "")
	t.Setenv(EnvPrefix+"READINESS_TIMEOUT", "later")
	assert.Error(t, ApplyEnv(&c))

	t.Setenv(EnvPrefix+"READINESS_TIMEOUT", "2m")
	require.NoError(t, ApplyEnv(&c))
	assert.Equal(t, 2*time.Minute, c.ReadinessTimeout.Std())
}

func TestValidate(t *testing.T) {
	c := Default()
	c.Model = " "
	c.Port = 0
	c.ReadinessTimeout = 0
	c.PullPolicy = "sometimes"
	c.LogFormat = "xml"
	err := c.Validate()
	require.Error(t, err)
	for _, want := range []string{"model", "port", "readiness_timeout", "pull_policy", "log_format"} {
		assert.Contains(t, err.Error(), want)
	}

	c = Default()
	c.CodexBin = ""
	c.ServeOnly = true
	assert.NoError(t, c.Validate(), "codex_bin is unused in serve-only mode")
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"45":      45 * time.Second,
		"45s":     45 * time.Second,
		"1m30s":   90 * time.Second,
		" 250ms ": 250 * time.Millisecond,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDuration("")
	assert.Error(t, err)
	_, err = ParseDuration("fast")
	assert.Error(t, err)
}

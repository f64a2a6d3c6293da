package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mover/internal/bridge"
	"mover/internal/common/fsutil"
	"mover/internal/config"
	"mover/internal/launch"
	"mover/internal/logging"
	"mover/internal/metrics"
	"mover/internal/version"
)

// Stubbed in tests.
var runBridge = bridge.Run

// session carries what the root command's hooks hand to each other.
type session struct {
	cfg    config.Config
	runID  string
	logger zerolog.Logger
}

// buildRootCmd wires every flag to an overlay Config. Only flags the user
// actually set are applied on top of defaults, the config file and MOVER_*.
func buildRootCmd(ctx context.Context, stdout, stderr io.Writer) *cobra.Command {
	defaults := config.Default()
	var (
		flagCfg    = defaults
		configPath string
		s          session
	)

	root := &cobra.Command{
		Use:   "mover [flags] [--] [codex args...]",
		Short: "Start or reuse a local Ollama server, warm the model, then run Codex against it",
		Long: "mover makes sure an Ollama server is listening on --host:--port (starting `ollama serve`\n" +
			"if needed), pulls and warms the model, then runs Codex with OPENAI_API_BASE pointing at it.\n" +
			"Arguments after the first positional argument, or after --, are passed to Codex unchanged.",
		Version:           version.Version,
		Args:              cobra.ArbitraryArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	f := root.Flags()
	f.SetInterspersed(false)
	f.StringVar(&flagCfg.CodexBin, "codex-bin", defaults.CodexBin, "Codex executable, a directory containing it, or a name on PATH")
	f.StringVar(&flagCfg.OllamaBin, "ollama-bin", defaults.OllamaBin, "Ollama executable used for `serve` and `pull`")
	f.StringVar(&flagCfg.Model, "model", defaults.Model, "Model to pull and warm up")
	f.StringVar(&flagCfg.Host, "host", defaults.Host, "Host the Ollama server listens on")
	f.Uint16Var(&flagCfg.Port, "port", defaults.Port, "Port the Ollama server listens on")
	f.StringVar(&flagCfg.APIKey, "api-key", defaults.APIKey, "Value exported to Codex as OPENAI_API_KEY")
	f.Var(&flagCfg.ReadinessTimeout, "readiness-timeout", "How long to wait for a started server (seconds or a duration such as 90s)")
	f.BoolVar(&flagCfg.SkipPull, "skip-pull", false, "Assume the model is already present")
	f.StringVar(&flagCfg.PullPolicy, "pull-policy", defaults.PullPolicy, "When to pull the model: always|missing|never")
	f.BoolVar(&flagCfg.NoWarmup, "no-warmup", false, "Skip the warm-up generation")
	f.BoolVar(&flagCfg.ServeOnly, "serve-only", false, "Stop after the server is ready and leave it running; do not launch Codex")
	f.StringVar(&flagCfg.WarmPrompt, "warm-prompt", defaults.WarmPrompt, "Prompt sent by the warm-up request")
	f.StringVar(&flagCfg.LogLevel, "log-level", defaults.LogLevel, "Log level: debug|info|warn|error (defaults MOVER_LOG_LEVEL or info)")
	f.StringVar(&flagCfg.LogFormat, "log-format", defaults.LogFormat, "Log format: console|json")
	f.StringVar(&flagCfg.MetricsFile, "metrics-file", "", "Write Prometheus metrics for this run to the given file")
	f.StringVar(&configPath, "config", "", "Config file (.yaml, .yml, .json or .toml); defaults MOVER_CONFIG or "+config.DefaultPath)

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Build(configPath)
		if err != nil {
			return err
		}
		overlayChanged(cmd, &cfg, flagCfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if cfg.MetricsFile != "" && !fsutil.IsDir(filepath.Dir(cfg.MetricsFile)) {
			return fmt.Errorf("metrics file directory %s does not exist", filepath.Dir(cfg.MetricsFile))
		}
		s.cfg = cfg
		s.runID = logging.NewRunID()
		s.logger = logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Out: stderr, RunID: s.runID})
		return nil
	}

	root.RunE = func(cmd *cobra.Command, args []string) error {
		s.logger.Debug().Strs("args", args).Str("model", s.cfg.Model).Str("addr", s.cfg.Host).Msg("starting")
		_, err := runBridge(ctx, bridge.Options{
			Config:  s.cfg,
			Args:    args,
			RunID:   s.runID,
			Logger:  &s.logger,
			Metrics: metrics.New(),
		})
		return err
	}
	return root
}

// overlayChanged copies the flags set on the command line from src to dst.
func overlayChanged(cmd *cobra.Command, dst *config.Config, src config.Config) {
	changed := cmd.Flags().Changed
	apply := []struct {
		flag string
		set  func()
	}{
		{"codex-bin", func() { dst.CodexBin = src.CodexBin }},
		{"ollama-bin", func() { dst.OllamaBin = src.OllamaBin }},
		{"model", func() { dst.Model = src.Model }},
		{"host", func() { dst.Host = src.Host }},
		{"port", func() { dst.Port = src.Port }},
		{"api-key", func() { dst.APIKey = src.APIKey }},
		{"readiness-timeout", func() { dst.ReadinessTimeout = src.ReadinessTimeout }},
		{"skip-pull", func() { dst.SkipPull = src.SkipPull }},
		{"pull-policy", func() { dst.PullPolicy = src.PullPolicy }},
		{"no-warmup", func() { dst.NoWarmup = src.NoWarmup }},
		{"serve-only", func() { dst.ServeOnly = src.ServeOnly }},
		{"warm-prompt", func() { dst.WarmPrompt = src.WarmPrompt }},
		{"log-level", func() { dst.LogLevel = src.LogLevel }},
		{"log-format", func() { dst.LogFormat = src.LogFormat }},
		{"metrics-file", func() { dst.MetricsFile = src.MetricsFile }},
	}
	for _, a := range apply {
		if changed(a.flag) {
			a.set()
		}
	}
}

// exitCode maps a run error to the process exit code: the tool's own code
// when it failed, 1 for everything else.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var de *launch.DownstreamError
	if errors.As(err, &de) {
		return de.ExitCode()
	}
	return 1
}

// runWithArgs runs mover and returns its exit code.
func runWithArgs(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := buildRootCmd(ctx, stdout, stderr)
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "mover: %v\n", err)
	return exitCode(err)
}

// Main runs mover with the process arguments.
func Main(ctx context.Context) int { return runWithArgs(ctx, os.Args[1:], os.Stdout, os.Stderr) }

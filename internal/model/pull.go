// Package model makes a model usable on a ready backend: it pulls the model
// and sends one short generation to force it into memory.
package model

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mover/internal/probe"
	"mover/internal/procutil"
)

// PullPolicy decides whether Pull runs the pull command.
type PullPolicy string

const (
	PullAlways  PullPolicy = "always"
	PullMissing PullPolicy = "missing"
	PullNever   PullPolicy = "never"
)

// ParsePullPolicy accepts the policy names case-insensitively. Empty means
// PullAlways.
func ParsePullPolicy(s string) (PullPolicy, error) {
	switch p := PullPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PullAlways, nil
	case PullAlways, PullMissing, PullNever:
		return p, nil
	default:
		return "", fmt.Errorf("unknown pull policy %q", s)
	}
}

// PullResult says what Pull did.
type PullResult int

const (
	Pulled PullResult = iota
	Skipped
	Present
)

func (r PullResult) String() string {
	switch r {
	case Pulled:
		return "pulled"
	case Skipped:
		return "skipped"
	case Present:
		return "present"
	default:
		return "unknown"
	}
}

const pullStopGrace = 5 * time.Second

// PullConfig describes one pull.
type PullConfig struct {
	Bin    string
	Model  string
	Host   string
	Port   uint16
	Policy PullPolicy

	// Inventory answers /api/tags for PullMissing; nil builds a default client.
	Inventory *probe.Client
	Commander procutil.Commander
	Logger    *zerolog.Logger
	Stdout    io.Writer
	Stderr    io.Writer
}

// Pull runs `<bin> pull <model>` against the backend at Host:Port and waits
// for it. Cancelling ctx terminates the command.
func Pull(ctx context.Context, cfg PullConfig) (PullResult, error) {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "model").Str("model", cfg.Model).Logger()
	}
	switch cfg.Policy {
	case PullNever:
		log.Info().Str("event", "pull_skip").Msg("skipping model pull")
		return Skipped, nil
	case PullMissing:
		inv := cfg.Inventory
		if inv == nil {
			inv = probe.New(probe.BaseURL(cfg.Host, cfg.Port), probe.DefaultConnectTimeout, probe.DefaultReadTimeout)
		}
		models, err := List(ctx, inv)
		if err != nil {
			log.Warn().Err(err).Msg("could not read model inventory, pulling anyway")
		} else if Has(models, cfg.Model) {
			log.Info().Str("event", "pull_present").Msg("model already available")
			return Present, nil
		}
	}

	commander := cfg.Commander
	if commander == nil {
		commander = procutil.ExecCommander{}
	}
	cmd := commander.Command(cfg.Bin, "pull", cfg.Model)
	procutil.SetEnv(cmd, map[string]string{
		"OLLAMA_HOST": cfg.Host,
		"OLLAMA_PORT": strconv.Itoa(int(cfg.Port)),
	})
	cmd.Stdin = nil
	cmd.Stdout = orDefault(cfg.Stdout, os.Stdout)
	cmd.Stderr = orDefault(cfg.Stderr, os.Stderr)

	log.Info().Str("event", "pull_start").Msgf("ensuring model %s is available", cfg.Model)
	start := time.Now()
	proc, err := procutil.Start(cmd)
	if err != nil {
		return Pulled, &PullError{Model: cfg.Model, Err: err}
	}
	select {
	case <-proc.Done():
	case <-ctx.Done():
		_ = proc.Terminate(pullStopGrace)
		return Pulled, &PullError{Model: cfg.Model, Err: ctx.Err()}
	}
	st, _ := proc.Exited()
	if !st.Success() {
		log.Error().Str("event", "pull_error").Str("status", st.String()).Msg("model pull failed")
		return Pulled, &PullError{Model: cfg.Model, Status: st}
	}
	log.Info().Str("event", "pull_done").Dur("elapsed", time.Since(start)).Msg("model pulled")
	return Pulled, nil
}

func orDefault(w, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}

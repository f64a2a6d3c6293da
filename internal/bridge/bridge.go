// Package bridge runs one mover session: make the backend ready, prepare the
// model, then hand the terminal to the downstream tool.
package bridge

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"mover/internal/backend"
	"mover/internal/config"
	"mover/internal/launch"
	"mover/internal/logging"
	"mover/internal/metrics"
	"mover/internal/model"
	"mover/internal/procutil"
	"mover/internal/resolve"
)

// Tool is the downstream executable name looked for in directories.
const Tool = "codex"

// Options configures Run. Only Config is required.
type Options struct {
	Config config.Config
	// Args are forwarded verbatim to the tool.
	Args  []string
	RunID string

	Logger    *zerolog.Logger
	Metrics   *metrics.Metrics
	Publisher backend.EventPublisher
	Commander procutil.Commander
	Resolver  *resolve.Resolver
	// PollInterval overrides the readiness poll interval.
	PollInterval time.Duration

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Result describes what a run did.
type Result struct {
	Addr        string
	BaseURL     string
	StartedHere bool
	Pull        model.PullResult
	Warmed      bool
	ToolPath    string
	Launched    bool
	Status      procutil.ExitStatus
	// Backend is the detached backend process in serve-only mode when it was
	// started by this run.
	Backend *procutil.Process
	// BackendAlive reports whether the detached backend pid answered a
	// liveness check right after Detach.
	BackendAlive bool
}

// errStop ends the pipeline early without failing it.
var errStop = errors.New("stop")

type step struct {
	name string
	fn   func(*session, context.Context) error
}

var steps = []step{
	{"backend", (*session).ensureBackend},
	{"pull", (*session).pull},
	{"warmup", (*session).warm},
	{"serve_only", (*session).serveOnly},
	{"resolve", (*session).resolve},
	{"launch", (*session).launch},
}

type session struct {
	opts Options
	cfg  config.Config
	log  zerolog.Logger
	m    *metrics.Metrics
	sup  *backend.Supervisor
	res  Result
}

// Run executes the pipeline. The first failing step ends it. A backend
// started by the run is always stopped before Run returns, unless serve-only
// mode detached it.
func Run(ctx context.Context, opts Options) (Result, error) {
	start := time.Now()
	s := &session{opts: opts, cfg: opts.Config, m: opts.Metrics}
	if opts.Logger != nil {
		s.log = *logging.Component(*opts.Logger, "bridge")
	} else {
		s.log = zerolog.Nop()
	}
	if s.m == nil {
		s.m = metrics.New()
	}
	defer s.finish(start)

	for _, st := range steps {
		s.log.Debug().Str("step", st.name).Msg("step")
		if err := st.fn(s, ctx); err != nil {
			if errors.Is(err, errStop) {
				break
			}
			s.log.Debug().Err(err).Str("step", st.name).Msg("step failed")
			return s.res, err
		}
	}
	return s.res, nil
}

// finish releases the backend and flushes metrics. Its errors are warnings.
func (s *session) finish(start time.Time) {
	if s.sup != nil {
		if err := s.sup.Close(); err != nil {
			s.log.Warn().Err(err).Msg("failed to stop backend cleanly")
		}
	}
	s.m.ObserveRun(time.Since(start))
	if path := s.cfg.MetricsFile; path != "" {
		if err := s.m.WriteTextfile(path); err != nil {
			s.log.Warn().Err(err).Msg("failed to write metrics")
		}
	}
}

func (s *session) ensureBackend(ctx context.Context) error {
	sup, err := backend.EnsureRunning(ctx, backend.Config{
		Host:             s.cfg.Host,
		Port:             s.cfg.Port,
		Bin:              s.cfg.OllamaBin,
		ReadinessTimeout: s.cfg.ReadinessTimeout.Std(),
		PollInterval:     s.opts.PollInterval,
		Commander:        s.opts.Commander,
		Publisher:        backend.Publishers{s.m, s.opts.Publisher},
		Logger:           s.opts.Logger,
		Stdout:           s.opts.Stdout,
		Stderr:           s.opts.Stderr,
	})
	if err != nil {
		return err
	}
	s.sup = sup
	s.res.Addr = sup.Addr()
	s.res.BaseURL = sup.BaseURL()
	s.res.StartedHere = sup.StartedHere()
	return nil
}

func (s *session) pull(ctx context.Context) error {
	policy, err := model.ParsePullPolicy(s.cfg.EffectivePullPolicy())
	if err != nil {
		return err
	}
	res, err := model.Pull(ctx, model.PullConfig{
		Bin:       s.cfg.OllamaBin,
		Model:     s.cfg.Model,
		Host:      s.cfg.Host,
		Port:      s.cfg.Port,
		Policy:    policy,
		Commander: s.opts.Commander,
		Logger:    s.opts.Logger,
		Stdout:    s.opts.Stdout,
		Stderr:    s.opts.Stderr,
	})
	s.res.Pull = res
	s.m.ObservePull(res != model.Pulled, err)
	return err
}

func (s *session) warm(ctx context.Context) error {
	if s.cfg.NoWarmup {
		s.log.Info().Msg("skipping warm-up")
		s.m.ObserveWarmup(true, 0, nil)
		return nil
	}
	start := time.Now()
	err := model.Warm(ctx, model.WarmConfig{
		BaseURL: s.res.BaseURL,
		Model:   s.cfg.Model,
		Prompt:  s.cfg.WarmPrompt,
		Logger:  s.opts.Logger,
	})
	s.m.ObserveWarmup(false, time.Since(start), err)
	if err == nil {
		s.res.Warmed = true
	}
	return err
}

func (s *session) serveOnly(context.Context) error {
	if !s.cfg.ServeOnly {
		return nil
	}
	proc := s.sup.Detach()
	ev := s.log.Info().Str("event", "serve_only").Str("addr", s.res.Addr).Str("model", s.cfg.Model)
	if proc != nil {
		s.res.Backend = proc
		s.res.BackendAlive = procutil.IsProcessAlive(proc.Pid())
		ev = ev.Int("pid", proc.Pid()).Bool("alive", s.res.BackendAlive)
		ev.Msg("backend ready and left running")
	} else {
		ev.Msg("backend ready (already running before mover)")
	}
	return errStop
}

func (s *session) resolve(context.Context) error {
	r := s.opts.Resolver
	if r == nil {
		r = resolve.New(Tool)
	}
	p, err := r.Resolve(s.cfg.CodexBin)
	if err != nil {
		return err
	}
	s.res.ToolPath = p
	return nil
}

func (s *session) launch(ctx context.Context) error {
	st, err := launch.Run(ctx, launch.Spec{
		Path:      s.res.ToolPath,
		Args:      s.opts.Args,
		BaseURL:   s.res.BaseURL,
		APIKey:    s.cfg.APIKey,
		Host:      s.cfg.Host,
		Port:      s.cfg.Port,
		RunID:     s.opts.RunID,
		Commander: s.opts.Commander,
		Logger:    s.opts.Logger,
		Stdin:     s.opts.Stdin,
		Stdout:    s.opts.Stdout,
		Stderr:    s.opts.Stderr,
	})
	s.res.Status = st
	if !launch.IsSpawn(err) {
		s.res.Launched = true
		s.m.ObserveDownstream(st)
	}
	return err
}

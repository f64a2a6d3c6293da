// Package backend supervises the local model-serving process: it adopts a
// backend that is already listening, or spawns one and waits for it, and it
// owns the lifetime of whatever it spawned.
package backend

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"mover/internal/probe"
	"mover/internal/procutil"
	"mover/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultHost             = "127.0.0.1"
	DefaultPort             = 11434
	DefaultBin              = "ollama"
	DefaultReadinessTimeout = 45 * time.Second
	DefaultPollInterval     = 250 * time.Millisecond
	DefaultStopGrace        = 5 * time.Second
)

// Config describes the backend to supervise. It is not modified after
// EnsureRunning is called.
type Config struct {
	Host             string
	Port             uint16
	Bin              string
	ReadinessTimeout time.Duration
	PollInterval     time.Duration
	StopGrace        time.Duration

	// Collaborators; nil means the production default.
	Commander procutil.Commander
	Probe     *probe.Client
	Publisher EventPublisher
	Logger    *zerolog.Logger
	Stdout    io.Writer
	Stderr    io.Writer
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Bin == "" {
		c.Bin = DefaultBin
	}
	if c.ReadinessTimeout <= 0 {
		c.ReadinessTimeout = DefaultReadinessTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
	if c.Commander == nil {
		c.Commander = procutil.ExecCommander{}
	}
	if c.Probe == nil {
		c.Probe = probe.New(probe.BaseURL(c.Host, c.Port), probe.DefaultConnectTimeout, probe.DefaultReadTimeout)
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	return c
}

// Addr is host:port.
func (c Config) Addr() string { return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port))) }

// Supervisor owns the relationship with one backend. When startedHere is
// true proc is set and Close terminates it; an adopted backend is never
// touched.
type Supervisor struct {
	cfg         Config
	log         zerolog.Logger
	startedHere bool
	proc        *procutil.Process
	detached    bool
	closed      bool
}

// EnsureRunning adopts a reachable backend or spawns `<bin> serve` and waits
// until it answers. If the spawned backend never becomes ready it is
// terminated before the error is returned.
func EnsureRunning(ctx context.Context, cfg Config) (*Supervisor, error) {
	cfg = cfg.withDefaults()
	s := &Supervisor{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "backend").Str("addr", cfg.Addr()).Logger(),
	}

	if r := s.probeOnce(ctx, 0); r.Live() {
		s.log.Info().Str("event", EventAdopt).Msgf("detected existing %s server on %s", cfg.Bin, cfg.Addr())
		s.publish(EventAdopt, map[string]any{"status": r.Status})
		return s, nil
	}

	if err := s.spawn(); err != nil {
		return nil, err
	}
	if err := s.WaitUntilReady(ctx, cfg.ReadinessTimeout); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Supervisor) spawn() error {
	s.log.Info().Str("event", "spawn").Msgf("starting `%s serve` bound to %s", s.cfg.Bin, s.cfg.Addr())
	cmd := s.cfg.Commander.Command(s.cfg.Bin, "serve")
	procutil.SetEnv(cmd, map[string]string{
		"OLLAMA_HOST": s.cfg.Host,
		"OLLAMA_PORT": strconv.Itoa(int(s.cfg.Port)),
	})
	cmd.Stdin = nil // /dev/null
	cmd.Stdout = s.cfg.Stdout
	cmd.Stderr = s.cfg.Stderr
	proc, err := procutil.Start(cmd)
	if err != nil {
		s.log.Error().Err(err).Str("event", "spawn_error").Msg("spawn failed")
		return &SpawnError{Bin: s.cfg.Bin, Err: err}
	}
	s.proc = proc
	s.startedHere = true
	s.log.Info().Str("event", EventSpawnStart).Int("pid", proc.Pid()).Msg("backend started")
	s.publish(EventSpawnStart, map[string]any{"pid": proc.Pid()})
	return nil
}

func (s *Supervisor) probeOnce(ctx context.Context, attempt int) probe.Result {
	r := s.cfg.Probe.Get(ctx, types.TagsPath)
	ev := s.log.Debug().Str("event", EventProbe).Int("attempt", attempt).Str("outcome", r.Outcome.String())
	if r.Status > 0 {
		ev = ev.Int("status", r.Status)
	}
	if r.Err != nil {
		ev = ev.AnErr("probe_err", r.Err)
	}
	ev.Msg("liveness probe")
	s.publish(EventProbe, map[string]any{"attempt": attempt, "outcome": r.Outcome.String(), "status": r.Status})
	return r
}

func (s *Supervisor) publish(name string, fields map[string]any) {
	s.cfg.Publisher.Publish(Event{Name: name, Addr: s.cfg.Addr(), Fields: fields})
}

// StartedHere reports whether this supervisor spawned the backend.
func (s *Supervisor) StartedHere() bool { return s.startedHere }

// Process returns the owned process, or nil for an adopted backend.
func (s *Supervisor) Process() *procutil.Process { return s.proc }

// Addr is the backend's host:port.
func (s *Supervisor) Addr() string { return s.cfg.Addr() }

// BaseURL is the backend's http://host:port root.
func (s *Supervisor) BaseURL() string { return probe.BaseURL(s.cfg.Host, s.cfg.Port) }

// Detach disarms Close: the owned process, if any, is left running and
// handed to the caller. This is the serve-only escape hatch; nothing else
// should call it.
func (s *Supervisor) Detach() *procutil.Process {
	s.detached = true
	if s.proc != nil {
		s.log.Info().Str("event", EventDetach).Int("pid", s.proc.Pid()).Msg("leaving backend running")
		s.publish(EventDetach, map[string]any{"pid": s.proc.Pid()})
	}
	return s.proc
}

// Close terminates the owned backend, if any, and waits for it. Failures are
// logged as warnings and returned; callers must not let them replace the
// error that ended the run. Close is idempotent.
func (s *Supervisor) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.startedHere || s.detached || s.proc == nil {
		return nil
	}
	pid := s.proc.Pid()
	s.log.Info().Str("event", EventSpawnStop).Int("pid", pid).Msgf("stopping `%s serve`", s.cfg.Bin)
	err := s.proc.Terminate(s.cfg.StopGrace)
	if err != nil {
		s.log.Warn().Err(err).Int("pid", pid).Msgf("failed to terminate `%s serve`", s.cfg.Bin)
	}
	st, _ := s.proc.Exited()
	s.publish(EventSpawnStop, map[string]any{"pid": pid, "status": st.String()})
	return err
}

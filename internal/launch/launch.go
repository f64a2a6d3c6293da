// Package launch starts the downstream tool pointed at the backend and waits
// for it.
package launch

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"mover/internal/procutil"
)

// Spec describes one launch of the downstream tool.
type Spec struct {
	Path string
	Args []string

	// BaseURL is the backend root, e.g. http://127.0.0.1:11434.
	BaseURL string
	APIKey  string
	Host    string
	Port    uint16
	RunID   string

	Commander procutil.Commander
	Logger    *zerolog.Logger
	Stdin     io.Reader
	Stdout    io.Writer
	Stderr    io.Writer
}

// APIBase is the OpenAI-compatible endpoint under the backend root.
func APIBase(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/v1"
}

// Env returns the variables added to the inherited environment.
func Env(s Spec) map[string]string {
	api := APIBase(s.BaseURL)
	env := map[string]string{
		"OPENAI_API_BASE": api,
		"OPENAI_BASE_URL": api,
		"OPENAI_API_KEY":  s.APIKey,
		"OLLAMA_HOST":     s.Host,
		"OLLAMA_PORT":     strconv.Itoa(int(s.Port)),
	}
	if s.RunID != "" {
		env["MOVER_RUN_ID"] = s.RunID
	}
	return env
}

// Run starts the tool with inherited stdio and blocks until it exits.
//
// The tool shares the terminal, so an interrupt reaches it directly; Run
// keeps waiting when ctx is cancelled and forwards SIGTERM, which a terminal
// does not deliver to the process group.
func Run(ctx context.Context, s Spec) (procutil.ExitStatus, error) {
	log := zerolog.Nop()
	if s.Logger != nil {
		log = s.Logger.With().Str("component", "launch").Logger()
	}
	commander := s.Commander
	if commander == nil {
		commander = procutil.ExecCommander{}
	}
	cmd := commander.Command(s.Path, s.Args...)
	procutil.SetEnv(cmd, Env(s))
	cmd.Stdin = readerOr(s.Stdin, os.Stdin)
	cmd.Stdout = writerOr(s.Stdout, os.Stdout)
	cmd.Stderr = writerOr(s.Stderr, os.Stderr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	proc, err := procutil.Start(cmd)
	if err != nil {
		log.Error().Err(err).Str("event", "launch_error").Str("path", s.Path).Msg("could not start tool")
		return procutil.ExitStatus{Code: -1}, &SpawnError{Path: s.Path, Err: err}
	}
	log.Info().Str("event", "launch_start").Str("path", s.Path).Int("pid", proc.Pid()).
		Str("api_base", APIBase(s.BaseURL)).Msg("launching tool")

	done := ctx.Done()
	for {
		select {
		case <-proc.Done():
			st := proc.Wait()
			log.Info().Str("event", "launch_exit").Str("status", st.String()).Msg("tool exited")
			if !st.Success() {
				return st, &DownstreamError{Path: s.Path, Status: st}
			}
			return st, nil
		case sig := <-sigCh:
			log.Debug().Str("signal", sig.String()).Msg("forwarding signal to tool")
			_ = proc.Signal(sig)
		case <-done:
			log.Info().Msg("interrupted, waiting for tool to exit")
			done = nil
		}
	}
}

func readerOr(r, def io.Reader) io.Reader {
	if r == nil {
		return def
	}
	return r
}

func writerOr(w, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}

package backend

import (
	"context"
	"time"
)

// WaitUntilReady polls the backend every PollInterval until it answers the
// liveness probe, the owned process exits, or timeout elapses. With probes
// that fail fast the timeout error is returned within one interval of the
// deadline.
func (s *Supervisor) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	start := time.Now()
	var exited <-chan struct{}
	if s.proc != nil {
		exited = s.proc.Done()
	}
	for attempt := 1; ; attempt++ {
		if r := s.probeOnce(ctx, attempt); r.Live() {
			elapsed := time.Since(start)
			s.log.Info().Str("event", EventSpawnReady).Int("attempts", attempt).Dur("elapsed", elapsed).Msg("backend is ready")
			s.publish(EventSpawnReady, map[string]any{"attempts": attempt, "elapsed": elapsed})
			return nil
		}

		if s.proc != nil {
			if st, ok := s.proc.Exited(); ok {
				s.log.Error().Str("event", EventSpawnExit).Int("pid", s.proc.Pid()).Str("status", st.String()).Msg("backend exited before ready")
				s.publish(EventSpawnExit, map[string]any{"pid": s.proc.Pid(), "status": st.String()})
				return &PrematureExitError{Bin: s.cfg.Bin, Status: st}
			}
		}

		elapsed := time.Since(start)
		if elapsed >= timeout {
			s.log.Error().Str("event", EventSpawnTimeout).Dur("timeout", timeout).Int("attempts", attempt).Msg("backend not ready in time")
			s.publish(EventSpawnTimeout, map[string]any{"attempts": attempt, "timeout": timeout})
			return &ReadinessTimeoutError{Bin: s.cfg.Bin, Addr: s.cfg.Addr(), Timeout: timeout}
		}

		timer := time.NewTimer(min(s.cfg.PollInterval, timeout-elapsed))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-exited:
			// re-probe once, then report the exit
			timer.Stop()
			exited = nil
		case <-timer.C:
		}
	}
}

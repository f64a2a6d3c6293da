package procutil

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Process is a started child process. A single goroutine waits on it, so
// Exited never blocks and Terminate can be called from any exit path.
type Process struct {
	cmd    *exec.Cmd
	done   chan struct{}
	status ExitStatus
	err    error
}

// Start starts cmd and begins watching it for exit.
func Start(cmd *exec.Cmd) (*Process, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &Process{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.status = StatusOf(cmd.ProcessState)
		p.err = err
		close(p.done)
	}()
	return p, nil
}

// Pid returns the OS process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports the exit status without blocking. ok is false while the
// process is still running.
func (p *Process) Exited() (status ExitStatus, ok bool) {
	select {
	case <-p.done:
		return p.status, true
	default:
		return ExitStatus{}, false
	}
}

// Wait blocks until the process exits.
func (p *Process) Wait() ExitStatus {
	<-p.done
	return p.status
}

// Signal delivers sig to the process unless it has already exited.
func (p *Process) Signal(sig os.Signal) error {
	if _, ok := p.Exited(); ok {
		return nil
	}
	err := p.cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Terminate asks the process to exit, waits up to grace, then kills it.
// It always waits for the process to be reaped before returning.
func (p *Process) Terminate(grace time.Duration) error {
	if _, ok := p.Exited(); ok {
		return nil
	}
	if err := GracefulTerminate(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		// fall through to kill
		grace = 0
	}
	if grace > 0 {
		select {
		case <-p.done:
			return nil
		case <-time.After(grace):
		}
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		if _, ok := p.Exited(); ok {
			return nil
		}
		return fmt.Errorf("kill pid %d: %w", p.Pid(), err)
	}
	<-p.done
	return nil
}

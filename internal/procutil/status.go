package procutil

import (
	"os"
	"strconv"
)

// ExitStatus is the outcome of a finished process.
type ExitStatus struct {
	Code     int
	Signaled bool
}

// StatusOf converts a ProcessState. A nil state (never started) reports -1.
func StatusOf(state *os.ProcessState) ExitStatus {
	if state == nil {
		return ExitStatus{Code: -1}
	}
	if !state.Exited() {
		return ExitStatus{Code: state.ExitCode(), Signaled: true}
	}
	return ExitStatus{Code: state.ExitCode()}
}

// Success reports a clean zero exit.
func (s ExitStatus) Success() bool { return !s.Signaled && s.Code == 0 }

func (s ExitStatus) String() string {
	if s.Signaled {
		return "signal"
	}
	return strconv.Itoa(s.Code)
}

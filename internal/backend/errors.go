package backend

import (
	"errors"
	"fmt"
	"time"

	"mover/internal/procutil"
)

// SpawnError: the backend process could not be created.
type SpawnError struct {
	Bin string
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn `%s serve`: %v", e.Bin, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// PrematureExitError: the owned backend exited before it became reachable.
type PrematureExitError struct {
	Bin    string
	Status procutil.ExitStatus
}

func (e *PrematureExitError) Error() string {
	return fmt.Sprintf("`%s serve` exited prematurely with status %s", e.Bin, e.Status)
}

// ReadinessTimeoutError: the deadline elapsed while the backend was unreachable.
type ReadinessTimeoutError struct {
	Bin     string
	Addr    string
	Timeout time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for `%s serve` to become ready on %s", e.Timeout, e.Bin, e.Addr)
}

// IsSpawn reports whether err is a SpawnError.
func IsSpawn(err error) bool {
	var e *SpawnError
	return errors.As(err, &e)
}

// IsPrematureExit reports whether err is a PrematureExitError.
func IsPrematureExit(err error) bool {
	var e *PrematureExitError
	return errors.As(err, &e)
}

// IsReadinessTimeout reports whether err is a ReadinessTimeoutError.
func IsReadinessTimeout(err error) bool {
	var e *ReadinessTimeoutError
	return errors.As(err, &e)
}

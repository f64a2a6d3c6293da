package launch

import (
	"errors"
	"fmt"

	"mover/internal/procutil"
)

// SpawnError means the downstream tool could not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("launch %s: %v", e.Path, e.Err) }

func (e *SpawnError) Unwrap() error { return e.Err }

// DownstreamError means the tool ran and exited unsuccessfully.
type DownstreamError struct {
	Path   string
	Status procutil.ExitStatus
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("%s exited with status %s", e.Path, e.Status)
}

// ExitCode is the code mover should exit with. A tool killed by a signal
// maps to 1.
func (e *DownstreamError) ExitCode() int {
	if e.Status.Signaled || e.Status.Code <= 0 {
		return 1
	}
	return e.Status.Code
}

func IsSpawn(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}

func IsDownstream(err error) bool {
	var de *DownstreamError
	return errors.As(err, &de)
}

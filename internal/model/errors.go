package model

import (
	"errors"
	"fmt"

	"mover/internal/procutil"
)

// PullError reports a failed `<bin> pull`. Err is set when the command could
// not be started, Status when it ran and exited non-zero.
type PullError struct {
	Model  string
	Status procutil.ExitStatus
	Err    error
}

func (e *PullError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pull %s: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("pull %s failed with status %s", e.Model, e.Status)
}

func (e *PullError) Unwrap() error { return e.Err }

// IsPull reports whether err is a *PullError.
func IsPull(err error) bool {
	var pe *PullError
	return errors.As(err, &pe)
}

// WarmupError reports a failed warm-up exchange. Exactly one of Status (HTTP
// failure), Message (error embedded in a successful response) or Err
// (transport or decode failure) explains it.
type WarmupError struct {
	Model   string
	Status  int
	Body    string
	Message string
	Err     error
}

func (e *WarmupError) Error() string {
	switch {
	case e.Status >= 400:
		return fmt.Sprintf("warm-up request for %s failed with status %d: %s", e.Model, e.Status, e.Body)
	case e.Message != "":
		return fmt.Sprintf("warm-up for %s returned an error: %s", e.Model, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("warm-up for %s: %v", e.Model, e.Err)
	default:
		return fmt.Sprintf("warm-up for %s failed", e.Model)
	}
}

func (e *WarmupError) Unwrap() error { return e.Err }

// IsWarmup reports whether err is a *WarmupError.
func IsWarmup(err error) bool {
	var we *WarmupError
	return errors.As(err, &we)
}

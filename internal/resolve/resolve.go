// Package resolve turns a user-supplied executable reference into a path
// that can be started.
package resolve

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mover/internal/common/fsutil"
)

// Extensions tried, in order, when the input names a directory.
var Extensions = []string{"", ".exe", ".cmd", ".ps1", ".bat"}

// Error explains why an executable could not be resolved.
type Error struct {
	Input  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %q: %s: %v", e.Input, e.Reason, e.Err)
	}
	return fmt.Sprintf("resolve %q: %s", e.Input, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// IsError reports whether err is a resolver *Error.
func IsError(err error) bool {
	var re *Error
	return errors.As(err, &re)
}

// Resolver applies the directory, file and PATH rules for one tool name.
// Stat and LookPath are swappable for tests.
type Resolver struct {
	Tool     string
	Stat     func(string) (fs.FileInfo, error)
	LookPath func(string) (string, error)
}

// New returns a Resolver for tool backed by the real filesystem and PATH.
func New(tool string) *Resolver {
	return &Resolver{Tool: tool, Stat: os.Stat, LookPath: exec.LookPath}
}

// Executable resolves input for tool with the default Resolver.
func Executable(input, tool string) (string, error) {
	return New(tool).Resolve(input)
}

// Resolve returns the path to run for input:
//   - a directory is searched for Tool with each of Extensions;
//   - an existing file is returned as given;
//   - anything else is looked up on PATH.
func (r *Resolver) Resolve(input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", &Error{Input: input, Reason: "empty executable path"}
	}
	expanded, err := fsutil.ExpandHome(input)
	if err != nil {
		return "", &Error{Input: input, Reason: "expand home", Err: err}
	}

	if fi, err := r.Stat(expanded); err == nil {
		if !fi.IsDir() {
			return expanded, nil
		}
		return r.inDir(input, expanded)
	}

	p, err := r.LookPath(expanded)
	if err != nil {
		return "", &Error{Input: input, Reason: fmt.Sprintf("not an existing file and not found on PATH (looked up %q)", expanded), Err: err}
	}
	return p, nil
}

func (r *Resolver) inDir(input, dir string) (string, error) {
	candidates := make([]string, 0, len(Extensions))
	for _, ext := range Extensions {
		name := r.Tool + ext
		candidates = append(candidates, name)
		p := filepath.Join(dir, name)
		if fi, err := r.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", &Error{Input: input, Reason: fmt.Sprintf("directory %s contains none of %s", dir, strings.Join(candidates, ", "))}
}

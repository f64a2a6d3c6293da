package procutil

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
)

// Commander builds commands. Tests swap it to run helper processes.
type Commander interface {
	Command(name string, args ...string) *exec.Cmd
}

// ExecCommander is the default Commander backed by exec.Command.
type ExecCommander struct{}

func (ExecCommander) Command(name string, args ...string) *exec.Cmd {
	return exec.Command(name, args...)
}

// SetEnv appends env to cmd's environment, starting from the parent
// environment when cmd has none yet. Later entries win on duplicate keys.
func SetEnv(cmd *exec.Cmd, env map[string]string) {
	base := cmd.Env
	if base == nil {
		base = os.Environ()
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		base = append(base, fmt.Sprintf("%s=%s", k, env[k]))
	}
	cmd.Env = base
}

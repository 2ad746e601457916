package remote

import (
	"regexp"
	"strings"
)

// Command is a structured remote command. It is built from an argument
// vector and rendered with per-argument quoting, so values derived from user
// input (names, paths, ports) are never interpolated into a string the
// remote shell re-parses.
type Command struct {
	path string
	args []string
	dir  string
}

// Cmd builds a Command from a program path and its arguments.
func Cmd(path string, args ...string) Command {
	return Command{path: path, args: args}
}

// InDir returns a copy of the command that runs inside dir on the remote
// host.
func (c Command) InDir(dir string) Command {
	c.dir = dir
	return c
}

// String renders the command for the remote shell, quoting every argument.
func (c Command) String() string {
	parts := make([]string, 0, len(c.args)+1)
	parts = append(parts, Quote(c.path))
	for _, arg := range c.args {
		parts = append(parts, Quote(arg))
	}

	rendered := strings.Join(parts, " ")
	if c.dir != "" {
		rendered = "cd " + Quote(c.dir) + " && " + rendered
	}
	return rendered
}

var safeArg = regexp.MustCompile(`^[a-zA-Z0-9@%+=:,./^_-]+$`)

// Quote shell-quotes a single argument. Arguments containing only safe
// characters are left bare to keep logged commands readable.
func Quote(arg string) string {
	if arg != "" && safeArg.MatchString(arg) {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

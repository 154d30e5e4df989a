package engine

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Command describes one engine subprocess.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// Runner executes engine commands and returns their standard output.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

const stderrTailLimit = 2048

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, c Command) ([]byte, error) {
	path, err := exec.LookPath(c.Path)
	if err != nil {
		return nil, fmt.Errorf("engine executable %q not found: %w", c.Path, err)
	}
	cmd := exec.CommandContext(ctx, path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		tail := strings.TrimSpace(stderr.String())
		if len(tail) > stderrTailLimit {
			tail = "..." + tail[len(tail)-stderrTailLimit:]
		}
		if tail == "" {
			return stdout.Bytes(), fmt.Errorf("%s: %w", c.Path, err)
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w: %s", c.Path, err, tail)
	}
	return stdout.Bytes(), nil
}

// Package executil wraps external command execution for the crawl pipeline.
package executil

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Runner executes external commands. When IgnoreErrors is set, failures are
// logged and swallowed so a single broken tool invocation does not abort a
// long crawl; otherwise failures propagate to the caller.
type Runner struct {
	IgnoreErrors bool
	logger       *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(ignoreErrors bool, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{IgnoreErrors: ignoreErrors, logger: logger}
}

// Run executes name with args and discards its output.
func (r *Runner) Run(ctx context.Context, name string, args ...string) error {
	_, err := r.Output(ctx, name, args...)
	return err
}

// Output executes name with args and returns its trimmed stdout.
func (r *Runner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		wrapped := fmt.Errorf("run %s: %w (stderr: %s)", name, err, strings.TrimSpace(stderr.String()))
		if r.IgnoreErrors {
			r.logger.Warn("External command error ignored",
				zap.String("command", name),
				zap.Strings("args", args),
				zap.Error(err),
			)
			return "", nil
		}
		return "", wrapped
	}
	return strings.TrimSpace(stdout.String()), nil
}

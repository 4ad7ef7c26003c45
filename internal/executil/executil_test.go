package executil

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestOutputReturnsTrimmedStdout(t *testing.T) {
	t.Parallel()

	r := NewRunner(false, zap.NewNop())
	out, err := r.Output(context.Background(), "echo", "hello")
	if err != nil {
		t.Fatalf("Output() error = %v", err)
	}
	if out != "hello" {
		t.Fatalf("expected hello, got %q", out)
	}
}

func TestRunPropagatesFailure(t *testing.T) {
	t.Parallel()

	r := NewRunner(false, zap.NewNop())
	if err := r.Run(context.Background(), "false"); err == nil {
		t.Fatal("expected error from failing command")
	}
}

func TestRunSwallowsFailureWhenIgnoring(t *testing.T) {
	t.Parallel()

	r := NewRunner(true, zap.NewNop())
	if err := r.Run(context.Background(), "false"); err != nil {
		t.Fatalf("expected failure to be swallowed, got %v", err)
	}
}

func TestRunMissingBinary(t *testing.T) {
	t.Parallel()

	r := NewRunner(false, zap.NewNop())
	if err := r.Run(context.Background(), "definitely-not-a-binary-42"); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

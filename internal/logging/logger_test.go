// Package logging includes tests for the zap logger helpers.
package logging

import "testing"

func TestNewBuildsBothModes(t *testing.T) {
	t.Parallel()

	for _, development := range []bool{true, false} {
		logger, err := New(development)
		if err != nil {
			t.Fatalf("New(%v) error = %v", development, err)
		}
		if logger == nil {
			t.Fatalf("New(%v) returned nil logger", development)
		}
		if got := logger.Name(); got != "edx-crawler" {
			t.Fatalf("New(%v) logger name = %q, want edx-crawler", development, got)
		}
		logger.Info("logger ready")
		_ = logger.Sync()
	}
}

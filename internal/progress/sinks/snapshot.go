package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edx-tools/edx-crawler/internal/progress"
)

// RunSnapshot is the externally visible state of one crawl run.
type RunSnapshot struct {
	RunID      uuid.UUID `json:"run_id"`
	Course     string    `json:"course,omitempty"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Fetches    int64     `json:"fetches"`
	UnitsSaved int64     `json:"units_saved"`
	Bytes      int64     `json:"bytes"`
	Note       string    `json:"note,omitempty"`
}

// Run status values exposed by the snapshot store.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunError   = "error"
)

// SnapshotSink maintains in-memory run snapshots for the monitor API.
type SnapshotSink struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*RunSnapshot
}

// NewSnapshotSink constructs an empty snapshot store.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{runs: make(map[uuid.UUID]*RunSnapshot)}
}

// Consume folds the event into the per-run snapshot.
func (s *SnapshotSink) Consume(_ context.Context, evt progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.runs[evt.RunID]
	if !ok {
		snap = &RunSnapshot{RunID: evt.RunID, Status: RunRunning, StartedAt: evt.TS}
		s.runs[evt.RunID] = snap
	}
	if evt.Course != "" {
		snap.Course = evt.Course
	}
	switch evt.Stage {
	case progress.StageRunStart:
		snap.StartedAt = evt.TS
		snap.Status = RunRunning
	case progress.StageRunDone:
		snap.Status = RunSuccess
		snap.FinishedAt = evt.TS
	case progress.StageRunError:
		snap.Status = RunError
		snap.FinishedAt = evt.TS
		snap.Note = evt.Note
	case progress.StageFetchDone:
		snap.Fetches++
		snap.Bytes += evt.Bytes
	case progress.StageUnitSaved:
		snap.UnitsSaved++
	}
	return nil
}

// Get returns the snapshot for a run.
func (s *SnapshotSink) Get(runID uuid.UUID) (RunSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.runs[runID]
	if !ok {
		return RunSnapshot{}, false
	}
	return *snap, true
}

// List returns all known run snapshots.
func (s *SnapshotSink) List() []RunSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunSnapshot, 0, len(s.runs))
	for _, snap := range s.runs {
		out = append(out, *snap)
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}

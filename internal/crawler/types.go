// Package crawler orchestrates course crawl runs: course selection, unit
// extraction, output persistence and run bookkeeping.
package crawler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of one crawl run.
type RunStatus string

// Supported run states.
const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is the bookkeeping row for one course crawl.
type Run struct {
	ID         uuid.UUID
	Platform   string
	CourseID   string
	CourseName string
	CourseURL  string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	Error      string
	Counters   RunCounters
}

// RunCounters aggregates what a run produced.
type RunCounters struct {
	Units         int   `json:"units"`
	TextBlocks    int   `json:"text_blocks"`
	ProblemBlocks int   `json:"problem_blocks"`
	VideoBlocks   int   `json:"video_blocks"`
	Resources     int   `json:"resources"`
	Bytes         int64 `json:"bytes"`
}

// UnitRecord describes one persisted unit page.
type UnitRecord struct {
	RunID       uuid.UUID
	CourseID    string
	Section     string
	SubSection  string
	Unit        string
	Filename    string
	Bytes       int
	RetrievedAt time.Time
}

// RunStore persists run and unit metadata.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	CompleteRun(ctx context.Context, runID uuid.UUID, status RunStatus, errText string, counters RunCounters) error
	RecordUnit(ctx context.Context, unit UnitRecord) error
}

// Publisher pushes run-completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunCompleted is the payload published when a course crawl finishes.
type RunCompleted struct {
	RunID      uuid.UUID   `json:"run_id"`
	Platform   string      `json:"platform"`
	CourseID   string      `json:"course_id"`
	CourseName string      `json:"course_name"`
	Status     RunStatus   `json:"status"`
	ArchiveURI string      `json:"archive_uri,omitempty"`
	Counters   RunCounters `json:"counters"`
	FinishedAt time.Time   `json:"finished_at"`
}

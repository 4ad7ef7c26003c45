package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/edx-tools/edx-crawler/internal/crawler"
)

func TestCreateRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "crawl_runs", "crawl_units")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	run := crawler.Run{
		ID:         uuid.New(),
		Platform:   "edx",
		CourseID:   "course-v1:GEO+101+2026",
		CourseName: "Intro to Geoscience",
		CourseURL:  "https://courses.edx.org/courses/course-v1:GEO+101+2026/course/",
		StartedAt:  started,
		Status:     crawler.RunRunning,
	}

	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs(
			run.ID,
			run.Platform,
			run.CourseID,
			run.CourseName,
			run.CourseURL,
			run.StartedAt,
			"running",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunUpdatesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "", "")
	require.NoError(t, err)

	runID := uuid.New()
	counters := crawler.RunCounters{Units: 3, TextBlocks: 2, ProblemBlocks: 1, VideoBlocks: 1, Resources: 4, Bytes: 2048}

	mock.ExpectExec("UPDATE crawl_runs SET").
		WithArgs(
			runID,
			pgxmock.AnyArg(),
			"succeeded",
			"",
			counters.Units,
			counters.TextBlocks,
			counters.ProblemBlocks,
			counters.VideoBlocks,
			counters.Resources,
			counters.Bytes,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.CompleteRun(context.Background(), runID, crawler.RunSucceeded, "", counters))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordUnitInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "", "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	unit := crawler.UnitRecord{
		RunID:       uuid.New(),
		CourseID:    "course-v1:GEO+101+2026",
		Section:     "01-Week 1",
		SubSection:  "Basics",
		Unit:        "Plate Tectonics",
		Filename:    "0001.html",
		Bytes:       512,
		RetrievedAt: now,
	}

	mock.ExpectExec("INSERT INTO crawl_units").
		WithArgs(
			unit.RunID,
			unit.CourseID,
			unit.Section,
			unit.SubSection,
			unit.Unit,
			unit.Filename,
			unit.Bytes,
			unit.RetrievedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordUnit(context.Background(), unit))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRunStoreWithPoolRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRunStoreWithPool(mock, "crawl runs; drop", "")
	require.Error(t, err)
}

package crawler

import (
	"context"
	"html"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edx-tools/edx-crawler/internal/edx"
	"github.com/edx-tools/edx-crawler/internal/fetch"
	"github.com/edx-tools/edx-crawler/internal/progress"
	"github.com/edx-tools/edx-crawler/internal/storage/memory"
)

const unitMarkup = `<div>
<h2 class="unit-title">Plate Tectonics</h2>
<div data-block-type="html"><p>Continents drift.</p></div>
<div data-block-type="problem"><div data-content="&lt;p&gt;Pick one&lt;/p&gt;&lt;div class=&quot;choicegroup&quot;&gt;&lt;input type=&quot;radio&quot;&gt;&lt;/div&gt;"></div></div>
<a href="/assets/notes.pdf">notes</a>
</div>`

type captureStore struct {
	mu        sync.Mutex
	created   []Run
	completed []RunStatus
	units     []UnitRecord
}

func (s *captureStore) CreateRun(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, run)
	return nil
}

func (s *captureStore) CompleteRun(_ context.Context, _ uuid.UUID, status RunStatus, _ string, _ RunCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, status)
	return nil
}

func (s *captureStore) RecordUnit(_ context.Context, unit UnitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units = append(s.units, unit)
	return nil
}

type capturePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads []any
}

func (p *capturePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return "msg-1", nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *captureEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *captureEmitter) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	stages := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		stages = append(stages, evt.Stage)
	}
	return stages
}

func newCourseServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/login_ajax", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "tok-9", Path: "/"})
			_, _ = w.Write([]byte("<html>login</html>"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true}`))
	})
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<article class="course" data-course-key="course-v1:GEO+101+2026">
<h3 class="course-title"><a href="/courses/course-v1:GEO+101+2026/course/">Intro to Geoscience</a></h3>
</article>`))
	})
	mux.HandleFunc("/courses/course-v1:GEO+101+2026/course/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<div class="chapter"><h3><a>Week 1</a></h3>
<ul><li><a href="/courses/course-v1:GEO+101+2026/courseware/week1/sub1/"><p>Basics</p></a></li></ul>
</div>`))
	})
	mux.HandleFunc("/courses/course-v1:GEO+101+2026/courseware/week1/sub1/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<div id="seq_contents_0">` + html.EscapeString(unitMarkup) + `</div>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestEngine(t *testing.T, srv *httptest.Server, htmlDir string, store RunStore, blobs *memory.BlobStore, pub Publisher, emitter progress.Emitter) *Engine {
	t.Helper()

	fetcher, err := fetch.New(fetch.Config{UserAgent: "edx-crawler-test", Timeout: 5 * time.Second}, zap.NewNop())
	require.NoError(t, err)
	client := edx.NewClient(fetcher, srv.URL, zap.NewNop())

	cfg := Config{
		Platform:        "edx",
		HTMLDir:         htmlDir,
		FileFormats:     []string{"pdf"},
		Sequential:      true,
		Concurrency:     2,
		ArchiveSource:   true,
		RemoveSourceDir: true,
		BlobPrefix:      "courses",
		Topic:           "crawl-runs",
	}
	return NewEngine(cfg, client, nil, store, blobs, pub, emitter, zap.NewNop())
}

func TestEngineRunCrawlsCourse(t *testing.T) {
	t.Parallel()

	srv := newCourseServer(t)
	htmlDir := t.TempDir()
	store := &captureStore{}
	blobs := memory.NewBlobStore()
	pub := &capturePublisher{}
	emitter := &captureEmitter{}

	engine := newTestEngine(t, srv, htmlDir, store, blobs, pub, emitter)
	runs, err := engine.Run(context.Background(), "learner@example.com", "hunter2")
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	require.Equal(t, RunSucceeded, run.Status)
	require.Equal(t, "course-v1:GEO+101+2026", run.CourseID)
	require.Equal(t, 1, run.Counters.Units)
	require.Equal(t, 1, run.Counters.TextBlocks)
	require.Equal(t, 1, run.Counters.ProblemBlocks)
	require.Equal(t, 0, run.Counters.VideoBlocks)
	require.Equal(t, 1, run.Counters.Resources)
	require.False(t, run.FinishedAt.IsZero())

	courseRoot := filepath.Join(htmlDir, "Intro to Geoscience")
	for _, name := range []string{"all_textcomp.json", "all_probcomp.json", "all_videocomp.json", "all_comp.json", "all_prob_type.txt", "resource_urls.txt", "sourcefile.tar.gz"} {
		_, err := os.Stat(filepath.Join(courseRoot, name))
		require.NoError(t, err, name)
	}
	_, err = os.Stat(filepath.Join(courseRoot, sourceHTMLDir))
	require.True(t, os.IsNotExist(err), "source dir should be removed after archiving")

	archived, ok := blobs.Object("courses/Intro to Geoscience/sourcefile.tar.gz")
	require.True(t, ok)
	require.NotEmpty(t, archived)

	require.Len(t, store.created, 1)
	require.Equal(t, []RunStatus{RunSucceeded}, store.completed)
	require.Len(t, store.units, 1)
	require.Equal(t, "Plate Tectonics", store.units[0].Unit)
	require.Equal(t, "0001.html", store.units[0].Filename)

	require.Equal(t, []string{"crawl-runs"}, pub.topics)
	completed, ok := pub.payloads[0].(RunCompleted)
	require.True(t, ok)
	require.Equal(t, run.ID, completed.RunID)
	require.Equal(t, RunSucceeded, completed.Status)
	require.Contains(t, completed.ArchiveURI, "sourcefile.tar.gz")

	stages := emitter.stages()
	require.Contains(t, stages, progress.StageRunStart)
	require.Contains(t, stages, progress.StageFetchDone)
	require.Contains(t, stages, progress.StageUnitSaved)
	require.Contains(t, stages, progress.StageRunDone)
}

func TestEngineRunLoginFailure(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/login_ajax", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "tok", Path: "/"})
			_, _ = w.Write([]byte("<html></html>"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": false, "value": "bad credentials"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	engine := newTestEngine(t, srv, t.TempDir(), nil, memory.NewBlobStore(), nil, nil)
	_, err := engine.Run(context.Background(), "learner@example.com", "wrong")
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad credentials")
}

func TestResolveVideoSeedsSpeechPeriodsDeterministically(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/transcript/translation/de", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"start": [0], "end": [1000], "text": ["hallo"]}`))
	})
	mux.HandleFunc("/transcript/translation/en", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"start": [0], "end": [2000], "text": ["hello"]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	engine := newTestEngine(t, srv, t.TempDir(), nil, memory.NewBlobStore(), nil, nil)
	sink, err := NewSink(t.TempDir(), "geo", nil)
	require.NoError(t, err)

	component := edx.VideoComponent{
		VideoID:            "video_a1",
		TranscriptTemplate: "/transcript/translation/__lang__",
		TranscriptLanguages: map[string]string{
			"en": "English",
			"de": "Deutsch",
		},
	}
	ref := subsectionRef{sectionName: "01-Week 1", subName: "Basics"}

	for i := 0; i < 5; i++ {
		block := engine.resolveVideo(context.Background(), sink, ref, "Plate Tectonics", component)
		require.Len(t, block.Transcripts, 2)
		// "de" sorts first, so its cue timing always seeds the periods.
		require.Equal(t, []float64{1}, block.SpeechPeriods)
	}
}

func TestSelectCourses(t *testing.T) {
	t.Parallel()

	courses := []edx.Course{
		{ID: "a", URL: "https://edx.test/courses/a/course/", State: "Started"},
		{ID: "b", URL: "https://edx.test/courses/b/course/", State: "Started"},
		{ID: "c", URL: "https://edx.test/courses/c/course/", State: "Not yet"},
	}

	selected, err := selectCourses(courses, nil)
	require.NoError(t, err)
	require.Len(t, selected, 2)

	selected, err = selectCourses(courses, []string{"https://edx.test/courses/b/course"})
	require.NoError(t, err)
	require.Len(t, selected, 1)
	require.Equal(t, "b", selected[0].ID)

	_, err = selectCourses(courses, []string{"https://edx.test/courses/missing/course/"})
	require.Error(t, err)
}

func TestCoursewareURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://edx.test/courses/x/info", "https://edx.test/courses/x/course"},
		{"https://edx.test/courses/x/course/", "https://edx.test/courses/x/course"},
		{"https://edx.test/courses/x", "https://edx.test/courses/x/course"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, coursewareURL(tc.in), tc.in)
	}
}

func TestFilterSections(t *testing.T) {
	t.Parallel()

	sections := []edx.Section{{Position: 1, Name: "one"}, {Position: 2, Name: "two"}}
	require.Len(t, filterSections(sections, 0), 2)

	filtered := filterSections(sections, 2)
	require.Len(t, filtered, 1)
	require.Equal(t, "two", filtered[0].Name)

	require.Empty(t, filterSections(sections, 9))
}

func TestParseClockDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "45", want: 45},
		{in: "4:05", want: 245},
		{in: "1:02:03", want: 3723},
		{in: "  2:30\n", want: 150},
		{in: "", wantErr: true},
		{in: "1:2:3:4", wantErr: true},
		{in: "abc", wantErr: true},
	}
	for _, tc := range tests {
		got, err := parseClockDuration(tc.in)
		if tc.wantErr {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

package crawler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/edx-tools/edx-crawler/internal/dedup"
	"github.com/edx-tools/edx-crawler/internal/edx"
	"github.com/edx-tools/edx-crawler/internal/executil"
	"github.com/edx-tools/edx-crawler/internal/progress"
	"github.com/edx-tools/edx-crawler/internal/storage"
)

// Config controls one engine invocation.
type Config struct {
	Platform        string
	CourseURLs      []string
	HTMLDir         string
	FilterSection   int
	FileFormats     []string
	Sequential      bool
	Concurrency     int
	ArchiveSource   bool
	RemoveSourceDir bool
	BlobPrefix      string
	Topic           string
	YoutubeDL       string
}

// Engine runs course crawls end to end: login, outline discovery, unit
// snapshots, component extraction and artifact publication.
type Engine struct {
	cfg       Config
	client    *edx.Client
	runner    *executil.Runner
	store     RunStore
	blobs     storage.BlobStore
	publisher Publisher
	emitter   progress.Emitter
	logger    *zap.Logger
}

// NewEngine wires an Engine. store and publisher may be nil; blobs and emitter
// default to no-ops when nil.
func NewEngine(cfg Config, client *edx.Client, runner *executil.Runner, store RunStore, blobs storage.BlobStore, publisher Publisher, emitter progress.Emitter, logger *zap.Logger) *Engine {
	if blobs == nil {
		blobs = storage.NoOp{}
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Engine{
		cfg:       cfg,
		client:    client,
		runner:    runner,
		store:     store,
		blobs:     blobs,
		publisher: publisher,
		emitter:   emitter,
		logger:    logger,
	}
}

// Run logs in and crawls every selected course. A failing course does not stop
// the remaining ones; the returned runs carry the per-course outcome.
func (e *Engine) Run(ctx context.Context, username, password string) ([]Run, error) {
	if err := e.client.BuildHeaders(ctx); err != nil {
		return nil, err
	}
	if err := e.client.Login(ctx, username, password); err != nil {
		return nil, err
	}

	courses, err := e.client.Courses(ctx)
	if err != nil {
		return nil, err
	}
	selected, err := selectCourses(courses, e.cfg.CourseURLs)
	if err != nil {
		return nil, err
	}

	runs := make([]Run, 0, len(selected))
	for _, course := range selected {
		if ctx.Err() != nil {
			return runs, ctx.Err()
		}
		run := e.crawlCourse(ctx, course)
		runs = append(runs, run)
		if run.Status != RunSucceeded {
			e.logger.Error("Course crawl failed",
				zap.String("course", course.ID),
				zap.String("error", run.Error))
		}
	}
	return runs, nil
}

// selectCourses keeps the started courses matching the configured URLs. An
// empty filter selects every started course.
func selectCourses(courses []edx.Course, urls []string) ([]edx.Course, error) {
	wanted := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		wanted[strings.TrimRight(u, "/")] = struct{}{}
	}

	var selected []edx.Course
	for _, course := range courses {
		if course.State != "Started" {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[strings.TrimRight(course.URL, "/")]; !ok {
				continue
			}
		}
		selected = append(selected, course)
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no started course matches the configured course urls")
	}
	return selected, nil
}

// coursewareURL rewrites a dashboard course link into its courseware outline
// page. Dashboard links end in /info or /course depending on platform age.
func coursewareURL(courseURL string) string {
	trimmed := strings.TrimRight(courseURL, "/")
	if strings.HasSuffix(trimmed, "/info") {
		return strings.TrimSuffix(trimmed, "/info") + "/course"
	}
	if !strings.HasSuffix(trimmed, "/course") {
		return trimmed + "/course"
	}
	return trimmed
}

type subsectionRef struct {
	sectionName string
	subName     string
}

type subsectionPage struct {
	ref    subsectionRef
	body   []byte
	status int
	url    string
	dur    time.Duration
	err    error
}

func (e *Engine) crawlCourse(ctx context.Context, course edx.Course) Run {
	started := time.Now().UTC()
	run := Run{
		ID:         uuid.New(),
		Platform:   e.cfg.Platform,
		CourseID:   course.ID,
		CourseName: course.Name,
		CourseURL:  course.URL,
		StartedAt:  started,
		Status:     RunRunning,
	}
	e.emitter.Emit(progress.Event{
		RunID:  run.ID,
		TS:     started,
		Stage:  progress.StageRunStart,
		Course: course.ID,
	})
	if e.store != nil {
		if err := e.store.CreateRun(ctx, run); err != nil {
			return e.finishRun(ctx, run, fmt.Errorf("create run: %w", err))
		}
	}

	sink, err := NewSink(e.cfg.HTMLDir, course.Name, e.logger)
	if err != nil {
		return e.finishRun(ctx, run, err)
	}

	sections, err := e.client.Sections(ctx, coursewareURL(course.URL))
	if err != nil {
		return e.finishRun(ctx, run, err)
	}
	sections = filterSections(sections, e.cfg.FilterSection)
	e.logger.Info("Crawling course",
		zap.String("course", course.ID),
		zap.Int("sections", len(sections)))

	pages := e.fetchSubsections(ctx, sections)

	counters, archiveURI, err := e.processPages(ctx, run, sink, pages)
	run.Counters = counters
	if err != nil {
		return e.finishRun(ctx, run, err)
	}

	run.Status = RunSucceeded
	run.FinishedAt = time.Now().UTC()
	if e.store != nil {
		if err := e.store.CompleteRun(ctx, run.ID, RunSucceeded, "", counters); err != nil {
			e.logger.Warn("Failed to record run completion", zap.Error(err))
		}
	}
	e.publishCompletion(ctx, run, archiveURI)
	e.emitter.Emit(progress.Event{
		RunID:  run.ID,
		TS:     run.FinishedAt,
		Stage:  progress.StageRunDone,
		Course: course.ID,
		Dur:    run.FinishedAt.Sub(run.StartedAt),
	})
	return run
}

// finishRun marks a failed run everywhere it is tracked.
func (e *Engine) finishRun(ctx context.Context, run Run, cause error) Run {
	run.Status = RunFailed
	run.Error = cause.Error()
	run.FinishedAt = time.Now().UTC()
	if e.store != nil {
		if err := e.store.CompleteRun(ctx, run.ID, RunFailed, run.Error, run.Counters); err != nil {
			e.logger.Warn("Failed to record run failure", zap.Error(err))
		}
	}
	e.emitter.Emit(progress.Event{
		RunID:  run.ID,
		TS:     run.FinishedAt,
		Stage:  progress.StageRunError,
		Course: run.CourseID,
		Dur:    run.FinishedAt.Sub(run.StartedAt),
		Note:   run.Error,
	})
	return run
}

// filterSections narrows the outline to one section position (1-based) when
// requested.
func filterSections(sections []edx.Section, position int) []edx.Section {
	if position <= 0 {
		return sections
	}
	for _, section := range sections {
		if section.Position == position {
			return []edx.Section{section}
		}
	}
	return nil
}

// fetchSubsections downloads every subsection page, in outline order. Unless
// sequential mode is on, downloads run concurrently but results keep their
// outline position.
func (e *Engine) fetchSubsections(ctx context.Context, sections []edx.Section) []subsectionPage {
	var refs []subsectionRef
	var urls []string
	for _, section := range sections {
		sectionName := fmt.Sprintf("%02d-%s", section.Position, section.Name)
		for _, sub := range section.SubSections {
			refs = append(refs, subsectionRef{sectionName: sectionName, subName: sub.Name})
			urls = append(urls, sub.URL)
		}
	}

	pages := make([]subsectionPage, len(refs))
	fetchOne := func(i int) {
		begin := time.Now()
		page, err := e.client.SubSectionPage(ctx, urls[i])
		pages[i] = subsectionPage{
			ref:    refs[i],
			body:   page.Body,
			status: page.StatusCode,
			url:    urls[i],
			dur:    time.Since(begin),
			err:    err,
		}
	}

	if e.cfg.Sequential {
		for i := range refs {
			fetchOne(i)
		}
		return pages
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i := range refs {
		g.Go(func() error {
			fetchOne(i)
			return nil
		})
	}
	_ = g.Wait() // workers report through the pages slice
	return pages
}

// processPages walks the fetched pages in outline order, persists unit
// snapshots and aggregates the extracted components into the course output
// files.
func (e *Engine) processPages(ctx context.Context, run Run, sink *Sink, pages []subsectionPage) (RunCounters, string, error) {
	var counters RunCounters
	texts := map[string]edx.TextBlock{}
	problems := map[string]edx.ProblemBlock{}
	videos := map[string]edx.VideoBlock{}
	components := map[string]map[string]string{}
	var rows []MetadataRow
	var problemTypes []string
	var resources []string
	seen := map[string]struct{}{}

	unitCounter := 0
	textCounter := 0
	problemCounter := 0
	videoCounter := 0
	componentCounter := 0

	for _, page := range pages {
		if page.err != nil {
			return counters, "", fmt.Errorf("fetch subsection %s: %w", page.url, page.err)
		}
		counters.Bytes += int64(len(page.body))
		e.emitter.Emit(progress.Event{
			RunID:       run.ID,
			TS:          time.Now().UTC(),
			Stage:       progress.StageFetchDone,
			Course:      run.CourseID,
			URL:         page.url,
			Bytes:       int64(len(page.body)),
			StatusClass: progress.ClassifyStatus(page.status),
			Dur:         page.dur,
		})

		units, err := edx.ExtractUnits(page.body)
		if err != nil {
			return counters, "", err
		}
		for _, unit := range units {
			unitCounter++
			filename, err := sink.SaveUnitHTML(unitCounter, unit.HTML)
			if err != nil {
				return counters, "", err
			}
			counters.Units++
			rows = append(rows, MetadataRow{
				Section:    page.ref.sectionName,
				SubSection: page.ref.subName,
				Unit:       unit.Title,
				HTMLFile:   filename,
			})
			e.emitter.Emit(progress.Event{
				RunID:  run.ID,
				TS:     time.Now().UTC(),
				Stage:  progress.StageUnitSaved,
				Course: run.CourseID,
				Bytes:  int64(len(unit.HTML)),
			})
			if e.store != nil {
				record := UnitRecord{
					RunID:       run.ID,
					CourseID:    run.CourseID,
					Section:     page.ref.sectionName,
					SubSection:  page.ref.subName,
					Unit:        unit.Title,
					Filename:    filename,
					Bytes:       len(unit.HTML),
					RetrievedAt: time.Now().UTC(),
				}
				if err := e.store.RecordUnit(ctx, record); err != nil {
					e.logger.Warn("Failed to record unit", zap.Error(err))
				}
			}

			text, err := edx.ExtractTextBlocks(unit.HTML)
			if err != nil {
				return counters, "", err
			}
			if text != "" {
				textCounter++
				texts[fmt.Sprintf("text_block_%04d", textCounter)] = edx.TextBlock{
					Section:    page.ref.sectionName,
					SubSection: page.ref.subName,
					Unit:       unit.Title,
					Content:    text,
				}
				counters.TextBlocks++
			}

			probText, probTypes, err := edx.ExtractProblems(unit.HTML)
			if err != nil {
				return counters, "", err
			}
			if probText != "" || len(probTypes) > 0 {
				problemCounter++
				problems[fmt.Sprintf("quiz_block_%04d", problemCounter)] = edx.ProblemBlock{
					Section:    page.ref.sectionName,
					SubSection: page.ref.subName,
					Unit:       unit.Title,
					Content:    probText,
					Types:      probTypes,
				}
				problemTypes = append(problemTypes, probTypes...)
				counters.ProblemBlocks++
			}

			videoComponents, err := edx.ExtractVideoComponents(unit.HTML)
			if err != nil {
				return counters, "", err
			}
			for _, component := range videoComponents {
				videoCounter++
				block := e.resolveVideo(ctx, sink, page.ref, unit.Title, component)
				videos[fmt.Sprintf("video_block_%04d", videoCounter)] = block
				counters.VideoBlocks++
			}

			urls, err := edx.ExtractResourceURLs(unit.HTML, e.client.BaseURL(), e.cfg.FileFormats)
			if err != nil {
				return counters, "", err
			}
			var fresh []string
			fresh, seen = dedup.Remove(urls, seen)
			resources = append(resources, fresh...)

			types, err := edx.ComponentTypes(unit.HTML)
			if err != nil {
				return counters, "", err
			}
			for _, blockType := range types {
				componentCounter++
				components[fmt.Sprintf("%04d_%s", componentCounter, blockType)] = map[string]string{
					"section":    page.ref.sectionName,
					"subsection": page.ref.subName,
					"unit":       unit.Title,
					"type":       blockType,
				}
			}
		}
	}
	counters.Resources = len(resources)

	if err := sink.WriteJSON("all_textcomp.json", texts); err != nil {
		return counters, "", err
	}
	if err := sink.WriteJSON("all_probcomp.json", problems); err != nil {
		return counters, "", err
	}
	if err := sink.WriteJSON("all_videocomp.json", videos); err != nil {
		return counters, "", err
	}
	if err := sink.WriteJSON("all_comp.json", components); err != nil {
		return counters, "", err
	}
	if err := sink.WriteLines("all_prob_type.txt", problemTypes); err != nil {
		return counters, "", err
	}
	if err := sink.WriteLines("resource_urls.txt", resources); err != nil {
		return counters, "", err
	}
	if err := sink.WriteMetadataCSV(rows); err != nil {
		return counters, "", err
	}

	archiveURI := ""
	if e.cfg.ArchiveSource {
		uri, err := e.archive(ctx, sink)
		if err != nil {
			return counters, "", err
		}
		archiveURI = uri
	}
	return counters, archiveURI, nil
}

// resolveVideo turns a raw video component into the output block, probing
// missing durations via the external downloader and fetching the advertised
// transcript tracks.
func (e *Engine) resolveVideo(ctx context.Context, sink *Sink, ref subsectionRef, unitTitle string, component edx.VideoComponent) edx.VideoBlock {
	block := edx.VideoBlock{
		Section:     ref.sectionName,
		SubSection:  ref.subName,
		Unit:        unitTitle,
		VideoID:     component.VideoID,
		YoutubeURL:  component.YoutubeURL,
		VideoSource: component.VideoSource,
		Duration:    component.Duration,
		Start:       component.Start,
	}

	if block.Duration == 0 && block.YoutubeURL != "" && e.runner != nil {
		out, err := e.runner.Output(ctx, e.cfg.YoutubeDL, "--get-duration", block.YoutubeURL)
		if err == nil {
			if seconds, err := parseClockDuration(out); err == nil {
				block.Duration = seconds
			} else {
				e.logger.Warn("Unparseable video duration",
					zap.String("url", block.YoutubeURL),
					zap.String("output", out))
			}
		}
	}

	if component.TranscriptTemplate == "" {
		return block
	}
	langs := make([]string, 0, len(component.TranscriptLanguages))
	for lang := range component.TranscriptLanguages {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		url := edx.TranscriptURL(e.client.BaseURL(), component.TranscriptTemplate, lang)
		transcript, err := e.client.Transcript(ctx, url)
		if err != nil {
			sink.AppendTranscriptError(fmt.Sprintf("%s | %s | %s | %s: %v",
				ref.sectionName, ref.subName, unitTitle, url, err))
			continue
		}
		if block.Transcripts == nil {
			block.Transcripts = map[string]edx.Transcript{}
		}
		block.Transcripts[lang] = transcript
		if block.SpeechPeriods == nil {
			block.SpeechPeriods = transcript.SpeechPeriods()
		}
	}
	return block
}

// archive compresses the snapshot directory and pushes it to the blob store.
func (e *Engine) archive(ctx context.Context, sink *Sink) (string, error) {
	path, err := sink.Archive(e.cfg.RemoveSourceDir)
	if err != nil {
		return "", err
	}
	data, err := readArchive(path)
	if err != nil {
		return "", err
	}
	object := sink.CourseDir() + "/sourcefile.tar.gz"
	if e.cfg.BlobPrefix != "" {
		object = strings.Trim(e.cfg.BlobPrefix, "/") + "/" + object
	}
	uri, err := e.blobs.PutObject(ctx, object, "application/gzip", data)
	if err != nil {
		return "", fmt.Errorf("upload archive: %w", err)
	}
	return uri, nil
}

func (e *Engine) publishCompletion(ctx context.Context, run Run, archiveURI string) {
	if e.publisher == nil || e.cfg.Topic == "" {
		return
	}
	payload := RunCompleted{
		RunID:      run.ID,
		Platform:   run.Platform,
		CourseID:   run.CourseID,
		CourseName: run.CourseName,
		Status:     run.Status,
		ArchiveURI: archiveURI,
		Counters:   run.Counters,
		FinishedAt: run.FinishedAt,
	}
	if _, err := e.publisher.Publish(ctx, e.cfg.Topic, payload); err != nil {
		e.logger.Warn("Failed to publish run completion", zap.Error(err))
	}
}

// parseClockDuration converts yt-dlp clock output ("1:02:03", "4:05", "45")
// into seconds.
func parseClockDuration(out string) (float64, error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return 0, fmt.Errorf("empty duration")
	}
	parts := strings.Split(out, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("malformed duration %q", out)
	}
	total := 0.0
	for _, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return 0, fmt.Errorf("malformed duration %q: %w", out, err)
		}
		total = total*60 + value
	}
	return total, nil
}

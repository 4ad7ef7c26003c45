package crawler

import (
	"archive/tar"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/edx-tools/edx-crawler/internal/fsutil"
)

const sourceHTMLDir = "source_html_file"

// MetadataRow is one line of the course metadata CSV.
type MetadataRow struct {
	Section    string
	SubSection string
	Unit       string
	HTMLFile   string
}

// Sink persists crawl outputs for one course below
// <htmlDir>/<sanitized course name>/.
type Sink struct {
	courseRoot string
	sourceDir  string
	logger     *zap.Logger
}

// NewSink prepares the output tree for a course.
func NewSink(htmlDir, courseName string, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	courseRoot := filepath.Join(htmlDir, fsutil.DirectoryName(courseName))
	sourceDir := filepath.Join(courseRoot, sourceHTMLDir)
	if err := fsutil.EnsureDir(sourceDir); err != nil {
		return nil, err
	}
	return &Sink{
		courseRoot: courseRoot,
		sourceDir:  sourceDir,
		logger:     logger,
	}, nil
}

// CourseDir returns the sanitized course directory name.
func (s *Sink) CourseDir() string {
	return filepath.Base(s.courseRoot)
}

// SaveUnitHTML writes one unit snapshot as a zero-padded sequence file
// (0001.html, 0002.html, ...) and returns the file name.
func (s *Sink) SaveUnitHTML(counter int, html string) (string, error) {
	name := fmt.Sprintf("%04d.html", counter)
	target := filepath.Join(s.sourceDir, name)
	if err := os.WriteFile(target, []byte(html), 0o600); err != nil {
		return "", fmt.Errorf("write unit html %s: %w", target, err)
	}
	return name, nil
}

// WriteJSON marshals v indented into <courseRoot>/<name>. Map keys marshal in
// sorted order, matching the historical output layout.
func (s *Sink) WriteJSON(name string, v any) error {
	payload, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	target := filepath.Join(s.courseRoot, name)
	if err := os.WriteFile(target, payload, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}

// WriteMetadataCSV writes the section/subsection/unit index of the saved
// snapshot files.
func (s *Sink) WriteMetadataCSV(rows []MetadataRow) error {
	target := filepath.Join(s.sourceDir, "metadata.csv")
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"section", "subsection", "unit", "htmlfile"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write([]string{row.Section, row.SubSection, row.Unit, row.HTMLFile}); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteLines writes a newline-separated list file into the course root.
func (s *Sink) WriteLines(name string, lines []string) error {
	target := filepath.Join(s.courseRoot, name)
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	if err := os.WriteFile(target, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}

// AppendTranscriptError appends a failure report entry so transcript problems
// do not abort the crawl but remain auditable.
func (s *Sink) AppendTranscriptError(report string) {
	target := filepath.Join(s.courseRoot, "transcript_error_report.txt")
	f, err := os.OpenFile(target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.logger.Warn("Failed to open transcript error report", zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.WriteString(report + "\n"); err != nil {
		s.logger.Warn("Failed to append transcript error report", zap.Error(err))
	}
}

// Archive compresses the snapshot directory into sourcefile.tar.gz and
// optionally removes the directory afterwards. It returns the archive path.
func (s *Sink) Archive(removeSource bool) (string, error) {
	target := filepath.Join(s.courseRoot, "sourcefile.tar.gz")
	if err := s.writeTarGz(target); err != nil {
		return "", err
	}
	if removeSource {
		if err := os.RemoveAll(s.sourceDir); err != nil {
			return "", fmt.Errorf("remove source dir: %w", err)
		}
	}
	return target, nil
}

func (s *Sink) writeTarGz(target string) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", target, err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	entries, err := os.ReadDir(s.sourceDir)
	if err != nil {
		return fmt.Errorf("read source dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := s.addTarEntry(tw, entry.Name()); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip writer: %w", err)
	}
	return nil
}

func readArchive(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", path, err)
	}
	return data, nil
}

func (s *Sink) addTarEntry(tw *tar.Writer, name string) error {
	path := filepath.Join(s.sourceDir, name)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("tar header %s: %w", path, err)
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header %s: %w", name, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("copy %s into archive: %w", name, err)
	}
	return nil
}

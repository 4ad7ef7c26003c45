// Package fsutil contains the filesystem naming helpers shared by the crawl
// pipeline: filename sanitization, course directory naming, prefix lookups and
// recursive directory creation.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// DefaultCourseDir is substituted when sanitizing a course name leaves nothing
// usable for a directory.
const DefaultCourseDir = "course_folder"

// FilenameFromPrefix scans dir and returns the extension-stripped name of the
// first entry whose name starts with prefix. The boolean reports whether a
// match was found; absence is not an error.
func FilenameFromPrefix(dir, prefix string) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false, fmt.Errorf("read dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, prefix) {
			return strings.TrimSuffix(name, filepath.Ext(name)), true, nil
		}
	}
	return "", false, nil
}

// EnsureDir creates path including missing parents. An already-existing
// directory is success; any other failure propagates.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create dir %s: %w", path, err)
	}
	return nil
}

// CleanFilename sanitizes s for use as a filename. In minimal mode only the
// strictly unsafe characters are touched: ':', '/', NUL and whitespace runs
// become a single '_', and surrounding whitespace is trimmed. Full mode
// additionally drops parentheses and trailing dots and restricts the result to
// the whitelist [-_.a-zA-Z0-9]. Both modes are idempotent.
func CleanFilename(s string, minimal bool) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		if r == ':' || r == '/' || r == 0 || unicode.IsSpace(r) {
			pendingSep = true
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	if pendingSep {
		b.WriteByte('_')
	}
	out := b.String()
	if minimal {
		return out
	}

	var clean strings.Builder
	clean.Grow(len(out))
	for _, r := range out {
		if isSafeFilenameRune(r) {
			clean.WriteRune(r)
		}
	}
	return strings.TrimRight(clean.String(), ".")
}

func isSafeFilenameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_' || r == '.':
		return true
	}
	return false
}

// DirectoryName produces an ASCII-safe directory name from an arbitrary course
// title. Characters outside letters, digits, space, '_' and '.' are dropped and
// the result is trimmed; when nothing survives, DefaultCourseDir is returned.
func DirectoryName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '_' || r == '.':
			b.WriteRune(r)
		}
	}
	result := strings.TrimSpace(b.String())
	if result == "" {
		return DefaultCourseDir
	}
	return result
}

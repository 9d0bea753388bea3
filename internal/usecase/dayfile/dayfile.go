// Package dayfile maintains the human-readable source of record: one
// append-only markdown log per calendar day, parseable back into entries.
package dayfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hindsight/internal/domain"
)

// Log appends entries under a base directory's context/ folder.
type Log struct {
	dir string // <base>/context
}

// New creates a day-file log rooted at dir.
func New(dir string) *Log {
	return &Log{dir: dir}
}

// Append writes one entry section to its day file, creating the file with a
// header on first write. The format is:
//
//	# Context Log: YYYY-MM-DD
//
//	## HH:MM | <type> | tag1, tag2
//	<!-- id:<id> -->
//	<content>
func (l *Log) Append(e domain.Entry) error {
	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return fmt.Errorf("%w: context dir: %v", domain.ErrStoreUnavailable, err)
	}
	path := filepath.Join(l.dir, e.Date+".md")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("%w: open day file: %v", domain.ErrStoreUnavailable, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat day file: %v", domain.ErrStoreUnavailable, err)
	}

	var b strings.Builder
	if info.Size() == 0 {
		fmt.Fprintf(&b, "# Context Log: %s\n", e.Date)
	}
	fmt.Fprintf(&b, "\n## %s | %s | %s\n<!-- id:%s -->\n%s\n",
		e.Time, e.Type, strings.Join(e.Tags, ", "), e.ID, e.Content)

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("%w: append day file: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Path returns the day file path for a date.
func (l *Log) Path(date string) string {
	return filepath.Join(l.dir, date+".md")
}

// ParsedEntry is one section recovered from a day file.
type ParsedEntry struct {
	ID      string
	Time    string
	Type    domain.EntryType
	Tags    []string
	Content string
}

// Parse recovers entry sections from a day file's content. Sections are
// recognised by their "## " headers; the id comes from the comment line.
func Parse(content string) []ParsedEntry {
	var out []ParsedEntry
	for _, section := range strings.Split(content, "\n## ")[1:] {
		lines := strings.SplitN(section, "\n", 3)
		if len(lines) < 2 {
			continue
		}

		header := strings.SplitN(lines[0], "|", 3)
		if len(header) != 3 {
			continue
		}
		pe := ParsedEntry{
			Time: strings.TrimSpace(header[0]),
			Type: domain.EntryType(strings.TrimSpace(header[1])),
		}
		for _, tag := range strings.Split(header[2], ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				pe.Tags = append(pe.Tags, tag)
			}
		}

		idLine := strings.TrimSpace(lines[1])
		if !strings.HasPrefix(idLine, "<!-- id:") || !strings.HasSuffix(idLine, "-->") {
			continue
		}
		pe.ID = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(idLine, "<!-- id:"), "-->"))
		if pe.ID == "" {
			continue
		}

		if len(lines) == 3 {
			pe.Content = strings.TrimSuffix(strings.TrimSpace(lines[2]), "\n")
		}
		out = append(out, pe)
	}
	return out
}

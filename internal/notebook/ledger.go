// Package notebook maintains the agent's working notebook: a line-oriented
// ledger of PENDING and COMPLETED notes, with completed notes swept into an
// archive ledger.
package notebook

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/errors"
	"github.com/hpungsan/tether/internal/fileio"
	"github.com/hpungsan/tether/internal/logging"
)

const (
	ActiveFile  = "NOTEBOOK.md"
	ArchiveFile = "archived_notebook.md"

	// ArchiveHeader starts a newly created archive ledger.
	ArchiveHeader = "# Archived Notebook Entries"

	// TimestampLayout is the timestamp format of ledger lines.
	TimestampLayout = "2006-01-02 15:04"

	// NotFound is returned by FindByKeyword when no PENDING line matches.
	NotFound = -1
)

// Tag is the lifecycle state of a ledger line.
type Tag string

const (
	TagPending   Tag = "PENDING"
	TagCompleted Tag = "COMPLETED"
)

func (t Tag) marker() string { return "[" + string(t) + "]" }

// ParseTag returns the tag a line starts with, or "" for untagged lines
// (headers, blank lines, free text).
func ParseTag(line string) Tag {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, TagPending.marker()):
		return TagPending
	case strings.HasPrefix(trimmed, TagCompleted.marker()):
		return TagCompleted
	default:
		return ""
	}
}

// Ledger is the NotebookLedger service. Mutations are serialized within the
// process; other processes writing the same files need their own locking.
type Ledger struct {
	mu          sync.Mutex
	dir         string
	activePath  string
	archivePath string
	now         func() time.Time
	logger      *zap.Logger
}

// New creates a Ledger over dir/NOTEBOOK.md and dir/archived_notebook.md.
func New(dir string, logger *zap.Logger) *Ledger {
	return &Ledger{
		dir:         dir,
		activePath:  filepath.Join(dir, ActiveFile),
		archivePath: filepath.Join(dir, ArchiveFile),
		now:         time.Now,
		logger:      logging.OrNop(logger).Named("notebook"),
	}
}

// Append adds a timestamped line "[TAG] YYYY-MM-DD HH:MM - text".
// Line breaks in text are folded into spaces so one note is one line.
func (l *Ledger) Append(text string, tag Tag) error {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return errors.NewInvalidRequest("note text is required")
	}
	if tag == "" {
		tag = TagPending
	}
	if tag != TagPending && tag != TagCompleted {
		return errors.NewInvalidRequest(fmt.Sprintf("unknown tag: %s", tag))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0700); err != nil {
		return errors.NewPersistence("notebook append", err)
	}

	content, _, err := fileio.ReadOptional(l.activePath)
	if err != nil {
		return errors.NewPersistence("notebook append", err)
	}

	line := fmt.Sprintf("%s %s - %s\n", tag.marker(), l.now().Format(TimestampLayout), text)
	if content != "" && !strings.HasSuffix(content, "\n") {
		line = "\n" + line
	}

	if err := fileio.AppendFile(l.activePath, []byte(line), 0600); err != nil {
		return errors.NewPersistence("notebook append", err)
	}

	l.logger.Debug("note appended", zap.String("tag", string(tag)))
	return nil
}

// FindByKeyword returns the index of the first PENDING line containing
// keyword (case-insensitive), or NotFound.
func (l *Ledger) FindByKeyword(keyword string) (int, error) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return NotFound, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lines, err := l.readLines(l.activePath)
	if err != nil {
		return NotFound, err
	}

	for i, line := range lines {
		if ParseTag(line) == TagPending && strings.Contains(strings.ToLower(line), keyword) {
			return i, nil
		}
	}
	return NotFound, nil
}

// Complete flips the line at index from PENDING to COMPLETED and sweeps
// completed lines into the archive. A line that is not PENDING, or an index
// out of range, is left alone and reported as false.
func (l *Ledger) Complete(index int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lines, err := l.readLines(l.activePath)
	if err != nil {
		return false, err
	}
	if index < 0 || index >= len(lines) || ParseTag(lines[index]) != TagPending {
		return false, nil
	}

	lines[index] = strings.Replace(lines[index], TagPending.marker(), TagCompleted.marker(), 1)
	if err := l.writeLines(l.activePath, lines); err != nil {
		return false, err
	}

	if _, err := l.sweep(); err != nil {
		return true, err
	}
	return true, nil
}

// ArchiveSweep moves every COMPLETED line to the archive ledger in one
// batch, preserving order, and returns how many moved.
func (l *Ledger) ArchiveSweep() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweep()
}

func (l *Ledger) sweep() (int, error) {
	lines, err := l.readLines(l.activePath)
	if err != nil {
		return 0, err
	}

	var keep, done []string
	for _, line := range lines {
		if ParseTag(line) == TagCompleted {
			done = append(done, line)
		} else {
			keep = append(keep, line)
		}
	}
	if len(done) == 0 {
		return 0, nil
	}

	// Archive first: a crash in between duplicates rather than loses entries.
	if err := l.appendArchive(done); err != nil {
		return 0, err
	}
	if err := l.writeLines(l.activePath, keep); err != nil {
		return 0, err
	}

	l.logger.Info("notebook entries archived", zap.Int("count", len(done)))
	return len(done), nil
}

func (l *Ledger) appendArchive(lines []string) error {
	_, exists, err := fileio.ReadOptional(l.archivePath)
	if err != nil {
		return errors.NewPersistence("notebook archive", err)
	}

	var b strings.Builder
	if !exists {
		b.WriteString(ArchiveHeader + "\n\n")
	}
	for _, line := range lines {
		b.WriteString(line + "\n")
	}

	if err := fileio.AppendFile(l.archivePath, []byte(b.String()), 0600); err != nil {
		return errors.NewPersistence("notebook archive", err)
	}
	return nil
}

// Tail returns the last n lines of the active ledger (fewer if it is shorter).
func (l *Ledger) Tail(n int) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tail(l.activePath, n)
}

// ArchiveTail returns the last n lines of the archive ledger.
func (l *Ledger) ArchiveTail(n int) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tail(l.archivePath, n)
}

func (l *Ledger) tail(path string, n int) ([]string, error) {
	lines, err := l.readLines(path)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []string{}, nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// readLines returns the lines of path without the trailing newline.
// A missing file has no lines.
func (l *Ledger) readLines(path string) ([]string, error) {
	content, _, err := fileio.ReadOptional(path)
	if err != nil {
		return nil, errors.NewPersistence("notebook read", err)
	}
	content = strings.TrimSuffix(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	if content == "" {
		return []string{}, nil
	}
	return strings.Split(content, "\n"), nil
}

func (l *Ledger) writeLines(path string, lines []string) error {
	if err := os.MkdirAll(l.dir, 0700); err != nil {
		return errors.NewPersistence("notebook write", err)
	}
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	if err := fileio.WriteAtomic(path, []byte(content), 0600); err != nil {
		return errors.NewPersistence("notebook write", err)
	}
	return nil
}

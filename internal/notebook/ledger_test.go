package notebook

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/tether/internal/errors"
)

func setupLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New(t.TempDir(), nil)
	l.now = func() time.Time { return time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC) }
	return l
}

func writeActive(t *testing.T, l *Ledger, content string) {
	t.Helper()
	if err := os.WriteFile(l.activePath, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("ReadFile() error = %v", err)
	}
	return string(data)
}

func TestAppend(t *testing.T) {
	l := setupLedger(t)

	if err := l.Append("Buy milk", TagPending); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := l.Append("multi\nline   note", ""); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	want := "[PENDING] 2023-01-01 10:00 - Buy milk\n[PENDING] 2023-01-01 10:00 - multi line note\n"
	if got := readFile(t, l.activePath); got != want {
		t.Errorf("ledger = %q, want %q", got, want)
	}
}

func TestAppend_NoTrailingNewline(t *testing.T) {
	l := setupLedger(t)
	writeActive(t, l, "# Notebook")

	if err := l.Append("Task", TagPending); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	want := "# Notebook\n[PENDING] 2023-01-01 10:00 - Task\n"
	if got := readFile(t, l.activePath); got != want {
		t.Errorf("ledger = %q, want %q", got, want)
	}
}

func TestAppend_Invalid(t *testing.T) {
	l := setupLedger(t)

	if err := l.Append("   ", TagPending); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("Append(blank) error = %v, want INVALID_REQUEST", err)
	}
	if err := l.Append("x", Tag("DONE")); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("Append(bad tag) error = %v, want INVALID_REQUEST", err)
	}
}

func TestFindByKeyword(t *testing.T) {
	l := setupLedger(t)
	writeActive(t, l, "Line 1\n[PENDING] 2023-01-01 - Task A\n[PENDING] 2023-01-01 - Task B\n[COMPLETED] 2023-01-01 - Task C\n")

	tests := []struct {
		keyword string
		want    int
	}{
		{"Task A", 1},
		{"task b", 2},
		{"TASK", 1},
		{"Task C", NotFound},
		{"Line", NotFound},
		{"", NotFound},
	}

	for _, tt := range tests {
		got, err := l.FindByKeyword(tt.keyword)
		if err != nil {
			t.Fatalf("FindByKeyword(%q) error = %v", tt.keyword, err)
		}
		if got != tt.want {
			t.Errorf("FindByKeyword(%q) = %d, want %d", tt.keyword, got, tt.want)
		}
	}
}

func TestFindByKeyword_MissingLedger(t *testing.T) {
	l := setupLedger(t)

	got, err := l.FindByKeyword("anything")
	if err != nil || got != NotFound {
		t.Errorf("FindByKeyword() = %d, %v; want NotFound, nil", got, err)
	}
}

func TestComplete_ArchivesEntry(t *testing.T) {
	l := setupLedger(t)
	writeActive(t, l, "Task 1\n[PENDING] 2023-01-01 10:00 - Task to complete\nTask 3\n")

	done, err := l.Complete(1)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !done {
		t.Fatal("Complete() = false, want true")
	}

	if got := readFile(t, l.activePath); got != "Task 1\nTask 3\n" {
		t.Errorf("active = %q", got)
	}

	archive := readFile(t, l.archivePath)
	want := ArchiveHeader + "\n\n[COMPLETED] 2023-01-01 10:00 - Task to complete\n"
	if archive != want {
		t.Errorf("archive = %q, want %q", archive, want)
	}
}

func TestComplete_GuardedNoop(t *testing.T) {
	l := setupLedger(t)
	content := "Header\n[COMPLETED] 2023-01-01 10:00 - Old\n[PENDING] 2023-01-01 10:00 - New\n"
	writeActive(t, l, content)

	for _, index := range []int{0, 1, -1, 3, 99} {
		done, err := l.Complete(index)
		if err != nil {
			t.Fatalf("Complete(%d) error = %v", index, err)
		}
		if done {
			t.Errorf("Complete(%d) = true, want false", index)
		}
	}

	// Nothing changed, not even a sweep of the pre-existing COMPLETED line
	if got := readFile(t, l.activePath); got != content {
		t.Errorf("active = %q, want unchanged", got)
	}
	if _, err := os.Stat(l.archivePath); !os.IsNotExist(err) {
		t.Errorf("archive should not exist, stat err = %v", err)
	}
}

func TestArchiveSweep(t *testing.T) {
	l := setupLedger(t)
	writeActive(t, l, strings.Join([]string{
		"[PENDING] Task 1",
		"[COMPLETED] 2023-01-01 10:00 - Done A",
		"[PENDING] Task 2",
		"",
		"[COMPLETED] 2023-01-01 10:00 - Done B",
	}, "\n")+"\n")

	moved, err := l.ArchiveSweep()
	if err != nil {
		t.Fatalf("ArchiveSweep() error = %v", err)
	}
	if moved != 2 {
		t.Errorf("moved = %d, want 2", moved)
	}

	if got := readFile(t, l.activePath); got != "[PENDING] Task 1\n[PENDING] Task 2\n\n" {
		t.Errorf("active = %q", got)
	}

	archive := readFile(t, l.archivePath)
	a := strings.Index(archive, "Done A")
	b := strings.Index(archive, "Done B")
	if a < 0 || b < 0 || a > b {
		t.Errorf("archive order wrong: %q", archive)
	}

	// Second sweep moves nothing and keeps the single header
	moved, err = l.ArchiveSweep()
	if err != nil || moved != 0 {
		t.Errorf("second ArchiveSweep() = %d, %v; want 0, nil", moved, err)
	}
	if strings.Count(readFile(t, l.archivePath), ArchiveHeader) != 1 {
		t.Error("archive header duplicated")
	}
}

func TestArchiveSweep_AppendsToExistingArchive(t *testing.T) {
	l := setupLedger(t)
	existing := "# Archived Notebook Entries\n\n[COMPLETED] 2022-12-31 09:00 - Earlier\n"
	if err := os.WriteFile(l.archivePath, []byte(existing), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	writeActive(t, l, "[COMPLETED] 2023-01-01 10:00 - Later\n")

	if _, err := l.ArchiveSweep(); err != nil {
		t.Fatalf("ArchiveSweep() error = %v", err)
	}

	want := existing + "[COMPLETED] 2023-01-01 10:00 - Later\n"
	if got := readFile(t, l.archivePath); got != want {
		t.Errorf("archive = %q, want %q", got, want)
	}
	if got := readFile(t, l.activePath); got != "" {
		t.Errorf("active = %q, want empty", got)
	}
}

func TestTail(t *testing.T) {
	l := setupLedger(t)

	lines, err := l.Tail(5)
	if err != nil || len(lines) != 0 {
		t.Fatalf("Tail() on missing ledger = %v, %v", lines, err)
	}

	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("Line " + string(rune('a'+i)) + "\n")
	}
	writeActive(t, l, b.String())
	before := readFile(t, l.activePath)

	lines, err = l.Tail(5)
	if err != nil {
		t.Fatalf("Tail() error = %v", err)
	}
	if len(lines) != 5 || lines[0] != "Line p" || lines[4] != "Line t" {
		t.Errorf("Tail(5) = %v", lines)
	}

	all, _ := l.Tail(100)
	if len(all) != 20 {
		t.Errorf("len(Tail(100)) = %d, want 20", len(all))
	}

	none, _ := l.Tail(0)
	if len(none) != 0 {
		t.Errorf("Tail(0) = %v, want empty", none)
	}

	if readFile(t, l.activePath) != before {
		t.Error("Tail mutated the ledger")
	}
}

func TestArchiveTail(t *testing.T) {
	l := setupLedger(t)

	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, "Line "+string(rune('0'+i%10)))
	}
	content := "Header\n\n" + strings.Join(lines, "\n")
	if err := os.WriteFile(filepath.Join(l.dir, ArchiveFile), []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	got, err := l.ArchiveTail(5)
	if err != nil {
		t.Fatalf("ArchiveTail() error = %v", err)
	}
	if len(got) != 5 || got[0] != "Line 5" || got[4] != "Line 9" {
		t.Errorf("ArchiveTail(5) = %v", got)
	}
}

func TestParseTag(t *testing.T) {
	tests := map[string]Tag{
		"[PENDING] 2023-01-01 10:00 - x":   TagPending,
		"  [COMPLETED] 2023-01-01 - y":     TagCompleted,
		"# Notebook":                       "",
		"":                                 "",
		"mentions [PENDING] in the middle": "",
	}
	for line, want := range tests {
		if got := ParseTag(line); got != want {
			t.Errorf("ParseTag(%q) = %q, want %q", line, got, want)
		}
	}
}
